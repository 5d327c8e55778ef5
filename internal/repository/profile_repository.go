package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/wacoachrusso/sky-interpretation-assistant1/internal/model"
)

// ProfileRepository 定义了用量档案的持久化操作。
type ProfileRepository interface {
	// GetOrCreate 返回用户的档案，不存在时按 free 计划创建。
	GetOrCreate(ctx context.Context, userID uint) (*model.Profile, error)
	// IncrementQueryCount 原子地把用户的查询计数加一。
	IncrementQueryCount(ctx context.Context, userID uint) error
}

type profileRepository struct {
	db *gorm.DB
}

// NewProfileRepository 创建一个新的 ProfileRepository 实例。
func NewProfileRepository(db *gorm.DB) ProfileRepository {
	return &profileRepository{db: db}
}

func (r *profileRepository) GetOrCreate(ctx context.Context, userID uint) (*model.Profile, error) {
	var profile model.Profile
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		profile = model.Profile{UserID: userID, SubscriptionPlan: model.PlanFree}
		if err := r.db.WithContext(ctx).Create(&profile).Error; err != nil {
			return nil, err
		}
		return &profile, nil
	}
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

func (r *profileRepository) IncrementQueryCount(ctx context.Context, userID uint) error {
	// 不存在时先建档，保证计数不丢。
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{"query_count": gorm.Expr("query_count + 1")}),
	}).Create(&model.Profile{UserID: userID, QueryCount: 1, SubscriptionPlan: model.PlanFree}).Error
}
