package service

import (
	"context"
	"errors"

	"github.com/wacoachrusso/sky-interpretation-assistant1/internal/config"
	"github.com/wacoachrusso/sky-interpretation-assistant1/internal/model"
	"github.com/wacoachrusso/sky-interpretation-assistant1/internal/repository"
	"github.com/wacoachrusso/sky-interpretation-assistant1/pkg/log"
	"github.com/wacoachrusso/sky-interpretation-assistant1/pkg/tasks"
)

// ErrQuotaExceeded 表示 free 计划的查询次数已用尽。
var ErrQuotaExceeded = errors.New("free plan query limit reached")

// QuotaService 负责查询配额校验，并消费 Kafka 用量事件累计查询次数。
type QuotaService interface {
	// Allow 校验用户是否还有查询额度，超额时返回 ErrQuotaExceeded。
	// 配额校验失败不应阻断核心链路，调用方可以按需降级。
	Allow(ctx context.Context, userID uint) error
	// Process 消费一条用量事件，把用户的查询计数加一。
	Process(ctx context.Context, event tasks.UsageEvent) error
	// Profile 返回用户的用量档案，不存在时按 free 计划创建。
	Profile(ctx context.Context, userID uint) (*model.Profile, error)
}

type quotaService struct {
	profiles repository.ProfileRepository
}

// NewQuotaService 创建一个新的 QuotaService。
func NewQuotaService(profiles repository.ProfileRepository) QuotaService {
	return &quotaService{profiles: profiles}
}

func (s *quotaService) Allow(ctx context.Context, userID uint) error {
	limit := config.Conf.Quota.FreeQueryLimit
	if limit <= 0 {
		return nil
	}

	profile, err := s.profiles.GetOrCreate(ctx, userID)
	if err != nil {
		// 档案读取失败时放行，配额校验不能比聊天本身更重要。
		log.Warnf("读取用量档案失败，本次放行: userID=%d, err=%v", userID, err)
		return nil
	}
	if profile.SubscriptionPlan != model.PlanFree {
		return nil
	}
	if profile.QueryCount >= int64(limit) {
		return ErrQuotaExceeded
	}
	return nil
}

func (s *quotaService) Process(ctx context.Context, event tasks.UsageEvent) error {
	return s.profiles.IncrementQueryCount(ctx, event.UserID)
}

func (s *quotaService) Profile(ctx context.Context, userID uint) (*model.Profile, error) {
	return s.profiles.GetOrCreate(ctx, userID)
}
