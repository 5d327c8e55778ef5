package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/wacoachrusso/sky-interpretation-assistant1/internal/model"
	"github.com/wacoachrusso/sky-interpretation-assistant1/pkg/cache"
	"github.com/wacoachrusso/sky-interpretation-assistant1/pkg/errs"
	"github.com/wacoachrusso/sky-interpretation-assistant1/pkg/retry"
)

// MessageRepository 定义了消息集合的数据操作接口。
// 消息不可变：只有插入、按会话查询和随会话级联删除，没有更新。
type MessageRepository interface {
	// ListByConversation 返回会话全部消息，按创建时间升序；结果镜像到缓存，远端不可用时降级读缓存。
	ListByConversation(ctx context.Context, userID uint, conversationID string) ([]model.Message, error)
	// Create 插入一条消息并返回包含服务端字段的结果，同时追加进缓存列表。
	Create(ctx context.Context, userID uint, conversationID, role, content string) (*model.Message, error)
	// CountByConversation 返回会话内的消息条数。
	CountByConversation(ctx context.Context, userID uint, conversationID string) (int64, error)
}

type messageRepository struct {
	db    *gorm.DB
	store cache.Store
}

// NewMessageRepository 创建一个新的 MessageRepository 实例。
func NewMessageRepository(db *gorm.DB, store cache.Store) MessageRepository {
	return &messageRepository{db: db, store: store}
}

// messagesCacheKey 是单个会话消息列表的缓存键。
func messagesCacheKey(conversationID string) string {
	return fmt.Sprintf("messages:%s", conversationID)
}

func (r *messageRepository) ListByConversation(ctx context.Context, userID uint, conversationID string) ([]model.Message, error) {
	if userID == 0 {
		return nil, errs.NewAuthError("missing user for message list")
	}
	return listWithFallback(ctx, r.store, messagesCacheKey(conversationID), defaultRetryOptions,
		func(ctx context.Context) ([]model.Message, error) {
			var messages []model.Message
			err := r.db.WithContext(ctx).
				Where("conversation_id = ? AND user_id = ?", conversationID, userID).
				Order("created_at ASC").
				Find(&messages).Error
			if err != nil {
				return nil, classify("list messages", err)
			}
			return messages, nil
		})
}

func (r *messageRepository) Create(ctx context.Context, userID uint, conversationID, role, content string) (*model.Message, error) {
	if userID == 0 {
		return nil, errs.NewAuthError("missing user for message create")
	}
	message, err := retry.Do(ctx, func(ctx context.Context) (*model.Message, error) {
		m := model.Message{
			ConversationID: conversationID,
			UserID:         userID,
			Role:           role,
			Content:        content,
		}
		if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
			return nil, classify("create message", err)
		}
		return &m, nil
	}, defaultRetryOptions)
	if err != nil {
		return nil, err
	}

	// 消息按升序展示，追加到缓存列表尾部。
	var cached []model.Message
	key := messagesCacheKey(conversationID)
	if r.store.Load(ctx, key, &cached) {
		r.store.Save(ctx, key, append(cached, *message))
	}
	return message, nil
}

func (r *messageRepository) CountByConversation(ctx context.Context, userID uint, conversationID string) (int64, error) {
	if userID == 0 {
		return 0, errs.NewAuthError("missing user for message count")
	}
	return retry.Do(ctx, func(ctx context.Context) (int64, error) {
		var count int64
		err := r.db.WithContext(ctx).
			Model(&model.Message{}).
			Where("conversation_id = ? AND user_id = ?", conversationID, userID).
			Count(&count).Error
		if err != nil {
			return 0, classify("count messages", err)
		}
		return count, nil
	}, defaultRetryOptions)
}
