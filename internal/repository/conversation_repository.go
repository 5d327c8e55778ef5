package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/wacoachrusso/sky-interpretation-assistant1/internal/model"
	"github.com/wacoachrusso/sky-interpretation-assistant1/pkg/cache"
	"github.com/wacoachrusso/sky-interpretation-assistant1/pkg/errs"
	"github.com/wacoachrusso/sky-interpretation-assistant1/pkg/log"
	"github.com/wacoachrusso/sky-interpretation-assistant1/pkg/retry"
)

// ConversationRepository 定义了会话集合的数据操作接口。
// 所有操作都以归属用户 ID 作为隐式过滤条件，userID 为 0 时返回认证错误。
type ConversationRepository interface {
	// ListActive 返回用户全部非空会话，按 last_message_at 倒序；结果镜像到缓存，远端不可用时降级读缓存。
	ListActive(ctx context.Context, userID uint) ([]model.Conversation, error)
	// ListEmpty 返回用户全部空会话（last_message_at IS NULL），用于清理，不走缓存。
	ListEmpty(ctx context.Context, userID uint) ([]model.Conversation, error)
	// Get 按 ID 取单个会话。
	Get(ctx context.Context, userID uint, id string) (*model.Conversation, error)
	// Create 插入一个新会话并返回包含服务端字段的结果，同时把它前插进缓存列表。
	Create(ctx context.Context, userID uint, title string, lastMessageAt *time.Time) (*model.Conversation, error)
	// UpdateTitle 更新标题。非网络类错误被吞掉（标题只是修饰性字段），网络类错误上抛由调用方决定重试。
	UpdateTitle(ctx context.Context, userID uint, id, title string) error
	// Touch 把 last_message_at 推进到 at。错误语义与 UpdateTitle 相同。
	Touch(ctx context.Context, userID uint, id string, at time.Time) error
	// BindThread 记录会话与远端线程的绑定。
	BindThread(ctx context.Context, userID uint, id, threadID string) error
	// Delete 删除会话，先级联删除其消息。
	Delete(ctx context.Context, userID uint, id string) error
	// DeleteAll 删除用户的全部会话及其消息。
	DeleteAll(ctx context.Context, userID uint) error
}

type conversationRepository struct {
	db    *gorm.DB
	store cache.Store
}

// NewConversationRepository 创建一个新的 ConversationRepository 实例。
func NewConversationRepository(db *gorm.DB, store cache.Store) ConversationRepository {
	return &conversationRepository{db: db, store: store}
}

// conversationsCacheKey 是用户会话列表的缓存键。
func conversationsCacheKey(userID uint) string {
	return fmt.Sprintf("conversations:%d", userID)
}

func (r *conversationRepository) ListActive(ctx context.Context, userID uint) ([]model.Conversation, error) {
	if userID == 0 {
		return nil, errs.NewAuthError("missing user for conversation list")
	}
	return listWithFallback(ctx, r.store, conversationsCacheKey(userID), defaultRetryOptions,
		func(ctx context.Context) ([]model.Conversation, error) {
			var conversations []model.Conversation
			err := r.db.WithContext(ctx).
				Where("user_id = ? AND last_message_at IS NOT NULL", userID).
				Order("last_message_at DESC").
				Find(&conversations).Error
			if err != nil {
				return nil, classify("list conversations", err)
			}
			return conversations, nil
		})
}

func (r *conversationRepository) ListEmpty(ctx context.Context, userID uint) ([]model.Conversation, error) {
	if userID == 0 {
		return nil, errs.NewAuthError("missing user for conversation list")
	}
	return retry.Do(ctx, func(ctx context.Context) ([]model.Conversation, error) {
		var conversations []model.Conversation
		err := r.db.WithContext(ctx).
			Where("user_id = ? AND last_message_at IS NULL", userID).
			Find(&conversations).Error
		if err != nil {
			return nil, classify("list empty conversations", err)
		}
		return conversations, nil
	}, defaultRetryOptions)
}

func (r *conversationRepository) Get(ctx context.Context, userID uint, id string) (*model.Conversation, error) {
	if userID == 0 {
		return nil, errs.NewAuthError("missing user for conversation get")
	}
	return retry.Do(ctx, func(ctx context.Context) (*model.Conversation, error) {
		var conversation model.Conversation
		err := r.db.WithContext(ctx).
			Where("id = ? AND user_id = ?", id, userID).
			First(&conversation).Error
		if err != nil {
			return nil, classify("get conversation", err)
		}
		return &conversation, nil
	}, defaultRetryOptions)
}

func (r *conversationRepository) Create(ctx context.Context, userID uint, title string, lastMessageAt *time.Time) (*model.Conversation, error) {
	if userID == 0 {
		return nil, errs.NewAuthError("missing user for conversation create")
	}
	conversation, err := retry.Do(ctx, func(ctx context.Context) (*model.Conversation, error) {
		c := model.Conversation{
			UserID:        userID,
			Title:         title,
			LastMessageAt: lastMessageAt,
		}
		if err := r.db.WithContext(ctx).Create(&c).Error; err != nil {
			return nil, classify("create conversation", err)
		}
		return &c, nil
	}, defaultRetryOptions)
	if err != nil {
		return nil, err
	}

	// 新会话前插进缓存列表，保持与倒序展示一致。
	var cached []model.Conversation
	key := conversationsCacheKey(userID)
	if r.store.Load(ctx, key, &cached) {
		r.store.Save(ctx, key, append([]model.Conversation{*conversation}, cached...))
	}
	return conversation, nil
}

func (r *conversationRepository) UpdateTitle(ctx context.Context, userID uint, id, title string) error {
	return r.update(ctx, userID, id, map[string]interface{}{"title": title})
}

func (r *conversationRepository) Touch(ctx context.Context, userID uint, id string, at time.Time) error {
	return r.update(ctx, userID, id, map[string]interface{}{"last_message_at": at})
}

func (r *conversationRepository) BindThread(ctx context.Context, userID uint, id, threadID string) error {
	return r.update(ctx, userID, id, map[string]interface{}{"assistant_thread_id": threadID})
}

// update 执行一次按用户隔离的字段更新。
// 非网络类错误只记录日志不上抛，避免修饰性更新失败打断用户；网络类错误上抛。
func (r *conversationRepository) update(ctx context.Context, userID uint, id string, fields map[string]interface{}) error {
	if userID == 0 {
		return errs.NewAuthError("missing user for conversation update")
	}
	_, err := retry.Do(ctx, func(ctx context.Context) (struct{}, error) {
		err := r.db.WithContext(ctx).
			Model(&model.Conversation{}).
			Where("id = ? AND user_id = ?", id, userID).
			Updates(fields).Error
		if err != nil {
			return struct{}{}, classify("update conversation", err)
		}
		return struct{}{}, nil
	}, defaultRetryOptions)
	if err != nil {
		var ne *errs.NetworkError
		if errors.As(err, &ne) {
			return err
		}
		log.Warnf("会话更新失败（已忽略）: id=%s, err=%v", id, err)
		return nil
	}

	r.store.Remove(ctx, conversationsCacheKey(userID))
	return nil
}

func (r *conversationRepository) Delete(ctx context.Context, userID uint, id string) error {
	if userID == 0 {
		return errs.NewAuthError("missing user for conversation delete")
	}
	_, err := retry.Do(ctx, func(ctx context.Context) (struct{}, error) {
		// 先删消息再删会话，保证不会留下孤儿消息。
		err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Where("conversation_id = ? AND user_id = ?", id, userID).
				Delete(&model.Message{}).Error; err != nil {
				return err
			}
			return tx.Where("id = ? AND user_id = ?", id, userID).
				Delete(&model.Conversation{}).Error
		})
		if err != nil {
			return struct{}{}, classify("delete conversation", err)
		}
		return struct{}{}, nil
	}, defaultRetryOptions)
	if err != nil {
		return err
	}

	r.store.Remove(ctx, conversationsCacheKey(userID))
	r.store.Remove(ctx, messagesCacheKey(id))
	return nil
}

func (r *conversationRepository) DeleteAll(ctx context.Context, userID uint) error {
	if userID == 0 {
		return errs.NewAuthError("missing user for conversation clear")
	}
	var ids []string
	_, err := retry.Do(ctx, func(ctx context.Context) (struct{}, error) {
		err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Model(&model.Conversation{}).
				Where("user_id = ?", userID).
				Pluck("id", &ids).Error; err != nil {
				return err
			}
			if err := tx.Where("user_id = ?", userID).Delete(&model.Message{}).Error; err != nil {
				return err
			}
			return tx.Where("user_id = ?", userID).Delete(&model.Conversation{}).Error
		})
		if err != nil {
			return struct{}{}, classify("clear conversations", err)
		}
		return struct{}{}, nil
	}, defaultRetryOptions)
	if err != nil {
		return err
	}

	r.store.Remove(ctx, conversationsCacheKey(userID))
	for _, id := range ids {
		r.store.Remove(ctx, messagesCacheKey(id))
	}
	return nil
}

// classify 把底层数据库错误归入应用错误分类：连接类故障包装为 NetworkError 以触发重试，
// 其余错误原样返回。
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	if errs.Retryable(err) {
		return errs.NewNetworkError(op, err)
	}
	return err
}
