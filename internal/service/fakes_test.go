package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/wacoachrusso/sky-interpretation-assistant1/internal/model"
	"github.com/wacoachrusso/sky-interpretation-assistant1/pkg/errs"

	"gorm.io/gorm"
)

// fakeConvRepo 是 ConversationRepository 的内存实现，用于隔离服务层测试。
type fakeConvRepo struct {
	mu            sync.Mutex
	seq           int
	conversations map[string]*model.Conversation

	createErr   error
	createBlock chan struct{} // 非 nil 时 Create 在此阻塞，用于模拟在途创建

	titleUpdates  map[string]string
	threadBinds   map[string]string
	touched       map[string]time.Time
	deletedIDs    []string
	clearAllCalls int
}

func newFakeConvRepo() *fakeConvRepo {
	return &fakeConvRepo{
		conversations: map[string]*model.Conversation{},
		titleUpdates:  map[string]string{},
		threadBinds:   map[string]string{},
		touched:       map[string]time.Time{},
	}
}

func (r *fakeConvRepo) add(userID uint, title string, lastMessageAt *time.Time) *model.Conversation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.addLocked(userID, title, lastMessageAt)
}

func (r *fakeConvRepo) addLocked(userID uint, title string, lastMessageAt *time.Time) *model.Conversation {
	r.seq++
	c := &model.Conversation{
		ID:            fmt.Sprintf("conv-%d", r.seq),
		UserID:        userID,
		Title:         title,
		LastMessageAt: lastMessageAt,
		CreatedAt:     time.Now(),
	}
	r.conversations[c.ID] = c
	return c
}

func (r *fakeConvRepo) ListActive(ctx context.Context, userID uint) ([]model.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Conversation
	for _, c := range r.conversations {
		if c.UserID == userID && c.LastMessageAt != nil {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastMessageAt.After(*out[j].LastMessageAt)
	})
	return out, nil
}

func (r *fakeConvRepo) ListEmpty(ctx context.Context, userID uint) ([]model.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Conversation
	for _, c := range r.conversations {
		if c.UserID == userID && c.LastMessageAt == nil {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (r *fakeConvRepo) Get(ctx context.Context, userID uint, id string) (*model.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conversations[id]
	if !ok || c.UserID != userID {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *c
	return &copied, nil
}

func (r *fakeConvRepo) Create(ctx context.Context, userID uint, title string, lastMessageAt *time.Time) (*model.Conversation, error) {
	if r.createBlock != nil {
		<-r.createBlock
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return nil, r.createErr
	}
	c := r.addLocked(userID, title, lastMessageAt)
	copied := *c
	return &copied, nil
}

func (r *fakeConvRepo) UpdateTitle(ctx context.Context, userID uint, id, title string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.titleUpdates[id] = title
	if c, ok := r.conversations[id]; ok {
		c.Title = title
	}
	return nil
}

func (r *fakeConvRepo) Touch(ctx context.Context, userID uint, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.touched[id] = at
	if c, ok := r.conversations[id]; ok {
		c.LastMessageAt = &at
	}
	return nil
}

func (r *fakeConvRepo) BindThread(ctx context.Context, userID uint, id, threadID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.threadBinds[id] = threadID
	if c, ok := r.conversations[id]; ok {
		c.AssistantThreadID = threadID
	}
	return nil
}

func (r *fakeConvRepo) Delete(ctx context.Context, userID uint, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conversations, id)
	r.deletedIDs = append(r.deletedIDs, id)
	return nil
}

func (r *fakeConvRepo) DeleteAll(ctx context.Context, userID uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, c := range r.conversations {
		if c.UserID == userID {
			delete(r.conversations, id)
		}
	}
	r.clearAllCalls++
	return nil
}

// fakeMsgRepo 是 MessageRepository 的内存实现。
type fakeMsgRepo struct {
	mu        sync.Mutex
	seq       int
	messages  []model.Message
	createErr error
}

func newFakeMsgRepo() *fakeMsgRepo {
	return &fakeMsgRepo{}
}

func (r *fakeMsgRepo) ListByConversation(ctx context.Context, userID uint, conversationID string) ([]model.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Message
	for _, m := range r.messages {
		if m.UserID == userID && m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *fakeMsgRepo) Create(ctx context.Context, userID uint, conversationID, role, content string) (*model.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return nil, r.createErr
	}
	r.seq++
	m := model.Message{
		ID:             fmt.Sprintf("msg-%d", r.seq),
		ConversationID: conversationID,
		UserID:         userID,
		Role:           role,
		Content:        content,
		CreatedAt:      time.Now(),
	}
	r.messages = append(r.messages, m)
	return &m, nil
}

func (r *fakeMsgRepo) CountByConversation(ctx context.Context, userID uint, conversationID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for _, m := range r.messages {
		if m.UserID == userID && m.ConversationID == conversationID {
			count++
		}
	}
	return count, nil
}

// fakeAssistant 是 assistant.Client 的测试替身。
type fakeAssistant struct {
	mu         sync.Mutex
	reply      string
	threadID   string
	err        error
	block      chan struct{} // 非 nil 时调用在此阻塞
	gotThreads []string
	gotContent []string
}

func (f *fakeAssistant) GenerateReply(ctx context.Context, threadID, userContent string) (string, string, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return "", "", errs.NewNetworkError("generate reply", ctx.Err())
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gotThreads = append(f.gotThreads, threadID)
	f.gotContent = append(f.gotContent, userContent)
	if f.err != nil {
		return "", "", f.err
	}
	used := f.threadID
	if used == "" {
		used = threadID
	}
	if used == "" {
		used = "thread-new"
	}
	return f.reply, used, nil
}
