package service

import (
	"context"
	"sync"

	"github.com/wacoachrusso/sky-interpretation-assistant1/internal/model"
	"github.com/wacoachrusso/sky-interpretation-assistant1/internal/repository"
	"github.com/wacoachrusso/sky-interpretation-assistant1/pkg/errs"
	"github.com/wacoachrusso/sky-interpretation-assistant1/pkg/log"
)

// ConversationSnapshot 是会话管理器对外暴露的状态视图。
type ConversationSnapshot struct {
	Conversations []model.Conversation `json:"conversations"`
	Current       string               `json:"current"`
}

// ConversationService 是会话列表与“当前会话”指针的唯一拥有者。
// 所有会话状态的变更都必须经由这里的公开操作完成。
type ConversationService interface {
	// Initialize 在用户首次进入时调用：清理空会话、加载非空会话列表并选中第一个；
	// 列表为空时创建一个新的空会话并选中。
	Initialize(ctx context.Context, userID uint) (*ConversationSnapshot, error)
	// CreateNewChat 创建一个新的空会话并选中。创建已在进行中时不报错，返回空 ID。
	CreateNewChat(ctx context.Context, userID uint) (string, error)
	// SelectConversation 把当前会话切换到 id；消息加载由调用方触发。
	SelectConversation(ctx context.Context, userID uint, id string) error
	// DeleteConversation 删除会话；若删除的是当前会话，选中下一个非空会话，没有则新建。
	DeleteConversation(ctx context.Context, userID uint, id string) error
	// ClearAll 删除用户全部会话并立即创建一个替代的空会话，返回其 ID。
	ClearAll(ctx context.Context, userID uint) (string, error)
	// Refresh 重新拉取会话列表；除非当前会话已不存在，否则不改动当前指针。
	Refresh(ctx context.Context, userID uint) (*ConversationSnapshot, error)
	// Current 返回用户当前选中的会话 ID，没有时为空串。
	Current(userID uint) string
	// NotifyMessageSent 在某会话成功落库一条消息后由消息管理器调用，用于刷新排序与标题。
	NotifyMessageSent(ctx context.Context, userID uint)
}

// convState 是单个用户的会话管理器状态。
type convState struct {
	mu            sync.Mutex // 保护以下字段
	conversations []model.Conversation
	current       string

	// creating 与 loading 是单槽任务锁：TryLock 失败说明同类操作正在进行，
	// 第二个调用方直接空跑返回而不是排队。
	creating sync.Mutex
	loading  sync.Mutex

	initialized bool
}

type conversationService struct {
	repo repository.ConversationRepository

	mu     sync.Mutex
	states map[uint]*convState
}

// NewConversationService 创建一个新的 ConversationService。
func NewConversationService(repo repository.ConversationRepository) ConversationService {
	return &conversationService{
		repo:   repo,
		states: make(map[uint]*convState),
	}
}

// state 返回（必要时创建）某用户的管理器状态。
func (s *conversationService) state(userID uint) *convState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[userID]
	if !ok {
		st = &convState{}
		s.states[userID] = st
	}
	return st
}

func (s *conversationService) Initialize(ctx context.Context, userID uint) (*ConversationSnapshot, error) {
	if userID == 0 {
		return nil, errs.NewAuthError("missing user for initialize")
	}
	st := s.state(userID)

	if !st.loading.TryLock() {
		// 已有加载在进行，返回当前视图即可。
		return s.snapshot(st), nil
	}
	defer st.loading.Unlock()

	st.mu.Lock()
	alreadyInitialized := st.initialized
	st.mu.Unlock()
	if alreadyInitialized {
		return s.snapshot(st), nil
	}

	// 启动时先清理历史遗留的空会话，保证每个用户至多一个空会话。
	s.cleanupEmpty(ctx, userID)

	conversations, err := s.repo.ListActive(ctx, userID)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	st.conversations = conversations
	if len(conversations) > 0 {
		st.current = conversations[0].ID
	}
	st.mu.Unlock()

	if len(conversations) == 0 {
		if _, err := s.CreateNewChat(ctx, userID); err != nil {
			return nil, err
		}
	}

	// 初始化全部完成后才落定标记；失败的初始化允许下一次调用重来，
	// 否则自动建会话失败的用户会永远停在空状态。
	st.mu.Lock()
	st.initialized = true
	st.mu.Unlock()
	return s.snapshot(st), nil
}

func (s *conversationService) CreateNewChat(ctx context.Context, userID uint) (string, error) {
	if userID == 0 {
		return "", errs.NewAuthError("missing user for create chat")
	}
	st := s.state(userID)

	// 单槽保护：并发的第二次创建是空跑，不是错误。
	if !st.creating.TryLock() {
		return "", nil
	}
	defer st.creating.Unlock()

	// 创建前先清理，保证新的空会话是唯一的空会话。
	s.cleanupEmpty(ctx, userID)

	conversation, err := s.repo.Create(ctx, userID, DefaultChatTitle, nil)
	if err != nil {
		return "", err
	}

	conversations, err := s.repo.ListActive(ctx, userID)
	if err != nil {
		// 列表刷新失败不影响新会话可用，保留旧列表。
		log.Warnf("新建会话后刷新列表失败: %v", err)
	} else {
		st.mu.Lock()
		st.conversations = conversations
		st.mu.Unlock()
	}

	st.mu.Lock()
	st.current = conversation.ID
	st.mu.Unlock()
	return conversation.ID, nil
}

func (s *conversationService) SelectConversation(ctx context.Context, userID uint, id string) error {
	if userID == 0 {
		return errs.NewAuthError("missing user for select")
	}
	if id == "" {
		return errs.NewValidationError("missing conversation id")
	}
	if _, err := s.repo.Get(ctx, userID, id); err != nil {
		return errs.NewValidationError("conversation not found")
	}

	st := s.state(userID)
	st.mu.Lock()
	st.current = id
	st.mu.Unlock()
	return nil
}

func (s *conversationService) DeleteConversation(ctx context.Context, userID uint, id string) error {
	if userID == 0 {
		return errs.NewAuthError("missing user for delete")
	}
	if err := s.repo.Delete(ctx, userID, id); err != nil {
		return err
	}

	st := s.state(userID)
	st.mu.Lock()
	remaining := st.conversations[:0:0]
	for _, c := range st.conversations {
		if c.ID != id {
			remaining = append(remaining, c)
		}
	}
	st.conversations = remaining
	wasCurrent := st.current == id
	if wasCurrent {
		if len(remaining) > 0 {
			st.current = remaining[0].ID
		} else {
			st.current = ""
		}
	}
	needNew := wasCurrent && len(remaining) == 0
	st.mu.Unlock()

	if needNew {
		if _, err := s.CreateNewChat(ctx, userID); err != nil {
			return err
		}
	}
	return nil
}

func (s *conversationService) ClearAll(ctx context.Context, userID uint) (string, error) {
	if userID == 0 {
		return "", errs.NewAuthError("missing user for clear")
	}
	st := s.state(userID)

	// 清空是用户主动操作，不能空跑，因此阻塞等待而非 TryLock；
	// 持有创建锁保证替代会话不会与并发的 CreateNewChat 交错出两个空会话。
	st.creating.Lock()
	defer st.creating.Unlock()

	if err := s.repo.DeleteAll(ctx, userID); err != nil {
		return "", err
	}

	st.mu.Lock()
	st.conversations = nil
	st.current = ""
	st.mu.Unlock()

	// 这是用户主动的破坏性操作，必须给用户留下一个可用的空会话。
	// repo.Create 内部带退避重试，失败意味着重试已耗尽。
	conversation, err := s.repo.Create(ctx, userID, DefaultChatTitle, nil)
	if err != nil {
		return "", err
	}

	st.mu.Lock()
	st.current = conversation.ID
	st.mu.Unlock()
	return conversation.ID, nil
}

func (s *conversationService) Refresh(ctx context.Context, userID uint) (*ConversationSnapshot, error) {
	if userID == 0 {
		return nil, errs.NewAuthError("missing user for refresh")
	}
	st := s.state(userID)

	conversations, err := s.repo.ListActive(ctx, userID)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	st.conversations = conversations
	current := st.current
	st.mu.Unlock()

	if current != "" && !containsConversation(conversations, current) {
		// 当前会话不在非空列表里：可能是尚未发消息的空会话，仍然有效；
		// 只有确认远端已不存在时才改选列表首位。
		if _, err := s.repo.Get(ctx, userID, current); err != nil {
			st.mu.Lock()
			if len(conversations) > 0 {
				st.current = conversations[0].ID
			} else {
				st.current = ""
			}
			st.mu.Unlock()
		}
	}
	return s.snapshot(st), nil
}

func (s *conversationService) Current(userID uint) string {
	st := s.state(userID)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.current
}

func (s *conversationService) NotifyMessageSent(ctx context.Context, userID uint) {
	if _, err := s.Refresh(ctx, userID); err != nil {
		log.Warnf("消息发送后刷新会话列表失败: %v", err)
	}
}

// cleanupEmpty 删除用户的所有空会话。只是尽力而为：失败记录日志后继续。
func (s *conversationService) cleanupEmpty(ctx context.Context, userID uint) {
	empties, err := s.repo.ListEmpty(ctx, userID)
	if err != nil {
		log.Warnf("查询空会话失败（已忽略）: userID=%d, err=%v", userID, err)
		return
	}
	for _, c := range empties {
		if err := s.repo.Delete(ctx, userID, c.ID); err != nil {
			log.Warnf("清理空会话失败（已忽略）: id=%s, err=%v", c.ID, err)
		}
	}
}

func (s *conversationService) snapshot(st *convState) *ConversationSnapshot {
	st.mu.Lock()
	defer st.mu.Unlock()
	conversations := make([]model.Conversation, len(st.conversations))
	copy(conversations, st.conversations)
	return &ConversationSnapshot{Conversations: conversations, Current: st.current}
}

func containsConversation(conversations []model.Conversation, id string) bool {
	for _, c := range conversations {
		if c.ID == id {
			return true
		}
	}
	return false
}
