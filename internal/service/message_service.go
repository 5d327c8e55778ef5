package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/wacoachrusso/sky-interpretation-assistant1/internal/config"
	"github.com/wacoachrusso/sky-interpretation-assistant1/internal/model"
	"github.com/wacoachrusso/sky-interpretation-assistant1/internal/repository"
	"github.com/wacoachrusso/sky-interpretation-assistant1/pkg/assistant"
	"github.com/wacoachrusso/sky-interpretation-assistant1/pkg/errs"
	"github.com/wacoachrusso/sky-interpretation-assistant1/pkg/log"
	"github.com/wacoachrusso/sky-interpretation-assistant1/pkg/tasks"
)

// MessageService 是当前会话消息列表的唯一拥有者，并驱动完整的发送流水线：
// 落库用户消息 → 调用助手 → 落库助手回复 → 通知会话管理器刷新排序与标题。
type MessageService interface {
	// LoadMessages 拉取会话的全部消息（按创建时间升序）并替换内存列表。
	LoadMessages(ctx context.Context, userID uint, conversationID string) ([]model.Message, error)
	// Send 执行一次发送。输入为空、会话缺失或已有发送在进行时静默空跑，
	// 返回的两条消息均为 nil 且无错误。
	Send(ctx context.Context, userID uint, conversationID, text string) (userMsg, assistantMsg *model.Message, err error)
	// Messages 返回用户当前会话消息列表的内存视图副本。
	Messages(userID uint) []model.Message
}

// msgState 是单个用户的消息管理器状态。列表始终只属于一个会话。
type msgState struct {
	mu             sync.Mutex
	conversationID string
	messages       []model.Message

	// sending 是单槽任务锁，保证同一用户至多一个发送在途。
	sending sync.Mutex
}

type messageService struct {
	messages      repository.MessageRepository
	conversations repository.ConversationRepository
	assistant     assistant.Client
	convService   ConversationService
	// publishUsage 把用量事件投递到 Kafka；注入以便测试替换。
	publishUsage func(tasks.UsageEvent) error

	mu     sync.Mutex
	states map[uint]*msgState
}

// NewMessageService 创建一个新的 MessageService。
func NewMessageService(
	messages repository.MessageRepository,
	conversations repository.ConversationRepository,
	assistantClient assistant.Client,
	convService ConversationService,
	publishUsage func(tasks.UsageEvent) error,
) MessageService {
	return &messageService{
		messages:      messages,
		conversations: conversations,
		assistant:     assistantClient,
		convService:   convService,
		publishUsage:  publishUsage,
		states:        make(map[uint]*msgState),
	}
}

func (s *messageService) state(userID uint) *msgState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[userID]
	if !ok {
		st = &msgState{}
		s.states[userID] = st
	}
	return st
}

func (s *messageService) LoadMessages(ctx context.Context, userID uint, conversationID string) ([]model.Message, error) {
	if userID == 0 {
		return nil, errs.NewAuthError("missing user for message load")
	}
	if conversationID == "" {
		return nil, errs.NewValidationError("missing conversation id")
	}

	messages, err := s.messages.ListByConversation(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}

	st := s.state(userID)
	st.mu.Lock()
	st.conversationID = conversationID
	st.messages = messages
	st.mu.Unlock()
	return messages, nil
}

func (s *messageService) Messages(userID uint) []model.Message {
	st := s.state(userID)
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]model.Message, len(st.messages))
	copy(out, st.messages)
	return out
}

func (s *messageService) Send(ctx context.Context, userID uint, conversationID, text string) (*model.Message, *model.Message, error) {
	if userID == 0 {
		return nil, nil, errs.NewAuthError("missing user for send")
	}
	trimmed := strings.TrimSpace(text)
	if trimmed == "" || conversationID == "" {
		// 校验类失败静默空跑，不打扰用户。
		return nil, nil, nil
	}

	st := s.state(userID)
	if !st.sending.TryLock() {
		// 已有发送在途，本次调用空跑。
		return nil, nil, nil
	}
	defer st.sending.Unlock()

	// 发送前判断是否是会话的第一条消息，决定是否需要推导标题。
	firstMessage := false
	if count, err := s.messages.CountByConversation(ctx, userID, conversationID); err == nil {
		firstMessage = count == 0
	} else {
		log.Warnf("消息计数失败，跳过标题推导: %v", err)
	}

	// 1. 落库用户消息（带退避重试），成功后进入内存列表。
	userMsg, err := s.messages.Create(ctx, userID, conversationID, model.RoleUser, trimmed)
	if err != nil {
		return nil, nil, err
	}
	s.appendMessage(st, conversationID, *userMsg)

	// 2. 推进会话的排序时间戳；首条消息时顺带推导标题。
	//    这两个更新是修饰性的，网络类失败也只告警，绝不打断发送。
	if firstMessage {
		if err := s.conversations.UpdateTitle(ctx, userID, conversationID, deriveTitle(trimmed)); err != nil {
			log.Warnf("会话标题更新失败: id=%s, err=%v", conversationID, err)
		}
	}
	if err := s.conversations.Touch(ctx, userID, conversationID, userMsg.CreatedAt); err != nil {
		log.Warnf("会话时间戳更新失败: id=%s, err=%v", conversationID, err)
	}

	// 3. 调用助手。线程与会话绑定复用；整个调用不在此层重试，
	//    因为 run 创建不是幂等的，重复 run 比失败更糟。
	threadID := ""
	if conversation, err := s.conversations.Get(ctx, userID, conversationID); err == nil {
		threadID = conversation.AssistantThreadID
	} else {
		log.Warnf("读取会话线程绑定失败，将新建线程: %v", err)
	}

	actx := ctx
	if timeout := config.Conf.Assistant.TimeoutSeconds; timeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
		defer cancel()
	}
	reply, usedThreadID, err := s.assistant.GenerateReply(actx, threadID, trimmed)
	if err != nil {
		// 用户消息已落库，流水线在此停住；内存列表保持最后已知的良好状态。
		return userMsg, nil, err
	}
	if usedThreadID != "" && usedThreadID != threadID {
		if err := s.conversations.BindThread(ctx, userID, conversationID, usedThreadID); err != nil {
			log.Warnf("线程绑定写入失败: id=%s, err=%v", conversationID, err)
		}
	}

	// 4. 落库助手回复（带退避重试）。
	assistantMsg, err := s.messages.Create(ctx, userID, conversationID, model.RoleAssistant, reply)
	if err != nil {
		return userMsg, nil, err
	}
	s.appendMessage(st, conversationID, *assistantMsg)

	if err := s.conversations.Touch(ctx, userID, conversationID, assistantMsg.CreatedAt); err != nil {
		log.Warnf("会话时间戳更新失败: id=%s, err=%v", conversationID, err)
	}

	// 5. 通知会话管理器刷新排序，并异步累计用量。
	s.convService.NotifyMessageSent(ctx, userID)
	if s.publishUsage != nil {
		if err := s.publishUsage(tasks.UsageEvent{
			UserID:         userID,
			ConversationID: conversationID,
			OccurredAt:     time.Now(),
		}); err != nil {
			log.Warnf("用量事件投递失败: userID=%d, err=%v", userID, err)
		}
	}

	return userMsg, assistantMsg, nil
}

// appendMessage 把一条新消息追加进内存视图。发送的目标会话即当前会话：
// 视图还停留在别的会话时先切换过去，绝不把两个会话的消息串进同一个列表。
func (s *messageService) appendMessage(st *msgState, conversationID string, m model.Message) {
	st.mu.Lock()
	if st.conversationID != conversationID {
		st.conversationID = conversationID
		st.messages = nil
	}
	st.messages = append(st.messages, m)
	st.mu.Unlock()
}
