// Package assistant 封装了远端会话补全服务的 thread + run 调用协议。
package assistant

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/wacoachrusso/sky-interpretation-assistant1/pkg/errs"
	"github.com/wacoachrusso/sky-interpretation-assistant1/pkg/log"
)

// 固定的排版指令，拼接在用户问题之前，让回复以表格、标题、列表等结构化形式呈现。
const formatInstructions = `Please format your responses for maximum readability:

1. Use markdown tables when presenting structured data
2. Use bullet points for lists
3. Use headers (##, ###) to organize sections
4. Bold important information
5. Keep paragraphs short and focused`

// Client 定义了助手调用协议的接口。
// 协议内部不做任何重试：传输失败原样上抛，由调用方决定如何处理。
type Client interface {
	// GenerateReply 在给定线程上追加用户消息、发起一次 run 并轮询至终态，返回助手回复文本。
	// threadID 为空时会新建线程；返回实际使用的线程 ID，调用方应将其与会话绑定复用。
	GenerateReply(ctx context.Context, threadID, userContent string) (reply string, usedThreadID string, err error)
}

// threadAPI 是本协议依赖的 go-openai 客户端方法子集，便于测试替换。
type threadAPI interface {
	CreateThread(ctx context.Context, request openai.ThreadRequest) (openai.Thread, error)
	CreateMessage(ctx context.Context, threadID string, request openai.MessageRequest) (openai.Message, error)
	CreateRun(ctx context.Context, threadID string, request openai.RunRequest) (openai.Run, error)
	RetrieveRun(ctx context.Context, threadID string, runID string) (openai.Run, error)
	ListMessage(ctx context.Context, threadID string, limit *int, order *string, after *string, before *string) (openai.MessagesList, error)
}

type client struct {
	api          threadAPI
	assistantID  string
	pollInterval time.Duration
}

// NewClient 创建一个助手协议客户端。baseURL 为空时使用官方默认地址。
func NewClient(apiKey, baseURL, assistantID string) Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &client{
		api:          openai.NewClientWithConfig(cfg),
		assistantID:  assistantID,
		pollInterval: time.Second,
	}
}

// GenerateReply 依次经过 CREATING_THREAD → POSTING_MESSAGE → RUNNING → POLLING 四个阶段。
// 轮询没有内置超时，调用方应通过 ctx 设置整体截止时间。
func (c *client) GenerateReply(ctx context.Context, threadID, userContent string) (string, string, error) {
	// CREATING_THREAD：线程与会话一一绑定，已有线程时直接复用。
	if threadID == "" {
		thread, err := c.api.CreateThread(ctx, openai.ThreadRequest{})
		if err != nil {
			return "", "", fmt.Errorf("failed to create thread: %w", err)
		}
		threadID = thread.ID
		log.Infof("助手线程已创建: %s", threadID)
	}

	// POSTING_MESSAGE：追加带排版指令的用户消息。
	content := fmt.Sprintf("%s\n\nUser Question: %s", formatInstructions, userContent)
	if _, err := c.api.CreateMessage(ctx, threadID, openai.MessageRequest{
		Role:    "user",
		Content: content,
	}); err != nil {
		return "", threadID, fmt.Errorf("failed to post message: %w", err)
	}

	// RUNNING：对预配置的助手发起一次 run。
	run, err := c.api.CreateRun(ctx, threadID, openai.RunRequest{AssistantID: c.assistantID})
	if err != nil {
		return "", threadID, fmt.Errorf("failed to create run: %w", err)
	}

	// POLLING：固定间隔轮询直到终态。
	if err := c.waitForRun(ctx, threadID, run.ID); err != nil {
		return "", threadID, err
	}

	reply, err := c.latestAssistantText(ctx, threadID)
	if err != nil {
		return "", threadID, err
	}
	return reply, threadID, nil
}

// waitForRun 轮询 run 状态。completed 返回 nil；failed 与 requires_action（本系统不支持
// 工具调用）以及其它终止状态返回 ProtocolError；queued/in_progress 继续等待。
func (c *client) waitForRun(ctx context.Context, threadID, runID string) error {
	for {
		run, err := c.api.RetrieveRun(ctx, threadID, runID)
		if err != nil {
			return fmt.Errorf("failed to retrieve run: %w", err)
		}

		switch run.Status {
		case openai.RunStatusCompleted:
			return nil
		case openai.RunStatusQueued, openai.RunStatusInProgress, openai.RunStatusCancelling:
			// 非终态，继续轮询。
		default:
			// failed、requires_action（本系统不做工具调用）、expired 等一律视为失败。
			log.Warnf("助手 run 进入终止状态: thread=%s run=%s status=%s", threadID, runID, run.Status)
			return errs.NewProtocolError(string(run.Status))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.pollInterval):
		}
	}
}

// latestAssistantText 取线程中最新一条消息的文本内容作为回复。
func (c *client) latestAssistantText(ctx context.Context, threadID string) (string, error) {
	limit := 1
	order := "desc"
	list, err := c.api.ListMessage(ctx, threadID, &limit, &order, nil, nil)
	if err != nil {
		return "", fmt.Errorf("failed to list thread messages: %w", err)
	}
	if len(list.Messages) == 0 {
		return "", errs.NewProtocolError("empty thread after completed run")
	}
	for _, part := range list.Messages[0].Content {
		if part.Text != nil {
			return part.Text.Value, nil
		}
	}
	return "", errs.NewProtocolError("assistant reply has no text content")
}
