// Package tasks 定义了在 Kafka 中流转的异步任务结构。
package tasks

import "time"

// UsageEvent 表示一次成功完成的问答，用于异步累计用户的查询用量。
type UsageEvent struct {
	UserID         uint      `json:"userId"`
	ConversationID string    `json:"conversationId"`
	OccurredAt     time.Time `json:"occurredAt"`
}
