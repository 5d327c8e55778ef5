// Package model 包含了应用的数据模型定义。
package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// 消息角色枚举。
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Conversation 代表一个用户拥有的、带标题的消息容器。
// LastMessageAt 为 NULL 表示会话为空（从未成功发送过消息），这类会话可被清理，
// 且同一用户任意时刻至多保留一个空会话。
type Conversation struct {
	ID     string `gorm:"type:varchar(36);primaryKey" json:"id"`
	UserID uint   `gorm:"index;not null" json:"userId"`
	Title  string `gorm:"type:varchar(100);not null" json:"title"`
	// AssistantThreadID 是与远端补全服务线程的绑定，按会话复用，空表示尚未创建。
	AssistantThreadID string     `gorm:"type:varchar(64)" json:"-"`
	CreatedAt         time.Time  `gorm:"autoCreateTime" json:"createdAt"`
	LastMessageAt     *time.Time `gorm:"index;default:null" json:"lastMessageAt"`
}

func (Conversation) TableName() string {
	return "conversations"
}

// BeforeCreate 在插入前分配服务端 ID。
func (c *Conversation) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

// IsEmpty 判断会话是否为空会话。
func (c *Conversation) IsEmpty() bool {
	return c.LastMessageAt == nil
}

// Message 代表会话中不可变的一轮发言，按 CreatedAt 升序排列。
// 消息创建后不再更新，仅随会话删除而级联删除。
type Message struct {
	ID             string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	ConversationID string    `gorm:"index;not null" json:"conversationId"`
	UserID         uint      `gorm:"index;not null" json:"userId"`
	Role           string    `gorm:"type:varchar(16);not null" json:"role"`
	Content        string    `gorm:"type:text;not null" json:"content"`
	CreatedAt      time.Time `gorm:"autoCreateTime;index" json:"createdAt"`
}

func (Message) TableName() string {
	return "messages"
}

// BeforeCreate 在插入前分配服务端 ID。
func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}
