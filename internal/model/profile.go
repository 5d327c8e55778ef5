// Package model 包含了应用的数据模型定义。
package model

import "time"

// 订阅计划枚举。
const (
	PlanFree = "free"
	PlanPro  = "pro"
)

// Profile 对应于数据库中的 'profiles' 表，记录用户的订阅计划与累计查询次数。
// 查询次数由 Kafka 用量事件异步累加，仅用于配额校验。
type Profile struct {
	UserID           uint      `gorm:"primaryKey" json:"userId"`
	QueryCount       int64     `gorm:"not null;default:0" json:"queryCount"`
	SubscriptionPlan string    `gorm:"type:varchar(20);not null;default:'free'" json:"subscriptionPlan"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (Profile) TableName() string {
	return "profiles"
}
