// Package cache 提供了一个尽力而为的键值缓存层。
// 缓存只是便利层而非数据源：序列化或存储失败只记录日志、绝不向上抛出。
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/wacoachrusso/sky-interpretation-assistant1/pkg/log"
)

// Store 定义了缓存的读写操作。值以 JSON 序列化存储。
type Store interface {
	// Save 写入一个值，失败时静默。
	Save(ctx context.Context, key string, value interface{})
	// Load 读取一个值并反序列化到 dest，返回是否命中。
	Load(ctx context.Context, key string, dest interface{}) bool
	// Remove 删除一个键，失败时静默。
	Remove(ctx context.Context, key string)
}

// 缓存条目的保留时长，与会话在 Redis 中的保留周期保持一致。
const entryTTL = 7 * 24 * time.Hour

type redisStore struct {
	client *redis.Client
}

// NewRedisStore 基于 Redis 客户端创建一个 Store。
func NewRedisStore(client *redis.Client) Store {
	return &redisStore{client: client}
}

func (s *redisStore) Save(ctx context.Context, key string, value interface{}) {
	data, err := json.Marshal(value)
	if err != nil {
		log.Errorf("缓存序列化失败: key=%s, err=%v", key, err)
		return
	}
	if err := s.client.Set(ctx, key, data, entryTTL).Err(); err != nil {
		log.Errorf("缓存写入失败: key=%s, err=%v", key, err)
	}
}

func (s *redisStore) Load(ctx context.Context, key string, dest interface{}) bool {
	data, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return false
	}
	if err != nil {
		log.Errorf("缓存读取失败: key=%s, err=%v", key, err)
		return false
	}
	if err := json.Unmarshal([]byte(data), dest); err != nil {
		log.Errorf("缓存反序列化失败: key=%s, err=%v", key, err)
		return false
	}
	return true
}

func (s *redisStore) Remove(ctx context.Context, key string) {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		log.Errorf("缓存删除失败: key=%s, err=%v", key, err)
	}
}
