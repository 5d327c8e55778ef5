// Package kafka 提供了用量事件在 Kafka 上的生产与消费。
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/wacoachrusso/sky-interpretation-assistant1/internal/config"
	"github.com/wacoachrusso/sky-interpretation-assistant1/pkg/database"
	"github.com/wacoachrusso/sky-interpretation-assistant1/pkg/log"
	"github.com/wacoachrusso/sky-interpretation-assistant1/pkg/tasks"
)

// UsageProcessor 定义了用量事件的处理方。
// 解耦消费者与具体的配额服务实现。
type UsageProcessor interface {
	Process(ctx context.Context, event tasks.UsageEvent) error
}

var producer *kafka.Writer

// InitProducer 初始化 Kafka 生产者。
func InitProducer(cfg config.KafkaConfig) {
	producer = &kafka.Writer{
		Addr:     kafka.TCP(cfg.Brokers),
		Topic:    cfg.Topic,
		Balancer: &kafka.LeastBytes{},
	}
	log.Info("Kafka 生产者初始化成功")
}

// ProduceUsageEvent 发送一条用量事件。
func ProduceUsageEvent(event tasks.UsageEvent) error {
	eventBytes, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return producer.WriteMessages(context.Background(), kafka.Message{Value: eventBytes})
}

// StartConsumer 启动消费循环，将用量事件交给 processor 处理。
func StartConsumer(cfg config.KafkaConfig, processor UsageProcessor) {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  []string{cfg.Brokers},
		Topic:    cfg.Topic,
		GroupID:  "skyguide-usage-consumer",
		MinBytes: 1,
		MaxBytes: 10e6,
	})

	log.Infof("Kafka 消费者已启动，正在监听主题 '%s'", cfg.Topic)

	for {
		m, err := r.FetchMessage(context.Background())
		if err != nil {
			log.Error("从 Kafka 读取消息失败", err)
			break
		}

		var event tasks.UsageEvent
		if err := json.Unmarshal(m.Value, &event); err != nil {
			log.Errorf("无法解析用量事件: %v, value: %s", err, string(m.Value))
			// 消息格式错误，直接提交，避免阻塞队列
			if err := r.CommitMessages(context.Background(), m); err != nil {
				log.Errorf("提交错误消息失败: %v", err)
			}
			continue
		}

		if err := processor.Process(context.Background(), event); err != nil {
			log.Errorf("处理用量事件失败: userID=%d, err=%v", event.UserID, err)
			// 使用 Redis 计数失败次数，达到阈值后提交 offset 终止重试
			attemptsKey := fmt.Sprintf("kafka:usage:attempts:%d:%s", event.UserID, event.ConversationID)
			attempts, incErr := database.RDB.Incr(context.Background(), attemptsKey).Result()
			if incErr != nil {
				// Redis 异常时保守处理：不提交 offset，让 Kafka 重试
				continue
			}
			_ = database.RDB.Expire(context.Background(), attemptsKey, 24*time.Hour).Err()
			if attempts >= 3 {
				log.Errorf("用量事件多次失败(>=3)，提交 offset 终止重试: userID=%d", event.UserID)
				if err := r.CommitMessages(context.Background(), m); err != nil {
					log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
				}
			}
			continue
		}

		_ = database.RDB.Del(context.Background(), fmt.Sprintf("kafka:usage:attempts:%d:%s", event.UserID, event.ConversationID)).Err()
		if err := r.CommitMessages(context.Background(), m); err != nil {
			log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
		}
	}

	if err := r.Close(); err != nil {
		log.Errorf("关闭 Kafka 消费者失败: %v", err)
	}
}
