package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// HeaderKind 消息头里携带任务类型，消费端无需解包即可过滤。
const HeaderKind = "kind"

// Publisher 由 Relay 使用，测试里可替换。
type Publisher interface {
	Publish(ctx context.Context, t Task) error
}

// Producer 通知任务的 Kafka 出口
type Producer struct {
	w *kafka.Writer
}

// NewProducer 按任务 ID 做 Hash 分区，同一任务重投落到同一分区；
// RequireAll 等待全部 ISR 确认后才算投递成功。
func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{
		w: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
			MaxAttempts:            5,
			WriteTimeout:           5 * time.Second,
			ReadTimeout:            5 * time.Second,
			BatchTimeout:           20 * time.Millisecond,
		},
	}
}

func (p *Producer) Close() error { return p.w.Close() }

// Publish 同步写入，非法任务不会进入 Topic。
func (p *Producer) Publish(ctx context.Context, t Task) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("publish task %s: %w", t.ID, err)
	}
	payload, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return p.w.WriteMessages(ctx, kafka.Message{
		Key:     []byte(t.ID),
		Value:   payload,
		Headers: []kafka.Header{{Key: HeaderKind, Value: []byte(t.Kind)}},
	})
}
