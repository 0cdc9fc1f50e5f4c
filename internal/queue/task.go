package queue

import (
	"fmt"

	"github.com/google/uuid"
)

// Kind 通知任务类型
type Kind string

const (
	KindWelcome       Kind = "welcome"
	KindVerification  Kind = "verification"
	KindPasswordReset Kind = "password_reset"
	KindOrderPlaced   Kind = "order_placed"
)

// Task 是写入 Stream / Kafka 的通知任务。
type Task struct {
	ID      string `json:"id"`
	Kind    Kind   `json:"kind"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Link    string `json:"link,omitempty"`
	OrderID uint   `json:"order_id,omitempty"`
}

// NewTask 生成带唯一 ID 的任务，ID 同时作为 Kafka key。
func NewTask(kind Kind, email, name string) Task {
	return Task{ID: uuid.NewString(), Kind: kind, Email: email, Name: name}
}

// Validate 做最小字段校验，防止 worker 处理脏消息。
func (t Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("id is required")
	}
	if t.Email == "" {
		return fmt.Errorf("email is required")
	}
	switch t.Kind {
	case KindWelcome:
	case KindVerification, KindPasswordReset:
		if t.Link == "" {
			return fmt.Errorf("link is required for %s", t.Kind)
		}
	case KindOrderPlaced:
		if t.OrderID == 0 {
			return fmt.Errorf("order_id is required for %s", t.Kind)
		}
	default:
		return fmt.Errorf("unknown task kind %q", t.Kind)
	}
	return nil
}
