package queue

import (
	"context"
	"fmt"

	rd "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Dispatcher 把任务交给异步通道。
type Dispatcher interface {
	Dispatch(ctx context.Context, t Task) error
}

// StreamDispatcher API 侧入队只做一次 XADD，由 Relay 转发到 Kafka。
type StreamDispatcher struct {
	rdb    *rd.Client
	stream string
}

func NewStreamDispatcher(rdb *rd.Client, stream string) *StreamDispatcher {
	return &StreamDispatcher{rdb: rdb, stream: stream}
}

func (d *StreamDispatcher) Dispatch(ctx context.Context, t Task) error {
	if err := t.Validate(); err != nil {
		return err
	}
	err := d.rdb.XAdd(ctx, &rd.XAddArgs{
		Stream: d.stream,
		Values: streamValues(t),
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", d.stream, err)
	}
	return nil
}

// Notifier 供业务层调用：失败只记日志，业务事务不依赖通知是否送达。
// nil Notifier 可安全调用。
type Notifier struct {
	d   Dispatcher
	log zerolog.Logger
}

func NewNotifier(d Dispatcher, log zerolog.Logger) *Notifier {
	return &Notifier{d: d, log: log.With().Str("component", "notifier").Logger()}
}

func (n *Notifier) Notify(ctx context.Context, t Task) {
	if n == nil || n.d == nil {
		return
	}
	if err := n.d.Dispatch(ctx, t); err != nil {
		n.log.Error().Err(err).Str("task_id", t.ID).Str("kind", string(t.Kind)).Msg("dispatch notification")
		return
	}
	n.log.Debug().Str("task_id", t.ID).Str("kind", string(t.Kind)).Msg("notification queued")
}
