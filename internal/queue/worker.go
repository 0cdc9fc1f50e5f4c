package queue

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// MessageReader 是 kafka.Reader 中 worker 用到的部分。
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewReader 按消费者组订阅通知 Topic。
func NewReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1e3,
		MaxBytes: 1e6,
	})
}

// Worker 消费通知任务并交给 Mailer 投递。
// 每条任务最多尝试 maxAttempts 次，间隔 retryDelay；用尽后记录并丢弃。
// 处理结束（成功或放弃）才提交 offset。
type Worker struct {
	r           MessageReader
	mailer      Mailer
	maxAttempts int
	retryDelay  time.Duration
	log         zerolog.Logger
}

func NewWorker(r MessageReader, mailer Mailer, maxAttempts int, retryDelay time.Duration, log zerolog.Logger) *Worker {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Worker{
		r:           r,
		mailer:      mailer,
		maxAttempts: maxAttempts,
		retryDelay:  retryDelay,
		log:         log.With().Str("component", "notify_worker").Logger(),
	}
}

func (w *Worker) Close() error { return w.r.Close() }

// fetchRetry 拉取失败（broker 不可达等）后的等待
const fetchRetry = time.Second

// Run 阻塞直到 ctx 取消或 reader 关闭，始终返回 nil。
// 拉取失败只记日志并重试，不影响同进程的 HTTP 服务。
func (w *Worker) Run(ctx context.Context) error {
	for {
		m, err := w.r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			if errors.Is(err, io.EOF) {
				w.log.Info().Msg("reader closed")
				return nil
			}
			w.log.Warn().Err(err).Msg("fetch message, retrying")
			sleepCtx(ctx, fetchRetry)
			continue
		}

		if !w.handle(ctx, m) {
			// ctx 在重试等待中被取消，不提交，下次启动重新消费
			return nil
		}
		if err := w.r.CommitMessages(ctx, m); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.log.Warn().Err(err).Int64("offset", m.Offset).Msg("commit")
		}
	}
}

// handle 返回 false 表示处理被 ctx 打断。
func (w *Worker) handle(ctx context.Context, m kafka.Message) bool {
	var t Task
	if err := json.Unmarshal(m.Value, &t); err != nil {
		w.log.Error().Err(err).Int64("offset", m.Offset).Msg("drop undecodable task")
		return true
	}
	if err := t.Validate(); err != nil {
		w.log.Error().Err(err).Str("task_id", t.ID).Msg("drop invalid task")
		return true
	}

	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		err := w.mailer.Send(ctx, t)
		if err == nil {
			w.log.Info().Str("task_id", t.ID).Str("kind", string(t.Kind)).Int("attempt", attempt).Msg("notification sent")
			return true
		}
		w.log.Warn().Err(err).Str("task_id", t.ID).Int("attempt", attempt).Msg("send failed")
		if attempt == w.maxAttempts {
			break
		}
		sleepCtx(ctx, w.retryDelay)
		if ctx.Err() != nil {
			return false
		}
	}
	w.log.Error().Str("task_id", t.ID).Str("kind", string(t.Kind)).Str("email", t.Email).Msg("notification dropped after retries")
	return true
}
