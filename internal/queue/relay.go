package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	rd "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Relay 将 Redis Stream 中的通知任务异步转发到 Kafka。
// 发布 Kafka 成功后才 ACK Stream，失败则保留消息等待重试。
type Relay struct {
	rdb       *rd.Client
	publisher Publisher
	log       zerolog.Logger

	stream   string
	group    string
	consumer string
}

func NewRelay(rdb *rd.Client, publisher Publisher, stream, group, consumer string, log zerolog.Logger) *Relay {
	return &Relay{
		rdb:       rdb,
		publisher: publisher,
		log:       log.With().Str("component", "notify_relay").Logger(),
		stream:    stream,
		group:     group,
		consumer:  consumer,
	}
}

// claimIdle 其他消费者持有超过该时长未 ACK 的任务会被本消费者接管。
const claimIdle = time.Minute

// groupRetry 建组失败（如 Redis 暂不可达）后的重试间隔
const groupRetry = time.Second

// Run 阻塞直到 ctx 取消，始终返回 nil：通知链路的故障只记日志，不能拖垮下单服务。
func (r *Relay) Run(ctx context.Context) error {
	for {
		err := r.ensureGroup(ctx)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return nil
		}
		r.log.Warn().Err(err).Str("stream", r.stream).Msg("ensure consumer group, retrying")
		sleepCtx(ctx, groupRetry)
	}

	for ctx.Err() == nil {
		batch, err := r.next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			r.log.Warn().Err(err).Msg("read stream")
			sleepCtx(ctx, 300*time.Millisecond)
			continue
		}
		for _, xm := range batch {
			if err := r.processOne(ctx, xm); err != nil {
				// 未 ACK 的任务留在 pending 列表，下一轮重发
				r.log.Warn().Err(err).Str("stream_id", xm.ID).Msg("relay task")
				sleepCtx(ctx, 200*time.Millisecond)
				break
			}
		}
	}
	return nil
}

// next 依次取：本消费者未 ACK 的任务、从失联消费者接管的任务、新任务。
func (r *Relay) next(ctx context.Context) ([]rd.XMessage, error) {
	if own, err := r.readGroup(ctx, "0", 0); err != nil || len(own) > 0 {
		return own, err
	}

	claimed, _, err := r.rdb.XAutoClaim(ctx, &rd.XAutoClaimArgs{
		Stream:   r.stream,
		Group:    r.group,
		Consumer: r.consumer,
		MinIdle:  claimIdle,
		Start:    "0-0",
		Count:    16,
	}).Result()
	if err != nil && !errors.Is(err, rd.Nil) {
		return nil, err
	}
	if len(claimed) > 0 {
		r.log.Info().Int("count", len(claimed)).Msg("claimed idle tasks")
		return claimed, nil
	}

	return r.readGroup(ctx, ">", 2*time.Second)
}

func (r *Relay) ensureGroup(ctx context.Context) error {
	err := r.rdb.XGroupCreateMkStream(ctx, r.stream, r.group, "0").Err()
	if err == nil || strings.Contains(err.Error(), "BUSYGROUP") {
		return nil
	}
	return err
}

func (r *Relay) readGroup(ctx context.Context, streamID string, block time.Duration) ([]rd.XMessage, error) {
	args := &rd.XReadGroupArgs{
		Group:    r.group,
		Consumer: r.consumer,
		Streams:  []string{r.stream, streamID},
		Count:    16,
		Block:    block,
	}
	// go-redis 中 Block=0 会发送 BLOCK 0（永久阻塞），负值才省略该参数
	if block == 0 {
		args.Block = -1
	}
	streams, err := r.rdb.XReadGroup(ctx, args).Result()
	if errors.Is(err, rd.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []rd.XMessage
	for _, s := range streams {
		out = append(out, s.Messages...)
	}
	return out, nil
}

func (r *Relay) processOne(ctx context.Context, xm rd.XMessage) error {
	task, err := parseTask(xm.Values)
	if err != nil {
		// 脏消息直接 ACK 丢弃
		r.log.Error().Err(err).Str("stream_id", xm.ID).Msg("drop malformed task")
		if ackErr := r.ackAndDelete(ctx, xm.ID); ackErr != nil {
			return fmt.Errorf("parse failed: %v, ack failed: %w", err, ackErr)
		}
		return nil
	}

	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := r.publisher.Publish(pubCtx, task); err != nil {
		return err
	}
	return r.ackAndDelete(ctx, xm.ID)
}

func (r *Relay) ackAndDelete(ctx context.Context, id string) error {
	pipe := r.rdb.TxPipeline()
	pipe.XAck(ctx, r.stream, r.group, id)
	pipe.XDel(ctx, r.stream, id)
	_, err := pipe.Exec(ctx)
	return err
}

// streamValues 与 parseTask 互逆。
func streamValues(t Task) map[string]interface{} {
	return map[string]interface{}{
		"id":       t.ID,
		"kind":     string(t.Kind),
		"email":    t.Email,
		"name":     t.Name,
		"link":     t.Link,
		"order_id": strconv.FormatUint(uint64(t.OrderID), 10),
	}
}

func parseTask(values map[string]interface{}) (Task, error) {
	var t Task
	fields := []struct {
		key string
		dst *string
	}{
		{"id", &t.ID},
		{"email", &t.Email},
		{"name", &t.Name},
		{"link", &t.Link},
	}
	for _, f := range fields {
		s, err := getStreamString(values, f.key)
		if err != nil {
			return Task{}, err
		}
		*f.dst = s
	}

	kind, err := getStreamString(values, "kind")
	if err != nil {
		return Task{}, err
	}
	t.Kind = Kind(kind)

	orderStr, err := getStreamString(values, "order_id")
	if err != nil {
		return Task{}, err
	}
	orderID, err := strconv.ParseUint(orderStr, 10, 64)
	if err != nil {
		return Task{}, fmt.Errorf("invalid order_id %q", orderStr)
	}
	t.OrderID = uint(orderID)

	if err := t.Validate(); err != nil {
		return Task{}, err
	}
	return t, nil
}

func getStreamString(values map[string]interface{}, key string) (string, error) {
	v, ok := values[key]
	if !ok {
		return "", fmt.Errorf("missing field %s", key)
	}
	switch x := v.(type) {
	case string:
		return x, nil
	case []byte:
		return string(x), nil
	case int:
		return strconv.Itoa(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case uint64:
		return strconv.FormatUint(x, 10), nil
	default:
		return "", fmt.Errorf("unsupported field type %s: %T", key, v)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
