package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"storefront/internal/store/storetest"

	rd "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

func TestTaskValidate(t *testing.T) {
	ok := NewTask(KindWelcome, "a@example.com", "Ann")
	require.NoError(t, ok.Validate())

	cases := map[string]Task{
		"missing id":        {Kind: KindWelcome, Email: "a@example.com"},
		"missing email":     {ID: "1", Kind: KindWelcome},
		"unknown kind":      {ID: "1", Kind: "sms", Email: "a@example.com"},
		"verification link": {ID: "1", Kind: KindVerification, Email: "a@example.com"},
		"reset link":        {ID: "1", Kind: KindPasswordReset, Email: "a@example.com"},
		"order without id":  {ID: "1", Kind: KindOrderPlaced, Email: "a@example.com"},
	}
	for name, task := range cases {
		t.Run(name, func(t *testing.T) {
			require.Error(t, task.Validate())
		})
	}
}

func TestParseTaskFromStream(t *testing.T) {
	in := NewTask(KindOrderPlaced, "b@example.com", "Bob")
	in.OrderID = 42

	got, err := parseTask(streamValues(in))
	require.NoError(t, err)
	require.Equal(t, in, got)

	values := streamValues(in)
	delete(values, "kind")
	_, err = parseTask(values)
	require.Error(t, err)

	values = streamValues(in)
	values["order_id"] = "x"
	_, err = parseTask(values)
	require.Error(t, err)
}

func TestCompose(t *testing.T) {
	task := NewTask(KindPasswordReset, "c@example.com", "Cid")
	task.Link = "http://shop/reset/abc"
	subject, body := Compose(task)
	require.Equal(t, "Password reset", subject)
	require.Contains(t, body, task.Link)

	task = NewTask(KindOrderPlaced, "c@example.com", "Cid")
	task.OrderID = 7
	subject, _ = Compose(task)
	require.Contains(t, subject, "#7")
}

type fakeReader struct {
	msgs      []kafka.Message
	committed []int64
	cancel    context.CancelFunc
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if len(r.msgs) == 0 {
		r.cancel()
		return kafka.Message{}, context.Canceled
	}
	m := r.msgs[0]
	r.msgs = r.msgs[1:]
	return m, nil
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

type flakyMailer struct {
	mu       sync.Mutex
	failures map[string]int
	calls    map[string]int
	sent     []string
}

func (m *flakyMailer) Send(_ context.Context, t Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[t.ID]++
	if m.calls[t.ID] <= m.failures[t.ID] {
		return errors.New("smtp unavailable")
	}
	m.sent = append(m.sent, t.ID)
	return nil
}

func message(t *testing.T, offset int64, task Task) kafka.Message {
	b, err := json.Marshal(task)
	require.NoError(t, err)
	return kafka.Message{Offset: offset, Key: []byte(task.ID), Value: b}
}

func TestWorkerRetriesThenCommits(t *testing.T) {
	ok := NewTask(KindWelcome, "a@example.com", "A")
	flaky := NewTask(KindWelcome, "b@example.com", "B")
	dead := NewTask(KindWelcome, "c@example.com", "C")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reader := &fakeReader{
		msgs: []kafka.Message{
			message(t, 1, ok),
			message(t, 2, flaky),
			{Offset: 3, Value: []byte("{not json")},
			message(t, 4, dead),
		},
		cancel: cancel,
	}
	mailer := &flakyMailer{
		failures: map[string]int{flaky.ID: 2, dead.ID: 100},
		calls:    map[string]int{},
	}

	w := NewWorker(reader, mailer, 3, 0, zerolog.Nop())
	require.NoError(t, w.Run(ctx))

	require.Equal(t, []int64{1, 2, 3, 4}, reader.committed)
	require.Equal(t, []string{ok.ID, flaky.ID}, mailer.sent)
	require.Equal(t, 3, mailer.calls[flaky.ID])
	require.Equal(t, 3, mailer.calls[dead.ID])
}

func TestWorkerStopsDuringBackoff(t *testing.T) {
	task := NewTask(KindWelcome, "a@example.com", "A")
	ctx, cancel := context.WithCancel(context.Background())
	reader := &fakeReader{msgs: []kafka.Message{message(t, 9, task)}, cancel: cancel}
	mailer := &flakyMailer{failures: map[string]int{task.ID: 100}, calls: map[string]int{}}

	w := NewWorker(reader, mailer, 3, time.Hour, zerolog.Nop())
	time.AfterFunc(50*time.Millisecond, cancel)
	require.NoError(t, w.Run(ctx))
	require.Empty(t, reader.committed)
	require.Equal(t, 1, mailer.calls[task.ID])
}

// brokerDownReader 先返回 down 次拉取错误，再交给 fakeReader。
type brokerDownReader struct {
	*fakeReader
	down int
}

func (r *brokerDownReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if r.down > 0 {
		r.down--
		return kafka.Message{}, errors.New("dial tcp: connection refused")
	}
	return r.fakeReader.FetchMessage(ctx)
}

func TestWorkerSurvivesFetchErrors(t *testing.T) {
	task := NewTask(KindWelcome, "a@example.com", "A")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reader := &brokerDownReader{
		fakeReader: &fakeReader{msgs: []kafka.Message{message(t, 1, task)}, cancel: cancel},
		down:       2,
	}
	mailer := &flakyMailer{failures: map[string]int{}, calls: map[string]int{}}

	w := NewWorker(reader, mailer, 1, 0, zerolog.Nop())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not finish")
	}
	require.Equal(t, []string{task.ID}, mailer.sent)
	require.Equal(t, []int64{1}, reader.committed)
}

func TestRelayWaitsForRedis(t *testing.T) {
	rdb := rd.NewClient(&rd.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	defer rdb.Close()

	ctx, cancel := context.WithCancel(context.Background())
	relay := NewRelay(rdb, &recordingPublisher{}, "notify", "group", "c1", zerolog.Nop())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	// Redis 不可达时 Run 不返回，否则会连带停掉 HTTP 服务
	select {
	case err := <-done:
		t.Fatalf("relay returned early: %v", err)
	case <-time.After(300 * time.Millisecond):
	}

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("relay ignored cancellation")
	}
}

type failingDispatcher struct{ calls int }

func (d *failingDispatcher) Dispatch(context.Context, Task) error {
	d.calls++
	return errors.New("redis down")
}

func TestNotifierSwallowsErrors(t *testing.T) {
	d := &failingDispatcher{}
	n := NewNotifier(d, zerolog.Nop())
	n.Notify(context.Background(), NewTask(KindWelcome, "a@example.com", "A"))
	require.Equal(t, 1, d.calls)

	var nilNotifier *Notifier
	nilNotifier.Notify(context.Background(), NewTask(KindWelcome, "a@example.com", "A"))
}

type recordingPublisher struct {
	mu    sync.Mutex
	tasks []Task
}

func (p *recordingPublisher) Publish(_ context.Context, t Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tasks = append(p.tasks, t)
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.tasks)
}

func TestStreamDispatcherAndRelay(t *testing.T) {
	rdb, prefix := storetest.Redis(t)
	stream := prefix + "notify"
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d := NewStreamDispatcher(rdb, stream)
	require.Error(t, d.Dispatch(ctx, Task{Kind: KindWelcome}))

	first := NewTask(KindWelcome, "a@example.com", "A")
	second := NewTask(KindOrderPlaced, "b@example.com", "B")
	second.OrderID = 5
	require.NoError(t, d.Dispatch(ctx, first))
	require.NoError(t, d.Dispatch(ctx, second))
	// 缺字段的脏消息会被 ACK 丢弃
	require.NoError(t, rdb.XAdd(ctx, &rd.XAddArgs{Stream: stream, Values: map[string]interface{}{"kind": "welcome"}}).Err())

	pub := &recordingPublisher{}
	relay := NewRelay(rdb, pub, stream, prefix+"group", "c1", zerolog.Nop())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	require.Eventually(t, func() bool { return pub.count() == 2 }, 5*time.Second, 50*time.Millisecond)
	require.Eventually(t, func() bool {
		n, err := rdb.XLen(ctx, stream).Result()
		return err == nil && n == 0
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	require.Equal(t, first, pub.tasks[0])
	require.Equal(t, second, pub.tasks[1])
}
