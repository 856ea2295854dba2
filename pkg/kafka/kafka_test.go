package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return w.err
}

func (w *fakeWriter) Close() error { return nil }

type countingHandler struct {
	failures int
	calls    int
	traceIDs []string
	panics   bool
}

func (h *countingHandler) Topic() string { return "scanner.control" }

func (h *countingHandler) Handle(ctx context.Context, _ []byte) error {
	h.calls++
	h.traceIDs = append(h.traceIDs, TraceIDFrom(ctx))
	if h.panics {
		panic("boom")
	}
	if h.calls <= h.failures {
		return errors.New("transient")
	}
	return nil
}

func newTestConsumer(t *testing.T, retries int) *Consumer {
	t.Helper()
	c, err := NewConsumer(nil, WithConsumerBrokers([]string{"localhost:9092"}), WithConsumerRetry(retries, time.Millisecond, 2*time.Millisecond))
	if err != nil {
		t.Fatalf("new consumer: %v", err)
	}
	return c
}

func TestProducerEncodesValues(t *testing.T) {
	w := &fakeWriter{}
	p := &Producer{writer: w, comp: "gzip"}

	if err := p.Publish(context.Background(), "scanner.snapshots", []byte("macd_4h"), map[string]int{"n": 1}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := p.PublishMessage(context.Background(), "scanner.logs", "raw"); err != nil {
		t.Fatalf("publish message: %v", err)
	}
	if err := p.PublishBatch(context.Background(), "scanner.snapshots", []Message{{Key: []byte("a"), Value: 1}, {Key: []byte("b"), Value: "x"}}); err != nil {
		t.Fatalf("batch: %v", err)
	}
	if len(w.msgs) != 4 {
		t.Fatalf("messages = %d", len(w.msgs))
	}
	if string(w.msgs[0].Value) != `{"n":1}` || string(w.msgs[0].Key) != "macd_4h" || w.msgs[0].Topic != "scanner.snapshots" {
		t.Fatalf("first message = %+v", w.msgs[0])
	}
	if string(w.msgs[1].Value) != "raw" || w.msgs[1].Key != nil {
		t.Fatalf("second message = %+v", w.msgs[1])
	}
}

func TestNewRequiresBrokers(t *testing.T) {
	if _, err := NewProducer(); !errors.Is(err, ErrNoBrokers) {
		t.Fatalf("producer err = %v", err)
	}
	if _, err := NewConsumer(nil); !errors.Is(err, ErrNoBrokers) {
		t.Fatalf("consumer err = %v", err)
	}
}

func TestProcessRetriesUntilSuccess(t *testing.T) {
	c := newTestConsumer(t, 3)
	c.WithConsumerHook(TraceHook())
	h := &countingHandler{failures: 2}
	msg := &message{topic: h.Topic(), km: kafka.Message{Headers: []kafka.Header{{Key: "trace_id", Value: []byte("t-1")}}}}

	if err := c.process(h, msg); err != nil {
		t.Fatalf("process: %v", err)
	}
	if h.calls != 3 {
		t.Fatalf("calls = %d, want 3", h.calls)
	}
	if h.traceIDs[2] != "t-1" {
		t.Fatalf("trace id not propagated: %v", h.traceIDs)
	}
}

func TestProcessGivesUp(t *testing.T) {
	c := newTestConsumer(t, 1)
	h := &countingHandler{failures: 10}
	if err := c.process(h, &message{topic: h.Topic()}); err == nil {
		t.Fatalf("expected error")
	}
	if h.calls != 2 {
		t.Fatalf("calls = %d, want 2", h.calls)
	}
}

func TestProcessRecoversPanic(t *testing.T) {
	c := newTestConsumer(t, 0)
	err := c.process(&countingHandler{panics: true}, &message{topic: "scanner.control"})
	var he *HookError
	if !errors.As(err, &he) || he.Code != "ERR_PANIC" {
		t.Fatalf("err = %v", err)
	}
}

func TestBackoffWithJitter(t *testing.T) {
	for attempt := 1; attempt <= 40; attempt++ {
		d := backoffWithJitter(10*time.Millisecond, 100*time.Millisecond, attempt)
		if d <= 0 || d > 100*time.Millisecond {
			t.Fatalf("attempt %d: backoff %v out of range", attempt, d)
		}
	}
}

func TestTraceHookCopiesHeader(t *testing.T) {
	km := kafka.Message{Headers: []kafka.Header{{Key: "trace_id", Value: []byte("abc-123")}}}
	ctx, _, _, err := TraceHook().BeforeHandle(context.Background(), "scanner.control", km, nil)
	if err != nil {
		t.Fatalf("before hook: %v", err)
	}
	if got := TraceIDFrom(ctx); got != "abc-123" {
		t.Fatalf("trace id = %q", got)
	}

	ctx, _, _, _ = TraceHook().BeforeHandle(context.Background(), "scanner.control", kafka.Message{}, nil)
	if got := TraceIDFrom(ctx); got != "" {
		t.Fatalf("expected empty trace id, got %q", got)
	}
}
