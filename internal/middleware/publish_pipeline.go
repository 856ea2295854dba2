package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/internal/domain/models"
	applogger "github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/pkg/logger"
)

// Sink is one downstream of published snapshots.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, s *models.Snapshot) error
}

type sinkFunc struct {
	name string
	fn   func(context.Context, *models.Snapshot) error
}

func (s sinkFunc) Name() string { return s.name }

func (s sinkFunc) Deliver(ctx context.Context, snap *models.Snapshot) error { return s.fn(ctx, snap) }

// SinkFunc adapts a function to a Sink.
func SinkFunc(name string, fn func(context.Context, *models.Snapshot) error) Sink {
	return sinkFunc{name: name, fn: fn}
}

// DropRecorder counts snapshots or deliveries the pipeline gave up on.
type DropRecorder interface {
	RecordPipelineDrop(reason string)
}

type nopDrops struct{}

func (nopDrops) RecordPipelineDrop(string) {}

// PublishPipeline decouples the scheduler from side effects. Enqueue never
// blocks; a single goroutine fans each snapshot out to every sink in order.
// When the buffer is full the oldest pending snapshot is discarded.
type PublishPipeline struct {
	sinks      []Sink
	logger     *applogger.Logger
	drops      DropRecorder
	bufSize    int
	maxRetries int
	backoffMin time.Duration
	backoffMax time.Duration
	timeout    time.Duration

	mu      sync.Mutex
	queue   []*models.Snapshot
	started bool
	closed  bool
	wake    chan struct{}
	done    chan struct{}
	cancel  context.CancelFunc

	sleep func(ctx context.Context, d time.Duration) error
}

type PipelineOption func(*PublishPipeline)

// WithBufferSize bounds the number of snapshots waiting for delivery.
func WithBufferSize(n int) PipelineOption {
	return func(p *PublishPipeline) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

// WithRetry sets per-sink retries and the capped exponential backoff between them.
func WithRetry(maxRetries int, min, max time.Duration) PipelineOption {
	return func(p *PublishPipeline) {
		if maxRetries >= 0 {
			p.maxRetries = maxRetries
		}
		if min > 0 {
			p.backoffMin = min
		}
		if max >= p.backoffMin {
			p.backoffMax = max
		}
	}
}

// WithDeliveryTimeout bounds a single delivery attempt.
func WithDeliveryTimeout(d time.Duration) PipelineOption {
	return func(p *PublishPipeline) {
		if d > 0 {
			p.timeout = d
		}
	}
}

func WithPipelineLogger(l *applogger.Logger) PipelineOption {
	return func(p *PublishPipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

func WithDropRecorder(r DropRecorder) PipelineOption {
	return func(p *PublishPipeline) {
		if r != nil {
			p.drops = r
		}
	}
}

// NewPublishPipeline creates a pipeline over sinks. Nil sinks are skipped.
func NewPublishPipeline(sinks []Sink, opts ...PipelineOption) *PublishPipeline {
	p := &PublishPipeline{
		logger:     applogger.Nop(),
		drops:      nopDrops{},
		bufSize:    16,
		maxRetries: 3,
		backoffMin: 200 * time.Millisecond,
		backoffMax: 5 * time.Second,
		timeout:    15 * time.Second,
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
		sleep:      sleepCtx,
	}
	for _, s := range sinks {
		if s != nil {
			p.sinks = append(p.sinks, s)
		}
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With(applogger.String("component", "publish_pipeline"))
	return p
}

// Sinks returns the names of the configured sinks.
func (p *PublishPipeline) Sinks() []string {
	names := make([]string, len(p.sinks))
	for i, s := range p.sinks {
		names[i] = s.Name()
	}
	return names
}

// Enqueue hands a snapshot to the pipeline. It never blocks.
func (p *PublishPipeline) Enqueue(s *models.Snapshot) {
	if s == nil {
		return
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.drops.RecordPipelineDrop("stopped")
		return
	}
	if len(p.queue) >= p.bufSize {
		dropped := p.queue[0]
		p.queue = p.queue[1:]
		p.drops.RecordPipelineDrop("overflow")
		p.logger.Warn("publish buffer full, dropping oldest snapshot",
			applogger.Uint64("dropped_sequence", dropped.Sequence),
			applogger.Uint64("sequence", s.Sequence),
		)
	}
	p.queue = append(p.queue, s)
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Pending reports how many snapshots wait for delivery.
func (p *PublishPipeline) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Start launches the delivery goroutine.
func (p *PublishPipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started || p.closed {
		p.mu.Unlock()
		return
	}
	p.started = true
	ctx, p.cancel = context.WithCancel(ctx)
	p.mu.Unlock()

	go p.run(ctx)
}

// Stop refuses new snapshots, drains what is buffered and waits for the
// delivery goroutine until ctx expires.
func (p *PublishPipeline) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	started := p.started
	p.mu.Unlock()

	if !started {
		return nil
	}
	select {
	case p.wake <- struct{}{}:
	default:
	}
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		p.cancel()
		<-p.done
		return fmt.Errorf("publish pipeline drain: %w", ctx.Err())
	}
}

func (p *PublishPipeline) run(ctx context.Context) {
	defer close(p.done)
	defer p.cancel()
	for {
		s, closed := p.next()
		if s == nil {
			if closed {
				return
			}
			select {
			case <-p.wake:
				continue
			case <-ctx.Done():
				return
			}
		}
		p.deliver(ctx, s)
	}
}

func (p *PublishPipeline) next() (*models.Snapshot, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) == 0 {
		return nil, p.closed
	}
	s := p.queue[0]
	p.queue[0] = nil
	p.queue = p.queue[1:]
	return s, p.closed
}

func (p *PublishPipeline) deliver(ctx context.Context, s *models.Snapshot) {
	for _, sink := range p.sinks {
		if err := p.deliverOne(ctx, sink, s); err != nil {
			p.drops.RecordPipelineDrop("sink_" + sink.Name())
			p.logger.Error("snapshot delivery failed",
				applogger.String("sink", sink.Name()),
				applogger.Uint64("sequence", s.Sequence),
				applogger.Error(err),
			)
		}
	}
}

func (p *PublishPipeline) deliverOne(ctx context.Context, sink Sink, s *models.Snapshot) (err error) {
	backoff := p.backoffMin
	for attempt := 0; ; attempt++ {
		err = p.attempt(ctx, sink, s)
		if err == nil || attempt >= p.maxRetries || ctx.Err() != nil {
			return err
		}
		p.logger.Debug("snapshot delivery retry",
			applogger.String("sink", sink.Name()),
			applogger.Int("attempt", attempt+1),
			applogger.Error(err),
		)
		if serr := p.sleep(ctx, backoff); serr != nil {
			return err
		}
		if backoff *= 2; backoff > p.backoffMax {
			backoff = p.backoffMax
		}
	}
}

func (p *PublishPipeline) attempt(ctx context.Context, sink Sink, s *models.Snapshot) (err error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink %s panicked: %v", sink.Name(), r)
		}
	}()
	return sink.Deliver(ctx, s)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
