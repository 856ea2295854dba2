package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/pkg/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// promoteScript moves one due retry back to the pending list. The ZREM guard
// keeps two instances from promoting the same member twice.
var promoteScript = redis.NewScript(`
if redis.call('ZREM', KEYS[1], ARGV[1]) == 1 then
	redis.call('LPUSH', KEYS[2], ARGV[1])
	return 1
end
return 0
`)

// RedisQueue is a list-backed job queue: LPUSH/BRPOP for pending messages, a
// sorted set scored by due time for retries and a list for dead letters.
type RedisQueue struct {
	log    *logger.Logger
	cfg    Config
	client *redis.Client

	pendingKey string
	retryKey   string
	deadKey    string

	mu      sync.RWMutex
	jobs    map[string]Job
	running bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type Option func(*RedisQueue)

// WithKeyPrefix namespaces the Redis keys, e.g. "scanner:notify".
func WithKeyPrefix(prefix string) Option {
	return func(r *RedisQueue) { r.setKeys(prefix) }
}

func NewRedisQueue(lgr *logger.Logger, cfg Config, client *redis.Client, opts ...Option) *RedisQueue {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 10 * time.Second
	}
	if cfg.RetryPoll <= 0 {
		cfg.RetryPoll = 5 * time.Second
	}
	if lgr == nil {
		lgr = logger.Nop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &RedisQueue{
		log:    lgr.With(logger.String("component", "queue")),
		cfg:    cfg,
		client: client,
		jobs:   make(map[string]Job),
		ctx:    ctx,
		cancel: cancel,
	}
	r.setKeys("scanner:queue")
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *RedisQueue) setKeys(prefix string) {
	r.pendingKey = prefix + ":pending"
	r.retryKey = prefix + ":retry"
	r.deadKey = prefix + ":dead"
}

// Register binds jobs to their message types. A second job for the same type
// is ignored.
func (r *RedisQueue) Register(jobs ...Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, job := range jobs {
		if _, dup := r.jobs[job.Type()]; dup {
			r.log.Warn("job type already registered", logger.String("type", job.Type()))
			continue
		}
		r.jobs[job.Type()] = job
	}
}

// Start verifies the connection and launches the consumers and the retry
// promoter.
func (r *RedisQueue) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return fmt.Errorf("queue already running")
	}

	ctx, cancel := context.WithTimeout(r.ctx, 5*time.Second)
	defer cancel()
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	r.running = true

	for i := 0; i < r.cfg.Workers; i++ {
		r.wg.Add(1)
		go r.consume(i)
	}
	r.wg.Add(1)
	go r.promoteRetries()

	r.log.Info("queue started",
		logger.Int("workers", r.cfg.Workers),
		logger.Int("job_types", len(r.jobs)),
		logger.String("key", r.pendingKey),
	)
	return nil
}

// Stop cancels the consumers and waits for in-flight handlers up to ctx.
// Messages interrupted by shutdown are pushed back to the pending list.
func (r *RedisQueue) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	r.mu.Unlock()
	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		r.log.Info("queue stopped")
		return nil
	case <-ctx.Done():
		r.log.Warn("queue stop timed out", logger.Error(ctx.Err()))
		return fmt.Errorf("queue stop: %w", ctx.Err())
	}
}

// PublishMessage implements Publisher. The type must have a registered job.
func (r *RedisQueue) PublishMessage(ctx context.Context, msgType string, payload interface{}) error {
	r.mu.RLock()
	running := r.running
	_, known := r.jobs[msgType]
	r.mu.RUnlock()
	if !running {
		return fmt.Errorf("queue not running")
	}
	if !known {
		return fmt.Errorf("no job registered for type %q", msgType)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	data, err := json.Marshal(Message{
		ID:         uuid.NewString(),
		Type:       msgType,
		Payload:    raw,
		EnqueuedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := r.client.LPush(ctx, r.pendingKey, data).Err(); err != nil {
		return fmt.Errorf("lpush %s: %w", r.pendingKey, err)
	}
	return nil
}

func (r *RedisQueue) consume(worker int) {
	defer r.wg.Done()
	for r.ctx.Err() == nil {
		res, err := r.client.BRPop(r.ctx, time.Second, r.pendingKey).Result()
		switch {
		case err == nil:
		case errors.Is(err, redis.Nil), r.ctx.Err() != nil:
			continue
		default:
			r.log.Error("brpop failed", logger.Int("worker", worker), logger.Error(err))
			select {
			case <-time.After(time.Second):
			case <-r.ctx.Done():
			}
			continue
		}
		if len(res) < 2 {
			continue
		}

		var msg Message
		if err := json.Unmarshal([]byte(res[1]), &msg); err != nil {
			r.log.Error("dropping undecodable message", logger.Error(err))
			continue
		}
		r.deliver(msg)
	}
}

func (r *RedisQueue) deliver(msg Message) {
	r.mu.RLock()
	job, ok := r.jobs[msg.Type]
	r.mu.RUnlock()
	if !ok {
		msg.LastError = "no job registered"
		r.deadLetter(msg)
		return
	}

	ctx, cancel := r.jobContext()
	start := time.Now()
	err := job.Handle(ctx, msg.Payload)
	cancel()
	if err == nil {
		r.log.Debug("message handled",
			logger.String("id", msg.ID),
			logger.String("type", msg.Type),
			logger.Duration("elapsed", time.Since(start)),
		)
		return
	}

	if r.ctx.Err() != nil {
		r.requeue(msg)
		return
	}
	r.fail(msg, err)
}

func (r *RedisQueue) jobContext() (context.Context, context.CancelFunc) {
	if r.cfg.JobTimeout > 0 {
		return context.WithTimeout(r.ctx, r.cfg.JobTimeout)
	}
	return context.WithCancel(r.ctx)
}

func (r *RedisQueue) fail(msg Message, err error) {
	msg.Attempts++
	msg.LastError = err.Error()
	if msg.Attempts > r.cfg.RetryLimit {
		r.log.Error("message dead-lettered",
			logger.String("id", msg.ID),
			logger.String("type", msg.Type),
			logger.Int("attempts", msg.Attempts),
			logger.Error(err),
		)
		r.deadLetter(msg)
		return
	}

	due := time.Now().Add(r.cfg.RetryDelay)
	r.log.Warn("message failed, retry scheduled",
		logger.String("id", msg.ID),
		logger.String("type", msg.Type),
		logger.Int("attempts", msg.Attempts),
		logger.Time("due", due),
		logger.Error(err),
	)
	data, merr := json.Marshal(msg)
	if merr != nil {
		r.log.Error("marshal retry", logger.Error(merr))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if zerr := r.client.ZAdd(ctx, r.retryKey, redis.Z{Score: float64(due.UnixMilli()), Member: data}).Err(); zerr != nil {
		r.log.Error("zadd retry", logger.Error(zerr))
	}
}

func (r *RedisQueue) requeue(msg Message) {
	r.push(r.pendingKey, msg)
}

func (r *RedisQueue) deadLetter(msg Message) {
	r.push(r.deadKey, msg)
}

func (r *RedisQueue) push(key string, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		r.log.Error("marshal message", logger.String("key", key), logger.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.client.LPush(ctx, key, data).Err(); err != nil {
		r.log.Error("lpush failed", logger.String("key", key), logger.Error(err))
	}
}

func (r *RedisQueue) promoteRetries() {
	defer r.wg.Done()
	t := time.NewTicker(r.cfg.RetryPoll)
	defer t.Stop()
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-t.C:
			r.promoteDue(time.Now())
		}
	}
}

func (r *RedisQueue) promoteDue(now time.Time) {
	due, err := r.client.ZRangeByScore(r.ctx, r.retryKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		if r.ctx.Err() == nil {
			r.log.Error("read due retries", logger.Error(err))
		}
		return
	}
	for _, member := range due {
		if err := promoteScript.Run(r.ctx, r.client, []string{r.retryKey, r.pendingKey}, member).Err(); err != nil {
			if r.ctx.Err() == nil {
				r.log.Error("promote retry", logger.Error(err))
			}
			return
		}
	}
}

// Stats reports the size of the pending, retry and dead-letter sets.
func (r *RedisQueue) Stats(ctx context.Context) (Stats, error) {
	pipe := r.client.Pipeline()
	p := pipe.LLen(ctx, r.pendingKey)
	rt := pipe.ZCard(ctx, r.retryKey)
	d := pipe.LLen(ctx, r.deadKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return Stats{}, err
	}
	return Stats{Pending: p.Val(), Retry: rt.Val(), Dead: d.Val()}, nil
}

// DeadLetters returns up to n dead-lettered messages, newest first.
func (r *RedisQueue) DeadLetters(ctx context.Context, n int64) ([]Message, error) {
	raw, err := r.client.LRange(ctx, r.deadKey, 0, n-1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Message, 0, len(raw))
	for _, s := range raw {
		var m Message
		if err := json.Unmarshal([]byte(s), &m); err != nil {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}
