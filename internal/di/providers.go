package di

import (
	"context"
	"fmt"
	"time"

	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/internal/domain/models"
	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/internal/domain/repository"
	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/internal/engine"
	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/internal/handler/api"
	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/internal/handler/ws"
	mid "github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/internal/middleware"
	internalrepo "github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/internal/repository"
	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/internal/scanners"
	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/internal/service/marketdata"
	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/internal/service/notify"
	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/internal/usecase"
	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/pkg/cache"
	pkgch "github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/pkg/clickhouse"
	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/pkg/config"
	xhttp "github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/pkg/http"
	pkgkafka "github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/pkg/kafka"
	applogger "github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/pkg/logger"
	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/pkg/metrics"
	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/pkg/queue"
	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/pkg/server"
	xutil "github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/pkg/util"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

// SeriesCache is the market data cache; housekeeping purges it by prefix.
type SeriesCache interface {
	cache.Service
	Purge(prefix string) int
}

// ProvideLogger builds the process logger from config.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l.With(applogger.String("env", cfg.Environment)), nil
}

// ProvideMetrics registers the scanner collectors on the default registry so
// the Kafka client metrics are exposed alongside them.
func ProvideMetrics() *metrics.Recorder {
	return metrics.New(metrics.WithRegisterer(prometheus.DefaultRegisterer))
}

// ProvideKafkaProducer creates a Kafka producer, or nil when Kafka is disabled.
// When log collection is on, aggregated error digests are shipped through it.
func ProvideKafkaProducer(cfg *config.Config, l *applogger.Logger) (*pkgkafka.Producer, func(), error) {
	if !cfg.Kafka.Enabled {
		return nil, func() {}, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka producer: %w", err)
	}

	if cfg.Log.Collector.Enabled {
		l.AddCollector(&applogger.CollectionConfig{
			TimeInterval:   cfg.Log.Collector.Interval,
			CountThreshold: cfg.Log.Collector.Threshold,
			Topic:          cfg.Kafka.Topics.Logs,
			Publisher:      producer,
		})
	}

	cleanup := func() {
		l.RemoveCollector()
		if err := producer.Close(); err != nil {
			l.Warn("kafka producer close error", applogger.Error(err))
		}
	}
	return producer, cleanup, nil
}

// ProvideRedisClient connects to Redis, or returns nil when it is disabled.
// The cache, the dedup locks and the notification queue share the client.
func ProvideRedisClient(cfg *config.Config, l *applogger.Logger) (*redis.Client, func(), error) {
	if !cfg.Redis.Enabled {
		return nil, func() {}, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis ping %s: %w", cfg.Redis.Addr, err)
	}
	cleanup := func() {
		if err := client.Close(); err != nil {
			l.Warn("redis close error", applogger.Error(err))
		}
	}
	return client, cleanup, nil
}

// ProvideCache returns an in-process cache, layered over Redis when available.
func ProvideCache(cfg *config.Config, rc *redis.Client) (SeriesCache, func()) {
	if rc == nil {
		mc := cache.NewMemoryCache(cache.WithMemoryMaxSize(5000), cache.WithMemoryCleanup(time.Minute))
		return mc, func() { _ = mc.Close() }
	}
	lc := cache.NewLayeredCache(
		cache.NewRedisCacheFromClient(rc, cfg.Redis.Prefix),
		cache.WithLayeredMemorySize(2000),
		cache.WithLayeredMemoryTTL(time.Minute),
	)
	// The Redis client is closed by its own provider.
	return lc, func() {}
}

// ProvideMarketData creates the rate limited, cached market data client.
func ProvideMarketData(cfg *config.Config, c SeriesCache, l *applogger.Logger) repository.MarketDataClient {
	return marketdata.NewClient(
		marketdata.WithBaseURL(cfg.MarketData.BaseURL),
		marketdata.WithHTTPClient(xhttp.NewClient(xhttp.WithTimeout(cfg.MarketData.Timeout))),
		marketdata.WithRateLimit(cfg.MarketData.RatePerSecond, cfg.MarketData.Burst),
		marketdata.WithCache(c, cfg.MarketData.CacheTTL),
		marketdata.WithLogger(l),
	)
}

// ScannerConfigs applies config overrides on top of the scanner defaults.
func ScannerConfigs(cfg *config.Config) ([]models.ScannerConfig, error) {
	out := scanners.DefaultConfigs()
	index := make(map[string]int, len(out))
	for i, c := range out {
		index[c.ID] = i
	}
	for _, s := range cfg.Scanners {
		i, ok := index[s.ID]
		if !ok {
			return nil, fmt.Errorf("scanners: %w: %s", models.ErrUnknownScanner, s.ID)
		}
		c := &out[i]
		if s.Enabled != nil {
			c.Enabled = *s.Enabled
		}
		if s.Timeframe != "" {
			c.Timeframe = models.Timeframe(s.Timeframe)
		}
		if len(s.Parameters) > 0 && c.Parameters == nil {
			c.Parameters = make(map[string]float64, len(s.Parameters))
		}
		for k, v := range s.Parameters {
			c.Parameters[k] = v
		}
	}
	return out, nil
}

// ProvideEngine builds every registered scanner and the engine around them.
func ProvideEngine(cfg *config.Config, data repository.MarketDataClient, rec *metrics.Recorder, l *applogger.Logger) (*engine.Engine, error) {
	configs, err := ScannerConfigs(cfg)
	if err != nil {
		return nil, err
	}
	list, err := scanners.Build(scanners.IDs(), data, l)
	if err != nil {
		return nil, fmt.Errorf("scanners: %w", err)
	}

	universe := cfg.Universe.Symbols
	if len(universe) == 0 {
		universe = marketdata.DefaultUniverse(cfg.Universe.Limit)
	}

	ec := cfg.Engine
	opts := []engine.Option{
		engine.WithInterval(ec.Interval),
		engine.WithWorkers(ec.Workers),
		engine.WithScannerTimeout(ec.ScannerTimeout),
		engine.WithScannerBudget(ec.ScannerBudget),
		engine.WithRetryPolicy(engine.RetryPolicy{
			BaseDelay:   ec.BaseDelay,
			MaxDelay:    ec.MaxDelay,
			MaxAttempts: ec.MaxAttempts,
		}),
		engine.WithRunOnStart(ec.RunOnStart == nil || *ec.RunOnStart),
		engine.WithRecentErrorLimit(ec.RecentErrorLimit),
		engine.WithUniverse(universe),
		engine.WithLogger(l),
		engine.WithMetrics(rec),
	}
	if ec.PauseWhenIdle {
		opts = append(opts, engine.WithPauseWhenIdle(ec.IdleThreshold))
	}
	if ec.MarketHoursOnly {
		opts = append(opts, engine.WithMarketHoursOnly(xutil.NSESession()))
	}

	eng, err := engine.New(list, configs, opts...)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	return eng, nil
}

// ProvideClickHouseClient creates a ClickHouse client, or nil when disabled.
func ProvideClickHouseClient(cfg *config.Config, l *applogger.Logger) (*pkgch.Client, func(), error) {
	if !cfg.ClickHouse.Enabled {
		return nil, func() {}, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(5, 2),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.InitSchema(ctx, []string{
		"CREATE DATABASE IF NOT EXISTS " + cfg.ClickHouse.Database,
	}); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("clickhouse schema: %w", err)
	}

	cleanup := func() {
		if err := client.Close(); err != nil {
			l.Warn("clickhouse close error", applogger.Error(err))
		}
	}
	return client, cleanup, nil
}

// ProvideHistoryStore returns the ClickHouse history store. The result is a
// nil interface when ClickHouse is disabled.
func ProvideHistoryStore(cfg *config.Config, ch *pkgch.Client, l *applogger.Logger) (repository.HistoryStore, error) {
	if ch == nil {
		return nil, nil
	}
	store := internalrepo.NewCHHistoryStore(ch, cfg.ClickHouse.Table, cfg.ClickHouse.TTLDays, l)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("history store: %w", err)
	}
	return store, nil
}

// ProvideSnapshotPublisher returns the Kafka snapshot publisher, or nil.
func ProvideSnapshotPublisher(cfg *config.Config, producer *pkgkafka.Producer) repository.SnapshotPublisher {
	if producer == nil {
		return nil
	}
	return internalrepo.NewKafkaSnapshotPublisher(producer, cfg.Kafka.Topics.Snapshots)
}

// ProvideTelegramSink returns the Bot API client, or nil when Telegram is off.
func ProvideTelegramSink(cfg *config.Config) *notify.TelegramSink {
	if !cfg.Telegram.Enabled {
		return nil
	}
	return notify.NewTelegramSink(cfg.Telegram.BotToken, cfg.Telegram.ChatID,
		notify.WithAPIURL(cfg.Telegram.APIURL),
		notify.WithClient(xhttp.NewClient(xhttp.WithTimeout(cfg.Telegram.Timeout))),
	)
}

// ProvideNotificationQueue returns the Redis job queue that decouples report
// rendering from Telegram delivery. Nil unless delivery is "queue".
func ProvideNotificationQueue(cfg *config.Config, rc *redis.Client, tg *notify.TelegramSink, l *applogger.Logger) *queue.RedisQueue {
	if !cfg.Notifications.Enabled || cfg.Notifications.Delivery != "queue" || rc == nil || tg == nil {
		return nil
	}
	q := queue.NewRedisQueue(l, queue.Config{
		Workers:    cfg.Notifications.Queue.Workers,
		RetryLimit: cfg.Notifications.Queue.RetryLimit,
		RetryDelay: cfg.Notifications.Queue.RetryDelay,
		JobTimeout: cfg.Telegram.Timeout * 2,
	}, rc, queue.WithKeyPrefix(cfg.Redis.Prefix+":notify"))
	q.Register(notify.NewSendJob(tg))
	return q
}

// ProvideNotifier returns the report notifier, or nil when notifications are off.
func ProvideNotifier(cfg *config.Config, tg *notify.TelegramSink, q *queue.RedisQueue, c SeriesCache, rec *metrics.Recorder, l *applogger.Logger) *notify.Notifier {
	if !cfg.Notifications.Enabled || tg == nil {
		return nil
	}
	var sink repository.NotificationSink = tg
	if q != nil {
		sink = notify.NewQueueSink(q)
	}
	return notify.NewNotifier(sink,
		notify.WithRules(notify.DefaultRules()),
		notify.WithDedup(c, cfg.Notifications.DedupWindow),
		notify.WithMinInterval(cfg.Notifications.MinInterval),
		notify.WithRecorder(rec),
		notify.WithLogger(l),
	)
}

// ProvideHub creates the websocket push hub. Connected clients count as
// active sessions for the idle gate.
func ProvideHub(eng *engine.Engine, l *applogger.Logger) *ws.Hub {
	return ws.NewHub(eng.Liveness(), eng, l)
}

// ProvidePublishPipeline fans every published snapshot out to the configured
// sinks and subscribes it to the engine.
func ProvidePublishPipeline(
	cfg *config.Config,
	eng *engine.Engine,
	pub repository.SnapshotPublisher,
	history repository.HistoryStore,
	notifier *notify.Notifier,
	hub *ws.Hub,
	rec *metrics.Recorder,
	l *applogger.Logger,
) *mid.PublishPipeline {
	sinks := []mid.Sink{hub}
	if pub != nil {
		sinks = append(sinks, mid.SinkFunc("kafka", pub.PublishSnapshot))
	}
	if history != nil {
		sinks = append(sinks, mid.SinkFunc("clickhouse", history.StoreCycle))
	}
	if notifier != nil {
		sinks = append(sinks, mid.SinkFunc("telegram", notifier.Notify))
	}

	p := mid.NewPublishPipeline(sinks,
		mid.WithBufferSize(cfg.Pipeline.BufferSize),
		mid.WithRetry(cfg.Pipeline.MaxRetries, cfg.Pipeline.BackoffMin, cfg.Pipeline.BackoffMax),
		mid.WithDeliveryTimeout(cfg.Pipeline.Timeout),
		mid.WithDropRecorder(rec),
		mid.WithPipelineLogger(l),
	)
	eng.OnPublish(p.Enqueue)
	return p
}

// ProvideControlConsumer subscribes the engine to the Kafka control topic, or
// returns nil when Kafka is disabled.
func ProvideControlConsumer(cfg *config.Config, eng *engine.Engine, l *applogger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled || cfg.Kafka.Topics.Control == "" {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(l,
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.WithConsumerHook(pkgkafka.TraceHook())
	consumer.RegisterHandler(usecase.NewControlHandler(cfg.Kafka.Topics.Control, eng, l))
	return consumer, nil
}

// ProvideHousekeeping returns the maintenance scheduler, or nil when disabled.
func ProvideHousekeeping(cfg *config.Config, eng *engine.Engine, c SeriesCache, history repository.HistoryStore, l *applogger.Logger) *usecase.Housekeeping {
	if !cfg.Housekeeping.Enabled {
		return nil
	}
	return usecase.NewHousekeeping(usecase.HousekeepingConfig{
		IdleThreshold:     cfg.Engine.IdleThreshold,
		LivenessEvery:     cfg.Housekeeping.LivenessEvery,
		HistoryCheckEvery: cfg.Housekeeping.HistoryCheckEvery,
		CachePurgeAt:      cfg.Housekeeping.CachePurgeAt,
		CachePrefix:       "series",
	}, eng.Liveness(), c, history, l)
}

// ProvideAPIHandler creates the REST handler.
func ProvideAPIHandler(eng *engine.Engine, history repository.HistoryStore, l *applogger.Logger) *api.ScannerEchoHandler {
	return api.NewScannerEchoHandler(l, eng, history)
}

// ProvideHTTPServer creates the echo server with the REST and websocket routes.
func ProvideHTTPServer(cfg *config.Config, h *api.ScannerEchoHandler, hub *ws.Hub, l *applogger.Logger) *xhttp.Server {
	opts := []xhttp.ServerOption{
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithCORS(true),
		xhttp.WithLogger(l),
	}
	path := ""
	if cfg.Metrics.Enabled {
		path = cfg.Metrics.Path
	}
	opts = append(opts, xhttp.WithMetrics(path, prometheus.DefaultRegisterer, prometheus.DefaultGatherer))
	return xhttp.NewServer([]xhttp.Handler{h, hub}, opts...)
}

// ProvideApp assembles the application lifecycle.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	eng *engine.Engine,
	pipeline *mid.PublishPipeline,
	hub *ws.Hub,
	consumer *pkgkafka.Consumer,
	q *queue.RedisQueue,
	hk *usecase.Housekeeping,
	srv *xhttp.Server,
) *server.App {
	return server.New(cfg, l, eng,
		server.WithPipeline(pipeline),
		server.WithHub(hub),
		server.WithConsumer(consumer),
		server.WithQueue(q),
		server.WithHousekeeping(hk),
		server.WithHTTPServer(srv),
	)
}
