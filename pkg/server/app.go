package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/internal/engine"
	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/internal/handler/ws"
	mid "github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/internal/middleware"
	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/internal/usecase"
	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/pkg/config"
	xhttp "github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/pkg/http"
	pkgkafka "github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/pkg/kafka"
	applogger "github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/pkg/logger"
	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/pkg/queue"
)

// App encapsulates the entire application lifecycle.
type App struct {
	cfg          *config.Config
	log          *applogger.Logger
	engine       *engine.Engine
	pipeline     *mid.PublishPipeline
	hub          *ws.Hub
	consumer     *pkgkafka.Consumer
	queue        *queue.RedisQueue
	housekeeping *usecase.Housekeeping
	httpServer   *xhttp.Server
}

type Option func(*App)

func WithPipeline(p *mid.PublishPipeline) Option {
	return func(a *App) { a.pipeline = p }
}

func WithHub(h *ws.Hub) Option {
	return func(a *App) { a.hub = h }
}

func WithConsumer(c *pkgkafka.Consumer) Option {
	return func(a *App) { a.consumer = c }
}

func WithQueue(q *queue.RedisQueue) Option {
	return func(a *App) { a.queue = q }
}

func WithHTTPServer(s *xhttp.Server) Option {
	return func(a *App) { a.httpServer = s }
}

func WithHousekeeping(h *usecase.Housekeeping) Option {
	return func(a *App) { a.housekeeping = h }
}

// New creates a new App. Optional components left nil are skipped.
func New(cfg *config.Config, l *applogger.Logger, eng *engine.Engine, opts ...Option) *App {
	if l == nil {
		l = applogger.Nop()
	}
	a := &App{cfg: cfg, log: l, engine: eng}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run starts the application and blocks until SIGINT or SIGTERM.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Start(context.Background()); err != nil {
		a.Shutdown(context.Background())
		return err
	}

	<-ctx.Done()
	a.log.Info("shutdown signal received")
	a.Shutdown(context.Background())
	return nil
}

// Start brings up the snapshot sinks and consumers, then the engine, then HTTP.
func (a *App) Start(ctx context.Context) error {
	if a.pipeline != nil {
		a.pipeline.Start(ctx)
		a.log.Info("publish pipeline started", applogger.Strings("sinks", a.pipeline.Sinks()))
	}

	if a.queue != nil {
		if err := a.queue.Start(); err != nil {
			return err
		}
	}

	if a.consumer != nil {
		go func() {
			if err := a.consumer.Start(); err != nil {
				a.log.Error("kafka consumer error", applogger.Error(err))
			}
		}()
		a.log.Info("kafka control consumer started", applogger.String("topic", a.cfg.Kafka.Topics.Control))
	}

	if a.housekeeping != nil {
		if err := a.housekeeping.Start(); err != nil {
			return err
		}
	}

	if err := a.engine.Start(ctx); err != nil {
		return err
	}

	if a.httpServer != nil {
		if err := a.httpServer.Start(); err != nil {
			a.log.Error("http server start error", applogger.Error(err))
			return err
		}
	}
	return nil
}

// Shutdown stops components in reverse order. The engine gets
// engine.stop_timeout to finish its cycle; the pipeline then drains.
func (a *App) Shutdown(ctx context.Context) {
	a.log.Info("shutting down...")

	if a.httpServer != nil {
		if err := a.httpServer.Stop(ctx); err != nil {
			a.log.Error("http shutdown error", applogger.Error(err))
		}
	}
	if a.hub != nil {
		a.hub.Close()
	}

	stopCtx, cancel := context.WithTimeout(ctx, a.stopTimeout())
	if err := a.engine.Stop(stopCtx); err != nil {
		a.log.Warn("engine stop error", applogger.Error(err))
	}
	cancel()

	if a.housekeeping != nil {
		a.housekeeping.Stop()
	}
	if a.consumer != nil {
		if err := a.consumer.Stop(ctx); err != nil {
			a.log.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}

	if a.pipeline != nil {
		drainCtx, cancel := context.WithTimeout(ctx, a.cfg.Pipeline.Timeout*2)
		if err := a.pipeline.Stop(drainCtx); err != nil {
			a.log.Warn("publish pipeline drain incomplete",
				applogger.Int("pending", a.pipeline.Pending()),
				applogger.Error(err),
			)
		}
		cancel()
	}

	if a.queue != nil {
		queueCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := a.queue.Stop(queueCtx); err != nil {
			a.log.Warn("notification queue stop error", applogger.Error(err))
		}
		cancel()
	}

	a.log.Info("shutdown complete")
}

func (a *App) stopTimeout() time.Duration {
	if a.cfg.Engine.StopTimeout > 0 {
		return a.cfg.Engine.StopTimeout
	}
	return 2 * time.Minute
}
