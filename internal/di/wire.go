//go:build wireinject
// +build wireinject

package di

import (
	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/pkg/config"
	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, func(), error) {
	wire.Build(
		// Ambient
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure clients
		ProvideKafkaProducer,
		ProvideRedisClient,
		ProvideClickHouseClient,
		ProvideCache,

		// Repositories
		ProvideMarketData,
		ProvideHistoryStore,
		ProvideSnapshotPublisher,

		// Engine and fan-out
		ProvideEngine,
		ProvideTelegramSink,
		ProvideNotificationQueue,
		ProvideNotifier,
		ProvideHub,
		ProvidePublishPipeline,

		// Use cases
		ProvideControlConsumer,
		ProvideHousekeeping,

		// Presentation
		ProvideAPIHandler,
		ProvideHTTPServer,

		ProvideApp,
	)
	return nil, nil, nil
}
