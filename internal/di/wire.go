//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	"VPScalp/pkg/config"
	"VPScalp/pkg/server"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Infrastructure clients
		ProvideKafkaProducer,
		ProvideLogger,
		ProvideMetrics,
		ProvideClickHouseClient,
		ProvideCache,

		// Repositories
		ProvideCandleStore,
		ProvideTradeStore,
		ProvideStateStore,
		ProvideEventPublisher,

		// Collaborators and domain services
		ProvideLimiter,
		ProvideDecisionMaker,
		ProvideExecutor,
		ProvideGate,
		ProvideMachine,

		// Use cases
		ProvideScanner,
		ProvidePositionManager,
		ProvideEngine,
		ProvideMarketStream,
		ProvideCandleCollector,
		ProvideCommandHandler,

		// Transport and application
		ProvideKafkaConsumer,
		ProvideHTTPServer,
		ProvideApp,
	)
	return &server.App{}, nil
}
