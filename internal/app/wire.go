//go:build wireinject

package app

import (
	"mimic/internal/config"

	"github.com/google/wire"
)

func buildAppWithWire(cfg *config.Config) (*App, func(), error) {
	wire.Build(
		provideLocation,
		provideStore,
		provideBroker,
		provideFeed,
		provideWatchlist,
		provideEngine,
		providePoller,
		provideOrchestrator,
		provideStatusServer,
		newApp,
	)
	return nil, nil, nil
}
