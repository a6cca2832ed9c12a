//go:build wireinject
// +build wireinject

// Run `wire gen ./cmd/api` after changing the provider graph.
package main

import (
	"github.com/google/wire"

	"github.com/xiebiao/stockledger/internal/infrastructure/config"
	"github.com/xiebiao/stockledger/internal/interface/http/handler"
	"github.com/xiebiao/stockledger/internal/interface/http/router"
)

var infrastructureSet = wire.NewSet(
	provideLogger,
	provideTracing,
	provideClock,
	provideBackend,
)

var eventSet = wire.NewSet(
	provideSink,
	provideDispatcher,
)

var applicationSet = wire.NewSet(
	providePolicy,
	provideManager,
	provideMonitor,
	provideReaper,
)

var interfaceSet = wire.NewSet(
	handler.NewStockHandler,
	handler.NewReservationHandler,
	provideRouterOptions,
	router.New,
	provideGRPCServer,
)

func InitializeApp(cfg *config.Config) (*App, func(), error) {
	wire.Build(
		infrastructureSet,
		eventSet,
		applicationSet,
		interfaceSet,
		newApp,
	)
	return nil, nil, nil
}
