package app

import (
	"github.com/lambda-feedback/hotswap/config"
	"github.com/lambda-feedback/hotswap/internal/shell"
	"github.com/lambda-feedback/hotswap/util/conf"
	"github.com/lambda-feedback/hotswap/util/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v2"
	"go.uber.org/fx"
)

func New(ctx *cli.Context) (*shell.Shell, error) {
	log, err := logging.LoggerFromContext(ctx.Context)
	if err != nil {
		return nil, err
	}

	config, err := conf.GetConfigFromContext[config.Config](ctx.Context)
	if err != nil {
		return nil, err
	}

	sharedModule := fx.Module(
		"shared",
		// provide global config
		fx.Supply(config),
		// provide metrics registry
		fx.Provide(newRegistry),
	)

	return shell.New(log, sharedModule), nil
}

type registryResult struct {
	fx.Out

	Registry   *prometheus.Registry
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
}

func newRegistry() registryResult {
	reg := prometheus.NewRegistry()

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return registryResult{
		Registry:   reg,
		Registerer: reg,
		Gatherer:   reg,
	}
}
