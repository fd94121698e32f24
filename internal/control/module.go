package control

import (
	"github.com/lambda-feedback/hotswap/internal/lifecycle"
	"github.com/lambda-feedback/hotswap/internal/supervisor"
	"go.uber.org/fx"
)

func Module(config Config) fx.Option {
	return fx.Module("control",
		// provide config
		fx.Supply(config),
		// expose the supervisor and coordinator to the service
		fx.Provide(
			func(s *supervisor.Supervisor) StatusSource { return s },
			func(c *lifecycle.Coordinator) Restarter { return c },
		),
		// provide server
		fx.Provide(NewLifecycleServer),
		// invoke server
		fx.Invoke(func(*Server) {}),
	)
}
