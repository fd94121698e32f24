package supervise

import (
	"github.com/lambda-feedback/hotswap/config"
	"github.com/lambda-feedback/hotswap/internal/control"
	"github.com/lambda-feedback/hotswap/internal/server"
	"github.com/lambda-feedback/hotswap/util/logging"
	"go.uber.org/fx"
)

func Module(cfg config.Config) fx.Option {
	// the console owns the terminal
	if cfg.Lifecycle.Restartable && !cfg.Supervisor.Once {
		cfg.Supervisor.DetachStdin = true
	}

	options := []fx.Option{
		// rename logger for module
		logging.DecorateLogger("hotswap"),
		// provide component configs
		fx.Supply(cfg.Supervisor, cfg.Lifecycle, cfg.Manifest),
		// provide supervisor and its event loop
		fx.Provide(NewLifecycleSupervisor),
		// provide build coordinator
		fx.Provide(NewCoordinator),
		// provide manifest watcher
		fx.Provide(NewLifecycleWatcher),
		// start watching builds
		fx.Invoke(func(*Watcher) {}),
		// restart from the console
		fx.Invoke(RegisterConsole),
		// stop after the worker exited, if it runs once
		fx.Invoke(RegisterRunOnce),
	}

	if cfg.Control.Socket != "" {
		options = append(options, control.Module(cfg.Control))
	}

	if cfg.Http.Enabled {
		options = append(options, server.Module(cfg.Http))
	}

	return fx.Module("supervise", options...)
}
