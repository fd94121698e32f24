package supervise

import (
	"context"
	"errors"
	"os"

	"github.com/getsentry/sentry-go"
	"github.com/lambda-feedback/hotswap/internal/lifecycle"
	"github.com/lambda-feedback/hotswap/internal/supervisor"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type SupervisorParams struct {
	fx.In

	Context context.Context

	Config     supervisor.Config
	Registerer prometheus.Registerer

	Logger *zap.Logger
}

func NewLifecycleSupervisor(params SupervisorParams, lc fx.Lifecycle) (*supervisor.Supervisor, error) {
	sup, err := supervisor.New(supervisor.Params{
		Config:   params.Config,
		Reporter: newReporter(params.Logger),
		Metrics:  supervisor.NewMetrics(params.Registerer),
		Log:      params.Logger,
	})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(params.Context)
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				_ = sup.Run(ctx)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			// stops the worker before returning
			cancel()

			select {
			case <-done:
				return nil
			case <-stopCtx.Done():
				return stopCtx.Err()
			}
		},
	})

	return sup, nil
}

// newReporter logs asynchronous worker failures and forwards them to
// sentry, if it is set up.
func newReporter(log *zap.Logger) supervisor.Reporter {
	return func(err error) {
		var exitErr *supervisor.ExitError

		switch {
		case errors.As(err, &exitErr) && exitErr.ReloadFailed():
			log.Warn("worker exited, reload could not be applied", zap.Error(err))
		case errors.As(err, &exitErr):
			log.Error("worker exited unexpectedly", zap.Error(err))
		default:
			log.Error("worker failure", zap.Error(err))
		}

		sentry.CaptureException(err)
	}
}

type CoordinatorParams struct {
	fx.In

	Config     lifecycle.Config
	Supervisor *supervisor.Supervisor

	Logger *zap.Logger
}

func NewCoordinator(params CoordinatorParams) *lifecycle.Coordinator {
	return lifecycle.New(lifecycle.Params{
		Config:     params.Config,
		Supervisor: params.Supervisor,
		Log:        params.Logger,
	})
}

type ConsoleParams struct {
	fx.In

	Context     context.Context
	Coordinator *lifecycle.Coordinator

	Logger *zap.Logger
}

func RegisterConsole(params ConsoleParams, lc fx.Lifecycle) {
	ctx, cancel := context.WithCancel(params.Context)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				if err := params.Coordinator.Console(ctx, os.Stdin); err != nil {
					params.Logger.Warn("failed to read console", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}

type RunOnceParams struct {
	fx.In

	Supervisor *supervisor.Supervisor
	Shutdowner fx.Shutdowner

	Logger *zap.Logger
}

// RegisterRunOnce shuts the app down once a run-once worker exited,
// with the exit code of the worker.
func RegisterRunOnce(params RunOnceParams, lc fx.Lifecycle) {
	if !params.Supervisor.Config().Once {
		return
	}

	stopped := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				select {
				case <-params.Supervisor.Finished():
				case <-stopped:
					return
				}

				code := 0
				if exit := params.Supervisor.Status().LastExit; exit != nil {
					code = exit.ExitCode()
					if code < 0 {
						code = 1
					}
				}

				params.Logger.Info("worker finished, shutting down", zap.Int("exit_code", code))

				if err := params.Shutdowner.Shutdown(fx.ExitCode(code)); err != nil {
					params.Logger.Error("failed to shut down", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			close(stopped)
			return nil
		},
	})
}
