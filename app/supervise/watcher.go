package supervise

import (
	"context"

	"github.com/lambda-feedback/hotswap/internal/lifecycle"
	"github.com/lambda-feedback/hotswap/internal/pipeline"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Watcher struct {
	*pipeline.ManifestWatcher
}

type WatcherParams struct {
	fx.In

	Context context.Context

	Config      pipeline.WatcherConfig
	Coordinator *lifecycle.Coordinator

	Logger *zap.Logger
}

func NewLifecycleWatcher(params WatcherParams, lc fx.Lifecycle) (*Watcher, error) {
	w, err := pipeline.NewManifestWatcher(pipeline.WatcherParams{
		Config: params.Config,
		Hooks:  params.Coordinator,
		Log:    params.Logger,
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
				if err := w.Run(ctx); err != nil {
					params.Logger.Error("manifest watcher failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()

			select {
			case <-done:
				return nil
			case <-stopCtx.Done():
				return stopCtx.Err()
			}
		},
	})

	return &Watcher{ManifestWatcher: w}, nil
}
