package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/lambda-feedback/hotswap/internal/locator"
	"go.uber.org/zap"
)

const DefaultDebounce = 100 * time.Millisecond

// Hooks receive build events.
type Hooks interface {
	// Invalidate is called when a new build started
	Invalidate(ctx context.Context) error

	// ShouldEmit may veto a completed build
	ShouldEmit(out locator.Output) bool

	// ArtifactReady is called with every completed, emitted build
	ArtifactReady(ctx context.Context, out locator.Output) error
}

type WatcherConfig struct {
	// Path is the manifest file written by the build tool
	Path string `conf:"path"`

	// Debounce delays handling of changes until writes settled
	Debounce time.Duration `conf:"debounce"`
}

type WatcherParams struct {
	Config WatcherConfig

	Hooks Hooks

	Log *zap.Logger
}

// ManifestWatcher feeds manifest changes to the hooks.
type ManifestWatcher struct {
	path     string
	debounce time.Duration
	hooks    Hooks

	// last handled manifest content, to skip rewrites without changes
	last []byte

	log *zap.Logger
}

func NewManifestWatcher(params WatcherParams) (*ManifestWatcher, error) {
	if params.Config.Path == "" {
		return nil, errors.New("no manifest path given")
	}

	path, err := filepath.Abs(params.Config.Path)
	if err != nil {
		return nil, fmt.Errorf("invalid manifest path: %w", err)
	}

	if params.Config.Debounce <= 0 {
		params.Config.Debounce = DefaultDebounce
	}

	if params.Log == nil {
		params.Log = zap.NewNop()
	}

	return &ManifestWatcher{
		path:     path,
		debounce: params.Config.Debounce,
		hooks:    params.Hooks,
		log:      params.Log.Named("pipeline").With(zap.String("manifest", path)),
	}, nil
}

// Run watches the manifest until ctx is cancelled. An existing manifest
// is handled right away.
func (w *ManifestWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// build tools replace the manifest, watch the directory instead
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch manifest directory: %w", err)
	}

	w.log.Info("watching build manifest")

	w.handle(ctx, false)

	debounce := time.NewTimer(w.debounce)
	debounce.Stop()
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if filepath.Clean(event.Name) != w.path {
				continue
			}

			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}

			w.log.Debug("manifest changed", zap.Stringer("op", event.Op))

			// build starts are handled right away, a build that completes
			// within the debounce window must not hide them
			if w.handle(ctx, true) {
				continue
			}

			// reset timer on each event
			debounce.Reset(w.debounce)

		case <-debounce.C:
			w.handle(ctx, false)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			w.log.Error("file watcher error", zap.Error(err))
		}
	}
}

// handle dispatches the current manifest. With startsOnly set, only a
// started build is dispatched, anything else is left to the debounced
// pass. It reports whether the manifest was dispatched.
func (w *ManifestWatcher) handle(ctx context.Context, startsOnly bool) bool {
	data, err := os.ReadFile(w.path)
	if errors.Is(err, fs.ErrNotExist) {
		w.log.Debug("manifest does not exist yet")
		return false
	} else if err != nil {
		if !startsOnly {
			w.log.Warn("failed to read manifest", zap.Error(err))
		}
		return false
	}

	if string(data) == string(w.last) {
		return false
	}

	manifest, err := ParseManifest(data)
	if err != nil {
		// may be partially written, the debounced pass reports it
		if !startsOnly {
			w.log.Warn("ignoring manifest", zap.Error(err))
		}
		return false
	}

	if startsOnly && manifest.Status != StatusBuilding {
		return false
	}

	w.last = data

	if err := Dispatch(ctx, w.hooks, manifest); err != nil {
		w.log.Error("failed to handle build", zap.Error(err))
	}

	return true
}

// Dispatch calls the hooks matching the manifest status.
func Dispatch(ctx context.Context, hooks Hooks, manifest Manifest) error {
	switch manifest.Status {
	case StatusBuilding:
		return hooks.Invalidate(ctx)

	case StatusDone:
		if !hooks.ShouldEmit(manifest.Output) {
			return nil
		}

		return hooks.ArtifactReady(ctx, manifest.Output)

	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidManifest, manifest.Status)
	}
}
