package lifecycle

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/lambda-feedback/hotswap/internal/locator"
	"github.com/lambda-feedback/hotswap/internal/supervisor"
	"go.uber.org/zap"
)

const DefaultRestartKeyword = "rs"

var ErrNoArtifact = errors.New("no build completed yet")

// Controller is the part of the supervisor used by the coordinator.
type Controller interface {
	Config() supervisor.Config
	CanReload() bool
	Status() supervisor.Status
	EnsureStopped(ctx context.Context) error
	Launch(ctx context.Context, ref supervisor.ScriptRef) error
	Restart(ctx context.Context, ref supervisor.ScriptRef) error
	RequestReload(ctx context.Context) (<-chan supervisor.ReloadResult, error)
}

var _ Controller = (*supervisor.Supervisor)(nil)

type Config struct {
	// KillOnInvalidate stops the worker as soon as a new build starts,
	// instead of waiting for the artifact to reload it in place
	KillOnInvalidate bool `conf:"kill_on_invalidate"`

	// Restartable enables restarting the worker from the console
	Restartable bool `conf:"restartable"`

	// RestartKeyword is the console input that restarts the worker
	RestartKeyword string `conf:"restart_keyword"`
}

type Params struct {
	Config Config

	Supervisor Controller

	Log *zap.Logger
}

// Coordinator translates build pipeline events into supervisor
// operations.
type Coordinator struct {
	config Config
	sup    Controller

	// serializes artifact handling
	mu      sync.Mutex
	lastRef *supervisor.ScriptRef

	log *zap.Logger
}

func New(params Params) *Coordinator {
	if params.Log == nil {
		params.Log = zap.NewNop()
	}

	if params.Config.RestartKeyword == "" {
		params.Config.RestartKeyword = DefaultRestartKeyword
	}

	return &Coordinator{
		config: params.Config,
		sup:    params.Supervisor,
		log:    params.Log.Named("lifecycle"),
	}
}

// Invalidate is called when a new build started.
func (c *Coordinator) Invalidate(ctx context.Context) error {
	if !c.config.KillOnInvalidate {
		c.log.Debug("build started, keeping worker until the artifact is ready")
		return nil
	}

	c.log.Debug("build started, stopping worker")

	return c.sup.EnsureStopped(ctx)
}

// ShouldEmit vetoes build outputs that carry compile errors.
func (c *Coordinator) ShouldEmit(out locator.Output) bool {
	if len(out.Errors) > 0 {
		c.log.Warn("build has errors, skipping", zap.Int("errors", len(out.Errors)))
		return false
	}

	return true
}

// ArtifactReady brings the worker up to date with out. A live, loaded
// worker is reloaded in place if possible, and restarted otherwise.
func (c *Coordinator) ArtifactReady(ctx context.Context, out locator.Output) error {
	config := c.sup.Config()

	path, err := locator.Resolve(config.Entry, out)
	if err != nil {
		return fmt.Errorf("failed to locate script: %w", err)
	}

	ref := config.ScriptRef(path)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastRef = &ref

	status := c.sup.Status()

	if !status.Live() {
		err := c.sup.Launch(ctx, ref)
		if !errors.Is(err, supervisor.ErrWorkerAlreadyStarted) {
			return err
		}

		// a crashed worker was relaunched in the meantime
		status = c.sup.Status()
	}

	if status.Loaded == supervisor.LoadConfirmed && c.sup.CanReload() {
		if c.reload(ctx) {
			return nil
		}
	}

	c.log.Info("restarting worker", zap.String("script", ref.Path))

	return c.sup.Restart(ctx, ref)
}

// reload reports whether the live worker applied the update in place.
func (c *Coordinator) reload(ctx context.Context) bool {
	result, err := c.sup.RequestReload(ctx)
	if err != nil {
		c.log.Debug("reload not possible", zap.Error(err))
		return false
	}

	select {
	case res := <-result:
		if res.State == supervisor.SessionAcknowledged {
			c.log.Info("worker reloaded")
			return true
		}

		c.log.Warn("reload failed, falling back to restart",
			zap.String("state", string(res.State)),
			zap.Error(res.Err))

		return false

	case <-ctx.Done():
		return false
	}
}

// Console restarts the worker when the restart keyword is read from r.
// It returns once r is exhausted or ctx is cancelled.
func (c *Coordinator) Console(ctx context.Context, r io.Reader) error {
	if !c.config.Restartable || c.sup.Config().Once {
		return nil
	}

	lines := make(chan string)
	scanErr := make(chan error, 1)

	go func() {
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	c.log.Info("type the restart keyword to restart the worker", zap.String("keyword", c.config.RestartKeyword))

	for {
		select {
		case <-ctx.Done():
			return nil

		case err := <-scanErr:
			return err

		case line := <-lines:
			if strings.TrimSpace(line) != c.config.RestartKeyword {
				continue
			}

			if err := c.manualRestart(ctx); err != nil {
				c.log.Error("manual restart failed", zap.Error(err))
			}
		}
	}
}

func (c *Coordinator) manualRestart(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sup.Status().Live() {
		c.log.Info("stopping worker")
		return c.sup.EnsureStopped(ctx)
	}

	if c.lastRef == nil {
		c.log.Warn("nothing to launch, no build completed yet")
		return nil
	}

	c.log.Info("launching worker", zap.String("script", c.lastRef.Path))

	return c.sup.Launch(ctx, *c.lastRef)
}

// RestartWorker restarts the worker with the most recent build.
func (c *Coordinator) RestartWorker(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.lastRef == nil {
		return ErrNoArtifact
	}

	c.log.Info("restarting worker", zap.String("script", c.lastRef.Path))

	return c.sup.Restart(ctx, *c.lastRef)
}
