package lifecycle_test

import (
	"context"
	"strings"
	"testing"

	"github.com/lambda-feedback/hotswap/internal/lifecycle"
	"github.com/lambda-feedback/hotswap/internal/locator"
	"github.com/lambda-feedback/hotswap/internal/supervisor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockController struct {
	mock.Mock
}

var _ lifecycle.Controller = (*mockController)(nil)

func (m *mockController) Config() supervisor.Config {
	args := m.Called()
	return args.Get(0).(supervisor.Config)
}

func (m *mockController) CanReload() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *mockController) Status() supervisor.Status {
	args := m.Called()
	return args.Get(0).(supervisor.Status)
}

func (m *mockController) EnsureStopped(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *mockController) Launch(ctx context.Context, ref supervisor.ScriptRef) error {
	args := m.Called(ctx, ref)
	return args.Error(0)
}

func (m *mockController) Restart(ctx context.Context, ref supervisor.ScriptRef) error {
	args := m.Called(ctx, ref)
	return args.Error(0)
}

func (m *mockController) RequestReload(ctx context.Context) (<-chan supervisor.ReloadResult, error) {
	args := m.Called(ctx)
	ch, _ := args.Get(0).(chan supervisor.ReloadResult)
	return ch, args.Error(1)
}

var (
	config = supervisor.Config{
		Entry:           "main",
		Interpreter:     "node",
		InterpreterArgs: []string{"--enable-source-maps"},
		Args:            []string{"--port", "3000"},
	}

	output = locator.Output{
		Path:        "/build",
		Entrypoints: map[string][]string{"main": {"server.js", "server.js.map"}},
	}

	ref = config.ScriptRef("/build/server.js")

	absent  = supervisor.Status{State: supervisor.StateAbsent, Loaded: supervisor.LoadUnknown}
	loaded  = supervisor.Status{State: supervisor.StateLoaded, Loaded: supervisor.LoadConfirmed}
	pending = supervisor.Status{State: supervisor.StateSpawning, Loaded: supervisor.LoadUnknown}
)

func newCoordinator(c lifecycle.Config, sup *mockController) *lifecycle.Coordinator {
	return lifecycle.New(lifecycle.Params{
		Config:     c,
		Supervisor: sup,
		Log:        zap.NewNop(),
	})
}

func resolved(state supervisor.SessionState) chan supervisor.ReloadResult {
	ch := make(chan supervisor.ReloadResult, 1)
	ch <- supervisor.ReloadResult{State: state}
	return ch
}

func TestInvalidate_KeepsWorkerByDefault(t *testing.T) {
	sup := &mockController{}
	c := newCoordinator(lifecycle.Config{}, sup)

	require.NoError(t, c.Invalidate(context.Background()))

	sup.AssertNotCalled(t, "EnsureStopped", mock.Anything)
}

func TestInvalidate_KillOnInvalidate(t *testing.T) {
	sup := &mockController{}
	sup.On("EnsureStopped", mock.Anything).Return(nil)

	c := newCoordinator(lifecycle.Config{KillOnInvalidate: true}, sup)

	require.NoError(t, c.Invalidate(context.Background()))

	sup.AssertExpectations(t)
}

func TestShouldEmit(t *testing.T) {
	c := newCoordinator(lifecycle.Config{}, &mockController{})

	assert.True(t, c.ShouldEmit(output))
	assert.False(t, c.ShouldEmit(locator.Output{Errors: []string{"SyntaxError"}}))
}

func TestArtifactReady_NoWorker_Launches(t *testing.T) {
	sup := &mockController{}
	sup.On("Config").Return(config)
	sup.On("Status").Return(absent)
	sup.On("Launch", mock.Anything, ref).Return(nil)

	c := newCoordinator(lifecycle.Config{}, sup)

	require.NoError(t, c.ArtifactReady(context.Background(), output))

	sup.AssertExpectations(t)
	sup.AssertNotCalled(t, "Restart", mock.Anything, mock.Anything)
}

func TestArtifactReady_UnknownEntry(t *testing.T) {
	sup := &mockController{}
	sup.On("Config").Return(supervisor.Config{Entry: "worker"})

	c := newCoordinator(lifecycle.Config{}, sup)

	err := c.ArtifactReady(context.Background(), output)
	assert.ErrorIs(t, err, locator.ErrUnknownEntry)
	assert.ErrorContains(t, err, "main")

	sup.AssertNotCalled(t, "Launch", mock.Anything, mock.Anything)
}

func TestArtifactReady_LoadedWorker_Reloads(t *testing.T) {
	sup := &mockController{}
	sup.On("Config").Return(config)
	sup.On("Status").Return(loaded)
	sup.On("CanReload").Return(true)
	sup.On("RequestReload", mock.Anything).Return(resolved(supervisor.SessionAcknowledged), nil)

	c := newCoordinator(lifecycle.Config{}, sup)

	require.NoError(t, c.ArtifactReady(context.Background(), output))

	sup.AssertExpectations(t)
	sup.AssertNotCalled(t, "Restart", mock.Anything, mock.Anything)
	sup.AssertNotCalled(t, "EnsureStopped", mock.Anything)
}

func TestArtifactReady_ReloadFails_Restarts(t *testing.T) {
	for _, state := range []supervisor.SessionState{supervisor.SessionRejected, supervisor.SessionTimedOut} {
		t.Run(string(state), func(t *testing.T) {
			sup := &mockController{}
			sup.On("Config").Return(config)
			sup.On("Status").Return(loaded)
			sup.On("CanReload").Return(true)
			sup.On("RequestReload", mock.Anything).Return(resolved(state), nil)
			sup.On("Restart", mock.Anything, ref).Return(nil)

			c := newCoordinator(lifecycle.Config{}, sup)

			require.NoError(t, c.ArtifactReady(context.Background(), output))

			sup.AssertExpectations(t)
		})
	}
}

func TestArtifactReady_ReloadUnavailable_Restarts(t *testing.T) {
	sup := &mockController{}
	sup.On("Config").Return(config)
	sup.On("Status").Return(loaded)
	sup.On("CanReload").Return(true)
	sup.On("RequestReload", mock.Anything).Return(nil, supervisor.ErrReloadUnavailable)
	sup.On("Restart", mock.Anything, ref).Return(nil)

	c := newCoordinator(lifecycle.Config{}, sup)

	require.NoError(t, c.ArtifactReady(context.Background(), output))

	sup.AssertExpectations(t)
}

func TestArtifactReady_NotReloadable_Restarts(t *testing.T) {
	t.Run("reloads disabled", func(t *testing.T) {
		sup := &mockController{}
		sup.On("Config").Return(config)
		sup.On("Status").Return(loaded)
		sup.On("CanReload").Return(false)
		sup.On("Restart", mock.Anything, ref).Return(nil)

		c := newCoordinator(lifecycle.Config{}, sup)

		require.NoError(t, c.ArtifactReady(context.Background(), output))

		sup.AssertExpectations(t)
		sup.AssertNotCalled(t, "RequestReload", mock.Anything)
	})

	t.Run("not loaded", func(t *testing.T) {
		sup := &mockController{}
		sup.On("Config").Return(config)
		sup.On("Status").Return(pending)
		sup.On("Restart", mock.Anything, ref).Return(nil)

		c := newCoordinator(lifecycle.Config{}, sup)

		require.NoError(t, c.ArtifactReady(context.Background(), output))

		sup.AssertExpectations(t)
		sup.AssertNotCalled(t, "RequestReload", mock.Anything)
	})
}

func TestConsole_Disabled(t *testing.T) {
	t.Run("not restartable", func(t *testing.T) {
		sup := &mockController{}
		c := newCoordinator(lifecycle.Config{}, sup)

		require.NoError(t, c.Console(context.Background(), strings.NewReader("rs\n")))

		sup.AssertNotCalled(t, "EnsureStopped", mock.Anything)
	})

	t.Run("run once", func(t *testing.T) {
		sup := &mockController{}
		sup.On("Config").Return(supervisor.Config{Once: true})

		c := newCoordinator(lifecycle.Config{Restartable: true}, sup)

		require.NoError(t, c.Console(context.Background(), strings.NewReader("rs\n")))

		sup.AssertNotCalled(t, "EnsureStopped", mock.Anything)
	})
}

func TestConsole_RestartKeyword_StopsLiveWorker(t *testing.T) {
	sup := &mockController{}
	sup.On("Config").Return(config)
	sup.On("Status").Return(loaded)
	sup.On("EnsureStopped", mock.Anything).Return(nil).Once()

	c := newCoordinator(lifecycle.Config{Restartable: true}, sup)

	require.NoError(t, c.Console(context.Background(), strings.NewReader("hello\n  rs  \nrestart\n")))

	sup.AssertExpectations(t)
	sup.AssertNumberOfCalls(t, "EnsureStopped", 1)
}

func TestConsole_RestartKeyword_LaunchesLastScript(t *testing.T) {
	sup := &mockController{}
	sup.On("Config").Return(config)
	sup.On("Status").Return(absent)
	sup.On("Launch", mock.Anything, ref).Return(nil)

	c := newCoordinator(lifecycle.Config{Restartable: true, RestartKeyword: "again"}, sup)

	// nothing to launch before the first build
	require.NoError(t, c.Console(context.Background(), strings.NewReader("again\n")))
	sup.AssertNotCalled(t, "Launch", mock.Anything, mock.Anything)

	require.NoError(t, c.ArtifactReady(context.Background(), output))
	require.NoError(t, c.Console(context.Background(), strings.NewReader("rs\nagain\n")))

	sup.AssertNumberOfCalls(t, "Launch", 2)
}

func TestRestartWorker(t *testing.T) {
	sup := &mockController{}
	sup.On("Config").Return(config)
	sup.On("Status").Return(absent)
	sup.On("Launch", mock.Anything, ref).Return(nil)
	sup.On("Restart", mock.Anything, ref).Return(nil)

	c := newCoordinator(lifecycle.Config{}, sup)

	assert.ErrorIs(t, c.RestartWorker(context.Background()), lifecycle.ErrNoArtifact)

	require.NoError(t, c.ArtifactReady(context.Background(), output))
	require.NoError(t, c.RestartWorker(context.Background()))

	sup.AssertExpectations(t)
}
