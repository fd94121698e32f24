package control_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/lambda-feedback/hotswap/internal/control"
	"github.com/lambda-feedback/hotswap/internal/supervisor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type staticStatus supervisor.Status

func (s staticStatus) Status() supervisor.Status {
	return supervisor.Status(s)
}

type countingRestarter struct {
	mu    sync.Mutex
	count int
	err   error
}

func (r *countingRestarter) RestartWorker(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.count++
	return r.err
}

func (r *countingRestarter) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

func startServer(t *testing.T, status control.StatusSource, restarter control.Restarter) string {
	t.Helper()

	socket := filepath.Join(t.TempDir(), "ctl.sock")

	server, err := control.NewServer(control.ServerParams{
		Config:    control.Config{Socket: socket, RestartEvery: time.Hour},
		Status:    status,
		Restarter: restarter,
		Logger:    zap.NewNop(),
	})
	require.NoError(t, err)

	require.NoError(t, server.Listen(context.Background()))
	go server.Serve()

	t.Cleanup(func() { _ = server.Close() })

	return socket
}

func dial(t *testing.T, socket string) *control.Client {
	t.Helper()

	client, err := control.Dial(context.Background(), socket, time.Second, zap.NewNop())
	require.NoError(t, err)

	t.Cleanup(client.Close)

	return client
}

func TestNewServer_RequiresSocket(t *testing.T) {
	_, err := control.NewServer(control.ServerParams{Logger: zap.NewNop()})
	assert.Error(t, err)
}

func TestControl_Status(t *testing.T) {
	status := staticStatus{
		Pid:      os.Getpid(),
		State:    supervisor.StateLoaded,
		Loaded:   supervisor.LoadConfirmed,
		Script:   "/build/server.js",
		Spawns:   2,
		Restarts: 1,
	}

	client := dial(t, startServer(t, status, &countingRestarter{}))

	reply, err := client.Status(context.Background())
	require.NoError(t, err)

	assert.Equal(t, supervisor.StateLoaded, reply.State)
	assert.Equal(t, supervisor.LoadConfirmed, reply.Loaded)
	assert.Equal(t, "/build/server.js", reply.Script)
	assert.Equal(t, 2, reply.Spawns)
	assert.Equal(t, 1, reply.Restarts)

	require.NotNil(t, reply.Usage)
	assert.NotZero(t, reply.Usage.RSS)
}

func TestControl_Status_NoWorker(t *testing.T) {
	client := dial(t, startServer(t, staticStatus{State: supervisor.StateAbsent}, &countingRestarter{}))

	reply, err := client.Status(context.Background())
	require.NoError(t, err)

	assert.False(t, reply.Live())
	assert.Nil(t, reply.Usage)
}

func TestControl_Restart(t *testing.T) {
	restarter := &countingRestarter{}
	client := dial(t, startServer(t, staticStatus{}, restarter))

	require.NoError(t, client.Restart(context.Background()))
	assert.Equal(t, 1, restarter.Count())

	// limited to one restart per hour in tests
	err := client.Restart(context.Background())
	assert.ErrorContains(t, err, control.ErrRateLimited.Error())
	assert.Equal(t, 1, restarter.Count())
}

func TestControl_Restart_Error(t *testing.T) {
	restarter := &countingRestarter{err: assert.AnError}
	client := dial(t, startServer(t, staticStatus{}, restarter))

	err := client.Restart(context.Background())
	assert.ErrorContains(t, err, assert.AnError.Error())
}

func TestDial_NoServer(t *testing.T) {
	socket := filepath.Join(t.TempDir(), "missing.sock")

	_, err := control.Dial(context.Background(), socket, 100*time.Millisecond, zap.NewNop())
	assert.Error(t, err)
}
