package supervisor

import (
	"errors"
	"fmt"

	"github.com/lambda-feedback/hotswap/internal/protocol"
	"github.com/lambda-feedback/hotswap/internal/worker"
)

var (
	ErrConfiguration        = errors.New("invalid configuration")
	ErrSpawnFailure         = errors.New("failed to spawn worker")
	ErrTerminationFailed    = errors.New("failed to terminate worker")
	ErrUnexpectedExit       = errors.New("worker exited unexpectedly")
	ErrReloadRejected       = errors.New("reload rejected")
	ErrReloadTimedOut       = errors.New("reload timed out")
	ErrReloadUnavailable    = errors.New("reload unavailable")
	ErrWorkerAlreadyStarted = errors.New("worker already started")
	ErrSupervisorStopped    = errors.New("supervisor stopped")
)

// ExitError describes a worker exit that is not recovered automatically.
type ExitError struct {
	Exit worker.ExitEvent

	// Loaded reports whether the worker had confirmed it was loaded
	Loaded bool
}

func (e *ExitError) Error() string {
	if e.ReloadFailed() {
		return fmt.Sprintf("worker exited with %s: reload could not be applied", e.Exit)
	}

	return fmt.Sprintf("worker exited with %s", e.Exit)
}

func (e *ExitError) Is(target error) bool {
	return target == ErrUnexpectedExit
}

// ReloadFailed reports whether the monitor terminated the worker
// deliberately because a reload could not be applied.
func (e *ExitError) ReloadFailed() bool {
	return e.Exit.Code != nil && *e.Exit.Code == protocol.ExitReloadFailed
}
