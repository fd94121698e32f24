package supervisor

import (
	"syscall"
	"time"

	"github.com/lambda-feedback/hotswap/internal/protocol"
	"github.com/lambda-feedback/hotswap/internal/worker"
)

// Process is a spawned worker process as seen by the supervisor.
type Process interface {
	Pid() int
	Send(protocol.Kind) error
	Signal(syscall.Signal) error
	Terminate(syscall.Signal) error
	Kill() error
	Done() <-chan struct{}
}

// State is the lifecycle state of the worker handle.
type State string

const (
	StateAbsent        State = "absent"
	StateSpawning      State = "spawning"
	StateLoaded        State = "loaded"
	StateReloadPending State = "reload-pending"
)

// LoadState records what the worker reported about its code.
type LoadState string

const (
	LoadUnknown      LoadState = "unknown"
	LoadConfirmed    LoadState = "loaded"
	LoadReloadFailed LoadState = "reload-failed"
)

// SessionState is the outcome of a reload session.
type SessionState string

const (
	SessionRequested    SessionState = "requested"
	SessionAcknowledged SessionState = "acknowledged"
	SessionRejected     SessionState = "rejected"
	SessionTimedOut     SessionState = "timed-out"
)

// ReloadResult resolves a reload session.
type ReloadResult struct {
	State SessionState

	// Err is set for rejected and timed out sessions
	Err error
}

// Status is a snapshot of the supervisor.
type Status struct {
	Pid       int               `json:"pid,omitempty"`
	State     State             `json:"state"`
	Loaded    LoadState         `json:"loaded"`
	Script    string            `json:"script,omitempty"`
	StartedAt *time.Time        `json:"started_at,omitempty"`
	Spawns    int               `json:"spawns"`
	Restarts  int               `json:"restarts"`
	Reloads   int               `json:"reloads"`
	LastExit  *worker.ExitEvent `json:"last_exit,omitempty"`
}

// Live reports whether a worker is currently running.
func (s Status) Live() bool {
	return s.State != StateAbsent
}

type handle struct {
	generation uint64
	proc       Process
	ref        ScriptRef
	state      State
	loaded     LoadState
	startedAt  time.Time

	// respawn relaunches the worker on exit. Set when a loaded worker
	// reports a failed reload outside of a session.
	respawn bool
}

type session struct {
	id         uint64
	generation uint64
	result     chan ReloadResult
	timer      *time.Timer
}

type eventKind int

const (
	eventExit eventKind = iota
	eventError
	eventMessage
	eventReloadTimeout
	eventCommand
)

// event is consumed by the supervisor loop. Process events carry the
// generation of the handle they were observed on.
type event struct {
	kind       eventKind
	generation uint64
	session    uint64

	exit    worker.ExitEvent
	err     error
	message protocol.Message

	fn   func()
	done chan struct{}
}
