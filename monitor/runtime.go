package monitor

import "context"

// RuntimeStatus is the state of the live update machinery.
type RuntimeStatus string

const (
	StatusIdle    RuntimeStatus = "idle"
	StatusCheck   RuntimeStatus = "check"
	StatusPrepare RuntimeStatus = "prepare"
	StatusReady   RuntimeStatus = "ready"
	StatusDispose RuntimeStatus = "dispose"
	StatusApply   RuntimeStatus = "apply"
	StatusAbort   RuntimeStatus = "abort"
	StatusFail    RuntimeStatus = "fail"
)

// Failed reports whether the status marks a broken update.
func (s RuntimeStatus) Failed() bool {
	return s == StatusAbort || s == StatusFail
}

// Runtime replaces code inside a running worker. Programs that cannot
// swap code in place run the monitor without a runtime.
type Runtime interface {
	// Status returns the current state of the update machinery
	Status() RuntimeStatus

	// Check looks for pending updates and prepares them. It reports
	// whether there is anything to apply.
	Check(ctx context.Context) (bool, error)

	// Apply swaps in the updates prepared by Check
	Apply(ctx context.Context) error
}

// RuntimeFunc adapts plain functions to the Runtime interface. A nil
// status func reports idle.
type RuntimeFunc struct {
	StatusFunc func() RuntimeStatus
	CheckFunc  func(ctx context.Context) (bool, error)
	ApplyFunc  func(ctx context.Context) error
}

func (r RuntimeFunc) Status() RuntimeStatus {
	if r.StatusFunc == nil {
		return StatusIdle
	}

	return r.StatusFunc()
}

func (r RuntimeFunc) Check(ctx context.Context) (bool, error) {
	return r.CheckFunc(ctx)
}

func (r RuntimeFunc) Apply(ctx context.Context) error {
	return r.ApplyFunc(ctx)
}
