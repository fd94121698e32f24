package worker

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnsupportedPlatform = errors.New("worker channels are not supported on this platform")
)

type StartConfig struct {
	// Cmd is the path or name of the binary to execute
	Cmd string

	// Cwd is the working directory in which
	// the binary should be executed
	Cwd string

	// Args is the list of arguments to pass to the command
	Args []string

	// Env is a map of environment variables set on top of
	// the environment of the current process
	Env map[string]string

	// DetachStdin connects the worker's stdin to the null device
	// instead of inheriting it. Workers run in their own process group,
	// reading from a terminal stops them with SIGTTIN.
	DetachStdin bool
}

// CommandLine renders the command for log output.
func (c StartConfig) CommandLine() string {
	return strings.Join(append([]string{c.Cmd}, c.Args...), " ")
}

// ExitEvent describes how the worker process terminated.
type ExitEvent struct {
	// Code is the exit code of the process
	Code *int `json:"code,omitempty"`

	// Signal is the signal that caused the process to exit
	Signal *int `json:"signal,omitempty"`
}

func (e ExitEvent) String() string {
	switch {
	case e.Signal != nil:
		return fmt.Sprintf("signal %d", *e.Signal)
	case e.Code != nil:
		return fmt.Sprintf("code %d", *e.Code)
	default:
		return "unknown status"
	}
}

// ExitCode returns the exit code, or -1 if the process was signalled.
func (e ExitEvent) ExitCode() int {
	if e.Code != nil {
		return *e.Code
	}

	return -1
}
