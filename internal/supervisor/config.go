package supervisor

import (
	"fmt"
	"path/filepath"
	"syscall"
	"time"

	"github.com/lambda-feedback/hotswap/internal/protocol"
	"github.com/lambda-feedback/hotswap/internal/worker"
	"github.com/lambda-feedback/hotswap/util"
)

const (
	DefaultEntry         = "main"
	DefaultKillSignal    = "SIGTERM"
	DefaultReloadSignal  = "SIGUSR2"
	DefaultReloadTimeout = 5 * time.Second

	DefaultShutdownTimeout = 5 * time.Second
)

// ReloadMode selects how the supervisor asks a live worker to reload.
type ReloadMode string

const (
	// ReloadNone disables in-place reloads, every artifact restarts the worker
	ReloadNone ReloadMode = "none"

	// ReloadSignal sends an OS signal to the worker
	ReloadSignal ReloadMode = "signal"

	// ReloadMessage sends a request over the message channel and waits
	// for the worker to acknowledge it
	ReloadMessage ReloadMode = "message"
)

type ReloadConfig struct {
	// Mode is the reload mechanism. It can be "none", "signal" or "message".
	// Default is "message".
	Mode ReloadMode `conf:"mode"`

	// Signal is the signal sent to the worker in signal mode. "true"
	// selects the default signal, SIGUSR2.
	Signal string `conf:"signal"`

	// Timeout bounds the wait for an acknowledgement in message mode.
	Timeout time.Duration `conf:"timeout"`
}

type Config struct {
	// Entry is the name of the build entry to run
	Entry string `conf:"entry"`

	// Interpreter is the program used to run the script. If empty,
	// the script is executed directly.
	Interpreter string `conf:"interpreter"`

	// InterpreterArgs are passed to the interpreter, before the script
	InterpreterArgs []string `conf:"interpreter_args"`

	// Args are passed to the script
	Args []string `conf:"args"`

	// Env is a map of environment variables
	// to set when running the worker
	Env map[string]string `conf:"env"`

	// Cwd is the working directory of the worker
	Cwd string `conf:"cwd"`

	// Once stops supervision when the worker exits, instead of
	// restarting crashed workers
	Once bool `conf:"once"`

	// KillSignal is the signal used to stop the worker
	KillSignal string `conf:"kill_signal"`

	// StopTimeout is the duration to wait for the worker to exit after
	// the kill signal, before it is force killed. Zero does not wait.
	StopTimeout time.Duration `conf:"stop_timeout"`

	// ShutdownTimeout is the duration to wait for the worker to exit
	// when supervision ends, before it is force killed
	ShutdownTimeout time.Duration `conf:"shutdown_timeout"`

	// DetachStdin gives the worker the null device as stdin, e.g. when
	// the console reads the terminal
	DetachStdin bool `conf:"detach_stdin"`

	// Reload configures in-place reloads
	Reload ReloadConfig `conf:"reload"`
}

// withDefaults returns a copy of the config with defaults applied.
func (c Config) withDefaults() Config {
	if c.Entry == "" {
		c.Entry = DefaultEntry
	}

	if c.KillSignal == "" {
		c.KillSignal = DefaultKillSignal
	}

	if c.Reload.Mode == "" {
		c.Reload.Mode = ReloadMessage
	}

	if c.Reload.Mode == ReloadSignal && (c.Reload.Signal == "" || util.Truthy(c.Reload.Signal)) {
		c.Reload.Signal = DefaultReloadSignal
	}

	if c.Reload.Timeout == 0 {
		c.Reload.Timeout = DefaultReloadTimeout
	}

	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}

	c.Args = append([]string(nil), c.Args...)
	c.InterpreterArgs = append([]string(nil), c.InterpreterArgs...)

	env := make(map[string]string, len(c.Env))
	for k, v := range c.Env {
		env[k] = v
	}
	c.Env = env

	return c
}

// validate checks the config and resolves signal names.
func (c Config) validate() (kill syscall.Signal, reload syscall.Signal, err error) {
	if c.StopTimeout < 0 {
		return 0, 0, fmt.Errorf("%w: stop timeout must not be negative", ErrConfiguration)
	}

	if c.ShutdownTimeout < 0 {
		return 0, 0, fmt.Errorf("%w: shutdown timeout must not be negative", ErrConfiguration)
	}

	if c.Reload.Timeout < 0 {
		return 0, 0, fmt.Errorf("%w: reload timeout must not be negative", ErrConfiguration)
	}

	kill, err = protocol.ParseSignal(c.KillSignal)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: kill signal: %w", ErrConfiguration, err)
	}

	switch c.Reload.Mode {
	case ReloadNone, ReloadMessage:
	case ReloadSignal:
		reload, err = protocol.ParseSignal(c.Reload.Signal)
		if err != nil {
			return 0, 0, fmt.Errorf("%w: reload signal: %w", ErrConfiguration, err)
		}
	default:
		return 0, 0, fmt.Errorf("%w: unsupported reload mode %q", ErrConfiguration, c.Reload.Mode)
	}

	return kill, reload, nil
}

// ScriptRef describes how to launch one build of the worker.
type ScriptRef struct {
	// Path is the absolute path of the script
	Path string

	// Interpreter runs the script, if set
	Interpreter string

	// InterpreterArgs are passed to the interpreter
	InterpreterArgs []string

	// Args are passed to the script
	Args []string
}

// ScriptRef captures the launch parameters for the script at path.
func (c Config) ScriptRef(path string) ScriptRef {
	return ScriptRef{
		Path:            filepath.Clean(path),
		Interpreter:     c.Interpreter,
		InterpreterArgs: append([]string(nil), c.InterpreterArgs...),
		Args:            append([]string(nil), c.Args...),
	}
}

func (r ScriptRef) startConfig(cwd string, env map[string]string) worker.StartConfig {
	var cmd string
	var args []string

	if r.Interpreter != "" {
		cmd = r.Interpreter
		args = append(args, r.InterpreterArgs...)
		args = append(args, r.Path)
	} else {
		cmd = r.Path
	}

	args = append(args, r.Args...)

	return worker.StartConfig{
		Cmd:  cmd,
		Cwd:  cwd,
		Args: args,
		Env:  env,
	}
}

func reloadEnv(env map[string]string, mode ReloadMode, signal string) map[string]string {
	merged := make(map[string]string, len(env)+1)
	for k, v := range env {
		merged[k] = v
	}

	if mode == ReloadSignal {
		merged[protocol.EnvReloadSignal] = signal
	}

	return merged
}
