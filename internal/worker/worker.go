package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/lambda-feedback/hotswap/internal/protocol"
	"go.uber.org/zap"
)

// channelDrainTimeout bounds how long the exit event waits for pending
// channel messages after the process is gone. Descendants of the worker
// may keep the channel open; we stop waiting for them.
const channelDrainTimeout = 250 * time.Millisecond

// Observer receives the lifecycle events of a worker process. Callbacks
// are invoked from the worker's goroutines and must not block.
type Observer interface {
	OnMessage(protocol.Message)
	OnError(error)
	OnExit(ExitEvent)
}

// ProcessWorker is a running worker process connected through a
// bidirectional message channel. Standard I/O is inherited.
type ProcessWorker struct {
	pid     int
	done    chan struct{}
	channel *os.File
	encoder *protocol.Encoder

	closeOnce sync.Once

	log *zap.Logger
}

// Start spawns the worker process. Events are delivered to observer until
// the exit event, which is always the last one. Cancelling ctx kills the
// process group.
func Start(
	ctx context.Context,
	config StartConfig,
	observer Observer,
	log *zap.Logger,
) (*ProcessWorker, error) {
	log = log.Named("worker")

	log.With(
		zap.String("command", config.Cmd),
		zap.Strings("args", config.Args),
		zap.String("cwd", config.Cwd),
	).Debug("starting worker process")

	// exit early if the context is already cancelled
	if ctx.Err() != nil {
		return nil, fmt.Errorf("failed to start process: %w", ctx.Err())
	}

	if config.Cmd == "" {
		return nil, errors.New("failed to start process: no command given")
	}

	parentEnd, childEnd, err := newChannel()
	if err != nil {
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	cmd := exec.Command(config.Cmd, config.Args...)
	if !config.DetachStdin {
		cmd.Stdin = os.Stdin
	}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.ExtraFiles = []*os.File{childEnd}
	cmd.Env = buildEnv(os.Environ(), config.Env)

	if config.Cwd != "" {
		cmd.Dir = config.Cwd
	}

	initCmd(cmd)

	err = cmd.Start()

	// the child holds its own copy of the descriptor now
	childEnd.Close()

	if err != nil {
		parentEnd.Close()
		return nil, fmt.Errorf("failed to start process: %w", err)
	}

	w := &ProcessWorker{
		pid:     cmd.Process.Pid,
		done:    make(chan struct{}),
		channel: parentEnd,
		encoder: protocol.NewEncoder(parentEnd),
		log:     log.With(zap.Int("pid", cmd.Process.Pid)),
	}

	readerDone := make(chan struct{})

	// read messages from the channel until it is closed
	go func() {
		defer close(readerDone)
		w.readChannel(observer)
	}()

	// wait for the process to terminate,
	// and send the exit event to the observer
	go func() {
		// block until the process exits
		err := cmd.Wait()

		close(w.done)

		// deliver messages sent right before exiting first
		select {
		case <-readerDone:
		case <-time.After(channelDrainTimeout):
		}

		w.closeChannel()
		<-readerDone

		observer.OnExit(getExitEvent(err))
	}()

	// wait for the context to be cancelled,
	// and terminate the process.
	go func() {
		select {
		case <-w.done:
			// the process has terminated, do nothing
		case <-ctx.Done():
			// kill the process without further ado
			_ = w.Kill()
		}
	}()

	return w, nil
}

func (w *ProcessWorker) readChannel(observer Observer) {
	dec := protocol.NewDecoder(w.channel)

	for {
		msg, err := dec.Decode()
		if err == nil {
			observer.OnMessage(msg)
			continue
		}

		if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
			return
		}

		// the process is gone, read errors are expected
		select {
		case <-w.done:
			return
		default:
		}

		observer.OnError(fmt.Errorf("failed to read from channel: %w", err))
		return
	}
}

func (w *ProcessWorker) closeChannel() {
	w.closeOnce.Do(func() {
		if err := w.channel.Close(); err != nil {
			w.log.Debug("close channel failed", zap.Error(err))
		}
	})
}

// Pid returns the process id of the worker.
func (w *ProcessWorker) Pid() int {
	return w.pid
}

// Done is closed once the process has exited.
func (w *ProcessWorker) Done() <-chan struct{} {
	return w.done
}

// Send writes a message to the worker's channel.
func (w *ProcessWorker) Send(kind protocol.Kind) error {
	select {
	case <-w.done:
		return os.ErrProcessDone
	default:
	}

	return w.encoder.Encode(kind)
}

// Signal sends sig to the worker process only.
func (w *ProcessWorker) Signal(sig syscall.Signal) error {
	select {
	case <-w.done:
		return os.ErrProcessDone
	default:
	}

	return signalProcess(w.pid, sig)
}

// Terminate sends sig to the worker's process group. The method
// returns immediately, without waiting for the process to stop.
func (w *ProcessWorker) Terminate(sig syscall.Signal) error {
	select {
	case <-w.done:
		w.log.Debug("process already terminated")
		return os.ErrProcessDone
	default:
	}

	w.log.Info("sending signal", zap.Stringer("signal", sig))

	return signalGroup(w.pid, sig)
}

// Kill sends SIGKILL to the worker's process group.
func (w *ProcessWorker) Kill() error {
	return w.Terminate(syscall.SIGKILL)
}

// MARK: - Helpers

func buildEnv(base []string, overrides map[string]string) []string {
	env := make([]string, 0, len(base)+len(overrides)+1)

	for _, kv := range base {
		if key, _, ok := strings.Cut(kv, "="); ok {
			if _, overridden := overrides[key]; overridden || key == protocol.EnvChannelFD {
				continue
			}
		}
		env = append(env, kv)
	}

	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		env = append(env, fmt.Sprintf("%s=%s", k, overrides[k]))
	}

	return append(env, protocol.EnvChannelFD+"="+strconv.Itoa(protocol.ChannelFD))
}

func getExitEvent(err error) ExitEvent {
	var cell int
	var exitStatus *int
	var signo *int

	if err == nil {
		// the process exited successfully, set the exit code to 0
		exitStatus = &cell
	} else if exitError, ok := err.(*exec.ExitError); ok {
		// the process exited with an error
		if status, ok := exitError.Sys().(syscall.WaitStatus); ok {
			if status.Signaled() {
				// the process was terminated by a signal
				cell = int(status.Signal())
				signo = &cell
			} else {
				// the process exited with an exit code
				cell = status.ExitStatus()
				exitStatus = &cell
			}
		}
	}

	if signo == nil && exitStatus == nil {
		// could not determine the exit status or signal,
		// set exit status to 1
		cell = 1
		exitStatus = &cell
	}

	return ExitEvent{
		Code:   exitStatus,
		Signal: signo,
	}
}
