// Package monitor runs inside a supervised worker and negotiates code
// reloads with the supervisor over the inherited message channel.
//
// A worker program starts the monitor once it has loaded its code:
//
//	m, err := monitor.New(monitor.Options{Runtime: rt})
//	if err != nil {
//		return err
//	}
//	go m.Run(ctx)
package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"

	"github.com/lambda-feedback/hotswap/internal/protocol"
	"go.uber.org/zap"
)

// ExitReloadFailed is the status the worker exits with when an update
// could not be applied.
const ExitReloadFailed = protocol.ExitReloadFailed

type Options struct {
	// Runtime applies updates. Without a runtime, the monitor only
	// reports that the worker loaded.
	Runtime Runtime

	// Channel connects to the supervisor. If nil, the channel is opened
	// from the inherited descriptor, see Connect.
	Channel io.ReadWriter

	// Signal requests a reload, in addition to the channel. If nil, it
	// is taken from the environment set up by the supervisor.
	Signal os.Signal

	// Exit terminates the process. Defaults to os.Exit.
	Exit func(code int)

	// Log is the logger to use for the monitor
	Log *zap.Logger
}

type Monitor struct {
	runtime Runtime
	channel io.ReadWriter
	encoder *protocol.Encoder
	signal  os.Signal
	exit    func(code int)

	// set while a check and apply sequence runs
	busy atomic.Bool

	log *zap.Logger
}

func New(opts Options) (*Monitor, error) {
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}

	log := opts.Log.Named("monitor")

	if opts.Channel == nil {
		channel, err := Connect()
		if err != nil {
			return nil, err
		}

		// the interface must stay nil when there is no channel
		if channel != nil {
			opts.Channel = channel
		}
	}

	if opts.Signal == nil {
		sig, err := signalFromEnv()
		if err != nil {
			return nil, err
		}

		opts.Signal = sig
	}

	if opts.Exit == nil {
		opts.Exit = os.Exit
	}

	m := &Monitor{
		runtime: opts.Runtime,
		channel: opts.Channel,
		signal:  opts.Signal,
		exit:    opts.Exit,
		log:     log,
	}

	if m.channel != nil {
		m.encoder = protocol.NewEncoder(m.channel)
	}

	return m, nil
}

// Connect opens the channel inherited from the supervisor. It returns
// nil if the process is not supervised.
func Connect() (*os.File, error) {
	value, ok := os.LookupEnv(protocol.EnvChannelFD)
	if !ok || value == "" {
		return nil, nil
	}

	fd, err := strconv.Atoi(value)
	if err != nil || fd < 0 {
		return nil, fmt.Errorf("invalid %s: %q", protocol.EnvChannelFD, value)
	}

	return os.NewFile(uintptr(fd), "hotswap-channel"), nil
}

// Run reports the worker as loaded and handles reload requests until
// ctx is cancelled or the supervisor closes the channel.
func (m *Monitor) Run(ctx context.Context) error {
	if m.channel == nil {
		m.log.Debug("not supervised, monitor disabled")
		return nil
	}

	if m.runtime == nil {
		m.log.Debug("live updates not supported, reporting loaded")
		return m.send(protocol.Loaded)
	}

	requests := make(chan struct{}, 1)
	readErr := make(chan error, 1)

	go func() {
		readErr <- m.read(requests)
	}()

	if m.signal != nil {
		signals := make(chan os.Signal, 1)
		signal.Notify(signals, m.signal)
		defer signal.Stop(signals)

		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case <-signals:
					m.log.Debug("received reload signal")
					m.request(requests)
				}
			}
		}()
	}

	m.log.Info("handling live updates")

	if err := m.send(protocol.Loaded); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case err := <-readErr:
			if errors.Is(err, io.EOF) {
				m.log.Debug("channel closed")
				return nil
			}

			return fmt.Errorf("failed to read from channel: %w", err)

		case <-requests:
			m.handleRequest(ctx)
		}
	}
}

func (m *Monitor) read(requests chan<- struct{}) error {
	dec := protocol.NewDecoder(m.channel)

	for {
		msg, err := dec.Decode()
		if err != nil {
			return err
		}

		if msg.Kind != protocol.ReloadRequest {
			m.log.Debug("ignoring message", zap.Stringer("kind", msg.Kind))
			continue
		}

		m.request(requests)
	}
}

// request queues a reload request. A request is dropped if a sequence
// is running or another one is queued already.
func (m *Monitor) request(requests chan<- struct{}) {
	if m.busy.Load() {
		m.log.Debug("reload in progress, ignoring request")
		return
	}

	select {
	case requests <- struct{}{}:
	default:
	}
}

func (m *Monitor) handleRequest(ctx context.Context) {
	if status := m.runtime.Status(); status != StatusIdle {
		m.log.Debug("runtime busy, ignoring request", zap.String("status", string(status)))
		return
	}

	if !m.busy.CompareAndSwap(false, true) {
		return
	}

	go func() {
		defer m.busy.Store(false)

		if err := m.checkAndApply(ctx); err != nil {
			m.fail(err)
			return
		}

		if err := m.send(protocol.ReloadAck); err != nil {
			m.log.Warn("failed to acknowledge reload", zap.Error(err))
		}
	}()
}

// checkAndApply applies updates until none are pending.
func (m *Monitor) checkAndApply(ctx context.Context) error {
	for {
		m.log.Debug("checking for updates")

		pending, err := m.runtime.Check(ctx)
		if err != nil {
			return fmt.Errorf("check failed: %w", err)
		}

		if status := m.runtime.Status(); status.Failed() {
			return fmt.Errorf("check failed with status %s", status)
		}

		if !pending {
			return nil
		}

		if err := m.runtime.Apply(ctx); err != nil {
			return fmt.Errorf("apply failed: %w", err)
		}

		if status := m.runtime.Status(); status.Failed() {
			return fmt.Errorf("apply failed with status %s", status)
		}

		m.log.Debug("updates applied")
	}
}

func (m *Monitor) fail(err error) {
	m.log.Error("reload could not be applied, exiting", zap.Error(err))

	if sendErr := m.send(protocol.ReloadFail); sendErr != nil {
		m.log.Warn("failed to report reload failure", zap.Error(sendErr))
	}

	m.exit(ExitReloadFailed)
}

func (m *Monitor) send(kind protocol.Kind) error {
	if err := m.encoder.Encode(kind); err != nil {
		return fmt.Errorf("failed to send %s: %w", kind, err)
	}

	return nil
}

func signalFromEnv() (os.Signal, error) {
	name := os.Getenv(protocol.EnvReloadSignal)
	if name == "" {
		return nil, nil
	}

	sig, err := protocol.ParseSignal(name)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", protocol.EnvReloadSignal, err)
	}

	return sig, nil
}
