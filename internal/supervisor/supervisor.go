package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/lambda-feedback/hotswap/internal/protocol"
	"github.com/lambda-feedback/hotswap/internal/worker"
	"go.uber.org/zap"
)

// SpawnFn starts a worker process and delivers its events to observer.
type SpawnFn func(context.Context, worker.StartConfig, worker.Observer, *zap.Logger) (Process, error)

// Reporter receives failures observed asynchronously, e.g. unexpected
// exits or failed terminations.
type Reporter func(error)

type Params struct {
	// Config is the config used to set up the supervisor and its worker.
	Config Config

	// Spawn is a factory function to start a new worker process. This
	// is called whenever the supervisor launches the worker.
	Spawn SpawnFn

	// Reporter receives asynchronous failures. Defaults to logging them.
	Reporter Reporter

	// Metrics records supervisor metrics, if set
	Metrics *Metrics

	// Log is the logger to use for the supervisor
	Log *zap.Logger
}

// Supervisor owns the lifecycle of a single worker process. All state is
// mutated by the loop started with Run; the exported operations are
// executed on that loop.
type Supervisor struct {
	config     Config
	killSignal syscall.Signal
	transport  ReloadTransport
	spawn      SpawnFn
	report     Reporter
	metrics    *Metrics

	events     chan event
	running    atomic.Bool
	stopped    chan struct{}
	finished   chan struct{}
	finishOnce sync.Once

	// owned by the loop
	ctx        context.Context
	handle     *handle
	generation uint64
	sessions   uint64
	session    *session
	spawns     int
	restarts   int
	reloads    int
	lastExit   *worker.ExitEvent

	statusLock sync.RWMutex
	status     Status

	log *zap.Logger
}

// New validates the config and creates a supervisor. Configuration
// problems are reported here, before any process is spawned.
func New(params Params) (*Supervisor, error) {
	if params.Log == nil {
		params.Log = zap.NewNop()
	}

	config := params.Config.withDefaults()

	killSignal, reloadSignal, err := config.validate()
	if err != nil {
		return nil, err
	}

	if params.Spawn == nil {
		params.Spawn = defaultSpawn
	}

	log := params.Log.Named("supervisor")

	if params.Reporter == nil {
		params.Reporter = func(err error) {
			log.Error("worker failure", zap.Error(err))
		}
	}

	return &Supervisor{
		config:     config,
		killSignal: killSignal,
		transport:  newTransport(config.Reload.Mode, reloadSignal),
		spawn:      params.Spawn,
		report:     params.Reporter,
		metrics:    params.Metrics,
		events:     make(chan event, 64),
		stopped:    make(chan struct{}),
		finished:   make(chan struct{}),
		status:     Status{State: StateAbsent, Loaded: LoadUnknown},
		log:        log,
	}, nil
}

// Config returns the effective configuration.
func (s *Supervisor) Config() Config {
	return s.config
}

// CanReload reports whether live workers can be reloaded in place.
func (s *Supervisor) CanReload() bool {
	return s.transport != nil
}

// Status returns a snapshot of the worker state.
func (s *Supervisor) Status() Status {
	s.statusLock.RLock()
	defer s.statusLock.RUnlock()

	return s.status
}

// Finished is closed when supervision ended, either because Run returned
// or because the worker exited under the run-once policy.
func (s *Supervisor) Finished() <-chan struct{} {
	return s.finished
}

// Run processes worker events and operations until ctx is cancelled.
// The worker is stopped before Run returns.
func (s *Supervisor) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("supervisor already running")
	}

	// workers outlive ctx until they have been stopped gracefully,
	// leftovers are killed once the loop returns
	procCtx, cancelProcs := context.WithCancel(context.WithoutCancel(ctx))
	s.ctx = procCtx

	defer close(s.stopped)
	defer cancelProcs()
	defer s.finish()

	s.log.Debug("supervisor started")

	for {
		select {
		case <-ctx.Done():
			s.log.Debug("shutting down")
			// the worker gets time to shut down gracefully before the
			// process context is cancelled, which kills it
			s.stop(max(s.config.StopTimeout, s.config.ShutdownTimeout))
			s.publish()
			return nil

		case evt := <-s.events:
			s.handleEvent(evt)
			s.publish()
		}
	}
}

// EnsureStopped terminates the worker, if one is live. Termination is
// best effort, failures are reported and the handle is cleared anyway.
func (s *Supervisor) EnsureStopped(ctx context.Context) error {
	return s.do(ctx, func() {
		s.ensureStopped()
	})
}

// Launch spawns a worker for ref. It fails if a worker is already live.
func (s *Supervisor) Launch(ctx context.Context, ref ScriptRef) error {
	var err error

	if doErr := s.do(ctx, func() {
		err = s.launch(ref)
	}); doErr != nil {
		return doErr
	}

	return err
}

// Restart stops the live worker, if any, and launches ref. The kill is
// issued before the new process is spawned.
func (s *Supervisor) Restart(ctx context.Context, ref ScriptRef) error {
	var err error

	if doErr := s.do(ctx, func() {
		s.ensureStopped()
		err = s.launch(ref)
	}); doErr != nil {
		return doErr
	}

	return err
}

// RequestReload opens a reload session for the live, loaded worker. The
// returned channel receives exactly one result.
func (s *Supervisor) RequestReload(ctx context.Context) (<-chan ReloadResult, error) {
	var result <-chan ReloadResult
	var err error

	if doErr := s.do(ctx, func() {
		result, err = s.requestReload()
	}); doErr != nil {
		return nil, doErr
	}

	return result, err
}

// MARK: - loop

func (s *Supervisor) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})

	select {
	case s.events <- event{kind: eventCommand, fn: fn, done: done}:
	case <-s.stopped:
		return ErrSupervisorStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-done:
		return nil
	case <-s.stopped:
		return ErrSupervisorStopped
	}
}

func (s *Supervisor) post(evt event) {
	select {
	case s.events <- evt:
	case <-s.stopped:
	}
}

func (s *Supervisor) handleEvent(evt event) {
	switch evt.kind {
	case eventCommand:
		evt.fn()
		// callers observe the status of their own operation
		s.publish()
		close(evt.done)

	case eventExit:
		s.onExit(evt.generation, evt.exit)

	case eventError:
		s.onError(evt.generation, evt.err)

	case eventMessage:
		s.onMessage(evt.generation, evt.message)

	case eventReloadTimeout:
		if s.session != nil && s.session.id == evt.session {
			s.log.Warn("reload timed out", zap.Duration("timeout", s.config.Reload.Timeout))
			s.resolveSession(SessionTimedOut, ErrReloadTimedOut)
		}
	}
}

func (s *Supervisor) current(generation uint64) *handle {
	if s.handle == nil || s.handle.generation != generation {
		return nil
	}

	return s.handle
}

func (s *Supervisor) ensureStopped() {
	s.stop(s.config.StopTimeout)
}

// stop terminates the worker and waits up to timeout for it to exit,
// before it is killed. A zero timeout does not wait.
func (s *Supervisor) stop(timeout time.Duration) {
	h := s.handle
	if h == nil {
		return
	}

	// clear the handle on every path, a failed kill must not leave a
	// worker that is believed to be live
	s.handle = nil

	s.resolveSession(SessionRejected, fmt.Errorf("%w: worker stopped", ErrReloadRejected))

	log := s.log.With(zap.Int("pid", h.proc.Pid()))
	log.Info("killing worker")

	err := h.proc.Terminate(s.killSignal)
	switch {
	case err == nil:
		s.awaitExit(h, timeout, log)
	case errors.Is(err, os.ErrProcessDone):
		log.Debug("worker already exited")
	default:
		s.metrics.terminationFailed()
		s.report(fmt.Errorf("%w: pid %d: %w", ErrTerminationFailed, h.proc.Pid(), err))
	}
}

func (s *Supervisor) awaitExit(h *handle, timeout time.Duration, log *zap.Logger) {
	if timeout <= 0 {
		return
	}

	select {
	case <-h.proc.Done():
		return
	case <-time.After(timeout):
	}

	log.Warn("worker did not exit in time, killing", zap.Duration("timeout", timeout))

	if err := h.proc.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		s.metrics.terminationFailed()
		s.report(fmt.Errorf("%w: pid %d: %w", ErrTerminationFailed, h.proc.Pid(), err))
	}
}

func (s *Supervisor) launch(ref ScriptRef) error {
	if s.handle != nil {
		return ErrWorkerAlreadyStarted
	}

	s.generation++
	generation := s.generation

	config := ref.startConfig(
		s.config.Cwd,
		reloadEnv(s.config.Env, s.config.Reload.Mode, s.config.Reload.Signal),
	)
	config.DetachStdin = s.config.DetachStdin

	s.log.Info("running worker", zap.String("command", config.CommandLine()))

	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}

	proc, err := s.spawn(ctx, config, &observer{s: s, generation: generation}, s.log)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrSpawnFailure, err)
		s.report(err)
		return err
	}

	s.spawns++
	s.metrics.spawned()

	s.handle = &handle{
		generation: generation,
		proc:       proc,
		ref:        ref,
		state:      StateSpawning,
		loaded:     LoadUnknown,
		startedAt:  time.Now(),
	}

	return nil
}

func (s *Supervisor) requestReload() (<-chan ReloadResult, error) {
	h := s.handle

	if s.transport == nil {
		return nil, fmt.Errorf("%w: reloads are disabled", ErrReloadUnavailable)
	}

	if h == nil {
		return nil, fmt.Errorf("%w: no live worker", ErrReloadUnavailable)
	}

	if h.loaded != LoadConfirmed {
		return nil, fmt.Errorf("%w: worker not loaded", ErrReloadUnavailable)
	}

	if s.session != nil {
		return nil, fmt.Errorf("%w: reload in progress", ErrReloadUnavailable)
	}

	s.sessions++
	sess := &session{
		id:         s.sessions,
		generation: h.generation,
		result:     make(chan ReloadResult, 1),
	}

	s.session = sess
	h.state = StateReloadPending

	s.log.Info("requesting reload", zap.Int("pid", h.proc.Pid()))

	delivered, err := s.transport.Request(h.proc)
	if err != nil {
		s.resolveSession(SessionRejected, fmt.Errorf("%w: %w", ErrReloadRejected, err))
		return sess.result, nil
	}

	if delivered {
		s.resolveSession(SessionAcknowledged, nil)
		return sess.result, nil
	}

	id := sess.id
	sess.timer = time.AfterFunc(s.config.Reload.Timeout, func() {
		s.post(event{kind: eventReloadTimeout, session: id})
	})

	return sess.result, nil
}

func (s *Supervisor) resolveSession(state SessionState, err error) {
	sess := s.session
	if sess == nil {
		return
	}

	s.session = nil

	if sess.timer != nil {
		sess.timer.Stop()
	}

	if h := s.current(sess.generation); h != nil && h.state == StateReloadPending {
		h.state = StateLoaded
	}

	if state == SessionAcknowledged {
		s.reloads++
	}

	s.metrics.reloaded(state)

	sess.result <- ReloadResult{State: state, Err: err}
}

// MARK: - observers

func (s *Supervisor) onExit(generation uint64, exit worker.ExitEvent) {
	h := s.current(generation)
	if h == nil {
		s.log.Debug("ignoring exit of stale worker", zap.Stringer("exit", exit))
		return
	}

	s.handle = nil
	s.lastExit = &exit

	s.resolveSession(SessionRejected, fmt.Errorf("%w: worker exited with %s", ErrReloadRejected, exit))

	log := s.log.With(zap.Int("pid", h.proc.Pid()), zap.Stringer("exit", exit))

	if (h.loaded == LoadConfirmed || h.respawn) && !s.config.Once {
		if h.respawn {
			log.Warn("worker could not apply reload, restarting")
		} else {
			log.Warn("worker crashed, restarting")
		}

		s.restarts++
		s.metrics.exited("restarted")

		// the new handle starts unconfirmed, a second crash before
		// it reports loaded is not recovered
		if err := s.launch(h.ref); err != nil {
			log.Error("restart failed", zap.Error(err))
		}

		return
	}

	exitErr := &ExitError{Exit: exit, Loaded: h.loaded == LoadConfirmed}

	if exitErr.ReloadFailed() {
		log.Warn("worker exited because a reload could not be applied")
	}

	s.metrics.exited("unexpected")
	s.report(exitErr)

	if s.config.Once {
		s.finish()
	}
}

func (s *Supervisor) onError(generation uint64, err error) {
	if s.current(generation) == nil {
		return
	}

	s.log.Error("worker error", zap.Error(err))

	s.resolveSession(SessionRejected, fmt.Errorf("%w: %w", ErrReloadRejected, err))
	s.ensureStopped()
}

func (s *Supervisor) onMessage(generation uint64, msg protocol.Message) {
	h := s.current(generation)
	if h == nil {
		return
	}

	log := s.log.With(zap.Int("pid", h.proc.Pid()))

	switch msg.Kind {
	case protocol.Loaded:
		log.Info("worker loaded")

		h.loaded = LoadConfirmed
		if h.state == StateSpawning {
			h.state = StateLoaded
		}

	case protocol.ReloadAck:
		if s.session != nil && s.session.generation == generation {
			log.Info("reload applied")
			s.resolveSession(SessionAcknowledged, nil)
		}

	case protocol.ReloadFail:
		log.Warn("worker could not apply reload")

		wasLoaded := h.loaded == LoadConfirmed
		h.loaded = LoadReloadFailed

		if s.session != nil && s.session.generation == generation {
			// the owner of the session restarts the worker
			s.resolveSession(SessionRejected, ErrReloadRejected)
		} else if wasLoaded {
			// signal reloads are acknowledged on delivery, nobody else
			// learns about the failure
			h.respawn = true
		}

	default:
		log.Debug("ignoring message", zap.String("payload", msg.Raw))
	}
}

type observer struct {
	s          *Supervisor
	generation uint64
}

func (o *observer) OnMessage(msg protocol.Message) {
	o.s.post(event{kind: eventMessage, generation: o.generation, message: msg})
}

func (o *observer) OnError(err error) {
	o.s.post(event{kind: eventError, generation: o.generation, err: err})
}

func (o *observer) OnExit(exit worker.ExitEvent) {
	o.s.post(event{kind: eventExit, generation: o.generation, exit: exit})
}

// MARK: - helpers

func (s *Supervisor) publish() {
	status := Status{
		State:    StateAbsent,
		Loaded:   LoadUnknown,
		Spawns:   s.spawns,
		Restarts: s.restarts,
		Reloads:  s.reloads,
		LastExit: s.lastExit,
	}

	if h := s.handle; h != nil {
		status.Pid = h.proc.Pid()
		status.State = h.state
		status.Loaded = h.loaded
		status.Script = h.ref.Path
		startedAt := h.startedAt
		status.StartedAt = &startedAt
	}

	s.metrics.setLive(s.handle != nil)

	s.statusLock.Lock()
	s.status = status
	s.statusLock.Unlock()
}

func (s *Supervisor) finish() {
	s.finishOnce.Do(func() {
		close(s.finished)
	})
}

func defaultSpawn(
	ctx context.Context,
	config worker.StartConfig,
	observer worker.Observer,
	log *zap.Logger,
) (Process, error) {
	w, err := worker.Start(ctx, config, observer, log)
	if err != nil {
		return nil, err
	}

	return w, nil
}
