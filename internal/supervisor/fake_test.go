package supervisor_test

import (
	"context"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/lambda-feedback/hotswap/internal/protocol"
	"github.com/lambda-feedback/hotswap/internal/supervisor"
	"github.com/lambda-feedback/hotswap/internal/worker"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// journal records the order of process operations across all fakes.
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(entry string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, entry)
}

func (j *journal) Entries() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

type fakeProcess struct {
	mu           sync.Mutex
	pid          int
	sent         []protocol.Kind
	signals      []syscall.Signal
	terminated   []syscall.Signal
	terminateErr error
	sendErr      error

	// ignore is a signal the process survives
	ignore syscall.Signal

	done     chan struct{}
	doneOnce sync.Once
	observer worker.Observer
	journal  *journal
}

func (p *fakeProcess) Pid() int { return p.pid }

func (p *fakeProcess) Done() <-chan struct{} { return p.done }

func (p *fakeProcess) Send(kind protocol.Kind) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.sendErr != nil {
		return p.sendErr
	}

	p.sent = append(p.sent, kind)
	return nil
}

func (p *fakeProcess) Signal(sig syscall.Signal) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.signals = append(p.signals, sig)
	return nil
}

func (p *fakeProcess) Terminate(sig syscall.Signal) error {
	p.mu.Lock()
	p.terminated = append(p.terminated, sig)
	err := p.terminateErr
	p.mu.Unlock()

	p.journal.add("terminate")

	if err != nil {
		return err
	}

	select {
	case <-p.done:
		return os.ErrProcessDone
	default:
	}

	if sig == p.ignore {
		return nil
	}

	signo := int(sig)
	p.finish(worker.ExitEvent{Signal: &signo})

	return nil
}

func (p *fakeProcess) Kill() error {
	return p.Terminate(syscall.SIGKILL)
}

// Exit simulates the process exiting on its own.
func (p *fakeProcess) Exit(code int) {
	p.finish(worker.ExitEvent{Code: &code})
}

// Message simulates the worker sending a message.
func (p *fakeProcess) Message(kind protocol.Kind) {
	p.observer.OnMessage(protocol.Message{Kind: kind})
}

func (p *fakeProcess) finish(evt worker.ExitEvent) {
	p.doneOnce.Do(func() {
		close(p.done)
		go p.observer.OnExit(evt)
	})
}

func (p *fakeProcess) Sent() []protocol.Kind {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]protocol.Kind(nil), p.sent...)
}

func (p *fakeProcess) Signals() []syscall.Signal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]syscall.Signal(nil), p.signals...)
}

func (p *fakeProcess) Terminated() []syscall.Signal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]syscall.Signal(nil), p.terminated...)
}

type fakeSpawner struct {
	mu      sync.Mutex
	procs   []*fakeProcess
	configs []worker.StartConfig
	err     error
	journal *journal

	// prepare is applied to each process before it is returned
	prepare func(*fakeProcess)
}

func (f *fakeSpawner) Spawn(
	_ context.Context,
	config worker.StartConfig,
	observer worker.Observer,
	_ *zap.Logger,
) (supervisor.Process, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.journal.add("spawn")

	if f.err != nil {
		return nil, f.err
	}

	p := &fakeProcess{
		pid:      1000 + len(f.procs),
		done:     make(chan struct{}),
		observer: observer,
		journal:  f.journal,
	}

	if f.prepare != nil {
		f.prepare(p)
	}

	f.procs = append(f.procs, p)
	f.configs = append(f.configs, config)

	return p, nil
}

func (f *fakeSpawner) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.procs)
}

func (f *fakeSpawner) Last() *fakeProcess {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.procs[len(f.procs)-1]
}

func (f *fakeSpawner) LastConfig() worker.StartConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.configs[len(f.configs)-1]
}

type reports struct {
	mu   sync.Mutex
	errs []error
}

func (r *reports) Report(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *reports) Errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

type harness struct {
	sup     *supervisor.Supervisor
	spawner *fakeSpawner
	reports *reports
	journal *journal
	cancel  context.CancelFunc
	stopped chan struct{}
}

func startSupervisor(t *testing.T, config supervisor.Config) *harness {
	t.Helper()

	j := &journal{}
	h := &harness{
		spawner: &fakeSpawner{journal: j},
		reports: &reports{},
		journal: j,
		stopped: make(chan struct{}),
	}

	sup, err := supervisor.New(supervisor.Params{
		Config:   config,
		Spawn:    h.spawner.Spawn,
		Reporter: h.reports.Report,
		Log:      zap.NewNop(),
	})
	require.NoError(t, err)

	h.sup = sup

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel

	go func() {
		defer close(h.stopped)
		_ = sup.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		<-h.stopped
	})

	return h
}

func (h *harness) waitState(t *testing.T, state supervisor.State) {
	t.Helper()

	require.Eventually(t, func() bool {
		return h.sup.Status().State == state
	}, 2*time.Second, 5*time.Millisecond, "supervisor never reached state %s", state)
}

func (h *harness) waitReports(t *testing.T, n int) []error {
	t.Helper()

	require.Eventually(t, func() bool {
		return len(h.reports.Errors()) >= n
	}, 2*time.Second, 5*time.Millisecond, "expected %d reports", n)

	return h.reports.Errors()
}

// launchLoaded launches a worker and confirms it loaded.
func (h *harness) launchLoaded(t *testing.T, ref supervisor.ScriptRef) *fakeProcess {
	t.Helper()

	require.NoError(t, h.sup.Launch(context.Background(), ref))

	p := h.spawner.Last()
	p.Message(protocol.Loaded)
	h.waitState(t, supervisor.StateLoaded)

	return p
}

func awaitResult(t *testing.T, ch <-chan supervisor.ReloadResult) supervisor.ReloadResult {
	t.Helper()

	select {
	case res := <-ch:
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("reload session was not resolved")
		return supervisor.ReloadResult{}
	}
}
