// Package supervisor implements an Erlang/OTP-inspired supervision core:
// a Supervisor owns an ordered set of Runnable workers, scans their liveness
// on a monitor interval, and applies a restart strategy when one terminates.
// A sliding-window restart budget guards against restart storms; when it is
// exhausted the supervisor stops itself and cascades the stop to all workers.
// Supervisors satisfy Runnable themselves, so trees compose recursively.
package supervisor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/juju/clock"

	"github.com/loykin/supervisr/internal/history"
	"github.com/loykin/supervisr/internal/metrics"
)

// Supervisor manages the lifecycle of long-running workers and restarts them
// according to the configured strategy when they terminate and their restart
// type calls for it.
//
// All shared state is guarded by mu. The lock is never held across calls to
// a worker's Start or Stop: lifecycle operations snapshot their targets under
// the lock, release it, and then perform the blocking worker calls.
type Supervisor struct {
	name        string
	strategy    Strategy
	interval    time.Duration
	maxRestarts int
	window      time.Duration
	clk         clock.Clock
	log         *slog.Logger
	sinks       []history.Sink

	mu      sync.Mutex
	workers []*entry
	running bool
	stopCh  chan struct{} // created by begin, closed by Stop
	ledger  *restartLedger
}

// Status is a read-only snapshot of a supervisor and its workers. For worker
// entries that are themselves supervisors, Children carries their snapshots.
type Status struct {
	Name         string         `json:"name"`
	Strategy     Strategy       `json:"strategy"`
	Running      bool           `json:"running"`
	RestartCount int            `json:"restart_count"`
	Workers      []WorkerStatus `json:"workers"`
	Children     []Status       `json:"children,omitempty"`
}

type statusReporter interface{ Status() Status }

// New constructs a stopped supervisor. Out-of-range numeric options and
// unknown strategy identifiers fail with an InvalidArgumentError, as do
// invalid enum values on preloaded workers.
func New(name string, opts ...Option) (*Supervisor, error) {
	st := settings{
		strategy:        OneForOne,
		monitorInterval: DefaultMonitorInterval,
		maxRestarts:     DefaultMaxRestarts,
		restartWindow:   DefaultRestartWindow,
	}
	for _, o := range opts {
		o(&st)
	}
	if err := st.validate(); err != nil {
		return nil, err
	}
	if st.clk == nil {
		st.clk = clock.WallClock
	}
	if st.logger == nil {
		st.logger = slog.Default()
	}
	s := &Supervisor{
		name:        name,
		strategy:    st.strategy,
		interval:    st.monitorInterval,
		maxRestarts: st.maxRestarts,
		window:      st.restartWindow,
		clk:         st.clk,
		log:         st.logger,
		sinks:       st.sinks,
		ledger:      newRestartLedger(st.clk, st.maxRestarts, st.restartWindow),
	}
	for _, pw := range st.initial {
		if _, err := s.addPending(pw); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Name returns the supervisor's identifier used in logs, metrics and events.
func (s *Supervisor) Name() string { return s.name }

// Strategy returns the configured restart strategy.
func (s *Supervisor) Strategy() Strategy { return s.strategy }

// MonitorInterval returns the configured liveness scan interval.
func (s *Supervisor) MonitorInterval() time.Duration { return s.interval }

// MaxRestarts returns the configured restart budget.
func (s *Supervisor) MaxRestarts() int { return s.maxRestarts }

// RestartWindow returns the configured sliding budget window.
func (s *Supervisor) RestartWindow() time.Duration { return s.window }

// IsSupervisor marks the supervisor capability for add-time classification.
func (s *Supervisor) IsSupervisor() bool { return true }

// AddWorker registers a worker while the supervisor is stopped. It returns
// the zero WorkerID (and no error) when the worker is not accepted: the
// supervisor is running, or w does not satisfy the Runnable contract.
// Invalid restart-type or kind values fail with an InvalidArgumentError.
func (s *Supervisor) AddWorker(w any, opts ...WorkerOption) (WorkerID, error) {
	pw := pendingWorker{worker: w, restart: Permanent}
	for _, o := range opts {
		o(&pw)
	}
	if s.Running() {
		return "", nil
	}
	return s.addPending(pw)
}

func (s *Supervisor) addPending(pw pendingWorker) (WorkerID, error) {
	r, ok := asRunnable(pw.worker)
	if !ok {
		return "", nil
	}
	if _, err := ParseRestartType(string(pw.restart)); err != nil {
		return "", err
	}
	if pw.kind != "" && pw.kind != KindWorker && pw.kind != KindSupervisor {
		return "", &InvalidArgumentError{Field: "kind", Value: pw.kind}
	}
	kind := pw.kind
	if kind == "" {
		kind = detectKind(r)
	}
	name := pw.name
	if name == "" {
		if sc, ok := r.(interface{ Name() string }); ok {
			name = sc.Name()
		}
	}
	e := &entry{
		id:      newWorkerID(),
		name:    name,
		worker:  r,
		restart: pw.restart,
		kind:    kind,
	}
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return "", nil
	}
	s.workers = append(s.workers, e)
	s.mu.Unlock()
	return e.id, nil
}

// Start transitions the supervisor to RUNNING, launches every worker on its
// own execution plus the monitor loop, then blocks the caller until Stop is
// invoked from elsewhere. It fails with ErrAlreadyRunning on a RUNNING
// supervisor. Start is the blocking half of the Runnable contract, which is
// what makes a supervisor a valid child of another supervisor.
func (s *Supervisor) Start() error {
	stopCh, err := s.begin()
	if err != nil {
		return err
	}
	<-stopCh
	return nil
}

// StartAsync is the non-blocking variant of Start: identical semantics, but
// it returns immediately after the workers and the monitor are launched.
func (s *Supervisor) StartAsync() error {
	_, err := s.begin()
	return err
}

func (s *Supervisor) begin() (chan struct{}, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	s.running = true
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	for _, e := range s.workers {
		s.spawnLocked(e)
	}
	go s.monitor(stopCh)
	s.mu.Unlock()

	s.log.Info("supervisor started", "supervisor", s.name, "strategy", string(s.strategy), "workers", s.Len())
	metrics.SetRunning(s.name, true)
	s.emit(history.EventSupervisorStart, history.Record{Supervisor: s.name})
	return stopCh, nil
}

// spawnLocked launches a fresh execution of e's worker. Callers hold s.mu.
// The worker's Start runs on the new goroutine, not under the lock.
func (s *Supervisor) spawnLocked(e *entry) {
	e.startCount++
	e.lastExit = exitNone
	w := e.worker
	e.exec = spawn(w.Start, func(r exitReason) { s.recordExit(e, r) })
	metrics.IncStart(s.name, e.label())
}

// recordExit is the execution wrapper's completion callback. It runs on the
// worker's goroutine just before the execution is marked dead.
func (s *Supervisor) recordExit(e *entry, r exitReason) {
	s.mu.Lock()
	e.lastExit = r
	s.mu.Unlock()
	metrics.IncExit(s.name, e.label(), r.String())
}

// Stop transitions the supervisor to STOPPED. It terminates the monitor,
// invokes Stop on every worker whose execution is still running, waits for
// those executions to acknowledge, and resets the restart ledger. Stop is
// idempotent: on a STOPPED supervisor it returns immediately with success.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopCh)
	var live []*entry
	var execs []*execution
	for _, e := range s.workers {
		if e.exec != nil {
			if e.exec.Alive() {
				live = append(live, e)
				execs = append(execs, e.exec)
			}
			e.exec = nil
		}
	}
	s.ledger.Reset()
	s.mu.Unlock()

	for _, e := range live {
		if err := e.worker.Stop(); err != nil {
			s.log.Warn("worker stop failed during shutdown", "supervisor", s.name, "worker", e.label(), "error", err)
		}
		metrics.IncStop(s.name, e.label())
	}
	for i, ex := range execs {
		awaitStop(live[i].worker, ex)
	}

	s.log.Info("supervisor stopped", "supervisor", s.name)
	metrics.SetRunning(s.name, false)
	s.emit(history.EventSupervisorStop, history.Record{Supervisor: s.name})
	return nil
}

// awaitStop blocks until the execution finishes. The worker's Stop is
// re-issued periodically to cover a stop that landed before the worker's
// Start had registered it; workers tolerate repeated Stop calls.
func awaitStop(w Runnable, ex *execution) {
	t := time.NewTicker(50 * time.Millisecond)
	defer t.Stop()
	for {
		select {
		case <-ex.done:
			return
		case <-t.C:
			_ = w.Stop()
		}
	}
}

// Alive reports whether the supervisor is running; it is the third leg of
// the Runnable contract.
func (s *Supervisor) Alive() bool { return s.Running() }

// Running reports whether the supervisor state is RUNNING.
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Len returns the number of registered workers.
func (s *Supervisor) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.workers)
}

// CurrentRestartCount returns the number of restart attempts still inside
// the ledger window since the supervisor last started. Stop resets it to 0.
func (s *Supervisor) CurrentRestartCount() int { return s.ledger.Count() }

// Status returns a point-in-time snapshot of the supervisor tree.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	st := Status{
		Name:         s.name,
		Strategy:     s.strategy,
		Running:      s.running,
		RestartCount: s.ledger.Count(),
	}
	var nested []statusReporter
	for _, e := range s.workers {
		st.Workers = append(st.Workers, e.status())
		if e.kind == KindSupervisor {
			if rep, ok := e.worker.(statusReporter); ok {
				nested = append(nested, rep)
			}
		}
	}
	s.mu.Unlock()
	for _, rep := range nested {
		st.Children = append(st.Children, rep.Status())
	}
	return st
}

// emit fans a lifecycle event out to the configured history sinks.
// Sink failures never interrupt supervision.
func (s *Supervisor) emit(t history.EventType, rec history.Record) {
	if len(s.sinks) == 0 {
		return
	}
	evt := history.Event{Type: t, OccurredAt: time.Now().UTC(), Record: rec}
	for _, sink := range s.sinks {
		if err := sink.Send(context.Background(), evt); err != nil {
			s.log.Debug("history sink send failed", "supervisor", s.name, "event", string(t), "error", err)
		}
	}
}
