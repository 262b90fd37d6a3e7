package supervisor

import (
	"github.com/loykin/supervisr/internal/history"
	"github.com/loykin/supervisr/internal/metrics"
)

// applyPolicy handles one terminated entry. It returns true when the restart
// budget is exhausted, in which case the caller must stop the supervisor.
//
// The decision table for step 1:
//
//	permanent: restart on any exit
//	temporary: never restart
//	transient: restart only on abnormal exit
//
// Ineligible terminations return before the ledger is consulted. Eligible
// ones append to the ledger exactly once, whether or not the strategy then
// restarts anything.
func (s *Supervisor) applyPolicy(e *entry, reason exitReason) bool {
	eligible := false
	switch e.restart {
	case Temporary:
	case Transient:
		eligible = reason == exitAbnormal
	default: // Permanent
		eligible = true
	}
	if !eligible {
		s.retire(e)
		s.log.Debug("worker exit requires no action",
			"supervisor", s.name, "worker", e.label(), "restart", string(e.restart), "reason", reason.String())
		return false
	}

	if s.ledger.Exceeded() {
		s.log.Error("restart budget exhausted, stopping supervisor",
			"supervisor", s.name, "worker", e.label(), "restarts", s.ledger.Count())
		metrics.IncBudgetExhausted(s.name)
		s.emit(history.EventBudgetExhausted, history.Record{Supervisor: s.name, Worker: e.label()})
		return true
	}

	switch s.strategy {
	case OneForAll:
		s.restartAll(e)
	case RestForOne:
		s.restartRest(e)
	default:
		s.restartOne(e)
	}
	s.log.Info("worker restarted",
		"supervisor", s.name, "worker", e.label(), "strategy", string(s.strategy), "reason", reason.String())
	s.emit(history.EventWorkerRestart, history.Record{
		Supervisor: s.name, Worker: e.label(), ExitReason: reason.String(), StartCount: s.startCountOf(e),
	})
	return false
}

// retire clears the dead execution handle of an entry that will not be
// restarted, so later scans stop reporting it.
func (s *Supervisor) retire(e *entry) {
	s.mu.Lock()
	if e.exec != nil && !e.exec.Alive() {
		e.exec = nil
	}
	s.mu.Unlock()
}

func (s *Supervisor) startCountOf(e *entry) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return e.startCount
}

// restartOne applies one_for_one: only the terminated worker is restarted.
// The worker's Stop is called defensively first, in case it is technically
// finished but still holds resources.
func (s *Supervisor) restartOne(e *entry) {
	_ = e.worker.Stop()
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	e.exec = nil
	s.spawnLocked(e)
	s.mu.Unlock()
	metrics.IncRestart(s.name, e.label())
}

// restartAll applies one_for_all: every sibling that is still running is
// stopped and awaited, then every entry is started again in insertion order.
func (s *Supervisor) restartAll(failed *entry) {
	s.mu.Lock()
	targets := make([]*entry, len(s.workers))
	copy(targets, s.workers)
	s.mu.Unlock()

	s.stopAndAwait(targets, failed)

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	for _, e := range targets {
		e.exec = nil
		s.spawnLocked(e)
	}
	s.mu.Unlock()
	for _, e := range targets {
		metrics.IncRestart(s.name, e.label())
	}
}

// restartRest applies rest_for_one: the terminated worker and every worker
// added after it are restarted in insertion order; earlier siblings are not
// touched.
func (s *Supervisor) restartRest(failed *entry) {
	s.mu.Lock()
	idx := -1
	for i, e := range s.workers {
		if e == failed {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return
	}
	targets := make([]*entry, len(s.workers)-idx)
	copy(targets, s.workers[idx:])
	s.mu.Unlock()

	s.stopAndAwait(targets, failed)

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	for _, e := range targets {
		e.exec = nil
		s.spawnLocked(e)
	}
	s.mu.Unlock()
	for _, e := range targets {
		metrics.IncRestart(s.name, e.label())
	}
}

// stopAndAwait stops every target other than the failed one that is still
// running and waits for those executions to finish. Stop errors are
// suppressed; within one policy pass all stops precede any start.
func (s *Supervisor) stopAndAwait(targets []*entry, failed *entry) {
	s.mu.Lock()
	var live []*entry
	var execs []*execution
	for _, e := range targets {
		if e != failed && e.exec != nil && e.exec.Alive() {
			live = append(live, e)
			execs = append(execs, e.exec)
		}
	}
	s.mu.Unlock()

	for _, e := range live {
		if err := e.worker.Stop(); err != nil {
			s.log.Warn("worker stop failed during restart", "supervisor", s.name, "worker", e.label(), "error", err)
		}
		metrics.IncStop(s.name, e.label())
	}
	for i, ex := range execs {
		awaitStop(live[i].worker, ex)
	}
}
