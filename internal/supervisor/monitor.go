package supervisor

// monitor is the periodic liveness scanner. It runs on its own goroutine for
// the lifetime of one RUNNING period and performs no user-visible work
// itself: it only observes dead executions and dispatches them to the
// restart policy, in insertion order.
func (s *Supervisor) monitor(stopCh <-chan struct{}) {
	for {
		select {
		case <-stopCh:
			return
		case <-s.clk.After(s.interval):
		}

		s.mu.Lock()
		if !s.running {
			s.mu.Unlock()
			return
		}
		var dead []*entry
		var reasons []exitReason
		for _, e := range s.workers {
			if e.exec != nil && !e.exec.Alive() {
				dead = append(dead, e)
				reasons = append(reasons, e.lastExit)
			}
		}
		s.mu.Unlock()

		for i, e := range dead {
			// A concurrent Stop lets the in-progress entry finish being
			// handled; the next one observes STOPPED here and bails.
			select {
			case <-stopCh:
				return
			default:
			}
			if s.applyPolicy(e, reasons[i]) {
				// Restart budget exhausted: give up and cascade the stop.
				_ = s.Stop()
				return
			}
		}
	}
}
