package supervisor

import (
	"sync"
	"time"

	"github.com/juju/clock"
)

// restartLedger is the sliding-window restart budget. It keeps the
// timestamps of recent restart attempts and answers whether max or more
// attempts landed inside the window.
//
// Exceeded appends a stamp on every call, including calls that conclude no
// action is required. That matches the budget accounting this library
// inherited; see DESIGN.md before changing it.
type restartLedger struct {
	mu     sync.Mutex
	clk    clock.Clock
	max    int
	window time.Duration
	stamps []time.Time
}

func newRestartLedger(clk clock.Clock, max int, window time.Duration) *restartLedger {
	return &restartLedger{clk: clk, max: max, window: window}
}

// Exceeded records one restart attempt and reports whether the budget is
// now exhausted: the window holds max or more stamps.
func (l *restartLedger) Exceeded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clk.Now()
	l.stamps = append(l.stamps, now)
	l.purge(now)
	return len(l.stamps) >= l.max
}

// Count returns the number of non-purged restart stamps.
func (l *restartLedger) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.purge(l.clk.Now())
	return len(l.stamps)
}

// Reset discards all stamps.
func (l *restartLedger) Reset() {
	l.mu.Lock()
	l.stamps = l.stamps[:0]
	l.mu.Unlock()
}

// purge drops stamps older than now-window. Callers hold l.mu.
func (l *restartLedger) purge(now time.Time) {
	cutoff := now.Add(-l.window)
	kept := l.stamps[:0]
	for _, ts := range l.stamps {
		if !ts.Before(cutoff) {
			kept = append(kept, ts)
		}
	}
	l.stamps = kept
}
