package supervisor

import (
	"testing"
	"time"

	"github.com/juju/clock/testclock"
)

func TestLedgerExhaustionWithinWindow(t *testing.T) {
	clk := testclock.NewClock(time.Now())
	l := newRestartLedger(clk, 2, 5*time.Second)

	if l.Exceeded() {
		t.Fatalf("first attempt must not exhaust the budget")
	}
	clk.Advance(500 * time.Millisecond)
	if !l.Exceeded() {
		t.Fatalf("second attempt within the window must exhaust the budget")
	}
}

func TestLedgerSpacedAttemptsNeverExhaust(t *testing.T) {
	clk := testclock.NewClock(time.Now())
	l := newRestartLedger(clk, 3, 8*time.Second)

	for i := 0; i < 10; i++ {
		if l.Exceeded() {
			t.Fatalf("attempt %d: budget exhausted despite 5s spacing", i)
		}
		clk.Advance(5 * time.Second)
	}
}

func TestLedgerPurgesOldStamps(t *testing.T) {
	clk := testclock.NewClock(time.Now())
	l := newRestartLedger(clk, 100, 10*time.Second)

	for i := 0; i < 5; i++ {
		_ = l.Exceeded()
	}
	if got := l.Count(); got != 5 {
		t.Fatalf("count = %d, want 5", got)
	}
	clk.Advance(11 * time.Second)
	if got := l.Count(); got != 0 {
		t.Fatalf("count after window elapsed = %d, want 0", got)
	}
}

func TestLedgerReset(t *testing.T) {
	clk := testclock.NewClock(time.Now())
	l := newRestartLedger(clk, 100, time.Minute)

	_ = l.Exceeded()
	_ = l.Exceeded()
	l.Reset()
	if got := l.Count(); got != 0 {
		t.Fatalf("count after reset = %d, want 0", got)
	}
}

func TestLedgerZeroBudget(t *testing.T) {
	clk := testclock.NewClock(time.Now())
	l := newRestartLedger(clk, 0, time.Minute)

	if !l.Exceeded() {
		t.Fatalf("zero budget must be exhausted on the first attempt")
	}
}
