package supervisor

import (
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// scriptWorker is a controllable Runnable. The script decides per run how
// the activity behaves; a nil script blocks until Stop and returns nil.
type scriptWorker struct {
	mu     sync.Mutex
	starts int
	stops  int
	alive  bool
	stopCh chan struct{}
	script func(run int, stop <-chan struct{}) error
}

func sleeper() *scriptWorker { return &scriptWorker{} }

// dieOnce terminates its first run with err (nil means a normal exit) and
// sleeps until stopped on every later run.
func dieOnce(err error) *scriptWorker {
	return &scriptWorker{script: func(run int, stop <-chan struct{}) error {
		if run == 1 {
			return err
		}
		<-stop
		return nil
	}}
}

// dieAlways terminates every run immediately with err.
func dieAlways(err error) *scriptWorker {
	return &scriptWorker{script: func(int, <-chan struct{}) error { return err }}
}

func (w *scriptWorker) Start() error {
	w.mu.Lock()
	w.starts++
	run := w.starts
	ch := make(chan struct{})
	w.stopCh = ch
	w.alive = true
	w.mu.Unlock()

	var err error
	if w.script != nil {
		err = w.script(run, ch)
	} else {
		<-ch
	}

	w.mu.Lock()
	w.alive = false
	w.mu.Unlock()
	return err
}

func (w *scriptWorker) Stop() error {
	w.mu.Lock()
	w.stops++
	ch := w.stopCh
	w.mu.Unlock()
	if ch != nil {
		select {
		case <-ch:
		default:
			close(ch)
		}
	}
	return nil
}

func (w *scriptWorker) Alive() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.alive
}

func (w *scriptWorker) counts() (starts, stops int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.starts, w.stops
}

func waitFor(t *testing.T, d time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", msg)
}

const testInterval = 20 * time.Millisecond

func TestDefaults(t *testing.T) {
	s, err := New("defaults")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if got := s.Strategy(); got != OneForOne {
		t.Fatalf("strategy = %q, want %q", got, OneForOne)
	}
	if got := s.MonitorInterval(); got != DefaultMonitorInterval {
		t.Fatalf("monitor interval = %v, want %v", got, DefaultMonitorInterval)
	}
	if got := s.MaxRestarts(); got != DefaultMaxRestarts {
		t.Fatalf("max restarts = %d, want %d", got, DefaultMaxRestarts)
	}
	if got := s.RestartWindow(); got != DefaultRestartWindow {
		t.Fatalf("restart window = %v, want %v", got, DefaultRestartWindow)
	}
	if s.Running() {
		t.Fatalf("new supervisor must be stopped")
	}
	if got := s.Len(); got != 0 {
		t.Fatalf("len = %d, want 0", got)
	}
	if got := s.CurrentRestartCount(); got != 0 {
		t.Fatalf("restart count = %d, want 0", got)
	}
}

func TestConstructionValidation(t *testing.T) {
	cases := []struct {
		name string
		opt  Option
	}{
		{"bad strategy", WithStrategy("one_for_none")},
		{"zero interval", WithMonitorInterval(0)},
		{"negative interval", WithMonitorInterval(-time.Second)},
		{"negative max restarts", WithMaxRestarts(-1)},
		{"negative window", WithRestartWindow(-time.Second)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New("bad", tc.opt)
			var iae *InvalidArgumentError
			if !errors.As(err, &iae) {
				t.Fatalf("err = %v, want InvalidArgumentError", err)
			}
		})
	}
}

func TestAddWorker(t *testing.T) {
	s, err := New("add")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	id, err := s.AddWorker(sleeper())
	if err != nil || id == "" {
		t.Fatalf("add runnable: id=%q err=%v", id, err)
	}
	if got := s.Len(); got != 1 {
		t.Fatalf("len = %d, want 1", got)
	}
}

func TestAddWorkerRejectsNonRunnable(t *testing.T) {
	s, _ := New("reject")
	for _, w := range []any{nil, struct{}{}, 42, "worker"} {
		id, err := s.AddWorker(w)
		if err != nil {
			t.Fatalf("non-runnable add must not error, got %v", err)
		}
		if id != "" {
			t.Fatalf("non-runnable add must return the zero id, got %q", id)
		}
	}
	if got := s.Len(); got != 0 {
		t.Fatalf("len = %d, want 0", got)
	}
}

func TestAddWorkerInvalidEnums(t *testing.T) {
	s, _ := New("enums")
	var iae *InvalidArgumentError
	if _, err := s.AddWorker(sleeper(), WithRestartType("sometimes")); !errors.As(err, &iae) {
		t.Fatalf("bad restart type: err = %v, want InvalidArgumentError", err)
	}
	if _, err := s.AddWorker(sleeper(), WithKind("process")); !errors.As(err, &iae) {
		t.Fatalf("bad kind: err = %v, want InvalidArgumentError", err)
	}
}

func TestAddWorkerWhileRunning(t *testing.T) {
	s, _ := New("add-running", WithMonitorInterval(testInterval))
	if _, err := s.AddWorker(sleeper()); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.StartAsync(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() { _ = s.Stop() }()

	id, err := s.AddWorker(sleeper())
	if err != nil {
		t.Fatalf("add while running must not error, got %v", err)
	}
	if id != "" {
		t.Fatalf("add while running must return the zero id, got %q", id)
	}
	if got := s.Len(); got != 1 {
		t.Fatalf("len = %d, want 1", got)
	}
}

func TestPreloadedWorker(t *testing.T) {
	w := sleeper()
	s, err := New("preload", WithWorker(w, WithRestartType(Transient)))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if got := s.Len(); got != 1 {
		t.Fatalf("len = %d, want 1", got)
	}
	if got := s.Status().Workers[0].Restart; got != Transient {
		t.Fatalf("restart = %q, want %q", got, Transient)
	}
}

func TestAutoClassifyNestedSupervisor(t *testing.T) {
	parent, _ := New("parent")
	child, _ := New("child")
	id, err := parent.AddWorker(child)
	if err != nil || id == "" {
		t.Fatalf("add child: id=%q err=%v", id, err)
	}
	if got := parent.Status().Workers[0].Kind; got != KindSupervisor {
		t.Fatalf("kind = %q, want %q", got, KindSupervisor)
	}
	if _, err := parent.AddWorker(sleeper()); err != nil {
		t.Fatalf("add worker: %v", err)
	}
	if got := parent.Status().Workers[1].Kind; got != KindWorker {
		t.Fatalf("kind = %q, want %q", got, KindWorker)
	}
}

func TestStartAlreadyRunning(t *testing.T) {
	s, _ := New("double", WithMonitorInterval(testInterval))
	if err := s.StartAsync(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() { _ = s.Stop() }()
	if err := s.StartAsync(); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second start: err = %v, want ErrAlreadyRunning", err)
	}
	if err := s.Start(); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("blocking start while running: err = %v, want ErrAlreadyRunning", err)
	}
}

func TestIdempotentStop(t *testing.T) {
	s, _ := New("idempotent")
	if err := s.Stop(); err != nil {
		t.Fatalf("stop on stopped supervisor: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}

func TestBlockingStartUnblocksOnStop(t *testing.T) {
	w := sleeper()
	s, _ := New("blocking", WithWorker(w), WithMonitorInterval(testInterval))

	errCh := make(chan error, 1)
	go func() { errCh <- s.Start() }()

	waitFor(t, time.Second, s.Running, "supervisor running")
	waitFor(t, time.Second, w.Alive, "worker running")

	if err := s.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("blocked start returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("start did not return after stop")
	}
	if w.Alive() {
		t.Fatalf("worker still alive after stop")
	}
}

func TestStopResetsRestartCount(t *testing.T) {
	w := dieOnce(errors.New("boom"))
	s, _ := New("reset", WithWorker(w), WithMonitorInterval(testInterval))

	if err := s.StartAsync(); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool {
		starts, _ := w.counts()
		return starts >= 2
	}, "worker restart")

	if got := s.CurrentRestartCount(); got == 0 {
		t.Fatalf("restart count = 0, want > 0")
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if got := s.CurrentRestartCount(); got != 0 {
		t.Fatalf("restart count after stop = %d, want 0", got)
	}
}

func TestHierarchyStartStop(t *testing.T) {
	leaf := sleeper()
	child, err := New("child", WithWorker(leaf), WithMonitorInterval(testInterval))
	if err != nil {
		t.Fatalf("new child: %v", err)
	}
	parent, err := New("tree", WithWorker(child), WithMonitorInterval(testInterval))
	if err != nil {
		t.Fatalf("new parent: %v", err)
	}

	if err := parent.StartAsync(); err != nil {
		t.Fatalf("start parent: %v", err)
	}
	waitFor(t, time.Second, child.Running, "child supervisor running")
	waitFor(t, time.Second, leaf.Alive, "leaf worker running")

	st := parent.Status()
	if len(st.Children) != 1 || st.Children[0].Name != "child" {
		t.Fatalf("status children = %+v, want nested child snapshot", st.Children)
	}

	if err := parent.Stop(); err != nil {
		t.Fatalf("stop parent: %v", err)
	}
	waitFor(t, time.Second, func() bool { return !child.Running() }, "child supervisor stopped")
	if leaf.Alive() {
		t.Fatalf("leaf worker still alive after parent stop")
	}
}
