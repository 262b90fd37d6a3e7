// Package runnable ships ready-made implementations of the supervision
// contract: Func adapts a long-running Go function, Command supervises an OS
// process. Both serialize their own Start/Stop calls as the contract
// requires.
package runnable

import (
	"errors"
	"sync"
)

// ErrAlreadyStarted is returned by Start when an activity is in flight.
var ErrAlreadyStarted = errors.New("runnable already started")

// Func adapts a long-running function into a supervised worker. The function
// receives a stop channel that is closed when Stop is called; it must return
// promptly after that. A non-nil return (or a panic) counts as an abnormal
// exit for the restart policy.
type Func struct {
	name string
	run  func(stop <-chan struct{}) error

	mu     sync.Mutex
	stopCh chan struct{}
	alive  bool
}

// NewFunc wraps run. The name labels the worker when it is added without an
// explicit one.
func NewFunc(name string, run func(stop <-chan struct{}) error) *Func {
	return &Func{name: name, run: run}
}

func (f *Func) Name() string { return f.name }

// Start runs the function on the calling goroutine and blocks until it
// returns.
func (f *Func) Start() error {
	f.mu.Lock()
	if f.alive {
		f.mu.Unlock()
		return ErrAlreadyStarted
	}
	stopCh := make(chan struct{})
	f.stopCh = stopCh
	f.alive = true
	f.mu.Unlock()

	err := f.run(stopCh)

	f.mu.Lock()
	f.alive = false
	f.stopCh = nil
	f.mu.Unlock()
	return err
}

// Stop requests cooperative termination. It is idempotent and safe to call
// when no activity is running.
func (f *Func) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopCh != nil {
		select {
		case <-f.stopCh:
		default:
			close(f.stopCh)
		}
	}
	return nil
}

// Alive reports whether the function is currently executing.
func (f *Func) Alive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive
}
