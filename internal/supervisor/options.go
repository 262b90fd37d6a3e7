package supervisor

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/juju/clock"

	"github.com/loykin/supervisr/internal/history"
)

// Defaults applied by New when the corresponding option is absent.
const (
	DefaultMonitorInterval = time.Second
	DefaultMaxRestarts     = 5
	DefaultRestartWindow   = 60 * time.Second
)

// ErrAlreadyRunning is returned by Start on a supervisor that is RUNNING.
var ErrAlreadyRunning = errors.New("supervisor already running")

// InvalidArgumentError reports a bad enum or out-of-range numeric supplied
// at construction or add time.
type InvalidArgumentError struct {
	Field string
	Value any
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Field, e.Value)
}

// Option configures a Supervisor at construction time.
type Option func(*settings)

type settings struct {
	strategy        Strategy
	monitorInterval time.Duration
	maxRestarts     int
	restartWindow   time.Duration
	clk             clock.Clock
	logger          *slog.Logger
	sinks           []history.Sink
	initial         []pendingWorker
}

type pendingWorker struct {
	worker  any
	name    string
	restart RestartType
	kind    Kind // empty means auto-detect
}

// WithStrategy selects the restart strategy (default one_for_one).
func WithStrategy(st Strategy) Option {
	return func(s *settings) { s.strategy = st }
}

// WithMonitorInterval sets the liveness scan interval (default 1s, must be >0).
func WithMonitorInterval(d time.Duration) Option {
	return func(s *settings) { s.monitorInterval = d }
}

// WithMaxRestarts sets the restart budget within the window (default 5, >=0).
func WithMaxRestarts(n int) Option {
	return func(s *settings) { s.maxRestarts = n }
}

// WithRestartWindow sets the sliding budget window (default 60s, >=0).
func WithRestartWindow(d time.Duration) Option {
	return func(s *settings) { s.restartWindow = d }
}

// WithClock injects the clock used by the ledger and the monitor loop.
// Tests use testclock; the default is the wall clock.
func WithClock(clk clock.Clock) Option {
	return func(s *settings) { s.clk = clk }
}

// WithLogger attaches a structured logger for restart and lifecycle events.
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithHistorySinks attaches sinks receiving lifecycle events (best-effort).
func WithHistorySinks(sinks ...history.Sink) Option {
	return func(s *settings) { s.sinks = append(s.sinks, sinks...) }
}

// WithWorker preloads a worker before the supervisor first starts. The
// worker is validated by New exactly as AddWorker would.
func WithWorker(w any, opts ...WorkerOption) Option {
	return func(s *settings) {
		pw := pendingWorker{worker: w, restart: Permanent}
		for _, o := range opts {
			o(&pw)
		}
		s.initial = append(s.initial, pw)
	}
}

// WorkerOption configures a single AddWorker call.
type WorkerOption func(*pendingWorker)

// WithName labels the worker in logs, metrics and history events. Workers
// without a name are labeled by their generated id.
func WithName(name string) WorkerOption {
	return func(pw *pendingWorker) { pw.name = name }
}

// WithRestartType sets the worker's restart type (default permanent).
func WithRestartType(rt RestartType) WorkerOption {
	return func(pw *pendingWorker) { pw.restart = rt }
}

// WithKind overrides the auto-detected worker kind.
func WithKind(k Kind) WorkerOption {
	return func(pw *pendingWorker) { pw.kind = k }
}

func (s *settings) validate() error {
	if _, err := ParseStrategy(string(s.strategy)); err != nil {
		return err
	}
	if s.monitorInterval <= 0 {
		return &InvalidArgumentError{Field: "monitor_interval", Value: s.monitorInterval}
	}
	if s.maxRestarts < 0 {
		return &InvalidArgumentError{Field: "max_restarts", Value: s.maxRestarts}
	}
	if s.restartWindow < 0 {
		return &InvalidArgumentError{Field: "window_seconds", Value: s.restartWindow}
	}
	return nil
}
