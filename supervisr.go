package supervisr

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	cfg "github.com/loykin/supervisr/internal/config"
	"github.com/loykin/supervisr/internal/history"
	history_factory "github.com/loykin/supervisr/internal/history/factory"
	"github.com/loykin/supervisr/internal/logger"
	"github.com/loykin/supervisr/internal/metrics"
	"github.com/loykin/supervisr/internal/runnable"
	"github.com/loykin/supervisr/internal/server"
	"github.com/loykin/supervisr/internal/supervisor"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Supervisor = supervisor.Supervisor

type Runnable = supervisor.Runnable

type Strategy = supervisor.Strategy

type RestartType = supervisor.RestartType

type Kind = supervisor.Kind

type WorkerID = supervisor.WorkerID

type Status = supervisor.Status

type WorkerStatus = supervisor.WorkerStatus

type Option = supervisor.Option

type WorkerOption = supervisor.WorkerOption

type HistorySink = history.Sink

const (
	OneForOne  = supervisor.OneForOne
	OneForAll  = supervisor.OneForAll
	RestForOne = supervisor.RestForOne

	Permanent = supervisor.Permanent
	Temporary = supervisor.Temporary
	Transient = supervisor.Transient

	KindWorker     = supervisor.KindWorker
	KindSupervisor = supervisor.KindSupervisor
)

var ErrAlreadyRunning = supervisor.ErrAlreadyRunning

// New constructs a stopped supervisor.
func New(name string, opts ...Option) (*Supervisor, error) {
	return supervisor.New(name, opts...)
}

// Construction options.

func WithStrategy(st Strategy) Option               { return supervisor.WithStrategy(st) }
func WithMonitorInterval(d time.Duration) Option    { return supervisor.WithMonitorInterval(d) }
func WithMaxRestarts(n int) Option                  { return supervisor.WithMaxRestarts(n) }
func WithRestartWindow(d time.Duration) Option      { return supervisor.WithRestartWindow(d) }
func WithLogger(l *slog.Logger) Option              { return supervisor.WithLogger(l) }
func WithHistorySinks(sinks ...HistorySink) Option  { return supervisor.WithHistorySinks(sinks...) }
func WithWorker(w any, opts ...WorkerOption) Option { return supervisor.WithWorker(w, opts...) }
func WithName(name string) WorkerOption             { return supervisor.WithName(name) }
func WithRestartType(rt RestartType) WorkerOption   { return supervisor.WithRestartType(rt) }
func WithKind(k Kind) WorkerOption                  { return supervisor.WithKind(k) }

// Worker adapters.

type FuncWorker = runnable.Func

type CommandWorker = runnable.Command

type CommandSpec = runnable.CommandSpec

type LogRotateConfig = logger.RotateConfig

// NewFuncWorker wraps a long-running function into a supervised worker.
func NewFuncWorker(name string, run func(stop <-chan struct{}) error) *FuncWorker {
	return runnable.NewFunc(name, run)
}

// NewCommandWorker supervises an OS process as a worker.
func NewCommandWorker(spec CommandSpec) *CommandWorker {
	return runnable.NewCommand(spec)
}

// Config loading.

type Config = cfg.Config

type TreeConfig = cfg.TreeConfig

// LoadConfig reads a supervision tree definition from a file.
func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }

// BuildTree constructs the supervisor tree a config describes.
func BuildTree(tc *TreeConfig, log *slog.Logger, sinks []HistorySink) (*Supervisor, error) {
	return cfg.BuildTree(tc, log, sinks)
}

// History sinks.

// NewHistorySinkFromDSN builds a sink from a DSN (sqlite, postgres,
// clickhouse, opensearch).
func NewHistorySinkFromDSN(dsn string) (HistorySink, error) {
	return history_factory.NewSinkFromDSN(dsn)
}

// Metrics helpers (public facade).

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }
func MetricsHandler() http.Handler                  { return metrics.Handler() }

// NewHTTPServer starts an HTTP server exposing the control API for the
// given supervisor.
func NewHTTPServer(addr, basePath string, sup *Supervisor) (*http.Server, error) {
	return server.NewServer(addr, basePath, sup)
}
