package supervisor

import "github.com/rs/xid"

// Strategy selects which siblings are affected when one worker terminates.
type Strategy string

const (
	OneForOne  Strategy = "one_for_one"
	OneForAll  Strategy = "one_for_all"
	RestForOne Strategy = "rest_for_one"
)

// ParseStrategy validates a strategy identifier from config or API input.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case OneForOne, OneForAll, RestForOne:
		return Strategy(s), nil
	}
	return "", &InvalidArgumentError{Field: "strategy", Value: s}
}

// RestartType is the per-worker policy deciding whether a given termination
// qualifies for restart.
type RestartType string

const (
	Permanent RestartType = "permanent"
	Temporary RestartType = "temporary"
	Transient RestartType = "transient"
)

// ParseRestartType validates a restart type identifier.
func ParseRestartType(s string) (RestartType, error) {
	switch RestartType(s) {
	case Permanent, Temporary, Transient:
		return RestartType(s), nil
	}
	return "", &InvalidArgumentError{Field: "restart_type", Value: s}
}

// Kind distinguishes plain workers from nested supervisors.
type Kind string

const (
	KindWorker     Kind = "worker"
	KindSupervisor Kind = "supervisor"
)

// WorkerID is the opaque handle returned by AddWorker. The zero value means
// the worker was not accepted.
type WorkerID string

func newWorkerID() WorkerID { return WorkerID(xid.New().String()) }

// entry is the per-worker record owned by exactly one supervisor. All fields
// are guarded by the supervisor's mutex except worker, id, restart and kind,
// which are immutable after add.
type entry struct {
	id      WorkerID
	name    string
	worker  Runnable
	restart RestartType
	kind    Kind

	exec       *execution // nil when not running
	lastExit   exitReason
	startCount int
}

// label identifies the entry in logs, metrics and history events.
func (e *entry) label() string {
	if e.name != "" {
		return e.name
	}
	return string(e.id)
}

// WorkerStatus is a read-only snapshot of one entry, safe to hand out.
type WorkerStatus struct {
	ID         WorkerID    `json:"id"`
	Name       string      `json:"name,omitempty"`
	Kind       Kind        `json:"kind"`
	Restart    RestartType `json:"restart"`
	Alive      bool        `json:"alive"`
	LastExit   string      `json:"last_exit"`
	StartCount int         `json:"start_count"`
}

func (e *entry) status() WorkerStatus {
	return WorkerStatus{
		ID:         e.id,
		Name:       e.name,
		Kind:       e.kind,
		Restart:    e.restart,
		Alive:      e.exec != nil && e.exec.Alive(),
		LastExit:   e.lastExit.String(),
		StartCount: e.startCount,
	}
}
