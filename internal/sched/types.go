// Package sched runs the recurrence loop: resolve configuration, compute
// the next fire instant, suspend, dispatch child work, repeat up to the
// iteration bound. Long suspensions survive restarts through persisted
// wake instants.
package sched

import (
	"time"

	"recurd/internal/dispatch"
	"recurd/internal/rule"
)

type State int

const (
	StateResolving State = iota
	StateLooping
	StateSuspended
	StateDispatching
	StateDone
)

func (s State) String() string {
	switch s {
	case StateResolving:
		return "resolving"
	case StateLooping:
		return "looping"
	case StateSuspended:
		return "suspended"
	case StateDispatching:
		return "dispatching"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// Request is the resolved schedule configuration. It is written to the
// store exactly once at resolution and never mutated afterwards;
// StartEpoch in particular is never recomputed on resume.
type Request struct {
	Child         string            `json:"child"`
	Rule          rule.Spec         `json:"rule"`
	WaitForChild  bool              `json:"wait_for_child"`
	MaxIterations int               `json:"max_iterations"` // 0 = unbounded
	StartEpoch    int64             `json:"start_epoch"`
	Inputs        map[string]string `json:"inputs,omitempty"`
}

// IterationRecord is the per-pass outcome. It lives in progress notes
// and bus events, not in long-term storage.
type IterationRecord struct {
	Index       int
	ScheduledAt time.Time
	Outcome     dispatch.Outcome
	Note        string
}

// Progress is the durable per-request progress marker.
type Progress struct {
	Iteration int       `json:"iteration"`
	Note      string    `json:"note"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Summary is the terminal report of a run. AwaitingID is set instead of
// the counters when the run only created a detached input request.
// Dispatched counts fire-and-forget launches, whose outcomes the
// scheduler never observes; they are not successes.
type Summary struct {
	RequestID  string
	AwaitingID string
	Iterations int
	Succeeded  int
	Failed     int
	Dispatched int
	Reason     string
}

// SuspendEvent is the bus payload published before each timed suspension.
type SuspendEvent struct {
	RequestID string
	Until     time.Time
	Iteration int
}
