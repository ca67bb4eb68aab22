package sched

import (
	"context"
	"time"

	"recurd/internal/store"
)

// Clock supplies wall-clock time. Injected so tests can pin "now".
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Timer suspends the caller until an instant, honoring cancellation.
type Timer interface {
	SleepUntil(ctx context.Context, at time.Time) error
}

// SleepTimer is the plain in-memory timer. Nothing survives a restart;
// use DurableTimer for suspensions that must.
type SleepTimer struct {
	Clock Clock
}

func (t SleepTimer) SleepUntil(ctx context.Context, at time.Time) error {
	clock := t.Clock
	if clock == nil {
		clock = SystemClock{}
	}
	d := at.Sub(clock.Now())
	if d <= 0 {
		return ctx.Err()
	}
	tmr := time.NewTimer(d)
	defer tmr.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-tmr.C:
		return nil
	}
}

// DurableTimer writes the wake instant to the store before sleeping and
// clears it once awake. A process that dies mid-sleep finds the pending
// instant on restart and re-enters the same suspension instead of
// recomputing a new one.
type DurableTimer struct {
	rs    *store.RequestStore
	id    string
	inner Timer
}

func NewDurableTimer(rs *store.RequestStore, id string, inner Timer) *DurableTimer {
	if inner == nil {
		inner = SleepTimer{}
	}
	return &DurableTimer{rs: rs, id: id, inner: inner}
}

func (t *DurableTimer) SleepUntil(ctx context.Context, at time.Time) error {
	if err := t.rs.SaveWake(t.id, at); err != nil {
		return err
	}
	if err := t.inner.SleepUntil(ctx, at); err != nil {
		return err
	}
	return t.rs.ClearWake(t.id)
}
