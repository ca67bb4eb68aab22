// Package dispatch hands a single iteration of child work to a Runner,
// with per-attempt timeouts, jittered retry backoff, and rate limiting.
// A failed child is reported, never propagated as a crash: the caller
// gets a Result and decides whether the loop goes on.
package dispatch

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/time/rate"

	"recurd/internal/eventbus"
	"recurd/pkg/logx"
)

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
	OutcomeSkipped Outcome = "skipped"
	// OutcomeDispatched marks fire-and-forget launches whose verdict the
	// caller never observes.
	OutcomeDispatched Outcome = "dispatched"
)

// ChildError reports a child execution failure without implicating the
// schedule around it.
type ChildError struct {
	Name   string
	Reason string
	cause  error
}

func (e *ChildError) Error() string {
	return fmt.Sprintf("child %q failed: %s", e.Name, e.Reason)
}

func (e *ChildError) Unwrap() error { return e.cause }

// Runner executes the named child work once. Inputs carry the values the
// resolution phase collected for the child.
type Runner interface {
	Run(ctx context.Context, name string, inputs map[string]string) error
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, name string, inputs map[string]string) error

func (f RunnerFunc) Run(ctx context.Context, name string, inputs map[string]string) error {
	return f(ctx, name, inputs)
}

type Config struct {
	Timeout       time.Duration // per attempt, 0 = none
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	RetryJitter   float64
	RatePerSec    float64 // 0 = unlimited
}

// Result is the terminal state of one dispatch.
type Result struct {
	Outcome  Outcome
	Attempts int
	Started  time.Time
	Duration time.Duration
	Err      error
}

// ChildEvent is the bus payload for child lifecycle events.
type ChildEvent struct {
	Name     string
	Started  time.Time
	Duration time.Duration
	Attempts int
	Error    string
}

type Dispatcher struct {
	runner  Runner
	cfg     Config
	limiter *rate.Limiter
	bus     eventbus.Bus
	log     logx.Logger
}

func New(runner Runner, cfg Config, bus eventbus.Bus, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	var lim *rate.Limiter
	if cfg.RatePerSec > 0 {
		lim = rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1)
	}
	return &Dispatcher{runner: runner, cfg: cfg, limiter: lim, bus: bus, log: log}
}

// DispatchSync runs the child and blocks until it reaches a terminal
// state. A failing child yields OutcomeFailed with Err set to a
// *ChildError; the error never escapes as a panic or a scheduler fault.
func (d *Dispatcher) DispatchSync(ctx context.Context, name string, inputs map[string]string) Result {
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return Result{Outcome: OutcomeSkipped, Err: err}
		}
	}

	start := time.Now()
	d.publish(eventbus.TypeChildStarted, ChildEvent{Name: name, Started: start})

	maxAttempts := 1 + d.cfg.RetryMax
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var err error
	attempts := 0
attemptLoop:
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attempts = attempt
		err = d.runOnce(ctx, name, inputs)
		if err == nil || attempt >= maxAttempts {
			break
		}
		if ctx.Err() != nil {
			err = ctx.Err()
			break
		}

		delay := d.backoffDelay(attempt)
		if delay > 0 {
			d.log.Debug("child retry scheduled",
				logx.String("child", name), logx.Int("attempt", attempt+1),
				logx.Duration("delay", delay), logx.Err(err))
			tmr := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				if !tmr.Stop() {
					<-tmr.C
				}
				err = ctx.Err()
				break attemptLoop
			case <-tmr.C:
			}
		}
	}

	dur := time.Since(start)
	if err != nil {
		cerr := &ChildError{Name: name, Reason: err.Error(), cause: err}
		d.log.Warn("child failed",
			logx.String("child", name), logx.Duration("dur", dur),
			logx.Int("attempts", attempts), logx.Err(err))
		d.publish(eventbus.TypeChildFailed, ChildEvent{Name: name, Started: start, Duration: dur, Attempts: attempts, Error: cerr.Reason})
		return Result{Outcome: OutcomeFailed, Attempts: attempts, Started: start, Duration: dur, Err: cerr}
	}

	d.log.Debug("child completed",
		logx.String("child", name), logx.Duration("dur", dur), logx.Int("attempts", attempts))
	d.publish(eventbus.TypeChildFinished, ChildEvent{Name: name, Started: start, Duration: dur, Attempts: attempts})
	return Result{Outcome: OutcomeSuccess, Attempts: attempts, Started: start, Duration: dur}
}

// DispatchAsync starts the child in the background and returns at once.
// The outcome only surfaces through logs and bus events; a caller that
// needs the verdict must dispatch synchronously.
func (d *Dispatcher) DispatchAsync(ctx context.Context, name string, inputs map[string]string) {
	go func() {
		res := d.DispatchSync(ctx, name, inputs)
		if res.Err != nil {
			d.log.Warn("detached child failed", logx.String("child", name), logx.Err(res.Err))
		}
	}()
}

func (d *Dispatcher) runOnce(ctx context.Context, name string, inputs map[string]string) error {
	runCtx := ctx
	var cancel context.CancelFunc
	if d.cfg.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, d.cfg.Timeout)
		defer cancel()
	}
	if err := d.runner.Run(runCtx, name, inputs); err != nil {
		return errors.Wrapf(err, "run %s", name)
	}
	return nil
}

func (d *Dispatcher) publish(typ string, ev ChildEvent) {
	if d.bus == nil {
		return
	}
	d.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: ev})
}

func (d *Dispatcher) backoffDelay(retry int) time.Duration {
	base := d.cfg.RetryBase
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	maxD := d.cfg.RetryMaxDelay
	if maxD <= 0 {
		maxD = 15 * time.Second
	}
	j := d.cfg.RetryJitter
	if j <= 0 {
		j = 0.2
	}

	delay := base
	for i := 1; i < retry; i++ {
		delay *= 2
		if delay > maxD {
			delay = maxD
			break
		}
	}
	r := (rand.Float64()*2 - 1) * j
	delay = time.Duration(float64(delay) * (1 + r))
	if delay < 0 {
		delay = 0
	}
	if delay > maxD {
		delay = maxD
	}
	return delay
}
