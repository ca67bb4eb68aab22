package sched

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"recurd/internal/dispatch"
	"recurd/internal/eventbus"
	"recurd/internal/form"
	"recurd/internal/rule"
	"recurd/internal/store"
	"recurd/pkg/logx"
)

type Config struct {
	Broker     *form.Broker
	Store      *store.RequestStore
	Dispatcher *dispatch.Dispatcher
	Bus        eventbus.Bus

	// Clock and Timer default to the system clock and a durable timer
	// over Store; tests inject fakes.
	Clock Clock
	Timer Timer

	// AskTimeout bounds each configuration prompt (0 = none).
	AskTimeout time.Duration
}

// Scheduler drives one request through the resolve/suspend/dispatch
// loop. It runs a single logical sequence: iterations never overlap.
type Scheduler struct {
	broker     *form.Broker
	rs         *store.RequestStore
	disp       *dispatch.Dispatcher
	bus        eventbus.Bus
	clock      Clock
	timer      Timer
	askTimeout time.Duration
	log        logx.Logger

	state atomic.Int32
}

func New(cfg Config, log logx.Logger) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = SystemClock{}
	}
	return &Scheduler{
		broker:     cfg.Broker,
		rs:         cfg.Store,
		disp:       cfg.Dispatcher,
		bus:        cfg.Bus,
		clock:      clock,
		timer:      cfg.Timer,
		askTimeout: cfg.AskTimeout,
		log:        log,
	}
}

// State reports the current phase of the run, for introspection only.
func (s *Scheduler) State() State { return State(s.state.Load()) }

func (s *Scheduler) setState(st State) { s.state.Store(int32(st)) }

// Run resolves the configuration and executes the recurrence loop until
// the iteration bound, a one-shot dispatch, or cancellation. Child
// failures in sync mode are counted and the loop continues; only
// configuration-phase errors come back as err.
func (s *Scheduler) Run(ctx context.Context, st Start) (Summary, error) {
	s.setState(StateResolving)
	req, id, awaiting, err := s.resolve(ctx, st)
	if err != nil {
		s.setState(StateDone)
		return Summary{Reason: err.Error()}, err
	}
	if awaiting {
		s.setState(StateDone)
		s.log.Info("awaiting input", logx.String("request_id", id))
		return Summary{AwaitingID: id, Reason: "awaiting input"}, nil
	}

	r, err := req.Rule.Compile()
	if err != nil {
		s.setState(StateDone)
		return Summary{RequestID: id, Reason: err.Error()}, err
	}

	timer := s.timer
	if timer == nil {
		timer = NewDurableTimer(s.rs, id, SleepTimer{Clock: s.clock})
	}

	sum := Summary{RequestID: id}
	iter := 0
	var prog Progress
	if err := s.rs.LoadProgress(id, &prog); err == nil && prog.Iteration > 0 {
		iter = prog.Iteration
		s.log.Info("resuming iteration count",
			logx.String("request_id", id), logx.Int("iteration", iter))
	}

	// A wake instant persisted by a previous process re-enters that
	// suspension instead of computing a fresh one.
	pendingWake, havePending, _ := s.rs.LoadWake(id)

	s.log.Info("schedule started",
		logx.String("request_id", id), logx.String("child", req.Child),
		logx.String("rule", string(req.Rule.Kind)), logx.Int("max_iterations", req.MaxIterations),
		logx.Bool("wait", req.WaitForChild))

	for {
		s.setState(StateLooping)
		if req.MaxIterations != 0 && iter >= req.MaxIterations {
			sum.Iterations = iter
			sum.Reason = fmt.Sprintf("completed %d iterations", iter)
			s.setState(StateDone)
			return sum, nil
		}

		now := s.clock.Now()
		next := s.nextFire(r, req, iter, now)
		if havePending {
			// An overdue wake fires right away; recomputing from the rule
			// would re-delay the iteration the process already owed.
			next = pendingWake
			havePending = false
		}

		s.setState(StateSuspended)
		s.saveProgress(id, iter, fmt.Sprintf("sleeping until %s", next.UTC().Format(time.RFC3339)))
		s.publish(eventbus.TypeScheduleSuspended, SuspendEvent{RequestID: id, Until: next, Iteration: iter + 1})
		s.log.Debug("suspended", logx.String("request_id", id), logx.Time("until", next))

		if err := timer.SleepUntil(ctx, next); err != nil {
			sum.Iterations = iter
			sum.Reason = "cancelled"
			s.setState(StateDone)
			return sum, err
		}
		if err := ctx.Err(); err != nil {
			// Cancellation observed at the suspension boundary terminates
			// without dispatching the pending iteration.
			sum.Iterations = iter
			sum.Reason = "cancelled"
			s.setState(StateDone)
			return sum, err
		}

		s.setState(StateDispatching)
		iter++
		rec := IterationRecord{Index: iter, ScheduledAt: next}
		if req.WaitForChild {
			res := s.disp.DispatchSync(ctx, req.Child, dispatchInputs(req, iter))
			rec.Outcome = res.Outcome
			if res.Err != nil {
				rec.Note = res.Err.Error()
				sum.Failed++
			} else {
				sum.Succeeded++
			}
		} else {
			// Fire and forget: the verdict is unobservable here, so it is
			// counted as dispatched, never as succeeded.
			s.disp.DispatchAsync(ctx, req.Child, dispatchInputs(req, iter))
			rec.Outcome = dispatch.OutcomeDispatched
			sum.Dispatched++
		}
		sum.Iterations = iter

		note := fmt.Sprintf("iteration %d %s", iter, rec.Outcome)
		if req.MaxIterations != 0 {
			note = fmt.Sprintf("iteration %d/%d %s", iter, req.MaxIterations, rec.Outcome)
		}
		s.saveProgress(id, iter, note)
		s.publish(eventbus.TypeIterationDone, rec)

		if r.OneShot() {
			sum.Reason = "completed"
			s.setState(StateDone)
			return sum, nil
		}
	}
}

// nextFire picks the next instant. Sync mode measures from "now" (the
// previous iteration's completion); fire-and-forget interval rules stay
// anchored to StartEpoch so async dispatch never drifts, skipping slots
// that fell into downtime.
func (s *Scheduler) nextFire(r rule.Rule, req Request, iter int, now time.Time) time.Time {
	if !req.WaitForChild && !r.OneShot() {
		if ir, ok := r.(rule.IntervalRule); ok {
			next := time.Unix(req.StartEpoch, 0).Add(time.Duration(iter+1) * ir.Interval())
			for !next.After(now) {
				next = next.Add(ir.Interval())
			}
			return next
		}
	}
	return r.Next(now)
}

func dispatchInputs(req Request, iter int) map[string]string {
	inputs := make(map[string]string, len(req.Inputs)+3)
	for k, v := range req.Inputs {
		inputs[k] = v
	}
	inputs["start_epoch"] = strconv.FormatInt(req.StartEpoch, 10)
	inputs["iteration"] = strconv.Itoa(iter)
	inputs["max_iterations"] = strconv.Itoa(req.MaxIterations)
	return inputs
}

func (s *Scheduler) saveProgress(id string, iter int, note string) {
	p := Progress{Iteration: iter, Note: note, UpdatedAt: s.clock.Now().UTC()}
	if err := s.rs.SaveProgress(id, p); err != nil {
		s.log.Warn("progress not saved", logx.String("request_id", id), logx.Err(err))
	}
}

func (s *Scheduler) publish(typ string, data any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: s.clock.Now(), Data: data})
}
