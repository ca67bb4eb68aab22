package sched

import (
	"context"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"recurd/internal/form"
	"recurd/internal/rule"
	"recurd/internal/store"
	"recurd/pkg/logx"
)

// Start describes how a run obtains its configuration. Exactly one path
// applies, checked in order: a complete Request, a RequestID to resume,
// or the Partial fields (prompting for the rest when Ask is set).
type Start struct {
	Request   *Request
	RequestID string
	Partial   Partial
	Ask       bool
	// Detach persists the draft questions and returns the new request id
	// without waiting for answers; a later run resumes by RequestID.
	Detach bool
}

// Partial holds the configuration fields known up front, typically from
// CLI flags. Nil pointers mean "not specified", which is distinct from a
// zero value when deciding what to prompt for.
type Partial struct {
	Child         string
	Rule          *rule.Spec
	MaxIterations *int
	WaitForChild  *bool
	Inputs        map[string]string
}

// questionsFor builds the prompt set for the fields Partial is missing.
// Defaults mirror the rule kinds: a bare run proposes a one-minute delay.
func questionsFor(p Partial) []form.Question {
	var qs []form.Question
	if p.Child == "" {
		qs = append(qs, form.Question{Field: "child", Label: "Child work name", Required: true})
	}
	if p.Rule == nil {
		qs = append(qs, form.Question{Field: "rule", Label: "Recurrence rule", Default: "delay:60"})
	} else {
		switch p.Rule.Kind {
		case rule.KindDelay, rule.KindEvery:
			if p.Rule.Seconds == 0 {
				qs = append(qs, form.Question{Field: "seconds", Label: "Interval seconds", Kind: form.KindNumber, Default: "60"})
			}
		case rule.KindDaily:
			if p.Rule.TimeOfDay == "" {
				qs = append(qs, form.Question{Field: "time", Label: "Time of day (HH:MM)", Kind: form.KindTime, Default: "08:30"})
			}
		case rule.KindMonthly:
			if p.Rule.DayOfMonth == 0 {
				qs = append(qs, form.Question{Field: "day", Label: "Day of month", Kind: form.KindNumber, Default: "1"})
			}
			if p.Rule.TimeOfDay == "" {
				qs = append(qs, form.Question{Field: "time", Label: "Time of day (HH:MM)", Kind: form.KindTime, Default: "08:30"})
			}
		}
	}
	if p.MaxIterations == nil {
		qs = append(qs, form.Question{Field: "max_iterations", Label: "Max iterations (0 = unbounded)", Kind: form.KindNumber, Default: "0"})
	}
	if p.WaitForChild == nil {
		qs = append(qs, form.Question{Field: "wait", Label: "Wait for child completion", Kind: form.KindBoolean, Default: "false"})
	}
	return qs
}

// applyDefaults flattens broker answers to plain values, filling absent
// optional fields from the question defaults.
func applyDefaults(qs []form.Question, answers map[string]form.Answer) map[string]string {
	vals := make(map[string]string, len(qs))
	for _, q := range qs {
		if a, ok := answers[q.Field]; ok && a.Answered {
			vals[q.Field] = a.Value
		} else if q.Default != "" {
			vals[q.Field] = q.Default
		}
	}
	return vals
}

// requestFromValues assembles the immutable Request from the known
// partial plus the collected values. StartEpoch is stamped here, at
// first resolution, and never again.
func requestFromValues(p Partial, vals map[string]string, startEpoch int64) (Request, error) {
	req := Request{Child: p.Child, Inputs: p.Inputs, StartEpoch: startEpoch}
	if v := vals["child"]; v != "" {
		req.Child = v
	}
	if strings.TrimSpace(req.Child) == "" {
		return Request{}, &form.IncompleteError{Field: "child"}
	}

	var spec rule.Spec
	switch {
	case vals["rule"] != "":
		parsed, err := rule.ParseSpec(vals["rule"])
		if err != nil {
			return Request{}, err
		}
		spec = parsed
	case p.Rule != nil:
		spec = *p.Rule
	default:
		return Request{}, &form.IncompleteError{Field: "rule"}
	}
	if v := vals["seconds"]; v != "" && spec.Seconds == 0 {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return Request{}, errors.Wrapf(rule.ErrInvalidRule, "seconds %q", v)
		}
		spec.Seconds = n
	}
	if v := vals["time"]; v != "" && spec.TimeOfDay == "" {
		spec.TimeOfDay = v
	}
	if v := vals["day"]; v != "" && spec.DayOfMonth == 0 {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Request{}, errors.Wrapf(rule.ErrInvalidRule, "day of month %q", v)
		}
		spec.DayOfMonth = n
	}
	if _, err := spec.Compile(); err != nil {
		return Request{}, err
	}
	req.Rule = spec

	if p.MaxIterations != nil {
		req.MaxIterations = *p.MaxIterations
	}
	if v := vals["max_iterations"]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Request{}, errors.Newf("max iterations %q is not a number", v)
		}
		req.MaxIterations = n
	}
	if req.MaxIterations < 0 {
		return Request{}, errors.Newf("max iterations must be >= 0, got %d", req.MaxIterations)
	}

	if p.WaitForChild != nil {
		req.WaitForChild = *p.WaitForChild
	}
	if v := vals["wait"]; v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Request{}, errors.Newf("wait %q is not a boolean", v)
		}
		req.WaitForChild = b
	}
	return req, nil
}

// resolve produces the Request for this run. The awaiting return is true
// only on the Detach path, where the run stops after creating the
// pending input request.
func (s *Scheduler) resolve(ctx context.Context, st Start) (req Request, id string, awaiting bool, err error) {
	switch {
	case st.Request != nil:
		req = *st.Request
		if strings.TrimSpace(req.Child) == "" {
			return Request{}, "", false, &form.IncompleteError{Field: "child"}
		}
		if _, err := req.Rule.Compile(); err != nil {
			return Request{}, "", false, err
		}
		if req.StartEpoch == 0 {
			req.StartEpoch = s.clock.Now().Unix()
		}
		id = st.RequestID
		if id == "" {
			id = uuid.NewString()
		}
		if err := s.rs.SaveRequest(id, req); err != nil {
			return Request{}, "", false, err
		}
		return req, id, false, nil

	case st.RequestID != "":
		return s.resume(ctx, st)

	case st.Ask:
		qs := questionsFor(st.Partial)
		if st.Detach && len(qs) > 0 {
			id, err := s.rs.Create(qs)
			if err != nil {
				return Request{}, "", false, err
			}
			return Request{}, id, true, nil
		}
		vals := map[string]string{}
		if len(qs) > 0 {
			answers, err := s.broker.Collect(ctx, qs, form.CollectOptions{AllowPartial: true, Timeout: s.askTimeout})
			if err != nil {
				return Request{}, "", false, err
			}
			vals = applyDefaults(qs, answers)
		}
		req, err := requestFromValues(st.Partial, vals, s.clock.Now().Unix())
		if err != nil {
			return Request{}, "", false, err
		}
		id = uuid.NewString()
		if err := s.rs.SaveRequest(id, req); err != nil {
			return Request{}, "", false, err
		}
		return req, id, false, nil

	default:
		// Flags only; they must already form a complete configuration.
		req, err := requestFromValues(st.Partial, nil, s.clock.Now().Unix())
		if err != nil {
			return Request{}, "", false, err
		}
		id = uuid.NewString()
		if err := s.rs.SaveRequest(id, req); err != nil {
			return Request{}, "", false, err
		}
		return req, id, false, nil
	}
}

// Respond completes a detached input request: the persisted questions
// are asked through the broker and the answers recorded, after which a
// run with the same id resolves without prompting. Responding to an
// already-resolved request is a no-op.
func (s *Scheduler) Respond(ctx context.Context, id string) error {
	rec, err := s.rs.Load(id)
	if err != nil {
		return err
	}
	if rec.Resolved {
		return nil
	}
	answers, err := s.broker.Collect(ctx, rec.Questions, form.CollectOptions{AllowPartial: true, Timeout: s.askTimeout})
	if err != nil {
		return err
	}
	if err := s.rs.MarkResolved(id, answers); err != nil {
		return err
	}
	s.log.Info("input request answered", logx.String("request_id", id))
	return nil
}

// resume re-attaches to a persisted request. A request resolved in an
// earlier process is loaded as-is (same StartEpoch, same iteration
// count); an unresolved one is awaited, built exactly once, and saved.
func (s *Scheduler) resume(ctx context.Context, st Start) (Request, string, bool, error) {
	id := st.RequestID
	var req Request
	err := s.rs.LoadRequest(id, &req)
	if err == nil {
		s.log.Info("resumed resolved request", logx.String("request_id", id))
		return req, id, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return Request{}, "", false, err
	}

	rec, err := s.rs.AwaitResolution(ctx, id)
	if err != nil {
		return Request{}, "", false, err
	}
	vals := make(map[string]string, len(rec.Answers))
	for _, q := range rec.Questions {
		if v, ok := rec.Answers[q.Field]; ok {
			vals[q.Field] = v
		} else if q.Default != "" {
			vals[q.Field] = q.Default
		}
	}
	req, err = requestFromValues(st.Partial, vals, s.clock.Now().Unix())
	if err != nil {
		return Request{}, "", false, err
	}
	if err := s.rs.SaveRequest(id, req); err != nil {
		return Request{}, "", false, err
	}
	s.log.Info("request resolved from pending form", logx.String("request_id", id))
	return req, id, false, nil
}
