package form

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"recurd/pkg/logx"
)

// CollectOptions control a single Collect call.
//
// AllowPartial=false demands a response for every question; with
// AllowPartial=true only required questions must settle with a response
// and unanswered optional fields are omitted from the result.
// Timeout is the default per-question timeout (0 = none); a question's
// own Timeout wins.
type CollectOptions struct {
	AllowPartial bool
	Timeout      time.Duration
}

// Broker fans a set of questions out over a Transport and fans the
// answers back in. Sub-requests are fully independent: no ordering, no
// shared state; the result map is only touched by the fan-in loop.
type Broker struct {
	tr  Transport
	log logx.Logger
}

func NewBroker(tr Transport, log logx.Logger) *Broker {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Broker{tr: tr, log: log}
}

type settled struct {
	q   Question
	ans Answer
}

// Collect asks every question concurrently and waits for all of them to
// reach a terminal state (answered, expired, or failed). The result maps
// field name to its answer; unanswered fields are absent.
//
// Duplicate field names are rejected up front. An expired or failed
// sub-request is treated as "no response", not as a broker failure; it
// only surfaces as *IncompleteError when the policy required that field.
func (b *Broker) Collect(ctx context.Context, questions []Question, opt CollectOptions) (map[string]Answer, error) {
	if b.tr == nil {
		return nil, errNoTransport
	}
	seen := make(map[string]struct{}, len(questions))
	for _, q := range questions {
		if q.Field == "" {
			return nil, errors.New("form: question with empty field name")
		}
		if _, dup := seen[q.Field]; dup {
			return nil, errors.Newf("form: duplicate field %q", q.Field)
		}
		seen[q.Field] = struct{}{}
	}

	results := make(chan settled, len(questions))
	var wg sync.WaitGroup
	for _, q := range questions {
		if q.Kind == KindPassword {
			q.Sensitive = true
		}
		wg.Add(1)
		go func(q Question) {
			defer wg.Done()
			results <- settled{q: q, ans: b.askOne(ctx, q, opt)}
		}(q)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	answers := make(map[string]Answer, len(questions))
	for s := range results {
		if s.ans.Answered {
			answers[s.q.Field] = s.ans
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "form collection interrupted")
	}

	// Completeness check in question order so the reported field is stable.
	for _, q := range questions {
		if _, ok := answers[q.Field]; ok {
			continue
		}
		if q.Required || !opt.AllowPartial {
			return nil, &IncompleteError{Field: q.Field}
		}
	}
	return answers, nil
}

func (b *Broker) askOne(ctx context.Context, q Question, opt CollectOptions) Answer {
	timeout := q.Timeout
	if timeout <= 0 {
		timeout = opt.Timeout
	}
	askCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		askCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ans, err := b.tr.Ask(askCtx, q)
	if err != nil {
		// Field names are fine to log; values never are.
		b.log.Debug("form field unanswered", logx.String("field", q.Field), logx.Err(err))
		return Answer{Field: q.Field}
	}
	ans.Field = q.Field
	return ans
}
