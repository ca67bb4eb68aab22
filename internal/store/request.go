package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"recurd/internal/form"
	"recurd/pkg/logx"
)

// Key layout:
//
//	form/<id>          pending form record
//	req/<id>/config    resolved request configuration (caller-defined JSON)
//	req/<id>/progress  per-iteration progress (caller-defined JSON)
//	req/<id>/wake      pending wake instant, RFC3339
const (
	formPrefix = "form/"
	reqPrefix  = "req/"
)

// PendingForm is the durable record of an input request that is waiting
// for a human. Answers for sensitive fields are never written; resuming
// from a resolved record only yields the non-sensitive values.
type PendingForm struct {
	ID         string            `json:"id"`
	Questions  []form.Question   `json:"questions"`
	CreatedAt  time.Time         `json:"created_at"`
	Resolved   bool              `json:"resolved"`
	ResolvedAt time.Time         `json:"resolved_at,omitzero"`
	Answers    map[string]string `json:"answers,omitempty"`
}

// RequestStore persists scheduler requests, pending forms, and wake
// instants on top of a keyed Store. Transient backend failures are
// retried a couple of times before surfacing.
type RequestStore struct {
	st  Store
	log logx.Logger

	putRetries int
	pollBase   time.Duration
}

func NewRequestStore(st Store, log logx.Logger) *RequestStore {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &RequestStore{st: st, log: log, putRetries: 2, pollBase: 150 * time.Millisecond}
}

func (r *RequestStore) put(key string, val []byte) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = r.st.Put(key, val)
		if err == nil || !errors.Is(err, ErrUnavailable) || attempt >= r.putRetries {
			return err
		}
		time.Sleep(time.Duration(attempt+1) * 50 * time.Millisecond)
	}
}

func (r *RequestStore) putJSON(key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "encode %s", key)
	}
	return r.put(key, b)
}

func (r *RequestStore) getJSON(key string, dst any) error {
	b, err := r.st.Get(key)
	if err != nil {
		return err
	}
	return errors.Wrapf(json.Unmarshal(b, dst), "decode %s", key)
}

// Create persists a new pending form and returns its id.
func (r *RequestStore) Create(questions []form.Question) (string, error) {
	id := uuid.NewString()
	rec := PendingForm{
		ID:        id,
		Questions: questions,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.putJSON(formPrefix+id, rec); err != nil {
		return "", err
	}
	r.log.Info("input request created", logx.String("request_id", id), logx.Int("questions", len(questions)))
	return id, nil
}

// Load fetches a pending form by id.
func (r *RequestStore) Load(id string) (PendingForm, error) {
	var rec PendingForm
	err := r.getJSON(formPrefix+id, &rec)
	return rec, err
}

// MarkResolved records the answers for a pending form. Values for
// sensitive questions are dropped before the record hits the store.
func (r *RequestStore) MarkResolved(id string, answers map[string]form.Answer) error {
	rec, err := r.Load(id)
	if err != nil {
		return err
	}
	sensitive := make(map[string]bool, len(rec.Questions))
	for _, q := range rec.Questions {
		if q.Sensitive || q.Kind == form.KindPassword {
			sensitive[q.Field] = true
		}
	}
	rec.Resolved = true
	rec.ResolvedAt = time.Now().UTC()
	rec.Answers = make(map[string]string, len(answers))
	for field, a := range answers {
		if !a.Answered || sensitive[field] {
			continue
		}
		rec.Answers[field] = a.Value
	}
	return r.putJSON(formPrefix+id, rec)
}

// AwaitResolution blocks until the pending form is resolved, polling the
// store with a capped backoff. It returns the resolved record.
func (r *RequestStore) AwaitResolution(ctx context.Context, id string) (PendingForm, error) {
	delay := r.pollBase
	const maxDelay = 2 * time.Second
	for {
		rec, err := r.Load(id)
		switch {
		case err == nil && rec.Resolved:
			return rec, nil
		case err != nil && !errors.Is(err, ErrUnavailable):
			return PendingForm{}, err
		}
		select {
		case <-ctx.Done():
			return PendingForm{}, ctx.Err()
		case <-time.After(delay):
		}
		if delay < maxDelay {
			delay *= 2
			if delay > maxDelay {
				delay = maxDelay
			}
		}
	}
}

// SaveRequest persists the resolved request configuration for id.
func (r *RequestStore) SaveRequest(id string, v any) error {
	return r.putJSON(reqPrefix+id+"/config", v)
}

// LoadRequest decodes the request configuration for id into dst.
func (r *RequestStore) LoadRequest(id string, dst any) error {
	return r.getJSON(reqPrefix+id+"/config", dst)
}

func (r *RequestStore) SaveProgress(id string, v any) error {
	return r.putJSON(reqPrefix+id+"/progress", v)
}

func (r *RequestStore) LoadProgress(id string, dst any) error {
	return r.getJSON(reqPrefix+id+"/progress", dst)
}

// SaveWake records the instant the schedule intends to sleep until, so a
// restarted process can re-enter the same suspension.
func (r *RequestStore) SaveWake(id string, at time.Time) error {
	return r.put(reqPrefix+id+"/wake", []byte(at.UTC().Format(time.RFC3339Nano)))
}

// LoadWake returns the pending wake instant, or ok=false when none is
// recorded.
func (r *RequestStore) LoadWake(id string) (time.Time, bool, error) {
	b, err := r.st.Get(reqPrefix + id + "/wake")
	if errors.Is(err, ErrNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	at, err := time.Parse(time.RFC3339Nano, string(b))
	if err != nil {
		return time.Time{}, false, errors.Wrap(err, "decode wake instant")
	}
	return at, true, nil
}

func (r *RequestStore) ClearWake(id string) error {
	return r.st.Delete(reqPrefix + id + "/wake")
}
