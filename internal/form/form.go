// Package form gathers named answers from a human by fanning questions
// out as concurrent, independent sub-requests and fanning the results
// back in under a completeness policy.
package form

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
)

type Kind string

const (
	KindString   Kind = "string"
	KindPassword Kind = "password"
	KindNumber   Kind = "number"
	KindBoolean  Kind = "boolean"
	KindTime     Kind = "time"
)

// Question is one field of a form.
//
// Sensitive answers must never reach a log line or a persisted record in
// clear; the broker forces Sensitive on for password-kind questions and
// transports must honor it end-to-end.
type Question struct {
	Field     string        `json:"field"` // unique key in the result map
	Label     string        `json:"label"`
	Kind      Kind          `json:"kind"`
	Required  bool          `json:"required"`
	Default   string        `json:"default,omitempty"`
	Timeout   time.Duration `json:"timeout,omitempty"` // 0 = broker default
	Sensitive bool          `json:"sensitive,omitempty"`
}

// Answer is a settled sub-request. Answered is false when the ask expired
// or the transport reported no response.
type Answer struct {
	Field    string
	Value    string
	Answered bool
}

// Transport delivers one question to a human and waits for the response.
// The broker calls Ask once per field, concurrently; implementations must
// be safe for concurrent use. A ctx deadline is the per-field timeout:
// returning ctx.Err() (or an unanswered Answer) counts as "no response".
type Transport interface {
	Ask(ctx context.Context, q Question) (Answer, error)
}

// IncompleteError reports the first field that never received a response
// although the completeness policy demanded one.
type IncompleteError struct {
	Field string
}

func (e *IncompleteError) Error() string {
	return fmt.Sprintf("did not get a response for %q", e.Field)
}

var errNoTransport = errors.New("form: no transport configured")
