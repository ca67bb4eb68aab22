package form

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// PromptTransport asks questions on a line-oriented terminal. Prompts are
// serialized under a mutex so concurrent asks from the broker do not
// interleave on one tty; answers still settle independently.
type PromptTransport struct {
	mu sync.Mutex
	r  *bufio.Reader
	w  io.Writer
}

func NewPromptTransport(r io.Reader, w io.Writer) *PromptTransport {
	return &PromptTransport{r: bufio.NewReader(r), w: w}
}

func (t *PromptTransport) Ask(ctx context.Context, q Question) (Answer, error) {
	type line struct {
		text string
		err  error
	}
	ch := make(chan line, 1)

	go func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if q.Default != "" && !q.Sensitive {
			fmt.Fprintf(t.w, "%s [%s]: ", q.Label, q.Default)
		} else {
			fmt.Fprintf(t.w, "%s: ", q.Label)
		}
		s, err := t.r.ReadString('\n')
		ch <- line{text: s, err: err}
	}()

	select {
	case <-ctx.Done():
		// The pending read keeps owning the reader; the next Ask queues
		// behind it. Acceptable for a tty transport.
		return Answer{Field: q.Field}, ctx.Err()
	case l := <-ch:
		if l.err != nil && l.text == "" {
			return Answer{Field: q.Field}, l.err
		}
		v := strings.TrimSpace(l.text)
		if v == "" {
			if q.Default != "" {
				return Answer{Field: q.Field, Value: q.Default, Answered: true}, nil
			}
			return Answer{Field: q.Field}, nil
		}
		return Answer{Field: q.Field, Value: v, Answered: true}, nil
	}
}
