package form

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"

	"recurd/pkg/logx"
)

// fakeTransport settles each field from a canned answer set, optionally
// after a delay. Fields absent from answers settle unanswered.
type fakeTransport struct {
	mu      sync.Mutex
	answers map[string]string
	delays  map[string]time.Duration
	fails   map[string]error
	asked   []Question
}

func (f *fakeTransport) Ask(ctx context.Context, q Question) (Answer, error) {
	f.mu.Lock()
	f.asked = append(f.asked, q)
	delay := f.delays[q.Field]
	failErr := f.fails[q.Field]
	v, ok := f.answers[q.Field]
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return Answer{Field: q.Field}, ctx.Err()
		case <-time.After(delay):
		}
	}
	if failErr != nil {
		return Answer{Field: q.Field}, failErr
	}
	if !ok {
		return Answer{Field: q.Field}, nil
	}
	return Answer{Field: q.Field, Value: v, Answered: true}, nil
}

func (f *fakeTransport) askedQuestion(field string) (Question, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, q := range f.asked {
		if q.Field == field {
			return q, true
		}
	}
	return Question{}, false
}

func TestCollectAllAnswered(t *testing.T) {
	tr := &fakeTransport{answers: map[string]string{"child": "backup", "interval": "60"}}
	b := NewBroker(tr, logx.Nop())

	got, err := b.Collect(context.Background(), []Question{
		{Field: "child", Label: "Child work name", Required: true},
		{Field: "interval", Label: "Interval seconds", Kind: KindNumber},
	}, CollectOptions{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "backup", got["child"].Value)
	require.Equal(t, "60", got["interval"].Value)
}

func TestCollectPartialPolicy(t *testing.T) {
	qs := []Question{
		{Field: "a", Label: "A", Required: true},
		{Field: "b", Label: "B"},
	}

	// Only "a" answered, partial allowed: "b" is omitted, no error.
	tr := &fakeTransport{answers: map[string]string{"a": "1"}}
	got, err := NewBroker(tr, logx.Nop()).Collect(context.Background(), qs, CollectOptions{AllowPartial: true})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "1", got["a"].Value)

	// Same situation without partial: the unanswered field is an error.
	tr = &fakeTransport{answers: map[string]string{"a": "1"}}
	_, err = NewBroker(tr, logx.Nop()).Collect(context.Background(), qs, CollectOptions{})
	var inc *IncompleteError
	require.True(t, errors.As(err, &inc))
	require.Equal(t, "b", inc.Field)
}

func TestCollectRequiredMissingAlwaysFails(t *testing.T) {
	tr := &fakeTransport{answers: map[string]string{"b": "2"}}
	_, err := NewBroker(tr, logx.Nop()).Collect(context.Background(), []Question{
		{Field: "a", Label: "A", Required: true},
		{Field: "b", Label: "B"},
	}, CollectOptions{AllowPartial: true})

	var inc *IncompleteError
	require.True(t, errors.As(err, &inc))
	require.Equal(t, "a", inc.Field)
}

func TestCollectTransportFailureIsNoResponse(t *testing.T) {
	tr := &fakeTransport{
		answers: map[string]string{"a": "1"},
		fails:   map[string]error{"b": errors.New("boom")},
	}
	got, err := NewBroker(tr, logx.Nop()).Collect(context.Background(), []Question{
		{Field: "a", Label: "A", Required: true},
		{Field: "b", Label: "B"},
	}, CollectOptions{AllowPartial: true})
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestCollectPerQuestionTimeout(t *testing.T) {
	tr := &fakeTransport{
		answers: map[string]string{"slow": "late", "fast": "ok"},
		delays:  map[string]time.Duration{"slow": 200 * time.Millisecond},
	}
	got, err := NewBroker(tr, logx.Nop()).Collect(context.Background(), []Question{
		{Field: "fast", Label: "F", Required: true},
		{Field: "slow", Label: "S", Timeout: 20 * time.Millisecond},
	}, CollectOptions{AllowPartial: true})
	require.NoError(t, err)
	require.Equal(t, "ok", got["fast"].Value)
	_, ok := got["slow"]
	require.False(t, ok, "expired field must be omitted")
}

func TestCollectMarksPasswordsSensitive(t *testing.T) {
	tr := &fakeTransport{answers: map[string]string{"secret": "hunter2"}}
	_, err := NewBroker(tr, logx.Nop()).Collect(context.Background(), []Question{
		{Field: "secret", Label: "Token", Kind: KindPassword, Required: true},
	}, CollectOptions{})
	require.NoError(t, err)

	q, ok := tr.askedQuestion("secret")
	require.True(t, ok)
	require.True(t, q.Sensitive, "password questions must be flagged non-persistable for the transport")
}

func TestCollectRejectsDuplicateFields(t *testing.T) {
	tr := &fakeTransport{}
	_, err := NewBroker(tr, logx.Nop()).Collect(context.Background(), []Question{
		{Field: "x", Label: "1"},
		{Field: "x", Label: "2"},
	}, CollectOptions{})
	require.Error(t, err)
}

func TestCollectCancelled(t *testing.T) {
	tr := &fakeTransport{delays: map[string]time.Duration{"a": time.Second}}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := NewBroker(tr, logx.Nop()).Collect(ctx, []Question{{Field: "a", Label: "A"}}, CollectOptions{})
	require.Error(t, err)
	require.True(t, errors.Is(err, context.Canceled))
}

func TestPromptTransportReadsAnswerAndDefault(t *testing.T) {
	in := strings.NewReader("backup\n\n")
	var out strings.Builder
	tr := NewPromptTransport(in, &out)

	ans, err := tr.Ask(context.Background(), Question{Field: "child", Label: "Child"})
	require.NoError(t, err)
	require.True(t, ans.Answered)
	require.Equal(t, "backup", ans.Value)

	ans, err = tr.Ask(context.Background(), Question{Field: "interval", Label: "Interval", Default: "60"})
	require.NoError(t, err)
	require.True(t, ans.Answered)
	require.Equal(t, "60", ans.Value)
	require.Contains(t, out.String(), "[60]")
}
