package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"

	"recurd/internal/eventbus"
	"recurd/pkg/logx"
)

type countingRunner struct {
	mu       sync.Mutex
	calls    int
	failures int // fail the first N calls
	inputs   map[string]string
	block    time.Duration
}

func (r *countingRunner) Run(ctx context.Context, name string, inputs map[string]string) error {
	r.mu.Lock()
	r.calls++
	call := r.calls
	r.inputs = inputs
	r.mu.Unlock()

	if r.block > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.block):
		}
	}
	if call <= r.failures {
		return errors.New("transient")
	}
	return nil
}

func (r *countingRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func TestDispatchSyncSuccess(t *testing.T) {
	r := &countingRunner{}
	d := New(r, Config{}, nil, logx.Nop())

	res := d.DispatchSync(context.Background(), "backup", map[string]string{"path": "/srv"})
	require.Equal(t, OutcomeSuccess, res.Outcome)
	require.Equal(t, 1, res.Attempts)
	require.NoError(t, res.Err)
	require.Equal(t, "/srv", r.inputs["path"])
}

func TestDispatchSyncRetriesThenSucceeds(t *testing.T) {
	r := &countingRunner{failures: 2}
	d := New(r, Config{RetryMax: 3, RetryBase: time.Millisecond, RetryMaxDelay: 2 * time.Millisecond}, nil, logx.Nop())

	res := d.DispatchSync(context.Background(), "backup", nil)
	require.Equal(t, OutcomeSuccess, res.Outcome)
	require.Equal(t, 3, res.Attempts)
}

func TestDispatchSyncFailureIsIsolated(t *testing.T) {
	r := &countingRunner{failures: 10}
	d := New(r, Config{RetryMax: 1, RetryBase: time.Millisecond}, nil, logx.Nop())

	res := d.DispatchSync(context.Background(), "backup", nil)
	require.Equal(t, OutcomeFailed, res.Outcome)
	require.Equal(t, 2, res.Attempts)

	var cerr *ChildError
	require.True(t, errors.As(res.Err, &cerr))
	require.Equal(t, "backup", cerr.Name)
	require.NotEmpty(t, cerr.Reason)
}

func TestDispatchSyncAttemptTimeout(t *testing.T) {
	r := &countingRunner{block: time.Second}
	d := New(r, Config{Timeout: 20 * time.Millisecond}, nil, logx.Nop())

	res := d.DispatchSync(context.Background(), "slow", nil)
	require.Equal(t, OutcomeFailed, res.Outcome)
	require.True(t, errors.Is(res.Err, context.DeadlineExceeded))
}

func TestDispatchSyncPublishesLifecycleEvents(t *testing.T) {
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(8)
	defer unsub()

	d := New(&countingRunner{}, Config{}, bus, logx.Nop())
	res := d.DispatchSync(context.Background(), "backup", nil)
	require.Equal(t, OutcomeSuccess, res.Outcome)

	var types []string
	for len(types) < 2 {
		select {
		case e := <-ch:
			types = append(types, e.Type)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for bus events")
		}
	}
	require.Equal(t, []string{eventbus.TypeChildStarted, eventbus.TypeChildFinished}, types)
}

func TestDispatchAsyncRunsInBackground(t *testing.T) {
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(8)
	defer unsub()

	r := &countingRunner{}
	d := New(r, Config{}, bus, logx.Nop())
	d.DispatchAsync(context.Background(), "backup", nil)

	deadline := time.After(time.Second)
	for {
		select {
		case e := <-ch:
			if e.Type == eventbus.TypeChildFinished {
				require.Equal(t, 1, r.callCount())
				return
			}
		case <-deadline:
			t.Fatal("async dispatch never finished")
		}
	}
}

func TestBackoffDelayCapsAndJitters(t *testing.T) {
	d := New(&countingRunner{}, Config{
		RetryBase:     100 * time.Millisecond,
		RetryMaxDelay: 400 * time.Millisecond,
		RetryJitter:   0.2,
	}, nil, logx.Nop())

	for retry := 1; retry <= 6; retry++ {
		delay := d.backoffDelay(retry)
		require.GreaterOrEqual(t, delay, time.Duration(0), "retry %d", retry)
		require.LessOrEqual(t, delay, 400*time.Millisecond, "retry %d", retry)
	}
}

func TestExecRunnerEnvKeys(t *testing.T) {
	env := inputEnv(map[string]string{"backup-path": "/srv", "count": "3"})
	require.Len(t, env, 2)
	require.Contains(t, env, "RECURD_IN_BACKUP_PATH=/srv")
	require.Contains(t, env, "RECURD_IN_COUNT=3")
}

func TestExecRunnerRequiresCommand(t *testing.T) {
	r := NewExecRunner("  ")
	err := r.Run(context.Background(), "x", nil)
	require.Error(t, err)
}
