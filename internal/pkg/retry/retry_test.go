package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	errTransient = errors.New("transient")
	errPermanent = errors.New("permanent")
)

func isTransient(err error) bool { return errors.Is(err, errTransient) }

type recordingSleep struct{ waits []time.Duration }

func (r *recordingSleep) sleep(ctx context.Context, d time.Duration) error {
	r.waits = append(r.waits, d)
	return ctx.Err()
}

func TestDo_RetriesUntilSuccess(t *testing.T) {
	rec := &recordingSleep{}
	cfg := Config{MaxRetries: 3, InitialBackoff: 10 * time.Millisecond, MaxBackoff: 15 * time.Millisecond, Sleep: rec.sleep}

	calls := 0
	got, err := Do(context.Background(), cfg, isTransient, nil, func() (string, error) {
		calls++
		if calls < 4 {
			return "", errTransient
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 4, calls)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 15 * time.Millisecond, 15 * time.Millisecond}, rec.waits)
}

func TestDo_StopsOnPermanentError(t *testing.T) {
	rec := &recordingSleep{}
	calls := 0
	err := DoVoid(context.Background(), Config{MaxRetries: 5, Sleep: rec.sleep}, isTransient, nil, func() error {
		calls++
		return errPermanent
	})
	assert.ErrorIs(t, err, errPermanent)
	assert.Equal(t, 1, calls)
	assert.Empty(t, rec.waits)
}

func TestDo_ExhaustsBudget(t *testing.T) {
	rec := &recordingSleep{}
	var observed []int
	_, err := Do(context.Background(), Config{MaxRetries: 2, Sleep: rec.sleep}, isTransient,
		func(attempt int, err error, _ time.Duration) {
			observed = append(observed, attempt)
			assert.ErrorIs(t, err, errTransient)
		},
		func() (int, error) { return 0, errTransient })
	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, []int{1, 2}, observed)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec := &recordingSleep{}
	_, err := Do(ctx, Config{MaxRetries: 3, Sleep: rec.sleep}, isTransient, nil, func() (int, error) {
		return 0, errTransient
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, rec.waits, 1)
}

func TestBackoff_CapsAndResets(t *testing.T) {
	b := Backoff{Initial: time.Second, Max: 5 * time.Second}
	var got []time.Duration
	for i := 0; i < 5; i++ {
		got = append(got, b.Next())
	}
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}, got)
	b.Reset()
	assert.Equal(t, time.Second, b.Next())
}

func TestSleep_HonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
	assert.NoError(t, Sleep(context.Background(), time.Millisecond))
}
