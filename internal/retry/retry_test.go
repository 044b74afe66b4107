package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_AlwaysFailingCallsMaxRetriesPlusOne(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	var attempts []int

	err := Run(context.Background(), func(context.Context) error {
		calls++
		return boom
	}, Options{
		MaxRetries: 3,
		BaseDelay:  time.Millisecond,
		OnRetry:    func(_ error, attempt int, _ time.Duration) { attempts = append(attempts, attempt) },
	})

	require.ErrorIs(t, err, boom)
	assert.Same(t, boom, err, "last error must be returned unchanged")
	assert.Equal(t, 4, calls)
	assert.Equal(t, []int{1, 2, 3}, attempts)
}

func TestDo_SucceedsOnAttemptK(t *testing.T) {
	for k := 1; k <= 4; k++ {
		calls := 0
		got, err := Do(context.Background(), func(context.Context) (int, error) {
			calls++
			if calls < k {
				return 0, errors.New("transient")
			}
			return calls, nil
		}, Options{MaxRetries: 3, BaseDelay: time.Millisecond})

		require.NoError(t, err)
		assert.Equal(t, k, calls)
		assert.Equal(t, k, got)
	}
}

func TestRun_WaitsDoubleEachAttempt(t *testing.T) {
	base := 20 * time.Millisecond
	var waits []time.Duration
	var stamps []time.Time

	_ = Run(context.Background(), func(context.Context) error {
		stamps = append(stamps, time.Now())
		return errors.New("fail")
	}, Options{
		MaxRetries: 3,
		BaseDelay:  base,
		OnRetry:    func(_ error, _ int, wait time.Duration) { waits = append(waits, wait) },
	})

	require.Len(t, waits, 3)
	assert.Equal(t, []time.Duration{base, 2 * base, 4 * base}, waits)

	require.Len(t, stamps, 4)
	for i := 1; i < len(stamps); i++ {
		elapsed := stamps[i].Sub(stamps[i-1])
		want := base * time.Duration(1<<(i-1))
		assert.GreaterOrEqual(t, elapsed, want-5*time.Millisecond, "gap %d", i)
	}
}

func TestRun_NonRetryableStopsImmediately(t *testing.T) {
	fatal := errors.New("bad request")
	calls := 0
	err := Run(context.Background(), func(context.Context) error {
		calls++
		return fatal
	}, Options{
		MaxRetries: 5,
		BaseDelay:  time.Millisecond,
		Retryable:  func(err error) bool { return !errors.Is(err, fatal) },
	})
	require.ErrorIs(t, err, fatal)
	assert.Equal(t, 1, calls)
}

func TestRun_ContextCancelStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Run(ctx, func(context.Context) error {
		calls++
		cancel()
		return errors.New("fail")
	}, Options{MaxRetries: 5, BaseDelay: 50 * time.Millisecond})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}
