package retry

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	errThrottle  = errors.New("throttled")
	errFlaky     = errors.New("connection reset")
	errForbidden = errors.New("forbidden")
)

func testClassify(err error) Class {
	switch {
	case errors.Is(err, errThrottle):
		return RateLimited
	case errors.Is(err, errFlaky):
		return Transient
	default:
		return Permanent
	}
}

// recordingSleep captures requested delays and returns immediately.
type recordingSleep struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordingSleep) sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.delays = append(r.delays, d)

	return nil
}

func newTestInvoker(t *testing.T, p Policy, rs *recordingSleep, opts ...Option) *Invoker {
	t.Helper()

	opts = append([]Option{WithSleep(rs.sleep)}, opts...)

	return NewInvoker(p, testClassify, slog.Default(), opts...)
}

func TestDo_SuccessFirstTry(t *testing.T) {
	rs := &recordingSleep{}
	inv := newTestInvoker(t, DefaultPolicy(), rs)

	st, err := inv.Do(context.Background(), "list", func(context.Context) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, 1, st.Attempt)
	assert.Equal(t, 0, st.Retries)
	assert.Empty(t, rs.delays)
}

func TestDo_RetriesRateLimitThenSucceeds(t *testing.T) {
	rs := &recordingSleep{}
	inv := newTestInvoker(t, DefaultPolicy(), rs, WithRand(func() float64 { return 0.5 }))

	calls := 0
	st, err := inv.Do(context.Background(), "copy", func(context.Context) error {
		calls++
		if calls <= 2 {
			return errThrottle
		}

		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 2, st.Retries)
	assert.Equal(t, RateLimited, st.LastClass)
	// rand 0.5 means zero jitter: exact 10s, 20s.
	assert.Equal(t, []time.Duration{10 * time.Second, 20 * time.Second}, rs.delays)
	assert.Equal(t, 30*time.Second, st.Elapsed)
}

func TestDo_TransientIsRetried(t *testing.T) {
	rs := &recordingSleep{}
	inv := newTestInvoker(t, DefaultPolicy(), rs)

	calls := 0
	_, err := inv.Do(context.Background(), "get", func(context.Context) error {
		calls++
		if calls == 1 {
			return errFlaky
		}

		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Len(t, rs.delays, 1)
}

func TestDo_PermanentNotRetried(t *testing.T) {
	rs := &recordingSleep{}
	inv := newTestInvoker(t, DefaultPolicy(), rs)

	calls := 0
	st, err := inv.Do(context.Background(), "copy", func(context.Context) error {
		calls++
		return errForbidden
	})

	require.ErrorIs(t, err, errForbidden)
	assert.NotErrorIs(t, err, ErrRetriesExhausted)
	assert.Equal(t, 1, calls)
	assert.Equal(t, Permanent, st.LastClass)
	assert.Empty(t, rs.delays)
}

func TestDo_ExhaustsAfterDefaultBudget(t *testing.T) {
	rs := &recordingSleep{}
	inv := newTestInvoker(t, DefaultPolicy(), rs)

	calls := 0
	st, err := inv.Do(context.Background(), "copy", func(context.Context) error {
		calls++
		return errThrottle
	})

	require.ErrorIs(t, err, ErrRetriesExhausted)
	require.ErrorIs(t, err, errThrottle)
	// Initial call plus 8 retries: the 9th failure is terminal.
	assert.Equal(t, 9, calls)
	assert.Equal(t, 8, st.Retries)
	require.Len(t, rs.delays, 8)

	for i := 1; i < len(rs.delays); i++ {
		assert.GreaterOrEqual(t, rs.delays[i], rs.delays[i-1], "delay %d shrank", i)
	}
}

func TestNextDelay_JitterBounds(t *testing.T) {
	for _, r := range []float64{0, 0.25, 0.5, 0.75, 0.999} {
		inv := NewInvoker(DefaultPolicy(), testClassify, slog.Default(), WithRand(func() float64 { return r }))

		var st State
		for n := range 8 {
			d := inv.nextDelay(&st)
			base := float64(DefaultInitialDelay) * float64(int64(1)<<n)

			assert.GreaterOrEqual(t, float64(d), base*0.9-1, "retry %d rand %v", n, r)
			assert.LessOrEqual(t, float64(d), base*1.1+1, "retry %d rand %v", n, r)

			st.Retries++
			st.LastDelay = d
		}
	}
}

func TestNextDelay_MaxDelayStaysMonotonic(t *testing.T) {
	p := DefaultPolicy()
	p.MaxDelay = 30 * time.Second

	vals := []float64{0.999, 0.0}
	i := 0
	inv := NewInvoker(p, testClassify, slog.Default(), WithRand(func() float64 {
		v := vals[i%len(vals)]
		i++

		return v
	}))

	var st State
	var prev time.Duration

	for range 6 {
		d := inv.nextDelay(&st)
		assert.GreaterOrEqual(t, d, prev)

		prev = d
		st.Retries++
		st.LastDelay = d
	}
}

func TestDo_CancelDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	inv := NewInvoker(DefaultPolicy(), testClassify, slog.Default(), WithSleep(func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}))

	calls := 0
	_, err := inv.Do(ctx, "list", func(context.Context) error {
		calls++
		return errThrottle
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDo_CanceledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	inv := NewInvoker(DefaultPolicy(), testClassify, slog.Default())

	called := false
	_, err := inv.Do(ctx, "list", func(context.Context) error {
		called = true
		return nil
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestDo_OperationDelayAfterSuccess(t *testing.T) {
	rs := &recordingSleep{}
	p := DefaultPolicy()
	p.OperationDelay = 500 * time.Millisecond
	inv := newTestInvoker(t, p, rs)

	_, err := inv.Do(context.Background(), "create", func(context.Context) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{500 * time.Millisecond}, rs.delays)
}

func TestCall_ReturnsValue(t *testing.T) {
	rs := &recordingSleep{}
	inv := newTestInvoker(t, DefaultPolicy(), rs)

	calls := 0
	v, st, err := Call(context.Background(), inv, "get", func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", errFlaky
		}

		return "item-1", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "item-1", v)
	assert.Equal(t, 1, st.Retries)
}

func TestClockSleep_WaitsForClock(t *testing.T) {
	clock := clockwork.NewFakeClock()
	sleep := clockSleep(clock)

	done := make(chan error, 1)

	go func() {
		done <- sleep(context.Background(), time.Minute)
	}()

	clock.BlockUntil(1)
	clock.Advance(time.Minute)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("sleep did not return after clock advanced")
	}
}

func TestClockSleep_Canceled(t *testing.T) {
	clock := clockwork.NewFakeClock()
	sleep := clockSleep(clock)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := sleep(ctx, time.Hour)
	require.ErrorIs(t, err, context.Canceled)
}

func TestClass_String(t *testing.T) {
	assert.Equal(t, "rate_limited", RateLimited.String())
	assert.Equal(t, "transient", Transient.String())
	assert.Equal(t, "permanent", Permanent.String())
	assert.True(t, RateLimited.Retryable())
	assert.False(t, Permanent.Retryable())
}
