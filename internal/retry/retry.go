// Package retry implements the rate-limit-aware invoker that every remote
// call goes through. Failures are classified as rate limited, transient, or
// permanent; the first two are retried with exponential backoff and jitter,
// permanent errors are returned immediately.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"github.com/jonboulle/clockwork"
)

// Default policy values.
const (
	DefaultMaxRetries     = 8
	DefaultInitialDelay   = 10 * time.Second
	DefaultFactor         = 2.0
	DefaultJitter         = 0.10
	DefaultOperationDelay = 0
)

// ErrRetriesExhausted wraps the last error once the retry budget is spent.
var ErrRetriesExhausted = errors.New("retry: attempts exhausted")

// Class is the retry classification of a failed remote call.
type Class int

const (
	// Permanent errors are never retried.
	Permanent Class = iota
	// RateLimited errors signal quota pressure and are retried with backoff.
	RateLimited
	// Transient errors (timeouts, 5xx, resets) are retried with backoff.
	Transient
)

func (c Class) String() string {
	switch c {
	case RateLimited:
		return "rate_limited"
	case Transient:
		return "transient"
	default:
		return "permanent"
	}
}

// Retryable reports whether the class is worth another attempt.
func (c Class) Retryable() bool {
	return c == RateLimited || c == Transient
}

// Classifier maps an error to its retry class.
type Classifier func(error) Class

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Policy configures backoff. MaxRetries counts retries after the initial
// call, so the call runs at most MaxRetries+1 times.
type Policy struct {
	MaxRetries     int
	InitialDelay   time.Duration
	Factor         float64
	MaxDelay       time.Duration // 0 = uncapped
	Jitter         float64       // fraction, 0.1 = ±10%
	OperationDelay time.Duration // pause after every successful call
}

// DefaultPolicy returns 8 retries starting at 10s, doubling, ±10% jitter.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:     DefaultMaxRetries,
		InitialDelay:   DefaultInitialDelay,
		Factor:         DefaultFactor,
		Jitter:         DefaultJitter,
		OperationDelay: DefaultOperationDelay,
	}
}

// State is the per-call retry state machine.
type State struct {
	Attempt   int           // calls made so far
	Retries   int           // backoff waits taken
	Elapsed   time.Duration // cumulative backoff delay
	LastDelay time.Duration
	LastClass Class
	LastErr   error
}

// Invoker runs remote operations under a retry Policy. Safe for concurrent
// use: each Do call owns its own State.
type Invoker struct {
	policy   Policy
	classify Classifier
	sleep    SleepFunc
	randFunc func() float64
	logger   *slog.Logger
}

// Option customizes an Invoker.
type Option func(*Invoker)

// WithSleep replaces the backoff wait. Tests use it to avoid real delays.
func WithSleep(fn SleepFunc) Option {
	return func(inv *Invoker) { inv.sleep = fn }
}

// WithClock makes backoff waits use the given clock.
func WithClock(clock clockwork.Clock) Option {
	return func(inv *Invoker) { inv.sleep = clockSleep(clock) }
}

// WithRand replaces the jitter source; fn must return values in [0, 1).
func WithRand(fn func() float64) Option {
	return func(inv *Invoker) { inv.randFunc = fn }
}

// NewInvoker creates an Invoker. A nil classifier treats every error as
// permanent.
func NewInvoker(policy Policy, classify Classifier, logger *slog.Logger, opts ...Option) *Invoker {
	if logger == nil {
		logger = slog.Default()
	}

	if classify == nil {
		classify = func(error) Class { return Permanent }
	}

	if policy.Factor < 1 {
		policy.Factor = 1
	}

	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}

	inv := &Invoker{
		policy:   policy,
		classify: classify,
		sleep:    clockSleep(clockwork.NewRealClock()),
		randFunc: rand.Float64, //nolint:gosec // jitter does not need crypto rand
		logger:   logger,
	}

	for _, opt := range opts {
		opt(inv)
	}

	return inv
}

// Policy returns the invoker's policy.
func (inv *Invoker) Policy() Policy {
	return inv.policy
}

// Do runs fn until it succeeds, fails permanently, or the retry budget is
// spent. The returned State describes the attempts made either way.
func (inv *Invoker) Do(ctx context.Context, op string, fn func(context.Context) error) (State, error) {
	var st State

	for {
		if err := ctx.Err(); err != nil {
			return st, fmt.Errorf("retry: %s canceled: %w", op, err)
		}

		st.Attempt++

		err := fn(ctx)
		if err == nil {
			if inv.policy.OperationDelay > 0 {
				if sleepErr := inv.sleep(ctx, inv.policy.OperationDelay); sleepErr != nil {
					// The call itself succeeded; only the pacing pause was cut short.
					inv.logger.Debug("operation delay interrupted",
						slog.String("op", op),
					)
				}
			}

			return st, nil
		}

		st.LastErr = err
		st.LastClass = inv.classify(err)

		if ctx.Err() != nil || !st.LastClass.Retryable() {
			return st, err
		}

		if st.Retries >= inv.policy.MaxRetries {
			inv.logger.Error("retries exhausted",
				slog.String("op", op),
				slog.Int("attempts", st.Attempt),
				slog.String("class", st.LastClass.String()),
				slog.Duration("elapsed", st.Elapsed),
				slog.String("error", err.Error()),
			)

			return st, fmt.Errorf("%w: %s after %d attempts: %w", ErrRetriesExhausted, op, st.Attempt, err)
		}

		delay := inv.nextDelay(&st)

		inv.logger.Warn("retrying remote call",
			slog.String("op", op),
			slog.Int("attempt", st.Attempt),
			slog.String("class", st.LastClass.String()),
			slog.Duration("backoff", delay),
			slog.String("error", err.Error()),
		)

		if sleepErr := inv.sleep(ctx, delay); sleepErr != nil {
			return st, fmt.Errorf("retry: %s canceled during backoff: %w", op, sleepErr)
		}

		st.Retries++
		st.Elapsed += delay
		st.LastDelay = delay
	}
}

// Call is the value-returning form of Invoker.Do.
func Call[T any](ctx context.Context, inv *Invoker, op string, fn func(context.Context) (T, error)) (T, State, error) {
	var out T

	st, err := inv.Do(ctx, op, func(ctx context.Context) error {
		v, callErr := fn(ctx)
		if callErr != nil {
			return callErr
		}

		out = v

		return nil
	})

	return out, st, err
}

// nextDelay computes the backoff before retry number st.Retries+1. The result
// is never below the previous delay, so jitter cannot make the sequence
// shrink.
func (inv *Invoker) nextDelay(st *State) time.Duration {
	p := inv.policy

	base := float64(p.InitialDelay) * math.Pow(p.Factor, float64(st.Retries))
	if p.MaxDelay > 0 && base > float64(p.MaxDelay) {
		base = float64(p.MaxDelay)
	}

	jitter := base * p.Jitter * (inv.randFunc()*2 - 1)
	delay := time.Duration(base + jitter)

	if delay < st.LastDelay {
		delay = st.LastDelay
	}

	if delay < 0 {
		delay = 0
	}

	return delay
}

// clockSleep returns a SleepFunc backed by clock.
func clockSleep(clock clockwork.Clock) SleepFunc {
	return func(ctx context.Context, d time.Duration) error {
		if d <= 0 {
			return ctx.Err()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-clock.After(d):
			return nil
		}
	}
}
