package aop

import (
	"context"
	"math/rand"
	"time"

	rterrors "github.com/legacy-lands/aspectrt/infrastructure/errors"
	"github.com/legacy-lands/aspectrt/infrastructure/logging"
)

// Backoff selects the delay growth curve between retry attempts.
type Backoff int

const (
	BackoffFixed Backoff = iota
	BackoffLinear
	BackoffExponential
	BackoffRandom
)

// RetryOptions configures the retry interceptor. MaxAttempts < 0 means
// unbounded retries.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Backoff      Backoff
	Multiplier   float64
	JitterFactor float64 // [0,1]
	// RetryOn restricts retries to these kinds; empty means "any kind not in Ignore".
	RetryOn []rterrors.Kind
	// Ignore always propagates immediately without retrying.
	Ignore []rterrors.Kind
	// Fallback runs after attempts are exhausted; nil means propagate the last error.
	Fallback func(ctx context.Context, args []any, cause error) (any, error)
}

// DefaultRetryOptions returns 3 attempts with exponential backoff from
// 100ms (multiplier 2, 10% jitter), capped at 10s.
func DefaultRetryOptions() RetryOptions {
	return RetryOptions{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Backoff:      BackoffExponential,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

// RetryInterceptor implements section 4.4.1.
type RetryInterceptor struct {
	name    string
	order   int32
	matches pointcutMatcher
	opts    RetryOptions
	logger  *logging.Logger
}

// NewRetryInterceptor creates a retry interceptor applying to methods
// selected by matches, with the given order and options.
func NewRetryInterceptor(name string, order int32, matches func(MethodDescriptor) bool, opts RetryOptions, logger *logging.Logger) *RetryInterceptor {
	return &RetryInterceptor{name: name, order: order, matches: matches, opts: opts, logger: logger}
}

func (r *RetryInterceptor) Name() string                    { return r.name }
func (r *RetryInterceptor) Order() int32                    { return r.order }
func (r *RetryInterceptor) Applies(m MethodDescriptor) bool { return r.matches(m) }

func (r *RetryInterceptor) Invoke(inv *Invocation, proceed ProceedFunc) (any, error) {
	var lastErr error
	attempt := 1

	for {
		result, err := proceed()
		if err == nil {
			return result, nil
		}
		lastErr = err
		kind := rterrors.KindOf(err)

		if containsKind(r.opts.Ignore, kind) {
			return nil, err
		}
		if len(r.opts.RetryOn) > 0 && !containsKind(r.opts.RetryOn, kind) {
			return nil, err
		}

		unbounded := r.opts.MaxAttempts < 0
		if !unbounded && attempt >= r.opts.MaxAttempts {
			break
		}

		wait := applyJitter(delayFor(r.opts, attempt), r.opts.JitterFactor)
		if wait > r.opts.MaxDelay && r.opts.MaxDelay > 0 {
			wait = r.opts.MaxDelay
		}
		if r.logger != nil {
			r.logger.WithFields(map[string]interface{}{
				"interceptor": r.name, "attempt": attempt, "delay": wait.String(),
			}).Warn("retrying after failure")
		}
		select {
		case <-inv.Ctx.Done():
			return nil, inv.Ctx.Err()
		case <-time.After(wait):
		}
		attempt++
	}

	if r.opts.Fallback != nil {
		return r.opts.Fallback(inv.Ctx, inv.Args, lastErr)
	}
	return nil, rterrors.RetryExhausted(attempt, lastErr)
}

func delayFor(opts RetryOptions, attempt int) time.Duration {
	switch opts.Backoff {
	case BackoffFixed:
		return opts.InitialDelay
	case BackoffLinear:
		return opts.InitialDelay * time.Duration(attempt)
	case BackoffExponential:
		d := float64(opts.InitialDelay)
		for i := 1; i < attempt; i++ {
			d *= opts.Multiplier
		}
		return time.Duration(d)
	case BackoffRandom:
		span := int64(opts.MaxDelay - opts.InitialDelay)
		if span <= 0 {
			return opts.InitialDelay
		}
		return opts.InitialDelay + time.Duration(rand.Int63n(span))
	default:
		return opts.InitialDelay
	}
}

func applyJitter(d time.Duration, jitter float64) time.Duration {
	if jitter <= 0 {
		return d
	}
	delta := float64(d) * jitter
	return d + time.Duration(rand.Float64()*delta*2-delta)
}

func containsKind(kinds []rterrors.Kind, k rterrors.Kind) bool {
	for _, candidate := range kinds {
		if candidate == k {
			return true
		}
	}
	return false
}

// pointcutMatcher avoids importing the pointcut package name directly in
// every interceptor file's exported signature.
type pointcutMatcher = func(MethodDescriptor) bool
