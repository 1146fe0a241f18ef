package aop

import (
	"context"
	"errors"
	"testing"
	"time"

	rterrors "github.com/legacy-lands/aspectrt/infrastructure/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func matchAllMethods(MethodDescriptor) bool { return true }

func fastRetryOptions(maxAttempts int) RetryOptions {
	return RetryOptions{
		MaxAttempts:  maxAttempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Backoff:      BackoffFixed,
		Multiplier:   1,
	}
}

func TestRetryInterceptor_SucceedsWithoutRetryOnFirstAttempt(t *testing.T) {
	calls := 0
	target := func(ctx context.Context, args []any) (any, error) {
		calls++
		return "ok", nil
	}

	ri := NewRetryInterceptor("retry", 0, matchAllMethods, fastRetryOptions(3), nil)
	chain := NewChain([]Interceptor{ri}, target)
	result, err := chain.Invoke(context.Background(), MethodDescriptor{}, nil)

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 1, calls)
}

func TestRetryInterceptor_RetriesUntilSuccessWithinMaxAttempts(t *testing.T) {
	calls := 0
	target := func(ctx context.Context, args []any) (any, error) {
		calls++
		if calls < 3 {
			return nil, rterrors.Unavailable("downstream", errors.New("boom"))
		}
		return "ok", nil
	}

	ri := NewRetryInterceptor("retry", 0, matchAllMethods, fastRetryOptions(5), nil)
	chain := NewChain([]Interceptor{ri}, target)
	result, err := chain.Invoke(context.Background(), MethodDescriptor{}, nil)

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 3, calls)
}

func TestRetryInterceptor_ExhaustsAttemptsAndReturnsRetryExhausted(t *testing.T) {
	calls := 0
	cause := rterrors.Unavailable("downstream", errors.New("boom"))
	target := func(ctx context.Context, args []any) (any, error) {
		calls++
		return nil, cause
	}

	ri := NewRetryInterceptor("retry", 0, matchAllMethods, fastRetryOptions(3), nil)
	chain := NewChain([]Interceptor{ri}, target)
	_, err := chain.Invoke(context.Background(), MethodDescriptor{}, nil)

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	svcErr := rterrors.As(err)
	require.NotNil(t, svcErr)
	assert.Equal(t, rterrors.KindRetryExhausted, svcErr.Kind)
}

func TestRetryInterceptor_IgnoredKindPropagatesWithoutRetrying(t *testing.T) {
	calls := 0
	target := func(ctx context.Context, args []any) (any, error) {
		calls++
		return nil, rterrors.InvalidArgument("id", "must not be empty")
	}

	opts := fastRetryOptions(5)
	opts.Ignore = []rterrors.Kind{rterrors.KindInvalidArgument}
	ri := NewRetryInterceptor("retry", 0, matchAllMethods, opts, nil)
	chain := NewChain([]Interceptor{ri}, target)
	_, err := chain.Invoke(context.Background(), MethodDescriptor{}, nil)

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, rterrors.Is(err, rterrors.KindInvalidArgument))
}

func TestRetryInterceptor_RetryOnAllowlistRestrictsRetrying(t *testing.T) {
	calls := 0
	target := func(ctx context.Context, args []any) (any, error) {
		calls++
		return nil, rterrors.Timeout("call-downstream")
	}

	opts := fastRetryOptions(5)
	opts.RetryOn = []rterrors.Kind{rterrors.KindUnavailable}
	ri := NewRetryInterceptor("retry", 0, matchAllMethods, opts, nil)
	chain := NewChain([]Interceptor{ri}, target)
	_, err := chain.Invoke(context.Background(), MethodDescriptor{}, nil)

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, rterrors.Is(err, rterrors.KindTimeout))
}

func TestRetryInterceptor_FallbackRunsAfterExhaustion(t *testing.T) {
	calls := 0
	target := func(ctx context.Context, args []any) (any, error) {
		calls++
		return nil, rterrors.Unavailable("downstream", errors.New("boom"))
	}

	opts := fastRetryOptions(2)
	opts.Fallback = func(ctx context.Context, args []any, cause error) (any, error) {
		return "fallback-value", nil
	}
	ri := NewRetryInterceptor("retry", 0, matchAllMethods, opts, nil)
	chain := NewChain([]Interceptor{ri}, target)
	result, err := chain.Invoke(context.Background(), MethodDescriptor{}, nil)

	require.NoError(t, err)
	assert.Equal(t, "fallback-value", result)
	assert.Equal(t, 2, calls)
}

func TestRetryInterceptor_ContextCancellationDuringBackoffAbortsRetry(t *testing.T) {
	calls := 0
	ctx, cancel := context.WithCancel(context.Background())
	target := func(ctx context.Context, args []any) (any, error) {
		calls++
		if calls == 1 {
			cancel()
		}
		return nil, rterrors.Unavailable("downstream", errors.New("boom"))
	}

	opts := fastRetryOptions(5)
	opts.InitialDelay = 50 * time.Millisecond
	opts.MaxDelay = 50 * time.Millisecond
	ri := NewRetryInterceptor("retry", 0, matchAllMethods, opts, nil)
	chain := NewChain([]Interceptor{ri}, target)
	_, err := chain.Invoke(ctx, MethodDescriptor{}, nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestRetryInterceptor_UnboundedMaxAttemptsKeepsRetryingUntilSuccess(t *testing.T) {
	calls := 0
	target := func(ctx context.Context, args []any) (any, error) {
		calls++
		if calls < 10 {
			return nil, rterrors.Unavailable("downstream", errors.New("boom"))
		}
		return "ok", nil
	}

	opts := fastRetryOptions(-1)
	ri := NewRetryInterceptor("retry", 0, matchAllMethods, opts, nil)
	chain := NewChain([]Interceptor{ri}, target)
	result, err := chain.Invoke(context.Background(), MethodDescriptor{}, nil)

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 10, calls)
}
