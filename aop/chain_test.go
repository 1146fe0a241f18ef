package aop

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingInterceptor struct {
	name    string
	order   int32
	matches func(MethodDescriptor) bool
	before  func()
	after   func(result any, err error)
}

func (r *recordingInterceptor) Name() string                     { return r.name }
func (r *recordingInterceptor) Order() int32                     { return r.order }
func (r *recordingInterceptor) Applies(m MethodDescriptor) bool  { return r.matches == nil || r.matches(m) }
func (r *recordingInterceptor) Invoke(inv *Invocation, proceed ProceedFunc) (any, error) {
	if r.before != nil {
		r.before()
	}
	result, err := proceed()
	if r.after != nil {
		r.after(result, err)
	}
	return result, err
}

func TestChain_InvokesInOrderThenTarget(t *testing.T) {
	var order []string
	first := &recordingInterceptor{name: "first", order: 0, before: func() { order = append(order, "first") }}
	second := &recordingInterceptor{name: "second", order: 1, before: func() { order = append(order, "second") }}

	target := func(ctx context.Context, args []any) (any, error) {
		order = append(order, "target")
		return "ok", nil
	}

	chain := NewChain([]Interceptor{first, second}, target)
	result, err := chain.Invoke(context.Background(), MethodDescriptor{Type: "Svc", Method: "Do"}, nil)

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, []string{"first", "second", "target"}, order)
}

func TestChain_EmptyInterceptorsCallsTargetDirectly(t *testing.T) {
	target := func(ctx context.Context, args []any) (any, error) {
		return 42, nil
	}
	chain := NewChain(nil, target)
	result, err := chain.Invoke(context.Background(), MethodDescriptor{}, nil)
	require.NoError(t, err)
	assert.Equal(t, 42, result)
}

func TestChain_InterceptorCanShortCircuitWithoutProceeding(t *testing.T) {
	calledTarget := false
	target := func(ctx context.Context, args []any) (any, error) {
		calledTarget = true
		return nil, nil
	}

	blocking := &blockingInterceptor{}
	chain := NewChain([]Interceptor{blocking}, target)
	_, err := chain.Invoke(context.Background(), MethodDescriptor{}, nil)

	assert.Error(t, err)
	assert.False(t, calledTarget)
}

type blockingInterceptor struct{}

func (blockingInterceptor) Name() string                    { return "blocking" }
func (blockingInterceptor) Order() int32                    { return 0 }
func (blockingInterceptor) Applies(MethodDescriptor) bool   { return true }
func (blockingInterceptor) Invoke(inv *Invocation, proceed ProceedFunc) (any, error) {
	return nil, errors.New("blocked")
}

func TestChain_RetryInterceptorCallsProceedMultipleTimes(t *testing.T) {
	attempts := 0
	target := func(ctx context.Context, args []any) (any, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("transient")
		}
		return "done", nil
	}

	retrying := &manualRetryInterceptor{maxAttempts: 3}
	chain := NewChain([]Interceptor{retrying}, target)
	result, err := chain.Invoke(context.Background(), MethodDescriptor{}, nil)

	require.NoError(t, err)
	assert.Equal(t, "done", result)
	assert.Equal(t, 3, attempts)
}

type manualRetryInterceptor struct {
	maxAttempts int
}

func (m *manualRetryInterceptor) Name() string                   { return "manual-retry" }
func (m *manualRetryInterceptor) Order() int32                   { return 0 }
func (m *manualRetryInterceptor) Applies(MethodDescriptor) bool  { return true }
func (m *manualRetryInterceptor) Invoke(inv *Invocation, proceed ProceedFunc) (any, error) {
	var lastErr error
	for i := 0; i < m.maxAttempts; i++ {
		result, err := proceed()
		if err == nil {
			return result, nil
		}
		lastErr = err
	}
	return nil, lastErr
}
