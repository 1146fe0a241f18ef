// Package aop implements the interceptor runtime: tenant-scoped registries
// (C2), the invocation chain dispatcher (C3), and the resilience
// interceptors (C4) built on top of it.
package aop

import (
	"context"

	"github.com/legacy-lands/aspectrt/aop/pointcut"
)

// MethodDescriptor identifies an interceptable method for both pointcut
// matching and invocation dispatch.
type MethodDescriptor = pointcut.MethodDescriptor

// TargetFunc is the terminal call at the end of an invocation chain.
type TargetFunc func(ctx context.Context, args []any) (any, error)

// ProceedFunc advances the chain by exactly one step when called.
type ProceedFunc func() (any, error)

// Invocation carries everything an interceptor needs to observe or
// transform a single call.
type Invocation struct {
	Ctx    context.Context
	Method MethodDescriptor
	// Args is mutable: an interceptor may rewrite it before calling proceed.
	Args []any
}

// Interceptor wraps a call with a cross-cutting concern. Order controls
// dispatch position (ascending); Applies decides whether this interceptor
// participates in a given method's chain.
type Interceptor interface {
	Name() string
	Order() int32
	Applies(MethodDescriptor) bool
	Invoke(inv *Invocation, proceed ProceedFunc) (any, error)
}

// Chain is a compiled, ordered sequence of interceptors terminated by a
// target call. It is built once per method descriptor and reused across
// invocations; it carries no per-call state of its own.
type Chain struct {
	interceptors []Interceptor
	target       TargetFunc
}

// NewChain assembles a chain from interceptors already sorted by Order
// (ascending, stable on ties — callers get this ordering for free from
// Registry.Resolve).
func NewChain(interceptors []Interceptor, target TargetFunc) *Chain {
	return &Chain{interceptors: interceptors, target: target}
}

// Invoke dispatches a single call through the chain. The chain is
// single-threaded by default: each interceptor calls proceed 0..N times; a
// retry interceptor calling proceed more than once re-enters the remainder
// of the chain (including any later interceptors) that many times.
func (c *Chain) Invoke(ctx context.Context, method MethodDescriptor, args []any) (any, error) {
	inv := &Invocation{Ctx: ctx, Method: method, Args: args}
	return c.invokeFrom(0, inv)
}

func (c *Chain) invokeFrom(index int, inv *Invocation) (any, error) {
	if index >= len(c.interceptors) {
		return c.target(inv.Ctx, inv.Args)
	}
	current := c.interceptors[index]
	proceed := func() (any, error) {
		return c.invokeFrom(index+1, inv)
	}
	return current.Invoke(inv, proceed)
}
