package aop

import (
	"sync"
	"time"

	rterrors "github.com/legacy-lands/aspectrt/infrastructure/errors"
)

// CircuitState is one of Closed, Open, HalfOpen.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerOptions configures section 4.4.2.
type CircuitBreakerOptions struct {
	// Name defaults to "type#method" when empty.
	Name                        string
	FailureRateThreshold        float64 // percentage, e.g. 50.0
	FailureCountThreshold       int
	MinimumNumberOfCalls        int
	SlidingWindowSize           int
	WaitDurationInOpenState     time.Duration
	PermittedCallsInHalfOpen    int
	// IgnoreExceptions are checked first: a match means "never count",
	// regardless of RecordFailurePredicate.
	IgnoreExceptions       []rterrors.Kind
	RecordFailurePredicate func(error) bool
	Fallback               func(args []any, cause error) (any, error)
}

// DefaultCircuitBreakerOptions returns count-based tripping after 5
// consecutive failures, a 10-call window, a 30s open state and 3 half-open
// permits; rate-based tripping is off (FailureRateThreshold is 0).
func DefaultCircuitBreakerOptions() CircuitBreakerOptions {
	return CircuitBreakerOptions{
		FailureCountThreshold:    5,
		MinimumNumberOfCalls:     5,
		SlidingWindowSize:        10,
		WaitDurationInOpenState:  30 * time.Second,
		PermittedCallsInHalfOpen: 3,
	}
}

// circuit holds the mutable state for one breaker name.
type circuit struct {
	mu              sync.Mutex
	state           CircuitState
	window          []bool // true = failure, bounded to SlidingWindowSize
	consecutiveFail int
	openedAt        time.Time
	halfOpenPermits int
	halfOpenSuccess int
}

// CircuitBreakerInterceptor implements section 4.4.2. A single instance
// can guard many methods at once; state is keyed per breaker name so that
// "Name defaults to type#method" fans out into independent breakers.
type CircuitBreakerInterceptor struct {
	name    string
	order   int32
	matches pointcutMatcher
	opts    CircuitBreakerOptions

	mu       sync.Mutex
	circuits map[string]*circuit
}

func NewCircuitBreakerInterceptor(name string, order int32, matches func(MethodDescriptor) bool, opts CircuitBreakerOptions) *CircuitBreakerInterceptor {
	return &CircuitBreakerInterceptor{
		name: name, order: order, matches: matches, opts: opts,
		circuits: make(map[string]*circuit),
	}
}

func (c *CircuitBreakerInterceptor) Name() string                    { return c.name }
func (c *CircuitBreakerInterceptor) Order() int32                    { return c.order }
func (c *CircuitBreakerInterceptor) Applies(m MethodDescriptor) bool { return c.matches(m) }

func (c *CircuitBreakerInterceptor) breakerName(m MethodDescriptor) string {
	if c.opts.Name != "" {
		return c.opts.Name
	}
	return m.Type + "#" + m.Method
}

func (c *CircuitBreakerInterceptor) circuitFor(name string) *circuit {
	c.mu.Lock()
	defer c.mu.Unlock()
	cb, ok := c.circuits[name]
	if !ok {
		cb = &circuit{state: CircuitClosed}
		c.circuits[name] = cb
	}
	return cb
}

// State exposes the current breaker state for a method, for tests and metrics.
func (c *CircuitBreakerInterceptor) State(m MethodDescriptor) CircuitState {
	cb := c.circuitFor(c.breakerName(m))
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (c *CircuitBreakerInterceptor) Invoke(inv *Invocation, proceed ProceedFunc) (any, error) {
	name := c.breakerName(inv.Method)
	cb := c.circuitFor(name)

	cb.mu.Lock()
	switch cb.state {
	case CircuitOpen:
		if time.Since(cb.openedAt) >= c.opts.WaitDurationInOpenState {
			cb.state = CircuitHalfOpen
			cb.halfOpenPermits = 1
			cb.halfOpenSuccess = 0
		} else {
			cb.mu.Unlock()
			if c.opts.Fallback != nil {
				return c.opts.Fallback(inv.Args, rterrors.CircuitOpen(name))
			}
			return nil, rterrors.CircuitOpen(name)
		}
	case CircuitHalfOpen:
		if cb.halfOpenPermits >= c.opts.PermittedCallsInHalfOpen {
			cb.mu.Unlock()
			if c.opts.Fallback != nil {
				return c.opts.Fallback(inv.Args, rterrors.CircuitOpen(name))
			}
			return nil, rterrors.CircuitOpen(name)
		}
		cb.halfOpenPermits++
	}
	cb.mu.Unlock()

	result, err := proceed()

	cb.mu.Lock()
	defer cb.mu.Unlock()

	counted := c.shouldCount(err)
	switch cb.state {
	case CircuitHalfOpen:
		if err != nil && counted {
			c.transition(cb, CircuitOpen)
		} else if err == nil {
			cb.halfOpenSuccess++
			if cb.halfOpenSuccess >= c.opts.PermittedCallsInHalfOpen {
				c.transition(cb, CircuitClosed)
			}
		}
	case CircuitClosed:
		if counted {
			c.recordFailure(cb)
		} else if err == nil {
			c.recordSuccess(cb)
		}
	}
	return result, err
}

// shouldCount implements the documented order: ignore first, then the
// failure predicate.
func (c *CircuitBreakerInterceptor) shouldCount(err error) bool {
	if err == nil {
		return false
	}
	kind := rterrors.KindOf(err)
	if containsKind(c.opts.IgnoreExceptions, kind) {
		return false
	}
	if c.opts.RecordFailurePredicate != nil {
		return c.opts.RecordFailurePredicate(err)
	}
	return true
}

func (c *CircuitBreakerInterceptor) recordFailure(cb *circuit) {
	cb.consecutiveFail++
	cb.window = appendBounded(cb.window, true, c.windowSize())

	if cb.consecutiveFail >= c.opts.FailureCountThreshold && c.opts.FailureCountThreshold > 0 {
		c.transition(cb, CircuitOpen)
		return
	}
	if len(cb.window) >= c.opts.MinimumNumberOfCalls && c.opts.FailureRateThreshold > 0 {
		if failureRate(cb.window) >= c.opts.FailureRateThreshold {
			c.transition(cb, CircuitOpen)
		}
	}
}

func (c *CircuitBreakerInterceptor) recordSuccess(cb *circuit) {
	cb.consecutiveFail = 0
	cb.window = appendBounded(cb.window, false, c.windowSize())
}

func (c *CircuitBreakerInterceptor) windowSize() int {
	if c.opts.SlidingWindowSize > 0 {
		return c.opts.SlidingWindowSize
	}
	return 10
}

func (c *CircuitBreakerInterceptor) transition(cb *circuit, to CircuitState) {
	cb.state = to
	cb.consecutiveFail = 0
	cb.window = nil
	cb.halfOpenPermits = 0
	cb.halfOpenSuccess = 0
	if to == CircuitOpen {
		cb.openedAt = time.Now()
	}
}

func appendBounded(window []bool, v bool, max int) []bool {
	window = append(window, v)
	if len(window) > max {
		window = window[len(window)-max:]
	}
	return window
}

func failureRate(window []bool) float64 {
	if len(window) == 0 {
		return 0
	}
	failures := 0
	for _, v := range window {
		if v {
			failures++
		}
	}
	return float64(failures) / float64(len(window)) * 100.0
}
