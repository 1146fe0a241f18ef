package aop

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	rterrors "github.com/legacy-lands/aspectrt/infrastructure/errors"
)

// RateLimitStrategy selects one of the four admission algorithms in
// section 4.4.3. Only TokenBucket is backed by golang.org/x/time/rate —
// the other three have distinct windowing semantics that library does not
// implement, so they are hand-rolled against the same spec algorithm.
type RateLimitStrategy int

const (
	StrategyFixedWindow RateLimitStrategy = iota
	StrategySlidingWindow
	StrategyTokenBucket
	StrategyLeakyBucket
)

// RateLimiterOptions configures section 4.4.3.
type RateLimiterOptions struct {
	Strategy RateLimitStrategy
	Limit    int
	Period   time.Duration
	// KeyFunc extracts the resolved key from call arguments; nil means a
	// single shared bucket for the method.
	KeyFunc        func(args []any) string
	WaitForNextSlot bool
	MaxWaitTime     time.Duration
	Fallback        func(args []any, cause error) (any, error)
}

type windowState struct {
	mu            sync.Mutex
	windowStart   time.Time
	currentCount  int
	previousCount int
}

type leakyState struct {
	mu       sync.Mutex
	level    float64
	lastLeak time.Time
}

// RateLimiterInterceptor implements section 4.4.3, keyed by (method, resolvedKey).
type RateLimiterInterceptor struct {
	name    string
	order   int32
	matches pointcutMatcher
	opts    RateLimiterOptions

	mu       sync.Mutex
	windows  map[string]*windowState
	buckets  map[string]*rate.Limiter
	leaky    map[string]*leakyState
}

func NewRateLimiterInterceptor(name string, order int32, matches func(MethodDescriptor) bool, opts RateLimiterOptions) *RateLimiterInterceptor {
	return &RateLimiterInterceptor{
		name: name, order: order, matches: matches, opts: opts,
		windows: make(map[string]*windowState),
		buckets: make(map[string]*rate.Limiter),
		leaky:   make(map[string]*leakyState),
	}
}

func (r *RateLimiterInterceptor) Name() string                    { return r.name }
func (r *RateLimiterInterceptor) Order() int32                    { return r.order }
func (r *RateLimiterInterceptor) Applies(m MethodDescriptor) bool { return r.matches(m) }

func (r *RateLimiterInterceptor) keyFor(m MethodDescriptor, args []any) string {
	resolved := ""
	if r.opts.KeyFunc != nil {
		resolved = r.opts.KeyFunc(args)
	}
	return m.Type + "#" + m.Method + "|" + resolved
}

func (r *RateLimiterInterceptor) Invoke(inv *Invocation, proceed ProceedFunc) (any, error) {
	key := r.keyFor(inv.Method, inv.Args)

	allowed := r.admit(key)
	if !allowed && r.opts.WaitForNextSlot {
		deadline := time.Now().Add(r.opts.MaxWaitTime)
		for time.Now().Before(deadline) {
			time.Sleep(minDuration(10*time.Millisecond, r.opts.Period))
			if r.admit(key) {
				allowed = true
				break
			}
		}
	}

	if !allowed {
		if r.opts.Fallback != nil {
			return r.opts.Fallback(inv.Args, rterrors.RateLimitExceeded(r.opts.Limit, r.opts.Period.String()))
		}
		return nil, rterrors.RateLimitExceeded(r.opts.Limit, r.opts.Period.String())
	}
	return proceed()
}

func (r *RateLimiterInterceptor) admit(key string) bool {
	switch r.opts.Strategy {
	case StrategyFixedWindow:
		return r.admitFixedWindow(key)
	case StrategySlidingWindow:
		return r.admitSlidingWindow(key)
	case StrategyTokenBucket:
		return r.admitTokenBucket(key)
	case StrategyLeakyBucket:
		return r.admitLeakyBucket(key)
	default:
		return r.admitFixedWindow(key)
	}
}

func (r *RateLimiterInterceptor) windowFor(key string) *windowState {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.windows[key]
	if !ok {
		w = &windowState{windowStart: time.Now()}
		r.windows[key] = w
	}
	return w
}

func (r *RateLimiterInterceptor) admitFixedWindow(key string) bool {
	w := r.windowFor(key)
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	if now.Sub(w.windowStart) >= r.opts.Period {
		w.windowStart = now
		w.previousCount = w.currentCount
		w.currentCount = 0
	}
	if w.currentCount+1 > r.opts.Limit {
		return false
	}
	w.currentCount++
	return true
}

func (r *RateLimiterInterceptor) admitSlidingWindow(key string) bool {
	w := r.windowFor(key)
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(w.windowStart)
	if elapsed >= r.opts.Period {
		rotations := int64(elapsed / r.opts.Period)
		if rotations == 1 {
			w.previousCount = w.currentCount
		} else {
			w.previousCount = 0
		}
		w.currentCount = 0
		w.windowStart = w.windowStart.Add(time.Duration(rotations) * r.opts.Period)
		elapsed = now.Sub(w.windowStart)
	}

	progress := float64(elapsed) / float64(r.opts.Period)
	if progress > 1 {
		progress = 1
	}
	weighted := float64(w.previousCount)*(1-progress) + float64(w.currentCount)
	if weighted+1 > float64(r.opts.Limit) {
		return false
	}
	w.currentCount++
	return true
}

func (r *RateLimiterInterceptor) admitTokenBucket(key string) bool {
	r.mu.Lock()
	limiter, ok := r.buckets[key]
	if !ok {
		perSecond := float64(r.opts.Limit) / r.opts.Period.Seconds()
		limiter = rate.NewLimiter(rate.Limit(perSecond), r.opts.Limit)
		r.buckets[key] = limiter
	}
	r.mu.Unlock()
	return limiter.Allow()
}

func (r *RateLimiterInterceptor) admitLeakyBucket(key string) bool {
	r.mu.Lock()
	state, ok := r.leaky[key]
	if !ok {
		state = &leakyState{lastLeak: time.Now()}
		r.leaky[key] = state
	}
	r.mu.Unlock()

	state.mu.Lock()
	defer state.mu.Unlock()

	now := time.Now()
	leakRate := float64(r.opts.Limit) / r.opts.Period.Seconds()
	elapsed := now.Sub(state.lastLeak).Seconds()
	state.level -= elapsed * leakRate
	if state.level < 0 {
		state.level = 0
	}
	state.lastLeak = now

	if state.level+1 > float64(r.opts.Limit) {
		return false
	}
	state.level++
	return true
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
