package streambus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	rterrors "github.com/legacy-lands/aspectrt/infrastructure/errors"
	"github.com/legacy-lands/aspectrt/infrastructure/logging"
)

// CompensationPrimitive names a built-in or composite compensation action
// run once the retry budget for a message is exhausted.
type CompensationPrimitive string

const (
	CompensationNone          CompensationPrimitive = "NONE"
	CompensationLogFailure    CompensationPrimitive = "LOG_FAILURE"
	CompensationRemoveMessage CompensationPrimitive = "REMOVE_MESSAGE"
)

// FailureContext carries everything a compensation action needs to react to
// an exhausted retry budget.
type FailureContext struct {
	StreamRef     string
	MessageID     string
	ActionName    string
	Payload       string
	AttemptNumber int
	Err           error
}

// RetryCounter tracks attempt counts for one message id. Local, Distributed,
// and Hybrid variants all satisfy this contract.
type RetryCounter interface {
	Increment(ctx context.Context, messageID string, ttl time.Duration) (int, error)
	Reset(ctx context.Context, messageID string) error
}

// LocalRetryCounter is an in-process map with optional TTL, the default
// variant for single-instance deployments.
type LocalRetryCounter struct {
	mu    sync.Mutex
	count map[string]int
	reset map[string]time.Time
}

func NewLocalRetryCounter() *LocalRetryCounter {
	return &LocalRetryCounter{count: make(map[string]int), reset: make(map[string]time.Time)}
}

func (c *LocalRetryCounter) Increment(ctx context.Context, messageID string, ttl time.Duration) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if deadline, ok := c.reset[messageID]; ok && ttl > 0 && time.Now().After(deadline) {
		delete(c.count, messageID)
	}
	c.count[messageID]++
	if ttl > 0 {
		c.reset[messageID] = time.Now().Add(ttl)
	}
	return c.count[messageID], nil
}

func (c *LocalRetryCounter) Reset(ctx context.Context, messageID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.count, messageID)
	delete(c.reset, messageID)
	return nil
}

// DistributedRetryCounter uses INCR/PEXPIRE against retry|<messageId> on the
// same *redis.Client shared with L2 and the stream bus.
type DistributedRetryCounter struct {
	client *redis.Client
}

func NewDistributedRetryCounter(client *redis.Client) *DistributedRetryCounter {
	return &DistributedRetryCounter{client: client}
}

func (c *DistributedRetryCounter) key(messageID string) string {
	return fmt.Sprintf("retry|%s", messageID)
}

func (c *DistributedRetryCounter) Increment(ctx context.Context, messageID string, ttl time.Duration) (int, error) {
	key := c.key(messageID)
	n, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, rterrors.Unavailable("retry-counter", err)
	}
	if ttl > 0 {
		c.client.PExpire(ctx, key, ttl)
	}
	return int(n), nil
}

func (c *DistributedRetryCounter) Reset(ctx context.Context, messageID string) error {
	return c.client.Del(ctx, c.key(messageID)).Err()
}

// HybridRetryCounter tries local first, falling back to distributed on
// local loss (e.g. process restart losing the in-memory count).
type HybridRetryCounter struct {
	local       *LocalRetryCounter
	distributed *DistributedRetryCounter
}

func NewHybridRetryCounter(distributed *DistributedRetryCounter) *HybridRetryCounter {
	return &HybridRetryCounter{local: NewLocalRetryCounter(), distributed: distributed}
}

func (c *HybridRetryCounter) Increment(ctx context.Context, messageID string, ttl time.Duration) (int, error) {
	n, err := c.local.Increment(ctx, messageID, ttl)
	if err == nil && n > 1 {
		return n, nil
	}
	// First local sighting: reconcile against the distributed counter in
	// case the local count was lost to a restart.
	dn, derr := c.distributed.Increment(ctx, messageID, ttl)
	if derr != nil {
		return n, nil
	}
	return dn, nil
}

func (c *HybridRetryCounter) Reset(ctx context.Context, messageID string) error {
	_ = c.local.Reset(ctx, messageID)
	return c.distributed.Reset(ctx, messageID)
}

// RetryPolicy configures the consumer wrapper's retry decision.
type RetryPolicy struct {
	MaxAttempts      int
	Delay            time.Duration
	TTL              time.Duration
	RetryOn          []rterrors.Kind
	IgnoreExceptions []rterrors.Kind
	Compensations    []CompensationPrimitive
	OnCompensate     func(ctx context.Context, fc FailureContext, primitive CompensationPrimitive) error
}

func containsKind(kinds []rterrors.Kind, k rterrors.Kind) bool {
	for _, kk := range kinds {
		if kk == k {
			return true
		}
	}
	return false
}

// ResilientConsumer wraps an Accepter's Handle with RetryPolicy's retry
// decision and compensation primitives.
type ResilientConsumer struct {
	bus     *Bus
	counter RetryCounter
	policy  RetryPolicy
	logger  *logging.Logger
}

func NewResilientConsumer(bus *Bus, counter RetryCounter, policy RetryPolicy, logger *logging.Logger) *ResilientConsumer {
	if logger == nil {
		logger = logging.Default()
	}
	return &ResilientConsumer{bus: bus, counter: counter, policy: policy, logger: logger}
}

// Wrap returns an Accepter.Handle function that retries handle according to
// the policy, scheduling the next attempt after the configured delay, and
// running compensation once the retry budget is exhausted.
func (r *ResilientConsumer) Wrap(action string, handle func(ctx context.Context, msg Message) error) func(ctx context.Context, msg Message) error {
	return func(ctx context.Context, msg Message) error {
		return r.attempt(ctx, msg, handle, 1)
	}
}

func (r *ResilientConsumer) attempt(ctx context.Context, msg Message, handle func(ctx context.Context, msg Message) error, attemptNumber int) error {
	err := handle(ctx, msg)
	if err == nil {
		_ = r.counter.Reset(ctx, msg.ID)
		return nil
	}

	kind := rterrors.KindOf(err)
	fc := FailureContext{StreamRef: r.bus.streamKey(), MessageID: msg.ID, ActionName: msg.Action, Payload: msg.Payload, AttemptNumber: attemptNumber, Err: err}

	if containsKind(r.policy.IgnoreExceptions, kind) {
		r.compensate(ctx, fc)
		return err
	}

	count, cerr := r.counter.Increment(ctx, msg.ID, r.policy.TTL)
	if cerr != nil {
		count = attemptNumber
	}

	retryAllowed := len(r.policy.RetryOn) == 0 || containsKind(r.policy.RetryOn, kind)
	if count < r.policy.MaxAttempts && retryAllowed {
		select {
		case <-time.After(r.policy.Delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		return r.attempt(ctx, msg, handle, attemptNumber+1)
	}

	r.compensate(ctx, fc)
	return err
}

// compensate runs every configured compensation primitive in order,
// continuing through the list even if an individual action fails.
func (r *ResilientConsumer) compensate(ctx context.Context, fc FailureContext) {
	primitives := r.policy.Compensations
	if len(primitives) == 0 {
		primitives = []CompensationPrimitive{CompensationNone}
	}
	for _, p := range primitives {
		switch p {
		case CompensationNone:
			continue
		case CompensationLogFailure:
			r.logger.Error(ctx, "stream message failed permanently", fc.Err, map[string]interface{}{
				"message_id": fc.MessageID, "action": fc.ActionName, "attempts": fc.AttemptNumber,
			})
		case CompensationRemoveMessage:
			r.bus.Ack(ctx, fc.MessageID)
		default:
			if r.policy.OnCompensate != nil {
				if err := r.policy.OnCompensate(ctx, fc, p); err != nil {
					r.logger.Warn(ctx, "compensation action failed", map[string]interface{}{"primitive": string(p), "error": err.Error()})
				}
			}
		}
	}
}
