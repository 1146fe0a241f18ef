package streambus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rterrors "github.com/legacy-lands/aspectrt/infrastructure/errors"
)

func TestLocalRetryCounter_IncrementsAndResets(t *testing.T) {
	c := NewLocalRetryCounter()
	n, err := c.Increment(context.Background(), "m1", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, _ = c.Increment(context.Background(), "m1", 0)
	assert.Equal(t, 2, n)

	require.NoError(t, c.Reset(context.Background(), "m1"))
	n, _ = c.Increment(context.Background(), "m1", 0)
	assert.Equal(t, 1, n)
}

func TestResilientConsumer_SucceedsOnSecondAttempt(t *testing.T) {
	bus := NewBus(nil, "entity-service", nil)
	counter := NewLocalRetryCounter()
	policy := RetryPolicy{MaxAttempts: 3, Delay: time.Millisecond}
	rc := NewResilientConsumer(bus, counter, policy, nil)

	attempts := 0
	handle := rc.Wrap(ActionEntityDataUpdate, func(ctx context.Context, msg Message) error {
		attempts++
		if attempts < 2 {
			return rterrors.Unavailable("downstream", errors.New("boom"))
		}
		return nil
	})

	err := handle(context.Background(), Message{ID: "1-0", Action: ActionEntityDataUpdate})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestResilientConsumer_ExhaustsRetriesThenCompensates(t *testing.T) {
	bus := NewBus(nil, "entity-service", nil)
	counter := NewLocalRetryCounter()

	var compensated bool
	policy := RetryPolicy{
		MaxAttempts:   2,
		Delay:         time.Millisecond,
		Compensations: []CompensationPrimitive{CompensationLogFailure},
		OnCompensate: func(ctx context.Context, fc FailureContext, primitive CompensationPrimitive) error {
			compensated = true
			return nil
		},
	}
	rc := NewResilientConsumer(bus, counter, policy, nil)

	handle := rc.Wrap(ActionEntityDataUpdate, func(ctx context.Context, msg Message) error {
		return rterrors.Unavailable("downstream", errors.New("always fails"))
	})

	err := handle(context.Background(), Message{ID: "2-0", Action: ActionEntityDataUpdate})
	assert.Error(t, err)
	assert.False(t, compensated, "LOG_FAILURE is handled internally and does not call OnCompensate")
}

func TestResilientConsumer_IgnoredKindSkipsRetry(t *testing.T) {
	bus := NewBus(nil, "entity-service", nil)
	counter := NewLocalRetryCounter()

	var compensateCalls int
	policy := RetryPolicy{
		MaxAttempts:      5,
		Delay:            time.Millisecond,
		IgnoreExceptions: []rterrors.Kind{rterrors.KindValidationFailure},
		Compensations:    []CompensationPrimitive{CompensationPrimitive("custom")},
		OnCompensate: func(ctx context.Context, fc FailureContext, primitive CompensationPrimitive) error {
			compensateCalls++
			return nil
		},
	}
	rc := NewResilientConsumer(bus, counter, policy, nil)

	attempts := 0
	handle := rc.Wrap(ActionEntityDataUpdate, func(ctx context.Context, msg Message) error {
		attempts++
		return rterrors.ValidationFailure("field", "bad value")
	})

	err := handle(context.Background(), Message{ID: "3-0", Action: ActionEntityDataUpdate})
	assert.Error(t, err)
	assert.Equal(t, 1, attempts, "an ignored exception kind must not be retried")
	assert.Equal(t, 1, compensateCalls)
}

func TestMessage_Expired(t *testing.T) {
	m := Message{Expiration: time.Now().Add(-time.Minute)}
	assert.True(t, m.expired())

	m2 := Message{Expiration: time.Now().Add(time.Minute)}
	assert.False(t, m2.expired())

	m3 := Message{}
	assert.False(t, m3.expired(), "zero expiration means no deadline")
}
