// Package streambus implements the per-service Redis stream bus (C7) and
// the resilient consumer wrapper (C8) that retries and compensates around
// accepter failures.
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

// Built-in cross-instance sync action names (section 4.7).
const (
	ActionPlayerDataSyncUUID   = "player-data-sync-uuid"
	ActionPlayerDataSyncName   = "player-data-sync-name"
	ActionPlayerDataUpdateUUID = "player-data-update-uuid"
	ActionPlayerDataUpdateName = "player-data-update-name"
	ActionEntityDataUpdate     = "entity-data-update"
)

// expirationField is the fixed field name carrying a message's absolute
// unix-millis deadline.
const expirationField = "expiration-time"

// Message is one stream entry: the action-name field holding the payload,
// plus the expiration deadline.
type Message struct {
	ID         string
	Action     string
	Payload    string
	Expiration time.Time
}

func (m Message) expired() bool {
	return !m.Expiration.IsZero() && time.Now().After(m.Expiration)
}

// Accepter handles messages for one or more actions.
type Accepter struct {
	// ActionName filters dispatch; empty matches every action.
	ActionName string
	// RecordLimit, when true, adds the message id to the dedup set after
	// this accepter runs (success or failure) so it is never redelivered
	// to this accepter again.
	RecordLimit bool
	Handle      func(ctx context.Context, msg Message) error
}

func (a Accepter) matches(action string) bool {
	return a.ActionName == "" || a.ActionName == action
}

// Bus wraps a *redis.Client with one stream per service, polling with
// XRANGE on a ticker and tracking the last observed id locally rather than
// through a consumer group — the spec's dedup/record-limit semantics are
// per-process, not per-consumer-group.
type Bus struct {
	client      *redis.Client
	serviceName string
	logger      *logging.Logger

	mu        sync.Mutex
	accepters []Accepter
	lastID    string
	dedup     map[string]struct{}

	ticker *time.Ticker
	done   chan struct{}
}

func NewBus(client *redis.Client, serviceName string, logger *logging.Logger) *Bus {
	if logger == nil {
		logger = logging.Default()
	}
	return &Bus{client: client, serviceName: serviceName, logger: logger, lastID: "0", dedup: make(map[string]struct{})}
}

func (b *Bus) streamKey() string {
	return fmt.Sprintf("stream|%s", b.serviceName)
}

// RegisterAccepter adds an accepter to the dispatch list.
func (b *Bus) RegisterAccepter(a Accepter) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.accepters = append(b.accepters, a)
}

// Publish wraps writing one entry onto the service's stream. Completion of
// this call implies publication, not execution by any consumer.
func (b *Bus) Publish(ctx context.Context, action, payload string, ttl time.Duration) error {
	values := map[string]interface{}{action: payload}
	if ttl > 0 {
		values[expirationField] = time.Now().Add(ttl).UnixMilli()
	}
	if err := b.client.XAdd(ctx, &redis.XAddArgs{Stream: b.streamKey(), Values: values}).Err(); err != nil {
		return rterrors.Unavailable("stream-bus", err)
	}
	return nil
}

// StartPolling launches the per-service polling loop on the given interval,
// reading messages greater than all previously observed ids via XRANGE.
func (b *Bus) StartPolling(ctx context.Context, interval time.Duration) {
	b.ticker = time.NewTicker(interval)
	b.done = make(chan struct{})
	go func() {
		for {
			select {
			case <-b.ticker.C:
				b.poll(ctx)
			case <-ctx.Done():
				return
			case <-b.done:
				return
			}
		}
	}()
}

// Stop halts the polling loop.
func (b *Bus) Stop() {
	if b.ticker != nil {
		b.ticker.Stop()
	}
	if b.done != nil {
		close(b.done)
	}
}

func (b *Bus) poll(ctx context.Context) {
	b.mu.Lock()
	lastID := b.lastID
	b.mu.Unlock()

	results, err := b.client.XRange(ctx, b.streamKey(), "("+lastID, "+").Result()
	if err != nil {
		b.logger.Warn(ctx, "stream poll failed", map[string]interface{}{"service": b.serviceName, "error": err.Error()})
		return
	}

	for _, raw := range results {
		msg := parseMessage(raw)
		b.mu.Lock()
		b.lastID = raw.ID
		_, seen := b.dedup[msg.ID]
		b.mu.Unlock()

		if seen {
			continue
		}
		if msg.expired() {
			b.ack(ctx, msg.ID)
			continue
		}
		b.dispatch(ctx, msg)
	}
}

func parseMessage(raw redis.XMessage) Message {
	msg := Message{ID: raw.ID}
	for field, value := range raw.Values {
		if field == expirationField {
			if ms, ok := toInt64(value); ok {
				msg.Expiration = time.UnixMilli(ms)
			}
			continue
		}
		msg.Action = field
		if s, ok := value.(string); ok {
			msg.Payload = s
		}
	}
	return msg
}

func toInt64(v interface{}) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case float64:
		return int64(x), true
	case string:
		var n int64
		if _, err := fmt.Sscanf(x, "%d", &n); err == nil {
			return n, true
		}
	}
	return 0, false
}

func (b *Bus) dispatch(ctx context.Context, msg Message) {
	b.mu.Lock()
	accepters := make([]Accepter, len(b.accepters))
	copy(accepters, b.accepters)
	b.mu.Unlock()

	for _, a := range accepters {
		if !a.matches(msg.Action) {
			continue
		}
		err := a.Handle(ctx, msg)
		if err != nil {
			b.logger.Warn(ctx, "accepter failed", map[string]interface{}{"action": msg.Action, "message_id": msg.ID, "error": err.Error()})
		}
		if a.RecordLimit {
			b.mu.Lock()
			b.dedup[msg.ID] = struct{}{}
			b.mu.Unlock()
		}
	}
}

// ack removes the message from the stream on successful processing.
func (b *Bus) ack(ctx context.Context, id string) {
	if err := b.client.XDel(ctx, b.streamKey(), id).Err(); err != nil {
		b.logger.Warn(ctx, "stream ack failed", map[string]interface{}{"message_id": id, "error": err.Error()})
	}
}

// Ack is the exported form of ack, for accepters that complete asynchronously.
func (b *Bus) Ack(ctx context.Context, id string) {
	b.ack(ctx, id)
}
