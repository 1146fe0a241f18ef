package entity

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	rterrors "github.com/legacy-lands/aspectrt/infrastructure/errors"
)

// DefaultL2TTL is the default shared-cache entry lifetime.
const DefaultL2TTL = 30 * time.Minute

// L2 is the shared remote cache tier, keyed by "entity|<serviceName>|<uuid>"
// with a "lock|<serviceName>|<uuid>" SETNX-based named lock per key, backed
// by github.com/go-redis/redis/v8.
type L2 struct {
	client      *redis.Client
	serviceName string
	ttl         time.Duration
}

func NewL2(client *redis.Client, serviceName string, ttl time.Duration) *L2 {
	if ttl <= 0 {
		ttl = DefaultL2TTL
	}
	return &L2{client: client, serviceName: serviceName, ttl: ttl}
}

func (l *L2) entityKey(uuid string) string {
	return fmt.Sprintf("entity|%s|%s", l.serviceName, uuid)
}

func (l *L2) lockKey(uuid string) string {
	return fmt.Sprintf("lock|%s|%s", l.serviceName, uuid)
}

// Get deserialises the entity from the shared cache. Returns rterrors.CacheMiss
// when the key is absent.
func (l *L2) Get(ctx context.Context, uuid string) (*Entity, error) {
	raw, err := l.client.Get(ctx, l.entityKey(uuid)).Bytes()
	if err == redis.Nil {
		return nil, rterrors.CacheMiss(uuid)
	}
	if err != nil {
		return nil, rterrors.Unavailable("l2-cache", err)
	}
	var e Entity
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, rterrors.Serialization("l2-decode", err)
	}
	return &e, nil
}

// Set serialises and writes the entity with the configured TTL.
func (l *L2) Set(ctx context.Context, e *Entity) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return rterrors.Serialization("l2-encode", err)
	}
	if err := l.client.Set(ctx, l.entityKey(e.UUID), raw, l.ttl).Err(); err != nil {
		return rterrors.Unavailable("l2-cache", err)
	}
	return nil
}

// Delete removes the cache entry for uuid.
func (l *L2) Delete(ctx context.Context, uuid string) error {
	return l.client.Del(ctx, l.entityKey(uuid)).Err()
}

// WithLock acquires a SETNX-based named lock for uuid, runs fn, and always
// releases the lock afterward.
func (l *L2) WithLock(ctx context.Context, uuid string, leaseTTL time.Duration, fn func(ctx context.Context) error) error {
	key := l.lockKey(uuid)
	ok, err := l.client.SetNX(ctx, key, 1, leaseTTL).Result()
	if err != nil {
		return rterrors.Unavailable("l2-lock", err)
	}
	if !ok {
		return rterrors.ConcurrencyConflict(uuid)
	}
	defer l.client.Del(ctx, key)
	return fn(ctx)
}
