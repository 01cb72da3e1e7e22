package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"qwenstudio/internal/imagegen"
)

// DefaultTTL bounds how long a snapshot outlives its last update.
const DefaultTTL = 30 * time.Minute

const keyPrefix = "generation:snapshot:"

// ErrMiss is returned when no snapshot is cached for a session.
var ErrMiss = errors.New("cache: snapshot not found")

type redisAPI interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// SnapshotCache shares session snapshots between API replicas.
type SnapshotCache struct {
	client redisAPI
	closer func() error
	ttl    time.Duration
}

// Connect dials addr and verifies the connection with a ping.
func Connect(ctx context.Context, addr string, ttl time.Duration) (*SnapshotCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		PoolSize:     10,
		MinIdleConns: 2,
		PoolTimeout:  5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("cache: ping redis: %w", err)
	}

	c := New(client, ttl)
	c.closer = client.Close
	return c, nil
}

// New wraps an existing client.
func New(client redisAPI, ttl time.Duration) *SnapshotCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &SnapshotCache{client: client, ttl: ttl}
}

func snapshotKey(id string) string {
	return keyPrefix + id
}

// Put stores state for the session id and refreshes its TTL.
func (c *SnapshotCache) Put(ctx context.Context, id string, state imagegen.State) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("cache: encode snapshot: %w", err)
	}
	if err := c.client.Set(ctx, snapshotKey(id), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache: set snapshot: %w", err)
	}
	return nil
}

// Get returns the cached state of a session or ErrMiss.
func (c *SnapshotCache) Get(ctx context.Context, id string) (imagegen.State, error) {
	raw, err := c.client.Get(ctx, snapshotKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return imagegen.State{}, ErrMiss
		}
		return imagegen.State{}, fmt.Errorf("cache: get snapshot: %w", err)
	}
	var state imagegen.State
	if err := json.Unmarshal(raw, &state); err != nil {
		return imagegen.State{}, fmt.Errorf("cache: decode snapshot: %w", err)
	}
	return state, nil
}

// Delete forgets a session.
func (c *SnapshotCache) Delete(ctx context.Context, id string) error {
	if err := c.client.Del(ctx, snapshotKey(id)).Err(); err != nil {
		return fmt.Errorf("cache: delete snapshot: %w", err)
	}
	return nil
}

// Close releases the connection pool when the cache owns it.
func (c *SnapshotCache) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer()
}
