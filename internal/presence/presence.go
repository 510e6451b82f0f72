// Package presence tracks which drivers currently hold at least one live
// driver socket. A driver with two tabs open is online until both close.
package presence

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/example/campus-rides/internal/observability"
)

type Tracker interface {
	Online(ctx context.Context, driverID string) error
	Offline(ctx context.Context, driverID string) error
	Count(ctx context.Context) (int, error)
	IsOnline(ctx context.Context, driverID string) (bool, error)
}

// RedisTracker keeps a hash of driver id to open socket count.
type RedisTracker struct {
	client *redis.Client
	key    string
}

func NewRedisTracker(client *redis.Client, key string) *RedisTracker {
	return &RedisTracker{client: client, key: key}
}

// offlineScript decrements and removes the field once it reaches zero so the
// hash length is the online count.
var offlineScript = redis.NewScript(`
local n = redis.call("HINCRBY", KEYS[1], ARGV[1], -1)
if n <= 0 then
  redis.call("HDEL", KEYS[1], ARGV[1])
  return 0
end
return n
`)

func (t *RedisTracker) Online(ctx context.Context, driverID string) error {
	if err := t.client.HIncrBy(ctx, t.key, driverID, 1).Err(); err != nil {
		return err
	}
	t.refreshGauge(ctx)
	return nil
}

func (t *RedisTracker) Offline(ctx context.Context, driverID string) error {
	if err := offlineScript.Run(ctx, t.client, []string{t.key}, driverID).Err(); err != nil {
		return err
	}
	t.refreshGauge(ctx)
	return nil
}

func (t *RedisTracker) Count(ctx context.Context) (int, error) {
	n, err := t.client.HLen(ctx, t.key).Result()
	return int(n), err
}

func (t *RedisTracker) IsOnline(ctx context.Context, driverID string) (bool, error) {
	return t.client.HExists(ctx, t.key, driverID).Result()
}

func (t *RedisTracker) Ping(ctx context.Context) error {
	return t.client.Ping(ctx).Err()
}

func (t *RedisTracker) refreshGauge(ctx context.Context) {
	if n, err := t.Count(ctx); err == nil {
		observability.DriversOnline.Set(float64(n))
	}
}

// MemoryTracker is used when no Redis address is configured.
type MemoryTracker struct {
	mu     sync.Mutex
	counts map[string]int
}

func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{counts: make(map[string]int)}
}

func (t *MemoryTracker) Online(_ context.Context, driverID string) error {
	t.mu.Lock()
	t.counts[driverID]++
	n := len(t.counts)
	t.mu.Unlock()
	observability.DriversOnline.Set(float64(n))
	return nil
}

func (t *MemoryTracker) Offline(_ context.Context, driverID string) error {
	t.mu.Lock()
	if t.counts[driverID] <= 1 {
		delete(t.counts, driverID)
	} else {
		t.counts[driverID]--
	}
	n := len(t.counts)
	t.mu.Unlock()
	observability.DriversOnline.Set(float64(n))
	return nil
}

func (t *MemoryTracker) Count(context.Context) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.counts), nil
}

func (t *MemoryTracker) IsOnline(_ context.Context, driverID string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[driverID] > 0, nil
}
