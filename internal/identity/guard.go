package identity

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Guard keeps the provider's short-lived security state: failed sign-in
// counters and revoked token IDs.
type Guard interface {
	Failures(ctx context.Context, email string) (int, error)
	RecordFailure(ctx context.Context, email string, window time.Duration) error
	ResetFailures(ctx context.Context, email string) error
	Revoke(ctx context.Context, tokenID string, ttl time.Duration) error
	Revoked(ctx context.Context, tokenID string) (bool, error)
}

func failureKey(email string) string {
	return "qssma:auth:failures:" + strings.ToLower(email)
}

func revokedKey(tokenID string) string {
	return "qssma:auth:revoked:" + tokenID
}

// RedisGuard shares guard state between every device.
type RedisGuard struct {
	client *redis.Client
}

func NewRedisGuard(client *redis.Client) *RedisGuard {
	return &RedisGuard{client: client}
}

func (g *RedisGuard) Failures(ctx context.Context, email string) (int, error) {
	n, err := g.client.Get(ctx, failureKey(email)).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read failures: %w", err)
	}
	return n, nil
}

// RecordFailure increments the counter. The window starts at the first
// failure and is not extended by later ones.
func (g *RedisGuard) RecordFailure(ctx context.Context, email string, window time.Duration) error {
	key := failureKey(email)
	pipe := g.client.TxPipeline()
	pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record failure: %w", err)
	}
	return nil
}

func (g *RedisGuard) ResetFailures(ctx context.Context, email string) error {
	if err := g.client.Del(ctx, failureKey(email)).Err(); err != nil {
		return fmt.Errorf("reset failures: %w", err)
	}
	return nil
}

func (g *RedisGuard) Revoke(ctx context.Context, tokenID string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := g.client.Set(ctx, revokedKey(tokenID), 1, ttl).Err(); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

func (g *RedisGuard) Revoked(ctx context.Context, tokenID string) (bool, error) {
	n, err := g.client.Exists(ctx, revokedKey(tokenID)).Result()
	if err != nil {
		return false, fmt.Errorf("check revocation: %w", err)
	}
	return n > 0, nil
}

// MemoryGuard is a single-process Guard.
type MemoryGuard struct {
	mu       sync.Mutex
	now      func() time.Time
	failures map[string]memoryCounter
	revoked  map[string]time.Time
}

type memoryCounter struct {
	n         int
	expiresAt time.Time
}

func NewMemoryGuard(now func() time.Time) *MemoryGuard {
	if now == nil {
		now = time.Now
	}
	return &MemoryGuard{
		now:      now,
		failures: make(map[string]memoryCounter),
		revoked:  make(map[string]time.Time),
	}
}

func (g *MemoryGuard) Failures(_ context.Context, email string) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.failures[failureKey(email)]
	if !ok || !g.now().Before(c.expiresAt) {
		return 0, nil
	}
	return c.n, nil
}

func (g *MemoryGuard) RecordFailure(_ context.Context, email string, window time.Duration) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	key := failureKey(email)
	now := g.now()
	c, ok := g.failures[key]
	if !ok || !now.Before(c.expiresAt) {
		c = memoryCounter{expiresAt: now.Add(window)}
	}
	c.n++
	g.failures[key] = c
	return nil
}

func (g *MemoryGuard) ResetFailures(_ context.Context, email string) error {
	g.mu.Lock()
	delete(g.failures, failureKey(email))
	g.mu.Unlock()
	return nil
}

func (g *MemoryGuard) Revoke(_ context.Context, tokenID string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	g.mu.Lock()
	g.revoked[tokenID] = g.now().Add(ttl)
	g.mu.Unlock()
	return nil
}

func (g *MemoryGuard) Revoked(_ context.Context, tokenID string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	until, ok := g.revoked[tokenID]
	if !ok {
		return false, nil
	}
	if !g.now().Before(until) {
		delete(g.revoked, tokenID)
		return false, nil
	}
	return true, nil
}
