package upload

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ProgressThrottle gates how often the manager writes progress to the
// session document to at most one write per second. Allow
// returns true when the caller may write now.
type ProgressThrottle interface {
	Allow(ctx context.Context, sessionID string) bool
}

// RedisProgressThrottle implements the gate with a per-session token set via
// SET ... NX PX. This
// makes the throttle correct even if two processes somehow race on the same
// session (normally impossible — recording is single-writer per tab — but
// it costs nothing to make the invariant hold regardless).
type RedisProgressThrottle struct {
	client *redis.Client
	window time.Duration
}

// NewRedisProgressThrottle constructs a throttle with the given minimum gap
// between writes.
func NewRedisProgressThrottle(client *redis.Client, window time.Duration) *RedisProgressThrottle {
	if window <= 0 {
		window = time.Second
	}
	return &RedisProgressThrottle{client: client, window: window}
}

func (t *RedisProgressThrottle) Allow(ctx context.Context, sessionID string) bool {
	key := fmt.Sprintf("progress-throttle:%s", sessionID)
	ok, err := t.client.SetNX(ctx, key, "1", t.window).Result()
	if err != nil {
		// Fail open: a missed throttle window costs an extra write, not
		// correctness (progress is monotonic regardless of cadence).
		return true
	}
	return ok
}

// localProgressThrottle is an in-process fallback for tests and for
// deployments without Redis. It mirrors the Redis token's semantics (one
// allowed write per window, per session) using a plain map.
type localProgressThrottle struct {
	mu     sync.Mutex
	window time.Duration
	last   map[string]time.Time
}

// NewLocalProgressThrottle constructs an in-memory throttle.
func NewLocalProgressThrottle(window time.Duration) ProgressThrottle {
	if window <= 0 {
		window = time.Second
	}
	return &localProgressThrottle{window: window, last: make(map[string]time.Time)}
}

func (t *localProgressThrottle) Allow(_ context.Context, sessionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	if last, ok := t.last[sessionID]; ok && now.Sub(last) < t.window {
		return false
	}
	t.last[sessionID] = now
	return true
}

// AlwaysAllow never throttles; useful for the final, forced progress write
// on finalize where the 100% mark must always land.
var AlwaysAllow ProgressThrottle = alwaysAllow{}

type alwaysAllow struct{}

func (alwaysAllow) Allow(context.Context, string) bool { return true }
