// Package health exposes liveness and readiness endpoints over the
// service's backing dependencies: the session store, the pub/sub cache,
// and the chunk object store.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// StorageHealthChecker is satisfied by any chunk store that can probe its
// backing service.
type StorageHealthChecker interface {
	HealthCheck(ctx context.Context) error
}

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

// CheckFunc probes one dependency.
type CheckFunc func(ctx context.Context) error

type ComponentHealth struct {
	Name    string `json:"name"`
	Status  Status `json:"status"`
	Latency int64  `json:"latency_ms"`
	Error   string `json:"error,omitempty"`
}

type HealthResponse struct {
	Status     Status            `json:"status"`
	Components []ComponentHealth `json:"components,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// Checker runs a named set of dependency probes concurrently.
type Checker struct {
	mu     sync.Mutex
	checks map[string]CheckFunc
}

// NewChecker registers probes for the session store and cache when their
// clients are non-nil; tests pass nil for dependencies they don't stand up.
func NewChecker(pool *pgxpool.Pool, redisClient *redis.Client) *Checker {
	c := &Checker{checks: map[string]CheckFunc{}}
	if pool != nil {
		c.Register("database", func(ctx context.Context) error { return pool.Ping(ctx) })
	}
	if redisClient != nil {
		c.Register("redis", func(ctx context.Context) error { return redisClient.Ping(ctx).Err() })
	}
	return c
}

// Register adds a named probe.
func (c *Checker) Register(name string, check CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// WithStorage registers the chunk store's probe. Chainable for wiring.
func (c *Checker) WithStorage(s StorageHealthChecker) *Checker {
	if s != nil {
		c.Register("storage", s.HealthCheck)
	}
	return c
}

// CheckAll runs every registered probe concurrently under one deadline.
func (c *Checker) CheckAll(ctx context.Context) HealthResponse {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	c.mu.Lock()
	checks := make(map[string]CheckFunc, len(c.checks))
	for name, check := range c.checks {
		checks[name] = check
	}
	c.mu.Unlock()

	var wg sync.WaitGroup
	var mu sync.Mutex
	components := make([]ComponentHealth, 0, len(checks))

	for name, check := range checks {
		wg.Add(1)
		go func(name string, check CheckFunc) {
			defer wg.Done()
			comp := runCheck(ctx, name, check)
			mu.Lock()
			components = append(components, comp)
			mu.Unlock()
		}(name, check)
	}
	wg.Wait()

	status := StatusHealthy
	for _, comp := range components {
		if comp.Status == StatusUnhealthy {
			status = StatusUnhealthy
			break
		}
	}

	return HealthResponse{
		Status:     status,
		Components: components,
		Timestamp:  time.Now(),
	}
}

func runCheck(ctx context.Context, name string, check CheckFunc) ComponentHealth {
	start := time.Now()
	err := check(ctx)
	comp := ComponentHealth{
		Name:    name,
		Status:  StatusHealthy,
		Latency: time.Since(start).Milliseconds(),
	}
	if err != nil {
		comp.Status = StatusUnhealthy
		comp.Error = err.Error()
	}
	return comp
}

// LivenessHandler reports only that the process is serving requests.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	}
}

// ReadinessHandler reports whether every backing dependency is reachable.
func ReadinessHandler(checker *Checker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := checker.CheckAll(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if resp.Status == StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(resp)
	}
}

// HealthHandler is the combined endpoint most deployments point probes at.
func HealthHandler(checker *Checker) http.HandlerFunc {
	return ReadinessHandler(checker)
}
