// Package httpapi is the HTTP surface a recording tab drives: loading and
// validating its session, streaming chunk uploads, publishing state
// transitions, and watching for out-of-band session changes over SSE.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/rcowellai/recording-app-sub000/internal/apperror"
	"github.com/rcowellai/recording-app-sub000/internal/health"
	"github.com/rcowellai/recording-app-sub000/internal/metrics"
	"github.com/rcowellai/recording-app-sub000/internal/session"
	"github.com/rcowellai/recording-app-sub000/internal/storage"
)

// SessionService is the slice of the session client the handlers need.
type SessionService interface {
	Load(ctx context.Context, sessionID string) (*session.Session, error)
	Validate(sess *session.Session, userID, promptID string) session.ValidationFailure
	Transition(ctx context.Context, sessionID string, fromExpected, to session.Status, patch session.Patch) error
	ReportProgress(ctx context.Context, sessionID string, progress session.RecordingData) error
	SetChunksFolder(ctx context.Context, sessionID, folder string) error
	ReportError(ctx context.Context, sessionID string, fromExpected session.Status, appErr *apperror.Error) error
}

// SessionWatcher delivers out-of-band session changes for the SSE stream.
type SessionWatcher interface {
	Watch(ctx context.Context, sessionID string, knownStatus session.Status) <-chan session.Change
}

// Notifier pokes other tabs' watchers after a write. Nil disables it.
type Notifier interface {
	Notify(ctx context.Context, sessionID string)
}

// RedisNotifier publishes change notifications on the per-session channel
// the watcher subscribes to.
type RedisNotifier struct {
	Client *redis.Client
}

func (n *RedisNotifier) Notify(ctx context.Context, sessionID string) {
	_ = session.PublishChange(ctx, n.Client, sessionID)
}

// Config wires the handlers' collaborators.
type Config struct {
	Sessions SessionService
	Watcher  SessionWatcher
	Storage  storage.Storage
	Notifier Notifier

	// MaxChunkSize caps a single chunk upload body. Zero means the default
	// of 64 MiB, comfortably above anything a 45-second slice produces.
	MaxChunkSize int64

	// MaxLinkAge rejects session identifiers minted further in the past
	// than this. Zero disables the check.
	MaxLinkAge time.Duration

	// Engine is handed to every tab with its session so the in-browser
	// capture engine runs with server-chosen timing.
	Engine EngineDefaults

	// Pool and RedisClient feed the readiness checker; either may be nil
	// in tests.
	Pool        *pgxpool.Pool
	RedisClient *redis.Client
}

// EngineDefaults are the capture-engine tunables the server dictates.
type EngineDefaults struct {
	ChunkCadenceSeconds    int `json:"chunk_cadence_seconds"`
	CountdownSeconds       int `json:"countdown_seconds"`
	DurationWarningSeconds int `json:"duration_warning_seconds"`
	UploadConcurrency      int `json:"upload_concurrency"`
}

// DefaultEngineDefaults matches the production defaults.
func DefaultEngineDefaults() EngineDefaults {
	return EngineDefaults{
		ChunkCadenceSeconds:    45,
		CountdownSeconds:       3,
		DurationWarningSeconds: 60,
		UploadConcurrency:      3,
	}
}

const defaultMaxChunkSize = 64 << 20

// NewRouter builds the full handler tree, health and metrics included.
func NewRouter(cfg *Config) http.Handler {
	if cfg.MaxChunkSize <= 0 {
		cfg.MaxChunkSize = defaultMaxChunkSize
	}
	if cfg.Engine == (EngineDefaults{}) {
		cfg.Engine = DefaultEngineDefaults()
	}

	mux := http.NewServeMux()

	checker := health.NewChecker(cfg.Pool, cfg.RedisClient).WithStorage(cfg.Storage)
	mux.HandleFunc("GET /health", health.HealthHandler(checker))
	mux.HandleFunc("GET /health/live", health.LivenessHandler())
	mux.HandleFunc("GET /health/ready", health.ReadinessHandler(checker))

	mux.HandleFunc("GET /r/{sessionId}", GetSessionHandler(cfg))
	mux.HandleFunc("POST /r/{sessionId}/start", StartRecordingHandler(cfg))
	mux.HandleFunc("POST /r/{sessionId}/chunks/{index}", UploadChunkHandler(cfg))
	mux.HandleFunc("POST /r/{sessionId}/submit", SubmitHandler(cfg))
	mux.HandleFunc("POST /r/{sessionId}/complete", CompleteHandler(cfg))
	mux.HandleFunc("POST /r/{sessionId}/start-over", StartOverHandler(cfg))
	mux.HandleFunc("POST /r/{sessionId}/errors", ReportErrorHandler(cfg))
	mux.HandleFunc("GET /r/{sessionId}/events", SessionEventsHandler(cfg))

	return metrics.HTTPMetricsMiddleware(Recovery(RequestID(RequestLogger(mux))))
}
