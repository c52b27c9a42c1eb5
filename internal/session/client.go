package session

import (
	"context"
	"time"

	"github.com/rcowellai/recording-app-sub000/internal/apperror"
	"github.com/rcowellai/recording-app-sub000/internal/logger"
	"github.com/rcowellai/recording-app-sub000/internal/metrics"
	"github.com/rcowellai/recording-app-sub000/internal/tracing"
)

// Repository is the storage-layer seam the Client depends on. The Postgres
// implementation lives in postgres.go; tests use the in-memory fake in
// fake_repository.go.
type Repository interface {
	// Get fetches a session document. Returns apperror.ErrSessionNotFound
	// if no such document exists.
	Get(ctx context.Context, sessionID string) (*Session, error)

	// ConditionalUpdate applies patch and sets status to newStatus only if
	// the document's current status equals fromExpected. Returns
	// apperror.ErrConcurrentTransition if the pre-image didn't match.
	ConditionalUpdate(ctx context.Context, sessionID string, fromExpected, newStatus Status, patch Patch) error

	// UpdateProgress writes progress fields unconditionally (progress is
	// monotonic by construction; no race to guard against).
	UpdateProgress(ctx context.Context, sessionID string, progress RecordingData) error

	// SetChunksFolder writes storagePaths.chunksFolder exactly once, the
	// first time the Upload Manager lands a chunk. It is
	// unconditional: the folder path is derived deterministically from
	// immutable identity fields, so two writers can only ever agree.
	SetChunksFolder(ctx context.Context, sessionID, folder string) error
}

// Patch names the fields a conditional transition may also write alongside
// the status change. Nothing outside this set is ever written.
type Patch struct {
	RecordingStartedAt   *time.Time
	RecordingCompletedAt *time.Time
	ChunksFolder         *string
	RecordingData        *RecordingData
	Error                *ErrorInfo
}

// Clock abstracts wall-clock access so validation is deterministic in tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// SystemClock is the production Clock.
var SystemClock Clock = systemClock{}

// Client is the Session Client: it reads and validates the session
// document and is the only component permitted to write to it.
type Client struct {
	repo  Repository
	clock Clock
}

// NewClient constructs a Client. clock defaults to SystemClock if nil.
func NewClient(repo Repository, clock Clock) *Client {
	if clock == nil {
		clock = SystemClock
	}
	return &Client{repo: repo, clock: clock}
}

// Load fetches the session document exactly once.
func (c *Client) Load(ctx context.Context, sessionID string) (*Session, error) {
	return c.repo.Get(ctx, sessionID)
}

// Validate checks that sess is currently recordable by the holder of
// identity (userID, promptID).
func (c *Client) Validate(sess *Session, userID, promptID string) ValidationFailure {
	if sess == nil {
		return ValidationNotFound
	}
	now := c.clock.Now()
	if now.After(sess.ExpiresAt) {
		return ValidationExpired
	}
	if sess.Status == StatusRemoved {
		return ValidationRemoved
	}
	if sess.Status == StatusCompleted {
		return ValidationAlreadyRecorded
	}
	if !sess.Status.Recordable() {
		return ValidationNotRecordable
	}
	if sess.UserID != userID || sess.PromptID != promptID {
		return ValidationIdentityMismatch
	}
	return ValidationOK
}

// AppError maps a ValidationFailure to the corresponding typed error.
func (f ValidationFailure) AppError() *apperror.Error {
	switch f {
	case ValidationNotFound:
		return apperror.ErrSessionNotFound
	case ValidationExpired:
		return apperror.ErrSessionExpired
	case ValidationAlreadyRecorded:
		return apperror.ErrSessionAlreadyRecorded
	case ValidationRemoved:
		return apperror.ErrSessionRemoved
	case ValidationIdentityMismatch, ValidationNotRecordable:
		return apperror.ErrSessionNotFound
	default:
		return nil
	}
}

// Transition applies a conditional status transition. fromExpected must
// match the document's current remote status or the write is rejected with
// ErrConcurrentTransition — the primary race-safety mechanism between two
// tabs on the same link.
func (c *Client) Transition(ctx context.Context, sessionID string, fromExpected, to Status, patch Patch) error {
	ctx, span := tracing.StartSessionSpan(ctx, "transition", sessionID)
	defer span.End()

	err := c.repo.ConditionalUpdate(ctx, sessionID, fromExpected, to, patch)
	if err != nil {
		if apperror.Is(err, apperror.ErrConcurrentTransition) {
			metrics.RecordSessionTransitionConflict()
		}
		return err
	}
	metrics.RecordSessionTransition(string(fromExpected), string(to))
	logger.FromContext(ctx).Info("session transitioned",
		"session_id", sessionID, "from", string(fromExpected), "to", string(to))
	return nil
}

// ReportProgress writes progress fields. Callers are responsible for
// throttling to at most one write per second; progress is
// monotonic so no conditional check is required.
func (c *Client) ReportProgress(ctx context.Context, sessionID string, progress RecordingData) error {
	return c.repo.UpdateProgress(ctx, sessionID, progress)
}

// SetChunksFolder records the deterministic chunks folder on first upload.
func (c *Client) SetChunksFolder(ctx context.Context, sessionID, folder string) error {
	return c.repo.SetChunksFolder(ctx, sessionID, folder)
}

// ReportError writes the error sub-document and moves status to failed.
// fromExpected is the status the controller believes the session is
// currently in; if that has already moved on, the transition is rejected
// the same as any other conditional write.
func (c *Client) ReportError(ctx context.Context, sessionID string, fromExpected Status, appErr *apperror.Error) error {
	info := ErrorInfo{
		Code:      appErr.Code,
		Message:   appErr.Message,
		Timestamp: c.clock.Now(),
		Retryable: appErr.Retryable,
	}
	metrics.RecordSessionError(appErr.Code)
	return c.Transition(ctx, sessionID, fromExpected, StatusFailed, Patch{Error: &info})
}
