package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rcowellai/recording-app-sub000/internal/apperror"
)

// PostgresRepository is the Repository backing the document store with
// Postgres. The document's progress/paths/error sub-structures are stored
// as JSONB columns; identity, lifecycle, and status are plain columns so the
// conditional UPDATE can filter on status directly.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository wraps an existing pool. Callers own the pool's
// lifecycle.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const selectColumns = `
	session_id, user_id, prompt_id, storyteller_id,
	prompt_text, storyteller_name, couple_names,
	max_duration_seconds, allow_audio, allow_video,
	status, created_at, expires_at, recording_started_at, recording_completed_at,
	recording_data, storage_paths, error_info
`

func (r *PostgresRepository) Get(ctx context.Context, sessionID string) (*Session, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+selectColumns+` FROM sessions WHERE session_id = $1`, sessionID)

	sess, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.ErrSessionNotFound
	}
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrInternal)
	}
	return sess, nil
}

func (r *PostgresRepository) ConditionalUpdate(ctx context.Context, sessionID string, fromExpected, newStatus Status, patch Patch) error {
	recordingDataJSON, err := marshalOptional(patch.RecordingData)
	if err != nil {
		return apperror.Wrap(err, apperror.ErrInternal)
	}
	errorJSON, err := marshalOptional(patch.Error)
	if err != nil {
		return apperror.Wrap(err, apperror.ErrInternal)
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE sessions SET
			status = $1,
			recording_started_at = COALESCE($2, recording_started_at),
			recording_completed_at = COALESCE($3, recording_completed_at),
			storage_paths = CASE WHEN $4::text IS NULL THEN storage_paths ELSE jsonb_set(storage_paths, '{chunksFolder}', to_jsonb($4::text)) END,
			recording_data = COALESCE($5::jsonb, recording_data),
			error_info = COALESCE($6::jsonb, error_info),
			updated_at = now()
		WHERE session_id = $7 AND status = $8
	`, string(newStatus), patch.RecordingStartedAt, patch.RecordingCompletedAt, patch.ChunksFolder,
		recordingDataJSON, errorJSON, sessionID, string(fromExpected))
	if err != nil {
		return apperror.Wrap(err, apperror.ErrInternal)
	}
	if tag.RowsAffected() == 0 {
		return apperror.ErrConcurrentTransition
	}
	return nil
}

func (r *PostgresRepository) UpdateProgress(ctx context.Context, sessionID string, progress RecordingData) error {
	data, err := json.Marshal(progress)
	if err != nil {
		return apperror.Wrap(err, apperror.ErrInternal)
	}
	_, err = r.pool.Exec(ctx, `
		UPDATE sessions SET recording_data = $1::jsonb, updated_at = now()
		WHERE session_id = $2
	`, data, sessionID)
	if err != nil {
		return apperror.Wrap(err, apperror.ErrInternal)
	}
	return nil
}

func (r *PostgresRepository) SetChunksFolder(ctx context.Context, sessionID, folder string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE sessions SET
			storage_paths = jsonb_set(storage_paths, '{chunksFolder}', to_jsonb($1::text)),
			updated_at = now()
		WHERE session_id = $2 AND NOT (storage_paths ? 'chunksFolder')
	`, folder, sessionID)
	if err != nil {
		return apperror.Wrap(err, apperror.ErrInternal)
	}
	return nil
}

// ListExpiredSessions returns sessions past their expiresAt that are still
// in a non-terminal status, oldest first. Used by the expiry sweeper.
func (r *PostgresRepository) ListExpiredSessions(ctx context.Context, now time.Time, limit int) ([]*Session, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+selectColumns+` FROM sessions
		WHERE expires_at < $1 AND status NOT IN ('completed', 'failed', 'expired', 'removed')
		ORDER BY expires_at
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrInternal)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, apperror.Wrap(err, apperror.ErrInternal)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrInternal)
	}
	return sessions, nil
}

func marshalOptional(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var s Session
	var recordingDataRaw, storagePathsRaw, errorRaw []byte

	err := row.Scan(
		&s.SessionID, &s.UserID, &s.PromptID, &s.StorytellerID,
		&s.PromptText, &s.StorytellerName, &s.CoupleNames,
		&s.MaxDurationSeconds, &s.AllowAudio, &s.AllowVideo,
		&s.Status, &s.CreatedAt, &s.ExpiresAt, &s.RecordingStartedAt, &s.RecordingCompletedAt,
		&recordingDataRaw, &storagePathsRaw, &errorRaw,
	)
	if err != nil {
		return nil, err
	}

	if len(recordingDataRaw) > 0 {
		if err := json.Unmarshal(recordingDataRaw, &s.RecordingData); err != nil {
			return nil, err
		}
	}
	if len(storagePathsRaw) > 0 {
		if err := json.Unmarshal(storagePathsRaw, &s.StoragePaths); err != nil {
			return nil, err
		}
	}
	if len(errorRaw) > 0 {
		if err := json.Unmarshal(errorRaw, &s.Error); err != nil {
			return nil, err
		}
	}

	return &s, nil
}

// Schema is the DDL for the sessions table, applied by operators via their
// migration tool of choice; the core never runs migrations itself.
const Schema = `
CREATE TABLE IF NOT EXISTS sessions (
	session_id              TEXT PRIMARY KEY,
	user_id                 TEXT NOT NULL,
	prompt_id               TEXT NOT NULL,
	storyteller_id          TEXT NOT NULL,
	prompt_text             TEXT NOT NULL DEFAULT '',
	storyteller_name        TEXT NOT NULL DEFAULT '',
	couple_names            TEXT NOT NULL DEFAULT '',
	max_duration_seconds    INTEGER NOT NULL DEFAULT 900,
	allow_audio             BOOLEAN NOT NULL DEFAULT true,
	allow_video             BOOLEAN NOT NULL DEFAULT true,
	status                  TEXT NOT NULL DEFAULT 'pending',
	created_at              TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at              TIMESTAMPTZ NOT NULL,
	recording_started_at    TIMESTAMPTZ,
	recording_completed_at  TIMESTAMPTZ,
	recording_data          JSONB NOT NULL DEFAULT '{"uploadProgress": 0}',
	storage_paths           JSONB NOT NULL DEFAULT '{}',
	error_info              JSONB,
	updated_at              TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS sessions_status_expires_idx ON sessions (status, expires_at);
`
