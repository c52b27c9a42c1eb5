package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rcowellai/recording-app-sub000/internal/apperror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedClock struct{ t time.Time }

func (f fixedClock) Now() time.Time { return f.t }

func newTestSession(now time.Time) *Session {
	return &Session{
		SessionID: "rand-prompt1-user1-teller1-1700000000",
		UserID:    "user1",
		PromptID:  "prompt1",
		Status:    StatusPending,
		CreatedAt: now.Add(-time.Hour),
		ExpiresAt: now.Add(time.Hour),
	}
}

func TestClient_LoadAndValidate_OK(t *testing.T) {
	now := time.Now().UTC()
	repo := NewFakeRepository()
	repo.Put(newTestSession(now))
	client := NewClient(repo, fixedClock{now})

	sess, err := client.Load(context.Background(), "rand-prompt1-user1-teller1-1700000000")
	require.NoError(t, err)

	failure := client.Validate(sess, "user1", "prompt1")
	assert.Equal(t, ValidationOK, failure)
}

func TestClient_Validate_Expired(t *testing.T) {
	now := time.Now().UTC()
	sess := newTestSession(now)
	sess.ExpiresAt = now.Add(-time.Minute)
	client := NewClient(NewFakeRepository(), fixedClock{now})

	assert.Equal(t, ValidationExpired, client.Validate(sess, "user1", "prompt1"))
}

func TestClient_Validate_AlreadyRecorded(t *testing.T) {
	now := time.Now().UTC()
	sess := newTestSession(now)
	sess.Status = StatusCompleted
	client := NewClient(NewFakeRepository(), fixedClock{now})

	assert.Equal(t, ValidationAlreadyRecorded, client.Validate(sess, "user1", "prompt1"))
}

func TestClient_Validate_Removed(t *testing.T) {
	now := time.Now().UTC()
	sess := newTestSession(now)
	sess.Status = StatusRemoved
	client := NewClient(NewFakeRepository(), fixedClock{now})

	assert.Equal(t, ValidationRemoved, client.Validate(sess, "user1", "prompt1"))
}

func TestClient_Validate_IdentityMismatch(t *testing.T) {
	now := time.Now().UTC()
	sess := newTestSession(now)
	client := NewClient(NewFakeRepository(), fixedClock{now})

	assert.Equal(t, ValidationIdentityMismatch, client.Validate(sess, "other-user", "prompt1"))
}

func TestClient_Validate_NotFound(t *testing.T) {
	client := NewClient(NewFakeRepository(), fixedClock{time.Now()})
	assert.Equal(t, ValidationNotFound, client.Validate(nil, "user1", "prompt1"))
}

func TestClient_Transition_Success(t *testing.T) {
	now := time.Now().UTC()
	repo := NewFakeRepository()
	repo.Put(newTestSession(now))
	client := NewClient(repo, fixedClock{now})

	err := client.Transition(context.Background(), "rand-prompt1-user1-teller1-1700000000", StatusPending, StatusRecording, Patch{})
	require.NoError(t, err)

	snap, _ := repo.Snapshot("rand-prompt1-user1-teller1-1700000000")
	assert.Equal(t, StatusRecording, snap.Status)
}

func TestClient_Transition_ConcurrentLoserRejected(t *testing.T) {
	// two tabs race pending -> recording; exactly one wins.
	now := time.Now().UTC()
	repo := NewFakeRepository()
	repo.Put(newTestSession(now))
	client := NewClient(repo, fixedClock{now})

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = client.Transition(context.Background(), "rand-prompt1-user1-teller1-1700000000", StatusPending, StatusRecording, Patch{})
		}(i)
	}
	wg.Wait()

	successes := 0
	conflicts := 0
	for _, err := range results {
		if err == nil {
			successes++
		} else if apperror.Is(err, apperror.ErrConcurrentTransition) {
			conflicts++
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, conflicts)
}

func TestClient_ReportError_SetsFailedAndErrorInfo(t *testing.T) {
	now := time.Now().UTC()
	repo := NewFakeRepository()
	sess := newTestSession(now)
	sess.Status = StatusRecording
	repo.Put(sess)
	client := NewClient(repo, fixedClock{now})

	err := client.ReportError(context.Background(), sess.SessionID, StatusRecording, apperror.ErrUploadFatal)
	require.NoError(t, err)

	snap, _ := repo.Snapshot(sess.SessionID)
	assert.Equal(t, StatusFailed, snap.Status)
	require.NotNil(t, snap.Error)
	assert.Equal(t, "upload_fatal", snap.Error.Code)
}

func TestClient_ReportProgress_NoConditionalCheck(t *testing.T) {
	now := time.Now().UTC()
	repo := NewFakeRepository()
	sess := newTestSession(now)
	sess.Status = StatusRecording
	repo.Put(sess)
	client := NewClient(repo, fixedClock{now})

	last := 2
	err := client.ReportProgress(context.Background(), sess.SessionID, RecordingData{UploadProgress: 66, LastChunkUploaded: &last})
	require.NoError(t, err)

	snap, _ := repo.Snapshot(sess.SessionID)
	assert.Equal(t, 66, snap.RecordingData.UploadProgress)
	require.NotNil(t, snap.RecordingData.LastChunkUploaded)
	assert.Equal(t, 2, *snap.RecordingData.LastChunkUploaded)
}

func TestValidationFailure_AppError(t *testing.T) {
	cases := map[ValidationFailure]string{
		ValidationNotFound:        "session_not_found",
		ValidationExpired:         "session_expired",
		ValidationAlreadyRecorded: "session_already_recorded",
		ValidationRemoved:         "session_removed",
	}
	for failure, wantCode := range cases {
		assert.Equal(t, wantCode, failure.AppError().Code)
	}
}
