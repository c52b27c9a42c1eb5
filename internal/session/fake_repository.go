package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rcowellai/recording-app-sub000/internal/apperror"
)

// FakeRepository is an in-memory Repository for tests. Safe for concurrent
// use, so it can exercise two-tab race scenarios directly.
type FakeRepository struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewFakeRepository returns an empty repository.
func NewFakeRepository() *FakeRepository {
	return &FakeRepository{sessions: make(map[string]*Session)}
}

// Put seeds or overwrites a session document.
func (f *FakeRepository) Put(sess *Session) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *sess
	f.sessions[sess.SessionID] = &cp
}

func (f *FakeRepository) Get(_ context.Context, sessionID string) (*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sess, ok := f.sessions[sessionID]
	if !ok {
		return nil, apperror.ErrSessionNotFound
	}
	cp := *sess
	return &cp, nil
}

func (f *FakeRepository) ConditionalUpdate(_ context.Context, sessionID string, fromExpected, newStatus Status, patch Patch) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	sess, ok := f.sessions[sessionID]
	if !ok {
		return apperror.ErrSessionNotFound
	}
	if sess.Status != fromExpected {
		return apperror.ErrConcurrentTransition
	}

	sess.Status = newStatus
	if patch.RecordingStartedAt != nil {
		sess.RecordingStartedAt = patch.RecordingStartedAt
	}
	if patch.RecordingCompletedAt != nil {
		sess.RecordingCompletedAt = patch.RecordingCompletedAt
	}
	if patch.ChunksFolder != nil {
		sess.StoragePaths.ChunksFolder = *patch.ChunksFolder
	}
	if patch.RecordingData != nil {
		sess.RecordingData = *patch.RecordingData
	}
	if patch.Error != nil {
		sess.Error = patch.Error
	}
	return nil
}

func (f *FakeRepository) UpdateProgress(_ context.Context, sessionID string, progress RecordingData) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	sess, ok := f.sessions[sessionID]
	if !ok {
		return apperror.ErrSessionNotFound
	}
	sess.RecordingData = progress
	return nil
}

func (f *FakeRepository) SetChunksFolder(_ context.Context, sessionID, folder string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	sess, ok := f.sessions[sessionID]
	if !ok {
		return apperror.ErrSessionNotFound
	}
	sess.StoragePaths.ChunksFolder = folder
	return nil
}

// ListExpiredSessions mirrors the Postgres query: sessions past expiresAt
// still in a non-terminal status, oldest first.
func (f *FakeRepository) ListExpiredSessions(_ context.Context, now time.Time, limit int) ([]*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var expired []*Session
	for _, sess := range f.sessions {
		if sess.ExpiresAt.Before(now) && !sess.Status.Terminal() {
			cp := *sess
			expired = append(expired, &cp)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].ExpiresAt.Before(expired[j].ExpiresAt) })
	if len(expired) > limit {
		expired = expired[:limit]
	}
	return expired, nil
}

// Snapshot returns a copy of the current document for assertions.
func (f *FakeRepository) Snapshot(sessionID string) (*Session, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sess, ok := f.sessions[sessionID]
	if !ok {
		return nil, false
	}
	cp := *sess
	return &cp, true
}
