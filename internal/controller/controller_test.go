package controller

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcowellai/recording-app-sub000/internal/apperror"
	"github.com/rcowellai/recording-app-sub000/internal/recorder"
	"github.com/rcowellai/recording-app-sub000/internal/session"
	"github.com/rcowellai/recording-app-sub000/internal/sessionlink"
	"github.com/rcowellai/recording-app-sub000/internal/storage"
	"github.com/rcowellai/recording-app-sub000/internal/upload"
)

const testLink = "r4nd0m-prompt1-user1-teller1-1700000000"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeStream struct {
	mu       sync.Mutex
	released bool
}

func (s *fakeStream) Release() {
	s.mu.Lock()
	s.released = true
	s.mu.Unlock()
}

func (s *fakeStream) Released() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

type fakeAcquirer struct {
	stream *fakeStream
	err    error
}

func (a *fakeAcquirer) Acquire(_ context.Context, _ recorder.MediaKind, _ recorder.AudioConstraints, _ recorder.VideoConstraints) (recorder.MediaStream, error) {
	if a.err != nil {
		return nil, a.err
	}
	return a.stream, nil
}

type fakeDriver struct {
	mu      sync.Mutex
	onChunk func([]byte)
}

func (d *fakeDriver) Start(_ string, _ recorder.MediaStream, onChunk func([]byte)) error {
	d.mu.Lock()
	d.onChunk = onChunk
	d.mu.Unlock()
	return nil
}

func (d *fakeDriver) Pause()  {}
func (d *fakeDriver) Resume() {}
func (d *fakeDriver) Stop()   {}
func (d *fakeDriver) Abort()  {}

func (d *fakeDriver) produce(data []byte) {
	d.mu.Lock()
	cb := d.onChunk
	d.mu.Unlock()
	cb(data)
}

type fakeWatcher struct {
	changes chan session.Change
}

func newFakeWatcher() *fakeWatcher {
	return &fakeWatcher{changes: make(chan session.Change, 4)}
}

func (w *fakeWatcher) Watch(ctx context.Context, _ string, _ session.Status) <-chan session.Change {
	out := make(chan session.Change)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case change, ok := <-w.changes:
				if !ok {
					return
				}
				select {
				case out <- change:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

type harness struct {
	ctrl    *Controller
	repo    *session.FakeRepository
	store   *storage.MemoryStorage
	driver  *fakeDriver
	stream  *fakeStream
	watcher *fakeWatcher
	clock   *fakeClock
}

func newHarness(t *testing.T, status session.Status) *harness {
	t.Helper()

	link, err := sessionlink.Parse(testLink)
	require.NoError(t, err)

	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	repo := session.NewFakeRepository()
	repo.Put(&session.Session{
		SessionID:          testLink,
		UserID:             "user1",
		PromptID:           "prompt1",
		StorytellerID:      "teller1",
		MaxDurationSeconds: 900,
		AllowAudio:         true,
		AllowVideo:         true,
		Status:             status,
		CreatedAt:          clock.Now().Add(-time.Hour),
		ExpiresAt:          clock.Now().Add(24 * time.Hour),
	})

	client := session.NewClient(repo, clock)
	store := storage.NewMemoryStorage()
	driver := &fakeDriver{}
	stream := &fakeStream{}
	watcher := newFakeWatcher()

	newManager := func(resumeFrom int, extension string) UploadManager {
		return upload.NewManager(upload.DefaultConfig(), store, client, upload.AlwaysAllow,
			"user1", testLink, extension, resumeFrom)
	}

	ctrl := NewController(
		Config{
			Countdown:   0, // skip the real-time countdown wait in tests
			Cadence:     45 * time.Second,
			MaxDuration: 900 * time.Second,
			WarningLead: 60 * time.Second,
		},
		link,
		client,
		watcher,
		recorder.NewCodecSelector(func(string) bool { return true }),
		&fakeAcquirer{stream: stream},
		func(_ recorder.Descriptor, _ recorder.MediaStream) recorder.Driver { return driver },
		clock,
		newManager,
	)

	return &harness{ctrl: ctrl, repo: repo, store: store, driver: driver, stream: stream, watcher: watcher, clock: clock}
}

func waitForPhase(t *testing.T, ctrl *Controller, want Phase) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if ctrl.Phase() == want {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for phase %q, still %q", want, ctrl.Phase())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestLoadValidSessionReachesPrompt(t *testing.T) {
	h := newHarness(t, session.StatusPending)
	require.NoError(t, h.ctrl.Load(context.Background()))
	assert.Equal(t, PhasePrompt, h.ctrl.Phase())
}

func TestLoadExpiredSessionIsTerminal(t *testing.T) {
	h := newHarness(t, session.StatusPending)
	h.clock.Advance(48 * time.Hour)

	err := h.ctrl.Load(context.Background())
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.ErrSessionExpired))
	assert.Equal(t, PhaseError, h.ctrl.Phase())
}

func TestLoadCompletedSessionIsTerminal(t *testing.T) {
	h := newHarness(t, session.StatusCompleted)

	err := h.ctrl.Load(context.Background())
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.ErrSessionAlreadyRecorded))
}

func TestStartRecordingClaimsSessionAndCaptures(t *testing.T) {
	h := newHarness(t, session.StatusPending)
	ctx := context.Background()
	require.NoError(t, h.ctrl.Load(ctx))

	require.NoError(t, h.ctrl.StartRecording(ctx, recorder.MediaKindAudio))
	assert.Equal(t, PhaseRecording, h.ctrl.Phase())

	sess, ok := h.repo.Snapshot(testLink)
	require.True(t, ok)
	assert.Equal(t, session.StatusRecording, sess.Status)
	assert.NotNil(t, sess.RecordingStartedAt)
}

// The full happy path: record three chunks, stop, submit. The persisted
// state afterwards must satisfy every at-rest invariant.
func TestFullRecordingHappyPath(t *testing.T) {
	h := newHarness(t, session.StatusPending)
	ctx := context.Background()
	require.NoError(t, h.ctrl.Load(ctx))
	require.NoError(t, h.ctrl.StartRecording(ctx, recorder.MediaKindAudio))

	const n = 3
	for i := 0; i < n; i++ {
		h.driver.produce([]byte("chunk payload"))
	}

	require.NoError(t, h.ctrl.Stop())
	waitForPhase(t, h.ctrl, PhaseReviewing)

	require.NoError(t, h.ctrl.Submit(ctx))
	assert.Equal(t, PhaseProcessing, h.ctrl.Phase())

	for i := 0; i < n; i++ {
		key := storage.ChunkObjectPath("user1", testLink, i, "mp4")
		_, ok := h.store.GetData(key)
		assert.True(t, ok, "chunk %d missing at %s", i, key)
	}
	assert.Equal(t, n, h.store.Count())

	sess, ok := h.repo.Snapshot(testLink)
	require.True(t, ok)
	assert.Equal(t, session.StatusProcessing, sess.Status)
	assert.Equal(t, n, sess.RecordingData.ChunksCount)
	assert.Equal(t, 100, sess.RecordingData.UploadProgress)
	require.NotNil(t, sess.RecordingData.LastChunkUploaded)
	assert.Equal(t, n-1, *sess.RecordingData.LastChunkUploaded)
	assert.Equal(t, "audio/mp4;codecs=mp4a.40.2", sess.RecordingData.MimeType)
	assert.NotEmpty(t, sess.StoragePaths.ChunksFolder)
	assert.NotNil(t, sess.RecordingCompletedAt)
	assert.True(t, h.stream.Released())
}

// Two tabs on the same link both try to start; the conditional transition
// lets exactly one through and parks the loser read-only.
func TestSecondTabLosesStartRace(t *testing.T) {
	h := newHarness(t, session.StatusPending)
	ctx := context.Background()

	link, err := sessionlink.Parse(testLink)
	require.NoError(t, err)
	client := session.NewClient(h.repo, h.clock)
	secondStore := storage.NewMemoryStorage()
	second := NewController(
		Config{Countdown: 0, Cadence: 45 * time.Second, MaxDuration: 900 * time.Second, WarningLead: 60 * time.Second},
		link, client, newFakeWatcher(),
		recorder.NewCodecSelector(func(string) bool { return true }),
		&fakeAcquirer{stream: &fakeStream{}},
		func(_ recorder.Descriptor, _ recorder.MediaStream) recorder.Driver { return &fakeDriver{} },
		h.clock,
		func(resumeFrom int, extension string) UploadManager {
			return upload.NewManager(upload.DefaultConfig(), secondStore, client, upload.AlwaysAllow,
				"user1", testLink, extension, resumeFrom)
		},
	)

	require.NoError(t, h.ctrl.Load(ctx))
	require.NoError(t, second.Load(ctx))

	require.NoError(t, h.ctrl.StartRecording(ctx, recorder.MediaKindAudio))

	err = second.StartRecording(ctx, recorder.MediaKindAudio)
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.ErrConcurrentTransition))
	assert.Equal(t, PhaseObservingElsewhere, second.Phase())

	sess, ok := h.repo.Snapshot(testLink)
	require.True(t, ok)
	assert.Equal(t, session.StatusRecording, sess.Status, "the loser must not overwrite the winner")
}

// The session document is removed mid-recording: the controller must reach
// a terminal phase and release the stream without writing a final status.
func TestSessionRemovedMidRecordingAborts(t *testing.T) {
	h := newHarness(t, session.StatusPending)
	ctx := context.Background()
	require.NoError(t, h.ctrl.Load(ctx))
	require.NoError(t, h.ctrl.StartRecording(ctx, recorder.MediaKindAudio))

	h.driver.produce([]byte("chunk"))
	h.watcher.changes <- session.Change{Kind: session.ChangeRemoved}

	waitForPhase(t, h.ctrl, PhaseFailed)
	assert.True(t, h.stream.Released())
}

func TestExternalCompletionParksController(t *testing.T) {
	h := newHarness(t, session.StatusPending)
	ctx := context.Background()
	require.NoError(t, h.ctrl.Load(ctx))

	h.watcher.changes <- session.Change{Kind: session.ChangeStatusExternalChange, Status: session.StatusCompleted}
	waitForPhase(t, h.ctrl, PhaseCompleted)
}

func TestStartOverResetsSessionAndProgress(t *testing.T) {
	h := newHarness(t, session.StatusPending)
	ctx := context.Background()
	require.NoError(t, h.ctrl.Load(ctx))
	require.NoError(t, h.ctrl.StartRecording(ctx, recorder.MediaKindAudio))
	h.driver.produce([]byte("chunk"))

	require.NoError(t, h.ctrl.StartOver(ctx))
	assert.Equal(t, PhasePrompt, h.ctrl.Phase())

	sess, ok := h.repo.Snapshot(testLink)
	require.True(t, ok)
	assert.Equal(t, session.StatusActive, sess.Status)
	assert.Zero(t, sess.RecordingData.UploadProgress)
	assert.Nil(t, sess.RecordingData.LastChunkUploaded)
	assert.True(t, h.stream.Released())
}

func TestDeviceErrorLeavesPreparingRetryable(t *testing.T) {
	h := newHarness(t, session.StatusPending)
	ctx := context.Background()
	require.NoError(t, h.ctrl.Load(ctx))

	acq := &fakeAcquirer{err: apperror.ErrPermissionDenied}
	h.ctrl.acquirer = acq

	err := h.ctrl.StartRecording(ctx, recorder.MediaKindAudio)
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.ErrPermissionDenied))
	assert.Equal(t, PhasePreparing, h.ctrl.Phase(), "device errors must leave the user able to retry")

	sess, ok := h.repo.Snapshot(testLink)
	require.True(t, ok)
	assert.Equal(t, session.StatusPending, sess.Status, "a failed acquisition must not claim the session")
}

func TestAbortIsIdempotent(t *testing.T) {
	h := newHarness(t, session.StatusPending)
	ctx := context.Background()
	require.NoError(t, h.ctrl.Load(ctx))
	require.NoError(t, h.ctrl.StartRecording(ctx, recorder.MediaKindAudio))

	h.ctrl.Abort()
	h.ctrl.Abort()

	assert.True(t, h.stream.Released())
	sess, ok := h.repo.Snapshot(testLink)
	require.True(t, ok)
	assert.Equal(t, session.StatusRecording, sess.Status, "abandonment must not destroy the session for a later reload")
}
