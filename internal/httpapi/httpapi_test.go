package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcowellai/recording-app-sub000/internal/session"
	"github.com/rcowellai/recording-app-sub000/internal/storage"
)

const testSessionID = "r4nd0m-prompt1-user1-teller1-1700000000"

type fakeWatcher struct {
	changes chan session.Change
}

func (f *fakeWatcher) Watch(ctx context.Context, sessionID string, knownStatus session.Status) <-chan session.Change {
	return f.changes
}

type fakeNotifier struct {
	notified []string
}

func (f *fakeNotifier) Notify(_ context.Context, sessionID string) {
	f.notified = append(f.notified, sessionID)
}

func newTestSession(status session.Status) *session.Session {
	return &session.Session{
		SessionID:          testSessionID,
		UserID:             "user1",
		PromptID:           "prompt1",
		StorytellerID:      "teller1",
		PromptText:         "How did you two meet?",
		StorytellerName:    "Alex",
		CoupleNames:        "Sam & Riley",
		MaxDurationSeconds: 900,
		AllowAudio:         true,
		AllowVideo:         true,
		Status:             status,
		CreatedAt:          time.Now().Add(-time.Hour),
		ExpiresAt:          time.Now().Add(24 * time.Hour),
		RecordingData:      session.RecordingData{},
	}
}

func newTestServer(t *testing.T, status session.Status) (*httptest.Server, *session.FakeRepository, *storage.MemoryStorage, *fakeNotifier) {
	t.Helper()

	repo := session.NewFakeRepository()
	repo.Put(newTestSession(status))
	store := storage.NewMemoryStorage()
	notifier := &fakeNotifier{}

	cfg := &Config{
		Sessions: session.NewClient(repo, nil),
		Watcher:  &fakeWatcher{changes: make(chan session.Change)},
		Storage:  store,
		Notifier: notifier,
	}
	srv := httptest.NewServer(NewRouter(cfg))
	t.Cleanup(srv.Close)
	return srv, repo, store, notifier
}

func TestGetSessionReturnsDisplayAndConfig(t *testing.T) {
	srv, _, _, _ := newTestServer(t, session.StatusPending)

	resp, err := http.Get(srv.URL + "/r/" + testSessionID)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body SessionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, testSessionID, body.SessionID)
	assert.Equal(t, "pending", body.Status)
	assert.Equal(t, "How did you two meet?", body.PromptText)
	assert.Equal(t, 900, body.MaxDurationSeconds)
	assert.True(t, body.AllowAudio)
}

func TestGetSessionMalformedLink(t *testing.T) {
	srv, _, _, _ := newTestServer(t, session.StatusPending)

	resp, err := http.Get(srv.URL + "/r/not-a-session")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetSessionNotFound(t *testing.T) {
	srv, _, _, _ := newTestServer(t, session.StatusPending)

	resp, err := http.Get(srv.URL + "/r/x-p-u-s-1700000000")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetSessionExpired(t *testing.T) {
	srv, repo, _, _ := newTestServer(t, session.StatusPending)
	sess := newTestSession(session.StatusPending)
	sess.ExpiresAt = time.Now().Add(-time.Minute)
	repo.Put(sess)

	resp, err := http.Get(srv.URL + "/r/" + testSessionID)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusGone, resp.StatusCode)
}

func TestGetSessionAlreadyRecorded(t *testing.T) {
	srv, _, _, _ := newTestServer(t, session.StatusCompleted)

	resp, err := http.Get(srv.URL + "/r/" + testSessionID)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return resp
}

func TestStartRecordingClaimsSession(t *testing.T) {
	srv, repo, _, notifier := newTestServer(t, session.StatusPending)

	resp := postJSON(t, srv.URL+"/r/"+testSessionID+"/start",
		StartRecordingRequest{From: "pending", MimeType: "audio/mp4;codecs=mp4a.40.2"})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	sess, ok := repo.Snapshot(testSessionID)
	require.True(t, ok)
	assert.Equal(t, session.StatusRecording, sess.Status)
	assert.NotNil(t, sess.RecordingStartedAt)
	assert.Contains(t, notifier.notified, testSessionID)
}

// Two tabs race to start: the second one's stale "pending" belief loses.
func TestStartRecordingSecondTabLoses(t *testing.T) {
	srv, _, _, _ := newTestServer(t, session.StatusPending)

	first := postJSON(t, srv.URL+"/r/"+testSessionID+"/start", StartRecordingRequest{From: "pending"})
	first.Body.Close()
	require.Equal(t, http.StatusOK, first.StatusCode)

	second := postJSON(t, srv.URL+"/r/"+testSessionID+"/start", StartRecordingRequest{From: "pending"})
	defer second.Body.Close()
	assert.Equal(t, http.StatusConflict, second.StatusCode)
}

func uploadChunk(t *testing.T, srv *httptest.Server, index int, body string, total int) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost,
		fmt.Sprintf("%s/r/%s/chunks/%d", srv.URL, testSessionID, index),
		strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "audio/mp4")
	if total > 0 {
		req.Header.Set("X-Chunks-Total", fmt.Sprintf("%d", total))
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestUploadChunkStoresAtDeterministicKey(t *testing.T) {
	srv, repo, store, _ := newTestServer(t, session.StatusRecording)

	resp := uploadChunk(t, srv, 0, "chunk zero bytes", 3)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body UploadChunkResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "users/user1/recordings/"+testSessionID+"/chunks/chunk_0.mp4", body.Key)
	assert.Equal(t, 0, body.LastChunkUploaded)

	data, ok := store.GetData(body.Key)
	require.True(t, ok)
	assert.Equal(t, "chunk zero bytes", string(data))

	meta, ok := store.GetMetadata(body.Key)
	require.True(t, ok)
	assert.Equal(t, testSessionID, meta["sessionId"])
	assert.Equal(t, "0", meta["chunkIndex"])
	assert.Equal(t, "3", meta["totalExpected"])

	sess, ok := repo.Snapshot(testSessionID)
	require.True(t, ok)
	assert.Equal(t, "users/user1/recordings/"+testSessionID+"/chunks/", sess.StoragePaths.ChunksFolder)
	require.NotNil(t, sess.RecordingData.LastChunkUploaded)
	assert.Equal(t, 0, *sess.RecordingData.LastChunkUploaded)
}

func TestUploadChunkIdempotentBelowWatermark(t *testing.T) {
	srv, _, store, _ := newTestServer(t, session.StatusRecording)

	first := uploadChunk(t, srv, 0, "original", 0)
	first.Body.Close()
	require.Equal(t, http.StatusOK, first.StatusCode)

	second := uploadChunk(t, srv, 0, "replayed", 0)
	defer second.Body.Close()
	require.Equal(t, http.StatusOK, second.StatusCode)

	var body UploadChunkResponse
	require.NoError(t, json.NewDecoder(second.Body).Decode(&body))
	assert.True(t, body.AlreadyUploaded)

	data, ok := store.GetData(body.Key)
	require.True(t, ok)
	assert.Equal(t, "original", string(data), "a replayed index must not overwrite the stored chunk")
}

func TestUploadChunkRejectedWhenNotRecording(t *testing.T) {
	srv, _, _, _ := newTestServer(t, session.StatusPending)

	resp := uploadChunk(t, srv, 0, "chunk", 0)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

// The full happy path: start, three chunks, submit, complete. Afterwards the
// persisted state must satisfy every at-rest invariant.
func TestFullRecordingFlow(t *testing.T) {
	srv, repo, store, _ := newTestServer(t, session.StatusPending)

	resp := postJSON(t, srv.URL+"/r/"+testSessionID+"/start",
		StartRecordingRequest{From: "pending", MimeType: "audio/mp4;codecs=mp4a.40.2"})
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	const n = 3
	for i := 0; i < n; i++ {
		r := uploadChunk(t, srv, i, fmt.Sprintf("chunk-%d", i), n)
		r.Body.Close()
		require.Equal(t, http.StatusOK, r.StatusCode)
	}

	resp = postJSON(t, srv.URL+"/r/"+testSessionID+"/submit", struct{}{})
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = postJSON(t, srv.URL+"/r/"+testSessionID+"/complete", CompleteRequest{
		ChunksCount:     n,
		DurationSeconds: 100,
		MimeType:        "audio/mp4;codecs=mp4a.40.2",
		FileSizeBytes:   3 * 7,
	})
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	for i := 0; i < n; i++ {
		key := storage.ChunkObjectPath("user1", testSessionID, i, "mp4")
		_, ok := store.GetData(key)
		assert.True(t, ok, "chunk %d missing from object store", i)
	}

	sess, ok := repo.Snapshot(testSessionID)
	require.True(t, ok)
	assert.Equal(t, session.StatusProcessing, sess.Status)
	assert.Equal(t, n, sess.RecordingData.ChunksCount)
	assert.Equal(t, 100, sess.RecordingData.UploadProgress)
	require.NotNil(t, sess.RecordingData.LastChunkUploaded)
	assert.Equal(t, n-1, *sess.RecordingData.LastChunkUploaded)
	assert.NotEmpty(t, sess.StoragePaths.ChunksFolder)
	assert.NotNil(t, sess.RecordingCompletedAt)
}

func TestCompleteRefusesMissingChunks(t *testing.T) {
	srv, _, _, _ := newTestServer(t, session.StatusPending)

	resp := postJSON(t, srv.URL+"/r/"+testSessionID+"/start", StartRecordingRequest{From: "pending"})
	resp.Body.Close()

	r := uploadChunk(t, srv, 0, "only chunk", 3)
	r.Body.Close()

	resp = postJSON(t, srv.URL+"/r/"+testSessionID+"/submit", struct{}{})
	resp.Body.Close()

	resp = postJSON(t, srv.URL+"/r/"+testSessionID+"/complete", CompleteRequest{ChunksCount: 3})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestStartOverResetsProgress(t *testing.T) {
	srv, repo, _, _ := newTestServer(t, session.StatusPending)

	resp := postJSON(t, srv.URL+"/r/"+testSessionID+"/start", StartRecordingRequest{From: "pending"})
	resp.Body.Close()
	r := uploadChunk(t, srv, 0, "chunk", 0)
	r.Body.Close()

	resp = postJSON(t, srv.URL+"/r/"+testSessionID+"/start-over", StartOverRequest{From: "recording"})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	sess, ok := repo.Snapshot(testSessionID)
	require.True(t, ok)
	assert.Equal(t, session.StatusActive, sess.Status)
	assert.Nil(t, sess.RecordingData.LastChunkUploaded)
	assert.Equal(t, 0, sess.RecordingData.UploadProgress)
}

func TestReportErrorMovesSessionToFailed(t *testing.T) {
	srv, repo, _, _ := newTestServer(t, session.StatusPending)

	resp := postJSON(t, srv.URL+"/r/"+testSessionID+"/start", StartRecordingRequest{From: "pending"})
	resp.Body.Close()

	resp = postJSON(t, srv.URL+"/r/"+testSessionID+"/errors", ReportErrorRequest{
		From:    "recording",
		Code:    "upload_fatal",
		Message: "Upload failed, please try again",
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	sess, ok := repo.Snapshot(testSessionID)
	require.True(t, ok)
	assert.Equal(t, session.StatusFailed, sess.Status)
	require.NotNil(t, sess.Error)
	assert.Equal(t, "upload_fatal", sess.Error.Code)
}

func TestHealthLiveness(t *testing.T) {
	srv, _, _, _ := newTestServer(t, session.StatusPending)

	resp, err := http.Get(srv.URL + "/health/live")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
