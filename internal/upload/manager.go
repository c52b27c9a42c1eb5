package upload

import (
	"bytes"
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/rcowellai/recording-app-sub000/internal/apperror"
	"github.com/rcowellai/recording-app-sub000/internal/logger"
	"github.com/rcowellai/recording-app-sub000/internal/metrics"
	"github.com/rcowellai/recording-app-sub000/internal/recorder"
	"github.com/rcowellai/recording-app-sub000/internal/session"
	"github.com/rcowellai/recording-app-sub000/internal/storage"
	"github.com/rcowellai/recording-app-sub000/internal/tracing"
)

// Config holds the Upload Manager's tunables. Everything time-driven is
// injectable so tests never sleep real time.
type Config struct {
	Concurrency    int           // N: max in-flight uploads (default 3)
	MaxRetries     int           // retries after the first attempt (default 3)
	RetryBaseDelay time.Duration // backoff base (default 1s -> 1s, 2s, 4s)
	ProgressMinGap time.Duration // throttle window for progress writes (default 1s)
}

// DefaultConfig is the production default: three concurrent uploads, three
// retries at 1s/2s/4s, progress writes at most once per second.
func DefaultConfig() Config {
	return Config{
		Concurrency:    3,
		MaxRetries:     3,
		RetryBaseDelay: time.Second,
		ProgressMinGap: time.Second,
	}
}

// SessionWriter is the subset of session.Client the manager needs: progress
// reporting and the one-time chunks-folder write. Kept as a narrow interface
// so tests can supply a stub instead of a full Client+Repository.
type SessionWriter interface {
	ReportProgress(ctx context.Context, sessionID string, progress session.RecordingData) error
	SetChunksFolder(ctx context.Context, sessionID, folder string) error
}

// Manager is the Upload Manager: it accepts chunks via Enqueue, dispatches
// them FIFO with bounded concurrency, retries transient failures with
// backoff, and reports monotonic progress back through SessionWriter.
type Manager struct {
	cfg      Config
	store    storage.Storage
	sessions SessionWriter
	throttle ProgressThrottle

	userID, sessionID, extension string

	queue chan job
	slots chan struct{}
	wg    sync.WaitGroup

	reportMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc

	events chan Event

	mu             sync.Mutex
	states         map[int]*pending
	resumeFloor    int // highest index already uploaded before this run; -1 if none
	succeededCount int // chunks succeeded across this run plus resumeFloor+1
	lastUploaded   int // -1 until a chunk has succeeded
	expectedTotal  *int
	bytesUploaded  int64
	liveChunks     int // chunks whose raw bytes are currently held
	peakLiveChunks int
	folderWritten  bool
	fatalErr       error
}

// NewManager constructs a Manager for one recording attempt.
// resumeFrom is the session's lastChunkUploaded at load time, or -1 if the
// recording is starting fresh.
func NewManager(cfg Config, store storage.Storage, sessions SessionWriter, throttle ProgressThrottle, userID, sessionID, extension string, resumeFrom int) *Manager {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if throttle == nil {
		throttle = NewLocalProgressThrottle(cfg.ProgressMinGap)
	}
	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		cfg:            cfg,
		store:          store,
		sessions:       sessions,
		throttle:       throttle,
		userID:         userID,
		sessionID:      sessionID,
		extension:      extension,
		queue:          make(chan job, 1),
		slots:          make(chan struct{}, cfg.Concurrency),
		ctx:            ctx,
		cancel:         cancel,
		events:         make(chan Event, 16),
		states:         make(map[int]*pending),
		resumeFloor:    resumeFrom,
		succeededCount: resumeFrom + 1,
		lastUploaded:   resumeFrom,
	}
	go m.dispatch()
	return m
}

// Events returns the manager's progress/fatal event channel.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// SetExpectedTotal tells the manager how many chunks the recording produced
// in total, once the Chunked Recorder has stopped; uploadProgress is
// computed as 100*succeeded/expected. Before this is called, progress is
// reported as 0.
func (m *Manager) SetExpectedTotal(n int) {
	m.mu.Lock()
	m.expectedTotal = &n
	m.mu.Unlock()
}

// Enqueue accepts a chunk for upload. Per the resume contract, indices at or
// below the session's last-uploaded chunk are silently dropped rather than
// re-uploaded. Blocks, applying backpressure to the Chunked Recorder, when
// the in-flight-plus-next-in-line set is full.
func (m *Manager) Enqueue(ctx context.Context, chunk recorder.Chunk) error {
	if chunk.Index <= m.resumeFloor {
		return nil
	}

	m.mu.Lock()
	m.states[chunk.Index] = &pending{chunk: chunk, state: StateQueued, retriesLeft: m.cfg.MaxRetries}
	m.mu.Unlock()

	// Counted here, not at dispatch, so Wait covers chunks still sitting in
	// the queue when Close is called.
	m.wg.Add(1)
	select {
	case m.queue <- job{chunk: chunk}:
		m.mu.Lock()
		m.liveChunks++
		if m.liveChunks > m.peakLiveChunks {
			m.peakLiveChunks = m.liveChunks
		}
		m.mu.Unlock()
		return nil
	case <-m.ctx.Done():
		m.wg.Done()
		return apperror.ErrBackpressureOverflow
	case <-ctx.Done():
		m.wg.Done()
		return ctx.Err()
	}
}

// Status reports a chunk's current upload state, for tests asserting
// lastChunkUploaded/uploadProgress monotonicity and the persisted-state
// invariants after a finished recording.
func (m *Manager) Status(index int) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.states[index]
	if !ok {
		return "", false
	}
	return p.state, true
}

func (m *Manager) dispatch() {
	for {
		// A slot is taken before a job so a chunk never leaves the queue
		// just to sit waiting; the held set stays within in-flight plus
		// next-in-line.
		select {
		case m.slots <- struct{}{}:
		case <-m.ctx.Done():
			return
		}
		select {
		case j, ok := <-m.queue:
			if !ok {
				<-m.slots
				return
			}
			go func(j job) {
				defer m.wg.Done()
				defer func() { <-m.slots }()
				m.upload(j)
			}(j)
		case <-m.ctx.Done():
			<-m.slots
			return
		}
	}
}

func (m *Manager) upload(j job) {
	ctx, span := tracing.StartSpan(m.ctx, "upload.chunk")
	defer span.End()

	m.setState(j.chunk.Index, StateUploading)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.cfg.RetryBaseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	var lastErr error
	for attempt := 0; attempt <= m.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := b.NextBackOff()
			metrics.RecordChunkUploadRetry()
			select {
			case <-time.After(delay):
			case <-m.ctx.Done():
				return
			}
		}

		start := time.Now()
		err := m.attemptUpload(ctx, j.chunk)
		if err == nil {
			metrics.RecordChunkUpload("success", int64(j.chunk.ByteSize), time.Since(start).Seconds())
			m.recordSuccess(ctx, j.chunk)
			return
		}
		metrics.RecordChunkUpload("error", int64(j.chunk.ByteSize), time.Since(start).Seconds())
		lastErr = err
		logger.FromContext(ctx).Warn("chunk upload attempt failed",
			"session_id", m.sessionID, "chunk_index", j.chunk.Index, "attempt", attempt, "error", err)
	}

	tracing.RecordError(ctx, lastErr)
	m.recordFatal(j.chunk.Index, apperror.Wrap(lastErr, apperror.ErrUploadFatal))
}

func (m *Manager) attemptUpload(ctx context.Context, c recorder.Chunk) error {
	key := storage.ChunkObjectPath(m.userID, m.sessionID, c.Index, m.extension)

	metadata := map[string]string{
		"sessionId":  m.sessionID,
		"chunkIndex": strconv.Itoa(c.Index),
	}
	m.mu.Lock()
	if m.expectedTotal != nil {
		metadata["totalExpected"] = strconv.Itoa(*m.expectedTotal)
	}
	m.mu.Unlock()

	contentType := c.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	return m.store.Upload(ctx, key, bytes.NewReader(c.Data), contentType, int64(c.ByteSize), metadata)
}

func (m *Manager) recordSuccess(ctx context.Context, c recorder.Chunk) {
	m.dropChunk(c.Index, StateSucceeded)

	m.mu.Lock()
	if c.Index > m.lastUploaded {
		m.lastUploaded = c.Index
	}
	m.succeededCount++
	m.bytesUploaded += int64(c.ByteSize)
	writeFolder := !m.folderWritten
	m.folderWritten = true
	m.mu.Unlock()

	metrics.SetChunkQueueDepth(len(m.queue) + len(m.slots))

	if writeFolder {
		folder := storage.ChunksFolder(m.userID, m.sessionID)
		if err := m.sessions.SetChunksFolder(ctx, m.sessionID, folder); err != nil {
			logger.FromContext(ctx).Warn("failed to set chunks folder", "session_id", m.sessionID, "error", err)
		}
	}

	m.maybeReportProgress(ctx, false)
}

// progressLocked computes uploadProgress as 100*succeeded/expected. Must be
// called with m.mu held. Returns 0 until SetExpectedTotal has been called.
func (m *Manager) progressLocked() int {
	if m.expectedTotal == nil || *m.expectedTotal <= 0 {
		return 0
	}
	pct := m.succeededCount * 100 / *m.expectedTotal
	if pct > 100 {
		pct = 100
	}
	return pct
}

// maybeReportProgress publishes the manager's current progress. Reports are
// serialized under reportMu and read state at write time, so the sequence an
// observer sees is monotonic even when uploads complete out of order.
func (m *Manager) maybeReportProgress(ctx context.Context, force bool) {
	if !force && !m.throttle.Allow(ctx, m.sessionID) {
		return
	}

	m.reportMu.Lock()
	defer m.reportMu.Unlock()

	m.mu.Lock()
	lu := m.lastUploaded
	progress := m.progressLocked()
	m.mu.Unlock()

	data := session.RecordingData{
		UploadProgress:    progress,
		LastChunkUploaded: &lu,
	}
	if err := m.sessions.ReportProgress(ctx, m.sessionID, data); err != nil {
		logger.FromContext(ctx).Warn("failed to report upload progress", "session_id", m.sessionID, "error", err)
	}

	select {
	case m.events <- Event{Kind: EventProgress, Progress: data}:
	default:
	}
}

func (m *Manager) recordFatal(index int, err error) {
	m.dropChunk(index, StateFailed)

	m.mu.Lock()
	first := m.fatalErr == nil
	if first {
		m.fatalErr = err
	}
	m.mu.Unlock()

	if first {
		select {
		case m.events <- Event{Kind: EventFatal, ChunkIndex: index, Err: err}:
		default:
		}
	}
}

func (m *Manager) setState(index int, s State) {
	m.mu.Lock()
	if p, ok := m.states[index]; ok {
		p.state = s
	}
	m.mu.Unlock()
}

// dropChunk records a chunk's terminal state and releases its raw bytes:
// once an upload has succeeded or exhausted its retries, only the
// lightweight state survives, so the in-flight set plus the next-in-line
// chunk is all the manager ever holds.
func (m *Manager) dropChunk(index int, s State) {
	m.mu.Lock()
	if p, ok := m.states[index]; ok {
		p.state = s
		if p.chunk.Data != nil {
			p.chunk.Data = nil
			m.liveChunks--
		}
	}
	m.mu.Unlock()
}

// LiveChunks reports how many chunks' raw bytes the manager currently
// holds.
func (m *Manager) LiveChunks() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.liveChunks
}

// PeakLiveChunks reports the high-water mark of held chunks over this run.
func (m *Manager) PeakLiveChunks() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peakLiveChunks
}

// Close stops accepting new enqueues. Callers must have stopped calling
// Enqueue before calling Close (the Recording Controller does this after the
// Chunked Recorder's stop() has flushed its final chunk).
func (m *Manager) Close() {
	close(m.queue)
}

// Wait blocks until every queued and in-flight upload has finished (success
// or permanent failure), then returns the first fatal error observed, if
// any. Call Close before Wait. Forces one final progress write so the
// 100%/lastChunkUploaded mark always lands even if the throttle window is
// still open.
func (m *Manager) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-m.ctx.Done():
		// Aborted mid-wait: surface whatever fatal error triggered it, or
		// the cancellation itself.
		m.mu.Lock()
		fatal := m.fatalErr
		m.mu.Unlock()
		if fatal != nil {
			return fatal
		}
		return m.ctx.Err()
	case <-ctx.Done():
		return ctx.Err()
	}

	m.mu.Lock()
	fatal := m.fatalErr
	m.mu.Unlock()

	if fatal == nil {
		m.maybeReportProgress(ctx, true)
	}
	return fatal
}

// Summary reports the manager's accounting: the highest uploaded index (-1
// if none), the count of chunks that succeeded this run plus any carried
// over by the resume floor, and the bytes uploaded this run. Meaningful
// once Wait has returned.
func (m *Manager) Summary() (lastUploaded, succeeded int, bytes int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastUploaded, m.succeededCount, m.bytesUploaded
}

// Abort cancels all in-flight uploads and drops queued work without
// completing a final progress write. Idempotent.
func (m *Manager) Abort() {
	m.cancel()
}
