package recorder

import (
	"sync"
	"time"

	"github.com/rcowellai/recording-app-sub000/internal/apperror"
)

// Driver wraps the underlying platform media recorder. Production
// implementations are backed by the browser's MediaRecorder over the JS
// bridge, configured with a timeslice equal to the chunk cadence so it
// calls onChunk roughly every cadence interval and once more on Stop.
// Index assignment, pause bookkeeping, and the duration cap all live in
// ChunkedRecorder, not here — Driver only has to move bytes.
type Driver interface {
	Start(mimeType string, stream MediaStream, onChunk func(data []byte)) error
	Pause()
	Resume()
	// Stop flushes a final chunk through onChunk (if any data is buffered)
	// then releases recorder-internal resources. It must not call onChunk
	// after returning.
	Stop()
	// Abort releases recorder-internal resources without flushing.
	Abort()
}

type phase int

const (
	phaseIdle phase = iota
	phaseRecording
	phasePaused
	phaseStopped
	phaseAborted
)

// ChunkedRecorder is the Chunked Recorder: it drives a Driver
// configured from a Descriptor and a MediaStream, emits chunk/duration
// events over a single typed channel, and enforces the hard duration cap.
type ChunkedRecorder struct {
	mu sync.Mutex

	descriptor  Descriptor
	driver      Driver
	clock       Clock
	cadence     time.Duration
	maxDuration time.Duration
	warningLead time.Duration

	stream MediaStream
	events chan Event

	ph                phase
	chunkIndex        int
	startWall         time.Time
	pausedAccumulated time.Duration
	lastPauseAt       time.Time
	warningEmitted    bool
	reachedEmitted    bool
}

// NewChunkedRecorder constructs a recorder. Cadence, duration cap, and the
// warning lead are constructor parameters so tests can compress time.
func NewChunkedRecorder(descriptor Descriptor, driver Driver, clock Clock, cadence, maxDuration, warningLead time.Duration) *ChunkedRecorder {
	if clock == nil {
		clock = SystemClock
	}
	return &ChunkedRecorder{
		descriptor:  descriptor,
		driver:      driver,
		clock:       clock,
		cadence:     cadence,
		maxDuration: maxDuration,
		warningLead: warningLead,
		events:      make(chan Event, 16),
		ph:          phaseIdle,
	}
}

// Events returns the recorder's single event channel: chunk availability,
// duration ticks/warnings, pause/resume, completion, and errors all arrive
// here as a discriminated union.
func (r *ChunkedRecorder) Events() <-chan Event {
	return r.events
}

func (r *ChunkedRecorder) emit(e Event) {
	select {
	case r.events <- e:
	default:
		// Slow consumer: drop rather than block the recorder's own
		// goroutine indefinitely. Chunk-available events always go
		// through a blocking send from ingestChunk instead.
	}
}

// Start begins capturing at startIndex: 0 for a fresh recording, or
// lastChunkUploaded+1 when resuming residual uploads after a reload.
func (r *ChunkedRecorder) Start(stream MediaStream, startIndex int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ph != phaseIdle {
		return apperror.ErrBadRequest
	}

	r.stream = stream
	r.chunkIndex = startIndex
	r.startWall = r.clock.Now()
	r.ph = phaseRecording

	return r.driver.Start(r.descriptor.MimeType, stream, r.ingestChunk)
}

// ingestChunk is the Driver's callback: it assigns the next strictly
// increasing index and emits chunk-available, blocking if the consumer
// (the Upload Manager) is applying backpressure.
func (r *ChunkedRecorder) ingestChunk(data []byte) {
	r.mu.Lock()
	index := r.chunkIndex
	r.chunkIndex++
	mimeType := r.descriptor.MimeType
	r.mu.Unlock()

	r.events <- Event{
		Kind: EventChunkAvailable,
		Chunk: Chunk{
			Index:            index,
			Data:             data,
			MimeType:         mimeType,
			ByteSize:         len(data),
			CaptureTimestamp: r.clock.Now().UnixMilli(),
		},
	}
}

// Pause pauses capture. Idempotent if already paused.
func (r *ChunkedRecorder) Pause(cause PauseCause) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ph != phaseRecording {
		return
	}
	r.ph = phasePaused
	r.lastPauseAt = r.clock.Now()
	r.driver.Pause()
	r.emit(Event{Kind: EventPaused, Cause: cause})
}

// Resume continues capture. Idempotent if not paused. A resume after the
// visibility auto-pause always requires this explicit call; callers must
// never invoke it automatically when the tab becomes visible again.
func (r *ChunkedRecorder) Resume(cause PauseCause) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ph != phasePaused {
		return
	}
	r.pausedAccumulated += r.clock.Now().Sub(r.lastPauseAt)
	r.ph = phaseRecording
	r.driver.Resume()
	r.emit(Event{Kind: EventResumed, Cause: cause})
}

// OnVisibilityChange implements the mandatory visibility-driven auto-pause:
// hidden triggers an automatic pause; becoming visible again never
// auto-resumes.
func (r *ChunkedRecorder) OnVisibilityChange(hidden bool) {
	if hidden {
		r.Pause(PauseCauseVisibility)
	}
}

// Stop flushes a final chunk, releases the stream, and emits
// recording-complete with the final duration and chunk count.
func (r *ChunkedRecorder) Stop() {
	r.mu.Lock()
	if r.ph != phaseRecording && r.ph != phasePaused {
		r.mu.Unlock()
		return
	}
	now := r.clock.Now()
	elapsed := r.elapsedAt(now)
	r.ph = phaseStopped
	r.mu.Unlock()

	r.driver.Stop()
	if r.stream != nil {
		r.stream.Release()
	}

	// Driver.Stop has delivered any final chunk through ingestChunk by now,
	// so the count includes it.
	r.mu.Lock()
	chunksCount := r.chunkIndex
	r.mu.Unlock()

	r.emit(Event{
		Kind:                 EventRecordingComplete,
		FinalDurationSeconds: int(elapsed.Seconds()),
		ChunksCount:          chunksCount,
	})
}

// Abort drops the in-progress recording without flushing a final chunk.
// Idempotent: a second call is indistinguishable from the first.
func (r *ChunkedRecorder) Abort() {
	r.mu.Lock()
	if r.ph == phaseStopped || r.ph == phaseAborted || r.ph == phaseIdle {
		r.mu.Unlock()
		return
	}
	r.ph = phaseAborted
	r.mu.Unlock()

	r.driver.Abort()
	if r.stream != nil {
		r.stream.Release()
	}
}

// elapsedAt computes elapsed recording time from wall clock, not chunk
// count, so long chunks don't distort the cap. Must be called with r.mu
// held.
func (r *ChunkedRecorder) elapsedAt(now time.Time) time.Duration {
	paused := r.pausedAccumulated
	if r.ph == phasePaused {
		paused += now.Sub(r.lastPauseAt)
	}
	return now.Sub(r.startWall) - paused
}

// Tick re-evaluates elapsed duration against now and emits duration-tick,
// at most one duration-warning, and at most one duration-reached (which
// also triggers an internal Stop()). Exposed directly so tests can drive
// duration-cap scenarios without real time; production code calls this
// from a 1-second ticker goroutine fed by the real clock.
func (r *ChunkedRecorder) Tick(now time.Time) {
	r.mu.Lock()
	if r.ph != phaseRecording && r.ph != phasePaused {
		r.mu.Unlock()
		return
	}
	elapsed := r.elapsedAt(now)
	elapsedSeconds := int(elapsed.Seconds())

	r.emit(Event{Kind: EventDurationTick, ElapsedSeconds: elapsedSeconds})

	warningAt := r.maxDuration - r.warningLead
	if !r.warningEmitted && elapsed >= warningAt {
		r.warningEmitted = true
		r.mu.Unlock()
		r.emit(Event{Kind: EventDurationWarning, SecondsRemaining: int(r.warningLead.Seconds())})
		r.mu.Lock()
	}

	reached := !r.reachedEmitted && elapsed >= r.maxDuration
	if reached {
		r.reachedEmitted = true
	}
	r.mu.Unlock()

	if reached {
		r.emit(Event{Kind: EventDurationReached})
		r.Stop()
	}
}

// RunTicker runs a 1-second production ticker until stop is closed. Call
// it in a goroutine right after Start.
func (r *ChunkedRecorder) RunTicker(stop <-chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r.Tick(r.clock.Now())
		}
	}
}
