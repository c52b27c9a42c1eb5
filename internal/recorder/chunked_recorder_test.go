package recorder

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(start time.Time) *fakeClock { return &fakeClock{now: start} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

type fakeStream struct {
	released bool
}

func (s *fakeStream) Release() { s.released = true }

type fakeDriver struct {
	mu       sync.Mutex
	onChunk  func([]byte)
	started  bool
	paused   bool
	stopped  bool
	aborted  bool
	stopData []byte // if set, Stop() flushes this as a final chunk
}

func (d *fakeDriver) Start(mimeType string, stream MediaStream, onChunk func([]byte)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onChunk = onChunk
	d.started = true
	return nil
}

func (d *fakeDriver) Pause()  { d.mu.Lock(); d.paused = true; d.mu.Unlock() }
func (d *fakeDriver) Resume() { d.mu.Lock(); d.paused = false; d.mu.Unlock() }

func (d *fakeDriver) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.stopData != nil {
		d.onChunk(d.stopData)
	}
}

func (d *fakeDriver) Abort() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.aborted = true
}

// produce simulates the browser firing ondataavailable for a periodic chunk.
func (d *fakeDriver) produce(data []byte) {
	d.mu.Lock()
	cb := d.onChunk
	d.mu.Unlock()
	cb(data)
}

func newTestRecorder(clock Clock) (*ChunkedRecorder, *fakeDriver, *fakeStream) {
	driver := &fakeDriver{}
	descriptor := Descriptor{MimeType: "audio/webm;codecs=opus", Extension: "webm"}
	rec := NewChunkedRecorder(descriptor, driver, clock, 45*time.Second, 900*time.Second, 60*time.Second)
	stream := &fakeStream{}
	return rec, driver, stream
}

func drain(t *testing.T, events <-chan Event, n int) []Event {
	t.Helper()
	out := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		select {
		case e := <-events:
			out = append(out, e)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d/%d", i+1, n)
		}
	}
	return out
}

func TestChunkedRecorder_StartEmitsChunksInOrder(t *testing.T) {
	clock := newFakeClock(time.Now())
	rec, driver, stream := newTestRecorder(clock)

	require.NoError(t, rec.Start(stream, 0))
	driver.produce([]byte("chunk0"))
	driver.produce([]byte("chunk1"))

	events := drain(t, rec.Events(), 2)
	assert.Equal(t, 0, events[0].Chunk.Index)
	assert.Equal(t, 1, events[1].Chunk.Index)
}

func TestChunkedRecorder_ResumeStartsNumberingFromGivenIndex(t *testing.T) {
	// resuming after a reload starts numbering at lastChunkUploaded+1.
	clock := newFakeClock(time.Now())
	rec, driver, stream := newTestRecorder(clock)

	require.NoError(t, rec.Start(stream, 3))
	driver.produce([]byte("chunk3"))

	events := drain(t, rec.Events(), 1)
	assert.Equal(t, 3, events[0].Chunk.Index)
}

func TestChunkedRecorder_PauseResumeIdempotent(t *testing.T) {
	clock := newFakeClock(time.Now())
	rec, driver, stream := newTestRecorder(clock)
	require.NoError(t, rec.Start(stream, 0))

	rec.Pause(PauseCauseUser)
	rec.Pause(PauseCauseUser) // idempotent, must not emit a second paused event
	clock.Advance(5 * time.Second)
	rec.Resume(PauseCauseUser)
	rec.Resume(PauseCauseUser) // idempotent

	events := drain(t, rec.Events(), 2)
	assert.Equal(t, EventPaused, events[0].Kind)
	assert.Equal(t, EventResumed, events[1].Kind)
	assert.True(t, driver.paused == false)
}

func TestChunkedRecorder_VisibilityAutoPauseNeverAutoResumes(t *testing.T) {
	clock := newFakeClock(time.Now())
	rec, _, stream := newTestRecorder(clock)
	require.NoError(t, rec.Start(stream, 0))

	rec.OnVisibilityChange(true) // hidden -> auto-pause
	rec.OnVisibilityChange(false) // visible again -> must NOT auto-resume

	events := drain(t, rec.Events(), 1)
	assert.Equal(t, EventPaused, events[0].Kind)
	assert.Equal(t, PauseCauseVisibility, events[0].Cause)

	select {
	case e := <-rec.Events():
		t.Fatalf("unexpected event after visibility returned, recorder must require explicit resume: %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestChunkedRecorder_DurationWarningAndReached(t *testing.T) {
	// boundary behavior around the hard cap.
	start := time.Now()
	clock := newFakeClock(start)
	rec, _, stream := newTestRecorder(clock)
	require.NoError(t, rec.Start(stream, 0))

	rec.Tick(clock.Advance(840 * time.Second)) // maxDuration - 60s
	warnEvents := drain(t, rec.Events(), 2)
	assert.Equal(t, EventDurationTick, warnEvents[0].Kind)
	assert.Equal(t, EventDurationWarning, warnEvents[1].Kind)
	assert.Equal(t, 60, warnEvents[1].SecondsRemaining)

	rec.Tick(clock.Advance(60 * time.Second)) // now at maxDuration (900s)
	reachedEvents := drain(t, rec.Events(), 2)
	assert.Equal(t, EventDurationTick, reachedEvents[0].Kind)
	assert.Equal(t, EventDurationReached, reachedEvents[1].Kind)

	completeEvent := drain(t, rec.Events(), 1)[0]
	assert.Equal(t, EventRecordingComplete, completeEvent.Kind)
	assert.Equal(t, 900, completeEvent.FinalDurationSeconds)
	assert.True(t, stream.released)
}

func TestChunkedRecorder_DurationWarningEmittedExactlyOnce(t *testing.T) {
	start := time.Now()
	clock := newFakeClock(start)
	rec, _, stream := newTestRecorder(clock)
	require.NoError(t, rec.Start(stream, 0))

	rec.Tick(clock.Advance(840 * time.Second))
	drain(t, rec.Events(), 2) // tick, warning

	rec.Tick(clock.Advance(1 * time.Second))
	evt := drain(t, rec.Events(), 1)[0]
	assert.Equal(t, EventDurationTick, evt.Kind) // not another warning
}

func TestChunkedRecorder_AbortIsIdempotentAndReleasesStream(t *testing.T) {
	clock := newFakeClock(time.Now())
	rec, driver, stream := newTestRecorder(clock)
	require.NoError(t, rec.Start(stream, 0))

	rec.Abort()
	rec.Abort() // second abort must be indistinguishable from one

	assert.True(t, driver.aborted)
	assert.True(t, stream.released)
}

func TestChunkedRecorder_StopFlushesFinalChunk(t *testing.T) {
	clock := newFakeClock(time.Now())
	rec, driver, stream := newTestRecorder(clock)
	driver.stopData = []byte("final")
	require.NoError(t, rec.Start(stream, 0))

	rec.Stop()

	events := drain(t, rec.Events(), 2)
	assert.Equal(t, EventChunkAvailable, events[0].Kind)
	assert.Equal(t, EventRecordingComplete, events[1].Kind)
	assert.True(t, stream.released)
}
