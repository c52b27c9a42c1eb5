package upload

import "github.com/rcowellai/recording-app-sub000/internal/session"

// EventKind discriminates the Manager's single event channel, mirroring the
// Chunked Recorder's event-bus design.
type EventKind string

const (
	// EventProgress fires after a chunk succeeds and the progress throttle
	// allows a write, and once more from Wait when no chunk has failed,
	// carrying the manager's current view of recordingData.
	EventProgress EventKind = "progress"
	// EventFatal fires exactly once, the first time a chunk exhausts its
	// retry budget.
	EventFatal EventKind = "fatal"
)

// Event is the discriminated union the Upload Manager emits.
type Event struct {
	Kind EventKind

	// EventProgress
	Progress session.RecordingData

	// EventFatal
	ChunkIndex int
	Err        error
}
