// Package controller implements the Recording Controller: the state
// machine that wires the Codec Selector, Media Acquirer, Chunked Recorder,
// Upload Manager, Session Client, Session Watcher, and Session Link Parser
// into the single flow a recording tab drives end to end.
package controller

import (
	"context"

	"github.com/rcowellai/recording-app-sub000/internal/apperror"
	"github.com/rcowellai/recording-app-sub000/internal/recorder"
	"github.com/rcowellai/recording-app-sub000/internal/upload"
)

// Phase is the controller's own state, a superset of the remote session
// Status that also captures in-tab-only states (prompt, countdown,
// reviewing) the document never records.
type Phase string

const (
	PhaseLoading   Phase = "loading"
	PhasePrompt    Phase = "prompt"
	PhasePreparing Phase = "preparing"
	PhaseCountdown Phase = "countdown"
	PhaseRecording Phase = "recording"
	PhasePaused    Phase = "paused"
	PhaseReviewing Phase = "reviewing"
	PhaseUploading Phase = "uploading"
	PhaseProcessing Phase = "processing"
	PhaseCompleted Phase = "completed"
	PhaseFailed    Phase = "failed"
	PhaseError     Phase = "error"
	// PhaseObservingElsewhere is reached when this tab loses the race to
	// start a recording against another tab holding the same link. It is
	// read-only: the losing tab never writes again.
	PhaseObservingElsewhere Phase = "observing-elsewhere"
)

// EventKind discriminates the controller's own event union; the UI observes
// the controller the same way the controller observes its children.
type EventKind string

const (
	EventPhaseChanged    EventKind = "phase-changed"
	EventDurationTick    EventKind = "duration-tick"
	EventDurationWarning EventKind = "duration-warning"
	EventDurationReached EventKind = "duration-reached"
	EventUploadProgress  EventKind = "upload-progress"
	EventFatal           EventKind = "fatal"
)

// Event is the discriminated union the controller emits.
type Event struct {
	Kind EventKind

	Phase Phase

	// EventDurationTick
	ElapsedSeconds int

	// EventDurationWarning
	SecondsRemaining int

	// EventUploadProgress
	UploadProgress    int
	LastChunkUploaded int

	// EventFatal
	Err *apperror.Error
}

// UploadManager is the subset of *upload.Manager the controller depends on,
// narrowed so tests can substitute a fake without standing up real storage.
type UploadManager interface {
	Events() <-chan upload.Event
	Enqueue(ctx context.Context, chunk recorder.Chunk) error
	SetExpectedTotal(n int)
	Close()
	Wait(ctx context.Context) error
	Summary() (lastUploaded, succeeded int, bytes int64)
	Abort()
}

// ManagerFactory builds the Upload Manager for one recording attempt.
// resumeFrom is the session's lastChunkUploaded at load time (-1 if none),
// and extension is the codec descriptor's file extension.
type ManagerFactory func(resumeFrom int, extension string) UploadManager
