// Package upload implements the Upload Manager: a bounded-concurrency,
// FIFO, retrying uploader that drains chunks produced by the Chunked
// Recorder into the object store.
package upload

import "github.com/rcowellai/recording-app-sub000/internal/recorder"

// State is a chunk's upload lifecycle.
type State string

const (
	StateQueued    State = "queued"
	StateUploading State = "uploading"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// pending is the manager's internal bookkeeping for one enqueued chunk; the
// raw bytes (recorder.Chunk) are dropped as soon as the upload succeeds or
// exhausts its retries, so at most the in-flight set plus one chunk is ever
// held in memory.
type pending struct {
	chunk       recorder.Chunk
	state       State
	retriesLeft int
}

// job is what travels through the manager's dispatch queue. Kept distinct
// from pending so the queue itself never carries mutable shared state.
type job struct {
	chunk recorder.Chunk
}
