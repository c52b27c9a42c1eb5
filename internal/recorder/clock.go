// Package recorder implements the Codec Selector, Media Acquirer,
// and Chunked Recorder. Actual browser media APIs cannot run inside a
// Go process; the browser frontend satisfies the
// SupportProbe, Acquirer, and driver interfaces declared here over a thin
// JS bridge, while every control-flow decision — cadence, duration cap,
// pause/resume bookkeeping, visibility handling — lives in this package and
// is fully testable without a browser.
package recorder

import "time"

// Clock abstracts wall-clock reads so duration/cadence logic is
// deterministic in tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the production Clock.
var SystemClock Clock = systemClock{}
