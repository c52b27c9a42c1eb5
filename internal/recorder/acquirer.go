package recorder

import (
	"context"

	"github.com/rcowellai/recording-app-sub000/internal/apperror"
)

// AudioConstraints is the "ideal, not exact" quality contract for audio
// capture.
type AudioConstraints struct {
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
	SampleRateHz     int
}

// DefaultAudioConstraints is the production audio quality contract.
func DefaultAudioConstraints() AudioConstraints {
	return AudioConstraints{
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
		SampleRateHz:     44100,
	}
}

// VideoConstraints is the "ideal, not exact" quality contract for video
// capture.
type VideoConstraints struct {
	IdealWidth  int
	IdealHeight int
	MaxWidth    int
	MaxHeight   int
	IdealFPS    int
	FacingMode  string
}

// DefaultVideoConstraints is the production video quality contract.
func DefaultVideoConstraints() VideoConstraints {
	return VideoConstraints{
		IdealWidth:  1280,
		IdealHeight: 720,
		MaxWidth:    1920,
		MaxHeight:   1080,
		IdealFPS:    30,
		FacingMode:  "user",
	}
}

// MediaStream is an opaque handle to a live stream of media tracks. The core
// never inspects its contents; it only starts/stops recorders against it
// and releases it on teardown.
type MediaStream interface {
	// Release stops every track in the stream. Must be idempotent.
	Release()
}

// Acquirer is the Media Acquirer: it requests a live media stream for
// the given kind, surfacing permission and device errors. Production
// implementations are backed by the browser's getUserMedia via the JS
// bridge; tests supply a fake.
type Acquirer interface {
	Acquire(ctx context.Context, kind MediaKind, audio AudioConstraints, video VideoConstraints) (MediaStream, error)
}

// DriverFactory builds the platform Driver bound to a live stream and a
// negotiated descriptor. Production wiring supplies a factory backed by the
// browser's MediaRecorder over the JS bridge; tests supply a fake.
type DriverFactory func(descriptor Descriptor, stream MediaStream) Driver

// Device/permission error kinds specific to acquisition, mapped onto the
// shared apperror vocabulary.
var (
	ErrPermissionDenied = apperror.ErrPermissionDenied
	ErrNoDevice         = apperror.ErrNoDevice
	ErrDeviceInUse      = apperror.ErrDeviceInUse
	ErrUnsupported      = apperror.ErrUnsupportedCodec
)
