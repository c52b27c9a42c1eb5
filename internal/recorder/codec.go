package recorder

import "github.com/rcowellai/recording-app-sub000/internal/apperror"

// MediaKind is the recording mode: audio and video are mutually exclusive
// per attempt.
type MediaKind string

const (
	MediaKindAudio MediaKind = "audio"
	MediaKindVideo MediaKind = "video"
)

// Descriptor is a supported container/codec pair plus the file extension
// used when deriving object paths.
type Descriptor struct {
	MimeType  string
	Extension string
}

// audioPreferences and videoPreferences are the fixed fallback orders,
// highest priority first. The selector never hard-codes a single type;
// that is the documented cause of silent recordings on one major browser
// engine.
var audioPreferences = []Descriptor{
	{MimeType: "audio/mp4;codecs=mp4a.40.2", Extension: "mp4"},
	{MimeType: "audio/mp4", Extension: "mp4"},
	{MimeType: "audio/webm;codecs=opus", Extension: "webm"},
	{MimeType: "audio/webm", Extension: "webm"},
	{MimeType: "", Extension: "webm"},
}

var videoPreferences = []Descriptor{
	{MimeType: "video/mp4;codecs=h264", Extension: "mp4"},
	{MimeType: "video/mp4", Extension: "mp4"},
	{MimeType: "video/webm;codecs=vp8", Extension: "webm"},
	{MimeType: "video/webm", Extension: "webm"},
	{MimeType: "", Extension: "webm"},
}

// SupportProbe reports whether the runtime's media recorder can produce the
// given MIME type. In production this is backed by the browser's
// MediaRecorder.isTypeSupported; in tests it is a plain function value.
type SupportProbe func(mimeType string) bool

// CodecSelector is the Codec Selector: given a media kind, it probes
// an ordered preference list and returns the first supported descriptor.
type CodecSelector struct {
	probe SupportProbe
	audio []Descriptor
	video []Descriptor
}

// NewCodecSelector constructs a selector around the given probe, using the
// built-in preference order. See WithPolicy for operator overrides.
func NewCodecSelector(probe SupportProbe) *CodecSelector {
	return &CodecSelector{probe: probe, audio: audioPreferences, video: videoPreferences}
}

// Select returns the highest-priority supported descriptor for kind. It
// fails with ErrUnsupportedCodec only when probing the empty string (the
// runtime-default fallback) is also rejected.
func (s *CodecSelector) Select(kind MediaKind) (Descriptor, error) {
	var prefs []Descriptor
	switch kind {
	case MediaKindAudio:
		prefs = s.audio
	case MediaKindVideo:
		prefs = s.video
	default:
		return Descriptor{}, apperror.ErrBadRequest
	}

	for _, d := range prefs {
		if s.probe(d.MimeType) {
			return d, nil
		}
	}
	return Descriptor{}, apperror.ErrUnsupportedCodec
}
