package recorder

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPolicy = `
audio:
  - mime_type: audio/webm;codecs=opus
    extension: webm
  - mime_type: ""
    extension: webm
`

func TestParsePolicyOverridesAudioOnly(t *testing.T) {
	policy, err := ParsePolicy(strings.NewReader(testPolicy))
	require.NoError(t, err)
	require.Len(t, policy.Audio, 2)
	assert.Empty(t, policy.Video)

	// Everything is supported, but the policy demotes MP4 entirely.
	selector := NewCodecSelector(func(string) bool { return true }).WithPolicy(policy)

	audio, err := selector.Select(MediaKindAudio)
	require.NoError(t, err)
	assert.Equal(t, "audio/webm;codecs=opus", audio.MimeType)

	// Video keeps the built-in order.
	video, err := selector.Select(MediaKindVideo)
	require.NoError(t, err)
	assert.Equal(t, "video/mp4;codecs=h264", video.MimeType)
}

func TestParsePolicyRejectsMissingExtension(t *testing.T) {
	_, err := ParsePolicy(strings.NewReader("audio:\n  - mime_type: audio/mp4\n"))
	assert.Error(t, err)
}

func TestRuntimeProbeProfiles(t *testing.T) {
	safari := NewCodecSelector(RuntimeProbe("safari"))
	d, err := safari.Select(MediaKindAudio)
	require.NoError(t, err)
	assert.Equal(t, "audio/mp4;codecs=mp4a.40.2", d.MimeType)

	chromium := NewCodecSelector(RuntimeProbe("chromium"))
	d, err = chromium.Select(MediaKindAudio)
	require.NoError(t, err)
	assert.Equal(t, "audio/webm;codecs=opus", d.MimeType)

	none := NewCodecSelector(RuntimeProbe("none"))
	_, err = none.Select(MediaKindVideo)
	assert.Error(t, err)
}
