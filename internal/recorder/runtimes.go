package recorder

import "strings"

// RuntimeProbe returns a SupportProbe mimicking a named browser engine's
// media-recorder support matrix. Only for the CLI simulator and tests;
// production probes come from the real runtime.
func RuntimeProbe(name string) SupportProbe {
	switch strings.ToLower(name) {
	case "safari":
		// MP4/AAC and H.264 only.
		return func(mimeType string) bool {
			return mimeType == "" || strings.HasPrefix(mimeType, "audio/mp4") || strings.HasPrefix(mimeType, "video/mp4")
		}
	case "chromium", "firefox":
		// WebM only; probing MP4 must fail so the fallback order is what
		// keeps recordings audible here.
		return func(mimeType string) bool {
			return mimeType == "" || strings.HasPrefix(mimeType, "audio/webm") || strings.HasPrefix(mimeType, "video/webm")
		}
	case "none":
		return func(string) bool { return false }
	default:
		return func(string) bool { return true }
	}
}
