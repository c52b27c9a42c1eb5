// Package sessionlink decodes the opaque session identifier embedded in a
// recording link into its component fields.
package sessionlink

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rcowellai/recording-app-sub000/internal/apperror"
)

// SessionID is the parsed form of the five-segment opaque identifier
// `{randomPrefix}-{promptId}-{userId}-{storytellerId}-{unixSeconds}`.
type SessionID struct {
	Raw           string
	RandomPrefix  string
	PromptID      string
	UserID        string
	StorytellerID string
	IssuedAt      time.Time
}

const segmentCount = 5

// Parse splits raw on "-" and validates that it produces exactly five
// non-empty segments with a valid trailing unix-seconds timestamp. Parsing is
// total: every input produces either a SessionID or ErrMalformedLink.
func Parse(raw string) (SessionID, error) {
	segments := strings.Split(raw, "-")
	if len(segments) != segmentCount {
		return SessionID{}, apperror.Wrap(errSegmentCount(len(segments)), apperror.ErrMalformedLink)
	}
	for _, s := range segments {
		if s == "" {
			return SessionID{}, apperror.Wrap(errEmptySegment(), apperror.ErrMalformedLink)
		}
	}

	unixSeconds, err := strconv.ParseInt(segments[4], 10, 64)
	if err != nil {
		return SessionID{}, apperror.Wrap(err, apperror.ErrMalformedLink)
	}

	return SessionID{
		Raw:           raw,
		RandomPrefix:  segments[0],
		PromptID:      segments[1],
		UserID:        segments[2],
		StorytellerID: segments[3],
		IssuedAt:      time.Unix(unixSeconds, 0).UTC(),
	}, nil
}

// ValidateAge rejects identifiers minted further in the past than maxAge.
// A zero maxAge disables the check.
func (id SessionID) ValidateAge(now time.Time, maxAge time.Duration) error {
	if maxAge <= 0 {
		return nil
	}
	if now.Sub(id.IssuedAt) > maxAge {
		return apperror.Wrap(parseError("session identifier is too old"), apperror.ErrMalformedLink)
	}
	return nil
}

// FromURL extracts the raw session identifier from a URL's path or from its
// "session" query parameter, accepting both entry forms, then parses it.
func FromURL(u *url.URL) (SessionID, error) {
	raw := u.Query().Get("session")
	if raw == "" {
		raw = strings.Trim(u.Path, "/")
	}
	if raw == "" {
		return SessionID{}, apperror.Wrap(errEmptySegment(), apperror.ErrMalformedLink)
	}
	return Parse(raw)
}

type parseError string

func (e parseError) Error() string { return string(e) }

func errSegmentCount(n int) error {
	return parseError("session identifier must have exactly " + strconv.Itoa(segmentCount) + " segments, got " + strconv.Itoa(n))
}

func errEmptySegment() error {
	return parseError("session identifier contains an empty segment")
}
