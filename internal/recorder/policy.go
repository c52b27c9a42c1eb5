package recorder

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Policy overrides the built-in codec preference order, so a new browser's
// descriptor can be promoted without a recompile. A kind left empty in the
// file keeps the built-in order.
type Policy struct {
	Audio []PolicyEntry `yaml:"audio"`
	Video []PolicyEntry `yaml:"video"`
}

// PolicyEntry is one container/codec candidate, highest priority first.
type PolicyEntry struct {
	MimeType  string `yaml:"mime_type"`
	Extension string `yaml:"extension"`
}

// ParsePolicy reads a YAML policy.
func ParsePolicy(r io.Reader) (*Policy, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read policy: %w", err)
	}
	policy := &Policy{}
	if err := yaml.Unmarshal(data, policy); err != nil {
		return nil, fmt.Errorf("parse policy: %w", err)
	}
	for _, e := range append(append([]PolicyEntry{}, policy.Audio...), policy.Video...) {
		if e.Extension == "" {
			return nil, fmt.Errorf("policy entry %q is missing an extension", e.MimeType)
		}
	}
	return policy, nil
}

// LoadPolicyFile reads a YAML policy from disk.
func LoadPolicyFile(path string) (*Policy, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParsePolicy(f)
}

func descriptors(entries []PolicyEntry) []Descriptor {
	out := make([]Descriptor, len(entries))
	for i, e := range entries {
		out[i] = Descriptor{MimeType: e.MimeType, Extension: e.Extension}
	}
	return out
}

// WithPolicy returns a selector whose preference order follows policy where
// it specifies one. A nil policy returns the receiver unchanged.
func (s *CodecSelector) WithPolicy(policy *Policy) *CodecSelector {
	if policy == nil {
		return s
	}
	next := &CodecSelector{probe: s.probe, audio: s.audio, video: s.video}
	if len(policy.Audio) > 0 {
		next.audio = descriptors(policy.Audio)
	}
	if len(policy.Video) > 0 {
		next.video = descriptors(policy.Video)
	}
	return next
}
