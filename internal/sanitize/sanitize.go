// Package sanitize scrubs raw, un-unpackable payloads before they reach a
// log line or an admin-facing endpoint, grounded in spec.md §4.A's
// "unpack failure logs" step and the teacher's habit of never writing
// untrusted bytes verbatim to structured logs (api/internal/middleware/structured_logger.go).
package sanitize

import (
	"github.com/microcosm-cc/bluemonday"
)

const maxLen = 2048

// Scrubber implements server.Sanitizer over a bluemonday strict policy.
type Scrubber struct {
	policy *bluemonday.Policy
}

// NewScrubber builds a Scrubber with bluemonday's strict policy, which
// strips all HTML/script content and leaves plain text only.
func NewScrubber() *Scrubber {
	return &Scrubber{policy: bluemonday.StrictPolicy()}
}

// Sanitize implements server.Sanitizer: strips markup and truncates so a
// hostile client cannot inject scripts or flood log aggregation with a
// single oversized frame.
func (s *Scrubber) Sanitize(raw string) string {
	clean := s.policy.Sanitize(raw)
	if len(clean) > maxLen {
		return clean[:maxLen] + "...(truncated)"
	}
	return clean
}
