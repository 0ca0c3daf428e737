package store

import (
	"fmt"
	"regexp"
	"strings"
)

var tagRegex = regexp.MustCompile(`^[a-z0-9_-]{1,50}$`)

// MaxTagsPerRecord caps how many tags one transcription may carry.
const MaxTagsPerRecord = 20

// NormalizeTags lowercases, trims and deduplicates tags, preserving first
// occurrence order. A tag that still violates the character class after
// normalization is an error, as is exceeding the per-record cap. The
// operation is idempotent: normalizing an already normalized list is a no-op.
func NormalizeTags(tags []string) ([]string, error) {
	out := []string{}
	seen := make(map[string]bool, len(tags))
	for _, tag := range tags {
		normalized := strings.ToLower(strings.TrimSpace(tag))
		if normalized == "" || seen[normalized] {
			continue
		}
		if !tagRegex.MatchString(normalized) {
			return nil, fmt.Errorf("invalid tag %q: must match [a-z0-9_-]{1,50}", tag)
		}
		seen[normalized] = true
		out = append(out, normalized)
	}
	if len(out) > MaxTagsPerRecord {
		return nil, fmt.Errorf("too many tags: %d exceeds the limit of %d", len(out), MaxTagsPerRecord)
	}
	return out, nil
}
