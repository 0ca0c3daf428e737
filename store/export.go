package store

import (
	"fmt"
	"math"
	"strings"
)

// FormatSRT renders segments as SubRip cues. Cues are renumbered from 1 in
// order, whatever IDs the ASR engine assigned.
func FormatSRT(segments []Segment) string {
	var b strings.Builder
	for i, seg := range segments {
		fmt.Fprintf(&b, "%d\n", i+1)
		fmt.Fprintf(&b, "%s --> %s\n", srtTimestamp(seg.Start), srtTimestamp(seg.End))
		b.WriteString(strings.TrimSpace(seg.Text))
		b.WriteString("\n\n")
	}
	return b.String()
}

// srtTimestamp renders seconds as HH:MM:SS,mmm with millisecond rounding.
func srtTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	ms := int64(math.Round(seconds * 1000))
	h := ms / 3600000
	ms -= h * 3600000
	m := ms / 60000
	ms -= m * 60000
	s := ms / 1000
	ms -= s * 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}

// FormatTXT renders segments as plain text. A paragraph break happens where a
// segment ends a sentence and the next segment starts at least two seconds
// later; otherwise segments flow together separated by single spaces.
func FormatTXT(segments []Segment) string {
	var (
		paragraphs []string
		current    []string
	)
	flush := func() {
		if len(current) > 0 {
			paragraphs = append(paragraphs, strings.Join(current, " "))
			current = nil
		}
	}

	for i, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		current = append(current, text)

		if i+1 < len(segments) && endsSentence(text) && segments[i+1].Start-seg.End >= 2.0 {
			flush()
		}
	}
	flush()
	return strings.Join(paragraphs, "\n\n")
}

func endsSentence(text string) bool {
	return strings.HasSuffix(text, ".") || strings.HasSuffix(text, "!") || strings.HasSuffix(text, "?")
}
