package captions

import (
	"math"
	"sort"
	"strings"
	"time"
)

// Segment is a raw timed transcription span as returned by the ASR provider.
// Times are in seconds.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Cue is a single normalized caption entry
type Cue struct {
	Start time.Duration `json:"start"`
	End   time.Duration `json:"end"`
	Text  string        `json:"text"`
}

// Normalize turns raw segments into cues that are millisecond precise, sorted
// by start, strictly ascending and non-overlapping. A cue that overlaps its
// predecessor has its start clipped to the predecessor's end; cues left with
// no duration or no text are dropped.
func Normalize(segments []Segment) []Cue {
	cues := make([]Cue, 0, len(segments))
	for _, seg := range segments {
		text := cleanText(seg.Text)
		if text == "" {
			continue
		}
		start, ok := toMillis(seg.Start)
		if !ok {
			continue
		}
		end, ok := toMillis(seg.End)
		if !ok {
			continue
		}
		cues = append(cues, Cue{Start: start, End: end, Text: text})
	}

	sort.SliceStable(cues, func(i, j int) bool {
		if cues[i].Start != cues[j].Start {
			return cues[i].Start < cues[j].Start
		}
		return cues[i].End < cues[j].End
	})

	out := cues[:0]
	var prevEnd time.Duration
	for _, cue := range cues {
		if len(out) > 0 && cue.Start < prevEnd {
			cue.Start = prevEnd
		}
		if cue.Start >= cue.End {
			continue
		}
		out = append(out, cue)
		prevEnd = cue.End
	}
	return out
}

func toMillis(seconds float64) (time.Duration, bool) {
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return 0, false
	}
	if seconds < 0 {
		seconds = 0
	}
	return time.Duration(math.Round(seconds*1000)) * time.Millisecond, true
}

// cleanText trims every line and drops blank ones
func cleanText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	lines := strings.Split(s, "\n")
	kept := lines[:0]
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

// Validate reports whether cues satisfy the normalized ordering invariant
func Validate(cues []Cue) bool {
	for i, cue := range cues {
		if cue.Start >= cue.End || cue.Text == "" {
			return false
		}
		if i > 0 && cue.Start < cues[i-1].End {
			return false
		}
	}
	return true
}
