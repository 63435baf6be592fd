package captions

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/therealutkarshpriyadarshi/captionforge/internal/apperrors"
	"github.com/therealutkarshpriyadarshi/captionforge/pkg/models"
)

const vttHeader = "WEBVTT"

// ToSRT renders cues as SubRip text
func ToSRT(cues []Cue) string {
	var b strings.Builder
	for i, cue := range cues {
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n", i+1,
			formatTimestamp(cue.Start, ','), formatTimestamp(cue.End, ','), cue.Text)
	}
	return b.String()
}

// ToVTT renders cues as WebVTT text
func ToVTT(cues []Cue) string {
	var b strings.Builder
	b.WriteString(vttHeader + "\n\n")
	for _, cue := range cues {
		fmt.Fprintf(&b, "%s --> %s\n%s\n\n",
			formatTimestamp(cue.Start, '.'), formatTimestamp(cue.End, '.'), cue.Text)
	}
	return b.String()
}

// Export renders cues in the named format
func Export(cues []Cue, format string) (string, error) {
	switch format {
	case models.SubtitleFormatSRT:
		return ToSRT(cues), nil
	case models.SubtitleFormatVTT:
		return ToVTT(cues), nil
	default:
		return "", apperrors.Validation("format", fmt.Sprintf("unsupported subtitle format %q", format))
	}
}

// Parse reads caption text in the named format
func Parse(text, format string) ([]Cue, error) {
	switch format {
	case models.SubtitleFormatSRT:
		return ParseSRT(text)
	case models.SubtitleFormatVTT:
		return ParseVTT(text)
	default:
		return nil, apperrors.Validation("format", fmt.Sprintf("unsupported subtitle format %q", format))
	}
}

// ParseSRT reads SubRip text
func ParseSRT(text string) ([]Cue, error) {
	var cues []Cue
	for _, block := range splitBlocks(text) {
		cue, ok, err := parseBlock(block)
		if err != nil {
			return nil, err
		}
		if ok {
			cues = append(cues, cue)
		}
	}
	return cues, nil
}

// ParseVTT reads WebVTT text, skipping the header, NOTE, STYLE and REGION
// blocks, cue identifiers and cue settings.
func ParseVTT(text string) ([]Cue, error) {
	blocks := splitBlocks(text)
	if len(blocks) == 0 || !strings.HasPrefix(blocks[0][0], vttHeader) {
		return nil, fmt.Errorf("missing %s header", vttHeader)
	}

	var cues []Cue
	for _, block := range blocks[1:] {
		switch {
		case strings.HasPrefix(block[0], "NOTE"),
			strings.HasPrefix(block[0], "STYLE"),
			strings.HasPrefix(block[0], "REGION"):
			continue
		}
		cue, ok, err := parseBlock(block)
		if err != nil {
			return nil, err
		}
		if ok {
			cues = append(cues, cue)
		}
	}
	return cues, nil
}

func splitBlocks(text string) [][]string {
	text = strings.TrimPrefix(text, "\ufeff")
	text = strings.ReplaceAll(text, "\r\n", "\n")

	var blocks [][]string
	var current []string
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			if len(current) > 0 {
				blocks = append(blocks, current)
				current = nil
			}
			continue
		}
		current = append(current, line)
	}
	if len(current) > 0 {
		blocks = append(blocks, current)
	}
	return blocks
}

// parseBlock finds the timing line of a block, ignoring any identifier
// line before it, and takes the remaining lines as text.
func parseBlock(lines []string) (Cue, bool, error) {
	timing := -1
	for i, line := range lines {
		if strings.Contains(line, "-->") {
			timing = i
			break
		}
	}
	if timing < 0 {
		return Cue{}, false, nil
	}

	parts := strings.SplitN(lines[timing], "-->", 2)
	start, err := parseTimestamp(strings.TrimSpace(parts[0]))
	if err != nil {
		return Cue{}, false, err
	}
	endFields := strings.Fields(parts[1])
	if len(endFields) == 0 {
		return Cue{}, false, fmt.Errorf("missing end timestamp in %q", lines[timing])
	}
	end, err := parseTimestamp(endFields[0])
	if err != nil {
		return Cue{}, false, err
	}

	return Cue{
		Start: start,
		End:   end,
		Text:  strings.Join(lines[timing+1:], "\n"),
	}, true, nil
}

func formatTimestamp(d time.Duration, sep byte) string {
	ms := d.Milliseconds()
	h := ms / 3600000
	ms -= h * 3600000
	m := ms / 60000
	ms -= m * 60000
	s := ms / 1000
	ms -= s * 1000
	return fmt.Sprintf("%02d:%02d:%02d%c%03d", h, m, s, sep, ms)
}

// parseTimestamp accepts HH:MM:SS,mmm, HH:MM:SS.mmm and MM:SS.mmm
func parseTimestamp(s string) (time.Duration, error) {
	s = strings.Replace(s, ",", ".", 1)
	clock, frac, _ := strings.Cut(s, ".")

	fields := strings.Split(clock, ":")
	if len(fields) < 2 || len(fields) > 3 {
		return 0, fmt.Errorf("invalid timestamp %q", s)
	}
	if len(fields) == 2 {
		fields = append([]string{"0"}, fields...)
	}

	var total time.Duration
	units := []time.Duration{time.Hour, time.Minute, time.Second}
	for i, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid timestamp %q", s)
		}
		total += time.Duration(n) * units[i]
	}

	if frac != "" {
		if len(frac) > 3 {
			frac = frac[:3]
		}
		for len(frac) < 3 {
			frac += "0"
		}
		ms, err := strconv.Atoi(frac)
		if err != nil {
			return 0, fmt.Errorf("invalid timestamp %q", s)
		}
		total += time.Duration(ms) * time.Millisecond
	}
	return total, nil
}
