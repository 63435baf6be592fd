package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"

	"github.com/shopspring/decimal"
)

// FFmpeg wraps FFmpeg operations
type FFmpeg struct {
	ffmpegPath  string
	ffprobePath string
	crf         int
	preset      string
}

// NewFFmpeg creates a new FFmpeg instance
func NewFFmpeg(ffmpegPath, ffprobePath string) *FFmpeg {
	return &FFmpeg{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		crf:         23,
		preset:      "medium",
	}
}

// SetEncoding overrides the x264 quality settings used for burn-in
func (f *FFmpeg) SetEncoding(crf int, preset string) {
	if crf > 0 {
		f.crf = crf
	}
	if preset != "" {
		f.preset = preset
	}
}

// probeOutput holds the subset of ffprobe JSON we read
type probeOutput struct {
	Format struct {
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	} `json:"streams"`
}

// ProbeResult describes a media file
type ProbeResult struct {
	FormatName string
	Duration   decimal.Decimal // seconds
	Width      int
	Height     int
	HasVideo   bool
	HasAudio   bool
	AudioCodec string // first audio stream
}

// Probe extracts duration and stream layout from a media file
func (f *FFmpeg) Probe(ctx context.Context, inputPath string) (*ProbeResult, error) {
	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		inputPath,
	}

	cmd := exec.CommandContext(ctx, f.ffprobePath, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w, stderr: %s", err, stderr.String())
	}

	return parseProbe(stdout.Bytes())
}

func parseProbe(data []byte) (*ProbeResult, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	result := &ProbeResult{FormatName: out.Format.FormatName}
	if out.Format.Duration != "" {
		duration, err := decimal.NewFromString(out.Format.Duration)
		if err != nil {
			return nil, fmt.Errorf("invalid duration %q: %w", out.Format.Duration, err)
		}
		result.Duration = duration
	}

	for _, stream := range out.Streams {
		switch stream.CodecType {
		case "video":
			// cover art in audio containers shows up as an mjpeg/png video stream
			if stream.CodecName == "mjpeg" || stream.CodecName == "png" {
				continue
			}
			if !result.HasVideo {
				result.HasVideo = true
				result.Width = stream.Width
				result.Height = stream.Height
			}
		case "audio":
			if !result.HasAudio {
				result.HasAudio = true
				result.AudioCodec = stream.CodecName
			}
		}
	}

	return result, nil
}

// run executes ffmpeg with the given arguments
func (f *FFmpeg) run(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, f.ffmpegPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg failed: %w, stderr: %s", err, tail(stderr.String(), 2048))
	}
	return nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
