package media

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/therealutkarshpriyadarshi/captionforge/pkg/models"
	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// ErrNoVideoStream is returned when burn-in is attempted on an audio-only file
var ErrNoVideoStream = errors.New("input has no video stream")

// mp4Audio lists source codecs that can be stream-copied into the mp4 output
var mp4Audio = map[string]bool{
	"aac":  true,
	"mp3":  true,
	"alac": true,
	"ac3":  true,
	"eac3": true,
}

// RenderJob describes a burn-in invocation
type RenderJob struct {
	VideoPath    string
	AudioPath    string // replaces the source audio when set
	SubtitlePath string
	Spec         models.RenderSpec
	OutputPath   string
}

// ExtractAudio writes a mono 16kHz mp3 of the input's audio track, sized for
// speech recognition uploads.
func (f *FFmpeg) ExtractAudio(ctx context.Context, inputPath, outputPath string) error {
	return f.run(ctx, extractAudioArgs(inputPath, outputPath))
}

func extractAudioArgs(inputPath, outputPath string) []string {
	return ffmpeg.Output(
		[]*ffmpeg.Stream{ffmpeg.Input(inputPath).Audio()},
		outputPath,
		ffmpeg.KwArgs{
			"c:a": "libmp3lame",
			"ac":  "1",
			"ar":  "16000",
			"b:a": "32k",
		},
	).OverWriteOutput().GetArgs()
}

// Render burns captions into the video using the compiled render spec
func (f *FFmpeg) Render(ctx context.Context, job RenderJob) error {
	probe, err := f.Probe(ctx, job.VideoPath)
	if err != nil {
		return err
	}
	if !probe.HasVideo {
		return ErrNoVideoStream
	}

	return f.run(ctx, f.renderArgs(job, probe))
}

func (f *FFmpeg) renderArgs(job RenderJob, source *ProbeResult) []string {
	input := ffmpeg.Input(job.VideoPath)
	streams := []*ffmpeg.Stream{input.Video()}

	kwargs := ffmpeg.KwArgs{
		"vf":     SubtitleFilter(job.SubtitlePath, job.Spec),
		"c:v":    "libx264",
		"crf":    strconv.Itoa(f.crf),
		"preset": f.preset,
	}

	switch {
	case job.AudioPath != "":
		streams = append(streams, ffmpeg.Input(job.AudioPath).Audio())
		kwargs["c:a"] = "aac"
	case source.HasAudio:
		streams = append(streams, input.Audio())
		kwargs["c:a"] = "aac"
		if mp4Audio[source.AudioCodec] {
			kwargs["c:a"] = "copy"
		}
	}

	return ffmpeg.Output(streams, job.OutputPath, kwargs).OverWriteOutput().GetArgs()
}

// SubtitleFilter builds the subtitles filter expression for a caption file
func SubtitleFilter(subtitlePath string, spec models.RenderSpec) string {
	escaped := strings.ReplaceAll(subtitlePath, "\\", "\\\\")
	escaped = strings.ReplaceAll(escaped, ":", "\\:")
	escaped = strings.ReplaceAll(escaped, "'", "\\'")
	return fmt.Sprintf("subtitles=%s:force_style='%s'", escaped, ForceStyle(spec))
}
