package pipeline

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/therealutkarshpriyadarshi/captionforge/internal/apperrors"
	"github.com/therealutkarshpriyadarshi/captionforge/internal/captions"
	"github.com/therealutkarshpriyadarshi/captionforge/internal/storage"
	"github.com/therealutkarshpriyadarshi/captionforge/pkg/models"
)

// maxSubtitleBytes caps caption files read back from storage
const maxSubtitleBytes = 8 << 20

// VideoView is a video with presigned URLs for its stored media
type VideoView struct {
	*models.Video
	SourceURL      string `json:"source_url,omitempty"`
	DubbedVideoURL string `json:"dubbed_video_url,omitempty"`
	BurnedVideoURL string `json:"burned_video_url,omitempty"`
}

// GetVideo returns one of the user's videos
func (s *Service) GetVideo(ctx context.Context, userID, videoID string) (*VideoView, error) {
	video, err := s.loadOwned(ctx, userID, videoID)
	if err != nil {
		return nil, err
	}

	view := &VideoView{Video: video}
	links := []struct {
		key  string
		dest *string
	}{
		{video.SourceKey, &view.SourceURL},
		{video.DubbedMediaKey, &view.DubbedVideoURL},
		{video.BurnedVideoKey, &view.BurnedVideoURL},
	}
	for _, link := range links {
		if *link.dest, err = s.presign(ctx, link.key); err != nil {
			return nil, err
		}
	}
	return view, nil
}

// ListVideos returns a page of the user's videos, newest first
func (s *Service) ListVideos(ctx context.Context, userID string, limit, offset int) ([]*models.Video, error) {
	videos, err := s.repo.ListVideosByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, apperrors.Storage("", err)
	}
	return videos, nil
}

// ListSubtitles returns a video's subtitles, newest first
func (s *Service) ListSubtitles(ctx context.Context, userID, videoID string) ([]*models.Subtitle, error) {
	if _, err := s.loadOwned(ctx, userID, videoID); err != nil {
		return nil, err
	}
	subtitles, err := s.repo.ListSubtitles(ctx, videoID)
	if err != nil {
		return nil, apperrors.Storage("", err)
	}
	return subtitles, nil
}

// SubtitleFile is a caption file rendered in a requested format
type SubtitleFile struct {
	Filename    string
	ContentType string
	Body        string
}

// SubtitleFile reads a stored subtitle and converts it to format ("srt" or
// "vtt"; empty keeps the stored format)
func (s *Service) SubtitleFile(ctx context.Context, userID, subtitleID, format string) (*SubtitleFile, error) {
	format = strings.ToLower(format)
	if format == "" {
		format = models.SubtitleFormatSRT
	}
	if format != models.SubtitleFormatSRT && format != models.SubtitleFormatVTT {
		return nil, apperrors.Validation("format", "format must be one of: srt, vtt")
	}

	subtitle, err := s.repo.GetSubtitle(ctx, subtitleID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, apperrors.NotFound("subtitle not found")
	}
	if err != nil {
		return nil, apperrors.Storage("", err)
	}
	if _, err := s.loadOwned(ctx, userID, subtitle.VideoID); err != nil {
		return nil, err
	}

	rc, err := s.store.Download(ctx, subtitle.Key)
	if err != nil {
		return nil, apperrors.Storage("", err)
	}
	defer rc.Close()

	raw, err := io.ReadAll(io.LimitReader(rc, maxSubtitleBytes))
	if err != nil {
		return nil, apperrors.Storage("", err)
	}

	body := string(raw)
	if format != subtitle.Format {
		cues, err := captions.Parse(body, subtitle.Format)
		if err != nil {
			return nil, apperrors.Storage("", err)
		}
		if body, err = captions.Export(cues, format); err != nil {
			return nil, err
		}
	}

	filename := subtitle.VideoID
	if subtitle.Language != "" {
		filename += "." + subtitle.Language
	}
	filename += "." + format

	return &SubtitleFile{
		Filename:    filename,
		ContentType: storage.ContentType(filename),
		Body:        body,
	}, nil
}
