package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/therealutkarshpriyadarshi/captionforge/internal/apperrors"
	"github.com/therealutkarshpriyadarshi/captionforge/internal/metrics"
	"github.com/therealutkarshpriyadarshi/captionforge/internal/storage"
	"github.com/therealutkarshpriyadarshi/captionforge/pkg/models"
)

var secondsPerMinute = decimal.NewFromInt(60)

func newUUID() string {
	return uuid.New().String()
}

// UploadRequest carries an incoming media file
type UploadRequest struct {
	Filename string
	Size     int64 // declared size; 0 when unknown
	Body     io.Reader
	Language string
}

func (s *Service) upload(ctx context.Context, userID, videoID string, req UploadRequest) (*models.Video, error) {
	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(req.Filename)), ".")
	if !slices.Contains(s.settings.AllowedFormats, format) {
		return nil, reject("format", fmt.Sprintf("format %q is not one of: %s",
			format, strings.Join(s.settings.AllowedFormats, ", ")))
	}
	if s.tooLarge(req.Size) {
		return nil, reject("size", s.sizeMessage())
	}
	lang, err := normalizeLanguage("language", req.Language)
	if err != nil {
		metrics.RecordUploadRejected("language")
		return nil, err
	}

	dir, cleanup, err := s.workDir(apperrors.StageUpload)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	localPath := filepath.Join(dir, "source."+format)
	size, err := s.spool(req.Body, localPath)
	if err != nil {
		return nil, apperrors.Storage(apperrors.StageUpload, err)
	}
	if size == 0 {
		return nil, reject("file", "file is empty")
	}
	if s.tooLarge(size) {
		return nil, reject("size", s.sizeMessage())
	}

	probe, err := s.media.Probe(ctx, localPath)
	if err != nil {
		s.logger.WithError(err).Debug("Probe rejected upload")
		return nil, reject("file", "file is not readable media")
	}
	if !probe.HasAudio {
		return nil, reject("file", "media has no audio track")
	}

	minutes := probe.Duration.Div(secondsPerMinute).Round(4)
	if err := s.checkDuration(minutes); err != nil {
		metrics.RecordUploadRejected("duration")
		return nil, err
	}

	key := storage.SourceKey(userID, videoID, format)
	if err := s.store.UploadFile(ctx, key, localPath); err != nil {
		return nil, apperrors.Storage(apperrors.StageUpload, err)
	}

	video := &models.Video{
		ID:              videoID,
		UserID:          userID,
		Filename:        filepath.Base(req.Filename),
		SourceKey:       key,
		Size:            size,
		Format:          format,
		DurationMinutes: minutes,
		Width:           probe.Width,
		Height:          probe.Height,
		HasVideo:        probe.HasVideo,
		Language:        lang,
		Status:          models.VideoStatusQueued,
		DubbingStatus:   models.DubbingStatusNone,
	}
	if err := s.repo.CreateVideo(ctx, video); err != nil {
		dctx, cancel := detached(ctx)
		defer cancel()
		if delErr := s.store.Delete(dctx, key); delErr != nil {
			s.logger.WithError(delErr).Warnf("failed to remove orphaned upload %s", key)
		}
		return nil, apperrors.Storage(apperrors.StageUpload, err)
	}

	metrics.RecordVideoUpload(format, size)
	s.publish(ctx, &models.Event{
		Type:    models.EventVideoUploaded,
		VideoID: video.ID,
		UserID:  userID,
		Status:  video.Status,
	})

	return video, nil
}

// spool copies at most MaxUploadBytes+1 bytes of body to path
func (s *Service) spool(body io.Reader, path string) (int64, error) {
	if body == nil {
		return 0, nil
	}

	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	if s.settings.MaxUploadBytes > 0 {
		body = io.LimitReader(body, s.settings.MaxUploadBytes+1)
	}
	n, err := io.Copy(f, body)
	if err != nil {
		return n, err
	}
	return n, f.Sync()
}

func (s *Service) tooLarge(size int64) bool {
	return s.settings.MaxUploadBytes > 0 && size > s.settings.MaxUploadBytes
}

func (s *Service) sizeMessage() string {
	return fmt.Sprintf("file exceeds the %d byte limit", s.settings.MaxUploadBytes)
}

// checkDuration enforces 0 < minutes <= MaxDurationMinutes
func (s *Service) checkDuration(minutes decimal.Decimal) error {
	if !minutes.IsPositive() {
		return apperrors.Validation("duration", "media has no measurable duration")
	}
	if s.settings.MaxDurationMinutes.IsPositive() && minutes.GreaterThan(s.settings.MaxDurationMinutes) {
		return apperrors.Validation("duration", fmt.Sprintf("duration %s min exceeds the %s minute limit",
			minutes.StringFixed(2), s.settings.MaxDurationMinutes.String()))
	}
	return nil
}

func reject(field, message string) error {
	metrics.RecordUploadRejected(field)
	return apperrors.Validation(field, message)
}
