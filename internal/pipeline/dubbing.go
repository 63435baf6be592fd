package pipeline

import (
	"context"
	"os"
	"path/filepath"

	"github.com/therealutkarshpriyadarshi/captionforge/internal/apperrors"
	"github.com/therealutkarshpriyadarshi/captionforge/internal/dubbing"
	"github.com/therealutkarshpriyadarshi/captionforge/internal/metrics"
	"github.com/therealutkarshpriyadarshi/captionforge/internal/storage"
	"github.com/therealutkarshpriyadarshi/captionforge/pkg/models"
)

// DubbingResult reports the state of a video's dubbing job. URL is set once
// the dubbed track is stored.
type DubbingResult struct {
	VideoID   string `json:"video_id"`
	DubbingID string `json:"dubbing_id"`
	Language  string `json:"language"`
	Status    string `json:"status"`
	URL       string `json:"url,omitempty"`
	Error     string `json:"error,omitempty"`
}

func dubbingResult(video *models.Video) *DubbingResult {
	return &DubbingResult{
		VideoID:   video.ID,
		DubbingID: video.DubbingID,
		Language:  video.DubbingLanguage,
		Status:    video.DubbingStatus,
	}
}

func (s *Service) requestDubbing(ctx context.Context, userID, videoID, targetLang string) (*DubbingResult, error) {
	const stage = apperrors.StageDubbing

	lang, err := normalizeLanguage("target_language", targetLang)
	if err != nil {
		return nil, err
	}
	if lang == "" {
		return nil, apperrors.Validation("target_language", "target language is required")
	}

	video, err := s.loadOwned(ctx, userID, videoID)
	if err != nil {
		return nil, err
	}
	if lang == video.Language {
		return nil, apperrors.Validation("target_language", "target language matches the source language")
	}

	sourceURL, err := s.store.GetURL(ctx, video.SourceKey)
	if err != nil {
		return nil, apperrors.Storage(stage, err)
	}

	// Any earlier job and its track are superseded from here on.
	previousTrack := video.DubbedMediaKey
	video.DubbingStatus = models.DubbingStatusRequested
	video.DubbingID = ""
	video.DubbingLanguage = lang
	video.DubbedMediaKey = ""
	video.IsDubbedAudio = false
	if err := s.repo.UpdateVideo(ctx, video); err != nil {
		return nil, apperrors.Storage(stage, err)
	}
	s.removeObject(ctx, previousTrack)

	job, err := s.dubber.Create(ctx, sourceURL, video.Language, lang)
	if err != nil {
		return nil, s.failDubbing(ctx, video, err)
	}

	video.DubbingID = job.ID
	video.DubbingStatus = models.DubbingStatusPending
	if err := s.repo.UpdateVideo(ctx, video); err != nil {
		return nil, apperrors.Storage(stage, err)
	}

	s.publish(ctx, &models.Event{
		Type:      models.EventDubbingRequested,
		VideoID:   video.ID,
		UserID:    video.UserID,
		DubbingID: job.ID,
		Status:    video.DubbingStatus,
	})

	return dubbingResult(video), nil
}

func (s *Service) dubbingStatus(ctx context.Context, userID, videoID, dubbingID string) (*DubbingResult, error) {
	video, err := s.checkDubbingID(ctx, userID, videoID, dubbingID)
	if err != nil {
		return nil, err
	}

	switch video.DubbingStatus {
	case models.DubbingStatusReady:
		return s.readyResult(ctx, video)
	case models.DubbingStatusFailed:
		result := dubbingResult(video)
		result.Error = video.ErrorMsg
		return result, nil
	}

	progress, err := s.dubber.Poll(ctx, dubbingID)
	if err != nil {
		if appErr, ok := apperrors.As(err); ok && appErr.Transient {
			metrics.RecordDubbingPoll(models.DubbingStatusPending)
			return nil, err
		}
		metrics.RecordDubbingPoll(models.DubbingStatusFailed)
		return nil, s.failDubbing(ctx, video, err)
	}

	switch progress.Status {
	case dubbing.StatusPending:
		metrics.RecordDubbingPoll(models.DubbingStatusPending)
		video.DubbingStatus = models.DubbingStatusPending
		return dubbingResult(video), nil

	case dubbing.StatusFailed:
		metrics.RecordDubbingPoll(models.DubbingStatusFailed)
		detail := progress.Error
		if detail == "" {
			detail = "dubbing provider reported failure"
		}
		s.markDubbingFailed(ctx, video, detail)
		result := dubbingResult(video)
		result.Error = detail
		return result, nil
	}

	metrics.RecordDubbingPoll(models.DubbingStatusReady)
	key, err := s.fetchDubbedTrack(ctx, video)
	if err != nil {
		if appErr, ok := apperrors.As(err); ok && appErr.Transient {
			return nil, err
		}
		return nil, s.failDubbing(ctx, video, err)
	}

	// The job may have been superseded while the track was downloading.
	current, err := s.repo.GetVideo(ctx, video.ID)
	if err != nil || current.DubbingID != dubbingID {
		s.removeObject(ctx, key)
		if err != nil {
			return nil, apperrors.Storage(apperrors.StageDubbing, err)
		}
		return nil, apperrors.Conflict(apperrors.StageDubbing, "dubbing job was superseded")
	}

	video.DubbedMediaKey = key
	video.IsDubbedAudio = true
	video.DubbingStatus = models.DubbingStatusReady
	if err := s.repo.UpdateVideo(ctx, video); err != nil {
		s.removeObject(ctx, key)
		return nil, apperrors.Storage(apperrors.StageDubbing, err)
	}

	s.publish(ctx, &models.Event{
		Type:      models.EventDubbingReady,
		VideoID:   video.ID,
		UserID:    video.UserID,
		DubbingID: dubbingID,
		Status:    video.DubbingStatus,
	})

	return s.readyResult(ctx, video)
}

// storedDubbingStatus reports the persisted dubbing state without polling
func (s *Service) storedDubbingStatus(ctx context.Context, userID, videoID, dubbingID string) (*DubbingResult, error) {
	video, err := s.checkDubbingID(ctx, userID, videoID, dubbingID)
	if err != nil {
		return nil, err
	}
	if video.DubbingStatus == models.DubbingStatusReady {
		return s.readyResult(ctx, video)
	}
	return dubbingResult(video), nil
}

// checkDubbingID loads the video and rejects ids other than its current job
func (s *Service) checkDubbingID(ctx context.Context, userID, videoID, dubbingID string) (*models.Video, error) {
	video, err := s.loadOwned(ctx, userID, videoID)
	if err != nil {
		return nil, err
	}
	if video.DubbingID == "" || video.DubbingStatus == models.DubbingStatusNone {
		return nil, apperrors.NotFound("video has no dubbing job")
	}
	if dubbingID != video.DubbingID {
		return nil, apperrors.Conflict(apperrors.StageDubbing, "dubbing job was superseded by "+video.DubbingID)
	}
	return video, nil
}

func (s *Service) readyResult(ctx context.Context, video *models.Video) (*DubbingResult, error) {
	result := dubbingResult(video)
	url, err := s.presign(ctx, video.DubbedMediaKey)
	if err != nil {
		return nil, err
	}
	result.URL = url
	return result, nil
}

// fetchDubbedTrack downloads the finished track from the provider into the
// object store and returns its key
func (s *Service) fetchDubbedTrack(ctx context.Context, video *models.Video) (string, error) {
	const stage = apperrors.StageDubbing

	dir, cleanup, err := s.workDir(stage)
	if err != nil {
		return "", err
	}
	defer cleanup()

	localPath := filepath.Join(dir, "dubbed")
	f, err := os.Create(localPath)
	if err != nil {
		return "", apperrors.Storage(stage, err)
	}
	contentType, err := s.dubber.Download(ctx, video.DubbingID, video.DubbingLanguage, f)
	if closeErr := f.Close(); err == nil && closeErr != nil {
		err = apperrors.Storage(stage, closeErr)
	}
	if err != nil {
		return "", err
	}

	key := storage.DubbedKey(video.UserID, video.ID, video.DubbingLanguage, dubbing.ExtensionFor(contentType))
	if err := s.store.UploadFile(ctx, key, localPath); err != nil {
		return "", apperrors.Storage(stage, err)
	}
	return key, nil
}

// failDubbing records a failed dubbing job and returns cause tagged with the
// dubbing stage
func (s *Service) failDubbing(ctx context.Context, video *models.Video, cause error) error {
	s.markDubbingFailed(ctx, video, cause.Error())
	return apperrors.WithStage(cause, apperrors.StageDubbing, false)
}

func (s *Service) markDubbingFailed(ctx context.Context, video *models.Video, detail string) {
	ctx, cancel := detached(ctx)
	defer cancel()

	video.DubbingStatus = models.DubbingStatusFailed
	video.ErrorMsg = "dubbing: " + detail
	if err := s.repo.UpdateVideo(ctx, video); err != nil {
		s.logger.WithVideoID(video.ID).WithError(err).Error("failed to record dubbing failure")
	}

	s.publish(ctx, &models.Event{
		Type:      models.EventDubbingFailed,
		VideoID:   video.ID,
		UserID:    video.UserID,
		DubbingID: video.DubbingID,
		Status:    video.DubbingStatus,
		Detail:    detail,
	})
}
