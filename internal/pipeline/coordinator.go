package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/therealutkarshpriyadarshi/captionforge/internal/apperrors"
	"github.com/therealutkarshpriyadarshi/captionforge/internal/metrics"
	"github.com/therealutkarshpriyadarshi/captionforge/internal/storage"
	"github.com/therealutkarshpriyadarshi/captionforge/internal/tracing"
	"github.com/therealutkarshpriyadarshi/captionforge/pkg/models"
)

// ErrVideoBusy is wrapped by the conflict returned when another mutating
// operation holds the video
var ErrVideoBusy = errors.New("video is busy")

// LockKey returns the lock key guarding a video
func LockKey(videoID string) string {
	return "video:" + videoID
}

// run executes fn while holding the video's lock. The stage is traced, timed
// and logged; a busy video fails fast with a conflict.
func (s *Service) run(ctx context.Context, stage, videoID string, fn func(context.Context) error) error {
	release, ok, err := s.locker.TryAcquire(ctx, LockKey(videoID))
	if err != nil {
		return apperrors.Storage(stage, err)
	}
	if !ok {
		metrics.RecordCoordinatorConflict(stage)
		conflict := apperrors.Conflict(stage, "another operation is running on this video")
		conflict.Err = ErrVideoBusy
		return conflict
	}
	defer release()

	span, ctx := tracing.StartStageSpan(ctx, stage, videoID)
	defer tracing.FinishSpan(span)

	metrics.StageStarted(stage)
	start := time.Now()

	err = fn(ctx)

	outcome := "success"
	if err != nil {
		outcome = string(apperrors.KindOf(err))
		if outcome == "" {
			outcome = "error"
		}
		tracing.LogError(span, err)
	}
	metrics.RecordStage(stage, outcome, time.Since(start).Seconds())
	s.logger.LogStageEvent(videoID, stage, outcome, err)

	return err
}

func runFor[T any](ctx context.Context, s *Service, stage, videoID string, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := s.run(ctx, stage, videoID, func(ctx context.Context) error {
		var err error
		out, err = fn(ctx)
		return err
	})
	return out, err
}

// Upload validates, probes and stores a new video in the queued state.
// Rejected uploads never touch the ledger.
func (s *Service) Upload(ctx context.Context, userID string, req UploadRequest) (*models.Video, error) {
	videoID := s.newID()
	return runFor(ctx, s, apperrors.StageUpload, videoID, func(ctx context.Context) (*models.Video, error) {
		return s.upload(ctx, userID, videoID, req)
	})
}

// GenerateSubtitles transcribes a video into a stored SRT caption file
func (s *Service) GenerateSubtitles(ctx context.Context, userID, videoID string, opts GenerateOptions) (*GenerateResult, error) {
	return runFor(ctx, s, apperrors.StageTranscription, videoID, func(ctx context.Context) (*GenerateResult, error) {
		return s.generateSubtitles(ctx, userID, videoID, opts)
	})
}

// RequestDubbing starts a dubbing job, superseding any earlier one
func (s *Service) RequestDubbing(ctx context.Context, userID, videoID, targetLang string) (*DubbingResult, error) {
	return runFor(ctx, s, apperrors.StageDubbing, videoID, func(ctx context.Context) (*DubbingResult, error) {
		return s.requestDubbing(ctx, userID, videoID, targetLang)
	})
}

// DubbingStatus polls a dubbing job and stores the dubbed track once it is
// ready. When another operation holds the video the stored state is returned
// without polling.
func (s *Service) DubbingStatus(ctx context.Context, userID, videoID, dubbingID string) (*DubbingResult, error) {
	result, err := runFor(ctx, s, apperrors.StageDubbing, videoID, func(ctx context.Context) (*DubbingResult, error) {
		return s.dubbingStatus(ctx, userID, videoID, dubbingID)
	})
	if errors.Is(err, ErrVideoBusy) {
		return s.storedDubbingStatus(ctx, userID, videoID, dubbingID)
	}
	return result, err
}

// BurnSubtitles renders captions into the video. A nil style reuses the
// video's stored render spec, which makes it a re-render.
func (s *Service) BurnSubtitles(ctx context.Context, userID, videoID string, req BurnRequest) (*BurnResult, error) {
	return runFor(ctx, s, apperrors.StageBurn, videoID, func(ctx context.Context) (*BurnResult, error) {
		return s.burnSubtitles(ctx, userID, videoID, req)
	})
}

// DeleteVideo removes a video, its subtitles and every stored object.
// Charges already applied are kept.
func (s *Service) DeleteVideo(ctx context.Context, userID, videoID string) error {
	return s.run(ctx, apperrors.StageDelete, videoID, func(ctx context.Context) error {
		return s.deleteVideo(ctx, userID, videoID)
	})
}

func (s *Service) deleteVideo(ctx context.Context, userID, videoID string) error {
	video, err := s.loadOwned(ctx, userID, videoID)
	if err != nil {
		return err
	}

	if err := s.store.DeletePrefix(ctx, storage.VideoPrefix(video.UserID, video.ID)); err != nil {
		return apperrors.Storage(apperrors.StageDelete, err)
	}
	if err := s.repo.DeleteVideo(ctx, video.ID); err != nil && !errors.Is(err, models.ErrNotFound) {
		return apperrors.Storage(apperrors.StageDelete, err)
	}

	s.publish(ctx, &models.Event{
		Type:    models.EventVideoDeleted,
		VideoID: video.ID,
		UserID:  video.UserID,
	})
	return nil
}
