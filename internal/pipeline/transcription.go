package pipeline

import (
	"context"
	"path"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/therealutkarshpriyadarshi/captionforge/internal/apperrors"
	"github.com/therealutkarshpriyadarshi/captionforge/internal/asr"
	"github.com/therealutkarshpriyadarshi/captionforge/internal/captions"
	"github.com/therealutkarshpriyadarshi/captionforge/internal/ledger"
	"github.com/therealutkarshpriyadarshi/captionforge/internal/storage"
	"github.com/therealutkarshpriyadarshi/captionforge/pkg/models"
)

// GenerateOptions tunes a transcription request
type GenerateOptions struct {
	Regenerate bool   `json:"regenerate"`
	Language   string `json:"language,omitempty"`
}

// Charge summarizes a ledger reservation made by an operation
type Charge struct {
	Minutes         decimal.Decimal `json:"minutes"`
	FreeMinutes     decimal.Decimal `json:"free_minutes"`
	BillableMinutes decimal.Decimal `json:"billable_minutes"`
	Cost            decimal.Decimal `json:"cost"`
	Reason          string          `json:"reason"`
}

// GenerateResult reports a finished transcription. Charge is nil when the
// call reserved nothing.
type GenerateResult struct {
	Video    *models.Video    `json:"video"`
	Subtitle *models.Subtitle `json:"subtitle"`
	Charge   *Charge          `json:"charge,omitempty"`
}

func (s *Service) generateSubtitles(ctx context.Context, userID, videoID string, opts GenerateOptions) (*GenerateResult, error) {
	lang, err := normalizeLanguage("language", opts.Language)
	if err != nil {
		return nil, err
	}

	video, err := s.loadOwned(ctx, userID, videoID)
	if err != nil {
		return nil, err
	}

	if video.Status == models.VideoStatusProcessing {
		// The video lock is held here, so a processing row is either a run
		// on a process without a shared lock or one that died mid-flight.
		if s.now().Sub(video.UpdatedAt) < s.settings.StaleAfter {
			return nil, apperrors.Conflict(apperrors.StageTranscription, "transcription already in progress")
		}
		s.logger.WithFields(map[string]interface{}{
			"video_id":   video.ID,
			"updated_at": video.UpdatedAt,
		}).Warn("Retrying transcription abandoned in processing")
		video.Status = models.VideoStatusFailed
	}
	if video.Status == models.VideoStatusCompleted && !opts.Regenerate {
		existing, err := s.latestSubtitle(ctx, video.ID, "")
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return &GenerateResult{Video: video, Subtitle: existing}, nil
		}
	}
	if !models.CanTransition(video.Status, models.VideoStatusProcessing) {
		return nil, apperrors.Conflict(apperrors.StageTranscription, "video cannot be transcribed from status "+video.Status)
	}
	if err := s.checkDuration(video.DurationMinutes); err != nil {
		return nil, err
	}
	if lang == "" {
		lang = video.Language
	}

	// A failed run that was already charged retries for free.
	var charge *Charge
	if !video.Charged || opts.Regenerate {
		reason := models.ChargeReasonTranscription
		if video.Charged {
			reason = models.ChargeReasonRegenerate
		}
		charge, err = s.reserve(ctx, video, reason)
		if err != nil {
			return nil, err
		}
	}

	video.Status = models.VideoStatusProcessing
	video.ErrorMsg = ""
	if video.Language == "" {
		video.Language = lang
	}
	if err := s.repo.UpdateVideo(ctx, video); err != nil {
		return nil, apperrors.WithStage(apperrors.Storage(apperrors.StageTranscription, err),
			apperrors.StageTranscription, video.Charged)
	}

	subtitle, err := s.transcribe(ctx, video, video.SourceKey, lang)
	if err != nil {
		return nil, s.failTranscription(ctx, video, err)
	}

	video.Status = models.VideoStatusCompleted
	if err := s.repo.UpdateVideo(ctx, video); err != nil {
		return nil, apperrors.WithStage(apperrors.Storage(apperrors.StageTranscription, err),
			apperrors.StageTranscription, video.Charged)
	}

	s.publish(ctx, &models.Event{
		Type:    models.EventSubtitlesCompleted,
		VideoID: video.ID,
		UserID:  video.UserID,
		Status:  video.Status,
	})

	return &GenerateResult{Video: video, Subtitle: subtitle, Charge: charge}, nil
}

// reserve debits the video's duration. On success the video is marked charged.
func (s *Service) reserve(ctx context.Context, video *models.Video, reason string) (*Charge, error) {
	outcome, err := s.ledger.Reserve(ctx, ledger.ChargeRequest{
		UserID:  video.UserID,
		VideoID: video.ID,
		Minutes: video.DurationMinutes,
		Reason:  reason,
	})
	if err != nil {
		return nil, apperrors.WithStage(err, apperrors.StageLedger, false)
	}

	video.Charged = true
	s.logger.LogLedgerReservation(video.UserID, video.ID,
		outcome.FreeApplied.String(), outcome.Billable.String(), outcome.CostDelta.String(), outcome.Attempts)

	return &Charge{
		Minutes:         outcome.Minutes,
		FreeMinutes:     outcome.FreeApplied,
		BillableMinutes: outcome.Billable,
		Cost:            outcome.CostDelta,
		Reason:          reason,
	}, nil
}

// transcribe runs ASR over the audio of sourceKey and stores the result as
// an SRT subtitle, replacing older subtitles of the same language
func (s *Service) transcribe(ctx context.Context, video *models.Video, sourceKey, lang string) (*models.Subtitle, error) {
	const stage = apperrors.StageTranscription

	dir, cleanup, err := s.workDir(stage)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	inputPath := filepath.Join(dir, "input"+path.Ext(sourceKey))
	if err := s.store.DownloadFile(ctx, sourceKey, inputPath); err != nil {
		return nil, apperrors.Storage(stage, err)
	}

	audioPath := filepath.Join(dir, "audio.mp3")
	if err := s.media.ExtractAudio(ctx, inputPath, audioPath); err != nil {
		return nil, mediaFailure(stage, "media engine failed to extract audio", err)
	}

	transcript, err := s.asr.Transcribe(ctx, audioPath, lang)
	if err != nil {
		return nil, err
	}
	if lang == "" {
		lang = asr.BaseLanguage(transcript.Language)
	}

	cues := captions.Normalize(transcript.Segments)
	body := captions.ToSRT(cues)

	subtitle := &models.Subtitle{
		ID:       s.newID(),
		VideoID:  video.ID,
		Language: lang,
		Format:   models.SubtitleFormatSRT,
		CueCount: len(cues),
	}
	subtitle.Key = storage.SubtitleKey(video.UserID, video.ID, subtitle.ID, subtitle.Format)

	if err := s.store.Upload(ctx, subtitle.Key, strings.NewReader(body), int64(len(body)), storage.ContentType(subtitle.Key)); err != nil {
		return nil, apperrors.Storage(stage, err)
	}
	if err := s.repo.CreateSubtitle(ctx, subtitle); err != nil {
		s.removeObject(ctx, subtitle.Key)
		return nil, apperrors.Storage(stage, err)
	}

	s.pruneSubtitles(ctx, video.ID, subtitle)
	return subtitle, nil
}

// pruneSubtitles drops subtitles of keep's language other than keep
func (s *Service) pruneSubtitles(ctx context.Context, videoID string, keep *models.Subtitle) {
	subtitles, err := s.repo.ListSubtitles(ctx, videoID)
	if err != nil {
		s.logger.WithVideoID(videoID).WithError(err).Warn("failed to list subtitles for pruning")
		return
	}

	for _, sub := range subtitles {
		if sub.ID == keep.ID || sub.Language != keep.Language {
			continue
		}
		if err := s.repo.DeleteSubtitle(ctx, sub.ID); err != nil {
			s.logger.WithVideoID(videoID).WithError(err).Warnf("failed to delete superseded subtitle %s", sub.ID)
			continue
		}
		s.removeObject(ctx, sub.Key)
	}
}

// latestSubtitle returns the newest subtitle, restricted to lang when set.
// It returns nil when none match.
func (s *Service) latestSubtitle(ctx context.Context, videoID, lang string) (*models.Subtitle, error) {
	subtitles, err := s.repo.ListSubtitles(ctx, videoID)
	if err != nil {
		return nil, apperrors.Storage("", err)
	}
	for _, sub := range subtitles {
		if lang == "" || sub.Language == lang {
			return sub, nil
		}
	}
	return nil, nil
}

func (s *Service) failTranscription(ctx context.Context, video *models.Video, cause error) error {
	ctx, cancel := detached(ctx)
	defer cancel()

	video.Status = models.VideoStatusFailed
	video.ErrorMsg = cause.Error()
	if err := s.repo.UpdateVideo(ctx, video); err != nil {
		s.logger.WithVideoID(video.ID).WithError(err).Error("failed to record transcription failure")
	}

	s.publish(ctx, &models.Event{
		Type:    models.EventSubtitlesFailed,
		VideoID: video.ID,
		UserID:  video.UserID,
		Status:  video.Status,
		Detail:  cause.Error(),
	})

	return apperrors.WithStage(cause, apperrors.StageTranscription, video.Charged)
}

// removeObject deletes a stored object, logging failures
func (s *Service) removeObject(ctx context.Context, key string) {
	if key == "" {
		return
	}
	ctx, cancel := detached(ctx)
	defer cancel()
	if err := s.store.Delete(ctx, key); err != nil {
		s.logger.WithError(err).Warnf("failed to delete object %s", key)
	}
}

func mediaFailure(stage, message string, err error) *apperrors.Error {
	return &apperrors.Error{Kind: apperrors.KindRender, Stage: stage, Message: message, Err: err}
}
