package pipeline

import (
	"context"
	"path"
	"path/filepath"

	"github.com/therealutkarshpriyadarshi/captionforge/internal/apperrors"
	"github.com/therealutkarshpriyadarshi/captionforge/internal/media"
	"github.com/therealutkarshpriyadarshi/captionforge/internal/renderspec"
	"github.com/therealutkarshpriyadarshi/captionforge/internal/storage"
	"github.com/therealutkarshpriyadarshi/captionforge/pkg/models"
)

// BurnRequest selects captions, style and audio for a burn-in. A nil Style
// reuses the stored render spec, or the default style on first render.
// An empty Language picks the newest subtitle.
type BurnRequest struct {
	Style    *renderspec.Options `json:"style,omitempty"`
	Language string              `json:"language,omitempty"`
	Audio    string              `json:"audio,omitempty"`
}

// BurnResult reports a finished render
type BurnResult struct {
	VideoID    string            `json:"video_id"`
	SubtitleID string            `json:"subtitle_id"`
	Audio      string            `json:"audio"`
	Spec       models.RenderSpec `json:"subtitle_styles"`
	URL        string            `json:"burned_video_url"`
	Charge     *Charge           `json:"charge,omitempty"`
}

func (s *Service) burnSubtitles(ctx context.Context, userID, videoID string, req BurnRequest) (*BurnResult, error) {
	const stage = apperrors.StageBurn

	// Everything the caller supplied is validated before any external call.
	audio := req.Audio
	if audio == "" {
		audio = models.AudioOriginal
	}
	if audio != models.AudioOriginal && audio != models.AudioDubbed {
		return nil, apperrors.Validation("audio", "audio must be one of: original, dubbed")
	}

	var spec *models.RenderSpec
	if req.Style != nil {
		compiled, err := renderspec.CompileOptions(*req.Style)
		if err != nil {
			return nil, err
		}
		spec = &compiled
	}

	lang, err := normalizeLanguage("language", req.Language)
	if err != nil {
		return nil, err
	}

	video, err := s.loadOwned(ctx, userID, videoID)
	if err != nil {
		return nil, err
	}
	if !video.HasVideo {
		return nil, apperrors.Validation("video", "audio-only media cannot have captions burned in")
	}
	if audio == models.AudioDubbed && (!video.IsDubbedAudio || video.DubbedMediaKey == "") {
		return nil, apperrors.Validation("audio", "no dubbed audio track is available")
	}

	if spec == nil {
		if video.SubtitleStyles != nil {
			spec = video.SubtitleStyles
		} else {
			compiled := renderspec.Compile(renderspec.DefaultStyle())
			spec = &compiled
		}
	}

	subtitle, charge, err := s.burnCaptions(ctx, video, lang, audio)
	if err != nil {
		return nil, s.failBurn(ctx, video, err, false)
	}

	dir, cleanup, err := s.workDir(stage)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	job := media.RenderJob{
		VideoPath:    filepath.Join(dir, "input"+path.Ext(video.SourceKey)),
		SubtitlePath: filepath.Join(dir, "captions."+subtitle.Format),
		Spec:         *spec,
		OutputPath:   filepath.Join(dir, "burned.mp4"),
	}
	downloads := map[string]string{
		video.SourceKey: job.VideoPath,
		subtitle.Key:    job.SubtitlePath,
	}
	if audio == models.AudioDubbed {
		job.AudioPath = filepath.Join(dir, "dubbed"+path.Ext(video.DubbedMediaKey))
		downloads[video.DubbedMediaKey] = job.AudioPath
	}
	for key, local := range downloads {
		if err := s.store.DownloadFile(ctx, key, local); err != nil {
			return nil, s.failBurn(ctx, video, apperrors.Storage(stage, err), charge != nil)
		}
	}

	if err := s.media.Render(ctx, job); err != nil {
		return nil, s.failBurn(ctx, video, apperrors.Render(err), charge != nil)
	}

	key := storage.BurnedKey(video.UserID, video.ID, s.newID())
	if err := s.store.UploadFile(ctx, key, job.OutputPath); err != nil {
		return nil, s.failBurn(ctx, video, apperrors.Storage(stage, err), charge != nil)
	}

	previous := video.BurnedVideoKey
	video.BurnedVideoKey = key
	video.SubtitleStyles = spec
	if err := s.repo.UpdateVideo(ctx, video); err != nil {
		s.removeObject(ctx, key)
		return nil, s.failBurn(ctx, video, apperrors.Storage(stage, err), charge != nil)
	}
	s.removeObject(ctx, previous)

	s.publish(ctx, &models.Event{
		Type:    models.EventBurnCompleted,
		VideoID: video.ID,
		UserID:  video.UserID,
		Status:  audio,
	})

	url, err := s.presign(ctx, key)
	if err != nil {
		return nil, err
	}

	return &BurnResult{
		VideoID:    video.ID,
		SubtitleID: subtitle.ID,
		Audio:      audio,
		Spec:       *spec,
		URL:        url,
		Charge:     charge,
	}, nil
}

// burnCaptions picks the subtitle to burn. A dubbed burn with no subtitle in
// the dubbed language transcribes the dubbed track first, which is charged.
func (s *Service) burnCaptions(ctx context.Context, video *models.Video, lang, audio string) (*models.Subtitle, *Charge, error) {
	if audio == models.AudioDubbed && lang == "" {
		lang = video.DubbingLanguage
	}

	subtitle, err := s.latestSubtitle(ctx, video.ID, lang)
	if err != nil {
		return nil, nil, err
	}
	if subtitle != nil {
		return subtitle, nil, nil
	}
	if audio != models.AudioDubbed {
		return nil, nil, apperrors.Validation("language", "no subtitles available; generate subtitles first")
	}

	if err := s.checkDuration(video.DurationMinutes); err != nil {
		return nil, nil, err
	}
	charge, err := s.reserve(ctx, video, models.ChargeReasonDubTranscription)
	if err != nil {
		return nil, nil, err
	}
	subtitle, err = s.transcribe(ctx, video, video.DubbedMediaKey, video.DubbingLanguage)
	if err != nil {
		return nil, nil, apperrors.WithStage(err, apperrors.StageTranscription, true)
	}
	return subtitle, charge, nil
}

// failBurn publishes the failure. The video's status is left untouched.
func (s *Service) failBurn(ctx context.Context, video *models.Video, cause error, charged bool) error {
	if apperrors.Is(cause, apperrors.KindValidation) {
		return cause
	}

	ctx, cancel := detached(ctx)
	defer cancel()

	s.publish(ctx, &models.Event{
		Type:    models.EventBurnFailed,
		VideoID: video.ID,
		UserID:  video.UserID,
		Detail:  cause.Error(),
	})

	if appErr, ok := apperrors.As(cause); ok && appErr.Charged {
		charged = true
	}
	return apperrors.WithStage(cause, apperrors.StageBurn, charged)
}
