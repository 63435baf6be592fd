package main

import (
	"context"
	"errors"
	"time"

	"github.com/therealutkarshpriyadarshi/captionforge/internal/apperrors"
	"github.com/therealutkarshpriyadarshi/captionforge/internal/logging"
	"github.com/therealutkarshpriyadarshi/captionforge/internal/pipeline"
	"github.com/therealutkarshpriyadarshi/captionforge/pkg/models"
)

// errStillPending asks the queue to redeliver the poll after the delay
var errStillPending = errors.New("dubbing still pending")

// StatusChecker advances a dubbing job by one poll
type StatusChecker interface {
	DubbingStatus(ctx context.Context, userID, videoID, dubbingID string) (*pipeline.DubbingResult, error)
}

// PendingLister finds videos whose dubbing has not finished
type PendingLister interface {
	ListPendingDubbing(ctx context.Context, limit int) ([]*models.Video, error)
}

// Poller drives dubbing jobs to a terminal state on behalf of their owners
type Poller struct {
	videos      StatusChecker
	logger      *logging.Logger
	maxDuration time.Duration
	now         func() time.Time
}

func NewPoller(videos StatusChecker, logger *logging.Logger, maxDuration time.Duration) *Poller {
	return &Poller{videos: videos, logger: logger, maxDuration: maxDuration, now: time.Now}
}

// HandleEvent polls the job named by a dubbing event. A non-nil error means
// the event should be polled again later.
func (p *Poller) HandleEvent(ctx context.Context, event *models.Event) error {
	if event.Type != models.EventDubbingRequested || event.DubbingID == "" {
		return nil
	}
	if p.expired(event.Timestamp) {
		p.logger.WithVideoID(event.VideoID).
			WithField("dubbing_id", event.DubbingID).
			Warn("Giving up on dubbing job after max poll duration")
		return nil
	}
	return p.poll(ctx, event.UserID, event.VideoID, event.DubbingID)
}

// Sweep polls every pending job once. Used when no queue is configured.
func (p *Poller) Sweep(ctx context.Context, lister PendingLister, limit int) (int, error) {
	videos, err := lister.ListPendingDubbing(ctx, limit)
	if err != nil {
		return 0, err
	}

	polled := 0
	for _, video := range videos {
		if ctx.Err() != nil {
			break
		}
		if p.expired(video.UpdatedAt) {
			continue
		}
		polled++
		if err := p.poll(ctx, video.UserID, video.ID, video.DubbingID); err != nil && !errors.Is(err, errStillPending) {
			p.logger.WithVideoID(video.ID).WithError(err).Warn("Dubbing poll failed")
		}
	}
	return polled, nil
}

func (p *Poller) expired(since time.Time) bool {
	return p.maxDuration > 0 && !since.IsZero() && p.now().Sub(since) > p.maxDuration
}

func (p *Poller) poll(ctx context.Context, userID, videoID, dubbingID string) error {
	result, err := p.videos.DubbingStatus(ctx, userID, videoID, dubbingID)
	if err != nil {
		switch {
		case errors.Is(err, pipeline.ErrVideoBusy):
			return err
		case apperrors.Is(err, apperrors.KindProvider):
			if appErr, _ := apperrors.As(err); appErr.Transient {
				return err
			}
		}
		// Superseded, deleted or permanently failed jobs are not retried
		p.logger.WithVideoID(videoID).WithError(err).Info("Dropping dubbing poll")
		return nil
	}

	switch result.Status {
	case models.DubbingStatusReady, models.DubbingStatusFailed:
		p.logger.WithVideoID(videoID).
			WithField("dubbing_id", dubbingID).
			WithField("status", result.Status).
			Info("Dubbing job finished")
		return nil
	default:
		return errStillPending
	}
}
