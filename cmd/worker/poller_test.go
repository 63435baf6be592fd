package main

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/therealutkarshpriyadarshi/captionforge/internal/apperrors"
	"github.com/therealutkarshpriyadarshi/captionforge/internal/logging"
	"github.com/therealutkarshpriyadarshi/captionforge/internal/pipeline"
	"github.com/therealutkarshpriyadarshi/captionforge/pkg/models"
)

type MockStatusChecker struct {
	mock.Mock
}

func (m *MockStatusChecker) DubbingStatus(ctx context.Context, userID, videoID, dubbingID string) (*pipeline.DubbingResult, error) {
	args := m.Called(ctx, userID, videoID, dubbingID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pipeline.DubbingResult), args.Error(1)
}

type stubLister struct {
	videos []*models.Video
	err    error
}

func (s stubLister) ListPendingDubbing(context.Context, int) ([]*models.Video, error) {
	return s.videos, s.err
}

var pollerNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestPoller(checker StatusChecker) *Poller {
	p := NewPoller(checker, logging.Nop(), time.Hour)
	p.now = func() time.Time { return pollerNow }
	return p
}

func requestedEvent(at time.Time) *models.Event {
	return &models.Event{
		Type:      models.EventDubbingRequested,
		UserID:    "user-1",
		VideoID:   "vid-1",
		DubbingID: "dub-1",
		Timestamp: at,
	}
}

func TestHandleEvent(t *testing.T) {
	busy := apperrors.Conflict(apperrors.StageDubbing, "another operation is running on this video")
	busy.Err = pipeline.ErrVideoBusy

	tests := []struct {
		name    string
		result  *pipeline.DubbingResult
		err     error
		wantErr bool
	}{
		{name: "pending is polled again", result: &pipeline.DubbingResult{Status: models.DubbingStatusPending}, wantErr: true},
		{name: "ready finishes", result: &pipeline.DubbingResult{Status: models.DubbingStatusReady}},
		{name: "failed finishes", result: &pipeline.DubbingResult{Status: models.DubbingStatusFailed}},
		{name: "busy video is polled again", err: busy, wantErr: true},
		{
			name:    "transient provider error is polled again",
			err:     apperrors.Provider(apperrors.StageDubbing, http.StatusServiceUnavailable, errors.New("down")),
			wantErr: true,
		},
		{
			name: "permanent provider error is dropped",
			err:  apperrors.Provider(apperrors.StageDubbing, http.StatusBadRequest, errors.New("bad id")),
		},
		{name: "superseded job is dropped", err: apperrors.Conflict(apperrors.StageDubbing, "dubbing job was superseded")},
		{name: "deleted video is dropped", err: apperrors.NotFound("video not found")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := new(MockStatusChecker)
			checker.On("DubbingStatus", mock.Anything, "user-1", "vid-1", "dub-1").Return(tt.result, tt.err)

			err := newTestPoller(checker).HandleEvent(t.Context(), requestedEvent(pollerNow.Add(-time.Minute)))

			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			checker.AssertExpectations(t)
		})
	}
}

func TestHandleEventSkips(t *testing.T) {
	checker := new(MockStatusChecker)
	p := newTestPoller(checker)

	expired := requestedEvent(pollerNow.Add(-2 * time.Hour))
	assert.NoError(t, p.HandleEvent(t.Context(), expired))

	other := requestedEvent(pollerNow)
	other.Type = models.EventSubtitlesCompleted
	assert.NoError(t, p.HandleEvent(t.Context(), other))

	noID := requestedEvent(pollerNow)
	noID.DubbingID = ""
	assert.NoError(t, p.HandleEvent(t.Context(), noID))

	checker.AssertNotCalled(t, "DubbingStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSweep(t *testing.T) {
	checker := new(MockStatusChecker)
	checker.On("DubbingStatus", mock.Anything, "user-1", "vid-1", "dub-1").
		Return(&pipeline.DubbingResult{Status: models.DubbingStatusReady}, nil)
	checker.On("DubbingStatus", mock.Anything, "user-2", "vid-2", "dub-2").
		Return(nil, apperrors.Provider(apperrors.StageDubbing, 0, errors.New("timeout")))

	lister := stubLister{videos: []*models.Video{
		{ID: "vid-1", UserID: "user-1", DubbingID: "dub-1", UpdatedAt: pollerNow.Add(-time.Minute)},
		{ID: "vid-2", UserID: "user-2", DubbingID: "dub-2", UpdatedAt: pollerNow.Add(-time.Minute)},
		{ID: "vid-3", UserID: "user-3", DubbingID: "dub-3", UpdatedAt: pollerNow.Add(-3 * time.Hour)},
	}}

	polled, err := newTestPoller(checker).Sweep(t.Context(), lister, 10)
	require.NoError(t, err)

	assert.Equal(t, 2, polled)
	checker.AssertExpectations(t)
	checker.AssertNotCalled(t, "DubbingStatus", mock.Anything, "user-3", "vid-3", "dub-3")
}

func TestSweepListError(t *testing.T) {
	_, err := newTestPoller(new(MockStatusChecker)).Sweep(t.Context(), stubLister{err: errors.New("db down")}, 10)
	assert.Error(t, err)
}
