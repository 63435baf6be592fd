package monitoring

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/therealutkarshpriyadarshi/captionforge/internal/metrics"
	"github.com/therealutkarshpriyadarshi/captionforge/pkg/models"
)

type stubRepo struct {
	videos  map[string]int64
	dubbing map[string]int64
	err     error
}

func (s stubRepo) CountVideosByStatus(context.Context) (map[string]int64, error) {
	return s.videos, s.err
}

func (s stubRepo) CountVideosByDubbingStatus(context.Context) (map[string]int64, error) {
	return s.dubbing, s.err
}

type stubQueue int

func (q stubQueue) GetQueueDepth() (int, error) { return int(q), nil }

func TestMonitorUpdate(t *testing.T) {
	repo := stubRepo{
		videos:  map[string]int64{models.VideoStatusCompleted: 8, models.VideoStatusFailed: 2},
		dubbing: map[string]int64{models.DubbingStatusPending: 3},
	}
	m := NewMonitor(repo, stubQueue(7), nil)

	require.NoError(t, m.Update(t.Context()))

	snap := m.Snapshot()
	assert.Equal(t, 7, snap.PollQueueDepth)
	assert.Equal(t, int64(8), snap.Videos[models.VideoStatusCompleted])
	assert.False(t, snap.LastUpdated.IsZero())

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.VideosByStatus.WithLabelValues(models.VideoStatusFailed)))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.VideosByStatus.WithLabelValues(models.VideoStatusQueued)))
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.DubbingJobsByStatus.WithLabelValues(models.DubbingStatusPending)))
	assert.Equal(t, 7.0, testutil.ToFloat64(metrics.PollQueueDepth))
}

func TestMonitorWithoutQueue(t *testing.T) {
	m := NewMonitor(stubRepo{videos: map[string]int64{}, dubbing: map[string]int64{}}, nil, nil)

	require.NoError(t, m.Update(t.Context()))
	assert.Equal(t, 0, m.Snapshot().PollQueueDepth)
	assert.Equal(t, "healthy", m.Status())
}

func TestMonitorUpdateError(t *testing.T) {
	m := NewMonitor(stubRepo{err: errors.New("db down")}, nil, nil)
	assert.Error(t, m.Update(t.Context()))
}

func TestMonitorAlerts(t *testing.T) {
	tests := []struct {
		name       string
		repo       stubRepo
		depth      stubQueue
		wantAlerts int
	}{
		{
			name:  "healthy",
			repo:  stubRepo{videos: map[string]int64{models.VideoStatusCompleted: 100}},
			depth: 10,
		},
		{
			name:       "high failure rate",
			repo:       stubRepo{videos: map[string]int64{models.VideoStatusCompleted: 80, models.VideoStatusFailed: 20}},
			wantAlerts: 1,
		},
		{
			name: "backlogs",
			repo: stubRepo{
				videos:  map[string]int64{models.VideoStatusCompleted: 1},
				dubbing: map[string]int64{models.DubbingStatusPending: PendingDubWarning + 1},
			},
			depth:      QueueDepthWarning + 1,
			wantAlerts: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMonitor(tt.repo, tt.depth, nil)
			require.NoError(t, m.Update(t.Context()))

			assert.Len(t, m.Alerts(), tt.wantAlerts)
			if tt.wantAlerts > 0 {
				assert.Equal(t, "warning", m.Status())
			}
		})
	}
}
