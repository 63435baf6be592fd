package monitoring

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/therealutkarshpriyadarshi/captionforge/internal/logging"
	"github.com/therealutkarshpriyadarshi/captionforge/internal/metrics"
	"github.com/therealutkarshpriyadarshi/captionforge/pkg/models"
)

// Alert thresholds
const (
	QueueDepthWarning  = 1000
	FailureRateWarning = 0.1
	PendingDubWarning  = 500
)

var (
	videoStatuses   = []string{models.VideoStatusQueued, models.VideoStatusProcessing, models.VideoStatusCompleted, models.VideoStatusFailed}
	dubbingStatuses = []string{models.DubbingStatusNone, models.DubbingStatusRequested, models.DubbingStatusPending, models.DubbingStatusReady, models.DubbingStatusFailed}
)

// Snapshot is a point-in-time view of pipeline state
type Snapshot struct {
	Videos         map[string]int64 `json:"videos"`
	Dubbing        map[string]int64 `json:"dubbing"`
	PollQueueDepth int              `json:"poll_queue_depth"`
	LastUpdated    time.Time        `json:"last_updated"`
}

// StatsRepository counts videos by state
type StatsRepository interface {
	CountVideosByStatus(ctx context.Context) (map[string]int64, error)
	CountVideosByDubbingStatus(ctx context.Context) (map[string]int64, error)
}

// QueueProvider reports the poll backlog. Optional.
type QueueProvider interface {
	GetQueueDepth() (int, error)
}

// Monitor samples pipeline state into gauges and keeps the latest snapshot
type Monitor struct {
	mu       sync.RWMutex
	snapshot Snapshot
	repo     StatsRepository
	queue    QueueProvider
	logger   *logging.Logger
	now      func() time.Time
}

// NewMonitor creates a monitor. queue may be nil when no broker is configured.
func NewMonitor(repo StatsRepository, queue QueueProvider, logger *logging.Logger) *Monitor {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Monitor{repo: repo, queue: queue, logger: logger, now: time.Now}
}

// Start samples every interval until ctx is done
func (m *Monitor) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			if err := m.Update(ctx); err != nil && ctx.Err() == nil {
				m.logger.WithError(err).Warn("Failed to sample pipeline metrics")
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// Update takes one sample
func (m *Monitor) Update(ctx context.Context) error {
	videos, err := m.repo.CountVideosByStatus(ctx)
	if err != nil {
		return fmt.Errorf("failed to count videos: %w", err)
	}
	dubbing, err := m.repo.CountVideosByDubbingStatus(ctx)
	if err != nil {
		return fmt.Errorf("failed to count dubbing jobs: %w", err)
	}

	depth := 0
	if m.queue != nil {
		if depth, err = m.queue.GetQueueDepth(); err != nil {
			return fmt.Errorf("failed to get queue depth: %w", err)
		}
	}

	metrics.SetStatusCounts(metrics.VideosByStatus, videoStatuses, videos)
	metrics.SetStatusCounts(metrics.DubbingJobsByStatus, dubbingStatuses, dubbing)
	metrics.PollQueueDepth.Set(float64(depth))

	m.mu.Lock()
	m.snapshot = Snapshot{
		Videos:         videos,
		Dubbing:        dubbing,
		PollQueueDepth: depth,
		LastUpdated:    m.now(),
	}
	m.mu.Unlock()

	return nil
}

// Snapshot returns the latest sample
func (m *Monitor) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}

// Alerts describes the thresholds the latest sample crosses
func (m *Monitor) Alerts() []string {
	s := m.Snapshot()

	var alerts []string
	if s.PollQueueDepth > QueueDepthWarning {
		alerts = append(alerts, fmt.Sprintf("High poll queue depth: %d messages", s.PollQueueDepth))
	}
	if pending := s.Dubbing[models.DubbingStatusPending]; pending > PendingDubWarning {
		alerts = append(alerts, fmt.Sprintf("Dubbing backlog: %d jobs pending", pending))
	}

	var total int64
	for _, n := range s.Videos {
		total += n
	}
	if total > 0 {
		failureRate := float64(s.Videos[models.VideoStatusFailed]) / float64(total)
		if failureRate > FailureRateWarning {
			alerts = append(alerts, fmt.Sprintf("High transcription failure rate: %.1f%%", failureRate*100))
		}
	}

	return alerts
}

// Status summarizes Alerts as healthy or warning
func (m *Monitor) Status() string {
	if len(m.Alerts()) > 0 {
		return "warning"
	}
	return "healthy"
}
