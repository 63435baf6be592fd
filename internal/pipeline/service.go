package pipeline

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/therealutkarshpriyadarshi/captionforge/internal/apperrors"
	"github.com/therealutkarshpriyadarshi/captionforge/internal/asr"
	"github.com/therealutkarshpriyadarshi/captionforge/internal/dubbing"
	"github.com/therealutkarshpriyadarshi/captionforge/internal/ledger"
	"github.com/therealutkarshpriyadarshi/captionforge/internal/logging"
	"github.com/therealutkarshpriyadarshi/captionforge/internal/media"
	"github.com/therealutkarshpriyadarshi/captionforge/internal/storage"
	"github.com/therealutkarshpriyadarshi/captionforge/pkg/models"
	"golang.org/x/text/language"
)

// Repository is the persistence surface the pipeline needs
type Repository interface {
	CreateVideo(ctx context.Context, video *models.Video) error
	GetVideo(ctx context.Context, id string) (*models.Video, error)
	UpdateVideo(ctx context.Context, video *models.Video) error
	DeleteVideo(ctx context.Context, id string) error
	ListVideosByUser(ctx context.Context, userID string, limit, offset int) ([]*models.Video, error)

	CreateSubtitle(ctx context.Context, subtitle *models.Subtitle) error
	GetSubtitle(ctx context.Context, id string) (*models.Subtitle, error)
	ListSubtitles(ctx context.Context, videoID string) ([]*models.Subtitle, error)
	DeleteSubtitle(ctx context.Context, id string) error
}

// Transcriber turns an audio file into timed segments
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath, lang string) (*asr.Transcript, error)
}

// Dubber drives an asynchronous dubbing provider
type Dubber interface {
	Create(ctx context.Context, sourceURL, sourceLang, targetLang string) (*dubbing.Job, error)
	Poll(ctx context.Context, id string) (*dubbing.Progress, error)
	Download(ctx context.Context, id, lang string, w io.Writer) (string, error)
}

// MediaEngine probes, extracts audio from and renders media files
type MediaEngine interface {
	Probe(ctx context.Context, inputPath string) (*media.ProbeResult, error)
	ExtractAudio(ctx context.Context, inputPath, outputPath string) error
	Render(ctx context.Context, job media.RenderJob) error
}

// Publisher announces stage transitions
type Publisher interface {
	Publish(ctx context.Context, event *models.Event) error
}

// Locker grants exclusive access to a key. release must be safe to call more
// than once.
type Locker interface {
	TryAcquire(ctx context.Context, key string) (release func(), ok bool, err error)
}

// Settings holds the limits the pipeline enforces
type Settings struct {
	MaxUploadBytes     int64
	MaxDurationMinutes decimal.Decimal
	AllowedFormats     []string
	TempDir            string
	// StaleAfter is how long a video may sit in processing before a new
	// transcription request treats the earlier run as abandoned
	StaleAfter time.Duration
}

// Deps bundles the collaborators of a Service
type Deps struct {
	Repo    Repository
	Store   storage.ObjectStore
	Ledger  *ledger.Service
	ASR     Transcriber
	Dubber  Dubber
	Media   MediaEngine
	Events  Publisher
	Locker  Locker
	Logger  *logging.Logger
	Clock   func() time.Time
	NewUUID func() string
}

// Service orchestrates uploads, transcription, dubbing and burn-in
type Service struct {
	repo     Repository
	store    storage.ObjectStore
	ledger   *ledger.Service
	asr      Transcriber
	dubber   Dubber
	media    MediaEngine
	events   Publisher
	locker   Locker
	logger   *logging.Logger
	settings Settings
	now      func() time.Time
	newID    func() string
}

// NewService creates a pipeline service. Nil Events, Locker and Logger fall
// back to a no-op publisher, an in-process locker and a silent logger.
func NewService(deps Deps, settings Settings) *Service {
	s := &Service{
		repo:     deps.Repo,
		store:    deps.Store,
		ledger:   deps.Ledger,
		asr:      deps.ASR,
		dubber:   deps.Dubber,
		media:    deps.Media,
		events:   deps.Events,
		locker:   deps.Locker,
		logger:   deps.Logger,
		settings: settings,
		now:      deps.Clock,
		newID:    deps.NewUUID,
	}
	if s.events == nil {
		s.events = NopPublisher{}
	}
	if s.locker == nil {
		s.locker = NewLocalLocker()
	}
	if s.logger == nil {
		s.logger = logging.Nop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = newUUID
	}
	if s.settings.TempDir == "" {
		s.settings.TempDir = os.TempDir()
	}
	if s.settings.StaleAfter <= 0 {
		s.settings.StaleAfter = 30 * time.Minute
	}
	return s
}

// NopPublisher drops every event
type NopPublisher struct{}

// Publish implements Publisher
func (NopPublisher) Publish(context.Context, *models.Event) error { return nil }

// Fanout sends every event to each publisher in order. All publishers are
// tried; the first error is returned.
type Fanout []Publisher

// Publish implements Publisher
func (f Fanout) Publish(ctx context.Context, event *models.Event) error {
	var first error
	for _, p := range f {
		if err := p.Publish(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// loadOwned fetches a video and checks that userID owns it
func (s *Service) loadOwned(ctx context.Context, userID, videoID string) (*models.Video, error) {
	video, err := s.repo.GetVideo(ctx, videoID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, apperrors.NotFound("video not found")
	}
	if err != nil {
		return nil, apperrors.Storage("", err)
	}
	if video.UserID != userID {
		return nil, apperrors.Forbidden("video belongs to another user")
	}
	return video, nil
}

// publish sends an event; delivery failures are logged, never returned
func (s *Service) publish(ctx context.Context, event *models.Event) {
	event.Timestamp = s.now()
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.WithVideoID(event.VideoID).WithError(err).Warnf("failed to publish %s event", event.Type)
	}
}

// workDir creates a scratch directory for one operation
func (s *Service) workDir(stage string) (string, func(), error) {
	dir, err := os.MkdirTemp(s.settings.TempDir, stage+"-")
	if err != nil {
		return "", nil, apperrors.Storage(stage, err)
	}
	return dir, func() { os.RemoveAll(dir) }, nil
}

// presign returns a URL for key, or "" when key is empty
func (s *Service) presign(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", nil
	}
	url, err := s.store.GetURL(ctx, key)
	if err != nil {
		return "", apperrors.Storage("", err)
	}
	return url, nil
}

// detached returns a context that survives cancellation of ctx, used to
// record failure state after a request was abandoned
func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
}

// normalizeLanguage validates a BCP 47 tag and reduces it to its base
// language ("pt-BR" -> "pt"). An empty tag stays empty.
func normalizeLanguage(field, tag string) (string, error) {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return "", nil
	}
	t, err := language.Parse(tag)
	if err != nil {
		return "", apperrors.Validation(field, "invalid language tag "+tag)
	}
	base, conf := t.Base()
	if conf == language.No {
		return "", apperrors.Validation(field, "unknown language "+tag)
	}
	return base.String(), nil
}
