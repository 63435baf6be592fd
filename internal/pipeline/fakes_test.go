package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/therealutkarshpriyadarshi/captionforge/internal/apperrors"
	"github.com/therealutkarshpriyadarshi/captionforge/internal/asr"
	"github.com/therealutkarshpriyadarshi/captionforge/internal/captions"
	"github.com/therealutkarshpriyadarshi/captionforge/internal/dubbing"
	"github.com/therealutkarshpriyadarshi/captionforge/internal/ledger"
	"github.com/therealutkarshpriyadarshi/captionforge/internal/media"
	"github.com/therealutkarshpriyadarshi/captionforge/pkg/models"
)

// fakeRepo keeps videos, subtitles and users in memory. It satisfies both
// Repository and ledger.Store.
type fakeRepo struct {
	mu        sync.Mutex
	videos    map[string]models.Video
	subtitles map[string]models.Subtitle
	users     map[string]models.User
	charges   []models.UsageCharge
	seq       int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		videos:    make(map[string]models.Video),
		subtitles: make(map[string]models.Subtitle),
		users:     make(map[string]models.User),
	}
}

func (r *fakeRepo) addUser(id, allowed string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[id] = models.User{ID: id, AllowedMinutes: decimal.RequireFromString(allowed)}
}

func (r *fakeRepo) user(id string) models.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.users[id]
}

func (r *fakeRepo) video(id string) models.Video {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.videos[id]
}

func (r *fakeRepo) putVideo(v models.Video) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.videos[v.ID] = v
}

func (r *fakeRepo) chargeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.charges)
}

func (r *fakeRepo) CreateVideo(_ context.Context, video *models.Video) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	video.CreatedAt = time.Now()
	r.videos[video.ID] = *video
	return nil
}

func (r *fakeRepo) GetVideo(_ context.Context, id string) (*models.Video, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.videos[id]
	if !ok {
		return nil, fmt.Errorf("video %s: %w", id, models.ErrNotFound)
	}
	return &v, nil
}

func (r *fakeRepo) UpdateVideo(_ context.Context, video *models.Video) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.videos[video.ID]; !ok {
		return models.ErrNotFound
	}
	video.UpdatedAt = time.Now()
	r.videos[video.ID] = *video
	return nil
}

func (r *fakeRepo) DeleteVideo(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.videos, id)
	for sid, s := range r.subtitles {
		if s.VideoID == id {
			delete(r.subtitles, sid)
		}
	}
	return nil
}

func (r *fakeRepo) ListVideosByUser(_ context.Context, userID string, limit, offset int) ([]*models.Video, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Video
	for _, v := range r.videos {
		if v.UserID == userID {
			v := v
			out = append(out, &v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeRepo) CreateSubtitle(_ context.Context, subtitle *models.Subtitle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	subtitle.CreatedAt = time.Unix(int64(r.seq), 0)
	r.subtitles[subtitle.ID] = *subtitle
	return nil
}

func (r *fakeRepo) GetSubtitle(_ context.Context, id string) (*models.Subtitle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subtitles[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &s, nil
}

func (r *fakeRepo) ListSubtitles(_ context.Context, videoID string) ([]*models.Subtitle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Subtitle
	for _, s := range r.subtitles {
		if s.VideoID == videoID {
			s := s
			out = append(out, &s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *fakeRepo) DeleteSubtitle(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subtitles, id)
	return nil
}

func (r *fakeRepo) GetUser(_ context.Context, id string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &u, nil
}

func (r *fakeRepo) ApplyCharge(_ context.Context, user *models.User, expectedVersion int64, charge *models.UsageCharge) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.users[user.ID].Version != expectedVersion {
		return false, nil
	}
	next := *user
	next.Version = expectedVersion + 1
	r.users[user.ID] = next
	r.charges = append(r.charges, *charge)
	if v, ok := r.videos[charge.VideoID]; ok {
		v.Charged = true
		r.videos[v.ID] = v
	}
	return true, nil
}

// fakeStore is an in-memory object store
type fakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	failOn  map[string]error
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: make(map[string][]byte), failOn: make(map[string]error)}
}

func (s *fakeStore) put(key, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = []byte(body)
}

func (s *fakeStore) has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

func (s *fakeStore) Upload(_ context.Context, key string, reader io.Reader, _ int64, _ string) error {
	if err := s.failOn["upload"]; err != nil {
		return err
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	return nil
}

func (s *fakeStore) UploadFile(ctx context.Context, key, filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	return s.Upload(ctx, key, bytes.NewReader(data), int64(len(data)), "")
}

func (s *fakeStore) Download(_ context.Context, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s not found", key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *fakeStore) DownloadFile(ctx context.Context, key, filePath string) error {
	if err := s.failOn["download"]; err != nil {
		return err
	}
	rc, err := s.Download(ctx, key)
	if err != nil {
		return err
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	return os.WriteFile(filePath, data, 0o644)
}

func (s *fakeStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

func (s *fakeStore) DeletePrefix(_ context.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.objects {
		if strings.HasPrefix(key, prefix) {
			delete(s.objects, key)
		}
	}
	return nil
}

func (s *fakeStore) GetURL(_ context.Context, key string) (string, error) {
	return "https://objects.test/" + key, nil
}

func (s *fakeStore) List(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for key := range s.objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// fakeASR returns fixed segments, or err when set
type fakeASR struct {
	mu       sync.Mutex
	segments []captions.Segment
	err      error
	calls    int
	langs    []string
}

func (a *fakeASR) Transcribe(_ context.Context, audioPath, lang string) (*asr.Transcript, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	a.langs = append(a.langs, lang)
	if _, err := os.Stat(audioPath); err != nil {
		return nil, err
	}
	if a.err != nil {
		return nil, a.err
	}
	return &asr.Transcript{Language: lang, Segments: a.segments}, nil
}

func (a *fakeASR) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

// fakeMedia records calls and writes placeholder outputs
type fakeMedia struct {
	probe     *media.ProbeResult
	probeErr  error
	renderErr error
	extracts  atomic.Int32
	renders   atomic.Int32
	lastJob   media.RenderJob
}

func (m *fakeMedia) Probe(_ context.Context, _ string) (*media.ProbeResult, error) {
	if m.probeErr != nil {
		return nil, m.probeErr
	}
	return m.probe, nil
}

func (m *fakeMedia) ExtractAudio(_ context.Context, _, outputPath string) error {
	m.extracts.Add(1)
	return os.WriteFile(outputPath, []byte("audio"), 0o644)
}

func (m *fakeMedia) Render(_ context.Context, job media.RenderJob) error {
	m.renders.Add(1)
	m.lastJob = job
	if m.renderErr != nil {
		return m.renderErr
	}
	return os.WriteFile(job.OutputPath, []byte("burned"), 0o644)
}

// fakeDubber hands out sequential job ids and reports a scripted status
type fakeDubber struct {
	mu         sync.Mutex
	next       int
	status     dubbing.Status
	pollErr    error
	createErr  error
	onDownload func()
	created    []string
}

func (d *fakeDubber) Create(_ context.Context, sourceURL, _, targetLang string) (*dubbing.Job, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.createErr != nil {
		return nil, d.createErr
	}
	d.next++
	d.created = append(d.created, sourceURL)
	return &dubbing.Job{ID: fmt.Sprintf("dub-%d-%s", d.next, targetLang)}, nil
}

func (d *fakeDubber) Poll(_ context.Context, id string) (*dubbing.Progress, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pollErr != nil {
		return nil, d.pollErr
	}
	return &dubbing.Progress{ID: id, Status: d.status}, nil
}

func (d *fakeDubber) Download(_ context.Context, _, _ string, w io.Writer) (string, error) {
	if d.onDownload != nil {
		d.onDownload()
	}
	_, err := w.Write([]byte("dubbed-audio"))
	return "audio/mpeg", err
}

// recorder captures published events
type recorder struct {
	mu     sync.Mutex
	events []models.Event
}

func (r *recorder) Publish(_ context.Context, event *models.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, *event)
	return nil
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type harness struct {
	svc    *Service
	repo   *fakeRepo
	store  *fakeStore
	asr    *fakeASR
	media  *fakeMedia
	dubber *fakeDubber
	events *recorder
	locker *LocalLocker
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		repo:  newFakeRepo(),
		store: newFakeStore(),
		asr: &fakeASR{segments: []captions.Segment{
			{Start: 0, End: 1.5, Text: "hello"},
			{Start: 1.5, End: 3, Text: "world"},
		}},
		media: &fakeMedia{probe: &media.ProbeResult{
			Duration: decimal.NewFromInt(600),
			Width:    1920,
			Height:   1080,
			HasVideo: true,
			HasAudio: true,
		}},
		dubber: &fakeDubber{status: dubbing.StatusPending},
		events: &recorder{},
		locker: NewLocalLocker(),
	}
	h.repo.addUser("user-1", "30")

	var ids atomic.Int64
	h.svc = NewService(Deps{
		Repo:    h.repo,
		Store:   h.store,
		Ledger:  ledger.NewService(h.repo, decimal.RequireFromString("0.10"), 0, 0),
		ASR:     h.asr,
		Dubber:  h.dubber,
		Media:   h.media,
		Events:  h.events,
		Locker:  h.locker,
		NewUUID: func() string { return fmt.Sprintf("id-%d", ids.Add(1)) },
	}, Settings{
		MaxUploadBytes:     100 << 20,
		MaxDurationMinutes: decimal.NewFromInt(60),
		AllowedFormats:     []string{"mp4", "webm", "wav"},
		TempDir:            t.TempDir(),
	})
	return h
}

// seedVideo stores a queued video of the given length with a source object
func (h *harness) seedVideo(id, minutes string) models.Video {
	v := models.Video{
		ID:              id,
		UserID:          "user-1",
		Filename:        id + ".mp4",
		SourceKey:       "users/user-1/videos/" + id + "/source.mp4",
		Format:          "mp4",
		DurationMinutes: decimal.RequireFromString(minutes),
		HasVideo:        true,
		Language:        "en",
		Status:          models.VideoStatusQueued,
		DubbingStatus:   models.DubbingStatusNone,
	}
	h.repo.putVideo(v)
	h.store.put(v.SourceKey, "source-bytes")
	return v
}

func kindOf(err error) apperrors.Kind {
	return apperrors.KindOf(err)
}

var errBoom = errors.New("boom")
