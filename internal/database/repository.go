package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/therealutkarshpriyadarshi/captionforge/pkg/models"
)

// Repository provides database operations
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

// Videos

const videoColumns = `id, user_id, filename, source_key, size, format, duration_minutes,
	width, height, has_video, language, status, charged, error_msg,
	dubbing_status, dubbing_id, dubbing_language, dubbed_media_key, is_dubbed_audio,
	burned_video_key, subtitle_styles, created_at, updated_at`

func scanVideo(row scanner) (*models.Video, error) {
	var video models.Video
	err := row.Scan(
		&video.ID, &video.UserID, &video.Filename, &video.SourceKey, &video.Size, &video.Format,
		&video.DurationMinutes, &video.Width, &video.Height, &video.HasVideo, &video.Language,
		&video.Status, &video.Charged, &video.ErrorMsg,
		&video.DubbingStatus, &video.DubbingID, &video.DubbingLanguage, &video.DubbedMediaKey,
		&video.IsDubbedAudio, &video.BurnedVideoKey, &video.SubtitleStyles,
		&video.CreatedAt, &video.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &video, nil
}

// CreateVideo creates a new video record
func (r *Repository) CreateVideo(ctx context.Context, video *models.Video) error {
	if video.ID == "" {
		video.ID = uuid.New().String()
	}
	if video.DubbingStatus == "" {
		video.DubbingStatus = models.DubbingStatusNone
	}

	query := `
		INSERT INTO videos (id, user_id, filename, source_key, size, format, duration_minutes,
		                    width, height, has_video, language, status, dubbing_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at, updated_at
	`

	err := r.db.Pool.QueryRow(ctx, query,
		video.ID, video.UserID, video.Filename, video.SourceKey, video.Size, video.Format,
		video.DurationMinutes, video.Width, video.Height, video.HasVideo, video.Language,
		video.Status, video.DubbingStatus,
	).Scan(&video.CreatedAt, &video.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to create video: %w", err)
	}

	return nil
}

// GetVideo retrieves a video by ID
func (r *Repository) GetVideo(ctx context.Context, id string) (*models.Video, error) {
	query := `SELECT ` + videoColumns + ` FROM videos WHERE id = $1`

	video, err := scanVideo(r.db.Pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("video %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get video: %w", err)
	}

	return video, nil
}

// UpdateVideo writes the mutable processing fields of a video
func (r *Repository) UpdateVideo(ctx context.Context, video *models.Video) error {
	query := `
		UPDATE videos
		SET language = $2, status = $3, charged = $4, error_msg = $5,
		    dubbing_status = $6, dubbing_id = $7, dubbing_language = $8,
		    dubbed_media_key = $9, is_dubbed_audio = $10,
		    burned_video_key = $11, subtitle_styles = $12, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	err := r.db.Pool.QueryRow(ctx, query,
		video.ID, video.Language, video.Status, video.Charged, video.ErrorMsg,
		video.DubbingStatus, video.DubbingID, video.DubbingLanguage,
		video.DubbedMediaKey, video.IsDubbedAudio,
		video.BurnedVideoKey, video.SubtitleStyles,
	).Scan(&video.UpdatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("video %s: %w", video.ID, models.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to update video: %w", err)
	}

	return nil
}

// ListVideosByUser retrieves a user's videos, newest first
func (r *Repository) ListVideosByUser(ctx context.Context, userID string, limit, offset int) ([]*models.Video, error) {
	query := `SELECT ` + videoColumns + `
		FROM videos
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	return r.queryVideos(ctx, query, userID, limit, offset)
}

// ListPendingDubbing returns videos whose dubbing job has not reached a terminal state
func (r *Repository) ListPendingDubbing(ctx context.Context, limit int) ([]*models.Video, error) {
	query := `SELECT ` + videoColumns + `
		FROM videos
		WHERE dubbing_status = $1
		ORDER BY updated_at ASC
		LIMIT $2`

	return r.queryVideos(ctx, query, models.DubbingStatusPending, limit)
}

// CountVideosByStatus returns the number of videos in each transcription status
func (r *Repository) CountVideosByStatus(ctx context.Context) (map[string]int64, error) {
	return r.countBy(ctx, `SELECT status, COUNT(*) FROM videos GROUP BY status`)
}

// CountVideosByDubbingStatus returns the number of videos in each dubbing status
func (r *Repository) CountVideosByDubbingStatus(ctx context.Context) (map[string]int64, error) {
	return r.countBy(ctx, `SELECT dubbing_status, COUNT(*) FROM videos GROUP BY dubbing_status`)
}

func (r *Repository) countBy(ctx context.Context, query string) (map[string]int64, error) {
	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to count videos: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var key string
		var n int64
		if err := rows.Scan(&key, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[key] = n
	}
	return counts, rows.Err()
}

func (r *Repository) queryVideos(ctx context.Context, query string, args ...any) ([]*models.Video, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list videos: %w", err)
	}
	defer rows.Close()

	var videos []*models.Video
	for rows.Next() {
		video, err := scanVideo(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan video: %w", err)
		}
		videos = append(videos, video)
	}

	return videos, rows.Err()
}

// DeleteVideo removes a video row; subtitles cascade
func (r *Repository) DeleteVideo(ctx context.Context, id string) error {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM videos WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete video: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("video %s: %w", id, models.ErrNotFound)
	}
	return nil
}

// Subtitles

// CreateSubtitle records a stored caption file
func (r *Repository) CreateSubtitle(ctx context.Context, subtitle *models.Subtitle) error {
	if subtitle.ID == "" {
		subtitle.ID = uuid.New().String()
	}

	query := `
		INSERT INTO subtitles (id, video_id, language, format, object_key, cue_count)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`

	err := r.db.Pool.QueryRow(ctx, query,
		subtitle.ID, subtitle.VideoID, subtitle.Language, subtitle.Format, subtitle.Key, subtitle.CueCount,
	).Scan(&subtitle.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to create subtitle: %w", err)
	}

	return nil
}

// GetSubtitle retrieves a subtitle by ID
func (r *Repository) GetSubtitle(ctx context.Context, id string) (*models.Subtitle, error) {
	var s models.Subtitle

	query := `
		SELECT id, video_id, language, format, object_key, cue_count, created_at
		FROM subtitles
		WHERE id = $1
	`

	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&s.ID, &s.VideoID, &s.Language, &s.Format, &s.Key, &s.CueCount, &s.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("subtitle %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subtitle: %w", err)
	}

	return &s, nil
}

// ListSubtitles retrieves a video's subtitles, newest first
func (r *Repository) ListSubtitles(ctx context.Context, videoID string) ([]*models.Subtitle, error) {
	query := `
		SELECT id, video_id, language, format, object_key, cue_count, created_at
		FROM subtitles
		WHERE video_id = $1
		ORDER BY created_at DESC
	`

	rows, err := r.db.Pool.Query(ctx, query, videoID)
	if err != nil {
		return nil, fmt.Errorf("failed to list subtitles: %w", err)
	}
	defer rows.Close()

	var subtitles []*models.Subtitle
	for rows.Next() {
		var s models.Subtitle
		if err := rows.Scan(&s.ID, &s.VideoID, &s.Language, &s.Format, &s.Key, &s.CueCount, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan subtitle: %w", err)
		}
		subtitles = append(subtitles, &s)
	}

	return subtitles, rows.Err()
}

// DeleteSubtitle removes a subtitle row
func (r *Repository) DeleteSubtitle(ctx context.Context, id string) error {
	if _, err := r.db.Pool.Exec(ctx, `DELETE FROM subtitles WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete subtitle: %w", err)
	}
	return nil
}
