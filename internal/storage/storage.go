package storage

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/therealutkarshpriyadarshi/captionforge/internal/config"
	"github.com/therealutkarshpriyadarshi/captionforge/internal/logging"
	"github.com/therealutkarshpriyadarshi/captionforge/internal/metrics"
)

// ObjectStore is the object storage surface used by the pipeline and API
type ObjectStore interface {
	Upload(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) error
	UploadFile(ctx context.Context, objectName, filePath string) error
	Download(ctx context.Context, objectName string) (io.ReadCloser, error)
	DownloadFile(ctx context.Context, objectName, filePath string) error
	Delete(ctx context.Context, objectName string) error
	DeletePrefix(ctx context.Context, prefix string) error
	GetURL(ctx context.Context, objectName string) (string, error)
	List(ctx context.Context, prefix string) ([]string, error)
}

// New creates the object store selected by cfg.Driver. A nil logger
// disables per-operation logs.
func New(ctx context.Context, cfg config.StorageConfig, logger *logging.Logger) (ObjectStore, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	switch cfg.Driver {
	case "", "minio":
		return NewMinio(ctx, cfg, logger)
	case "s3":
		return NewS3(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}

// track times an operation and records its outcome through the named error
func track(logger *logging.Logger, operation, bucket, key string, err *error) func() {
	start := time.Now()
	return func() {
		elapsed := time.Since(start)
		status := "success"
		if *err != nil {
			status = "error"
		}
		metrics.RecordStorageOperation(operation, status, elapsed.Seconds())
		if logger != nil {
			logger.LogStorageOperation(operation, bucket, key, elapsed, *err)
		}
	}
}

// Object key layout. Everything a video owns lives under VideoPrefix so a
// delete can sweep it in one pass.

// VideoPrefix returns the key prefix for all of a video's objects
func VideoPrefix(userID, videoID string) string {
	return fmt.Sprintf("users/%s/videos/%s/", userID, videoID)
}

// SourceKey returns the key of an uploaded source file
func SourceKey(userID, videoID, format string) string {
	return VideoPrefix(userID, videoID) + "source." + strings.ToLower(format)
}

// SubtitleKey returns the key of a caption file
func SubtitleKey(userID, videoID, subtitleID, format string) string {
	return VideoPrefix(userID, videoID) + "subtitles/" + subtitleID + "." + format
}

// DubbedKey returns the key of a downloaded dubbed track
func DubbedKey(userID, videoID, language, ext string) string {
	return VideoPrefix(userID, videoID) + "dubbed/" + language + ext
}

// BurnedKey returns the key of a rendered video with burned-in captions
func BurnedKey(userID, videoID, renderID string) string {
	return VideoPrefix(userID, videoID) + "burned/" + renderID + ".mp4"
}

// getContentType returns the content type based on file extension
func getContentType(filePath string) string {
	ext := strings.ToLower(filepath.Ext(filePath))
	switch ext {
	case ".mp4":
		return "video/mp4"
	case ".webm":
		return "video/webm"
	case ".wav":
		return "audio/wav"
	case ".mp3":
		return "audio/mpeg"
	case ".srt":
		return "application/x-subrip"
	case ".vtt":
		return "text/vtt"
	default:
		return "application/octet-stream"
	}
}

// ContentType exposes the extension-based content type lookup
func ContentType(filePath string) string {
	return getContentType(filePath)
}
