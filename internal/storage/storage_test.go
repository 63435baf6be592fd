package storage

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/therealutkarshpriyadarshi/captionforge/internal/config"
)

func TestGetContentType(t *testing.T) {
	tests := []struct {
		filePath string
		wantType string
	}{
		{"video.mp4", "video/mp4"},
		{"VIDEO.MP4", "video/mp4"},
		{"video.webm", "video/webm"},
		{"audio.wav", "audio/wav"},
		{"dub.mp3", "audio/mpeg"},
		{"captions.srt", "application/x-subrip"},
		{"captions.vtt", "text/vtt"},
		{"unknown.xyz", "application/octet-stream"},
	}

	for _, tt := range tests {
		t.Run(tt.filePath, func(t *testing.T) {
			contentType := getContentType(tt.filePath)
			if contentType != tt.wantType {
				t.Errorf("getContentType(%q) = %q, want %q", tt.filePath, contentType, tt.wantType)
			}
		})
	}
}

func TestKeyLayout(t *testing.T) {
	prefix := VideoPrefix("u1", "v1")
	assert.Equal(t, "users/u1/videos/v1/", prefix)

	for _, key := range []string{
		SourceKey("u1", "v1", "MP4"),
		SubtitleKey("u1", "v1", "s1", "srt"),
		DubbedKey("u1", "v1", "es", ".mp3"),
		BurnedKey("u1", "v1", "r1"),
	} {
		assert.True(t, strings.HasPrefix(key, prefix), key)
	}
	assert.Equal(t, "users/u1/videos/v1/source.mp4", SourceKey("u1", "v1", "MP4"))
	assert.Equal(t, "users/u1/videos/v1/dubbed/es.mp3", DubbedKey("u1", "v1", "es", ".mp3"))
}

func TestNewUnsupportedDriver(t *testing.T) {
	_, err := New(context.Background(), config.StorageConfig{Driver: "gcs"}, nil)
	assert.Error(t, err)
}

type fakeS3 struct {
	objects map[string]string
	deleted []string
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Key)] = string(data)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(data))}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	delete(f.objects, aws.ToString(in.Key))
	f.deleted = append(f.deleted, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, _ ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	for _, obj := range in.Delete.Objects {
		delete(f.objects, aws.ToString(obj.Key))
		f.deleted = append(f.deleted, aws.ToString(obj.Key))
	}
	return &s3.DeleteObjectsOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	out := &s3.ListObjectsV2Output{}
	for key := range f.objects {
		if strings.HasPrefix(key, aws.ToString(in.Prefix)) {
			out.Contents = append(out.Contents, s3types.Object{Key: aws.String(key)})
		}
	}
	return out, nil
}

func TestS3StorageRoundTrip(t *testing.T) {
	fake := &fakeS3{objects: map[string]string{}}
	store := &S3Storage{client: fake, bucketName: "b"}
	ctx := context.Background()

	require.NoError(t, store.Upload(ctx, "users/u1/videos/v1/source.mp4", strings.NewReader("video"), 5, "video/mp4"))
	require.NoError(t, store.Upload(ctx, "users/u1/videos/v1/subtitles/s1.srt", strings.NewReader("1"), 1, ""))
	require.NoError(t, store.Upload(ctx, "users/u1/videos/v2/source.mp4", strings.NewReader("other"), 5, ""))

	body, err := store.Download(ctx, "users/u1/videos/v1/source.mp4")
	require.NoError(t, err)
	data, _ := io.ReadAll(body)
	body.Close()
	assert.Equal(t, "video", string(data))

	keys, err := store.List(ctx, "users/u1/videos/v1/")
	require.NoError(t, err)
	assert.Len(t, keys, 2)

	require.NoError(t, store.DeletePrefix(ctx, "users/u1/videos/v1/"))
	assert.ElementsMatch(t, []string{
		"users/u1/videos/v1/source.mp4",
		"users/u1/videos/v1/subtitles/s1.srt",
	}, fake.deleted)
	assert.Contains(t, fake.objects, "users/u1/videos/v2/source.mp4")

	_, err = store.Download(ctx, "users/u1/videos/v1/source.mp4")
	assert.Error(t, err)
}
