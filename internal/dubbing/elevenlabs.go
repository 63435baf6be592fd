package dubbing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/therealutkarshpriyadarshi/captionforge/internal/apperrors"
	"github.com/therealutkarshpriyadarshi/captionforge/internal/metrics"
)

// Status is the normalized state of a remote dubbing job
type Status string

const (
	StatusPending Status = "pending"
	StatusReady   Status = "ready"
	StatusFailed  Status = "failed"
)

// Job is returned when a dubbing job is accepted
type Job struct {
	ID                  string  `json:"dubbing_id"`
	ExpectedDurationSec float64 `json:"expected_duration_sec"`
}

// Progress is a single poll result
type Progress struct {
	ID       string
	Status   Status
	Provider string // raw provider status
	Error    string
}

// Client talks to the ElevenLabs dubbing API
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a dubbing client
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = "https://api.elevenlabs.io"
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Create submits a source media URL for dubbing into targetLang.
// sourceLang may be empty for auto detection.
func (c *Client) Create(ctx context.Context, sourceURL, sourceLang, targetLang string) (*Job, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	fields := [][2]string{
		{"source_url", sourceURL},
		{"target_lang", targetLang},
	}
	if sourceLang != "" {
		fields = append(fields, [2]string{"source_lang", sourceLang})
	}
	for _, f := range fields {
		if err := writer.WriteField(f[0], f[1]); err != nil {
			return nil, apperrors.Provider(apperrors.StageDubbing, 0, err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, apperrors.Provider(apperrors.StageDubbing, 0, err)
	}

	resp, err := c.do(ctx, http.MethodPost, "/v1/dubbing", &buf, writer.FormDataContentType())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var job Job
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		return nil, apperrors.Provider(apperrors.StageDubbing, 0, fmt.Errorf("failed to decode dubbing response: %w", err))
	}
	if job.ID == "" {
		return nil, apperrors.Provider(apperrors.StageDubbing, 0, fmt.Errorf("dubbing response missing dubbing_id"))
	}
	return &job, nil
}

// Poll fetches the current state of a dubbing job
func (c *Client) Poll(ctx context.Context, dubbingID string) (*Progress, error) {
	resp, err := c.do(ctx, http.MethodGet, "/v1/dubbing/"+url.PathEscape(dubbingID), nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var payload struct {
		DubbingID string `json:"dubbing_id"`
		Status    string `json:"status"`
		Error     string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, apperrors.Provider(apperrors.StageDubbing, 0, fmt.Errorf("failed to decode dubbing status: %w", err))
	}

	return &Progress{
		ID:       dubbingID,
		Status:   NormalizeStatus(payload.Status),
		Provider: payload.Status,
		Error:    payload.Error,
	}, nil
}

// Download streams the dubbed track for lang into w and returns the
// response content type.
func (c *Client) Download(ctx context.Context, dubbingID, lang string, w io.Writer) (string, error) {
	path := fmt.Sprintf("/v1/dubbing/%s/audio/%s", url.PathEscape(dubbingID), url.PathEscape(lang))
	resp, err := c.do(ctx, http.MethodGet, path, nil, "")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if _, err := io.Copy(w, resp.Body); err != nil {
		return "", apperrors.Provider(apperrors.StageDubbing, 0, fmt.Errorf("failed to read dubbed media: %w", err))
	}
	return resp.Header.Get("Content-Type"), nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, apperrors.Provider(apperrors.StageDubbing, 0, err)
	}
	req.Header.Set("xi-api-key", c.apiKey)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordProviderError("dubbing", "network")
		return nil, apperrors.Provider(apperrors.StageDubbing, 0, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		metrics.RecordProviderError("dubbing", fmt.Sprintf("%d", resp.StatusCode))
		return nil, apperrors.Provider(apperrors.StageDubbing, resp.StatusCode,
			fmt.Errorf("%s %s: %s", method, path, strings.TrimSpace(string(snippet))))
	}
	return resp, nil
}

// NormalizeStatus maps provider states onto pending, ready or failed
func NormalizeStatus(raw string) Status {
	switch strings.ToLower(raw) {
	case "dubbed":
		return StatusReady
	case "failed":
		return StatusFailed
	default:
		return StatusPending
	}
}

// ExtensionFor picks a file extension for downloaded media
func ExtensionFor(contentType string) string {
	switch {
	case strings.HasPrefix(contentType, "audio/mpeg"):
		return ".mp3"
	case strings.HasPrefix(contentType, "audio/wav"), strings.HasPrefix(contentType, "audio/x-wav"):
		return ".wav"
	case strings.HasPrefix(contentType, "video/webm"), strings.HasPrefix(contentType, "audio/webm"):
		return ".webm"
	default:
		return ".mp4"
	}
}
