package asr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/therealutkarshpriyadarshi/captionforge/internal/apperrors"
	"github.com/therealutkarshpriyadarshi/captionforge/internal/captions"
	"github.com/therealutkarshpriyadarshi/captionforge/internal/metrics"
	"golang.org/x/text/language"
)

// Transcript is the provider's answer for one audio file
type Transcript struct {
	Language string
	Duration float64
	Segments []captions.Segment
}

// Client calls an OpenAI-compatible audio transcription endpoint
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewClient creates a transcription client
func NewClient(baseURL, apiKey, model string, timeout time.Duration) *Client {
	if model == "" {
		model = "whisper-1"
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type verboseResponse struct {
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

// Transcribe uploads an audio file and returns timed segments. lang may be
// empty to let the provider detect the spoken language.
func (c *Client) Transcribe(ctx context.Context, audioPath, lang string) (*Transcript, error) {
	body, contentType, err := c.buildForm(audioPath, lang)
	if err != nil {
		return nil, apperrors.Storage(apperrors.StageTranscription, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/audio/transcriptions", body)
	if err != nil {
		return nil, apperrors.Provider(apperrors.StageTranscription, 0, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordProviderError("asr", "network")
		return nil, apperrors.Provider(apperrors.StageTranscription, 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		metrics.RecordProviderError("asr", fmt.Sprintf("%d", resp.StatusCode))
		return nil, apperrors.Provider(apperrors.StageTranscription, resp.StatusCode,
			fmt.Errorf("transcription request failed: %s", strings.TrimSpace(string(snippet))))
	}

	var parsed verboseResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, apperrors.Provider(apperrors.StageTranscription, 0, fmt.Errorf("failed to decode transcription: %w", err))
	}

	transcript := &Transcript{
		Language: parsed.Language,
		Duration: parsed.Duration,
		Segments: make([]captions.Segment, 0, len(parsed.Segments)),
	}
	for _, seg := range parsed.Segments {
		transcript.Segments = append(transcript.Segments, captions.Segment{
			Start: seg.Start,
			End:   seg.End,
			Text:  seg.Text,
		})
	}
	return transcript, nil
}

func (c *Client) buildForm(audioPath, lang string) (io.Reader, string, error) {
	file, err := os.Open(audioPath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open audio: %w", err)
	}
	defer file.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, "", fmt.Errorf("failed to read audio: %w", err)
	}

	fields := map[string]string{
		"model":                     c.model,
		"response_format":           "verbose_json",
		"timestamp_granularities[]": "segment",
	}
	if base := BaseLanguage(lang); base != "" {
		fields["language"] = base
	}
	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return &buf, writer.FormDataContentType(), nil
}

// BaseLanguage reduces a BCP 47 tag such as "pt-BR" to its ISO 639-1 base
// ("pt"). Unparseable or undetermined tags yield "".
func BaseLanguage(tag string) string {
	if tag == "" {
		return ""
	}
	t, err := language.Parse(tag)
	if err != nil {
		return ""
	}
	base, confidence := t.Base()
	if confidence == language.No || base.String() == "und" {
		return ""
	}
	return base.String()
}
