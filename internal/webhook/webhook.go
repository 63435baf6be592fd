package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/therealutkarshpriyadarshi/captionforge/internal/apperrors"
	"github.com/therealutkarshpriyadarshi/captionforge/internal/config"
	"github.com/therealutkarshpriyadarshi/captionforge/internal/logging"
	"github.com/therealutkarshpriyadarshi/captionforge/internal/metrics"
	"github.com/therealutkarshpriyadarshi/captionforge/pkg/models"
)

const (
	HeaderEvent     = "X-Webhook-Event"
	HeaderDelivery  = "X-Webhook-Delivery"
	HeaderSignature = "X-Webhook-Signature"
)

// DefaultRetryDelays spaces out redeliveries of a failed webhook
var DefaultRetryDelays = []time.Duration{
	5 * time.Second,
	30 * time.Second,
	2 * time.Minute,
}

// Endpoint is a subscriber URL. An empty Events list subscribes to every
// event type.
type Endpoint struct {
	URL    string
	Secret string
	Events []string
}

func (e Endpoint) wants(eventType string) bool {
	if len(e.Events) == 0 {
		return true
	}
	for _, t := range e.Events {
		if t == eventType {
			return true
		}
	}
	return false
}

// Notifier posts stage events to subscriber endpoints. Deliveries run in the
// background so a slow subscriber never holds up the pipeline.
type Notifier struct {
	client      *http.Client
	endpoints   []Endpoint
	logger      *logging.Logger
	RetryDelays []time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewNotifier creates a notifier for the given endpoints
func NewNotifier(endpoints []Endpoint, timeout time.Duration, logger *logging.Logger) *Notifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = logging.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Notifier{
		client:      &http.Client{Timeout: timeout},
		endpoints:   endpoints,
		logger:      logger,
		RetryDelays: DefaultRetryDelays,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// FromConfig builds a notifier for the configured endpoints, or returns nil
// when there are none
func FromConfig(cfg config.WebhooksConfig, logger *logging.Logger) *Notifier {
	if len(cfg.Endpoints) == 0 {
		return nil
	}
	endpoints := make([]Endpoint, 0, len(cfg.Endpoints))
	for _, ep := range cfg.Endpoints {
		endpoints = append(endpoints, Endpoint{URL: ep.URL, Secret: ep.Secret, Events: ep.Events})
	}
	return NewNotifier(endpoints, cfg.Timeout, logger)
}

// Publish queues event for delivery to every subscribed endpoint
func (n *Notifier) Publish(_ context.Context, event *models.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	for _, endpoint := range n.endpoints {
		if !endpoint.wants(event.Type) {
			continue
		}
		n.wg.Add(1)
		go func(endpoint Endpoint) {
			defer n.wg.Done()
			n.deliverWithRetry(endpoint, event.Type, uuid.New().String(), payload)
		}(endpoint)
	}
	return nil
}

// Close abandons pending retries and waits for in-flight deliveries
func (n *Notifier) Close() {
	n.cancel()
	n.wg.Wait()
}

// Wait blocks until every queued delivery has finished
func (n *Notifier) Wait() {
	n.wg.Wait()
}

func (n *Notifier) deliverWithRetry(endpoint Endpoint, eventType, deliveryID string, payload []byte) {
	logger := n.logger.WithFields(map[string]interface{}{
		"webhook_url": endpoint.URL,
		"event":       eventType,
		"delivery_id": deliveryID,
	})

	for attempt := 0; ; attempt++ {
		retry, err := n.deliver(n.ctx, endpoint, eventType, deliveryID, payload)
		if err == nil {
			metrics.RecordEventPublished(eventType, "webhook_delivered")
			return
		}
		if !retry || attempt >= len(n.RetryDelays) {
			metrics.RecordEventPublished(eventType, "webhook_failed")
			logger.WithError(err).Warnf("Webhook delivery failed after %d attempts", attempt+1)
			return
		}

		select {
		case <-n.ctx.Done():
			return
		case <-time.After(n.RetryDelays[attempt]):
		}
	}
}

// deliver makes one delivery attempt and reports whether a failure is worth
// retrying
func (n *Notifier) deliver(ctx context.Context, endpoint Endpoint, eventType, deliveryID string, payload []byte) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.URL, bytes.NewReader(payload))
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "CaptionForge-Webhook/1.0")
	req.Header.Set(HeaderEvent, eventType)
	req.Header.Set(HeaderDelivery, deliveryID)
	if endpoint.Secret != "" {
		req.Header.Set(HeaderSignature, Sign(payload, endpoint.Secret))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return ctx.Err() == nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return false, nil
	}
	return apperrors.IsTransientStatus(resp.StatusCode), fmt.Errorf("subscriber returned status %d", resp.StatusCode)
}

// Sign returns the HMAC-SHA256 signature header value for payload
func Sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}

// Verify checks a signature produced by Sign
func Verify(payload []byte, secret, signature string) bool {
	return hmac.Equal([]byte(Sign(payload, secret)), []byte(signature))
}
