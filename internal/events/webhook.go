package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/mido2666/Smart-Campus-Assistant-v-1.1-main-sub002/internal/domain"
)

// Webhook POSTs alert events to a fixed set of URLs. Alerts below
// MinSeverity are skipped.
type Webhook struct {
	urls        []string
	minSeverity domain.Severity
	client      *http.Client
}

// NewWebhook builds a webhook publisher with a 5s client timeout.
func NewWebhook(urls []string, minSeverity domain.Severity) *Webhook {
	return &Webhook{
		urls:        urls,
		minSeverity: minSeverity,
		client:      &http.Client{Timeout: 5 * time.Second},
	}
}

// WithClient replaces the HTTP client.
func (w *Webhook) WithClient(c *http.Client) *Webhook {
	w.client = c
	return w
}

func (w *Webhook) Publish(ctx context.Context, ev AlertEvent) error {
	if ev.Alert.Severity.Rank() < w.minSeverity.Rank() {
		return nil
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("webhook: encode event: %w", err)
	}

	var errs []error
	for _, url := range w.urls {
		if err := w.send(ctx, url, ev, body); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (w *Webhook) send(ctx context.Context, url string, ev AlertEvent, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook %s: build request: %w", url, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Attendance-Event", ev.Event)

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook %s: unexpected status %d", url, resp.StatusCode)
	}

	slog.Debug("webhook: delivered",
		"url", url,
		"status", resp.StatusCode,
		"alert_id", ev.Alert.ID,
		"event", ev.Event,
	)
	return nil
}

func (w *Webhook) Close() error {
	w.client.CloseIdleConnections()
	return nil
}
