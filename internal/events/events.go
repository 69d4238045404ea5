// Package events publishes fraud alert notifications to downstream systems.
//
// Every sink implements Publisher. The check-in service publishes after the
// alert has been persisted; a failed publish never rolls the alert back.
package events

import (
	"context"
	"errors"
	"time"

	"github.com/mido2666/Smart-Campus-Assistant-v-1.1-main-sub002/internal/domain"
)

// Event names carried in the payload and in transport headers.
const (
	EventAlertCreated = "fraud_alert.created"
	EventAlertUpdated = "fraud_alert.updated"
)

// AlertEvent is the payload every publisher sends.
type AlertEvent struct {
	Event       string            `json:"event"`
	TriggeredAt time.Time         `json:"triggered_at"`
	Alert       domain.FraudAlert `json:"alert"`
}

// NewAlertEvent wraps an alert for publication.
func NewAlertEvent(name string, a domain.FraudAlert, now time.Time) AlertEvent {
	return AlertEvent{Event: name, TriggeredAt: now.UTC(), Alert: a}
}

// Publisher delivers alert events to one sink.
type Publisher interface {
	Publish(ctx context.Context, ev AlertEvent) error
	Close() error
}

// ─── Fan-out ──────────────────────────────────────────────────────────────────

// Multi publishes to every wrapped publisher and joins their errors.
type Multi []Publisher

// Publish sends ev to every publisher, even after one fails.
func (m Multi) Publish(ctx context.Context, ev AlertEvent) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every publisher.
func (m Multi) Close() error {
	var errs []error
	for _, p := range m {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Noop drops every event. Used when no sink is configured.
type Noop struct{}

func (Noop) Publish(context.Context, AlertEvent) error { return nil }
func (Noop) Close() error                              { return nil }
