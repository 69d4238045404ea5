package events_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mido2666/Smart-Campus-Assistant-v-1.1-main-sub002/internal/alert"
	"github.com/mido2666/Smart-Campus-Assistant-v-1.1-main-sub002/internal/domain"
	"github.com/mido2666/Smart-Campus-Assistant-v-1.1-main-sub002/internal/events"
)

var now = time.Date(2026, 3, 2, 9, 5, 0, 0, time.UTC)

func sampleEvent(sev domain.Severity) events.AlertEvent {
	a := alert.New(domain.QRSharingEvidence{IPAddress: "41.33.1.9", Students: []string{"stu_1", "stu_2"}},
		sev, "five students on one network", domain.FraudScore{Overall: 55}, "stu_1", "ses_1", now)
	return events.NewAlertEvent(events.EventAlertCreated, a, now)
}

// ─── Kafka ────────────────────────────────────────────────────────────────────

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafka_PublishKeysByStudent(t *testing.T) {
	w := &fakeWriter{}
	p := events.NewKafkaWithWriter(w)

	ev := sampleEvent(domain.SeverityHigh)
	require.NoError(t, p.Publish(context.Background(), ev))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "stu_1", string(msg.Key))
	assert.Contains(t, msg.Headers, kafka.Header{Key: "event", Value: []byte(events.EventAlertCreated)})

	var got events.AlertEvent
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	assert.Equal(t, ev.Alert.ID, got.Alert.ID)
	assert.IsType(t, domain.QRSharingEvidence{}, got.Alert.Evidence)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestKafka_PublishWrapsWriteError(t *testing.T) {
	boom := errors.New("broker down")
	p := events.NewKafkaWithWriter(&fakeWriter{err: boom})
	err := p.Publish(context.Background(), sampleEvent(domain.SeverityHigh))
	assert.ErrorIs(t, err, boom)
}

// ─── AMQP ─────────────────────────────────────────────────────────────────────

type fakeChannel struct {
	declared  string
	published []amqp.Publishing
	keys      []string
}

func (f *fakeChannel) QueueDeclare(name string, _, _, _, _ bool, _ amqp.Table) (amqp.Queue, error) {
	f.declared = name
	return amqp.Queue{Name: name}, nil
}

func (f *fakeChannel) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp.Publishing) error {
	f.keys = append(f.keys, key)
	f.published = append(f.published, msg)
	return nil
}

func (f *fakeChannel) Close() error { return nil }

func TestAMQP_PublishPersistent(t *testing.T) {
	ch := &fakeChannel{}
	p, err := events.NewAMQPWithChannel(ch, "fraud-alerts")
	require.NoError(t, err)
	assert.Equal(t, "fraud-alerts", ch.declared)

	ev := sampleEvent(domain.SeverityMedium)
	require.NoError(t, p.Publish(context.Background(), ev))
	require.Len(t, ch.published, 1)

	msg := ch.published[0]
	assert.Equal(t, "fraud-alerts", ch.keys[0])
	assert.Equal(t, amqp.Persistent, msg.DeliveryMode)
	assert.Equal(t, ev.Alert.ID, msg.MessageId)
	assert.Equal(t, events.EventAlertCreated, msg.Type)
	assert.NoError(t, p.Close())
}

// ─── Webhook ──────────────────────────────────────────────────────────────────

func TestWebhook_DeliversAboveThreshold(t *testing.T) {
	var (
		mu   sync.Mutex
		hits []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits = append(hits, r.Header.Get("X-Attendance-Event"))
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	p := events.NewWebhook([]string{srv.URL}, domain.SeverityHigh)

	require.NoError(t, p.Publish(context.Background(), sampleEvent(domain.SeverityMedium)))
	require.NoError(t, p.Publish(context.Background(), sampleEvent(domain.SeverityCritical)))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{events.EventAlertCreated}, hits)
}

func TestWebhook_ReportsBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	p := events.NewWebhook([]string{srv.URL}, domain.SeverityLow)
	err := p.Publish(context.Background(), sampleEvent(domain.SeverityLow))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

// ─── Multi ────────────────────────────────────────────────────────────────────

func TestMulti_PublishesToAllAndJoinsErrors(t *testing.T) {
	boom := errors.New("broker down")
	ok := &fakeWriter{}
	failing := &fakeWriter{err: boom}

	m := events.Multi{events.NewKafkaWithWriter(failing), events.NewKafkaWithWriter(ok), events.Noop{}}
	err := m.Publish(context.Background(), sampleEvent(domain.SeverityHigh))

	assert.ErrorIs(t, err, boom)
	assert.Len(t, ok.msgs, 1, "a failing sink must not stop the others")
	assert.NoError(t, m.Close())
	assert.True(t, ok.closed)
	assert.True(t, failing.closed)
}
