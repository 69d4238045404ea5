// Package checkin runs the caller side of a check-in: it loads history from
// the stores, asks the engine for a verdict, persists the outcome and
// publishes any alerts. It also owns the alert review commands.
package checkin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mido2666/Smart-Campus-Assistant-v-1.1-main-sub002/internal/alert"
	"github.com/mido2666/Smart-Campus-Assistant-v-1.1-main-sub002/internal/domain"
	"github.com/mido2666/Smart-Campus-Assistant-v-1.1-main-sub002/internal/events"
	"github.com/mido2666/Smart-Campus-Assistant-v-1.1-main-sub002/internal/photo"
	"github.com/mido2666/Smart-Campus-Assistant-v-1.1-main-sub002/internal/scoring"
	"github.com/mido2666/Smart-Campus-Assistant-v-1.1-main-sub002/internal/store"
	"github.com/mido2666/Smart-Campus-Assistant-v-1.1-main-sub002/internal/timewindow"
)

// ErrInvalidSession wraps every reason a session cannot be registered.
var ErrInvalidSession = errors.New("invalid session")

// Locator resolves a client IP to a network location. *ipgeo.Resolver
// satisfies it.
type Locator interface {
	Lookup(ip string) (domain.NetworkLocation, bool)
}

// photoQuality is the JPEG quality used when shrinking oversized uploads.
const photoQuality = 85

// Service is safe for concurrent use.
type Service struct {
	engine    *scoring.Engine
	stores    store.Backends
	locator   Locator
	publisher events.Publisher
	logger    *slog.Logger
	now       func() time.Time

	historyWindow  time.Duration
	publishTimeout time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithLocator enables the network-location cross check.
func WithLocator(l Locator) Option { return func(s *Service) { s.locator = l } }

// WithPublisher sets the alert sink.
func WithPublisher(p events.Publisher) Option { return func(s *Service) { s.publisher = p } }

// WithLogger replaces slog.Default().
func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithHistoryWindow bounds how far back attempts are loaded for each check-in.
func WithHistoryWindow(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.historyWindow = d
		}
	}
}

// WithPublishTimeout bounds each alert publication.
func WithPublishTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.publishTimeout = d
		}
	}
}

// New returns a Service. Every store port must be set.
func New(engine *scoring.Engine, stores store.Backends, opts ...Option) *Service {
	s := &Service{
		engine:         engine,
		stores:         stores,
		publisher:      events.Noop{},
		logger:         slog.Default(),
		now:            time.Now,
		historyWindow:  time.Hour,
		publishTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ─── Sessions ─────────────────────────────────────────────────────────────────

// RegisterSession stores cfg, assigning an ID when it has none.
func (s *Service) RegisterSession(ctx context.Context, cfg domain.SessionConfig) (domain.SessionConfig, error) {
	if err := scoring.CheckSession(cfg); err != nil {
		return domain.SessionConfig{}, fmt.Errorf("%w: %w", ErrInvalidSession, err)
	}
	if cfg.Timezone != "" {
		if _, err := time.LoadLocation(cfg.Timezone); err != nil {
			return domain.SessionConfig{}, fmt.Errorf("%w: unknown timezone %q", ErrInvalidSession, cfg.Timezone)
		}
	}
	if cfg.ID == "" {
		cfg.ID = "ses_" + uuid.NewString()
	}
	if err := s.stores.Sessions.SaveSession(ctx, cfg); err != nil {
		return domain.SessionConfig{}, fmt.Errorf("save session: %w", err)
	}
	s.logger.Info("session registered", "session_id", cfg.ID, "name", cfg.Name)
	return cfg, nil
}

// Session returns a registered session.
func (s *Service) Session(ctx context.Context, id string) (domain.SessionConfig, error) {
	cfg, err := s.stores.Sessions.GetSession(ctx, id)
	if err != nil {
		return domain.SessionConfig{}, fmt.Errorf("session %s: %w", id, err)
	}
	return cfg, nil
}

// SessionStatus classifies the current instant against the session window.
func (s *Service) SessionStatus(ctx context.Context, id string) (domain.WindowStatus, error) {
	cfg, err := s.Session(ctx, id)
	if err != nil {
		return domain.WindowStatus{}, err
	}
	return timewindow.GetTimeWindowStatus(s.now().UTC(), cfg.Window, gracePeriod(cfg)), nil
}

func gracePeriod(cfg domain.SessionConfig) time.Duration {
	minutes := cfg.Window.GracePeriodMinutes
	if minutes <= 0 {
		minutes = scoring.EffectivePolicy(cfg.Policy).GracePeriodMinutes
	}
	return time.Duration(minutes) * time.Minute
}

// ─── Check-in ─────────────────────────────────────────────────────────────────

// CheckIn validates one attempt against a registered session. History the
// caller left empty is loaded from the stores. The attempt, the device and
// every alert are persisted before the result is returned.
func (s *Service) CheckIn(ctx context.Context, req domain.CheckInRequest) (domain.SecurityValidationResult, error) {
	session, err := s.Session(ctx, req.SessionID)
	if err != nil {
		return domain.SecurityValidationResult{}, err
	}
	if req.ReceivedAt.IsZero() {
		req.ReceivedAt = s.now().UTC()
	}
	if err := s.loadHistory(ctx, &req); err != nil {
		return domain.SecurityValidationResult{}, err
	}
	if req.NetworkLocation == nil && req.IPAddress != "" && s.locator != nil {
		if loc, ok := s.locator.Lookup(req.IPAddress); ok {
			req.NetworkLocation = &loc
		}
	}
	if req.Photo != nil {
		limit := s.engine.Settings().Photo.MaxFileSize
		if limit > 0 && int64(len(req.Photo.Data)) > limit {
			shrunk := photo.CompressPhoto(*req.Photo, int(limit), photoQuality)
			s.logger.Debug("photo compressed", "student_id", req.StudentID, "from", len(req.Photo.Data), "to", len(shrunk.Data))
			req.Photo = &shrunk
		}
	}

	res, err := s.engine.Validate(&req, &session)
	if err != nil {
		return domain.SecurityValidationResult{}, fmt.Errorf("validate check-in: %w", err)
	}

	if err := s.persist(ctx, req, res); err != nil {
		return domain.SecurityValidationResult{}, err
	}

	s.logger.Info("check-in evaluated",
		"student_id", req.StudentID,
		"session_id", req.SessionID,
		"attempt_id", res.Attempt.ID,
		"valid", res.IsValid,
		"risk_score", res.FraudScore.Overall,
		"risk_level", res.FraudScore.RiskLevel,
		"alerts", len(res.Alerts),
	)
	for _, a := range res.Alerts {
		s.logger.Warn("fraud alert raised",
			"alert_id", a.ID,
			"type", a.Type,
			"severity", a.Severity,
			"student_id", a.StudentID,
			"session_id", a.SessionID,
		)
		s.publish(ctx, events.EventAlertCreated, a)
	}
	return res, nil
}

func (s *Service) loadHistory(ctx context.Context, req *domain.CheckInRequest) error {
	since := req.ReceivedAt.Add(-s.historyWindow)

	if req.RecentAttempts == nil {
		recent, err := s.stores.Attempts.AttemptsByStudent(ctx, req.StudentID, since)
		if err != nil {
			return fmt.Errorf("load student attempts: %w", err)
		}
		req.RecentAttempts = recent
	}
	if req.SessionAttempts == nil {
		all, err := s.stores.Attempts.AttemptsBySession(ctx, req.SessionID, since)
		if err != nil {
			return fmt.Errorf("load session attempts: %w", err)
		}
		req.SessionAttempts = all
	}
	if req.DeviceHistory == nil {
		devices, err := s.stores.Devices.DevicesByStudent(ctx, req.StudentID)
		if err != nil {
			return fmt.Errorf("load devices: %w", err)
		}
		req.DeviceHistory = devices
	}
	if req.LocationHistory == nil {
		for _, a := range req.RecentAttempts {
			if a.Location != nil {
				req.LocationHistory = append(req.LocationHistory, *a.Location)
			}
		}
	}
	if req.PriorPhotoHashes == nil {
		for _, a := range req.SessionAttempts {
			if a.PhotoHash != "" {
				req.PriorPhotoHashes = append(req.PriorPhotoHashes, a.PhotoHash)
			}
		}
	}
	return nil
}

func (s *Service) persist(ctx context.Context, req domain.CheckInRequest, res domain.SecurityValidationResult) error {
	if err := s.stores.Attempts.SaveAttempt(ctx, res.Attempt); err != nil {
		s.logger.Error("save attempt failed", "attempt_id", res.Attempt.ID, "error", err)
		return fmt.Errorf("save attempt: %w", err)
	}
	// A device refused by the tracker stays unbound, otherwise a retry would
	// match it and slip past the device limit.
	if fp := res.Attempt.Fingerprint; fp != nil && (res.Device == nil || res.Device.IsValid) {
		rec := domain.DeviceRecord{
			StudentID:   req.StudentID,
			Fingerprint: *fp,
			FirstSeen:   req.ReceivedAt,
			LastSeen:    req.ReceivedAt,
		}
		if err := s.stores.Devices.UpsertDevice(ctx, rec); err != nil {
			s.logger.Error("upsert device failed", "student_id", req.StudentID, "device_id", fp.ID, "error", err)
			return fmt.Errorf("upsert device: %w", err)
		}
	}
	for _, a := range res.Alerts {
		if err := s.stores.Alerts.SaveAlert(ctx, a); err != nil {
			s.logger.Error("save alert failed", "alert_id", a.ID, "error", err)
			return fmt.Errorf("save alert: %w", err)
		}
	}
	return nil
}

func (s *Service) publish(ctx context.Context, name string, a domain.FraudAlert) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.publishTimeout)
	defer cancel()
	if err := s.publisher.Publish(ctx, events.NewAlertEvent(name, a, s.now())); err != nil {
		s.logger.Error("publish alert failed", "alert_id", a.ID, "event", name, "error", err)
	}
}

// ─── Alerts ───────────────────────────────────────────────────────────────────

// Alerts lists alerts matching f, newest first.
func (s *Service) Alerts(ctx context.Context, f store.AlertFilter) ([]domain.FraudAlert, error) {
	return s.stores.Alerts.ListAlerts(ctx, f)
}

// Alert returns one alert.
func (s *Service) Alert(ctx context.Context, id string) (domain.FraudAlert, error) {
	a, err := s.stores.Alerts.GetAlert(ctx, id)
	if err != nil {
		return domain.FraudAlert{}, fmt.Errorf("alert %s: %w", id, err)
	}
	return a, nil
}

// AssignAlert starts or reassigns an investigation.
func (s *Service) AssignAlert(ctx context.Context, id, assignee string) (domain.FraudAlert, error) {
	return s.transition(ctx, id, "assign", func(a domain.FraudAlert, at time.Time) (domain.FraudAlert, error) {
		return alert.Assign(a, assignee, at)
	})
}

// AddAlertNote appends a note to an alert under investigation.
func (s *Service) AddAlertNote(ctx context.Context, id, author, text string) (domain.FraudAlert, error) {
	return s.transition(ctx, id, "note", func(a domain.FraudAlert, at time.Time) (domain.FraudAlert, error) {
		return alert.AddNote(a, author, text, at)
	})
}

// ResolveAlert closes an investigation with a resolution.
func (s *Service) ResolveAlert(ctx context.Context, id, resolution string) (domain.FraudAlert, error) {
	return s.transition(ctx, id, "resolve", func(a domain.FraudAlert, at time.Time) (domain.FraudAlert, error) {
		return alert.Resolve(a, resolution, at)
	})
}

// DismissAlert closes an alert as a false positive.
func (s *Service) DismissAlert(ctx context.Context, id, reason string) (domain.FraudAlert, error) {
	return s.transition(ctx, id, "dismiss", func(a domain.FraudAlert, at time.Time) (domain.FraudAlert, error) {
		return alert.Dismiss(a, reason, at)
	})
}

// transition loads the alert, applies cmd and writes the result only if no
// one else changed the alert in between. A lost race returns store.ErrConflict.
func (s *Service) transition(ctx context.Context, id, action string, cmd func(domain.FraudAlert, time.Time) (domain.FraudAlert, error)) (domain.FraudAlert, error) {
	cur, err := s.Alert(ctx, id)
	if err != nil {
		return domain.FraudAlert{}, err
	}
	next, err := cmd(cur, s.now().UTC())
	if err != nil {
		return cur, err
	}
	if err := s.stores.Alerts.UpdateAlert(ctx, next, cur.Version); err != nil {
		if errors.Is(err, store.ErrConflict) {
			s.logger.Warn("alert changed concurrently", "alert_id", id, "action", action)
		}
		return cur, fmt.Errorf("%s alert %s: %w", action, id, err)
	}
	s.logger.Info("alert updated", "alert_id", id, "action", action, "status", next.Status, "version", next.Version)
	s.publish(ctx, events.EventAlertUpdated, next)
	return next, nil
}

// ─── Students ─────────────────────────────────────────────────────────────────

// StudentDevices returns the student's devices, most recently seen first.
func (s *Service) StudentDevices(ctx context.Context, studentID string) ([]domain.DeviceRecord, error) {
	return s.stores.Devices.DevicesByStudent(ctx, studentID)
}

// StudentAttempts returns the student's attempts since the given time.
func (s *Service) StudentAttempts(ctx context.Context, studentID string, since time.Time) ([]domain.ScoredAttempt, error) {
	return s.stores.Attempts.AttemptsByStudent(ctx, studentID, since)
}
