// Package store defines the persistence ports of the check-in service and a
// thread-safe in-memory implementation of all of them.
//
// The engine itself never touches a store: the check-in service reads history
// through these interfaces before scoring and writes the verdict afterwards.
// Alert updates are compare-and-swap on FraudAlert.Version so concurrent
// reviewers cannot overwrite each other's transitions.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/mido2666/Smart-Campus-Assistant-v-1.1-main-sub002/internal/domain"
)

// Sentinel errors shared by every backend.
var (
	ErrNotFound  = errors.New("not found")
	ErrConflict  = errors.New("version conflict")
	ErrDuplicate = errors.New("already exists")
)

// SessionStore keeps session configurations.
type SessionStore interface {
	SaveSession(ctx context.Context, s domain.SessionConfig) error
	GetSession(ctx context.Context, id string) (domain.SessionConfig, error)
}

// DeviceStore keeps the devices bound to each student.
type DeviceStore interface {
	// DevicesByStudent returns the student's records, most recently seen first.
	DevicesByStudent(ctx context.Context, studentID string) ([]domain.DeviceRecord, error)
	// UpsertDevice inserts a record or refreshes LastSeen and the fingerprint of
	// an existing one, keeping its FirstSeen.
	UpsertDevice(ctx context.Context, rec domain.DeviceRecord) error
}

// AttemptStore keeps scored attempts. Results are ordered oldest first.
type AttemptStore interface {
	SaveAttempt(ctx context.Context, a domain.ScoredAttempt) error
	AttemptsByStudent(ctx context.Context, studentID string, since time.Time) ([]domain.ScoredAttempt, error)
	AttemptsBySession(ctx context.Context, sessionID string, since time.Time) ([]domain.ScoredAttempt, error)
	AttemptsSince(ctx context.Context, since time.Time) ([]domain.ScoredAttempt, error)
}

// AlertFilter narrows ListAlerts; zero fields match everything.
type AlertFilter struct {
	Status    domain.AlertStatus
	Type      domain.AlertType
	StudentID string
	SessionID string
	Limit     int
}

// Match reports whether a passes the filter, ignoring Limit.
func (f AlertFilter) Match(a domain.FraudAlert) bool {
	return (f.Status == "" || a.Status == f.Status) &&
		(f.Type == "" || a.Type == f.Type) &&
		(f.StudentID == "" || a.StudentID == f.StudentID) &&
		(f.SessionID == "" || a.SessionID == f.SessionID)
}

// AlertStore keeps alerts.
type AlertStore interface {
	SaveAlert(ctx context.Context, a domain.FraudAlert) error
	GetAlert(ctx context.Context, id string) (domain.FraudAlert, error)
	// UpdateAlert replaces the alert only if the stored version equals
	// expectedVersion; it returns ErrConflict otherwise.
	UpdateAlert(ctx context.Context, a domain.FraudAlert, expectedVersion int) error
	// ListAlerts returns matching alerts, newest first.
	ListAlerts(ctx context.Context, f AlertFilter) ([]domain.FraudAlert, error)
}

// Backends groups one implementation per port. Different ports may be served
// by different databases.
type Backends struct {
	Sessions SessionStore
	Devices  DeviceStore
	Attempts AttemptStore
	Alerts   AlertStore
}

// MemoryBackends serves every port from one in-memory store.
func MemoryBackends(m *Memory) Backends {
	return Backends{Sessions: m, Devices: m, Attempts: m, Alerts: m}
}
