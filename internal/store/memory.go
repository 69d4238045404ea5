package store

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/mido2666/Smart-Campus-Assistant-v-1.1-main-sub002/internal/domain"
)

// Memory is a thread-safe in-memory store. The secondary indexes (by student,
// by session) are maintained on every write so history reads stay a scan over
// one student's or one session's attempts.
type Memory struct {
	mu sync.RWMutex

	sessions map[string]domain.SessionConfig
	devices  map[string]map[string]domain.DeviceRecord // student -> fingerprint id -> record
	attempts map[string]domain.ScoredAttempt
	alerts   map[string]domain.FraudAlert

	// Secondary indexes: entity value -> attempt IDs in insertion order.
	attemptsByStudent map[string][]string
	attemptsBySession map[string][]string
}

// NewMemory creates an empty, ready-to-use store.
func NewMemory() *Memory {
	return &Memory{
		sessions:          make(map[string]domain.SessionConfig),
		devices:           make(map[string]map[string]domain.DeviceRecord),
		attempts:          make(map[string]domain.ScoredAttempt),
		alerts:            make(map[string]domain.FraudAlert),
		attemptsByStudent: make(map[string][]string),
		attemptsBySession: make(map[string][]string),
	}
}

// ─── Sessions ─────────────────────────────────────────────────────────────────

// SaveSession upserts a session configuration.
func (m *Memory) SaveSession(_ context.Context, s domain.SessionConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return nil
}

// GetSession returns ErrNotFound for an unknown id.
func (m *Memory) GetSession(_ context.Context, id string) (domain.SessionConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return domain.SessionConfig{}, ErrNotFound
	}
	return s, nil
}

// ─── Devices ──────────────────────────────────────────────────────────────────

// DevicesByStudent returns the student's devices, most recently seen first.
func (m *Memory) DevicesByStudent(_ context.Context, studentID string) ([]domain.DeviceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.DeviceRecord, 0, len(m.devices[studentID]))
	for _, rec := range m.devices[studentID] {
		out = append(out, rec)
	}
	slices.SortFunc(out, func(a, b domain.DeviceRecord) int { return b.LastSeen.Compare(a.LastSeen) })
	return out, nil
}

// UpsertDevice inserts or refreshes a device record.
func (m *Memory) UpsertDevice(_ context.Context, rec domain.DeviceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byID := m.devices[rec.StudentID]
	if byID == nil {
		byID = make(map[string]domain.DeviceRecord)
		m.devices[rec.StudentID] = byID
	}
	if prev, ok := byID[rec.Fingerprint.ID]; ok {
		rec.FirstSeen = prev.FirstSeen
		if rec.LastSeen.Before(prev.LastSeen) {
			rec.LastSeen = prev.LastSeen
		}
	}
	byID[rec.Fingerprint.ID] = rec
	return nil
}

// ─── Attempts ─────────────────────────────────────────────────────────────────

// SaveAttempt persists an attempt and updates the indexes.
// Returns ErrDuplicate if the ID already exists.
func (m *Memory) SaveAttempt(_ context.Context, a domain.ScoredAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.attempts[a.ID]; exists {
		return ErrDuplicate
	}
	m.attempts[a.ID] = a
	m.attemptsByStudent[a.StudentID] = append(m.attemptsByStudent[a.StudentID], a.ID)
	m.attemptsBySession[a.SessionID] = append(m.attemptsBySession[a.SessionID], a.ID)
	return nil
}

// AttemptsByStudent returns the student's attempts at or after since.
func (m *Memory) AttemptsByStudent(_ context.Context, studentID string, since time.Time) ([]domain.ScoredAttempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filterByTime(m.attemptsByStudent[studentID], since), nil
}

// AttemptsBySession returns the session's attempts at or after since.
func (m *Memory) AttemptsBySession(_ context.Context, sessionID string, since time.Time) ([]domain.ScoredAttempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filterByTime(m.attemptsBySession[sessionID], since), nil
}

// AttemptsSince returns every attempt at or after since.
func (m *Memory) AttemptsSince(_ context.Context, since time.Time) ([]domain.ScoredAttempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.ScoredAttempt
	for _, a := range m.attempts {
		if !a.Timestamp.Before(since) {
			out = append(out, a)
		}
	}
	sortAttempts(out)
	return out, nil
}

// PruneAttempts drops attempts older than before and returns how many went.
func (m *Memory) PruneAttempts(before time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, a := range m.attempts {
		if a.Timestamp.Before(before) {
			delete(m.attempts, id)
			removed++
		}
	}
	if removed == 0 {
		return 0
	}
	for _, idx := range []map[string][]string{m.attemptsByStudent, m.attemptsBySession} {
		for key, ids := range idx {
			ids = slices.DeleteFunc(ids, func(id string) bool {
				_, ok := m.attempts[id]
				return !ok
			})
			if len(ids) == 0 {
				delete(idx, key)
			} else {
				idx[key] = ids
			}
		}
	}
	return removed
}

// filterByTime resolves IDs to attempts at or after since, oldest first.
// Must be called with at least a read-lock held.
func (m *Memory) filterByTime(ids []string, since time.Time) []domain.ScoredAttempt {
	var out []domain.ScoredAttempt
	for _, id := range ids {
		a, ok := m.attempts[id]
		if ok && !a.Timestamp.Before(since) {
			out = append(out, a)
		}
	}
	sortAttempts(out)
	return out
}

func sortAttempts(as []domain.ScoredAttempt) {
	slices.SortStableFunc(as, func(a, b domain.ScoredAttempt) int { return a.Timestamp.Compare(b.Timestamp) })
}

// ─── Alerts ───────────────────────────────────────────────────────────────────

// SaveAlert stores a new alert. Returns ErrDuplicate if the ID already exists.
func (m *Memory) SaveAlert(_ context.Context, a domain.FraudAlert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.alerts[a.ID]; exists {
		return ErrDuplicate
	}
	m.alerts[a.ID] = a
	return nil
}

// GetAlert returns ErrNotFound for an unknown id.
func (m *Memory) GetAlert(_ context.Context, id string) (domain.FraudAlert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.alerts[id]
	if !ok {
		return domain.FraudAlert{}, ErrNotFound
	}
	return a, nil
}

// UpdateAlert swaps in a if the stored version still equals expectedVersion.
func (m *Memory) UpdateAlert(_ context.Context, a domain.FraudAlert, expectedVersion int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.alerts[a.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Version != expectedVersion {
		return ErrConflict
	}
	m.alerts[a.ID] = a
	return nil
}

// ListAlerts returns matching alerts, newest first.
func (m *Memory) ListAlerts(_ context.Context, f AlertFilter) ([]domain.FraudAlert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.FraudAlert
	for _, a := range m.alerts {
		if f.Match(a) {
			out = append(out, a)
		}
	}
	slices.SortFunc(out, func(a, b domain.FraudAlert) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		if a.ID > b.ID {
			return -1
		}
		if a.ID < b.ID {
			return 1
		}
		return 0
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}
