// Package postgres keeps sessions and fraud alerts in PostgreSQL.
//
// Alerts are stored as a JSONB payload next to the columns the API filters
// on. Status transitions are compare-and-swap on the version column.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/mido2666/Smart-Campus-Assistant-v-1.1-main-sub002/internal/domain"
	"github.com/mido2666/Smart-Campus-Assistant-v-1.1-main-sub002/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
    id         TEXT PRIMARY KEY,
    config     JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS fraud_alerts (
    id         TEXT PRIMARY KEY,
    type       TEXT NOT NULL,
    severity   TEXT NOT NULL,
    status     TEXT NOT NULL,
    student_id TEXT NOT NULL,
    session_id TEXT NOT NULL,
    payload    JSONB NOT NULL,
    version    INTEGER NOT NULL,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS fraud_alerts_status_idx  ON fraud_alerts (status, created_at DESC);
CREATE INDEX IF NOT EXISTS fraud_alerts_student_idx ON fraud_alerts (student_id, created_at DESC);
CREATE INDEX IF NOT EXISTS fraud_alerts_session_idx ON fraud_alerts (session_id, created_at DESC);
`

// uniqueViolation is the SQLSTATE of a primary key clash.
const uniqueViolation = "23505"

// Store implements store.SessionStore and store.AlertStore.
type Store struct {
	db *sql.DB
}

var (
	_ store.SessionStore = (*Store)(nil)
	_ store.AlertStore   = (*Store)(nil)
)

// Open connects with a postgres:// connection string and pings the server.
func Open(ctx context.Context, connStr string) (*Store, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{db: db}, nil
}

// New wraps an existing handle.
func New(db *sql.DB) *Store { return &Store{db: db} }

// Migrate creates the tables and indexes if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Close closes the database handle.
func (s *Store) Close() error { return s.db.Close() }

// ─── Sessions ─────────────────────────────────────────────────────────────────

// SaveSession upserts a session configuration.
func (s *Store) SaveSession(ctx context.Context, cfg domain.SessionConfig) error {
	body, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
        INSERT INTO sessions (id, config, updated_at) VALUES ($1, $2, now())
        ON CONFLICT (id) DO UPDATE SET config = EXCLUDED.config, updated_at = now()`,
		cfg.ID, body)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// GetSession returns store.ErrNotFound for an unknown id.
func (s *Store) GetSession(ctx context.Context, id string) (domain.SessionConfig, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx, `SELECT config FROM sessions WHERE id = $1`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.SessionConfig{}, store.ErrNotFound
	}
	if err != nil {
		return domain.SessionConfig{}, fmt.Errorf("get session: %w", err)
	}
	var cfg domain.SessionConfig
	if err := json.Unmarshal(body, &cfg); err != nil {
		return domain.SessionConfig{}, fmt.Errorf("decode session: %w", err)
	}
	return cfg, nil
}

// ─── Alerts ───────────────────────────────────────────────────────────────────

// SaveAlert inserts a new alert. Returns store.ErrDuplicate if the ID exists.
func (s *Store) SaveAlert(ctx context.Context, a domain.FraudAlert) error {
	body, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
        INSERT INTO fraud_alerts
            (id, type, severity, status, student_id, session_id, payload, version, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		a.ID, a.Type, a.Severity, a.Status, a.StudentID, a.SessionID, body, a.Version, a.CreatedAt, a.UpdatedAt)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return store.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("save alert: %w", err)
	}
	return nil
}

// GetAlert returns store.ErrNotFound for an unknown id.
func (s *Store) GetAlert(ctx context.Context, id string) (domain.FraudAlert, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM fraud_alerts WHERE id = $1`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.FraudAlert{}, store.ErrNotFound
	}
	if err != nil {
		return domain.FraudAlert{}, fmt.Errorf("get alert: %w", err)
	}
	return decodeAlert(body)
}

// UpdateAlert writes a only if the stored version equals expectedVersion.
func (s *Store) UpdateAlert(ctx context.Context, a domain.FraudAlert, expectedVersion int) error {
	body, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
        UPDATE fraud_alerts
           SET severity = $3, status = $4, payload = $5, version = $6, updated_at = $7
         WHERE id = $1 AND version = $2`,
		a.ID, expectedVersion, a.Severity, a.Status, body, a.Version, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update alert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update alert: %w", err)
	}
	if n == 1 {
		return nil
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM fraud_alerts WHERE id = $1)`, a.ID).Scan(&exists); err != nil {
		return fmt.Errorf("update alert: %w", err)
	}
	if !exists {
		return store.ErrNotFound
	}
	return store.ErrConflict
}

// ListAlerts returns matching alerts, newest first. An empty filter field
// matches everything; a zero limit returns all rows.
func (s *Store) ListAlerts(ctx context.Context, f store.AlertFilter) ([]domain.FraudAlert, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT payload
          FROM fraud_alerts
         WHERE ($1 = '' OR status = $1)
           AND ($2 = '' OR type = $2)
           AND ($3 = '' OR student_id = $3)
           AND ($4 = '' OR session_id = $4)
         ORDER BY created_at DESC, id DESC
         LIMIT NULLIF($5, 0)`,
		string(f.Status), string(f.Type), f.StudentID, f.SessionID, f.Limit)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	var out []domain.FraudAlert
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("list alerts: %w", err)
		}
		a, err := decodeAlert(body)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func decodeAlert(body []byte) (domain.FraudAlert, error) {
	var a domain.FraudAlert
	if err := json.Unmarshal(body, &a); err != nil {
		return domain.FraudAlert{}, fmt.Errorf("decode alert: %w", err)
	}
	return a, nil
}
