// Package redisstore keeps device records and recent attempts in Redis.
//
// Layout, every key under the configured prefix:
//
//	devices:<student>          hash   fingerprint id -> DeviceRecord JSON
//	attempt:<id>               string ScoredAttempt JSON, expires after retention
//	attempts:student:<student> zset   attempt ids scored by unix millis
//	attempts:session:<session> zset   attempt ids scored by unix millis
//	attempts:all               zset   attempt ids scored by unix millis
//
// Sorted sets are trimmed to the retention window on every write.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mido2666/Smart-Campus-Assistant-v-1.1-main-sub002/internal/domain"
	"github.com/mido2666/Smart-Campus-Assistant-v-1.1-main-sub002/internal/store"
)

// DefaultRetention bounds how long attempts are kept.
const DefaultRetention = 7 * 24 * time.Hour

// Connect parses a redis:// URI, applies pool settings and pings the server.
func Connect(ctx context.Context, uri string) (*redis.Client, error) {
	opt, err := redis.ParseURL(uri)
	if err != nil {
		return nil, fmt.Errorf("parse redis uri: %w", err)
	}
	opt.PoolSize = 10
	opt.MinIdleConns = 5
	opt.MaxRetries = 3
	opt.DialTimeout = 5 * time.Second
	opt.ReadTimeout = 3 * time.Second
	opt.WriteTimeout = 3 * time.Second
	opt.PoolTimeout = 4 * time.Second
	opt.ConnMaxIdleTime = 5 * time.Minute

	client := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// Store implements store.DeviceStore and store.AttemptStore.
type Store struct {
	rdb       redis.UniversalClient
	prefix    string
	retention time.Duration
}

// New wraps a client. A non-positive retention uses DefaultRetention.
func New(rdb redis.UniversalClient, prefix string, retention time.Duration) *Store {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Store{rdb: rdb, prefix: prefix, retention: retention}
}

var (
	_ store.DeviceStore  = (*Store)(nil)
	_ store.AttemptStore = (*Store)(nil)
)

func (s *Store) key(parts ...string) string {
	k := s.prefix
	for _, p := range parts {
		if k != "" {
			k += ":"
		}
		k += p
	}
	return k
}

// ─── Devices ──────────────────────────────────────────────────────────────────

// DevicesByStudent returns the student's records, most recently seen first.
func (s *Store) DevicesByStudent(ctx context.Context, studentID string) ([]domain.DeviceRecord, error) {
	raw, err := s.rdb.HGetAll(ctx, s.key("devices", studentID)).Result()
	if err != nil {
		return nil, fmt.Errorf("load devices: %w", err)
	}
	out := make([]domain.DeviceRecord, 0, len(raw))
	for _, v := range raw {
		var rec domain.DeviceRecord
		if err := json.Unmarshal([]byte(v), &rec); err != nil {
			return nil, fmt.Errorf("decode device: %w", err)
		}
		out = append(out, rec)
	}
	sortDevices(out)
	return out, nil
}

// UpsertDevice merges rec into the stored record inside a WATCH transaction
// so FirstSeen survives concurrent check-ins from the same device.
func (s *Store) UpsertDevice(ctx context.Context, rec domain.DeviceRecord) error {
	key := s.key("devices", rec.StudentID)
	field := rec.Fingerprint.ID

	txn := func(tx *redis.Tx) error {
		prev, err := tx.HGet(ctx, key, field).Result()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			var old domain.DeviceRecord
			if err := json.Unmarshal([]byte(prev), &old); err == nil {
				rec.FirstSeen = old.FirstSeen
				if rec.LastSeen.Before(old.LastSeen) {
					rec.LastSeen = old.LastSeen
				}
			}
		}
		body, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.HSet(ctx, key, field, body)
			return nil
		})
		return err
	}

	for range 3 {
		err := s.rdb.Watch(ctx, txn, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("upsert device: %w", err)
		}
		return nil
	}
	return fmt.Errorf("upsert device: %w", store.ErrConflict)
}

// ─── Attempts ─────────────────────────────────────────────────────────────────

// SaveAttempt stores the attempt and indexes it. Returns store.ErrDuplicate if
// the ID already exists.
func (s *Store) SaveAttempt(ctx context.Context, a domain.ScoredAttempt) error {
	body, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode attempt: %w", err)
	}
	ok, err := s.rdb.SetNX(ctx, s.key("attempt", a.ID), body, s.retention).Result()
	if err != nil {
		return fmt.Errorf("save attempt: %w", err)
	}
	if !ok {
		return store.ErrDuplicate
	}

	score := float64(a.Timestamp.UnixMilli())
	cutoff := strconv.FormatInt(a.Timestamp.Add(-s.retention).UnixMilli(), 10)
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, idx := range []string{
			s.key("attempts", "student", a.StudentID),
			s.key("attempts", "session", a.SessionID),
			s.key("attempts", "all"),
		} {
			p.ZAdd(ctx, idx, redis.Z{Score: score, Member: a.ID})
			p.ZRemRangeByScore(ctx, idx, "-inf", "("+cutoff)
			p.Expire(ctx, idx, s.retention)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("index attempt: %w", err)
	}
	return nil
}

// AttemptsByStudent returns the student's attempts at or after since.
func (s *Store) AttemptsByStudent(ctx context.Context, studentID string, since time.Time) ([]domain.ScoredAttempt, error) {
	return s.rangeAttempts(ctx, s.key("attempts", "student", studentID), since)
}

// AttemptsBySession returns the session's attempts at or after since.
func (s *Store) AttemptsBySession(ctx context.Context, sessionID string, since time.Time) ([]domain.ScoredAttempt, error) {
	return s.rangeAttempts(ctx, s.key("attempts", "session", sessionID), since)
}

// AttemptsSince returns every retained attempt at or after since.
func (s *Store) AttemptsSince(ctx context.Context, since time.Time) ([]domain.ScoredAttempt, error) {
	return s.rangeAttempts(ctx, s.key("attempts", "all"), since)
}

func (s *Store) rangeAttempts(ctx context.Context, index string, since time.Time) ([]domain.ScoredAttempt, error) {
	ids, err := s.rdb.ZRangeByScore(ctx, index, &redis.ZRangeBy{
		Min: strconv.FormatInt(since.UnixMilli(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("range attempts: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.key("attempt", id)
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load attempts: %w", err)
	}
	out := make([]domain.ScoredAttempt, 0, len(vals))
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue // expired between the range and the load
		}
		var a domain.ScoredAttempt
		if err := json.Unmarshal([]byte(str), &a); err != nil {
			return nil, fmt.Errorf("decode attempt: %w", err)
		}
		out = append(out, a)
	}
	return out, nil
}

func sortDevices(recs []domain.DeviceRecord) {
	slices.SortFunc(recs, func(a, b domain.DeviceRecord) int { return b.LastSeen.Compare(a.LastSeen) })
}
