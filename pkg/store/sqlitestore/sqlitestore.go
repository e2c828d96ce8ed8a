// Package sqlitestore persists reasoning sessions in SQLite.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/zen-systems/thinkgate/pkg/mode"
	"github.com/zen-systems/thinkgate/pkg/record"
)

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id          TEXT PRIMARY KEY,
	query       TEXT NOT NULL,
	mode        TEXT NOT NULL,
	tier        TEXT NOT NULL,
	status      TEXT NOT NULL,
	step_count  INTEGER NOT NULL,
	tokens_used INTEGER NOT NULL,
	degraded    INTEGER NOT NULL DEFAULT 0,
	created_at  TEXT NOT NULL,
	sealed_at   TEXT,
	body        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_created_at ON sessions(created_at);
CREATE TABLE IF NOT EXISTS feedback (
	session_id  TEXT PRIMARY KEY REFERENCES sessions(id) ON DELETE CASCADE,
	rating      INTEGER NOT NULL CHECK (rating BETWEEN 1 AND 5),
	recorded_at TEXT NOT NULL
);
`

// Store is a record.Store over a SQLite database.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens the database at path and applies the schema. Use ":memory:"
// for a private in-process database.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("database path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=ON&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// One connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, path: path}
	if err := s.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates tables that do not exist yet.
func (s *Store) Migrate() error {
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Path returns the database path.
func (s *Store) Path() string {
	return s.path
}

// Persist upserts the session record.
func (s *Store) Persist(ctx context.Context, sess *record.Session) error {
	if err := record.CheckPersistable(sess); err != nil {
		return err
	}
	snap := sess.Clone()
	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	var sealedAt any
	if snap.SealedAt != nil {
		sealedAt = snap.SealedAt.Format(timeLayout)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, query, mode, tier, status, step_count, tokens_used, degraded, created_at, sealed_at, body)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			query = excluded.query, mode = excluded.mode, tier = excluded.tier,
			status = excluded.status, step_count = excluded.step_count,
			tokens_used = excluded.tokens_used, degraded = excluded.degraded,
			created_at = excluded.created_at, sealed_at = excluded.sealed_at, body = excluded.body`,
		snap.ID, snap.Query, string(snap.Decision.Mode), string(snap.Budget.Tier), string(snap.Outcome.Status),
		snap.Outcome.StepCount, snap.Outcome.TokensUsed, snap.Outcome.Degraded,
		snap.CreatedAt.UTC().Format(timeLayout), sealedAt, string(body))
	if err != nil {
		return fmt.Errorf("insert session %s: %w", snap.ID, err)
	}
	return nil
}

// Get loads a session and merges its feedback.
func (s *Store) Get(ctx context.Context, id string) (*record.Session, error) {
	var body string
	var rating sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT s.body, f.rating
		FROM sessions s LEFT JOIN feedback f ON f.session_id = s.id
		WHERE s.id = ?`, id).Scan(&body, &rating)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, record.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query session %s: %w", id, err)
	}

	var sess record.Session
	if err := json.Unmarshal([]byte(body), &sess); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	if rating.Valid {
		return sess.WithFeedback(int(rating.Int64)), nil
	}
	return &sess, nil
}

// List returns summaries, newest first, from the indexed columns.
func (s *Store) List(ctx context.Context, limit int) ([]record.Summary, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.query, s.mode, s.tier, s.status, s.step_count, s.tokens_used, s.degraded, s.created_at, f.rating
		FROM sessions s LEFT JOIN feedback f ON f.session_id = s.id
		ORDER BY s.created_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []record.Summary
	for rows.Next() {
		var (
			sum       record.Summary
			modeName  string
			status    string
			createdAt string
			rating    sql.NullInt64
		)
		if err := rows.Scan(&sum.ID, &sum.Query, &modeName, &sum.Tier, &status, &sum.StepCount,
			&sum.TokensUsed, &sum.Degraded, &createdAt, &rating); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sum.Mode = mode.Mode(modeName)
		sum.Status = record.Status(status)
		if sum.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
			return nil, fmt.Errorf("parse created_at for %s: %w", sum.ID, err)
		}
		if rating.Valid {
			r := int(rating.Int64)
			sum.Feedback = &r
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// RecordFeedback upserts the rating row for a persisted session.
func (s *Store) RecordFeedback(ctx context.Context, id string, rating int) error {
	if err := record.ValidateRating(rating); err != nil {
		return err
	}
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return record.ErrNotFound
	}
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO feedback (session_id, rating, recorded_at) VALUES (?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET rating = excluded.rating, recorded_at = excluded.recorded_at`,
		id, rating, time.Now().UTC().Format(timeLayout))
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
