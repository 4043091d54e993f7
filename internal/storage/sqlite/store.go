// Package sqlite implements session persistence over SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/openparlor/parlor/internal/coord/phase"
	"github.com/openparlor/parlor/internal/coord/session"
	sqlitemigrate "github.com/openparlor/parlor/internal/platform/storage/sqlitemigrate"
	"github.com/openparlor/parlor/internal/storage"
	"github.com/openparlor/parlor/internal/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// toMillis normalizes timestamps into millisecond precision for storage.
func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

// fromMillis restores millisecond precision and keeps UTC normalization.
func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Store implements coordination persistence over SQLite.
//
// A single SQLite file backs every session so a restarted coordinator can
// reload active sessions and re-arm their deadline timers from one place.
type Store struct {
	sqlDB *sql.DB
}

// DB returns the raw database handle.
func (s *Store) DB() *sql.DB {
	if s == nil {
		return nil
	}
	return s.sqlDB
}

// Open opens a session SQLite store and applies bundled migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	store := &Store{sqlDB: sqlDB}

	if err := store.runMigrations(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return store, nil
}

// Close releases the underlying SQLite database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// runMigrations applies embedded DDL snapshots for known schema versions.
func (s *Store) runMigrations() error {
	return sqlitemigrate.Apply(context.Background(), s.sqlDB, migrations.FS, "")
}

// PutSession upserts a session record. Roster and readiness travel as JSON
// blobs because the coordinator always loads and stores them whole.
func (s *Store) PutSession(ctx context.Context, sess session.Session) error {
	if strings.TrimSpace(sess.ID) == "" {
		return fmt.Errorf("session id is required")
	}

	participants, err := json.Marshal(sess.Participants)
	if err != nil {
		return fmt.Errorf("marshal participants: %w", err)
	}
	readiness, err := json.Marshal(sess.Readiness)
	if err != nil {
		return fmt.Errorf("marshal readiness: %w", err)
	}
	firedWarnings, err := json.Marshal(sess.FiredWarnings)
	if err != nil {
		return fmt.Errorf("marshal fired warnings: %w", err)
	}

	var deadline sql.NullInt64
	if sess.Deadline != nil {
		deadline = sql.NullInt64{Int64: toMillis(*sess.Deadline), Valid: true}
	}
	active := 0
	if sess.Active {
		active = 1
	}

	_, err = s.sqlDB.ExecContext(ctx, `
INSERT INTO sessions (
	id,
	phase,
	round,
	deadline_at,
	participants_json,
	readiness_json,
	fired_warnings_json,
	active,
	created_at,
	updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	phase = excluded.phase,
	round = excluded.round,
	deadline_at = excluded.deadline_at,
	participants_json = excluded.participants_json,
	readiness_json = excluded.readiness_json,
	fired_warnings_json = excluded.fired_warnings_json,
	active = excluded.active,
	updated_at = excluded.updated_at
`,
		sess.ID,
		string(sess.Phase),
		sess.Round,
		deadline,
		string(participants),
		string(readiness),
		string(firedWarnings),
		active,
		toMillis(sess.CreatedAt),
		toMillis(sess.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("put session: %w", err)
	}
	return nil
}

const sessionColumns = `
id,
phase,
round,
deadline_at,
participants_json,
readiness_json,
fired_warnings_json,
active,
created_at,
updated_at
`

// GetSession loads a session record by ID.
func (s *Store) GetSession(ctx context.Context, id string) (session.Session, error) {
	row := s.sqlDB.QueryRowContext(ctx,
		"SELECT "+sessionColumns+" FROM sessions WHERE id = ?", id)
	sess, err := scanSession(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return session.Session{}, storage.ErrNotFound
		}
		return session.Session{}, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// ListActiveSessions returns every session still marked active, oldest first.
func (s *Store) ListActiveSessions(ctx context.Context) ([]session.Session, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		"SELECT "+sessionColumns+" FROM sessions WHERE active = 1 ORDER BY created_at ASC")
	if err != nil {
		return nil, fmt.Errorf("list active sessions: %w", err)
	}
	defer rows.Close()

	var sessions []session.Session
	for rows.Next() {
		sess, err := scanSession(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// DeleteSession removes a session record.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	result, err := s.sqlDB.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete session rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func scanSession(scan func(dest ...any) error) (session.Session, error) {
	var sess session.Session
	var rawPhase string
	var deadline sql.NullInt64
	var participants string
	var readiness string
	var firedWarnings string
	var active int
	var createdAt int64
	var updatedAt int64

	if err := scan(
		&sess.ID,
		&rawPhase,
		&sess.Round,
		&deadline,
		&participants,
		&readiness,
		&firedWarnings,
		&active,
		&createdAt,
		&updatedAt,
	); err != nil {
		return session.Session{}, err
	}

	parsed, ok := phase.Parse(rawPhase)
	if !ok {
		return session.Session{}, fmt.Errorf("unknown stored phase %q", rawPhase)
	}
	sess.Phase = parsed

	if deadline.Valid {
		value := fromMillis(deadline.Int64)
		sess.Deadline = &value
	}
	if err := json.Unmarshal([]byte(participants), &sess.Participants); err != nil {
		return session.Session{}, fmt.Errorf("unmarshal participants: %w", err)
	}
	if err := json.Unmarshal([]byte(readiness), &sess.Readiness); err != nil {
		return session.Session{}, fmt.Errorf("unmarshal readiness: %w", err)
	}
	if err := json.Unmarshal([]byte(firedWarnings), &sess.FiredWarnings); err != nil {
		return session.Session{}, fmt.Errorf("unmarshal fired warnings: %w", err)
	}
	sess.Active = active != 0
	sess.CreatedAt = fromMillis(createdAt)
	sess.UpdatedAt = fromMillis(updatedAt)
	return sess, nil
}

var _ storage.SessionStore = (*Store)(nil)
