// Package sqlitemigrate applies embedded SQL migrations to a SQLite database.
//
// Migrations are plain .sql files applied in lexical filename order. A file
// may carry "-- +migrate Up" and "-- +migrate Down" markers; only the Up
// section runs. Applied filenames are recorded in a tracking table so a
// restart replays nothing.
package sqlitemigrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"
)

const trackingTable = "schema_migrations"

const (
	upMarker   = "-- +migrate Up"
	downMarker = "-- +migrate Down"
)

// Apply runs every pending migration found in fsys under dir. An empty dir
// means the filesystem root. Each file runs inside its own transaction and is
// recorded only when it commits.
func Apply(ctx context.Context, db *sql.DB, fsys fs.FS, dir string) error {
	if db == nil {
		return errors.New("sql db is required")
	}
	dir = strings.TrimSpace(dir)
	if dir == "" {
		dir = "."
	}

	files, err := fs.Glob(fsys, path.Join(dir, "*.sql"))
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(files)

	if _, err := db.ExecContext(ctx,
		"CREATE TABLE IF NOT EXISTS "+trackingTable+" (name TEXT PRIMARY KEY, applied_at INTEGER NOT NULL)",
	); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	for _, file := range files {
		done, err := recorded(ctx, db, file)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", file, err)
		}
		if done {
			continue
		}

		content, err := fs.ReadFile(fsys, file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}
		statements := UpSection(string(content))
		if strings.TrimSpace(statements) == "" {
			continue
		}

		if err := applyOne(ctx, db, file, statements); err != nil {
			return fmt.Errorf("apply migration %s: %w", file, err)
		}
	}

	return nil
}

func applyOne(ctx context.Context, db *sql.DB, name, statements string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, statements); err != nil && !objectExistsError(err) {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT OR IGNORE INTO "+trackingTable+" (name, applied_at) VALUES (?, ?)",
		name, time.Now().UTC().UnixMilli(),
	); err != nil {
		return fmt.Errorf("record: %w", err)
	}
	return tx.Commit()
}

// UpSection returns the statements between the Up marker and the Down marker.
// Files without markers are treated as all-Up.
func UpSection(content string) string {
	up := strings.Index(content, upMarker)
	if up == -1 {
		return content
	}
	rest := content[up+len(upMarker):]
	if down := strings.Index(rest, downMarker); down != -1 {
		return rest[:down]
	}
	return rest
}

// objectExistsError reports whether DDL failed only because the object it
// creates is already present, which happens when a migration ran before the
// tracking table recorded it.
func objectExistsError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already exists") || strings.Contains(msg, "duplicate column name")
}

func recorded(ctx context.Context, db *sql.DB, name string) (bool, error) {
	var one int
	err := db.QueryRowContext(ctx,
		"SELECT 1 FROM "+trackingTable+" WHERE name = ?", name,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
