// Package schemamigrate brings an on-disk ledger forward across schema
// versions with an ordered registry of step functions.
//
// Each registered step transforms exactly one version to the next and runs at
// most once under the persisted version guard. The whole multi-step sequence
// is all-or-nothing: the store file is snapshotted before the first step and
// restored verbatim when any step fails.
package schemamigrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/louisbranch/cueledger/internal/platform/backup"
)

const (
	versionTable = "dbinfo"
	versionKey   = "db_version"
)

// ErrStepMissing indicates a registered step is absent for a required
// version transition. This is a fatal configuration error, never a skip.
var ErrStepMissing = errors.New("migration step missing")

// Step transforms the store from one schema version to the next inside the
// supplied transaction. It must assume the exact shape left by the previous
// step.
type Step func(ctx context.Context, tx *sql.Tx) error

// StoredVersion reads the persisted schema version. A store without a dbinfo
// table or version row is version 0 (pre-versioning legacy layout).
func StoredVersion(ctx context.Context, db *sql.DB) (int, error) {
	var name string
	err := db.QueryRowContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, versionTable,
	).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("inspect schema: %w", err)
	}

	var value string
	err = db.QueryRowContext(ctx,
		`SELECT value FROM `+versionTable+` WHERE key = ?`, versionKey,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	version, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("parse schema version %q: %w", value, err)
	}
	return version, nil
}

// EnsureVersionTable creates the dbinfo table. Step 0 uses this to bootstrap
// versioning on legacy stores; fresh stores call it at creation time.
func EnsureVersionTable(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS `+versionTable+` (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
)`)
	if err != nil {
		return fmt.Errorf("create version table: %w", err)
	}
	return nil
}

// SetVersion persists the schema version inside the transaction.
func SetVersion(ctx context.Context, tx *sql.Tx, version int) error {
	_, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO `+versionTable+` (key, value) VALUES (?, ?)`,
		versionKey, strconv.Itoa(version),
	)
	if err != nil {
		return fmt.Errorf("set schema version %d: %w", version, err)
	}
	return nil
}

// Run migrates the store at path from its persisted version to target.
//
// A store already at target is left untouched. Otherwise Run snapshots the
// file into backupDir, applies each step in its own transaction (bumping the
// persisted version in that same transaction), and on any failure removes the
// partially migrated file, restores the snapshot, and returns the step error.
func Run(ctx context.Context, path string, steps map[int]Step, target int, backupDir string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("store path is required")
	}
	if target < 0 {
		return fmt.Errorf("target version %d is invalid", target)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("open store for migration: %w", err)
	}
	current, err := StoredVersion(ctx, db)
	if err != nil {
		_ = db.Close()
		return err
	}
	if current == target {
		return db.Close()
	}
	if current > target {
		_ = db.Close()
		return fmt.Errorf("store version %d is newer than target %d", current, target)
	}

	// Fail fast on registry gaps before touching any data.
	for v := current; v < target; v++ {
		if steps[v] == nil {
			_ = db.Close()
			return fmt.Errorf("%w: no step registered for v%d to v%d", ErrStepMissing, v, v+1)
		}
	}

	snapshot, err := backup.Create(path, backupDir, "premigration", time.Now())
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("snapshot store before migration: %w", err)
	}

	if err := applySteps(ctx, db, steps, current, target); err != nil {
		_ = db.Close()
		if removeErr := os.Remove(path); removeErr != nil {
			return fmt.Errorf("migration failed and partial store could not be removed: %w", errors.Join(err, removeErr))
		}
		if restoreErr := backup.Restore(snapshot, path); restoreErr != nil {
			return fmt.Errorf("migration failed and backup could not be restored: %w", errors.Join(err, restoreErr))
		}
		return fmt.Errorf("migrate store (restored from %s): %w", snapshot, err)
	}
	return db.Close()
}

func applySteps(ctx context.Context, db *sql.DB, steps map[int]Step, current, target int) error {
	for v := current; v < target; v++ {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration v%d: %w", v+1, err)
		}
		if err := steps[v](ctx, tx); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration v%d to v%d: %w", v, v+1, err)
		}
		if err := SetVersion(ctx, tx, v+1); err != nil {
			_ = tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", v+1, err)
		}
	}
	return nil
}
