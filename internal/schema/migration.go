// Package schema owns the physical database shape: tables, indexes,
// triggers, constraints, and the versioned, idempotent migrations that
// create and evolve them. It also validates an existing store against
// the expected shape.
package schema

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
)

// Migration is a single versioned, idempotent schema change.
type Migration interface {
	// Version is a positive integer; migrations apply in ascending order.
	Version() int
	// Description is a one-line summary recorded in schema_version.
	Description() string
	// Up applies the migration. Implementations must be safe to call
	// against a database that already has this version applied, though
	// the runner only calls Up for versions not yet recorded.
	Up(ctx context.Context, tx *sql.Tx) error
}

// All returns the full ordered set of migrations this build knows about.
func All() []Migration {
	ms := []Migration{
		coreMigration{},
		featuresMigration{},
		unifyMigration{},
	}
	sort.Slice(ms, func(i, j int) bool { return ms[i].Version() < ms[j].Version() })
	return ms
}

// Apply runs every migration in All() whose version is not yet present
// in schema_version, each inside its own transaction.
func Apply(ctx context.Context, db *sql.DB) error {
	if err := ensureVersionTable(ctx, db); err != nil {
		return fmt.Errorf("schema: ensure version table: %w", err)
	}
	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return fmt.Errorf("schema: read applied versions: %w", err)
	}
	for _, m := range All() {
		if applied[m.Version()] {
			continue
		}
		if err := applyOne(ctx, db, m); err != nil {
			return fmt.Errorf("schema: migration %d (%s): %w", m.Version(), m.Description(), err)
		}
	}
	return nil
}

func applyOne(ctx context.Context, db *sql.DB, m Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := m.Up(ctx, tx); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_version (version, description, applied_at) VALUES (?, ?, CURRENT_TIMESTAMP)`,
		m.Version(), m.Description()); err != nil {
		return err
	}
	return tx.Commit()
}

func ensureVersionTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  TEXT NOT NULL
		)
	`)
	return err
}

func appliedVersions(ctx context.Context, db *sql.DB) (map[int]bool, error) {
	rows, err := db.QueryContext(ctx, `SELECT version FROM schema_version`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := map[int]bool{}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out[v] = true
	}
	return out, rows.Err()
}

// hasColumn reports whether table has a column named col, using
// PRAGMA table_info so migrations can add columns idempotently.
func hasColumn(ctx context.Context, tx *sql.Tx, table, col string) (bool, error) {
	rows, err := tx.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notNull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
			return false, err
		}
		if name == col {
			return true, nil
		}
	}
	return false, rows.Err()
}

func tableExists(ctx context.Context, tx *sql.Tx, name string) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, name).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
