package schema

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

// newLegacyDB creates a standalone SQLite file at path holding a
// workflow_context table with a schema-drifted column set (missing
// "value") so Unify's column-intersection path is exercised.
func newLegacyDB(t *testing.T, path string) {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open legacy db: %v", err)
	}
	defer func() { _ = db.Close() }()

	stmts := []string{
		`CREATE TABLE workflow_context (
			id          INTEGER PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			key         TEXT NOT NULL,
			created_at  TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`INSERT INTO workflow_context (id, workflow_id, key) VALUES (1, 'wf-legacy-1', 'phase')`,
		`INSERT INTO workflow_context (id, workflow_id, key) VALUES (2, 'wf-legacy-1', 'owner')`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			t.Fatalf("legacy db setup %q: %v", s, err)
		}
	}
}

func TestUnifyCopiesLegacyRowsWithColumnIntersection(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	targetPath := filepath.Join(dir, "target.db")
	target, err := sql.Open("sqlite", targetPath)
	if err != nil {
		t.Fatalf("sql.Open target: %v", err)
	}
	defer func() { _ = target.Close() }()
	if err := Apply(ctx, target); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	legacyPath := filepath.Join(dir, "legacy-state.db")
	newLegacyDB(t, legacyPath)

	if err := Unify(ctx, target, []string{legacyPath}, ""); err != nil {
		t.Fatalf("Unify: %v", err)
	}

	var count int
	if err := target.QueryRowContext(ctx, `SELECT COUNT(*) FROM workflow_context`).Scan(&count); err != nil {
		t.Fatalf("count workflow_context: %v", err)
	}
	if count != 2 {
		t.Fatalf("workflow_context rows = %d, want 2", count)
	}

	var value sql.NullString
	if err := target.QueryRowContext(ctx,
		`SELECT value FROM workflow_context WHERE id = 1`).Scan(&value); err != nil {
		t.Fatalf("scan copied row: %v", err)
	}
	if value.Valid {
		t.Fatalf("value column = %q, want NULL since the legacy table never had one", value.String)
	}

	var key string
	if err := target.QueryRowContext(ctx,
		`SELECT key FROM workflow_context WHERE id = 1`).Scan(&key); err != nil {
		t.Fatalf("scan copied key: %v", err)
	}
	if key != "phase" {
		t.Fatalf("key = %q, want phase", key)
	}
}

func TestUnifyIsIdempotentPerTable(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	targetPath := filepath.Join(dir, "target.db")
	target, err := sql.Open("sqlite", targetPath)
	if err != nil {
		t.Fatalf("sql.Open target: %v", err)
	}
	defer func() { _ = target.Close() }()
	if err := Apply(ctx, target); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	legacyPath := filepath.Join(dir, "legacy-state.db")
	newLegacyDB(t, legacyPath)

	if err := Unify(ctx, target, []string{legacyPath}, ""); err != nil {
		t.Fatalf("first Unify: %v", err)
	}
	if err := Unify(ctx, target, []string{legacyPath}, ""); err != nil {
		t.Fatalf("second Unify: %v", err)
	}

	var count int
	if err := target.QueryRowContext(ctx, `SELECT COUNT(*) FROM workflow_context`).Scan(&count); err != nil {
		t.Fatalf("count workflow_context: %v", err)
	}
	if count != 2 {
		t.Fatalf("workflow_context rows after second Unify = %d, want 2 (already populated, left untouched)", count)
	}
}

func TestUnifyWritesTimestampedBackup(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	targetPath := filepath.Join(dir, "target.db")
	target, err := sql.Open("sqlite", targetPath)
	if err != nil {
		t.Fatalf("sql.Open target: %v", err)
	}
	defer func() { _ = target.Close() }()
	if err := Apply(ctx, target); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	legacyPath := filepath.Join(dir, "legacy-state.db")
	newLegacyDB(t, legacyPath)

	backupDir := filepath.Join(dir, "backups")
	if err := Unify(ctx, target, []string{legacyPath}, backupDir); err != nil {
		t.Fatalf("Unify: %v", err)
	}

	entries, err := os.ReadDir(backupDir)
	if err != nil {
		t.Fatalf("read backup dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("backup dir has %d entries, want 1 timestamped subdirectory", len(entries))
	}

	backedUp := filepath.Join(backupDir, entries[0].Name(), "legacy-state.db")
	if _, err := os.Stat(backedUp); err != nil {
		t.Fatalf("backed-up legacy file missing: %v", err)
	}
}
