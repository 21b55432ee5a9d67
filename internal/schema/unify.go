package schema

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// unifyMigration registers the unify step's version in schema_version so
// Validate and the version table agree on the current shape. Its Up
// creates the workflow_context and context_usage tables when they are
// missing, both under Apply and at the start of Unify; the data copy
// itself (Unify) runs only when the importer invokes it.
type unifyMigration struct{}

func (unifyMigration) Version() int        { return 3 }
func (unifyMigration) Description() string { return "unify legacy databases (workflow_context, context_usage)" }

func (unifyMigration) Up(ctx context.Context, tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS workflow_context (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			workflow_id TEXT NOT NULL,
			key         TEXT NOT NULL,
			value       TEXT,
			created_at  TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS context_usage (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			context_id INTEGER,
			used_at    TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
			tokens     INTEGER
		)`,
	}
	for _, s := range stmts {
		if _, err := tx.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

// legacyTableColumns lists the tables this build knows how to migrate
// out of a legacy database file, and the column set the unified schema
// expects for each. Legacy files may carry a subset of these columns
// (schema drift); Unify copies only the intersection.
var legacyTableColumns = map[string][]string{
	"workflow_context": {"id", "workflow_id", "key", "value", "created_at"},
	"context_usage":    {"id", "context_id", "used_at", "tokens"},
}

// Unify merges one or more legacy database files into db. It is
// idempotent per table: a table already holding rows in db is left
// untouched. Downgrade is unsupported; recovery is by the optional
// backup this function writes before copying, when backupDir is
// non-empty.
func Unify(ctx context.Context, db *sql.DB, legacyPaths []string, backupDir string) error {
	if backupDir != "" {
		if err := backupLegacyFiles(legacyPaths, backupDir); err != nil {
			return fmt.Errorf("schema: unify backup: %w", err)
		}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `PRAGMA foreign_keys = OFF`); err != nil {
		return err
	}
	if err := (unifyMigration{}).Up(ctx, tx); err != nil {
		return fmt.Errorf("create unify tables: %w", err)
	}

	for i, path := range legacyPaths {
		alias := fmt.Sprintf("legacy%d", i)
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`ATTACH DATABASE ? AS %s`, alias), path); err != nil {
			return fmt.Errorf("attach %s: %w", path, err)
		}
		if err := copyLegacyTables(ctx, tx, alias); err != nil {
			_, _ = tx.ExecContext(ctx, fmt.Sprintf("DETACH DATABASE %s", alias))
			return err
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("DETACH DATABASE %s", alias)); err != nil {
			return fmt.Errorf("detach %s: %w", path, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
		return err
	}

	violations, err := integrityCheck(ctx, tx)
	if err != nil {
		return err
	}
	if len(violations) > 0 {
		// Log-and-continue per the unification contract: integrity
		// violations are surfaced, not fatal.
		for _, v := range violations {
			_, _ = tx.ExecContext(ctx,
				`INSERT INTO state_changes (table_name, record_id, field, old_value, new_value, reason)
				 VALUES ('unify', '', 'integrity', '', '', ?)`, v)
		}
	}

	return tx.Commit()
}

func copyLegacyTables(ctx context.Context, tx *sql.Tx, alias string) error {
	for table, wantCols := range legacyTableColumns {
		var n int
		if err := tx.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&n); err != nil {
			return err
		}
		if n > 0 {
			continue // already populated; unification is a no-op for this table
		}

		exists, err := tableExistsInSchema(ctx, tx, alias, table)
		if err != nil {
			return err
		}
		if !exists {
			continue
		}

		cols, err := legacyColumns(ctx, tx, alias, table, wantCols)
		if err != nil {
			return err
		}
		if len(cols) == 0 {
			continue
		}

		colList := joinCols(cols)
		q := fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s.%s", table, colList, colList, alias, table)
		if _, err := tx.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("copy %s from %s: %w", table, alias, err)
		}
	}
	return nil
}

func tableExistsInSchema(ctx context.Context, tx *sql.Tx, alias, table string) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM %s.sqlite_master WHERE type='table' AND name=?", alias),
		table).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func legacyColumns(ctx context.Context, tx *sql.Tx, alias, table string, want []string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, fmt.Sprintf("PRAGMA %s.table_info(%s)", alias, table))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	present := map[string]bool{}
	for rows.Next() {
		var cid int
		var name, ctype string
		var notNull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
			return nil, err
		}
		present[name] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var out []string
	for _, c := range want {
		if present[c] {
			out = append(out, c)
		}
	}
	return out, nil
}

func joinCols(cols []string) string {
	out := ""
	for i, c := range cols {
		if i > 0 {
			out += ", "
		}
		out += c
	}
	return out
}

func integrityCheck(ctx context.Context, tx *sql.Tx) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `PRAGMA foreign_key_check`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var violations []string
	for rows.Next() {
		var table string
		var rowid sql.NullInt64
		var parent string
		var fkid int
		if err := rows.Scan(&table, &rowid, &parent, &fkid); err != nil {
			return nil, err
		}
		violations = append(violations, fmt.Sprintf("%s -> %s (fkid %d, rowid %v)", table, parent, fkid, rowid))
	}
	return violations, rows.Err()
}

func backupLegacyFiles(paths []string, backupDir string) error {
	stamp := time.Now().UTC().Format("20060102_150405")
	dest := filepath.Join(backupDir, stamp)
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}
		if err := os.WriteFile(filepath.Join(dest, filepath.Base(p)), data, 0o644); err != nil {
			return err
		}
	}
	return nil
}
