package schema

import (
	"context"
	"database/sql"
)

// featuresMigration adds a named feature-flag table and its own audit
// trail, following the same append-only shape as state_changes.
type featuresMigration struct{}

func (featuresMigration) Version() int        { return 2 }
func (featuresMigration) Description() string { return "create features and features_audit tables" }

func (featuresMigration) Up(ctx context.Context, tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS features (
			name       TEXT PRIMARY KEY,
			enabled    INTEGER NOT NULL DEFAULT 0 CHECK (enabled IN (0,1)),
			notes      TEXT,
			updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS features_audit (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			name       TEXT NOT NULL,
			old_value  INTEGER,
			new_value  INTEGER,
			changed_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TRIGGER IF NOT EXISTS trg_features_touch AFTER UPDATE ON features
		 WHEN NEW.updated_at = OLD.updated_at
		 BEGIN
			UPDATE features SET updated_at = CURRENT_TIMESTAMP WHERE name = NEW.name;
		 END`,
		`CREATE TRIGGER IF NOT EXISTS trg_features_audit AFTER UPDATE OF enabled ON features
		 BEGIN
			INSERT INTO features_audit (name, old_value, new_value)
			VALUES (NEW.name, OLD.enabled, NEW.enabled);
		 END`,
	}
	for _, s := range stmts {
		if _, err := tx.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	return nil
}
