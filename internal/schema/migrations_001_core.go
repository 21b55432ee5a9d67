package schema

import (
	"context"
	"database/sql"
)

// coreMigration creates the tables, indexes, and triggers that back the
// bulk of the state store: epics, stories, sprints, assignments,
// workflow executions, the audit trail, and the learning index.
type coreMigration struct{}

func (coreMigration) Version() int        { return 1 }
func (coreMigration) Description() string { return "create core tables, indexes, and triggers" }

func (coreMigration) Up(ctx context.Context, tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS epics (
			epic_num         INTEGER PRIMARY KEY,
			name             TEXT NOT NULL,
			feature          TEXT NOT NULL,
			status           TEXT NOT NULL DEFAULT 'planned'
				CHECK (status IN ('planned','active','completed','cancelled')),
			total_points     INTEGER NOT NULL DEFAULT 0,
			completed_points INTEGER NOT NULL DEFAULT 0,
			file_path        TEXT,
			content_hash     TEXT,
			created_at       TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at       TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS stories (
			epic_num     INTEGER NOT NULL,
			story_num    INTEGER NOT NULL,
			title        TEXT NOT NULL,
			status       TEXT NOT NULL DEFAULT 'pending'
				CHECK (status IN ('pending','in_progress','done','blocked','cancelled')),
			priority     TEXT NOT NULL DEFAULT 'P1'
				CHECK (priority IN ('P0','P1','P2','P3')),
			points       INTEGER NOT NULL DEFAULT 0 CHECK (points >= 0),
			owner        TEXT,
			content_hash TEXT,
			created_at   TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at   TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (epic_num, story_num),
			FOREIGN KEY (epic_num) REFERENCES epics(epic_num)
				ON DELETE CASCADE ON UPDATE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS sprints (
			sprint_num INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			start_date TEXT NOT NULL,
			end_date   TEXT NOT NULL,
			status     TEXT NOT NULL DEFAULT 'planned'
				CHECK (status IN ('planned','active','completed','cancelled')),
			CHECK (end_date > start_date)
		)`,
		`CREATE TABLE IF NOT EXISTS story_assignments (
			sprint_num INTEGER NOT NULL,
			epic_num   INTEGER NOT NULL,
			story_num  INTEGER NOT NULL,
			assigned_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (epic_num, story_num),
			FOREIGN KEY (sprint_num) REFERENCES sprints(sprint_num) ON DELETE CASCADE,
			FOREIGN KEY (epic_num, story_num) REFERENCES stories(epic_num, story_num)
				ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS workflow_executions (
			workflow_id  TEXT PRIMARY KEY,
			epic_num     INTEGER,
			story_num    INTEGER,
			name         TEXT NOT NULL,
			status       TEXT NOT NULL DEFAULT 'started'
				CHECK (status IN ('started','running','completed','failed','cancelled')),
			started_at   TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
			completed_at TEXT,
			duration_ms  INTEGER,
			output       TEXT,
			error        TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS state_changes (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			table_name TEXT NOT NULL,
			record_id  TEXT NOT NULL,
			field      TEXT NOT NULL,
			old_value  TEXT,
			new_value  TEXT,
			changed_by TEXT,
			changed_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
			reason     TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS learnings (
			id                TEXT PRIMARY KEY,
			topic             TEXT NOT NULL,
			category          TEXT NOT NULL,
			text              TEXT NOT NULL,
			confidence_score  REAL NOT NULL DEFAULT 0 CHECK (confidence_score BETWEEN 0 AND 1),
			success_rate      REAL NOT NULL DEFAULT 0 CHECK (success_rate BETWEEN 0 AND 1),
			application_count INTEGER NOT NULL DEFAULT 0,
			decay_factor      REAL NOT NULL DEFAULT 1.0 CHECK (decay_factor BETWEEN 0.5 AND 1.0),
			status            TEXT NOT NULL DEFAULT 'active'
				CHECK (status IN ('active','inactive','superseded')),
			superseded_by     TEXT REFERENCES learnings(id),
			indexed_at        TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
			metadata          TEXT NOT NULL DEFAULT '{}',
			CHECK (status != 'superseded' OR superseded_by IS NOT NULL)
		)`,
		`CREATE TABLE IF NOT EXISTS learning_applications (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			learning_id TEXT NOT NULL REFERENCES learnings(id) ON DELETE CASCADE,
			applied_at  TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
			outcome     TEXT
		)`,

		`CREATE INDEX IF NOT EXISTS idx_stories_status ON stories(status)`,
		`CREATE INDEX IF NOT EXISTS idx_stories_epic ON stories(epic_num)`,
		`CREATE INDEX IF NOT EXISTS idx_stories_priority ON stories(priority)`,
		`CREATE INDEX IF NOT EXISTS idx_stories_owner ON stories(owner)`,
		`CREATE INDEX IF NOT EXISTS idx_stories_status_epic_priority ON stories(status, epic_num, priority)`,
		`CREATE INDEX IF NOT EXISTS idx_epics_status ON epics(status)`,
		`CREATE INDEX IF NOT EXISTS idx_epics_feature ON epics(feature)`,
		`CREATE INDEX IF NOT EXISTS idx_sprints_status ON sprints(status)`,
		`CREATE INDEX IF NOT EXISTS idx_sprints_dates ON sprints(start_date, end_date)`,
		`CREATE INDEX IF NOT EXISTS idx_assignments_sprint ON story_assignments(sprint_num)`,
		`CREATE INDEX IF NOT EXISTS idx_assignments_story ON story_assignments(epic_num, story_num)`,
		`CREATE INDEX IF NOT EXISTS idx_workflow_name ON workflow_executions(name)`,
		`CREATE INDEX IF NOT EXISTS idx_workflow_status ON workflow_executions(status)`,
		`CREATE INDEX IF NOT EXISTS idx_workflow_story ON workflow_executions(epic_num, story_num)`,
		`CREATE INDEX IF NOT EXISTS idx_state_changes_record ON state_changes(table_name, record_id)`,
		`CREATE INDEX IF NOT EXISTS idx_learnings_category ON learnings(category, status)`,
		`CREATE INDEX IF NOT EXISTS idx_learning_applications_applied ON learning_applications(applied_at)`,

		// Invariant 9: updated_at refreshed on every row UPDATE.
		`CREATE TRIGGER IF NOT EXISTS trg_epics_touch AFTER UPDATE ON epics
		 WHEN NEW.updated_at = OLD.updated_at
		 BEGIN
			UPDATE epics SET updated_at = CURRENT_TIMESTAMP WHERE epic_num = NEW.epic_num;
		 END`,
		`CREATE TRIGGER IF NOT EXISTS trg_stories_touch AFTER UPDATE ON stories
		 WHEN NEW.updated_at = OLD.updated_at
		 BEGIN
			UPDATE stories SET updated_at = CURRENT_TIMESTAMP
			WHERE epic_num = NEW.epic_num AND story_num = NEW.story_num;
		 END`,

		// Invariant 7: a status transition on epics/stories/sprints writes
		// exactly one state_changes row; direct inserts do not.
		`CREATE TRIGGER IF NOT EXISTS trg_epics_status_audit AFTER UPDATE OF status ON epics
		 BEGIN
			INSERT INTO state_changes (table_name, record_id, field, old_value, new_value)
			VALUES ('epics', CAST(NEW.epic_num AS TEXT), 'status', OLD.status, NEW.status);
		 END`,
		`CREATE TRIGGER IF NOT EXISTS trg_stories_status_audit AFTER UPDATE OF status ON stories
		 BEGIN
			INSERT INTO state_changes (table_name, record_id, field, old_value, new_value)
			VALUES ('stories', NEW.epic_num || '.' || NEW.story_num, 'status', OLD.status, NEW.status);
		 END`,
		`CREATE TRIGGER IF NOT EXISTS trg_sprints_status_audit AFTER UPDATE OF status ON sprints
		 BEGIN
			INSERT INTO state_changes (table_name, record_id, field, old_value, new_value)
			VALUES ('sprints', CAST(NEW.sprint_num AS TEXT), 'status', OLD.status, NEW.status);
		 END`,

		// Invariant 6: Epic.completed_points recomputed when a Story
		// transitions to or from 'done'.
		`CREATE TRIGGER IF NOT EXISTS trg_story_done_points_up AFTER UPDATE OF status ON stories
		 WHEN NEW.status = 'done' AND OLD.status != 'done'
		 BEGIN
			UPDATE epics SET completed_points = completed_points + NEW.points
			WHERE epic_num = NEW.epic_num;
		 END`,
		`CREATE TRIGGER IF NOT EXISTS trg_story_done_points_down AFTER UPDATE OF status ON stories
		 WHEN OLD.status = 'done' AND NEW.status != 'done'
		 BEGIN
			UPDATE epics SET completed_points = completed_points - OLD.points
			WHERE epic_num = NEW.epic_num;
		 END`,
	}

	for _, s := range stmts {
		if _, err := tx.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	return nil
}
