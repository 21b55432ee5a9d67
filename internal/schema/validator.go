package schema

import (
	"context"
	"database/sql"
	"fmt"
)

var requiredTables = []string{
	"epics", "stories", "sprints", "story_assignments", "workflow_executions",
	"state_changes", "features", "features_audit", "learnings",
	"learning_applications", "schema_version",
}

var requiredIndexes = []string{
	"idx_stories_status", "idx_stories_epic", "idx_stories_priority", "idx_stories_owner",
	"idx_epics_status", "idx_epics_feature", "idx_sprints_status", "idx_sprints_dates",
	"idx_assignments_sprint", "idx_assignments_story", "idx_workflow_name",
	"idx_workflow_status", "idx_workflow_story", "idx_state_changes_record",
	"idx_learnings_category", "idx_learning_applications_applied",
}

var requiredTriggers = []string{
	"trg_epics_touch", "trg_stories_touch", "trg_epics_status_audit",
	"trg_stories_status_audit", "trg_sprints_status_audit",
	"trg_story_done_points_up", "trg_story_done_points_down",
}

var requiredColumns = map[string][]string{
	"epics": {
		"epic_num", "name", "feature", "status", "total_points",
		"completed_points", "file_path", "content_hash", "created_at", "updated_at",
	},
	"stories": {
		"epic_num", "story_num", "title", "status", "priority", "points",
		"owner", "content_hash", "created_at", "updated_at",
	},
	"sprints": {"sprint_num", "name", "start_date", "end_date", "status"},
}

// Result is the structured outcome of Validate.
type Result struct {
	TablesValid   bool
	IndexesValid  bool
	TriggersValid bool
	ColumnsValid  bool
	Errors        []string
	Warnings      []string
}

// IsValid reports whether every checked group passed with no errors.
func (r Result) IsValid() bool {
	return r.TablesValid && r.IndexesValid && r.TriggersValid && r.ColumnsValid && len(r.Errors) == 0
}

// Validate compares db's set of tables, indexes, triggers, and per-table
// column sets against the expected shape, returning errors for anything
// missing and warnings for extra tables and for extra columns on the
// column-checked tables. Extra indexes and extra triggers are not
// reported.
func Validate(ctx context.Context, db *sql.DB) (Result, error) {
	var res Result

	tables, err := namesOfType(ctx, db, "table")
	if err != nil {
		return res, err
	}
	res.TablesValid = true
	for _, want := range requiredTables {
		if !tables[want] {
			res.TablesValid = false
			res.Errors = append(res.Errors, fmt.Sprintf("missing table %q", want))
		}
	}
	for got := range tables {
		if !isKnownTable(got) {
			res.Warnings = append(res.Warnings, fmt.Sprintf("unexpected table %q", got))
		}
	}

	indexes, err := namesOfType(ctx, db, "index")
	if err != nil {
		return res, err
	}
	res.IndexesValid = true
	for _, want := range requiredIndexes {
		if !indexes[want] {
			res.IndexesValid = false
			res.Errors = append(res.Errors, fmt.Sprintf("missing index %q", want))
		}
	}

	triggers, err := namesOfType(ctx, db, "trigger")
	if err != nil {
		return res, err
	}
	res.TriggersValid = true
	for _, want := range requiredTriggers {
		if !triggers[want] {
			res.TriggersValid = false
			res.Errors = append(res.Errors, fmt.Sprintf("missing trigger %q", want))
		}
	}

	res.ColumnsValid = true
	for table, wantCols := range requiredColumns {
		if !tables[table] {
			continue // already reported as a missing table
		}
		got, err := columnsOf(ctx, db, table)
		if err != nil {
			return res, err
		}
		wantSet := map[string]bool{}
		for _, c := range wantCols {
			wantSet[c] = true
			if !got[c] {
				res.ColumnsValid = false
				res.Errors = append(res.Errors, fmt.Sprintf("table %q missing column %q", table, c))
			}
		}
		for c := range got {
			if !wantSet[c] {
				res.Warnings = append(res.Warnings, fmt.Sprintf("table %q has unexpected column %q", table, c))
			}
		}
	}

	return res, nil
}

func isKnownTable(name string) bool {
	known := map[string]bool{"workflow_context": true, "context_usage": true, "sqlite_sequence": true}
	if known[name] {
		return true
	}
	for _, t := range requiredTables {
		if t == name {
			return true
		}
	}
	return false
}

func namesOfType(ctx context.Context, db *sql.DB, typ string) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, `SELECT name FROM sqlite_master WHERE type = ?`, typ)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := map[string]bool{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out[name] = true
	}
	return out, rows.Err()
}

func columnsOf(ctx context.Context, db *sql.DB, table string) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := map[string]bool{}
	for rows.Next() {
		var cid int
		var name, ctype string
		var notNull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
			return nil, err
		}
		out[name] = true
	}
	return out, rows.Err()
}
