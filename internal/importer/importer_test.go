package importer

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/gao-dev/gaodev/internal/config"
	"github.com/gao-dev/gaodev/internal/store"
)

const legacyYAML = `
sprint_name: Sprint Alpha
start_date: "2026-01-01"
epics:
  - epic_number: 15
    name: State Tracking
    status: active
    stories:
      - number: 1
        status: done
        name: "Schema migration (3 points)"
        owner: alice
      - number: 2
        status: bogus_status
        name: "Docs (2 points)"
`

func newTestStore(t *testing.T) (*store.Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "importer_test.db")
	ctx := context.Background()
	if err := store.Init(ctx, path); err != nil {
		t.Fatalf("store.Init: %v", err)
	}
	st, err := store.Open(ctx, config.StoreConfig{DBPath: path, LockTimeout: 5 * time.Second}, nil)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st, path
}

func writeYAML(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sprint-status.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write yaml: %v", err)
	}
	return path
}

func TestImportCreatesEpicsStoriesAndSprint(t *testing.T) {
	ctx := context.Background()
	st, _ := newTestStore(t)
	yamlPath := writeYAML(t, legacyYAML)

	im := New(st, nil)
	report, err := im.Import(ctx, Options{YAMLPath: yamlPath})
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if report.EpicsCreated != 1 || report.StoriesCreated != 2 || report.SprintsCreated != 1 {
		t.Fatalf("report = %+v, want 1 epic, 2 stories, 1 sprint", report)
	}

	epic, err := st.GetEpic(ctx, 15)
	if err != nil {
		t.Fatalf("GetEpic: %v", err)
	}
	if epic.Feature != "state-tracking" {
		t.Fatalf("Feature = %q, want kebab slug %q", epic.Feature, "state-tracking")
	}
	if epic.TotalPoints != 5 {
		t.Fatalf("TotalPoints = %d, want 5 (3+2 parsed from story names)", epic.TotalPoints)
	}

	story1, err := st.GetStory(ctx, 15, 1)
	if err != nil {
		t.Fatalf("GetStory 15.1: %v", err)
	}
	if story1.Points != 3 {
		t.Fatalf("story 15.1 Points = %d, want 3", story1.Points)
	}

	story2, err := st.GetStory(ctx, 15, 2)
	if err != nil {
		t.Fatalf("GetStory 15.2: %v", err)
	}
	if story2.Status != "pending" {
		t.Fatalf("story 15.2 Status = %q, want pending fallback for invalid legacy status", story2.Status)
	}
}

func TestImportDryRunWritesNothing(t *testing.T) {
	ctx := context.Background()
	st, _ := newTestStore(t)
	yamlPath := writeYAML(t, legacyYAML)

	im := New(st, nil)
	report, err := im.Import(ctx, Options{YAMLPath: yamlPath, DryRun: true})
	if err != nil {
		t.Fatalf("Import dry-run: %v", err)
	}
	if report.EpicsCreated != 1 || report.StoriesCreated != 2 {
		t.Fatalf("dry-run report = %+v, want counts without writing", report)
	}

	if _, err := st.GetEpic(ctx, 15); err == nil {
		t.Fatal("dry-run must not create any epic")
	}
}

func TestImportSkipsDuplicateEpicOnRerun(t *testing.T) {
	ctx := context.Background()
	st, _ := newTestStore(t)
	yamlPath := writeYAML(t, legacyYAML)

	im := New(st, nil)
	if _, err := im.Import(ctx, Options{YAMLPath: yamlPath}); err != nil {
		t.Fatalf("first Import: %v", err)
	}

	// Re-run against a second YAML file describing the same epic number,
	// to exercise the conflict-becomes-warning-not-error path.
	yamlPath2 := writeYAML(t, legacyYAML)
	report, err := im.Import(ctx, Options{YAMLPath: yamlPath2})
	if err != nil {
		t.Fatalf("second Import: %v", err)
	}
	if report.EpicsCreated != 0 {
		t.Fatalf("second run EpicsCreated = %d, want 0 (already exists)", report.EpicsCreated)
	}
	if len(report.Warnings) == 0 {
		t.Fatal("expected a warning about the already-existing epic")
	}
	if len(report.Errors) != 0 {
		t.Fatalf("duplicate epic should warn, not error: %v", report.Errors)
	}
}

func TestImportBackupAndRollbackOnFailure(t *testing.T) {
	ctx := context.Background()
	st, dbPath := newTestStore(t)

	badYAML := writeYAML(t, "not: [valid yaml")

	im := New(st, nil)
	_, err := im.Import(ctx, Options{DBPath: dbPath, YAMLPath: badYAML, Backup: true})
	if err == nil {
		t.Fatal("expected Import to fail on malformed YAML")
	}

	matches, globErr := filepath.Glob(filepath.Join(filepath.Dir(dbPath), ".backup_*.db"))
	if globErr != nil {
		t.Fatalf("glob backups: %v", globErr)
	}
	if len(matches) == 0 {
		t.Fatal("expected a backup file to have been created before the failed import")
	}
}

func TestImportUnifiesLegacyDatabase(t *testing.T) {
	ctx := context.Background()
	st, _ := newTestStore(t)

	legacyPath := filepath.Join(t.TempDir(), "gao-dev-state.db")
	legacyDB, err := sql.Open("sqlite", legacyPath)
	if err != nil {
		t.Fatalf("sql.Open legacy db: %v", err)
	}
	if _, err := legacyDB.Exec(`CREATE TABLE workflow_context (
		id          INTEGER PRIMARY KEY,
		workflow_id TEXT NOT NULL,
		key         TEXT NOT NULL,
		created_at  TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		t.Fatalf("create legacy table: %v", err)
	}
	if _, err := legacyDB.Exec(
		`INSERT INTO workflow_context (id, workflow_id, key) VALUES (1, 'wf-legacy', 'phase')`); err != nil {
		t.Fatalf("seed legacy row: %v", err)
	}
	if err := legacyDB.Close(); err != nil {
		t.Fatalf("close legacy db: %v", err)
	}

	im := New(st, nil)
	report, err := im.Import(ctx, Options{LegacyDBPaths: []string{legacyPath}})
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if report.LegacyDBsUnified != 1 {
		t.Fatalf("LegacyDBsUnified = %d, want 1", report.LegacyDBsUnified)
	}

	var count int
	if err := st.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM workflow_context`).Scan(&count); err != nil {
		t.Fatalf("count workflow_context: %v", err)
	}
	if count != 1 {
		t.Fatalf("workflow_context rows = %d, want 1 merged from the legacy db", count)
	}
}

func TestImportUnifySkipsMissingLegacyPath(t *testing.T) {
	ctx := context.Background()
	st, _ := newTestStore(t)

	im := New(st, nil)
	report, err := im.Import(ctx, Options{LegacyDBPaths: []string{filepath.Join(t.TempDir(), "missing.db")}})
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if report.LegacyDBsUnified != 0 {
		t.Fatalf("LegacyDBsUnified = %d, want 0 for a missing path", report.LegacyDBsUnified)
	}
	if len(report.Warnings) == 0 {
		t.Fatal("expected a warning about the missing legacy db")
	}
}

func TestParsePointsAndKebabSlug(t *testing.T) {
	cases := []struct {
		name string
		want int
	}{
		{"Schema migration (3 points)", 3},
		{"Docs (1 point)", 1},
		{"Wrap-up 5pt", 5},
		{"No points here", 0},
	}
	for _, tc := range cases {
		if got := parsePoints(tc.name); got != tc.want {
			t.Errorf("parsePoints(%q) = %d, want %d", tc.name, got, tc.want)
		}
	}

	if got, want := kebabSlug("State Tracking!!"), "state-tracking"; got != want {
		t.Errorf("kebabSlug(%q) = %q, want %q", "State Tracking!!", got, want)
	}
}
