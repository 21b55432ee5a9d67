// Package importer migrates legacy sprint YAML and story Markdown trees
// into the state store, with optional backup/rollback and a dry-run
// preview mode.
package importer

import "fmt"

// legacySprintFile is the shape of the legacy YAML sprint-status format.
type legacySprintFile struct {
	SprintName string       `yaml:"sprint_name"`
	StartDate  string       `yaml:"start_date"`
	Phase      string       `yaml:"phase"`
	ScaleLevel string       `yaml:"scale_level"`
	Epics      []legacyEpic `yaml:"epics"`
}

type legacyEpic struct {
	EpicNumber int           `yaml:"epic_number"`
	Name       string        `yaml:"name"`
	Status     string        `yaml:"status"`
	Stories    []legacyStory `yaml:"stories"`
}

type legacyStory struct {
	Number int    `yaml:"number"`
	Status string `yaml:"status"`
	Name   string `yaml:"name"`
	Owner  string `yaml:"owner,omitempty"`
}

// Options configures one Import run.
type Options struct {
	// DBPath is the target database file. It names the backup copy and
	// the <DBPath>.import.lock exclusivity lock; when it is empty, no
	// lock is taken and no backup is made.
	DBPath string
	// YAMLPath is the legacy sprint status file, optional.
	YAMLPath string
	// StoryDirs are directories to glob recursively for story-*.md files.
	StoryDirs []string
	// Backup copies DBPath to a sibling .backup_<timestamp>.db before
	// writing, enabling Rollback on an unrecoverable error.
	Backup bool
	// DryRun parses the YAML file and counts what it would create, and
	// counts the legacy database files it would merge, with store writes
	// suppressed. Markdown ingest and post-import validation are skipped.
	DryRun bool
	// LegacyDBPaths are pre-unification database files (e.g.
	// gao-dev-state.db, .gao/context_usage.db) to attach and merge into
	// the target database via schema.Unify before the YAML/Markdown
	// ingest runs. Empty paths, and paths that don't exist, are skipped.
	LegacyDBPaths []string
	// UnifyBackupDir, when non-empty, is passed to schema.Unify so the
	// legacy files are copied to a timestamped backup before merging.
	UnifyBackupDir string
}

// Report is the outcome of one Import run.
type Report struct {
	EpicsCreated     int
	StoriesCreated   int
	SprintsCreated   int
	Skipped          int
	Errors           []string
	Warnings         []string
	ValidationErrors []string
	DurationSeconds  float64
	// LegacyDBsUnified counts how many LegacyDBPaths were successfully
	// attached and merged by schema.Unify; under DryRun it counts the
	// paths found, which are not merged.
	LegacyDBsUnified int
}

func (r *Report) warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

func (r *Report) fail(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}
