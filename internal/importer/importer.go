package importer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/gao-dev/gaodev/internal/lockfile"
	"github.com/gao-dev/gaodev/internal/models"
	"github.com/gao-dev/gaodev/internal/schema"
	"github.com/gao-dev/gaodev/internal/store"
	"github.com/gao-dev/gaodev/internal/sync"
)

var pointsRegex = regexp.MustCompile(`\((\d+)\s*points?\)|(\d+)\s*pt\b`)

var kebabNonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

func kebabSlug(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = kebabNonAlnum.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

func parsePoints(name string) int {
	m := pointsRegex.FindStringSubmatch(name)
	if m == nil {
		return 0
	}
	for _, g := range m[1:] {
		if g != "" {
			n, _ := strconv.Atoi(g)
			return n
		}
	}
	return 0
}

// Importer migrates legacy state into a Store.
type Importer struct {
	st  *store.Store
	log *zap.Logger
}

// New builds an Importer over an already-open Store.
func New(st *store.Store, log *zap.Logger) *Importer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Importer{st: st, log: log}
}

// Import runs the full migration pipeline described by opts. Only one
// import may run against a given database at a time; a concurrent
// invocation fails fast with lockfile.ErrLocked rather than racing the
// first one's writes.
func (im *Importer) Import(ctx context.Context, opts Options) (Report, error) {
	start := time.Now()
	report := Report{}

	if opts.DBPath != "" {
		guard, err := lockfile.Acquire(opts.DBPath + ".import.lock")
		if err != nil {
			return report, fmt.Errorf("importer: %w", err)
		}
		defer func() { _ = guard.Release() }()
	}

	var backupPath string
	if opts.Backup && opts.DBPath != "" && !opts.DryRun {
		p, err := backupDB(opts.DBPath)
		if err != nil {
			report.fail("backup failed: %v", err)
			report.DurationSeconds = time.Since(start).Seconds()
			return report, fmt.Errorf("importer: backup: %w", err)
		}
		backupPath = p
	}

	if err := im.unifyLegacyDBs(ctx, opts, &report); err != nil {
		if backupPath != "" {
			if rbErr := rollbackDB(opts.DBPath, backupPath); rbErr != nil {
				report.warn("rollback failed: %v", rbErr)
			} else {
				report.warn("rolled back to %s after error: %v", backupPath, err)
			}
		}
		report.DurationSeconds = time.Since(start).Seconds()
		return report, fmt.Errorf("importer: unify legacy dbs: %w", err)
	}

	if err := im.importYAML(ctx, opts, &report); err != nil {
		if backupPath != "" {
			if rbErr := rollbackDB(opts.DBPath, backupPath); rbErr != nil {
				report.warn("rollback failed: %v", rbErr)
			} else {
				report.warn("rolled back to %s after error: %v", backupPath, err)
			}
		}
		report.DurationSeconds = time.Since(start).Seconds()
		return report, fmt.Errorf("importer: yaml ingest: %w", err)
	}

	im.importMarkdown(ctx, opts, &report)

	if !opts.DryRun {
		im.validate(ctx, &report)
	}

	report.DurationSeconds = time.Since(start).Seconds()
	return report, nil
}

// unifyLegacyDBs attaches and merges opts.LegacyDBPaths into the target
// database via schema.Unify, skipping paths that don't exist. A dry run
// performs no merge; the report still counts how many legacy files were
// found so a preview reflects what a live run would touch.
func (im *Importer) unifyLegacyDBs(ctx context.Context, opts Options, report *Report) error {
	if len(opts.LegacyDBPaths) == 0 {
		return nil
	}
	var present []string
	for _, p := range opts.LegacyDBPaths {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err != nil {
			if os.IsNotExist(err) {
				report.warn("legacy db %s not found, skipping unify", p)
				continue
			}
			return fmt.Errorf("stat legacy db %s: %w", p, err)
		}
		present = append(present, p)
	}
	if len(present) == 0 {
		return nil
	}
	if opts.DryRun {
		report.LegacyDBsUnified = len(present)
		return nil
	}
	if err := schema.Unify(ctx, im.st.DB(), present, opts.UnifyBackupDir); err != nil {
		return fmt.Errorf("unify: %w", err)
	}
	report.LegacyDBsUnified = len(present)
	return nil
}

func (im *Importer) importYAML(ctx context.Context, opts Options, report *Report) error {
	if opts.YAMLPath == "" {
		return nil
	}
	data, err := os.ReadFile(opts.YAMLPath)
	if err != nil {
		return fmt.Errorf("read %s: %w", opts.YAMLPath, err)
	}

	var legacy legacySprintFile
	if err := yaml.Unmarshal(data, &legacy); err != nil {
		return fmt.Errorf("parse %s: %w", opts.YAMLPath, err)
	}

	if opts.DryRun {
		report.SprintsCreated++
		for _, e := range legacy.Epics {
			report.EpicsCreated++
			report.StoriesCreated += len(e.Stories)
		}
		return nil
	}

	sprintNum, err := im.nextSprintNum(ctx)
	if err != nil {
		return fmt.Errorf("derive sprint number: %w", err)
	}
	startDate := legacy.StartDate
	if startDate == "" {
		startDate = time.Now().UTC().Format("2006-01-02")
	}
	endDate := addDays(startDate, 14)

	name := legacy.SprintName
	if name == "" {
		name = fmt.Sprintf("Sprint %d", sprintNum)
	}
	if _, err := im.st.CreateSprint(ctx, sprintNum, name, startDate, endDate); err != nil {
		if errors.Is(err, store.ErrConflict) {
			report.warn("sprint %d already exists, skipping sprint creation", sprintNum)
		} else {
			return fmt.Errorf("create sprint: %w", err)
		}
	} else {
		report.SprintsCreated++
	}

	for _, e := range legacy.Epics {
		totalPoints := 0
		for _, st := range e.Stories {
			totalPoints += parsePoints(st.Name)
		}
		feature := kebabSlug(e.Name)

		if _, err := im.st.CreateEpic(ctx, e.EpicNumber, e.Name, feature, totalPoints); err != nil {
			if errors.Is(err, store.ErrConflict) {
				report.warn("epic %d already exists, skipping", e.EpicNumber)
				report.Skipped++
				continue
			}
			report.fail("create epic %d: %v", e.EpicNumber, err)
			continue
		}
		report.EpicsCreated++

		for _, st := range e.Stories {
			status := models.StoryStatus(st.Status)
			if !models.ValidStoryStatus(string(status)) {
				status = models.StoryPending
			}
			_, err := im.st.CreateStory(ctx, store.CreateStoryParams{
				EpicNum: e.EpicNumber, StoryNum: st.Number, Title: st.Name,
				Status: status, Owner: st.Owner, Points: parsePoints(st.Name),
			})
			if err != nil {
				if errors.Is(err, store.ErrConflict) {
					report.warn("story %d.%d already exists, skipping", e.EpicNumber, st.Number)
					report.Skipped++
					continue
				}
				report.fail("create story %d.%d: %v", e.EpicNumber, st.Number, err)
				continue
			}
			report.StoriesCreated++
		}
	}

	return nil
}

func (im *Importer) importMarkdown(ctx context.Context, opts Options, report *Report) {
	if opts.DryRun {
		return
	}
	syncer := sync.New(im.st, sync.DatabaseWins, "", im.log)
	for _, dir := range opts.StoryDirs {
		err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				report.fail("walk %s: %v", path, err)
				return nil
			}
			if d.IsDir() {
				return nil
			}
			if !strings.HasPrefix(d.Name(), "story-") || !strings.HasSuffix(d.Name(), ".md") {
				return nil
			}
			if _, err := syncer.SyncFromMarkdown(ctx, path); err != nil {
				report.fail("sync %s: %v", path, err)
			}
			return nil
		})
		if err != nil {
			report.fail("walk %s: %v", dir, err)
		}
	}
}

func (im *Importer) validate(ctx context.Context, report *Report) {
	db := im.st.DB()

	rows, err := db.QueryContext(ctx, `
		SELECT s.epic_num, s.story_num FROM stories s
		LEFT JOIN epics e ON e.epic_num = s.epic_num
		WHERE e.epic_num IS NULL
	`)
	if err != nil {
		report.fail("validate orphan stories: %v", err)
	} else {
		defer func() { _ = rows.Close() }()
		for rows.Next() {
			var epicNum, storyNum int
			if err := rows.Scan(&epicNum, &storyNum); err == nil {
				report.ValidationErrors = append(report.ValidationErrors,
					fmt.Sprintf("story %d.%d references missing epic", epicNum, storyNum))
			}
		}
	}

	validStatuses := map[string]bool{"pending": true, "in_progress": true, "done": true, "blocked": true, "cancelled": true}
	statusRows, err := db.QueryContext(ctx, `SELECT DISTINCT status FROM stories`)
	if err != nil {
		report.fail("validate story statuses: %v", err)
		return
	}
	defer func() { _ = statusRows.Close() }()
	for statusRows.Next() {
		var status string
		if err := statusRows.Scan(&status); err == nil && !validStatuses[status] {
			report.ValidationErrors = append(report.ValidationErrors, fmt.Sprintf("invalid story status %q", status))
		}
	}
}

func (im *Importer) nextSprintNum(ctx context.Context) (int, error) {
	var max sql.NullInt64
	err := im.st.DB().QueryRowContext(ctx, `SELECT MAX(sprint_num) FROM sprints`).Scan(&max)
	if err != nil {
		return 0, err
	}
	if !max.Valid {
		return 1, nil
	}
	return int(max.Int64) + 1, nil
}

func addDays(date string, days int) string {
	t, err := time.Parse("2006-01-02", date)
	if err != nil {
		return date
	}
	return t.AddDate(0, 0, days).Format("2006-01-02")
}

func backupDB(path string) (string, error) {
	stamp := time.Now().UTC().Format("20060102_150405")
	dest := filepath.Join(filepath.Dir(path), fmt.Sprintf(".backup_%s.db", stamp))
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return "", err
	}
	return dest, nil
}

func rollbackDB(path, backupPath string) error {
	data, err := os.ReadFile(backupPath)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
