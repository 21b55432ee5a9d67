// Package sync implements bidirectional synchronization between Markdown
// story files and the state store, with content-hash change detection
// and a configurable conflict policy.
package sync

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/gao-dev/gaodev/internal/frontmatter"
	"github.com/gao-dev/gaodev/internal/models"
	"github.com/gao-dev/gaodev/internal/store"
)

// Policy is the tie-breaking rule applied when a Markdown file and the
// store both changed since the last sync.
type Policy string

const (
	DatabaseWins Policy = "database_wins"
	MarkdownWins Policy = "markdown_wins"
	Manual       Policy = "manual"
)

// ErrSync wraps any non-conflict failure from a sync operation (missing
// required header keys, I/O failure).
var ErrSync = errors.New("sync error")

// ErrConflict is raised under the manual policy when a conflict set is
// non-empty; it carries the diff via ConflictError.
var ErrConflict = errors.New("sync conflict")

// ConflictError is returned (wrapping ErrConflict) when the manual
// policy aborts a sync due to conflicting fields.
type ConflictError struct {
	EpicNum, StoryNum int
	Diffs             []FieldDiff
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("sync conflict on %d.%d: %d fields differ", e.EpicNum, e.StoryNum, len(e.Diffs))
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// Syncer bidirectionally synchronizes Markdown files with the store.
type Syncer struct {
	st              *store.Store
	policy          Policy
	conflictLogPath string
	log             *zap.Logger
}

// New builds a Syncer with the given conflict policy (default
// DatabaseWins when empty) and append-only conflict log path.
func New(st *store.Store, policy Policy, conflictLogPath string, log *zap.Logger) *Syncer {
	if policy == "" {
		policy = DatabaseWins
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Syncer{st: st, policy: policy, conflictLogPath: conflictLogPath, log: log}
}

// ContentHash returns the lowercase hex SHA-256 digest of data.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// SyncFromMarkdown reads path, parses its frontmatter, and writes
// through to the store.
func (s *Syncer) SyncFromMarkdown(ctx context.Context, path string) (Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Result{}, fmt.Errorf("%w: read %s: %w", ErrSync, path, err)
	}
	text := string(data)
	hash := ContentHash(data)

	header, _ := frontmatter.Parse(text)
	epicNum, storyNum, ok := headerIdentity(header)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s: missing epic/story_num in header", ErrSync, path)
	}

	existing, err := s.st.GetStory(ctx, epicNum, storyNum)
	if errors.Is(err, store.ErrNotFound) {
		return s.createFromHeader(ctx, epicNum, storyNum, header, path, hash)
	}
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrSync, err)
	}

	if existing.ContentHash == hash {
		return Result{Kind: Skipped, SkipReason: NoChanges, EpicNum: epicNum, StoryNum: storyNum, ContentHash: hash}, nil
	}

	diffs := diffHeader(header, existing)
	if len(diffs) > 0 {
		s.appendConflictLog(epicNum, storyNum, diffs)
		if s.policy == Manual {
			return Result{Kind: Conflict, Conflicts: diffs, EpicNum: epicNum, StoryNum: storyNum},
				fmt.Errorf("%w", &ConflictError{EpicNum: epicNum, StoryNum: storyNum, Diffs: diffs})
		}
		if s.policy == MarkdownWins {
			if err := s.applyDiffs(ctx, epicNum, storyNum, diffs); err != nil {
				return Result{}, fmt.Errorf("%w: %w", ErrSync, err)
			}
		}
		// DatabaseWins: retain DB values, only refresh the hash below.
	}

	if _, err := s.st.UpdateStoryHash(ctx, epicNum, storyNum, hash); err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrSync, err)
	}
	return Result{Kind: Updated, Conflicts: diffs, EpicNum: epicNum, StoryNum: storyNum, ContentHash: hash}, nil
}

func (s *Syncer) createFromHeader(ctx context.Context, epicNum, storyNum int, header *frontmatter.Header, path, hash string) (Result, error) {
	title := header.GetString("title")
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	status := models.StoryStatus(header.GetString("status"))
	if status == "" {
		status = models.StoryPending
	}
	priority := models.StoryPriority(header.GetString("priority"))
	points, _ := strconv.Atoi(header.GetString("points"))

	story, err := s.st.CreateStory(ctx, store.CreateStoryParams{
		EpicNum: epicNum, StoryNum: storyNum, Title: title, Status: status,
		Owner: header.GetString("owner"), Points: points, Priority: priority,
	})
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrSync, err)
	}
	if _, err := s.st.UpdateStoryHash(ctx, story.EpicNum, story.StoryNum, hash); err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrSync, err)
	}
	return Result{Kind: Created, EpicNum: epicNum, StoryNum: storyNum, ContentHash: hash}, nil
}

func headerIdentity(header *frontmatter.Header) (int, int, bool) {
	epicStr := header.GetString("epic")
	storyStr := header.GetString("story_num")
	if epicStr == "" || storyStr == "" {
		return 0, 0, false
	}
	epicNum, err1 := strconv.Atoi(epicStr)
	storyNum, err2 := strconv.Atoi(storyStr)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return epicNum, storyNum, true
}

// diffHeader compares status/owner/points/priority between header and
// the current Story, considering only header values that are present.
func diffHeader(header *frontmatter.Header, existing *models.Story) []FieldDiff {
	var diffs []FieldDiff
	if v, ok := header.Get("status"); ok {
		if fmt.Sprint(v) != string(existing.Status) {
			diffs = append(diffs, FieldDiff{Field: "status", DBValue: string(existing.Status), MDValue: fmt.Sprint(v)})
		}
	}
	if v, ok := header.Get("owner"); ok {
		if fmt.Sprint(v) != existing.Owner {
			diffs = append(diffs, FieldDiff{Field: "owner", DBValue: existing.Owner, MDValue: fmt.Sprint(v)})
		}
	}
	if v, ok := header.Get("points"); ok {
		if fmt.Sprint(v) != strconv.Itoa(existing.Points) {
			diffs = append(diffs, FieldDiff{Field: "points", DBValue: strconv.Itoa(existing.Points), MDValue: fmt.Sprint(v)})
		}
	}
	if v, ok := header.Get("priority"); ok {
		if fmt.Sprint(v) != string(existing.Priority) {
			diffs = append(diffs, FieldDiff{Field: "priority", DBValue: string(existing.Priority), MDValue: fmt.Sprint(v)})
		}
	}
	return diffs
}

func (s *Syncer) applyDiffs(ctx context.Context, epicNum, storyNum int, diffs []FieldDiff) error {
	for _, d := range diffs {
		var err error
		switch d.Field {
		case "status":
			_, err = s.st.UpdateStoryStatus(ctx, epicNum, storyNum, models.StoryStatus(d.MDValue))
		case "owner":
			_, err = s.st.UpdateStoryOwner(ctx, epicNum, storyNum, d.MDValue)
		case "points":
			var p int
			p, err = strconv.Atoi(d.MDValue)
			if err == nil {
				_, err = s.st.UpdateStoryPoints(ctx, epicNum, storyNum, p)
			}
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Syncer) appendConflictLog(epicNum, storyNum int, diffs []FieldDiff) {
	if s.conflictLogPath == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(s.conflictLogPath), 0o755); err != nil {
		s.log.Warn("sync: could not create conflict log dir", zap.Error(err))
		return
	}
	f, err := os.OpenFile(s.conflictLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		s.log.Warn("sync: could not open conflict log", zap.Error(err))
		return
	}
	defer func() { _ = f.Close() }()

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] story %d.%d policy=%s\n", time.Now().UTC().Format(time.RFC3339), epicNum, storyNum, s.policy)
	for _, d := range diffs {
		fmt.Fprintf(&b, "  %s: db=%q md=%q\n", d.Field, d.DBValue, d.MDValue)
	}
	if _, err := f.WriteString(b.String()); err != nil {
		s.log.Warn("sync: could not write conflict log", zap.Error(err))
	}
}

// defaultStoryPath resolves the conventional location for a story file.
func defaultStoryPath(epicNum, storyNum int) string {
	return filepath.Join("docs", "features", "stories", fmt.Sprintf("epic-%d", epicNum), fmt.Sprintf("story-%d.%d.md", epicNum, storyNum))
}

// SyncToMarkdown writes the Story identified by (epicNum, storyNum) out
// to path (or the default convention path when path is empty).
func (s *Syncer) SyncToMarkdown(ctx context.Context, epicNum, storyNum int, path string) error {
	story, err := s.st.GetStory(ctx, epicNum, storyNum)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSync, err)
	}
	if path == "" {
		path = defaultStoryPath(epicNum, storyNum)
	}

	body := defaultBody(story)
	if existing, err := os.ReadFile(path); err == nil {
		if err := os.WriteFile(path+".bak", existing, 0o644); err != nil {
			return fmt.Errorf("%w: backup %s: %w", ErrSync, path, err)
		}
		_, existingBody := frontmatter.Parse(string(existing))
		if existingBody != "" {
			body = existingBody
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("%w: read %s: %w", ErrSync, path, err)
	}

	header := frontmatter.NewHeader()
	header.Set("epic", story.EpicNum)
	header.Set("story_num", story.StoryNum)
	header.Set("title", story.Title)
	header.Set("status", string(story.Status))
	header.Set("priority", string(story.Priority))
	header.Set("points", story.Points)
	if story.Owner != "" {
		header.Set("owner", story.Owner)
	}
	header.Set("updated_at", story.UpdatedAt)

	text := frontmatter.Serialize(header, body)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("%w: mkdir for %s: %w", ErrSync, path, err)
	}
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return fmt.Errorf("%w: write %s: %w", ErrSync, path, err)
	}

	// Refresh the stored hash to the bytes just written, so a following
	// SyncFromMarkdown on this same file sees no change and skips.
	hash := ContentHash([]byte(text))
	if _, err := s.st.UpdateStoryHash(ctx, epicNum, storyNum, hash); err != nil {
		return fmt.Errorf("%w: %w", ErrSync, err)
	}
	return nil
}

func defaultBody(story *models.Story) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Description\n\n%s\n\n", story.Title)
	b.WriteString("## Acceptance Criteria\n\n- [ ] TBD\n\n")
	b.WriteString("## Technical Notes\n\n\n\n")
	b.WriteString("## Definition of Done\n\n- [ ] TBD\n")
	return b.String()
}

// BatchResult tallies one SyncDirectory run.
type BatchResult struct {
	Processed int
	Created   int
	Updated   int
	Skipped   int
	Errors    []error
}

// SyncDirectory walks dir (recursively unless recursive is false),
// matching files against glob, and calls SyncFromMarkdown on each. An
// error on one file never halts the batch.
func (s *Syncer) SyncDirectory(ctx context.Context, dir string, recursive bool, glob string) BatchResult {
	var result BatchResult
	if glob == "" {
		glob = "*.md"
	}

	walkFn := func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			result.Errors = append(result.Errors, err)
			return nil
		}
		if d.IsDir() {
			if !recursive && path != dir {
				return filepath.SkipDir
			}
			return nil
		}
		matched, err := filepath.Match(glob, d.Name())
		if err != nil || !matched {
			return nil
		}

		result.Processed++
		res, err := s.SyncFromMarkdown(ctx, path)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("%s: %w", path, err))
			return nil
		}
		switch res.Kind {
		case Created:
			result.Created++
		case Updated:
			result.Updated++
		case Skipped:
			result.Skipped++
		}
		return nil
	}

	if err := filepath.WalkDir(dir, walkFn); err != nil {
		result.Errors = append(result.Errors, err)
	}
	return result
}
