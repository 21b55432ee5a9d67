package sync

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gao-dev/gaodev/internal/config"
	"github.com/gao-dev/gaodev/internal/models"
	"github.com/gao-dev/gaodev/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sync_test.db")
	ctx := context.Background()
	if err := store.Init(ctx, path); err != nil {
		t.Fatalf("store.Init: %v", err)
	}
	st, err := store.Open(ctx, config.StoreConfig{DBPath: path, LockTimeout: 5 * time.Second}, nil)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func writeFile(t *testing.T, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func TestSyncFromMarkdownCreatesNewStory(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	if _, err := st.CreateEpic(ctx, 15, "Epic", "f", 0); err != nil {
		t.Fatalf("CreateEpic: %v", err)
	}
	dir := t.TempDir()
	path := writeFile(t, dir, "story.md", "---\nepic: 15\nstory_num: 1\ntitle: New Story\nstatus: pending\n---\n\nbody\n")

	s := New(st, DatabaseWins, "", nil)
	res, err := s.SyncFromMarkdown(ctx, path)
	if err != nil {
		t.Fatalf("SyncFromMarkdown: %v", err)
	}
	if res.Kind != Created {
		t.Fatalf("Kind = %v, want Created", res.Kind)
	}

	story, err := st.GetStory(ctx, 15, 1)
	if err != nil {
		t.Fatalf("GetStory: %v", err)
	}
	if story.Title != "New Story" {
		t.Fatalf("Title = %q, want %q", story.Title, "New Story")
	}
}

func TestSyncFromMarkdownSkipsUnchanged(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	if _, err := st.CreateEpic(ctx, 1, "Epic", "f", 0); err != nil {
		t.Fatalf("CreateEpic: %v", err)
	}
	dir := t.TempDir()
	path := writeFile(t, dir, "s.md", "---\nepic: 1\nstory_num: 1\ntitle: T\nstatus: pending\n---\n\nbody\n")

	s := New(st, DatabaseWins, "", nil)
	if _, err := s.SyncFromMarkdown(ctx, path); err != nil {
		t.Fatalf("first sync: %v", err)
	}
	res, err := s.SyncFromMarkdown(ctx, path)
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if res.Kind != Skipped || res.SkipReason != NoChanges {
		t.Fatalf("second sync result = %+v, want Skipped/NoChanges", res)
	}
}

func TestSyncFromMarkdownManualPolicyReturnsConflict(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	if _, err := st.CreateEpic(ctx, 1, "Epic", "f", 0); err != nil {
		t.Fatalf("CreateEpic: %v", err)
	}
	dir := t.TempDir()
	path := writeFile(t, dir, "s.md", "---\nepic: 1\nstory_num: 1\ntitle: T\nstatus: pending\n---\n\nbody\n")

	s := New(st, Manual, filepath.Join(dir, "conflicts.log"), nil)
	if _, err := s.SyncFromMarkdown(ctx, path); err != nil {
		t.Fatalf("first sync: %v", err)
	}

	// Change the DB status out from under the file so the next sync sees
	// a stale hash and a conflicting status field.
	if _, err := st.UpdateStoryStatus(ctx, 1, 1, models.StoryInProgress); err != nil {
		t.Fatalf("UpdateStoryStatus: %v", err)
	}
	writeFile(t, dir, "s.md", "---\nepic: 1\nstory_num: 1\ntitle: T\nstatus: done\n---\n\nbody changed\n")

	_, err := s.SyncFromMarkdown(ctx, path)
	var ce *ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("manual-policy sync: got %v, want ConflictError", err)
	}
	if len(ce.Diffs) == 0 {
		t.Fatal("expected at least one conflicting field")
	}
}

func TestSyncFromMarkdownMarkdownWinsAppliesDiff(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	if _, err := st.CreateEpic(ctx, 1, "Epic", "f", 0); err != nil {
		t.Fatalf("CreateEpic: %v", err)
	}
	dir := t.TempDir()
	path := writeFile(t, dir, "s.md", "---\nepic: 1\nstory_num: 1\ntitle: T\nstatus: pending\n---\n\nbody\n")

	s := New(st, MarkdownWins, "", nil)
	if _, err := s.SyncFromMarkdown(ctx, path); err != nil {
		t.Fatalf("first sync: %v", err)
	}
	if _, err := st.UpdateStoryStatus(ctx, 1, 1, models.StoryInProgress); err != nil {
		t.Fatalf("UpdateStoryStatus: %v", err)
	}
	writeFile(t, dir, "s.md", "---\nepic: 1\nstory_num: 1\ntitle: T\nstatus: done\n---\n\nbody changed\n")

	res, err := s.SyncFromMarkdown(ctx, path)
	if err != nil {
		t.Fatalf("markdown-wins sync: %v", err)
	}
	if res.Kind != Updated {
		t.Fatalf("Kind = %v, want Updated", res.Kind)
	}

	story, err := st.GetStory(ctx, 1, 1)
	if err != nil {
		t.Fatalf("GetStory: %v", err)
	}
	if story.Status != models.StoryDone {
		t.Fatalf("Status = %q, want done (markdown should win)", story.Status)
	}
}

func TestSyncToMarkdownWritesHeaderAndBackup(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	if _, err := st.CreateEpic(ctx, 1, "Epic", "f", 0); err != nil {
		t.Fatalf("CreateEpic: %v", err)
	}
	if _, err := st.CreateStory(ctx, store.CreateStoryParams{EpicNum: 1, StoryNum: 1, Title: "T", Points: 3}); err != nil {
		t.Fatalf("CreateStory: %v", err)
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "story.md")
	original := "---\nepic: 1\nstory_num: 1\n---\n\n## Description\n\nhand-written body\n"
	writeFile(t, dir, "story.md", original)

	s := New(st, DatabaseWins, "", nil)
	if err := s.SyncToMarkdown(ctx, 1, 1, path); err != nil {
		t.Fatalf("SyncToMarkdown: %v", err)
	}

	backup, err := os.ReadFile(path + ".bak")
	if err != nil {
		t.Fatalf("expected .bak file: %v", err)
	}
	if string(backup) != original {
		t.Fatal(".bak contents do not match the pre-sync file")
	}

	updated, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read updated file: %v", err)
	}
	if !contains(string(updated), "hand-written body") {
		t.Fatal("existing body should be preserved across a database-to-markdown sync")
	}
}

func contains(haystack, needle string) bool {
	return len(haystack) >= len(needle) && (func() bool {
		for i := 0; i+len(needle) <= len(haystack); i++ {
			if haystack[i:i+len(needle)] == needle {
				return true
			}
		}
		return false
	})()
}

func TestSyncDirectoryCountsBatch(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	if _, err := st.CreateEpic(ctx, 1, "Epic", "f", 0); err != nil {
		t.Fatalf("CreateEpic: %v", err)
	}
	dir := t.TempDir()
	writeFile(t, dir, "a.md", "---\nepic: 1\nstory_num: 1\ntitle: A\nstatus: pending\n---\n\nbody\n")
	writeFile(t, dir, "b.md", "---\nepic: 1\nstory_num: 2\ntitle: B\nstatus: pending\n---\n\nbody\n")
	writeFile(t, dir, "notes.txt", "not a story")

	s := New(st, DatabaseWins, "", nil)
	result := s.SyncDirectory(ctx, dir, true, "")
	if result.Processed != 2 {
		t.Fatalf("Processed = %d, want 2 (non-.md files excluded)", result.Processed)
	}
	if result.Created != 2 {
		t.Fatalf("Created = %d, want 2", result.Created)
	}
	if len(result.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", result.Errors)
	}
}
