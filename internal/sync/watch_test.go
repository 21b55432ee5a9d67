package sync

import (
	"context"
	"testing"
	"time"

	"github.com/gao-dev/gaodev/internal/models"
)

func TestWatcherSyncsOnFileWrite(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	st := newTestStore(t)
	if _, err := st.CreateEpic(ctx, 9, "Epic", "f", 0); err != nil {
		t.Fatalf("CreateEpic: %v", err)
	}
	dir := t.TempDir()
	s := New(st, MarkdownWins, "", nil)

	w, err := NewWatcher(s, dir, "*.md")
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer func() { _ = w.Close() }()

	errs := w.Run(ctx)

	content := "---\nepic: 9\nstory_num: 1\ntitle: Watched story\nstatus: in_progress\n---\n\nbody\n"
	path := writeFile(t, dir, "story-9.1.md", content)

	deadline := time.Now().Add(4 * time.Second)
	var story *models.Story
	for time.Now().Before(deadline) {
		story, err = st.GetStory(ctx, 9, 1)
		if err == nil {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("GetStory never observed the watcher's sync of %s: %v", path, err)
	}
	if story.Status != models.StoryInProgress {
		t.Fatalf("Status = %q, want in_progress", story.Status)
	}

	select {
	case syncErr, ok := <-errs:
		if ok {
			t.Fatalf("unexpected sync error from watcher: %v", syncErr)
		}
	default:
	}
}

func TestWatcherIgnoresNonMatchingFiles(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	st := newTestStore(t)
	dir := t.TempDir()
	s := New(st, MarkdownWins, "", nil)

	w, err := NewWatcher(s, dir, "*.md")
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer func() { _ = w.Close() }()

	_ = w.Run(ctx)
	writeFile(t, dir, "notes.txt", "not a story file")

	time.Sleep(400 * time.Millisecond)
	if _, err := st.GetStoriesByEpic(ctx, 9); err != nil {
		t.Fatalf("GetStoriesByEpic: %v", err)
	}

	var count int
	if err := st.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM stories`).Scan(&count); err != nil {
		t.Fatalf("count stories: %v", err)
	}
	if count != 0 {
		t.Fatalf("stories = %d, want 0: watcher must ignore files that don't match glob", count)
	}
}
