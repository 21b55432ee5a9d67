package gaodev

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/gao-dev/gaodev/internal/store"
)

func writeConfig(t *testing.T, path, dbPath string) {
	t.Helper()
	contents := "db_path = \"" + dbPath + "\"\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func TestOpenWiresEveryComponent(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.toml")
	writeConfig(t, configPath, filepath.Join(dir, "gao_dev.db"))

	eng, err := Open(ctx, configPath, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = eng.Close() }()

	if eng.Store == nil || eng.Query == nil || eng.Sync == nil || eng.Importer == nil ||
		eng.Learning == nil || eng.Operations == nil {
		t.Fatal("Open must wire every component onto the Engine")
	}

	res, err := eng.Validate(ctx)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !res.IsValid() {
		t.Fatalf("freshly opened engine failed schema validation: %+v", res.Errors)
	}
}

func TestEndToEndCreateEpicStoryAndQuery(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.toml")
	writeConfig(t, configPath, filepath.Join(dir, "gao_dev.db"))

	eng, err := Open(ctx, configPath, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = eng.Close() }()

	if _, err := eng.Store.CreateEpic(ctx, 15, "State Tracking", "dls", 0); err != nil {
		t.Fatalf("CreateEpic: %v", err)
	}
	if _, err := eng.Store.CreateStory(ctx, store.CreateStoryParams{
		EpicNum: 15, StoryNum: 1, Title: "Schema", Status: StoryDone, Points: 3,
	}); err != nil {
		t.Fatalf("CreateStory: %v", err)
	}

	progress, err := eng.Query.GetEpicProgress(ctx, 15)
	if err != nil {
		t.Fatalf("GetEpicProgress: %v", err)
	}
	if progress.Completed != 3 {
		t.Fatalf("Completed = %d, want 3", progress.Completed)
	}

	id := eng.Operations.StartOperation(ctx, "sync", "nightly", 0, 0, nil)
	if id == "" {
		t.Fatal("StartOperation returned empty id")
	}
	eng.Operations.MarkComplete(ctx, id, nil, "ok")
}

func TestEngineWatchStoriesWiresTheSyncer(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.toml")
	writeConfig(t, configPath, filepath.Join(dir, "gao_dev.db"))

	eng, err := Open(ctx, configPath, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = eng.Close() }()

	watchDir := filepath.Join(dir, "stories")
	if err := os.MkdirAll(watchDir, 0o755); err != nil {
		t.Fatalf("mkdir watch dir: %v", err)
	}

	w, err := eng.WatchStories(watchDir, "*.md")
	if err != nil {
		t.Fatalf("WatchStories: %v", err)
	}
	defer func() { _ = w.Close() }()
}
