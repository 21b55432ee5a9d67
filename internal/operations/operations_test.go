package operations

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/gao-dev/gaodev/internal/config"
	"github.com/gao-dev/gaodev/internal/models"
	"github.com/gao-dev/gaodev/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "operations_test.db")
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

func TestOperationLifecycle(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	tr := New(st, nil)

	id := tr.StartOperation(ctx, "deploy", "ship it", 0, 0, map[string]any{"env": "prod"})
	if id == "" {
		t.Fatal("StartOperation returned an empty id")
	}

	op := tr.GetOperation(ctx, id)
	if op == nil {
		t.Fatal("GetOperation returned nil for a just-started operation")
	}
	if op.Status != models.WorkflowRunning {
		t.Fatalf("Status = %q, want running", op.Status)
	}

	tr.MarkComplete(ctx, id, map[string]any{"files": 3}, "ok")
	op = tr.GetOperation(ctx, id)
	if op == nil || op.Status != models.WorkflowCompleted {
		t.Fatalf("after MarkComplete: %+v, want status completed", op)
	}
}

func TestMarkFailedRecordsError(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	tr := New(st, nil)

	id := tr.StartOperation(ctx, "build", "", 0, 0, nil)
	tr.MarkFailed(ctx, id, errors.New("boom"), map[string]any{"step": "compile"})

	op := tr.GetOperation(ctx, id)
	if op == nil || op.Status != models.WorkflowFailed {
		t.Fatalf("after MarkFailed: %+v, want status failed", op)
	}
}

func TestGetOperationOnUnknownIDNeverPanics(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	tr := New(st, nil)

	if got := tr.GetOperation(ctx, "does-not-exist"); got != nil {
		t.Fatalf("GetOperation for unknown id = %+v, want nil", got)
	}
}

func TestMarkCompleteOnUnknownIDNeverPanics(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	tr := New(st, nil)

	// The store write will fail (no such workflow_id); Tracker must
	// swallow the error rather than propagate or panic.
	tr.MarkComplete(ctx, "does-not-exist", nil, "ok")
}

func TestGetInterruptedOperationsReturnsOnlyRunning(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	tr := New(st, nil)

	running := tr.StartOperation(ctx, "long-task", "", 0, 0, nil)
	done := tr.StartOperation(ctx, "short-task", "", 0, 0, nil)
	tr.MarkComplete(ctx, done, nil, "ok")

	interrupted := tr.GetInterruptedOperations(ctx)
	if len(interrupted) != 1 {
		t.Fatalf("interrupted operations = %d, want 1", len(interrupted))
	}
	if interrupted[0].WorkflowID != running {
		t.Fatalf("interrupted id = %q, want %q", interrupted[0].WorkflowID, running)
	}
}
