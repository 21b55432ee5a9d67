// Package operations is a thin wrapper around the state store that
// models long-running external operations as WorkflowExecution rows.
// Failures from the store never propagate from its public methods: they
// are logged and swallowed so a caller can proceed even when
// persistence is degraded.
package operations

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gao-dev/gaodev/internal/models"
	"github.com/gao-dev/gaodev/internal/store"
)

// Tracker records operation lifecycle events as WorkflowExecution rows.
type Tracker struct {
	st  *store.Store
	log *zap.Logger
}

// New builds a Tracker over an already-open Store.
func New(st *store.Store, log *zap.Logger) *Tracker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Tracker{st: st, log: log}
}

// StartOperation creates a row in 'running' state and returns a fresh
// UUIDv4 id. The id is returned even if the store write fails, so the
// calling code can proceed with degraded persistence.
func (t *Tracker) StartOperation(ctx context.Context, opType, description string, epicNum, storyNum int, metadata map[string]any) string {
	id := uuid.NewString()
	name := opType
	if description != "" {
		name = opType + ": " + description
	}
	if _, err := t.st.TrackWorkflowExecution(ctx, id, epicNum, storyNum, name); err != nil {
		t.log.Error("operations: start_operation store write failed", zap.String("id", id), zap.Error(err))
	}
	return id
}

// UpdateProgress emits structured telemetry only; it intentionally does
// not write to the store on every tick.
func (t *Tracker) UpdateProgress(id string, percent int, step string) {
	t.log.Info("operations: progress", zap.String("id", id), zap.Int("percent", percent), zap.String("step", step))
}

// MarkComplete transitions id to 'completed' and persists artifacts/result.
func (t *Tracker) MarkComplete(ctx context.Context, id string, artifacts map[string]any, result string) {
	payload := marshalOutput(artifacts, result)
	if _, err := t.st.UpdateWorkflowStatus(ctx, id, models.WorkflowCompleted, payload); err != nil {
		t.log.Error("operations: mark_complete store write failed", zap.String("id", id), zap.Error(err))
	}
}

// MarkFailed transitions id to 'failed' and persists the error/context.
func (t *Tracker) MarkFailed(ctx context.Context, id string, opErr error, context_ map[string]any) {
	payload := marshalOutput(context_, errString(opErr))
	if _, err := t.st.UpdateWorkflowStatus(ctx, id, models.WorkflowFailed, payload); err != nil {
		t.log.Error("operations: mark_failed store write failed", zap.String("id", id), zap.Error(err))
	}
}

// MarkCancelled transitions id to 'cancelled'.
func (t *Tracker) MarkCancelled(ctx context.Context, id string) {
	if _, err := t.st.UpdateWorkflowStatus(ctx, id, models.WorkflowCancelled, ""); err != nil {
		t.log.Error("operations: mark_cancelled store write failed", zap.String("id", id), zap.Error(err))
	}
}

// GetOperation returns the projected WorkflowExecution for id, or nil if
// the store read fails.
func (t *Tracker) GetOperation(ctx context.Context, id string) *models.WorkflowExecution {
	wf, err := t.st.GetWorkflowExecution(ctx, id)
	if err != nil {
		t.log.Warn("operations: get_operation store read failed", zap.String("id", id), zap.Error(err))
		return nil
	}
	return wf
}

// GetInterruptedOperations returns all executions still in 'running' (or
// 'started') state, letting the surrounding process offer recovery on
// restart. This was declared but unimplemented upstream; here it is a
// required, fully working entry point.
func (t *Tracker) GetInterruptedOperations(ctx context.Context) []*models.WorkflowExecution {
	wfs, err := t.st.GetRunningWorkflows(ctx)
	if err != nil {
		t.log.Warn("operations: get_interrupted_operations store read failed", zap.Error(err))
		return nil
	}
	return wfs
}

func marshalOutput(data map[string]any, result string) string {
	payload := map[string]any{"result": result}
	for k, v := range data {
		payload[k] = v
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return result
	}
	return string(b)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
