package store

import (
	"context"
	"database/sql"

	"github.com/gao-dev/gaodev/internal/models"
)

// TrackWorkflowExecution creates a WorkflowExecution row in 'running' state.
func (s *Store) TrackWorkflowExecution(ctx context.Context, workflowID string, epicNum, storyNum int, name string) (*models.WorkflowExecution, error) {
	var wf *models.WorkflowExecution
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO workflow_executions (workflow_id, epic_num, story_num, name, status)
			VALUES (?, NULLIF(?, 0), NULLIF(?, 0), ?, 'running')
		`, workflowID, epicNum, storyNum, name)
		if err != nil {
			if isUniqueViolation(err) {
				return wrapDBError("track_workflow_execution", ErrConflict)
			}
			return wrapDBError("track_workflow_execution", err)
		}
		wf, err = getWorkflowTx(ctx, tx, workflowID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return wf, nil
}

// UpdateWorkflowStatus transitions a WorkflowExecution's status and,
// when the new status is terminal, records completed_at and the result
// payload in output.
func (s *Store) UpdateWorkflowStatus(ctx context.Context, workflowID string, status models.WorkflowStatus, result string) (*models.WorkflowExecution, error) {
	if !models.ValidWorkflowStatus(string(status)) {
		return nil, NewValidationError("status", "not a valid workflow status")
	}

	terminal := status == models.WorkflowCompleted || status == models.WorkflowFailed || status == models.WorkflowCancelled

	var wf *models.WorkflowExecution
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		if terminal {
			_, err = tx.ExecContext(ctx, `
				UPDATE workflow_executions
				SET status = ?, output = ?, completed_at = CURRENT_TIMESTAMP,
				    duration_ms = CAST((julianday('now') - julianday(started_at)) * 86400000 AS INTEGER)
				WHERE workflow_id = ?
			`, status, result, workflowID)
		} else {
			_, err = tx.ExecContext(ctx, `UPDATE workflow_executions SET status = ? WHERE workflow_id = ?`, status, workflowID)
		}
		if err != nil {
			return wrapDBError("update_workflow_status", err)
		}
		wf, err = getWorkflowTx(ctx, tx, workflowID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return wf, nil
}

// GetWorkflowExecution returns the execution identified by workflowID.
func (s *Store) GetWorkflowExecution(ctx context.Context, workflowID string) (*models.WorkflowExecution, error) {
	var wf *models.WorkflowExecution
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		wf, err = getWorkflowTx(ctx, tx, workflowID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return wf, nil
}

// GetRunningWorkflows returns every WorkflowExecution currently in the
// 'running' (or 'started') state — used by the operation tracker to let
// a restarted process offer recovery.
func (s *Store) GetRunningWorkflows(ctx context.Context) ([]*models.WorkflowExecution, error) {
	var out []*models.WorkflowExecution
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT workflow_id, COALESCE(epic_num,0), COALESCE(story_num,0), name, status,
			       started_at, COALESCE(completed_at,''), COALESCE(duration_ms,0),
			       COALESCE(output,''), COALESCE(error,'')
			FROM workflow_executions WHERE status IN ('started','running')
			ORDER BY started_at
		`)
		if err != nil {
			return wrapDBError("get_running_workflows", err)
		}
		defer func() { _ = rows.Close() }()

		for rows.Next() {
			wf, err := scanWorkflow(rows)
			if err != nil {
				return err
			}
			out = append(out, wf)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// WorkflowMetrics aggregates executions by name.
type WorkflowMetrics struct {
	TotalRuns     int
	CompletedRuns int
	FailedRuns    int
	AvgDurationMS float64
}

// GetWorkflowMetrics aggregates every execution with the given name.
func (s *Store) GetWorkflowMetrics(ctx context.Context, name string) (WorkflowMetrics, error) {
	var m WorkflowMetrics
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			SELECT COUNT(*),
			       COALESCE(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), 0),
			       COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0),
			       COALESCE(AVG(duration_ms), 0)
			FROM workflow_executions WHERE name = ?
		`, name)
		return wrapDBError("get_workflow_metrics", row.Scan(&m.TotalRuns, &m.CompletedRuns, &m.FailedRuns, &m.AvgDurationMS))
	})
	if err != nil {
		return WorkflowMetrics{}, err
	}
	return m, nil
}

func getWorkflowTx(ctx context.Context, tx *sql.Tx, workflowID string) (*models.WorkflowExecution, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT workflow_id, COALESCE(epic_num,0), COALESCE(story_num,0), name, status,
		       started_at, COALESCE(completed_at,''), COALESCE(duration_ms,0),
		       COALESCE(output,''), COALESCE(error,'')
		FROM workflow_executions WHERE workflow_id = ?
	`, workflowID)

	var wf models.WorkflowExecution
	var status string
	if err := row.Scan(&wf.WorkflowID, &wf.EpicNum, &wf.StoryNum, &wf.Name, &status,
		&wf.StartedAt, &wf.CompletedAt, &wf.DurationMS, &wf.Output, &wf.Error); err != nil {
		return nil, wrapDBError("get_workflow_execution", err)
	}
	wf.Status = models.WorkflowStatus(status)
	return &wf, nil
}

func scanWorkflow(rows *sql.Rows) (*models.WorkflowExecution, error) {
	var wf models.WorkflowExecution
	var status string
	if err := rows.Scan(&wf.WorkflowID, &wf.EpicNum, &wf.StoryNum, &wf.Name, &status,
		&wf.StartedAt, &wf.CompletedAt, &wf.DurationMS, &wf.Output, &wf.Error); err != nil {
		return nil, wrapDBError("scan_workflow_execution", err)
	}
	wf.Status = models.WorkflowStatus(status)
	return &wf, nil
}
