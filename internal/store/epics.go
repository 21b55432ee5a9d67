package store

import (
	"context"
	"database/sql"

	"github.com/gao-dev/gaodev/internal/models"
)

// CreateEpic inserts a new Epic, returning the stored value.
func (s *Store) CreateEpic(ctx context.Context, epicNum int, name, feature string, totalPoints int) (*models.Epic, error) {
	if epicNum <= 0 {
		return nil, NewValidationError("epic_num", "must be positive")
	}
	if name == "" {
		return nil, NewValidationError("name", "must not be empty")
	}

	var epic *models.Epic
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO epics (epic_num, name, feature, status, total_points, completed_points)
			VALUES (?, ?, ?, 'planned', ?, 0)
		`, epicNum, name, feature, totalPoints)
		if err != nil {
			if isUniqueViolation(err) {
				return wrapDBError("create_epic", ErrConflict)
			}
			return wrapDBError("create_epic", err)
		}
		epic, err = getEpicTx(ctx, tx, epicNum)
		return err
	})
	if err != nil {
		return nil, err
	}
	return epic, nil
}

// GetEpic returns the Epic identified by epicNum.
func (s *Store) GetEpic(ctx context.Context, epicNum int) (*models.Epic, error) {
	var epic *models.Epic
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		epic, err = getEpicTx(ctx, tx, epicNum)
		return err
	})
	if err != nil {
		return nil, err
	}
	return epic, nil
}

func getEpicTx(ctx context.Context, tx *sql.Tx, epicNum int) (*models.Epic, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT epic_num, name, feature, status, total_points, completed_points,
		       COALESCE(file_path, ''), COALESCE(content_hash, ''), created_at, updated_at
		FROM epics WHERE epic_num = ?
	`, epicNum)

	var e models.Epic
	var status string
	if err := row.Scan(&e.EpicNum, &e.Name, &e.Feature, &status, &e.TotalPoints, &e.CompletedPoints,
		&e.FilePath, &e.ContentHash, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, wrapDBError("get_epic", err)
	}
	e.Status = models.EpicStatus(status)
	return &e, nil
}

// UpdateEpicStatus transitions an Epic's status, firing the audit trigger.
func (s *Store) UpdateEpicStatus(ctx context.Context, epicNum int, status models.EpicStatus) (*models.Epic, error) {
	if !models.ValidEpicStatus(string(status)) {
		return nil, NewValidationError("status", "not a valid epic status")
	}
	var epic *models.Epic
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE epics SET status = ? WHERE epic_num = ?`, status, epicNum)
		if err != nil {
			return wrapDBError("update_epic_status", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return wrapDBError("update_epic_status", ErrNotFound)
		}
		epic, err = getEpicTx(ctx, tx, epicNum)
		return err
	})
	if err != nil {
		return nil, err
	}
	return epic, nil
}

// UpdateEpicPoints directly adjusts an Epic's point counters. This is an
// importer-only escape hatch: status-driven recomputation is otherwise
// owned exclusively by the trigger in the schema package.
func (s *Store) UpdateEpicPoints(ctx context.Context, epicNum, totalPoints, completedPoints int) (*models.Epic, error) {
	var epic *models.Epic
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE epics SET total_points = ?, completed_points = ? WHERE epic_num = ?`,
			totalPoints, completedPoints, epicNum)
		if err != nil {
			return wrapDBError("update_epic_points", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return wrapDBError("update_epic_points", ErrNotFound)
		}
		epic, err = getEpicTx(ctx, tx, epicNum)
		return err
	})
	if err != nil {
		return nil, err
	}
	return epic, nil
}

// GetActiveEpics returns every Epic with status = 'active'.
func (s *Store) GetActiveEpics(ctx context.Context) ([]*models.Epic, error) {
	return s.queryEpics(ctx, `
		SELECT epic_num, name, feature, status, total_points, completed_points,
		       COALESCE(file_path, ''), COALESCE(content_hash, ''), created_at, updated_at
		FROM epics WHERE status = 'active' ORDER BY epic_num
	`)
}

// GetEpicsByFeature returns every Epic under the given feature slug.
func (s *Store) GetEpicsByFeature(ctx context.Context, feature string) ([]*models.Epic, error) {
	return s.queryEpics(ctx, `
		SELECT epic_num, name, feature, status, total_points, completed_points,
		       COALESCE(file_path, ''), COALESCE(content_hash, ''), created_at, updated_at
		FROM epics WHERE feature = ? ORDER BY epic_num
	`, feature)
}

func (s *Store) queryEpics(ctx context.Context, query string, args ...any) ([]*models.Epic, error) {
	var out []*models.Epic
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return wrapDBError("query_epics", err)
		}
		defer func() { _ = rows.Close() }()

		for rows.Next() {
			var e models.Epic
			var status string
			if err := rows.Scan(&e.EpicNum, &e.Name, &e.Feature, &status, &e.TotalPoints, &e.CompletedPoints,
				&e.FilePath, &e.ContentHash, &e.CreatedAt, &e.UpdatedAt); err != nil {
				return wrapDBError("query_epics", err)
			}
			e.Status = models.EpicStatus(status)
			out = append(out, &e)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
