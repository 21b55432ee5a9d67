package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/gao-dev/gaodev/internal/models"
)

// CreateLearning inserts a new active Learning.
func (s *Store) CreateLearning(ctx context.Context, l models.Learning) (*models.Learning, error) {
	if l.Metadata == nil {
		l.Metadata = map[string]any{}
	}
	metaJSON, err := json.Marshal(l.Metadata)
	if err != nil {
		return nil, NewValidationError("metadata", "not serializable")
	}
	if l.Status == "" {
		l.Status = models.LearningActive
	}
	if l.DecayFactor == 0 {
		l.DecayFactor = 1.0
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO learnings (id, topic, category, text, confidence_score, success_rate,
			                        application_count, decay_factor, status, metadata)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, l.ID, l.Topic, l.Category, l.Text, l.ConfidenceScore, l.SuccessRate,
			l.ApplicationCount, l.DecayFactor, l.Status, string(metaJSON))
		if err != nil {
			if isUniqueViolation(err) {
				return wrapDBError("create_learning", ErrConflict)
			}
			return wrapDBError("create_learning", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetLearning(ctx, l.ID)
}

// GetLearning returns the Learning identified by id.
func (s *Store) GetLearning(ctx context.Context, id string) (*models.Learning, error) {
	var out *models.Learning
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			SELECT id, topic, category, text, confidence_score, success_rate,
			       application_count, decay_factor, status, COALESCE(superseded_by, ''), indexed_at, metadata
			FROM learnings WHERE id = ?
		`, id)

		var l models.Learning
		var status, metaJSON string
		if err := row.Scan(&l.ID, &l.Topic, &l.Category, &l.Text, &l.ConfidenceScore, &l.SuccessRate,
			&l.ApplicationCount, &l.DecayFactor, &status, &l.SupersededBy, &l.IndexedAt, &metaJSON); err != nil {
			return wrapDBError("get_learning", err)
		}
		l.Status = models.LearningStatus(status)
		l.Metadata = map[string]any{}
		if metaJSON != "" {
			_ = json.Unmarshal([]byte(metaJSON), &l.Metadata)
		}
		out = &l
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RecordLearningApplication inserts one LearningApplication row and
// increments the parent learning's application_count.
func (s *Store) RecordLearningApplication(ctx context.Context, learningID, outcome string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO learning_applications (learning_id, outcome) VALUES (?, ?)`, learningID, outcome); err != nil {
			if isForeignKeyViolation(err) {
				return wrapDBError("record_learning_application", ErrNotFound)
			}
			return wrapDBError("record_learning_application", err)
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE learnings SET application_count = application_count + 1 WHERE id = ?`, learningID)
		return wrapDBError("record_learning_application", err)
	})
}
