package store

import (
	"context"
	"database/sql"

	"github.com/gao-dev/gaodev/internal/models"
)

// GetStateChanges returns the audit trail for one record, newest last.
func (s *Store) GetStateChanges(ctx context.Context, tableName, recordID string) ([]*models.StateChange, error) {
	var out []*models.StateChange
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT id, table_name, record_id, field, COALESCE(old_value,''), COALESCE(new_value,''),
			       COALESCE(changed_by,''), changed_at, COALESCE(reason,'')
			FROM state_changes WHERE table_name = ? AND record_id = ?
			ORDER BY id
		`, tableName, recordID)
		if err != nil {
			return wrapDBError("get_state_changes", err)
		}
		defer func() { _ = rows.Close() }()

		for rows.Next() {
			var c models.StateChange
			if err := rows.Scan(&c.ID, &c.TableName, &c.RecordID, &c.Field, &c.OldValue, &c.NewValue,
				&c.ChangedBy, &c.ChangedAt, &c.Reason); err != nil {
				return wrapDBError("get_state_changes", err)
			}
			out = append(out, &c)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
