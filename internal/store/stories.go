package store

import (
	"context"
	"database/sql"
	"strings"

	"github.com/gao-dev/gaodev/internal/models"
)

// CreateStoryParams carries the optional inputs to CreateStory.
type CreateStoryParams struct {
	EpicNum  int
	StoryNum int
	Title    string
	Status   models.StoryStatus
	Owner    string
	Points   int
	Priority models.StoryPriority
	Sprint   int // 0 means unassigned
}

// CreateStory inserts a new Story under an existing Epic.
func (s *Store) CreateStory(ctx context.Context, p CreateStoryParams) (*models.Story, error) {
	if p.Status == "" {
		p.Status = models.StoryPending
	}
	if p.Priority == "" {
		p.Priority = models.PriorityP1
	}
	if !models.ValidStoryStatus(string(p.Status)) {
		return nil, NewValidationError("status", "not a valid story status")
	}
	if !models.ValidStoryPriority(string(p.Priority)) {
		return nil, NewValidationError("priority", "not a valid story priority")
	}

	var story *models.Story
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		// Always insert as pending first: a plain INSERT never fires the
		// AFTER UPDATE OF status triggers (invariant 7), so a story
		// created directly in a non-pending status (e.g. "done") still
		// needs to transition through an UPDATE to produce its audit row
		// and to let the epic's completed_points trigger recompute.
		_, err := tx.ExecContext(ctx, `
			INSERT INTO stories (epic_num, story_num, title, status, priority, points, owner)
			VALUES (?, ?, ?, 'pending', ?, ?, NULLIF(?, ''))
		`, p.EpicNum, p.StoryNum, p.Title, p.Priority, p.Points, p.Owner)
		if err != nil {
			if isUniqueViolation(err) {
				return wrapDBError("create_story", ErrConflict)
			}
			if isForeignKeyViolation(err) {
				return wrapDBError("create_story", ErrNotFound)
			}
			return wrapDBError("create_story", err)
		}

		if p.Status != models.StoryPending {
			if _, err := tx.ExecContext(ctx,
				`UPDATE stories SET status = ? WHERE epic_num = ? AND story_num = ?`,
				p.Status, p.EpicNum, p.StoryNum); err != nil {
				return wrapDBError("create_story", err)
			}
		}

		if p.Sprint > 0 {
			if err := assignStoryTx(ctx, tx, p.EpicNum, p.StoryNum, p.Sprint); err != nil {
				return err
			}
		}

		story, err = getStoryTx(ctx, tx, p.EpicNum, p.StoryNum)
		return err
	})
	if err != nil {
		return nil, err
	}
	return story, nil
}

// GetStory returns the Story identified by (epicNum, storyNum).
func (s *Store) GetStory(ctx context.Context, epicNum, storyNum int) (*models.Story, error) {
	var story *models.Story
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		story, err = getStoryTx(ctx, tx, epicNum, storyNum)
		return err
	})
	if err != nil {
		return nil, err
	}
	return story, nil
}

func getStoryTx(ctx context.Context, tx *sql.Tx, epicNum, storyNum int) (*models.Story, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT epic_num, story_num, title, status, priority, points,
		       COALESCE(owner, ''), COALESCE(content_hash, ''), created_at, updated_at
		FROM stories WHERE epic_num = ? AND story_num = ?
	`, epicNum, storyNum)
	return scanStory(row)
}

func scanStory(row *sql.Row) (*models.Story, error) {
	var st models.Story
	var status, priority string
	if err := row.Scan(&st.EpicNum, &st.StoryNum, &st.Title, &status, &priority, &st.Points,
		&st.Owner, &st.ContentHash, &st.CreatedAt, &st.UpdatedAt); err != nil {
		return nil, wrapDBError("get_story", err)
	}
	st.Status = models.StoryStatus(status)
	st.Priority = models.StoryPriority(priority)
	return &st, nil
}

// UpdateStoryStatus transitions a Story's status, firing the audit and
// epic-points triggers. Updating to the current status still succeeds
// and still produces one audit row with matching old/new values.
func (s *Store) UpdateStoryStatus(ctx context.Context, epicNum, storyNum int, status models.StoryStatus) (*models.Story, error) {
	if !models.ValidStoryStatus(string(status)) {
		return nil, NewValidationError("status", "not a valid story status")
	}
	return s.updateStoryField(ctx, epicNum, storyNum, "status", status)
}

// UpdateStoryOwner reassigns a Story's owner.
func (s *Store) UpdateStoryOwner(ctx context.Context, epicNum, storyNum int, owner string) (*models.Story, error) {
	return s.updateStoryField(ctx, epicNum, storyNum, "owner", owner)
}

// UpdateStoryPoints changes a Story's point estimate.
func (s *Store) UpdateStoryPoints(ctx context.Context, epicNum, storyNum, points int) (*models.Story, error) {
	return s.updateStoryField(ctx, epicNum, storyNum, "points", points)
}

// UpdateStoryHash refreshes a Story's stored content hash, used by the
// markdown syncer to record the last-synced file state.
func (s *Store) UpdateStoryHash(ctx context.Context, epicNum, storyNum int, hash string) (*models.Story, error) {
	return s.updateStoryField(ctx, epicNum, storyNum, "content_hash", hash)
}

func (s *Store) updateStoryField(ctx context.Context, epicNum, storyNum int, field string, value any) (*models.Story, error) {
	var story *models.Story
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE stories SET `+field+` = ? WHERE epic_num = ? AND story_num = ?`,
			value, epicNum, storyNum)
		if err != nil {
			return wrapDBError("update_story_"+field, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return wrapDBError("update_story_"+field, ErrNotFound)
		}
		story, err = getStoryTx(ctx, tx, epicNum, storyNum)
		return err
	})
	if err != nil {
		return nil, err
	}
	return story, nil
}

// GetStoriesByStatus returns Stories matching status, bounded by limit/offset.
func (s *Store) GetStoriesByStatus(ctx context.Context, status models.StoryStatus, limit, offset int) ([]*models.Story, error) {
	return s.queryStories(ctx, `
		SELECT epic_num, story_num, title, status, priority, points,
		       COALESCE(owner, ''), COALESCE(content_hash, ''), created_at, updated_at
		FROM stories WHERE status = ? ORDER BY epic_num, story_num LIMIT ? OFFSET ?
	`, status, limit, offset)
}

// GetStoriesByEpic returns every Story under an Epic.
func (s *Store) GetStoriesByEpic(ctx context.Context, epicNum int) ([]*models.Story, error) {
	return s.queryStories(ctx, `
		SELECT epic_num, story_num, title, status, priority, points,
		       COALESCE(owner, ''), COALESCE(content_hash, ''), created_at, updated_at
		FROM stories WHERE epic_num = ? ORDER BY story_num
	`, epicNum)
}

// GetStoriesBySprint returns every Story assigned to a Sprint.
func (s *Store) GetStoriesBySprint(ctx context.Context, sprintNum int) ([]*models.Story, error) {
	return s.queryStories(ctx, `
		SELECT st.epic_num, st.story_num, st.title, st.status, st.priority, st.points,
		       COALESCE(st.owner, ''), COALESCE(st.content_hash, ''), st.created_at, st.updated_at
		FROM stories st
		JOIN story_assignments sa ON sa.epic_num = st.epic_num AND sa.story_num = st.story_num
		WHERE sa.sprint_num = ?
		ORDER BY st.epic_num, st.story_num
	`, sprintNum)
}

// GetInProgressStories returns every Story with status = 'in_progress'.
func (s *Store) GetInProgressStories(ctx context.Context) ([]*models.Story, error) {
	return s.GetStoriesByStatus(ctx, models.StoryInProgress, 100, 0)
}

// GetBlockedStories returns every Story with status = 'blocked'.
func (s *Store) GetBlockedStories(ctx context.Context) ([]*models.Story, error) {
	return s.GetStoriesByStatus(ctx, models.StoryBlocked, 100, 0)
}

func (s *Store) queryStories(ctx context.Context, query string, args ...any) ([]*models.Story, error) {
	var out []*models.Story
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return wrapDBError("query_stories", err)
		}
		defer func() { _ = rows.Close() }()

		for rows.Next() {
			var st models.Story
			var status, priority string
			if err := rows.Scan(&st.EpicNum, &st.StoryNum, &st.Title, &status, &priority, &st.Points,
				&st.Owner, &st.ContentHash, &st.CreatedAt, &st.UpdatedAt); err != nil {
				return wrapDBError("query_stories", err)
			}
			st.Status = models.StoryStatus(status)
			st.Priority = models.StoryPriority(priority)
			out = append(out, &st)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func isForeignKeyViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
