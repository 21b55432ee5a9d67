package store

import (
	"context"
	"database/sql"

	"github.com/gao-dev/gaodev/internal/models"
)

// CreateSprint inserts a new Sprint. end_date must be strictly after
// start_date; this is checked before the insert so the caller gets a
// ValidationError rather than a CHECK-constraint database error.
func (s *Store) CreateSprint(ctx context.Context, sprintNum int, name, startDate, endDate string) (*models.Sprint, error) {
	if endDate <= startDate {
		return nil, NewValidationError("end_date", "must be after start_date")
	}

	var sprint *models.Sprint
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sprints (sprint_num, name, start_date, end_date, status)
			VALUES (?, ?, ?, ?, 'planned')
		`, sprintNum, name, startDate, endDate)
		if err != nil {
			if isUniqueViolation(err) {
				return wrapDBError("create_sprint", ErrConflict)
			}
			return wrapDBError("create_sprint", err)
		}
		sprint, err = getSprintTx(ctx, tx, sprintNum)
		return err
	})
	if err != nil {
		return nil, err
	}
	return sprint, nil
}

func getSprintTx(ctx context.Context, tx *sql.Tx, sprintNum int) (*models.Sprint, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT sprint_num, name, start_date, end_date, status FROM sprints WHERE sprint_num = ?`,
		sprintNum)
	var sp models.Sprint
	var status string
	if err := row.Scan(&sp.SprintNum, &sp.Name, &sp.StartDate, &sp.EndDate, &status); err != nil {
		return nil, wrapDBError("get_sprint", err)
	}
	sp.Status = models.SprintStatus(status)
	return &sp, nil
}

// GetCurrentSprint returns the sprint with status = 'active', or nil if
// none is active.
func (s *Store) GetCurrentSprint(ctx context.Context) (*models.Sprint, error) {
	var sprint *models.Sprint
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			`SELECT sprint_num, name, start_date, end_date, status FROM sprints WHERE status = 'active' LIMIT 1`)
		var sp models.Sprint
		var status string
		err := row.Scan(&sp.SprintNum, &sp.Name, &sp.StartDate, &sp.EndDate, &status)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return wrapDBError("get_current_sprint", err)
		}
		sp.Status = models.SprintStatus(status)
		sprint = &sp
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sprint, nil
}

// AssignStoryToSprint removes any existing assignment for the story and
// inserts a fresh one, touching the story's updated_at, both within one
// transaction.
func (s *Store) AssignStoryToSprint(ctx context.Context, epicNum, storyNum, sprintNum int) (*models.Story, error) {
	var story *models.Story
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := assignStoryTx(ctx, tx, epicNum, storyNum, sprintNum); err != nil {
			return err
		}
		var err error
		story, err = getStoryTx(ctx, tx, epicNum, storyNum)
		return err
	})
	if err != nil {
		return nil, err
	}
	return story, nil
}

func assignStoryTx(ctx context.Context, tx *sql.Tx, epicNum, storyNum, sprintNum int) error {
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM story_assignments WHERE epic_num = ? AND story_num = ?`, epicNum, storyNum); err != nil {
		return wrapDBError("assign_story_to_sprint", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO story_assignments (sprint_num, epic_num, story_num) VALUES (?, ?, ?)`,
		sprintNum, epicNum, storyNum); err != nil {
		if isForeignKeyViolation(err) {
			return wrapDBError("assign_story_to_sprint", ErrNotFound)
		}
		return wrapDBError("assign_story_to_sprint", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE stories SET updated_at = CURRENT_TIMESTAMP WHERE epic_num = ? AND story_num = ?`,
		epicNum, storyNum); err != nil {
		return wrapDBError("assign_story_to_sprint", err)
	}
	return nil
}

// UnassignStory removes a story's sprint assignment, if any.
func (s *Store) UnassignStory(ctx context.Context, epicNum, storyNum int) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`DELETE FROM story_assignments WHERE epic_num = ? AND story_num = ?`, epicNum, storyNum)
		if err != nil {
			return wrapDBError("unassign_story", err)
		}
		return nil
	})
}

// SprintVelocity sums points over stories assigned to sprintNum with
// status = 'done'.
func (s *Store) SprintVelocity(ctx context.Context, sprintNum int) (int, error) {
	if _, err := s.GetSprint(ctx, sprintNum); err != nil {
		return 0, err
	}
	var total int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			SELECT COALESCE(SUM(st.points), 0)
			FROM stories st
			JOIN story_assignments sa ON sa.epic_num = st.epic_num AND sa.story_num = st.story_num
			WHERE sa.sprint_num = ? AND st.status = 'done'
		`, sprintNum)
		return wrapDBError("sprint_velocity", row.Scan(&total))
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

// GetSprint returns the Sprint identified by sprintNum.
func (s *Store) GetSprint(ctx context.Context, sprintNum int) (*models.Sprint, error) {
	var sprint *models.Sprint
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		sprint, err = getSprintTx(ctx, tx, sprintNum)
		return err
	})
	if err != nil {
		return nil, err
	}
	return sprint, nil
}

// SprintCompletionRate returns done_stories / total_stories for a
// sprint, 0 when it has no assigned stories.
func (s *Store) SprintCompletionRate(ctx context.Context, sprintNum int) (float64, error) {
	if _, err := s.GetSprint(ctx, sprintNum); err != nil {
		return 0, err
	}
	var total, done int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			SELECT COUNT(*), COALESCE(SUM(CASE WHEN st.status = 'done' THEN 1 ELSE 0 END), 0)
			FROM stories st
			JOIN story_assignments sa ON sa.epic_num = st.epic_num AND sa.story_num = st.story_num
			WHERE sa.sprint_num = ?
		`, sprintNum)
		return wrapDBError("sprint_completion_rate", row.Scan(&total, &done))
	})
	if err != nil {
		return 0, err
	}
	if total == 0 {
		return 0, nil
	}
	return float64(done) / float64(total), nil
}

// Burndown is the (total, completed, remaining, rate) tuple for a sprint.
type Burndown struct {
	TotalPoints     int
	CompletedPoints int
	RemainingPoints int
	CompletionRate  float64
}

// SprintBurndown returns the point-based burndown for a sprint.
func (s *Store) SprintBurndown(ctx context.Context, sprintNum int) (Burndown, error) {
	if _, err := s.GetSprint(ctx, sprintNum); err != nil {
		return Burndown{}, err
	}
	var total, completed int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			SELECT COALESCE(SUM(st.points), 0),
			       COALESCE(SUM(CASE WHEN st.status = 'done' THEN st.points ELSE 0 END), 0)
			FROM stories st
			JOIN story_assignments sa ON sa.epic_num = st.epic_num AND sa.story_num = st.story_num
			WHERE sa.sprint_num = ?
		`, sprintNum)
		return wrapDBError("sprint_burndown", row.Scan(&total, &completed))
	})
	if err != nil {
		return Burndown{}, err
	}
	rate := 0.0
	if total > 0 {
		rate = float64(completed) / float64(total)
	}
	return Burndown{
		TotalPoints:     total,
		CompletedPoints: completed,
		RemainingPoints: total - completed,
		CompletionRate:  rate,
	}, nil
}

// EpicVelocity is done_stories / total_stories over an epic, 0 when empty.
func (s *Store) EpicVelocity(ctx context.Context, epicNum int) (float64, error) {
	var total, done int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			SELECT COUNT(*), COALESCE(SUM(CASE WHEN status = 'done' THEN 1 ELSE 0 END), 0)
			FROM stories WHERE epic_num = ?
		`, epicNum)
		return wrapDBError("epic_velocity", row.Scan(&total, &done))
	})
	if err != nil {
		return 0, err
	}
	if total == 0 {
		return 0, nil
	}
	return float64(done) / float64(total), nil
}
