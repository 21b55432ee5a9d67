// Package query is a read-only façade over the state store exposing
// ergonomic aggregates: progress, velocity, burndown, and active-work
// summaries. It never writes.
package query

import (
	"context"

	"github.com/gao-dev/gaodev/internal/models"
	"github.com/gao-dev/gaodev/internal/store"
)

// Layer wraps a *store.Store with read-only aggregation helpers.
type Layer struct {
	st *store.Store
}

// New builds a Layer over an already-open Store.
func New(st *store.Store) *Layer {
	return &Layer{st: st}
}

// GetStoriesByStatus delegates to the store when no epic filter is
// given; otherwise it filters the epic's stories in memory.
func (l *Layer) GetStoriesByStatus(ctx context.Context, status models.StoryStatus, epicNum, limit, offset int) ([]*models.Story, error) {
	if epicNum <= 0 {
		return l.st.GetStoriesByStatus(ctx, status, limit, offset)
	}
	all, err := l.st.GetStoriesByEpic(ctx, epicNum)
	if err != nil {
		return nil, err
	}
	var out []*models.Story
	for _, st := range all {
		if st.Status == status {
			out = append(out, st)
		}
	}
	return paginate(out, limit, offset), nil
}

func paginate(stories []*models.Story, limit, offset int) []*models.Story {
	if offset >= len(stories) {
		return nil
	}
	end := offset + limit
	if limit <= 0 || end > len(stories) {
		end = len(stories)
	}
	return stories[offset:end]
}

// EpicProgress is the dense progress record for one epic.
type EpicProgress struct {
	EpicNum      int
	Completed    int
	Total        int
	Percentage   float64
	StoriesDone  int
	StoriesTotal int
}

// GetEpicProgress returns the progress record for one epic.
func (l *Layer) GetEpicProgress(ctx context.Context, epicNum int) (EpicProgress, error) {
	epic, err := l.st.GetEpic(ctx, epicNum)
	if err != nil {
		return EpicProgress{}, err
	}
	stories, err := l.st.GetStoriesByEpic(ctx, epicNum)
	if err != nil {
		return EpicProgress{}, err
	}
	done := 0
	for _, s := range stories {
		if s.Status == models.StoryDone {
			done++
		}
	}
	return EpicProgress{
		EpicNum:      epicNum,
		Completed:    epic.CompletedPoints,
		Total:        epic.TotalPoints,
		Percentage:   epic.Progress(),
		StoriesDone:  done,
		StoriesTotal: len(stories),
	}, nil
}

// GetSprintVelocity delegates to the store.
func (l *Layer) GetSprintVelocity(ctx context.Context, sprintNum int) (int, error) {
	return l.st.SprintVelocity(ctx, sprintNum)
}

// SprintSummary is a dense per-sprint aggregate.
type SprintSummary struct {
	SprintNum         int
	Velocity          int
	CompletionRate    float64
	RemainingPoints   int
	StoriesDone       int
	StoriesInProgress int
	StoriesBlocked    int
	StoriesPending    int
}

// GetSprintSummary computes velocity, remaining, and status buckets for
// a sprint in one call.
func (l *Layer) GetSprintSummary(ctx context.Context, sprintNum int) (SprintSummary, error) {
	burndown, err := l.st.SprintBurndown(ctx, sprintNum)
	if err != nil {
		return SprintSummary{}, err
	}
	velocity, err := l.st.SprintVelocity(ctx, sprintNum)
	if err != nil {
		return SprintSummary{}, err
	}
	rate, err := l.st.SprintCompletionRate(ctx, sprintNum)
	if err != nil {
		return SprintSummary{}, err
	}
	stories, err := l.st.GetStoriesBySprint(ctx, sprintNum)
	if err != nil {
		return SprintSummary{}, err
	}

	sum := SprintSummary{
		SprintNum:       sprintNum,
		Velocity:        velocity,
		CompletionRate:  rate,
		RemainingPoints: burndown.RemainingPoints,
	}
	for _, st := range stories {
		switch st.Status {
		case models.StoryDone:
			sum.StoriesDone++
		case models.StoryInProgress:
			sum.StoriesInProgress++
		case models.StoryBlocked:
			sum.StoriesBlocked++
		case models.StoryPending:
			sum.StoriesPending++
		}
	}
	return sum, nil
}

// EpicSummary is a dense per-epic aggregate.
type EpicSummary struct {
	EpicNum         int
	Progress        float64
	Velocity        float64
	StoriesDone     int
	StoriesTotal    int
	RemainingPoints int
}

// GetEpicSummary computes velocity and remaining points for an epic.
func (l *Layer) GetEpicSummary(ctx context.Context, epicNum int) (EpicSummary, error) {
	epic, err := l.st.GetEpic(ctx, epicNum)
	if err != nil {
		return EpicSummary{}, err
	}
	velocity, err := l.st.EpicVelocity(ctx, epicNum)
	if err != nil {
		return EpicSummary{}, err
	}
	stories, err := l.st.GetStoriesByEpic(ctx, epicNum)
	if err != nil {
		return EpicSummary{}, err
	}
	done := 0
	for _, s := range stories {
		if s.Status == models.StoryDone {
			done++
		}
	}
	return EpicSummary{
		EpicNum:         epicNum,
		Progress:        epic.Progress(),
		Velocity:        velocity,
		StoriesDone:     done,
		StoriesTotal:    len(stories),
		RemainingPoints: epic.TotalPoints - epic.CompletedPoints,
	}, nil
}

// ActiveWork is the single-call snapshot of everything currently moving.
type ActiveWork struct {
	StoriesInProgress []*models.Story
	StoriesBlocked    []*models.Story
	ActiveEpics       []*models.Epic
	CurrentSprint     *models.Sprint
}

// GetAllActiveWork returns in-progress and blocked stories, active
// epics, and the current sprint (if any) in a single call.
func (l *Layer) GetAllActiveWork(ctx context.Context) (ActiveWork, error) {
	inProgress, err := l.st.GetInProgressStories(ctx)
	if err != nil {
		return ActiveWork{}, err
	}
	blocked, err := l.st.GetBlockedStories(ctx)
	if err != nil {
		return ActiveWork{}, err
	}
	epics, err := l.st.GetActiveEpics(ctx)
	if err != nil {
		return ActiveWork{}, err
	}
	sprint, err := l.st.GetCurrentSprint(ctx)
	if err != nil {
		return ActiveWork{}, err
	}
	return ActiveWork{
		StoriesInProgress: inProgress,
		StoriesBlocked:    blocked,
		ActiveEpics:       epics,
		CurrentSprint:     sprint,
	}, nil
}
