// Package models defines the typed entities persisted by the state store.
//
// Values are plain data carriers: they hold no database handle and are
// safe to copy and pass across package boundaries. Derived fields (such
// as Epic.Progress) are computed on read, never persisted.
package models

import "fmt"

// EpicStatus enumerates the lifecycle states of an Epic.
type EpicStatus string

const (
	EpicPlanned   EpicStatus = "planned"
	EpicActive    EpicStatus = "active"
	EpicCompleted EpicStatus = "completed"
	EpicCancelled EpicStatus = "cancelled"
)

// StoryStatus enumerates the lifecycle states of a Story.
type StoryStatus string

const (
	StoryPending    StoryStatus = "pending"
	StoryInProgress StoryStatus = "in_progress"
	StoryDone       StoryStatus = "done"
	StoryBlocked    StoryStatus = "blocked"
	StoryCancelled  StoryStatus = "cancelled"
)

// StoryPriority enumerates the allowed priority tiers of a Story.
type StoryPriority string

const (
	PriorityP0 StoryPriority = "P0"
	PriorityP1 StoryPriority = "P1"
	PriorityP2 StoryPriority = "P2"
	PriorityP3 StoryPriority = "P3"
)

// SprintStatus enumerates the lifecycle states of a Sprint.
type SprintStatus string

const (
	SprintPlanned   SprintStatus = "planned"
	SprintActive    SprintStatus = "active"
	SprintCompleted SprintStatus = "completed"
	SprintCancelled SprintStatus = "cancelled"
)

// WorkflowStatus enumerates the lifecycle states of a WorkflowExecution.
type WorkflowStatus string

const (
	WorkflowStarted   WorkflowStatus = "started"
	WorkflowRunning   WorkflowStatus = "running"
	WorkflowCompleted WorkflowStatus = "completed"
	WorkflowFailed    WorkflowStatus = "failed"
	WorkflowCancelled WorkflowStatus = "cancelled"
)

// LearningStatus enumerates the lifecycle states of a Learning.
type LearningStatus string

const (
	LearningActive     LearningStatus = "active"
	LearningInactive   LearningStatus = "inactive"
	LearningSuperseded LearningStatus = "superseded"
)

func ValidEpicStatus(s string) bool {
	switch EpicStatus(s) {
	case EpicPlanned, EpicActive, EpicCompleted, EpicCancelled:
		return true
	}
	return false
}

func ValidStoryStatus(s string) bool {
	switch StoryStatus(s) {
	case StoryPending, StoryInProgress, StoryDone, StoryBlocked, StoryCancelled:
		return true
	}
	return false
}

func ValidStoryPriority(s string) bool {
	switch StoryPriority(s) {
	case PriorityP0, PriorityP1, PriorityP2, PriorityP3:
		return true
	}
	return false
}

func ValidSprintStatus(s string) bool {
	switch SprintStatus(s) {
	case SprintPlanned, SprintActive, SprintCompleted, SprintCancelled:
		return true
	}
	return false
}

func ValidWorkflowStatus(s string) bool {
	switch WorkflowStatus(s) {
	case WorkflowStarted, WorkflowRunning, WorkflowCompleted, WorkflowFailed, WorkflowCancelled:
		return true
	}
	return false
}

// Epic is a named unit of work comprising multiple Stories under a feature slug.
type Epic struct {
	EpicNum         int
	Name            string
	Feature         string
	Status          EpicStatus
	TotalPoints     int
	CompletedPoints int
	FilePath        string
	ContentHash     string
	CreatedAt       string
	UpdatedAt       string
}

// Progress returns the completion percentage, 0 when TotalPoints is 0.
func (e *Epic) Progress() float64 {
	if e.TotalPoints <= 0 {
		return 0
	}
	return 100 * float64(e.CompletedPoints) / float64(e.TotalPoints)
}

// Story is the smallest work item, uniquely identified by (epic, story_num).
type Story struct {
	EpicNum     int
	StoryNum    int
	Title       string
	Status      StoryStatus
	Priority    StoryPriority
	Points      int
	Owner       string
	ContentHash string
	CreatedAt   string
	UpdatedAt   string
}

// FullID renders the story's composite identity as "epic.story_num".
func (s *Story) FullID() string {
	return fmt.Sprintf("%d.%d", s.EpicNum, s.StoryNum)
}

// Sprint is a time-boxed window with a begin/end date and assigned Stories.
type Sprint struct {
	SprintNum int
	Name      string
	StartDate string
	EndDate   string
	Status    SprintStatus
}

// WorkflowExecution records one run of a long-running external operation.
type WorkflowExecution struct {
	WorkflowID    string
	EpicNum       int
	StoryNum      int
	Name          string
	Status        WorkflowStatus
	StartedAt     string
	CompletedAt   string
	DurationMS    int64
	Output        string
	Error         string
}

// StateChange is an append-only audit record of one field transition.
type StateChange struct {
	ID        int64
	TableName string
	RecordID  string
	Field     string
	OldValue  string
	NewValue  string
	ChangedBy string
	ChangedAt string
	Reason    string
}

// Learning is an indexed knowledge item with a confidence-weighted decay model.
type Learning struct {
	ID               string
	Topic            string
	Category         string
	Text             string
	ConfidenceScore  float64
	SuccessRate      float64
	ApplicationCount int
	DecayFactor      float64
	Status           LearningStatus
	SupersededBy     string
	IndexedAt        string
	Metadata         map[string]any
}

// LearningApplication records one observed use of a Learning.
type LearningApplication struct {
	ID         int64
	LearningID string
	AppliedAt  string
	Outcome    string
}
