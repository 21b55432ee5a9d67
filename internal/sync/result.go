package sync

import "fmt"

// Kind discriminates the outcome of one SyncFromMarkdown call, replacing
// the exceptions-for-control-flow pattern ("not found" vs "skipped" vs
// "conflict") the source uses for the same decision.
type Kind int

const (
	Created Kind = iota
	Updated
	Skipped
	Conflict
)

func (k Kind) String() string {
	switch k {
	case Created:
		return "created"
	case Updated:
		return "updated"
	case Skipped:
		return "skipped"
	case Conflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// SkipReason qualifies a Skipped result.
type SkipReason string

const (
	NoChanges SkipReason = "no_changes"
)

// FieldDiff is one conflicting field between a Markdown header and the
// stored Story.
type FieldDiff struct {
	Field   string
	DBValue string
	MDValue string
}

// Result is the outcome of one sync operation.
type Result struct {
	Kind        Kind
	SkipReason  SkipReason
	Conflicts   []FieldDiff
	EpicNum     int
	StoryNum    int
	ContentHash string
}

func (r Result) String() string {
	switch r.Kind {
	case Skipped:
		return fmt.Sprintf("skipped(%s)", r.SkipReason)
	case Conflict:
		return fmt.Sprintf("conflict(%d fields)", len(r.Conflicts))
	default:
		return r.Kind.String()
	}
}
