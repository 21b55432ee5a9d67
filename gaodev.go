// Package gaodev is the public entry point for the project state engine:
// a durable store of epic/story/sprint work items, kept in sync with a
// Markdown representation, fed by a one-shot legacy importer, read
// through a metrics layer, and maintained by a periodic learning job.
package gaodev

import (
	"context"

	"go.uber.org/zap"

	"github.com/gao-dev/gaodev/internal/config"
	"github.com/gao-dev/gaodev/internal/importer"
	"github.com/gao-dev/gaodev/internal/learning"
	"github.com/gao-dev/gaodev/internal/models"
	"github.com/gao-dev/gaodev/internal/operations"
	"github.com/gao-dev/gaodev/internal/query"
	"github.com/gao-dev/gaodev/internal/schema"
	"github.com/gao-dev/gaodev/internal/store"
	"github.com/gao-dev/gaodev/internal/sync"
)

// Re-exported model types, so callers never import internal/models directly.
type (
	Epic                = models.Epic
	Story               = models.Story
	Sprint              = models.Sprint
	WorkflowExecution   = models.WorkflowExecution
	StateChange         = models.StateChange
	Learning            = models.Learning
	LearningApplication = models.LearningApplication
)

// Re-exported status/priority enums.
const (
	EpicPlanned   = models.EpicPlanned
	EpicActive    = models.EpicActive
	EpicCompleted = models.EpicCompleted
	EpicCancelled = models.EpicCancelled

	StoryPending    = models.StoryPending
	StoryInProgress = models.StoryInProgress
	StoryDone       = models.StoryDone
	StoryBlocked    = models.StoryBlocked
	StoryCancelled  = models.StoryCancelled

	PriorityP0 = models.PriorityP0
	PriorityP1 = models.PriorityP1
	PriorityP2 = models.PriorityP2
	PriorityP3 = models.PriorityP3
)

// SyncPolicy re-exports the markdown syncer's conflict policy.
type SyncPolicy = sync.Policy

const (
	DatabaseWins = sync.DatabaseWins
	MarkdownWins = sync.MarkdownWins
	Manual       = sync.Manual
)

// Engine wires together every component of the project state engine:
// the store (C3), the query layer (C4), the markdown syncer (C6), the
// legacy importer (C7), the learning maintenance job (C8), and the
// operation tracker (C9), all sharing one open database handle.
type Engine struct {
	Store      *store.Store
	Query      *query.Layer
	Sync       *sync.Syncer
	Importer   *importer.Importer
	Learning   *learning.Job
	Operations *operations.Tracker

	cfg config.StoreConfig
	log *zap.Logger
}

// Open builds a StoreConfig from configPath, creates and migrates the
// database at cfg.DBPath if the file does not exist yet (an existing
// file is opened as it is, without applying migrations), and wires
// every component over it.
func Open(ctx context.Context, configPath string, log *zap.Logger) (*Engine, error) {
	if log == nil {
		log = zap.NewNop()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	if err := store.Init(ctx, cfg.DBPath); err != nil {
		return nil, err
	}
	st, err := store.Open(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	return &Engine{
		Store:      st,
		Query:      query.New(st),
		Sync:       sync.New(st, sync.DatabaseWins, cfg.ConflictLogPath, log),
		Importer:   importer.New(st, log),
		Learning:   learning.New(st, log),
		Operations: operations.New(st, log),
		cfg:        cfg,
		log:        log,
	}, nil
}

// Close releases the underlying database connection.
func (e *Engine) Close() error {
	return e.Store.Close()
}

// Validate checks the open database against the expected schema shape.
func (e *Engine) Validate(ctx context.Context) (schema.Result, error) {
	return schema.Validate(ctx, e.Store.DB())
}

// WatchStories registers a filesystem watch over dir for Markdown story
// files matching glob. No file is synced until the caller calls Run on
// the returned Watcher. The caller owns the Watcher's lifetime and must
// Close it when done.
func (e *Engine) WatchStories(dir, glob string) (*sync.Watcher, error) {
	return sync.NewWatcher(e.Sync, dir, glob)
}

// Config returns the Engine's resolved, immutable configuration.
func (e *Engine) Config() config.StoreConfig {
	return e.cfg
}
