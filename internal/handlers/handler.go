package handlers

import (
	"context"
	"log/slog"
	"time"

	"cmtools/internal/blocks"
	"cmtools/internal/execution"
	"cmtools/internal/hierarchy"
)

// ChildSpec describes one child an entity's partition produces.
type ChildSpec struct {
	Name      string
	Block     string
	DataQuery string
}

// ScriptResult is the outcome of one script run.
type ScriptResult struct {
	Status     hierarchy.Status
	Diagnostic string
}

// LevelHandler implements level-specific policy.
type LevelHandler interface {
	// Partition returns the children the entity should own, in order.
	Partition(ctx context.Context, entity hierarchy.Entity, cfg blocks.Resolved) ([]ChildSpec, error)
	// BuildSubmission assembles what the execution adapter runs for a workflow.
	BuildSubmission(ctx context.Context, workflow hierarchy.Entity, cfg blocks.Resolved) (execution.SubmissionDescriptor, error)
	// RunScript executes or simulates an auxiliary action.
	RunScript(ctx context.Context, run hierarchy.ScriptRun, cfg blocks.Resolved) (ScriptResult, error)
}

// Env carries process-level settings handed to every factory.
type Env struct {
	WorkDir       string
	Simulate      bool
	ScriptTimeout time.Duration
	Logger        *slog.Logger
}

// Factory constructs a handler.
type Factory func(Env) LevelHandler
