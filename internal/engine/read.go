package engine

import (
	"context"

	"cmtools/internal/hierarchy"
)

// Node is an entity with its script runs and prerequisite names, as shown by
// the print commands.
type Node struct {
	Entity        *hierarchy.Entity
	Scripts       []*hierarchy.ScriptRun
	Prerequisites []string
}

// Get loads one entity by fullname.
func (e *Engine) Get(ctx context.Context, fullname string) (*Node, error) {
	ent, err := e.target(ctx, e.store, fullname)
	if err != nil {
		return nil, err
	}
	return e.node(ctx, ent)
}

// Children lists the direct children of fullname, including superseded ones.
func (e *Engine) Children(ctx context.Context, fullname string) ([]*hierarchy.Entity, error) {
	ent, err := e.target(ctx, e.store, fullname)
	if err != nil {
		return nil, err
	}
	return e.store.Children(ctx, ent.ID, false)
}

// Subtree lists fullname and every descendant, parents before children.
func (e *Engine) Subtree(ctx context.Context, fullname string) ([]*hierarchy.Entity, error) {
	ent, err := e.target(ctx, e.store, fullname)
	if err != nil {
		return nil, err
	}
	return e.store.Subtree(ctx, ent.Fullname)
}

// Roots lists every production.
func (e *Engine) Roots(ctx context.Context) ([]*hierarchy.Entity, error) {
	return e.store.ListByLevel(ctx, hierarchy.LevelProduction, false)
}

func (e *Engine) node(ctx context.Context, ent *hierarchy.Entity) (*Node, error) {
	runs, err := e.store.ScriptRuns(ctx, ent.ID)
	if err != nil {
		return nil, err
	}
	prereqs, err := e.store.Prerequisites(ctx, ent.ID)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(prereqs))
	for _, p := range prereqs {
		names = append(names, p.Name)
	}
	return &Node{Entity: ent, Scripts: runs, Prerequisites: names}, nil
}
