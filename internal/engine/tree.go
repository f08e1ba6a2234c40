package engine

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"cmtools/internal/blocks"
	"cmtools/internal/handlers"
	"cmtools/internal/hierarchy"
	"cmtools/internal/services"
)

// attrRootColl carries the campaign's root collection down the tree so
// templates at every level can reference it.
const attrRootColl = "root_coll"

// refold recomputes parent's status from its active children.
func refold(ctx context.Context, cs *changeSet, parent *hierarchy.Entity) error {
	if !parent.Active || parent.Level == hierarchy.LevelJob {
		return nil
	}
	children, err := cs.tx.Children(ctx, parent.ID, true)
	if err != nil {
		return err
	}
	states := make([]hierarchy.ChildState, 0, len(children))
	for _, child := range children {
		states = append(states, hierarchy.StateOf(*child))
	}
	next := hierarchy.Aggregate(states, parent.Status)
	if next == parent.Status {
		return nil
	}
	return cs.set(ctx, parent, next, "propagated")
}

// propagateUp re-folds every ancestor of ent, nearest first. The walk stops
// at an inactive ancestor since nothing above it counts it.
func propagateUp(ctx context.Context, cs *changeSet, ent *hierarchy.Entity) error {
	parentID := ent.ParentID
	for parentID != 0 {
		parent, err := cs.tx.GetByID(ctx, parentID)
		if err != nil {
			return err
		}
		if parent == nil || !parent.Active {
			return nil
		}
		if err := refold(ctx, cs, parent); err != nil {
			return err
		}
		parentID = parent.ParentID
	}
	return nil
}

// propagate re-folds the subtree under fullname deepest level first, then its
// ancestors.
func propagate(ctx context.Context, cs *changeSet, fullname string) error {
	nodes, err := cs.tx.Subtree(ctx, fullname)
	if err != nil {
		return err
	}
	if len(nodes) == 0 {
		return nil
	}
	for i := len(nodes) - 1; i >= 0; i-- {
		node := nodes[i]
		if node.Level == hierarchy.LevelJob || !node.Active {
			continue
		}
		fresh, err := cs.tx.GetByID(ctx, node.ID)
		if err != nil {
			return err
		}
		if err := refold(ctx, cs, fresh); err != nil {
			return err
		}
	}
	root, err := cs.tx.GetByFullname(ctx, fullname)
	if err != nil || root == nil {
		return err
	}
	return propagateUp(ctx, cs, root)
}

// newChild builds (but does not store) a WAITING child of parent from spec,
// resolving its block against the given config document version.
func (e *Engine) newChild(ctx context.Context, q reader, parent *hierarchy.Entity, spec handlers.ChildSpec, configID int64) (*hierarchy.Entity, error) {
	if err := hierarchy.ValidateName(spec.Name); err != nil {
		return nil, services.Wrap(services.ErrValidation, "engine", "create child", "", err)
	}
	level := hierarchy.LevelProduction
	fullname := spec.Name
	var parentID int64
	if parent != nil {
		level = parent.Level.Child()
		fullname = hierarchy.JoinFullname(parent.Fullname, spec.Name)
		parentID = parent.ID
	}
	child := &hierarchy.Entity{
		ParentID:  parentID,
		Level:     level,
		Name:      spec.Name,
		Fullname:  fullname,
		Status:    hierarchy.StatusWaiting,
		Active:    true,
		ConfigID:  configID,
		Block:     spec.Block,
		DataQuery: spec.DataQuery,
	}
	if configID == 0 || spec.Block == "" {
		return child, nil
	}

	cfg, err := e.resolveBlock(ctx, q, configID, spec.Block)
	if err != nil {
		return nil, err
	}
	rootColl := cfg.RootColl
	if rootColl == "" && parent != nil {
		rootColl = parent.Attribute(attrRootColl)
	}
	vars := blocks.Vars{blocks.VarFullname: fullname, blocks.VarName: spec.Name}
	if rootColl != "" {
		vars[blocks.VarRootColl] = rootColl
	}
	attrs, err := cfg.Expand(vars)
	if err != nil {
		return nil, err
	}
	if rootColl != "" {
		attrs[attrRootColl] = rootColl
	}
	child.Handler = cfg.ClassName
	child.Rescue = cfg.Rescue
	child.Attributes = attrs
	if child.DataQuery == "" {
		child.DataQuery = cfg.DataQuery
	}
	return child, nil
}

// linkPrerequisites records step's configured prerequisites as dependency
// rows on sibling steps. A prerequisite the campaign declares but has not
// materialized yet is returned as missing and linked on a later call; any
// other unknown prerequisite is a configuration error.
func (e *Engine) linkPrerequisites(ctx context.Context, cs *changeSet, campaign, step *hierarchy.Entity) ([]string, error) {
	cfg, err := e.configFor(ctx, cs.tx, step)
	if err != nil {
		return nil, err
	}
	var missing []string
	for _, name := range cfg.Prerequisites {
		prereq, err := cs.tx.GetByFullname(ctx, hierarchy.JoinFullname(campaign.Fullname, name))
		if err != nil {
			return nil, err
		}
		if prereq != nil && prereq.Level == hierarchy.LevelStep && prereq.Active {
			if err := cs.tx.AddDependency(ctx, step.ID, prereq.ID); err != nil {
				return nil, err
			}
			continue
		}
		declared, err := e.declaresStep(ctx, cs, campaign, name)
		if err != nil {
			return nil, err
		}
		if prereq != nil || !declared {
			return nil, &blocks.ConfigError{Block: step.Block, Reason: fmt.Sprintf("prerequisite %q is not a step of %s", name, campaign.Fullname)}
		}
		missing = append(missing, name)
	}
	return missing, nil
}

func (e *Engine) declaresStep(ctx context.Context, cs *changeSet, campaign *hierarchy.Entity, name string) (bool, error) {
	cfg, err := e.configFor(ctx, cs.tx, campaign)
	if err != nil {
		return false, err
	}
	return slices.Contains(cfg.Steps, name), nil
}

// activeAt filters nodes to active entities at one level.
func activeAt(nodes []*hierarchy.Entity, level hierarchy.Level) []*hierarchy.Entity {
	var out []*hierarchy.Entity
	for _, n := range nodes {
		if n.Active && n.Level == level {
			out = append(out, n)
		}
	}
	return out
}

// activeSubtree drops every node under an inactive entity. nodes must be
// ordered parents before children.
func activeSubtree(nodes []*hierarchy.Entity) []*hierarchy.Entity {
	var inactive []string
	out := make([]*hierarchy.Entity, 0, len(nodes))
	for _, n := range nodes {
		if !n.Active {
			inactive = append(inactive, n.Fullname+"/")
			continue
		}
		if slices.ContainsFunc(inactive, func(prefix string) bool { return strings.HasPrefix(n.Fullname, prefix) }) {
			continue
		}
		out = append(out, n)
	}
	return out
}

func normalizeFullname(fullname string) string {
	return strings.Trim(strings.TrimSpace(fullname), "/")
}

func (e *Engine) target(ctx context.Context, q reader, fullname string) (*hierarchy.Entity, error) {
	fullname = normalizeFullname(fullname)
	if _, err := hierarchy.LevelOfFullname(fullname); err != nil {
		return nil, services.Wrap(services.ErrValidation, "engine", "target", "", err)
	}
	return q.MustGet(ctx, fullname)
}
