package engine

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	"cmtools/internal/handlers"
	"cmtools/internal/hierarchy"
	"cmtools/internal/services"
	"cmtools/internal/store"
)

var rescueSuffix = regexp.MustCompile(`_r[0-9]+$`)

// Supersede deactivates a FAILED or REJECTED group or workflow and creates a
// WAITING sibling named <name>_rN from the same block, or from the block's
// rescue variant when useRescue is set and one exists. The old entity keeps
// its stored status and reads as SUPERSEDED.
func (e *Engine) Supersede(ctx context.Context, target string, useRescue bool) (*Result, error) {
	return e.run(ctx, "supersede", target, func(ctx context.Context, op *opState) error {
		return e.commit(ctx, op, func(cs *changeSet) error {
			old, err := e.target(ctx, cs.tx, target)
			if err != nil {
				return err
			}
			if old.Level != hierarchy.LevelGroup && old.Level != hierarchy.LevelWorkflow {
				return services.Wrap(services.ErrInvalidTransition, "engine", "supersede",
					fmt.Sprintf("%s entities cannot be superseded", old.Level), nil)
			}
			if !old.Active {
				return services.Wrap(services.ErrInvalidTransition, "engine", "supersede",
					old.Fullname+" is already superseded", nil)
			}
			if old.Status != hierarchy.StatusFailed && old.Status != hierarchy.StatusRejected {
				return services.Wrap(services.ErrInvalidTransition, "engine", "supersede",
					fmt.Sprintf("%s is %s, not FAILED or REJECTED", old.Fullname, old.Status.Upper()), nil)
			}
			parent, err := cs.tx.GetByID(ctx, old.ParentID)
			if err != nil {
				return err
			}
			if parent == nil || parent.Status == hierarchy.StatusAccepted {
				return services.Wrap(services.ErrIntegrity, "engine", "supersede",
					fmt.Sprintf("parent of %s is ACCEPTED", old.Fullname), nil)
			}

			block := old.Block
			if useRescue {
				r, err := e.resolverFor(ctx, cs.tx, old.ConfigID)
				if err != nil {
					return err
				}
				if variant, ok := r.Document().RescueVariant(block); ok {
					block = variant
				}
			}
			name, err := nextRescueName(ctx, cs.tx, parent, old.Name)
			if err != nil {
				return err
			}

			old.Active = false
			old.Queued = false
			if err := cs.set(ctx, old, old.Status, "superseded by "+name); err != nil {
				return err
			}
			replacement, err := e.newChild(ctx, cs.tx, parent, handlers.ChildSpec{
				Name:      name,
				Block:     block,
				DataQuery: old.DataQuery,
			}, old.ConfigID)
			if err != nil {
				return err
			}
			if err := cs.insert(ctx, replacement, "replaces "+old.Name); err != nil {
				return err
			}
			return propagateUp(ctx, cs, replacement)
		})
	})
}

// nextRescueName returns base_rN for the smallest N not taken by a sibling.
func nextRescueName(ctx context.Context, q reader, parent *hierarchy.Entity, name string) (string, error) {
	base := rescueSuffix.ReplaceAllString(name, "")
	for n := 1; ; n++ {
		candidate := base + "_r" + strconv.Itoa(n)
		existing, err := q.GetByFullname(ctx, hierarchy.JoinFullname(parent.Fullname, candidate))
		if err != nil {
			return "", err
		}
		if existing == nil {
			return candidate, nil
		}
	}
}

// Rollback returns target and its active descendants to an earlier status so
// later work can run again. Jobs are retired when execution is undone.
// Rolling back beneath an ACCEPTED ancestor, or rolling back an ACCEPTED step
// whose dependent steps have started, is an integrity violation.
func (e *Engine) Rollback(ctx context.Context, target string, status hierarchy.Status) (*Result, error) {
	return e.run(ctx, "rollback", target, func(ctx context.Context, op *opState) error {
		switch status {
		case hierarchy.StatusWaiting, hierarchy.StatusReady, hierarchy.StatusCompleted:
		default:
			return services.Wrap(services.ErrValidation, "engine", "rollback",
				fmt.Sprintf("cannot roll back to %s", status.Upper()), nil)
		}
		return e.commit(ctx, op, func(cs *changeSet) error {
			root, err := e.target(ctx, cs.tx, target)
			if err != nil {
				return err
			}
			if !root.Active {
				return services.Wrap(services.ErrInvalidTransition, "engine", "rollback", root.Fullname+" is superseded", nil)
			}
			if !status.Before(root.Status) {
				return services.Wrap(services.ErrInvalidTransition, "engine", "rollback",
					fmt.Sprintf("%s is %s, which is not after %s", root.Fullname, root.Status.Upper(), status.Upper()), nil)
			}
			if err := checkAncestorsOpen(ctx, cs.tx, root); err != nil {
				return err
			}
			if root.Level == hierarchy.LevelStep && root.Status == hierarchy.StatusAccepted {
				if err := checkDependentsIdle(ctx, cs.tx, root); err != nil {
					return err
				}
			}

			nodes, err := cs.tx.Subtree(ctx, root.Fullname)
			if err != nil {
				return err
			}
			reexecute := status.Before(hierarchy.StatusCompleted)
			for _, node := range activeSubtree(nodes) {
				if node.Level == hierarchy.LevelJob {
					if err := rollbackJob(ctx, cs, node, status, reexecute); err != nil {
						return err
					}
					continue
				}
				if status.Before(node.Status) {
					node.Queued = false
					if reexecute && node.Level == hierarchy.LevelWorkflow {
						node.ExternalID = ""
					}
					if err := cs.set(ctx, node, status, "rolled back"); err != nil {
						return err
					}
				} else if node.Queued && reexecute {
					node.Queued = false
					if err := cs.set(ctx, node, node.Status, "dequeued"); err != nil {
						return err
					}
				}
				if err := resetScripts(ctx, cs.tx, node, status); err != nil {
					return err
				}
			}
			return propagate(ctx, cs, root.Fullname)
		})
	})
}

func rollbackJob(ctx context.Context, cs *changeSet, job *hierarchy.Entity, status hierarchy.Status, reexecute bool) error {
	if reexecute {
		job.Active = false
		job.ExternalID = ""
		return cs.set(ctx, job, job.Status, "retired by rollback")
	}
	if status.Before(job.Status) {
		return cs.set(ctx, job, status, "rolled back")
	}
	return nil
}

func checkAncestorsOpen(ctx context.Context, q reader, ent *hierarchy.Entity) error {
	parentID := ent.ParentID
	for parentID != 0 {
		parent, err := q.GetByID(ctx, parentID)
		if err != nil {
			return err
		}
		if parent == nil {
			return nil
		}
		if parent.Status == hierarchy.StatusAccepted {
			return services.Wrap(services.ErrIntegrity, "engine", "rollback",
				fmt.Sprintf("ancestor %s is ACCEPTED", parent.Fullname), nil)
		}
		parentID = parent.ParentID
	}
	return nil
}

func checkDependentsIdle(ctx context.Context, q reader, step *hierarchy.Entity) error {
	dependents, err := q.Dependents(ctx, step.ID)
	if err != nil {
		return err
	}
	for _, dep := range dependents {
		if dep.Active && dep.Status != hierarchy.StatusWaiting {
			return services.Wrap(services.ErrIntegrity, "engine", "rollback",
				fmt.Sprintf("dependent step %s is %s", dep.Fullname, dep.Status.Upper()), nil)
		}
	}
	return nil
}

// resetScripts re-arms the scripts a rollback to status must repeat:
// collect and validate always, ancil and prepare when returning to WAITING.
func resetScripts(ctx context.Context, tx *store.Tx, ent *hierarchy.Entity, status hierarchy.Status) error {
	runs, err := tx.ScriptRuns(ctx, ent.ID)
	if err != nil {
		return err
	}
	for _, run := range runs {
		if run.Kind.RunsAtPrepare() && status != hierarchy.StatusWaiting {
			continue
		}
		if run.Status == hierarchy.StatusWaiting {
			continue
		}
		run.Status = hierarchy.StatusWaiting
		run.Diagnostic = ""
		if err := tx.UpdateScriptRun(ctx, run); err != nil {
			return err
		}
	}
	return nil
}
