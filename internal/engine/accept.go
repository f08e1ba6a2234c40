package engine

import (
	"context"
	"fmt"

	"cmtools/internal/hierarchy"
	"cmtools/internal/services"
)

func acceptScript(kind hierarchy.ScriptKind) bool {
	return kind == hierarchy.ScriptCollect || kind == hierarchy.ScriptValidate
}

// Accept records the operator's approval of a COMPLETED entity whose active
// children are all ACCEPTED. Completed jobs count as accepted and are
// promoted with their workflow. With recurse, every eligible entity of the
// subtree is accepted deepest first. collect and validate scripts run before
// each promotion; a failing script marks the entity FAILED instead.
func (e *Engine) Accept(ctx context.Context, target string, recurse bool) (*Result, error) {
	return e.run(ctx, "accept", target, func(ctx context.Context, op *opState) error {
		root, err := e.target(ctx, e.store, target)
		if err != nil {
			return err
		}
		if !recurse {
			return e.acceptOne(ctx, op, root)
		}

		nodes, err := e.store.Subtree(ctx, root.Fullname)
		if err != nil {
			return err
		}
		nodes = activeSubtree(nodes)
		for i := len(nodes) - 1; i >= 0; i-- {
			if err := ctx.Err(); err != nil {
				return err
			}
			node := nodes[i]
			if node.Level == hierarchy.LevelJob {
				continue
			}
			fresh, err := e.store.GetByID(ctx, node.ID)
			if err != nil {
				return err
			}
			if fresh.Status != hierarchy.StatusCompleted {
				continue
			}
			eligible, err := e.childrenAccepted(ctx, fresh)
			if err != nil {
				return err
			}
			if !eligible {
				continue
			}
			if err := e.promote(ctx, op, fresh); err != nil {
				return err
			}
		}

		final, err := e.store.GetByID(ctx, root.ID)
		if err != nil {
			return err
		}
		if final.Status != hierarchy.StatusAccepted {
			op.notReady(fmt.Sprintf("%s is %s", final.Fullname, final.Status.Upper()))
		}
		return nil
	})
}

func (e *Engine) acceptOne(ctx context.Context, op *opState, ent *hierarchy.Entity) error {
	switch ent.Status {
	case hierarchy.StatusAccepted:
		return nil
	case hierarchy.StatusCompleted:
	default:
		return services.Wrap(services.ErrInvalidTransition, "engine", "accept",
			fmt.Sprintf("%s is %s, not COMPLETED", ent.Fullname, ent.Status.Upper()), nil)
	}
	eligible, err := e.childrenAccepted(ctx, ent)
	if err != nil {
		return err
	}
	if !eligible {
		op.notReady(fmt.Sprintf("%s has children that are not ACCEPTED", ent.Fullname))
		return nil
	}
	return e.promote(ctx, op, ent)
}

func (e *Engine) childrenAccepted(ctx context.Context, ent *hierarchy.Entity) (bool, error) {
	children, err := e.store.Children(ctx, ent.ID, true)
	if err != nil {
		return false, err
	}
	states := make([]hierarchy.ChildState, 0, len(children))
	for _, c := range children {
		state := hierarchy.StateOf(*c)
		if c.Level == hierarchy.LevelJob && c.Status == hierarchy.StatusCompleted {
			state.Status = hierarchy.StatusAccepted
		}
		states = append(states, state)
	}
	return hierarchy.EligibleForAccept(states), nil
}

// promote runs the entity's collect and validate scripts and marks it
// ACCEPTED along with its completed jobs.
func (e *Engine) promote(ctx context.Context, op *opState, ent *hierarchy.Entity) error {
	cfg, err := e.configFor(ctx, e.store, ent)
	if err != nil {
		return err
	}
	outcome, err := e.runScripts(ctx, op, ent, cfg, acceptScript)
	if err != nil {
		return err
	}
	if outcome.failed {
		return e.failEntity(ctx, op, ent, outcome)
	}
	return e.commit(ctx, op, func(cs *changeSet) error {
		fresh, err := cs.tx.GetByID(ctx, ent.ID)
		if err != nil {
			return err
		}
		if fresh.Status != hierarchy.StatusCompleted {
			return services.Wrap(services.ErrStaleState, "engine", "accept",
				fmt.Sprintf("%s moved to %s", fresh.Fullname, fresh.Status.Upper()), nil)
		}
		if fresh.Level == hierarchy.LevelWorkflow {
			jobs, err := cs.tx.Children(ctx, fresh.ID, true)
			if err != nil {
				return err
			}
			for _, job := range jobs {
				if job.Status == hierarchy.StatusCompleted {
					if err := cs.set(ctx, job, hierarchy.StatusAccepted, ""); err != nil {
						return err
					}
				}
			}
		}
		if err := cs.set(ctx, fresh, hierarchy.StatusAccepted, "accepted"); err != nil {
			return err
		}
		return propagateUp(ctx, cs, fresh)
	})
}

// Reject records the operator's refusal of a COMPLETED or FAILED entity.
// Nothing cascades; parents keep their status while a child is REJECTED.
func (e *Engine) Reject(ctx context.Context, target string) (*Result, error) {
	return e.run(ctx, "reject", target, func(ctx context.Context, op *opState) error {
		return e.commit(ctx, op, func(cs *changeSet) error {
			ent, err := e.target(ctx, cs.tx, target)
			if err != nil {
				return err
			}
			if !ent.Status.Terminal() || !ent.Active {
				return services.Wrap(services.ErrInvalidTransition, "engine", "reject",
					fmt.Sprintf("%s is %s, not COMPLETED or FAILED", ent.Fullname, ent.EffectiveStatus().Upper()), nil)
			}
			if err := cs.set(ctx, ent, hierarchy.StatusRejected, "rejected"); err != nil {
				return err
			}
			return propagateUp(ctx, cs, ent)
		})
	})
}
