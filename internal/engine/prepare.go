package engine

import (
	"context"
	"fmt"

	"cmtools/internal/hierarchy"
	"cmtools/internal/logging"
	"cmtools/internal/services"
)

// Prepare walks the tree from target. Each WAITING entity whose
// prerequisites are met runs its ancil/prepare scripts, materializes its
// missing children, and becomes READY; the walk then descends into its
// children. Steps with unmet prerequisites stay WAITING and are reported as
// pending.
func (e *Engine) Prepare(ctx context.Context, target string) (*Result, error) {
	return e.run(ctx, "prepare", target, func(ctx context.Context, op *opState) error {
		root, err := e.target(ctx, e.store, target)
		if err != nil {
			return err
		}

		stack := []*hierarchy.Entity{root}
		for len(stack) > 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
			ent := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if !ent.Active || ent.Level >= hierarchy.LevelJob {
				continue
			}

			if ent.Status == hierarchy.StatusWaiting {
				prepared, err := e.prepareOne(ctx, op, ent)
				if err != nil {
					return err
				}
				if !prepared {
					continue
				}
			}
			if ent.Level >= hierarchy.LevelWorkflow {
				continue
			}
			children, err := e.store.Children(ctx, ent.ID, true)
			if err != nil {
				return err
			}
			for i := len(children) - 1; i >= 0; i-- {
				stack = append(stack, children[i])
			}
		}

		if n := len(op.res.Pending); n > 0 {
			op.notReady(fmt.Sprintf("%d step(s) waiting on prerequisites", n))
		}
		return e.commit(ctx, op, func(cs *changeSet) error {
			return propagate(ctx, cs, root.Fullname)
		})
	})
}

// prepareOne moves a single WAITING entity to READY. It reports false when
// the entity was left WAITING or marked FAILED.
func (e *Engine) prepareOne(ctx context.Context, op *opState, ent *hierarchy.Entity) (bool, error) {
	if ent.Level == hierarchy.LevelStep {
		met, err := e.prerequisitesMet(ctx, op, ent)
		if err != nil {
			return false, err
		}
		if !met {
			op.pending(ent.Fullname)
			op.logger.Debug("step waiting on prerequisites", logging.Fullname(ent.Fullname))
			return false, nil
		}
	}

	cfg, err := e.configFor(ctx, e.store, ent)
	if err != nil {
		return false, err
	}
	outcome, err := e.runScripts(ctx, op, ent, cfg, hierarchy.ScriptKind.RunsAtPrepare)
	if err != nil {
		return false, err
	}
	if outcome.failed {
		return false, e.failEntity(ctx, op, ent, outcome)
	}

	handler, err := e.handlerFor(ent)
	if err != nil {
		return false, err
	}
	specs, err := handler.Partition(ctx, *ent, cfg)
	if err != nil {
		return false, err
	}

	prepared := false
	err = e.commit(ctx, op, func(cs *changeSet) error {
		fresh, err := cs.tx.GetByID(ctx, ent.ID)
		if err != nil {
			return err
		}
		if err := unchanged("prepare", ent, fresh); err != nil {
			return err
		}
		var created []*hierarchy.Entity
		for _, spec := range specs {
			existing, err := cs.tx.GetByFullname(ctx, hierarchy.JoinFullname(fresh.Fullname, spec.Name))
			if err != nil {
				return err
			}
			if existing != nil {
				continue
			}
			child, err := e.newChild(ctx, cs.tx, fresh, spec, fresh.ConfigID)
			if err != nil {
				return err
			}
			if err := cs.insert(ctx, child, "created by prepare"); err != nil {
				return err
			}
			created = append(created, child)
		}
		for _, child := range created {
			if child.Level == hierarchy.LevelStep {
				if _, err := e.linkPrerequisites(ctx, cs, fresh, child); err != nil {
					return err
				}
			}
		}
		if err := cs.set(ctx, fresh, hierarchy.StatusReady, ""); err != nil {
			return err
		}
		prepared = true
		return nil
	})
	return prepared, err
}

// prerequisitesMet links any prerequisite declared after the step was
// created, then reports whether every prerequisite is ACCEPTED. A declared
// prerequisite that does not exist yet is unmet.
func (e *Engine) prerequisitesMet(ctx context.Context, op *opState, step *hierarchy.Entity) (bool, error) {
	cfg, err := e.configFor(ctx, e.store, step)
	if err != nil {
		return false, err
	}
	prereqs, err := e.store.Prerequisites(ctx, step.ID)
	if err != nil {
		return false, err
	}
	if len(prereqs) < len(cfg.Prerequisites) {
		var missing []string
		err := e.commit(ctx, op, func(cs *changeSet) error {
			campaign, err := cs.tx.GetByID(ctx, step.ParentID)
			if err != nil {
				return err
			}
			if campaign == nil {
				return services.Wrap(services.ErrIntegrity, "engine", "prepare", step.Fullname+" has no campaign", nil)
			}
			missing, err = e.linkPrerequisites(ctx, cs, campaign, step)
			return err
		})
		if err != nil {
			return false, err
		}
		if len(missing) > 0 {
			return false, nil
		}
		if prereqs, err = e.store.Prerequisites(ctx, step.ID); err != nil {
			return false, err
		}
	}
	statuses := make([]hierarchy.Status, 0, len(prereqs))
	for _, p := range prereqs {
		statuses = append(statuses, p.Status)
	}
	return hierarchy.PrerequisitesMet(statuses), nil
}
