package engine

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"

	"cmtools/internal/execution"
	"cmtools/internal/hierarchy"
	"cmtools/internal/logging"
	"cmtools/internal/services"
)

// Check polls every RUNNING job under target and folds the outcomes upward.
// Failed jobs whose diagnostic the error table tolerates become COMPLETED.
// Poll failures leave the job RUNNING and are returned joined.
func (e *Engine) Check(ctx context.Context, target string) (*Result, error) {
	return e.run(ctx, "check", target, func(ctx context.Context, op *opState) error {
		return e.check(ctx, op, target, e.adapter)
	})
}

func (e *Engine) check(ctx context.Context, op *opState, target string, adapter execution.Adapter) error {
	root, err := e.target(ctx, e.store, target)
	if err != nil {
		return err
	}
	nodes, err := e.store.Subtree(ctx, root.Fullname)
	if err != nil {
		return err
	}
	var jobs []*hierarchy.Entity
	for _, job := range activeAt(activeSubtree(nodes), hierarchy.LevelJob) {
		if job.Status == hierarchy.StatusRunning {
			jobs = append(jobs, job)
		}
	}
	if len(jobs) == 0 {
		op.notReady("no RUNNING jobs to check")
	}

	var (
		mu   sync.Mutex
		errs []error
	)
	g := new(errgroup.Group)
	g.SetLimit(e.pollConcurrency)
	for _, job := range jobs {
		g.Go(func() error {
			if err := e.checkJob(ctx, op, adapter, job); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := e.commit(ctx, op, func(cs *changeSet) error {
		return propagate(ctx, cs, root.Fullname)
	}); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (e *Engine) checkJob(ctx context.Context, op *opState, adapter execution.Adapter, job *hierarchy.Entity) error {
	if job.ExternalID == "" {
		return services.Wrap(services.ErrPoll, "engine", "check", job.Fullname+" has no external id", nil)
	}
	result, err := adapter.Poll(ctx, job.ExternalID)
	if err != nil {
		logging.WarnWithContext(op.logger, "poll failed", "poll_failed",
			logging.Fullname(job.Fullname),
			logging.String("external_id", job.ExternalID),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "job stays RUNNING; check will retry"),
		)
		return services.Wrap(services.ErrPoll, "engine", "check", job.Fullname, err)
	}

	next, note := result.Status, ""
	switch result.Status {
	case hierarchy.StatusRunning:
		return nil
	case hierarchy.StatusCompleted:
	case hierarchy.StatusFailed:
		if kind, ok := e.errors.Lookup(result.Diagnostic); ok {
			note = "classified as " + kind.Name + " (" + string(kind.Action) + ")"
			if kind.Tolerated() {
				next = hierarchy.StatusCompleted
			}
		}
	default:
		return services.Wrap(services.ErrPoll, "engine", "check", job.Fullname+" reported "+string(result.Status), nil)
	}

	return e.commit(ctx, op, func(cs *changeSet) error {
		fresh, err := cs.tx.GetByID(ctx, job.ID)
		if err != nil {
			return err
		}
		if err := unchanged("check", job, fresh); err != nil {
			return err
		}
		fresh.Diagnostic = result.Diagnostic
		return cs.set(ctx, fresh, next, note)
	})
}
