package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"cmtools/internal/archive"
	"cmtools/internal/execution"
	"cmtools/internal/hierarchy"
	"cmtools/internal/logging"
	"cmtools/internal/services"
)

// Queue marks every active READY workflow under target as eligible for launch.
func (e *Engine) Queue(ctx context.Context, target string) (*Result, error) {
	return e.run(ctx, "queue", target, func(ctx context.Context, op *opState) error {
		root, err := e.target(ctx, e.store, target)
		if err != nil {
			return err
		}
		return e.commit(ctx, op, func(cs *changeSet) error {
			nodes, err := cs.tx.Subtree(ctx, root.Fullname)
			if err != nil {
				return err
			}
			eligible := 0
			for _, wf := range activeAt(activeSubtree(nodes), hierarchy.LevelWorkflow) {
				if wf.Status != hierarchy.StatusReady {
					continue
				}
				eligible++
				if wf.Queued {
					continue
				}
				wf.Queued = true
				if err := cs.set(ctx, wf, wf.Status, "queued"); err != nil {
					return err
				}
			}
			if eligible == 0 {
				op.notReady("no READY workflows to queue")
				return nil
			}
			return propagate(ctx, cs, root.Fullname)
		})
	})
}

// Launch submits every queued workflow under target. maxRunning caps the
// number of RUNNING workflows store-wide; 0 falls back to the engine default.
func (e *Engine) Launch(ctx context.Context, target string, maxRunning int) (*Result, error) {
	if maxRunning <= 0 {
		maxRunning = e.maxRunning
	}
	return e.run(ctx, "launch", target, func(ctx context.Context, op *opState) error {
		return e.launch(ctx, op, target, e.adapter, launchOptions{maxRunning: maxRunning})
	})
}

// FakeRun drives every active READY or RUNNING workflow under target to
// status through the simulation adapter: READY workflows are launched, then
// every RUNNING job is checked.
func (e *Engine) FakeRun(ctx context.Context, target string, status hierarchy.Status) (*Result, error) {
	return e.run(ctx, "fake-run", target, func(ctx context.Context, op *opState) error {
		sim, err := execution.NewSimulation(status)
		if err != nil {
			return services.Wrap(services.ErrValidation, "engine", "fake-run", "", err)
		}
		launchErr := e.launch(ctx, op, target, sim, launchOptions{includeUnqueued: true})
		if launchErr != nil && !errors.Is(launchErr, services.ErrSubmission) {
			return launchErr
		}
		// Launch reports NotReady when nothing was READY; RUNNING work may
		// still be waiting for its simulated outcome.
		op.res.NotReady, op.res.Reason = false, ""
		checkErr := e.check(ctx, op, target, sim)
		return errors.Join(launchErr, checkErr)
	})
}

type launchOptions struct {
	maxRunning      int
	includeUnqueued bool
}

type claim struct {
	workflow *hierarchy.Entity
	job      string
}

func (e *Engine) launch(ctx context.Context, op *opState, target string, adapter execution.Adapter, opts launchOptions) error {
	root, err := e.target(ctx, e.store, target)
	if err != nil {
		return err
	}
	if root.Level == hierarchy.LevelWorkflow && root.Status == hierarchy.StatusRunning && !opts.includeUnqueued {
		return services.Wrap(services.ErrInvalidTransition, "engine", "launch",
			fmt.Sprintf("%s is already RUNNING (generation %d)", root.Fullname, root.Generation), nil)
	}

	claims, throttled, err := e.claim(ctx, op, root, opts)
	if err != nil {
		return err
	}
	if len(claims) == 0 {
		if throttled > 0 {
			op.notReady(fmt.Sprintf("%d workflow(s) held back by max_running", throttled))
		} else {
			op.notReady("no queued workflows to launch")
		}
		return nil
	}
	if throttled > 0 {
		op.pending(fmt.Sprintf("%d workflow(s) held back by max_running", throttled))
	}

	var (
		mu   sync.Mutex
		errs []error
	)
	g := new(errgroup.Group)
	g.SetLimit(e.pollConcurrency)
	for _, c := range claims {
		g.Go(func() error {
			if err := e.submit(ctx, op, adapter, c); err != nil {
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

// claim moves launchable workflows to RUNNING in one short transaction so a
// workflow is submitted at most once per generation.
func (e *Engine) claim(ctx context.Context, op *opState, root *hierarchy.Entity, opts launchOptions) ([]claim, int, error) {
	var (
		claims    []claim
		throttled int
	)
	err := e.commit(ctx, op, func(cs *changeSet) error {
		claims, throttled = nil, 0
		nodes, err := cs.tx.Subtree(ctx, root.Fullname)
		if err != nil {
			return err
		}
		budget := -1
		if opts.maxRunning > 0 {
			all, err := cs.tx.ListByLevel(ctx, hierarchy.LevelWorkflow, true)
			if err != nil {
				return err
			}
			running := 0
			for _, wf := range all {
				if wf.Status == hierarchy.StatusRunning {
					running++
				}
			}
			budget = max(opts.maxRunning-running, 0)
		}
		for _, wf := range activeAt(activeSubtree(nodes), hierarchy.LevelWorkflow) {
			if wf.Status != hierarchy.StatusReady || (!wf.Queued && !opts.includeUnqueued) {
				continue
			}
			if budget == 0 {
				throttled++
				continue
			}
			jobs, err := cs.tx.Children(ctx, wf.ID, false)
			if err != nil {
				return err
			}
			wf.Queued = false
			wf.Generation++
			if err := cs.set(ctx, wf, hierarchy.StatusRunning, fmt.Sprintf("claimed generation %d", wf.Generation)); err != nil {
				return err
			}
			claims = append(claims, claim{workflow: wf, job: fmt.Sprintf("job_%02d", len(jobs)+1)})
			if budget > 0 {
				budget--
			}
		}
		return nil
	})
	return claims, throttled, err
}

// submit hands one claimed workflow to the adapter and records its job. A
// failed submission returns the workflow to READY and queued.
func (e *Engine) submit(ctx context.Context, op *opState, adapter execution.Adapter, c claim) error {
	wf := c.workflow
	desc, err := e.describe(ctx, wf, c.job)
	if err == nil {
		var location string
		location, err = archive.PutDescriptor(ctx, e.archive, desc)
		if err == nil && location != "" {
			op.logger.Debug("descriptor archived", logging.Fullname(wf.Fullname), logging.String("location", location))
		}
	}
	var externalID string
	if err == nil {
		externalID, err = adapter.Submit(ctx, desc)
	}
	if err != nil {
		cause := err
		submitErr := services.Wrap(services.ErrSubmission, "engine", "launch", wf.Fullname, cause)
		revertErr := e.commit(ctx, op, func(cs *changeSet) error {
			fresh, err := cs.tx.GetByID(ctx, wf.ID)
			if err != nil {
				return err
			}
			if fresh == nil {
				return nil
			}
			fresh.Queued = true
			fresh.Diagnostic = cause.Error()
			if err := cs.set(ctx, fresh, hierarchy.StatusReady, "submission failed"); err != nil {
				return err
			}
			return propagateUp(ctx, cs, fresh)
		})
		logging.WarnWithContext(op.logger, "submission failed", "submission_failed",
			logging.Fullname(wf.Fullname),
			logging.Error(cause),
			logging.String(logging.FieldErrorHint, "workflow stays queued; fix the cause and launch again"),
		)
		return errors.Join(submitErr, revertErr)
	}

	return e.commit(ctx, op, func(cs *changeSet) error {
		fresh, err := cs.tx.GetByID(ctx, wf.ID)
		if err != nil {
			return err
		}
		job := &hierarchy.Entity{
			ParentID:   fresh.ID,
			Level:      hierarchy.LevelJob,
			Name:       c.job,
			Fullname:   hierarchy.JoinFullname(fresh.Fullname, c.job),
			Status:     hierarchy.StatusRunning,
			Active:     true,
			ConfigID:   fresh.ConfigID,
			DataQuery:  fresh.DataQuery,
			ExternalID: externalID,
			Generation: fresh.Generation,
		}
		if err := cs.insert(ctx, job, "submitted as "+externalID); err != nil {
			return err
		}
		fresh.ExternalID = externalID
		fresh.Diagnostic = ""
		return cs.set(ctx, fresh, fresh.Status, "")
	})
}

func (e *Engine) describe(ctx context.Context, wf *hierarchy.Entity, job string) (execution.SubmissionDescriptor, error) {
	cfg, err := e.configFor(ctx, e.store, wf)
	if err != nil {
		return execution.SubmissionDescriptor{}, err
	}
	handler, err := e.handlerFor(wf)
	if err != nil {
		return execution.SubmissionDescriptor{}, err
	}
	desc, err := handler.BuildSubmission(ctx, *wf, cfg)
	if err != nil {
		return execution.SubmissionDescriptor{}, err
	}
	desc.Job = job
	desc.Generation = wf.Generation
	return desc, nil
}
