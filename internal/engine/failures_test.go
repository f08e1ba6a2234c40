package engine_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"cmtools/internal/blocks"
	"cmtools/internal/engine"
	"cmtools/internal/errclass"
	"cmtools/internal/execution"
	"cmtools/internal/handlers"
	"cmtools/internal/hierarchy"
	"cmtools/internal/services"
	"cmtools/internal/store"
	"cmtools/internal/testsupport"
)

// stubAdapter fails Submit or Poll on demand.
type stubAdapter struct {
	submitErr error
	pollErr   error
	submits   atomic.Int32
}

func (s *stubAdapter) Submit(ctx context.Context, desc execution.SubmissionDescriptor) (string, error) {
	s.submits.Add(1)
	if s.submitErr != nil {
		return "", s.submitErr
	}
	return "stub-" + desc.Job, nil
}

func (s *stubAdapter) Poll(ctx context.Context, executionID string) (execution.PollResult, error) {
	if s.pollErr != nil {
		return execution.PollResult{}, s.pollErr
	}
	return execution.PollResult{Status: hierarchy.StatusRunning}, nil
}

// scenarioPrepared inserts the chained campaign and prepares it once.
func scenarioPrepared(t *testing.T, f *fixture) {
	t.Helper()
	f.campaign(testsupport.ChainCampaign)
	f.prepare(campaignName)
}

func TestSubmissionFailureRequeuesWorkflow(t *testing.T) {
	adapter := &stubAdapter{submitErr: errors.New("scheduler unavailable")}
	f := newFixture(t, engine.WithAdapter(adapter))
	scenarioPrepared(t, f)

	_, err := f.engine.Queue(f.ctx, workflow1)
	require.NoError(t, err)
	_, err = f.engine.Launch(f.ctx, workflow1, 0)
	require.ErrorIs(t, err, services.ErrSubmission)
	require.True(t, services.Retryable(err))

	wf := f.entity(workflow1)
	require.Equal(t, hierarchy.StatusReady, wf.Status)
	require.True(t, wf.Queued)
	require.Contains(t, wf.Diagnostic, "scheduler unavailable")
	require.Empty(t, wf.ExternalID)
	children, err := f.store.Children(f.ctx, wf.ID, false)
	require.NoError(t, err)
	require.Empty(t, children)

	adapter.submitErr = nil
	_, err = f.engine.Launch(f.ctx, workflow1, 0)
	require.NoError(t, err)
	require.Equal(t, hierarchy.StatusRunning, f.status(workflow1))
	require.Equal(t, "stub-job_01", f.entity(workflow1).ExternalID)
	require.Equal(t, int32(2), adapter.submits.Load())
}

func TestPollFailureLeavesJobRunning(t *testing.T) {
	adapter := &stubAdapter{pollErr: errors.New("connection reset")}
	f := newFixture(t, engine.WithAdapter(adapter))
	scenarioPrepared(t, f)
	_, err := f.engine.Queue(f.ctx, campaignName)
	require.NoError(t, err)
	_, err = f.engine.Launch(f.ctx, campaignName, 0)
	require.NoError(t, err)

	_, err = f.engine.Check(f.ctx, campaignName)
	require.ErrorIs(t, err, services.ErrPoll)
	require.Equal(t, hierarchy.StatusRunning, f.status(workflow1+"/job_01"))

	adapter.pollErr = nil
	res, err := f.engine.Check(f.ctx, campaignName)
	require.NoError(t, err)
	require.False(t, res.Changed())
	require.Equal(t, hierarchy.StatusRunning, f.status(workflow1))
}

func TestErrorTableToleratesKnownFailures(t *testing.T) {
	table, err := errclass.Parse([]byte(`
errors:
  - name: simulated
    diag_message: "^simulated"
    action: ignore
`))
	require.NoError(t, err)
	f := newFixture(t, engine.WithErrorTable(table))
	scenarioPrepared(t, f)

	res := f.fakeRun(group1, hierarchy.StatusFailed)
	require.Equal(t, hierarchy.StatusCompleted, f.status(workflow1+"/job_01"))
	require.Equal(t, hierarchy.StatusCompleted, f.status(group1))

	var note string
	for _, c := range res.Changes {
		if c.Fullname == workflow1+"/job_01" && c.To == hierarchy.StatusCompleted {
			note = c.Note
		}
	}
	require.Equal(t, "classified as simulated (ignore)", note)
}

func TestLaunchHonorsMaxRunning(t *testing.T) {
	f := newFixture(t, engine.WithMaxRunning(1))
	f.campaign(testsupport.SingleStepCampaign)
	f.prepare(campaignName)
	_, err := f.engine.Queue(f.ctx, campaignName)
	require.NoError(t, err)

	res, err := f.engine.Launch(f.ctx, campaignName, 0)
	require.NoError(t, err)
	require.False(t, res.NotReady)
	require.Equal(t, []string{"1 workflow(s) held back by max_running"}, res.Pending)

	running, queued := 0, 0
	for _, name := range []string{"example/test/only/group_0/w00", "example/test/only/group_1/w00"} {
		wf := f.entity(name)
		switch {
		case wf.Status == hierarchy.StatusRunning:
			running++
		case wf.Status == hierarchy.StatusReady && wf.Queued:
			queued++
		}
	}
	require.Equal(t, 1, running)
	require.Equal(t, 1, queued)

	res, err = f.engine.Launch(f.ctx, campaignName, 0)
	require.NoError(t, err)
	require.True(t, res.NotReady)

	res, err = f.engine.Launch(f.ctx, campaignName, 2)
	require.NoError(t, err)
	require.False(t, res.NotReady)
	require.Empty(t, res.Pending)
}

func TestLaunchArchivesDescriptor(t *testing.T) {
	f := newFixture(t)
	scenarioPrepared(t, f)
	f.fakeRun(group1, hierarchy.StatusCompleted)

	data, err := os.ReadFile(filepath.Join(f.archiveDir, filepath.FromSlash(workflow1), "job_01.yaml"))
	require.NoError(t, err)
	var desc execution.SubmissionDescriptor
	require.NoError(t, yaml.Unmarshal(data, &desc))
	require.Equal(t, workflow1, desc.Fullname)
	require.Equal(t, "job_01", desc.Job)
	require.Equal(t, 1, desc.Generation)
	require.Equal(t, "exit 0", desc.Command)
	require.Equal(t, "u/test/"+workflow1+"/input", desc.InputColl)
	require.Equal(t, "instrument == 'LSST'", desc.DataQuery)
}

func TestUnknownTargetIsNotFound(t *testing.T) {
	f := newFixture(t)
	f.campaign(testsupport.ChainCampaign)

	_, err := f.engine.Prepare(f.ctx, "example/test/nonesuch")
	require.ErrorIs(t, err, services.ErrNotFound)

	_, err = f.engine.Reject(f.ctx, campaignName)
	require.ErrorIs(t, err, services.ErrInvalidTransition)

	_, err = f.engine.FakeRun(f.ctx, campaignName, hierarchy.StatusRunning)
	require.ErrorIs(t, err, services.ErrValidation)
}

// touchingAdapter runs touch before every poll.
type touchingAdapter struct {
	execution.Adapter
	touch func()
}

func (a *touchingAdapter) Poll(ctx context.Context, executionID string) (execution.PollResult, error) {
	if a.touch != nil {
		a.touch()
	}
	return a.Adapter.Poll(ctx, executionID)
}

// touchingStep is the step handler with a hook run during partition.
type touchingStep struct {
	handlers.LevelHandler
	touch func(hierarchy.Entity)
}

func (s *touchingStep) Partition(ctx context.Context, ent hierarchy.Entity, cfg blocks.Resolved) ([]handlers.ChildSpec, error) {
	if s.touch != nil {
		s.touch(ent)
	}
	return s.LevelHandler.Partition(ctx, ent, cfg)
}

// bump rewrites an entity's diagnostic, advancing its revision.
func (f *fixture) bump(id int64, diagnostic string) {
	f.t.Helper()
	err := f.store.WithTx(f.ctx, func(tx *store.Tx) error {
		ent, err := tx.GetByID(f.ctx, id)
		if err != nil {
			return err
		}
		ent.Diagnostic = diagnostic
		return tx.UpdateEntity(f.ctx, ent)
	})
	require.NoError(f.t, err)
}

func TestCheckFailsWhenJobChangesDuringPoll(t *testing.T) {
	sim, err := execution.NewSimulation(hierarchy.StatusCompleted)
	require.NoError(t, err)
	adapter := &touchingAdapter{Adapter: sim}
	f := newFixture(t, engine.WithAdapter(adapter))
	scenarioPrepared(t, f)

	_, err = f.engine.Queue(f.ctx, workflow1)
	require.NoError(t, err)
	_, err = f.engine.Launch(f.ctx, workflow1, 0)
	require.NoError(t, err)
	job := f.entity(workflow1 + "/job_01")

	adapter.touch = func() { f.bump(job.ID, "edited elsewhere") }
	_, err = f.engine.Check(f.ctx, workflow1)
	require.ErrorIs(t, err, services.ErrStaleState)
	stale := f.entity(job.Fullname)
	require.Equal(t, hierarchy.StatusRunning, stale.Status)
	require.Equal(t, "edited elsewhere", stale.Diagnostic)

	adapter.touch = nil
	_, err = f.engine.Check(f.ctx, workflow1)
	require.NoError(t, err)
	require.Equal(t, hierarchy.StatusCompleted, f.status(job.Fullname))
}

func TestPrepareFailsWhenStepChangesBeforeCommit(t *testing.T) {
	var touch func(hierarchy.Entity)
	registry := handlers.DefaultRegistry()
	require.NoError(t, registry.Register("touching_step", func(env handlers.Env) handlers.LevelHandler {
		base, err := handlers.DefaultRegistry().New(handlers.ClassStep, env)
		if err != nil {
			panic(err)
		}
		return &touchingStep{LevelHandler: base, touch: touch}
	}))
	f := newFixture(t, engine.WithRegistry(registry))
	f.campaign(strings.Replace(testsupport.ChainCampaign,
		"step_base:\n  class_name: step\n", "step_base:\n  class_name: touching_step\n", 1))

	touch = func(ent hierarchy.Entity) { f.bump(ent.ID, "edited elsewhere") }
	_, err := f.engine.Prepare(f.ctx, campaignName)
	require.ErrorIs(t, err, services.ErrStaleState)
	require.Equal(t, hierarchy.StatusReady, f.status(campaignName))
	require.Equal(t, hierarchy.StatusWaiting, f.status(step1))
	missing, err := f.store.GetByFullname(f.ctx, group1)
	require.NoError(t, err)
	require.Nil(t, missing)

	touch = nil
	f.prepare(campaignName)
	require.Equal(t, hierarchy.StatusReady, f.status(step1))
	require.Equal(t, hierarchy.StatusReady, f.status(workflow1))
}
