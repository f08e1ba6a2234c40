package engine_test

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"cmtools/internal/hierarchy"
	"cmtools/internal/services"
	"cmtools/internal/testsupport"
)

// dagCampaign renders a campaign whose steps depend on each other as given.
// Steps are listed in reverse so the declared order never matches the
// dependency order.
func dagCampaign(prereqs map[string][]string, order []string) string {
	var b strings.Builder
	reversed := make([]string, len(order))
	for i, name := range order {
		reversed[len(order)-1-i] = name
	}
	fmt.Fprintf(&b, "campaign:\n  class_name: campaign\n  root_coll: u/dag\n  steps: [%s]\n", strings.Join(reversed, ", "))
	b.WriteString("group:\n  class_name: group\nworkflow:\n  class_name: workflow\n  command: \"exit 0\"\n")
	for _, name := range order {
		fmt.Fprintf(&b, "%s:\n  class_name: step\n  prerequisites: [%s]\n", name, strings.Join(prereqs[name], ", "))
	}
	return b.String()
}

// requireGate checks that no step has moved past WAITING while one of its
// prerequisites is not ACCEPTED.
func (f *fixture) requireGate() {
	f.t.Helper()
	steps, err := f.store.Subtree(f.ctx, campaignName)
	require.NoError(f.t, err)
	for _, step := range activeSteps(steps) {
		if step.Status == hierarchy.StatusWaiting {
			continue
		}
		prereqs, err := f.store.Prerequisites(f.ctx, step.ID)
		require.NoError(f.t, err)
		for _, p := range prereqs {
			require.Equal(f.t, hierarchy.StatusAccepted, p.Status,
				"%s is %s but prerequisite %s is %s", step.Fullname, step.Status, p.Fullname, p.Status)
		}
	}
}

func activeSteps(nodes []*hierarchy.Entity) []*hierarchy.Entity {
	var out []*hierarchy.Entity
	for _, n := range nodes {
		if n.Active && n.Level == hierarchy.LevelStep {
			out = append(out, n)
		}
	}
	return out
}

// exercise applies random operations, checking the gate after each one, and
// then drives the campaign to ACCEPTED.
func (f *fixture) exercise(rng *rand.Rand, ops, steps int) {
	f.t.Helper()
	for i := 0; i < ops; i++ {
		var err error
		switch rng.IntN(5) {
		case 0:
			_, err = f.engine.Prepare(f.ctx, campaignName)
		case 1:
			_, err = f.engine.Queue(f.ctx, campaignName)
		case 2:
			_, err = f.engine.Launch(f.ctx, campaignName, 0)
		case 3:
			_, err = f.engine.FakeRun(f.ctx, campaignName, hierarchy.StatusCompleted)
		case 4:
			_, err = f.engine.Accept(f.ctx, campaignName, true)
		}
		require.NoError(f.t, err)
		f.requireGate()
	}
	for i := 0; i <= steps+1 && f.status(campaignName) != hierarchy.StatusAccepted; i++ {
		f.prepare(campaignName)
		f.requireGate()
		f.fakeRun(campaignName, hierarchy.StatusCompleted)
		f.requireGate()
		f.accept(campaignName)
		f.requireGate()
	}
	require.Equal(f.t, hierarchy.StatusAccepted, f.status(campaignName))
}

func TestPrerequisiteGateDiamond(t *testing.T) {
	f := newFixture(t)
	order := []string{"a", "b", "c", "d"}
	f.campaign(dagCampaign(map[string][]string{
		"b": {"a"},
		"c": {"a"},
		"d": {"b", "c"},
	}, order))

	res := f.prepare(campaignName)
	require.ElementsMatch(t, []string{campaignName + "/b", campaignName + "/c", campaignName + "/d"}, res.Pending)
	f.fakeRun(campaignName+"/a", hierarchy.StatusCompleted)
	f.accept(campaignName + "/a")
	f.prepare(campaignName)
	require.Equal(t, hierarchy.StatusReady, f.status(campaignName+"/b"))
	require.Equal(t, hierarchy.StatusReady, f.status(campaignName+"/c"))
	require.Equal(t, hierarchy.StatusWaiting, f.status(campaignName+"/d"))

	f.fakeRun(campaignName+"/b", hierarchy.StatusCompleted)
	f.accept(campaignName + "/b")
	res = f.prepare(campaignName)
	require.Equal(t, []string{campaignName + "/d"}, res.Pending)
	f.requireGate()

	f.exercise(rand.New(rand.NewPCG(1, 2)), 10, len(order))
}

func TestPrerequisiteGateRandomDAGs(t *testing.T) {
	for seed := uint64(1); seed <= 8; seed++ {
		t.Run(fmt.Sprintf("seed_%d", seed), func(t *testing.T) {
			rng := rand.New(rand.NewPCG(seed, seed*31))
			n := 2 + rng.IntN(5)
			order := make([]string, n)
			prereqs := map[string][]string{}
			for i := range n {
				order[i] = fmt.Sprintf("s%d", i)
				for j := range i {
					if rng.IntN(3) == 0 {
						prereqs[order[i]] = append(prereqs[order[i]], order[j])
					}
				}
			}
			f := newFixture(t)
			f.campaign(dagCampaign(prereqs, order))
			f.exercise(rng, 30, n)
			f.assertFullnames("example")
		})
	}
}

func TestRollbackNeverAdvancesDescendants(t *testing.T) {
	for _, status := range []hierarchy.Status{hierarchy.StatusWaiting, hierarchy.StatusReady} {
		t.Run(string(status), func(t *testing.T) {
			f := scenarioA(t)
			f.fakeRun(step1, hierarchy.StatusCompleted)
			require.Equal(t, hierarchy.StatusCompleted, f.status(step1))

			_, err := f.engine.Rollback(f.ctx, step1, status)
			require.NoError(t, err)
			_, err = f.engine.Check(f.ctx, campaignName)
			require.NoError(t, err)

			nodes, err := f.store.Subtree(f.ctx, step1)
			require.NoError(t, err)
			for _, n := range nodes {
				if !n.Active {
					require.Equal(t, hierarchy.LevelJob, n.Level)
					continue
				}
				require.LessOrEqual(t, n.Status.Rank(), status.Rank(), n.Fullname)
				require.False(t, n.Queued, n.Fullname)
			}
			require.Equal(t, status, f.status(step1))
		})
	}
}

func TestRollbackResetsPrepareScriptsOnlyToWaiting(t *testing.T) {
	f := scenarioA(t)
	_, err := f.engine.Rollback(f.ctx, campaignName, hierarchy.StatusWaiting)
	require.NoError(t, err)

	runs, err := f.store.ScriptRuns(f.ctx, f.entity(campaignName).ID)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, hierarchy.StatusWaiting, runs[0].Status)

	res := f.prepare(campaignName)
	require.True(t, res.NotReady)
	runs, err = f.store.ScriptRuns(f.ctx, f.entity(campaignName).ID)
	require.NoError(t, err)
	require.Equal(t, hierarchy.StatusCompleted, runs[0].Status)
}

func TestRollbackGuards(t *testing.T) {
	f := scenarioA(t)

	_, err := f.engine.Rollback(f.ctx, workflow1, hierarchy.StatusRunning)
	require.ErrorIs(t, err, services.ErrValidation)
	_, err = f.engine.Rollback(f.ctx, workflow1, hierarchy.StatusReady)
	require.ErrorIs(t, err, services.ErrInvalidTransition)

	f.fakeRun(step1, hierarchy.StatusCompleted)
	f.accept(step1)
	require.Equal(t, hierarchy.StatusAccepted, f.status(step1))

	_, err = f.engine.Rollback(f.ctx, group1, hierarchy.StatusCompleted)
	require.ErrorIs(t, err, services.ErrIntegrity)

	f.prepare(campaignName)
	require.Equal(t, hierarchy.StatusReady, f.status("example/test/step2"))
	_, err = f.engine.Rollback(f.ctx, step1, hierarchy.StatusCompleted)
	require.ErrorIs(t, err, services.ErrIntegrity)
	require.Equal(t, hierarchy.StatusAccepted, f.status(step1))
}

func TestRollbackAcceptedStepBeforeDependentsStart(t *testing.T) {
	f := scenarioA(t)
	f.fakeRun(step1, hierarchy.StatusCompleted)
	f.accept(step1)

	_, err := f.engine.Rollback(f.ctx, step1, hierarchy.StatusCompleted)
	require.NoError(t, err)
	require.Equal(t, hierarchy.StatusCompleted, f.status(step1))
	require.Equal(t, hierarchy.StatusCompleted, f.status(workflow1))
	require.Equal(t, hierarchy.StatusCompleted, f.status(workflow1+"/job_01"))
	require.Equal(t, hierarchy.StatusWaiting, f.status("example/test/step2"))
	f.requireGate()
}

func TestSupersedeCreatesMatchingSibling(t *testing.T) {
	f := scenarioB(t)
	old := f.entity(workflow1)

	_, err := f.engine.Supersede(f.ctx, workflow1, false)
	require.NoError(t, err)

	stale := f.entity(workflow1)
	require.False(t, stale.Active)
	require.Equal(t, hierarchy.StatusFailed, stale.Status)
	require.Equal(t, hierarchy.StatusSuperseded, stale.EffectiveStatus())

	replacement := f.entity(workflow1 + "_r1")
	require.Equal(t, hierarchy.StatusWaiting, replacement.Status)
	require.True(t, replacement.Active)
	require.Equal(t, old.ConfigID, replacement.ConfigID)
	require.Equal(t, old.Handler, replacement.Handler)
	require.Equal(t, old.DataQuery, replacement.DataQuery)
	require.Equal(t, old.Block, replacement.Block)
	require.False(t, replacement.Rescue)

	children, err := f.store.Children(f.ctx, f.entity(group1).ID, true)
	require.NoError(t, err)
	require.Len(t, children, 1)

	_, err = f.engine.Supersede(f.ctx, workflow1, false)
	require.ErrorIs(t, err, services.ErrInvalidTransition)

	f.prepare(campaignName)
	f.fakeRun(group1, hierarchy.StatusFailed)
	_, err = f.engine.Supersede(f.ctx, workflow1+"_r1", false)
	require.NoError(t, err)
	require.Equal(t, hierarchy.StatusWaiting, f.status(workflow1+"_r2"))
	f.assertFullnames("example")
}

func TestSupersedeWithRescueVariant(t *testing.T) {
	f := scenarioB(t)

	_, err := f.engine.Supersede(f.ctx, step1, false)
	require.ErrorIs(t, err, services.ErrInvalidTransition)

	_, err = f.engine.Supersede(f.ctx, group1, true)
	require.NoError(t, err)
	rescue := f.entity(group1 + "_r1")
	require.Equal(t, "group_rescue", rescue.Block)
	require.True(t, rescue.Rescue)
	require.Equal(t, f.entity(group1).DataQuery, rescue.DataQuery)

	f.prepare(campaignName)
	wf := f.entity(group1 + "_r1/w00")
	require.Equal(t, "workflow_rescue", wf.Block)
	require.True(t, wf.Rescue)

	f.drive(campaignName, 5)
	require.Equal(t, hierarchy.StatusSuperseded, f.status(group1))
}

func TestSupersedeNeedsFailedOrRejected(t *testing.T) {
	f := newFixture(t)
	f.campaign(testsupport.ChainCampaign)
	f.prepare(campaignName)

	_, err := f.engine.Supersede(f.ctx, workflow1, false)
	require.ErrorIs(t, err, services.ErrInvalidTransition)
	require.Equal(t, hierarchy.StatusReady, f.status(workflow1))
}
