package daemon_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/require"

	"cmtools/internal/daemon"
	"cmtools/internal/engine"
	"cmtools/internal/execution"
	"cmtools/internal/hierarchy"
	"cmtools/internal/logging"
	"cmtools/internal/testsupport"
)

func setup(t *testing.T, status hierarchy.Status, iterations int) (*daemon.Daemon, *engine.Engine) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	cfg.Daemon.MaxIterations = iterations
	st := testsupport.MustOpenStore(t, cfg)
	sim, err := execution.NewSimulation(status)
	require.NoError(t, err)
	eng := engine.New(st, engine.WithAdapter(sim), engine.WithLogger(logging.NewNop()))

	ctx := context.Background()
	_, err = eng.Insert(ctx, engine.InsertRequest{Level: hierarchy.LevelProduction, Name: "example"})
	require.NoError(t, err)
	_, err = eng.Insert(ctx, engine.InsertRequest{
		Level:  hierarchy.LevelCampaign,
		Parent: "example",
		Name:   "chain",
		Config: []byte(testsupport.ChainCampaign),
	})
	require.NoError(t, err)

	d, err := daemon.New(cfg, eng, logging.NewNop(), "example/chain")
	require.NoError(t, err)
	return d, eng
}

func TestDaemonDrivesCampaignToAccepted(t *testing.T) {
	d, eng := setup(t, hierarchy.StatusCompleted, 20)

	out, err := d.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, hierarchy.StatusAccepted, out.Status)
	require.Equal(t, "campaign accepted", out.Reason)
	// One cycle per step in the prerequisite chain.
	require.Equal(t, 3, out.Iterations)

	node, err := eng.Get(context.Background(), "example/chain/step3/group_0/w00")
	require.NoError(t, err)
	require.Equal(t, hierarchy.StatusAccepted, node.Entity.Status)
}

func TestDaemonStopsForOperatorOnFailure(t *testing.T) {
	d, eng := setup(t, hierarchy.StatusFailed, 20)

	out, err := d.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, hierarchy.StatusFailed, out.Status)
	require.Equal(t, "campaign needs operator attention", out.Reason)
	require.Equal(t, 1, out.Iterations)

	node, err := eng.Get(context.Background(), "example/chain/step2")
	require.NoError(t, err)
	require.Equal(t, hierarchy.StatusWaiting, node.Entity.Status)
}

func TestDaemonHonorsIterationBudget(t *testing.T) {
	d, _ := setup(t, hierarchy.StatusCompleted, 1)

	out, err := d.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, out.Iterations)
	require.Equal(t, "max iterations reached", out.Reason)
}

func TestDaemonRefusesLockedCampaign(t *testing.T) {
	d, _ := setup(t, hierarchy.StatusCompleted, 1)

	other := flock.New(d.LockPath())
	require.NoError(t, os.MkdirAll(filepath.Dir(d.LockPath()), 0o755))
	ok, err := other.TryLock()
	require.NoError(t, err)
	require.True(t, ok)
	t.Cleanup(func() { _ = other.Unlock() })

	_, err = d.Run(context.Background())
	require.True(t, errors.Is(err, daemon.ErrLocked), "got %v", err)
}

func TestDaemonStopsOnCancel(t *testing.T) {
	d, _ := setup(t, hierarchy.StatusCompleted, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	done := make(chan daemon.Outcome, 1)
	go func() {
		out, _ := d.Run(ctx)
		done <- out
	}()
	select {
	case out := <-done:
		require.Equal(t, "interrupted", out.Reason)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop after cancel")
	}
}
