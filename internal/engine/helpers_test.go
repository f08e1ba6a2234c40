package engine_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"cmtools/internal/archive"
	"cmtools/internal/engine"
	"cmtools/internal/errclass"
	"cmtools/internal/execution"
	"cmtools/internal/hierarchy"
	"cmtools/internal/logging"
	"cmtools/internal/store"
	"cmtools/internal/testsupport"
)

type fixture struct {
	t          *testing.T
	ctx        context.Context
	engine     *engine.Engine
	store      *store.Store
	archiveDir string
}

func newFixture(t *testing.T, opts ...engine.Option) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	sim, err := execution.NewSimulation(hierarchy.StatusCompleted)
	require.NoError(t, err)
	base := []engine.Option{
		engine.WithAdapter(sim),
		engine.WithArchive(archive.NewLocal(cfg.Archive.Dir)),
		engine.WithErrorTable(&errclass.Table{}),
		engine.WithLogger(logging.NewNop()),
	}
	return &fixture{
		t:          t,
		ctx:        context.Background(),
		engine:     engine.New(st, append(base, opts...)...),
		store:      st,
		archiveDir: cfg.Archive.Dir,
	}
}

// campaign inserts production "example" and campaign "test" from doc.
func (f *fixture) campaign(doc string) {
	f.t.Helper()
	_, err := f.engine.Insert(f.ctx, engine.InsertRequest{Level: hierarchy.LevelProduction, Name: "example"})
	require.NoError(f.t, err)
	_, err = f.engine.Insert(f.ctx, engine.InsertRequest{
		Level:  hierarchy.LevelCampaign,
		Parent: "example",
		Name:   "test",
		Config: []byte(doc),
	})
	require.NoError(f.t, err)
}

func (f *fixture) entity(fullname string) *hierarchy.Entity {
	f.t.Helper()
	ent, err := f.store.GetByFullname(f.ctx, fullname)
	require.NoError(f.t, err)
	require.NotNil(f.t, ent, fullname)
	return ent
}

func (f *fixture) status(fullname string) hierarchy.Status {
	f.t.Helper()
	return f.entity(fullname).EffectiveStatus()
}

func (f *fixture) prepare(target string) *engine.Result {
	f.t.Helper()
	res, err := f.engine.Prepare(f.ctx, target)
	require.NoError(f.t, err)
	return res
}

func (f *fixture) fakeRun(target string, status hierarchy.Status) *engine.Result {
	f.t.Helper()
	res, err := f.engine.FakeRun(f.ctx, target, status)
	require.NoError(f.t, err)
	return res
}

func (f *fixture) accept(target string) *engine.Result {
	f.t.Helper()
	res, err := f.engine.Accept(f.ctx, target, true)
	require.NoError(f.t, err)
	return res
}

// drive repeats prepare, fake-run and recursive accept until target is
// ACCEPTED or the cycle budget runs out.
func (f *fixture) drive(target string, cycles int) {
	f.t.Helper()
	for i := 0; i < cycles; i++ {
		f.prepare(target)
		f.fakeRun(target, hierarchy.StatusCompleted)
		f.accept(target)
		if f.status(target) == hierarchy.StatusAccepted {
			return
		}
	}
	f.t.Fatalf("%s not ACCEPTED after %d cycles: %s", target, cycles, f.status(target))
}

// assertFullnames checks every stored entity's fullname against its parent's.
func (f *fixture) assertFullnames(root string) {
	f.t.Helper()
	nodes, err := f.store.Subtree(f.ctx, root)
	require.NoError(f.t, err)
	byID := map[int64]*hierarchy.Entity{}
	for _, n := range nodes {
		byID[n.ID] = n
	}
	for _, n := range nodes {
		if n.ParentID == 0 {
			require.Equal(f.t, n.Name, n.Fullname)
			continue
		}
		parent, ok := byID[n.ParentID]
		if !ok {
			parent = f.entity(hierarchy.ParentFullname(n.Fullname))
		}
		require.Equal(f.t, parent.Fullname+"/"+n.Name, n.Fullname)
		require.Equal(f.t, parent.Level.Child(), n.Level)
	}
}
