package store_test

import (
	"context"
	"errors"
	"testing"

	"cmtools/internal/hierarchy"
	"cmtools/internal/services"
	"cmtools/internal/store"
	"cmtools/internal/testsupport"
)

func insert(t *testing.T, st *store.Store, parent *hierarchy.Entity, level hierarchy.Level, name string) *hierarchy.Entity {
	t.Helper()
	e := &hierarchy.Entity{Level: level, Name: name, Fullname: name, Status: hierarchy.StatusWaiting, Active: true}
	if parent != nil {
		e.ParentID = parent.ID
		e.Fullname = hierarchy.JoinFullname(parent.Fullname, name)
	}
	if err := st.WithTx(context.Background(), func(tx *store.Tx) error {
		return tx.InsertEntity(context.Background(), e)
	}); err != nil {
		t.Fatalf("insert %s: %v", name, err)
	}
	return e
}

func TestOpenCreatesSchemaOnce(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	if st.Driver() != "sqlite" {
		t.Fatalf("driver = %q", st.Driver())
	}
	if err := st.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
	insert(t, st, nil, hierarchy.LevelProduction, "example")

	reopened := testsupport.MustOpenStore(t, cfg)
	got, err := reopened.GetByFullname(context.Background(), "example")
	if err != nil || got == nil {
		t.Fatalf("reopen lost data: %v %v", got, err)
	}
}

func TestInsertAndReadBack(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	prod := insert(t, st, nil, hierarchy.LevelProduction, "example")
	camp := insert(t, st, prod, hierarchy.LevelCampaign, "test")
	wf := &hierarchy.Entity{
		ParentID:   camp.ID,
		Level:      hierarchy.LevelStep,
		Name:       "step1",
		Fullname:   "example/test/step1",
		Status:     hierarchy.StatusReady,
		Active:     true,
		Queued:     true,
		Block:      "step1",
		Handler:    "step",
		DataQuery:  "visit > 1",
		Attributes: map[string]string{"coll_out": "u/test/out"},
	}
	if err := st.WithTx(ctx, func(tx *store.Tx) error { return tx.InsertEntity(ctx, wf) }); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := st.GetByID(ctx, wf.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Fullname != wf.Fullname || got.Status != hierarchy.StatusReady || !got.Queued || got.Handler != "step" {
		t.Fatalf("unexpected entity %+v", got)
	}
	if got.Attribute("coll_out") != "u/test/out" {
		t.Fatalf("attributes = %v", got.Attributes)
	}
	if got.Revision != 1 || got.CreatedAt.IsZero() {
		t.Fatalf("revision/timestamps not set: %+v", got)
	}

	missing, err := st.GetByFullname(ctx, "example/none")
	if err != nil || missing != nil {
		t.Fatalf("expected nil, nil for missing entity, got %v %v", missing, err)
	}
	if _, err := st.MustGet(ctx, "example/none"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("MustGet err = %v", err)
	}

	children, err := st.Children(ctx, camp.ID, true)
	if err != nil || len(children) != 1 || children[0].ID != wf.ID {
		t.Fatalf("children = %v, %v", children, err)
	}
}

func TestDuplicateFullnameRejected(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	insert(t, st, nil, hierarchy.LevelProduction, "example")

	err := st.WithTx(context.Background(), func(tx *store.Tx) error {
		return tx.InsertEntity(context.Background(), &hierarchy.Entity{
			Level: hierarchy.LevelProduction, Name: "example", Fullname: "example",
			Status: hierarchy.StatusWaiting, Active: true,
		})
	})
	if !errors.Is(err, services.ErrDuplicateEntity) {
		t.Fatalf("expected ErrDuplicateEntity, got %v", err)
	}
}

func TestUpdateDetectsStaleRevision(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	prod := insert(t, st, nil, hierarchy.LevelProduction, "example")

	first, _ := st.GetByID(ctx, prod.ID)
	second, _ := st.GetByID(ctx, prod.ID)

	first.Status = hierarchy.StatusReady
	if err := st.WithTx(ctx, func(tx *store.Tx) error { return tx.UpdateEntity(ctx, first) }); err != nil {
		t.Fatalf("first update: %v", err)
	}
	if first.Revision != 2 {
		t.Fatalf("revision = %d, want 2", first.Revision)
	}

	second.Status = hierarchy.StatusFailed
	err := st.WithTx(ctx, func(tx *store.Tx) error { return tx.UpdateEntity(ctx, second) })
	if !errors.Is(err, services.ErrStaleState) {
		t.Fatalf("expected ErrStaleState, got %v", err)
	}

	got, _ := st.GetByID(ctx, prod.ID)
	if got.Status != hierarchy.StatusReady {
		t.Fatalf("stale write leaked: %s", got.Status)
	}
}

func TestWithTxRollsBackOnError(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	boom := errors.New("boom")

	err := st.WithTx(ctx, func(tx *store.Tx) error {
		e := &hierarchy.Entity{Level: hierarchy.LevelProduction, Name: "gone", Fullname: "gone", Status: hierarchy.StatusWaiting, Active: true}
		if err := tx.InsertEntity(ctx, e); err != nil {
			return err
		}
		if got, _ := tx.GetByFullname(ctx, "gone"); got == nil {
			t.Fatal("tx should see its own insert")
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if got, _ := st.GetByFullname(ctx, "gone"); got != nil {
		t.Fatal("rolled back insert is visible")
	}
}

func TestSubtreeEscapesLikePatterns(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	prod := insert(t, st, nil, hierarchy.LevelProduction, "p")
	a := insert(t, st, prod, hierarchy.LevelCampaign, "a_1")
	insert(t, st, prod, hierarchy.LevelCampaign, "ab1")
	step := insert(t, st, a, hierarchy.LevelStep, "s")
	insert(t, st, step, hierarchy.LevelGroup, "g")

	sub, err := st.Subtree(ctx, "p/a_1")
	if err != nil {
		t.Fatalf("Subtree: %v", err)
	}
	var names []string
	for _, e := range sub {
		names = append(names, e.Fullname)
	}
	want := []string{"p/a_1", "p/a_1/s", "p/a_1/s/g"}
	if len(names) != len(want) {
		t.Fatalf("subtree = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("subtree = %v, want %v", names, want)
		}
	}

	camps, err := st.ListByLevel(ctx, hierarchy.LevelCampaign, true)
	if err != nil || len(camps) != 2 {
		t.Fatalf("ListByLevel = %v, %v", camps, err)
	}
}

func TestDependencies(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	prod := insert(t, st, nil, hierarchy.LevelProduction, "p")
	camp := insert(t, st, prod, hierarchy.LevelCampaign, "c")
	s1 := insert(t, st, camp, hierarchy.LevelStep, "s1")
	s2 := insert(t, st, camp, hierarchy.LevelStep, "s2")

	err := st.WithTx(ctx, func(tx *store.Tx) error {
		if err := tx.AddDependency(ctx, s2.ID, s1.ID); err != nil {
			return err
		}
		return tx.AddDependency(ctx, s2.ID, s1.ID)
	})
	if err != nil {
		t.Fatalf("AddDependency: %v", err)
	}
	if err := st.WithTx(ctx, func(tx *store.Tx) error { return tx.AddDependency(ctx, s1.ID, s1.ID) }); !errors.Is(err, services.ErrIntegrity) {
		t.Fatalf("self dependency err = %v", err)
	}

	prereqs, err := st.Prerequisites(ctx, s2.ID)
	if err != nil || len(prereqs) != 1 || prereqs[0].ID != s1.ID {
		t.Fatalf("prerequisites = %v, %v", prereqs, err)
	}
	deps, err := st.Dependents(ctx, s1.ID)
	if err != nil || len(deps) != 1 || deps[0].ID != s2.ID {
		t.Fatalf("dependents = %v, %v", deps, err)
	}
}

func TestScriptRunsAndConfigVersions(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	prod := insert(t, st, nil, hierarchy.LevelProduction, "p")

	run := &hierarchy.ScriptRun{
		EntityID: prod.ID, Name: "prep", Block: "prep", Handler: "script",
		Kind: hierarchy.ScriptPrepare, Stamp: hierarchy.StatusCompleted, Status: hierarchy.StatusRunning,
	}
	err := st.WithTx(ctx, func(tx *store.Tx) error {
		if err := tx.InsertScriptRun(ctx, run); err != nil {
			return err
		}
		run.Status = hierarchy.StatusCompleted
		return tx.UpdateScriptRun(ctx, run)
	})
	if err != nil {
		t.Fatalf("script run: %v", err)
	}
	runs, err := st.ScriptRuns(ctx, prod.ID)
	if err != nil || len(runs) != 1 || runs[0].Status != hierarchy.StatusCompleted || runs[0].Revision != 2 {
		t.Fatalf("script runs = %+v, %v", runs, err)
	}

	var v1, v2 *store.ConfigDocument
	err = st.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		if v1, err = tx.InsertConfigDocument(ctx, "p/c", "a: {}"); err != nil {
			return err
		}
		v2, err = tx.InsertConfigDocument(ctx, "p/c", "b: {}")
		return err
	})
	if err != nil {
		t.Fatalf("config documents: %v", err)
	}
	if v1.Version != 1 || v2.Version != 2 {
		t.Fatalf("versions = %d, %d", v1.Version, v2.Version)
	}
	latest, err := st.LatestConfig(ctx, "p/c")
	if err != nil || latest.ID != v2.ID || latest.Body != "b: {}" {
		t.Fatalf("latest = %+v, %v", latest, err)
	}
	first, err := st.ConfigDocument(ctx, v1.ID)
	if err != nil || first.Body != "a: {}" {
		t.Fatalf("config %d = %+v, %v", v1.ID, first, err)
	}
}
