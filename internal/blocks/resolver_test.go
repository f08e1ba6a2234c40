package blocks_test

import (
	"errors"
	"fmt"
	"maps"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"cmtools/internal/blocks"
	"cmtools/internal/services"
)

const sampleDoc = `
base:
  templates:
    coll_out: "{root_coll}/{fullname}/out"
  input_type: raw
  priority: 1
step_base:
  includes: [base]
  class_name: step
  data_query: "instrument == 'LSST'"
  priority: 2
step1:
  includes: [step_base]
  priority: 3
step2:
  includes: [step_base]
  prerequisites: [step1]
campaign:
  class_name: campaign
  root_coll: u/test
  steps: [step2, step1]
group_rescue:
  includes: [group]
  rescue: true
group:
  class_name: group
`

func mustParse(t *testing.T, data string) *blocks.Document {
	t.Helper()
	doc, err := blocks.Parse([]byte(data))
	require.NoError(t, err)
	return doc
}

func TestResolveMergesIncludesOwnFieldsWin(t *testing.T) {
	r := blocks.NewResolver(mustParse(t, sampleDoc))

	step1, err := r.Resolve("step1")
	require.NoError(t, err)
	require.Equal(t, "step", step1.ClassName)
	require.Equal(t, "raw", step1.InputType)
	require.Equal(t, 3, step1.Int("priority", 0))
	require.Equal(t, "instrument == 'LSST'", step1.DataQuery)
	require.Equal(t, []string{"step_base"}, step1.Includes)

	step2, err := r.Resolve("step2")
	require.NoError(t, err)
	require.Equal(t, 2, step2.Int("priority", 0))
	require.Equal(t, []string{"step1"}, step2.Prerequisites)
}

func TestResolveExpandsTemplates(t *testing.T) {
	r := blocks.NewResolver(mustParse(t, sampleDoc))
	step1, err := r.Resolve("step1")
	require.NoError(t, err)

	out, err := step1.Expand(blocks.Vars{blocks.VarRootColl: "u/test", blocks.VarFullname: "example/test/step1"})
	require.NoError(t, err)
	require.Equal(t, "u/test/example/test/step1/out", out["coll_out"])

	_, err = step1.Expand(blocks.Vars{blocks.VarFullname: "example/test/step1"})
	require.Error(t, err)
	require.ErrorIs(t, err, services.ErrConfiguration)
}

func TestExpandTemplateEscapes(t *testing.T) {
	got, err := blocks.ExpandTemplate("{{literal}} {name}", blocks.Vars{"name": "w00"})
	require.NoError(t, err)
	require.Equal(t, "{literal} w00", got)

	_, err = blocks.ExpandTemplate("{open", blocks.Vars{})
	require.ErrorIs(t, err, services.ErrConfiguration)
}

func TestResolveTemplatesFromParsedAndBuiltDocuments(t *testing.T) {
	vars := blocks.Vars{blocks.VarRootColl: "u/test", blocks.VarFullname: "example/test/step1/group_0/w00"}

	parsed := blocks.NewResolver(mustParse(t, `
wf:
  class_name: workflow
  templates:
    coll_out: "{root_coll}/{fullname}/out"
`))
	wf, err := parsed.Resolve("wf")
	require.NoError(t, err)
	out, err := wf.Expand(vars)
	require.NoError(t, err)
	require.Equal(t, "u/test/example/test/step1/group_0/w00/out", out["coll_out"])

	built := blocks.NewResolver(blocks.NewDocument(map[string]blocks.Body{
		"wf": {
			"class_name": "workflow",
			"templates":  map[string]any{"coll_out": "{root_coll}/out"},
		},
	}))
	wf, err = built.Resolve("wf")
	require.NoError(t, err)
	out, err = wf.Expand(vars)
	require.NoError(t, err)
	require.Equal(t, "u/test/out", out["coll_out"])

	bad := blocks.NewResolver(mustParse(t, "wf:\n  class_name: workflow\n  templates: nope\n"))
	_, err = bad.Resolve("wf")
	require.ErrorIs(t, err, services.ErrConfiguration)
}

func TestResolveErrors(t *testing.T) {
	doc := mustParse(t, `
a:
  class_name: step
  includes: [missing]
b:
  includes: [c]
  class_name: step
c:
  includes: [b]
d:
  data_query: x
e:
  class_name: nope
`)
	r := blocks.NewResolver(doc, blocks.WithClassCheck(func(name string) bool { return name == "step" }))

	for _, name := range []string{"a", "b", "d", "undefined"} {
		_, err := r.Resolve(name)
		require.Error(t, err, name)
		require.ErrorIs(t, err, services.ErrConfiguration, name)
		var cfgErr *blocks.ConfigError
		require.True(t, errors.As(err, &cfgErr), name)
	}

	_, err := r.Resolve("e")
	require.ErrorIs(t, err, services.ErrConfiguration)
	require.ErrorIs(t, err, services.ErrUnknownHandler)
}

func TestIncludeMergeRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 5))
	keys := []string{"k1", "k2", "k3", "k4", "k5"}
	randomBody := func() blocks.Body {
		body := blocks.Body{}
		for _, k := range keys {
			if rng.IntN(2) == 0 {
				body[k] = fmt.Sprintf("v%d", rng.IntN(100))
			}
		}
		return body
	}

	for i := 0; i < 200; i++ {
		a, b, own := randomBody(), randomBody(), randomBody()
		ownWithMeta := maps.Clone(own)
		ownWithMeta["includes"] = []any{"A", "B"}
		ownWithMeta["class_name"] = "step"
		doc := blocks.NewDocument(map[string]blocks.Body{"A": a, "B": b, "X": ownWithMeta})

		resolved, err := blocks.NewResolver(doc).Resolve("X")
		require.NoError(t, err)

		want := map[string]any{}
		maps.Copy(want, a)
		maps.Copy(want, b)
		maps.Copy(want, own)
		want["class_name"] = "step"
		require.Equal(t, want, resolved.Fields())
	}
}

func TestStepOrderFollowsPrerequisites(t *testing.T) {
	r := blocks.NewResolver(mustParse(t, sampleDoc))
	campaign, err := r.Resolve("campaign")
	require.NoError(t, err)
	require.Equal(t, "u/test", campaign.RootColl)

	ordered, err := blocks.StepOrder(r, campaign)
	require.NoError(t, err)
	require.Len(t, ordered, 2)
	require.Equal(t, "step1", ordered[0].Block)
	require.Equal(t, "step2", ordered[1].Block)

	cyclic := mustParse(t, `
s1: {class_name: step, prerequisites: [s2]}
s2: {class_name: step, prerequisites: [s1]}
c: {class_name: campaign, steps: [s1, s2]}
`)
	rc := blocks.NewResolver(cyclic)
	c, err := rc.Resolve("c")
	require.NoError(t, err)
	_, err = blocks.StepOrder(rc, c)
	require.ErrorIs(t, err, services.ErrConfiguration)
}

func TestRescueVariantAndMerge(t *testing.T) {
	doc := mustParse(t, sampleDoc)
	name, ok := doc.RescueVariant("group")
	require.True(t, ok)
	require.Equal(t, "group_rescue", name)

	resolved, err := blocks.NewResolver(doc).Resolve(name)
	require.NoError(t, err)
	require.True(t, resolved.Rescue)
	require.Equal(t, "group", resolved.ClassName)

	extra := mustParse(t, "group:\n  class_name: group\n  workflow_block: wf_alt\n")
	merged := doc.Merge(extra)
	body, ok := merged.Body("group")
	require.True(t, ok)
	require.Equal(t, "wf_alt", body["workflow_block"])
	original, _ := doc.Body("group")
	require.NotContains(t, original, "workflow_block")
}

func TestParseMultiDocumentAndLoadFiles(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "one.yaml")
	second := filepath.Join(dir, "two.yaml")
	require.NoError(t, os.WriteFile(first, []byte("a: {class_name: step}\n---\nb: {class_name: group}\n"), 0o644))
	require.NoError(t, os.WriteFile(second, []byte("a: {class_name: group}\n"), 0o644))

	doc, err := blocks.LoadFiles(first, second)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, doc.Names())
	a, err := blocks.NewResolver(doc).Resolve("a")
	require.NoError(t, err)
	require.Equal(t, "group", a.ClassName)

	data, err := doc.Marshal()
	require.NoError(t, err)
	again, err := blocks.Parse(data)
	require.NoError(t, err)
	require.Equal(t, doc.Names(), again.Names())
}

func TestCacheMemoizesPerVersion(t *testing.T) {
	r := blocks.NewResolver(mustParse(t, sampleDoc))
	cache := blocks.NewCache()
	for i := 0; i < 3; i++ {
		_, err := cache.Resolve(1, r, "step1")
		require.NoError(t, err)
	}
	_, err := cache.Resolve(2, r, "step1")
	require.NoError(t, err)
	require.Equal(t, 2, cache.Len())

	_, err = cache.Resolve(1, r, "missing")
	require.Error(t, err)
	require.Equal(t, 2, cache.Len())
}
