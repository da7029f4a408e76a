package tree

import (
	"errors"
	"testing"

	"github.com/agentic-research/canvas/api"
	"github.com/agentic-research/canvas/internal/problem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func problemsOf(t *testing.T, err error) problem.List {
	t.Helper()
	require.Error(t, err)
	l := problem.From(err)
	require.NotEmpty(t, l, "expected problem list, got %T: %v", err, err)
	return l
}

func TestCanonicalize_ReportsEveryViolation(t *testing.T) {
	missingParent := "99999999-0000-4000-8000-000000000099"
	items := []api.TreeItem{
		section(uuidA),
		child("not-a-uuid", uuidA, "body"),
		child(uuidC, missingParent, "body"),
		child(uuidD, uuidA, "sidebar"),
		{UUID: uuidE, Component: api.ComponentRef{Component: "sdc.section", Version: "9999999999999999"}},
		{UUID: uuidF, Component: cardRef, ParentUUID: uuidA, Slot: "body"},
	}
	c, err := Canonicalize(items, testCatalog(), Policy{})
	assert.Nil(t, c)

	l := problemsOf(t, err)
	for _, k := range []problem.Kind{
		problem.MalformedNode,
		problem.DanglingParent,
		problem.IllegalSlot,
		problem.UnknownVersion,
		problem.MissingRequiredInput,
	} {
		assert.True(t, l.Has(k), "missing %s in %v", k, l.Kinds())
		assert.True(t, errors.Is(err, k))
	}
	assert.False(t, l.Has(problem.DuplicateUUID))
}

func TestCheck_Paths(t *testing.T) {
	items := []api.TreeItem{
		section(uuidA),
		{UUID: uuidB, Component: cardRef, ParentUUID: uuidA, Slot: "body"},
	}
	l := problemsOf(t, Validate(items, testCatalog(), Policy{}))
	require.Len(t, l, 1)
	assert.Equal(t, problem.MissingRequiredInput, l[0].Kind)
	assert.Equal(t, uuidB+".inputs.heading", l[0].Path)
}

func TestCheck_EmptyStaticValueCountsAsMissing(t *testing.T) {
	items := []api.TreeItem{card(uuidA, "", "", "")}
	l := problemsOf(t, Validate(items, testCatalog(), Policy{}))
	assert.Equal(t, []problem.Kind{problem.MissingRequiredInput}, l.Kinds())
}

func TestCheck_DuplicateUUID(t *testing.T) {
	items := []api.TreeItem{section(uuidA), section(uuidA), section(uuidA)}
	l := problemsOf(t, Validate(items, testCatalog(), Policy{}))
	assert.Equal(t, []problem.Kind{problem.DuplicateUUID}, l.Kinds())
	assert.Contains(t, l[0].Message, "3 nodes")
}

func TestCheck_MalformedNodes(t *testing.T) {
	tests := []struct {
		name string
		item api.TreeItem
		path string
	}{
		{
			name: "uuid",
			item: section("A"),
			path: "A.uuid",
		},
		{
			name: "component ref without version",
			item: api.TreeItem{UUID: uuidB, Component: api.ComponentRef{Component: "sdc.section"}},
			path: uuidB + ".component_ref",
		},
		{
			name: "component ref without source",
			item: api.TreeItem{UUID: uuidB, Component: api.ComponentRef{Component: "section", Version: "1111111111111111"}},
			path: uuidB + ".component_ref",
		},
		{
			name: "slot without parent",
			item: api.TreeItem{UUID: uuidB, Component: sectionRef, Slot: "body"},
			path: uuidB + ".parent_uuid",
		},
		{
			name: "parent without slot",
			item: api.TreeItem{UUID: uuidB, Component: sectionRef, ParentUUID: uuidA},
			path: uuidB + ".slot",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items := []api.TreeItem{section(uuidA), tt.item}
			l := problemsOf(t, Validate(items, testCatalog(), Policy{}))
			require.True(t, l.Has(problem.MalformedNode), "kinds: %v", l.Kinds())
			var paths []string
			for _, p := range l {
				paths = append(paths, p.Path)
			}
			assert.Contains(t, paths, tt.path)
		})
	}
}

func TestCheck_UndeclaredInput(t *testing.T) {
	it := card(uuidB, "", "", "Hello")
	it.Inputs.Set("colour", api.Static("red"))
	l := problemsOf(t, Validate([]api.TreeItem{it}, testCatalog(), Policy{}))
	require.Len(t, l, 1)
	assert.Equal(t, problem.MalformedNode, l[0].Kind)
	assert.Equal(t, uuidB+".inputs.colour", l[0].Path)
}

func TestCheck_UnknownComponent(t *testing.T) {
	items := []api.TreeItem{
		{UUID: uuidA, Component: api.ComponentRef{Component: "sdc.ghost", Version: "1111111111111111"}},
	}
	l := problemsOf(t, Validate(items, testCatalog(), Policy{}))
	assert.Equal(t, []problem.Kind{problem.UnknownVersion}, l.Kinds())
	assert.Contains(t, l[0].Message, "does not exist")
}

func TestCheck_NilCatalog(t *testing.T) {
	l := problemsOf(t, Validate([]api.TreeItem{section(uuidA)}, nil, Policy{}))
	assert.Equal(t, []problem.Kind{problem.UnknownVersion}, l.Kinds())
}

func TestCheck_ParentCycle(t *testing.T) {
	items := []api.TreeItem{
		section(uuidA),
		child(uuidB, uuidC, "body"),
		child(uuidC, uuidB, "body"),
	}
	l := problemsOf(t, Validate(items, testCatalog(), Policy{}))
	assert.Equal(t, []problem.Kind{problem.MalformedNode, problem.MalformedNode}, l.Kinds())
	assert.False(t, l.Has(problem.DanglingParent))
}

func TestCheck_DanglingParentReportedOnce(t *testing.T) {
	missing := "99999999-0000-4000-8000-000000000099"
	items := []api.TreeItem{
		child(uuidA, missing, "body"),
		child(uuidB, uuidA, "body"),
	}
	l := problemsOf(t, Validate(items, testCatalog(), Policy{}))
	assert.Equal(t, []problem.Kind{problem.DanglingParent}, l.Kinds())
	assert.Equal(t, uuidA+".parent_uuid", l[0].Path)
}

func TestPolicy_ForbiddenCapability(t *testing.T) {
	items := []api.TreeItem{
		section(uuidA),
		{UUID: uuidB, Component: titleRef, ParentUUID: uuidA, Slot: "body"},
	}
	require.NoError(t, Validate(items, testCatalog(), Policy{}))

	policy := Policy{ForbiddenCapabilities: []string{"page_title"}}
	l := problemsOf(t, Validate(items, testCatalog(), policy))
	assert.Equal(t, []problem.Kind{problem.ForbiddenCapability}, l.Kinds())
	assert.Empty(t, l[0].Path)
	assert.Contains(t, l[0].Message, uuidB)
}

func TestPolicy_StaticInputsOnly(t *testing.T) {
	it := api.TreeItem{UUID: uuidA, Component: cardRef}
	it.Inputs.Set("heading", api.Dynamic("node.title"))
	it.Inputs.Set("tone", api.Static("warm"))
	items := []api.TreeItem{it}

	require.NoError(t, Validate(items, testCatalog(), Policy{}))

	l := problemsOf(t, Validate(items, testCatalog(), Policy{StaticInputsOnly: true}))
	assert.Equal(t, []problem.Kind{problem.ForbiddenDynamicSource}, l.Kinds())
	assert.Equal(t, uuidA+".inputs.heading", l[0].Path)
}

// A node keeps validating against the version it pins after the component
// has moved on to a new schema.
func TestCheck_ValidatesAgainstPinnedVersion(t *testing.T) {
	v1 := api.ComponentRef{Component: "sdc.card", Version: "aaaaaaaaaaaaaaaa"}
	v2 := api.ComponentRef{Component: "sdc.card", Version: "bbbbbbbbbbbbbbbb"}
	cat := mapCatalog{
		v1: {Settings: api.ComponentSettings{Inputs: map[string]api.InputSpec{
			"heading": {Type: "string", Required: true},
		}}},
		v2: {Settings: api.ComponentSettings{Inputs: map[string]api.InputSpec{
			"title": {Type: "string", Required: true},
		}}},
	}

	old := api.TreeItem{UUID: uuidA, Component: v1}
	old.Inputs.Set("heading", api.Static("Hello"))
	require.NoError(t, Validate([]api.TreeItem{old}, cat, Policy{}))

	repinned := old
	repinned.Component = v2
	l := problemsOf(t, Validate([]api.TreeItem{repinned}, cat, Policy{}))
	assert.ElementsMatch(t, []problem.Kind{problem.MissingRequiredInput, problem.MalformedNode}, l.Kinds())
}
