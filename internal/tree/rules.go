package tree

import (
	"errors"
	"sort"

	"github.com/agentic-research/canvas/api"
	"github.com/agentic-research/canvas/internal/problem"
	"github.com/google/uuid"
)

// Rule is one invariant check. It appends a problem for every violation it
// finds and never stops early.
type Rule func(ix *Index, out *problem.List)

// Policy holds the restrictions a tree-owning object kind places on its tree.
type Policy struct {
	// ForbiddenCapabilities lists capability tags no component in the tree
	// may declare, e.g. "page_title" inside a reusable template.
	ForbiddenCapabilities []string `json:"forbidden_capabilities,omitempty"`
	// StaticInputsOnly rejects dynamic-source inputs, e.g. for default values.
	StaticInputsOnly bool `json:"static_inputs_only,omitempty"`
}

// Rules returns the base rules followed by the rules the policy adds.
func (p Policy) Rules() []Rule {
	rules := BaseRules()
	if len(p.ForbiddenCapabilities) > 0 {
		rules = append(rules, ForbidCapabilities(p.ForbiddenCapabilities...))
	}
	if p.StaticInputsOnly {
		rules = append(rules, StaticInputsOnly)
	}
	return rules
}

// BaseRules are the checks every tree must pass.
func BaseRules() []Rule {
	return []Rule{
		WellFormedNodes,
		UniqueUUIDs,
		ParentsExist,
		LegalSlots,
		VersionsExist,
		CompleteInputs,
		Reachable,
	}
}

// Check runs rules against ix and returns everything they found.
func Check(ix *Index, rules []Rule) problem.List {
	var out problem.List
	for _, r := range rules {
		r(ix, &out)
	}
	return out
}

// WellFormedNodes checks uuid syntax, the component reference syntax, and
// that parent_uuid and slot are set together.
func WellFormedNodes(ix *Index, out *problem.List) {
	for pos, it := range ix.items {
		if len(it.UUID) != 36 || uuid.Validate(it.UUID) != nil {
			out.Add(problem.MalformedNode, ix.path(pos, "uuid"), "%q is not a well-formed UUID", it.UUID)
		}
		if ix.badRef[pos] {
			out.Add(problem.MalformedNode, ix.path(pos, "component_ref"),
				"%q is not a component reference of the form <source>.<id>@<version>", it.Component.String())
		}
		switch {
		case it.ParentUUID != "" && it.Slot == "":
			out.Add(problem.MalformedNode, ix.path(pos, "slot"), "slot is required when parent_uuid is set")
		case it.ParentUUID == "" && it.Slot != "":
			out.Add(problem.MalformedNode, ix.path(pos, "parent_uuid"), "slot %q is set without a parent_uuid", it.Slot)
		}
	}
}

// UniqueUUIDs reports every uuid used by more than one node.
func UniqueUUIDs(ix *Index, out *problem.List) {
	for _, u := range ix.dupeOrder {
		out.Add(problem.DuplicateUUID, "", "uuid %q is used by %d nodes", u, ix.dupes[u])
	}
}

// ParentsExist checks that every parent_uuid resolves to a node of the tree.
func ParentsExist(ix *Index, out *problem.List) {
	for pos, it := range ix.items {
		if it.ParentUUID == "" {
			continue
		}
		if _, ok := ix.byUUID[it.ParentUUID]; !ok {
			out.Add(problem.DanglingParent, ix.path(pos, "parent_uuid"), "parent %q does not exist in the tree", it.ParentUUID)
		}
	}
}

// LegalSlots checks each child's slot against the slots declared by the
// version its parent pins.
func LegalSlots(ix *Index, out *problem.List) {
	for pos, it := range ix.items {
		if it.ParentUUID == "" || it.Slot == "" {
			continue
		}
		ppos, ok := ix.byUUID[it.ParentUUID]
		if !ok {
			continue
		}
		parent, ok := ix.resolved[ppos]
		if !ok {
			continue
		}
		if !parent.Settings.HasSlot(it.Slot) {
			out.Add(problem.IllegalSlot, ix.path(pos, "slot"), "slot %q is not declared by %s",
				it.Slot, ix.items[ppos].Component.String())
		}
	}
}

// VersionsExist checks that each pinned version is in its component's
// version history.
func VersionsExist(ix *Index, out *problem.List) {
	for pos, it := range ix.items {
		err, failed := ix.refErr[pos]
		if !failed {
			continue
		}
		if errors.Is(err, problem.NotFound) {
			out.Add(problem.UnknownVersion, ix.path(pos, "component_ref"), "component %q does not exist", it.Component.Component)
			continue
		}
		out.Add(problem.UnknownVersion, ix.path(pos, "component_ref"), "version %q is not in the history of %q",
			it.Component.Version, it.Component.Component)
	}
}

// CompleteInputs checks inputs against the pinned version: every required
// input must be present and non-empty, and no undeclared input may be set.
func CompleteInputs(ix *Index, out *problem.List) {
	for pos, it := range ix.items {
		r, ok := ix.resolved[pos]
		if !ok {
			continue
		}
		names := make([]string, 0, len(r.Settings.Inputs))
		for name := range r.Settings.Inputs {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if !r.Settings.Inputs[name].Required {
				continue
			}
			v, present := it.Inputs.Get(name)
			if !present || v.IsEmpty() {
				out.Add(problem.MissingRequiredInput, ix.path(pos, "inputs."+name), "required input %q is missing or empty", name)
			}
		}
		for _, name := range it.Inputs.Names() {
			if _, declared := r.Settings.Inputs[name]; !declared {
				out.Add(problem.MalformedNode, ix.path(pos, "inputs."+name), "input %q is not declared by %s", name, it.Component.String())
			}
		}
	}
}

// Reachable reports nodes whose existing parent chain never reaches a root,
// i.e. nodes caught in a parent cycle.
func Reachable(ix *Index, out *problem.List) {
	seen := make(map[int]bool, len(ix.items))
	var visit func(pos int)
	visit = func(pos int) {
		if seen[pos] {
			return
		}
		seen[pos] = true
		u := ix.items[pos].UUID
		for _, slot := range ix.slotOrder[u] {
			for _, c := range ix.Children(u, slot) {
				visit(c)
			}
		}
	}
	for _, r := range ix.roots {
		visit(r)
	}
	for pos, it := range ix.items {
		if seen[pos] || it.ParentUUID == "" {
			continue
		}
		if ix.danglingAncestor(pos) {
			continue // reported by ParentsExist
		}
		out.Add(problem.MalformedNode, ix.path(pos, "parent_uuid"), "parent chain of %q does not lead to a root", ix.nodeName(pos))
	}
}

// ForbidCapabilities rejects components declaring any of tags.
func ForbidCapabilities(tags ...string) Rule {
	return func(ix *Index, out *problem.List) {
		for pos, it := range ix.items {
			r, ok := ix.resolved[pos]
			if !ok {
				continue
			}
			for _, tag := range tags {
				if r.HasCapability(tag) {
					out.Add(problem.ForbiddenCapability, "", "node %s uses %s, which declares forbidden capability %q",
						ix.nodeName(pos), it.Component.Component, tag)
				}
			}
		}
	}
}

// StaticInputsOnly rejects any input that uses a dynamic source.
func StaticInputsOnly(ix *Index, out *problem.List) {
	for pos, it := range ix.items {
		for _, in := range it.Inputs {
			switch in.Value.Source {
			case api.SourceStatic:
			case api.SourceDynamic:
				out.Add(problem.ForbiddenDynamicSource, ix.path(pos, "inputs."+in.Name),
					"input %q uses dynamic source %q; only static values are allowed", in.Name, in.Value.Expression)
			}
		}
	}
}

// danglingAncestor reports whether walking up from pos hits a parent_uuid
// that matches no node.
func (ix *Index) danglingAncestor(pos int) bool {
	visited := map[int]bool{pos: true}
	for {
		parent := ix.items[pos].ParentUUID
		if parent == "" {
			return false
		}
		ppos, ok := ix.byUUID[parent]
		if !ok {
			return true
		}
		if visited[ppos] {
			return false
		}
		visited[ppos] = true
		pos = ppos
	}
}
