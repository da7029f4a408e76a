package tree

import (
	"strconv"

	"github.com/agentic-research/canvas/api"
)

// Entry is one node in canonical order. Path is the debugging/addressing key,
// e.g. "0:the_body:1:the_footer:0".
type Entry struct {
	Path  string       `json:"path"`
	Depth int          `json:"depth"`
	Item  api.TreeItem `json:"item"`
}

// Canonical is a validated tree in depth-first pre-order.
type Canonical struct {
	Entries []Entry `json:"entries"`
}

// UUIDs returns node uuids in canonical order.
func (c *Canonical) UUIDs() []string {
	out := make([]string, len(c.Entries))
	for i, e := range c.Entries {
		out[i] = e.Item.UUID
	}
	return out
}

// Paths returns path keys in canonical order.
func (c *Canonical) Paths() []string {
	out := make([]string, len(c.Entries))
	for i, e := range c.Entries {
		out[i] = e.Path
	}
	return out
}

// Items returns the items in canonical order, ready to be persisted as the
// flat list again.
func (c *Canonical) Items() []api.TreeItem {
	out := make([]api.TreeItem, len(c.Entries))
	for i, e := range c.Entries {
		out[i] = e.Item
	}
	return out
}

// Refs returns the distinct component references used by the tree, in
// canonical order of first use.
func (c *Canonical) Refs() []api.ComponentRef {
	seen := make(map[api.ComponentRef]bool)
	var out []api.ComponentRef
	for _, e := range c.Entries {
		if !seen[e.Item.Component] {
			seen[e.Item.Component] = true
			out = append(out, e.Item.Component)
		}
	}
	return out
}

// Canonicalize validates items with the policy's rules and returns them in
// canonical order. On failure it returns a problem.List holding every
// violation found, and no partial output.
func Canonicalize(items []api.TreeItem, cat Catalog, policy Policy) (*Canonical, error) {
	return Analyze(items, nil, cat, policy)
}

// Analyze is Canonicalize plus validation of the exposed slots declared by
// the tree's owner.
func Analyze(items []api.TreeItem, exposed []api.ExposedSlot, cat Catalog, policy Policy) (*Canonical, error) {
	ix := NewIndex(items, cat)
	problems := Check(ix, policy.Rules())
	problems = append(problems, CheckExposedSlots(ix, exposed)...)
	if len(problems) > 0 {
		return nil, problems
	}
	return ix.Canonical(), nil
}

// Canonical emits the pre-order walk of a validated index: each root in input
// order, then each of its slot groups in first-encounter order, children in
// input order, recursively.
func (ix *Index) Canonical() *Canonical {
	c := &Canonical{Entries: make([]Entry, 0, len(ix.items))}
	visited := make(map[int]bool, len(ix.items))
	var walk func(pos, depth int, path string)
	walk = func(pos, depth int, path string) {
		if visited[pos] {
			return
		}
		visited[pos] = true
		it := ix.items[pos]
		c.Entries = append(c.Entries, Entry{Path: path, Depth: depth, Item: it})
		for _, slot := range ix.slotOrder[it.UUID] {
			for i, child := range ix.Children(it.UUID, slot) {
				walk(child, depth+1, path+":"+slot+":"+strconv.Itoa(i))
			}
		}
	}
	for i, r := range ix.roots {
		walk(r, 0, strconv.Itoa(i))
	}
	return c
}

// Validate runs the policy's rules without producing an order.
func Validate(items []api.TreeItem, cat Catalog, policy Policy) error {
	return Check(NewIndex(items, cat), policy.Rules()).Err()
}
