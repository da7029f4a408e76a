// Package tree turns the flat, unordered item list of a component tree into
// its canonical depth-first order, validating the tree on the way.
//
// Structure is derived purely from parent_uuid/slot links. Roots keep their
// input-list order, and so do siblings within one (parent, slot) group; slot
// groups under a parent are emitted in the order their first child appears in
// the input. Ancestors may be listed after their descendants.
package tree

import (
	"fmt"

	"github.com/agentic-research/canvas/api"
	"github.com/agentic-research/canvas/internal/problem"
)

// Resolved is the metadata of one pinned component version.
type Resolved struct {
	Settings     api.ComponentSettings
	Capabilities []string
}

// HasCapability reports whether the component declares tag.
func (r Resolved) HasCapability(tag string) bool {
	for _, c := range r.Capabilities {
		if c == tag {
			return true
		}
	}
	return false
}

// Catalog resolves a component reference against the version it pins, never
// against the component's active version. Implementations return a
// problem.NotFound or problem.UnknownVersion error when resolution fails.
type Catalog interface {
	Resolve(ref api.ComponentRef) (Resolved, error)
}

type slotKey struct {
	parent string
	slot   string
}

// Index is the arena built once per canonicalization pass: items addressed by
// uuid, plus an adjacency index from (parent, slot) to child positions.
type Index struct {
	items     []api.TreeItem
	byUUID    map[string]int      // uuid → first input position
	dupes     map[string]int      // uuid → occurrence count, only for count > 1
	dupeOrder []string            // duplicated uuids in first-seen order
	roots     []int               // root positions in input order
	slotOrder map[string][]string // parent uuid → slot names in first-encounter order
	children  map[slotKey][]int   // (parent, slot) → child positions in input order

	resolved map[int]Resolved // position → resolved version, when resolution succeeded
	refErr   map[int]error    // position → resolution error
	badRef   map[int]bool     // position → reference is syntactically malformed
}

// NewIndex builds the arena for items, resolving each item's pinned version
// through cat.
func NewIndex(items []api.TreeItem, cat Catalog) *Index {
	ix := &Index{
		items:     items,
		byUUID:    make(map[string]int, len(items)),
		dupes:     make(map[string]int),
		slotOrder: make(map[string][]string),
		children:  make(map[slotKey][]int),
		resolved:  make(map[int]Resolved, len(items)),
		refErr:    make(map[int]error),
		badRef:    make(map[int]bool),
	}

	cache := make(map[api.ComponentRef]struct {
		r   Resolved
		err error
	})

	for pos, it := range items {
		if _, seen := ix.byUUID[it.UUID]; seen {
			if ix.dupes[it.UUID] == 0 {
				ix.dupes[it.UUID] = 1
				ix.dupeOrder = append(ix.dupeOrder, it.UUID)
			}
			ix.dupes[it.UUID]++
		} else {
			ix.byUUID[it.UUID] = pos
		}

		if it.IsRoot() {
			ix.roots = append(ix.roots, pos)
		} else {
			k := slotKey{parent: it.ParentUUID, slot: it.Slot}
			if _, ok := ix.children[k]; !ok {
				ix.slotOrder[it.ParentUUID] = append(ix.slotOrder[it.ParentUUID], it.Slot)
			}
			ix.children[k] = append(ix.children[k], pos)
		}

		if _, err := api.ParseComponentRef(it.Component.String()); err != nil {
			ix.badRef[pos] = true
			continue
		}
		c, ok := cache[it.Component]
		if !ok {
			if cat == nil {
				c.err = problem.New(problem.NotFound, "", "no component catalog")
			} else {
				c.r, c.err = cat.Resolve(it.Component)
			}
			cache[it.Component] = c
		}
		if c.err != nil {
			ix.refErr[pos] = c.err
		} else {
			ix.resolved[pos] = c.r
		}
	}
	return ix
}

// Len returns the number of items.
func (ix *Index) Len() int { return len(ix.items) }

// Item returns the item at input position pos.
func (ix *Index) Item(pos int) api.TreeItem { return ix.items[pos] }

// Lookup returns the input position of the first item with the given uuid.
func (ix *Index) Lookup(uuid string) (int, bool) {
	pos, ok := ix.byUUID[uuid]
	return pos, ok
}

// Resolved returns the resolved version of the item at pos.
func (ix *Index) Resolved(pos int) (Resolved, bool) {
	r, ok := ix.resolved[pos]
	return r, ok
}

// Children returns the positions of the children placed in parent's slot,
// in input order.
func (ix *Index) Children(parent, slot string) []int {
	return ix.children[slotKey{parent: parent, slot: slot}]
}

// SlotEmpty reports whether no item occupies parent's slot.
func (ix *Index) SlotEmpty(parent, slot string) bool {
	return len(ix.Children(parent, slot)) == 0
}

// nodeName is how problems address the item at pos: its uuid, or its input
// position when the uuid is blank.
func (ix *Index) nodeName(pos int) string {
	if u := ix.items[pos].UUID; u != "" {
		return u
	}
	return fmt.Sprintf("#%d", pos)
}

func (ix *Index) path(pos int, field string) string {
	return ix.nodeName(pos) + "." + field
}
