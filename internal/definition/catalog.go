package definition

import (
	"sort"

	"github.com/agentic-research/canvas/api"
	"github.com/agentic-research/canvas/internal/problem"
	"github.com/agentic-research/canvas/internal/tree"
)

// Catalog is a read-only view of a set of definitions. It resolves a
// reference against the version the reference pins, never the active one.
type Catalog struct {
	defs map[api.ComponentID]*api.ComponentDefinition
}

var _ tree.Catalog = (*Catalog)(nil)

// NewCatalog snapshots defs.
func NewCatalog(defs ...*api.ComponentDefinition) *Catalog {
	c := &Catalog{defs: make(map[api.ComponentID]*api.ComponentDefinition, len(defs))}
	for _, d := range defs {
		c.defs[d.ID] = d.Clone()
	}
	return c
}

// Resolve implements tree.Catalog.
func (c *Catalog) Resolve(ref api.ComponentRef) (tree.Resolved, error) {
	def, ok := c.defs[ref.Component]
	if !ok {
		return tree.Resolved{}, problem.New(problem.NotFound, "", "component %q does not exist", ref.Component)
	}
	v, ok := def.Version(ref.Version)
	if !ok {
		return tree.Resolved{}, problem.New(problem.UnknownVersion, "", "version %q is not in the history of %q", ref.Version, ref.Component)
	}
	return tree.Resolved{Settings: v.Settings, Capabilities: append([]string(nil), def.Capabilities...)}, nil
}

// Active returns the reference new tree items of id should pin.
func (c *Catalog) Active(id api.ComponentID) (api.ComponentRef, bool) {
	def, ok := c.defs[id]
	if !ok || def.ActiveVersion == "" {
		return api.ComponentRef{}, false
	}
	return api.ComponentRef{Component: id, Version: def.ActiveVersion}, true
}

// IDs returns the catalogued component ids in order.
func (c *Catalog) IDs() []api.ComponentID {
	ids := make([]api.ComponentID, 0, len(c.defs))
	for id := range c.defs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
