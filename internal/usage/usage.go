// Package usage tracks which stored objects reference which component
// versions, so a version still pinned somewhere is never deleted.
package usage

import (
	"sync"

	"github.com/RoaringBitmap/roaring"
	"github.com/agentic-research/canvas/api"
)

// Index maps component references to the owners whose trees pin them.
// Owners are opaque strings (a draft key, a content revision id) and are
// stored in the bitmaps by an internal ordinal.
type Index struct {
	mu sync.RWMutex

	refOwners map[api.ComponentRef]*roaring.Bitmap // ref → owner ordinals
	ownerRefs map[string][]api.ComponentRef        // owner → refs it currently pins

	ownerID   map[string]uint32 // owner → ordinal
	idToOwner []string          // reverse: ordinal → owner ("" once forgotten)
	free      []uint32          // forgotten ordinals, reused before nextID
	nextID    uint32
}

// New returns an empty index.
func New() *Index {
	return &Index{
		refOwners: make(map[api.ComponentRef]*roaring.Bitmap),
		ownerRefs: make(map[string][]api.ComponentRef),
		ownerID:   make(map[string]uint32),
	}
}

// Record replaces the set of references held by owner with those used by
// items.
func (x *Index) Record(owner string, items []api.TreeItem) {
	seen := make(map[api.ComponentRef]bool, len(items))
	refs := make([]api.ComponentRef, 0, len(items))
	for _, it := range items {
		if it.Component.IsZero() || seen[it.Component] {
			continue
		}
		seen[it.Component] = true
		refs = append(refs, it.Component)
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	x.unlink(owner)
	if len(refs) == 0 {
		return
	}

	id, ok := x.ownerID[owner]
	if !ok {
		if n := len(x.free); n > 0 {
			id = x.free[n-1]
			x.free = x.free[:n-1]
		} else {
			id = x.nextID
			x.nextID++
		}
		x.ownerID[owner] = id
		for uint32(len(x.idToOwner)) <= id {
			x.idToOwner = append(x.idToOwner, "")
		}
	}
	x.idToOwner[id] = owner

	for _, ref := range refs {
		bm, exists := x.refOwners[ref]
		if !exists {
			bm = roaring.New()
			x.refOwners[ref] = bm
		}
		bm.Add(id)
	}
	x.ownerRefs[owner] = refs
}

// Forget drops every reference held by owner.
func (x *Index) Forget(owner string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.unlink(owner)
	if id, ok := x.ownerID[owner]; ok {
		x.idToOwner[id] = ""
		delete(x.ownerID, owner)
		x.free = append(x.free, id)
	}
}

// unlink clears owner's bits. Must be called with x.mu held.
func (x *Index) unlink(owner string) {
	id, ok := x.ownerID[owner]
	if !ok {
		return
	}
	for _, ref := range x.ownerRefs[owner] {
		bm := x.refOwners[ref]
		if bm == nil {
			continue
		}
		bm.Remove(id)
		if bm.IsEmpty() {
			delete(x.refOwners, ref)
		}
	}
	delete(x.ownerRefs, owner)
}

// InUse reports whether any owner pins ref.
func (x *Index) InUse(ref api.ComponentRef) (bool, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	bm, ok := x.refOwners[ref]
	return ok && !bm.IsEmpty(), nil
}

// Owners returns the owners pinning ref, ordered by ordinal. Ordinals of
// forgotten owners are handed out again, so the order is not by age.
func (x *Index) Owners(ref api.ComponentRef) []string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	bm, ok := x.refOwners[ref]
	if !ok {
		return nil
	}
	out := make([]string, 0, bm.GetCardinality())
	it := bm.Iterator()
	for it.HasNext() {
		id := it.Next()
		if int(id) < len(x.idToOwner) && x.idToOwner[id] != "" {
			out = append(out, x.idToOwner[id])
		}
	}
	return out
}

// Refs returns the references owner currently pins.
func (x *Index) Refs(owner string) []api.ComponentRef {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return append([]api.ComponentRef(nil), x.ownerRefs[owner]...)
}
