package tree

import (
	"errors"

	"github.com/agentic-research/canvas/api"
	"github.com/agentic-research/canvas/internal/problem"
	"github.com/go-playground/validator/v10"
)

// slotValidate checks the shape of exposed slot declarations.
var slotValidate *validator.Validate

func init() {
	slotValidate = validator.New()
	_ = slotValidate.RegisterValidation("machine_name", func(fl validator.FieldLevel) bool {
		return api.IsMachineName(fl.Field().String())
	})
}

// CheckExposedSlots validates exposed slots against the tree: each alias must
// be a unique machine name, and its target node must exist, pin a version
// declaring the target slot, and leave that slot empty.
func CheckExposedSlots(ix *Index, slots []api.ExposedSlot) problem.List {
	var out problem.List
	names := make(map[string]bool, len(slots))
	for _, s := range slots {
		path := "exposed_slots." + s.Name
		if err := slotValidate.Struct(s); err != nil {
			var verrs validator.ValidationErrors
			if errors.As(err, &verrs) {
				for _, fe := range verrs {
					out.Add(problem.InvalidExposedSlot, path, "field %s fails %q", fe.Field(), fe.Tag())
				}
			} else {
				out.Add(problem.InvalidExposedSlot, path, "%v", err)
			}
			continue
		}
		if names[s.Name] {
			out.Add(problem.InvalidExposedSlot, path, "alias %q is exposed more than once", s.Name)
			continue
		}
		names[s.Name] = true

		pos, ok := ix.Lookup(s.NodeUUID)
		if !ok {
			out.Add(problem.InvalidExposedSlot, path, "target node %q does not exist in the tree", s.NodeUUID)
			continue
		}
		r, ok := ix.Resolved(pos)
		if !ok {
			out.Add(problem.InvalidExposedSlot, path, "target node %q pins an unknown component version", s.NodeUUID)
			continue
		}
		if !r.Settings.HasSlot(s.Slot) {
			out.Add(problem.InvalidExposedSlot, path, "slot %q is not declared by %s", s.Slot, ix.Item(pos).Component.String())
			continue
		}
		if !ix.SlotEmpty(s.NodeUUID, s.Slot) {
			out.Add(problem.InvalidExposedSlot, path, "slot %q of node %q is not empty", s.Slot, s.NodeUUID)
		}
	}
	return out
}
