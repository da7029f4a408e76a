package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComponentSettings_Clone(t *testing.T) {
	orig := ComponentSettings{
		Slots: map[string]SlotSpec{"body": {Label: "Body"}},
		Inputs: map[string]InputSpec{
			"links": {Type: "list", Default: []any{map[string]any{"href": "/"}}},
		},
	}
	c := orig.Clone()
	assert.Equal(t, orig, c)

	c.Slots["sidebar"] = SlotSpec{}
	c.Inputs["links"].Default.([]any)[0].(map[string]any)["href"] = "/other"
	delete(c.Inputs, "links")

	assert.NotContains(t, orig.Slots, "sidebar")
	require.Contains(t, orig.Inputs, "links")
	assert.Equal(t, "/", orig.Inputs["links"].Default.([]any)[0].(map[string]any)["href"])

	assert.Equal(t, ComponentSettings{}, ComponentSettings{}.Clone())
}

func TestComponentDefinition_CopiesDoNotAlias(t *testing.T) {
	def := &ComponentDefinition{
		ID:            "sdc.card",
		ActiveVersion: "aaaaaaaaaaaaaaaa",
		Versions:      []string{"aaaaaaaaaaaaaaaa"},
		Snapshots: map[string]ComponentSettings{
			"aaaaaaaaaaaaaaaa": {Slots: map[string]SlotSpec{"body": {}}},
		},
	}

	c := def.Clone()
	c.Snapshots["aaaaaaaaaaaaaaaa"].Slots["sidebar"] = SlotSpec{}
	assert.Len(t, def.Snapshots["aaaaaaaaaaaaaaaa"].Slots, 1)

	v, ok := def.Active()
	require.True(t, ok)
	v.Settings.Slots["sidebar"] = SlotSpec{}
	assert.Len(t, def.Snapshots["aaaaaaaaaaaaaaaa"].Slots, 1)
}
