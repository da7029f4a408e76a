package tree

import (
	"encoding/json"
	"fmt"

	"github.com/agentic-research/canvas/api"
	"github.com/agentic-research/canvas/internal/problem"
)

// DecodeItems decodes a submitted item list one item at a time, so a
// malformed item is reported at "items[i]" without hiding the others.
func DecodeItems(raw []json.RawMessage) ([]api.TreeItem, problem.List) {
	items := make([]api.TreeItem, 0, len(raw))
	var problems problem.List
	for i, b := range raw {
		var it api.TreeItem
		if err := json.Unmarshal(b, &it); err != nil {
			problems.Add(problem.MalformedNode, fmt.Sprintf("items[%d]", i), "%v", err)
			continue
		}
		items = append(items, it)
	}
	return items, problems
}
