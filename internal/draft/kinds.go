package draft

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/agentic-research/canvas/api"
	"github.com/agentic-research/canvas/internal/problem"
	"github.com/agentic-research/canvas/internal/tree"
	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"
)

// KindSpec describes where an object kind keeps its component tree inside a
// draft payload, and which restrictions apply to that tree.
type KindSpec struct {
	Name string
	// TreePath selects the flat item list, e.g. "$.component_tree". Kinds
	// without a tree leave it empty; their payloads only need to be JSON.
	TreePath string
	// ExposedSlotsPath selects the exposed slot declarations, either a list
	// of objects or an object keyed by alias name.
	ExposedSlotsPath string
	Policy           tree.Policy
}

type compiledKind struct {
	spec    KindSpec
	tree    jp.Expr
	exposed jp.Expr
}

// Kinds is the registry of object kinds drafts may be written for.
type Kinds struct {
	kinds map[string]*compiledKind
}

// DefaultKinds are the tree-owning kinds known out of the box.
func DefaultKinds() []KindSpec {
	return []KindSpec{
		{Name: "page", TreePath: "$.components"},
		{
			Name:             "content_template",
			TreePath:         "$.component_tree",
			ExposedSlotsPath: "$.exposed_slots",
			Policy:           tree.Policy{ForbiddenCapabilities: []string{"page_title"}},
		},
		{Name: "pattern", TreePath: "$.component_tree"},
		{Name: "page_region", TreePath: "$.component_tree"},
		{
			Name:     "component_defaults",
			TreePath: "$.default_tree",
			Policy:   tree.Policy{StaticInputsOnly: true},
		},
	}
}

// NewKinds compiles specs. A later spec replaces an earlier one of the same
// name.
func NewKinds(specs ...KindSpec) (*Kinds, error) {
	k := &Kinds{kinds: make(map[string]*compiledKind, len(specs))}
	for _, s := range specs {
		if s.Name == "" {
			return nil, fmt.Errorf("object kind without a name")
		}
		ck := &compiledKind{spec: s}
		if s.TreePath != "" {
			x, err := jp.ParseString(s.TreePath)
			if err != nil {
				return nil, fmt.Errorf("kind %s: invalid tree path '%s': %w", s.Name, s.TreePath, err)
			}
			ck.tree = x
		}
		if s.ExposedSlotsPath != "" {
			x, err := jp.ParseString(s.ExposedSlotsPath)
			if err != nil {
				return nil, fmt.Errorf("kind %s: invalid exposed slots path '%s': %w", s.Name, s.ExposedSlotsPath, err)
			}
			ck.exposed = x
		}
		k.kinds[s.Name] = ck
	}
	return k, nil
}

// Lookup returns the spec registered for name.
func (k *Kinds) Lookup(name string) (KindSpec, bool) {
	ck, ok := k.kinds[name]
	if !ok {
		return KindSpec{}, false
	}
	return ck.spec, true
}

// Names returns the registered kind names in order.
func (k *Kinds) Names() []string {
	names := make([]string, 0, len(k.kinds))
	for n := range k.kinds {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Payload is a draft payload with its tree pulled out.
type Payload struct {
	HasTree bool
	Items   []api.TreeItem
	Exposed []api.ExposedSlot
}

// extract parses data and decodes the tree and exposed slots the kind
// declares. Decoding failures are reported as MalformedNode problems
// addressed by their position in the payload.
func (ck *compiledKind) extract(data []byte) (*Payload, error) {
	doc, err := oj.Parse(data)
	if err != nil {
		return nil, problem.New(problem.MalformedNode, "", "payload is not valid JSON: %v", err)
	}
	p := &Payload{}
	var problems problem.List

	if ck.tree != nil {
		if raw := ck.tree.First(doc); raw != nil {
			p.HasTree = true
			list, ok := raw.([]any)
			if !ok {
				problems.Add(problem.MalformedNode, ck.spec.TreePath, "tree must be a list of items")
			}
			for i, el := range list {
				var it api.TreeItem
				if err := redecode(el, &it); err != nil {
					problems.Add(problem.MalformedNode, fmt.Sprintf("%s[%d]", ck.spec.TreePath, i), "%v", err)
					continue
				}
				p.Items = append(p.Items, it)
			}
		}
	}

	if ck.exposed != nil {
		switch raw := ck.exposed.First(doc).(type) {
		case nil:
		case []any:
			for i, el := range raw {
				var s api.ExposedSlot
				if err := redecode(el, &s); err != nil {
					problems.Add(problem.InvalidExposedSlot, fmt.Sprintf("%s[%d]", ck.spec.ExposedSlotsPath, i), "%v", err)
					continue
				}
				p.Exposed = append(p.Exposed, s)
			}
		case map[string]any:
			names := make([]string, 0, len(raw))
			for name := range raw {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				var s api.ExposedSlot
				if err := redecode(raw[name], &s); err != nil {
					problems.Add(problem.InvalidExposedSlot, "exposed_slots."+name, "%v", err)
					continue
				}
				s.Name = name
				p.Exposed = append(p.Exposed, s)
			}
		default:
			problems.Add(problem.InvalidExposedSlot, ck.spec.ExposedSlotsPath, "exposed slots must be a list or an object")
		}
	}

	if err := problems.Err(); err != nil {
		return nil, err
	}
	return p, nil
}

// redecode converts a generic value from oj.Parse into a typed struct.
func redecode(v any, dst any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, dst)
}
