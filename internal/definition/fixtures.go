package definition

import (
	"fmt"
	"io"
	"os"

	"github.com/agentic-research/canvas/api"
	"github.com/agentic-research/canvas/internal/versionhash"
	"gopkg.in/yaml.v3"
)

// fixtureFile is the YAML layout of a definitions file:
//
//	components:
//	  - id: sdc.card
//	    label: Card
//	    capabilities: [page_title]
//	    active: 0          # index into versions, defaults to the last one
//	    versions:
//	      - slots: {the_footer: {}}
//	        inputs: {heading: {type: string, required: true}}
type fixtureFile struct {
	Components []fixtureComponent `yaml:"components"`
}

type fixtureComponent struct {
	ID           string                  `yaml:"id"`
	Label        string                  `yaml:"label"`
	Capabilities []string                `yaml:"capabilities"`
	Active       *int                    `yaml:"active"`
	Versions     []api.ComponentSettings `yaml:"versions"`
}

// LoadYAML decodes component definitions, hashing each listed settings
// snapshot into its version id. Versions keep the listed order.
func LoadYAML(r io.Reader) ([]*api.ComponentDefinition, error) {
	var f fixtureFile
	if err := yaml.NewDecoder(r).Decode(&f); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("decode definitions: %w", err)
	}

	seen := make(map[api.ComponentID]bool, len(f.Components))
	out := make([]*api.ComponentDefinition, 0, len(f.Components))
	for i, c := range f.Components {
		id, err := api.ParseComponentID(c.ID)
		if err != nil {
			return nil, fmt.Errorf("components[%d]: %w", i, err)
		}
		if seen[id] {
			return nil, fmt.Errorf("components[%d]: duplicate component %q", i, id)
		}
		seen[id] = true
		if len(c.Versions) == 0 {
			return nil, fmt.Errorf("component %q: no versions", id)
		}

		def := &api.ComponentDefinition{
			ID:           id,
			Label:        c.Label,
			Capabilities: c.Capabilities,
			Snapshots:    make(map[string]api.ComponentSettings, len(c.Versions)),
		}
		for _, settings := range c.Versions {
			hash, err := versionhash.Hash(settings)
			if err != nil {
				return nil, fmt.Errorf("component %q: %w", id, err)
			}
			if def.HasVersion(hash) {
				continue
			}
			def.Versions = append(def.Versions, hash)
			def.Snapshots[hash] = settings
		}

		active := len(c.Versions) - 1
		if c.Active != nil {
			active = *c.Active
		}
		if active < 0 || active >= len(c.Versions) {
			return nil, fmt.Errorf("component %q: active index %d out of range", id, active)
		}
		def.ActiveVersion, _ = versionhash.Hash(c.Versions[active])
		out = append(out, def)
	}
	return out, nil
}

// LoadYAMLFile reads definitions from path.
func LoadYAMLFile(path string) ([]*api.ComponentDefinition, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return LoadYAML(f)
}
