package api

import (
	"fmt"
	"regexp"
	"strings"
)

// machineName matches the identifiers used for component sources, local ids,
// slot names, input names and exposed slot aliases.
var machineName = regexp.MustCompile(`^[a-z0-9_]+$`)

// IsMachineName reports whether s is a lowercase machine name.
func IsMachineName(s string) bool {
	return machineName.MatchString(s)
}

// ComponentID identifies a component kind. It is composed from the source
// kind that provides the component (e.g. "sdc", "js", "block") and the id of
// the component within that source, joined by a dot: "sdc.card".
type ComponentID string

// NewComponentID composes an id from its source and local id.
func NewComponentID(source, local string) ComponentID {
	return ComponentID(source + "." + local)
}

// ParseComponentID validates s and returns it as a ComponentID.
func ParseComponentID(s string) (ComponentID, error) {
	source, local, ok := strings.Cut(s, ".")
	if !ok {
		return "", fmt.Errorf("component id %q: missing source prefix", s)
	}
	if !IsMachineName(source) {
		return "", fmt.Errorf("component id %q: invalid source %q", s, source)
	}
	if local == "" {
		return "", fmt.Errorf("component id %q: empty local id", s)
	}
	return ComponentID(s), nil
}

// Source returns the source kind half of the id.
func (id ComponentID) Source() string {
	source, _, _ := strings.Cut(string(id), ".")
	return source
}

// Local returns the source-local half of the id.
func (id ComponentID) Local() string {
	_, local, _ := strings.Cut(string(id), ".")
	return local
}

// SlotSpec declares one slot of a component version.
type SlotSpec struct {
	Label       string `json:"label,omitempty" yaml:"label,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// InputSpec declares one input of a component version.
type InputSpec struct {
	Label    string `json:"label,omitempty" yaml:"label,omitempty"`
	Type     string `json:"type" yaml:"type"`
	Required bool   `json:"required,omitempty" yaml:"required,omitempty"`
	Default  any    `json:"default,omitempty" yaml:"default,omitempty"`
}

// ComponentSettings is the schema snapshot of a component at one point in
// time. Its canonical hash is the version hash.
type ComponentSettings struct {
	Slots  map[string]SlotSpec  `json:"slots,omitempty" yaml:"slots,omitempty"`
	Inputs map[string]InputSpec `json:"inputs,omitempty" yaml:"inputs,omitempty"`
}

// HasSlot reports whether name is a declared slot.
func (s ComponentSettings) HasSlot(name string) bool {
	_, ok := s.Slots[name]
	return ok
}

// Clone returns a copy that shares no maps with s.
func (s ComponentSettings) Clone() ComponentSettings {
	var c ComponentSettings
	if s.Slots != nil {
		c.Slots = make(map[string]SlotSpec, len(s.Slots))
		for k, v := range s.Slots {
			c.Slots[k] = v
		}
	}
	if s.Inputs != nil {
		c.Inputs = make(map[string]InputSpec, len(s.Inputs))
		for k, v := range s.Inputs {
			v.Default = cloneValue(v.Default)
			c.Inputs[k] = v
		}
	}
	return c
}

// cloneValue copies the JSON and YAML container shapes an input default can
// take.
func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[k] = cloneValue(e)
		}
		return m
	case []any:
		l := make([]any, len(t))
		for i, e := range t {
			l[i] = cloneValue(e)
		}
		return l
	default:
		return v
	}
}

// ComponentVersion is an immutable, content-addressed snapshot.
type ComponentVersion struct {
	Component ComponentID       `json:"component"`
	Hash      string            `json:"hash"`
	Settings  ComponentSettings `json:"settings"`
}

// Ref returns the reference a tree item would use to pin this version.
func (v ComponentVersion) Ref() ComponentRef {
	return ComponentRef{Component: v.Component, Version: v.Hash}
}

// ComponentDefinition is an addressable component kind with its version
// history. Versions is ordered oldest first; Snapshots holds the settings of
// every hash in Versions.
type ComponentDefinition struct {
	ID            ComponentID                  `json:"id"`
	Label         string                       `json:"label,omitempty"`
	Capabilities  []string                     `json:"capabilities,omitempty"`
	ActiveVersion string                       `json:"active_version"`
	Versions      []string                     `json:"versions"`
	Snapshots     map[string]ComponentSettings `json:"snapshots"`
}

// HasVersion reports whether hash is in the definition's history.
func (d *ComponentDefinition) HasVersion(hash string) bool {
	for _, v := range d.Versions {
		if v == hash {
			return true
		}
	}
	return false
}

// HasCapability reports whether the definition declares tag.
func (d *ComponentDefinition) HasCapability(tag string) bool {
	for _, c := range d.Capabilities {
		if c == tag {
			return true
		}
	}
	return false
}

// Version returns the snapshot for hash.
func (d *ComponentDefinition) Version(hash string) (ComponentVersion, bool) {
	if !d.HasVersion(hash) {
		return ComponentVersion{}, false
	}
	settings, ok := d.Snapshots[hash]
	if !ok {
		return ComponentVersion{}, false
	}
	return ComponentVersion{Component: d.ID, Hash: hash, Settings: settings.Clone()}, true
}

// Active returns the active version snapshot.
func (d *ComponentDefinition) Active() (ComponentVersion, bool) {
	return d.Version(d.ActiveVersion)
}

// Clone returns a deep copy safe to mutate.
func (d *ComponentDefinition) Clone() *ComponentDefinition {
	c := &ComponentDefinition{
		ID:            d.ID,
		Label:         d.Label,
		ActiveVersion: d.ActiveVersion,
		Capabilities:  append([]string(nil), d.Capabilities...),
		Versions:      append([]string(nil), d.Versions...),
		Snapshots:     make(map[string]ComponentSettings, len(d.Snapshots)),
	}
	for k, v := range d.Snapshots {
		c.Snapshots[k] = v.Clone()
	}
	return c
}

// ComponentRef pins a tree item to one version of one component.
// Its string form is "id@hash".
type ComponentRef struct {
	Component ComponentID
	Version   string
}

func (r ComponentRef) String() string {
	if r.IsZero() {
		return ""
	}
	return string(r.Component) + "@" + r.Version
}

// MarshalText implements encoding.TextMarshaler.
func (r ComponentRef) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. It only splits the
// string; malformed references are reported by tree validation.
func (r *ComponentRef) UnmarshalText(b []byte) error {
	id, hash, _ := strings.Cut(string(b), "@")
	r.Component = ComponentID(id)
	r.Version = hash
	return nil
}

// IsZero reports whether neither half of the reference is set.
func (r ComponentRef) IsZero() bool {
	return r.Component == "" && r.Version == ""
}

// ParseComponentRef parses "id@hash".
func ParseComponentRef(s string) (ComponentRef, error) {
	id, hash, ok := strings.Cut(s, "@")
	if !ok || hash == "" {
		return ComponentRef{}, fmt.Errorf("component ref %q: missing version", s)
	}
	cid, err := ParseComponentID(id)
	if err != nil {
		return ComponentRef{}, err
	}
	return ComponentRef{Component: cid, Version: hash}, nil
}
