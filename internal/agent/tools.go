// Package agent exposes tree canonicalization, settings hashing and draft
// inspection as MCP tools, so coding agents can check component trees
// without going through the HTTP API.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/agentic-research/canvas/api"
	"github.com/agentic-research/canvas/internal/definition"
	"github.com/agentic-research/canvas/internal/draft"
	"github.com/agentic-research/canvas/internal/problem"
	"github.com/agentic-research/canvas/internal/tree"
	"github.com/agentic-research/canvas/internal/versionhash"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Tools holds what the tool handlers read from. Drafts may be nil, in which
// case read_draft is not offered.
type Tools struct {
	Registry *definition.Registry
	Drafts   *draft.Manager
	Kinds    *draft.Kinds
}

// NewServer registers the tools on a new MCP server. A nil t.Kinds means
// draft.DefaultKinds.
func NewServer(t *Tools, version string) *server.MCPServer {
	if t.Kinds == nil {
		t.Kinds, _ = draft.NewKinds(draft.DefaultKinds()...)
	}
	s := server.NewMCPServer("canvas", version, server.WithToolCapabilities(false))

	s.AddTool(mcp.NewTool("canonicalize_tree",
		mcp.WithDescription("Validate a flat component tree and return it in canonical depth-first order with path keys. Violations are returned as a list of {kind, path, message}."),
		mcp.WithString("items", mcp.Required(), mcp.Description("JSON array of tree items: {uuid, component: \"id@hash\", parent_uuid, slot, inputs}")),
		mcp.WithString("kind", mcp.Description("Object kind whose policy applies, e.g. content_template")),
		mcp.WithString("exposed_slots", mcp.Description("JSON array of exposed slots: {name, node_uuid, slot, label}")),
	), t.canonicalize)

	s.AddTool(mcp.NewTool("hash_settings",
		mcp.WithDescription("Compute the version hash of a component settings snapshot."),
		mcp.WithString("settings", mcp.Required(), mcp.Description("JSON object {slots, inputs}")),
	), t.hashSettings)

	s.AddTool(mcp.NewTool("list_components",
		mcp.WithDescription("List component definitions with their active version and version history."),
	), t.listComponents)

	if t.Drafts != nil {
		s.AddTool(mcp.NewTool("read_draft",
			mcp.WithDescription("Read the pending draft of an object in one locale."),
			mcp.WithString("kind", mcp.Required()),
			mcp.WithString("id", mcp.Required()),
			mcp.WithString("locale", mcp.Required()),
		), t.readDraft)
	}
	return s
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(b)), nil
}

// problemResult reports validation failures as a tool error the agent can
// read; anything else fails the call.
func problemResult(err error) (*mcp.CallToolResult, error) {
	problems := problem.From(err)
	if len(problems) == 0 {
		return nil, err
	}
	b, jerr := json.MarshalIndent(map[string]any{"errors": problems}, "", "  ")
	if jerr != nil {
		return nil, jerr
	}
	return mcp.NewToolResultError(string(b)), nil
}

func (t *Tools) canonicalize(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rawItems, err := req.RequireString("items")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal([]byte(rawItems), &raw); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("items must be a JSON array: %v", err)), nil
	}
	var exposed []api.ExposedSlot
	if s := req.GetString("exposed_slots", ""); s != "" {
		if err := json.Unmarshal([]byte(s), &exposed); err != nil {
			return problemResult(problem.New(problem.InvalidExposedSlot, "exposed_slots", "%v", err))
		}
	}
	var policy tree.Policy
	if kind := req.GetString("kind", ""); kind != "" {
		spec, ok := t.Kinds.Lookup(kind)
		if !ok {
			return problemResult(problem.New(problem.NotFound, "kind", "unknown object kind %q", kind))
		}
		policy = spec.Policy
	}

	items, problems := tree.DecodeItems(raw)
	if len(problems) > 0 {
		return problemResult(problems)
	}
	cat, err := t.Registry.Catalog(ctx)
	if err != nil {
		return nil, err
	}
	c, err := tree.Analyze(items, exposed, cat, policy)
	if err != nil {
		return problemResult(err)
	}
	return jsonResult(map[string]any{"entries": c.Entries, "refs": c.Refs()})
}

func (t *Tools) hashSettings(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := req.RequireString("settings")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var settings api.ComponentSettings
	if err := json.Unmarshal([]byte(raw), &settings); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("settings: %v", err)), nil
	}
	hash, err := versionhash.Hash(settings)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(hash), nil
}

type componentSummary struct {
	ID            api.ComponentID `json:"id"`
	Label         string          `json:"label,omitempty"`
	Capabilities  []string        `json:"capabilities,omitempty"`
	ActiveVersion string          `json:"active_version"`
	Versions      []string        `json:"versions"`
}

func (t *Tools) listComponents(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	defs, err := t.Registry.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]componentSummary, len(defs))
	for i, d := range defs {
		out[i] = componentSummary{
			ID:            d.ID,
			Label:         d.Label,
			Capabilities:  d.Capabilities,
			ActiveVersion: d.ActiveVersion,
			Versions:      d.Versions,
		}
	}
	return jsonResult(out)
}

func (t *Tools) readDraft(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var key api.DraftKey
	var errs []error
	for _, arg := range []struct {
		name string
		dst  *string
	}{{"kind", &key.Kind}, {"id", &key.ID}, {"locale", &key.Locale}} {
		v, err := req.RequireString(arg.name)
		errs = append(errs, err)
		*arg.dst = v
	}
	if err := errors.Join(errs...); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	e, err := t.Drafts.Read(ctx, key)
	if err != nil {
		return problemResult(err)
	}
	return jsonResult(e)
}
