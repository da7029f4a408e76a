package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/agentic-research/canvas/api"
	"github.com/agentic-research/canvas/internal/definition"
	"github.com/agentic-research/canvas/internal/draft"
	"github.com/agentic-research/canvas/internal/tree"
	"github.com/agentic-research/canvas/internal/versionhash"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	nodeA = "aaaaaaaa-0000-4000-8000-000000000001"
	nodeB = "bbbbbbbb-0000-4000-8000-000000000002"
)

const components = `
components:
  - id: sdc.section
    versions:
      - slots:
          body: {label: Body}
  - id: block.page_title
    capabilities: [page_title]
    versions:
      - {}
`

func newTools(t *testing.T) (*Tools, []*api.ComponentDefinition) {
	t.Helper()
	defs, err := definition.LoadYAML(strings.NewReader(components))
	require.NoError(t, err)
	reg := definition.NewRegistry(definition.NewMemoryStore(), nil, nil)
	require.NoError(t, reg.Import(context.Background(), defs...))

	catalog := func(ctx context.Context) (tree.Catalog, error) {
		c, err := reg.Catalog(ctx)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	tools := &Tools{Registry: reg, Drafts: draft.NewManager(draft.NewMemoryStore(), nil, catalog)}
	NewServer(tools, "test")
	return tools, defs
}

func call(args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{Params: mcp.CallToolParams{Arguments: args}}
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.Len(t, res.Content, 1)
	tc, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return tc.Text
}

func TestCanonicalizeTree(t *testing.T) {
	tools, defs := newTools(t)
	section := defs[0].Versions[0]
	title := defs[1].Versions[0]
	items := fmt.Sprintf(`[
		{"uuid": %q, "component": "block.page_title@%s", "parent_uuid": %q, "slot": "body"},
		{"uuid": %q, "component": "sdc.section@%s"}
	]`, nodeB, title, nodeA, nodeA, section)

	res, err := tools.canonicalize(context.Background(), call(map[string]any{"items": items}))
	require.NoError(t, err)
	require.False(t, res.IsError, text(t, res))
	var out struct {
		Entries []tree.Entry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &out))
	require.Len(t, out.Entries, 2)
	assert.Equal(t, nodeA, out.Entries[0].Item.UUID)
	assert.Equal(t, "0:body:0", out.Entries[1].Path)

	res, err = tools.canonicalize(context.Background(), call(map[string]any{"items": items, "kind": "content_template"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, text(t, res), "ForbiddenCapability")

	res, err = tools.canonicalize(context.Background(), call(map[string]any{"items": "{}"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = tools.canonicalize(context.Background(), call(map[string]any{}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestHashSettings(t *testing.T) {
	tools, _ := newTools(t)
	settings := api.ComponentSettings{Slots: map[string]api.SlotSpec{"body": {Label: "Body"}}}
	want, err := versionhash.Hash(settings)
	require.NoError(t, err)

	res, err := tools.hashSettings(context.Background(), call(map[string]any{"settings": `{"slots": {"body": {"label": "Body"}}}`}))
	require.NoError(t, err)
	assert.Equal(t, want, text(t, res))

	res, err = tools.hashSettings(context.Background(), call(map[string]any{"settings": `[`}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestListComponents(t *testing.T) {
	tools, _ := newTools(t)
	res, err := tools.listComponents(context.Background(), call(nil))
	require.NoError(t, err)
	var out []componentSummary
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &out))
	require.Len(t, out, 2)
	assert.Equal(t, api.ComponentID("block.page_title"), out[0].ID)
	assert.Equal(t, []string{"page_title"}, out[0].Capabilities)
}

func TestReadDraft(t *testing.T) {
	tools, _ := newTools(t)
	ctx := context.Background()
	_, err := tools.Drafts.Write(ctx, draft.WriteRequest{
		Key:              api.DraftKey{Kind: "page", ID: "1", Locale: "en"},
		Data:             json.RawMessage(`{"title": "Home"}`),
		ClientInstanceID: "tab",
		Owner:            "alice",
	})
	require.NoError(t, err)

	res, err := tools.readDraft(ctx, call(map[string]any{"kind": "page", "id": "1", "locale": "en"}))
	require.NoError(t, err)
	require.False(t, res.IsError)
	var e api.DraftEntry
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &e))
	assert.Equal(t, "alice", e.Owner)

	res, err = tools.readDraft(ctx, call(map[string]any{"kind": "page", "id": "2", "locale": "en"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, text(t, res), "NotFound")

	res, err = tools.readDraft(ctx, call(map[string]any{"kind": "page"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}
