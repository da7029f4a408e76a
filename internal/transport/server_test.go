package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/agentic-research/canvas/api"
	"github.com/agentic-research/canvas/internal/definition"
	"github.com/agentic-research/canvas/internal/draft"
	"github.com/agentic-research/canvas/internal/problem"
	"github.com/agentic-research/canvas/internal/tree"
	"github.com/agentic-research/canvas/internal/usage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const components = `
components:
  - id: sdc.section
    label: Section
    versions:
      - slots:
          body: {label: Body}
        inputs:
          heading: {type: string}
  - id: block.page_title
    capabilities: [page_title]
    versions:
      - {}
`

const (
	nodeA = "aaaaaaaa-0000-4000-8000-000000000001"
	nodeB = "bbbbbbbb-0000-4000-8000-000000000002"
)

type harness struct {
	srv     *Server
	handler http.Handler
	section api.ComponentRef
	title   api.ComponentRef
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	defs, err := definition.LoadYAML(strings.NewReader(components))
	require.NoError(t, err)

	idx := usage.New()
	reg := definition.NewRegistry(definition.NewMemoryStore(), idx, nil)
	require.NoError(t, reg.Import(ctx, defs...))

	kinds, err := draft.NewKinds(draft.DefaultKinds()...)
	require.NoError(t, err)
	catalog := func(ctx context.Context) (tree.Catalog, error) {
		c, err := reg.Catalog(ctx)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	mgr := draft.NewManager(draft.NewMemoryStore(), kinds, catalog, draft.WithUsage(idx))
	srv := New(mgr, reg, kinds, prometheus.NewRegistry(), nil)

	return &harness{
		srv:     srv,
		handler: srv.Handler(),
		section: api.ComponentRef{Component: defs[0].ID, Version: defs[0].ActiveVersion},
		title:   api.ComponentRef{Component: defs[1].ID, Version: defs[1].ActiveVersion},
	}
}

func (h *harness) do(t *testing.T, method, path, actor, body string) (*http.Response, []byte) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if actor != "" {
		req.Header.Set(ActorHeader, actor)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec.Result(), rec.Body.Bytes()
}

func (h *harness) pageBody(heading, baseline, client string) string {
	return fmt.Sprintf(`{
		"baseline_hash": %q,
		"client_instance_id": %q,
		"data": {"components": [
			{"uuid": %q, "component": %q, "parent_uuid": %q, "slot": "body"},
			{"uuid": %q, "component": %q, "inputs": {"heading": %q}}
		]}
	}`, baseline, client, nodeB, h.title, nodeA, nodeA, h.section, heading)
}

func decodeErrors(t *testing.T, body []byte) []problem.Problem {
	t.Helper()
	var out struct {
		Errors []problem.Problem `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(body, &out), string(body))
	return out.Errors
}

func TestDraftLifecycle(t *testing.T) {
	h := newHarness(t)

	resp, body := h.do(t, http.MethodGet, "/drafts/page/1/en", "", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, problem.NotFound, decodeErrors(t, body)[0].Kind)

	resp, body = h.do(t, http.MethodPut, "/drafts/page/1/en", "alice", h.pageBody("Hello", "", "tab-a"))
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var created api.DraftEntry
	require.NoError(t, json.Unmarshal(body, &created))
	assert.Equal(t, "alice", created.Owner)
	assert.Len(t, created.DataHash, 16)

	resp, body = h.do(t, http.MethodGet, "/drafts/page/1/en", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var read api.DraftEntry
	require.NoError(t, json.Unmarshal(body, &read))
	assert.Equal(t, created.DataHash, read.DataHash)

	// a second editor working from "no draft" loses
	resp, body = h.do(t, http.MethodPut, "/drafts/page/1/en", "bob", h.pageBody("Other", "", "tab-b"))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, problem.Conflict, decodeErrors(t, body)[0].Kind)

	resp, _ = h.do(t, http.MethodPut, "/drafts/page/1/en", "alice", h.pageBody("Hello again", created.DataHash, "tab-a"))
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = h.do(t, http.MethodGet, "/drafts?owner=alice", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var listed struct {
		Drafts []api.DraftEntry `json:"drafts"`
	}
	require.NoError(t, json.Unmarshal(body, &listed))
	require.Len(t, listed.Drafts, 1)
	assert.Equal(t, api.DraftKey{Kind: "page", ID: "1", Locale: "en"}, listed.Drafts[0].Key)

	resp, body = h.do(t, http.MethodGet, "/drafts?owner=bob", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"drafts":[]}`, string(body))

	resp, _ = h.do(t, http.MethodDelete, "/drafts/page/1/en", "alice", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = h.do(t, http.MethodDelete, "/drafts/page/1/en", "alice", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	assert.Equal(t, 2.0, testutil.ToFloat64(h.srv.metrics.writes.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.srv.metrics.writes.WithLabelValues("conflict")))
}

func TestWriteDraft_Invalid(t *testing.T) {
	h := newHarness(t)

	dangling := fmt.Sprintf(`{"data": {"components": [
		{"uuid": %q, "component": %q, "parent_uuid": "nope", "slot": "body"}
	]}}`, nodeA, h.section)
	resp, body := h.do(t, http.MethodPut, "/drafts/page/1/en", "alice", dangling)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	var kinds []problem.Kind
	for _, p := range decodeErrors(t, body) {
		kinds = append(kinds, p.Kind)
	}
	assert.Contains(t, kinds, problem.DanglingParent)

	resp, _ = h.do(t, http.MethodPut, "/drafts/page/1/en", "alice", `{"data": `)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp, _ = h.do(t, http.MethodPut, "/drafts/unknown_kind/1/en", "alice", h.pageBody("x", "", "tab"))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = h.do(t, http.MethodGet, "/drafts/page/1/en", "", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "nothing was stored")
	assert.Equal(t, 2.0, testutil.ToFloat64(h.srv.metrics.writes.WithLabelValues("invalid")))
}

func TestDiscardObject(t *testing.T) {
	h := newHarness(t)
	for _, locale := range []string{"en", "fr"} {
		resp, body := h.do(t, http.MethodPut, "/drafts/page/9/"+locale, "alice", h.pageBody("Hi", "", "tab"))
		require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	}

	resp, body := h.do(t, http.MethodDelete, "/drafts/page/9?reason=revert", "alice", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"removed":[
		{"kind":"page","id":"9","locale":"en"},
		{"kind":"page","id":"9","locale":"fr"}
	]}`, string(body))

	resp, body = h.do(t, http.MethodDelete, "/drafts/page/9", "alice", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"removed":[]}`, string(body))
}

func TestCanonicalize(t *testing.T) {
	h := newHarness(t)

	req := fmt.Sprintf(`{"items": [
		{"uuid": %q, "component": %q, "parent_uuid": %q, "slot": "body"},
		{"uuid": %q, "component": %q}
	]}`, nodeB, h.title, nodeA, nodeA, h.section)
	resp, body := h.do(t, http.MethodPost, "/trees/canonicalize", "", req)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var out struct {
		Items   []api.TreeItem     `json:"items"`
		Entries []tree.Entry       `json:"entries"`
		Refs    []api.ComponentRef `json:"refs"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	require.Len(t, out.Items, 2)
	assert.Equal(t, nodeA, out.Items[0].UUID)
	assert.Equal(t, nodeB, out.Items[1].UUID)
	assert.Equal(t, "0:body:0", out.Entries[1].Path)
	assert.Equal(t, 1, out.Entries[1].Depth)
	assert.Equal(t, []api.ComponentRef{h.section, h.title}, out.Refs)

	t.Run("kind policy", func(t *testing.T) {
		withKind := strings.Replace(req, `{"items"`, `{"kind": "content_template", "items"`, 1)
		resp, body := h.do(t, http.MethodPost, "/trees/canonicalize", "", withKind)
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
		assert.Equal(t, problem.ForbiddenCapability, decodeErrors(t, body)[0].Kind)
	})

	t.Run("unknown kind", func(t *testing.T) {
		resp, _ := h.do(t, http.MethodPost, "/trees/canonicalize", "", `{"kind": "nope", "items": []}`)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("malformed item", func(t *testing.T) {
		resp, body := h.do(t, http.MethodPost, "/trees/canonicalize", "", `{"items": [{"uuid": 5}]}`)
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
		errs := decodeErrors(t, body)
		require.Len(t, errs, 1)
		assert.Equal(t, problem.MalformedNode, errs[0].Kind)
		assert.Equal(t, "items[0]", errs[0].Path)
	})
}

func TestComponents(t *testing.T) {
	h := newHarness(t)

	resp, body := h.do(t, http.MethodGet, "/components", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var listed struct {
		Components []api.ComponentDefinition `json:"components"`
	}
	require.NoError(t, json.Unmarshal(body, &listed))
	require.Len(t, listed.Components, 2)
	assert.Equal(t, api.ComponentID("block.page_title"), listed.Components[0].ID)

	resp, _ = h.do(t, http.MethodGet, "/components/sdc.section", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = h.do(t, http.MethodGet, "/components/sdc.missing", "", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	path := fmt.Sprintf("/components/%s/versions/%s", h.section.Component, h.section.Version)
	resp, body = h.do(t, http.MethodGet, path, "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var v api.ComponentVersion
	require.NoError(t, json.Unmarshal(body, &v))
	assert.True(t, v.Settings.HasSlot("body"))

	resp, _ = h.do(t, http.MethodGet, "/components/sdc.section/versions/0000000000000000", "", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = h.do(t, http.MethodDelete, path, "", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, problem.VersionInUse, decodeErrors(t, body)[0].Kind)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t)
	h.do(t, http.MethodPut, "/drafts/page/1/en", "alice", h.pageBody("Hi", "", "tab"))

	resp, body := h.do(t, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `canvas_draft_writes_total{result="ok"} 1`)
	assert.Contains(t, string(body), `canvas_http_requests_total{code="200",method="PUT",route="/drafts/{kind}/{id}/{locale}"} 1`)
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{problem.New(problem.NotFound, "", "x"), http.StatusNotFound},
		{problem.New(problem.Conflict, "", "x"), http.StatusConflict},
		{problem.New(problem.VersionInUse, "", "x"), http.StatusConflict},
		{problem.List{problem.New(problem.IllegalSlot, "", "x")}, http.StatusUnprocessableEntity},
		{fmt.Errorf("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusOf(tt.err), tt.err.Error())
	}
}
