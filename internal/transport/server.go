// Package transport exposes the draft manager and the component registry
// over HTTP.
package transport

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/agentic-research/canvas/api"
	"github.com/agentic-research/canvas/internal/ctxlog"
	"github.com/agentic-research/canvas/internal/definition"
	"github.com/agentic-research/canvas/internal/draft"
	"github.com/agentic-research/canvas/internal/problem"
	"github.com/agentic-research/canvas/internal/tree"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ActorHeader names the user a request acts for. Authentication happens
// upstream.
const ActorHeader = "X-Canvas-Actor"

// Server routes HTTP requests to a draft manager and a component registry.
type Server struct {
	drafts   *draft.Manager
	registry *definition.Registry
	kinds    *draft.Kinds
	gatherer prometheus.Gatherer
	metrics  *metrics
	logger   *slog.Logger
}

// New returns a server. A nil kinds means draft.DefaultKinds. reg receives the server's collectors and is served
// at /metrics; a nil reg gets a private registry.
func New(drafts *draft.Manager, registry *definition.Registry, kinds *draft.Kinds, reg *prometheus.Registry, logger *slog.Logger) *Server {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	if logger == nil {
		logger = ctxlog.Discard()
	}
	if kinds == nil {
		kinds, _ = draft.NewKinds(draft.DefaultKinds()...)
	}
	return &Server{
		drafts:   drafts,
		registry: registry,
		kinds:    kinds,
		gatherer: reg,
		metrics:  newMetrics(reg),
		logger:   logger,
	}
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.withLogger)
	r.Use(s.metrics.instrument)

	r.Route("/drafts", func(r chi.Router) {
		r.Get("/", s.listDrafts)
		r.Delete("/{kind}/{id}", s.discardObject)
		r.Get("/{kind}/{id}/{locale}", s.readDraft)
		r.Put("/{kind}/{id}/{locale}", s.writeDraft)
		r.Delete("/{kind}/{id}/{locale}", s.discardDraft)
	})
	r.Post("/trees/canonicalize", s.canonicalize)
	r.Route("/components", func(r chi.Router) {
		r.Get("/", s.listComponents)
		r.Get("/{id}", s.getComponent)
		r.Get("/{id}/versions/{hash}", s.viewVersion)
		r.Delete("/{id}/versions/{hash}", s.deleteVersion)
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return r
}

func (s *Server) withLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := s.logger.With("request_id", middleware.GetReqID(r.Context()))
		if actor := r.Header.Get(ActorHeader); actor != "" {
			log = log.With("actor", actor)
		}
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctxlog.WithLogger(r.Context(), log)))
		log.Debug("request", "method", r.Method, "path", r.URL.Path, "status", ww.Status(), "duration", time.Since(start))
	})
}

func draftKey(r *http.Request) api.DraftKey {
	return api.DraftKey{
		Kind:   chi.URLParam(r, "kind"),
		ID:     chi.URLParam(r, "id"),
		Locale: chi.URLParam(r, "locale"),
	}
}

func (s *Server) readDraft(w http.ResponseWriter, r *http.Request) {
	e, err := s.drafts.Read(r.Context(), draftKey(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// writeBody is the auto-save submission.
type writeBody struct {
	Data             json.RawMessage `json:"data"`
	BaselineHash     string          `json:"baseline_hash"`
	ClientInstanceID string          `json:"client_instance_id"`
}

func (s *Server) writeDraft(w http.ResponseWriter, r *http.Request) {
	var body writeBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.metrics.writes.WithLabelValues("invalid").Inc()
		writeError(w, r, problem.New(problem.MalformedNode, "", "request body: %v", err))
		return
	}
	e, err := s.drafts.Write(r.Context(), draft.WriteRequest{
		Key:              draftKey(r),
		Data:             body.Data,
		BaselineHash:     body.BaselineHash,
		ClientInstanceID: body.ClientInstanceID,
		Owner:            r.Header.Get(ActorHeader),
	})
	s.metrics.writes.WithLabelValues(writeResult(err)).Inc()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func writeResult(err error) string {
	switch k := problem.KindOf(err); {
	case err == nil:
		return "ok"
	case k == problem.Conflict:
		return "conflict"
	case k.IsValidation():
		return "invalid"
	default:
		return "error"
	}
}

func (s *Server) discardDraft(w http.ResponseWriter, r *http.Request) {
	if err := s.drafts.Discard(r.Context(), draftKey(r)); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) discardObject(w http.ResponseWriter, r *http.Request) {
	var (
		removed []api.DraftKey
		err     error
	)
	kind, id := chi.URLParam(r, "kind"), chi.URLParam(r, "id")
	if r.URL.Query().Get("reason") == "revert" {
		removed, err = s.drafts.RevertObject(r.Context(), kind, id)
	} else {
		removed, err = s.drafts.DiscardObject(r.Context(), kind, id)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	if removed == nil {
		removed = []api.DraftKey{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
}

func (s *Server) listDrafts(w http.ResponseWriter, r *http.Request) {
	var (
		entries []*api.DraftEntry
		err     error
	)
	if owner := r.URL.Query().Get("owner"); owner != "" {
		entries, err = s.drafts.ListByOwner(r.Context(), owner)
	} else {
		entries, err = s.drafts.List(r.Context())
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []*api.DraftEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"drafts": entries})
}

// canonicalizeBody is a tree to put in canonical order. Kind selects the
// policy of an object kind; without it only the base rules apply.
type canonicalizeBody struct {
	Kind         string            `json:"kind,omitempty"`
	Items        []json.RawMessage `json:"items"`
	ExposedSlots []api.ExposedSlot `json:"exposed_slots,omitempty"`
}

type canonicalizeResponse struct {
	Items   []api.TreeItem     `json:"items"`
	Entries []tree.Entry       `json:"entries"`
	Refs    []api.ComponentRef `json:"refs"`
}

func (s *Server) canonicalize(w http.ResponseWriter, r *http.Request) {
	var body canonicalizeBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, r, problem.New(problem.MalformedNode, "", "request body: %v", err))
		return
	}
	var policy tree.Policy
	if body.Kind != "" {
		spec, ok := s.kinds.Lookup(body.Kind)
		if !ok {
			writeError(w, r, problem.New(problem.NotFound, "kind", "unknown object kind %q", body.Kind))
			return
		}
		policy = spec.Policy
	}

	items, problems := tree.DecodeItems(body.Items)
	if len(problems) > 0 {
		writeError(w, r, problems)
		return
	}
	cat, err := s.registry.Catalog(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	c, err := tree.Analyze(items, body.ExposedSlots, cat, policy)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, canonicalizeResponse{Items: c.Items(), Entries: c.Entries, Refs: c.Refs()})
}

func (s *Server) listComponents(w http.ResponseWriter, r *http.Request) {
	defs, err := s.registry.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if defs == nil {
		defs = []*api.ComponentDefinition{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"components": defs})
}

func (s *Server) getComponent(w http.ResponseWriter, r *http.Request) {
	def, err := s.registry.Get(r.Context(), api.ComponentID(chi.URLParam(r, "id")))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, def)
}

func (s *Server) viewVersion(w http.ResponseWriter, r *http.Request) {
	v, err := s.registry.ViewAt(r.Context(), api.ComponentID(chi.URLParam(r, "id")), chi.URLParam(r, "hash"))
	if err != nil {
		// a missing version of an addressed component is a missing resource here
		if errors.Is(err, problem.UnknownVersion) {
			writeErrorStatus(w, r, http.StatusNotFound, err)
			return
		}
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) deleteVersion(w http.ResponseWriter, r *http.Request) {
	err := s.registry.DeleteVersion(r.Context(), api.ComponentID(chi.URLParam(r, "id")), chi.URLParam(r, "hash"))
	if err != nil {
		if errors.Is(err, problem.UnknownVersion) {
			writeErrorStatus(w, r, http.StatusNotFound, err)
			return
		}
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
