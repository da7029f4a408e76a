package draft

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/agentic-research/canvas/api"
	"github.com/agentic-research/canvas/internal/ctxlog"
	"github.com/agentic-research/canvas/internal/problem"
	"github.com/agentic-research/canvas/internal/tree"
	"github.com/agentic-research/canvas/internal/versionhash"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("canvas.draft")

// CatalogFunc returns the component catalog trees are validated against.
type CatalogFunc func(ctx context.Context) (tree.Catalog, error)

// UsageRecorder is told which component versions each stored draft pins.
type UsageRecorder interface {
	Record(owner string, items []api.TreeItem)
	Forget(owner string)
}

// WriteRequest is one auto-save submission.
type WriteRequest struct {
	Key api.DraftKey
	// Data replaces the stored payload wholesale.
	Data json.RawMessage
	// BaselineHash is the data_hash the client last read, or api.HashNone.
	BaselineHash string
	// ClientInstanceID identifies the editing session, not the user.
	ClientInstanceID string
	Owner            string
}

// Manager runs the auto-save protocol over a Store.
type Manager struct {
	store   Store
	kinds   *Kinds
	catalog CatalogFunc
	usage   UsageRecorder
	now     func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithUsage reports the versions pinned by each stored tree to u.
func WithUsage(u UsageRecorder) Option {
	return func(m *Manager) { m.usage = u }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager returns a manager storing drafts in store. Payloads of kinds
// that carry a tree are validated against the catalog returned by catalog.
// A nil kinds registry means DefaultKinds.
func NewManager(store Store, kinds *Kinds, catalog CatalogFunc, opts ...Option) *Manager {
	if kinds == nil {
		kinds, _ = NewKinds(DefaultKinds()...)
	}
	m := &Manager{store: store, kinds: kinds, catalog: catalog, now: time.Now}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Manager) kind(name string) (*compiledKind, error) {
	ck, ok := m.kinds.kinds[name]
	if !ok {
		return nil, problem.New(problem.NotFound, "kind", "object kind %q does not take drafts", name)
	}
	return ck, nil
}

func startSpan(ctx context.Context, name string, key api.DraftKey) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("draft.kind", key.Kind),
		attribute.String("draft.id", key.ID),
		attribute.String("draft.locale", key.Locale),
	))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Read returns the stored draft for key.
func (m *Manager) Read(ctx context.Context, key api.DraftKey) (_ *api.DraftEntry, err error) {
	ctx, span := startSpan(ctx, "draft.Read", key)
	defer func() { endSpan(span, err) }()

	e, err := m.store.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return nil, problem.New(problem.NotFound, "", "no draft for %s", key)
	}
	return e, err
}

// Write stores req.Data as the draft for req.Key.
//
// The baseline check runs first: when the stored hash differs from
// req.BaselineHash the write is rejected with a Conflict, unless the stored
// entry was last written by the same client instance, in which case the
// submission is treated as that session's retry and applied. Only then is
// the payload validated, hashed and written with a compare-and-swap against
// the hash that was checked.
func (m *Manager) Write(ctx context.Context, req WriteRequest) (_ *api.DraftEntry, err error) {
	ctx, span := startSpan(ctx, "draft.Write", req.Key)
	defer func() { endSpan(span, err) }()
	log := ctxlog.FromContext(ctx).With("draft", req.Key.String(), "client", req.ClientInstanceID)

	ck, err := m.kind(req.Key.Kind)
	if err != nil {
		return nil, err
	}

	current := api.HashNone
	stored, err := m.store.Get(ctx, req.Key)
	switch {
	case errors.Is(err, ErrNotFound):
		stored = nil
	case err != nil:
		return nil, fmt.Errorf("load draft %s: %w", req.Key, err)
	default:
		current = stored.DataHash
	}

	if current != req.BaselineHash {
		if stored == nil || req.ClientInstanceID == "" || stored.ClientInstanceID != req.ClientInstanceID {
			log.Info("stale draft write rejected", "baseline", req.BaselineHash, "current", current)
			return nil, problem.New(problem.Conflict, "", "draft %s changed since hash %q was read", req.Key, req.BaselineHash)
		}
		log.Debug("same-session retry", "baseline", req.BaselineHash, "current", current)
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, req.Data); err != nil {
		return nil, problem.New(problem.MalformedNode, "", "payload is not valid JSON: %v", err)
	}
	payload, err := m.validate(ctx, ck, compact.Bytes())
	if err != nil {
		span.SetAttributes(attribute.Int("draft.problems", len(problem.From(err))))
		return nil, err
	}

	hash, err := versionhash.Hash(json.RawMessage(compact.Bytes()))
	if err != nil {
		return nil, err
	}

	// Pin the new tree before storing it, then confirm its versions survived
	// any deletion that ran since validation.
	if m.usage != nil && payload.HasTree {
		pending := pendingOwner(req.Key)
		m.usage.Record(pending, payload.Items)
		defer m.usage.Forget(pending)
		if err := m.stillResolves(ctx, payload.Items); err != nil {
			return nil, err
		}
	}

	entry := &api.DraftEntry{
		Key:              req.Key,
		Data:             compact.Bytes(),
		DataHash:         hash,
		Owner:            req.Owner,
		ClientInstanceID: req.ClientInstanceID,
		UpdatedAt:        m.now().UTC(),
	}
	if err := m.store.WriteIfMatches(ctx, req.Key, current, entry); err != nil {
		if errors.Is(err, ErrConflict) {
			log.Info("draft changed during write")
			return nil, problem.New(problem.Conflict, "", "draft %s changed during the write", req.Key)
		}
		return nil, fmt.Errorf("store draft %s: %w", req.Key, err)
	}

	if m.usage != nil {
		if payload.HasTree {
			m.usage.Record(req.Key.String(), payload.Items)
		} else {
			m.usage.Forget(req.Key.String())
		}
	}
	log.Debug("draft written", "hash", hash)
	return entry, nil
}

// pendingOwner names the usage owner of one in-flight write.
func pendingOwner(key api.DraftKey) string {
	return key.String() + "#pending-" + uuid.NewString()
}

// stillResolves re-reads the catalog and checks every version items pin is
// still in its component's history.
func (m *Manager) stillResolves(ctx context.Context, items []api.TreeItem) error {
	if m.catalog == nil {
		return nil
	}
	cat, err := m.catalog(ctx)
	if err != nil {
		return fmt.Errorf("load component catalog: %w", err)
	}
	var problems problem.List
	for _, it := range items {
		if _, err := cat.Resolve(it.Component); err != nil {
			found := problem.From(err)
			if len(found) == 0 {
				return err
			}
			for _, p := range found {
				problems.Add(p.Kind, it.UUID+".component", "%s", p.Message)
			}
		}
	}
	return problems.Err()
}

// validate extracts the kind's tree from data and runs the tree rules on it.
func (m *Manager) validate(ctx context.Context, ck *compiledKind, data []byte) (*Payload, error) {
	payload, err := ck.extract(data)
	if err != nil {
		return nil, err
	}
	if !payload.HasTree && len(payload.Exposed) == 0 {
		return payload, nil
	}
	var cat tree.Catalog
	if m.catalog != nil {
		if cat, err = m.catalog(ctx); err != nil {
			return nil, fmt.Errorf("load component catalog: %w", err)
		}
	}
	if _, err := tree.Analyze(payload.Items, payload.Exposed, cat, ck.spec.Policy); err != nil {
		return nil, err
	}
	return payload, nil
}

// Discard deletes the draft for key.
func (m *Manager) Discard(ctx context.Context, key api.DraftKey) (err error) {
	ctx, span := startSpan(ctx, "draft.Discard", key)
	defer func() { endSpan(span, err) }()

	if err := m.store.Delete(ctx, key); err != nil {
		if errors.Is(err, ErrNotFound) {
			return problem.New(problem.NotFound, "", "no draft for %s", key)
		}
		return err
	}
	if m.usage != nil {
		m.usage.Forget(key.String())
	}
	ctxlog.FromContext(ctx).Info("draft discarded", "draft", key.String())
	return nil
}

// DiscardObject deletes the drafts of every locale of an object that has
// been deleted.
func (m *Manager) DiscardObject(ctx context.Context, kind, id string) ([]api.DraftKey, error) {
	return m.dropObject(ctx, kind, id, "object deleted")
}

// RevertObject deletes the drafts of an object reverted to an earlier
// published revision; they may describe a state rooted in a revision that
// no longer exists.
func (m *Manager) RevertObject(ctx context.Context, kind, id string) ([]api.DraftKey, error) {
	return m.dropObject(ctx, kind, id, "object reverted")
}

func (m *Manager) dropObject(ctx context.Context, kind, id, reason string) (_ []api.DraftKey, err error) {
	ctx, span := startSpan(ctx, "draft.DropObject", api.DraftKey{Kind: kind, ID: id})
	defer func() { endSpan(span, err) }()

	removed, err := m.store.DeleteObject(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	if m.usage != nil {
		for _, k := range removed {
			m.usage.Forget(k.String())
		}
	}
	ctxlog.FromContext(ctx).Info("object drafts dropped", "kind", kind, "id", id, "reason", reason, "count", len(removed))
	return removed, nil
}

// ListByOwner returns the pending drafts of owner.
func (m *Manager) ListByOwner(ctx context.Context, owner string) ([]*api.DraftEntry, error) {
	return m.store.ListByOwner(ctx, owner)
}

// List returns every pending draft.
func (m *Manager) List(ctx context.Context) ([]*api.DraftEntry, error) {
	return m.store.List(ctx)
}

// Rebuild replays every stored draft into the usage recorder, e.g. after a
// restart with a persistent store.
func (m *Manager) Rebuild(ctx context.Context) error {
	if m.usage == nil {
		return nil
	}
	entries, err := m.store.List(ctx)
	if err != nil {
		return err
	}
	log := ctxlog.FromContext(ctx)
	for _, e := range entries {
		ck, err := m.kind(e.Key.Kind)
		if err != nil {
			log.Warn("draft of unconfigured kind not tracked", "draft", e.Key.String(), "error", err)
			continue
		}
		p, err := ck.extract(e.Data)
		if err != nil {
			log.Warn("stored draft payload unreadable, not tracked", "draft", e.Key.String(), "error", err)
			continue
		}
		if p.HasTree {
			m.usage.Record(e.Key.String(), p.Items)
		}
	}
	return nil
}
