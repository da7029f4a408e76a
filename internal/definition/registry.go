package definition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/agentic-research/canvas/api"
	"github.com/agentic-research/canvas/internal/ctxlog"
	"github.com/agentic-research/canvas/internal/problem"
	"github.com/agentic-research/canvas/internal/versionhash"
)

// Registry applies the version lifecycle to definitions held in a Store.
//
// Versions are content-addressed: the hash of a settings snapshot is its
// version id, so saving identical settings twice yields the same version.
// A version leaves the history only through DeleteVersion, and never while
// it is active or pinned by a stored tree. Every change is one Store.Update
// cycle.
type Registry struct {
	// mu orders changes against Catalog snapshots taken in this process.
	mu     sync.RWMutex
	store  Store
	usage  UsageChecker
	logger *slog.Logger
}

// NewRegistry returns a registry over store. usage may be nil, in which case
// only the active version is protected from deletion. A nil logger means the
// logger carried by each call's context.
func NewRegistry(store Store, usage UsageChecker, logger *slog.Logger) *Registry {
	return &Registry{store: store, usage: usage, logger: logger}
}

func (r *Registry) log(ctx context.Context) *slog.Logger {
	if r.logger != nil {
		return r.logger
	}
	return ctxlog.FromContext(ctx)
}

func (r *Registry) load(ctx context.Context, id api.ComponentID) (*api.ComponentDefinition, error) {
	def, err := r.store.Load(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, problem.New(problem.NotFound, "", "component %q does not exist", id)
	}
	if err != nil {
		return nil, err
	}
	return def, nil
}

// update runs fn on the existing definition of id.
func (r *Registry) update(ctx context.Context, id api.ComponentID, fn func(def *api.ComponentDefinition) (*api.ComponentDefinition, error)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store.Update(ctx, id, func(cur *api.ComponentDefinition) (*api.ComponentDefinition, error) {
		if cur == nil {
			return nil, problem.New(problem.NotFound, "", "component %q does not exist", id)
		}
		return fn(cur)
	})
}

// Register creates a definition whose first version, built from settings,
// is active.
func (r *Registry) Register(ctx context.Context, id api.ComponentID, label string, capabilities []string, settings api.ComponentSettings) (*api.ComponentDefinition, error) {
	if _, err := api.ParseComponentID(string(id)); err != nil {
		return nil, err
	}
	hash, err := versionhash.Hash(settings)
	if err != nil {
		return nil, fmt.Errorf("hash settings of %s: %w", id, err)
	}
	def := &api.ComponentDefinition{
		ID:            id,
		Label:         label,
		Capabilities:  append([]string(nil), capabilities...),
		ActiveVersion: hash,
		Versions:      []string{hash},
		Snapshots:     map[string]api.ComponentSettings{hash: settings.Clone()},
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	err = r.store.Update(ctx, id, func(cur *api.ComponentDefinition) (*api.ComponentDefinition, error) {
		if cur != nil {
			return nil, problem.New(problem.Conflict, "", "component %q already exists", id)
		}
		return def, nil
	})
	if err != nil {
		return nil, err
	}
	r.log(ctx).Info("component registered", "component", id, "version", hash)
	return def.Clone(), nil
}

// CreateVersion adds settings to the history of id and returns its hash.
// Settings already in the history are not appended again. The active
// version is left unchanged.
func (r *Registry) CreateVersion(ctx context.Context, id api.ComponentID, settings api.ComponentSettings) (string, error) {
	return r.addVersion(ctx, id, settings, false)
}

// UpdateSettings records settings as a version of id and activates it.
func (r *Registry) UpdateSettings(ctx context.Context, id api.ComponentID, settings api.ComponentSettings) (string, error) {
	return r.addVersion(ctx, id, settings, true)
}

func (r *Registry) addVersion(ctx context.Context, id api.ComponentID, settings api.ComponentSettings, activate bool) (string, error) {
	hash, err := versionhash.Hash(settings)
	if err != nil {
		return "", fmt.Errorf("hash settings of %s: %w", id, err)
	}
	snapshot := settings.Clone()
	var created, activated bool
	err = r.update(ctx, id, func(def *api.ComponentDefinition) (*api.ComponentDefinition, error) {
		created = !def.HasVersion(hash)
		if created {
			def.Versions = append(def.Versions, hash)
			def.Snapshots[hash] = snapshot
		}
		activated = activate && def.ActiveVersion != hash
		if activated {
			def.ActiveVersion = hash
		}
		if !created && !activated {
			return nil, nil
		}
		return def, nil
	})
	if err != nil {
		return "", err
	}
	log := r.log(ctx).With("component", id, "version", hash)
	if created {
		log.Info("version created")
	} else {
		log.Debug("version already recorded")
	}
	if activated {
		log.Info("active version changed")
	}
	return hash, nil
}

// SetActiveVersion makes hash the version new tree items get pinned to.
func (r *Registry) SetActiveVersion(ctx context.Context, id api.ComponentID, hash string) error {
	changed := false
	err := r.update(ctx, id, func(def *api.ComponentDefinition) (*api.ComponentDefinition, error) {
		if !def.HasVersion(hash) {
			return nil, problem.New(problem.UnknownVersion, "", "version %q is not in the history of %q", hash, id)
		}
		if def.ActiveVersion == hash {
			return nil, nil
		}
		def.ActiveVersion = hash
		changed = true
		return def, nil
	})
	if err == nil && changed {
		r.log(ctx).Info("active version changed", "component", id, "version", hash)
	}
	return err
}

// DeleteVersion removes hash from the history of id.
func (r *Registry) DeleteVersion(ctx context.Context, id api.ComponentID, hash string) error {
	err := r.update(ctx, id, func(def *api.ComponentDefinition) (*api.ComponentDefinition, error) {
		if !def.HasVersion(hash) {
			return nil, problem.New(problem.UnknownVersion, "", "version %q is not in the history of %q", hash, id)
		}
		if def.ActiveVersion == hash {
			return nil, problem.New(problem.VersionInUse, "", "version %q is the active version of %q", hash, id)
		}
		if r.usage != nil {
			ref := api.ComponentRef{Component: id, Version: hash}
			inUse, err := r.usage.InUse(ref)
			if err != nil {
				return nil, fmt.Errorf("check usage of %s: %w", ref, err)
			}
			if inUse {
				return nil, problem.New(problem.VersionInUse, "", "version %q of %q is referenced by stored trees", hash, id)
			}
		}

		kept := def.Versions[:0]
		for _, v := range def.Versions {
			if v != hash {
				kept = append(kept, v)
			}
		}
		def.Versions = kept
		delete(def.Snapshots, hash)
		return def, nil
	})
	if err != nil {
		return err
	}
	r.log(ctx).Info("version deleted", "component", id, "version", hash)
	return nil
}

// ViewAt returns the snapshot of id at hash without touching the active
// version.
func (r *Registry) ViewAt(ctx context.Context, id api.ComponentID, hash string) (api.ComponentVersion, error) {
	def, err := r.load(ctx, id)
	if err != nil {
		return api.ComponentVersion{}, err
	}
	v, ok := def.Version(hash)
	if !ok {
		return api.ComponentVersion{}, problem.New(problem.UnknownVersion, "", "version %q is not in the history of %q", hash, id)
	}
	return v, nil
}

// Get returns the definition of id.
func (r *Registry) Get(ctx context.Context, id api.ComponentID) (*api.ComponentDefinition, error) {
	return r.load(ctx, id)
}

// List returns every definition ordered by id.
func (r *Registry) List(ctx context.Context) ([]*api.ComponentDefinition, error) {
	return r.store.List(ctx)
}

// Catalog returns an immutable snapshot of every definition, used to
// resolve the versions pinned by tree items.
// It waits for changes already in progress through r.
func (r *Registry) Catalog(ctx context.Context) (*Catalog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs, err := r.store.List(ctx)
	if err != nil {
		return nil, err
	}
	return NewCatalog(defs...), nil
}

// Import merges fixture definitions into the store: unknown components are
// saved as given, known ones gain any missing versions and take the
// fixture's active version and metadata.
func (r *Registry) Import(ctx context.Context, defs ...*api.ComponentDefinition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, in := range defs {
		err := r.store.Update(ctx, in.ID, func(def *api.ComponentDefinition) (*api.ComponentDefinition, error) {
			if def == nil {
				return in.Clone(), nil
			}
			for _, hash := range in.Versions {
				if !def.HasVersion(hash) {
					def.Versions = append(def.Versions, hash)
					def.Snapshots[hash] = in.Snapshots[hash].Clone()
				}
			}
			def.Label = in.Label
			def.Capabilities = append([]string(nil), in.Capabilities...)
			def.ActiveVersion = in.ActiveVersion
			return def, nil
		})
		if err != nil {
			return err
		}
		r.log(ctx).Debug("component imported", "component", in.ID, "versions", len(in.Versions), "active", in.ActiveVersion)
	}
	return nil
}
