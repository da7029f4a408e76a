package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/agentic-research/canvas/internal/config"
	"github.com/agentic-research/canvas/internal/definition"
	"github.com/agentic-research/canvas/internal/draft"
	"github.com/agentic-research/canvas/internal/tree"
	"github.com/agentic-research/canvas/internal/usage"
)

// app is the wired object graph shared by serve and mcp.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	kinds    *draft.Kinds
	usage    *usage.Index
	registry *definition.Registry
	drafts   *draft.Manager
	closers  []io.Closer
}

func registryCatalog(reg *definition.Registry) draft.CatalogFunc {
	return func(ctx context.Context) (tree.Catalog, error) {
		c, err := reg.Catalog(ctx)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// openApp opens the configured stores, imports the definitions fixture and
// replays stored drafts into the usage index.
func openApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger, usage: usage.New()}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	if a.kinds, err = draft.NewKinds(cfg.KindSpecs()...); err != nil {
		return nil, fmt.Errorf("object kinds: %w", err)
	}

	var defStore definition.Store
	var draftStore draft.Store
	switch cfg.Storage.Backend {
	case config.BackendSQLite:
		ds, err := definition.OpenSQLiteStore(cfg.Storage.Path)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, ds)
		dr, err := draft.OpenSQLiteStore(cfg.Storage.Path)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, dr)
		defStore, draftStore = ds, dr
	case config.BackendBadger:
		bc := draft.DefaultBadgerConfig(cfg.Storage.Path)
		bc.Logger = logger.With("component", "badger")
		dr, err := draft.OpenBadgerStore(bc)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, dr)
		// definitions are rebuilt from the fixture on every start
		defStore, draftStore = definition.NewMemoryStore(), dr
	default:
		defStore, draftStore = definition.NewMemoryStore(), draft.NewMemoryStore()
	}

	a.registry = definition.NewRegistry(defStore, a.usage, logger)
	if cfg.Definitions != "" {
		defs, err := definition.LoadYAMLFile(cfg.Definitions)
		if err != nil {
			return nil, err
		}
		if err := a.registry.Import(ctx, defs...); err != nil {
			return nil, fmt.Errorf("import definitions: %w", err)
		}
		logger.Info("component definitions imported", "path", cfg.Definitions, "count", len(defs))
	}

	a.drafts = draft.NewManager(draftStore, a.kinds, registryCatalog(a.registry), draft.WithUsage(a.usage))
	if err := a.drafts.Rebuild(ctx); err != nil {
		return nil, fmt.Errorf("rebuild usage index: %w", err)
	}
	return a, nil
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	a.closers = nil
	return errors.Join(errs...)
}
