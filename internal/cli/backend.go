package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/threads/internal/config"
	"github.com/roach88/threads/internal/service"
	"github.com/roach88/threads/internal/store"
	"github.com/roach88/threads/internal/store/badgerstore"
	"github.com/roach88/threads/internal/store/memstore"
	"github.com/roach88/threads/internal/store/pgstore"
	"github.com/roach88/threads/internal/store/sqlitestore"
	"github.com/roach88/threads/internal/store/storemetrics"
)

// OpenStore opens the backend cfg selects. When reg is non-nil the store
// is instrumented and its metrics registered there.
func OpenStore(ctx context.Context, cfg *config.Config, log *slog.Logger, reg prometheus.Registerer) (store.Store, error) {
	var (
		st  store.Store
		err error
	)

	switch cfg.Store.Backend {
	case config.BackendMemory:
		st = memstore.New(memstore.WithLogger(log))
	case config.BackendSQLite:
		st, err = sqlitestore.Open(cfg.Store.SQLitePath, sqlitestore.WithLogger(log))
	case config.BackendBadger:
		st, err = badgerstore.Open(cfg.Store.BadgerDir, badgerstore.WithLogger(log))
	case config.BackendPostgres:
		st, err = pgstore.Open(ctx, cfg.Store.PostgresDSN, pgstore.WithLogger(log))
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Store.Backend, err)
	}

	log.Debug("store opened", slog.String("backend", cfg.Store.Backend))
	if reg != nil {
		return storemetrics.Wrap(st, reg), nil
	}
	return st, nil
}

// openService opens the configured store for a one-shot command. The
// caller closes the returned store.
func (o *RootOptions) openService(ctx context.Context) (*service.Service, store.Store, error) {
	st, err := OpenStore(ctx, o.Config, o.Logger, nil)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "failed to open store", err)
	}
	return service.New(st, service.WithLogger(o.Logger)), st, nil
}

func (o *RootOptions) closeStore(st store.Store) {
	if err := st.Close(); err != nil {
		o.Logger.Error("error closing store", slog.String("error", err.Error()))
	}
}
