package commands

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/conduit-lang/docmap/internal/cli/config"
	"github.com/conduit-lang/docmap/internal/cli/ui"
	"github.com/conduit-lang/docmap/internal/odm/mapper"
	"github.com/conduit-lang/docmap/internal/odm/metrics"
	"github.com/conduit-lang/docmap/internal/odm/store"
	"github.com/conduit-lang/docmap/internal/odm/store/badgerdoc"
	"github.com/conduit-lang/docmap/internal/odm/store/memory"
	"github.com/conduit-lang/docmap/internal/odm/store/redisdoc"
	"github.com/conduit-lang/docmap/internal/odm/store/sqldoc"
)

// session is everything one command invocation works with
type session struct {
	cfg      *config.Config
	logger   *zap.Logger
	store    store.Store
	registry *prometheus.Registry
	mapper   *mapper.Mapper
	noColor  bool

	closeStore func() error
}

// openSession loads the configuration and opens the configured store
func openSession(cmd *cobra.Command) (*session, error) {
	nc := noColor(cmd)
	path, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(path)
	if err != nil {
		return nil, &renderedError{text: ui.ConfigError(err.Error(), nil, nc), err: err}
	}
	logger, err := cfg.Log.NewLogger()
	if err != nil {
		return nil, err
	}

	s, closeStore, err := openStore(cmd.Context(), cfg.Store)
	if err != nil {
		_ = logger.Sync()
		return nil, &renderedError{text: ui.StoreError(cfg.Store.Driver, err, nc), err: err}
	}
	logger.Debug("opened store", zap.String("driver", cfg.Store.Driver))

	cache, err := demoCache(logger)
	if err != nil {
		_ = closeStore()
		return nil, err
	}

	registry := prometheus.NewRegistry()
	m := mapper.New(s,
		mapper.WithCache(cache),
		mapper.WithLogger(logger),
		mapper.WithMetrics(metrics.New(registry)),
		mapper.WithLazyConcurrency(cfg.Mapper.LazyConcurrency),
	)

	return &session{
		cfg:        cfg,
		logger:     logger,
		store:      s,
		registry:   registry,
		mapper:     m,
		noColor:    nc,
		closeStore: closeStore,
	}, nil
}

// Close releases the store and flushes the logger
func (s *session) Close() error {
	err := s.closeStore()
	_ = s.logger.Sync()
	return err
}

// openStore opens the backend named by cfg.Driver. The sql backend gets its table
// created on open.
func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, func() error, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	switch cfg.Driver {
	case config.DriverRedis:
		s, err := redisdoc.New(redisdoc.Config{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			Prefix:     cfg.Redis.Prefix,
			MaxRetries: cfg.Redis.MaxRetries,
		})
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil

	case config.DriverSQL:
		s, err := sqldoc.Open(ctx, cfg.SQL.Driver, cfg.SQL.DSN)
		if err != nil {
			return nil, nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			_ = s.Close()
			return nil, nil, err
		}
		return s, s.Close, nil

	case config.DriverBadger:
		s, err := badgerdoc.Open(badgerdoc.Config{Path: cfg.Badger.Path, InMemory: cfg.Badger.InMemory})
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil

	case config.DriverMemory, "":
		return memory.New(), func() error { return nil }, nil
	}
	return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}
