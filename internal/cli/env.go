package cli

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fastygo/journal/domain"
	"github.com/fastygo/journal/internal/config"
	pgInfra "github.com/fastygo/journal/internal/infrastructure/postgres"
	"github.com/fastygo/journal/pkg/logger"
	"github.com/fastygo/journal/repository"
	"github.com/fastygo/journal/repository/postgres"
	"github.com/fastygo/journal/repository/sqlite"
)

// env bundles the storage ports a command runs against.
type env struct {
	registry  *domain.Registry
	journals  repository.JournalRepository
	checksums repository.ChecksumRepository
	state     repository.StateReader
	tx        repository.Transactor
	logger    *zap.Logger
	close     func()
}

func openEnv(ctx context.Context, opts *RootOptions) (*env, error) {
	log := zap.NewNop()
	if opts.Verbose {
		l, err := logger.New(logger.Config{Level: "debug", Encoding: "console"})
		if err != nil {
			return nil, err
		}
		log = l
	}

	registry := domain.DefaultRegistry()
	if opts.SchemaFile != "" {
		if err := registry.LoadFile(opts.SchemaFile); err != nil {
			return nil, fmt.Errorf("load schema file: %w", err)
		}
	}

	e := &env{registry: registry, logger: log}
	switch opts.Driver {
	case DriverSQLite:
		store, err := sqlite.Open(opts.DSN, log)
		if err != nil {
			return nil, err
		}
		e.journals = sqlite.NewJournalRepository(store, registry)
		e.checksums = sqlite.NewChecksumRepository(store)
		e.state = sqlite.NewStateReader(store)
		e.tx = store
		e.close = func() { _ = store.Close() }
	case DriverPostgres:
		pool, err := pgInfra.NewPool(ctx, config.DatabaseConfig{URL: opts.DSN}, log)
		if err != nil {
			return nil, err
		}
		e.journals = postgres.NewJournalRepository(pool, registry)
		e.checksums = postgres.NewChecksumRepository(pool)
		e.state = postgres.NewStateReader(pool)
		e.tx = postgres.NewTransactor(pool, log)
		e.close = func() { pgInfra.Close(pool, log) }
	default:
		return nil, fmt.Errorf("unsupported driver %q", opts.Driver)
	}
	return e, nil
}

func (e *env) Close() {
	if e.close != nil {
		e.close()
	}
	_ = e.logger.Sync()
}
