package postgres

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/fastygo/journal/assets"
	"github.com/fastygo/journal/internal/config"
)

// RunMigrations brings the journals schema up to date when enabled in
// configuration. An empty migrations path uses the embedded migrations.
func RunMigrations(cfg *config.Config, logger *zap.Logger) error {
	if cfg == nil || !cfg.Migrations.Enabled {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	m, closeDB, err := newMigrator(cfg)
	if err != nil {
		return err
	}
	defer closeDB()
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return err
	}
	if dirty {
		return fmt.Errorf("journal schema version %d is dirty", version)
	}

	logger.Info("database migrations applied", zap.Uint("version", version))
	return nil
}

func newMigrator(cfg *config.Config) (*migrate.Migrate, func(), error) {
	sqlDB, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		return nil, nil, err
	}
	closeDB := func() { _ = sqlDB.Close() }

	if err := sqlDB.Ping(); err != nil {
		closeDB()
		return nil, nil, err
	}

	driver, err := postgres.WithInstance(sqlDB, &postgres.Config{MigrationsTable: "journal_schema_migrations"})
	if err != nil {
		closeDB()
		return nil, nil, err
	}

	var m *migrate.Migrate
	if cfg.Migrations.Path == "" {
		source, srcErr := iofs.New(assets.Migrations, "migrations")
		if srcErr != nil {
			closeDB()
			return nil, nil, srcErr
		}
		m, err = migrate.NewWithInstance("iofs", source, cfg.Database.Name, driver)
	} else {
		sourceURL := fmt.Sprintf("file://%s", filepath.ToSlash(cfg.Migrations.Path))
		m, err = migrate.NewWithDatabaseInstance(sourceURL, cfg.Database.Name, driver)
	}
	if err != nil {
		closeDB()
		return nil, nil, err
	}
	return m, closeDB, nil
}
