package repository

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/postgres/*.sql
var postgresMigrations embed.FS

//go:embed migrations/sqlite/*.sql
var sqliteMigrations embed.FS

func migrationSource(fsys embed.FS, dir string) (fs.FS, error) {
	sub, err := fs.Sub(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("load embedded migrations: %w", err)
	}
	return sub, nil
}

// RunPostgresMigrations 对 databaseURL 执行内置的 Postgres 迁移。
func RunPostgresMigrations(databaseURL string) error {
	migrationsFS, err := migrationSource(postgresMigrations, "migrations/postgres")
	if err != nil {
		return err
	}

	d, err := iofs.New(migrationsFS, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", d, databaseURL)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	defer m.Close()

	return applyMigrations(m, "postgres")
}

// runSQLiteMigrations 在已打开的连接上执行 SQLite 迁移。
// 不调用 m.Close()，否则会一并关闭 db。
func runSQLiteMigrations(db *sql.DB) error {
	migrationsFS, err := migrationSource(sqliteMigrations, "migrations/sqlite")
	if err != nil {
		return err
	}

	d, err := iofs.New(migrationsFS, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("create sqlite migrate driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", d, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}

	return applyMigrations(m, "sqlite")
}

func applyMigrations(m *migrate.Migrate, backend string) error {
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}

	version, dirty, _ := m.Version()
	slog.Info("migrations applied", "backend", backend, "version", version, "dirty", dirty)
	return nil
}
