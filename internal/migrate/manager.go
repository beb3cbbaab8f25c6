package migrate

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sync"

	"github.com/pressly/goose/v3"
)

const (
	defaultMigrationsTable = "schema_migrations"
	migrationsDir          = "sql"
)

// Migrations holds the embedded SQL migrations.
//
//go:embed sql/*.sql
var Migrations embed.FS

// Seams over the package-level goose API so tests can run without a database.
var (
	gooseUp = func(ctx context.Context, db *sql.DB, dir string) error {
		return goose.UpContext(ctx, db, dir)
	}
	gooseDown = func(ctx context.Context, db *sql.DB, dir string) error {
		return goose.DownContext(ctx, db, dir)
	}
	gooseVersion = func(ctx context.Context, db *sql.DB) (int64, error) {
		return goose.GetDBVersionContext(ctx, db)
	}
	gooseCollect = func(dir string) (goose.Migrations, error) {
		return goose.CollectMigrations(dir, 0, goose.MaxVersion)
	}
)

// goose keeps its dialect, table and file system in globals.
var gooseMu sync.Mutex

// Manager applies the embedded migrations with goose.
type Manager struct {
	db              *sql.DB
	migrationsTable string
}

// Option configures Manager.
type Option func(*Manager)

// WithMigrationsTable overrides the default migrations bookkeeping table.
func WithMigrationsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.migrationsTable = name
		}
	}
}

// NewManager constructs a Manager.
func NewManager(db *sql.DB, opts ...Option) *Manager {
	m := &Manager{
		db:              db,
		migrationsTable: defaultMigrationsTable,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) with(fn func() error) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()
	goose.SetBaseFS(Migrations)
	goose.SetTableName(m.migrationsTable)
	if err := goose.SetDialect("pgx"); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}
	return fn()
}

// Up applies all pending migrations.
func (m *Manager) Up(ctx context.Context) error {
	return m.with(func() error {
		if err := gooseUp(ctx, m.db, migrationsDir); err != nil {
			return fmt.Errorf("migrate up: %w", err)
		}
		return nil
	})
}

// Down rolls back the most recent applied migration.
func (m *Manager) Down(ctx context.Context) error {
	return m.with(func() error {
		if err := gooseDown(ctx, m.db, migrationsDir); err != nil {
			return fmt.Errorf("migrate down: %w", err)
		}
		return nil
	})
}

// Version reports the current schema version.
func (m *Manager) Version(ctx context.Context) (int64, error) {
	var v int64
	err := m.with(func() error {
		var err error
		v, err = gooseVersion(ctx, m.db)
		if err != nil {
			return fmt.Errorf("migrate version: %w", err)
		}
		return nil
	})
	return v, err
}

// MigrationStatus describes one embedded migration.
type MigrationStatus struct {
	Version int64
	Source  string
	Applied bool
}

// Status lists the embedded migrations in order and marks those at or
// below the current schema version as applied.
func (m *Manager) Status(ctx context.Context) ([]MigrationStatus, error) {
	var out []MigrationStatus
	err := m.with(func() error {
		current, err := gooseVersion(ctx, m.db)
		if err != nil {
			return fmt.Errorf("migrate status: %w", err)
		}
		migrations, err := gooseCollect(migrationsDir)
		if err != nil {
			return fmt.Errorf("collect migrations: %w", err)
		}
		for _, mig := range migrations {
			out = append(out, MigrationStatus{
				Version: mig.Version,
				Source:  mig.Source,
				Applied: mig.Version <= current,
			})
		}
		return nil
	})
	return out, err
}
