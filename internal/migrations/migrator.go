package migrations

import (
	"database/sql"
	"fmt"
	"sort"

	log "github.com/sirupsen/logrus"
)

// Dialect names the SQL flavour a migration is written for
type Dialect string

const (
	DialectSQLite Dialect = "sqlite"
	DialectMySQL  Dialect = "mysql"
)

// AutoIncrementPK returns the column definition for a surrogate primary key.
func (d Dialect) AutoIncrementPK() string {
	if d == DialectMySQL {
		return "id BIGINT PRIMARY KEY AUTO_INCREMENT"
	}
	return "id INTEGER PRIMARY KEY AUTOINCREMENT"
}

// Migration represents a database migration with up and down functions
type Migration struct {
	Version int64
	Name    string
	Up      func(*sql.DB, Dialect) error
	Down    func(*sql.DB, Dialect) error
}

// Migrator handles database migrations
type Migrator struct {
	db         *sql.DB
	dialect    Dialect
	migrations []Migration
}

// NewMigrator creates a new migrator instance for the given dialect
func NewMigrator(db *sql.DB, dialect Dialect) *Migrator {
	return &Migrator{
		db:         db,
		dialect:    dialect,
		migrations: []Migration{},
	}
}

// AddMigration adds a migration to the migrator
func (m *Migrator) AddMigration(migration Migration) {
	m.migrations = append(m.migrations, migration)
	sort.Slice(m.migrations, func(i, j int) bool {
		return m.migrations[i].Version < m.migrations[j].Version
	})
}

// RunMigrations runs all pending migrations
func (m *Migrator) RunMigrations() error {
	if err := m.createMigrationsTable(); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	currentVersion, err := m.getCurrentVersion()
	if err != nil {
		return fmt.Errorf("failed to get current version: %w", err)
	}

	for _, migration := range m.migrations {
		if migration.Version <= currentVersion {
			continue
		}
		if err := m.runMigration(migration); err != nil {
			return fmt.Errorf("failed to run migration %d (%s): %w", migration.Version, migration.Name, err)
		}
		log.WithFields(log.Fields{
			"version": migration.Version,
			"name":    migration.Name,
		}).Info("applied migration")
	}

	return nil
}

// createMigrationsTable creates the migrations tracking table
func (m *Migrator) createMigrationsTable() error {
	_, err := m.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version BIGINT PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	return err
}

// getCurrentVersion returns the current migration version
func (m *Migrator) getCurrentVersion() (int64, error) {
	var version int64
	err := m.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, err
	}
	return version, nil
}

// runMigration executes a single migration and records it. DDL is not
// transactional on every backend, so the record is written only after Up
// succeeded.
func (m *Migrator) runMigration(migration Migration) error {
	if migration.Up == nil {
		return fmt.Errorf("migration has no Up function")
	}
	if err := migration.Up(m.db, m.dialect); err != nil {
		return err
	}

	_, err := m.db.Exec("INSERT INTO schema_migrations (version, name) VALUES (?, ?)", migration.Version, migration.Name)
	return err
}

// Rollback reverts the most recent applied migration.
func (m *Migrator) Rollback() error {
	current, err := m.getCurrentVersion()
	if err != nil {
		return fmt.Errorf("failed to get current version: %w", err)
	}
	for i := len(m.migrations) - 1; i >= 0; i-- {
		migration := m.migrations[i]
		if migration.Version != current {
			continue
		}
		if migration.Down == nil {
			return fmt.Errorf("migration %d (%s) cannot be rolled back", migration.Version, migration.Name)
		}
		if err := migration.Down(m.db, m.dialect); err != nil {
			return fmt.Errorf("failed to roll back migration %d (%s): %w", migration.Version, migration.Name, err)
		}
		_, err := m.db.Exec("DELETE FROM schema_migrations WHERE version = ?", migration.Version)
		return err
	}
	return nil
}

// GetCurrentVersion returns the current migration version (public method)
func (m *Migrator) GetCurrentVersion() (int64, error) {
	return m.getCurrentVersion()
}

// GetMigrations returns all registered migrations
func (m *Migrator) GetMigrations() []Migration {
	return m.migrations
}

// All returns every migration the service knows about, in version order.
func All() []Migration {
	var out []Migration
	out = append(out, GetInitialMigrations()...)
	out = append(out, GetPerformanceMigrations()...)
	return out
}

// Run applies All() to db.
func Run(db *sql.DB, dialect Dialect) error {
	migrator := NewMigrator(db, dialect)
	for _, migration := range All() {
		migrator.AddMigration(migration)
	}
	return migrator.RunMigrations()
}
