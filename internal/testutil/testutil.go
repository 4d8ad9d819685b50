package testutil

import (
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/jbweber/homelab/placer/internal/migrations"
)

// NewTestDSN generates a DSN for an in-memory SQLite database for testing purposes.
func NewTestDSN(testName string) string {
	return fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", testName)
}

// CleanupTestDB removes the test database file. In-memory databases have no
// file and are left alone.
func CleanupTestDB(dsn string) error {
	if !strings.HasPrefix(dsn, "file:") {
		return fmt.Errorf("invalid DSN format")
	}
	if strings.Contains(dsn, "mode=memory") {
		return nil
	}

	path := dsn[5:]
	if idx := strings.Index(path, "?"); idx != -1 {
		path = path[:idx]
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// SetupTestDB creates and returns a test database connection
func SetupTestDB(t *testing.T, testName string) (*sqlx.DB, func()) {
	t.Helper()
	dsn := NewTestDSN(testName)

	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	// Shared-cache memory databases report SQLITE_LOCKED instead of waiting,
	// so tests run on one connection.
	db.SetMaxOpenConns(1)

	cleanup := func() {
		db.Close()
		CleanupTestDB(dsn)
	}

	return db, cleanup
}

// SetupTestDBWithMigrations is SetupTestDB plus the full schema
func SetupTestDBWithMigrations(t *testing.T, testName string) (*sqlx.DB, func()) {
	t.Helper()
	db, cleanup := SetupTestDB(t, testName)
	if err := migrations.Run(db.DB, migrations.DialectSQLite); err != nil {
		cleanup()
		t.Fatalf("Failed to run migrations: %v", err)
	}
	return db, cleanup
}

// InsertDeployment adds a deployment row and returns its ID
func InsertDeployment(t *testing.T, db *sqlx.DB, name string) int64 {
	t.Helper()
	res, err := db.Exec("INSERT INTO deployments (name) VALUES (?)", name)
	if err != nil {
		t.Fatalf("Failed to insert deployment: %v", err)
	}
	id, _ := res.LastInsertId()
	return id
}

// InsertInstance adds an instance row and returns its ID
func InsertInstance(t *testing.T, db *sqlx.DB, deploymentID int64, job string, index int, az string) int64 {
	t.Helper()
	res, err := db.Exec(
		"INSERT INTO instances (deployment_id, job, idx, uuid, availability_zone) VALUES (?, ?, ?, ?, ?)",
		deploymentID, job, index, uuid.NewString(), az)
	if err != nil {
		t.Fatalf("Failed to insert instance: %v", err)
	}
	id, _ := res.LastInsertId()
	return id
}

// InsertDisk attaches a persistent disk to an instance
func InsertDisk(t *testing.T, db *sqlx.DB, instanceID int64, cid string) {
	t.Helper()
	if _, err := db.Exec("INSERT INTO persistent_disks (instance_id, disk_cid, size) VALUES (?, ?, ?)", instanceID, cid, 1024); err != nil {
		t.Fatalf("Failed to insert disk: %v", err)
	}
}

// CountRows returns the number of rows in table
func CountRows(t *testing.T, db *sqlx.DB, table string) int {
	t.Helper()
	var count int
	if err := db.Get(&count, "SELECT COUNT(*) FROM "+table); err != nil {
		t.Fatalf("Failed to count %s: %v", table, err)
	}
	return count
}
