package migrations

import (
	"database/sql"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func openTestDB(t *testing.T, name string) *sql.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", name)
	db, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)
	t.Cleanup(func() {
		if closeErr := db.Close(); closeErr != nil {
			t.Logf("Warning: failed to close test database: %v", closeErr)
		}
	})
	return db
}

func tableExists(t *testing.T, db *sql.DB, name string) bool {
	t.Helper()
	var count int
	err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name).Scan(&count)
	require.NoError(t, err)
	return count == 1
}

func TestMigrator_RunMigrations(t *testing.T) {
	db := openTestDB(t, "TestMigrator_RunMigrations")

	migrator := NewMigrator(db, DialectSQLite)
	for _, migration := range All() {
		migrator.AddMigration(migration)
	}

	err := migrator.RunMigrations()
	require.NoError(t, err)

	version, err := migrator.GetCurrentVersion()
	require.NoError(t, err)
	assert.Equal(t, int64(10), version)

	for _, table := range []string{"deployments", "instances", "persistent_disks", "orphaned_vms", "ip_addresses", "schema_migrations"} {
		assert.True(t, tableExists(t, db, table), "table %s should exist", table)
	}

	var count int
	err = db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = 2 AND name = 'create_ip_addresses'").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// Running again is a no-op
	require.NoError(t, migrator.RunMigrations())
	err = db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestMigrator_UniqueAddressPerNetwork(t *testing.T) {
	db := openTestDB(t, "TestMigrator_UniqueAddressPerNetwork")
	require.NoError(t, Run(db, DialectSQLite))

	_, err := db.Exec("INSERT INTO ip_addresses (address_str, network_name) VALUES (?, ?)", "192.168.1.2/32", "a")
	require.NoError(t, err)

	_, err = db.Exec("INSERT INTO ip_addresses (address_str, network_name) VALUES (?, ?)", "192.168.1.2/32", "b")
	require.NoError(t, err, "same address on another network is allowed")

	_, err = db.Exec("INSERT INTO ip_addresses (address_str, network_name) VALUES (?, ?)", "192.168.1.2/32", "a")
	assert.Error(t, err)
}

func TestMigrator_AddMigration(t *testing.T) {
	db := openTestDB(t, "TestMigrator_AddMigration")

	migrator := NewMigrator(db, DialectSQLite)

	migrator.AddMigration(Migration{Version: 3, Name: "third"})
	migrator.AddMigration(Migration{Version: 1, Name: "first"})
	migrator.AddMigration(Migration{Version: 2, Name: "second"})

	migrations := migrator.GetMigrations()
	assert.Equal(t, int64(1), migrations[0].Version)
	assert.Equal(t, int64(2), migrations[1].Version)
	assert.Equal(t, int64(3), migrations[2].Version)
}

func TestMigrator_Rollback(t *testing.T) {
	db := openTestDB(t, "TestMigrator_Rollback")

	migrator := NewMigrator(db, DialectSQLite)
	for _, migration := range GetInitialMigrations() {
		migrator.AddMigration(migration)
	}
	require.NoError(t, migrator.RunMigrations())
	require.True(t, tableExists(t, db, "ip_addresses"))

	require.NoError(t, migrator.Rollback())

	version, err := migrator.GetCurrentVersion()
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)
	assert.False(t, tableExists(t, db, "ip_addresses"))
	assert.True(t, tableExists(t, db, "instances"))
}

func TestDialect_AutoIncrementPK(t *testing.T) {
	assert.Contains(t, DialectSQLite.AutoIncrementPK(), "AUTOINCREMENT")
	assert.Contains(t, DialectMySQL.AutoIncrementPK(), "AUTO_INCREMENT")
}
