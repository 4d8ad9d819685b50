package migrations

import (
	"database/sql"
	"fmt"
)

// GetInitialMigrations returns all initial migrations
func GetInitialMigrations() []Migration {
	return []Migration{
		{
			Version: 1,
			Name:    "create_deployments_and_instances",
			Up: func(db *sql.DB, d Dialect) error {
				statements := []string{
					fmt.Sprintf(`
						CREATE TABLE deployments (
							%s,
							name VARCHAR(255) NOT NULL UNIQUE,
							created_at DATETIME DEFAULT CURRENT_TIMESTAMP
						)`, d.AutoIncrementPK()),
					fmt.Sprintf(`
						CREATE TABLE instances (
							%s,
							deployment_id BIGINT NOT NULL,
							job VARCHAR(255) NOT NULL,
							idx INTEGER NOT NULL,
							uuid VARCHAR(64) NOT NULL UNIQUE,
							availability_zone VARCHAR(255) NOT NULL DEFAULT '',
							vm_type VARCHAR(255) NOT NULL DEFAULT '',
							vm_extensions VARCHAR(4096) NOT NULL DEFAULT '[]',
							ignored BOOLEAN NOT NULL DEFAULT FALSE,
							created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
							updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
							UNIQUE (deployment_id, job, idx),
							FOREIGN KEY (deployment_id) REFERENCES deployments(id) ON DELETE CASCADE
						)`, d.AutoIncrementPK()),
					fmt.Sprintf(`
						CREATE TABLE persistent_disks (
							%s,
							instance_id BIGINT NOT NULL,
							disk_cid VARCHAR(255) NOT NULL UNIQUE,
							size INTEGER NOT NULL DEFAULT 0,
							active BOOLEAN NOT NULL DEFAULT TRUE,
							FOREIGN KEY (instance_id) REFERENCES instances(id) ON DELETE CASCADE
						)`, d.AutoIncrementPK()),
				}
				return execAll(db, statements)
			},
			Down: func(db *sql.DB, d Dialect) error {
				return execAll(db, []string{
					"DROP TABLE IF EXISTS persistent_disks",
					"DROP TABLE IF EXISTS instances",
					"DROP TABLE IF EXISTS deployments",
				})
			},
		},
		{
			Version: 2,
			Name:    "create_ip_addresses",
			Up: func(db *sql.DB, d Dialect) error {
				statements := []string{
					fmt.Sprintf(`
						CREATE TABLE orphaned_vms (
							%s,
							cid VARCHAR(255) NOT NULL,
							deployment_name VARCHAR(255) NOT NULL,
							instance_name VARCHAR(255) NOT NULL,
							availability_zone VARCHAR(255) NOT NULL DEFAULT '',
							orphaned_at DATETIME DEFAULT CURRENT_TIMESTAMP
						)`, d.AutoIncrementPK()),
					// The unique index on (address_str, network_name) is what
					// serializes concurrent reservations across processes.
					fmt.Sprintf(`
						CREATE TABLE ip_addresses (
							%s,
							address_str VARCHAR(64) NOT NULL,
							network_name VARCHAR(255) NOT NULL,
							static BOOLEAN NOT NULL DEFAULT FALSE,
							instance_id BIGINT NULL,
							orphaned_vm_id BIGINT NULL,
							task_id VARCHAR(64) NOT NULL DEFAULT '',
							created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
							FOREIGN KEY (instance_id) REFERENCES instances(id) ON DELETE SET NULL,
							FOREIGN KEY (orphaned_vm_id) REFERENCES orphaned_vms(id) ON DELETE CASCADE
						)`, d.AutoIncrementPK()),
					"CREATE UNIQUE INDEX ip_addresses_address_network_key ON ip_addresses(address_str, network_name)",
				}
				return execAll(db, statements)
			},
			Down: func(db *sql.DB, d Dialect) error {
				return execAll(db, []string{
					"DROP TABLE IF EXISTS ip_addresses",
					"DROP TABLE IF EXISTS orphaned_vms",
				})
			},
		},
	}
}

func execAll(db *sql.DB, statements []string) error {
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
