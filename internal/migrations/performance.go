package migrations

import (
	"database/sql"
)

// GetPerformanceMigrations returns performance optimization migrations
func GetPerformanceMigrations() []Migration {
	return []Migration{
		{
			Version: 10,
			Name:    "add_performance_indices",
			Up: func(db *sql.DB, d Dialect) error {
				return execAll(db, []string{
					"CREATE INDEX idx_instances_deployment_job ON instances(deployment_id, job)",
					"CREATE INDEX idx_persistent_disks_instance_id ON persistent_disks(instance_id)",
					"CREATE INDEX idx_ip_addresses_instance_id ON ip_addresses(instance_id)",
					"CREATE INDEX idx_ip_addresses_network_name ON ip_addresses(network_name)",
				})
			},
			Down: func(db *sql.DB, d Dialect) error {
				if d == DialectMySQL {
					return execAll(db, []string{
						"DROP INDEX idx_instances_deployment_job ON instances",
						"DROP INDEX idx_persistent_disks_instance_id ON persistent_disks",
						"DROP INDEX idx_ip_addresses_instance_id ON ip_addresses",
						"DROP INDEX idx_ip_addresses_network_name ON ip_addresses",
					})
				}
				return execAll(db, []string{
					"DROP INDEX IF EXISTS idx_instances_deployment_job",
					"DROP INDEX IF EXISTS idx_persistent_disks_instance_id",
					"DROP INDEX IF EXISTS idx_ip_addresses_instance_id",
					"DROP INDEX IF EXISTS idx_ip_addresses_network_name",
				})
			},
		},
	}
}
