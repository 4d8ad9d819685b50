package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jbweber/homelab/placer/internal/domain"
)

// PersistentDiskRepository extends the generic Repository with disk-specific operations
type PersistentDiskRepository interface {
	Repository[domain.PersistentDisk, int64]

	// Domain-specific operations
	FindByInstanceID(ctx context.Context, instanceID int64) ([]domain.PersistentDisk, error)
}

// persistentDiskRepositoryImpl implements PersistentDiskRepository
type persistentDiskRepositoryImpl struct {
	db *sqlx.DB
}

// NewPersistentDiskRepository creates a new persistent disk repository
func NewPersistentDiskRepository(db *sqlx.DB) PersistentDiskRepository {
	return &persistentDiskRepositoryImpl{
		db: db,
	}
}

// Save attaches a new disk or updates an existing one
func (r *persistentDiskRepositoryImpl) Save(ctx context.Context, disk domain.PersistentDisk) (domain.PersistentDisk, error) {
	if disk.InstanceID == 0 {
		return domain.PersistentDisk{}, fmt.Errorf("instance ID is required: %w", ErrInvalidEntity)
	}
	if disk.DiskCID == "" {
		return domain.PersistentDisk{}, fmt.Errorf("disk CID is required: %w", ErrInvalidEntity)
	}

	if disk.ID != 0 {
		result, err := r.db.ExecContext(ctx,
			"UPDATE persistent_disks SET instance_id = ?, disk_cid = ?, size = ?, active = ? WHERE id = ?",
			disk.InstanceID, disk.DiskCID, disk.Size, disk.Active, disk.ID)
		if err != nil {
			return domain.PersistentDisk{}, fmt.Errorf("failed to update persistent disk: %w", err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return domain.PersistentDisk{}, fmt.Errorf("persistent disk with ID %d: %w", disk.ID, ErrNotFound)
		}
		return r.FindByID(ctx, disk.ID)
	}

	result, err := r.db.ExecContext(ctx,
		"INSERT INTO persistent_disks (instance_id, disk_cid, size, active) VALUES (?, ?, ?, ?)",
		disk.InstanceID, disk.DiskCID, disk.Size, disk.Active)
	if err != nil {
		if IsUniqueViolation(err) {
			return domain.PersistentDisk{}, fmt.Errorf("disk %s: %w", disk.DiskCID, ErrDuplicate)
		}
		return domain.PersistentDisk{}, fmt.Errorf("failed to create persistent disk for instance %d: %w", disk.InstanceID, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return domain.PersistentDisk{}, fmt.Errorf("failed to get persistent disk ID: %w", err)
	}
	return r.FindByID(ctx, id)
}

// FindByID retrieves a disk by its ID
func (r *persistentDiskRepositoryImpl) FindByID(ctx context.Context, id int64) (domain.PersistentDisk, error) {
	var d domain.PersistentDisk
	err := r.db.GetContext(ctx, &d, "SELECT id, instance_id, disk_cid, size, active FROM persistent_disks WHERE id = ?", id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.PersistentDisk{}, fmt.Errorf("persistent disk with ID %d: %w", id, ErrNotFound)
		}
		return domain.PersistentDisk{}, fmt.Errorf("failed to find persistent disk: %w", err)
	}
	return d, nil
}

// FindAll retrieves all disks
func (r *persistentDiskRepositoryImpl) FindAll(ctx context.Context) ([]domain.PersistentDisk, error) {
	var disks []domain.PersistentDisk
	if err := r.db.SelectContext(ctx, &disks, "SELECT id, instance_id, disk_cid, size, active FROM persistent_disks ORDER BY id ASC"); err != nil {
		return nil, fmt.Errorf("failed to list all persistent disks: %w", err)
	}
	return disks, nil
}

// DeleteByID detaches a disk
func (r *persistentDiskRepositoryImpl) DeleteByID(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM persistent_disks WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete persistent disk: %w", err)
	}
	return nil
}

// FindByInstanceID retrieves all disks of one instance
func (r *persistentDiskRepositoryImpl) FindByInstanceID(ctx context.Context, instanceID int64) ([]domain.PersistentDisk, error) {
	var disks []domain.PersistentDisk
	err := r.db.SelectContext(ctx, &disks,
		"SELECT id, instance_id, disk_cid, size, active FROM persistent_disks WHERE instance_id = ? ORDER BY id ASC", instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list persistent disks for instance %d: %w", instanceID, err)
	}
	return disks, nil
}
