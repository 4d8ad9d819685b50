package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jbweber/homelab/placer/internal/domain"
)

// OrphanedVMRepository defines domain-specific operations for orphaned VMs
type OrphanedVMRepository interface {
	Repository[domain.OrphanedVM, int64]
	FindByDeploymentName(ctx context.Context, deploymentName string) ([]domain.OrphanedVM, error)
}

// orphanedVMRepositoryImpl implements OrphanedVMRepository
type orphanedVMRepositoryImpl struct {
	db *sqlx.DB
}

// NewOrphanedVMRepository creates a new orphaned VM repository
func NewOrphanedVMRepository(db *sqlx.DB) OrphanedVMRepository {
	return &orphanedVMRepositoryImpl{
		db: db,
	}
}

// Save records an orphaned VM. Orphans are immutable once written.
func (r *orphanedVMRepositoryImpl) Save(ctx context.Context, vm domain.OrphanedVM) (domain.OrphanedVM, error) {
	if vm.ID != 0 {
		return domain.OrphanedVM{}, fmt.Errorf("orphaned VM %d already recorded: %w", vm.ID, ErrInvalidEntity)
	}
	if vm.CID == "" {
		return domain.OrphanedVM{}, fmt.Errorf("orphaned VM CID is required: %w", ErrInvalidEntity)
	}
	if vm.InstanceName == "" {
		return domain.OrphanedVM{}, fmt.Errorf("orphaned VM instance name is required: %w", ErrInvalidEntity)
	}

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO orphaned_vms (cid, deployment_name, instance_name, availability_zone)
		VALUES (?, ?, ?, ?)`,
		vm.CID, vm.DeploymentName, vm.InstanceName, vm.AvailabilityZone)
	if err != nil {
		return domain.OrphanedVM{}, fmt.Errorf("failed to create orphaned VM: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return domain.OrphanedVM{}, fmt.Errorf("failed to get orphaned VM ID: %w", err)
	}
	return r.FindByID(ctx, id)
}

// FindByID retrieves an orphaned VM by its ID
func (r *orphanedVMRepositoryImpl) FindByID(ctx context.Context, id int64) (domain.OrphanedVM, error) {
	var vm domain.OrphanedVM
	err := r.db.GetContext(ctx, &vm, `
		SELECT id, cid, deployment_name, instance_name, availability_zone, orphaned_at
		FROM orphaned_vms WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.OrphanedVM{}, fmt.Errorf("orphaned VM with ID %d: %w", id, ErrNotFound)
		}
		return domain.OrphanedVM{}, fmt.Errorf("failed to find orphaned VM: %w", err)
	}
	return vm, nil
}

// FindAll retrieves all orphaned VMs
func (r *orphanedVMRepositoryImpl) FindAll(ctx context.Context) ([]domain.OrphanedVM, error) {
	var vms []domain.OrphanedVM
	err := r.db.SelectContext(ctx, &vms, `
		SELECT id, cid, deployment_name, instance_name, availability_zone, orphaned_at
		FROM orphaned_vms ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list orphaned VMs: %w", err)
	}
	return vms, nil
}

// FindByDeploymentName retrieves the orphaned VMs of one deployment
func (r *orphanedVMRepositoryImpl) FindByDeploymentName(ctx context.Context, deploymentName string) ([]domain.OrphanedVM, error) {
	var vms []domain.OrphanedVM
	err := r.db.SelectContext(ctx, &vms, `
		SELECT id, cid, deployment_name, instance_name, availability_zone, orphaned_at
		FROM orphaned_vms WHERE deployment_name = ? ORDER BY id`, deploymentName)
	if err != nil {
		return nil, fmt.Errorf("failed to list orphaned VMs for deployment %s: %w", deploymentName, err)
	}
	return vms, nil
}

// DeleteByID removes an orphaned VM together with the IP rows it held
func (r *orphanedVMRepositoryImpl) DeleteByID(ctx context.Context, id int64) error {
	return deleteByID(ctx, r.db, "orphaned_vms", "orphaned VM", id)
}

