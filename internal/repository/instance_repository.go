package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jbweber/homelab/placer/internal/domain"
)

const instanceColumns = "id, deployment_id, job, idx, uuid, availability_zone, vm_type, vm_extensions, ignored, created_at, updated_at"

// InstanceRepository defines domain-specific operations for instances
type InstanceRepository interface {
	Repository[domain.Instance, int64]
	// FindByDeployment returns the deployment's instances ordered by job and
	// index, with persistent disks and IP addresses attached
	FindByDeployment(ctx context.Context, deploymentID int64) ([]domain.Instance, error)
	FindByUUID(ctx context.Context, uuid string) (domain.Instance, error)
	ListIndexes(ctx context.Context, deploymentID int64, job string) ([]int, error)
	UpdatePlacement(ctx context.Context, id int64, az, vmType string, vmExtensions []string) error
	Reassign(ctx context.Context, id int64, job string, index int) error
}

// instanceRepositoryImpl implements InstanceRepository
type instanceRepositoryImpl struct {
	db    *sqlx.DB
	cache *PreparedStatementCache
}

// NewInstanceRepository creates a new instance repository
func NewInstanceRepository(db *sqlx.DB) InstanceRepository {
	return &instanceRepositoryImpl{
		db:    db,
		cache: NewPreparedStatementCache(db),
	}
}

// Save creates or updates an instance
func (r *instanceRepositoryImpl) Save(ctx context.Context, instance domain.Instance) (domain.Instance, error) {
	if instance.ID == 0 {
		return r.createInstance(ctx, instance)
	}
	return r.updateInstance(ctx, instance)
}

func (r *instanceRepositoryImpl) createInstance(ctx context.Context, i domain.Instance) (domain.Instance, error) {
	if i.DeploymentID == 0 {
		return domain.Instance{}, fmt.Errorf("deployment ID is required: %w", ErrInvalidEntity)
	}
	if i.Job == "" {
		return domain.Instance{}, fmt.Errorf("job is required: %w", ErrInvalidEntity)
	}
	if i.UUID == "" {
		i.UUID = uuid.NewString()
	}
	if i.VMExtensionsJSON == "" {
		i.VMExtensionsJSON = "[]"
	}

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO instances (deployment_id, job, idx, uuid, availability_zone, vm_type, vm_extensions, ignored)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		i.DeploymentID, i.Job, i.Index, i.UUID, i.AvailabilityZone, i.VMType, i.VMExtensionsJSON, i.Ignore)
	if err != nil {
		if IsUniqueViolation(err) {
			return domain.Instance{}, fmt.Errorf("instance %s: %w", i.Name(), ErrDuplicate)
		}
		return domain.Instance{}, fmt.Errorf("failed to create instance: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return domain.Instance{}, fmt.Errorf("failed to get instance ID: %w", err)
	}
	return r.FindByID(ctx, id)
}

func (r *instanceRepositoryImpl) updateInstance(ctx context.Context, i domain.Instance) (domain.Instance, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE instances
		SET job = ?, idx = ?, availability_zone = ?, vm_type = ?, vm_extensions = ?, ignored = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		i.Job, i.Index, i.AvailabilityZone, i.VMType, i.VMExtensionsJSON, i.Ignore, i.ID)
	if err != nil {
		if IsUniqueViolation(err) {
			return domain.Instance{}, fmt.Errorf("instance %s: %w", i.Name(), ErrDuplicate)
		}
		return domain.Instance{}, fmt.Errorf("failed to update instance: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return domain.Instance{}, fmt.Errorf("instance with ID %d: %w", i.ID, ErrNotFound)
	}
	return r.FindByID(ctx, i.ID)
}

// FindByID retrieves an instance by its ID
func (r *instanceRepositoryImpl) FindByID(ctx context.Context, id int64) (domain.Instance, error) {
	stmt, err := r.cache.Get(ctx, "SELECT "+instanceColumns+" FROM instances WHERE id = ?")
	if err != nil {
		return domain.Instance{}, fmt.Errorf("failed to prepare instance lookup: %w", err)
	}

	var i domain.Instance
	if err := stmt.GetContext(ctx, &i, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Instance{}, fmt.Errorf("instance with ID %d: %w", id, ErrNotFound)
		}
		return domain.Instance{}, fmt.Errorf("failed to find instance: %w", err)
	}
	return i, nil
}

// FindByUUID retrieves an instance by its stable identity
func (r *instanceRepositoryImpl) FindByUUID(ctx context.Context, id string) (domain.Instance, error) {
	var i domain.Instance
	if err := r.db.GetContext(ctx, &i, "SELECT "+instanceColumns+" FROM instances WHERE uuid = ?", id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Instance{}, fmt.Errorf("instance with UUID %s: %w", id, ErrNotFound)
		}
		return domain.Instance{}, fmt.Errorf("failed to find instance by UUID: %w", err)
	}
	return i, nil
}

// FindAll retrieves all instances
func (r *instanceRepositoryImpl) FindAll(ctx context.Context) ([]domain.Instance, error) {
	var out []domain.Instance
	if err := r.db.SelectContext(ctx, &out, "SELECT "+instanceColumns+" FROM instances ORDER BY deployment_id, job, idx"); err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	return out, nil
}

// FindByDeployment returns the deployment's instances with their associations
func (r *instanceRepositoryImpl) FindByDeployment(ctx context.Context, deploymentID int64) ([]domain.Instance, error) {
	var out []domain.Instance
	err := r.db.SelectContext(ctx, &out,
		"SELECT "+instanceColumns+" FROM instances WHERE deployment_id = ? ORDER BY job, idx", deploymentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list instances for deployment: %w", err)
	}
	if len(out) == 0 {
		return out, nil
	}

	ids := make([]int64, len(out))
	byID := make(map[int64]*domain.Instance, len(out))
	for n := range out {
		ids[n] = out[n].ID
		byID[out[n].ID] = &out[n]
	}

	query, args, err := sqlx.In("SELECT id, instance_id, disk_cid, size, active FROM persistent_disks WHERE instance_id IN (?) ORDER BY id", ids)
	if err != nil {
		return nil, fmt.Errorf("failed to build disk query: %w", err)
	}
	var disks []domain.PersistentDisk
	if err := r.db.SelectContext(ctx, &disks, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to load persistent disks: %w", err)
	}
	for _, d := range disks {
		byID[d.InstanceID].PersistentDisks = append(byID[d.InstanceID].PersistentDisks, d)
	}

	query, args, err = sqlx.In("SELECT "+ipColumns+" FROM ip_addresses WHERE instance_id IN (?) ORDER BY id", ids)
	if err != nil {
		return nil, fmt.Errorf("failed to build IP query: %w", err)
	}
	var ips []domain.IPAddress
	if err := r.db.SelectContext(ctx, &ips, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to load IP addresses: %w", err)
	}
	for _, ip := range ips {
		owner := byID[*ip.InstanceID]
		owner.IPAddresses = append(owner.IPAddresses, ip)
	}

	return out, nil
}

// ListIndexes returns the indexes used by a job in a deployment
func (r *instanceRepositoryImpl) ListIndexes(ctx context.Context, deploymentID int64, job string) ([]int, error) {
	var out []int
	err := r.db.SelectContext(ctx, &out,
		"SELECT idx FROM instances WHERE deployment_id = ? AND job = ? ORDER BY idx", deploymentID, job)
	if err != nil {
		return nil, fmt.Errorf("failed to list indexes for %s: %w", job, err)
	}
	return out, nil
}

// UpdatePlacement records the AZ and VM settings chosen by the planner
func (r *instanceRepositoryImpl) UpdatePlacement(ctx context.Context, id int64, az, vmType string, vmExtensions []string) error {
	var i domain.Instance
	i.SetVMExtensions(vmExtensions)

	result, err := r.db.ExecContext(ctx, `
		UPDATE instances
		SET availability_zone = ?, vm_type = ?, vm_extensions = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, az, vmType, i.VMExtensionsJSON, id)
	if err != nil {
		return fmt.Errorf("failed to update instance placement: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("instance with ID %d: %w", id, ErrNotFound)
	}
	return nil
}

// Reassign moves an instance to another job, which happens when an
// instance group is renamed
func (r *instanceRepositoryImpl) Reassign(ctx context.Context, id int64, job string, index int) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE instances SET job = ?, idx = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?", job, index, id)
	if err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("instance %s/%d: %w", job, index, ErrDuplicate)
		}
		return fmt.Errorf("failed to reassign instance: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("instance with ID %d: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteByID removes an instance. Its disks go with it and its IP rows
// become unowned.
func (r *instanceRepositoryImpl) DeleteByID(ctx context.Context, id int64) error {
	return deleteByID(ctx, r.db, "instances", "instance", id)
}

