package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jbweber/homelab/placer/internal/domain"
)

// DeploymentRepository defines domain-specific operations for deployments
type DeploymentRepository interface {
	Repository[domain.Deployment, int64]
	FindByName(ctx context.Context, name string) (domain.Deployment, error)
	FindOrCreate(ctx context.Context, name string) (domain.Deployment, error)
}

// deploymentRepositoryImpl implements DeploymentRepository
type deploymentRepositoryImpl struct {
	db *sqlx.DB
}

// NewDeploymentRepository creates a new deployment repository
func NewDeploymentRepository(db *sqlx.DB) DeploymentRepository {
	return &deploymentRepositoryImpl{
		db: db,
	}
}

// Save creates or renames a deployment
func (r *deploymentRepositoryImpl) Save(ctx context.Context, d domain.Deployment) (domain.Deployment, error) {
	if d.Name == "" {
		return domain.Deployment{}, fmt.Errorf("deployment name is required: %w", ErrInvalidEntity)
	}

	if d.ID != 0 {
		if _, err := r.db.ExecContext(ctx, "UPDATE deployments SET name = ? WHERE id = ?", d.Name, d.ID); err != nil {
			if IsUniqueViolation(err) {
				return domain.Deployment{}, fmt.Errorf("deployment '%s': %w", d.Name, ErrDuplicate)
			}
			return domain.Deployment{}, fmt.Errorf("failed to update deployment: %w", err)
		}
		return r.FindByID(ctx, d.ID)
	}

	result, err := r.db.ExecContext(ctx, "INSERT INTO deployments (name) VALUES (?)", d.Name)
	if err != nil {
		if IsUniqueViolation(err) {
			return domain.Deployment{}, fmt.Errorf("deployment '%s': %w", d.Name, ErrDuplicate)
		}
		return domain.Deployment{}, fmt.Errorf("failed to create deployment: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return domain.Deployment{}, fmt.Errorf("failed to get deployment ID: %w", err)
	}
	return r.FindByID(ctx, id)
}

// FindByID retrieves a deployment by its ID
func (r *deploymentRepositoryImpl) FindByID(ctx context.Context, id int64) (domain.Deployment, error) {
	var d domain.Deployment
	err := r.db.GetContext(ctx, &d, "SELECT id, name, created_at FROM deployments WHERE id = ?", id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Deployment{}, fmt.Errorf("deployment with ID %d: %w", id, ErrNotFound)
		}
		return domain.Deployment{}, fmt.Errorf("failed to find deployment: %w", err)
	}
	return d, nil
}

// FindByName retrieves a deployment by its name
func (r *deploymentRepositoryImpl) FindByName(ctx context.Context, name string) (domain.Deployment, error) {
	var d domain.Deployment
	err := r.db.GetContext(ctx, &d, "SELECT id, name, created_at FROM deployments WHERE name = ?", name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Deployment{}, fmt.Errorf("deployment '%s': %w", name, ErrNotFound)
		}
		return domain.Deployment{}, fmt.Errorf("failed to find deployment by name: %w", err)
	}
	return d, nil
}

// FindOrCreate returns the named deployment, creating it on first use. Two
// tasks racing on the insert both end up with the same row.
func (r *deploymentRepositoryImpl) FindOrCreate(ctx context.Context, name string) (domain.Deployment, error) {
	d, err := r.FindByName(ctx, name)
	if err == nil {
		return d, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return domain.Deployment{}, err
	}

	d, err = r.Save(ctx, domain.Deployment{Name: name})
	if errors.Is(err, ErrDuplicate) {
		return r.FindByName(ctx, name)
	}
	return d, err
}

// FindAll retrieves all deployments
func (r *deploymentRepositoryImpl) FindAll(ctx context.Context) ([]domain.Deployment, error) {
	var out []domain.Deployment
	if err := r.db.SelectContext(ctx, &out, "SELECT id, name, created_at FROM deployments ORDER BY name ASC"); err != nil {
		return nil, fmt.Errorf("failed to list deployments: %w", err)
	}
	return out, nil
}

// DeleteByID removes a deployment and, through the foreign keys, its instances
func (r *deploymentRepositoryImpl) DeleteByID(ctx context.Context, id int64) error {
	return deleteByID(ctx, r.db, "deployments", "deployment", id)
}

