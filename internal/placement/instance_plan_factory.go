package placement

import (
	"context"
	"fmt"

	"github.com/jbweber/homelab/placer/internal/domain"
)

// InstanceStore is the part of the instance repository the planner writes
// through.
type InstanceStore interface {
	IndexLister
	Save(ctx context.Context, instance domain.Instance) (domain.Instance, error)
	UpdatePlacement(ctx context.Context, id int64, az, vmType string, vmExtensions []string) error
	Reassign(ctx context.Context, id int64, job string, index int) error
}

// InstancePlanFactory turns picker decisions into instance records
type InstancePlanFactory struct {
	deployment *domain.Deployment
	instances  InstanceStore
}

// NewInstancePlanFactory creates a factory writing into deployment.
func NewInstancePlanFactory(deployment *domain.Deployment, instances InstanceStore) *InstancePlanFactory {
	return &InstancePlanFactory{deployment: deployment, instances: instances}
}

// CreateInstance persists the record for a new instance so that later index
// assignments in the same run see its index.
func (f *InstancePlanFactory) CreateInstance(ctx context.Context, group *domain.InstanceGroup, desired *domain.DesiredInstance) (*domain.Instance, error) {
	record := domain.Instance{
		DeploymentID:     f.deployment.ID,
		Job:              group.Name,
		Index:            desired.Index,
		AvailabilityZone: desired.AZName(),
		VMType:           group.VMType,
	}
	record.SetVMExtensions(group.VMExtensions)

	saved, err := f.instances.Save(ctx, record)
	if err != nil {
		return nil, fmt.Errorf("failed to create instance %s/%d: %w", group.Name, desired.Index, err)
	}
	return &saved, nil
}

// UpdateExisting moves an existing instance to its planned job, index and
// zone and records the group's VM settings on it.
func (f *InstancePlanFactory) UpdateExisting(ctx context.Context, group *domain.InstanceGroup, desired *domain.DesiredInstance, existing *domain.Instance) error {
	if existing.Job != group.Name || existing.Index != desired.Index {
		if err := f.instances.Reassign(ctx, existing.ID, group.Name, desired.Index); err != nil {
			return fmt.Errorf("failed to move %s to %s/%d: %w", existing.Name(), group.Name, desired.Index, err)
		}
		existing.Job = group.Name
		existing.Index = desired.Index
	}

	if existing.Ignore {
		return nil
	}

	if err := f.instances.UpdatePlacement(ctx, existing.ID, desired.AZName(), group.VMType, group.VMExtensions); err != nil {
		return fmt.Errorf("failed to update placement of %s: %w", existing.Name(), err)
	}
	existing.AvailabilityZone = desired.AZName()
	existing.VMType = group.VMType
	existing.SetVMExtensions(group.VMExtensions)
	return nil
}
