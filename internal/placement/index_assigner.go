package placement

import (
	"context"
	"fmt"
	"sort"

	"github.com/jbweber/homelab/placer/internal/domain"
)

// IndexLister reads the indexes already taken by a job in a deployment.
type IndexLister interface {
	ListIndexes(ctx context.Context, deploymentID int64, job string) ([]int, error)
}

// IndexAssigner hands out instance indexes within one deployment
type IndexAssigner struct {
	deploymentID int64
	instances    IndexLister
}

// NewIndexAssigner creates an assigner for deploymentID.
func NewIndexAssigner(deploymentID int64, instances IndexLister) *IndexAssigner {
	return &IndexAssigner{deploymentID: deploymentID, instances: instances}
}

// AssignIndex returns the index for an instance of jobName. An existing
// instance of the same job keeps its index. Anything else gets the lowest
// free index, so gaps left by deleted instances are filled first.
func (a *IndexAssigner) AssignIndex(ctx context.Context, jobName string, existing *domain.Instance) (int, error) {
	if existing != nil && existing.Job == jobName {
		return existing.Index, nil
	}

	taken, err := a.instances.ListIndexes(ctx, a.deploymentID, jobName)
	if err != nil {
		return 0, fmt.Errorf("failed to assign index for %s: %w", jobName, err)
	}
	return lowestFreeIndex(taken), nil
}

func lowestFreeIndex(taken []int) int {
	sorted := append([]int(nil), taken...)
	sort.Ints(sorted)

	next := 0
	for _, idx := range sorted {
		if idx < next {
			continue
		}
		if idx > next {
			break
		}
		next++
	}
	return next
}
