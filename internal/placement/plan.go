package placement

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/jbweber/homelab/placer/internal/domain"
)

// Planner produces the instance plans of one deployment task
type Planner struct {
	deployment *domain.Deployment
	assigner   *IndexAssigner
	factory    *InstancePlanFactory
	tie        TieStrategy
	logger     log.FieldLogger
}

// PlannerOption configures a Planner
type PlannerOption func(*Planner)

// WithTieStrategy replaces the default MinWins tie breaking.
func WithTieStrategy(tie TieStrategy) PlannerOption {
	return func(p *Planner) {
		p.tie = tie
	}
}

// WithLogger sets the logger used for placement decisions.
func WithLogger(logger log.FieldLogger) PlannerOption {
	return func(p *Planner) {
		p.logger = logger
	}
}

// NewPlanner creates a planner for deployment backed by instances.
func NewPlanner(deployment *domain.Deployment, instances InstanceStore, opts ...PlannerOption) *Planner {
	p := &Planner{
		deployment: deployment,
		assigner:   NewIndexAssigner(deployment.ID, instances),
		factory:    NewInstancePlanFactory(deployment, instances),
		tie:        MinWins{},
		logger:     log.StandardLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// CreateInstancePlans places the desired instances of group, matches them
// with existing instances and persists the outcome on the instance records.
// Job networks without a network are bound by name from networks.
func (p *Planner) CreateInstancePlans(
	ctx context.Context,
	group *domain.InstanceGroup,
	desired []*domain.DesiredInstance,
	existing []*domain.Instance,
	networks []*domain.Network,
	azs []*domain.AvailabilityZone,
) ([]*InstancePlan, error) {
	if err := bindNetworks(group, networks); err != nil {
		return nil, err
	}
	if err := validateStaticIPCounts(group, len(desired)); err != nil {
		return nil, err
	}

	picker := NewPicker(group, azs, p.tie, p.logger.WithField("deployment", p.deployment.Name))
	plans, err := picker.PlaceAndMatchIn(desired, existing)
	if err != nil {
		return nil, err
	}

	for _, plan := range plans {
		if plan.IsObsolete() {
			plan.Instance = plan.Existing
			continue
		}

		index, err := p.assigner.AssignIndex(ctx, group.Name, plan.Existing)
		if err != nil {
			return nil, err
		}
		plan.Desired.Index = index

		if plan.IsNew() {
			plan.Instance, err = p.factory.CreateInstance(ctx, group, plan.Desired)
		} else {
			err = p.factory.UpdateExisting(ctx, group, plan.Desired, plan.Existing)
			plan.Instance = plan.Existing
		}
		if err != nil {
			return nil, err
		}

		for _, np := range plan.NetworkPlans {
			np.Reservation.Instance = plan.Instance
		}
	}

	p.logger.WithFields(log.Fields{
		"deployment":     p.deployment.Name,
		"instance_group": group.Name,
		"plans":          len(plans),
	}).Info("Created instance plans")
	return plans, nil
}

func bindNetworks(group *domain.InstanceGroup, networks []*domain.Network) error {
	for _, jn := range group.Networks {
		if jn.Network != nil {
			continue
		}
		for _, n := range networks {
			if n.Name == jn.Name {
				jn.Network = n
				break
			}
		}
		if jn.Network == nil {
			return domain.NewError(domain.ErrJobUnknownNetwork,
				"Instance group '%s' references an unknown network '%s'", group.Name, jn.Name)
		}
	}
	return nil
}

func validateStaticIPCounts(group *domain.InstanceGroup, instances int) error {
	for _, jn := range group.StaticNetworks() {
		if len(jn.StaticIPs) != instances {
			return domain.NewError(domain.ErrJobNetworkInstanceIPMismatch,
				"Instance group '%s' has %d instances but was allocated %d static IPs in network '%s'",
				group.Name, instances, len(jn.StaticIPs), jn.Name)
		}
	}
	return nil
}
