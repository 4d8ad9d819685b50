package placement

import (
	"encoding/json"
	"slices"

	log "github.com/sirupsen/logrus"

	"github.com/jbweber/homelab/placer/internal/domain"
)

// dynamicPicker places instance groups that have no static IPs. Instances
// with persistent disks stay in their zone, everything else is spread over
// the least loaded zones.
type dynamicPicker struct {
	group      *domain.InstanceGroup
	desiredAZs []*domain.AvailabilityZone
	tie        TieStrategy
	logger     log.FieldLogger
}

func (p *dynamicPicker) PlaceAndMatchIn(desired []*domain.DesiredInstance, existing []*domain.Instance) ([]*InstancePlan, error) {
	if err := validateIgnoredNetworks(p.group, existing); err != nil {
		return nil, err
	}

	zoned := len(p.desiredAZs) > 0
	pool := newUnplacedExisting(existing, zoned)
	placed := newPlacedDesired(pool.azsByPopulation(p.desiredAZs))
	remaining := append([]*domain.DesiredInstance(nil), desired...)

	remaining, err := p.placeIgnored(pool, placed, remaining)
	if err != nil {
		return nil, err
	}

	for _, inst := range pool.withPersistentDisk() {
		if len(remaining) == 0 {
			break
		}
		az, ok := placed.lookup(pool.zoneOf(inst))
		if !ok {
			continue
		}
		pool.claim(inst)
		placed.record(az, remaining[0], inst)
		p.logger.WithFields(log.Fields{"instance": inst.Name(), "az": azName(az)}).
			Debug("Keeping instance with persistent disk in its zone")
		remaining = remaining[1:]
	}

	for _, d := range remaining {
		az := p.tie.Pick(placed.fewest())
		inst, _ := pool.claimInZone(azName(az))
		placed.record(az, d, inst)
	}

	var plans []*InstancePlan
	for _, pair := range placed.existingPairs() {
		plans = append(plans, p.plan(pair.desired, pair.existing))
	}
	for _, pair := range placed.newPairs() {
		plans = append(plans, p.plan(pair.desired, nil))
	}
	for _, inst := range pool.unclaimed() {
		p.logger.WithField("instance", inst.Name()).Debug("Marking instance as obsolete")
		plans = append(plans, &InstancePlan{Existing: inst})
	}
	return plans, nil
}

// placeIgnored pins ignored instances to their current zone before anything
// else is placed.
func (p *dynamicPicker) placeIgnored(pool *unplacedExisting, placed *placedDesired, remaining []*domain.DesiredInstance) ([]*domain.DesiredInstance, error) {
	ignored := pool.ignored()
	if len(ignored) == 0 {
		return remaining, nil
	}

	var missing []string
	for _, inst := range ignored {
		if _, ok := placed.lookup(pool.zoneOf(inst)); !ok && !slices.Contains(missing, inst.AvailabilityZone) {
			missing = append(missing, inst.AvailabilityZone)
		}
	}
	if len(missing) > 0 {
		names, _ := json.Marshal(missing)
		return nil, domain.NewError(domain.ErrDeploymentIgnoredInstancesModified,
			"Instance Group '%s' no longer contains AZs %s where ignored instance(s) exist.", p.group.Name, names)
	}

	if len(ignored) > len(remaining) {
		return nil, domain.NewError(domain.ErrDeploymentIgnoredInstancesDeletion,
			"Instance Group '%s' has %d ignored instance(s). %d instance(s) of that instance group were requested. Deleting ignored instances is not allowed.",
			p.group.Name, len(ignored), len(remaining))
	}

	for _, inst := range ignored {
		az, _ := placed.lookup(pool.zoneOf(inst))
		pool.claim(inst)
		placed.record(az, remaining[0], inst)
		remaining = remaining[1:]
	}
	return remaining, nil
}

func (p *dynamicPicker) plan(d *domain.DesiredInstance, existing *domain.Instance) *InstancePlan {
	plan := &InstancePlan{Desired: d, Existing: existing}
	for _, jn := range p.group.Networks {
		plan.NetworkPlans = append(plan.NetworkPlans, dynamicNetworkPlan(jn, existing, d.AZName()))
	}
	return plan
}
