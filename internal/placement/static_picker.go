package placement

import (
	"slices"

	log "github.com/sirupsen/logrus"

	"github.com/jbweber/homelab/placer/internal/domain"
)

const distributeFailure = "Failed to distribute static IPs to satisfy existing instance reservations"

// staticIPPicker places instance groups that declare static IPs. The zone of
// every instance follows from the subnets its static IPs live in.
type staticIPPicker struct {
	group      *domain.InstanceGroup
	desiredAZs []*domain.AvailabilityZone
	logger     log.FieldLogger
}

func (p *staticIPPicker) PlaceAndMatchIn(desired []*domain.DesiredInstance, existing []*domain.Instance) ([]*InstancePlan, error) {
	ips, err := resolveStaticIPs(p.group, p.desiredAZs)
	if err != nil {
		return nil, err
	}
	if err := ips.validateAZsDeclared(); err != nil {
		return nil, err
	}
	if err := ips.validateIPsInDesiredAZs(); err != nil {
		return nil, err
	}
	if err := validateIgnoredNetworks(p.group, existing); err != nil {
		return nil, err
	}
	if err := p.validateIgnoredStaticIPs(existing); err != nil {
		return nil, err
	}

	remaining := append([]*domain.DesiredInstance(nil), desired...)

	plans, remaining, err := p.placeExisting(ips, remaining, existing)
	if err != nil {
		return nil, err
	}
	plans, err = p.placeNew(ips, remaining, plans)
	if err != nil {
		return nil, err
	}

	for _, plan := range plans {
		if plan.IsObsolete() && plan.ShouldBeIgnored() {
			return nil, p.removedIgnoredIPError()
		}
	}
	return plans, nil
}

func (p *staticIPPicker) validateIgnoredStaticIPs(existing []*domain.Instance) error {
	for _, inst := range existing {
		if !inst.Ignore {
			continue
		}
		for _, row := range inst.IPAddresses {
			jn := p.jobNetwork(row.NetworkName)
			if jn == nil || !jn.IsStatic() {
				continue
			}
			addr, ok := rowAddr(row)
			if !ok || !slices.Contains(jn.StaticIPs, addr) {
				return p.removedIgnoredIPError()
			}
		}
	}
	return nil
}

func (p *staticIPPicker) removedIgnoredIPError() error {
	return domain.NewError(domain.ErrDeploymentIgnoredInstancesModified,
		"In instance group '%s', an attempt was made to remove a static ip that is used by an ignored instance. This operation is not allowed.",
		p.group.Name)
}

func (p *staticIPPicker) jobNetwork(name string) *domain.JobNetwork {
	for _, jn := range p.group.Networks {
		if jn.Name == name {
			return jn
		}
	}
	return nil
}

func (p *staticIPPicker) placeExisting(ips *staticIPs, remaining []*domain.DesiredInstance, existing []*domain.Instance) ([]*InstancePlan, []*domain.DesiredInstance, error) {
	var plans []*InstancePlan

	// Instances holding one of the declared static IPs are kept first.
	for _, inst := range existing {
		plan, rest, err := p.planFromExistingIPs(ips, remaining, inst)
		if err != nil {
			return nil, nil, err
		}
		remaining = rest
		if plan != nil {
			plans = append(plans, plan)
		}
	}

	for _, inst := range existing {
		if hasPlanFor(plans, inst) {
			continue
		}
		var plan *InstancePlan
		plan, remaining = p.planInInstanceZone(ips, remaining, inst)
		plans = append(plans, plan)
	}

	for _, plan := range plans {
		if plan.IsObsolete() {
			continue
		}
		zone := azName(plan.Desired.AZ)
		for _, jn := range p.group.Networks {
			if !jn.IsStatic() {
				plan.NetworkPlans = append(plan.NetworkPlans, dynamicNetworkPlan(jn, plan.Existing, zone))
				continue
			}
			if plan.networkPlanFor(jn.Name) != nil {
				continue
			}
			ip := ips.firstAvailableIn(jn.Name, zone)
			if ip == nil {
				return nil, nil, domain.NewError(domain.ErrNetworkReservationError, distributeFailure)
			}
			ips.claim(ip, zone)
			plan.NetworkPlans = append(plan.NetworkPlans, staticNetworkPlan(jn, ip.addr))
		}
	}

	return plans, remaining, nil
}

// planFromExistingIPs matches an existing instance that already owns one of
// the declared static IPs. It returns nil when the instance owns none.
func (p *staticIPPicker) planFromExistingIPs(ips *staticIPs, remaining []*domain.DesiredInstance, inst *domain.Instance) (*InstancePlan, []*domain.DesiredInstance, error) {
	var plan *InstancePlan

	for _, jn := range p.group.StaticNetworks() {
		planned := false
		for _, row := range inst.IPAddresses {
			addr, ok := rowAddr(row)
			if !ok || !slices.Contains(jn.StaticIPs, addr) {
				continue
			}
			ip := ips.find(jn.Name, addr)
			p.logger.WithFields(log.Fields{
				"instance": inst.Name(),
				"address":  addr.String(),
				"network":  jn.Name,
			}).Debug("Existing instance is using static IP")

			if plan == nil {
				plan = &InstancePlan{Existing: inst}
				if len(remaining) > 0 {
					if !ip.usableIn(inst.AvailabilityZone) {
						return nil, nil, domain.NewError(domain.ErrNetworkReservationError,
							"Existing instance '%s' is using IP '%s' in availability zone '%s'",
							inst.Name(), addr, inst.AvailabilityZone)
					}
					plan.Desired = remaining[0]
					plan.Desired.AZ = findAZ(p.desiredAZs, inst.AvailabilityZone)
					remaining = remaining[1:]
				}
			}

			if plan.IsObsolete() {
				// obsolete instances must not influence distribution
				ips.remove(ip)
				continue
			}
			if !planned && ip.usableIn(inst.AvailabilityZone) {
				plan.NetworkPlans = append(plan.NetworkPlans, staticNetworkPlan(jn, addr))
				planned = true
			}
			ips.claim(ip, inst.AvailabilityZone)
		}
	}

	return plan, remaining, nil
}

// planInInstanceZone reuses an instance that holds none of the declared IPs
// when its zone still has a free static IP on every static network.
func (p *staticIPPicker) planInInstanceZone(ips *staticIPs, remaining []*domain.DesiredInstance, inst *domain.Instance) (*InstancePlan, []*domain.DesiredInstance) {
	logger := p.logger.WithField("instance", inst.Name())
	if len(remaining) == 0 {
		logger.Debug("Marking instance as obsolete")
		return &InstancePlan{Existing: inst}, remaining
	}

	zone := inst.AvailabilityZone
	for _, jn := range p.group.StaticNetworks() {
		if ips.firstAvailableIn(jn.Name, zone) == nil {
			logger.Debug("Marking instance as obsolete, not enough IPs in instance az")
			return &InstancePlan{Existing: inst}, remaining
		}
	}

	logger.Debug("Reusing instance with new IPs")
	plan := &InstancePlan{Desired: remaining[0], Existing: inst}
	plan.Desired.AZ = findAZ(p.desiredAZs, zone)
	for _, jn := range p.group.StaticNetworks() {
		ip := ips.firstAvailableIn(jn.Name, zone)
		ips.claim(ip, zone)
		plan.NetworkPlans = append(plan.NetworkPlans, staticNetworkPlan(jn, ip.addr))
	}
	return plan, remaining[1:]
}

func (p *staticIPPicker) placeNew(ips *staticIPs, remaining []*domain.DesiredInstance, plans []*InstancePlan) ([]*InstancePlan, error) {
	placed := make(map[string]int)
	for _, plan := range plans {
		if !plan.IsObsolete() {
			placed[azName(plan.Desired.AZ)]++
		}
	}

	if !ips.distribute(len(remaining), placed) {
		return nil, domain.NewError(domain.ErrJobNetworkInstanceIPMismatch,
			"Failed to evenly distribute static IPs between zones for instance group '%s'", p.group.Name)
	}

	for _, d := range remaining {
		plan := &InstancePlan{Desired: d}
		zone, zoneChosen := azName(d.AZ), d.AZ != nil

		for _, jn := range p.group.Networks {
			if !jn.IsStatic() {
				plan.NetworkPlans = append(plan.NetworkPlans, dynamicNetworkPlan(jn, nil, zone))
				continue
			}

			if !zoneChosen {
				next, ok := ips.nextForNewInstance()
				if !ok {
					return nil, domain.NewError(domain.ErrNetworkReservationError, distributeFailure)
				}
				zone, zoneChosen = next, true
				d.AZ = findAZ(p.desiredAZs, zone)
			}

			ip := ips.pinnedIn(jn.Name, zone)
			if ip == nil {
				return nil, domain.NewError(domain.ErrNetworkReservationError, distributeFailure)
			}
			p.logger.WithFields(log.Fields{
				"address": ip.addr.String(),
				"network": jn.Name,
				"az":      zone,
			}).Debug("Claiming static IP for new instance")
			ips.claim(ip, zone)
			plan.NetworkPlans = append(plan.NetworkPlans, staticNetworkPlan(jn, ip.addr))
		}
		plans = append(plans, plan)
	}
	return plans, nil
}

func hasPlanFor(plans []*InstancePlan, inst *domain.Instance) bool {
	for _, plan := range plans {
		if plan.Existing == inst {
			return true
		}
	}
	return false
}
