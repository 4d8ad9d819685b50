package placement

import (
	"net/netip"

	"github.com/jbweber/homelab/placer/internal/domain"
	"github.com/jbweber/homelab/placer/internal/netaddr"
)

// InstancePlan is the placement decision for one instance slot
type InstancePlan struct {
	Desired      *domain.DesiredInstance // nil when the existing instance is obsolete
	Existing     *domain.Instance        // nil when a new instance is created
	Instance     *domain.Instance        // record the plan acts on, bound by the Planner
	NetworkPlans []*NetworkPlan
}

// NetworkPlan binds a job network to the reservation the instance needs on it
type NetworkPlan struct {
	JobNetwork  *domain.JobNetwork
	Reservation *domain.Reservation
}

// IsNew reports whether the plan creates an instance.
func (p *InstancePlan) IsNew() bool {
	return p.Existing == nil
}

// IsObsolete reports whether the plan retires an existing instance.
func (p *InstancePlan) IsObsolete() bool {
	return p.Desired == nil
}

// IsExisting reports whether the plan reuses an existing instance.
func (p *InstancePlan) IsExisting() bool {
	return p.Existing != nil && p.Desired != nil
}

// ShouldBeIgnored reports whether the operator pinned the existing instance.
func (p *InstancePlan) ShouldBeIgnored() bool {
	return p.Existing != nil && p.Existing.Ignore
}

// AZName returns the zone the plan lands in. Obsolete plans report the zone
// they are leaving.
func (p *InstancePlan) AZName() string {
	if p.Desired != nil {
		return p.Desired.AZName()
	}
	if p.Existing != nil {
		return p.Existing.AvailabilityZone
	}
	return ""
}

func (p *InstancePlan) networkPlanFor(name string) *NetworkPlan {
	for _, np := range p.NetworkPlans {
		if np.JobNetwork.Name == name {
			return np
		}
	}
	return nil
}

func staticNetworkPlan(jn *domain.JobNetwork, ip netip.Addr) *NetworkPlan {
	return &NetworkPlan{
		JobNetwork:  jn,
		Reservation: domain.NewStaticReservation(nil, jn.Network, ip),
	}
}

// dynamicNetworkPlan plans a non-static network. An address the existing
// instance already holds on that network is kept when it is still valid in
// az.
func dynamicNetworkPlan(jn *domain.JobNetwork, existing *domain.Instance, az string) *NetworkPlan {
	res := domain.NewDynamicReservation(nil, jn.Network)
	if ip, ok := reusableAddress(jn, existing, az); ok {
		res.Resolve(ip)
	}
	return &NetworkPlan{JobNetwork: jn, Reservation: res}
}

func reusableAddress(jn *domain.JobNetwork, existing *domain.Instance, az string) (netip.Prefix, bool) {
	if existing == nil || jn.Network == nil || jn.Network.Type == domain.NetworkTypeDynamic {
		return netip.Prefix{}, false
	}

	for _, row := range existing.IPAddresses {
		if row.NetworkName != jn.Network.Name {
			continue
		}
		prefix, err := netaddr.ParsePrefix(row.Address)
		if err != nil {
			continue
		}
		addr := prefix.Addr()
		for _, subnet := range jn.Network.SubnetsInAZ(az) {
			if !subnet.Contains(addr) {
				continue
			}
			if jn.Network.Type == domain.NetworkTypeVIP {
				return prefix, true
			}
			if subnet.IsReserved(addr) || subnet.IsStatic(addr) || prefix.Bits() != subnet.BlockBits() {
				continue
			}
			return prefix, true
		}
	}
	return netip.Prefix{}, false
}
