package placement

import (
	"net/netip"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jbweber/homelab/placer/internal/domain"
	"github.com/jbweber/homelab/placer/internal/netaddr"
)

func zones(names ...string) []*domain.AvailabilityZone {
	var out []*domain.AvailabilityZone
	for _, name := range names {
		out = append(out, &domain.AvailabilityZone{Name: name})
	}
	return out
}

func expandAddrs(t testing.TB, entries ...string) []netip.Addr {
	t.Helper()
	var out []netip.Addr
	for _, entry := range entries {
		r, err := netaddr.ParseRange(entry)
		require.NoError(t, err)
		addrs, err := r.Expand(1024)
		require.NoError(t, err)
		out = append(out, addrs...)
	}
	return out
}

func subnet(t testing.TB, cidr string, azNames []string, static ...string) *domain.Subnet {
	t.Helper()
	prefix := netip.MustParsePrefix(cidr)
	return &domain.Subnet{
		Range:   prefix,
		Gateway: prefix.Addr().Next(),
		Static:  expandAddrs(t, static...),
		AZNames: azNames,
	}
}

func manual(name string, subnets ...*domain.Subnet) *domain.Network {
	return &domain.Network{Name: name, Type: domain.NetworkTypeManual, Subnets: subnets}
}

func jobNet(t testing.TB, n *domain.Network, static ...string) *domain.JobNetwork {
	t.Helper()
	return &domain.JobNetwork{Name: n.Name, Network: n, StaticIPs: expandAddrs(t, static...)}
}

func instanceGroup(instances int, networks ...*domain.JobNetwork) *domain.InstanceGroup {
	return &domain.InstanceGroup{
		Name:      "fake-instance-group",
		Instances: instances,
		Networks:  networks,
		VMType:    "small",
	}
}

func desiredFor(group *domain.InstanceGroup, n int) []*domain.DesiredInstance {
	deployment := &domain.Deployment{ID: 1, Name: "simple"}
	out := make([]*domain.DesiredInstance, n)
	for i := range out {
		out[i] = &domain.DesiredInstance{Group: group, Deployment: deployment}
	}
	return out
}

var nextInstanceID int64 = 1000

func existingInstance(index int, az string, disks ...string) *domain.Instance {
	nextInstanceID++
	inst := &domain.Instance{
		ID:               nextInstanceID,
		DeploymentID:     1,
		Job:              "fake-instance-group",
		Index:            index,
		AvailabilityZone: az,
	}
	for _, cid := range disks {
		inst.PersistentDisks = append(inst.PersistentDisks, domain.PersistentDisk{InstanceID: inst.ID, DiskCID: cid, Active: true})
	}
	return inst
}

// withIPs binds addresses to an instance, "network:address" each.
func withIPs(inst *domain.Instance, bindings ...string) *domain.Instance {
	for _, b := range bindings {
		network, addr, _ := strings.Cut(b, ":")
		id := inst.ID
		inst.IPAddresses = append(inst.IPAddresses, domain.IPAddress{
			Address:     addr + "/32",
			NetworkName: network,
			Static:      true,
			InstanceID:  &id,
		})
	}
	return inst
}

func newPlans(plans []*InstancePlan) []*InstancePlan {
	var out []*InstancePlan
	for _, p := range plans {
		if p.IsNew() {
			out = append(out, p)
		}
	}
	return out
}

func existingPlans(plans []*InstancePlan) []*InstancePlan {
	var out []*InstancePlan
	for _, p := range plans {
		if p.IsExisting() {
			out = append(out, p)
		}
	}
	return out
}

func obsoleteInstances(plans []*InstancePlan) []*domain.Instance {
	var out []*domain.Instance
	for _, p := range plans {
		if p.IsObsolete() {
			out = append(out, p.Existing)
		}
	}
	return out
}

func planZones(plans []*InstancePlan) []string {
	var out []string
	for _, p := range plans {
		out = append(out, p.AZName())
	}
	return out
}

func planIPs(plan *InstancePlan) []string {
	var out []string
	for _, np := range plan.NetworkPlans {
		if np.Reservation.Resolved() {
			out = append(out, np.Reservation.Addr().String())
		}
	}
	return out
}

func existingOf(plans []*InstancePlan) []*domain.Instance {
	var out []*domain.Instance
	for _, p := range plans {
		out = append(out, p.Existing)
	}
	return out
}
