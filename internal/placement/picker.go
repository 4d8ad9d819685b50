package placement

import (
	"net/netip"
	"slices"
	"sort"

	log "github.com/sirupsen/logrus"

	"github.com/jbweber/homelab/placer/internal/domain"
	"github.com/jbweber/homelab/placer/internal/netaddr"
)

// Picker assigns zones to desired instances and matches them with existing
// instances. Every existing instance ends up in exactly one plan.
type Picker interface {
	PlaceAndMatchIn(desired []*domain.DesiredInstance, existing []*domain.Instance) ([]*InstancePlan, error)
}

// Strategy tags the two placement algorithms.
type Strategy int

const (
	// DynamicPlacement balances instances across zones, keeping disks where
	// they are.
	DynamicPlacement Strategy = iota
	// StaticIPPlacement lets the zones of declared static IPs decide.
	StaticIPPlacement
)

func (s Strategy) String() string {
	switch s {
	case DynamicPlacement:
		return "dynamic"
	case StaticIPPlacement:
		return "static-ip"
	default:
		return "unknown"
	}
}

// StrategyFor selects the strategy for an instance group.
func StrategyFor(group *domain.InstanceGroup) Strategy {
	if group.HasStaticNetworks() {
		return StaticIPPlacement
	}
	return DynamicPlacement
}

// NewPicker returns the picker implementing the group's strategy.
func NewPicker(group *domain.InstanceGroup, azs []*domain.AvailabilityZone, tie TieStrategy, logger log.FieldLogger) Picker {
	if tie == nil {
		tie = MinWins{}
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	logger = logger.WithFields(log.Fields{
		"instance_group": group.Name,
		"strategy":       StrategyFor(group).String(),
	})

	switch StrategyFor(group) {
	case StaticIPPlacement:
		return &staticIPPicker{group: group, desiredAZs: azs, logger: logger}
	default:
		return &dynamicPicker{group: group, desiredAZs: azs, tie: tie, logger: logger}
	}
}

// validateIgnoredNetworks rejects changes to the network set of an instance
// the operator asked to leave alone. Dynamic networks persist no addresses
// and do not take part in the comparison.
func validateIgnoredNetworks(group *domain.InstanceGroup, existing []*domain.Instance) error {
	var desired []string
	for _, jn := range group.Networks {
		if jn.Network != nil && jn.Network.Type == domain.NetworkTypeDynamic {
			continue
		}
		desired = append(desired, jn.Name)
	}
	desired = sortedUnique(desired)

	for _, inst := range existing {
		if !inst.Ignore {
			continue
		}
		var current []string
		for _, row := range inst.IPAddresses {
			current = append(current, row.NetworkName)
		}
		if !slices.Equal(desired, sortedUnique(current)) {
			return domain.NewError(domain.ErrDeploymentIgnoredInstancesModified,
				"In instance group '%s', which contains ignored vms, an attempt was made to modify the networks. This operation is not allowed.",
				group.Name)
		}
	}
	return nil
}

func sortedUnique(names []string) []string {
	out := append([]string(nil), names...)
	sort.Strings(out)
	return slices.Compact(out)
}

func rowAddr(row domain.IPAddress) (netip.Addr, bool) {
	prefix, err := netaddr.ParsePrefix(row.Address)
	if err != nil {
		return netip.Addr{}, false
	}
	return prefix.Addr(), true
}

func findAZ(azs []*domain.AvailabilityZone, name string) *domain.AvailabilityZone {
	for _, az := range azs {
		if az.Name == name {
			return az
		}
	}
	return nil
}
