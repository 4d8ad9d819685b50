package manifest

import (
	"fmt"
	"net/netip"
	"slices"

	"github.com/jbweber/homelab/placer/internal/domain"
	"github.com/jbweber/homelab/placer/internal/netaddr"
)

// maxPoolSize caps how many addresses a single static entry may expand to.
const maxPoolSize = 1 << 16

// Deployment is a manifest resolved into domain objects
type Deployment struct {
	Name           string
	AZs            []*domain.AvailabilityZone
	Networks       []*domain.Network
	InstanceGroups []*domain.InstanceGroup
}

// Build resolves networks, subnets and instance groups. Job networks are
// bound to their network.
func (m *Manifest) Build() (*Deployment, error) {
	d := &Deployment{Name: m.Name}
	for _, az := range m.AZs {
		d.AZs = append(d.AZs, &domain.AvailabilityZone{Name: az.Name, CloudProperties: az.CloudProperties})
	}

	for _, n := range m.Networks {
		network, err := d.buildNetwork(n)
		if err != nil {
			return nil, err
		}
		d.Networks = append(d.Networks, network)
	}

	for _, g := range m.InstanceGroups {
		group, err := d.buildInstanceGroup(g)
		if err != nil {
			return nil, err
		}
		d.InstanceGroups = append(d.InstanceGroups, group)
	}
	return d, nil
}

// AZsFor returns the zones an instance group is spread over, in the order the
// group lists them. Nil means the group does not use zones.
func (d *Deployment) AZsFor(group *domain.InstanceGroup) []*domain.AvailabilityZone {
	var out []*domain.AvailabilityZone
	for _, name := range group.AZNames {
		if az := d.findAZ(name); az != nil {
			out = append(out, az)
		}
	}
	return out
}

// Network looks a network up by name.
func (d *Deployment) Network(name string) *domain.Network {
	for _, n := range d.Networks {
		if n.Name == name {
			return n
		}
	}
	return nil
}

func (d *Deployment) findAZ(name string) *domain.AvailabilityZone {
	for _, az := range d.AZs {
		if az.Name == name {
			return az
		}
	}
	return nil
}

func (d *Deployment) buildNetwork(n Network) (*domain.Network, error) {
	network := &domain.Network{Name: n.Name, Type: domain.NetworkType(n.Type)}
	if network.Type == "" {
		network.Type = domain.NetworkTypeManual
	}

	for _, s := range n.Subnets {
		azs, err := d.subnetAZs(n.Name, s)
		if err != nil {
			return nil, err
		}

		var subnet *domain.Subnet
		switch network.Type {
		case domain.NetworkTypeManual:
			subnet, err = buildManualSubnet(n.Name, s)
		case domain.NetworkTypeVIP:
			subnet, err = buildVIPSubnet(n.Name, s)
		default:
			subnet = &domain.Subnet{DNS: s.DNS}
		}
		if err != nil {
			return nil, err
		}
		subnet.AZNames = azs
		subnet.CloudProperties = s.CloudProperties
		network.Subnets = append(network.Subnets, subnet)
	}
	return network, nil
}

func (d *Deployment) subnetAZs(network string, s Subnet) ([]string, error) {
	if s.AZ != "" && len(s.AZs) > 0 {
		return nil, domain.NewError(domain.ErrNetworkInvalidProperty,
			"Network '%s' contains both 'az' and 'azs'. Choose one.", network)
	}
	azs := s.AZs
	if s.AZ != "" {
		azs = []string{s.AZ}
	}
	for _, name := range azs {
		if d.findAZ(name) == nil {
			return nil, domain.NewError(domain.ErrNetworkSubnetUnknownAvailabilityZone,
				"Network '%s' refers to an unknown availability zone '%s'", network, name)
		}
	}
	return azs, nil
}

func buildManualSubnet(network string, s Subnet) (*domain.Subnet, error) {
	if s.Range == "" {
		return nil, domain.NewError(domain.ErrNetworkInvalidRange, "Network '%s' subnet is missing a range", network)
	}
	prefix, err := netaddr.ParsePrefix(s.Range)
	if err != nil {
		return nil, domain.NewError(domain.ErrNetworkInvalidRange,
			"Network '%s' has invalid range '%s': %v", network, s.Range, err)
	}
	span := netaddr.RangeOf(prefix)

	subnet := &domain.Subnet{Range: prefix, Prefix: s.Prefix, DNS: s.DNS}

	if err := validateGateway(network, s.Gateway, prefix, span); err != nil {
		return nil, err
	}
	if s.Gateway != "" {
		subnet.Gateway, _ = netaddr.ParseAddr(s.Gateway)
	}

	for _, entry := range s.Reserved {
		r, err := netaddr.ParseRange(entry)
		if err != nil {
			return nil, domain.NewError(domain.ErrNetworkReservedIPOutOfRange,
				"Network '%s' has invalid reserved range '%s': %v", network, entry, err)
		}
		if !span.Contains(r.First) || !span.Contains(r.Last) {
			return nil, domain.NewError(domain.ErrNetworkReservedIPOutOfRange,
				"Reserved IP '%s' is out of network '%s' range", outside(span, r), network)
		}
		subnet.Reserved = append(subnet.Reserved, r)
	}

	for _, entry := range s.Static {
		r, err := netaddr.ParseRange(entry)
		if err != nil {
			return nil, domain.NewError(domain.ErrNetworkStaticIPOutOfRange,
				"Network '%s' has invalid static range '%s': %v", network, entry, err)
		}
		if !span.Contains(r.First) || !span.Contains(r.Last) {
			return nil, domain.NewError(domain.ErrNetworkStaticIPOutOfRange,
				"Static IP '%s' is out of network '%s' range", outside(span, r), network)
		}
		addrs, err := r.Expand(maxPoolSize)
		if err != nil {
			return nil, domain.NewError(domain.ErrNetworkStaticIPOutOfRange, "Network '%s': %v", network, err)
		}
		for _, a := range addrs {
			if subnet.IsReserved(a) {
				return nil, domain.NewError(domain.ErrNetworkStaticIPOutOfRange,
					"Static IP '%s' is in network '%s' reserved range", a, network)
			}
			if !subnet.IsStatic(a) {
				subnet.Static = append(subnet.Static, a)
			}
		}
	}

	if s.Prefix != 0 && (s.Prefix < prefix.Bits() || s.Prefix > prefix.Addr().BitLen()) {
		return nil, domain.NewError(domain.ErrNetworkInvalidProperty,
			"Prefix property on network '%s' must be between %d and %d, got %d",
			network, prefix.Bits(), prefix.Addr().BitLen(), s.Prefix)
	}
	return subnet, nil
}

func validateGateway(network, gateway string, prefix netip.Prefix, span netaddr.Range) error {
	if gateway == "" {
		return domain.NewError(domain.ErrNetworkInvalidGateway, "Network '%s' subnet is missing a gateway", network)
	}
	if _, err := netip.ParsePrefix(gateway); err == nil {
		return domain.NewError(domain.ErrNetworkInvalidGateway, "Network '%s' gateway must be a single IP", network)
	}
	gw, err := netaddr.ParseAddr(gateway)
	if err != nil {
		return domain.NewError(domain.ErrNetworkInvalidGateway, "Network '%s' gateway is invalid: %v", network, err)
	}
	switch {
	case !prefix.Contains(gw):
		return domain.NewError(domain.ErrNetworkInvalidGateway, "Network '%s' gateway must be inside the range", network)
	case gw == span.First:
		return domain.NewError(domain.ErrNetworkInvalidGateway, "Network '%s' gateway can't be the network id", network)
	case gw.Is4() && gw == span.Last:
		return domain.NewError(domain.ErrNetworkInvalidGateway, "Network '%s' gateway can't be the broadcast IP", network)
	}
	return nil
}

// outside returns the endpoint of r that falls out of span.
func outside(span, r netaddr.Range) netip.Addr {
	if !span.Contains(r.First) {
		return r.First
	}
	return r.Last
}

func buildVIPSubnet(network string, s Subnet) (*domain.Subnet, error) {
	subnet := &domain.Subnet{DNS: s.DNS}
	for _, entry := range s.Static {
		r, err := netaddr.ParseRange(entry)
		if err != nil {
			return nil, domain.NewError(domain.ErrNetworkStaticIPOutOfRange,
				"Network '%s' has invalid static range '%s': %v", network, entry, err)
		}
		addrs, err := r.Expand(maxPoolSize)
		if err != nil {
			return nil, domain.NewError(domain.ErrNetworkStaticIPOutOfRange, "Network '%s': %v", network, err)
		}
		for _, a := range addrs {
			if !slices.Contains(subnet.Static, a) {
				subnet.Static = append(subnet.Static, a)
			}
		}
	}
	return subnet, nil
}

func (d *Deployment) buildInstanceGroup(g InstanceGroup) (*domain.InstanceGroup, error) {
	group := &domain.InstanceGroup{
		Name:               g.Name,
		Instances:          g.Instances,
		VMType:             g.VMType,
		VMExtensions:       g.VMExtensions,
		PersistentDiskSize: g.PersistentDiskSize,
	}

	for _, name := range g.AZs {
		if d.findAZ(name) == nil {
			return nil, domain.NewError(domain.ErrJobInvalidAvailabilityZone,
				"Instance group '%s' references unknown availability zone '%s'", g.Name, name)
		}
		group.AZNames = append(group.AZNames, name)
	}

	for _, jn := range g.Networks {
		network := d.Network(jn.Name)
		if network == nil {
			return nil, fmt.Errorf("%w: instance group '%s' references unknown network '%s'",
				ErrInvalidManifest, g.Name, jn.Name)
		}

		jobNetwork := &domain.JobNetwork{Name: jn.Name, Default: jn.Default, Network: network}
		for _, entry := range jn.StaticIPs {
			r, err := netaddr.ParseRange(entry)
			if err != nil {
				return nil, fmt.Errorf("%w: instance group '%s' network '%s': %v", ErrInvalidManifest, g.Name, jn.Name, err)
			}
			addrs, err := r.Expand(maxPoolSize)
			if err != nil {
				return nil, fmt.Errorf("%w: instance group '%s' network '%s': %v", ErrInvalidManifest, g.Name, jn.Name, err)
			}
			jobNetwork.StaticIPs = append(jobNetwork.StaticIPs, addrs...)
		}
		group.Networks = append(group.Networks, jobNetwork)
	}
	return group, nil
}
