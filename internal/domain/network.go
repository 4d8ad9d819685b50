package domain

import (
	"net/netip"
	"slices"

	"github.com/jbweber/homelab/placer/internal/netaddr"
)

// AvailabilityZone is a named placement domain
type AvailabilityZone struct {
	Name            string
	CloudProperties map[string]any
}

// NetworkType selects how addresses on a network are handed out
type NetworkType string

const (
	NetworkTypeManual  NetworkType = "manual"
	NetworkTypeDynamic NetworkType = "dynamic"
	NetworkTypeVIP     NetworkType = "vip"
)

// Network is a deployment network with its ordered subnets
type Network struct {
	Name    string
	Type    NetworkType
	Subnets []*Subnet
}

// FindSubnetContaining returns the first subnet whose range, or static pool
// for VIP networks, holds addr.
func (n *Network) FindSubnetContaining(addr netip.Addr) *Subnet {
	for _, s := range n.Subnets {
		if s.Contains(addr) {
			return s
		}
	}
	return nil
}

// SubnetsInAZ returns the subnets usable by an instance in az. An empty az
// matches every subnet.
func (n *Network) SubnetsInAZ(az string) []*Subnet {
	if az == "" {
		return n.Subnets
	}
	var out []*Subnet
	for _, s := range n.Subnets {
		if len(s.AZNames) == 0 || slices.Contains(s.AZNames, az) {
			out = append(out, s)
		}
	}
	return out
}

// Subnet is a contiguous address range plus its allocation metadata.
// VIP subnets have no Range and only use Static.
type Subnet struct {
	Range           netip.Prefix
	Gateway         netip.Addr
	Reserved        []netaddr.Range
	Static          []netip.Addr
	AZNames         []string
	Prefix          int // 0 means every reservation takes a single address
	DNS             []string
	CloudProperties map[string]any
}

// Contains reports whether addr belongs to the subnet.
func (s *Subnet) Contains(addr netip.Addr) bool {
	if s.Range.IsValid() {
		return s.Range.Contains(addr)
	}
	return s.IsStatic(addr)
}

// IsReserved reports whether addr falls in one of the reserved ranges.
func (s *Subnet) IsReserved(addr netip.Addr) bool {
	for _, r := range s.Reserved {
		if r.Contains(addr) {
			return true
		}
	}
	return false
}

// IsStatic reports whether addr is in the static pool.
func (s *Subnet) IsStatic(addr netip.Addr) bool {
	return slices.Contains(s.Static, addr)
}

// BlockBits is the prefix length of one reservation on this subnet.
func (s *Subnet) BlockBits() int {
	if s.Prefix > 0 {
		return s.Prefix
	}
	if s.Range.IsValid() {
		return s.Range.Addr().BitLen()
	}
	if len(s.Static) > 0 {
		return s.Static[0].BitLen()
	}
	return 32
}

// JobNetwork is an instance group's view of a network
type JobNetwork struct {
	Name      string
	StaticIPs []netip.Addr
	Default   []string
	Network   *Network
}

// IsStatic reports whether the instance group pins addresses on this network.
func (n *JobNetwork) IsStatic() bool {
	return len(n.StaticIPs) > 0
}

// InstanceGroup is the manifest-level description of a job
type InstanceGroup struct {
	Name               string
	Instances          int
	AZNames            []string // nil when AZs are not in use
	Networks           []*JobNetwork
	VMType             string
	VMExtensions       []string
	PersistentDiskSize int
}

// StaticNetworks returns the job networks that declare static IPs.
func (g *InstanceGroup) StaticNetworks() []*JobNetwork {
	var out []*JobNetwork
	for _, n := range g.Networks {
		if n.IsStatic() {
			out = append(out, n)
		}
	}
	return out
}

// HasStaticNetworks selects between the two placement strategies.
func (g *InstanceGroup) HasStaticNetworks() bool {
	return len(g.StaticNetworks()) > 0
}

// DesiredInstance is a slot the manifest wants filled
type DesiredInstance struct {
	Group      *InstanceGroup
	Deployment *Deployment
	AZ         *AvailabilityZone // set by a picker
	Index      int               // set by the placement plan
}

// AZName returns the assigned zone name or the empty string.
func (d *DesiredInstance) AZName() string {
	if d.AZ == nil {
		return ""
	}
	return d.AZ.Name
}
