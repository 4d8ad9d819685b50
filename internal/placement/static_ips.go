package placement

import (
	"net/netip"
	"slices"
	"strconv"
	"strings"

	"github.com/jbweber/homelab/placer/internal/domain"
)

// maxDistributionNodes bounds the search for an even static IP distribution.
const maxDistributionNodes = 1 << 16

// staticIP is one declared static address and the zones it may serve.
type staticIP struct {
	addr      netip.Addr
	subnetAZs []string // AZ names declared on the owning subnet
	zones     []string // candidate zones narrowed to the desired AZs
	claimed   bool
	zone      string // zone it was claimed in
	assigned  bool
	target    string // zone chosen by distribute
	deleted   bool
}

func (ip *staticIP) available() bool {
	return !ip.claimed && !ip.deleted
}

func (ip *staticIP) usableIn(zone string) bool {
	return slices.Contains(ip.zones, zone)
}

// staticIPs maps every static IP of an instance group to its candidate zones
type staticIPs struct {
	group     string
	zoned     bool
	zones     []string
	networks  []*domain.JobNetwork
	byNetwork map[string][]*staticIP
}

// resolveStaticIPs builds the IP to zone table for the static networks of
// group. desiredAZs is empty when AZs are not in use.
func resolveStaticIPs(group *domain.InstanceGroup, desiredAZs []*domain.AvailabilityZone) (*staticIPs, error) {
	s := &staticIPs{
		group:     group.Name,
		zoned:     len(desiredAZs) > 0,
		networks:  group.StaticNetworks(),
		byNetwork: make(map[string][]*staticIP),
	}
	for _, az := range desiredAZs {
		s.zones = append(s.zones, az.Name)
	}
	if !s.zoned {
		s.zones = []string{noZone}
	}

	for _, jn := range s.networks {
		for _, addr := range jn.StaticIPs {
			var subnet *domain.Subnet
			if jn.Network != nil {
				subnet = jn.Network.FindSubnetContaining(addr)
			}
			if subnet == nil {
				return nil, domain.NewError(domain.ErrJobNetworkInstanceIPMismatch,
					"Instance group '%s' with network '%s' declares static ip '%s', which belongs to no subnet",
					group.Name, jn.Name, addr)
			}

			ip := &staticIP{addr: addr, subnetAZs: subnet.AZNames}
			if s.zoned {
				for _, zone := range s.zones {
					if slices.Contains(subnet.AZNames, zone) {
						ip.zones = append(ip.zones, zone)
					}
				}
			} else {
				ip.zones = []string{noZone}
			}
			s.byNetwork[jn.Name] = append(s.byNetwork[jn.Name], ip)
		}
	}
	return s, nil
}

// validateAZsDeclared rejects a zone-agnostic group whose static IPs live in
// zone-pinned subnets.
func (s *staticIPs) validateAZsDeclared() error {
	if s.zoned {
		return nil
	}
	for _, jn := range s.networks {
		for _, ip := range s.byNetwork[jn.Name] {
			if len(ip.subnetAZs) > 0 {
				return domain.NewError(domain.ErrJobInvalidAvailabilityZone,
					"Instance group '%s' subnets declare availability zones and the instance group does not", s.group)
			}
		}
	}
	return nil
}

func (s *staticIPs) validateIPsInDesiredAZs() error {
	if !s.zoned {
		return nil
	}
	for _, jn := range s.networks {
		for _, ip := range s.byNetwork[jn.Name] {
			if len(ip.zones) == 0 {
				return domain.NewError(domain.ErrJobStaticIPsFromInvalidAZ,
					"Instance group '%s' declares static ip '%s' which does not belong to any of the instance group's availability zones",
					s.group, ip.addr)
			}
		}
	}
	return nil
}

func (s *staticIPs) find(network string, addr netip.Addr) *staticIP {
	for _, ip := range s.byNetwork[network] {
		if ip.addr == addr {
			return ip
		}
	}
	return nil
}

// firstAvailableIn returns the first unclaimed IP on network usable in zone.
func (s *staticIPs) firstAvailableIn(network, zone string) *staticIP {
	for _, ip := range s.byNetwork[network] {
		if ip.available() && ip.usableIn(zone) {
			return ip
		}
	}
	return nil
}

func (s *staticIPs) claim(ip *staticIP, zone string) {
	ip.claimed = true
	ip.zone = zone
}

// remove takes an IP out of play, used for addresses held by obsolete
// instances.
func (s *staticIPs) remove(ip *staticIP) {
	ip.deleted = true
}

// distribute chooses how many of needed new instances go to each zone and
// pins the unclaimed IPs of every static network to those zones. placed
// holds the instances already living in each zone. Zones with fewer
// instances are tried first; the search is bounded and deterministic.
func (s *staticIPs) distribute(needed int, placed map[string]int) bool {
	if needed == 0 {
		return true
	}

	flows := make([]*zoneFlow, 0, len(s.networks))
	for _, jn := range s.networks {
		flows = append(flows, newZoneFlow(s.availableOn(jn.Name)))
	}

	quota := make(map[string]int, len(s.zones))
	visited := make(map[string]bool)
	nodes := 0

	var search func(remaining int) bool
	search = func(remaining int) bool {
		if remaining == 0 {
			return true
		}
		for _, zone := range s.zonesByLoad(quota, placed) {
			quota[zone]++
			key := s.quotaKey(quota)
			if !visited[key] && nodes < maxDistributionNodes {
				visited[key] = true
				nodes++
				if extend(flows, zone) {
					if search(remaining - 1) {
						return true
					}
					for _, f := range flows {
						f.shrink(zone)
					}
				}
			}
			quota[zone]--
		}
		return false
	}

	if !search(needed) {
		return false
	}
	for _, f := range flows {
		f.assign()
	}
	return true
}

// extend grows every network's flow by one slot in zone, undoing the
// networks already grown when one of them cannot follow.
func extend(flows []*zoneFlow, zone string) bool {
	for i, f := range flows {
		if !f.grow(zone) {
			for _, done := range flows[:i] {
				done.shrink(zone)
			}
			return false
		}
	}
	return true
}

// nextForNewInstance picks the zone of the next new instance: the target of
// the first pinned IP on the first static network.
func (s *staticIPs) nextForNewInstance() (string, bool) {
	if len(s.networks) == 0 {
		return "", false
	}
	for _, ip := range s.byNetwork[s.networks[0].Name] {
		if ip.available() && ip.assigned {
			return ip.target, true
		}
	}
	return "", false
}

// pinnedIn returns the first unclaimed IP on network pinned to zone,
// falling back to any unclaimed IP usable there.
func (s *staticIPs) pinnedIn(network, zone string) *staticIP {
	for _, ip := range s.byNetwork[network] {
		if ip.available() && ip.assigned && ip.target == zone {
			return ip
		}
	}
	return s.firstAvailableIn(network, zone)
}

func (s *staticIPs) availableOn(network string) []*staticIP {
	var out []*staticIP
	for _, ip := range s.byNetwork[network] {
		if ip.available() {
			out = append(out, ip)
		}
	}
	return out
}

func (s *staticIPs) zonesByLoad(quota, placed map[string]int) []string {
	zones := append([]string(nil), s.zones...)
	slices.SortStableFunc(zones, func(a, b string) int {
		return (placed[a] + quota[a]) - (placed[b] + quota[b])
	})
	return zones
}

func (s *staticIPs) quotaKey(quota map[string]int) string {
	parts := make([]string, len(s.zones))
	for i, zone := range s.zones {
		parts[i] = strconv.Itoa(quota[zone])
	}
	return strings.Join(parts, ",")
}

// ipClass groups the IPs of a network that share the same candidate zones.
type ipClass struct {
	zones []string
	ips   []*staticIP
	used  int
	sent  map[string]int
}

// zoneFlow keeps a matching of zone slots to the IPs of one network as a
// flow from IP classes to zones. Every slot added so far is covered, so a
// new slot only needs one augmenting path.
type zoneFlow struct {
	classes []*ipClass
}

func newZoneFlow(ips []*staticIP) *zoneFlow {
	f := &zoneFlow{}
	byKey := make(map[string]*ipClass)
	for _, ip := range ips {
		key := strings.Join(ip.zones, ",")
		c, ok := byKey[key]
		if !ok {
			c = &ipClass{zones: ip.zones, sent: make(map[string]int)}
			byKey[key] = c
			f.classes = append(f.classes, c)
		}
		c.ips = append(c.ips, ip)
	}
	return f
}

// grow covers one more slot in zone, rerouting earlier slots along an
// augmenting path when no free IP can serve it directly.
func (f *zoneFlow) grow(zone string) bool {
	reached := make(map[*ipClass]bool)
	viaZone := make(map[*ipClass]string)
	viaClass := make(map[string]*ipClass)

	var queue []*ipClass
	for _, c := range f.classes {
		if c.used < len(c.ips) {
			reached[c] = true
			queue = append(queue, c)
		}
	}

	for len(queue) > 0 {
		c := queue[0]
		queue = queue[1:]
		for _, z := range c.zones {
			if _, seen := viaClass[z]; seen {
				continue
			}
			viaClass[z] = c
			if z == zone {
				f.apply(zone, viaZone, viaClass)
				return true
			}
			for _, other := range f.classes {
				if reached[other] || other.sent[z] == 0 {
					continue
				}
				reached[other] = true
				viaZone[other] = z
				queue = append(queue, other)
			}
		}
	}
	return false
}

// apply walks the augmenting path back from zone. Classes without a
// viaZone entry had a free IP and start the path.
func (f *zoneFlow) apply(zone string, viaZone map[*ipClass]string, viaClass map[string]*ipClass) {
	z := zone
	for {
		c := viaClass[z]
		c.sent[z]++
		prev, rerouted := viaZone[c]
		if !rerouted {
			c.used++
			return
		}
		c.sent[prev]--
		z = prev
	}
}

// shrink drops one covered slot from zone.
func (f *zoneFlow) shrink(zone string) {
	for i := len(f.classes) - 1; i >= 0; i-- {
		c := f.classes[i]
		if c.sent[zone] > 0 {
			c.sent[zone]--
			c.used--
			return
		}
	}
}

// assign pins the IPs of every class to the zones the flow sends them to,
// in declaration order.
func (f *zoneFlow) assign() {
	for _, c := range f.classes {
		next := 0
		for _, z := range c.zones {
			for n := c.sent[z]; n > 0; n-- {
				ip := c.ips[next]
				ip.assigned = true
				ip.target = z
				next++
			}
		}
	}
}
