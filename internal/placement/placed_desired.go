package placement

import (
	"github.com/jbweber/homelab/placer/internal/domain"
)

// noZone keys instances and IPs that are not bound to an AZ.
const noZone = ""

func azName(az *domain.AvailabilityZone) string {
	if az == nil {
		return noZone
	}
	return az.Name
}

type placedPair struct {
	az       *domain.AvailabilityZone
	desired  *domain.DesiredInstance
	existing *domain.Instance
}

// placedDesired records placement decisions and reports the least loaded
// zones. azs is the preference order used for ties; a nil entry stands for
// the single implicit zone when AZs are not in use.
type placedDesired struct {
	azs    []*domain.AvailabilityZone
	counts map[string]int
	pairs  []placedPair
}

func newPlacedDesired(azs []*domain.AvailabilityZone) *placedDesired {
	if len(azs) == 0 {
		azs = []*domain.AvailabilityZone{nil}
	}
	return &placedDesired{azs: azs, counts: make(map[string]int)}
}

func (p *placedDesired) record(az *domain.AvailabilityZone, desired *domain.DesiredInstance, existing *domain.Instance) {
	desired.AZ = az
	p.counts[azName(az)]++
	p.pairs = append(p.pairs, placedPair{az: az, desired: desired, existing: existing})
}

// lookup returns the tracked AZ called name.
func (p *placedDesired) lookup(name string) (*domain.AvailabilityZone, bool) {
	for _, az := range p.azs {
		if azName(az) == name {
			return az, true
		}
	}
	return nil, false
}

// fewest returns the zones holding the fewest placements, in preference
// order.
func (p *placedDesired) fewest() []*domain.AvailabilityZone {
	var out []*domain.AvailabilityZone
	least := -1
	for _, az := range p.azs {
		n := p.counts[azName(az)]
		switch {
		case least == -1 || n < least:
			least = n
			out = []*domain.AvailabilityZone{az}
		case n == least:
			out = append(out, az)
		}
	}
	return out
}

func (p *placedDesired) existingPairs() []placedPair {
	var out []placedPair
	for _, pair := range p.pairs {
		if pair.existing != nil {
			out = append(out, pair)
		}
	}
	return out
}

func (p *placedDesired) newPairs() []placedPair {
	var out []placedPair
	for _, pair := range p.pairs {
		if pair.existing == nil {
			out = append(out, pair)
		}
	}
	return out
}
