package placement

import (
	"sort"

	"github.com/jbweber/homelab/placer/internal/domain"
)

// unplacedExisting is the pool of existing instances that have not been
// matched to a desired instance yet. Instances are grouped by zone and kept
// in index order. When AZs are not in use every instance lives in the
// no-zone group.
type unplacedExisting struct {
	zoned     bool
	instances []*domain.Instance
	byZone    map[string][]*domain.Instance
	claimed   map[*domain.Instance]bool
}

func newUnplacedExisting(existing []*domain.Instance, zoned bool) *unplacedExisting {
	sorted := append([]*domain.Instance(nil), existing...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })

	u := &unplacedExisting{
		zoned:     zoned,
		instances: sorted,
		byZone:    make(map[string][]*domain.Instance),
		claimed:   make(map[*domain.Instance]bool),
	}
	for _, inst := range sorted {
		zone := u.zoneOf(inst)
		u.byZone[zone] = append(u.byZone[zone], inst)
	}
	return u
}

func (u *unplacedExisting) zoneOf(inst *domain.Instance) string {
	if !u.zoned {
		return noZone
	}
	return inst.AvailabilityZone
}

// azsByPopulation orders azs by descending number of existing instances.
// Ties keep their input order.
func (u *unplacedExisting) azsByPopulation(azs []*domain.AvailabilityZone) []*domain.AvailabilityZone {
	sorted := append([]*domain.AvailabilityZone(nil), azs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(u.byZone[azName(sorted[i])]) > len(u.byZone[azName(sorted[j])])
	})
	return sorted
}

// withPersistentDisk returns the unclaimed instances that own a disk.
func (u *unplacedExisting) withPersistentDisk() []*domain.Instance {
	var out []*domain.Instance
	for _, inst := range u.instances {
		if !u.claimed[inst] && inst.HasPersistentDisk() {
			out = append(out, inst)
		}
	}
	return out
}

func (u *unplacedExisting) ignored() []*domain.Instance {
	var out []*domain.Instance
	for _, inst := range u.instances {
		if inst.Ignore {
			out = append(out, inst)
		}
	}
	return out
}

func (u *unplacedExisting) claim(inst *domain.Instance) bool {
	if u.claimed[inst] {
		return false
	}
	u.claimed[inst] = true
	return true
}

// claimInZone takes the lowest-indexed unclaimed instance in zone.
func (u *unplacedExisting) claimInZone(zone string) (*domain.Instance, bool) {
	for _, inst := range u.byZone[zone] {
		if u.claim(inst) {
			return inst, true
		}
	}
	return nil, false
}

func (u *unplacedExisting) unclaimed() []*domain.Instance {
	var out []*domain.Instance
	for _, inst := range u.instances {
		if !u.claimed[inst] {
			out = append(out, inst)
		}
	}
	return out
}
