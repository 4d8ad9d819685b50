// Package netaddr holds the address arithmetic used by subnets and the IP
// repository: inclusive ranges, prefix blocks and a merged range set.
// Everything works on net/netip values so IPv4 and IPv6 share one code path.
package netaddr

import (
	"fmt"
	"net/netip"
	"sort"
	"strings"
)

// Range is an inclusive span of addresses of a single family.
type Range struct {
	First netip.Addr
	Last  netip.Addr
}

// RangeOf returns the span covered by a prefix.
func RangeOf(p netip.Prefix) Range {
	p = p.Masked()
	return Range{First: p.Addr(), Last: LastAddr(p)}
}

// SingleAddr returns a range holding exactly one address.
func SingleAddr(a netip.Addr) Range {
	return Range{First: a, Last: a}
}

// Contains reports whether a falls inside the range.
func (r Range) Contains(a netip.Addr) bool {
	if a.BitLen() != r.First.BitLen() {
		return false
	}
	return r.First.Compare(a) <= 0 && a.Compare(r.Last) <= 0
}

// Overlaps reports whether the two ranges share at least one address.
func (r Range) Overlaps(o Range) bool {
	if r.First.BitLen() != o.First.BitLen() {
		return false
	}
	return r.First.Compare(o.Last) <= 0 && o.First.Compare(r.Last) <= 0
}

func (r Range) String() string {
	if r.First == r.Last {
		return r.First.String()
	}
	return r.First.String() + " - " + r.Last.String()
}

// LastAddr returns the highest address of the prefix.
func LastAddr(p netip.Prefix) netip.Addr {
	p = p.Masked()
	a := p.Addr()
	if a.Is4() {
		b := a.As4()
		for i := p.Bits(); i < 32; i++ {
			b[i/8] |= 1 << (7 - uint(i%8))
		}
		return netip.AddrFrom4(b)
	}
	b := a.As16()
	for i := p.Bits(); i < 128; i++ {
		b[i/8] |= 1 << (7 - uint(i%8))
	}
	return netip.AddrFrom16(b)
}

// AlignUp returns the first address at or above a that starts a block of
// the given prefix length. ok is false when no such address exists.
func AlignUp(a netip.Addr, bits int) (netip.Addr, bool) {
	block := netip.PrefixFrom(a, bits).Masked()
	if block.Addr() == a {
		return a, true
	}
	next := LastAddr(block).Next()
	return next, next.IsValid()
}

// ParseAddr parses a single address, unmapping IPv4-in-IPv6 forms.
func ParseAddr(s string) (netip.Addr, error) {
	a, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return netip.Addr{}, fmt.Errorf("invalid IP address '%s': %w", s, err)
	}
	return a.Unmap(), nil
}

// ParsePrefix accepts either "a.b.c.d" or "a.b.c.d/n". A bare address yields
// a full-length prefix, which is the form persisted for single reservations.
func ParsePrefix(s string) (netip.Prefix, error) {
	s = strings.TrimSpace(s)
	if !strings.Contains(s, "/") {
		a, err := ParseAddr(s)
		if err != nil {
			return netip.Prefix{}, err
		}
		return netip.PrefixFrom(a, a.BitLen()), nil
	}
	p, err := netip.ParsePrefix(s)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("invalid CIDR '%s': %w", s, err)
	}
	if !p.Addr().Is4In6() {
		return p.Masked(), nil
	}

	// ::ffff:a.b.c.d/n covers IPv4 only from /96 on
	if p.Bits() < 96 {
		return netip.Prefix{}, fmt.Errorf("invalid CIDR '%s': IPv4-mapped prefix shorter than /96", s)
	}
	return netip.PrefixFrom(p.Addr().Unmap(), p.Bits()-96).Masked(), nil
}

// ParseRange understands the three notations accepted in reserved and static
// pools: a single address, "first - last", and a CIDR block.
func ParseRange(s string) (Range, error) {
	s = strings.TrimSpace(s)
	if first, last, ok := strings.Cut(s, "-"); ok {
		f, err := ParseAddr(first)
		if err != nil {
			return Range{}, err
		}
		l, err := ParseAddr(last)
		if err != nil {
			return Range{}, err
		}
		if f.BitLen() != l.BitLen() {
			return Range{}, fmt.Errorf("invalid IP range '%s': mixed address families", s)
		}
		if l.Less(f) {
			return Range{}, fmt.Errorf("invalid IP range '%s': last address precedes first", s)
		}
		return Range{First: f, Last: l}, nil
	}
	if strings.Contains(s, "/") {
		p, err := ParsePrefix(s)
		if err != nil {
			return Range{}, err
		}
		return RangeOf(p), nil
	}
	a, err := ParseAddr(s)
	if err != nil {
		return Range{}, err
	}
	return SingleAddr(a), nil
}

// Expand lists every address of the range, refusing ranges larger than max.
func (r Range) Expand(max int) ([]netip.Addr, error) {
	var out []netip.Addr
	for a := r.First; a.IsValid() && a.Compare(r.Last) <= 0; a = a.Next() {
		if len(out) == max {
			return nil, fmt.Errorf("IP range '%s' has more than %d addresses", r, max)
		}
		out = append(out, a)
	}
	return out, nil
}

// Set is a collection of ranges kept sorted and merged on demand.
type Set struct {
	ranges []Range
	dirty  bool
}

// Add inserts r into the set.
func (s *Set) Add(r Range) {
	s.ranges = append(s.ranges, r)
	s.dirty = true
}

// AddAddr inserts a single address.
func (s *Set) AddAddr(a netip.Addr) {
	s.Add(SingleAddr(a))
}

// Len returns the number of disjoint ranges after merging.
func (s *Set) Len() int {
	s.normalize()
	return len(s.ranges)
}

// Contains reports whether a is covered by any range of the set.
func (s *Set) Contains(a netip.Addr) bool {
	_, ok := s.Overlapping(SingleAddr(a))
	return ok
}

// Overlapping returns the merged range that overlaps r with the highest end,
// which is where a forward scan has to resume from.
func (s *Set) Overlapping(r Range) (Range, bool) {
	s.normalize()
	// first range whose end is >= r.First
	i := sort.Search(len(s.ranges), func(i int) bool {
		return s.ranges[i].Last.Compare(r.First) >= 0
	})
	var hit Range
	found := false
	for ; i < len(s.ranges) && s.ranges[i].First.Compare(r.Last) <= 0; i++ {
		if s.ranges[i].Overlaps(r) {
			hit = s.ranges[i]
			found = true
		}
	}
	return hit, found
}

func (s *Set) normalize() {
	if !s.dirty {
		return
	}
	s.dirty = false
	sort.Slice(s.ranges, func(i, j int) bool {
		if c := s.ranges[i].First.Compare(s.ranges[j].First); c != 0 {
			return c < 0
		}
		return s.ranges[i].Last.Less(s.ranges[j].Last)
	})
	merged := s.ranges[:0]
	for _, r := range s.ranges {
		if n := len(merged); n > 0 {
			prev := &merged[n-1]
			if prev.Last.BitLen() == r.First.BitLen() {
				next := prev.Last.Next()
				if r.First.Compare(prev.Last) <= 0 || (next.IsValid() && next == r.First) {
					if prev.Last.Less(r.Last) {
						prev.Last = r.Last
					}
					continue
				}
			}
		}
		merged = append(merged, r)
	}
	s.ranges = merged
}
