package domain

import (
	"net/netip"
)

// ReservationType describes where a reservation came from
type ReservationType string

const (
	ReservationDynamic  ReservationType = "dynamic"
	ReservationStatic   ReservationType = "static"
	ReservationExisting ReservationType = "existing"
)

// Reservation is an intent, or a record, binding an instance to an address
// on a network.
type Reservation struct {
	Instance *Instance
	Network  *Network
	Type     ReservationType
	IP       netip.Prefix // zero until resolved
	Static   bool         // recorded flag for existing reservations
	Reserved bool         // set once the repository accepted it
}

// NewDynamicReservation returns an unresolved dynamic reservation.
func NewDynamicReservation(instance *Instance, network *Network) *Reservation {
	return &Reservation{Instance: instance, Network: network, Type: ReservationDynamic}
}

// NewStaticReservation returns a static reservation for a single address.
func NewStaticReservation(instance *Instance, network *Network, ip netip.Addr) *Reservation {
	return &Reservation{
		Instance: instance,
		Network:  network,
		Type:     ReservationStatic,
		IP:       netip.PrefixFrom(ip, ip.BitLen()),
	}
}

// NewExistingReservation rebuilds a reservation from a persisted row.
func NewExistingReservation(instance *Instance, network *Network, ip netip.Prefix, static bool) *Reservation {
	return &Reservation{
		Instance: instance,
		Network:  network,
		Type:     ReservationExisting,
		IP:       ip,
		Static:   static,
	}
}

// IsStatic reports the value stored in the static column for this
// reservation.
func (r *Reservation) IsStatic() bool {
	switch r.Type {
	case ReservationStatic:
		return true
	case ReservationExisting:
		return r.Static
	}
	return false
}

// Resolved reports whether an address has been chosen.
func (r *Reservation) Resolved() bool {
	return r.IP.IsValid()
}

// Resolve binds the reservation to ip.
func (r *Reservation) Resolve(ip netip.Prefix) {
	r.IP = ip
}

// Addr returns the first address of the resolved block.
func (r *Reservation) Addr() netip.Addr {
	return r.IP.Addr()
}

// NetworkName is nil-safe sugar used in log fields.
func (r *Reservation) NetworkName() string {
	if r.Network == nil {
		return ""
	}
	return r.Network.Name
}

// InstanceName is nil-safe sugar used in log fields and messages.
func (r *Reservation) InstanceName() string {
	if r.Instance == nil {
		return ""
	}
	return r.Instance.Name()
}
