// Package ipprovider turns network plans into persisted IP reservations.
package ipprovider

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/jbweber/homelab/placer/internal/domain"
	"github.com/jbweber/homelab/placer/internal/netaddr"
	"github.com/jbweber/homelab/placer/internal/repository"
)

// Provider validates reservations against their network and records them
// through the IP repository
type Provider struct {
	repo   repository.IPRepository
	logger log.FieldLogger
}

// Option configures a Provider
type Option func(*Provider)

// WithLogger sets the logger.
func WithLogger(logger log.FieldLogger) Option {
	return func(p *Provider) {
		p.logger = logger
	}
}

// NewProvider creates a provider on top of repo.
func NewProvider(repo repository.IPRepository, opts ...Option) *Provider {
	p := &Provider{repo: repo, logger: log.StandardLogger()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Reserve resolves and persists one reservation. Reservations on dynamic
// networks are left to the infrastructure and never stored.
func (p *Provider) Reserve(ctx context.Context, res *domain.Reservation) error {
	if res.Network == nil {
		return fmt.Errorf("reservation for instance '%s' has no network", res.InstanceName())
	}

	var err error
	switch res.Network.Type {
	case domain.NetworkTypeDynamic:
		return nil
	case domain.NetworkTypeVIP:
		err = p.reserveVIP(ctx, res)
	default:
		err = p.reserveManual(ctx, res)
	}
	if err != nil {
		return err
	}

	res.Reserved = true
	p.logger.WithFields(log.Fields{
		"address":  res.IP.String(),
		"network":  res.Network.Name,
		"instance": res.InstanceName(),
		"type":     string(res.Type),
	}).Info("Reserved IP")
	return nil
}

func (p *Provider) reserveManual(ctx context.Context, res *domain.Reservation) error {
	if !res.Resolved() {
		for _, subnet := range res.Network.SubnetsInAZ(instanceAZ(res)) {
			ip, ok, err := p.repo.AllocateDynamicIP(ctx, res, subnet)
			if err != nil {
				return err
			}
			if ok {
				res.Resolve(ip)
				return nil
			}
		}
		return domain.NewError(domain.ErrNetworkReservationNotEnoughCapacity,
			"Failed to reserve IP for '%s' for manual network '%s': no more available", res.InstanceName(), res.Network.Name)
	}

	addr := res.Addr()
	subnet := res.Network.FindSubnetContaining(addr)
	if subnet == nil {
		return domain.NewError(domain.ErrNetworkReservationIPOutsideSubnet,
			"Failed to reserve IP '%s' for instance '%s': IP does not belong to any subnet of network '%s'",
			addr, res.InstanceName(), res.Network.Name)
	}
	if subnet.IsReserved(addr) {
		return domain.NewError(domain.ErrNetworkReservationIPReserved,
			"Failed to reserve IP '%s' for instance '%s': IP belongs to the reserved range of network '%s'",
			addr, res.InstanceName(), res.Network.Name)
	}

	switch res.Type {
	case domain.ReservationStatic:
		if !subnet.IsStatic(addr) {
			return wrongType(res, "static", "dynamic")
		}
	case domain.ReservationDynamic:
		if subnet.IsStatic(addr) {
			return wrongType(res, "dynamic", "static")
		}
	}

	_, err := p.repo.Add(ctx, res)
	return err
}

func wrongType(res *domain.Reservation, have, want string) error {
	return domain.NewError(domain.ErrNetworkReservationWrongType,
		"Failed to reserve IP '%s' for instance '%s': type '%s' differs from expected type '%s' on network '%s'",
		res.Addr(), res.InstanceName(), have, want, res.Network.Name)
}

func (p *Provider) reserveVIP(ctx context.Context, res *domain.Reservation) error {
	if res.Resolved() {
		static := *res
		static.Type = domain.ReservationStatic
		_, err := p.repo.Add(ctx, &static)
		return err
	}

	for _, subnet := range res.Network.SubnetsInAZ(instanceAZ(res)) {
		ip, ok, err := p.repo.AllocateVIPIP(ctx, res, subnet)
		if err != nil {
			return err
		}
		if ok {
			res.Resolve(ip)
			return nil
		}
	}
	return domain.NewError(domain.ErrNetworkReservationNotEnoughCapacity,
		"Failed to reserve IP for '%s' for vip network '%s': no more available", res.InstanceName(), res.Network.Name)
}

// Release drops the persisted row of a reservation.
func (p *Provider) Release(ctx context.Context, res *domain.Reservation) error {
	if res.Network != nil && res.Network.Type == domain.NetworkTypeDynamic {
		return nil
	}
	if !res.Resolved() {
		return domain.NewError(domain.ErrNetworkReservationIPMissing,
			"Can't release reservation without an IP for instance '%s' on network '%s'", res.InstanceName(), res.NetworkName())
	}

	if err := p.repo.DeleteOnNetwork(ctx, res.IP.String(), res.NetworkName()); err != nil {
		return err
	}
	res.Reserved = false
	p.logger.WithFields(log.Fields{
		"address":  res.IP.String(),
		"network":  res.NetworkName(),
		"instance": res.InstanceName(),
	}).Info("Released IP")
	return nil
}

// ReserveExisting re-binds the addresses an instance already holds. Rows on
// networks that no longer exist are skipped.
func (p *Provider) ReserveExisting(ctx context.Context, instance *domain.Instance, networks []*domain.Network) ([]*domain.Reservation, error) {
	rows, err := p.repo.FindByInstanceID(ctx, instance.ID)
	if err != nil {
		return nil, err
	}

	var out []*domain.Reservation
	for _, row := range rows {
		network := findNetwork(networks, row.NetworkName)
		if network == nil {
			p.logger.WithFields(log.Fields{
				"address":  row.Address,
				"network":  row.NetworkName,
				"instance": instance.Name(),
			}).Debug("Skipping address on removed network")
			continue
		}

		prefix, err := netaddr.ParsePrefix(row.Address)
		if err != nil {
			return nil, fmt.Errorf("stored address of %s is invalid: %w", instance.Name(), err)
		}

		res := domain.NewExistingReservation(instance, network, prefix, row.Static)
		if _, err := p.repo.Add(ctx, res); err != nil {
			return nil, err
		}
		res.Reserved = true
		out = append(out, res)
	}
	return out, nil
}

func instanceAZ(res *domain.Reservation) string {
	if res.Instance == nil {
		return ""
	}
	return res.Instance.AvailabilityZone
}

func findNetwork(networks []*domain.Network, name string) *domain.Network {
	for _, n := range networks {
		if n.Name == name {
			return n
		}
	}
	return nil
}
