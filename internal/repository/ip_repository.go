package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/netip"

	"github.com/jmoiron/sqlx"
	log "github.com/sirupsen/logrus"

	"github.com/jbweber/homelab/placer/internal/domain"
	"github.com/jbweber/homelab/placer/internal/netaddr"
)

// DefaultAddAttempts bounds the lookup-then-write loop in Add.
const DefaultAddAttempts = 3

const ipColumns = "id, address_str, network_name, static, instance_id, orphaned_vm_id, task_id, created_at"

// errRowVanished marks an update that matched nothing because a concurrent
// writer deleted the row between lookup and write.
var errRowVanished = errors.New("ip address row vanished")

// IPRepository is the durable reservation store. The unique index on
// (address_str, network_name) is its only serialization point.
type IPRepository interface {
	// Add persists a resolved reservation, taking over unowned or orphaned
	// rows and moving rows owned by the same instance between networks.
	Add(ctx context.Context, reservation *domain.Reservation) (domain.IPAddress, error)
	// AllocateDynamicIP claims the lowest free block of the subnet. ok is
	// false when the subnet is exhausted.
	AllocateDynamicIP(ctx context.Context, reservation *domain.Reservation, subnet *domain.Subnet) (netip.Prefix, bool, error)
	// AllocateVIPIP claims the first free address of the subnet's static pool.
	AllocateVIPIP(ctx context.Context, reservation *domain.Reservation, subnet *domain.Subnet) (netip.Prefix, bool, error)
	Delete(ctx context.Context, cidr string) error
	DeleteOnNetwork(ctx context.Context, cidr, networkName string) error

	FindByID(ctx context.Context, id int64) (domain.IPAddress, error)
	FindAll(ctx context.Context) ([]domain.IPAddress, error)
	FindByAddress(ctx context.Context, cidr string) ([]domain.IPAddress, error)
	FindByNetwork(ctx context.Context, networkName string) ([]domain.IPAddress, error)
	FindByInstanceID(ctx context.Context, instanceID int64) ([]domain.IPAddress, error)

	ReleaseForInstance(ctx context.Context, instanceID int64) (int64, error)
	TransferToOrphanedVM(ctx context.Context, instanceID, orphanedVMID int64) (int64, error)
}

// IPRepositoryOption customizes an IP repository
type IPRepositoryOption func(*ipRepositoryImpl)

// WithTaskID stamps every row written by the repository with taskID.
func WithTaskID(taskID string) IPRepositoryOption {
	return func(r *ipRepositoryImpl) {
		r.taskID = taskID
	}
}

// WithLogger replaces the standard logrus logger.
func WithLogger(logger log.FieldLogger) IPRepositoryOption {
	return func(r *ipRepositoryImpl) {
		r.logger = logger
	}
}

// WithAddAttempts overrides DefaultAddAttempts. Values below one are ignored.
func WithAddAttempts(n int) IPRepositoryOption {
	return func(r *ipRepositoryImpl) {
		if n > 0 {
			r.maxAttempts = n
		}
	}
}

// ipRepositoryImpl implements IPRepository
type ipRepositoryImpl struct {
	db          *sqlx.DB
	cache       *PreparedStatementCache
	taskID      string
	logger      log.FieldLogger
	maxAttempts int
}

// NewIPRepository creates a new IP repository
func NewIPRepository(db *sqlx.DB, opts ...IPRepositoryOption) IPRepository {
	r := &ipRepositoryImpl{
		db:          db,
		cache:       NewPreparedStatementCache(db),
		logger:      log.StandardLogger(),
		maxAttempts: DefaultAddAttempts,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Add persists a resolved reservation
func (r *ipRepositoryImpl) Add(ctx context.Context, res *domain.Reservation) (domain.IPAddress, error) {
	if !res.Resolved() {
		return domain.IPAddress{}, domain.NewError(domain.ErrNetworkReservationIPMissing,
			"Can't reserve IP for instance '%s' on network '%s': no IP given", res.InstanceName(), res.NetworkName())
	}
	if res.Instance == nil || res.Instance.ID == 0 || res.Network == nil {
		return domain.IPAddress{}, fmt.Errorf("reservation needs a persisted instance and a network: %w", ErrInvalidEntity)
	}

	address := res.IP.String()
	fields := log.Fields{
		"address":  address,
		"network":  res.Network.Name,
		"instance": res.Instance.Name(),
		"task_id":  r.taskID,
	}

	var lastErr error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		row, err := r.tryAdd(ctx, res, address)
		if err == nil {
			r.logger.WithFields(fields).Debug("reserved IP")
			return row, nil
		}
		if !isRetryable(err) {
			return domain.IPAddress{}, err
		}
		lastErr = err
		r.logger.WithFields(fields).WithField("attempt", attempt).WithError(err).Warn("lost reservation race, retrying")
	}

	return domain.IPAddress{}, fmt.Errorf("failed to reserve IP '%s' on network '%s' after %d attempts: %w: %w",
		address, res.Network.Name, r.maxAttempts, ErrReservationConflict, lastErr)
}

func isRetryable(err error) bool {
	return errors.Is(err, errRowVanished) || IsUniqueViolation(err)
}

// tryAdd is a single lookup-then-write attempt.
func (r *ipRepositoryImpl) tryAdd(ctx context.Context, res *domain.Reservation, address string) (domain.IPAddress, error) {
	rows, err := r.FindByAddress(ctx, address)
	if err != nil {
		return domain.IPAddress{}, err
	}

	instanceID := res.Instance.ID
	static := res.IsStatic()

	var target *domain.IPAddress
	for n := range rows {
		if rows[n].NetworkName == res.Network.Name {
			target = &rows[n]
			break
		}
	}
	if target == nil {
		id, err := r.insert(ctx, address, res.Network.Name, static, instanceID)
		if err != nil {
			return domain.IPAddress{}, err
		}
		return r.FindByID(ctx, id)
	}

	if target.InstanceID != nil && *target.InstanceID != instanceID {
		return domain.IPAddress{}, r.alreadyInUse(ctx, res, *target.InstanceID)
	}

	// a row already bound this way is only re-stamped with the current task
	if target.InstanceID != nil && target.OrphanedVMID == nil && target.Static == static && target.TaskID == r.taskID {
		return *target, nil
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE ip_addresses
		SET static = ?, network_name = ?, instance_id = ?, orphaned_vm_id = NULL, task_id = ?
		WHERE id = ?`,
		static, res.Network.Name, instanceID, r.taskID, target.ID)
	if err != nil {
		return domain.IPAddress{}, fmt.Errorf("failed to update IP address %s: %w", address, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return domain.IPAddress{}, errRowVanished
	}
	return r.FindByID(ctx, target.ID)
}

func (r *ipRepositoryImpl) alreadyInUse(ctx context.Context, res *domain.Reservation, ownerID int64) error {
	var owner struct {
		Job        string `db:"job"`
		Index      int    `db:"idx"`
		Deployment string `db:"name"`
	}
	err := r.db.GetContext(ctx, &owner, `
		SELECT i.job, i.idx, d.name
		FROM instances i JOIN deployments d ON d.id = i.deployment_id
		WHERE i.id = ?`, ownerID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to look up owner of IP %s: %w", res.IP, err)
	}
	ownerName := (&domain.Instance{Job: owner.Job, Index: owner.Index}).Name()

	return domain.NewError(domain.ErrNetworkReservationAlreadyInUse,
		"Failed to reserve IP '%s' for instance '%s': already reserved by instance '%s' from deployment '%s'",
		res.Addr(), res.Instance.Name(), ownerName, owner.Deployment)
}

func (r *ipRepositoryImpl) insert(ctx context.Context, address, network string, static bool, instanceID int64) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO ip_addresses (address_str, network_name, static, instance_id, task_id)
		VALUES (?, ?, ?, ?, ?)`,
		address, network, static, instanceID, r.taskID)
	if err != nil {
		return 0, fmt.Errorf("failed to insert IP address %s: %w", address, err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get IP address ID: %w", err)
	}
	return id, nil
}

// usedRanges collects the span of every persisted row, on any network,
// that overlaps within.
func (r *ipRepositoryImpl) usedRanges(ctx context.Context, within netaddr.Range) (*netaddr.Set, error) {
	var addresses []string
	if err := r.db.SelectContext(ctx, &addresses, "SELECT address_str FROM ip_addresses"); err != nil {
		return nil, fmt.Errorf("failed to list reserved addresses: %w", err)
	}

	used := &netaddr.Set{}
	for _, a := range addresses {
		p, err := netaddr.ParsePrefix(a)
		if err != nil {
			r.logger.WithField("address", a).WithError(err).Warn("skipping unparsable IP address row")
			continue
		}
		span := netaddr.RangeOf(p)
		if span.Overlaps(within) {
			used.Add(span)
		}
	}
	return used, nil
}

// AllocateDynamicIP scans the subnet in aligned blocks
func (r *ipRepositoryImpl) AllocateDynamicIP(ctx context.Context, res *domain.Reservation, subnet *domain.Subnet) (netip.Prefix, bool, error) {
	if !subnet.Range.IsValid() {
		return netip.Prefix{}, false, nil
	}
	if res.Instance == nil || res.Instance.ID == 0 || res.Network == nil {
		return netip.Prefix{}, false, fmt.Errorf("reservation needs a persisted instance and a network: %w", ErrInvalidEntity)
	}

	bits := subnet.BlockBits()
	subnetRange := netaddr.RangeOf(subnet.Range)
	if bits < subnet.Range.Bits() {
		return netip.Prefix{}, false, nil
	}

	blocked, err := r.usedRanges(ctx, subnetRange)
	if err != nil {
		return netip.Prefix{}, false, err
	}
	blocked.AddAddr(subnetRange.First)
	if subnet.Gateway.IsValid() {
		blocked.AddAddr(subnet.Gateway)
	}
	if subnetRange.First.Is4() {
		blocked.AddAddr(subnetRange.Last)
	}
	for _, reserved := range subnet.Reserved {
		blocked.Add(reserved)
	}
	for _, static := range subnet.Static {
		blocked.AddAddr(static)
	}

	candidate := subnetRange.First
	for {
		block := netip.PrefixFrom(candidate, bits)
		span := netaddr.RangeOf(block)
		if subnetRange.Last.Less(span.Last) {
			return netip.Prefix{}, false, nil
		}

		if hit, ok := blocked.Overlapping(span); ok {
			next := hit.Last.Next()
			if !next.IsValid() {
				return netip.Prefix{}, false, nil
			}
			if candidate, ok = netaddr.AlignUp(next, bits); !ok {
				return netip.Prefix{}, false, nil
			}
			continue
		}

		_, err := r.insert(ctx, block.String(), res.Network.Name, false, res.Instance.ID)
		if err == nil {
			r.logger.WithFields(log.Fields{
				"address":  block.String(),
				"network":  res.Network.Name,
				"instance": res.Instance.Name(),
				"task_id":  r.taskID,
			}).Debug("allocated dynamic IP")
			return block, true, nil
		}
		if !IsUniqueViolation(err) {
			return netip.Prefix{}, false, err
		}
		r.logger.WithFields(log.Fields{
			"address": block.String(),
			"network": res.Network.Name,
		}).Debug("dynamic IP taken concurrently, trying next")
		blocked.Add(span)
	}
}

// AllocateVIPIP hands out the first free static pool address
func (r *ipRepositoryImpl) AllocateVIPIP(ctx context.Context, res *domain.Reservation, subnet *domain.Subnet) (netip.Prefix, bool, error) {
	if len(subnet.Static) == 0 {
		return netip.Prefix{}, false, nil
	}
	if res.Instance == nil || res.Instance.ID == 0 || res.Network == nil {
		return netip.Prefix{}, false, fmt.Errorf("reservation needs a persisted instance and a network: %w", ErrInvalidEntity)
	}

	pool := &netaddr.Set{}
	for _, a := range subnet.Static {
		pool.AddAddr(a)
	}
	first, last := subnet.Static[0], subnet.Static[0]
	for _, a := range subnet.Static[1:] {
		if a.BitLen() != first.BitLen() {
			continue
		}
		if a.Less(first) {
			first = a
		}
		if last.Less(a) {
			last = a
		}
	}
	used, err := r.usedRanges(ctx, netaddr.Range{First: first, Last: last})
	if err != nil {
		return netip.Prefix{}, false, err
	}

	for _, a := range subnet.Static {
		if used.Contains(a) {
			continue
		}
		p := netip.PrefixFrom(a, a.BitLen())
		_, err := r.insert(ctx, p.String(), res.Network.Name, res.IsStatic(), res.Instance.ID)
		if err == nil {
			r.logger.WithFields(log.Fields{
				"address":  p.String(),
				"network":  res.Network.Name,
				"instance": res.Instance.Name(),
				"task_id":  r.taskID,
			}).Debug("allocated VIP")
			return p, true, nil
		}
		if !IsUniqueViolation(err) {
			return netip.Prefix{}, false, err
		}
		used.AddAddr(a)
	}
	return netip.Prefix{}, false, nil
}

// Delete removes every row holding the address, on any network
func (r *ipRepositoryImpl) Delete(ctx context.Context, cidr string) error {
	p, err := netaddr.ParsePrefix(cidr)
	if err != nil {
		return fmt.Errorf("%v: %w", err, ErrInvalidEntity)
	}
	if _, err := r.db.ExecContext(ctx, "DELETE FROM ip_addresses WHERE address_str = ?", p.String()); err != nil {
		return fmt.Errorf("failed to delete IP address %s: %w", p, err)
	}
	r.logger.WithFields(log.Fields{"address": p.String(), "task_id": r.taskID}).Debug("deleted IP")
	return nil
}

// DeleteOnNetwork removes the address from one network only
func (r *ipRepositoryImpl) DeleteOnNetwork(ctx context.Context, cidr, networkName string) error {
	p, err := netaddr.ParsePrefix(cidr)
	if err != nil {
		return fmt.Errorf("%v: %w", err, ErrInvalidEntity)
	}
	_, err = r.db.ExecContext(ctx,
		"DELETE FROM ip_addresses WHERE address_str = ? AND network_name = ?", p.String(), networkName)
	if err != nil {
		return fmt.Errorf("failed to delete IP address %s on network %s: %w", p, networkName, err)
	}
	r.logger.WithFields(log.Fields{
		"address": p.String(),
		"network": networkName,
		"task_id": r.taskID,
	}).Debug("released IP")
	return nil
}

// FindByID finds an IP address row by ID
func (r *ipRepositoryImpl) FindByID(ctx context.Context, id int64) (domain.IPAddress, error) {
	var ip domain.IPAddress
	if err := r.db.GetContext(ctx, &ip, "SELECT "+ipColumns+" FROM ip_addresses WHERE id = ?", id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.IPAddress{}, fmt.Errorf("IP address with ID %d: %w", id, ErrNotFound)
		}
		return domain.IPAddress{}, fmt.Errorf("failed to find IP address: %w", err)
	}
	return ip, nil
}

// FindAll lists every row
func (r *ipRepositoryImpl) FindAll(ctx context.Context) ([]domain.IPAddress, error) {
	var out []domain.IPAddress
	if err := r.db.SelectContext(ctx, &out, "SELECT "+ipColumns+" FROM ip_addresses ORDER BY id"); err != nil {
		return nil, fmt.Errorf("failed to find IP addresses: %w", err)
	}
	return out, nil
}

// FindByAddress returns the rows for an address across all networks.
// Bare addresses are normalized to their full-length CIDR form.
func (r *ipRepositoryImpl) FindByAddress(ctx context.Context, cidr string) ([]domain.IPAddress, error) {
	p, err := netaddr.ParsePrefix(cidr)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrInvalidEntity)
	}

	stmt, err := r.cache.Get(ctx, "SELECT "+ipColumns+" FROM ip_addresses WHERE address_str = ? ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to prepare IP address lookup: %w", err)
	}
	var out []domain.IPAddress
	if err := stmt.SelectContext(ctx, &out, p.String()); err != nil {
		return nil, fmt.Errorf("failed to find IP address by address: %w", err)
	}
	return out, nil
}

// FindByNetwork lists the rows bound on one network
func (r *ipRepositoryImpl) FindByNetwork(ctx context.Context, networkName string) ([]domain.IPAddress, error) {
	var out []domain.IPAddress
	err := r.db.SelectContext(ctx, &out,
		"SELECT "+ipColumns+" FROM ip_addresses WHERE network_name = ? ORDER BY id", networkName)
	if err != nil {
		return nil, fmt.Errorf("failed to find IP addresses for network: %w", err)
	}
	return out, nil
}

// FindByInstanceID lists the rows an instance owns
func (r *ipRepositoryImpl) FindByInstanceID(ctx context.Context, instanceID int64) ([]domain.IPAddress, error) {
	var out []domain.IPAddress
	err := r.db.SelectContext(ctx, &out,
		"SELECT "+ipColumns+" FROM ip_addresses WHERE instance_id = ? ORDER BY id", instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to find IP addresses for instance: %w", err)
	}
	return out, nil
}

// ReleaseForInstance deletes every row the instance owns
func (r *ipRepositoryImpl) ReleaseForInstance(ctx context.Context, instanceID int64) (int64, error) {
	result, err := r.db.ExecContext(ctx, "DELETE FROM ip_addresses WHERE instance_id = ?", instanceID)
	if err != nil {
		return 0, fmt.Errorf("failed to release IP addresses of instance %d: %w", instanceID, err)
	}
	return result.RowsAffected()
}

// TransferToOrphanedVM hands an instance's rows to an orphaned VM so the
// addresses stay reserved after the instance is gone.
func (r *ipRepositoryImpl) TransferToOrphanedVM(ctx context.Context, instanceID, orphanedVMID int64) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE ip_addresses SET instance_id = NULL, orphaned_vm_id = ?, task_id = ?
		WHERE instance_id = ?`, orphanedVMID, r.taskID, instanceID)
	if err != nil {
		return 0, fmt.Errorf("failed to orphan IP addresses of instance %d: %w", instanceID, err)
	}
	return result.RowsAffected()
}
