// Package deployer runs a deployment task: it plans every instance group of a
// manifest and reconciles the IP reservations with the plans.
package deployer

import (
	"context"
	"fmt"
	"maps"
	"net/netip"
	"slices"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	log "github.com/sirupsen/logrus"

	"github.com/jbweber/homelab/placer/internal/domain"
	"github.com/jbweber/homelab/placer/internal/ipprovider"
	"github.com/jbweber/homelab/placer/internal/manifest"
	"github.com/jbweber/homelab/placer/internal/placement"
	"github.com/jbweber/homelab/placer/internal/repository"
)

// Deployer owns the repositories a deployment task works with
type Deployer struct {
	db          *sqlx.DB
	deployments repository.DeploymentRepository
	instances   repository.InstanceRepository
	orphans     repository.OrphanedVMRepository
	tie         placement.TieStrategy
	addAttempts int
	logger      log.FieldLogger
}

// Option configures a Deployer
type Option func(*Deployer)

// WithTieStrategy sets how zones with equal load are chosen.
func WithTieStrategy(tie placement.TieStrategy) Option {
	return func(d *Deployer) {
		d.tie = tie
	}
}

// WithAddAttempts bounds the retries of a reservation that loses a race.
func WithAddAttempts(n int) Option {
	return func(d *Deployer) {
		d.addAttempts = n
	}
}

// WithLogger sets the logger.
func WithLogger(logger log.FieldLogger) Option {
	return func(d *Deployer) {
		d.logger = logger
	}
}

// New creates a Deployer on db.
func New(db *sqlx.DB, opts ...Option) *Deployer {
	d := &Deployer{
		db:          db,
		deployments: repository.NewDeploymentRepository(db),
		instances:   repository.NewInstanceRepository(db),
		orphans:     repository.NewOrphanedVMRepository(db),
		tie:         placement.MinWins{},
		logger:      log.StandardLogger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// GroupPlans are the plans of one instance group
type GroupPlans struct {
	Name  string
	Plans []*placement.InstancePlan
}

// Result is the outcome of one deployment task
type Result struct {
	Deployment domain.Deployment
	TaskID     string
	Groups     []GroupPlans
	Deleted    []string // instances of groups no longer in the manifest
}

// Deploy plans every instance group of m and brings the persisted IP
// reservations in line with the plans. Addresses are released before new
// ones are reserved so that addresses can move between instances within one
// task. The rows kept by reused and ignored instances are re-reserved under
// the new task.
func (d *Deployer) Deploy(ctx context.Context, m *manifest.Manifest) (*Result, error) {
	resolved, err := m.Build()
	if err != nil {
		return nil, err
	}

	deployment, err := d.deployments.FindOrCreate(ctx, resolved.Name)
	if err != nil {
		return nil, err
	}

	taskID := uuid.NewString()
	logger := d.logger.WithFields(log.Fields{"deployment": deployment.Name, "task_id": taskID})
	ips := d.ipRepository(taskID, logger)
	provider := ipprovider.NewProvider(ips, ipprovider.WithLogger(logger))

	stored, err := d.instances.FindByDeployment(ctx, deployment.ID)
	if err != nil {
		return nil, err
	}
	byJob := make(map[string][]*domain.Instance)
	for i := range stored {
		byJob[stored[i].Job] = append(byJob[stored[i].Job], &stored[i])
	}

	result := &Result{Deployment: deployment, TaskID: taskID}
	planner := placement.NewPlanner(&deployment, d.instances,
		placement.WithTieStrategy(d.tie), placement.WithLogger(logger))

	for _, group := range resolved.InstanceGroups {
		desired := make([]*domain.DesiredInstance, group.Instances)
		for i := range desired {
			desired[i] = &domain.DesiredInstance{Group: group, Deployment: &deployment}
		}

		plans, err := planner.CreateInstancePlans(ctx, group, desired, byJob[group.Name],
			resolved.Networks, resolved.AZsFor(group))
		if err != nil {
			return nil, err
		}
		delete(byJob, group.Name)
		result.Groups = append(result.Groups, GroupPlans{Name: group.Name, Plans: plans})
	}

	leftover := slices.Sorted(maps.Keys(byJob))
	for _, job := range leftover {
		for _, inst := range byJob[job] {
			if err := d.deleteInstance(ctx, ips, inst); err != nil {
				return nil, err
			}
			result.Deleted = append(result.Deleted, inst.Name())
		}
	}

	for _, g := range result.Groups {
		for _, plan := range g.Plans {
			if err := d.releaseUnplanned(ctx, ips, plan); err != nil {
				return nil, err
			}
		}
	}

	for _, g := range result.Groups {
		for _, plan := range g.Plans {
			if plan.Existing == nil || plan.IsObsolete() {
				continue
			}
			kept, err := provider.ReserveExisting(ctx, plan.Existing, resolved.Networks)
			if err != nil {
				return nil, err
			}
			logger.WithFields(log.Fields{"instance": plan.Existing.Name(), "addresses": len(kept)}).Debug("Re-reserved existing addresses")
		}
	}

	for _, g := range result.Groups {
		for _, plan := range g.Plans {
			if plan.IsObsolete() || plan.ShouldBeIgnored() {
				continue
			}
			for _, np := range plan.NetworkPlans {
				if err := provider.Reserve(ctx, np.Reservation); err != nil {
					return nil, err
				}
			}
		}
	}

	logger.WithField("instance_groups", len(result.Groups)).Info("Deployment planned")
	return result, nil
}

func (d *Deployer) ipRepository(taskID string, logger log.FieldLogger) repository.IPRepository {
	opts := []repository.IPRepositoryOption{repository.WithTaskID(taskID), repository.WithLogger(logger)}
	if d.addAttempts > 0 {
		opts = append(opts, repository.WithAddAttempts(d.addAttempts))
	}
	return repository.NewIPRepository(d.db, opts...)
}

// releaseUnplanned drops the rows of an instance that its plan no longer
// asks for. Obsolete plans lose every row and the instance itself.
func (d *Deployer) releaseUnplanned(ctx context.Context, ips repository.IPRepository, plan *placement.InstancePlan) error {
	if plan.Existing == nil || plan.ShouldBeIgnored() {
		return nil
	}
	if plan.IsObsolete() {
		return d.deleteInstance(ctx, ips, plan.Existing)
	}

	keep := make(map[string]bool)
	for _, np := range plan.NetworkPlans {
		if np.Reservation.Resolved() {
			keep[np.Reservation.NetworkName()+" "+np.Reservation.IP.String()] = true
		}
	}

	for _, row := range plan.Existing.IPAddresses {
		if keep[row.NetworkName+" "+row.Address] {
			continue
		}
		if err := ips.DeleteOnNetwork(ctx, row.Address, row.NetworkName); err != nil {
			return err
		}
		d.logger.WithFields(log.Fields{
			"address":  row.Address,
			"network":  row.NetworkName,
			"instance": plan.Existing.Name(),
		}).Info("Released IP no longer in plan")
	}
	return nil
}

func (d *Deployer) deleteInstance(ctx context.Context, ips repository.IPRepository, inst *domain.Instance) error {
	n, err := ips.ReleaseForInstance(ctx, inst.ID)
	if err != nil {
		return err
	}
	if err := d.instances.DeleteByID(ctx, inst.ID); err != nil {
		return err
	}
	d.logger.WithFields(log.Fields{"instance": inst.Name(), "released": n}).Info("Deleted instance")
	return nil
}

// Orphan detaches an instance from its deployment. Its addresses stay
// reserved by a new orphaned VM record.
func (d *Deployer) Orphan(ctx context.Context, instanceID int64) (domain.OrphanedVM, error) {
	inst, err := d.instances.FindByID(ctx, instanceID)
	if err != nil {
		return domain.OrphanedVM{}, err
	}
	deployment, err := d.deployments.FindByID(ctx, inst.DeploymentID)
	if err != nil {
		return domain.OrphanedVM{}, err
	}

	vm, err := d.orphans.Save(ctx, domain.OrphanedVM{
		CID:              inst.UUID,
		DeploymentName:   deployment.Name,
		InstanceName:     inst.Name(),
		AvailabilityZone: inst.AvailabilityZone,
	})
	if err != nil {
		return domain.OrphanedVM{}, err
	}

	taskID := uuid.NewString()
	moved, err := d.ipRepository(taskID, d.logger).TransferToOrphanedVM(ctx, inst.ID, vm.ID)
	if err != nil {
		return domain.OrphanedVM{}, err
	}
	if err := d.instances.DeleteByID(ctx, inst.ID); err != nil {
		return domain.OrphanedVM{}, err
	}

	d.logger.WithFields(log.Fields{
		"instance":   inst.Name(),
		"deployment": deployment.Name,
		"addresses":  moved,
		"task_id":    taskID,
	}).Info("Orphaned instance")
	return vm, nil
}

// Instances lists the instances of a deployment with their disks and
// addresses.
func (d *Deployer) Instances(ctx context.Context, deploymentName string) ([]domain.Instance, error) {
	deployment, err := d.deployments.FindByName(ctx, deploymentName)
	if err != nil {
		return nil, err
	}
	return d.instances.FindByDeployment(ctx, deployment.ID)
}

// IPAddresses lists reservation rows, optionally limited to one network.
func (d *Deployer) IPAddresses(ctx context.Context, network string) ([]domain.IPAddress, error) {
	ips := repository.NewIPRepository(d.db)
	if network == "" {
		return ips.FindAll(ctx)
	}
	return ips.FindByNetwork(ctx, network)
}

// LookupIP returns the rows holding an address.
func (d *Deployer) LookupIP(ctx context.Context, address string) ([]domain.IPAddress, error) {
	rows, err := repository.NewIPRepository(d.db).FindByAddress(ctx, address)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("IP address %s: %w", address, repository.ErrNotFound)
	}
	return rows, nil
}

// ReleaseIP removes an address from every network.
func (d *Deployer) ReleaseIP(ctx context.Context, cidr string) error {
	if _, err := d.LookupIP(ctx, cidr); err != nil {
		return err
	}
	return repository.NewIPRepository(d.db, repository.WithLogger(d.logger)).Delete(ctx, cidr)
}

// PlanSummary is the serializable view of an instance plan
type PlanSummary struct {
	Instance string           `json:"instance"`
	ID       int64            `json:"id"`
	UUID     string           `json:"uuid"`
	AZ       string           `json:"az,omitempty"`
	State    string           `json:"state"`
	Ignored  bool             `json:"ignored,omitempty"`
	Networks []NetworkSummary `json:"networks,omitempty"`
}

// NetworkSummary is the serializable view of a network plan
type NetworkSummary struct {
	Network string `json:"network"`
	Address string `json:"address,omitempty"`
	Static  bool   `json:"static"`
}

// Summaries flattens the plans of every group.
func (r *Result) Summaries() []PlanSummary {
	var out []PlanSummary
	for _, g := range r.Groups {
		for _, plan := range g.Plans {
			out = append(out, Summarize(plan))
		}
	}
	return out
}

// Summarize renders one plan.
func Summarize(plan *placement.InstancePlan) PlanSummary {
	s := PlanSummary{AZ: plan.AZName(), Ignored: plan.ShouldBeIgnored()}
	switch {
	case plan.IsObsolete():
		s.State = "obsolete"
	case plan.IsNew():
		s.State = "new"
	default:
		s.State = "existing"
	}
	if plan.Instance != nil {
		s.Instance = plan.Instance.Name()
		s.ID = plan.Instance.ID
		s.UUID = plan.Instance.UUID
	}
	for _, np := range plan.NetworkPlans {
		ns := NetworkSummary{Network: np.JobNetwork.Name, Static: np.Reservation.IsStatic()}
		if np.Reservation.Resolved() {
			ns.Address = displayAddress(np.Reservation.IP)
		}
		s.Networks = append(s.Networks, ns)
	}
	return s
}

// displayAddress drops the prefix length of single-address reservations.
func displayAddress(p netip.Prefix) string {
	if p.IsSingleIP() {
		return p.Addr().String()
	}
	return p.String()
}
