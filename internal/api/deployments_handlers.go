package api

import (
	"context"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"github.com/jbweber/homelab/placer/internal/deployer"
	"github.com/jbweber/homelab/placer/internal/domain"
	"github.com/jbweber/homelab/placer/internal/manifest"
)

// maxManifestSize bounds the request body of a deployment
const maxManifestSize = 4 << 20

// DeploymentsStore is what the deployment handlers need from the deployer
type DeploymentsStore interface {
	Deploy(ctx context.Context, m *manifest.Manifest) (*deployer.Result, error)
	Instances(ctx context.Context, deploymentName string) ([]domain.Instance, error)
}

// Deployments groups deployment handlers for testability
type Deployments struct {
	store  DeploymentsStore
	logger log.FieldLogger
}

func NewDeployments(store DeploymentsStore, logger log.FieldLogger) *Deployments {
	return &Deployments{store: store, logger: logger}
}

type DeploymentResponse struct {
	Deployment string                 `json:"deployment"`
	TaskID     string                 `json:"task_id"`
	Plans      []deployer.PlanSummary `json:"plans"`
	Deleted    []string               `json:"deleted,omitempty"`
}

type InstanceResponse struct {
	ID              int64               `json:"id"`
	Name            string              `json:"name"`
	UUID            string              `json:"uuid"`
	AZ              string              `json:"az,omitempty"`
	VMType          string              `json:"vm_type,omitempty"`
	VMExtensions    []string            `json:"vm_extensions,omitempty"`
	Ignored         bool                `json:"ignored"`
	PersistentDisks []string            `json:"persistent_disks,omitempty"`
	IPAddresses     []IPAddressResponse `json:"ip_addresses"`
}

// CreateDeploymentHandler handles POST /api/v1/deployments.
//
// Request: a YAML manifest. Response: 200 with the plans of every instance
// group, 400 for an unreadable manifest, 422 when planning fails and 409 when
// a reservation conflicts.
func (d *Deployments) CreateDeploymentHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxManifestSize))
	if err != nil {
		writeError(w, d.logger, http.StatusBadRequest, "failed to read manifest: "+err.Error())
		return
	}

	m, err := manifest.Parse(body)
	if err != nil {
		writeFailure(w, d.logger, err)
		return
	}

	result, err := d.store.Deploy(r.Context(), m)
	if err != nil {
		writeFailure(w, d.logger, err)
		return
	}

	plans := result.Summaries()
	if plans == nil {
		plans = []deployer.PlanSummary{}
	}
	writeJSON(w, d.logger, http.StatusOK, DeploymentResponse{
		Deployment: result.Deployment.Name,
		TaskID:     result.TaskID,
		Plans:      plans,
		Deleted:    result.Deleted,
	})
}

// ListInstancesHandler handles GET /api/v1/deployments/{name}/instances.
func (d *Deployments) ListInstancesHandler(w http.ResponseWriter, r *http.Request) {
	instances, err := d.store.Instances(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeFailure(w, d.logger, err)
		return
	}

	response := make([]InstanceResponse, len(instances))
	for i, inst := range instances {
		response[i] = InstanceResponse{
			ID:           inst.ID,
			Name:         inst.Name(),
			UUID:         inst.UUID,
			AZ:           inst.AvailabilityZone,
			VMType:       inst.VMType,
			VMExtensions: inst.VMExtensions(),
			Ignored:      inst.Ignore,
			IPAddresses:  toIPAddressResponses(inst.IPAddresses),
		}
		for _, disk := range inst.PersistentDisks {
			response[i].PersistentDisks = append(response[i].PersistentDisks, disk.DiskCID)
		}
	}
	writeJSON(w, d.logger, http.StatusOK, response)
}
