package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"github.com/jbweber/homelab/placer/internal/domain"
)

// InstancesStore detaches instances from their deployment
type InstancesStore interface {
	Orphan(ctx context.Context, instanceID int64) (domain.OrphanedVM, error)
}

// Instances groups instance handlers for testability
type Instances struct {
	store  InstancesStore
	logger log.FieldLogger
}

func NewInstances(store InstancesStore, logger log.FieldLogger) *Instances {
	return &Instances{store: store, logger: logger}
}

type OrphanedVMResponse struct {
	ID         int64  `json:"id"`
	CID        string `json:"cid"`
	Deployment string `json:"deployment"`
	Instance   string `json:"instance"`
	AZ         string `json:"az,omitempty"`
}

// OrphanHandler handles POST /api/v1/instances/{id}/orphan.
func (h *Instances) OrphanHandler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "Invalid instance ID")
		return
	}

	vm, err := h.store.Orphan(r.Context(), id)
	if err != nil {
		writeFailure(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, OrphanedVMResponse{
		ID:         vm.ID,
		CID:        vm.CID,
		Deployment: vm.DeploymentName,
		Instance:   vm.InstanceName,
		AZ:         vm.AvailabilityZone,
	})
}
