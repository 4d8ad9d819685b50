package api

import (
	"context"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/jbweber/homelab/placer/internal/domain"
)

// IPAddressesStore defines the lookups behind the IP address handlers
type IPAddressesStore interface {
	IPAddresses(ctx context.Context, network string) ([]domain.IPAddress, error)
	LookupIP(ctx context.Context, address string) ([]domain.IPAddress, error)
	ReleaseIP(ctx context.Context, cidr string) error
}

// IPAddresses groups IP address handlers for testability
type IPAddresses struct {
	store  IPAddressesStore
	logger log.FieldLogger
}

func NewIPAddresses(store IPAddressesStore, logger log.FieldLogger) *IPAddresses {
	return &IPAddresses{store: store, logger: logger}
}

type IPAddressResponse struct {
	ID           int64  `json:"id"`
	Address      string `json:"address"`
	Network      string `json:"network"`
	Static       bool   `json:"static"`
	InstanceID   *int64 `json:"instance_id,omitempty"`
	OrphanedVMID *int64 `json:"orphaned_vm_id,omitempty"`
	TaskID       string `json:"task_id,omitempty"`
}

func toIPAddressResponses(rows []domain.IPAddress) []IPAddressResponse {
	out := make([]IPAddressResponse, len(rows))
	for i, row := range rows {
		out[i] = IPAddressResponse{
			ID:           row.ID,
			Address:      row.Address,
			Network:      row.NetworkName,
			Static:       row.Static,
			InstanceID:   row.InstanceID,
			OrphanedVMID: row.OrphanedVMID,
			TaskID:       row.TaskID,
		}
	}
	return out
}

// ListHandler handles GET /api/v1/ip-addresses, optionally filtered by the
// network query parameter.
func (h *IPAddresses) ListHandler(w http.ResponseWriter, r *http.Request) {
	rows, err := h.store.IPAddresses(r.Context(), r.URL.Query().Get("network"))
	if err != nil {
		writeFailure(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, toIPAddressResponses(rows))
}

// LookupHandler handles GET /api/v1/ip-addresses/lookup?address=.
func (h *IPAddresses) LookupHandler(w http.ResponseWriter, r *http.Request) {
	address := r.URL.Query().Get("address")
	if address == "" {
		writeError(w, h.logger, http.StatusBadRequest, "address is required")
		return
	}

	rows, err := h.store.LookupIP(r.Context(), address)
	if err != nil {
		writeFailure(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, toIPAddressResponses(rows))
}

// ReleaseHandler handles DELETE /api/v1/ip-addresses?address=.
func (h *IPAddresses) ReleaseHandler(w http.ResponseWriter, r *http.Request) {
	address := r.URL.Query().Get("address")
	if address == "" {
		writeError(w, h.logger, http.StatusBadRequest, "address is required")
		return
	}

	if err := h.store.ReleaseIP(r.Context(), address); err != nil {
		writeFailure(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
