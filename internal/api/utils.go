package api

import (
	"encoding/json"
	"errors"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/jbweber/homelab/placer/internal/domain"
	"github.com/jbweber/homelab/placer/internal/manifest"
	"github.com/jbweber/homelab/placer/internal/repository"
)

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, logger log.FieldLogger, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.WithError(err).Error("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, logger log.FieldLogger, status int, msg string) {
	writeJSON(w, logger, status, ErrorResponse{Error: msg})
}

// writeFailure maps err to a status code. Domain errors carry their code.
func writeFailure(w http.ResponseWriter, logger log.FieldLogger, err error) {
	status := statusFor(err)
	resp := ErrorResponse{Error: err.Error()}

	var derr *domain.Error
	if errors.As(err, &derr) {
		resp.Code = derr.Code
	}
	if status == http.StatusInternalServerError {
		logger.WithError(err).Error("request failed")
		resp.Error = "internal error"
	}
	writeJSON(w, logger, status, resp)
}

func statusFor(err error) int {
	var derr *domain.Error
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case domain.IsConflict(err), errors.Is(err, repository.ErrReservationConflict), errors.Is(err, repository.ErrDuplicate):
		return http.StatusConflict
	case errors.As(err, &derr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, manifest.ErrInvalidManifest), errors.Is(err, repository.ErrInvalidEntity):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
