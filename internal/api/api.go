package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"
)

// Service is everything the HTTP surface needs. *deployer.Deployer satisfies it.
type Service interface {
	DeploymentsStore
	IPAddressesStore
	InstancesStore
}

// API exposes placement and IP bookkeeping over HTTP
type API struct {
	service Service
	logger  log.FieldLogger
}

// NewAPI creates a new API backed by service. A nil logger falls back to the
// standard logrus logger.
func NewAPI(service Service, logger log.FieldLogger) *API {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &API{service: service, logger: logger}
}

// NewRouter builds the full chi router including middleware and the health
// check.
func NewRouter(a *API) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		if _, err := fmt.Fprintln(w, "Placer service is running!"); err != nil {
			a.logger.WithError(err).Warn("failed to write response")
		}
	})

	a.RegisterRoutes(r)
	return r
}

// RegisterRoutes registers all API endpoints to the given chi router.
func (a *API) RegisterRoutes(r chi.Router) {
	deployments := NewDeployments(a.service, a.logger)
	r.Route("/api/v1/deployments", func(r chi.Router) {
		r.Post("/", deployments.CreateDeploymentHandler)
		r.Get("/{name}/instances", deployments.ListInstancesHandler)
	})

	instances := NewInstances(a.service, a.logger)
	r.Route("/api/v1/instances", func(r chi.Router) {
		r.Post("/{id}/orphan", instances.OrphanHandler)
	})

	ips := NewIPAddresses(a.service, a.logger)
	r.Route("/api/v1/ip-addresses", func(r chi.Router) {
		r.Get("/", ips.ListHandler)
		r.Delete("/", ips.ReleaseHandler)
		r.Get("/lookup", ips.LookupHandler)
	})
}
