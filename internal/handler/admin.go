package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/angeloszaimis/mesh-gateway/internal/circuitbreaker"
	"github.com/angeloszaimis/mesh-gateway/internal/healthcheck"
	"github.com/angeloszaimis/mesh-gateway/internal/registry"
)

const maxRegistrationBody = 1 << 20

// Admin serves the registry, breaker and health endpoints.
type Admin struct {
	logger     *slog.Logger
	services   *registry.InMemory
	breakers   *circuitbreaker.Registry
	aggregator *healthcheck.Aggregator
}

func NewAdmin(logger *slog.Logger, services *registry.InMemory, breakers *circuitbreaker.Registry, aggregator *healthcheck.Aggregator) *Admin {
	if logger == nil {
		logger = slog.Default()
	}

	return &Admin{
		logger:     logger,
		services:   services,
		breakers:   breakers,
		aggregator: aggregator,
	}
}

// Register mounts the admin routes on mux.
func (a *Admin) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", a.Health)
	mux.HandleFunc("GET /services", a.ListServices)
	mux.HandleFunc("GET /services/{name}", a.DiscoverService)
	mux.HandleFunc("POST /services", a.RegisterInstance)
	mux.HandleFunc("DELETE /services/instances/{id}", a.DeregisterInstance)
	mux.HandleFunc("PUT /services/instances/{id}/heartbeat", a.Heartbeat)
	mux.HandleFunc("GET /breakers", a.Breakers)
	mux.HandleFunc("POST /breakers/reset", a.ResetBreakers)
}

// Health reports 503 only when some service has no healthy instance.
func (a *Admin) Health(w http.ResponseWriter, r *http.Request) {
	report := a.aggregator.OverallHealth()

	status := http.StatusOK
	if report.Status == healthcheck.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, report)
}

func (a *Admin) ListServices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.services.AllServices())
}

func (a *Admin) DiscoverService(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	instances := a.services.Discover(name)
	if r.URL.Query().Get("healthy") == "true" {
		instances = a.services.HealthyInstances(name)
	}

	writeJSON(w, http.StatusOK, instances)
}

func (a *Admin) RegisterInstance(w http.ResponseWriter, r *http.Request) {
	var instance registry.Instance

	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRegistrationBody))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&instance); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	stored, err := a.services.Register(instance)
	if err != nil {
		if errors.Is(err, registry.ErrInvalidInstance) {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, stored)
}

func (a *Admin) DeregisterInstance(w http.ResponseWriter, r *http.Request) {
	if err := a.services.Deregister(r.PathValue("id")); err != nil {
		a.notFoundOrFail(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (a *Admin) Heartbeat(w http.ResponseWriter, r *http.Request) {
	if err := a.services.UpdateHeartbeat(r.PathValue("id")); err != nil {
		a.notFoundOrFail(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (a *Admin) Breakers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.breakers.AllMetrics())
}

// ResetBreakers resets every breaker, or only the one named by ?name=.
func (a *Admin) ResetBreakers(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		a.breakers.ResetAll()
		a.logger.Info("All circuit breakers reset", slog.String("trace_id", TraceID(r.Context())))
		writeJSON(w, http.StatusOK, a.breakers.AllMetrics())
		return
	}

	cb, ok := a.breakers.Get(name)
	if !ok {
		writeError(w, r, http.StatusNotFound, "unknown circuit breaker "+name)
		return
	}

	cb.Reset()
	a.logger.Info("Circuit breaker reset",
		slog.String("breaker", name),
		slog.String("trace_id", TraceID(r.Context())))
	writeJSON(w, http.StatusOK, cb.Metrics())
}

func (a *Admin) notFoundOrFail(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, registry.ErrInstanceNotFound) {
		writeError(w, r, http.StatusNotFound, err.Error())
		return
	}
	writeError(w, r, http.StatusInternalServerError, err.Error())
}
