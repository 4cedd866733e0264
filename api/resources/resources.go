// FilePath: api/resources/resources.go
package resources

import (
	"context"
	"net/http"
	"sort"

	"github.com/farmflow/sensorhub/internal/service"
	nuts "github.com/vaudience/go-nuts"
)

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

// Resources holds all HTTP resource handlers
type Resources struct {
	SensorData *SensorDataHandlers
	checks     map[string]HealthCheck
}

// NewResources creates a new Resources instance
func NewResources(svc service.SensorDataService, checks map[string]HealthCheck) *Resources {
	return &Resources{
		SensorData: &SensorDataHandlers{service: svc},
		checks:     checks,
	}
}

// Root answers the bare service URL.
func (res *Resources) Root(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{
		"message": "FarmFlow sensor hub is running and accessible",
		"version": nuts.GetVersion(),
	})
}

// @Summary Health check
// @Description Reports the state of storage and broker connections
// @Tags system
// @Produce json
// @Success 200 {object} map[string]any
// @Failure 503 {object} map[string]any
// @Router /health [get]
func (res *Resources) HealthCheck(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(res.checks))
	for name := range res.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := "ok"
	code := http.StatusOK
	results := make(map[string]string, len(names))
	for _, name := range names {
		if err := res.checks[name](r.Context()); err != nil {
			nuts.L.Warnf("[Health] %s: %v", name, err)
			results[name] = err.Error()
			status, code = "degraded", http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}

	respondWithJSON(w, code, map[string]any{
		"status":  status,
		"version": nuts.GetVersion(),
		"checks":  results,
	})
}

// NotFound answers unknown routes in the response envelope.
func (res *Resources) NotFound(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusNotFound, errorEnvelope{
		StatusCode: http.StatusNotFound,
		Success:    false,
		Message:    "API Not Found",
		RequestID:  nuts.NID("req", 12),
	})
}
