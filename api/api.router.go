package api

import (
	"net/http"
	"os"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/farmflow/sensorhub/api/middleware"
	"github.com/farmflow/sensorhub/api/resources"
)

type Router struct {
	router      *mux.Router
	auth        *middleware.JWTMiddleware
	exportRoles []string
	resources   *resources.Resources
	metrics     http.Handler
}

// NewRouter wires the sensor data routes. metrics may be nil. When
// exportRoles is non-empty only those roles may download exports.
func NewRouter(res *resources.Resources, auth *middleware.JWTMiddleware, exportRoles []string, metricsPath string, metrics http.Handler) *Router {
	r := &Router{
		router:      mux.NewRouter(),
		auth:        auth,
		exportRoles: exportRoles,
		resources:   res,
		metrics:     metrics,
	}

	r.setupRoutes(metricsPath)
	return r
}

func (r *Router) setupRoutes(metricsPath string) {
	// Public routes
	r.router.HandleFunc("/", r.resources.Root).Methods(http.MethodGet)
	r.router.HandleFunc("/health", r.resources.HealthCheck).Methods(http.MethodGet)
	if r.metrics != nil {
		r.router.Handle(metricsPath, r.metrics).Methods(http.MethodGet)
	}

	// Sensor data, token protected when a secret is configured
	sensorData := r.router.PathPrefix("/sensorData").Subrouter()
	sensorData.Use(r.auth.Authenticate)
	for _, path := range []string{"", "/"} {
		sensorData.HandleFunc(path, r.resources.SensorData.InsertSensorData).Methods(http.MethodPost)
		sensorData.HandleFunc(path, r.resources.SensorData.GetSensorData).Methods(http.MethodGet)
	}
	export := r.auth.RequireRoles(r.exportRoles...)(http.HandlerFunc(r.resources.SensorData.ExportSensorData))
	sensorData.Handle("/export", export).Methods(http.MethodGet)

	r.router.NotFoundHandler = http.HandlerFunc(r.resources.NotFound)
}

// Handler returns the router wrapped in recovery, CORS and access logging.
func (r *Router) Handler() http.Handler {
	cors := handlers.CORS(
		handlers.AllowedOriginValidator(func(string) bool { return true }),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
		handlers.AllowCredentials(),
	)
	return handlers.RecoveryHandler(handlers.PrintRecoveryStack(true))(
		cors(handlers.CombinedLoggingHandler(os.Stdout, r.router)),
	)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.router.ServeHTTP(w, req)
}
