// FilePath: internal/server/server.go
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/farmflow/sensorhub/api"
	"github.com/farmflow/sensorhub/api/middleware"
	"github.com/farmflow/sensorhub/api/resources"
	"github.com/farmflow/sensorhub/internal/config"
	"github.com/farmflow/sensorhub/internal/database"
	"github.com/farmflow/sensorhub/internal/monitoring"
	"github.com/farmflow/sensorhub/internal/repository"
	"github.com/farmflow/sensorhub/internal/repository/cache"
	"github.com/farmflow/sensorhub/internal/repository/influx"
	"github.com/farmflow/sensorhub/internal/repository/memory"
	"github.com/farmflow/sensorhub/internal/repository/timescale"
	"github.com/farmflow/sensorhub/internal/service"
	"github.com/farmflow/sensorhub/internal/subscriber"
	"github.com/farmflow/sensorhub/internal/topics"
	nuts "github.com/vaudience/go-nuts"
)

// Server represents our HTTP server and the MQTT subscriber feeding it
type Server struct {
	config     *config.Config
	srv        *http.Server
	repo       repository.SensorDataRepository
	service    *service.Service
	subscriber *subscriber.Subscriber
	monitoring *monitoring.Service
	cancel     context.CancelFunc
	done       chan struct{}
}

// New creates a new server instance
func New(cfg *config.Config) *Server {
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return &Server{
		config: cfg,
		srv:    srv,
	}
}

// Start wires every component, begins listening and blocks until a
// termination signal arrives.
func (s *Server) Start() error {
	if err := s.setup(); err != nil {
		return err
	}

	go func() {
		nuts.L.Infof("[Server] Starting server on %s", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			nuts.L.Errorf("[Server] Error starting server: %v", err)
			os.Exit(1)
		}
	}()

	return s.waitForShutdown()
}

func (s *Server) setup() error {
	s.monitoring = monitoring.NewService(monitoring.Config{
		MetricsPath: s.config.Monitoring.MetricsPath,
	})

	repo, err := initRepository(s.config)
	if err != nil {
		return err
	}
	s.repo = repo

	s.service = service.New(repo, s.monitoring, service.Options{
		Window:             s.config.Query.Window,
		DefaultMeasurement: s.config.Query.DefaultMeasurement,
	})
	if err := s.service.Validate(); err != nil {
		return err
	}

	checks := map[string]resources.HealthCheck{
		"storage": repo.Ping,
	}

	if s.config.MQTT.Enabled {
		registry, err := initTopics(s.config.MQTT)
		if err != nil {
			return err
		}
		s.subscriber = subscriber.New(s.config.MQTT, registry, s.service, s.monitoring)
		s.setupSubscriberHandlers()
		checks["mqtt"] = func(context.Context) error {
			if st := s.subscriber.State(); st != subscriber.StateConnected {
				return fmt.Errorf("subscriber %s", st)
			}
			return nil
		}

		ctx, cancel := context.WithCancel(context.Background())
		s.cancel = cancel
		s.done = make(chan struct{})
		go func() {
			defer close(s.done)
			if err := s.subscriber.Run(ctx); err != nil {
				nuts.L.Errorf("[Server] Subscriber stopped: %v", err)
			}
		}()
	} else {
		nuts.L.Warnf("[Server] MQTT disabled, only HTTP ingestion is available")
	}

	res := resources.NewResources(s.service, checks)
	auth := middleware.NewJWTMiddleware(s.config.Auth.JWTSecret)
	if !auth.Enabled() {
		nuts.L.Warnf("[Server] No JWT secret configured, /sensorData is unauthenticated")
	}
	router := api.NewRouter(res, auth, s.config.Auth.ExportRoles, s.monitoring.MetricsPath(), s.monitoring.Handler())
	s.srv.Handler = router.Handler()
	return nil
}

// waitForShutdown waits for interrupt signal and gracefully shuts down the server
func (s *Server) waitForShutdown() error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	nuts.L.Infof("[Server] Received %s, shutting down...", sig)
	return s.Shutdown()
}

// Shutdown stops intake first, then the HTTP server, then storage.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer cancel()

	if s.subscriber != nil {
		if err := s.subscriber.Close(); err != nil {
			nuts.L.Warnf("[Server] Error closing subscriber: %v", err)
		}
		s.cancel()
		select {
		case <-s.done:
		case <-ctx.Done():
			nuts.L.Warnf("[Server] Subscriber supervisor did not stop in time")
		}
	}

	var shutdownErr error
	if err := s.srv.Shutdown(ctx); err != nil {
		shutdownErr = fmt.Errorf("error shutting down server: %w", err)
	}

	if s.repo != nil {
		if err := s.repo.Close(); err != nil {
			nuts.L.Warnf("[Server] Error closing storage: %v", err)
		}
	}

	if shutdownErr != nil {
		return shutdownErr
	}
	nuts.L.Infof("[Server] Server shut down successfully")
	return nil
}

func (s *Server) setupSubscriberHandlers() {
	s.subscriber.OnEvent(subscriber.EventConnected, "server", func(args []interface{}) {
		nuts.L.Infof("[Server] Broker connected %v", args)
		s.monitoring.RecordEvent("mqtt_connected", nil)
	})
	s.subscriber.OnEvent(subscriber.EventDisconnected, "server", func(args []interface{}) {
		nuts.L.Warnf("[Server] Broker disconnected %v", args)
		s.monitoring.RecordEvent("mqtt_disconnected", nil)
	})
	s.subscriber.OnEvent(subscriber.EventRecordDropped, "server", func(args []interface{}) {
		nuts.L.Debugf("[Server] Record dropped %v", args)
	})
}

func initTopics(cfg config.MQTTConfig) (*topics.Registry, error) {
	if cfg.TopicsFile == "" {
		return topics.Defaults(), nil
	}
	registry, err := topics.LoadFile(cfg.TopicsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load topics from %s: %w", cfg.TopicsFile, err)
	}
	nuts.L.Infof("[Server] Loaded %d topics from %s", len(registry.Topics()), cfg.TopicsFile)
	return registry, nil
}

// initRepository opens the configured backend and optionally fronts it with
// the redis query cache.
func initRepository(cfg *config.Config) (repository.SensorDataRepository, error) {
	var repo repository.SensorDataRepository
	switch cfg.Storage.Backend {
	case config.BackendInflux:
		db, err := database.NewInfluxDB(cfg.Influx)
		if err != nil {
			return nil, fmt.Errorf("failed to create influx client: %w", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := db.Ping(ctx); err != nil {
			nuts.L.Warnf("[Server] InfluxDB not reachable yet: %v", err)
		}
		repo = influx.NewSensorDataRepository(db)
	case config.BackendTimescale:
		db, err := database.NewTimescaleDB(cfg.TimescaleDB)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to TimescaleDB: %w", err)
		}
		tsRepo, err := timescale.NewSensorDataRepository(db)
		if err != nil {
			db.Close()
			return nil, err
		}
		repo = tsRepo
	case config.BackendMemory:
		nuts.L.Warnf("[Server] Using in-memory storage, data is lost on restart")
		repo = memory.NewSensorDataRepository()
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}

	if cfg.Redis.Enabled {
		addr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
		client := cache.NewClient(addr, cfg.Redis.Password, cfg.Redis.DB)
		nuts.L.Infof("[Server] Query cache enabled at %s (ttl %s)", addr, cfg.Redis.TTL)
		repo = cache.NewSensorDataRepository(repo, client, cfg.Redis.TTL)
	}
	return repo, nil
}
