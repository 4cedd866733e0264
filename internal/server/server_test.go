package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/farmflow/sensorhub/internal/config"
)

func memoryConfig() *config.Config {
	return &config.Config{
		Server:     config.ServerConfig{Host: "127.0.0.1", Port: 0, ShutdownTimeout: 5 * time.Second},
		Storage:    config.StorageConfig{Backend: config.BackendMemory},
		Query:      config.QueryConfig{Window: "1y", DefaultMeasurement: "sensor_reading"},
		Monitoring: config.MonitoringConfig{MetricsPath: "/metrics"},
	}
}

func TestSetupServesSensorData(t *testing.T) {
	s := New(memoryConfig())
	if err := s.setup(); err != nil {
		t.Fatalf("setup: %v", err)
	}
	defer s.Shutdown()

	body := `{"farmerId":"fr1","fieldId":"fd1","temperature":20,"humidity":50,"soil_moisture":30,"light_intensity":100}`
	req := httptest.NewRequest(http.MethodPost, "/sensorData", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("insert: %d %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/sensorData?farmerId=fr1&fieldId=fd1", nil)
	rec = httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"temperature":20`) {
		t.Fatalf("fetch: %d %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec = httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "sensorhub_") {
		t.Fatalf("metrics: %d", rec.Code)
	}
}

func TestSetupRejectsUnknownBackend(t *testing.T) {
	cfg := memoryConfig()
	cfg.Storage.Backend = "cassandra"
	if err := New(cfg).setup(); err == nil {
		t.Fatalf("expected error")
	}
}

func TestSetupRejectsMissingTopicsFile(t *testing.T) {
	cfg := memoryConfig()
	cfg.MQTT = config.MQTTConfig{Enabled: true, TopicsFile: "/does/not/exist.yaml"}
	if err := New(cfg).setup(); err == nil {
		t.Fatalf("expected error")
	}
}

func TestShutdownWithoutStartIsClean(t *testing.T) {
	s := New(memoryConfig())
	if err := s.setup(); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := s.Shutdown(); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
