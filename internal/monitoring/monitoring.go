package monitoring

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	nuts "github.com/vaudience/go-nuts"
)

const (
	metricPrefix = "sensorhub_"

	ResultSuccess      = "success"
	ResultError        = "error"
	ResultUnknownTopic = "unknown_topic"
	ResultParseError   = "parse_error"
	ResultWriteError   = "write_error"
)

var (
	registerOnce sync.Once

	ingestMessages   *prometheus.CounterVec
	pointWrites      *prometheus.CounterVec
	pointLatency     *prometheus.HistogramVec
	queries          *prometheus.CounterVec
	queryRowsSkipped prometheus.Counter
	mqttConnected    prometheus.Gauge
	events           *prometheus.CounterVec
)

// Config holds monitoring configuration
type Config struct {
	MetricsPath string
}

// Service records ingestion, storage and lifecycle metrics. A nil *Service
// is valid and records nothing.
type Service struct {
	config Config
}

// NewService registers the collectors on first use and returns a recorder.
func NewService(config Config) *Service {
	registerOnce.Do(register)
	return &Service{
		config: config,
	}
}

func register() {
	ingestMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: metricPrefix + "ingest_messages_total",
			Help: "Broker messages handled by topic and result",
		},
		[]string{"topic", "result"},
	)
	pointWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: metricPrefix + "point_writes_total",
			Help: "Point writes by measurement and result",
		},
		[]string{"measurement", "result"},
	)
	pointLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    metricPrefix + "point_write_latency_seconds",
			Help:    "Point write latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"result"},
	)
	queries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: metricPrefix + "queries_total",
			Help: "Sensor data queries by result",
		},
		[]string{"result"},
	)
	queryRowsSkipped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: metricPrefix + "query_rows_skipped_total",
			Help: "Pivoted rows dropped for an unreadable time",
		},
	)
	mqttConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: metricPrefix + "mqtt_connected",
			Help: "1 while the broker connection is up",
		},
	)
	events = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: metricPrefix + "events_total",
			Help: "Lifecycle events by name",
		},
		[]string{"event"},
	)

	prometheus.MustRegister(
		ingestMessages,
		pointWrites,
		pointLatency,
		queries,
		queryRowsSkipped,
		mqttConnected,
		events,
	)
}

// MetricsPath is where Handler should be mounted.
func (s *Service) MetricsPath() string {
	if s == nil || s.config.MetricsPath == "" {
		return "/metrics"
	}
	return s.config.MetricsPath
}

// Handler serves the Prometheus exposition format.
func (s *Service) Handler() http.Handler {
	return promhttp.Handler()
}

// RecordEvent records a monitored event with labels
func (s *Service) RecordEvent(eventName string, labels map[string]string) {
	if s == nil {
		return
	}
	nuts.L.Debugf("[Monitoring] Event %s recorded with labels: %v", eventName, labels)
	events.WithLabelValues(eventName).Inc()
}

// IngestMessage counts one broker message outcome.
func (s *Service) IngestMessage(topic, result string) {
	if s == nil {
		return
	}
	ingestMessages.WithLabelValues(topic, result).Inc()
}

// PointWrite counts one write and observes its latency.
func (s *Service) PointWrite(measurement string, err error, elapsed time.Duration) {
	if s == nil {
		return
	}
	result := ResultSuccess
	if err != nil {
		result = ResultError
	}
	pointWrites.WithLabelValues(measurement, result).Inc()
	pointLatency.WithLabelValues(result).Observe(elapsed.Seconds())
}

// Query counts one query outcome and the rows it skipped.
func (s *Service) Query(err error, skipped int) {
	if s == nil {
		return
	}
	result := ResultSuccess
	if err != nil {
		result = ResultError
	}
	queries.WithLabelValues(result).Inc()
	if skipped > 0 {
		queryRowsSkipped.Add(float64(skipped))
	}
}

// SetConnected tracks the broker connection.
func (s *Service) SetConnected(up bool) {
	if s == nil {
		return
	}
	if up {
		mqttConnected.Set(1)
	} else {
		mqttConnected.Set(0)
	}
}
