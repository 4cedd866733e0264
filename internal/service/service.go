package service

import (
	"time"

	"github.com/farmflow/sensorhub/internal/errors"
	"github.com/farmflow/sensorhub/internal/models"
	"github.com/farmflow/sensorhub/internal/monitoring"
	"github.com/farmflow/sensorhub/internal/repository"
)

// Options tune the query side of the service.
type Options struct {
	// Window is the look-back of every query, a Flux duration such as "1y".
	Window string
	// DefaultMeasurement receives HTTP inserts and unqualified queries.
	DefaultMeasurement string
}

// Service contains all repositories and service-wide dependencies
type Service struct {
	sensorData         repository.SensorDataRepository
	monitor            *monitoring.Service
	window             string
	defaultMeasurement string
	now                func() time.Time
}

// New creates a new service instance
func New(
	sensorData repository.SensorDataRepository,
	monitor *monitoring.Service,
	opts Options,
) *Service {
	if opts.Window == "" {
		opts.Window = models.DefaultWindow
	}
	if opts.DefaultMeasurement == "" {
		opts.DefaultMeasurement = models.DefaultMeasurement
	}
	return &Service{
		sensorData:         sensorData,
		monitor:            monitor,
		window:             opts.Window,
		defaultMeasurement: opts.DefaultMeasurement,
		now:                time.Now,
	}
}

// Validate checks if all required repositories are initialized
func (s *Service) Validate() error {
	if s.sensorData == nil {
		return ErrMissingRepository("sensorData")
	}
	if err := repository.ValidateWindow(s.window); err != nil {
		return errors.NewInternalError("invalid query window "+s.window, err)
	}
	return nil
}

// DefaultMeasurement is the measurement used when none is given.
func (s *Service) DefaultMeasurement() string {
	return s.defaultMeasurement
}

func ErrMissingRepository(name string) error {
	return errors.NewInternalError("missing repository: "+name, nil)
}
