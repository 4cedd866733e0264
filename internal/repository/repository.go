// FilePath: internal/repository/repository.go
package repository

import (
	"context"
	"errors"

	"github.com/farmflow/sensorhub/internal/models"
)

var (
	// ErrClosed indicates that the repository has been shut down
	ErrClosed = errors.New("repository closed")
	// ErrInvalidWindow indicates that a query window cannot be parsed
	ErrInvalidWindow = errors.New("invalid query window")
)

// SensorDataRepository defines the interface for time-series sensor points.
// Implementations must be safe for concurrent use.
type SensorDataRepository interface {
	// WritePoint stores one point and returns once it is durable.
	WritePoint(ctx context.Context, point *models.Point) error
	// QueryPivoted returns one row per distinct timestamp, oldest first.
	QueryPivoted(ctx context.Context, q models.PivotQuery) ([]models.PivotRow, error)
	Ping(ctx context.Context) error
	// Close flushes pending writes and releases the connection.
	Close() error
}
