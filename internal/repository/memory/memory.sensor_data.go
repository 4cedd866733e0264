package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/farmflow/sensorhub/internal/errors"
	"github.com/farmflow/sensorhub/internal/models"
	"github.com/farmflow/sensorhub/internal/repository"
)

// SensorDataRepo is an in-memory time-series store for local runs and tests.
// Points sharing a measurement and millisecond timestamp merge into one row,
// the last write of a field wins.
type SensorDataRepo struct {
	mu     sync.RWMutex
	series map[string]map[int64]map[string]any
	closed bool
	now    func() time.Time
}

// NewSensorDataRepository constructs an empty repository.
func NewSensorDataRepository() *SensorDataRepo {
	return &SensorDataRepo{
		series: make(map[string]map[int64]map[string]any),
		now:    time.Now,
	}
}

// WithClock overrides the clock used to resolve query windows.
func (r *SensorDataRepo) WithClock(now func() time.Time) *SensorDataRepo {
	r.now = now
	return r
}

func (r *SensorDataRepo) WritePoint(ctx context.Context, point *models.Point) error {
	_ = ctx
	if point == nil {
		return errors.NewValidationError("nil point", nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errors.NewDatabaseError("failed to write point", repository.ErrClosed)
	}

	rows := r.series[point.Measurement]
	if rows == nil {
		rows = make(map[int64]map[string]any)
		r.series[point.Measurement] = rows
	}
	key := point.Timestamp.UnixMilli()
	row := rows[key]
	if row == nil {
		row = make(map[string]any, len(point.Fields))
		rows[key] = row
	}
	for _, f := range point.Fields {
		row[f.Key] = f.Value()
	}
	return nil
}

func (r *SensorDataRepo) QueryPivoted(ctx context.Context, q models.PivotQuery) ([]models.PivotRow, error) {
	_ = ctx
	start, err := repository.WindowStart(r.now(), q.Window)
	if err != nil {
		return nil, errors.NewDatabaseError("failed to build query", err)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, errors.NewDatabaseError("failed to query points", repository.ErrClosed)
	}

	rows := r.series[q.Measurement]
	keys := make([]int64, 0, len(rows))
	for k := range rows {
		if k >= start.UnixMilli() {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	result := make([]models.PivotRow, 0, len(keys))
	for _, k := range keys {
		row := models.PivotRow{}
		for _, field := range q.Fields {
			if v, ok := rows[k][field]; ok {
				row[field] = v
			}
		}
		// rows without any selected field do not survive the field filter
		if len(row) == 0 {
			continue
		}
		row[models.TimeColumn] = time.UnixMilli(k).UTC()
		result = append(result, row)
	}
	return result, nil
}

// Count returns the number of stored rows of a measurement.
func (r *SensorDataRepo) Count(measurement string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.series[measurement])
}

func (r *SensorDataRepo) Ping(ctx context.Context) error {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return errors.NewDatabaseError("failed to ping repository", repository.ErrClosed)
	}
	return nil
}

func (r *SensorDataRepo) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}
