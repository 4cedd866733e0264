// FilePath: internal/repository/influx/influx.sensor_data.go
package influx

import (
	"context"
	"fmt"
	"strings"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/farmflow/sensorhub/internal/database"
	"github.com/farmflow/sensorhub/internal/errors"
	"github.com/farmflow/sensorhub/internal/models"
	"github.com/farmflow/sensorhub/internal/repository"
	nuts "github.com/vaudience/go-nuts"
)

type pointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

type rowQuerier func(ctx context.Context, flux string) ([]models.PivotRow, error)

// SensorDataRepo stores sensor points in an InfluxDB 2.x bucket.
type SensorDataRepo struct {
	db     *database.InfluxDB
	bucket string
	writer pointWriter
	query  rowQuerier
}

// NewSensorDataRepository binds the reusable write and query handles of db.
func NewSensorDataRepository(db *database.InfluxDB) *SensorDataRepo {
	return &SensorDataRepo{
		db:     db,
		bucket: db.Bucket(),
		writer: db.WriteAPI(),
		query:  db.QueryRows,
	}
}

func (r *SensorDataRepo) WritePoint(ctx context.Context, point *models.Point) error {
	if point == nil {
		return errors.NewValidationError("nil point", nil)
	}
	if err := r.writer.WritePoint(ctx, toInfluxPoint(point)); err != nil {
		return errors.NewDatabaseError(fmt.Sprintf("failed to write point to %s", point.Measurement), err)
	}
	return nil
}

func (r *SensorDataRepo) QueryPivoted(ctx context.Context, q models.PivotQuery) ([]models.PivotRow, error) {
	flux, err := BuildPivotQuery(r.bucket, q)
	if err != nil {
		return nil, errors.NewValidationError("invalid pivot query", err)
	}
	nuts.L.Debugf("[InfluxDB] Executing Flux query: %s", flux)

	rows, err := r.query(ctx, flux)
	if err != nil {
		return nil, errors.NewDatabaseError(fmt.Sprintf("failed to query %s", q.Measurement), err)
	}
	return rows, nil
}

func (r *SensorDataRepo) Ping(ctx context.Context) error {
	if err := r.db.Ping(ctx); err != nil {
		return errors.NewDatabaseError("failed to ping influxdb", err)
	}
	return nil
}

// Close flushes the write handle and closes the client.
func (r *SensorDataRepo) Close() error {
	return r.db.Close()
}

func toInfluxPoint(p *models.Point) *write.Point {
	wp := write.NewPointWithMeasurement(p.Measurement)
	for _, f := range p.Fields {
		wp.AddField(f.Key, f.Value())
	}
	wp.SetTime(p.Timestamp)
	return wp
}

// BuildPivotQuery renders a windowed, field-filtered and time-pivoted Flux
// query for one measurement.
func BuildPivotQuery(bucket string, q models.PivotQuery) (string, error) {
	if q.Measurement == "" {
		return "", fmt.Errorf("measurement is required")
	}
	if len(q.Fields) == 0 {
		return "", fmt.Errorf("at least one field is required")
	}
	if err := repository.ValidateWindow(q.Window); err != nil {
		return "", err
	}

	fieldFilters := make([]string, len(q.Fields))
	for i, f := range q.Fields {
		fieldFilters[i] = fmt.Sprintf(`r._field == %s`, fluxString(f))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "from(bucket: %s)\n", fluxString(bucket))
	fmt.Fprintf(&b, "  |> range(start: -%s)\n", q.Window)
	fmt.Fprintf(&b, "  |> filter(fn: (r) => r._measurement == %s)\n", fluxString(q.Measurement))
	fmt.Fprintf(&b, "  |> filter(fn: (r) => %s)\n", strings.Join(fieldFilters, " or "))
	b.WriteString(`  |> pivot(rowKey: ["_time"], columnKey: ["_field"], valueColumn: "_value")`)
	return b.String(), nil
}

var fluxEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, `${`, `\${`)

func fluxString(s string) string {
	return `"` + fluxEscaper.Replace(s) + `"`
}
