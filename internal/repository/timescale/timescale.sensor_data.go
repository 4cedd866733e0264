// FilePath: internal/repository/timescale/timescale.sensor_data.go
package timescale

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/farmflow/sensorhub/internal/database"
	"github.com/farmflow/sensorhub/internal/errors"
	"github.com/farmflow/sensorhub/internal/models"
	"github.com/farmflow/sensorhub/internal/repository"
	nuts "github.com/vaudience/go-nuts"
)

// SensorDataRepo keeps one row per (measurement, field, time) in a
// TimescaleDB hypertable and pivots rows by time on read.
type SensorDataRepo struct {
	TimeScaleBaseRepo
	now func() time.Time
}

type fieldRow struct {
	Time        time.Time       `db:"time"`
	Field       string          `db:"field"`
	ValueFloat  sql.NullFloat64 `db:"value_float"`
	ValueString sql.NullString  `db:"value_string"`
	ValueBool   sql.NullBool    `db:"value_bool"`
}

func NewSensorDataRepository(db database.DB) (*SensorDataRepo, error) {
	repo := &SensorDataRepo{TimeScaleBaseRepo: TimeScaleBaseRepo{db: db}, now: time.Now}
	if err := repo.initializeSchema(); err != nil {
		return nil, err
	}
	return repo, nil
}

func (r *SensorDataRepo) initializeSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS sensor_points (
			measurement TEXT NOT NULL,
			field TEXT NOT NULL,
			time TIMESTAMPTZ NOT NULL,
			value_float DOUBLE PRECISION,
			value_string TEXT,
			value_bool BOOLEAN,
			PRIMARY KEY (measurement, field, time)
		)`,
		`SELECT create_hypertable('sensor_points', 'time',
			chunk_time_interval => INTERVAL '7 days',
			if_not_exists => TRUE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sensor_points_measurement_time
         ON sensor_points(measurement, time DESC)`,
	}

	for _, query := range queries {
		if _, err := r.db.GetDB().Exec(query); err != nil {
			return errors.NewDatabaseError("failed to initialize schema", err)
		}
	}
	return nil
}

const upsertField = `
	INSERT INTO sensor_points (measurement, field, time, value_float, value_string, value_bool)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (measurement, field, time) DO UPDATE
	SET value_float = EXCLUDED.value_float,
		value_string = EXCLUDED.value_string,
		value_bool = EXCLUDED.value_bool`

// WritePoint stores every field of the point in one transaction. Writing the
// same measurement, field and time again overwrites the value.
func (r *SensorDataRepo) WritePoint(ctx context.Context, point *models.Point) error {
	if point == nil {
		return errors.NewValidationError("nil point", nil)
	}
	tx, err := r.BeginTx(ctx)
	if err != nil {
		return err
	}

	ts := point.Timestamp.UTC().Truncate(time.Millisecond)
	for _, f := range point.Fields {
		var (
			fv sql.NullFloat64
			sv sql.NullString
			bv sql.NullBool
		)
		switch f.Kind {
		case models.FieldFloat:
			fv = sql.NullFloat64{Float64: f.Float, Valid: true}
		case models.FieldString:
			sv = sql.NullString{String: f.String, Valid: true}
		case models.FieldBool:
			bv = sql.NullBool{Bool: f.Bool, Valid: true}
		default:
			continue
		}
		if _, err := tx.ExecContext(ctx, upsertField, point.Measurement, f.Key, ts, fv, sv, bv); err != nil {
			if rbErr := r.Rollback(tx); rbErr != nil {
				nuts.L.Errorf("[TimescaleDB] Rollback failed: %v", rbErr)
			}
			return errors.NewDatabaseError(fmt.Sprintf("failed to write field %s", f.Key), err)
		}
	}
	return r.Commit(tx)
}

func (r *SensorDataRepo) QueryPivoted(ctx context.Context, q models.PivotQuery) ([]models.PivotRow, error) {
	start, err := repository.WindowStart(r.now(), q.Window)
	if err != nil {
		return nil, errors.NewValidationError("invalid pivot query", err)
	}

	query := `
		SELECT time, field, value_float, value_string, value_bool
		FROM sensor_points
		WHERE measurement = $1 AND time >= $2 AND field = ANY($3)
		ORDER BY time ASC`

	rows := []fieldRow{}
	if err := r.db.GetDB().SelectContext(ctx, &rows, query, q.Measurement, start, pq.Array(q.Fields)); err != nil {
		return nil, errors.NewDatabaseError(fmt.Sprintf("failed to query %s", q.Measurement), err)
	}
	return pivotRows(rows), nil
}

// pivotRows folds time ordered field rows into one row per instant.
func pivotRows(rows []fieldRow) []models.PivotRow {
	var result []models.PivotRow
	var current models.PivotRow
	var currentTime time.Time
	for _, fr := range rows {
		if current == nil || !fr.Time.Equal(currentTime) {
			current = models.PivotRow{models.TimeColumn: fr.Time.UTC()}
			currentTime = fr.Time
			result = append(result, current)
		}
		switch {
		case fr.ValueFloat.Valid:
			current[fr.Field] = fr.ValueFloat.Float64
		case fr.ValueString.Valid:
			current[fr.Field] = fr.ValueString.String
		case fr.ValueBool.Valid:
			current[fr.Field] = fr.ValueBool.Bool
		}
	}
	return result
}
