package service

import (
	"context"
	"fmt"
	"time"

	"github.com/farmflow/sensorhub/internal/errors"
	"github.com/farmflow/sensorhub/internal/models"
	nuts "github.com/vaudience/go-nuts"
)

// SensorDataService handles sensor data ingestion and retrieval
type SensorDataService interface {
	InsertRecord(ctx context.Context, measurement string, rec models.Record) error
	InsertSensorData(ctx context.Context, data models.SensorRecord) error
	FetchSensorData(ctx context.Context, filter models.QueryFilter) ([]models.SensorRecord, error)
	DefaultMeasurement() string
}

var _ SensorDataService = (*Service)(nil)

// InsertRecord writes one flat record as a point of measurement. Values
// that are not strings, numbers or booleans are dropped with a warning.
func (s *Service) InsertRecord(ctx context.Context, measurement string, rec models.Record) error {
	point, dropped, err := models.NewPoint(measurement, rec, s.now())
	if err != nil {
		return errors.NewValidationError("Invalid timestamp format", err)
	}
	for _, f := range dropped {
		nuts.L.Warnf("[SensorDataService] Unsupported type for field %s in %s: %T", f.Key, measurement, f.Source)
	}

	start := time.Now()
	err = s.sensorData.WritePoint(ctx, point)
	s.monitor.PointWrite(measurement, err, time.Since(start))
	if err != nil {
		nuts.L.Errorf("[SensorDataService] Error inserting data into %s: %v", measurement, err)
		return errors.NewInternalError(fmt.Sprintf("failed to insert data into %s", measurement), err)
	}
	nuts.L.Debugf("[SensorDataService] Wrote %d fields to %s at %s", len(point.Fields), measurement, point.Timestamp.Format(time.RFC3339Nano))
	return nil
}

// InsertSensorData stores a validated reading under the default measurement.
func (s *Service) InsertSensorData(ctx context.Context, data models.SensorRecord) error {
	return s.InsertRecord(ctx, s.defaultMeasurement, data.ToRecord())
}

// FetchSensorData reads the query window of one measurement, oldest first.
// Rows without a readable time are skipped. A farmerId/fieldId pair keeps
// exact matches only, and LatestOnly reduces the result to the newest row.
func (s *Service) FetchSensorData(ctx context.Context, filter models.QueryFilter) ([]models.SensorRecord, error) {
	if err := filter.Validate(); err != nil {
		return nil, errors.NewValidationError(err.Error(), err)
	}
	measurement := filter.MeasurementOr(s.defaultMeasurement)

	rows, err := s.sensorData.QueryPivoted(ctx, models.PivotQuery{
		Measurement: measurement,
		Window:      s.window,
		Fields:      models.DefaultQueryFields,
	})
	if err != nil {
		s.monitor.Query(err, 0)
		nuts.L.Errorf("[SensorDataService] Error fetching sensor data from %s: %v", measurement, err)
		return nil, errors.NewNotFoundError(fmt.Sprintf("failed to fetch sensor data from %s", measurement), err)
	}

	records := make([]models.SensorRecord, 0, len(rows))
	skipped := 0
	for _, row := range rows {
		rec, err := models.SensorRecordFromRow(row)
		if err != nil {
			skipped++
			nuts.L.Warnf("[SensorDataService] Skipping row of %s: %v (_time=%v)", measurement, err, row[models.TimeColumn])
			continue
		}
		if filter.HasPair() && (rec.FarmerID != filter.FarmerID || rec.FieldID != filter.FieldID) {
			continue
		}
		records = append(records, rec)
	}
	s.monitor.Query(nil, skipped)

	if filter.LatestOnly {
		return latest(records), nil
	}
	return records, nil
}

// latest keeps the first record holding the greatest timestamp.
func latest(records []models.SensorRecord) []models.SensorRecord {
	if len(records) == 0 {
		return records
	}
	best := 0
	for i := 1; i < len(records); i++ {
		if records[i].TimeStamp.After(*records[best].TimeStamp) {
			best = i
		}
	}
	return records[best : best+1]
}
