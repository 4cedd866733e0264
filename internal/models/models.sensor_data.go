// FilePath: internal/models/models.sensor_data.go
package models

import (
	"errors"
	"time"
)

// Sensor field names shared by the write and read paths.
const (
	FieldFarmerID       = "farmerId"
	FieldFieldID        = "fieldId"
	FieldTemperature    = "temperature"
	FieldHumidity       = "humidity"
	FieldSoilMoisture   = "soil_moisture"
	FieldLightIntensity = "light_intensity"
	FieldTimeStamp      = "timeStamp"

	// TimeColumn is the row key of a pivoted row.
	TimeColumn = "_time"

	DefaultMeasurement = "sensor_reading"
	DefaultWindow      = "1y"
)

// DefaultQueryFields is the fixed field set selected by sensor queries.
var DefaultQueryFields = []string{
	FieldTemperature,
	FieldHumidity,
	FieldSoilMoisture,
	FieldLightIntensity,
	FieldFarmerID,
	FieldFieldID,
}

var (
	// ErrMissingRowTime is returned for pivoted rows without a usable _time.
	ErrMissingRowTime = errors.New("row has no valid time")
)

// SensorRecord represents one reading of a field sensor
type SensorRecord struct {
	FarmerID       string     `json:"farmerId,omitempty"`
	FieldID        string     `json:"fieldId,omitempty"`
	Temperature    *float64   `json:"temperature,omitempty"`
	Humidity       *float64   `json:"humidity,omitempty"`
	SoilMoisture   *float64   `json:"soil_moisture,omitempty"`
	LightIntensity *float64   `json:"light_intensity,omitempty"`
	TimeStamp      *time.Time `json:"timeStamp,omitempty"`
}

// Record is a flat, schema-free object handed to the point writer.
type Record map[string]any

// ToRecord flattens the reading, leaving out absent values.
func (s SensorRecord) ToRecord() Record {
	rec := Record{
		FieldFarmerID: s.FarmerID,
		FieldFieldID:  s.FieldID,
	}
	addFloat := func(key string, v *float64) {
		if v != nil {
			rec[key] = *v
		}
	}
	addFloat(FieldTemperature, s.Temperature)
	addFloat(FieldHumidity, s.Humidity)
	addFloat(FieldSoilMoisture, s.SoilMoisture)
	addFloat(FieldLightIntensity, s.LightIntensity)
	if s.TimeStamp != nil {
		rec[FieldTimeStamp] = *s.TimeStamp
	}
	return rec
}

// PivotQuery describes a windowed, field-pivoted read of one measurement.
type PivotQuery struct {
	Measurement string
	Window      string
	Fields      []string
}

// PivotRow is one output row of a pivoted query: _time plus one column per field.
type PivotRow map[string]any

// Time parses the row's _time column.
func (r PivotRow) Time() (time.Time, error) {
	switch v := r[TimeColumn].(type) {
	case time.Time:
		if v.IsZero() {
			return time.Time{}, ErrMissingRowTime
		}
		return v, nil
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return time.Time{}, ErrMissingRowTime
		}
		return t, nil
	default:
		return time.Time{}, ErrMissingRowTime
	}
}

// SensorRecordFromRow reshapes a pivoted row into a reading.
func SensorRecordFromRow(row PivotRow) (SensorRecord, error) {
	ts, err := row.Time()
	if err != nil {
		return SensorRecord{}, err
	}
	return SensorRecord{
		FarmerID:       stringValue(row[FieldFarmerID]),
		FieldID:        stringValue(row[FieldFieldID]),
		Temperature:    floatValue(row[FieldTemperature]),
		Humidity:       floatValue(row[FieldHumidity]),
		SoilMoisture:   floatValue(row[FieldSoilMoisture]),
		LightIntensity: floatValue(row[FieldLightIntensity]),
		TimeStamp:      &ts,
	}, nil
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}

func floatValue(v any) *float64 {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int64:
		f = float64(n)
	case int:
		f = float64(n)
	case uint64:
		f = float64(n)
	default:
		return nil
	}
	return &f
}
