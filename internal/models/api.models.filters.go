package models

import (
	"errors"
	"strings"
)

var (
	// ErrUnpairedFilter is returned when only one of farmerId/fieldId is set.
	ErrUnpairedFilter = errors.New("both farmerId and fieldId must be provided together")
	// ErrInvalidTimeParam is returned for any time value other than "latest".
	ErrInvalidTimeParam = errors.New(`invalid time parameter. Only "latest" is supported`)
	// ErrInvalidMeasurement is returned for a blank measurement override.
	ErrInvalidMeasurement = errors.New("invalid measurement parameter. Must be a non-empty string")
)

// TimeLatest is the only accepted value of the time query parameter.
const TimeLatest = "latest"

// QueryFilter defines the available filter options for sensor readings
type QueryFilter struct {
	Measurement string
	FarmerID    string
	FieldID     string
	LatestOnly  bool
}

// Validate rejects half-specified owner/asset pairs.
func (f QueryFilter) Validate() error {
	if (f.FarmerID == "") != (f.FieldID == "") {
		return ErrUnpairedFilter
	}
	return nil
}

// HasPair reports whether rows must be filtered by farmerId and fieldId.
func (f QueryFilter) HasPair() bool {
	return f.FarmerID != "" && f.FieldID != ""
}

// MeasurementOr returns the measurement to read, def when none was given.
func (f QueryFilter) MeasurementOr(def string) string {
	if f.Measurement == "" {
		return def
	}
	return f.Measurement
}

// SensorDataQuery holds the raw query parameters of a sensor data request.
type SensorDataQuery struct {
	FarmerID    string `schema:"farmerId"`
	FieldID     string `schema:"fieldId"`
	Time        string `schema:"time"`
	Measurement string `schema:"ms"`
	Format      string `schema:"format"`
}

// Filter validates the parameters and turns them into a QueryFilter.
func (q SensorDataQuery) Filter() (QueryFilter, error) {
	f := QueryFilter{
		FarmerID:    q.FarmerID,
		FieldID:     q.FieldID,
		Measurement: q.Measurement,
	}
	if err := f.Validate(); err != nil {
		return QueryFilter{}, err
	}
	switch q.Time {
	case "":
	case TimeLatest:
		f.LatestOnly = true
	default:
		return QueryFilter{}, ErrInvalidTimeParam
	}
	if q.Measurement != "" && strings.TrimSpace(q.Measurement) == "" {
		return QueryFilter{}, ErrInvalidMeasurement
	}
	return f, nil
}
