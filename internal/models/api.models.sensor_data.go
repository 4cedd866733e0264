package models

import (
	"fmt"
	"strings"
	"time"
)

// SensorDataInput is the request body of the sensor data insert endpoint.
type SensorDataInput struct {
	FarmerID       string   `json:"farmerId"`
	FieldID        string   `json:"fieldId"`
	Temperature    *float64 `json:"temperature"`
	Humidity       *float64 `json:"humidity"`
	SoilMoisture   *float64 `json:"soil_moisture"`
	LightIntensity *float64 `json:"light_intensity"`
	TimeStamp      string   `json:"timeStamp,omitempty"`
}

// FieldError names one invalid input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type numericRange struct {
	field    string
	value    *float64
	min, max float64
}

// Validate checks the body against the sensor data schema and returns the
// parsed reading.
func (in SensorDataInput) Validate() (SensorRecord, []FieldError) {
	var errs []FieldError
	if strings.TrimSpace(in.FarmerID) == "" {
		errs = append(errs, FieldError{FieldFarmerID, "Farmer ID is required"})
	}
	if strings.TrimSpace(in.FieldID) == "" {
		errs = append(errs, FieldError{FieldFieldID, "Field ID is required"})
	}
	for _, r := range []numericRange{
		{FieldTemperature, in.Temperature, -50, 150},
		{FieldHumidity, in.Humidity, 0, 100},
		{FieldSoilMoisture, in.SoilMoisture, 0, 100},
		{FieldLightIntensity, in.LightIntensity, 0, 100000},
	} {
		switch {
		case r.value == nil:
			errs = append(errs, FieldError{r.field, "Required"})
		case *r.value < r.min || *r.value > r.max:
			errs = append(errs, FieldError{r.field, fmt.Sprintf("must be between %g and %g", r.min, r.max)})
		}
	}

	rec := SensorRecord{
		FarmerID:       in.FarmerID,
		FieldID:        in.FieldID,
		Temperature:    in.Temperature,
		Humidity:       in.Humidity,
		SoilMoisture:   in.SoilMoisture,
		LightIntensity: in.LightIntensity,
	}
	if in.TimeStamp != "" {
		ts, err := ParseTimestamp(in.TimeStamp, time.Time{})
		if err != nil {
			errs = append(errs, FieldError{FieldTimeStamp, "Invalid timestamp format"})
		} else {
			rec.TimeStamp = &ts
		}
	}
	return rec, errs
}
