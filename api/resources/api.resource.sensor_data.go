package resources

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/schema"

	"github.com/farmflow/sensorhub/internal/errors"
	"github.com/farmflow/sensorhub/internal/export"
	"github.com/farmflow/sensorhub/internal/models"
	"github.com/farmflow/sensorhub/internal/service"
	nuts "github.com/vaudience/go-nuts"
)

var queryDecoder = func() *schema.Decoder {
	d := schema.NewDecoder()
	d.IgnoreUnknownKeys(true)
	return d
}()

// SensorDataHandlers encapsulates the sensor data HTTP handlers
type SensorDataHandlers struct {
	service service.SensorDataService
}

// @Summary Insert a sensor reading
// @Description Store one reading in the default measurement
// @Tags sensorData
// @Accept json
// @Produce json
// @Param reading body models.SensorDataInput true "Sensor reading"
// @Success 201 {object} models.SensorRecord
// @Failure 400 {object} errors.APIError
// @Failure 500 {object} errors.APIError
// @Router /sensorData [post]
func (h *SensorDataHandlers) InsertSensorData(w http.ResponseWriter, r *http.Request) {
	requestID := nuts.NID("req", 12)

	var input models.SensorDataInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		respondWithError(w, errors.NewValidationError("invalid request body", err), requestID)
		return
	}
	record, fieldErrs := input.Validate()
	if len(fieldErrs) > 0 {
		respondWithError(w, errors.NewValidationError("Validation error", nil).WithDetails(fieldErrs), requestID)
		return
	}

	if err := h.service.InsertSensorData(r.Context(), record); err != nil {
		respondWithError(w, err, requestID)
		return
	}

	respondWithData(w, http.StatusCreated, "Sensor data inserted successfully", record)
}

// @Summary List sensor readings
// @Description Readings of the last year, optionally filtered by farmer and field and reduced to the latest
// @Tags sensorData
// @Produce json
// @Param farmerId query string false "Farmer ID (requires fieldId)"
// @Param fieldId query string false "Field ID (requires farmerId)"
// @Param time query string false "Only \"latest\" is supported"
// @Param ms query string false "Measurement, defaults to query.default_measurement"
// @Success 200 {array} models.SensorRecord
// @Failure 400 {object} errors.APIError
// @Failure 404 {object} errors.APIError
// @Router /sensorData [get]
func (h *SensorDataHandlers) GetSensorData(w http.ResponseWriter, r *http.Request) {
	requestID := nuts.NID("req", 12)

	query, filter, err := decodeSensorDataQuery(r)
	if err != nil {
		respondWithError(w, err, requestID)
		return
	}

	records, err := h.service.FetchSensorData(r.Context(), filter)
	if err != nil {
		respondWithError(w, err, requestID)
		return
	}

	measurement := filter.MeasurementOr(h.service.DefaultMeasurement())
	respondWithData(w, http.StatusOK, fetchMessage(query, filter, measurement), records)
}

// @Summary Export sensor readings
// @Description Same filters as GET /sensorData, rendered as a spreadsheet or PDF download
// @Tags sensorData
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Produce application/pdf
// @Param format query string false "xlsx (default) or pdf"
// @Success 200 {file} file
// @Failure 400 {object} errors.APIError
// @Router /sensorData/export [get]
func (h *SensorDataHandlers) ExportSensorData(w http.ResponseWriter, r *http.Request) {
	requestID := nuts.NID("req", 12)

	query, filter, err := decodeSensorDataQuery(r)
	if err != nil {
		respondWithError(w, err, requestID)
		return
	}
	format := query.Format
	if format == "" {
		format = export.FormatXLSX
	}
	if format != export.FormatXLSX && format != export.FormatPDF {
		respondWithError(w, errors.NewValidationError(`Invalid format parameter. Use "xlsx" or "pdf"`, nil), requestID)
		return
	}

	records, err := h.service.FetchSensorData(r.Context(), filter)
	if err != nil {
		respondWithError(w, err, requestID)
		return
	}

	measurement := filter.MeasurementOr(h.service.DefaultMeasurement())
	var data []byte
	if format == export.FormatPDF {
		data, err = export.BuildSensorDataPDF(measurement, records)
	} else {
		data, err = export.BuildSensorDataXLSX(measurement, records)
	}
	if err != nil {
		respondWithError(w, errors.NewInternalError("failed to render export", err), requestID)
		return
	}

	w.Header().Set("Content-Type", export.ContentType(format))
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s-sensor-data.%s"`, export.SheetName(measurement), format))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

var singleValueParams = []string{"farmerId", "fieldId", "time", "ms", "format"}

func decodeSensorDataQuery(r *http.Request) (models.SensorDataQuery, models.QueryFilter, error) {
	values := r.URL.Query()
	for _, key := range singleValueParams {
		if len(values[key]) > 1 {
			return models.SensorDataQuery{}, models.QueryFilter{}, errors.NewValidationError(fmt.Sprintf("Invalid %s parameter. Must be a single value", key), nil)
		}
	}

	var query models.SensorDataQuery
	if err := queryDecoder.Decode(&query, values); err != nil {
		return query, models.QueryFilter{}, errors.NewValidationError("invalid query parameters", err)
	}
	filter, err := query.Filter()
	if err != nil {
		return query, models.QueryFilter{}, errors.NewValidationError(err.Error(), err)
	}
	return query, filter, nil
}

func fetchMessage(q models.SensorDataQuery, f models.QueryFilter, measurement string) string {
	suffix := ""
	if f.LatestOnly {
		suffix = " (latest)"
	}
	if f.HasPair() {
		return fmt.Sprintf("Sensor data fetched successfully from %s for farmerId=%s, fieldId=%s%s", measurement, q.FarmerID, q.FieldID, suffix)
	}
	return fmt.Sprintf("Sensor data fetched successfully from %s%s", measurement, suffix)
}
