package resources

import (
	"encoding/json"
	"net/http"

	"github.com/farmflow/sensorhub/internal/errors"
	nuts "github.com/vaudience/go-nuts"
)

type envelope struct {
	StatusCode int    `json:"statusCode"`
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	Data       any    `json:"data"`
}

type errorEnvelope struct {
	StatusCode   int    `json:"statusCode"`
	Success      bool   `json:"success"`
	Message      string `json:"message"`
	RequestID    string `json:"requestId,omitempty"`
	ErrorDetails any    `json:"errorDetails,omitempty"`
}

func respondWithData(w http.ResponseWriter, code int, message string, data any) {
	respondWithJSON(w, code, envelope{
		StatusCode: code,
		Success:    true,
		Message:    message,
		Data:       data,
	})
}

// respondWithError logs the full cause and sends only the public message.
func respondWithError(w http.ResponseWriter, err error, requestID string) {
	apiErr, ok := errors.As(err)
	if !ok {
		apiErr = errors.NewInternalError("internal server error", err)
	}
	apiErr.WithRequestID(requestID)
	if apiErr.Code >= http.StatusInternalServerError {
		nuts.L.Errorf("[API] %s (request %s)", apiErr.Error(), requestID)
	} else {
		nuts.L.Warnf("[API] %s (request %s)", apiErr.Error(), requestID)
	}
	respondWithJSON(w, apiErr.Code, errorEnvelope{
		StatusCode:   apiErr.Code,
		Success:      false,
		Message:      apiErr.Message,
		RequestID:    requestID,
		ErrorDetails: apiErr.Details,
	})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}
