package api

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/farmflow/sensorhub/api/middleware"
	"github.com/farmflow/sensorhub/api/resources"
	"github.com/farmflow/sensorhub/internal/repository/memory"
	"github.com/farmflow/sensorhub/internal/service"
)

type response struct {
	StatusCode   int             `json:"statusCode"`
	Success      bool            `json:"success"`
	Message      string          `json:"message"`
	Data         json.RawMessage `json:"data"`
	RequestID    string          `json:"requestId"`
	ErrorDetails json.RawMessage `json:"errorDetails"`
}

func newTestRouter(t *testing.T, secret string, checks map[string]resources.HealthCheck) http.Handler {
	t.Helper()
	return newTestRouterWithOptions(t, secret, checks, service.Options{})
}

func newTestRouterWithOptions(t *testing.T, secret string, checks map[string]resources.HealthCheck, opts service.Options, exportRoles ...string) http.Handler {
	t.Helper()
	svc := service.New(memory.NewSensorDataRepository(), nil, opts)
	res := resources.NewResources(svc, checks)
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("sensorhub_up 1\n"))
	})
	return NewRouter(res, middleware.NewJWTMiddleware(secret), exportRoles, "/metrics", metrics).Handler()
}

func do(t *testing.T, h http.Handler, method, target, body string) (*httptest.ResponseRecorder, response) {
	t.Helper()
	return doAs(t, h, "", method, target, body)
}

func doAs(t *testing.T, h http.Handler, token, method, target, body string) (*httptest.ResponseRecorder, response) {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var resp response
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode %s: %v", rec.Body.String(), err)
		}
	}
	return rec, resp
}

const validBody = `{"farmerId":"fr1","fieldId":"fd1","temperature":21.5,"humidity":60,"soil_moisture":40,"light_intensity":500}`

func TestInsertAndFetch(t *testing.T) {
	h := newTestRouter(t, "", nil)

	rec, resp := do(t, h, http.MethodPost, "/sensorData", validBody)
	if rec.Code != http.StatusCreated || !resp.Success || resp.StatusCode != http.StatusCreated {
		t.Fatalf("insert: %d %s", rec.Code, rec.Body.String())
	}
	if resp.Message != "Sensor data inserted successfully" {
		t.Fatalf("unexpected message %q", resp.Message)
	}

	rec, resp = do(t, h, http.MethodGet, "/sensorData?farmerId=fr1&fieldId=fd1&time=latest", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("fetch: %d %s", rec.Code, rec.Body.String())
	}
	var records []map[string]any
	if err := json.Unmarshal(resp.Data, &records); err != nil {
		t.Fatalf("data: %v", err)
	}
	if len(records) != 1 || records[0]["temperature"] != 21.5 || records[0]["farmerId"] != "fr1" {
		t.Fatalf("unexpected records: %v", records)
	}
	want := "Sensor data fetched successfully from sensor_reading for farmerId=fr1, fieldId=fd1 (latest)"
	if resp.Message != want {
		t.Fatalf("message %q, want %q", resp.Message, want)
	}
}

func TestConfiguredDefaultMeasurementIsNamed(t *testing.T) {
	h := newTestRouterWithOptions(t, "", nil, service.Options{DefaultMeasurement: "greenhouse"})
	do(t, h, http.MethodPost, "/sensorData", validBody)

	rec, resp := do(t, h, http.MethodGet, "/sensorData", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("fetch: %d %s", rec.Code, rec.Body.String())
	}
	if resp.Message != "Sensor data fetched successfully from greenhouse" {
		t.Fatalf("unexpected message %q", resp.Message)
	}
	var records []map[string]any
	if err := json.Unmarshal(resp.Data, &records); err != nil || len(records) != 1 {
		t.Fatalf("expected the greenhouse reading, got %s", resp.Data)
	}

	rec, _ = do(t, h, http.MethodGet, "/sensorData/export", "")
	if got := rec.Header().Get("Content-Disposition"); !strings.Contains(got, `filename="greenhouse-sensor-data.xlsx"`) {
		t.Fatalf("unexpected disposition %q", got)
	}
}

func TestFetchEmptyMeasurementReturnsEmptyArray(t *testing.T) {
	h := newTestRouter(t, "", nil)
	rec, resp := do(t, h, http.MethodGet, "/sensorData/?ms=ms_farmer2", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if string(resp.Data) != "[]" {
		t.Fatalf("expected empty array, got %s", resp.Data)
	}
	if resp.Message != "Sensor data fetched successfully from ms_farmer2" {
		t.Fatalf("unexpected message %q", resp.Message)
	}
}

func TestQueryValidation(t *testing.T) {
	h := newTestRouter(t, "", nil)
	tests := []struct {
		name   string
		target string
	}{
		{"farmer only", "/sensorData?farmerId=fr1"},
		{"field only", "/sensorData?fieldId=fd1"},
		{"bad time", "/sensorData?time=earliest"},
		{"blank ms", "/sensorData?ms=%20%20"},
		{"repeated ms", "/sensorData?ms=a&ms=b"},
		{"bad export format", "/sensorData/export?format=csv"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, resp := do(t, h, http.MethodGet, tt.target, "")
			if rec.Code != http.StatusBadRequest || resp.Success {
				t.Fatalf("status %d body %s", rec.Code, rec.Body.String())
			}
			if resp.RequestID == "" {
				t.Fatalf("missing request id")
			}
		})
	}
}

func TestInsertValidation(t *testing.T) {
	h := newTestRouter(t, "", nil)
	tests := []struct {
		name string
		body string
	}{
		{"not json", `{`},
		{"missing ids", `{"temperature":1,"humidity":1,"soil_moisture":1,"light_intensity":1}`},
		{"out of range", `{"farmerId":"a","fieldId":"b","temperature":200,"humidity":1,"soil_moisture":1,"light_intensity":1}`},
		{"bad timestamp", `{"farmerId":"a","fieldId":"b","temperature":1,"humidity":1,"soil_moisture":1,"light_intensity":1,"timeStamp":"soon"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, _ := do(t, h, http.MethodPost, "/sensorData", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status %d body %s", rec.Code, rec.Body.String())
			}
		})
	}

	_, resp := do(t, h, http.MethodPost, "/sensorData", `{"farmerId":"a","fieldId":"b"}`)
	if !strings.Contains(string(resp.ErrorDetails), "temperature") {
		t.Fatalf("expected field details, got %s", resp.ErrorDetails)
	}
}

func TestExport(t *testing.T) {
	h := newTestRouter(t, "", nil)
	do(t, h, http.MethodPost, "/sensorData", validBody)

	for format, ctype := range map[string]string{
		"xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		"pdf":  "application/pdf",
	} {
		rec, _ := do(t, h, http.MethodGet, "/sensorData/export?format="+format, "")
		if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != ctype {
			t.Fatalf("%s: status %d type %s", format, rec.Code, rec.Header().Get("Content-Type"))
		}
		if !strings.Contains(rec.Header().Get("Content-Disposition"), "sensor_reading-sensor-data."+format) {
			t.Fatalf("%s: unexpected disposition %s", format, rec.Header().Get("Content-Disposition"))
		}
		if rec.Body.Len() == 0 {
			t.Fatalf("%s: empty body", format)
		}
	}
}

func TestHealthAndRoot(t *testing.T) {
	h := newTestRouter(t, "", map[string]resources.HealthCheck{
		"storage": func(context.Context) error { return nil },
	})
	if rec, _ := do(t, h, http.MethodGet, "/health", ""); rec.Code != http.StatusOK {
		t.Fatalf("health: %d", rec.Code)
	}
	if rec, _ := do(t, h, http.MethodGet, "/", ""); rec.Code != http.StatusOK {
		t.Fatalf("root: %d", rec.Code)
	}

	failing := newTestRouter(t, "", map[string]resources.HealthCheck{
		"mqtt": func(context.Context) error { return stderrors.New("disconnected") },
	})
	rec, _ := do(t, failing, http.MethodGet, "/health", "")
	if rec.Code != http.StatusServiceUnavailable || !strings.Contains(rec.Body.String(), "disconnected") {
		t.Fatalf("expected degraded health, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestNotFoundAndMetrics(t *testing.T) {
	h := newTestRouter(t, "", nil)
	rec, resp := do(t, h, http.MethodGet, "/user", "")
	if rec.Code != http.StatusNotFound || resp.Message != "API Not Found" {
		t.Fatalf("unexpected 404 response: %d %s", rec.Code, rec.Body.String())
	}
	rec, _ = do(t, h, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "sensorhub_up") {
		t.Fatalf("metrics not mounted: %d", rec.Code)
	}
}

func TestSensorDataRequiresTokenWhenSecretSet(t *testing.T) {
	h := newTestRouter(t, "s3cret", nil)
	rec, resp := do(t, h, http.MethodGet, "/sensorData", "")
	if rec.Code != http.StatusUnauthorized || resp.Success {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if rec, _ := do(t, h, http.MethodGet, "/health", ""); rec.Code != http.StatusOK {
		t.Fatalf("health must stay public, got %d", rec.Code)
	}
}

func signToken(t *testing.T, secret, role string) string {
	t.Helper()
	claims := middleware.Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-" + role,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return token
}

func TestExportRestrictedToConfiguredRoles(t *testing.T) {
	h := newTestRouterWithOptions(t, "s3cret", nil, service.Options{}, "admin")
	farmer := signToken(t, "s3cret", "farmer")
	admin := signToken(t, "s3cret", "admin")

	if rec, _ := doAs(t, h, farmer, http.MethodPost, "/sensorData", validBody); rec.Code != http.StatusCreated {
		t.Fatalf("insert: %d %s", rec.Code, rec.Body.String())
	}
	if rec, _ := doAs(t, h, farmer, http.MethodGet, "/sensorData", ""); rec.Code != http.StatusOK {
		t.Fatalf("fetch must stay open to farmers, got %d", rec.Code)
	}

	rec, resp := doAs(t, h, farmer, http.MethodGet, "/sensorData/export", "")
	if rec.Code != http.StatusUnauthorized || resp.Message != "You are not permitted to do that" {
		t.Fatalf("expected farmer export to be refused, got %d %s", rec.Code, rec.Body.String())
	}

	rec, _ = doAs(t, h, admin, http.MethodGet, "/sensorData/export", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Header().Get("Content-Disposition"), ".xlsx") {
		t.Fatalf("admin export: %d %s", rec.Code, rec.Header().Get("Content-Disposition"))
	}
}

func TestCORSEchoesOrigin(t *testing.T) {
	h := newTestRouter(t, "", nil)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://app.farmflow.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.farmflow.example" {
		t.Fatalf("unexpected allow origin %q", got)
	}
	if rec.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Fatalf("credentials not allowed")
	}
}
