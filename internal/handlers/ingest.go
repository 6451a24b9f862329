package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"

	"stockease/internal/logger"
	"stockease/internal/metrics"
	"stockease/internal/middleware"
	"stockease/internal/models"
	"stockease/internal/monitor"
)

// IngestHandler accepts scale readings over HTTP
type IngestHandler struct {
	monitor *monitor.Service

	// Max body size (default 1MB)
	maxBodySize int64
}

// IngestConfig holds configuration for the ingest handler
type IngestConfig struct {
	Monitor     *monitor.Service
	MaxBodySize int64
}

// NewIngestHandler creates a new ingest handler
func NewIngestHandler(cfg IngestConfig) *IngestHandler {
	maxBodySize := cfg.MaxBodySize
	if maxBodySize <= 0 {
		maxBodySize = 1 << 20
	}

	return &IngestHandler{
		monitor:     cfg.Monitor,
		maxBodySize: maxBodySize,
	}
}

// IngestRequest is the batch form of the payload
type IngestRequest struct {
	Readings []models.ReadingInput `json:"readings"`
}

// IngestResponse is the response returned to sensor clients
type IngestResponse struct {
	Success  bool             `json:"success"`
	Accepted int              `json:"accepted"`
	Rejected int              `json:"rejected"`
	Results  []monitor.Result `json:"results,omitempty"`
	Errors   []IngestError    `json:"errors,omitempty"`
}

// IngestError describes why one reading was rejected
type IngestError struct {
	Index    int    `json:"index"`
	SensorID string `json:"sensor_id,omitempty"`
	Error    string `json:"error"`
}

// ServeHTTP handles the ingest HTTP request
func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		middleware.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if !isJSON(r.Header.Get("Content-Type")) {
		middleware.WriteError(w, http.StatusUnsupportedMediaType, "content-type must be application/json")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		middleware.WriteError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	inputs, err := parseBody(body)
	if err != nil {
		metrics.ReadingValidationErrors.WithLabelValues("decode").Inc()
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if len(inputs) == 0 {
		middleware.WriteError(w, http.StatusBadRequest, "no readings provided")
		return
	}

	response := h.processReadings(r, inputs)

	status := http.StatusOK
	if response.Accepted == 0 {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, response)
}

// isJSON accepts an empty content type or application/json with any
// parameters, such as a charset
func isJSON(contentType string) bool {
	if contentType == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	return err == nil && mediaType == "application/json"
}

// parseBody accepts {"readings": [...]}, a bare array, or one reading
func parseBody(body []byte) ([]models.ReadingInput, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, errors.New("empty request body")
	}

	switch body[0] {
	case '[':
		var inputs []models.ReadingInput
		if err := json.Unmarshal(body, &inputs); err != nil {
			return nil, fmt.Errorf("invalid JSON array of readings: %w", err)
		}
		return inputs, nil

	case '{':
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(body, &fields); err != nil {
			return nil, fmt.Errorf("invalid JSON object: %w", err)
		}
		if _, ok := fields["readings"]; ok {
			var req IngestRequest
			if err := json.Unmarshal(body, &req); err != nil {
				return nil, fmt.Errorf("invalid readings batch: %w", err)
			}
			return req.Readings, nil
		}

		var single models.ReadingInput
		if err := json.Unmarshal(body, &single); err != nil {
			return nil, fmt.Errorf("invalid reading: %w", err)
		}
		return []models.ReadingInput{single}, nil
	}

	return nil, errors.New("invalid JSON format: expected reading object or array of readings")
}

// processReadings applies each reading in order. A reading whose sensor
// transition committed counts as accepted even when the product side
// failed, so a client retry does not apply it twice.
func (h *IngestHandler) processReadings(r *http.Request, inputs []models.ReadingInput) IngestResponse {
	log := logger.WithRequestID(r.Header.Get(middleware.RequestIDHeader))
	response := IngestResponse{
		Results: make([]monitor.Result, 0, len(inputs)),
	}

	reject := func(i int, sensorID string, msg string) {
		response.Errors = append(response.Errors, IngestError{Index: i, SensorID: sensorID, Error: msg})
		response.Rejected++
		metrics.ReadingsTotal.WithLabelValues("http", "rejected").Inc()
	}

	for i, input := range inputs {
		reading, err := input.ToReading()
		if err != nil {
			metrics.ReadingValidationErrors.WithLabelValues("timestamp").Inc()
			reject(i, input.SensorID, err.Error())
			continue
		}

		result, err := h.monitor.Record(r.Context(), reading)
		if err != nil {
			if errType, ok := validationErrorType(err); ok {
				metrics.ReadingValidationErrors.WithLabelValues(errType).Inc()
				reject(i, input.SensorID, err.Error())
				continue
			}

			log.Error().Err(err).Str("sensor_id", reading.SensorID).Msg("failed to update product for reading")
			result.Error = "reading recorded; product or alert update failed"
		}

		response.Accepted++
		response.Results = append(response.Results, result)
		metrics.ReadingsTotal.WithLabelValues("http", "accepted").Inc()
	}

	response.Success = response.Rejected == 0
	return response
}

// validationErrorType maps reading validation errors to a metric label
func validationErrorType(err error) (string, bool) {
	switch {
	case errors.Is(err, models.ErrEmptySensorID):
		return "empty_sensor_id", true
	case errors.Is(err, models.ErrSensorIDTooLong):
		return "sensor_id_too_long", true
	case errors.Is(err, models.ErrInvalidWeight):
		return "invalid_weight", true
	default:
		return "", false
	}
}

// writeJSON writes v with the given status
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
