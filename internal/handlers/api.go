package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"stockease/internal/logger"
	"stockease/internal/middleware"
	"stockease/internal/models"
	"stockease/internal/monitor"
	"stockease/internal/sensor"
	"stockease/internal/storage"
)

// API serves the sensor and alert endpoints
type API struct {
	monitor *monitor.Service
	ingest  *IngestHandler
}

// NewAPI creates the API over svc
func NewAPI(svc *monitor.Service, maxBodySize int64) *API {
	return &API{
		monitor: svc,
		ingest:  NewIngestHandler(IngestConfig{Monitor: svc, MaxBodySize: maxBodySize}),
	}
}

// Mount registers the routes on r. The sensor-facing write endpoints
// are wrapped in deviceAuth.
func (a *API) Mount(r chi.Router, deviceAuth func(http.Handler) http.Handler) {
	r.Route("/api/weightintegration", func(r chi.Router) {
		r.With(deviceAuth).Method(http.MethodPost, "/screendata", a.ingest)
		r.With(deviceAuth).Post("/updateweight", a.UpdateWeight)
		r.Get("/sensors", a.ActiveSensors)
	})

	r.Get("/api/sensors/{sensorID}", a.Sensor)

	r.Route("/api/alerts", func(r chi.Router) {
		r.Get("/", a.Alerts)
		r.Post("/read-all", a.MarkAllRead)
		r.Post("/{alertID}/read", a.MarkRead)
	})
}

// SensorStatus is a sensor state as served over HTTP
type SensorStatus struct {
	sensor.State
	RestockingSeconds float64 `json:"restocking_seconds,omitempty"`
}

func (a *API) status(st sensor.State) SensorStatus {
	return SensorStatus{
		State:             st,
		RestockingSeconds: st.RestockingFor(a.monitor.Now()).Seconds(),
	}
}

// ActiveSensors lists sensors heard from within the active timeout,
// sorted by sensor ID
func (a *API) ActiveSensors(w http.ResponseWriter, r *http.Request) {
	active := a.monitor.ActiveSensors()
	out := make([]SensorStatus, 0, len(active))
	for _, st := range active {
		out = append(out, a.status(st))
	}
	writeJSON(w, http.StatusOK, out)
}

// Sensor returns the state of one sensor
func (a *API) Sensor(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sensorID")
	st, ok := a.monitor.Sensor(id)
	if !ok {
		middleware.WriteError(w, http.StatusNotFound, "sensor not found")
		return
	}
	writeJSON(w, http.StatusOK, a.status(st))
}

// UpdateWeight sets a product's weight directly by product ID
func (a *API) UpdateWeight(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, a.ingest.maxBodySize)

	var in models.WeightUpdateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	product, alert, err := a.monitor.SetProductWeight(r.Context(), in.ProductID, in.NewWeight)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		middleware.WriteError(w, http.StatusNotFound, "product not found")
		return
	case errors.Is(err, models.ErrInvalidWeight):
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil && product.ID == 0:
		log := logger.WithRequestID(r.Header.Get(middleware.RequestIDHeader))
		log.Error().Err(err).
			Int64("product_id", in.ProductID).
			Msg("failed to update product weight")
		middleware.WriteError(w, http.StatusInternalServerError, "internal error")
		return
	case err != nil:
		// weight stored, alert bookkeeping failed
		log := logger.WithRequestID(r.Header.Get(middleware.RequestIDHeader))
		log.Error().Err(err).
			Int64("product_id", in.ProductID).
			Msg("failed to evaluate alert after weight update")
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"product": product,
		"alert":   alert,
	})
}

// Alerts lists unread alerts, or read ones with ?read=true
func (a *API) Alerts(w http.ResponseWriter, r *http.Request) {
	read := false
	if v := r.URL.Query().Get("read"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "read must be true or false")
			return
		}
		read = b
	}

	alerts, err := a.monitor.Alerts(r.Context(), read)
	if err != nil {
		log := logger.WithRequestID(r.Header.Get(middleware.RequestIDHeader))
		log.Error().Err(err).Msg("failed to list alerts")
		middleware.WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, alerts)
}

// MarkRead marks one alert read
func (a *API) MarkRead(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "alertID"), 10, 64)
	if err != nil || id <= 0 {
		middleware.WriteError(w, http.StatusBadRequest, "invalid alert id")
		return
	}

	err = a.monitor.MarkAlertRead(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		middleware.WriteError(w, http.StatusNotFound, "alert not found")
		return
	}
	if err != nil {
		middleware.WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// MarkAllRead marks every unread alert read
func (a *API) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	n, err := a.monitor.MarkAllAlertsRead(r.Context())
	if err != nil {
		middleware.WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "marked": n})
}
