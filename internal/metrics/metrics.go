package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stockease_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stockease_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPAuthFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stockease_http_auth_failures_total",
			Help: "Requests rejected for a missing or wrong API key",
		},
	)

	// Ingest metrics
	ReadingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stockease_readings_total",
			Help: "Readings received per source and status",
		},
		[]string{"source", "status"}, // status: accepted, rejected
	)

	ReadingValidationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stockease_reading_validation_errors_total",
			Help: "Total number of reading validation errors",
		},
		[]string{"error_type"},
	)

	// Sensor state metrics
	SensorOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stockease_sensor_outcomes_total",
			Help: "Outcomes of sensor state transitions",
		},
		[]string{"outcome"},
	)

	SensorsTracked = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "stockease_sensors_tracked",
			Help: "Sensors that have reported at least once",
		},
	)

	SensorsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "stockease_sensors_active",
			Help: "Sensors seen within the active timeout at the last stats tick",
		},
	)

	UnlinkedReadingsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stockease_unlinked_readings_total",
			Help: "Readings from sensors not linked to any product",
		},
	)

	// Alert metrics
	AlertsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stockease_alerts_created_total",
			Help: "Alerts persisted per category",
		},
		[]string{"category"},
	)

	AlertsSuppressedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stockease_alerts_suppressed_total",
			Help: "Candidate alerts dropped because an unread one exists",
		},
		[]string{"category"},
	)

	CatalogErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stockease_catalog_errors_total",
			Help: "Catalog operation failures",
		},
		[]string{"operation"},
	)

	// Notification queue and worker metrics
	NotifyQueueSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "stockease_notify_queue_size",
			Help: "Current size of the notification queue",
		},
	)

	NotifyQueueCapacity = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "stockease_notify_queue_capacity",
			Help: "Capacity of the notification queue",
		},
	)

	NotifyDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stockease_notify_dropped_total",
			Help: "Envelopes dropped because the queue was full",
		},
		[]string{"kind"},
	)

	WorkerProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stockease_worker_processed_total",
			Help: "Envelopes delivered by workers",
		},
		[]string{"kind"},
	)

	WorkerFailedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stockease_worker_failed_total",
			Help: "Envelopes workers gave up on",
		},
		[]string{"kind"},
	)

	WorkerSupersededTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stockease_worker_superseded_total",
			Help: "Weight updates dropped because a newer one for the same product was in the batch",
		},
	)

	WorkerBatchPublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stockease_worker_batch_publish_duration_seconds",
			Help:    "Time taken to deliver a batch to all sinks",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	SinkDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stockease_sink_deliveries_total",
			Help: "Envelopes delivered per sink and status",
		},
		[]string{"sink", "status"},
	)

	// Kafka metrics
	KafkaPublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stockease_kafka_publish_total",
			Help: "Envelopes published to Kafka by kind",
		},
		[]string{"kind", "status"}, // status: success, failed
	)

	KafkaPublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stockease_kafka_publish_duration_seconds",
			Help:    "Time taken to publish to Kafka",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	KafkaPublishRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stockease_kafka_publish_retries_total",
			Help: "Total number of Kafka publish retries",
		},
	)

	KafkaBytesWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stockease_kafka_bytes_written_total",
			Help: "Total bytes written to Kafka",
		},
	)

	KafkaConsumedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stockease_kafka_consumed_total",
			Help: "Reading messages consumed from Kafka",
		},
		[]string{"status"}, // status: processed, invalid, failed
	)

	// WebSocket metrics
	WebSocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "stockease_websocket_clients",
			Help: "Connected WebSocket clients",
		},
	)

	// Panic recovery
	PanicsRecovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stockease_panics_recovered_total",
			Help: "Total number of panics recovered",
		},
		[]string{"component"},
	)
)
