package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Ingest metrics
	InteractionsIngested = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fedhub_interactions_ingested_total",
			Help: "Total number of interactions accepted by /api/ai/learn",
		},
	)

	FeedbackIngested = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fedhub_feedback_ingested_total",
			Help: "Total number of feedback entries accepted",
		},
	)

	ModelsUploaded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fedhub_models_uploaded_total",
			Help: "Total number of client model uploads accepted",
		},
	)

	PendingUploads = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fedhub_pending_uploads",
			Help: "Uploaded models waiting for incorporation",
		},
	)

	// Training metrics
	TrainingCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fedhub_training_cycles_total",
			Help: "Training cycles by result (published, aborted, failed)",
		},
		[]string{"result"},
	)

	TrainingDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fedhub_training_duration_seconds",
			Help:    "Wall time of a full training cycle in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
	)

	ModelVersionsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fedhub_model_versions_total",
			Help: "Published model versions currently retained",
		},
	)

	ModelAccuracy = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fedhub_latest_model_accuracy",
			Help: "Held-out accuracy of the latest published base model",
		},
	)

	// Download metrics
	ModelDownloads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fedhub_model_downloads_total",
			Help: "Model download requests by outcome (redirect, bytes, not_found)",
		},
		[]string{"outcome"},
	)

	// Blob store metrics
	SnapshotPushes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fedhub_snapshot_pushes_total",
			Help: "Database snapshot pushes by result",
		},
		[]string{"result"},
	)

	TokenRefreshes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fedhub_token_refreshes_total",
			Help: "OAuth2 access token refreshes performed",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fedhub_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fedhub_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(InteractionsIngested)
	prometheus.MustRegister(FeedbackIngested)
	prometheus.MustRegister(ModelsUploaded)
	prometheus.MustRegister(PendingUploads)
	prometheus.MustRegister(TrainingCycles)
	prometheus.MustRegister(TrainingDuration)
	prometheus.MustRegister(ModelVersionsTotal)
	prometheus.MustRegister(ModelAccuracy)
	prometheus.MustRegister(ModelDownloads)
	prometheus.MustRegister(SnapshotPushes)
	prometheus.MustRegister(TokenRefreshes)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
