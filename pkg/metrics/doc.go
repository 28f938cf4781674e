/*
Package metrics provides Prometheus metrics and component health tracking
for fedhub.

Collectors are package variables registered in init() and updated directly
by the packages doing the work; a background Collector additionally polls
the store every 15s to keep the state gauges (pending uploads, retained
versions, latest accuracy) current even when nothing is happening.

# Exposed metrics

	fedhub_interactions_ingested_total      counter
	fedhub_feedback_ingested_total          counter
	fedhub_models_uploaded_total            counter
	fedhub_pending_uploads                  gauge
	fedhub_training_cycles_total{result}    counter
	fedhub_training_duration_seconds        histogram
	fedhub_model_versions_total             gauge
	fedhub_latest_model_accuracy            gauge
	fedhub_model_downloads_total{outcome}   counter
	fedhub_snapshot_pushes_total{result}    counter
	fedhub_token_refreshes_total            counter
	fedhub_api_requests_total{method,status} counter
	fedhub_api_request_duration_seconds{method} histogram

Handler() returns the promhttp handler mounted at /metrics.

# Component health

The package also keeps a small registry of component health
(RegisterComponent / UpdateComponent) consumed by the HTTP health
endpoints. Critical components for readiness: database, blob_store,
scheduler.
*/
package metrics
