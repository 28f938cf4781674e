/*
Package api is the HTTP surface of the aggregation server.

Routes:

	POST /api/ai/learn          ingest a batch of interactions and feedback
	POST /api/ai/upload-model   accept a client-trained model artifact
	GET  /api/ai/models/{v}     download a model version (302 or bytes)
	GET  /api/ai/latest-model   newest published version metadata
	GET  /api/ai/stats          aggregate statistics
	GET  /health                component health with memory detail
	GET  /ready                 readiness (critical components registered)
	GET  /metrics               Prometheus exposition

Ingest and upload both end by evaluating the training trigger policy, so
the pipeline reacts to traffic without polling. Batches commit atomically;
a raw mirror copy of each batch lands in the blob store's user_data folder
best-effort, which the next training cycle merges back in if the database
ever has to be restored from a snapshot.

Model downloads prefer a 302 to a short-lived direct URL minted by the
blob backend, falling back to streaming the bytes through the server when
no link can be minted (local mode, or backend trouble).
*/
package api
