// Package api serves the bridge's operator HTTP endpoints.
//
// Routes:
//
//	GET /health                 liveness and readiness (503 when fatal or disconnected)
//	GET /metrics                Prometheus exposition
//	GET /api/v1/status          JSON snapshot: pipeline, ingest, runtime
//	GET /api/v1/deadletters     dropped batches journaled for replay
//
// The server is read-only. It never touches the delivery path: handlers
// only read pipeline state and counters.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api
