// Package metrics exposes the bridge's Prometheus collectors.
//
// Collectors implements delivery.Recorder, so the pipeline reports batch
// outcomes and state changes directly. The ingest side reports received and
// dropped events, and the MQTT client reports reconnect attempts.
//
// Collectors register on an injected prometheus.Registerer so tests and
// multiple instances never collide on the default registry.
package metrics
