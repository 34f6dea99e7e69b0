// Package logging provides structured logging for the sensor bridge.
//
// It wraps log/slog so every entry carries the same default fields
// (service, version) and honours the level and format from config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Component("pipeline").Warn("batch dropped", "count", 100, "reason", "permanent")
//
// Broker passwords and InfluxDB tokens must never be logged.
package logging
