// Package logging provides structured logging for the HID climate bridge.
//
// It wraps log/slog so every component logs with the same default fields
// (service, version) and the same level filtering.
//
// Logging is configured via the logging section of config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Usage:
//
//	logger := logging.New(cfg.Logging, version)
//	bridgeLog := logger.Component("hid")
//	bridgeLog.Info("bridge started", "controller_id", uid)
//
// Never log MQTT passwords or InfluxDB tokens.
package logging
