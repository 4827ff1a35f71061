// Package logging provides structured logging for Gray Logic IoT.
//
// It wraps log/slog. Every entry carries the service name and build
// version, and subsystems add their own "component" field via Component.
//
// Configuration (config.yaml):
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Usage:
//
//	logger := logging.New(cfg.Logging, version)
//	devLog := logger.Component("device")
//	devLog.Info("group started", "group_id", "kitchen")
//
// The *Logger satisfies the small Logger interfaces declared by the actor,
// device, mqtt, api and sensor packages.
//
// Never log secrets such as the MQTT password or InfluxDB token.
package logging
