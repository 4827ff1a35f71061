// Package config loads and validates Gray Logic IoT configuration.
//
// Values are resolved in three layers:
//   - built-in defaults
//   - the YAML file (configs/config.yaml, or the path in GRAYIOT_CONFIG)
//   - GRAYIOT_* environment variables
//
// Secrets (MQTT password, InfluxDB token) should come from the environment.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
//	fmt.Println(cfg.Query.DefaultTimeout)
package config
