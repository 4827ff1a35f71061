// Package influxdb records temperature telemetry in InfluxDB 2.x.
//
// The Client wraps the non-blocking write API of
// github.com/influxdata/influxdb-client-go/v2. Points are batched and
// flushed in the background; write failures surface through SetOnError.
//
// Measurements:
//
//	temperature      tags: group_id, device_id     fields: value
//	group_query      tags: group_id                fields: duration_ms, total,
//	                                               plus one integer per outcome status
//
// The Client satisfies device.MetricsRecorder, so the device service can
// write through it directly.
//
// Usage:
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry off
//	}
//	defer client.Close()
//	client.WriteTemperature("kitchen", "t-1", 21.5)
package influxdb
