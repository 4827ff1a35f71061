// Package mqtt connects Gray Logic IoT to an MQTT broker.
//
// It wraps github.com/eclipse/paho.mqtt.golang with:
//   - Connect/Close with a retained online/offline status and Last Will
//   - Publish/Subscribe with input validation and panic-safe handlers
//   - subscription restore after automatic reconnects
//   - topic builders and parsers for the grayiot/ hierarchy
//
// Topic layout:
//
//	grayiot/reading/{group}/{device}      sensor → core, {"value": 21.5}
//	grayiot/query/{group}                 client → core, {"request_id": 7, "timeout_ms": 500}
//	grayiot/response/{group}/{request_id} core → client
//	grayiot/health/{component}            retained component health
//	grayiot/core/event/{type}             device events
//	grayiot/system/status                 retained online/offline
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllReadings(), 1, handler)
package mqtt
