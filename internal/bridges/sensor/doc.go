// Package sensor bridges MQTT temperature sensors to the device service.
//
// Inbound:
//
//	grayiot/reading/{group}/{device}   {"value": 21.5}
//	    tracks the device if needed and records the reading
//	grayiot/query/{group}              {"request_id": 7, "timeout_ms": 500}
//	    runs an aggregate query and answers on
//	    grayiot/response/{group}/7
//
// Outbound:
//
//	grayiot/health/sensor              retained bridge health
//	grayiot/core/event/{type}          device events (Bridge implements
//	                                   device.EventPublisher)
//
// Queries run on their own goroutines so a slow group never holds up the
// MQTT client's delivery goroutine.
package sensor
