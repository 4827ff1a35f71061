// Package api provides the HTTP REST API and WebSocket event stream for
// Gray Logic IoT.
//
// Routes (all under /api/v1):
//
//	GET    /health
//	GET    /metrics
//	GET    /groups/{groupID}/devices
//	DELETE /groups/{groupID}
//	PUT    /groups/{groupID}/devices/{deviceID}
//	DELETE /groups/{groupID}/devices/{deviceID}
//	GET    /groups/{groupID}/devices/{deviceID}/temperature
//	PUT    /groups/{groupID}/devices/{deviceID}/temperature
//	GET    /groups/{groupID}/temperatures?timeout=500ms
//	GET    /groups/{groupID}/queries?limit=20
//	GET    /ws
//
// Errors use a single JSON shape:
//
//	{"status": 404, "code": "not_found", "message": "device not found"}
//
// The Hub implements device.EventPublisher; WebSocket clients subscribe to
// event types ("device.tracked", "query.completed", ...) as channels.
//
// Lifecycle:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api
