// Package device provides the temperature sensor hierarchy for Gray Logic IoT.
//
// Every sensor is represented by its own worker, a Proto.Actor actor
// (github.com/asynkron/protoactor-go). Workers are grouped per site zone by
// a group worker, and group workers are children of a single manager.
// Aggregate reads fan out to every device in a group and gather the answers
// within a deadline.
//
// # Architecture
//
//	┌──────────────────────────────────────────────────────────────────┐
//	│                         Service (service.go)                      │
//	│  synchronous facade · catalogue · query log · metrics · events    │
//	└───────────────────────────────┬──────────────────────────────────┘
//	                                │ RequestFuture
//	                                ▼
//	┌──────────────────────────────────────────────────────────────────┐
//	│                       Manager (manager.go)                        │
//	│  groupID → group worker, created on first reference               │
//	└───────────────────────────────┬──────────────────────────────────┘
//	                                │ forward
//	                                ▼
//	┌──────────────────────────────────────────────────────────────────┐
//	│                        Group (group.go)                           │
//	│  deviceID → device worker · spawns one Query per aggregate read   │
//	└──────────────┬───────────────────────────────────┬───────────────┘
//	               │                                   │
//	               ▼                                   ▼
//	┌──────────────────────────┐       ┌──────────────────────────────┐
//	│   Device (device.go)     │◀──────│   Query (query.go)           │
//	│   last recorded value    │ read  │   pending · collected ·      │
//	└──────────────────────────┘       │   deadline · reply once      │
//	                                   └──────────────────────────────┘
//
// Registries remove an entry only when the termination notification for the
// owned worker arrives. Nothing outside the owning worker touches its map.
// A worker that panics is stopped by its parent's supervisor, never
// restarted.
//
// # Aggregate reads
//
// A Query resolves each device exactly once, from whichever of these is
// processed first:
//
//   - a RespondTemperature: Temperature or TemperatureNotAvailable
//   - the device's termination notification: DeviceNotAvailable (re-queued
//     behind earlier answers, since Terminated is a system message)
//   - the deadline: DeviceTimedOut
//
// It then sends a single RespondAllTemperatures to the caller and stops.
//
// # Usage
//
//	hierarchy := device.NewHierarchy(device.ManagerConfig{
//	    DefaultTimeout: 3 * time.Second,
//	    MaxTimeout:     30 * time.Second,
//	}, log)
//	defer hierarchy.Stop()
//
//	svc := device.NewService(hierarchy)
//	svc.SetLogger(log)
//	svc.SetCatalog(device.NewSQLiteCatalogRepository(db.DB))
//
//	if _, err := svc.TrackDevice(ctx, "floor-1", "hall"); err != nil {
//	    return err
//	}
//	result, err := svc.QueryAllTemperatures(ctx, "floor-1", 500*time.Millisecond)
//
// # Related Documentation
//
//   - migrations/20260301_090000_device_catalog.up.sql: catalogue schema
//   - migrations/20260301_090100_query_log.up.sql: query log schema
package device
