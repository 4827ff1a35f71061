package device

import (
	"time"

	"github.com/asynkron/protoactor-go/actor"
)

// Every request below is answered to its sender, so callers use
// Request, RequestFuture or RequestWithCustomSender. Requests sent
// without a sender get no reply.

// Device worker protocol.

// ReadTemperature asks a device worker for its last recorded value.
type ReadTemperature struct {
	RequestID int64
}

// RespondTemperature answers ReadTemperature. Value is nil if the device
// never recorded a temperature.
type RespondTemperature struct {
	RequestID int64
	DeviceID  string
	Value     *float64
}

// RecordTemperature stores a new value on a device worker, replacing any
// previous one.
type RecordTemperature struct {
	RequestID int64
	Value     float64
}

// TemperatureRecorded acknowledges RecordTemperature.
type TemperatureRecorded struct {
	RequestID int64
}

// Passivate makes a device worker stop itself once the messages queued
// before it have been handled.
type Passivate struct{}

// Registry protocol, accepted by both Manager and Group.

// TrackDevice returns the worker for (GroupID, DeviceID), creating it on
// first reference.
type TrackDevice struct {
	GroupID  string
	DeviceID string
}

// DeviceRegistered answers TrackDevice.
type DeviceRegistered struct {
	Device *actor.PID
}

// LookupDevice returns the worker for (GroupID, DeviceID) without creating
// it.
type LookupDevice struct {
	GroupID  string
	DeviceID string
}

// DeviceFound answers LookupDevice. Device is nil when the device is not
// tracked or is being passivated.
type DeviceFound struct {
	DeviceID string
	Device   *actor.PID
}

// RequestDeviceList asks for the IDs of all live devices in a group.
type RequestDeviceList struct {
	RequestID int64
	GroupID   string
}

// ReplyDeviceList answers RequestDeviceList. An unknown group yields an
// empty set.
type ReplyDeviceList struct {
	RequestID int64
	IDs       map[string]struct{}
}

// RequestAllTemperatures starts an aggregate read over every device the
// group tracks at the time the request is handled.
type RequestAllTemperatures struct {
	RequestID int64
	GroupID   string
	Timeout   time.Duration
}

// RespondAllTemperatures answers RequestAllTemperatures with exactly one
// entry per device in the query's snapshot.
type RespondAllTemperatures struct {
	RequestID    int64
	Temperatures map[string]TemperatureReading
}

// PassivateDevice stops a single device worker. The registry entry goes
// away once its termination notification arrives.
type PassivateDevice struct {
	GroupID  string
	DeviceID string
}

// DevicePassivated answers PassivateDevice.
type DevicePassivated struct {
	DeviceID string
	Found    bool
}

// PassivateGroup stops a group worker and, with it, all of its devices.
type PassivateGroup struct {
	GroupID string
}

// GroupPassivated answers PassivateGroup.
type GroupPassivated struct {
	GroupID string
	Found   bool
}

type (
	// deviceTerminated is re-queued by a Query when a watched device stops,
	// so that replies the device sent earlier are handled first.
	deviceTerminated struct {
		deviceID string
	}

	queryTimeout struct{}
)
