package device

import (
	"fmt"

	"github.com/asynkron/protoactor-go/actor"
)

// Logger defines the logging interface used by the device workers and the
// Service.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

func orNoop(logger Logger) Logger {
	if logger == nil {
		return noopLogger{}
	}
	return logger
}

// stopOnFailure is the supervisor strategy of every registry: a child that
// panics is stopped, never restarted with empty state. Its termination then
// reaches the registry like any other stop.
func stopOnFailure(logger Logger) actor.SupervisorStrategy {
	return actor.NewOneForOneStrategy(0, 0, func(reason any) actor.Directive {
		logger.Error("worker panic recovered, stopping", "panic", fmt.Sprint(reason))
		return actor.StopDirective
	})
}

// Device is the worker for a single temperature sensor. It holds at most
// one value: the last one recorded.
type Device struct {
	groupID  string
	deviceID string
	last     *float64
	logger   Logger
}

// NewDevice returns the behaviour for a device worker. Devices are normally
// spawned by their Group; this constructor exists for standalone use and
// tests.
func NewDevice(groupID, deviceID string, logger Logger) *Device {
	return &Device{groupID: groupID, deviceID: deviceID, logger: orNoop(logger)}
}

// DeviceProps returns the spawn properties of a device worker.
func DeviceProps(groupID, deviceID string, logger Logger) *actor.Props {
	return actor.PropsFromProducer(func() actor.Actor {
		return NewDevice(groupID, deviceID, logger)
	})
}

// Receive implements actor.Actor.
func (d *Device) Receive(ctx actor.Context) {
	switch m := ctx.Message().(type) {
	case *actor.Started:
		d.logger.Info("device started", "group_id", d.groupID, "device_id", d.deviceID)

	case *actor.Stopped:
		d.logger.Info("device stopped", "group_id", d.groupID, "device_id", d.deviceID)

	case *actor.Stopping, *actor.Restarting:

	case ReadTemperature:
		var value *float64
		if d.last != nil {
			v := *d.last
			value = &v
		}
		ctx.Respond(RespondTemperature{
			RequestID: m.RequestID,
			DeviceID:  d.deviceID,
			Value:     value,
		})

	case RecordTemperature:
		v := m.Value
		d.last = &v
		d.logger.Debug("temperature recorded",
			"device_id", d.deviceID,
			"request_id", m.RequestID,
			"value", m.Value,
		)
		ctx.Respond(TemperatureRecorded{RequestID: m.RequestID})

	case Passivate:
		ctx.Stop(ctx.Self())

	default:
		d.logger.Warn("device received unknown message",
			"device_id", d.deviceID,
			"type", typeName(m),
		)
	}
}

// typeName is used in log output for unexpected messages.
func typeName(msg any) string {
	return fmt.Sprintf("%T", msg)
}
