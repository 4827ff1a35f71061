package device

import "errors"

// Domain errors for the device package.
//
// Failures inside the worker hierarchy are response values (see
// TemperatureReading). These errors are only returned by the Service
// facade and the repositories, and can be checked using errors.Is():
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDeviceNotFound is returned when a device is not tracked by its group.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrGroupNotFound is returned when no group worker exists for a group ID.
	ErrGroupNotFound = errors.New("device: group not found")

	// ErrInvalidGroupID is returned when a group ID is empty or malformed.
	ErrInvalidGroupID = errors.New("device: invalid group id")

	// ErrInvalidDeviceID is returned when a device ID is empty or malformed.
	ErrInvalidDeviceID = errors.New("device: invalid device id")

	// ErrInvalidTimeout is returned when a query timeout is negative.
	ErrInvalidTimeout = errors.New("device: invalid timeout")

	// ErrInvalidValue is returned when a recorded temperature is NaN or infinite.
	ErrInvalidValue = errors.New("device: invalid temperature value")

	// ErrTimeout is returned when the worker hierarchy does not answer
	// before the request deadline.
	ErrTimeout = errors.New("device: request timed out")

	// ErrUnavailable is returned when a request reaches a worker that has
	// already stopped.
	ErrUnavailable = errors.New("device: worker unavailable")

	// ErrUnexpectedReply is returned when a worker answers with the wrong
	// message type or request ID.
	ErrUnexpectedReply = errors.New("device: unexpected reply")
)
