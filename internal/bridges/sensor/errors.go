package sensor

import "errors"

var (
	// ErrInvalidTopic is returned for topics outside the bridge's hierarchy.
	ErrInvalidTopic = errors.New("sensor: unrecognised topic")

	// ErrInvalidPayload is returned for malformed reading or query payloads.
	ErrInvalidPayload = errors.New("sensor: invalid payload")

	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("sensor: bridge already started")
)
