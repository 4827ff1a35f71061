package sensor

import (
	"errors"
	"time"

	"github.com/nerrad567/gray-logic-iot/internal/device"
)

// ReadingMessage is the payload of a reading topic.
type ReadingMessage struct {
	Value *float64 `json:"value"`
}

// QueryMessage is the payload of a query topic.
type QueryMessage struct {
	RequestID int64 `json:"request_id"`

	// TimeoutMS is the per-query timeout in milliseconds. Zero selects the
	// service default.
	TimeoutMS int64 `json:"timeout_ms,omitempty"`
}

// Timeout converts TimeoutMS to a Duration.
func (q QueryMessage) Timeout() time.Duration {
	return time.Duration(q.TimeoutMS) * time.Millisecond
}

// Error codes carried in ResponseMessage.Error.
const (
	ErrCodeInvalidRequest = "invalid_request"
	ErrCodeUnavailable    = "unavailable"
)

// ErrorInfo describes why a query produced no result.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ResponseMessage answers a QueryMessage.
type ResponseMessage struct {
	RequestID    int64                                `json:"request_id"`
	GroupID      string                               `json:"group_id"`
	Temperatures map[string]device.TemperatureReading `json:"temperatures"`
	Summary      *device.Summary                      `json:"summary,omitempty"`
	DurationMS   float64                              `json:"duration_ms"`
	Error        *ErrorInfo                           `json:"error,omitempty"`
	Timestamp    time.Time                            `json:"timestamp"`
}

// newResponse builds a successful response echoing the caller's request id.
func newResponse(requestID int64, result device.QueryResult) ResponseMessage {
	summary := result.Summary
	temps := result.Temperatures
	if temps == nil {
		temps = map[string]device.TemperatureReading{}
	}
	return ResponseMessage{
		RequestID:    requestID,
		GroupID:      result.GroupID,
		Temperatures: temps,
		Summary:      &summary,
		DurationMS:   float64(result.Duration) / float64(time.Millisecond),
		Timestamp:    time.Now().UTC(),
	}
}

// newErrorResponse builds a failed response.
func newErrorResponse(requestID int64, groupID string, err error) ResponseMessage {
	code := ErrCodeUnavailable
	if isInvalidRequest(err) {
		code = ErrCodeInvalidRequest
	}
	return ResponseMessage{
		RequestID:    requestID,
		GroupID:      groupID,
		Temperatures: map[string]device.TemperatureReading{},
		Error:        &ErrorInfo{Code: code, Message: err.Error()},
		Timestamp:    time.Now().UTC(),
	}
}

func isInvalidRequest(err error) bool {
	return errors.Is(err, device.ErrInvalidGroupID) ||
		errors.Is(err, device.ErrInvalidDeviceID) ||
		errors.Is(err, device.ErrInvalidTimeout) ||
		errors.Is(err, device.ErrInvalidValue) ||
		errors.Is(err, ErrInvalidPayload)
}

// HealthStatus is the bridge health state.
type HealthStatus string

const (
	HealthStarting HealthStatus = "starting"
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage is published, retained, on the bridge health topic.
type HealthMessage struct {
	Bridge        string       `json:"bridge"`
	Status        HealthStatus `json:"status"`
	Reason        string       `json:"reason,omitempty"`
	Version       string       `json:"version"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	Readings      int64        `json:"readings"`
	Queries       int64        `json:"queries"`
	Errors        int64        `json:"errors"`
	Timestamp     time.Time    `json:"timestamp"`
}
