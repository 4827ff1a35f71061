package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/asynkron/protoactor-go/actor"
)

// Event types emitted by the Service.
const (
	EventDeviceTracked       = "device.tracked"
	EventDevicePassivated    = "device.passivated"
	EventGroupPassivated     = "group.passivated"
	EventTemperatureRecorded = "temperature.recorded"
	EventQueryCompleted      = "query.completed"
)

const (
	// defaultAskTimeout bounds requests that are answered without waiting
	// on devices (track, list, passivate).
	defaultAskTimeout = 5 * time.Second

	// queryGrace is added to the query deadline when waiting for its reply.
	queryGrace = time.Second
)

// Event describes a change in the device hierarchy. It is delivered to
// every registered EventPublisher.
type Event struct {
	Type         string                        `json:"type"`
	GroupID      string                        `json:"group_id"`
	DeviceID     string                        `json:"device_id,omitempty"`
	RequestID    int64                         `json:"request_id,omitempty"`
	Value        *float64                      `json:"value,omitempty"`
	Summary      *Summary                      `json:"summary,omitempty"`
	Temperatures map[string]TemperatureReading `json:"temperatures,omitempty"`
	Timestamp    time.Time                     `json:"timestamp"`
}

// EventPublisher receives Service events. Implementations must not block;
// delivery failures are theirs to log.
type EventPublisher interface {
	Publish(ctx context.Context, event Event)
}

// MetricsRecorder receives time-series samples. Satisfied by
// *influxdb.Client.
type MetricsRecorder interface {
	WriteTemperature(groupID, deviceID string, value float64)
	WriteQueryMetric(groupID string, outcomes map[string]int, duration time.Duration)
}

// DeviceList is the result of ListDevices.
type DeviceList struct {
	RequestID int64
	GroupID   string
	IDs       map[string]struct{}
}

// QueryResult is the result of QueryAllTemperatures.
type QueryResult struct {
	RequestID    int64
	GroupID      string
	Temperatures map[string]TemperatureReading
	Summary      Summary
	Duration     time.Duration
}

type deviceKey struct {
	groupID  string
	deviceID string
}

// Stats are cumulative Service counters.
type Stats struct {
	Tracked     int64 `json:"tracked"`
	Recorded    int64 `json:"recorded"`
	Queries     int64 `json:"queries"`
	TimedOut    int64 `json:"timed_out_readings"`
	Passivated  int64 `json:"passivated"`
	Restored    int64 `json:"restored"`
	AskFailures int64 `json:"ask_failures"`
}

// Service is the synchronous facade over the manager worker, used by the
// REST API and the MQTT bridge. Every method validates its input, performs
// a request/response exchange with the worker hierarchy and then applies
// the side effects (catalogue, query log, metrics, events).
//
// Optional collaborators are nil until set and are skipped when nil.
//
// All public methods are thread-safe. Setters must be called before use.
type Service struct {
	root    *actor.RootContext
	manager *actor.PID
	cfg     ManagerConfig
	logger  Logger

	catalog    CatalogRepository
	queryLog   QueryLogRepository
	metrics    MetricsRecorder
	publishers []EventPublisher

	requestSeq atomic.Int64

	// known holds the worker process ID last seen for each identity.
	knownMu sync.Mutex
	known   map[deviceKey]string

	statsMu sync.Mutex
	stats   Stats
}

// NewService creates a Service over a running hierarchy.
func NewService(h *Hierarchy) *Service {
	return &Service{
		root:    h.Root(),
		manager: h.Manager(),
		cfg:     h.Config(),
		logger:  noopLogger{},
		known:   make(map[deviceKey]string),
	}
}

// SetLogger sets the logger for the service.
func (s *Service) SetLogger(logger Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetCatalog enables persistence of tracked device identities.
func (s *Service) SetCatalog(repo CatalogRepository) {
	s.catalog = repo
}

// SetQueryLog enables recording of aggregate query outcomes.
func (s *Service) SetQueryLog(repo QueryLogRepository) {
	s.queryLog = repo
}

// SetMetrics enables time-series metrics.
func (s *Service) SetMetrics(m MetricsRecorder) {
	s.metrics = m
}

// AddPublisher registers an event publisher.
func (s *Service) AddPublisher(p EventPublisher) {
	if p != nil {
		s.publishers = append(s.publishers, p)
	}
}

// Stats returns a snapshot of the service counters.
func (s *Service) Stats() Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats
}

// nextRequestID returns a process-unique, positive request ID. Zero is
// reserved for the reads a Query sends to its devices.
func (s *Service) nextRequestID() int64 {
	return s.requestSeq.Add(1)
}

// TrackDevice registers a device, creating its worker on first reference.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - groupID: Group identifier
//   - deviceID: Device identifier, unique within the group
//
// Returns:
//   - *actor.PID: The device worker; the same worker is returned for the
//     same identity until it terminates
//   - error: ErrInvalidGroupID, ErrInvalidDeviceID, ErrTimeout or ErrUnavailable
func (s *Service) TrackDevice(ctx context.Context, groupID, deviceID string) (*actor.PID, error) {
	pid, err := s.track(ctx, groupID, deviceID)
	if err != nil {
		return nil, err
	}

	// Side effects only when a new worker came up.
	if !s.remember(groupID, deviceID, pid) {
		return pid, nil
	}

	if s.catalog != nil {
		if err := s.catalog.Upsert(ctx, groupID, deviceID); err != nil {
			s.logger.Error("failed to persist catalog entry",
				"group_id", groupID,
				"device_id", deviceID,
				"error", err,
			)
		}
	}

	s.count(func(st *Stats) { st.Tracked++ })
	s.publish(ctx, Event{Type: EventDeviceTracked, GroupID: groupID, DeviceID: deviceID})
	return pid, nil
}

// remember stores the worker for an identity and reports whether it
// differs from the one seen before.
func (s *Service) remember(groupID, deviceID string, pid *actor.PID) bool {
	key := deviceKey{groupID: groupID, deviceID: deviceID}

	s.knownMu.Lock()
	defer s.knownMu.Unlock()

	if s.known[key] == pid.Id {
		return false
	}
	s.known[key] = pid.Id
	return true
}

// forget drops remembered handles for a device, or for a whole group when
// deviceID is empty.
func (s *Service) forget(groupID, deviceID string) {
	s.knownMu.Lock()
	defer s.knownMu.Unlock()

	for key := range s.known {
		if key.groupID == groupID && (deviceID == "" || key.deviceID == deviceID) {
			delete(s.known, key)
		}
	}
}

// track validates the identity and performs the TrackDevice exchange
// without side effects.
func (s *Service) track(ctx context.Context, groupID, deviceID string) (*actor.PID, error) {
	if err := ValidateGroupID(groupID); err != nil {
		return nil, err
	}
	if err := ValidateDeviceID(deviceID); err != nil {
		return nil, err
	}

	reply, err := request[DeviceRegistered](ctx, s.root, s.manager,
		TrackDevice{GroupID: groupID, DeviceID: deviceID}, defaultAskTimeout)
	if err != nil {
		return nil, s.askFailed("tracking device", err)
	}
	return reply.Device, nil
}

// lookup returns the live worker for an identity without creating one.
func (s *Service) lookup(ctx context.Context, groupID, deviceID string) (*actor.PID, error) {
	if err := ValidateGroupID(groupID); err != nil {
		return nil, err
	}
	if err := ValidateDeviceID(deviceID); err != nil {
		return nil, err
	}

	reply, err := request[DeviceFound](ctx, s.root, s.manager,
		LookupDevice{GroupID: groupID, DeviceID: deviceID}, defaultAskTimeout)
	if err != nil {
		return nil, s.askFailed("looking up device", err)
	}
	if reply.Device == nil {
		return nil, fmt.Errorf("%w: %s/%s", ErrDeviceNotFound, groupID, deviceID)
	}
	return reply.Device, nil
}

// ListDevices returns the IDs of the live devices in a group. An unknown
// group yields an empty set.
func (s *Service) ListDevices(ctx context.Context, groupID string) (DeviceList, error) {
	if err := ValidateGroupID(groupID); err != nil {
		return DeviceList{}, err
	}

	requestID := s.nextRequestID()
	reply, err := request[ReplyDeviceList](ctx, s.root, s.manager,
		RequestDeviceList{RequestID: requestID, GroupID: groupID}, defaultAskTimeout)
	if err != nil {
		return DeviceList{}, s.askFailed("listing devices", err)
	}
	if reply.RequestID != requestID {
		return DeviceList{}, fmt.Errorf("%w: request id %d, want %d", ErrUnexpectedReply, reply.RequestID, requestID)
	}

	return DeviceList{RequestID: requestID, GroupID: groupID, IDs: reply.IDs}, nil
}

// QueryAllTemperatures reads every device in a group.
//
// Parameters:
//   - ctx: Context for cancellation
//   - groupID: Group identifier
//   - timeout: Query deadline; zero uses the manager default and values
//     above the manager maximum are clamped
//
// Returns:
//   - QueryResult: One reading per device tracked when the query started
//   - error: ErrInvalidGroupID, ErrInvalidTimeout, ErrTimeout or ErrUnavailable
func (s *Service) QueryAllTemperatures(ctx context.Context, groupID string, timeout time.Duration) (QueryResult, error) {
	if err := ValidateGroupID(groupID); err != nil {
		return QueryResult{}, err
	}
	if timeout < 0 {
		return QueryResult{}, fmt.Errorf("%w: %v", ErrInvalidTimeout, timeout)
	}

	requestID := s.nextRequestID()
	effective := s.cfg.EffectiveTimeout(timeout)
	started := time.Now()

	reply, err := request[RespondAllTemperatures](ctx, s.root, s.manager, RequestAllTemperatures{
		RequestID: requestID,
		GroupID:   groupID,
		Timeout:   effective,
	}, effective+queryGrace)
	if err != nil {
		return QueryResult{}, s.askFailed("querying temperatures", err)
	}
	if reply.RequestID != requestID {
		return QueryResult{}, fmt.Errorf("%w: request id %d, want %d", ErrUnexpectedReply, reply.RequestID, requestID)
	}

	result := QueryResult{
		RequestID:    requestID,
		GroupID:      groupID,
		Temperatures: reply.Temperatures,
		Summary:      Summarize(reply.Temperatures),
		Duration:     time.Since(started),
	}
	s.recordQuery(ctx, result)
	return result, nil
}

// recordQuery applies the side effects of a completed aggregate query.
func (s *Service) recordQuery(ctx context.Context, result QueryResult) {
	s.count(func(st *Stats) {
		st.Queries++
		st.TimedOut += int64(result.Summary.TimedOut)
	})

	if s.queryLog != nil {
		entry := QueryLogEntry{
			RequestID: result.RequestID,
			GroupID:   result.GroupID,
			Summary:   result.Summary,
			Duration:  result.Duration,
		}
		if err := s.queryLog.Record(ctx, entry); err != nil {
			s.logger.Error("failed to record query log",
				"group_id", result.GroupID,
				"request_id", result.RequestID,
				"error", err,
			)
		}
	}

	if s.metrics != nil {
		s.metrics.WriteQueryMetric(result.GroupID, map[string]int{
			StatusTemperature:             result.Summary.Temperatures,
			StatusTemperatureNotAvailable: result.Summary.NoReading,
			StatusDeviceNotAvailable:      result.Summary.Unavailable,
			StatusDeviceTimedOut:          result.Summary.TimedOut,
		}, result.Duration)
	}

	summary := result.Summary
	s.publish(ctx, Event{
		Type:         EventQueryCompleted,
		GroupID:      result.GroupID,
		RequestID:    result.RequestID,
		Summary:      &summary,
		Temperatures: result.Temperatures,
	})

	s.logger.Debug("aggregate query finished",
		"group_id", result.GroupID,
		"request_id", result.RequestID,
		"devices", result.Summary.Total,
		"timed_out", result.Summary.TimedOut,
		"duration", result.Duration,
	)
}

// RecordTemperature stores a value on a device, tracking the device first
// if needed.
func (s *Service) RecordTemperature(ctx context.Context, groupID, deviceID string, value float64) error {
	if err := ValidateTemperature(value); err != nil {
		return err
	}

	pid, err := s.TrackDevice(ctx, groupID, deviceID)
	if err != nil {
		return err
	}

	requestID := s.nextRequestID()
	reply, err := request[TemperatureRecorded](ctx, s.root, pid,
		RecordTemperature{RequestID: requestID, Value: value}, defaultAskTimeout)
	if err != nil {
		return s.askFailed("recording temperature", err)
	}
	if reply.RequestID != requestID {
		return fmt.Errorf("%w: request id %d, want %d", ErrUnexpectedReply, reply.RequestID, requestID)
	}

	s.count(func(st *Stats) { st.Recorded++ })
	if s.metrics != nil {
		s.metrics.WriteTemperature(groupID, deviceID, value)
	}

	v := value
	s.publish(ctx, Event{
		Type:      EventTemperatureRecorded,
		GroupID:   groupID,
		DeviceID:  deviceID,
		RequestID: requestID,
		Value:     &v,
	})
	return nil
}

// ReadTemperature returns the last value of a single tracked device. It
// never creates a device worker.
//
// Returns:
//   - TemperatureReading: Temperature or TemperatureNotAvailable
//   - error: ErrDeviceNotFound if the device is not tracked or stops
//     before answering
func (s *Service) ReadTemperature(ctx context.Context, groupID, deviceID string) (TemperatureReading, error) {
	pid, err := s.lookup(ctx, groupID, deviceID)
	if err != nil {
		return nil, err
	}

	requestID := s.nextRequestID()
	reply, err := request[RespondTemperature](ctx, s.root, pid,
		ReadTemperature{RequestID: requestID}, defaultAskTimeout)
	if errors.Is(err, ErrUnavailable) {
		return nil, fmt.Errorf("%w: %s/%s", ErrDeviceNotFound, groupID, deviceID)
	}
	if err != nil {
		return nil, s.askFailed("reading temperature", err)
	}
	if reply.RequestID != requestID {
		return nil, fmt.Errorf("%w: request id %d, want %d", ErrUnexpectedReply, reply.RequestID, requestID)
	}

	return readingFromValue(reply.Value), nil
}

// PassivateDevice stops a device worker and removes it from the catalogue.
// Returns ErrDeviceNotFound if the device is not tracked.
func (s *Service) PassivateDevice(ctx context.Context, groupID, deviceID string) error {
	if err := ValidateGroupID(groupID); err != nil {
		return err
	}
	if err := ValidateDeviceID(deviceID); err != nil {
		return err
	}

	reply, err := request[DevicePassivated](ctx, s.root, s.manager,
		PassivateDevice{GroupID: groupID, DeviceID: deviceID}, defaultAskTimeout)
	if err != nil {
		return s.askFailed("passivating device", err)
	}
	if !reply.Found {
		return fmt.Errorf("%w: %s/%s", ErrDeviceNotFound, groupID, deviceID)
	}

	s.forget(groupID, deviceID)
	if s.catalog != nil {
		if err := s.catalog.Delete(ctx, groupID, deviceID); err != nil {
			s.logger.Error("failed to delete catalog entry",
				"group_id", groupID,
				"device_id", deviceID,
				"error", err,
			)
		}
	}

	s.count(func(st *Stats) { st.Passivated++ })
	s.publish(ctx, Event{Type: EventDevicePassivated, GroupID: groupID, DeviceID: deviceID})
	return nil
}

// PassivateGroup stops a group worker together with all of its devices.
// Returns ErrGroupNotFound if no such group exists.
func (s *Service) PassivateGroup(ctx context.Context, groupID string) error {
	if err := ValidateGroupID(groupID); err != nil {
		return err
	}

	reply, err := request[GroupPassivated](ctx, s.root, s.manager,
		PassivateGroup{GroupID: groupID}, defaultAskTimeout)
	if err != nil {
		return s.askFailed("passivating group", err)
	}
	if !reply.Found {
		return fmt.Errorf("%w: %s", ErrGroupNotFound, groupID)
	}

	s.forget(groupID, "")
	if s.catalog != nil {
		if _, err := s.catalog.DeleteGroup(ctx, groupID); err != nil {
			s.logger.Error("failed to delete catalog group", "group_id", groupID, "error", err)
		}
	}

	s.count(func(st *Stats) { st.Passivated++ })
	s.publish(ctx, Event{Type: EventGroupPassivated, GroupID: groupID})
	return nil
}

// Restore re-tracks every catalogued device. It should be called once on
// startup, before the API and bridges accept traffic. Devices come back
// without a reading.
//
// Returns:
//   - int: Number of devices restored
//   - error: nil on success; catalogue entries that fail validation are
//     skipped and logged
func (s *Service) Restore(ctx context.Context) (int, error) {
	if s.catalog == nil {
		return 0, nil
	}

	entries, err := s.catalog.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading catalog: %w", err)
	}

	restored := 0
	for _, e := range entries {
		pid, err := s.track(ctx, e.GroupID, e.DeviceID)
		if err != nil {
			if ctx.Err() != nil {
				return restored, fmt.Errorf("restoring devices: %w", ctx.Err())
			}
			s.logger.Warn("skipping catalog entry",
				"group_id", e.GroupID,
				"device_id", e.DeviceID,
				"error", err,
			)
			continue
		}
		s.remember(e.GroupID, e.DeviceID, pid)
		restored++
	}

	s.count(func(st *Stats) { st.Restored += int64(restored) })
	s.logger.Info("device catalog restored", "devices", restored, "entries", len(entries))
	return restored, nil
}

// QueryHistory returns recent aggregate query outcomes for a group.
// It returns an empty slice when no query log is configured.
func (s *Service) QueryHistory(ctx context.Context, groupID string, limit int) ([]QueryLogEntry, error) {
	if err := ValidateGroupID(groupID); err != nil {
		return nil, err
	}
	if s.queryLog == nil {
		return []QueryLogEntry{}, nil
	}

	entries, err := s.queryLog.List(ctx, groupID, limit)
	if err != nil {
		return nil, fmt.Errorf("loading query history: %w", err)
	}
	return entries, nil
}

// request sends msg to target from root and waits for a reply of type T.
// The wait ends at timeout or when ctx ends, whichever comes first.
//
// Returns:
//   - ErrTimeout if no reply arrives in time
//   - ErrUnavailable if target has stopped
//   - ErrUnexpectedReply if the reply is not a T
func request[T any](ctx context.Context, root *actor.RootContext, target *actor.PID, msg any, timeout time.Duration) (T, error) {
	var zero T

	if err := ctx.Err(); err != nil {
		return zero, fmt.Errorf("%w: %s: %w", ErrTimeout, target, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}
	if timeout <= 0 {
		return zero, fmt.Errorf("%w: %s: %w", ErrTimeout, target, context.DeadlineExceeded)
	}

	type result struct {
		msg any
		err error
	}
	future := root.RequestFuture(target, msg, timeout)
	done := make(chan result, 1)
	go func() {
		reply, err := future.Result()
		done <- result{msg: reply, err: err}
	}()

	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		return zero, fmt.Errorf("%w: %s: %w", ErrTimeout, target, ctx.Err())
	}

	switch {
	case errors.Is(res.err, actor.ErrTimeout):
		return zero, fmt.Errorf("%w: %s", ErrTimeout, target)
	case errors.Is(res.err, actor.ErrDeadLetter):
		return zero, fmt.Errorf("%w: %s", ErrUnavailable, target)
	case res.err != nil:
		return zero, fmt.Errorf("request to %s: %w", target, res.err)
	}

	reply, ok := res.msg.(T)
	if !ok {
		return zero, fmt.Errorf("%w: got %T", ErrUnexpectedReply, res.msg)
	}
	return reply, nil
}

// askFailed counts and wraps a failed exchange.
func (s *Service) askFailed(op string, err error) error {
	s.count(func(st *Stats) { st.AskFailures++ })
	s.logger.Warn("device request failed", "operation", op, "error", err)
	return fmt.Errorf("%s: %w", op, err)
}

func (s *Service) count(update func(*Stats)) {
	s.statsMu.Lock()
	update(&s.stats)
	s.statsMu.Unlock()
}

func (s *Service) publish(ctx context.Context, event Event) {
	if len(s.publishers) == 0 {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	for _, p := range s.publishers {
		p.Publish(ctx, event)
	}
}
