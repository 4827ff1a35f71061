package device

import (
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/scheduler"
)

// querySubRequestID tags the reads a Query sends to its devices. Answers are
// correlated by device ID, so a fixed value is enough.
const querySubRequestID int64 = 0

// Query is the one-shot worker behind an aggregate read. It reads every
// device in its snapshot, resolves each one exactly once, replies to the
// caller once and stops.
type Query struct {
	requestID int64
	targets   map[string]*actor.PID
	replyTo   *actor.PID
	timeout   time.Duration
	logger    Logger

	// byPID maps a target's process ID back to its device ID.
	byPID map[string]string

	pending   map[string]struct{}
	collected map[string]TemperatureReading
	cancel    scheduler.CancelFunc
	started   time.Time
	done      bool
}

// NewQuery returns the behaviour for a query worker. targets is the
// device snapshot; it must not be modified after the call. A nil replyTo
// runs the query without delivering the result.
func NewQuery(targets map[string]*actor.PID, requestID int64, replyTo *actor.PID, timeout time.Duration, logger Logger) *Query {
	pending := make(map[string]struct{}, len(targets))
	byPID := make(map[string]string, len(targets))
	for id, pid := range targets {
		pending[id] = struct{}{}
		byPID[pid.Id] = id
	}
	return &Query{
		requestID: requestID,
		targets:   targets,
		replyTo:   replyTo,
		timeout:   timeout,
		logger:    orNoop(logger),
		byPID:     byPID,
		pending:   pending,
		collected: make(map[string]TemperatureReading, len(targets)),
	}
}

// QueryProps returns the spawn properties of a query worker.
func QueryProps(targets map[string]*actor.PID, requestID int64, replyTo *actor.PID, timeout time.Duration, logger Logger) *actor.Props {
	return actor.PropsFromProducer(func() actor.Actor {
		return NewQuery(targets, requestID, replyTo, timeout, logger)
	})
}

// Receive implements actor.Actor.
func (q *Query) Receive(ctx actor.Context) {
	switch m := ctx.Message().(type) {
	case *actor.Started:
		q.start(ctx)

	case *actor.Stopping:
		// Stopped from outside, for example because the group was
		// passivated: devices that had not answered are not available.
		if q.done {
			return
		}
		for id := range q.pending {
			q.collected[id] = DeviceNotAvailable{}
		}
		clear(q.pending)
		q.finish(ctx, false)

	case *actor.Terminated:
		// Terminated overtakes ordinary messages, so it is queued again
		// behind any answer the device sent before it stopped.
		if id, ok := q.byPID[m.Who.Id]; ok && !q.done {
			ctx.Send(ctx.Self(), deviceTerminated{deviceID: id})
		}

	case RespondTemperature:
		q.resolve(ctx, m.DeviceID, readingFromValue(m.Value))

	case deviceTerminated:
		q.resolve(ctx, m.deviceID, DeviceNotAvailable{})

	case queryTimeout:
		if q.done {
			return
		}
		for id := range q.pending {
			q.collected[id] = DeviceTimedOut{}
		}
		clear(q.pending)
		q.finish(ctx, true)
	}
}

// start watches every target before the reads go out so that no
// termination can be missed, then arms the deadline.
func (q *Query) start(ctx actor.Context) {
	q.started = time.Now()

	if len(q.pending) == 0 {
		q.finish(ctx, true)
		return
	}

	for _, pid := range q.targets {
		ctx.Watch(pid)
	}
	for _, pid := range q.targets {
		ctx.Request(pid, ReadTemperature{RequestID: querySubRequestID})
	}
	q.cancel = scheduler.NewTimerScheduler(ctx.ActorSystem().Root).
		SendOnce(q.timeout, ctx.Self(), queryTimeout{})
}

// resolve records the first outcome for a device. Later outcomes for the
// same device are ignored.
func (q *Query) resolve(ctx actor.Context, deviceID string, reading TemperatureReading) {
	if q.done {
		return
	}
	if _, ok := q.pending[deviceID]; !ok {
		return
	}
	delete(q.pending, deviceID)
	q.collected[deviceID] = reading

	if len(q.pending) == 0 {
		q.finish(ctx, true)
	}
}

// finish sends the single reply and, unless the worker is already
// stopping, stops it.
func (q *Query) finish(ctx actor.Context, stop bool) {
	if q.cancel != nil {
		q.cancel()
	}
	q.done = true

	q.logger.Debug("aggregate query completed",
		"request_id", q.requestID,
		"devices", len(q.collected),
		"duration", time.Since(q.started),
	)

	if q.replyTo != nil {
		ctx.Send(q.replyTo, RespondAllTemperatures{
			RequestID:    q.requestID,
			Temperatures: q.collected,
		})
	}
	if stop {
		ctx.Stop(ctx.Self())
	}
}
