package device

import (
	"time"

	"github.com/asynkron/protoactor-go/actor"
)

// Group is the registry worker for the devices of one group. It creates
// device workers on first reference, removes them when they terminate and
// spawns one Query per aggregate read.
type Group struct {
	groupID string
	devices map[string]*actor.PID

	// byPID maps a device worker's process ID back to its device ID.
	byPID map[string]string

	// stopping holds passivated devices whose termination has not been
	// observed yet. They are replaced, not reused, on the next TrackDevice.
	stopping map[string]struct{}

	// defaultTimeout is used for RequestAllTemperatures sent directly to
	// the group with a non-positive Timeout.
	defaultTimeout time.Duration

	logger Logger
}

// NewGroup returns the behaviour for a group worker.
func NewGroup(groupID string, logger Logger) *Group {
	return &Group{
		groupID:        groupID,
		devices:        make(map[string]*actor.PID),
		byPID:          make(map[string]string),
		stopping:       make(map[string]struct{}),
		defaultTimeout: DefaultQueryTimeout,
		logger:         orNoop(logger),
	}
}

// GroupProps returns the spawn properties of a group worker. A
// non-positive defaultTimeout keeps DefaultQueryTimeout.
func GroupProps(groupID string, defaultTimeout time.Duration, logger Logger) *actor.Props {
	logger = orNoop(logger)
	return actor.PropsFromProducer(func() actor.Actor {
		g := NewGroup(groupID, logger)
		if defaultTimeout > 0 {
			g.defaultTimeout = defaultTimeout
		}
		return g
	}, actor.WithSupervisor(stopOnFailure(logger)))
}

// Receive implements actor.Actor.
func (g *Group) Receive(ctx actor.Context) {
	switch m := ctx.Message().(type) {
	case *actor.Started:
		g.logger.Info("device group started", "group_id", g.groupID)

	case *actor.Stopped:
		g.logger.Info("device group stopped", "group_id", g.groupID)

	case *actor.Stopping, *actor.Restarting:

	case TrackDevice:
		if !g.owns(m.GroupID, m) {
			return
		}
		ctx.Respond(DeviceRegistered{Device: g.track(ctx, m.DeviceID)})

	case LookupDevice:
		if !g.owns(m.GroupID, m) {
			return
		}
		found := DeviceFound{DeviceID: m.DeviceID}
		if pid, ok := g.devices[m.DeviceID]; ok && g.live(pid) {
			found.Device = pid
		}
		ctx.Respond(found)

	case RequestDeviceList:
		if !g.owns(m.GroupID, m) {
			return
		}
		ids := make(map[string]struct{}, len(g.devices))
		for id, pid := range g.devices {
			if g.live(pid) {
				ids[id] = struct{}{}
			}
		}
		ctx.Respond(ReplyDeviceList{RequestID: m.RequestID, IDs: ids})

	case RequestAllTemperatures:
		if !g.owns(m.GroupID, m) {
			return
		}
		timeout := m.Timeout
		if timeout <= 0 {
			timeout = g.defaultTimeout
		}
		targets := make(map[string]*actor.PID, len(g.devices))
		for id, pid := range g.devices {
			if g.live(pid) {
				targets[id] = pid
			}
		}
		ctx.SpawnPrefix(
			QueryProps(targets, m.RequestID, ctx.Sender(), timeout, g.logger),
			"query-"+g.groupID,
		)

	case PassivateDevice:
		if !g.owns(m.GroupID, m) {
			return
		}
		pid, ok := g.devices[m.DeviceID]
		ok = ok && g.live(pid)
		if ok {
			ctx.Send(pid, Passivate{})
			g.stopping[pid.Id] = struct{}{}
		}
		ctx.Respond(DevicePassivated{DeviceID: m.DeviceID, Found: ok})

	case *actor.Terminated:
		// Children report here too; finished queries are not registered.
		who := m.Who.Id
		delete(g.stopping, who)
		deviceID, ok := g.byPID[who]
		if !ok {
			return
		}
		delete(g.byPID, who)
		// A re-tracked device may already own the slot.
		if pid, ok := g.devices[deviceID]; ok && pid.Id == who {
			delete(g.devices, deviceID)
			g.logger.Info("device removed from group",
				"group_id", g.groupID,
				"device_id", deviceID,
			)
		}

	default:
		g.logger.Warn("device group received unknown message",
			"group_id", g.groupID,
			"type", typeName(m),
		)
	}
}

// track returns the live worker for deviceID, spawning it if needed.
// Devices are children of the group, so their termination is reported
// back without an explicit watch.
func (g *Group) track(ctx actor.Context, deviceID string) *actor.PID {
	if pid, ok := g.devices[deviceID]; ok && g.live(pid) {
		return pid
	}

	g.logger.Info("creating device worker", "group_id", g.groupID, "device_id", deviceID)
	pid := ctx.SpawnPrefix(DeviceProps(g.groupID, deviceID, g.logger), "device-"+deviceID)
	g.devices[deviceID] = pid
	g.byPID[pid.Id] = deviceID
	return pid
}

// live reports whether pid can still serve requests.
func (g *Group) live(pid *actor.PID) bool {
	_, stopping := g.stopping[pid.Id]
	return !stopping
}

// owns reports whether a request is addressed to this group. Misrouted
// requests are logged and get no reply.
func (g *Group) owns(groupID string, msg any) bool {
	if groupID == g.groupID {
		return true
	}
	g.logger.Warn("ignoring request for foreign group",
		"group_id", g.groupID,
		"requested_group_id", groupID,
		"type", typeName(msg),
	)
	return false
}
