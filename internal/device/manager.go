package device

import (
	"sync"
	"time"

	"github.com/asynkron/protoactor-go/actor"
)

// Query timeout defaults, used when ManagerConfig leaves them unset.
const (
	DefaultQueryTimeout = 3 * time.Second
	DefaultMaxTimeout   = 30 * time.Second
)

// ManagerConfig holds the manager's query settings.
type ManagerConfig struct {
	// DefaultTimeout replaces a non-positive RequestAllTemperatures timeout.
	DefaultTimeout time.Duration

	// MaxTimeout caps RequestAllTemperatures timeouts.
	MaxTimeout time.Duration
}

// withDefaults fills unset fields and keeps DefaultTimeout within MaxTimeout.
func (c ManagerConfig) withDefaults() ManagerConfig {
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = DefaultQueryTimeout
	}
	if c.MaxTimeout <= 0 {
		c.MaxTimeout = DefaultMaxTimeout
	}
	if c.DefaultTimeout > c.MaxTimeout {
		c.DefaultTimeout = c.MaxTimeout
	}
	return c
}

// EffectiveTimeout returns the deadline the manager applies to a
// RequestAllTemperatures with the given timeout.
func (c ManagerConfig) EffectiveTimeout(d time.Duration) time.Duration {
	c = c.withDefaults()
	if d <= 0 {
		return c.DefaultTimeout
	}
	if d > c.MaxTimeout {
		return c.MaxTimeout
	}
	return d
}

// Manager is the top-level registry worker. It owns one Group per group ID
// and routes requests to it with the original sender, so groups and
// queries answer the caller directly.
type Manager struct {
	cfg    ManagerConfig
	groups map[string]*actor.PID
	byPID  map[string]string
	logger Logger

	// stopping holds passivated groups awaiting their termination notification.
	stopping map[string]struct{}
}

// NewManager returns the behaviour for a manager worker.
func NewManager(cfg ManagerConfig, logger Logger) *Manager {
	return &Manager{
		cfg:      cfg.withDefaults(),
		groups:   make(map[string]*actor.PID),
		byPID:    make(map[string]string),
		stopping: make(map[string]struct{}),
		logger:   orNoop(logger),
	}
}

// ManagerProps returns the spawn properties of a manager worker.
func ManagerProps(cfg ManagerConfig, logger Logger) *actor.Props {
	logger = orNoop(logger)
	return actor.PropsFromProducer(func() actor.Actor {
		return NewManager(cfg, logger)
	}, actor.WithSupervisor(stopOnFailure(logger)))
}

// Receive implements actor.Actor.
func (m *Manager) Receive(ctx actor.Context) {
	switch r := ctx.Message().(type) {
	case *actor.Started:
		m.logger.Info("device manager started",
			"default_timeout", m.cfg.DefaultTimeout,
			"max_timeout", m.cfg.MaxTimeout,
		)

	case *actor.Stopped:
		m.logger.Info("device manager stopped")

	case *actor.Stopping, *actor.Restarting:

	case TrackDevice:
		ctx.RequestWithCustomSender(m.group(ctx, r.GroupID), r, ctx.Sender())

	case LookupDevice:
		if !m.forward(ctx, r.GroupID, r) {
			ctx.Respond(DeviceFound{DeviceID: r.DeviceID})
		}

	case RequestDeviceList:
		if !m.forward(ctx, r.GroupID, r) {
			ctx.Respond(ReplyDeviceList{RequestID: r.RequestID, IDs: map[string]struct{}{}})
		}

	case RequestAllTemperatures:
		r.Timeout = m.cfg.EffectiveTimeout(r.Timeout)
		if !m.forward(ctx, r.GroupID, r) {
			ctx.Respond(RespondAllTemperatures{
				RequestID:    r.RequestID,
				Temperatures: map[string]TemperatureReading{},
			})
		}

	case PassivateDevice:
		if !m.forward(ctx, r.GroupID, r) {
			ctx.Respond(DevicePassivated{DeviceID: r.DeviceID, Found: false})
		}

	case PassivateGroup:
		pid, ok := m.groups[r.GroupID]
		ok = ok && m.live(pid)
		if ok {
			// Poison lets the group answer requests already forwarded to it.
			ctx.Poison(pid)
			m.stopping[pid.Id] = struct{}{}
		}
		ctx.Respond(GroupPassivated{GroupID: r.GroupID, Found: ok})

	case *actor.Terminated:
		who := r.Who.Id
		delete(m.stopping, who)
		groupID, ok := m.byPID[who]
		if !ok {
			return
		}
		delete(m.byPID, who)
		if pid, ok := m.groups[groupID]; ok && pid.Id == who {
			delete(m.groups, groupID)
			m.logger.Info("device group removed", "group_id", groupID)
		}

	default:
		m.logger.Warn("device manager received unknown message", "type", typeName(r))
	}
}

// forward hands msg to the live group for groupID, keeping the sender.
// It reports false when there is no such group.
func (m *Manager) forward(ctx actor.Context, groupID string, msg any) bool {
	pid, ok := m.groups[groupID]
	if !ok || !m.live(pid) {
		return false
	}
	ctx.RequestWithCustomSender(pid, msg, ctx.Sender())
	return true
}

// group returns the live group worker for groupID, spawning it if needed.
func (m *Manager) group(ctx actor.Context, groupID string) *actor.PID {
	if pid, ok := m.groups[groupID]; ok && m.live(pid) {
		return pid
	}

	m.logger.Info("creating device group", "group_id", groupID)
	pid := ctx.SpawnPrefix(GroupProps(groupID, m.cfg.DefaultTimeout, m.logger), "group-"+groupID)
	m.groups[groupID] = pid
	m.byPID[pid.Id] = groupID
	return pid
}

// live reports whether pid can still serve requests.
func (m *Manager) live(pid *actor.PID) bool {
	_, stopping := m.stopping[pid.Id]
	return !stopping
}

// Hierarchy is a running device manager together with the actor system
// it lives on.
//
// Thread Safety: all methods are safe for concurrent use.
type Hierarchy struct {
	system  *actor.ActorSystem
	manager *actor.PID
	cfg     ManagerConfig

	stopOnce sync.Once
}

// NewHierarchy starts an actor system and spawns the manager worker on it.
//
// Parameters:
//   - cfg: Query timeout settings (zero values use the package defaults)
//   - logger: Logger shared by the manager and every worker below it (nil for none)
//
// Returns:
//   - *Hierarchy: Running hierarchy; call Stop to shut it down
func NewHierarchy(cfg ManagerConfig, logger Logger) *Hierarchy {
	cfg = cfg.withDefaults()
	system := actor.NewActorSystem()
	return &Hierarchy{
		system:  system,
		manager: system.Root.Spawn(ManagerProps(cfg, logger)),
		cfg:     cfg,
	}
}

// Root returns the context non-worker code sends requests from.
func (h *Hierarchy) Root() *actor.RootContext {
	return h.system.Root
}

// Manager returns the manager worker. It accepts TrackDevice,
// LookupDevice, RequestDeviceList, RequestAllTemperatures,
// PassivateDevice and PassivateGroup.
func (h *Hierarchy) Manager() *actor.PID {
	return h.manager
}

// Config returns the effective manager configuration.
func (h *Hierarchy) Config() ManagerConfig {
	return h.cfg
}

// Stop stops the manager and waits until every group, device and query
// below it has terminated. Calling Stop more than once is safe.
func (h *Hierarchy) Stop() {
	h.stopOnce.Do(func() {
		_ = h.system.Root.StopFuture(h.manager).Wait()
	})
}
