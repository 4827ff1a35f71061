package sensor

import (
	"context"
	"encoding/json"
	"time"
)

// healthLoop publishes health every HealthInterval until ctx or Stop ends it.
func (b *Bridge) healthLoop(ctx context.Context) {
	ticker := time.NewTicker(b.opts.HealthInterval)
	defer ticker.Stop()

	b.publishHealth(b.currentStatus())

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.done:
			return
		case <-ticker.C:
			b.publishHealth(b.currentStatus())
		}
	}
}

func (b *Bridge) currentStatus() (HealthStatus, string) {
	if !b.mqtt.IsConnected() {
		return HealthDegraded, "mqtt disconnected"
	}
	return HealthHealthy, ""
}

// healthMessage snapshots the bridge state.
func (b *Bridge) healthMessage(status HealthStatus, reason string) HealthMessage {
	var uptime int64
	if !b.startedAt.IsZero() {
		uptime = int64(time.Since(b.startedAt).Seconds())
	}
	return HealthMessage{
		Bridge:        BridgeID,
		Status:        status,
		Reason:        reason,
		Version:       b.opts.Version,
		UptimeSeconds: uptime,
		Readings:      b.readings.Load(),
		Queries:       b.queries.Load(),
		Errors:        b.errors.Load(),
		Timestamp:     time.Now().UTC(),
	}
}

// publishHealth publishes a retained health message. Failures are logged.
func (b *Bridge) publishHealth(status HealthStatus, reason string) {
	payload, err := json.Marshal(b.healthMessage(status, reason))
	if err != nil {
		b.logger.Error("encoding health failed", "error", err)
		return
	}
	if err := b.mqtt.Publish(b.topics.Health(BridgeID), payload, b.opts.QoS, true); err != nil {
		b.logger.Debug("publishing health failed", "status", string(status), "error", err)
	}
}
