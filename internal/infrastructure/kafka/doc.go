// Package kafka streams device events to a Kafka topic.
//
// Publisher queues messages in memory and a single background goroutine
// writes them with github.com/segmentio/kafka-go. Enqueueing never blocks:
// when the queue is full the message is dropped and counted, so a slow or
// unreachable cluster cannot stall the device service.
//
// Usage:
//
//	pub, err := kafka.New(cfg.Kafka)
//	if errors.Is(err, kafka.ErrDisabled) {
//	    // streaming off
//	}
//	pub.Start(ctx)
//	defer pub.Stop(shutdownCtx)
//	pub.Publish("kitchen", event)
package kafka
