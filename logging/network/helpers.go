package network

import (
	"context"

	"sightline/server/logging"
)

const (
	// EventSendDropped is emitted when an unreliable message is dropped for a saturated connection.
	EventSendDropped logging.EventType = "network.send_dropped"
	// EventSlowConsumer is emitted when a reliable queue overflows and the connection is closed.
	EventSlowConsumer logging.EventType = "network.slow_consumer"
	// EventWriteFailed is emitted when a websocket write fails.
	EventWriteFailed logging.EventType = "network.write_failed"
)

// QueuePayload captures outbound queue state for a connection.
type QueuePayload struct {
	Channel  string `json:"channel"`
	Capacity int    `json:"capacity"`
}

// WriteFailedPayload captures the failing write.
type WriteFailedPayload struct {
	Error string `json:"error"`
}

// SendDropped publishes a debug event when an unreliable message is dropped.
func SendDropped(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload QueuePayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventSendDropped,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityDebug,
		Category: logging.CategoryNetwork,
		Payload:  payload,
	})
}

// SlowConsumer publishes a warning when a reliable queue overflows.
func SlowConsumer(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload QueuePayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventSlowConsumer,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityWarn,
		Category: logging.CategoryNetwork,
		Payload:  payload,
	})
}

// WriteFailed publishes a warning when a connection write fails.
func WriteFailed(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload WriteFailedPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventWriteFailed,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityWarn,
		Category: logging.CategoryNetwork,
		Payload:  payload,
	})
}
