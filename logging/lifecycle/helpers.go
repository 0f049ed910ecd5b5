package lifecycle

import (
	"context"

	"sightline/server/logging"
)

const (
	// EventServerStarted is emitted when the interest manager binds to the world and sessions.
	EventServerStarted logging.EventType = "lifecycle.server_started"
	// EventServerStopped is emitted when the interest manager unbinds and clears its registry.
	EventServerStopped logging.EventType = "lifecycle.server_stopped"
	// EventPlayerAuthenticated is emitted when a session becomes valid.
	EventPlayerAuthenticated logging.EventType = "lifecycle.player_authenticated"
	// EventPlayerDisconnected is emitted when a player leaves.
	EventPlayerDisconnected logging.EventType = "lifecycle.player_disconnected"
	// EventEntitySpawned is emitted when an entity becomes active in the world.
	EventEntitySpawned logging.EventType = "lifecycle.entity_spawned"
	// EventEntityDespawned is emitted when an entity leaves the world.
	EventEntityDespawned logging.EventType = "lifecycle.entity_despawned"
)

// ServerPayload captures registry state at a lifecycle transition.
type ServerPayload struct {
	Systems int `json:"systems"`
}

// PlayerDisconnectedPayload captures the reason a player left.
type PlayerDisconnectedPayload struct {
	Reason string `json:"reason"`
}

// EntityPayload captures spawn metadata for an entity.
type EntityPayload struct {
	Kind string  `json:"kind,omitempty"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

// ServerStarted publishes a server start event.
func ServerStarted(ctx context.Context, pub logging.Publisher, tick uint64, payload ServerPayload) {
	publish(ctx, pub, EventServerStarted, tick, logging.ServerRef(), payload, nil)
}

// ServerStopped publishes a server stop event.
func ServerStopped(ctx context.Context, pub logging.Publisher, tick uint64, payload ServerPayload) {
	publish(ctx, pub, EventServerStopped, tick, logging.ServerRef(), payload, nil)
}

// PlayerAuthenticated publishes a session authentication event.
func PlayerAuthenticated(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, extra map[string]any) {
	publish(ctx, pub, EventPlayerAuthenticated, tick, actor, nil, extra)
}

// PlayerDisconnected publishes a player disconnect event.
func PlayerDisconnected(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload PlayerDisconnectedPayload, extra map[string]any) {
	publish(ctx, pub, EventPlayerDisconnected, tick, actor, payload, extra)
}

// EntitySpawned publishes an entity spawn event.
func EntitySpawned(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload EntityPayload) {
	publish(ctx, pub, EventEntitySpawned, tick, actor, payload, nil)
}

// EntityDespawned publishes an entity removal event.
func EntityDespawned(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef) {
	publish(ctx, pub, EventEntityDespawned, tick, actor, nil, nil)
}

func publish(ctx context.Context, pub logging.Publisher, eventType logging.EventType, tick uint64, actor logging.EntityRef, payload any, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     eventType,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryLifecycle,
		Payload:  payload,
		Extra:    extra,
	})
}
