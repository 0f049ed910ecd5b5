package interest

import (
	"context"

	"sightline/server/logging"
)

const (
	// EventSystemRegistered is emitted when a visibility system joins the registry.
	EventSystemRegistered logging.EventType = "interest.system_registered"
	// EventDuplicateRegistration is emitted when a system is registered twice.
	EventDuplicateRegistration logging.EventType = "interest.duplicate_registration"
	// EventSystemUnregistered is emitted when a visibility system leaves the registry.
	EventSystemUnregistered logging.EventType = "interest.system_unregistered"
	// EventUnregisterMissing is emitted when an unknown system is unregistered.
	EventUnregisterMissing logging.EventType = "interest.unregister_missing"
	// EventRegistrationRejected is emitted when a system value has no usable identity.
	EventRegistrationRejected logging.EventType = "interest.registration_rejected"
	// EventGlobalFallback is emitted when no visibility system claimed a player or entity.
	EventGlobalFallback logging.EventType = "interest.global_fallback"
)

// SystemPayload describes a visibility system registry change.
type SystemPayload struct {
	System     string `json:"system"`
	Registered int    `json:"registered"`
}

// FallbackPayload describes a global fallback decision.
type FallbackPayload struct {
	Trigger string `json:"trigger"`
	Shown   int    `json:"shown"`
}

const (
	FallbackTriggerAuthenticated = "authenticated"
	FallbackTriggerSpawned       = "spawned"
)

// SystemRegistered publishes a debug event for a successful registration.
func SystemRegistered(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload SystemPayload) {
	publish(ctx, pub, EventSystemRegistered, logging.SeverityDebug, tick, actor, payload)
}

// DuplicateRegistration publishes a warning when a system is already registered.
func DuplicateRegistration(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload SystemPayload) {
	publish(ctx, pub, EventDuplicateRegistration, logging.SeverityWarn, tick, actor, payload)
}

// SystemUnregistered publishes a debug event for a successful removal.
func SystemUnregistered(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload SystemPayload) {
	publish(ctx, pub, EventSystemUnregistered, logging.SeverityDebug, tick, actor, payload)
}

// UnregisterMissing publishes a warning when the system was never registered.
func UnregisterMissing(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload SystemPayload) {
	publish(ctx, pub, EventUnregisterMissing, logging.SeverityWarn, tick, actor, payload)
}

// RegistrationRejected publishes a warning when a system cannot be keyed by identity.
func RegistrationRejected(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload SystemPayload) {
	publish(ctx, pub, EventRegistrationRejected, logging.SeverityWarn, tick, actor, payload)
}

// GlobalFallback publishes an info event when the global fallback fires.
func GlobalFallback(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload FallbackPayload) {
	publish(ctx, pub, EventGlobalFallback, logging.SeverityInfo, tick, actor, payload)
}

func publish(ctx context.Context, pub logging.Publisher, eventType logging.EventType, severity logging.Severity, tick uint64, actor logging.EntityRef, payload any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     eventType,
		Tick:     tick,
		Actor:    actor,
		Severity: severity,
		Category: logging.CategoryInterest,
		Payload:  payload,
	})
}
