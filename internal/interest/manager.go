package interest

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"sightline/server/internal/event"
	"sightline/server/internal/telemetry"
	"sightline/server/logging"
	interestlog "sightline/server/logging/interest"
	lifecyclelog "sightline/server/logging/lifecycle"
)

const tracerName = "sightline/server/internal/interest"

const (
	metricSends             = "interest_sends_total"
	metricSendsEmpty        = "interest_sends_empty_total"
	metricSkipped           = "interest_sends_skipped_total"
	metricRecipients        = "interest_recipients_total"
	metricUpdates           = "interest_updates_total"
	metricRegistered        = "interest_registered_systems"
	metricFallbackAuth      = "interest_fallback_authenticated_total"
	metricFallbackSpawn     = "interest_fallback_spawned_total"
	metricResolvePrefix     = "interest_resolve_"
	metricResolveSuffix     = "_total"
	metricDuplicateRegister = "interest_duplicate_registrations_total"
)

// Config tunes observer resolution.
type Config struct {
	PartialPolicy PartialPolicy
}

// DefaultConfig returns the framework-compatible configuration.
func DefaultConfig() Config {
	return Config{PartialPolicy: PartialDeny}
}

// Deps carries the collaborators and infrastructure a Manager binds to.
type Deps struct {
	World     World
	Sessions  Sessions
	Lifecycle Lifecycle
	Transport Transport

	Logger    telemetry.Logger
	Publisher logging.Publisher
	Metrics   telemetry.Metrics
	Tracer    trace.Tracer
	// Tick reports the current simulation tick for log events.
	Tick func() uint64
}

// Manager owns the visibility registry, binds to world and session events
// while the server runs, and filters replication sends to each entity's
// observers.
type Manager struct {
	cfg       Config
	world     World
	sessions  Sessions
	lifecycle Lifecycle
	transport Transport

	registry   *Registry
	observers  PlayerSet
	recipients []PlayerID

	started       bool
	spawnSub      *event.Subscription
	authSub       *event.Subscription
	lifecycleSubs []*event.Subscription

	logger    telemetry.Logger
	publisher logging.Publisher
	metrics   telemetry.Metrics
	tracer    trace.Tracer
	tick      func() uint64
}

// NewManager constructs a Manager and subscribes it to the lifecycle's start
// and stop events when a Lifecycle is provided.
func NewManager(cfg Config, deps Deps) *Manager {
	m := &Manager{
		cfg:       cfg,
		world:     deps.World,
		sessions:  deps.Sessions,
		lifecycle: deps.Lifecycle,
		transport: deps.Transport,
		registry:  NewRegistry(),
		observers: make(PlayerSet),
		logger:    deps.Logger,
		publisher: deps.Publisher,
		metrics:   deps.Metrics,
		tracer:    deps.Tracer,
		tick:      deps.Tick,
	}
	if m.logger == nil {
		m.logger = telemetry.NopLogger()
	}
	if m.publisher == nil {
		m.publisher = logging.NopPublisher()
	}
	if m.metrics == nil {
		m.metrics = telemetry.NopMetrics()
	}
	if m.tracer == nil {
		m.tracer = otel.Tracer(tracerName)
	}
	if m.tick == nil {
		m.tick = func() uint64 { return 0 }
	}

	if m.lifecycle != nil {
		m.lifecycleSubs = append(m.lifecycleSubs,
			m.lifecycle.OnStarted().Subscribe(func(struct{}) error {
				m.OnServerStarted()
				return nil
			}),
			m.lifecycle.OnStopped().Subscribe(func(struct{}) error {
				m.OnServerStopped()
				return nil
			}),
		)
	}
	return m
}

// Close detaches the Manager from the lifecycle and stops it.
func (m *Manager) Close() {
	for _, sub := range m.lifecycleSubs {
		sub.Unsubscribe()
	}
	m.lifecycleSubs = nil
	m.OnServerStopped()
}

// Started reports whether the Manager is bound to world and session events.
func (m *Manager) Started() bool {
	return m.started
}

// RegisterVisibilitySystem adds system to the registry and returns its
// handle. Registering an instance that is already present logs a warning and
// returns the existing handle without changing anything.
func (m *Manager) RegisterVisibilitySystem(system VisibilitySystem) Handle {
	ctx := context.Background()
	handle, err := m.registry.Add(system)
	switch {
	case errors.Is(err, ErrDuplicateSystem):
		m.metrics.Add(metricDuplicateRegister, 1)
		m.logger.Printf("[interest] system %s (%T) already registered, check whether this was intended", handle, system)
		interestlog.DuplicateRegistration(ctx, m.publisher, m.tick(), logging.SystemRef(handle.String()), m.systemPayload(system))
		return handle
	case err != nil:
		m.logger.Printf("[interest] refusing to register %T: %v", system, err)
		interestlog.RegistrationRejected(ctx, m.publisher, m.tick(), logging.SystemRef(""), m.systemPayload(system))
		return 0
	}

	m.metrics.Store(metricRegistered, uint64(m.registry.Len()))
	interestlog.SystemRegistered(ctx, m.publisher, m.tick(), logging.SystemRef(handle.String()), m.systemPayload(system))
	return handle
}

// UnregisterVisibilitySystem removes system from the registry. Removing a
// system that is not registered logs a warning and returns false.
func (m *Manager) UnregisterVisibilitySystem(system VisibilitySystem) bool {
	ctx := context.Background()
	handle, err := m.registry.Remove(system)
	if err != nil {
		m.logger.Printf("[interest] cannot unregister %T: %v", system, err)
		interestlog.UnregisterMissing(ctx, m.publisher, m.tick(), logging.SystemRef(""), m.systemPayload(system))
		return false
	}
	m.metrics.Store(metricRegistered, uint64(m.registry.Len()))
	interestlog.SystemUnregistered(ctx, m.publisher, m.tick(), logging.SystemRef(handle.String()), m.systemPayload(system))
	return true
}

// IsRegistered reports whether this exact system instance is registered.
func (m *Manager) IsRegistered(system VisibilitySystem) bool {
	return m.registry.Contains(system)
}

// HandleOf returns the handle system is registered under.
func (m *Manager) HandleOf(system VisibilitySystem) (Handle, bool) {
	return m.registry.Handle(system)
}

// Systems returns the registered systems in registration order.
func (m *Manager) Systems() []VisibilitySystem {
	return m.registry.Systems()
}

// Handles returns the registered handles in registration order.
func (m *Manager) Handles() []Handle {
	return m.registry.Handles()
}

func (m *Manager) systemPayload(system VisibilitySystem) interestlog.SystemPayload {
	return interestlog.SystemPayload{System: fmt.Sprintf("%T", system), Registered: m.registry.Len()}
}

// OnServerStarted subscribes to entity spawns and player authentication.
// Calling it while already started is a no-op.
func (m *Manager) OnServerStarted() {
	if m.started {
		return
	}
	if m.world != nil {
		m.spawnSub = m.world.OnSpawn().Subscribe(func(entity EntityID) error {
			return m.OnSpawnInWorld(context.Background(), entity)
		})
	}
	if m.sessions != nil {
		m.authSub = m.sessions.OnAuthenticated().Subscribe(func(player PlayerID) error {
			return m.OnAuthenticated(context.Background(), player)
		})
	}
	m.started = true
	lifecyclelog.ServerStarted(context.Background(), m.publisher, m.tick(), lifecyclelog.ServerPayload{Systems: m.registry.Len()})
}

// OnServerStopped unsubscribes from world and session events and clears the
// registry and the observer scratch set together. Calling it while stopped
// is a no-op.
func (m *Manager) OnServerStopped() {
	if !m.started {
		return
	}
	m.spawnSub.Unsubscribe()
	m.authSub.Unsubscribe()
	m.spawnSub = nil
	m.authSub = nil

	m.registry.Clear()
	m.observers.Reset()
	m.recipients = m.recipients[:0]
	m.started = false

	m.metrics.Store(metricRegistered, 0)
	lifecyclelog.ServerStopped(context.Background(), m.publisher, m.tick(), lifecyclelog.ServerPayload{})
}

// OnAuthenticated notifies every system that player's session is valid. A
// system counts as already covering the player when its mapping contains the
// player before it is notified. When no system covers the player, every
// spawned entity is shown to the player directly.
func (m *Manager) OnAuthenticated(ctx context.Context, player PlayerID) error {
	ctx, span := m.tracer.Start(ctx, "interest.OnAuthenticated",
		trace.WithAttributes(attribute.String("player", string(player))))
	defer span.End()

	found := false
	for _, entry := range m.registry.entriesView() {
		if entry.system.Observers().ContainsPlayer(player) {
			found = true
		}
		if err := entry.system.OnAuthenticated(player); err != nil {
			err = fmt.Errorf("interest: %s OnAuthenticated(%s): %w", entry.handle, player, err)
			recordError(span, err)
			return err
		}
	}

	lifecyclelog.PlayerAuthenticated(ctx, m.publisher, m.tick(), logging.PlayerRef(string(player)), nil)
	if found || m.world == nil {
		return nil
	}

	shown := 0
	for _, entity := range m.world.Spawned() {
		if err := m.world.ShowToPlayer(entity, player); err != nil {
			err = fmt.Errorf("interest: show %s to %s: %w", entity, player, err)
			recordError(span, err)
			return err
		}
		shown++
	}
	m.metrics.Add(metricFallbackAuth, 1)
	span.SetAttributes(attribute.Bool("fallback", true))
	interestlog.GlobalFallback(ctx, m.publisher, m.tick(), logging.PlayerRef(string(player)),
		interestlog.FallbackPayload{Trigger: interestlog.FallbackTriggerAuthenticated, Shown: shown})
	return nil
}

// OnSpawnInWorld notifies every system that entity spawned. When no system's
// mapping contained the entity before notification, it is shown to every
// connected player directly.
func (m *Manager) OnSpawnInWorld(ctx context.Context, entity EntityID) error {
	ctx, span := m.tracer.Start(ctx, "interest.OnSpawnInWorld",
		trace.WithAttributes(attribute.Int64("entity", int64(entity))))
	defer span.End()

	found := false
	for _, entry := range m.registry.entriesView() {
		if entry.system.Observers().Tracks(entity) {
			found = true
		}
		if err := entry.system.OnSpawned(entity); err != nil {
			err = fmt.Errorf("interest: %s OnSpawned(%s): %w", entry.handle, entity, err)
			recordError(span, err)
			return err
		}
	}

	if found || m.world == nil || m.sessions == nil {
		return nil
	}

	shown := 0
	for _, player := range m.sessions.Players() {
		if err := m.world.ShowToPlayer(entity, player); err != nil {
			err = fmt.Errorf("interest: show %s to %s: %w", entity, player, err)
			recordError(span, err)
			return err
		}
		shown++
	}
	m.metrics.Add(metricFallbackSpawn, 1)
	span.SetAttributes(attribute.Bool("fallback", true))
	interestlog.GlobalFallback(ctx, m.publisher, m.tick(), logging.EntityRefFor(entity.String()),
		interestlog.FallbackPayload{Trigger: interestlog.FallbackTriggerSpawned, Shown: shown})
	return nil
}

// Update gives every registered system one CheckForObservers call. The first
// failure is returned and the remaining systems are skipped for this tick.
func (m *Manager) Update(ctx context.Context) error {
	_, span := m.tracer.Start(ctx, "interest.Update")
	defer span.End()

	entries := m.registry.entriesView()
	span.SetAttributes(attribute.Int("systems", len(entries)))
	for _, entry := range entries {
		if err := entry.system.CheckForObservers(); err != nil {
			err = fmt.Errorf("interest: %s CheckForObservers: %w", entry.handle, err)
			recordError(span, err)
			return err
		}
	}
	m.metrics.Add(metricUpdates, 1)
	return nil
}

// Send delivers message to the observers of entity on channel. The first
// skip player, when given, is excluded. When no recipient remains the
// transport is not called. A stopped Manager sends nothing.
func (m *Manager) Send(ctx context.Context, entity EntityID, message []byte, channel Channel, skip ...PlayerID) error {
	if !m.started || m.transport == nil {
		return nil
	}
	ctx, span := m.tracer.Start(ctx, "interest.Send",
		trace.WithAttributes(
			attribute.Int64("entity", int64(entity)),
			attribute.String("channel", channel.String()),
		))
	defer span.End()

	res := m.resolve(ctx, entity)
	if len(skip) > 0 && m.observers.Has(skip[0]) {
		m.observers.Remove(skip[0])
		m.metrics.Add(metricSkipped, 1)
	}
	m.metrics.Add(metricSends, 1)
	span.SetAttributes(
		attribute.String("branch", res.Branch.String()),
		attribute.Int("recipients", m.observers.Len()),
	)
	if m.observers.Len() == 0 {
		m.metrics.Add(metricSendsEmpty, 1)
		return nil
	}

	m.recipients = m.observers.AppendSorted(m.recipients[:0])
	m.metrics.Add(metricRecipients, uint64(len(m.recipients)))
	if err := m.transport.SendToMany(ctx, m.recipients, message, channel); err != nil {
		err = fmt.Errorf("interest: send %s: %w", entity, err)
		recordError(span, err)
		return err
	}
	return nil
}

// Observers returns the sorted observer set Send would use for entity,
// before any skip is applied.
func (m *Manager) Observers(entity EntityID) []PlayerID {
	m.resolve(context.Background(), entity)
	return m.observers.Sorted()
}

// Resolve exposes the resolution details for entity.
func (m *Manager) Resolve(entity EntityID) (Resolution, []PlayerID) {
	res := m.resolve(context.Background(), entity)
	return res, m.observers.Sorted()
}

func (m *Manager) resolve(ctx context.Context, entity EntityID) Resolution {
	_, span := m.tracer.Start(ctx, "interest.Observers")
	defer span.End()

	var connected PlayerSource
	if m.sessions != nil {
		connected = m.sessions
	}
	res := Resolve(entity, m.registry, connected, m.cfg.PartialPolicy, m.observers)
	m.metrics.Add(metricResolvePrefix+res.Branch.String()+metricResolveSuffix, 1)
	span.SetAttributes(
		attribute.Int("tracked", res.Tracked),
		attribute.Int("total", res.Total),
	)
	return res
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
