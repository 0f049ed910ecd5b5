// Package world holds the replicated entities and their positions.
package world

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"sightline/server/internal/codec"
	"sightline/server/internal/event"
	"sightline/server/internal/interest"
	"sightline/server/internal/telemetry"
	"sightline/server/logging"
	lifecyclelog "sightline/server/logging/lifecycle"
)

var ErrUnknownEntity = errors.New("world: unknown entity")

// Entity is a spawned, replicated object.
type Entity struct {
	ID    interest.EntityID `json:"id"`
	Kind  string            `json:"kind"`
	X     float64           `json:"x"`
	Y     float64           `json:"y"`
	VX    float64           `json:"vx,omitempty"`
	VY    float64           `json:"vy,omitempty"`
	Owner interest.PlayerID `json:"owner,omitempty"`
}

// Spawn describes an entity to create.
type Spawn struct {
	Kind   string
	X, Y   float64
	VX, VY float64
	Owner  interest.PlayerID
}

// Deps carries the World's collaborators.
type Deps struct {
	Transport interest.Transport
	Framer    codec.Framer
	Logger    telemetry.Logger
	Publisher logging.Publisher
	Metrics   telemetry.Metrics
	Tick      func() uint64
}

// World stores entities keyed by id. Mutations happen on the simulation
// goroutine; reads are safe from any goroutine. Events are emitted after the
// lock is released so handlers may read the world.
type World struct {
	cfg Config

	mu       sync.RWMutex
	entities map[interest.EntityID]*Entity
	owners   map[interest.PlayerID]interest.EntityID
	nextID   interest.EntityID

	spawned   event.Event[interest.EntityID]
	despawned event.Event[interest.EntityID]

	transport interest.Transport
	framer    codec.Framer
	logger    telemetry.Logger
	publisher logging.Publisher
	metrics   telemetry.Metrics
	tick      func() uint64
}

// New constructs an empty world.
func New(cfg Config, deps Deps) *World {
	w := &World{
		cfg:       cfg.normalized(),
		entities:  make(map[interest.EntityID]*Entity),
		owners:    make(map[interest.PlayerID]interest.EntityID),
		transport: deps.Transport,
		framer:    deps.Framer,
		logger:    deps.Logger,
		publisher: deps.Publisher,
		metrics:   deps.Metrics,
		tick:      deps.Tick,
	}
	if w.logger == nil {
		w.logger = telemetry.NopLogger()
	}
	if w.publisher == nil {
		w.publisher = logging.NopPublisher()
	}
	if w.metrics == nil {
		w.metrics = telemetry.NopMetrics()
	}
	if w.tick == nil {
		w.tick = func() uint64 { return 0 }
	}
	return w
}

func (w *World) Config() Config { return w.cfg }

func (w *World) Dimensions() (float64, float64) { return w.cfg.Width, w.cfg.Height }

func (w *World) OnSpawn() *event.Event[interest.EntityID]   { return &w.spawned }
func (w *World) OnDespawn() *event.Event[interest.EntityID] { return &w.despawned }

// Spawn creates an entity, clamped into the playfield, and emits the spawn
// event. The entity stays spawned even when a handler fails.
func (w *World) Spawn(spec Spawn) (Entity, error) {
	w.mu.Lock()
	if spec.Owner != "" {
		if _, taken := w.owners[spec.Owner]; taken {
			w.mu.Unlock()
			return Entity{}, fmt.Errorf("world: %s already owns an entity", spec.Owner)
		}
	}
	w.nextID++
	x, y := w.clamp(spec.X, spec.Y)
	entity := &Entity{
		ID:    w.nextID,
		Kind:  spec.Kind,
		X:     x,
		Y:     y,
		VX:    spec.VX,
		VY:    spec.VY,
		Owner: spec.Owner,
	}
	w.entities[entity.ID] = entity
	if spec.Owner != "" {
		w.owners[spec.Owner] = entity.ID
	}
	snapshot := *entity
	count := len(w.entities)
	w.mu.Unlock()

	w.metrics.Store("world_entities", uint64(count))
	lifecyclelog.EntitySpawned(context.Background(), w.publisher, w.tick(), logging.EntityRefFor(snapshot.ID.String()),
		lifecyclelog.EntityPayload{Kind: snapshot.Kind, X: snapshot.X, Y: snapshot.Y})
	if err := w.spawned.Emit(snapshot.ID); err != nil {
		return snapshot, fmt.Errorf("world: spawn %s: %w", snapshot.ID, err)
	}
	return snapshot, nil
}

// Despawn removes an entity. It reports false when the entity was unknown.
func (w *World) Despawn(id interest.EntityID) (bool, error) {
	w.mu.Lock()
	entity, ok := w.entities[id]
	if ok {
		delete(w.entities, id)
		if entity.Owner != "" {
			delete(w.owners, entity.Owner)
		}
	}
	count := len(w.entities)
	w.mu.Unlock()
	if !ok {
		return false, nil
	}

	w.metrics.Store("world_entities", uint64(count))
	lifecyclelog.EntityDespawned(context.Background(), w.publisher, w.tick(), logging.EntityRefFor(id.String()))
	return true, w.despawned.Emit(id)
}

// Move places an entity at x, y, clamped into the playfield.
func (w *World) Move(id interest.EntityID, x, y float64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	entity, ok := w.entities[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEntity, id)
	}
	entity.X, entity.Y = w.clamp(x, y)
	return nil
}

// SetVelocity sets the per-second velocity used by Step.
func (w *World) SetVelocity(id interest.EntityID, vx, vy float64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	entity, ok := w.entities[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEntity, id)
	}
	entity.VX, entity.VY = vx, vy
	return nil
}

// Step advances every moving entity by dt seconds, reflecting velocity at
// the playfield edges, and returns the ids that moved in ascending order.
func (w *World) Step(dt float64) []interest.EntityID {
	if dt <= 0 {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	var moved []interest.EntityID
	for id, entity := range w.entities {
		if entity.VX == 0 && entity.VY == 0 {
			continue
		}
		x := entity.X + entity.VX*dt
		y := entity.Y + entity.VY*dt
		if x < 0 || x > w.cfg.Width {
			entity.VX = -entity.VX
		}
		if y < 0 || y > w.cfg.Height {
			entity.VY = -entity.VY
		}
		entity.X, entity.Y = w.clamp(x, y)
		moved = append(moved, id)
	}
	slices.Sort(moved)
	return moved
}

// Entity returns a copy of the entity.
func (w *World) Entity(id interest.EntityID) (Entity, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	entity, ok := w.entities[id]
	if !ok {
		return Entity{}, false
	}
	return *entity, true
}

// Entities returns copies of every entity ordered by id.
func (w *World) Entities() []Entity {
	w.mu.RLock()
	entities := make([]Entity, 0, len(w.entities))
	for _, entity := range w.entities {
		entities = append(entities, *entity)
	}
	w.mu.RUnlock()
	slices.SortFunc(entities, func(a, b Entity) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return entities
}

// Spawned returns the ids of every active entity in ascending order.
func (w *World) Spawned() []interest.EntityID {
	w.mu.RLock()
	ids := make([]interest.EntityID, 0, len(w.entities))
	for id := range w.entities {
		ids = append(ids, id)
	}
	w.mu.RUnlock()
	slices.Sort(ids)
	return ids
}

// Position returns the entity's coordinates.
func (w *World) Position(id interest.EntityID) (float64, float64, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	entity, ok := w.entities[id]
	if !ok {
		return 0, 0, false
	}
	return entity.X, entity.Y, true
}

// PlayerPosition returns the position of the entity player owns.
func (w *World) PlayerPosition(player interest.PlayerID) (float64, float64, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	id, ok := w.owners[player]
	if !ok {
		return 0, 0, false
	}
	entity := w.entities[id]
	return entity.X, entity.Y, true
}

// AvatarOf returns the entity owned by player.
func (w *World) AvatarOf(player interest.PlayerID) (interest.EntityID, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	id, ok := w.owners[player]
	return id, ok
}

// Count reports the number of active entities.
func (w *World) Count() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.entities)
}

// Message builds the replication message for an entity.
func (w *World) Message(kind codec.Kind, id interest.EntityID) (codec.Message, bool) {
	entity, ok := w.Entity(id)
	if !ok {
		return codec.Message{}, false
	}
	return codec.Message{
		Kind:   kind,
		Tick:   w.tick(),
		Entity: uint64(entity.ID),
		Type:   entity.Kind,
		X:      entity.X,
		Y:      entity.Y,
		Player: string(entity.Owner),
	}, true
}

// ShowToPlayer sends the entity's spawn message to player alone.
func (w *World) ShowToPlayer(id interest.EntityID, player interest.PlayerID) error {
	if w.transport == nil {
		return nil
	}
	msg, ok := w.Message(codec.KindSpawn, id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEntity, id)
	}
	frame, err := w.framer.Encode(msg)
	if err != nil {
		return err
	}
	w.metrics.Add("world_direct_shows_total", 1)
	return w.transport.SendToMany(context.Background(), []interest.PlayerID{player}, frame, interest.ChannelReliable)
}

func (w *World) clamp(x, y float64) (float64, float64) {
	return min(max(x, 0), w.cfg.Width), min(max(y, 0), w.cfg.Height)
}

var _ interest.World = (*World)(nil)
