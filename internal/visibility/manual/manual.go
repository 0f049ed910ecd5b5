// Package manual implements a visibility system whose observer lists are
// set explicitly by game code.
package manual

import (
	"sightline/server/internal/interest"
	"sightline/server/internal/visibility"
)

// Spawned lists the active entities so stale entries can be pruned.
type Spawned interface {
	Spawned() []interest.EntityID
}

// System keeps explicit per-entity observer lists. Entities never passed to
// Show stay untracked. Owned entities are shown to their owner when spawned
// if an Owner lookup is configured.
type System struct {
	world     Spawned
	owner     func(interest.EntityID) (interest.PlayerID, bool)
	observers interest.ObserverMap
}

// New returns an empty system. owner may be nil.
func New(world Spawned, owner func(interest.EntityID) (interest.PlayerID, bool)) *System {
	return &System{
		world:     world,
		owner:     owner,
		observers: make(interest.ObserverMap),
	}
}

func (s *System) Observers() interest.ObserverMap {
	return s.observers
}

// Show adds players to entity's observers, tracking the entity if needed.
func (s *System) Show(entity interest.EntityID, players ...interest.PlayerID) {
	set, ok := s.observers[entity]
	if !ok {
		set = make(interest.PlayerSet, len(players))
		s.observers[entity] = set
	}
	for _, p := range players {
		set.Add(p)
	}
}

// Hide removes player from entity's observers. The entity stays tracked.
func (s *System) Hide(entity interest.EntityID, player interest.PlayerID) {
	if set, ok := s.observers[entity]; ok {
		set.Remove(player)
	}
}

// Forget stops tracking entity.
func (s *System) Forget(entity interest.EntityID) {
	delete(s.observers, entity)
}

func (s *System) OnSpawned(entity interest.EntityID) error {
	if s.owner == nil {
		return nil
	}
	if player, ok := s.owner(entity); ok {
		s.Show(entity, player)
	}
	return nil
}

func (s *System) OnAuthenticated(interest.PlayerID) error {
	return nil
}

// CheckForObservers drops entries for despawned entities.
func (s *System) CheckForObservers() error {
	if s.world != nil {
		visibility.Prune(s.observers, s.world.Spawned())
	}
	return nil
}

var _ interest.VisibilitySystem = (*System)(nil)
