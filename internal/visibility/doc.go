// Package visibility holds the interfaces shared by the visibility systems
// in its subpackages.
package visibility

import "sightline/server/internal/interest"

// Space exposes entity and player positions to position-based systems.
type Space interface {
	Spawned() []interest.EntityID
	Position(entity interest.EntityID) (x, y float64, ok bool)
	PlayerPosition(player interest.PlayerID) (x, y float64, ok bool)
}

// Prune drops entries for entities that are no longer spawned.
func Prune(observers interest.ObserverMap, spawned []interest.EntityID) {
	if len(observers) == 0 {
		return
	}
	alive := make(map[interest.EntityID]struct{}, len(spawned))
	for _, id := range spawned {
		alive[id] = struct{}{}
	}
	for id := range observers {
		if _, ok := alive[id]; !ok {
			delete(observers, id)
		}
	}
}
