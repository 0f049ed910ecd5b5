// Package zone implements a visibility system built from named rectangular
// zones. An entity inside a zone is observed by the zone's members; entities
// outside every zone are left untracked.
package zone

import (
	"errors"
	"fmt"
	"slices"

	"sightline/server/internal/interest"
	"sightline/server/internal/visibility"
)

var ErrUnknownZone = errors.New("zone: unknown zone")

// Zone is an axis-aligned rectangle. Bounds are inclusive.
type Zone struct {
	Name string  `yaml:"name"`
	MinX float64 `yaml:"min_x"`
	MinY float64 `yaml:"min_y"`
	MaxX float64 `yaml:"max_x"`
	MaxY float64 `yaml:"max_y"`
}

func (z Zone) Contains(x, y float64) bool {
	return x >= z.MinX && x <= z.MaxX && y >= z.MinY && y <= z.MaxY
}

// Config lists the zones. With AutoJoin a player whose avatar stands in a
// zone is a member of it in addition to any explicit membership.
type Config struct {
	Zones    []Zone `yaml:"zones"`
	AutoJoin bool   `yaml:"auto_join"`
}

type System struct {
	cfg     Config
	space   visibility.Space
	players interest.PlayerSource

	members   map[string]interest.PlayerSet
	effective map[string]interest.PlayerSet
	observers interest.ObserverMap
}

// New validates the zones and returns a system with no members.
func New(cfg Config, space visibility.Space, players interest.PlayerSource) (*System, error) {
	s := &System{
		cfg:       cfg,
		space:     space,
		players:   players,
		members:   make(map[string]interest.PlayerSet, len(cfg.Zones)),
		effective: make(map[string]interest.PlayerSet, len(cfg.Zones)),
		observers: make(interest.ObserverMap),
	}
	for _, z := range cfg.Zones {
		if z.Name == "" {
			return nil, errors.New("zone: zone without a name")
		}
		if z.MaxX < z.MinX || z.MaxY < z.MinY {
			return nil, fmt.Errorf("zone: %s has inverted bounds", z.Name)
		}
		if _, dup := s.members[z.Name]; dup {
			return nil, fmt.Errorf("zone: duplicate zone %s", z.Name)
		}
		s.members[z.Name] = make(interest.PlayerSet)
		s.effective[z.Name] = make(interest.PlayerSet)
	}
	return s, nil
}

func (s *System) Observers() interest.ObserverMap {
	return s.observers
}

// Join adds player to zone explicitly. Call it from the simulation goroutine.
func (s *System) Join(zone string, player interest.PlayerID) error {
	members, ok := s.members[zone]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownZone, zone)
	}
	members.Add(player)
	s.effective[zone].Add(player)
	return nil
}

// Leave removes explicit membership of player from zone.
func (s *System) Leave(zone string, player interest.PlayerID) error {
	members, ok := s.members[zone]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownZone, zone)
	}
	members.Remove(player)
	return nil
}

// Members returns the effective members of zone in ascending order.
func (s *System) Members(zone string) []interest.PlayerID {
	return s.effective[zone].Sorted()
}

// ZoneAt returns the first zone containing x, y.
func (s *System) ZoneAt(x, y float64) (Zone, bool) {
	for _, z := range s.cfg.Zones {
		if z.Contains(x, y) {
			return z, true
		}
	}
	return Zone{}, false
}

// OnSpawned maps an entity spawned inside a zone to that zone's members.
func (s *System) OnSpawned(entity interest.EntityID) error {
	s.place(entity)
	return nil
}

func (s *System) OnAuthenticated(interest.PlayerID) error {
	return nil
}

// CheckForObservers refreshes effective membership and re-places every
// spawned entity.
func (s *System) CheckForObservers() error {
	connected := make(map[interest.PlayerID]struct{})
	if s.players != nil {
		for _, player := range s.players.Players() {
			connected[player] = struct{}{}
		}
	}
	for name, members := range s.members {
		effective := s.effective[name]
		effective.Reset()
		for player := range members {
			if _, ok := connected[player]; ok || s.players == nil {
				effective.Add(player)
			}
		}
	}
	if s.cfg.AutoJoin {
		for player := range connected {
			x, y, ok := s.space.PlayerPosition(player)
			if !ok {
				continue
			}
			if z, ok := s.ZoneAt(x, y); ok {
				s.effective[z.Name].Add(player)
			}
		}
	}

	spawned := s.space.Spawned()
	visibility.Prune(s.observers, spawned)
	for _, entity := range spawned {
		s.place(entity)
	}
	return nil
}

func (s *System) place(entity interest.EntityID) {
	x, y, ok := s.space.Position(entity)
	if !ok {
		return
	}
	z, ok := s.ZoneAt(x, y)
	if !ok {
		delete(s.observers, entity)
		return
	}
	set, ok := s.observers[entity]
	if !ok {
		set = make(interest.PlayerSet)
		s.observers[entity] = set
	}
	set.Reset()
	set.Union(s.effective[z.Name])
}

// Zones returns the configured zone names in ascending order.
func (s *System) Zones() []string {
	names := make([]string, 0, len(s.cfg.Zones))
	for _, z := range s.cfg.Zones {
		names = append(names, z.Name)
	}
	slices.Sort(names)
	return names
}

var _ interest.VisibilitySystem = (*System)(nil)
