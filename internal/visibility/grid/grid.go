// Package grid implements a spatial-hash visibility system: a player observes
// every entity within Range cells of the cell their avatar occupies.
package grid

import (
	"math"

	"sightline/server/internal/interest"
	"sightline/server/internal/visibility"
)

const (
	DefaultCellSize = 200.0
	DefaultRange    = 1
)

// CellKey identifies a grid cell.
type CellKey struct {
	X int
	Y int
}

type Config struct {
	CellSize float64 `yaml:"cell_size"`
	Range    int     `yaml:"range"`
}

func (c Config) normalized() Config {
	if c.CellSize <= 0 {
		c.CellSize = DefaultCellSize
	}
	if c.Range < 0 {
		c.Range = DefaultRange
	}
	return c
}

// System tracks every spawned entity. Entities outside every player's range
// map to an empty observer set.
type System struct {
	cfg         Config
	invCellSize float64
	space       visibility.Space
	players     interest.PlayerSource

	observers interest.ObserverMap
	cells     map[CellKey][]interest.PlayerID
}

// New constructs a grid system reading positions from space.
func New(cfg Config, space visibility.Space, players interest.PlayerSource) *System {
	cfg = cfg.normalized()
	return &System{
		cfg:         cfg,
		invCellSize: 1.0 / cfg.CellSize,
		space:       space,
		players:     players,
		observers:   make(interest.ObserverMap),
		cells:       make(map[CellKey][]interest.PlayerID),
	}
}

func (s *System) Observers() interest.ObserverMap {
	return s.observers
}

// OnSpawned maps the new entity using the player cells of the last check.
func (s *System) OnSpawned(entity interest.EntityID) error {
	x, y, ok := s.space.Position(entity)
	if !ok {
		return nil
	}
	s.fill(entity, s.cellFor(x, y))
	return nil
}

// OnAuthenticated is a no-op: a new player has no avatar yet and is placed
// by the next CheckForObservers.
func (s *System) OnAuthenticated(interest.PlayerID) error {
	return nil
}

// CheckForObservers re-buckets players by avatar cell and recomputes every
// entity's observers.
func (s *System) CheckForObservers() error {
	for cell, bucket := range s.cells {
		s.cells[cell] = bucket[:0]
	}
	if s.players != nil {
		for _, player := range s.players.Players() {
			x, y, ok := s.space.PlayerPosition(player)
			if !ok {
				continue
			}
			cell := s.cellFor(x, y)
			s.cells[cell] = append(s.cells[cell], player)
		}
	}
	for cell, bucket := range s.cells {
		if len(bucket) == 0 {
			delete(s.cells, cell)
		}
	}

	spawned := s.space.Spawned()
	visibility.Prune(s.observers, spawned)
	for _, entity := range spawned {
		x, y, ok := s.space.Position(entity)
		if !ok {
			continue
		}
		s.fill(entity, s.cellFor(x, y))
	}
	return nil
}

// Cell returns the cell containing x, y.
func (s *System) Cell(x, y float64) CellKey {
	return s.cellFor(x, y)
}

func (s *System) fill(entity interest.EntityID, center CellKey) {
	set, ok := s.observers[entity]
	if !ok {
		set = make(interest.PlayerSet)
		s.observers[entity] = set
	} else {
		set.Reset()
	}
	r := s.cfg.Range
	for row := center.Y - r; row <= center.Y+r; row++ {
		for col := center.X - r; col <= center.X+r; col++ {
			for _, player := range s.cells[CellKey{X: col, Y: row}] {
				set.Add(player)
			}
		}
	}
}

func (s *System) cellFor(x, y float64) CellKey {
	return CellKey{
		X: int(math.Floor(x * s.invCellSize)),
		Y: int(math.Floor(y * s.invCellSize)),
	}
}

var _ interest.VisibilitySystem = (*System)(nil)
