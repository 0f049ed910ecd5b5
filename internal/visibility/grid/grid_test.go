package grid

import (
	"slices"
	"testing"

	"sightline/server/internal/interest"
)

type point struct{ x, y float64 }

type stubSpace struct {
	entities map[interest.EntityID]point
	players  map[interest.PlayerID]point
}

func newStubSpace() *stubSpace {
	return &stubSpace{
		entities: make(map[interest.EntityID]point),
		players:  make(map[interest.PlayerID]point),
	}
}

func (s *stubSpace) Spawned() []interest.EntityID {
	ids := make([]interest.EntityID, 0, len(s.entities))
	for id := range s.entities {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (s *stubSpace) Position(id interest.EntityID) (float64, float64, bool) {
	p, ok := s.entities[id]
	return p.x, p.y, ok
}

func (s *stubSpace) PlayerPosition(player interest.PlayerID) (float64, float64, bool) {
	p, ok := s.players[player]
	return p.x, p.y, ok
}

func (s *stubSpace) Players() []interest.PlayerID {
	ids := make([]interest.PlayerID, 0, len(s.players))
	for id := range s.players {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func TestCheckForObserversUsesNeighbouringCells(t *testing.T) {
	space := newStubSpace()
	space.players["near"] = point{150, 150}
	space.players["far"] = point{950, 950}
	space.entities[1] = point{250, 120}
	space.entities[2] = point{990, 990}
	space.entities[3] = point{600, 100}

	system := New(Config{CellSize: 100, Range: 1}, space, space)
	if err := system.CheckForObservers(); err != nil {
		t.Fatalf("check: %v", err)
	}
	observers := system.Observers()
	if got := observers[1].Sorted(); !slices.Equal(got, []interest.PlayerID{"near"}) {
		t.Fatalf("entity 1 observers %v", got)
	}
	if got := observers[2].Sorted(); !slices.Equal(got, []interest.PlayerID{"far"}) {
		t.Fatalf("entity 2 observers %v", got)
	}
	if !observers.Tracks(3) || observers[3].Len() != 0 {
		t.Fatalf("expected entity 3 to be tracked with no observers, got %v", observers[3])
	}
}

func TestCheckForObserversFollowsMovement(t *testing.T) {
	space := newStubSpace()
	space.players["p1"] = point{50, 50}
	space.entities[1] = point{60, 60}
	system := New(Config{CellSize: 100, Range: 0}, space, space)
	system.CheckForObservers()
	if !system.Observers()[1].Has("p1") {
		t.Fatalf("expected p1 to observe entity 1")
	}

	space.players["p1"] = point{450, 450}
	system.CheckForObservers()
	if system.Observers()[1].Has("p1") {
		t.Fatalf("expected p1 to lose sight after moving away")
	}

	delete(space.entities, 1)
	system.CheckForObservers()
	if system.Observers().Tracks(1) {
		t.Fatalf("expected despawned entity to be pruned")
	}
}

func TestOnSpawnedUsesLastPlayerCells(t *testing.T) {
	space := newStubSpace()
	space.players["p1"] = point{10, 10}
	system := New(Config{CellSize: 100}, space, space)
	system.CheckForObservers()

	space.entities[5] = point{20, 20}
	if err := system.OnSpawned(5); err != nil {
		t.Fatalf("on spawned: %v", err)
	}
	if got := system.Observers()[5].Sorted(); !slices.Equal(got, []interest.PlayerID{"p1"}) {
		t.Fatalf("unexpected observers %v", got)
	}
	if err := system.OnSpawned(404); err != nil || system.Observers().Tracks(404) {
		t.Fatalf("expected unknown entity to be ignored")
	}
}

func TestNegativeCoordinatesFloor(t *testing.T) {
	system := New(Config{CellSize: 100}, newStubSpace(), nil)
	if cell := system.Cell(-1, 99); cell != (CellKey{X: -1, Y: 0}) {
		t.Fatalf("unexpected cell %+v", cell)
	}
}
