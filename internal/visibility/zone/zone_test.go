package zone

import (
	"errors"
	"slices"
	"testing"

	"sightline/server/internal/interest"
)

type point struct{ x, y float64 }

type stubSpace struct {
	entities map[interest.EntityID]point
	players  map[interest.PlayerID]point
	online   []interest.PlayerID
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

func (s *stubSpace) Players() []interest.PlayerID { return s.online }

var arena = Zone{Name: "arena", MinX: 0, MinY: 0, MaxX: 100, MaxY: 100}

func TestSpawnInsideZoneMapsToMembers(t *testing.T) {
	space := newStubSpace()
	space.online = []interest.PlayerID{"p1", "p2"}
	system, err := New(Config{Zones: []Zone{arena}}, space, space)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := system.Join("arena", "p1"); err != nil {
		t.Fatalf("join: %v", err)
	}

	space.entities[7] = point{50, 50}
	if err := system.OnSpawned(7); err != nil {
		t.Fatalf("on spawned: %v", err)
	}
	if got := system.Observers()[7].Sorted(); !slices.Equal(got, []interest.PlayerID{"p1"}) {
		t.Fatalf("expected [p1], got %v", got)
	}

	space.entities[8] = point{500, 500}
	system.OnSpawned(8)
	if system.Observers().Tracks(8) {
		t.Fatalf("entity outside every zone must stay untracked")
	}
}

func TestCheckForObserversAutoJoinAndLeave(t *testing.T) {
	space := newStubSpace()
	space.online = []interest.PlayerID{"walker", "member"}
	space.players["walker"] = point{10, 10}
	space.entities[1] = point{20, 20}
	system, _ := New(Config{Zones: []Zone{arena}, AutoJoin: true}, space, space)
	system.Join("arena", "member")

	system.CheckForObservers()
	if got := system.Observers()[1].Sorted(); !slices.Equal(got, []interest.PlayerID{"member", "walker"}) {
		t.Fatalf("unexpected observers %v", got)
	}

	space.players["walker"] = point{300, 300}
	system.Leave("arena", "member")
	system.CheckForObservers()
	if system.Observers()[1].Len() != 0 {
		t.Fatalf("expected no observers, got %v", system.Observers()[1])
	}

	space.entities[1] = point{400, 400}
	system.CheckForObservers()
	if system.Observers().Tracks(1) {
		t.Fatalf("expected entity leaving the zone to become untracked")
	}
}

func TestDisconnectedMembersAreExcluded(t *testing.T) {
	space := newStubSpace()
	space.entities[1] = point{1, 1}
	system, _ := New(Config{Zones: []Zone{arena}}, space, space)
	system.Join("arena", "ghost")
	system.CheckForObservers()
	if system.Observers()[1].Len() != 0 {
		t.Fatalf("offline member must not observe")
	}
}

func TestNewValidatesZones(t *testing.T) {
	if _, err := New(Config{Zones: []Zone{{Name: ""}}}, nil, nil); err == nil {
		t.Fatalf("expected error for unnamed zone")
	}
	if _, err := New(Config{Zones: []Zone{{Name: "a", MinX: 5, MaxX: 1}}}, nil, nil); err == nil {
		t.Fatalf("expected error for inverted bounds")
	}
	if _, err := New(Config{Zones: []Zone{arena, arena}}, nil, nil); err == nil {
		t.Fatalf("expected error for duplicate zone")
	}
	system, _ := New(Config{Zones: []Zone{arena}}, nil, nil)
	if err := system.Join("nowhere", "p1"); !errors.Is(err, ErrUnknownZone) {
		t.Fatalf("expected ErrUnknownZone, got %v", err)
	}
}
