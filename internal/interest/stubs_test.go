package interest

import (
	"context"
	"slices"

	"sightline/server/internal/event"
)

type stubSystem struct {
	observers     ObserverMap
	spawned       []EntityID
	authenticated []PlayerID
	checks        int

	onSpawned func(EntityID) error
	onAuth    func(PlayerID) error
	onCheck   func() error
}

func newStubSystem() *stubSystem {
	return &stubSystem{observers: make(ObserverMap)}
}

func (s *stubSystem) track(entity EntityID, players ...PlayerID) *stubSystem {
	s.observers[entity] = NewPlayerSet(players...)
	return s
}

func (s *stubSystem) Observers() ObserverMap { return s.observers }

func (s *stubSystem) OnSpawned(entity EntityID) error {
	s.spawned = append(s.spawned, entity)
	if s.onSpawned != nil {
		return s.onSpawned(entity)
	}
	return nil
}

func (s *stubSystem) OnAuthenticated(player PlayerID) error {
	s.authenticated = append(s.authenticated, player)
	if s.onAuth != nil {
		return s.onAuth(player)
	}
	return nil
}

func (s *stubSystem) CheckForObservers() error {
	s.checks++
	if s.onCheck != nil {
		return s.onCheck()
	}
	return nil
}

// valueSystem has no pointer identity and carries a map, so it is not comparable.
type valueSystem struct {
	observers ObserverMap
}

func (s valueSystem) Observers() ObserverMap         { return s.observers }
func (s valueSystem) OnSpawned(EntityID) error       { return nil }
func (s valueSystem) OnAuthenticated(PlayerID) error { return nil }
func (s valueSystem) CheckForObservers() error       { return nil }

// zeroSystem carries no state, so distinct pointers to it may be equal.
type zeroSystem struct{}

func (*zeroSystem) Observers() ObserverMap         { return nil }
func (*zeroSystem) OnSpawned(EntityID) error       { return nil }
func (*zeroSystem) OnAuthenticated(PlayerID) error { return nil }
func (*zeroSystem) CheckForObservers() error       { return nil }

type staticPlayers []PlayerID

func (p staticPlayers) Players() []PlayerID { return p }

type shown struct {
	entity EntityID
	player PlayerID
}

type stubWorld struct {
	spawn    event.Event[EntityID]
	entities []EntityID
	shown    []shown
}

func (w *stubWorld) OnSpawn() *event.Event[EntityID] { return &w.spawn }
func (w *stubWorld) Spawned() []EntityID             { return slices.Clone(w.entities) }

func (w *stubWorld) ShowToPlayer(entity EntityID, player PlayerID) error {
	w.shown = append(w.shown, shown{entity: entity, player: player})
	return nil
}

func (w *stubWorld) spawnEntity(entity EntityID) error {
	w.entities = append(w.entities, entity)
	return w.spawn.Emit(entity)
}

type stubSessions struct {
	auth    event.Event[PlayerID]
	players []PlayerID
}

func (s *stubSessions) OnAuthenticated() *event.Event[PlayerID] { return &s.auth }
func (s *stubSessions) Players() []PlayerID                     { return slices.Clone(s.players) }

func (s *stubSessions) connect(player PlayerID) error {
	s.players = append(s.players, player)
	return s.auth.Emit(player)
}

type stubLifecycle struct {
	started event.Event[struct{}]
	stopped event.Event[struct{}]
}

func (l *stubLifecycle) OnStarted() *event.Event[struct{}] { return &l.started }
func (l *stubLifecycle) OnStopped() *event.Event[struct{}] { return &l.stopped }

type delivery struct {
	players []PlayerID
	message string
	channel Channel
}

type recordingTransport struct {
	deliveries []delivery
	err        error
}

func (t *recordingTransport) SendToMany(_ context.Context, players []PlayerID, message []byte, channel Channel) error {
	t.deliveries = append(t.deliveries, delivery{
		players: slices.Clone(players),
		message: string(message),
		channel: channel,
	})
	return t.err
}
