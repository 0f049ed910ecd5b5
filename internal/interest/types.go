// Package interest decides which connected players observe each networked
// entity and filters outgoing replication messages to that set.
//
// A Manager composes zero or more VisibilitySystem strategies. Each system
// keeps its own entity-to-observers mapping; the Manager unions those
// mappings per send, falls back to global visibility when no system claims
// an entity, and withholds the entity while only some systems track it.
//
// All Manager methods run on the simulation goroutine. The package holds no
// locks.
package interest

import (
	"context"
	"errors"
	"slices"
	"strconv"

	"sightline/server/internal/event"
)

// EntityID identifies a spawned, replicated entity.
type EntityID uint64

func (id EntityID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// PlayerID identifies an authenticated session.
type PlayerID string

// Channel selects the delivery class used by the transport.
type Channel uint8

const (
	ChannelReliable Channel = iota
	ChannelUnreliable
)

func (c Channel) String() string {
	switch c {
	case ChannelReliable:
		return "reliable"
	case ChannelUnreliable:
		return "unreliable"
	default:
		return "channel(" + strconv.Itoa(int(c)) + ")"
	}
}

var (
	ErrNilSystem          = errors.New("interest: nil visibility system")
	ErrIncomparableSystem = errors.New("interest: visibility system has no comparable identity")
	ErrDuplicateSystem    = errors.New("interest: visibility system already registered")
	ErrUnknownSystem      = errors.New("interest: visibility system not registered")
)

// PlayerSet is a set of player identifiers.
type PlayerSet map[PlayerID]struct{}

// NewPlayerSet builds a set containing players.
func NewPlayerSet(players ...PlayerID) PlayerSet {
	set := make(PlayerSet, len(players))
	for _, p := range players {
		set[p] = struct{}{}
	}
	return set
}

func (s PlayerSet) Add(p PlayerID) {
	s[p] = struct{}{}
}

// Remove deletes p; removing an absent player is a no-op.
func (s PlayerSet) Remove(p PlayerID) {
	delete(s, p)
}

func (s PlayerSet) Has(p PlayerID) bool {
	_, ok := s[p]
	return ok
}

func (s PlayerSet) Len() int {
	return len(s)
}

// Union adds every member of other.
func (s PlayerSet) Union(other PlayerSet) {
	for p := range other {
		s[p] = struct{}{}
	}
}

// Reset empties the set in place, keeping its storage.
func (s PlayerSet) Reset() {
	clear(s)
}

func (s PlayerSet) Clone() PlayerSet {
	cloned := make(PlayerSet, len(s))
	for p := range s {
		cloned[p] = struct{}{}
	}
	return cloned
}

// AppendSorted appends the members to dst in ascending order.
func (s PlayerSet) AppendSorted(dst []PlayerID) []PlayerID {
	start := len(dst)
	for p := range s {
		dst = append(dst, p)
	}
	slices.Sort(dst[start:])
	return dst
}

// Sorted returns the members in ascending order.
func (s PlayerSet) Sorted() []PlayerID {
	return s.AppendSorted(make([]PlayerID, 0, len(s)))
}

// ObserverMap is a visibility system's view of which players observe which
// entities.
type ObserverMap map[EntityID]PlayerSet

// Tracks reports whether the map has an entry for entity, even an empty one.
func (m ObserverMap) Tracks(entity EntityID) bool {
	_, ok := m[entity]
	return ok
}

// ContainsPlayer reports whether p observes any entity in the map.
func (m ObserverMap) ContainsPlayer(p PlayerID) bool {
	for _, observers := range m {
		if observers.Has(p) {
			return true
		}
	}
	return false
}

// VisibilitySystem is a pluggable strategy that maintains its own
// entity-to-observers mapping.
//
// Observers must return the system's live view; callers treat it as
// read-only. Only the system itself mutates it, from the three callbacks.
//
// A system's identity is its interface value, so implementations must be
// comparable and not zero-size. Other values are refused at registration.
type VisibilitySystem interface {
	Observers() ObserverMap
	// OnSpawned is called once when entity becomes active.
	OnSpawned(entity EntityID) error
	// OnAuthenticated is called once when player's session becomes valid.
	OnAuthenticated(player PlayerID) error
	// CheckForObservers is called once per tick. It may rebuild the
	// system's own mapping and nothing else.
	CheckForObservers() error
}

// PlayerSource enumerates currently connected players.
type PlayerSource interface {
	Players() []PlayerID
}

// World is the entity side of the server the Manager binds to.
type World interface {
	OnSpawn() *event.Event[EntityID]
	Spawned() []EntityID
	// ShowToPlayer makes entity visible to player directly, bypassing every
	// visibility system.
	ShowToPlayer(entity EntityID, player PlayerID) error
}

// Sessions is the authentication side of the server.
type Sessions interface {
	PlayerSource
	OnAuthenticated() *event.Event[PlayerID]
}

// Lifecycle publishes server start and stop transitions.
type Lifecycle interface {
	OnStarted() *event.Event[struct{}]
	OnStopped() *event.Event[struct{}]
}

// Transport delivers one message to a set of players. Implementations must
// not block and must not retain players after returning.
type Transport interface {
	SendToMany(ctx context.Context, players []PlayerID, message []byte, channel Channel) error
}

// TransportFunc adapts a function into a Transport.
type TransportFunc func(ctx context.Context, players []PlayerID, message []byte, channel Channel) error

func (f TransportFunc) SendToMany(ctx context.Context, players []PlayerID, message []byte, channel Channel) error {
	if f == nil {
		return nil
	}
	return f(ctx, players, message, channel)
}
