// Package session tracks issued and authenticated player sessions.
package session

import (
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"sightline/server/internal/event"
	"sightline/server/internal/interest"
)

var (
	ErrUnknownSession = errors.New("session: unknown session")
	ErrAlreadyActive  = errors.New("session: already authenticated")
)

// Player describes one session.
type Player struct {
	ID            interest.PlayerID `json:"id"`
	Name          string            `json:"name"`
	IssuedAt      time.Time         `json:"issuedAt"`
	Authenticated bool              `json:"authenticated"`
	// Avatar is the entity the player controls, zero until spawned.
	Avatar interest.EntityID `json:"avatar,omitempty"`
}

// Registry issues session ids and records which sessions are authenticated.
// Only authenticated sessions count as connected players.
type Registry struct {
	mu      sync.RWMutex
	players map[interest.PlayerID]*Player
	now     func() time.Time

	authenticated event.Event[interest.PlayerID]
	disconnected  event.Event[interest.PlayerID]
}

// NewRegistry returns an empty registry. A nil now uses time.Now.
func NewRegistry(now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{players: make(map[interest.PlayerID]*Player), now: now}
}

func (r *Registry) OnAuthenticated() *event.Event[interest.PlayerID] { return &r.authenticated }
func (r *Registry) OnDisconnected() *event.Event[interest.PlayerID]  { return &r.disconnected }

// Issue creates a pending session with a random id.
func (r *Registry) Issue(name string) Player {
	name = strings.TrimSpace(name)
	id := interest.PlayerID(uuid.NewString())
	if name == "" {
		name = "player-" + string(id)[:8]
	}
	player := &Player{ID: id, Name: name, IssuedAt: r.now()}

	r.mu.Lock()
	r.players[id] = player
	r.mu.Unlock()
	return *player
}

// Authenticate marks a pending session valid and notifies subscribers.
func (r *Registry) Authenticate(id interest.PlayerID) error {
	r.mu.Lock()
	player, ok := r.players[id]
	switch {
	case !ok:
		r.mu.Unlock()
		return ErrUnknownSession
	case player.Authenticated:
		r.mu.Unlock()
		return ErrAlreadyActive
	}
	player.Authenticated = true
	r.mu.Unlock()

	return r.authenticated.Emit(id)
}

// SetAvatar records the entity controlled by the player.
func (r *Registry) SetAvatar(id interest.PlayerID, entity interest.EntityID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	player, ok := r.players[id]
	if ok {
		player.Avatar = entity
	}
	return ok
}

// Disconnect removes the session. Subscribers are notified only when an
// authenticated session ends.
func (r *Registry) Disconnect(id interest.PlayerID) (Player, bool, error) {
	r.mu.Lock()
	player, ok := r.players[id]
	if ok {
		delete(r.players, id)
	}
	r.mu.Unlock()
	if !ok {
		return Player{}, false, nil
	}
	if !player.Authenticated {
		return *player, true, nil
	}
	return *player, true, r.disconnected.Emit(id)
}

// Lookup returns the session for id.
func (r *Registry) Lookup(id interest.PlayerID) (Player, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	player, ok := r.players[id]
	if !ok {
		return Player{}, false
	}
	return *player, true
}

// Players returns the authenticated player ids in ascending order.
func (r *Registry) Players() []interest.PlayerID {
	r.mu.RLock()
	ids := make([]interest.PlayerID, 0, len(r.players))
	for id, player := range r.players {
		if player.Authenticated {
			ids = append(ids, id)
		}
	}
	r.mu.RUnlock()
	slices.Sort(ids)
	return ids
}

// Snapshot returns every session, pending ones included, ordered by id.
func (r *Registry) Snapshot() []Player {
	r.mu.RLock()
	players := make([]Player, 0, len(r.players))
	for _, player := range r.players {
		players = append(players, *player)
	}
	r.mu.RUnlock()
	slices.SortFunc(players, func(a, b Player) int { return strings.Compare(string(a.ID), string(b.ID)) })
	return players
}

// Expire drops pending sessions issued before cutoff and returns their ids.
func (r *Registry) Expire(cutoff time.Time) []interest.PlayerID {
	r.mu.Lock()
	defer r.mu.Unlock()
	var expired []interest.PlayerID
	for id, player := range r.players {
		if !player.Authenticated && player.IssuedAt.Before(cutoff) {
			delete(r.players, id)
			expired = append(expired, id)
		}
	}
	slices.Sort(expired)
	return expired
}
