package world

import (
	"context"
	"errors"
	"slices"
	"testing"

	"sightline/server/internal/codec"
	"sightline/server/internal/interest"
)

type recordingTransport struct {
	players []interest.PlayerID
	frames  [][]byte
}

func (t *recordingTransport) SendToMany(_ context.Context, players []interest.PlayerID, message []byte, _ interest.Channel) error {
	t.players = append(t.players, players...)
	t.frames = append(t.frames, message)
	return nil
}

func TestSpawnClampsAndEmits(t *testing.T) {
	w := New(Config{Width: 100, Height: 50}, Deps{})
	var seen []interest.EntityID
	w.OnSpawn().Subscribe(func(id interest.EntityID) error {
		if _, ok := w.Entity(id); !ok {
			t.Fatalf("entity %s must be readable from the spawn handler", id)
		}
		seen = append(seen, id)
		return nil
	})

	entity, err := w.Spawn(Spawn{Kind: KindProp, X: 500, Y: -3})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if entity.X != 100 || entity.Y != 0 {
		t.Fatalf("expected clamped position, got %.1f,%.1f", entity.X, entity.Y)
	}
	if !slices.Equal(seen, []interest.EntityID{entity.ID}) {
		t.Fatalf("expected spawn event for %s, got %v", entity.ID, seen)
	}
}

func TestSpawnHandlerErrorKeepsEntity(t *testing.T) {
	w := New(DefaultConfig(), Deps{})
	fault := errors.New("system fault")
	w.OnSpawn().Subscribe(func(interest.EntityID) error { return fault })

	entity, err := w.Spawn(Spawn{Kind: KindProp})
	if !errors.Is(err, fault) {
		t.Fatalf("expected handler error, got %v", err)
	}
	if _, ok := w.Entity(entity.ID); !ok {
		t.Fatalf("expected entity to remain spawned")
	}
}

func TestOwnedEntities(t *testing.T) {
	w := New(DefaultConfig(), Deps{})
	avatar, err := w.Spawn(Spawn{Kind: KindAvatar, X: 10, Y: 20, Owner: "p1"})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if _, err := w.Spawn(Spawn{Kind: KindAvatar, Owner: "p1"}); err == nil {
		t.Fatalf("expected second avatar for p1 to fail")
	}
	if x, y, ok := w.PlayerPosition("p1"); !ok || x != 10 || y != 20 {
		t.Fatalf("unexpected player position %.1f,%.1f %v", x, y, ok)
	}

	despawned := false
	w.OnDespawn().Subscribe(func(interest.EntityID) error { despawned = true; return nil })
	if ok, err := w.Despawn(avatar.ID); !ok || err != nil {
		t.Fatalf("despawn: %v %v", ok, err)
	}
	if _, ok := w.AvatarOf("p1"); ok {
		t.Fatalf("expected owner index to be cleared")
	}
	if !despawned {
		t.Fatalf("expected despawn event")
	}
	if ok, _ := w.Despawn(avatar.ID); ok {
		t.Fatalf("expected second despawn to report false")
	}
}

func TestStepMovesAndBounces(t *testing.T) {
	w := New(Config{Width: 100, Height: 100}, Deps{})
	still, _ := w.Spawn(Spawn{Kind: KindProp, X: 50, Y: 50})
	mover, _ := w.Spawn(Spawn{Kind: KindWanderer, X: 95, Y: 50, VX: 10})

	moved := w.Step(1)
	if !slices.Equal(moved, []interest.EntityID{mover.ID}) {
		t.Fatalf("expected only %s to move, got %v", mover.ID, moved)
	}
	entity, _ := w.Entity(mover.ID)
	if entity.X != 100 || entity.VX != -10 {
		t.Fatalf("expected bounce at the edge, got x=%.1f vx=%.1f", entity.X, entity.VX)
	}
	if x, _, _ := w.Position(still.ID); x != 50 {
		t.Fatalf("still entity moved to %.1f", x)
	}
	if w.Step(0) != nil {
		t.Fatalf("expected zero dt to move nothing")
	}
}

func TestMoveUnknownEntity(t *testing.T) {
	w := New(DefaultConfig(), Deps{})
	if err := w.Move(99, 1, 1); !errors.Is(err, ErrUnknownEntity) {
		t.Fatalf("expected ErrUnknownEntity, got %v", err)
	}
}

func TestShowToPlayerSendsSpawnFrame(t *testing.T) {
	transport := &recordingTransport{}
	w := New(DefaultConfig(), Deps{Transport: transport, Framer: codec.Framer{}})
	entity, _ := w.Spawn(Spawn{Kind: KindProp, X: 3, Y: 4})

	if err := w.ShowToPlayer(entity.ID, "p1"); err != nil {
		t.Fatalf("show: %v", err)
	}
	if !slices.Equal(transport.players, []interest.PlayerID{"p1"}) {
		t.Fatalf("unexpected recipients %v", transport.players)
	}
	msg, err := codec.Decode(transport.frames[0])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Kind != codec.KindSpawn || msg.Entity != uint64(entity.ID) || msg.X != 3 || msg.Type != KindProp {
		t.Fatalf("unexpected message %+v", msg)
	}
	if err := w.ShowToPlayer(999, "p1"); !errors.Is(err, ErrUnknownEntity) {
		t.Fatalf("expected ErrUnknownEntity, got %v", err)
	}
}

func TestSeedInitialEntitiesIsDeterministic(t *testing.T) {
	cfg := Config{Seed: "fixed", Width: 500, Height: 500, PropCount: 3, WandererCount: 2, WandererSpeed: 10}
	a, b := New(cfg, Deps{}), New(cfg, Deps{})
	if err := SeedInitialEntities(a); err != nil {
		t.Fatalf("seed a: %v", err)
	}
	if err := SeedInitialEntities(b); err != nil {
		t.Fatalf("seed b: %v", err)
	}
	if !slices.Equal(a.Entities(), b.Entities()) {
		t.Fatalf("expected identical layouts for the same seed")
	}
	if a.Count() != 5 {
		t.Fatalf("expected 5 entities, got %d", a.Count())
	}
}

func TestConfigNormalized(t *testing.T) {
	cfg := Config{Seed: "  ", Width: -1, PropCount: -4, WandererSpeed: -2}.Normalized()
	if cfg.Seed != DefaultSeed || cfg.Width != DefaultWidth || cfg.Height != DefaultHeight || cfg.PropCount != 0 || cfg.WandererSpeed != 0 {
		t.Fatalf("unexpected normalized config %+v", cfg)
	}
}
