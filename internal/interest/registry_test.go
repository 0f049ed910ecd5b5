package interest

import (
	"errors"
	"testing"
)

func TestRegistryAddAssignsIncreasingHandles(t *testing.T) {
	registry := NewRegistry()
	a, b := newStubSystem(), newStubSystem()

	ha, err := registry.Add(a)
	if err != nil {
		t.Fatalf("add a: %v", err)
	}
	hb, err := registry.Add(b)
	if err != nil {
		t.Fatalf("add b: %v", err)
	}
	if !ha.Valid() || !hb.Valid() || hb <= ha {
		t.Fatalf("expected increasing valid handles, got %s and %s", ha, hb)
	}
	if registry.Len() != 2 {
		t.Fatalf("expected 2 systems, got %d", registry.Len())
	}
	systems := registry.Systems()
	if systems[0] != VisibilitySystem(a) || systems[1] != VisibilitySystem(b) {
		t.Fatalf("expected registration order to be preserved")
	}
}

func TestRegistryDuplicateReturnsExistingHandle(t *testing.T) {
	registry := NewRegistry()
	system := newStubSystem()
	first, _ := registry.Add(system)

	second, err := registry.Add(system)
	if !errors.Is(err, ErrDuplicateSystem) {
		t.Fatalf("expected ErrDuplicateSystem, got %v", err)
	}
	if second != first {
		t.Fatalf("expected existing handle %s, got %s", first, second)
	}
	if registry.Len() != 1 {
		t.Fatalf("duplicate add changed registry size to %d", registry.Len())
	}
}

func TestRegistryDistinctInstancesWithEqualState(t *testing.T) {
	registry := NewRegistry()
	if _, err := registry.Add(newStubSystem()); err != nil {
		t.Fatalf("add first: %v", err)
	}
	if _, err := registry.Add(newStubSystem()); err != nil {
		t.Fatalf("add second: %v", err)
	}
	if registry.Len() != 2 {
		t.Fatalf("expected two distinct instances, got %d", registry.Len())
	}
}

func TestRegistryRemove(t *testing.T) {
	registry := NewRegistry()
	a, b, c := newStubSystem(), newStubSystem(), newStubSystem()
	registry.Add(a)
	hb, _ := registry.Add(b)
	registry.Add(c)

	view := registry.entriesView()
	removed, err := registry.Remove(b)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if removed != hb {
		t.Fatalf("expected handle %s, got %s", hb, removed)
	}
	if registry.Contains(b) {
		t.Fatalf("expected b to be gone")
	}
	if len(view) != 3 || view[1].system != VisibilitySystem(b) {
		t.Fatalf("earlier view must stay intact after removal")
	}
	if _, ok := registry.Lookup(hb); ok {
		t.Fatalf("expected lookup of removed handle to fail")
	}

	if _, err := registry.Remove(b); !errors.Is(err, ErrUnknownSystem) {
		t.Fatalf("expected ErrUnknownSystem, got %v", err)
	}
}

func TestRegistryRejectsUnusableIdentities(t *testing.T) {
	registry := NewRegistry()
	if _, err := registry.Add(nil); !errors.Is(err, ErrNilSystem) {
		t.Fatalf("expected ErrNilSystem for nil, got %v", err)
	}
	var typedNil *stubSystem
	if _, err := registry.Add(typedNil); !errors.Is(err, ErrNilSystem) {
		t.Fatalf("expected ErrNilSystem for typed nil, got %v", err)
	}
	if _, err := registry.Add(valueSystem{observers: ObserverMap{}}); !errors.Is(err, ErrIncomparableSystem) {
		t.Fatalf("expected ErrIncomparableSystem, got %v", err)
	}
	if registry.Contains(valueSystem{}) {
		t.Fatalf("contains must not panic or match incomparable values")
	}
	if registry.Len() != 0 {
		t.Fatalf("expected empty registry, got %d", registry.Len())
	}
}

func TestRegistryRefusesZeroSizeSystems(t *testing.T) {
	registry := NewRegistry()
	if _, err := registry.Add(new(zeroSystem)); !errors.Is(err, ErrIncomparableSystem) {
		t.Fatalf("expected ErrIncomparableSystem for a zero-size pointer, got %v", err)
	}
	if registry.Len() != 0 {
		t.Fatalf("expected empty registry, got %d", registry.Len())
	}
	if _, err := registry.Add(newStubSystem()); err != nil {
		t.Fatalf("expected a stateful system to register, got %v", err)
	}
}

func TestRegistryClearKeepsHandlesIncreasing(t *testing.T) {
	registry := NewRegistry()
	system := newStubSystem()
	before, _ := registry.Add(system)
	registry.Clear()
	if registry.Len() != 0 || registry.Contains(system) {
		t.Fatalf("expected clear to drop every registration")
	}
	after, err := registry.Add(system)
	if err != nil {
		t.Fatalf("re-add after clear: %v", err)
	}
	if after <= before {
		t.Fatalf("expected handle after clear to exceed %s, got %s", before, after)
	}
}
