package interest

import (
	"slices"
	"testing"
)

func resolveSorted(t *testing.T, entity EntityID, registry *Registry, connected PlayerSource, policy PartialPolicy) (Resolution, []PlayerID) {
	t.Helper()
	dst := NewPlayerSet("stale")
	res := Resolve(entity, registry, connected, policy, dst)
	return res, dst.Sorted()
}

func TestResolveWithoutSystemsReturnsConnected(t *testing.T) {
	connected := staticPlayers{"p2", "p1"}
	res, got := resolveSorted(t, 7, NewRegistry(), connected, PartialDeny)
	if res.Branch != BranchGlobal {
		t.Fatalf("expected global branch, got %s", res.Branch)
	}
	if !slices.Equal(got, []PlayerID{"p1", "p2"}) {
		t.Fatalf("unexpected observers %v", got)
	}
}

func TestResolveUntrackedEntityReturnsConnected(t *testing.T) {
	registry := NewRegistry()
	registry.Add(newStubSystem().track(1, "p1"))
	registry.Add(newStubSystem().track(2, "p2"))

	res, got := resolveSorted(t, 99, registry, staticPlayers{"p1", "p2", "p3"}, PartialDeny)
	if res.Branch != BranchUntracked || res.Tracked != 0 || res.Total != 2 {
		t.Fatalf("unexpected resolution %+v", res)
	}
	if !slices.Equal(got, []PlayerID{"p1", "p2", "p3"}) {
		t.Fatalf("unexpected observers %v", got)
	}
}

func TestResolvePartialTrackingDeniesByDefault(t *testing.T) {
	registry := NewRegistry()
	registry.Add(newStubSystem().track(5, "p1"))
	registry.Add(newStubSystem())

	res, got := resolveSorted(t, 5, registry, staticPlayers{"p1", "p2"}, PartialDeny)
	if res.Branch != BranchPartial || res.Tracked != 1 || res.Total != 2 {
		t.Fatalf("unexpected resolution %+v", res)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty observer set, got %v", got)
	}
}

func TestResolvePartialTrackingUnionPolicy(t *testing.T) {
	registry := NewRegistry()
	registry.Add(newStubSystem().track(5, "p1"))
	registry.Add(newStubSystem())

	res, got := resolveSorted(t, 5, registry, staticPlayers{"p1", "p2"}, PartialUnion)
	if res.Branch != BranchPartial {
		t.Fatalf("expected partial branch, got %s", res.Branch)
	}
	if !slices.Equal(got, []PlayerID{"p1"}) {
		t.Fatalf("unexpected observers %v", got)
	}
}

func TestResolveUnionAcrossAllSystems(t *testing.T) {
	registry := NewRegistry()
	registry.Add(newStubSystem().track(3, "p1", "p2"))
	registry.Add(newStubSystem().track(3, "p2", "p3"))

	res, got := resolveSorted(t, 3, registry, staticPlayers{"p1", "p2", "p3", "p4"}, PartialDeny)
	if res.Branch != BranchUnion {
		t.Fatalf("expected union branch, got %s", res.Branch)
	}
	if !slices.Equal(got, []PlayerID{"p1", "p2", "p3"}) {
		t.Fatalf("unexpected observers %v", got)
	}
}

func TestResolveEmptyEntryCountsAsTracked(t *testing.T) {
	registry := NewRegistry()
	registry.Add(newStubSystem().track(3))

	res, got := resolveSorted(t, 3, registry, staticPlayers{"p1"}, PartialDeny)
	if res.Branch != BranchUnion || len(got) != 0 {
		t.Fatalf("expected tracked-but-unobserved entity to resolve empty, got %+v %v", res, got)
	}
}

func TestResolveWithoutConnectedSource(t *testing.T) {
	res, got := resolveSorted(t, 1, nil, nil, PartialDeny)
	if res.Branch != BranchGlobal || len(got) != 0 {
		t.Fatalf("unexpected resolution %+v %v", res, got)
	}
}

func TestParsePartialPolicy(t *testing.T) {
	cases := map[string]PartialPolicy{"": PartialDeny, "deny": PartialDeny, " Union ": PartialUnion}
	for raw, want := range cases {
		got, err := ParsePartialPolicy(raw)
		if err != nil || got != want {
			t.Fatalf("ParsePartialPolicy(%q) = %s, %v; want %s", raw, got, err, want)
		}
	}
	if _, err := ParsePartialPolicy("maybe"); err == nil {
		t.Fatalf("expected error for unknown policy")
	}
}
