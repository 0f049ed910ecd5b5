package interest

import (
	"fmt"
	"strings"
)

// Branch names the decision Resolve took for an entity.
type Branch uint8

const (
	// BranchGlobal means no systems are registered; every connected player observes.
	BranchGlobal Branch = iota
	// BranchUntracked means systems exist but none tracks the entity; every connected player observes.
	BranchUntracked
	// BranchPartial means some but not all systems track the entity.
	BranchPartial
	// BranchUnion means every registered system tracks the entity.
	BranchUnion
)

func (b Branch) String() string {
	switch b {
	case BranchGlobal:
		return "global"
	case BranchUntracked:
		return "untracked"
	case BranchPartial:
		return "partial"
	case BranchUnion:
		return "union"
	default:
		return fmt.Sprintf("branch(%d)", uint8(b))
	}
}

// PartialPolicy selects the outcome of BranchPartial.
type PartialPolicy uint8

const (
	// PartialDeny withholds the entity from everyone until every system
	// tracks it. This is the framework-compatible default.
	PartialDeny PartialPolicy = iota
	// PartialUnion uses the union of the systems that do track the entity.
	PartialUnion
)

func (p PartialPolicy) String() string {
	switch p {
	case PartialDeny:
		return "deny"
	case PartialUnion:
		return "union"
	default:
		return fmt.Sprintf("policy(%d)", uint8(p))
	}
}

// ParsePartialPolicy maps a configuration value onto a PartialPolicy.
func ParsePartialPolicy(raw string) (PartialPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "deny":
		return PartialDeny, nil
	case "union":
		return PartialUnion, nil
	default:
		return PartialDeny, fmt.Errorf("interest: unknown partial policy %q", raw)
	}
}

// Resolution describes how an observer set was computed.
type Resolution struct {
	Branch  Branch
	Tracked int
	Total   int
}

// Resolve computes the observers of entity into dst, which is reset first.
//
//   - no systems registered: every connected player
//   - no system tracks entity: every connected player
//   - some systems track entity: empty (PartialDeny) or their union (PartialUnion)
//   - every system tracks entity: the union of their observer sets
func Resolve(entity EntityID, registry *Registry, connected PlayerSource, policy PartialPolicy, dst PlayerSet) Resolution {
	dst.Reset()

	var entries []registryEntry
	if registry != nil {
		entries = registry.entriesView()
	}
	res := Resolution{Total: len(entries)}
	if res.Total == 0 {
		res.Branch = BranchGlobal
		addConnected(dst, connected)
		return res
	}

	for _, entry := range entries {
		observers, ok := entry.system.Observers()[entity]
		if !ok {
			continue
		}
		res.Tracked++
		dst.Union(observers)
	}

	switch {
	case res.Tracked == 0:
		res.Branch = BranchUntracked
		addConnected(dst, connected)
	case res.Tracked < res.Total:
		res.Branch = BranchPartial
		if policy != PartialUnion {
			dst.Reset()
		}
	default:
		res.Branch = BranchUnion
	}
	return res
}

func addConnected(dst PlayerSet, connected PlayerSource) {
	if connected == nil {
		return
	}
	for _, p := range connected.Players() {
		dst.Add(p)
	}
}
