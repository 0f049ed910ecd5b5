package interest

import (
	"fmt"
	"reflect"
	"strconv"
)

// Handle is the opaque registry key assigned to a visibility system. Handles
// are never reused within a Registry. The zero Handle is invalid.
type Handle uint32

func (h Handle) String() string {
	return "system-" + strconv.FormatUint(uint64(h), 10)
}

// Valid reports whether h was issued by a Registry.
func (h Handle) Valid() bool {
	return h != 0
}

type registryEntry struct {
	handle Handle
	system VisibilitySystem
}

// Registry holds the active visibility systems in registration order and
// indexes them by instance identity so the same instance is never stored
// twice.
//
// Removal replaces the backing slice instead of shifting it in place, so a
// caller iterating an earlier entries() result keeps a stable view even if a
// system unregisters itself mid-iteration.
type Registry struct {
	entries []registryEntry
	index   map[VisibilitySystem]Handle
	last    Handle
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{index: make(map[VisibilitySystem]Handle)}
}

// Add stores system and returns its new handle. When the instance is already
// present Add returns the existing handle and ErrDuplicateSystem.
func (r *Registry) Add(system VisibilitySystem) (Handle, error) {
	if err := checkIdentity(system); err != nil {
		return 0, err
	}
	if handle, ok := r.index[system]; ok {
		return handle, ErrDuplicateSystem
	}
	r.last++
	handle := r.last
	r.entries = append(r.entries, registryEntry{handle: handle, system: system})
	r.index[system] = handle
	return handle, nil
}

// Remove deletes system and returns the handle it was stored under.
func (r *Registry) Remove(system VisibilitySystem) (Handle, error) {
	if err := checkIdentity(system); err != nil {
		return 0, err
	}
	handle, ok := r.index[system]
	if !ok {
		return 0, ErrUnknownSystem
	}
	delete(r.index, system)
	for i, entry := range r.entries {
		if entry.handle != handle {
			continue
		}
		remaining := make([]registryEntry, 0, len(r.entries)-1)
		remaining = append(remaining, r.entries[:i]...)
		r.entries = append(remaining, r.entries[i+1:]...)
		break
	}
	return handle, nil
}

// Contains reports whether the system instance is registered.
func (r *Registry) Contains(system VisibilitySystem) bool {
	_, ok := r.Handle(system)
	return ok
}

// Handle returns the handle for a registered system instance.
func (r *Registry) Handle(system VisibilitySystem) (Handle, bool) {
	if checkIdentity(system) != nil {
		return 0, false
	}
	handle, ok := r.index[system]
	return handle, ok
}

// Lookup returns the system registered under handle.
func (r *Registry) Lookup(handle Handle) (VisibilitySystem, bool) {
	for _, entry := range r.entries {
		if entry.handle == handle {
			return entry.system, true
		}
	}
	return nil, false
}

// Len reports the number of registered systems.
func (r *Registry) Len() int {
	return len(r.entries)
}

// Systems returns the registered systems in registration order.
func (r *Registry) Systems() []VisibilitySystem {
	systems := make([]VisibilitySystem, len(r.entries))
	for i, entry := range r.entries {
		systems[i] = entry.system
	}
	return systems
}

// Handles returns the registered handles in registration order.
func (r *Registry) Handles() []Handle {
	handles := make([]Handle, len(r.entries))
	for i, entry := range r.entries {
		handles[i] = entry.handle
	}
	return handles
}

// Clear drops every registration. Handles keep increasing afterwards.
func (r *Registry) Clear() {
	r.entries = nil
	clear(r.index)
}

func (r *Registry) entriesView() []registryEntry {
	return r.entries
}

// checkIdentity rejects values that cannot serve as map keys. Pointer
// receivers compare by address, which gives instance identity.
func checkIdentity(system VisibilitySystem) error {
	if system == nil {
		return ErrNilSystem
	}
	value := reflect.ValueOf(system)
	if value.Kind() == reflect.Pointer && value.IsNil() {
		return ErrNilSystem
	}
	if !value.Comparable() {
		return fmt.Errorf("%w: %T", ErrIncomparableSystem, system)
	}
	// Distinct zero-size values may share an address, so they cannot be
	// told apart.
	size := value.Type().Size()
	if value.Kind() == reflect.Pointer {
		size = value.Type().Elem().Size()
	}
	if size == 0 {
		return fmt.Errorf("%w: %T is zero-size", ErrIncomparableSystem, system)
	}
	return nil
}
