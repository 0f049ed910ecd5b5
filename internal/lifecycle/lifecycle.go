// Package lifecycle publishes the server's start and stop transitions.
package lifecycle

import (
	"errors"
	"sync"

	"sightline/server/internal/event"
)

// Lifecycle tracks whether the server is running. Start and Stop emit their
// events only on an actual transition.
type Lifecycle struct {
	mu      sync.Mutex
	running bool

	started event.Event[struct{}]
	stopped event.Event[struct{}]
}

func New() *Lifecycle {
	return &Lifecycle{}
}

func (l *Lifecycle) OnStarted() *event.Event[struct{}] { return &l.started }
func (l *Lifecycle) OnStopped() *event.Event[struct{}] { return &l.stopped }

// Running reports whether Start has been called without a matching Stop.
func (l *Lifecycle) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// Start marks the server running and notifies subscribers.
func (l *Lifecycle) Start() error {
	if !l.transition(true) {
		return nil
	}
	return l.started.Emit(struct{}{})
}

// Stop marks the server stopped and notifies subscribers.
func (l *Lifecycle) Stop() error {
	if !l.transition(false) {
		return nil
	}
	return l.stopped.Emit(struct{}{})
}

func (l *Lifecycle) transition(running bool) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running == running {
		return false
	}
	l.running = running
	return true
}

// Restart stops and starts again, returning both errors joined.
func (l *Lifecycle) Restart() error {
	return errors.Join(l.Stop(), l.Start())
}
