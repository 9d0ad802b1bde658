// Package events is a small publish/subscribe registry keyed by event name.
package events

import (
	"sort"
	"sync"
)

// Handler receives the arguments an event was emitted with.
type Handler func(args ...interface{})

type listener struct {
	id   uint64
	fn   Handler
	once bool
}

// Registry maps event names to ordered listeners. Handlers run synchronously
// on the emitting goroutine, in registration order.
type Registry struct {
	mu        sync.Mutex
	nextID    uint64
	listeners map[string][]listener
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{listeners: make(map[string][]listener)}
}

// On registers fn for event and returns a func that removes it. Calling the
// returned func more than once is harmless.
func (r *Registry) On(event string, fn Handler) func() {
	return r.add(event, fn, false)
}

// Once registers fn for the next emission of event only.
func (r *Registry) Once(event string, fn Handler) func() {
	return r.add(event, fn, true)
}

func (r *Registry) add(event string, fn Handler, once bool) func() {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.listeners[event] = append(r.listeners[event], listener{id: id, fn: fn, once: once})
	r.mu.Unlock()

	return func() { r.remove(event, id) }
}

func (r *Registry) remove(event string, id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ls := r.listeners[event]
	for i, l := range ls {
		if l.id == id {
			r.listeners[event] = append(ls[:i:i], ls[i+1:]...)
			break
		}
	}
	if len(r.listeners[event]) == 0 {
		delete(r.listeners, event)
	}
}

// Emit calls every listener of event with args and reports whether there
// were any.
func (r *Registry) Emit(event string, args ...interface{}) bool {
	r.mu.Lock()
	ls := r.listeners[event]
	if len(ls) == 0 {
		r.mu.Unlock()
		return false
	}
	snapshot := make([]listener, len(ls))
	copy(snapshot, ls)
	kept := ls[:0:0]
	for _, l := range ls {
		if !l.once {
			kept = append(kept, l)
		}
	}
	if len(kept) == 0 {
		delete(r.listeners, event)
	} else {
		r.listeners[event] = kept
	}
	r.mu.Unlock()

	for _, l := range snapshot {
		l.fn(args...)
	}
	return true
}

// ListenerCount returns the number of listeners for event.
func (r *Registry) ListenerCount(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.listeners[event])
}

// Events lists the names that currently have listeners.
func (r *Registry) Events() []string {
	r.mu.Lock()
	names := make([]string, 0, len(r.listeners))
	for name := range r.listeners {
		names = append(names, name)
	}
	r.mu.Unlock()
	sort.Strings(names)
	return names
}

// RemoveAll drops every listener of event, or of all events when event is empty.
func (r *Registry) RemoveAll(event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if event == "" {
		r.listeners = make(map[string][]listener)
		return
	}
	delete(r.listeners, event)
}
