package xrelay

import (
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/trickstertwo/xlog"
)

// Listener handles one named event.
type Listener func(args ...any)

// AnyListener handles every event and receives its name.
type AnyListener func(event string, args ...any)

// ListenerID identifies a registered listener for Off.
type ListenerID uint64

type listenerEntry struct {
	id   ListenerID
	fn   Listener
	all  AnyListener
	once bool
}

// Emitter is a synchronous observer list keyed by event name. Specific
// listeners run before wildcard ones, each group in registration order.
// A panicking listener is recovered and logged; the rest still run.
type Emitter struct {
	mu       sync.RWMutex
	byEvent  map[string][]listenerEntry
	wildcard []listenerEntry
	nextID   atomic.Uint64
	logger   *xlog.Logger
}

// NewEmitter returns an empty Emitter. A nil logger disables panic logging.
func NewEmitter(logger *xlog.Logger) *Emitter {
	return &Emitter{
		byEvent: make(map[string][]listenerEntry),
		logger:  logger,
	}
}

// On registers l for event.
func (e *Emitter) On(event string, l Listener) ListenerID {
	return e.add(event, listenerEntry{fn: l})
}

// Once registers l for the next occurrence of event only.
func (e *Emitter) Once(event string, l Listener) ListenerID {
	return e.add(event, listenerEntry{fn: l, once: true})
}

// OnAny registers l for all events.
func (e *Emitter) OnAny(l AnyListener) ListenerID {
	id := ListenerID(e.nextID.Add(1))
	e.mu.Lock()
	e.wildcard = append(e.wildcard, listenerEntry{id: id, all: l})
	e.mu.Unlock()
	return id
}

func (e *Emitter) add(event string, le listenerEntry) ListenerID {
	le.id = ListenerID(e.nextID.Add(1))
	e.mu.Lock()
	e.byEvent[event] = append(e.byEvent[event], le)
	e.mu.Unlock()
	return le.id
}

// Off removes a listener. It reports whether the listener was found.
func (e *Emitter) Off(id ListenerID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	for event, ls := range e.byEvent {
		if i := indexOf(ls, id); i >= 0 {
			e.byEvent[event] = removeAt(ls, i)
			if len(e.byEvent[event]) == 0 {
				delete(e.byEvent, event)
			}
			return true
		}
	}
	if i := indexOf(e.wildcard, id); i >= 0 {
		e.wildcard = removeAt(e.wildcard, i)
		return true
	}
	return false
}

// Emit calls every listener of event with args and returns how many ran.
func (e *Emitter) Emit(event string, args ...any) int {
	e.mu.Lock()
	specific := append([]listenerEntry(nil), e.byEvent[event]...)
	wildcard := append([]listenerEntry(nil), e.wildcard...)
	// once-listeners are removed before they run so a re-entrant Emit
	// cannot fire them twice
	if kept := withoutOnce(e.byEvent[event]); len(kept) != len(e.byEvent[event]) {
		if len(kept) == 0 {
			delete(e.byEvent, event)
		} else {
			e.byEvent[event] = kept
		}
	}
	e.mu.Unlock()

	for _, le := range specific {
		e.safeCall(event, func() { le.fn(args...) })
	}
	for _, le := range wildcard {
		e.safeCall(event, func() { le.all(event, args...) })
	}
	return len(specific) + len(wildcard)
}

// ListenerCount returns the number of listeners registered for event,
// not counting wildcard listeners.
func (e *Emitter) ListenerCount(event string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.byEvent[event])
}

// Clear removes all listeners.
func (e *Emitter) Clear() {
	e.mu.Lock()
	e.byEvent = make(map[string][]listenerEntry)
	e.wildcard = nil
	e.mu.Unlock()
}

func (e *Emitter) safeCall(event string, fn func()) {
	defer func() {
		if r := recover(); r != nil && e.logger != nil {
			e.logger.Error().
				Str("event", event).
				Str("panic", fmt.Sprint(r)).
				Str("stack", string(debug.Stack())).
				Msg("xrelay: listener panic (recovered)")
		}
	}()
	fn()
}

func indexOf(ls []listenerEntry, id ListenerID) int {
	for i, le := range ls {
		if le.id == id {
			return i
		}
	}
	return -1
}

func removeAt(ls []listenerEntry, i int) []listenerEntry {
	out := make([]listenerEntry, 0, len(ls)-1)
	out = append(out, ls[:i]...)
	return append(out, ls[i+1:]...)
}

func withoutOnce(ls []listenerEntry) []listenerEntry {
	out := ls[:0:0]
	for _, le := range ls {
		if !le.once {
			out = append(out, le)
		}
	}
	return out
}
