package xrelay

import (
	"reflect"
	"slices"
	"sync"
)

type subordinate struct {
	ch  Channel
	sub Subscription
}

// subordinates is the coordinator's table of attached channels. Every
// channel is subscribed with the same handler; detaching closes only that
// subscription.
type subordinates struct {
	mu      sync.RWMutex
	handler func(msg []byte)
	byID    map[ProcessID]subordinate
}

func newSubordinates(handler func(msg []byte)) *subordinates {
	return &subordinates{
		handler: handler,
		byID:    make(map[ProcessID]subordinate),
	}
}

// add subscribes ch and tracks it. It returns false when ch itself is
// already attached. A different channel carrying a known identity, such as
// a reconnected peer, takes over the entry; the old subscription is
// returned for the caller to close.
func (s *subordinates) add(ch Channel) (added bool, replaced Subscription, err error) {
	id := ch.ID()

	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.byID[id]
	if ok && sameChannel(old.ch, ch) {
		return false, nil, nil
	}
	sub, err := ch.Subscribe(s.handler)
	if err != nil {
		return false, nil, err
	}
	s.byID[id] = subordinate{ch: ch, sub: sub}
	if ok {
		return true, old.sub, nil
	}
	return true, nil, nil
}

// remove untracks ch and returns its subscription. It returns nil when ch
// is unknown or its identity now belongs to another channel.
func (s *subordinates) remove(ch Channel) Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := ch.ID()
	e, ok := s.byID[id]
	if !ok || !sameChannel(e.ch, ch) {
		return nil
	}
	delete(s.byID, id)
	return e.sub
}

// removeAll untracks everything and returns the subscriptions.
func (s *subordinates) removeAll() []Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	subs := make([]Subscription, 0, len(s.byID))
	for _, e := range s.byID {
		subs = append(subs, e.sub)
	}
	clear(s.byID)
	return subs
}

// channels returns the attached channels ordered by identity.
func (s *subordinates) channels() []Channel {
	s.mu.RLock()
	out := make([]Channel, 0, len(s.byID))
	for _, e := range s.byID {
		out = append(out, e.ch)
	}
	s.mu.RUnlock()
	slices.SortFunc(out, func(a, b Channel) int {
		switch {
		case a.ID() < b.ID():
			return -1
		case a.ID() > b.ID():
			return 1
		}
		return 0
	})
	return out
}

func (s *subordinates) ids() []ProcessID {
	s.mu.RLock()
	out := make([]ProcessID, 0, len(s.byID))
	for id := range s.byID {
		out = append(out, id)
	}
	s.mu.RUnlock()
	slices.Sort(out)
	return out
}

func (s *subordinates) count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// sameChannel reports whether a and b are the same channel instance.
// Channels of non-comparable types never match.
func sameChannel(a, b Channel) bool {
	ta := reflect.TypeOf(a)
	if ta != reflect.TypeOf(b) || !ta.Comparable() {
		return false
	}
	return a == b
}

// isNilChannel reports whether ch is nil, including a nil pointer wrapped
// in the interface.
func isNilChannel(ch Channel) bool {
	if ch == nil {
		return true
	}
	v := reflect.ValueOf(ch)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		return v.IsNil()
	}
	return false
}
