// Package broadcast implements a subscriber registry with failure-isolated
// fan-out. Delivery failures are logged and the offending subscriber is
// pruned after the sweep; the remaining subscribers are unaffected.
package broadcast

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// Subscriber receives broadcast events. Implementations are registered by
// identity, so they must be pointer types (or otherwise comparable).
type Subscriber[E any] interface {
	Deliver(event E) error
}

// List is an ordered subscriber registry. Register and Unregister are safe
// to call concurrently with an in-progress Broadcast; a broadcast operates
// on a snapshot taken when it starts. Broadcasts never interleave: all
// deliveries happen under one delivery lock, in registration order.
type List[E any] struct {
	name string

	mu   sync.Mutex // guards subs
	subs []Subscriber[E]

	deliverMu sync.Mutex // serialises all deliveries, including replay on register
}

// NewList creates a registry. The name labels delivery-failure logs.
func NewList[E any](name string) *List[E] {
	return &List[E]{name: name}
}

// Register adds s to the registry and synchronously delivers the replay
// events (typically the current state) before any later broadcast can reach
// s. Registering an already-registered subscriber is a no-op apart from the
// replay.
func (l *List[E]) Register(s Subscriber[E], replay ...E) {
	l.deliverMu.Lock()
	defer l.deliverMu.Unlock()

	l.mu.Lock()
	if !l.contains(s) {
		l.subs = append(l.subs, s)
	}
	l.mu.Unlock()

	for _, event := range replay {
		if err := l.deliver(s, event); err != nil {
			logrus.Warnf("%s: dropping subscriber, replay delivery failed: %v", l.name, err)
			l.remove(s)
			return
		}
	}
}

// Unregister removes s. Safe during an in-progress broadcast; the current
// sweep's snapshot may still deliver to s once.
func (l *List[E]) Unregister(s Subscriber[E]) {
	l.remove(s)
}

// Len returns the number of registered subscribers.
func (l *List[E]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.subs)
}

// Broadcast delivers event to every registered subscriber in registration
// order. A failing subscriber is logged and pruned after the sweep; it never
// prevents delivery to the rest.
func (l *List[E]) Broadcast(event E) {
	l.deliverMu.Lock()
	defer l.deliverMu.Unlock()

	l.mu.Lock()
	snapshot := make([]Subscriber[E], len(l.subs))
	copy(snapshot, l.subs)
	l.mu.Unlock()

	var dead []Subscriber[E]
	for _, s := range snapshot {
		if err := l.deliver(s, event); err != nil {
			logrus.Warnf("%s: subscriber delivery failed, pruning: %v", l.name, err)
			dead = append(dead, s)
		}
	}

	for _, s := range dead {
		l.remove(s)
	}
}

// deliver invokes one subscriber, converting a panic into an error so one
// bad subscriber cannot take down the sweep.
func (l *List[E]) deliver(s Subscriber[E], event E) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber panicked: %v", r)
		}
	}()
	return s.Deliver(event)
}

func (l *List[E]) contains(s Subscriber[E]) bool {
	for _, existing := range l.subs {
		if existing == s {
			return true
		}
	}
	return false
}

func (l *List[E]) remove(s Subscriber[E]) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, existing := range l.subs {
		if existing == s {
			l.subs = append(l.subs[:i], l.subs[i+1:]...)
			return
		}
	}
}
