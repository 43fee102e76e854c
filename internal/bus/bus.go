// Package bus provides the named-event publish/subscribe fabric that
// decouples the capture core from the rest of the UI. Delivery is FIFO per
// subscriber; a slow subscriber drops events rather than blocking publishers.
package bus

import (
	"log/slog"
	"sync"
)

// Event names published by the capture core.
const (
	EventRegionSelected   = "region-selected"
	EventFrameReady       = "capture-frame-ready"
	EventStreamEnded      = "stream-ended"
	EventOverlayConfirmed = "overlay-confirmed"
	EventOverlayCancelled = "overlay-cancelled"
	EventSessionError     = "session-error"
)

// Event pairs a name with its payload.
type Event struct {
	Name    string
	Payload any
}

// Subscription receives events for the names it was registered with.
type Subscription struct {
	ch     chan Event
	cancel func()
}

// Events returns the subscriber's delivery channel.
func (s *Subscription) Events() <-chan Event { return s.ch }

// Close unregisters the subscription and closes its channel.
func (s *Subscription) Close() { s.cancel() }

// Bus fans events out to per-name subscriber lists.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string][]*Subscription
	closed bool
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[string][]*Subscription)}
}

// Subscribe registers for one or more event names. The returned subscription
// buffers up to buffer events per its channel.
func (b *Bus) Subscribe(buffer int, names ...string) *Subscription {
	sub := &Subscription{ch: make(chan Event, buffer)}
	var once sync.Once
	sub.cancel = func() {
		once.Do(func() { b.remove(sub, names) })
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		// Already-closed bus hands back a drained subscription.
		close(sub.ch)
		sub.cancel = func() {}
		return sub
	}
	for _, name := range names {
		b.subs[name] = append(b.subs[name], sub)
	}
	return sub
}

// Publish delivers the event to every subscriber of name, in registration
// order. Full subscriber buffers drop the event. The read lock is held
// across the sends so a concurrent unsubscribe or shutdown cannot close a
// channel mid-delivery; sends never block, so holding it is safe.
func (b *Bus) Publish(name string, payload any) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ev := Event{Name: name, Payload: payload}
	for _, sub := range b.subs[name] {
		select {
		case sub.ch <- ev:
		default:
			slog.Debug("bus subscriber full, dropping event", "event", name)
		}
	}
}

// Close tears down the bus and closes every subscription channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	seen := make(map[*Subscription]bool)
	for _, subs := range b.subs {
		for _, sub := range subs {
			if !seen[sub] {
				seen[sub] = true
				close(sub.ch)
			}
		}
	}
	b.subs = make(map[string][]*Subscription)
}

// remove unregisters the subscription and closes its channel under the
// write lock, after any in-flight Publish has drained.
func (b *Bus) remove(target *Subscription, names []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		// Bus.Close already closed every channel.
		return
	}
	for _, name := range names {
		subs := b.subs[name]
		for i, sub := range subs {
			if sub == target {
				b.subs[name] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}
	close(target.ch)
}
