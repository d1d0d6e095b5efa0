package bus

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/relogix/scand/internal/value"
)

// Update describes one committed write.
type Update struct {
	Name     string
	Value    value.Value
	Revision uint64
}

// Subscription receives updates for one signal, or for all signals when
// created with WatchAll. Delivery coalesces bursts: a slow consumer sees
// at most the latest value per signal, but never misses the final value of
// a series.
type Subscription struct {
	id     string
	bus    *Bus
	filter string // empty means all signals

	mu      sync.Mutex
	pending map[string]Update
	closed  bool
	notify  chan struct{}
}

// Watch subscribes to updates of a single signal.
func (b *Bus) Watch(name string) *Subscription {
	return b.hub.add(b, name)
}

// WatchAll subscribes to updates of every signal.
func (b *Bus) WatchAll() *Subscription {
	return b.hub.add(b, "")
}

// ID returns the unique subscription identifier.
func (s *Subscription) ID() string { return s.id }

// Notify returns a channel that signals pending updates. After receiving,
// call Drain to collect them.
func (s *Subscription) Notify() <-chan struct{} { return s.notify }

// Drain returns and clears the coalesced pending updates.
func (s *Subscription) Drain() []Update {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return nil
	}
	out := make([]Update, 0, len(s.pending))
	for _, u := range s.pending {
		out = append(out, u)
	}
	s.pending = make(map[string]Update)
	return out
}

// Next blocks until at least one update is pending, then returns the batch.
func (s *Subscription) Next(ctx context.Context) ([]Update, error) {
	for {
		if batch := s.Drain(); batch != nil {
			return batch, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case _, ok := <-s.notify:
			if !ok {
				// Closed: return whatever arrived before the close.
				if batch := s.Drain(); batch != nil {
					return batch, nil
				}
				return nil, context.Canceled
			}
		}
	}
}

// Close detaches the subscription from the bus.
func (s *Subscription) Close() {
	s.bus.hub.remove(s.id)
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.notify)
	}
	s.mu.Unlock()
}

func (s *Subscription) push(u Update) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.pending[u.Name] = u
	// Non-blocking signal, sent under the lock so Close cannot race the send.
	select {
	case s.notify <- struct{}{}:
	default:
	}
	s.mu.Unlock()
}

type watchHub struct {
	mu   sync.RWMutex
	subs map[string]*Subscription
}

func (h *watchHub) init() {
	h.subs = make(map[string]*Subscription)
}

func (h *watchHub) add(b *Bus, filter string) *Subscription {
	s := &Subscription{
		id:      uuid.NewString(),
		bus:     b,
		filter:  filter,
		pending: make(map[string]Update),
		notify:  make(chan struct{}, 1),
	}
	h.mu.Lock()
	h.subs[s.id] = s
	h.mu.Unlock()
	return s
}

func (h *watchHub) remove(id string) {
	h.mu.Lock()
	delete(h.subs, id)
	h.mu.Unlock()
}

func (h *watchHub) publish(u Update) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.subs {
		if s.filter == "" || s.filter == u.Name {
			s.push(u)
		}
	}
}
