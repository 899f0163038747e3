package storage

import (
	"sync"

	"github.com/roach88/docsync/internal/bulkwrite"
)

// Hub fans event bulks out to subscriptions. Publishing never blocks:
// each subscription buffers without bound and is woken through a
// coalescing signal channel.
//
// Thread-safety: Hub is safe for concurrent use.
type Hub struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool
}

// NewHub creates a hub with no subscribers.
func NewHub() *Hub {
	return &Hub{subs: make(map[*Subscription]struct{})}
}

// Subscribe registers a new subscription. Subscribing to a closed hub
// returns an already closed subscription.
func (h *Hub) Subscribe() *Subscription {
	s := &Subscription{
		bulks:  make([]bulkwrite.EventBulk, 0, 16),
		signal: make(chan struct{}, 1),
		hub:    h,
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		s.closeLocked()
		return s
	}
	h.subs[s] = struct{}{}
	return s
}

// Publish delivers bulk to every current subscriber. Empty bulks are dropped.
func (h *Hub) Publish(bulk bulkwrite.EventBulk) {
	if len(bulk.Events) == 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for s := range h.subs {
		s.enqueue(bulk)
	}
}

// Close completes every subscription. Further publishes are ignored.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for s := range h.subs {
		s.mu.Lock()
		s.closeLocked()
		s.mu.Unlock()
	}
	h.subs = nil
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, s)
}

// Subscription is a FIFO of event bulks from one Hub.
//
// Use TryNext with Wait for context-aware consumption:
//
//	for {
//	    if bulk, ok := sub.TryNext(); ok {
//	        // handle bulk
//	        continue
//	    }
//	    if sub.Closed() {
//	        return
//	    }
//	    select {
//	    case <-ctx.Done():
//	        return
//	    case <-sub.Wait():
//	    }
//	}
type Subscription struct {
	mu     sync.Mutex
	bulks  []bulkwrite.EventBulk
	closed bool
	signal chan struct{}
	hub    *Hub
}

func (s *Subscription) enqueue(bulk bulkwrite.EventBulk) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.bulks = append(s.bulks, bulk)
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

// TryNext dequeues the oldest bulk without blocking.
func (s *Subscription) TryNext() (bulkwrite.EventBulk, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.bulks) == 0 {
		return bulkwrite.EventBulk{}, false
	}
	b := s.bulks[0]
	s.bulks[0] = bulkwrite.EventBulk{}
	if len(s.bulks) == 1 {
		s.bulks = s.bulks[:0]
	} else {
		s.bulks = s.bulks[1:]
	}
	return b, true
}

// Drain dequeues every buffered bulk.
func (s *Subscription) Drain() []bulkwrite.EventBulk {
	var out []bulkwrite.EventBulk
	for {
		b, ok := s.TryNext()
		if !ok {
			return out
		}
		out = append(out, b)
	}
}

// Wait returns a channel that signals when bulks may be available. It is
// closed once the subscription is closed.
func (s *Subscription) Wait() <-chan struct{} {
	return s.signal
}

// Len returns the number of buffered bulks.
func (s *Subscription) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bulks)
}

// Closed reports whether the subscription will receive no further bulks.
func (s *Subscription) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close unsubscribes. Buffered bulks can still be drained.
func (s *Subscription) Close() {
	if s.hub != nil {
		s.hub.remove(s)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
}

func (s *Subscription) closeLocked() {
	if s.closed {
		return
	}
	s.closed = true
	close(s.signal)
}
