// Package bus models the cross-context message channel between a surface and
// its host: an asynchronous post to the peer plus a broadcast inbound stream
// that every listener in the receiving context observes.
package bus

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned when posting on a closed transport.
var ErrClosed = errors.New("transport closed")

// AnyOrigin matches every origin.
const AnyOrigin = "*"

// Message is one inbound event.
type Message struct {
	// Origin identifies the context that posted the message.
	Origin string
	Data   []byte
}

// Handler receives inbound messages.
type Handler func(Message)

// Transport connects one context to its peer.
type Transport interface {
	// Post delivers data to the peer context asynchronously.
	Post(ctx context.Context, data []byte) error
	// Inbound returns the stream of messages posted by the peer.
	Inbound() *Broadcaster
	// Origin is the origin this side stamps on the messages it posts.
	Origin() string
	Close() error
}

// Broadcaster fans inbound messages out to every subscriber.
type Broadcaster struct {
	mu     sync.Mutex
	next   uint64
	subs   map[uint64]Handler
	order  []uint64
	closed bool
}

// NewBroadcaster returns an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: map[uint64]Handler{}}
}

// Subscription is a registered handler. Unsubscribe removes it.
type Subscription struct {
	b    *Broadcaster
	id   uint64
	once sync.Once
}

// Subscribe registers h for every message published after the call returns.
// Subscribing to a closed broadcaster returns an inert subscription.
func (b *Broadcaster) Subscribe(h Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	s := &Subscription{b: b, id: b.next}
	if b.closed {
		return s
	}
	b.subs[s.id] = h
	b.order = append(b.order, s.id)
	return s
}

// Unsubscribe removes the handler. It is safe to call more than once and from
// within the handler itself.
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.once.Do(func() { s.b.remove(s.id) })
}

func (b *Broadcaster) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[id]; !ok {
		return
	}
	delete(b.subs, id)
	for i, v := range b.order {
		if v == id {
			b.order = append(b.order[:i:i], b.order[i+1:]...)
			break
		}
	}
}

// Publish delivers m to the handlers registered at the time of the call, in
// subscription order, on the calling goroutine. Handlers removed by an
// earlier handler during the same publish are skipped.
func (b *Broadcaster) Publish(m Message) {
	b.mu.Lock()
	ids := append([]uint64(nil), b.order...)
	b.mu.Unlock()
	for _, id := range ids {
		b.mu.Lock()
		h, ok := b.subs[id]
		b.mu.Unlock()
		if ok {
			h(m)
		}
	}
}

// Len returns the number of active subscriptions.
func (b *Broadcaster) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close drops every subscription; later subscriptions are inert.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = map[uint64]Handler{}
	b.order = nil
}
