package bus

import (
	"context"
	"sync"
)

// Pipe returns two connected in-memory transports. Messages posted on one
// end are published on the other end's Inbound stream by a dispatch
// goroutine, so delivery is asynchronous and preserves post order.
func Pipe(childOrigin, hostOrigin string) (child, host Transport) {
	c := newPipeEnd(childOrigin)
	h := newPipeEnd(hostOrigin)
	c.peer, h.peer = h, c
	go c.dispatch()
	go h.dispatch()
	return c, h
}

type pipeEnd struct {
	origin  string
	inbound *Broadcaster
	peer    *pipeEnd

	mu     sync.Mutex
	queue  []Message
	wake   chan struct{}
	done   chan struct{}
	closed bool
}

func newPipeEnd(origin string) *pipeEnd {
	return &pipeEnd{
		origin:  origin,
		inbound: NewBroadcaster(),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

func (p *pipeEnd) Post(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return ErrClosed
	}
	msg := Message{Origin: p.origin, Data: append([]byte(nil), data...)}
	return p.peer.enqueue(msg)
}

func (p *pipeEnd) enqueue(m Message) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.queue = append(p.queue, m)
	p.mu.Unlock()
	select {
	case p.wake <- struct{}{}:
	default:
	}
	return nil
}

func (p *pipeEnd) dispatch() {
	for {
		select {
		case <-p.done:
			return
		case <-p.wake:
		}
		for {
			p.mu.Lock()
			if len(p.queue) == 0 || p.closed {
				p.mu.Unlock()
				break
			}
			m := p.queue[0]
			p.queue = p.queue[1:]
			p.mu.Unlock()
			p.inbound.Publish(m)
		}
	}
}

func (p *pipeEnd) Inbound() *Broadcaster { return p.inbound }

func (p *pipeEnd) Origin() string { return p.origin }

// Close stops this end. Posting from or to a closed end returns ErrClosed.
func (p *pipeEnd) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.queue = nil
	p.mu.Unlock()
	close(p.done)
	p.inbound.Close()
	return nil
}
