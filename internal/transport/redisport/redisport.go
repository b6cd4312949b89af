// Package redisport carries framelink messages over Redis pub/sub. Each
// surface uses two channels, one per direction; every subscriber of a
// channel sees every message, like listeners on a window.
package redisport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gaspardpetit/framelink/internal/bus"
	"github.com/gaspardpetit/framelink/internal/logx"
)

// Channels returns the channel names used for surface, host-bound first.
func Channels(prefix, surface string) (toHost, toSurface string) {
	base := prefix + ":" + surface
	return base + ":host", base + ":surface"
}

// frame wraps a posted message with the poster's origin; pub/sub carries no
// sender identity of its own.
type frame struct {
	Origin string          `json:"origin"`
	Data   json.RawMessage `json:"data"`
}

// Port is a bus.Transport over a pair of Redis channels.
type Port struct {
	client  redis.UniversalClient
	ps      *redis.PubSub
	out     string
	origin  string
	inbound *bus.Broadcaster

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// NewSurface returns the surface end for the named surface.
func NewSurface(ctx context.Context, client redis.UniversalClient, prefix, surface, origin string) (*Port, error) {
	toHost, toSurface := Channels(prefix, surface)
	return open(ctx, client, toSurface, toHost, origin)
}

// NewHost returns the host end for the named surface.
func NewHost(ctx context.Context, client redis.UniversalClient, prefix, surface, origin string) (*Port, error) {
	toHost, toSurface := Channels(prefix, surface)
	return open(ctx, client, toHost, toSurface, origin)
}

func open(ctx context.Context, client redis.UniversalClient, in, out, origin string) (*Port, error) {
	ps := client.Subscribe(ctx, in)
	// Receive blocks until the subscription is confirmed, so nothing posted
	// afterwards can be missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", in, err)
	}
	p := &Port{
		client:  client,
		ps:      ps,
		out:     out,
		origin:  origin,
		inbound: bus.NewBroadcaster(),
		done:    make(chan struct{}),
	}
	go p.readLoop(ps.Channel())
	return p, nil
}

func (p *Port) readLoop(ch <-chan *redis.Message) {
	defer close(p.done)
	for msg := range ch {
		var f frame
		if err := json.Unmarshal([]byte(msg.Payload), &f); err != nil {
			logx.Log.Debug().Err(err).Str("channel", msg.Channel).Msg("dropping malformed frame")
			continue
		}
		p.inbound.Publish(bus.Message{Origin: f.Origin, Data: f.Data})
	}
}

// Post publishes data on the peer's channel. data must be JSON.
func (p *Port) Post(ctx context.Context, data []byte) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return bus.ErrClosed
	}
	b, err := json.Marshal(frame{Origin: p.origin, Data: data})
	if err != nil {
		return fmt.Errorf("redis frame: %w", err)
	}
	return p.client.Publish(ctx, p.out, b).Err()
}

func (p *Port) Inbound() *bus.Broadcaster { return p.inbound }

func (p *Port) Origin() string { return p.origin }

// Close unsubscribes. The Redis client stays open.
func (p *Port) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()
	err := p.ps.Close()
	select {
	case <-p.done:
	case <-time.After(time.Second):
	}
	p.inbound.Close()
	return err
}
