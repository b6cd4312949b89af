// Package natsport carries framelink messages over NATS subjects, one per
// direction for each surface. The poster's origin travels in a header.
package natsport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/gaspardpetit/framelink/internal/bus"
	"github.com/gaspardpetit/framelink/internal/logx"
	"github.com/gaspardpetit/framelink/internal/secret"
)

// OriginHeader carries the poster's origin.
const OriginHeader = "Framelink-Origin"

// Connect opens a NATS connection with reconnect handling and lifecycle logs.
func Connect(url, name string) (*nats.Conn, error) {
	logx.Log.Info().Str("url", secret.MaskURL(url)).Str("name", name).Msg("connecting to NATS")
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(60),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logx.Log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logx.Log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			logx.Log.Info().Msg("NATS connection closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return nc, nil
}

// Subjects returns the subjects used for surface, host-bound first.
func Subjects(prefix, surface string) (toHost, toSurface string) {
	base := prefix + "." + surface
	return base + ".host", base + ".surface"
}

// Port is a bus.Transport over a pair of NATS subjects.
type Port struct {
	nc      *nats.Conn
	sub     *nats.Subscription
	out     string
	origin  string
	inbound *bus.Broadcaster

	mu     sync.Mutex
	closed bool
}

// NewSurface returns the surface end for the named surface.
func NewSurface(nc *nats.Conn, prefix, surface, origin string) (*Port, error) {
	toHost, toSurface := Subjects(prefix, surface)
	return open(nc, toSurface, toHost, origin)
}

// NewHost returns the host end for the named surface.
func NewHost(nc *nats.Conn, prefix, surface, origin string) (*Port, error) {
	toHost, toSurface := Subjects(prefix, surface)
	return open(nc, toHost, toSurface, origin)
}

func open(nc *nats.Conn, in, out, origin string) (*Port, error) {
	p := &Port{nc: nc, out: out, origin: origin, inbound: bus.NewBroadcaster()}
	sub, err := nc.Subscribe(in, func(m *nats.Msg) {
		p.inbound.Publish(bus.Message{Origin: m.Header.Get(OriginHeader), Data: m.Data})
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", in, err)
	}
	// Make sure the server knows about the subscription before anyone posts.
	if err := nc.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("flush subscription %s: %w", in, err)
	}
	p.sub = sub
	return p, nil
}

func (p *Port) Post(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return bus.ErrClosed
	}
	msg := nats.NewMsg(p.out)
	msg.Header.Set(OriginHeader, p.origin)
	msg.Data = data
	return p.nc.PublishMsg(msg)
}

func (p *Port) Inbound() *bus.Broadcaster { return p.inbound }

func (p *Port) Origin() string { return p.origin }

// Close unsubscribes. The NATS connection stays open.
func (p *Port) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()
	err := p.sub.Unsubscribe()
	p.inbound.Close()
	return err
}
