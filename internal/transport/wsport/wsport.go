// Package wsport carries framelink messages over a WebSocket. Each text
// message on the socket is one posted message.
package wsport

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/gaspardpetit/framelink/internal/bus"
	"github.com/gaspardpetit/framelink/internal/logx"
)

// PingInterval is how often an idle socket is pinged.
var PingInterval = 30 * time.Second

// Port is a bus.Transport over a WebSocket connection.
type Port struct {
	conn    *websocket.Conn
	origin  string
	peer    string
	inbound *bus.Broadcaster

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	done   chan struct{}
	err    error
}

// New wraps an established connection. origin is this side's origin; peer is
// reported as the Origin of every inbound message.
func New(conn *websocket.Conn, origin, peer string) *Port {
	// Disable default 32KiB read limit to support large tool results
	conn.SetReadLimit(-1)
	ctx, cancel := context.WithCancel(context.Background())
	p := &Port{
		conn:    conn,
		origin:  origin,
		peer:    peer,
		inbound: bus.NewBroadcaster(),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go p.readLoop()
	go p.pingLoop()
	return p
}

// Dial connects a surface to the host WebSocket at rawURL. The Origin header
// is only sent when origin is an http(s) origin.
func Dial(ctx context.Context, rawURL, origin string) (*Port, error) {
	opts := &websocket.DialOptions{}
	if strings.HasPrefix(origin, "http://") || strings.HasPrefix(origin, "https://") {
		opts.HTTPHeader = http.Header{"Origin": []string{origin}}
	}
	conn, _, err := websocket.Dial(ctx, rawURL, opts)
	if err != nil {
		return nil, err
	}
	return New(conn, origin, OriginOf(rawURL)), nil
}

// Accept upgrades a host-side request. patterns lists additional origins
// allowed to connect, as understood by websocket.AcceptOptions.
func Accept(w http.ResponseWriter, r *http.Request, origin string, patterns []string) (*Port, error) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: patterns})
	if err != nil {
		return nil, err
	}
	return New(conn, origin, r.Header.Get("Origin")), nil
}

// OriginOf returns the http(s) origin of a ws(s) or http(s) URL.
func OriginOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	scheme := "http"
	if u.Scheme == "wss" || u.Scheme == "https" {
		scheme = "https"
	}
	return scheme + "://" + u.Host
}

func (p *Port) Post(ctx context.Context, data []byte) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return bus.ErrClosed
	}
	return p.conn.Write(ctx, websocket.MessageText, data)
}

func (p *Port) Inbound() *bus.Broadcaster { return p.inbound }

func (p *Port) Origin() string { return p.origin }

// Done is closed once the connection has ended.
func (p *Port) Done() <-chan struct{} { return p.done }

// Err returns the error that ended the connection, if any.
func (p *Port) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *Port) Close() error {
	p.shutdown(nil, websocket.StatusNormalClosure, "closing")
	return nil
}

func (p *Port) shutdown(err error, code websocket.StatusCode, reason string) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.err = err
	p.mu.Unlock()
	p.cancel()
	_ = p.conn.Close(code, reason)
	p.inbound.Close()
	close(p.done)
}

func (p *Port) readLoop() {
	for {
		_, data, err := p.conn.Read(p.ctx)
		if err != nil {
			if p.ctx.Err() == nil {
				logx.Log.Debug().Err(err).Str("peer", p.peer).Msg("websocket read ended")
			}
			p.shutdown(err, websocket.StatusNormalClosure, "read ended")
			return
		}
		p.inbound.Publish(bus.Message{Origin: p.peer, Data: data})
	}
}

func (p *Port) pingLoop() {
	ticker := time.NewTicker(PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(p.ctx, 10*time.Second)
			err := p.conn.Ping(ctx)
			cancel()
			if err != nil && p.ctx.Err() == nil {
				logx.Log.Warn().Err(err).Str("peer", p.peer).Msg("websocket ping failed")
				p.shutdown(err, websocket.StatusGoingAway, "ping failed")
				return
			}
		case <-p.ctx.Done():
			return
		}
	}
}
