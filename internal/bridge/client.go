// Package bridge is the surface side of the framelink protocol: correlated
// calls to the host, lifecycle notifications and the one-shot render data
// handshake.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gaspardpetit/framelink/internal/bus"
	"github.com/gaspardpetit/framelink/internal/logx"
	"github.com/gaspardpetit/framelink/internal/metrics"
	"github.com/gaspardpetit/framelink/internal/schema"
	"github.com/gaspardpetit/framelink/internal/uiwire"
)

// Client issues requests to the host over a parent transport and routes each
// reply back to the call that carries the same message id.
type Client struct {
	parent  bus.Transport
	trusted string
	newID   func() string

	reg *Registry
	sub *bus.Subscription

	closeOnce sync.Once
	closed    chan struct{}
}

// Option configures a Client.
type Option func(*Client)

// WithTrustedOrigin only accepts inbound messages posted from origin. The
// default, bus.AnyOrigin, accepts replies from any context.
func WithTrustedOrigin(origin string) Option {
	return func(c *Client) {
		if origin != "" {
			c.trusted = origin
		}
	}
}

// WithIDGenerator replaces the message id generator.
func WithIDGenerator(fn func() string) Option {
	return func(c *Client) {
		if fn != nil {
			c.newID = fn
		}
	}
}

// New returns a client talking to parent. A nil parent means the surface is
// not embedded in a host; every call then fails with ErrNoHost.
func New(parent bus.Transport, opts ...Option) *Client {
	c := &Client{
		parent:  parent,
		trusted: bus.AnyOrigin,
		newID:   uuid.NewString,
		reg:     NewRegistry(),
		closed:  make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	if parent != nil {
		c.sub = parent.Inbound().Subscribe(c.onMessage)
	}
	return c
}

// Close removes the client's inbound subscription and fails every pending
// call with ErrClosed. It does not close the parent transport.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.sub.Unsubscribe()
		c.reg.Close(ErrClosed)
		close(c.closed)
	})
	return nil
}

// Pending returns the number of calls waiting for a reply.
func (c *Client) Pending() int { return c.reg.Len() }

func (c *Client) accepts(origin string) bool {
	return c.trusted == bus.AnyOrigin || c.trusted == origin
}

func (c *Client) onMessage(m bus.Message) {
	if !c.accepts(m.Origin) {
		return
	}
	env, err := uiwire.Decode(m.Data)
	if err != nil || env.Type != uiwire.TypeResponse || env.MessageID == "" {
		return
	}
	var o Outcome
	if err := env.DecodePayload(&o.Payload); err != nil {
		o = Outcome{Err: fmt.Errorf("decode %s payload: %w", env.Type, err)}
	}
	c.reg.Deliver(env.MessageID, o)
}

// Notify posts a message that expects no reply.
func (c *Client) Notify(ctx context.Context, t uiwire.MessageType, payload any) error {
	if c.parent == nil {
		logx.Log.Warn().Str("type", string(t)).Interface("payload", payload).Msg("no host context; notification dropped")
		return ErrNoHost
	}
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}
	data, err := uiwire.Encode(t, "", payload)
	if err != nil {
		return err
	}
	if err := c.parent.Post(ctx, data); err != nil {
		return fmt.Errorf("post %s: %w", t, err)
	}
	return nil
}

// Call sends req and returns the host's response verbatim. An absent
// response member is returned as JSON null.
func (c *Client) Call(ctx context.Context, req uiwire.Request) (json.RawMessage, error) {
	p, err := c.roundTrip(ctx, req, nil)
	if err != nil {
		return nil, err
	}
	if len(p.Response) == 0 {
		return json.RawMessage("null"), nil
	}
	return p.Response, nil
}

// Send sends req and validates the response against s before decoding it into
// T. A nil schema decodes without validation.
func Send[T any](ctx context.Context, c *Client, req uiwire.Request, s *schema.Schema[T]) (T, error) {
	var zero T
	var out T
	_, err := c.roundTrip(ctx, req, func(p uiwire.ResponsePayload) error {
		v, err := s.Parse(p.Response)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		return zero, err
	}
	return out, nil
}

// CallTool invokes a backend tool through the host.
func (c *Client) CallTool(ctx context.Context, name string, params map[string]any) (json.RawMessage, error) {
	return c.Call(ctx, uiwire.Tool(name, params))
}

// OpenLink asks the host to navigate to url.
func (c *Client) OpenLink(ctx context.Context, url string) (json.RawMessage, error) {
	return c.Call(ctx, uiwire.Link(url))
}

// SendPrompt submits a prompt to the agent behind the host.
func (c *Client) SendPrompt(ctx context.Context, text string) (json.RawMessage, error) {
	return c.Call(ctx, uiwire.Prompt(text))
}

func (c *Client) roundTrip(ctx context.Context, req uiwire.Request, decode func(uiwire.ResponsePayload) error) (uiwire.ResponsePayload, error) {
	t := string(req.MessageType())
	if c.parent == nil {
		logx.Log.Warn().Str("type", t).Interface("payload", req).Msg("no host context; message not sent")
		metrics.CallRejected(t, metrics.OutcomeNoHost)
		return uiwire.ResponsePayload{}, ErrNoHost
	}
	id := c.newID()
	ch, err := c.reg.Register(id)
	if err != nil {
		metrics.CallRejected(t, metrics.OutcomeError)
		return uiwire.ResponsePayload{}, err
	}
	data, err := uiwire.Encode(req.MessageType(), id, req)
	if err != nil {
		c.reg.Cancel(id)
		metrics.CallRejected(t, metrics.OutcomeError)
		return uiwire.ResponsePayload{}, err
	}
	if err := c.parent.Post(ctx, data); err != nil {
		c.reg.Cancel(id)
		metrics.CallRejected(t, metrics.OutcomeError)
		return uiwire.ResponsePayload{}, fmt.Errorf("post %s: %w", t, err)
	}
	metrics.CallStarted()
	start := time.Now()
	logx.Log.Debug().Str("type", t).Str("message_id", id).Msg("posted")

	var o Outcome
	select {
	case o = <-ch:
	case <-ctx.Done():
		c.reg.Cancel(id)
		select {
		case o = <-ch:
		default:
			metrics.CallFinished(t, metrics.OutcomeCanceled, time.Since(start))
			return uiwire.ResponsePayload{}, ctx.Err()
		}
	}
	p, err := settle(o, decode)
	metrics.CallFinished(t, outcomeOf(err), time.Since(start))
	if err != nil {
		logx.Log.Debug().Str("type", t).Str("message_id", id).Err(err).Msg("rejected")
		return uiwire.ResponsePayload{}, err
	}
	return p, nil
}

// settle interprets a reply. The error member takes precedence over the
// response member when both are set.
func settle(o Outcome, decode func(uiwire.ResponsePayload) error) (uiwire.ResponsePayload, error) {
	if o.Err != nil {
		return uiwire.ResponsePayload{}, o.Err
	}
	if o.Payload.HasError() {
		return uiwire.ResponsePayload{}, &HostError{Value: o.Payload.Error}
	}
	if decode != nil {
		if err := decode(o.Payload); err != nil {
			return uiwire.ResponsePayload{}, err
		}
	}
	return o.Payload, nil
}

func outcomeOf(err error) string {
	var he *HostError
	var ve *schema.ValidationError
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.As(err, &he):
		return metrics.OutcomeHostError
	case errors.As(err, &ve):
		return metrics.OutcomeInvalid
	case errors.Is(err, ErrClosed):
		return metrics.OutcomeCanceled
	default:
		return metrics.OutcomeError
	}
}
