package bridge

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/gaspardpetit/framelink/internal/bus"
	"github.com/gaspardpetit/framelink/internal/uiwire"
)

const (
	surfaceOrigin = "https://surface.test"
	hostOrigin    = "https://host.test"
)

// fakeHost records what the surface posts and lets tests reply by hand.
type fakeHost struct {
	tr    bus.Transport
	child bus.Transport
	msgs  chan uiwire.Envelope
}

func setup(t *testing.T, opts ...Option) (*Client, *fakeHost) {
	t.Helper()
	child, host := bus.Pipe(surfaceOrigin, hostOrigin)
	fh := &fakeHost{tr: host, child: child, msgs: make(chan uiwire.Envelope, 32)}
	host.Inbound().Subscribe(func(m bus.Message) {
		if env, err := uiwire.Decode(m.Data); err == nil {
			fh.msgs <- env
		}
	})
	c := New(child, opts...)
	t.Cleanup(func() {
		_ = c.Close()
		_ = child.Close()
		_ = host.Close()
	})
	return c, fh
}

func (h *fakeHost) next(t *testing.T) uiwire.Envelope {
	t.Helper()
	select {
	case env := <-h.msgs:
		return env
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for surface message")
		return uiwire.Envelope{}
	}
}

func (h *fakeHost) post(t *testing.T, raw string) {
	t.Helper()
	if err := h.tr.Post(context.Background(), []byte(raw)); err != nil {
		t.Fatalf("host post: %v", err)
	}
}

func (h *fakeHost) reply(t *testing.T, id, payload string) {
	t.Helper()
	h.post(t, fmt.Sprintf(`{"type":"ui-message-response","messageId":%q,"payload":%s}`, id, payload))
}

// settled waits for a call result delivered on ch.
func settled[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for call to settle")
		var zero T
		return zero
	}
}

type result struct {
	raw string
	err error
}
