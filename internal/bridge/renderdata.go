package bridge

import (
	"context"
	"fmt"
	"sync"

	"github.com/gaspardpetit/framelink/internal/bus"
	"github.com/gaspardpetit/framelink/internal/logx"
	"github.com/gaspardpetit/framelink/internal/schema"
	"github.com/gaspardpetit/framelink/internal/uiwire"
)

type renderPush struct {
	payload uiwire.RenderDataPayload
	err     error
}

// WaitForRenderData announces readiness and waits for the host's one-shot
// render data push. The push carries no message id: the first one from a
// trusted origin wins and later pushes are ignored. There is no timeout; the
// wait ends when the push arrives, ctx is done or the client is closed.
func WaitForRenderData[T any](ctx context.Context, c *Client, s *schema.Schema[T]) (T, error) {
	var zero T
	if s == nil {
		return zero, ErrSchemaRequired
	}
	if c.parent == nil {
		logx.Log.Warn().Str("type", string(uiwire.TypeReady)).Msg("no host context; render data unavailable")
		return zero, ErrNoHost
	}

	got := make(chan renderPush, 1)
	var once sync.Once
	sub := c.parent.Inbound().Subscribe(func(m bus.Message) {
		if !c.accepts(m.Origin) {
			return
		}
		env, err := uiwire.Decode(m.Data)
		if err != nil || env.Type != uiwire.TypeRenderData {
			return
		}
		var r renderPush
		if err := env.DecodePayload(&r.payload); err != nil {
			r = renderPush{err: fmt.Errorf("decode %s payload: %w", env.Type, err)}
		}
		once.Do(func() { got <- r })
	})
	defer sub.Unsubscribe()

	if err := c.Notify(ctx, uiwire.TypeReady, nil); err != nil {
		return zero, err
	}

	select {
	case r := <-got:
		sub.Unsubscribe()
		if r.err != nil {
			return zero, r.err
		}
		p := r.payload
		if p.HasError() {
			return zero, &HostError{Value: p.Error}
		}
		return s.Parse(p.RenderData)
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-c.closed:
		return zero, ErrClosed
	}
}
