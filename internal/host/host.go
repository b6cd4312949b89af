// Package host is the embedding side of the framelink protocol. A Host
// listens on the transport a surface posts to, performs the requested
// actions and answers each correlated request with a response carrying the
// same message id.
package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gaspardpetit/framelink/internal/bus"
	"github.com/gaspardpetit/framelink/internal/logx"
	"github.com/gaspardpetit/framelink/internal/metrics"
	"github.com/gaspardpetit/framelink/internal/uiwire"
)

var (
	// ErrUnsupported is replied for correlated requests the host cannot serve.
	ErrUnsupported = errors.New("unsupported message type")
	// ErrLinkScheme is replied for link requests that are not http or https.
	ErrLinkScheme = errors.New("only http and https links can be opened")
)

// ToolInvoker runs backend tools on behalf of a surface.
type ToolInvoker interface {
	CallTool(ctx context.Context, name string, params map[string]any) (json.RawMessage, error)
}

// LinkOpener navigates to external URLs.
type LinkOpener interface {
	OpenLink(ctx context.Context, url string) error
}

// PromptHandler forwards prompts to the agent driving the conversation.
type PromptHandler interface {
	HandlePrompt(ctx context.Context, text string) (json.RawMessage, error)
}

// RenderDataSource produces the data pushed to a surface once it is ready.
type RenderDataSource interface {
	RenderData(ctx context.Context) (json.RawMessage, error)
}

// Config wires a Host to its collaborators. Nil collaborators make the
// corresponding requests fail with ErrUnsupported.
type Config struct {
	Tools      ToolInvoker
	Links      LinkOpener
	Prompts    PromptHandler
	RenderData RenderDataSource
	// TrustedOrigin restricts accepted messages to one surface origin.
	// Empty or bus.AnyOrigin accepts every origin.
	TrustedOrigin string
	// Timeout bounds each request. Zero means no limit.
	Timeout time.Duration
}

// Host serves one surface over a transport.
type Host struct {
	tr  bus.Transport
	cfg Config
	sub *bus.Subscription

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	readyOnce sync.Once

	mu      sync.Mutex
	size    uiwire.SizePayload
	hasSize bool
	closing bool

	closeOnce sync.Once
}

// New starts serving the surface on the other side of tr.
func New(tr bus.Transport, cfg Config) *Host {
	if cfg.TrustedOrigin == "" {
		cfg.TrustedOrigin = bus.AnyOrigin
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &Host{tr: tr, cfg: cfg, ctx: ctx, cancel: cancel}
	h.sub = tr.Inbound().Subscribe(h.onMessage)
	return h
}

// Size returns the last size reported by the surface.
func (h *Host) Size() (uiwire.SizePayload, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.size, h.hasSize
}

// Close stops accepting messages, cancels in-flight requests and waits for
// them to finish. The transport is left open.
func (h *Host) Close() error {
	h.closeOnce.Do(func() {
		h.sub.Unsubscribe()
		h.mu.Lock()
		h.closing = true
		h.mu.Unlock()
		h.cancel()
		h.wg.Wait()
	})
	return nil
}

func (h *Host) onMessage(m bus.Message) {
	if h.cfg.TrustedOrigin != bus.AnyOrigin && m.Origin != h.cfg.TrustedOrigin {
		return
	}
	env, err := uiwire.Decode(m.Data)
	if err != nil {
		return
	}
	switch env.Type {
	case uiwire.TypeReady:
		h.onReady()
	case uiwire.TypeSizeChange:
		var sz uiwire.SizePayload
		if err := env.DecodePayload(&sz); err != nil {
			logx.Log.Debug().Err(err).Msg("malformed size report")
			return
		}
		h.mu.Lock()
		h.size, h.hasSize = sz, true
		h.mu.Unlock()
		logx.Log.Debug().Int("height", sz.Height).Int("width", sz.Width).Msg("surface resized")
	case uiwire.TypeResponse, uiwire.TypeRenderData:
		// host-bound traffic only
	default:
		if env.MessageID == "" {
			return
		}
		h.spawn(func(ctx context.Context) { h.dispatch(ctx, env) })
	}
}

// spawn runs fn off the transport's delivery goroutine.
func (h *Host) spawn(fn func(context.Context)) {
	h.mu.Lock()
	if h.closing {
		h.mu.Unlock()
		return
	}
	h.wg.Add(1)
	h.mu.Unlock()
	go func() {
		defer h.wg.Done()
		ctx := h.ctx
		if h.cfg.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, h.cfg.Timeout)
			defer cancel()
		}
		fn(ctx)
	}()
}

func (h *Host) onReady() {
	if h.cfg.RenderData == nil {
		return
	}
	h.readyOnce.Do(func() {
		h.spawn(h.pushRenderData)
	})
}

func (h *Host) pushRenderData(ctx context.Context) {
	var p uiwire.RenderDataPayload
	data, err := h.cfg.RenderData.RenderData(ctx)
	if err != nil {
		logx.Log.Warn().Err(err).Msg("render data unavailable")
		p.Error = errorValue(err)
	} else {
		p.RenderData = data
	}
	msg, err := uiwire.Encode(uiwire.TypeRenderData, "", p)
	if err != nil {
		logx.Log.Error().Err(err).Msg("encode render data")
		return
	}
	if err := h.tr.Post(ctx, msg); err != nil {
		logx.Log.Warn().Err(err).Msg("push render data")
	}
}

func (h *Host) dispatch(ctx context.Context, env uiwire.Envelope) {
	resp, err := h.handle(ctx, env)
	outcome := metrics.OutcomeSuccess
	var p uiwire.ResponsePayload
	if err != nil {
		outcome = metrics.OutcomeHostError
		p.Error = errorValue(err)
		logx.Log.Debug().Str("type", string(env.Type)).Str("message_id", env.MessageID).Err(err).Msg("request failed")
	} else {
		p.Response = resp
	}
	metrics.RecordDispatch(string(env.Type), outcome)
	msg, err := uiwire.Encode(uiwire.TypeResponse, env.MessageID, p)
	if err != nil {
		logx.Log.Error().Err(err).Str("message_id", env.MessageID).Msg("encode response")
		return
	}
	// The reply still goes out if the request context expired.
	if err := h.tr.Post(context.WithoutCancel(ctx), msg); err != nil {
		logx.Log.Warn().Err(err).Str("message_id", env.MessageID).Msg("post response")
	}
}

func (h *Host) handle(ctx context.Context, env uiwire.Envelope) (json.RawMessage, error) {
	switch env.Type {
	case uiwire.TypeTool:
		var p uiwire.ToolPayload
		if err := env.DecodePayload(&p); err != nil {
			return nil, fmt.Errorf("malformed tool request: %w", err)
		}
		if h.cfg.Tools == nil {
			return nil, ErrUnsupported
		}
		if p.ToolName == "" {
			return nil, errors.New("tool name required")
		}
		return h.cfg.Tools.CallTool(ctx, p.ToolName, p.Params)
	case uiwire.TypeLink:
		var p uiwire.LinkPayload
		if err := env.DecodePayload(&p); err != nil {
			return nil, fmt.Errorf("malformed link request: %w", err)
		}
		if h.cfg.Links == nil {
			return nil, ErrUnsupported
		}
		if err := checkLink(p.URL); err != nil {
			return nil, err
		}
		if err := h.cfg.Links.OpenLink(ctx, p.URL); err != nil {
			return nil, err
		}
		return json.RawMessage(`{"opened":true}`), nil
	case uiwire.TypePrompt:
		var p uiwire.PromptPayload
		if err := env.DecodePayload(&p); err != nil {
			return nil, fmt.Errorf("malformed prompt request: %w", err)
		}
		if h.cfg.Prompts == nil {
			return nil, ErrUnsupported
		}
		return h.cfg.Prompts.HandlePrompt(ctx, p.Prompt)
	default:
		return nil, ErrUnsupported
	}
}

func checkLink(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid link: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return nil
	}
	return ErrLinkScheme
}

// errorValue renders err as the JSON string the surface receives.
func errorValue(err error) json.RawMessage {
	b, _ := json.Marshal(err.Error())
	return b
}
