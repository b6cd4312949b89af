package bridge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/gaspardpetit/framelink/internal/schema"
	"github.com/gaspardpetit/framelink/internal/uiwire"
)

type deleteResult struct {
	StructuredContent struct {
		Success bool `json:"success"`
	} `json:"structuredContent"`
}

func deleteSchema() *schema.Schema[deleteResult] {
	inner := openapi3.NewObjectSchema().WithProperty("success", openapi3.NewBoolSchema())
	inner.Required = []string{"success"}
	outer := openapi3.NewObjectSchema().WithProperty("structuredContent", inner)
	outer.Required = []string{"structuredContent"}
	return schema.New[deleteResult](outer)
}

func TestSendToolWithSchema(t *testing.T) {
	c, host := setup(t)
	type out struct {
		v   deleteResult
		err error
	}
	done := make(chan out, 1)
	go func() {
		v, err := Send(context.Background(), c, uiwire.Tool("delete_entry", map[string]any{"id": 42}), deleteSchema())
		done <- out{v, err}
	}()

	env := host.next(t)
	if env.Type != uiwire.TypeTool || env.MessageID == "" {
		t.Fatalf("unexpected envelope %+v", env)
	}
	var p uiwire.ToolPayload
	if err := env.DecodePayload(&p); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if p.ToolName != "delete_entry" || p.Params["id"] != float64(42) {
		t.Fatalf("unexpected tool payload %+v", p)
	}
	host.reply(t, env.MessageID, `{"response":{"structuredContent":{"success":true}}}`)

	res := settled(t, done)
	if res.err != nil {
		t.Fatalf("send: %v", res.err)
	}
	if !res.v.StructuredContent.Success {
		t.Fatalf("expected success=true")
	}
	if c.Pending() != 0 {
		t.Fatalf("pending calls left: %d", c.Pending())
	}
}

func TestSendHostError(t *testing.T) {
	c, host := setup(t)
	done := make(chan error, 1)
	go func() {
		_, err := Send(context.Background(), c, uiwire.Tool("delete_entry", map[string]any{"id": 42}), deleteSchema())
		done <- err
	}()
	env := host.next(t)
	host.reply(t, env.MessageID, `{"error":"not found"}`)

	err := settled(t, done)
	var he *HostError
	if !errors.As(err, &he) {
		t.Fatalf("expected HostError got %v", err)
	}
	if he.Text() != "not found" || string(he.Value) != `"not found"` {
		t.Fatalf("host error altered: %q / %s", he.Text(), he.Value)
	}
}

func TestErrorTakesPrecedenceOverResponse(t *testing.T) {
	c, host := setup(t)
	done := make(chan result, 1)
	go func() {
		raw, err := c.CallTool(context.Background(), "get_entry", nil)
		done <- result{string(raw), err}
	}()
	env := host.next(t)
	host.reply(t, env.MessageID, `{"response":{"ok":true},"error":{"code":"E_CONFLICT"}}`)

	res := settled(t, done)
	var he *HostError
	if !errors.As(res.err, &he) {
		t.Fatalf("expected HostError got %v (raw %s)", res.err, res.raw)
	}
	var detail struct {
		Code string `json:"code"`
	}
	if err := he.Decode(&detail); err != nil || detail.Code != "E_CONFLICT" {
		t.Fatalf("structured host error lost: %v %+v", err, detail)
	}
}

func TestSchemaGateRejectsInvalidResponse(t *testing.T) {
	c, host := setup(t)
	type out struct {
		v   deleteResult
		err error
	}
	done := make(chan out, 1)
	go func() {
		v, err := Send(context.Background(), c, uiwire.Tool("delete_entry", nil), deleteSchema())
		done <- out{v, err}
	}()
	env := host.next(t)
	host.reply(t, env.MessageID, `{"response":{"structuredContent":{"success":"yes"}}}`)

	res := settled(t, done)
	var ve *schema.ValidationError
	if !errors.As(res.err, &ve) {
		t.Fatalf("expected ValidationError got %v", res.err)
	}
	if res.v.StructuredContent.Success {
		t.Fatalf("unvalidated value leaked")
	}
}

func TestGeneratedSchemaRejectsMissingFields(t *testing.T) {
	for _, response := range []string{`{}`, `{"structuredContent":{}}`} {
		t.Run(response, func(t *testing.T) {
			c, host := setup(t)
			type out struct {
				v   deleteResult
				err error
			}
			done := make(chan out, 1)
			go func() {
				v, err := Send(context.Background(), c, uiwire.Tool("delete_entry", nil), schema.MustFor[deleteResult]())
				done <- out{v, err}
			}()
			env := host.next(t)
			host.reply(t, env.MessageID, `{"response":`+response+`}`)

			res := settled(t, done)
			var ve *schema.ValidationError
			if !errors.As(res.err, &ve) {
				t.Fatalf("expected ValidationError got %v (value %+v)", res.err, res.v)
			}
		})
	}
}

func TestCallPassesResponseThroughVerbatim(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    string
	}{
		{"null", `{"response":null}`, `null`},
		{"absent", `{}`, `null`},
		{"array", `{"response":[1,"two",{"three":3}]}`, `[1,"two",{"three":3}]`},
		{"nested", `{"response":{"a":{"b":{"c":[true,false]}}}}`, `{"a":{"b":{"c":[true,false]}}}`},
		{"string", `{"response":"done"}`, `"done"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, host := setup(t)
			done := make(chan result, 1)
			go func() {
				raw, err := c.SendPrompt(context.Background(), "summarize")
				done <- result{string(raw), err}
			}()
			env := host.next(t)
			if env.Type != uiwire.TypePrompt {
				t.Fatalf("unexpected type %s", env.Type)
			}
			host.reply(t, env.MessageID, tt.payload)
			res := settled(t, done)
			if res.err != nil {
				t.Fatalf("call: %v", res.err)
			}
			if res.raw != tt.want {
				t.Fatalf("got %s want %s", res.raw, tt.want)
			}
		})
	}
}

func TestNoHostFailsBeforePosting(t *testing.T) {
	c := New(nil)
	defer func() { _ = c.Close() }()
	if _, err := c.OpenLink(context.Background(), "https://example.com"); !errors.Is(err, ErrNoHost) {
		t.Fatalf("expected ErrNoHost got %v", err)
	}
	if _, err := Send[any](context.Background(), c, uiwire.Tool("x", nil), nil); !errors.Is(err, ErrNoHost) {
		t.Fatalf("expected ErrNoHost got %v", err)
	}
	if err := c.Notify(context.Background(), uiwire.TypeReady, nil); !errors.Is(err, ErrNoHost) {
		t.Fatalf("expected ErrNoHost got %v", err)
	}
	if c.Pending() != 0 {
		t.Fatalf("no-host call left pending state")
	}
}

func TestConcurrentCallsSettleIndependently(t *testing.T) {
	c, host := setup(t)
	results := map[string]chan result{"x": make(chan result, 1), "y": make(chan result, 1)}
	for name, ch := range results {
		go func(name string, ch chan result) {
			raw, err := c.CallTool(context.Background(), "lookup", map[string]any{"key": name})
			ch <- result{string(raw), err}
		}(name, ch)
	}

	ids := map[string]string{}
	for i := 0; i < 2; i++ {
		env := host.next(t)
		var p uiwire.ToolPayload
		if err := env.DecodePayload(&p); err != nil {
			t.Fatalf("payload: %v", err)
		}
		ids[p.Params["key"].(string)] = env.MessageID
	}
	if ids["x"] == ids["y"] {
		t.Fatalf("calls share message id %q", ids["x"])
	}

	host.reply(t, ids["y"], `{"response":"for-y"}`)
	if res := settled(t, results["y"]); res.err != nil || res.raw != `"for-y"` {
		t.Fatalf("y settled with %+v", res)
	}
	select {
	case res := <-results["x"]:
		t.Fatalf("x settled by y's reply: %+v", res)
	default:
	}
	host.reply(t, ids["x"], `{"response":"for-x"}`)
	if res := settled(t, results["x"]); res.err != nil || res.raw != `"for-x"` {
		t.Fatalf("x settled with %+v", res)
	}
}

func TestDuplicateReplyHasNoEffect(t *testing.T) {
	c, host := setup(t)
	done := make(chan result, 2)
	go func() {
		raw, err := c.CallTool(context.Background(), "once", nil)
		done <- result{string(raw), err}
	}()
	env := host.next(t)
	host.reply(t, env.MessageID, `{"response":1}`)
	host.reply(t, env.MessageID, `{"error":"late"}`)

	res := settled(t, done)
	if res.err != nil || res.raw != `1` {
		t.Fatalf("unexpected settlement %+v", res)
	}
	// Flush the pipe with a marker so the duplicate has been dispatched.
	host.post(t, `{"type":"marker"}`)
	time.Sleep(20 * time.Millisecond)
	select {
	case extra := <-done:
		t.Fatalf("call settled twice: %+v", extra)
	default:
	}
	if c.Pending() != 0 {
		t.Fatalf("pending calls left: %d", c.Pending())
	}
}

func TestNoiseIsIgnored(t *testing.T) {
	c, host := setup(t)
	done := make(chan result, 1)
	go func() {
		raw, err := c.CallTool(context.Background(), "noisy", nil)
		done <- result{string(raw), err}
	}()
	env := host.next(t)
	host.post(t, `not json`)
	host.post(t, `{"type":"ui-lifecycle-iframe-render-data","payload":{"renderData":1}}`)
	host.post(t, `{"type":"ui-message-response","messageId":"someone-else","payload":{"response":"wrong"}}`)
	host.post(t, `{"type":"tool","messageId":"`+env.MessageID+`","payload":{"response":"wrong type"}}`)
	host.reply(t, env.MessageID, `{"response":"right"}`)

	if res := settled(t, done); res.err != nil || res.raw != `"right"` {
		t.Fatalf("unexpected settlement %+v", res)
	}
}

func TestCancelRemovesPendingCall(t *testing.T) {
	c, host := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.CallTool(ctx, "slow", nil)
		done <- err
	}()
	env := host.next(t)
	cancel()
	if err := settled(t, done); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled got %v", err)
	}
	if c.Pending() != 0 {
		t.Fatalf("cancelled call still pending")
	}
	// A late reply for the cancelled call is just noise.
	host.reply(t, env.MessageID, `{"response":"late"}`)
}

func TestCloseRejectsPendingCalls(t *testing.T) {
	c, host := setup(t)
	done := make(chan error, 1)
	go func() {
		_, err := c.CallTool(context.Background(), "slow", nil)
		done <- err
	}()
	host.next(t)
	before := host.child.Inbound().Len()
	_ = c.Close()
	if err := settled(t, done); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed got %v", err)
	}
	if after := host.child.Inbound().Len(); after != before-1 {
		t.Fatalf("client subscription not removed: %d -> %d", before, after)
	}
	if _, err := c.CallTool(context.Background(), "again", nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after close got %v", err)
	}
}

func TestUntrustedOriginIsDropped(t *testing.T) {
	c, host := setup(t, WithTrustedOrigin("https://elsewhere.test"))
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	done := make(chan error, 1)
	go func() {
		_, err := c.CallTool(ctx, "x", nil)
		done <- err
	}()
	env := host.next(t)
	host.reply(t, env.MessageID, `{"response":true}`)
	if err := settled(t, done); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("reply from untrusted origin accepted: %v", err)
	}
}

func TestTrustedOriginAccepted(t *testing.T) {
	c, host := setup(t, WithTrustedOrigin(hostOrigin))
	done := make(chan result, 1)
	go func() {
		raw, err := c.CallTool(context.Background(), "x", nil)
		done <- result{string(raw), err}
	}()
	env := host.next(t)
	host.reply(t, env.MessageID, `{"response":true}`)
	if res := settled(t, done); res.err != nil || res.raw != "true" {
		t.Fatalf("unexpected settlement %+v", res)
	}
}

func TestMessageIDsAreUnique(t *testing.T) {
	c, host := setup(t)
	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		go func() { _, _ = c.CallTool(context.Background(), "x", nil) }()
	}
	for i := 0; i < 20; i++ {
		env := host.next(t)
		if seen[env.MessageID] {
			t.Fatalf("message id %q reused", env.MessageID)
		}
		seen[env.MessageID] = true
	}
}

func TestDuplicateGeneratedIDRejected(t *testing.T) {
	c, host := setup(t, WithIDGenerator(func() string { return "fixed" }))
	go func() { _, _ = c.CallTool(context.Background(), "first", nil) }()
	host.next(t)
	_, err := c.CallTool(context.Background(), "second", nil)
	if !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("expected ErrDuplicateID got %v", err)
	}
}
