package uiwire

import (
	"bytes"
	"encoding/json"
)

// Request is a payload sent through a correlated call.
type Request interface {
	MessageType() MessageType
}

// ToolPayload asks the host to invoke a backend tool.
type ToolPayload struct {
	ToolName string         `json:"toolName"`
	Params   map[string]any `json:"params"`
}

func (ToolPayload) MessageType() MessageType { return TypeTool }

// LinkPayload asks the host to navigate to an external URL.
type LinkPayload struct {
	URL string `json:"url"`
}

func (LinkPayload) MessageType() MessageType { return TypeLink }

// PromptPayload submits a prompt to the agent behind the host.
type PromptPayload struct {
	Prompt string `json:"prompt"`
}

func (PromptPayload) MessageType() MessageType { return TypePrompt }

// Tool returns a tool request. Nil params are sent as an empty object.
func Tool(name string, params map[string]any) ToolPayload {
	if params == nil {
		params = map[string]any{}
	}
	return ToolPayload{ToolName: name, Params: params}
}

// Link returns a link request.
func Link(url string) LinkPayload { return LinkPayload{URL: url} }

// Prompt returns a prompt request.
func Prompt(text string) PromptPayload { return PromptPayload{Prompt: text} }

// SizePayload reports the rendered dimensions of the surface root.
type SizePayload struct {
	Height int `json:"height"`
	Width  int `json:"width"`
}

// ResponsePayload is the body of a ui-message-response. Members are kept raw
// so that an absent member and an explicit null stay distinguishable.
type ResponsePayload struct {
	Response json.RawMessage `json:"response,omitempty"`
	Error    json.RawMessage `json:"error,omitempty"`
}

// HasError reports whether the host placed an error in the reply.
func (p ResponsePayload) HasError() bool { return present(p.Error) }

// RenderDataPayload is the body of the one-shot render data push.
type RenderDataPayload struct {
	RenderData json.RawMessage `json:"renderData,omitempty"`
	Error      json.RawMessage `json:"error,omitempty"`
}

// HasError reports whether the host placed an error in the push.
func (p RenderDataPayload) HasError() bool { return present(p.Error) }

// present treats a missing member and an explicit null as absent, like an
// undefined/null check on the receiving side of postMessage.
func present(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) > 0 && !bytes.Equal(t, []byte("null"))
}
