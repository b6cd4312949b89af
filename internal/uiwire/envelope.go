// Package uiwire defines the envelopes exchanged between an embedded UI
// surface and the host frame that brokers its backend access.
package uiwire

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType discriminates envelopes on the wire.
type MessageType string

const (
	TypeTool   MessageType = "tool"
	TypeLink   MessageType = "link"
	TypePrompt MessageType = "prompt"

	TypeReady      MessageType = "ui-lifecycle-iframe-ready"
	TypeSizeChange MessageType = "ui-size-change"

	TypeResponse   MessageType = "ui-message-response"
	TypeRenderData MessageType = "ui-lifecycle-iframe-render-data"
)

// IsCorrelated reports whether messages of type t expect a reply carrying
// the same messageId.
func IsCorrelated(t MessageType) bool {
	switch t {
	case TypeTool, TypeLink, TypePrompt:
		return true
	}
	return false
}

// Envelope is the unit every message travels in.
type Envelope struct {
	Type      MessageType     `json:"type"`
	MessageID string          `json:"messageId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// ErrNotEnvelope is returned by Decode for data that is not an envelope.
var ErrNotEnvelope = errors.New("not an envelope")

// Encode builds an envelope around payload and serializes it. A nil payload
// produces an envelope without a payload member.
func Encode(t MessageType, id string, payload any) ([]byte, error) {
	env := Envelope{Type: t, MessageID: id}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", t, err)
		}
		env.Payload = b
	}
	return json.Marshal(env)
}

// Decode parses data as an envelope. Anything that is not a JSON object with
// a string type yields ErrNotEnvelope.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrNotEnvelope, err)
	}
	if env.Type == "" {
		return Envelope{}, ErrNotEnvelope
	}
	return env, nil
}

// DecodePayload unmarshals the envelope payload into v. A missing payload
// leaves v untouched.
func (e Envelope) DecodePayload(v any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(e.Payload, v)
}
