package bridge

import (
	"encoding/json"
	"errors"
)

var (
	// ErrNoHost is returned when a surface has no embedding host to talk to.
	// Nothing is posted in that case.
	ErrNoHost = errors.New("no host context")
	// ErrClosed is returned for calls made on, or pending in, a closed client.
	ErrClosed = errors.New("bridge client closed")
	// ErrSchemaRequired is returned when render data is awaited without a schema.
	ErrSchemaRequired = errors.New("render data schema required")
)

// HostError carries the error value the host placed in a reply. The value is
// passed through exactly as received.
type HostError struct {
	Value json.RawMessage
}

func (e *HostError) Error() string {
	return "host error: " + e.Text()
}

// Text returns the error value as text: JSON strings are unquoted, any other
// value is returned as raw JSON.
func (e *HostError) Text() string {
	var s string
	if json.Unmarshal(e.Value, &s) == nil {
		return s
	}
	return string(e.Value)
}

// Decode unmarshals the raw host error value into v.
func (e *HostError) Decode(v any) error {
	return json.Unmarshal(e.Value, v)
}
