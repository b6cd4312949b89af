package bridge

import (
	"errors"
	"sync"

	"github.com/gaspardpetit/framelink/internal/uiwire"
)

// ErrDuplicateID is returned when a message id is registered twice.
var ErrDuplicateID = errors.New("duplicate message id")

// Outcome settles a pending call: either the host's reply payload or a local
// error such as ErrClosed.
type Outcome struct {
	Payload uiwire.ResponsePayload
	Err     error
}

// Registry maps outstanding message ids to their pending calls. Each call is
// settled at most once; settling removes it from the registry.
type Registry struct {
	mu      sync.Mutex
	pending map[string]chan Outcome
	err     error
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{pending: map[string]chan Outcome{}}
}

// Register creates pending state for id. The returned channel receives exactly
// one Outcome unless the call is cancelled first.
func (r *Registry) Register(id string) (<-chan Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	if _, ok := r.pending[id]; ok {
		return nil, ErrDuplicateID
	}
	ch := make(chan Outcome, 1)
	r.pending[id] = ch
	return ch, nil
}

// Deliver settles the call registered under id. It reports false when no such
// call is pending, which covers unknown ids and replies that arrive after the
// call already settled.
func (r *Registry) Deliver(id string, o Outcome) bool {
	r.mu.Lock()
	ch, ok := r.pending[id]
	delete(r.pending, id)
	r.mu.Unlock()
	if !ok {
		return false
	}
	ch <- o
	return true
}

// Cancel drops the pending call without settling it.
func (r *Registry) Cancel(id string) {
	r.mu.Lock()
	delete(r.pending, id)
	r.mu.Unlock()
}

// Close settles every pending call with err and rejects later registrations.
func (r *Registry) Close(err error) {
	r.mu.Lock()
	if r.err != nil {
		r.mu.Unlock()
		return
	}
	r.err = err
	pending := r.pending
	r.pending = map[string]chan Outcome{}
	r.mu.Unlock()
	for _, ch := range pending {
		ch <- Outcome{Err: err}
	}
}

// Len returns the number of pending calls.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
