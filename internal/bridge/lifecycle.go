package bridge

import (
	"context"
	"reflect"
	"sync"

	"github.com/gaspardpetit/framelink/internal/uiwire"
)

// Measurer reports the rendered content size of a surface root. ok is false
// while the root cannot be measured yet.
type Measurer interface {
	Measure() (size uiwire.SizePayload, ok bool)
}

// MeasureFunc adapts a function to Measurer.
type MeasureFunc func() (uiwire.SizePayload, bool)

func (f MeasureFunc) Measure() (uiwire.SizePayload, bool) { return f() }

// FixedSize is a Measurer that always reports the same dimensions.
type FixedSize uiwire.SizePayload

func (s FixedSize) Measure() (uiwire.SizePayload, bool) { return uiwire.SizePayload(s), true }

// Announce tells the host the surface is ready and, when root can be
// measured, reports its size. The ready signal is posted even without a
// measurable root so the host can start preparing render data early.
func Announce(ctx context.Context, c *Client, root Measurer) error {
	if err := c.Notify(ctx, uiwire.TypeReady, nil); err != nil {
		return err
	}
	if root == nil {
		return nil
	}
	size, ok := root.Measure()
	if !ok {
		return nil
	}
	return ReportSize(ctx, c, size)
}

// ReportSize posts a size change. Negative dimensions are reported as zero.
func ReportSize(ctx context.Context, c *Client, size uiwire.SizePayload) error {
	if size.Height < 0 {
		size.Height = 0
	}
	if size.Width < 0 {
		size.Width = 0
	}
	return c.Notify(ctx, uiwire.TypeSizeChange, size)
}

// Mount runs Announce once per surface root. Attaching the same root again
// is a no-op; attaching a different root announces again.
type Mount struct {
	c *Client

	mu       sync.Mutex
	root     Measurer
	attached bool
}

// NewMount returns a Mount announcing through c.
func NewMount(c *Client) *Mount { return &Mount{c: c} }

// Attach announces the surface for root unless root is already attached.
// Roots of non-comparable types, such as MeasureFunc, count as a new root on
// every call.
func (m *Mount) Attach(ctx context.Context, root Measurer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.attached && sameRoot(m.root, root) {
		return nil
	}
	if err := Announce(ctx, m.c, root); err != nil {
		return err
	}
	m.root = root
	m.attached = true
	return nil
}

// Detach forgets the current root so the next Attach announces again.
func (m *Mount) Detach() {
	m.mu.Lock()
	m.root = nil
	m.attached = false
	m.mu.Unlock()
}

func sameRoot(a, b Measurer) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.Type() != vb.Type() || !va.Comparable() {
		return false
	}
	return a == b
}
