package redischan

import (
	"fmt"
	"time"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
	"github.com/trickstertwo/xrelay"
)

// Coordinator builds a coordinator for cl's process with a link to each
// child and, when parent is non-empty, an upstream link to parent.
func Coordinator(cl *Client, parent xrelay.ProcessID, children []xrelay.ProcessID, opts ...Option) (*xrelay.Coordinator, error) {
	bb := xrelay.NewBuilder().WithID(cl.Self())
	if parent != "" {
		bb.WithUpstream(cl.Link(parent))
	}
	for _, child := range children {
		bb.WithSubordinates(cl.Link(child))
	}
	for _, o := range opts {
		if o != nil {
			o(bb)
		}
	}
	c, err := bb.BuildCoordinator()
	if err != nil {
		return nil, fmt.Errorf("redischan.Coordinator: %w", err)
	}
	return c, nil
}

// Leaf builds a leaf for cl's process with an upstream link to parent.
func Leaf(cl *Client, parent xrelay.ProcessID, opts ...Option) (*xrelay.Leaf, error) {
	if parent == "" {
		return nil, xrelay.ErrNoUpstream
	}
	bb := xrelay.NewBuilder().
		WithID(cl.Self()).
		WithUpstream(cl.Link(parent))
	for _, o := range opts {
		if o != nil {
			o(bb)
		}
	}
	l, err := bb.BuildLeaf()
	if err != nil {
		return nil, fmt.Errorf("redischan.Leaf: %w", err)
	}
	return l, nil
}

// LinkConfig returns the channel factory config for self's link to peer.
func LinkConfig(cfg Config, self, peer xrelay.ProcessID) map[string]any {
	m := cfg.toMap()
	m["self"] = string(self)
	m["peer"] = string(peer)
	return m
}

// Option configures the relay construction.
type Option func(*xrelay.Builder)

// WithLogger injects a custom xlog logger.
func WithLogger(l *xlog.Logger) Option {
	return func(b *xrelay.Builder) { b.WithLogger(l) }
}

// WithClock injects a custom xclock clock.
func WithClock(c xclock.Clock) Option {
	return func(b *xrelay.Builder) { b.WithClock(c) }
}

// WithCodec selects a wire codec by name (default: json).
func WithCodec(name string) Option {
	return func(b *xrelay.Builder) { b.WithCodec(name) }
}

// WithSendTimeout bounds each publish.
func WithSendTimeout(d time.Duration) Option {
	return func(b *xrelay.Builder) { b.WithSendTimeout(d) }
}

// WithObserver attaches observers for relay events.
func WithObserver(obs ...xrelay.Observer) Option {
	return func(b *xrelay.Builder) { b.WithObserver(obs...) }
}

// WithEchoUp enables upward echo.
func WithEchoUp() Option {
	return func(b *xrelay.Builder) { b.WithEchoUp() }
}

// WithEchoDown enables downward echo.
func WithEchoDown() Option {
	return func(b *xrelay.Builder) { b.WithEchoDown() }
}

// WithJoin makes the coordinator a member of its parent's tree: it hears the
// parent's events and sends its own upward.
func WithJoin() Option {
	return func(b *xrelay.Builder) { b.WithJoin() }
}
