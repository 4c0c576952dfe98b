package memory

import (
	"time"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
	"github.com/trickstertwo/xrelay"
)

// Spawn builds a leaf process under parent, linked by a fresh pipe, and
// attaches the pipe to parent. It stands in for forking a child process.
//
// Example:
//
//	root, _ := xrelay.NewCoordinator(func(b *xrelay.Builder) { b.WithID("root") })
//	worker, _ := memory.Spawn(root, memory.Config{Synchronous: true}, "worker-1",
//	    memory.WithLogger(logger),
//	)
//	worker.On("tick", func(args ...any) { ... })
func Spawn(parent *xrelay.Coordinator, cfg Config, id xrelay.ProcessID, opts ...Option) (*xrelay.Leaf, error) {
	down, up := Pipe(cfg, parent.ID(), id)

	bb := xrelay.NewBuilder().WithID(id).WithUpstream(up)
	for _, o := range opts {
		if o != nil {
			o(bb)
		}
	}
	leaf, err := bb.BuildLeaf()
	if err != nil {
		return nil, err
	}
	parent.Attach(down)
	return leaf, nil
}

// SpawnCoordinator is Spawn for an intermediate coordinator, which can take
// subordinates of its own. Echo settings come from opts.
func SpawnCoordinator(parent *xrelay.Coordinator, cfg Config, id xrelay.ProcessID, opts ...Option) (*xrelay.Coordinator, error) {
	down, up := Pipe(cfg, parent.ID(), id)

	bb := xrelay.NewBuilder().WithID(id).WithUpstream(up)
	for _, o := range opts {
		if o != nil {
			o(bb)
		}
	}
	c, err := bb.BuildCoordinator()
	if err != nil {
		return nil, err
	}
	parent.Attach(down)
	return c, nil
}

// toMap converts Config to the generic map expected by the channel factory.
func (c Config) toMap() map[string]any {
	return map[string]any{
		"buffer_size": c.BufferSize,
		"synchronous": c.Synchronous,
	}
}

// LinkConfig returns the factory config for self's end of a link to peer.
func LinkConfig(cfg Config, self, peer xrelay.ProcessID) map[string]any {
	m := cfg.toMap()
	m["self"] = string(self)
	m["peer"] = string(peer)
	return m
}

// Option configures the relay built by Spawn.
type Option func(*xrelay.Builder)

// WithLogger injects a custom xlog logger.
func WithLogger(l *xlog.Logger) Option {
	return func(b *xrelay.Builder) { b.WithLogger(l) }
}

// WithClock injects a custom xclock clock.
func WithClock(c xclock.Clock) Option {
	return func(b *xrelay.Builder) { b.WithClock(c) }
}

// WithCodec selects a wire codec by name (default: "json").
func WithCodec(name string) Option {
	return func(b *xrelay.Builder) { b.WithCodec(name) }
}

// WithTypeCodec registers an extra type codec.
func WithTypeCodec(tag string, c xrelay.TypeCodec) Option {
	return func(b *xrelay.Builder) { b.WithTypeCodec(tag, c) }
}

// WithSendTimeout bounds each send (default: 5s).
func WithSendTimeout(d time.Duration) Option {
	return func(b *xrelay.Builder) { b.WithSendTimeout(d) }
}

// WithObserver attaches observers for relay events.
func WithObserver(obs ...xrelay.Observer) Option {
	return func(b *xrelay.Builder) { b.WithObserver(obs...) }
}

// WithEchoUp enables upward echo on a spawned coordinator.
func WithEchoUp() Option {
	return func(b *xrelay.Builder) { b.WithEchoUp() }
}

// WithEchoDown enables downward echo on a spawned coordinator.
func WithEchoDown() Option {
	return func(b *xrelay.Builder) { b.WithEchoDown() }
}

// WithJoin makes the coordinator a member of its parent's tree: it hears the
// parent's events and sends its own upward.
func WithJoin() Option {
	return func(b *xrelay.Builder) { b.WithJoin() }
}
