// Package xrelay relays events across a tree of processes so that an event
// emitted anywhere is observed once by every local listener in every process.
//
// A Coordinator fans events out to attached subordinate Channels and may echo
// them to its own upstream Channel. A Leaf sends its events upstream and
// replays what it receives to local listeners. Values the wire format cannot
// carry (errors) are converted by a per-relay Marshaller.
package xrelay

import (
	"context"
)

// ProcessID identifies a process in the relay tree.
type ProcessID string

// Channel is the Strategy interface for a link to one neighbouring process.
type Channel interface {
	// ID identifies the process at the far end of the channel.
	ID() ProcessID
	// Send delivers one encoded payload. It must not block on the peer's handlers.
	Send(ctx context.Context, msg []byte) error
	// Subscribe binds a handler to inbound messages. Closing the returned
	// Subscription unbinds only that handler.
	Subscribe(handler func(msg []byte)) (Subscription, error)
}

// Subscription represents an active inbound binding that can be closed.
type Subscription interface {
	Close() error
}

// Codec is the Strategy for encoding payloads on the wire.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
}

// TypeCodec converts one kind of value the wire cannot represent natively.
type TypeCodec interface {
	Recognizes(v any) bool
	Encode(v any) any
	Decode(data any) any
}

// Observer receives relay lifecycle events. Implementations should be non-blocking.
type Observer interface {
	OnEvent(e Event)
}

// HealthChecker provides health status for production monitoring.
type HealthChecker interface {
	Health(ctx context.Context) HealthStatus
}

// Relay is the surface shared by the coordinator and leaf roles.
type Relay interface {
	ID() ProcessID
	Emit(ctx context.Context, event string, args ...any) error
	On(event string, l Listener) ListenerID
	Once(event string, l Listener) ListenerID
	OnAny(l AnyListener) ListenerID
	Off(id ListenerID) bool
	Close(ctx context.Context) error
	GetMetrics() Metrics
	Health(ctx context.Context) HealthStatus
	AddObserver(obs Observer)
	RemoveObserver(obs Observer)
}

var (
	_ Relay = (*Coordinator)(nil)
	_ Relay = (*Leaf)(nil)
)
