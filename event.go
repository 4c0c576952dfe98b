package xrelay

import (
	"time"
)

// EventType enumerates relay lifecycle events for the Observer pattern.
type EventType string

const (
	EventEmit     EventType = "emit"
	EventReceived EventType = "received"
	EventDropped  EventType = "dropped"
	EventFanout   EventType = "fanout"
	EventEchoUp   EventType = "echo_up"
	EventEchoDown EventType = "echo_down"
	EventAttached EventType = "attached"
	EventDetached EventType = "detached"
	EventRejected EventType = "rejected"
	EventError    EventType = "error"
)

// Event carries telemetry for observers.
type Event struct {
	Type       EventType
	Relay      ProcessID
	Peer       ProcessID // channel the event concerns, if any
	Origin     ProcessID // payload origin, if any
	EventName  string
	Recipients int
	Duration   time.Duration
	Err        error
}
