package xrelay

import (
	"time"
)

// Metrics defines observable telemetry for a relay.
type Metrics struct {
	Emitted       uint64 // local Emit calls
	Received      uint64 // inbound payloads that passed validation
	Dropped       uint64 // inbound messages rejected as malformed
	Sent          uint64 // successful channel sends
	SendErrors    uint64
	Subordinates  int
	AvgSendTimeMs float64

	ObserverDropped uint64 // events the async observer pool could not queue
}

// HealthStatus reports relay health.
type HealthStatus struct {
	Status    string // "healthy", "degraded", "unhealthy"
	Metrics   Metrics
	Timestamp time.Time
	Message   string
}
