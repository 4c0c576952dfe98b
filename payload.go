package xrelay

import (
	"fmt"
)

// Payload is the unit exchanged on every channel.
type Payload struct {
	// OriginID is the process where the event was first emitted. Empty when
	// the event originated at a coordinator without an upstream channel.
	OriginID ProcessID `json:"originId,omitempty" cbor:"originId,omitempty"`
	// Event is the event name.
	Event string `json:"event" cbor:"event"`
	// Args holds wire-safe values, already marshalled.
	Args []any `json:"args" cbor:"args"`
}

// wirePayload accepts any shape so that DecodePayload can tell a missing
// field from a mistyped one.
type wirePayload struct {
	OriginID any `json:"originId" cbor:"originId"`
	Event    any `json:"event" cbor:"event"`
	Args     any `json:"args" cbor:"args"`
}

// DecodePayload parses and validates a raw wire message. It fails when the
// message is not a record or carries no event name; a missing or non-sequence
// args field is normalized to an empty slice.
func DecodePayload(c Codec, raw []byte) (*Payload, error) {
	var w wirePayload
	if err := c.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	event, ok := w.Event.(string)
	if !ok || event == "" {
		return nil, fmt.Errorf("%w: missing event", ErrInvalidPayload)
	}

	p := &Payload{Event: event}
	if origin, ok := w.OriginID.(string); ok {
		p.OriginID = ProcessID(origin)
	}
	if args, ok := w.Args.([]any); ok {
		p.Args = args
	}
	p.normalize()
	return p, nil
}

// EncodePayload serializes p with the given codec.
func EncodePayload(c Codec, p *Payload) ([]byte, error) {
	p.normalize()
	return c.Marshal(p)
}

func (p *Payload) normalize() {
	if p.Args == nil {
		p.Args = []any{}
	}
}

// withOrigin returns a shallow copy of p stamped with origin.
func (p *Payload) withOrigin(origin ProcessID) *Payload {
	cp := *p
	cp.OriginID = origin
	return &cp
}
