package xrelay

import (
	"errors"
	"sync"
)

// Envelope wraps a value encoded by a TypeCodec.
type Envelope struct {
	Type string `json:"type" cbor:"type"`
	Data any    `json:"data" cbor:"data"`
}

type typeEntry struct {
	tag   string
	codec TypeCodec
}

// Marshaller is an ordered registry of TypeCodecs. The first codec that
// recognizes a value encodes it; values no codec recognizes pass through.
type Marshaller struct {
	mu      sync.RWMutex
	entries []typeEntry
}

// NewMarshaller returns a Marshaller with the error codec registered.
func NewMarshaller() *Marshaller {
	m := &Marshaller{}
	_ = m.Register(ErrorTag, ErrorCodec{})
	return m
}

// NewEmptyMarshaller returns a Marshaller with no codecs.
func NewEmptyMarshaller() *Marshaller {
	return &Marshaller{}
}

// Register adds a codec under tag. Re-registering a tag replaces the codec
// and keeps its position.
func (m *Marshaller) Register(tag string, c TypeCodec) error {
	if tag == "" {
		return errors.New("type tag must not be empty")
	}
	if c == nil {
		return errors.New("type codec must not be nil")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.entries {
		if m.entries[i].tag == tag {
			m.entries[i].codec = c
			return nil
		}
	}
	m.entries = append(m.entries, typeEntry{tag: tag, codec: c})
	return nil
}

// Tags lists registered tags in match order.
func (m *Marshaller) Tags() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tags := make([]string, len(m.entries))
	for i, e := range m.entries {
		tags[i] = e.tag
	}
	return tags
}

// Marshal returns a new slice with recognized values replaced by envelopes.
func (m *Marshaller) Marshal(values []any) []any {
	m.mu.RLock()
	entries := append([]typeEntry(nil), m.entries...)
	m.mu.RUnlock()

	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
		for _, e := range entries {
			if e.codec.Recognizes(v) {
				out[i] = Envelope{Type: e.tag, Data: e.codec.Encode(v)}
				break
			}
		}
	}
	return out
}

// Unmarshal returns a new slice with envelopes of registered tags decoded.
// Envelopes naming an unknown tag are left as they are.
func (m *Marshaller) Unmarshal(values []any) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
		env, ok := asEnvelope(v)
		if !ok {
			continue
		}
		if c, ok := m.lookup(env.Type); ok {
			out[i] = c.Decode(env.Data)
		}
	}
	return out
}

func (m *Marshaller) lookup(tag string) (TypeCodec, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.entries {
		if e.tag == tag {
			return e.codec, true
		}
	}
	return nil, false
}

// asEnvelope reports whether v is an envelope: an Envelope value or a
// decoded record holding exactly a string "type" and a "data" field.
func asEnvelope(v any) (Envelope, bool) {
	switch t := v.(type) {
	case Envelope:
		return t, true
	case *Envelope:
		if t == nil {
			return Envelope{}, false
		}
		return *t, true
	case map[string]any:
		if len(t) != 2 {
			return Envelope{}, false
		}
		tag, ok := t["type"].(string)
		if !ok {
			return Envelope{}, false
		}
		data, ok := t["data"]
		if !ok {
			return Envelope{}, false
		}
		return Envelope{Type: tag, Data: data}, true
	}
	return Envelope{}, false
}
