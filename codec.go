package xrelay

import (
	"encoding/json"
	"errors"
	"reflect"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// JSONCodec is the default wire codec.
type JSONCodec struct{}

func (JSONCodec) Marshal(v any) ([]byte, error)   { return json.Marshal(v) }
func (JSONCodec) Unmarshal(b []byte, v any) error { return json.Unmarshal(b, v) }
func (JSONCodec) Name() string                    { return "json" }

// CBORCodec encodes payloads as CBOR. Decoded maps are map[string]any so that
// envelopes look the same as they do under JSON.
type CBORCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

// NewCBORCodec builds a CBORCodec with deterministic encoding.
func NewCBORCodec() (*CBORCodec, error) {
	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, err
	}
	dec, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		return nil, err
	}
	return &CBORCodec{enc: enc, dec: dec}, nil
}

func (c *CBORCodec) Marshal(v any) ([]byte, error)   { return c.enc.Marshal(v) }
func (c *CBORCodec) Unmarshal(b []byte, v any) error { return c.dec.Unmarshal(b, v) }
func (c *CBORCodec) Name() string                    { return "cbor" }

// CodecFactory constructs codecs via Factory pattern.
type CodecFactory func() (Codec, error)

var (
	codecRegistryMu sync.RWMutex
	codecRegistry   = map[string]CodecFactory{
		"json": func() (Codec, error) { return JSONCodec{}, nil },
		"cbor": func() (Codec, error) { return NewCBORCodec() },
	}
)

// RegisterCodec registers a wire codec factory by name.
func RegisterCodec(name string, factory CodecFactory) error {
	if name == "" {
		return errors.New("codec name must not be empty")
	}
	if factory == nil {
		return errors.New("codec factory must not be nil")
	}
	codecRegistryMu.Lock()
	codecRegistry[name] = factory
	codecRegistryMu.Unlock()
	return nil
}

// NewCodec constructs a wire codec by name.
func NewCodec(name string) (Codec, error) {
	codecRegistryMu.RLock()
	f, ok := codecRegistry[name]
	codecRegistryMu.RUnlock()
	if !ok {
		return nil, ErrUnknownCodec{name: name}
	}
	return f()
}
