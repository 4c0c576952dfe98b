package xrelay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodePayload(t *testing.T) {
	p, err := DecodePayload(JSONCodec{}, []byte(`{"originId":"w1","event":"click","args":[1,"x",null]}`))
	require.NoError(t, err)
	assert.Equal(t, ProcessID("w1"), p.OriginID)
	assert.Equal(t, "click", p.Event)
	assert.Equal(t, []any{float64(1), "x", nil}, p.Args)
}

func TestDecodePayload_ArgsDefaulted(t *testing.T) {
	tests := map[string]string{
		"absent": `{"event":"e"}`,
		"null":   `{"event":"e","args":null}`,
		"string": `{"event":"e","args":"nope"}`,
		"record": `{"event":"e","args":{"0":1}}`,
		"number": `{"event":"e","args":7}`,
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			p, err := DecodePayload(JSONCodec{}, []byte(raw))
			require.NoError(t, err)
			require.NotNil(t, p.Args)
			assert.Empty(t, p.Args)
		})
	}
}

func TestDecodePayload_Invalid(t *testing.T) {
	tests := map[string]string{
		"garbage":       `{{`,
		"sequence":      `[1,2]`,
		"scalar":        `"click"`,
		"null":          `null`,
		"missing event": `{"args":[]}`,
		"empty event":   `{"event":""}`,
		"numeric event": `{"event":5}`,
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := DecodePayload(JSONCodec{}, []byte(raw))
			assert.ErrorIs(t, err, ErrInvalidPayload)
		})
	}
}

func TestDecodePayload_NonStringOriginIgnored(t *testing.T) {
	p, err := DecodePayload(JSONCodec{}, []byte(`{"originId":42,"event":"e"}`))
	require.NoError(t, err)
	assert.Empty(t, p.OriginID)
}

func TestDecodePayload_RevalidationIsNoop(t *testing.T) {
	codecs := []Codec{JSONCodec{}, mustCBOR(t)}
	inputs := []*Payload{
		{Event: "click", Args: []any{"a", true}},
		{OriginID: "w1", Event: "tick"},
		{OriginID: "w1", Event: "fail", Args: []any{map[string]any{"type": "error", "data": map[string]any{"message": "m"}}}},
	}
	for _, c := range codecs {
		for _, in := range inputs {
			raw, err := EncodePayload(c, in)
			require.NoError(t, err)
			once, err := DecodePayload(c, raw)
			require.NoError(t, err)

			raw2, err := EncodePayload(c, once)
			require.NoError(t, err)
			twice, err := DecodePayload(c, raw2)
			require.NoError(t, err)

			assert.Equal(t, once, twice, "codec %s", c.Name())
		}
	}
}

func TestEncodePayload_OmitsEmptyOrigin(t *testing.T) {
	raw, err := EncodePayload(JSONCodec{}, &Payload{Event: "click"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"click","args":[]}`, string(raw))
}

func TestPayload_WithOriginCopies(t *testing.T) {
	p := &Payload{OriginID: "w1", Event: "tick", Args: []any{}}
	cp := p.withOrigin("mid")
	assert.Equal(t, ProcessID("mid"), cp.OriginID)
	assert.Equal(t, ProcessID("w1"), p.OriginID)
	assert.Equal(t, p.Event, cp.Event)
}

func mustCBOR(t *testing.T) Codec {
	t.Helper()
	c, err := NewCBORCodec()
	require.NoError(t, err)
	return c
}
