package xrelay

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLeaf(t *testing.T, up *fakeChannel) (*Leaf, *recorder) {
	t.Helper()
	rec := &recorder{}
	l, err := NewLeaf(func(b *Builder) {
		b.WithID("L").WithUpstream(up).WithLogger(testLogger()).WithObserver(rec)
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close(context.Background()) })
	return l, rec
}

func TestLeaf_EmitStampsOrigin(t *testing.T) {
	up := newFakeChannel("C")
	l, _ := newTestLeaf(t, up)

	var local calls
	l.On("tick", local.listener("tick"))

	require.NoError(t, l.Emit(context.Background(), "tick", "a", 3))

	require.Len(t, local.all(), 1)
	assert.Equal(t, []any{"a", 3}, local.all()[0].args)

	ps := up.payloads(t)
	require.Len(t, ps, 1)
	assert.Equal(t, ProcessID("L"), ps[0].OriginID)
	assert.Equal(t, "tick", ps[0].Event)
	assert.Equal(t, []any{"a", float64(3)}, ps[0].Args)
}

func TestLeaf_EmitMarshalsErrors(t *testing.T) {
	up := newFakeChannel("C")
	l, _ := newTestLeaf(t, up)

	require.NoError(t, l.Emit(context.Background(), "fail", NewError(KindSyntaxError, "unexpected token")))

	ps := up.payloads(t)
	require.Len(t, ps, 1)
	env, ok := asEnvelope(ps[0].Args[0])
	require.True(t, ok)
	assert.Equal(t, ErrorTag, env.Type)
	data, ok := env.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "SyntaxError", data["constructor"])
	assert.Equal(t, "unexpected token", data["message"])
}

func TestLeaf_ReceiveNotifiesWithoutRefanout(t *testing.T) {
	up := newFakeChannel("C")
	l, rec := newTestLeaf(t, up)

	var local calls
	l.On("news", local.listener("news"))

	up.injectPayload(t, Payload{Event: "news", Args: []any{"hello"}})

	require.Len(t, local.all(), 1)
	assert.Equal(t, []any{"hello"}, local.all()[0].args)
	assert.Empty(t, up.payloads(t), "a leaf never re-sends what it receives")
	assert.Len(t, rec.ofType(EventReceived), 1)
	assert.Equal(t, uint64(1), l.GetMetrics().Received)
}

func TestLeaf_ReceiveDropsInvalid(t *testing.T) {
	up := newFakeChannel("C")
	l, rec := newTestLeaf(t, up)

	var n int
	l.OnAny(func(string, ...any) { n++ })

	up.inject([]byte(`{"originId":"C"}`))
	up.inject([]byte{0xff})

	assert.Zero(t, n)
	assert.Equal(t, uint64(2), l.GetMetrics().Dropped)
	assert.Len(t, rec.ofType(EventDropped), 2)
}

func TestLeaf_Once(t *testing.T) {
	up := newFakeChannel("C")
	l, _ := newTestLeaf(t, up)

	var local calls
	l.Once("boot", local.listener("boot"))

	up.injectPayload(t, Payload{Event: "boot"})
	up.injectPayload(t, Payload{Event: "boot"})
	assert.Len(t, local.all(), 1)
}

func TestLeaf_Off(t *testing.T) {
	up := newFakeChannel("C")
	l, _ := newTestLeaf(t, up)

	var local calls
	id := l.On("x", local.listener("x"))
	assert.True(t, l.Off(id))
	assert.False(t, l.Off(id))

	up.injectPayload(t, Payload{Event: "x"})
	assert.Empty(t, local.all())
}

func TestLeaf_SendError(t *testing.T) {
	up := newFakeChannel("C")
	l, rec := newTestLeaf(t, up)

	up.setSendErr(errors.New("pipe broken"))
	err := l.Emit(context.Background(), "tick")
	require.Error(t, err)
	assert.Len(t, rec.ofType(EventError), 1)
	assert.Equal(t, uint64(1), l.GetMetrics().SendErrors)
}

func TestLeaf_Close(t *testing.T) {
	up := newFakeChannel("C")
	l, _ := newTestLeaf(t, up)
	require.Equal(t, 1, up.subscribers())

	require.NoError(t, l.Close(context.Background()))
	require.NoError(t, l.Close(context.Background()))
	assert.Equal(t, 0, up.subscribers())
	assert.Equal(t, up, l.Upstream())
	assert.ErrorIs(t, l.Emit(context.Background(), "tick"), ErrRelayClosed)
	assert.Equal(t, "unhealthy", l.Health(context.Background()).Status)
}
