package xrelay

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/trickstertwo/xlog"
)

// fakeChannel records sends and lets a test inject inbound messages. Both
// happen on the caller's goroutine.
type fakeChannel struct {
	id ProcessID

	mu       sync.Mutex
	sent     [][]byte
	handlers map[int]func([]byte)
	next     int
	sendErr  error
	subErr   error
}

func newFakeChannel(id ProcessID) *fakeChannel {
	return &fakeChannel{id: id, handlers: make(map[int]func([]byte))}
}

func (f *fakeChannel) ID() ProcessID { return f.id }

func (f *fakeChannel) Send(_ context.Context, msg []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, append([]byte(nil), msg...))
	return nil
}

func (f *fakeChannel) Subscribe(h func([]byte)) (Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subErr != nil {
		return nil, f.subErr
	}
	f.next++
	id := f.next
	f.handlers[id] = h
	return fakeSub(func() error {
		f.mu.Lock()
		delete(f.handlers, id)
		f.mu.Unlock()
		return nil
	}), nil
}

type fakeSub func() error

func (s fakeSub) Close() error { return s() }

// inject delivers msg to every current subscriber.
func (f *fakeChannel) inject(msg []byte) {
	f.mu.Lock()
	hs := make([]func([]byte), 0, len(f.handlers))
	for _, h := range f.handlers {
		hs = append(hs, h)
	}
	f.mu.Unlock()
	for _, h := range hs {
		h(msg)
	}
}

// injectPayload encodes p as JSON and delivers it.
func (f *fakeChannel) injectPayload(t *testing.T, p Payload) {
	t.Helper()
	raw, err := json.Marshal(p)
	require.NoError(t, err)
	f.inject(raw)
}

func (f *fakeChannel) subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handlers)
}

func (f *fakeChannel) setSendErr(err error) {
	f.mu.Lock()
	f.sendErr = err
	f.mu.Unlock()
}

// payloads decodes everything sent so far.
func (f *fakeChannel) payloads(t *testing.T) []*Payload {
	t.Helper()
	f.mu.Lock()
	sent := append([][]byte(nil), f.sent...)
	f.mu.Unlock()
	out := make([]*Payload, 0, len(sent))
	for _, raw := range sent {
		p, err := DecodePayload(JSONCodec{}, raw)
		require.NoError(t, err)
		out = append(out, p)
	}
	return out
}

// recorder collects observer events.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) OnEvent(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) ofType(t EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// call records listener invocations.
type call struct {
	event string
	args  []any
}

type calls struct {
	mu  sync.Mutex
	got []call
}

func (c *calls) listener(event string) Listener {
	return func(args ...any) {
		c.mu.Lock()
		c.got = append(c.got, call{event: event, args: args})
		c.mu.Unlock()
	}
}

func (c *calls) all() []call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]call(nil), c.got...)
}

func testLogger() *xlog.Logger {
	return xlog.New()
}

func newTestCoordinator(t *testing.T, init func(b *Builder)) (*Coordinator, *recorder) {
	t.Helper()
	rec := &recorder{}
	c, err := NewCoordinator(func(b *Builder) {
		b.WithID("root").WithLogger(testLogger()).WithObserver(rec)
		if init != nil {
			init(b)
		}
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return c, rec
}
