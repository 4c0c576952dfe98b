package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/trickstertwo/xrelay"
)

const ChannelName = "memory"

func init() {
	if err := xrelay.RegisterChannel(ChannelName, func(cfg map[string]any) (xrelay.Channel, error) {
		self, _ := cfg["self"].(string)
		peer, _ := cfg["peer"].(string)
		if self == "" || peer == "" {
			return nil, errors.New("memory: self and peer are required")
		}
		return SharedHub(ConfigFromMap(cfg)).Link(xrelay.ProcessID(self), xrelay.ProcessID(peer)), nil
	}); err != nil {
		panic(fmt.Errorf("xrelay/memory: failed to register channel: %w", err))
	}
}

// Config controls memory channel behavior.
type Config struct {
	// BufferSize is the per-end inbox size (default: 1024).
	BufferSize int
	// Synchronous delivers on the sender's goroutine, inside Send (default: false).
	Synchronous bool
}

func ConfigFromMap(cfg map[string]any) Config {
	getInt := func(k string, d int) int {
		switch v := cfg[k].(type) {
		case int:
			return v
		case int32:
			return int(v)
		case int64:
			return int(v)
		case float64:
			return int(v)
		default:
			return d
		}
	}

	getBool := func(k string, d bool) bool {
		if v, ok := cfg[k].(bool); ok {
			return v
		}
		return d
	}

	return Config{
		BufferSize:  maxInt(1, getInt("buffer_size", 1024)),
		Synchronous: getBool("synchronous", false),
	}
}

// Conn is one end of an in-process pipe. It implements xrelay.Channel for
// the process that owns it; ID reports the process at the other end.
type Conn struct {
	cfg    Config
	self   xrelay.ProcessID
	peer   xrelay.ProcessID
	remote *Conn

	mu       sync.RWMutex
	handlers []handlerEntry
	nextSub  uint64

	inbox     chan []byte
	done      chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once

	metrics *connMetrics
}

type handlerEntry struct {
	id uint64
	fn func([]byte)
}

type connMetrics struct {
	sent      atomic.Uint64
	delivered atomic.Uint64
	errors    atomic.Uint64
}

var _ xrelay.Channel = (*Conn)(nil)

// Pipe connects processes a and b. The first Conn belongs to a and talks to
// b; the second belongs to b and talks to a.
func Pipe(cfg Config, a, b xrelay.ProcessID) (*Conn, *Conn) {
	if cfg.BufferSize < 1 {
		cfg.BufferSize = 1024
	}
	ca := newConn(cfg, a, b)
	cb := newConn(cfg, b, a)
	ca.remote, cb.remote = cb, ca
	if !cfg.Synchronous {
		go ca.run()
		go cb.run()
	}
	return ca, cb
}

func newConn(cfg Config, self, peer xrelay.ProcessID) *Conn {
	return &Conn{
		cfg:     cfg,
		self:    self,
		peer:    peer,
		inbox:   make(chan []byte, cfg.BufferSize),
		done:    make(chan struct{}),
		metrics: &connMetrics{},
	}
}

// ID returns the identity of the process at the other end.
func (c *Conn) ID() xrelay.ProcessID { return c.peer }

// Self returns the identity of the process owning this end.
func (c *Conn) Self() xrelay.ProcessID { return c.self }

// Peer returns the other end of the pipe.
func (c *Conn) Peer() *Conn { return c.remote }

// Send hands msg to the other end. It fails with xrelay.ErrChannelClosed
// once either end is closed.
func (c *Conn) Send(ctx context.Context, msg []byte) error {
	if c.closed.Load() || c.remote.closed.Load() {
		c.metrics.errors.Add(1)
		return xrelay.ErrChannelClosed
	}
	cp := make([]byte, len(msg))
	copy(cp, msg)

	if c.cfg.Synchronous {
		c.metrics.sent.Add(1)
		c.remote.deliver(cp)
		return nil
	}

	select {
	case c.remote.inbox <- cp:
		c.metrics.sent.Add(1)
		return nil
	case <-c.remote.done:
		c.metrics.errors.Add(1)
		return xrelay.ErrChannelClosed
	case <-ctx.Done():
		c.metrics.errors.Add(1)
		return ctx.Err()
	}
}

// Subscribe binds handler to messages arriving at this end.
func (c *Conn) Subscribe(handler func(msg []byte)) (xrelay.Subscription, error) {
	if handler == nil {
		return nil, errors.New("memory: handler must not be nil")
	}
	if c.closed.Load() {
		return nil, xrelay.ErrChannelClosed
	}
	c.mu.Lock()
	c.nextSub++
	id := c.nextSub
	c.handlers = append(c.handlers, handlerEntry{id: id, fn: handler})
	c.mu.Unlock()

	return &subscription{close: func() error {
		c.unsubscribe(id)
		return nil
	}}, nil
}

// Emit injects msg as if the peer had sent it. Tests use it to feed raw
// frames to whatever is subscribed on this end.
func (c *Conn) Emit(msg []byte) {
	c.deliver(msg)
}

// Close shuts this end down; sends from either end fail afterwards.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
	})
	return nil
}

// Stats returns channel telemetry.
type Stats struct {
	Sent        uint64
	Delivered   uint64
	Errors      uint64
	Subscribers int
}

// Stats returns current metrics for this end.
func (c *Conn) Stats() Stats {
	c.mu.RLock()
	subs := len(c.handlers)
	c.mu.RUnlock()
	return Stats{
		Sent:        c.metrics.sent.Load(),
		Delivered:   c.metrics.delivered.Load(),
		Errors:      c.metrics.errors.Load(),
		Subscribers: subs,
	}
}

func (c *Conn) run() {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.inbox:
			c.deliver(msg)
		}
	}
}

func (c *Conn) deliver(msg []byte) {
	c.mu.RLock()
	hs := make([]handlerEntry, len(c.handlers))
	copy(hs, c.handlers)
	c.mu.RUnlock()

	for _, h := range hs {
		h.fn(msg)
	}
	c.metrics.delivered.Add(1)
}

func (c *Conn) unsubscribe(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, h := range c.handlers {
		if h.id == id {
			c.handlers = append(c.handlers[:i:i], c.handlers[i+1:]...)
			return
		}
	}
}

type subscription struct {
	once  sync.Once
	close func() error
}

func (s *subscription) Close() error {
	var err error
	s.once.Do(func() {
		if s.close != nil {
			err = s.close()
		}
	})
	return err
}

// Hub hands out pipe ends by (self, peer) so that two sides configured
// independently meet on the same pipe.
type Hub struct {
	cfg   Config
	mu    sync.Mutex
	links map[[2]xrelay.ProcessID]*Conn
}

func NewHub(cfg Config) *Hub {
	return &Hub{cfg: cfg, links: make(map[[2]xrelay.ProcessID]*Conn)}
}

var (
	sharedHubsMu sync.Mutex
	sharedHubs   = map[Config]*Hub{}
)

// SharedHub returns the process-wide hub for cfg. The registered channel
// factory uses it so that both ends built from the same config meet.
func SharedHub(cfg Config) *Hub {
	sharedHubsMu.Lock()
	defer sharedHubsMu.Unlock()
	h, ok := sharedHubs[cfg]
	if !ok {
		h = NewHub(cfg)
		sharedHubs[cfg] = h
	}
	return h
}

// Link returns self's end of the pipe between self and peer, creating the
// pipe on first use from either side.
func (h *Hub) Link(self, peer xrelay.ProcessID) *Conn {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.links[[2]xrelay.ProcessID{self, peer}]; ok {
		return c
	}
	a, b := Pipe(h.cfg, self, peer)
	h.links[[2]xrelay.ProcessID{self, peer}] = a
	h.links[[2]xrelay.ProcessID{peer, self}] = b
	return a
}

// Links returns the number of pipe ends the hub holds.
func (h *Hub) Links() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.links)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
