package wschan

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"

	"github.com/trickstertwo/xrelay"
)

const (
	ChannelName = "websocket"

	// Subprotocol is negotiated on every relay connection.
	Subprotocol = "xrelay"

	// HeaderProcess carries the sender's process identity on the handshake.
	HeaderProcess = "X-Xrelay-Process"

	defaultReadLimit = 1 << 20
)

func init() {
	if err := xrelay.RegisterChannel(ChannelName, func(cfg map[string]any) (xrelay.Channel, error) {
		url, _ := cfg["url"].(string)
		self, _ := cfg["self"].(string)
		if url == "" || self == "" {
			return nil, errors.New("wschan: url and self are required")
		}
		return Dial(context.Background(), url, xrelay.ProcessID(self))
	}); err != nil {
		panic(fmt.Errorf("xrelay/wschan: failed to register channel: %w", err))
	}
}

// Conn is a Channel over one WebSocket connection. Its read loop runs from
// construction until the connection closes.
type Conn struct {
	ws   *websocket.Conn
	self xrelay.ProcessID
	peer xrelay.ProcessID

	writeMu sync.Mutex

	mu       sync.RWMutex
	handlers []handlerEntry
	nextSub  uint64

	done      chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once
	cancel    context.CancelFunc
	readErr   error

	metrics *connMetrics
}

type handlerEntry struct {
	id uint64
	fn func([]byte)
}

type connMetrics struct {
	sent     atomic.Uint64
	received atomic.Uint64
	errors   atomic.Uint64
}

var _ xrelay.Channel = (*Conn)(nil)

func newConn(ws *websocket.Conn, self, peer xrelay.ProcessID) *Conn {
	ws.SetReadLimit(defaultReadLimit)
	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		ws:      ws,
		self:    self,
		peer:    peer,
		done:    make(chan struct{}),
		cancel:  cancel,
		metrics: &connMetrics{},
	}
	go c.readLoop(ctx)
	return c
}

// Dial connects to a coordinator's Handler at url on behalf of self.
func Dial(ctx context.Context, url string, self xrelay.ProcessID) (*Conn, error) {
	if self == "" {
		return nil, errors.New("wschan: self is required")
	}
	h := http.Header{}
	h.Set(HeaderProcess, string(self))

	ws, resp, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader:      h,
		Subprotocols:    []string{Subprotocol},
		CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		return nil, fmt.Errorf("wschan: dial %s: %w", url, err)
	}
	peer := xrelay.ProcessID(resp.Header.Get(HeaderProcess))
	if peer == "" || ws.Subprotocol() != Subprotocol {
		ws.Close(websocket.StatusPolicyViolation, "server must speak the xrelay subprotocol")
		return nil, fmt.Errorf("wschan: dial %s: peer did not identify itself", url)
	}
	return newConn(ws, self, peer), nil
}

// ID returns the identity of the process at the other end.
func (c *Conn) ID() xrelay.ProcessID { return c.peer }

// Self returns the identity of the process owning this end.
func (c *Conn) Self() xrelay.ProcessID { return c.self }

// Done is closed once the connection is gone.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Err returns the error that ended the read loop, if any.
func (c *Conn) Err() error {
	<-c.done
	return c.readErr
}

// Send writes msg as one binary frame. It fails with xrelay.ErrChannelClosed
// once the connection is gone.
func (c *Conn) Send(ctx context.Context, msg []byte) error {
	if c.closed.Load() {
		c.metrics.errors.Add(1)
		return xrelay.ErrChannelClosed
	}
	c.writeMu.Lock()
	err := c.ws.Write(ctx, websocket.MessageBinary, msg)
	c.writeMu.Unlock()
	if err != nil {
		c.metrics.errors.Add(1)
		if c.closed.Load() || websocket.CloseStatus(err) != -1 {
			return fmt.Errorf("wschan: write to %s: %w", c.peer, xrelay.ErrChannelClosed)
		}
		return fmt.Errorf("wschan: write to %s: %w", c.peer, err)
	}
	c.metrics.sent.Add(1)
	return nil
}

// Subscribe binds handler to frames arriving on this connection.
func (c *Conn) Subscribe(handler func(msg []byte)) (xrelay.Subscription, error) {
	if handler == nil {
		return nil, errors.New("wschan: handler must not be nil")
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

// Close closes the connection with a normal closure status.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		err = c.ws.Close(websocket.StatusNormalClosure, "")
		c.cancel()
	})
	return err
}

// Stats returns channel telemetry.
type Stats struct {
	Sent        uint64
	Received    uint64
	Errors      uint64
	Subscribers int
}

// Stats returns current metrics for this connection.
func (c *Conn) Stats() Stats {
	c.mu.RLock()
	subs := len(c.handlers)
	c.mu.RUnlock()
	return Stats{
		Sent:        c.metrics.sent.Load(),
		Received:    c.metrics.received.Load(),
		Errors:      c.metrics.errors.Load(),
		Subscribers: subs,
	}
}

func (c *Conn) readLoop(ctx context.Context) {
	defer close(c.done)
	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			default:
				if !c.closed.Load() {
					c.readErr = err
				}
			}
			c.closed.Store(true)
			c.cancel()
			return
		}
		if typ != websocket.MessageBinary {
			continue
		}
		c.metrics.received.Add(1)
		c.deliver(data)
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
