package redischan

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/trickstertwo/xrelay"
)

const ChannelName = "redis"

func init() {
	if err := xrelay.RegisterChannel(ChannelName, func(cfg map[string]any) (xrelay.Channel, error) {
		self, _ := cfg["self"].(string)
		peer, _ := cfg["peer"].(string)
		if self == "" || peer == "" {
			return nil, errors.New("redischan: self and peer are required")
		}
		cl, err := NewClient(ConfigFromMap(cfg), xrelay.ProcessID(self))
		if err != nil {
			return nil, err
		}
		conn := cl.Link(xrelay.ProcessID(peer))
		conn.ownsClient = true
		return conn, nil
	}); err != nil {
		panic(fmt.Errorf("xrelay/redischan: failed to register channel: %w", err))
	}
}

// Client is one process's connection to Redis. Links to peers share it.
type Client struct {
	cfg  Config
	self xrelay.ProcessID
	rdb  *redis.Client

	closed atomic.Bool
}

// NewClient connects to Redis on behalf of process self.
func NewClient(cfg Config, self xrelay.ProcessID) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if self == "" {
		return nil, errors.New("redischan: self is required")
	}

	opts := &redis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   3,
		PoolSize:     10,
		MinIdleConns: 2,
	}

	if cfg.TLS {
		opts.TLSConfig = &tls.Config{
			MinVersion:    tls.VersionTLS12,
			ServerName:    cfg.TLSServerName,
			Renegotiation: tls.RenegotiateNever,
		}
	}

	rdb := redis.NewClient(opts)
	if err := ping(rdb); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return &Client{cfg: cfg, self: self, rdb: rdb}, nil
}

// Self returns the identity of the owning process.
func (cl *Client) Self() xrelay.ProcessID { return cl.self }

// Link returns a Channel to peer.
func (cl *Client) Link(peer xrelay.ProcessID) *Conn {
	return &Conn{
		client:  cl,
		peer:    peer,
		out:     Topic(cl.cfg.Prefix, string(cl.self), string(peer)),
		in:      Topic(cl.cfg.Prefix, string(peer), string(cl.self)),
		subs:    make(map[*subscription]struct{}),
		metrics: &connMetrics{},
	}
}

// Close releases the Redis connection. Links built from the client fail
// with xrelay.ErrChannelClosed afterwards.
func (cl *Client) Close() error {
	if cl.closed.Swap(true) {
		return nil
	}
	return cl.rdb.Close()
}

// Conn is a Channel between the client's process and one peer.
type Conn struct {
	client     *Client
	peer       xrelay.ProcessID
	out, in    string
	ownsClient bool

	mu   sync.Mutex
	subs map[*subscription]struct{}

	closed  atomic.Bool
	metrics *connMetrics
}

type connMetrics struct {
	published     atomic.Uint64
	received      atomic.Uint64
	publishErrors atomic.Uint64
}

var _ xrelay.Channel = (*Conn)(nil)

// ID returns the identity of the peer process.
func (c *Conn) ID() xrelay.ProcessID { return c.peer }

// Topics returns the outbound and inbound topic names.
func (c *Conn) Topics() (out, in string) { return c.out, c.in }

// Send publishes msg on the outbound topic.
func (c *Conn) Send(ctx context.Context, msg []byte) error {
	if c.closed.Load() || c.client.closed.Load() {
		c.metrics.publishErrors.Add(1)
		return xrelay.ErrChannelClosed
	}
	if err := c.client.rdb.Publish(ctx, c.out, msg).Err(); err != nil {
		c.metrics.publishErrors.Add(1)
		if errors.Is(err, redis.ErrClosed) {
			return fmt.Errorf("redischan: publish %s: %w", c.out, xrelay.ErrChannelClosed)
		}
		return fmt.Errorf("redischan: publish %s: %w", c.out, err)
	}
	c.metrics.published.Add(1)
	return nil
}

// Subscribe starts delivering messages from the inbound topic to handler.
// It returns once Redis has confirmed the subscription.
func (c *Conn) Subscribe(handler func(msg []byte)) (xrelay.Subscription, error) {
	if handler == nil {
		return nil, errors.New("redischan: handler must not be nil")
	}
	if c.closed.Load() || c.client.closed.Load() {
		return nil, xrelay.ErrChannelClosed
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ps := c.client.rdb.Subscribe(ctx, c.in)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redischan: subscribe %s: %w", c.in, err)
	}

	// Close does not wait for the delivery goroutine; handlers may close
	// their own subscription.
	s := &subscription{ps: ps}
	s.close = func() error {
		c.mu.Lock()
		delete(c.subs, s)
		c.mu.Unlock()
		return ps.Close()
	}

	c.mu.Lock()
	c.subs[s] = struct{}{}
	c.mu.Unlock()

	go func() {
		for m := range ps.Channel() {
			c.metrics.received.Add(1)
			handler([]byte(m.Payload))
		}
	}()
	return s, nil
}

// Close stops every subscription on this link. It closes the Redis client
// too when the link was built by the channel factory.
func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.mu.Lock()
	subs := make([]*subscription, 0, len(c.subs))
	for s := range c.subs {
		subs = append(subs, s)
	}
	c.mu.Unlock()

	var errs []error
	for _, s := range subs {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.ownsClient {
		if err := c.client.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Stats returns channel telemetry.
type Stats struct {
	Published     uint64
	Received      uint64
	PublishErrors uint64
	Subscribers   int
}

// Stats returns current metrics for this link.
func (c *Conn) Stats() Stats {
	c.mu.Lock()
	n := len(c.subs)
	c.mu.Unlock()
	return Stats{
		Published:     c.metrics.published.Load(),
		Received:      c.metrics.received.Load(),
		PublishErrors: c.metrics.publishErrors.Load(),
		Subscribers:   n,
	}
}

type subscription struct {
	ps    *redis.PubSub
	once  sync.Once
	close func() error
}

func (s *subscription) Close() error {
	var err error
	s.once.Do(func() {
		err = s.close()
	})
	return err
}

// Helper functions

func ping(c *redis.Client) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	res, err := c.Ping(ctx).Result()
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return fmt.Errorf("redis ping timeout: %w", err)
		}
		return err
	}

	if strings.ToUpper(res) != "PONG" {
		return fmt.Errorf("unexpected redis ping result: %s", res)
	}

	return nil
}
