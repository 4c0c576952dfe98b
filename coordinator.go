package xrelay

import (
	"context"
	"errors"
	"strconv"
	"sync"
)

// Coordinator relays events between local listeners, attached subordinate
// channels and, optionally, an upstream channel.
//
// A locally emitted event reaches every subordinate. An event received from
// a subordinate is replayed locally, re-sent to every other subordinate and,
// with upward echo on, forwarded upstream stamped with this process's id.
// With downward echo on, events arriving from upstream are fanned out to the
// subordinates without being replayed locally. A coordinator that has joined
// its upstream also behaves as a leaf of its parent: it replays the parent's
// events locally and sends its own events upward.
type Coordinator struct {
	*relay

	subs     *subordinates
	upstream Channel

	// echo state; the lock is never held across sends or listener calls
	mu      sync.Mutex
	echoUp  bool
	downSub Subscription
	joinSub Subscription
}

// Attach starts relaying for each channel. Nil channels and channels without
// an identity are logged and skipped; the rest of the batch still attaches.
// Attaching an already attached channel is a no-op. A different channel with
// an attached identity replaces the old one, which is detached. It returns
// the number of newly attached channels.
func (c *Coordinator) Attach(chs ...Channel) int {
	if c.closed.Load() {
		return 0
	}
	n := 0
	for i, ch := range chs {
		if isNilChannel(ch) || ch.ID() == "" {
			c.logger.Warn().
				Err(ErrInvalidChannel).
				Str("index", strconv.Itoa(i)).
				Msg("xrelay: subordinate rejected")
			c.notify(Event{Type: EventRejected, Err: ErrInvalidChannel})
			continue
		}
		added, replaced, err := c.subs.add(ch)
		if err != nil {
			c.logger.Warn().
				Err(err).
				Str("peer", string(ch.ID())).
				Msg("xrelay: subscribe to subordinate failed")
			c.notify(Event{Type: EventRejected, Peer: ch.ID(), Err: err})
			continue
		}
		if replaced != nil {
			c.closeSub(ch.ID(), replaced)
			c.notify(Event{Type: EventDetached, Peer: ch.ID()})
		}
		if added {
			n++
			c.notify(Event{Type: EventAttached, Peer: ch.ID()})
		}
	}
	return n
}

// Detach stops relaying for each channel, unbinding only the handler Attach
// bound. Unknown channels, and channels whose identity has since been taken
// over by another channel, are ignored.
func (c *Coordinator) Detach(chs ...Channel) {
	for _, ch := range chs {
		if isNilChannel(ch) {
			continue
		}
		c.detach(ch)
	}
}

func (c *Coordinator) detach(ch Channel) {
	sub := c.subs.remove(ch)
	if sub == nil {
		return
	}
	c.closeSub(ch.ID(), sub)
	c.notify(Event{Type: EventDetached, Peer: ch.ID()})
}

func (c *Coordinator) closeSub(id ProcessID, sub Subscription) {
	if err := sub.Close(); err != nil {
		c.logger.Warn().Err(err).Str("peer", string(id)).Msg("xrelay: close subscription failed")
	}
}

// Subordinates returns the identities of attached channels in order.
func (c *Coordinator) Subordinates() []ProcessID { return c.subs.ids() }

// Upstream returns the upstream channel, or nil for a root coordinator.
func (c *Coordinator) Upstream() Channel { return c.upstream }

// Emit notifies local listeners, then sends the event to every subordinate
// and, once joined, upstream stamped with this process's id. Send failures
// are joined into the returned error; listeners have already run by then.
func (c *Coordinator) Emit(ctx context.Context, event string, args ...any) error {
	if err := c.checkEmit(event); err != nil {
		return err
	}
	c.metrics.emitted.Add(1)
	c.emitter.Emit(event, args...)
	c.notify(Event{Type: EventEmit, EventName: event})

	p := &Payload{Event: event, Args: c.marshaller.Marshal(args)}
	err := c.fanout(ctx, p, "")
	if !c.Joined() {
		return err
	}
	msg, encErr := c.encode(p.withOrigin(c.self))
	if encErr != nil {
		return errors.Join(err, encErr)
	}
	return errors.Join(err, c.send(ctx, c.upstream, msg))
}

// handleSubordinate is the one handler bound to every subordinate channel.
func (c *Coordinator) handleSubordinate(raw []byte) {
	if c.closed.Load() {
		return
	}
	p, ok := c.decode("", raw)
	if !ok {
		return
	}
	c.notify(Event{Type: EventReceived, Origin: p.OriginID, EventName: p.Event})
	c.emitter.Emit(p.Event, c.marshaller.Unmarshal(p.Args)...)

	// never echo an event back to the subordinate it came from
	_ = c.fanout(c.baseCtx, p, p.OriginID)

	c.mu.Lock()
	up := c.echoUp && c.upstream != nil
	c.mu.Unlock()
	if !up {
		return
	}
	// stamp our own id so the parent treats the event as ours
	echo := p.withOrigin(c.self)
	msg, err := c.encode(echo)
	if err != nil {
		return
	}
	if err := c.send(c.baseCtx, c.upstream, msg); err == nil {
		c.notify(Event{Type: EventEchoUp, Peer: c.upstream.ID(), Origin: p.OriginID, EventName: p.Event})
	}
}

// handleUpstream relays a parent's payload down to every subordinate
// without replaying it locally.
func (c *Coordinator) handleUpstream(raw []byte) {
	if c.closed.Load() {
		return
	}
	p, ok := c.decode(c.upstream.ID(), raw)
	if !ok {
		return
	}
	c.notify(Event{Type: EventEchoDown, Peer: c.upstream.ID(), Origin: p.OriginID, EventName: p.Event})
	_ = c.fanout(c.baseCtx, p, "")
}

// handleParent replays a parent's payload to local listeners, as a leaf
// would.
func (c *Coordinator) handleParent(raw []byte) {
	if c.closed.Load() {
		return
	}
	p, ok := c.decode(c.upstream.ID(), raw)
	if !ok {
		return
	}
	c.notify(Event{Type: EventReceived, Peer: c.upstream.ID(), Origin: p.OriginID, EventName: p.Event})
	c.emitter.Emit(p.Event, c.marshaller.Unmarshal(p.Args)...)
}

// fanout sends p to every subordinate except the one identified by exclude.
// A subordinate whose channel reports ErrChannelClosed is detached.
func (c *Coordinator) fanout(ctx context.Context, p *Payload, exclude ProcessID) error {
	targets := c.subs.channels()
	if len(targets) == 0 {
		return nil
	}
	msg, err := c.encode(p)
	if err != nil {
		return err
	}

	var errs []error
	sent := 0
	for _, ch := range targets {
		if exclude != "" && ch.ID() == exclude {
			continue
		}
		if err := c.send(ctx, ch, msg); err != nil {
			errs = append(errs, err)
			if errors.Is(err, ErrChannelClosed) {
				c.detach(ch)
			}
			continue
		}
		sent++
	}
	c.notify(Event{Type: EventFanout, Origin: p.OriginID, EventName: p.Event, Recipients: sent})
	return errors.Join(errs...)
}

// EchoUp forwards events received from subordinates to the upstream channel.
func (c *Coordinator) EchoUp() error {
	if c.upstream == nil {
		c.logger.Warn().Err(ErrNoUpstream).Msg("xrelay: cannot echo up")
		return ErrNoUpstream
	}
	c.mu.Lock()
	c.echoUp = true
	c.mu.Unlock()
	return nil
}

// StopEchoUp stops forwarding to the upstream channel. It is idempotent.
func (c *Coordinator) StopEchoUp() {
	c.mu.Lock()
	c.echoUp = false
	c.mu.Unlock()
}

// EchoDown relays events arriving from the upstream channel to all
// subordinates. Calling it again while active is a no-op.
func (c *Coordinator) EchoDown() error {
	if c.upstream == nil {
		c.logger.Warn().Err(ErrNoUpstream).Msg("xrelay: cannot echo down")
		return ErrNoUpstream
	}
	return c.subscribeUpstream(&c.downSub, c.handleUpstream)
}

// subscribeUpstream binds handler to the upstream channel and stores the
// subscription in slot unless one is already there. The subscribe call runs
// without c.mu held since it may block on the transport.
func (c *Coordinator) subscribeUpstream(slot *Subscription, handler func([]byte)) error {
	c.mu.Lock()
	active := *slot != nil
	c.mu.Unlock()
	if active {
		return nil
	}
	sub, err := c.upstream.Subscribe(handler)
	if err != nil {
		return err
	}
	c.mu.Lock()
	if *slot != nil {
		c.mu.Unlock()
		_ = sub.Close()
		return nil
	}
	*slot = sub
	c.mu.Unlock()
	return nil
}

// StopEchoDown stops relaying the upstream channel's events. It leaves other
// subscribers of the upstream channel alone and is idempotent.
func (c *Coordinator) StopEchoDown() {
	c.mu.Lock()
	sub := c.downSub
	c.downSub = nil
	c.mu.Unlock()
	if sub != nil {
		_ = sub.Close()
	}
}

// Join makes this coordinator a member of its parent's tree: events from
// upstream are replayed to local listeners and local Emit calls are sent
// upstream as well. It is independent of downward echo, which only relays.
func (c *Coordinator) Join() error {
	if c.upstream == nil {
		c.logger.Warn().Err(ErrNoUpstream).Msg("xrelay: cannot join")
		return ErrNoUpstream
	}
	return c.subscribeUpstream(&c.joinSub, c.handleParent)
}

// Leave undoes Join. It is idempotent.
func (c *Coordinator) Leave() {
	c.mu.Lock()
	sub := c.joinSub
	c.joinSub = nil
	c.mu.Unlock()
	if sub != nil {
		_ = sub.Close()
	}
}

// Joined reports whether the coordinator has joined its upstream.
func (c *Coordinator) Joined() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.joinSub != nil
}

// Echo enables both directions.
func (c *Coordinator) Echo() error {
	if err := c.EchoUp(); err != nil {
		return err
	}
	return c.EchoDown()
}

// StopEcho disables both directions.
func (c *Coordinator) StopEcho() {
	c.StopEchoUp()
	c.StopEchoDown()
}

// EchoingUp reports whether upward echo is on.
func (c *Coordinator) EchoingUp() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.echoUp
}

// EchoingDown reports whether downward echo is on.
func (c *Coordinator) EchoingDown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.downSub != nil
}

// GetMetrics returns current relay metrics.
func (c *Coordinator) GetMetrics() Metrics {
	m := c.snapshot()
	m.Subordinates = c.subs.count()
	return m
}

// Health reports relay health.
func (c *Coordinator) Health(_ context.Context) HealthStatus {
	return c.health(c.GetMetrics())
}

// Close detaches every subordinate and stops echoing. It is idempotent.
func (c *Coordinator) Close(_ context.Context) error {
	var closeErr error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.StopEcho()
		c.Leave()
		for _, sub := range c.subs.removeAll() {
			if err := sub.Close(); err != nil {
				closeErr = errors.Join(closeErr, err)
			}
		}
		c.cancel()
		if err := c.closePool(); err != nil {
			closeErr = errors.Join(closeErr, err)
		}
	})
	return closeErr
}
