package xrelay

import (
	"context"
	"errors"
	"sync"
)

// Leaf is the subordinate role: it sends its events to its upstream channel
// and replays events arriving from upstream to local listeners.
type Leaf struct {
	*relay

	upstream Channel

	mu  sync.Mutex
	sub Subscription
}

// Upstream returns the channel to the parent process.
func (l *Leaf) Upstream() Channel { return l.upstream }

// Emit notifies local listeners, then sends the event upstream stamped with
// this process's id.
func (l *Leaf) Emit(ctx context.Context, event string, args ...any) error {
	if err := l.checkEmit(event); err != nil {
		return err
	}
	l.metrics.emitted.Add(1)
	l.emitter.Emit(event, args...)
	l.notify(Event{Type: EventEmit, EventName: event})

	p := &Payload{OriginID: l.self, Event: event, Args: l.marshaller.Marshal(args)}
	msg, err := l.encode(p)
	if err != nil {
		return err
	}
	return l.send(ctx, l.upstream, msg)
}

func (l *Leaf) listen() error {
	sub, err := l.upstream.Subscribe(l.handleUpstream)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.sub = sub
	l.mu.Unlock()
	return nil
}

func (l *Leaf) handleUpstream(raw []byte) {
	if l.closed.Load() {
		return
	}
	p, ok := l.decode(l.upstream.ID(), raw)
	if !ok {
		return
	}
	l.notify(Event{Type: EventReceived, Peer: l.upstream.ID(), Origin: p.OriginID, EventName: p.Event})
	l.emitter.Emit(p.Event, l.marshaller.Unmarshal(p.Args)...)
}

// GetMetrics returns current relay metrics.
func (l *Leaf) GetMetrics() Metrics { return l.snapshot() }

// Health reports relay health.
func (l *Leaf) Health(_ context.Context) HealthStatus {
	return l.health(l.GetMetrics())
}

// Close stops listening to the upstream channel. It is idempotent.
func (l *Leaf) Close(_ context.Context) error {
	var closeErr error
	l.closeOnce.Do(func() {
		l.closed.Store(true)
		l.mu.Lock()
		sub := l.sub
		l.sub = nil
		l.mu.Unlock()
		if sub != nil {
			if err := sub.Close(); err != nil {
				closeErr = errors.Join(closeErr, err)
			}
		}
		l.cancel()
		if err := l.closePool(); err != nil {
			closeErr = errors.Join(closeErr, err)
		}
	})
	return closeErr
}
