package xrelay

import (
	"context"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// relay holds what both roles share: identity, local emitter, marshalling,
// wire codec, telemetry and lifecycle.
type relay struct {
	self        ProcessID
	emitter     *Emitter
	marshaller  *Marshaller
	codec       Codec
	clock       xclock.Clock
	logger      *xlog.Logger
	sendTimeout time.Duration
	baseCtx     context.Context
	cancel      context.CancelFunc

	observersMu sync.RWMutex
	observers   []Observer
	pool        *ObserverPool

	metrics   relayMetrics
	closed    atomic.Bool
	closeOnce sync.Once
}

// relayMetrics uses lock-free atomics.
type relayMetrics struct {
	emitted    atomic.Uint64
	received   atomic.Uint64
	dropped    atomic.Uint64
	sent       atomic.Uint64
	sendErrors atomic.Uint64
	sendNs     atomic.Int64
}

// ID returns this process's identity.
func (r *relay) ID() ProcessID { return r.self }

// Marshaller returns the type registry used for args.
func (r *relay) Marshaller() *Marshaller { return r.marshaller }

// Codec returns the wire codec (Strategy).
func (r *relay) Codec() Codec { return r.codec }

// On registers a local listener for event.
func (r *relay) On(event string, l Listener) ListenerID { return r.emitter.On(event, l) }

// Once registers a local listener for the next occurrence of event.
func (r *relay) Once(event string, l Listener) ListenerID { return r.emitter.Once(event, l) }

// OnAny registers a local listener for every event.
func (r *relay) OnAny(l AnyListener) ListenerID { return r.emitter.OnAny(l) }

// Off removes a local listener.
func (r *relay) Off(id ListenerID) bool { return r.emitter.Off(id) }

// AddObserver registers an observer for relay events.
func (r *relay) AddObserver(obs Observer) {
	if obs == nil {
		return
	}
	r.observersMu.Lock()
	r.observers = append(r.observers, obs)
	r.observersMu.Unlock()
}

// RemoveObserver removes an observer. Observers of non-comparable types,
// such as ObserverFunc, cannot be removed.
func (r *relay) RemoveObserver(obs Observer) {
	if obs == nil {
		return
	}
	r.observersMu.Lock()
	defer r.observersMu.Unlock()
	if !reflect.TypeOf(obs).Comparable() {
		return
	}
	for i, o := range r.observers {
		if reflect.TypeOf(o) == reflect.TypeOf(obs) && o == obs {
			r.observers = append(r.observers[:i], r.observers[i+1:]...)
			break
		}
	}
}

func (r *relay) notify(e Event) {
	r.observersMu.RLock()
	if len(r.observers) == 0 {
		r.observersMu.RUnlock()
		return
	}
	obs := make([]Observer, len(r.observers))
	copy(obs, r.observers)
	r.observersMu.RUnlock()

	e.Relay = r.self
	if r.pool != nil {
		r.pool.Notify(e, obs)
		return
	}
	for _, o := range obs {
		o.OnEvent(e)
	}
}

// closePool drains the async observer pool, if any.
func (r *relay) closePool() error {
	if r.pool == nil {
		return nil
	}
	return r.pool.Close(2 * time.Second)
}

// decode validates an inbound message. Malformed messages are counted and
// dropped without reaching listeners.
func (r *relay) decode(peer ProcessID, raw []byte) (*Payload, bool) {
	p, err := DecodePayload(r.codec, raw)
	if err != nil {
		r.metrics.dropped.Add(1)
		r.notify(Event{Type: EventDropped, Peer: peer, Err: err})
		return nil, false
	}
	r.metrics.received.Add(1)
	return p, true
}

func (r *relay) encode(p *Payload) ([]byte, error) {
	msg, err := EncodePayload(r.codec, p)
	if err != nil {
		r.metrics.sendErrors.Add(1)
		r.notify(Event{Type: EventError, Origin: p.OriginID, EventName: p.Event, Err: err})
		r.logger.Warn().Err(err).Str("event", p.Event).Msg("xrelay: encode payload failed")
	}
	return msg, err
}

// send delivers msg on ch, bounded by the configured send timeout.
func (r *relay) send(ctx context.Context, ch Channel, msg []byte) error {
	sctx := ctx
	cancel := func() {}
	if r.sendTimeout > 0 {
		sctx, cancel = context.WithTimeout(ctx, r.sendTimeout)
	}
	defer cancel()

	start := r.clock.Now()
	err := ch.Send(sctx, msg)
	r.recordSendTime(r.clock.Since(start).Nanoseconds())

	if err != nil {
		r.metrics.sendErrors.Add(1)
		r.notify(Event{Type: EventError, Peer: ch.ID(), Err: err})
		r.logger.Warn().Err(err).Str("peer", string(ch.ID())).Msg("xrelay: send failed")
		return err
	}
	r.metrics.sent.Add(1)
	return nil
}

func (r *relay) snapshot() Metrics {
	m := Metrics{
		Emitted:       r.metrics.emitted.Load(),
		Received:      r.metrics.received.Load(),
		Dropped:       r.metrics.dropped.Load(),
		Sent:          r.metrics.sent.Load(),
		SendErrors:    r.metrics.sendErrors.Load(),
		AvgSendTimeMs: float64(r.metrics.sendNs.Load()) / 1e6,
	}
	if r.pool != nil {
		m.ObserverDropped = r.pool.Stats().Dropped
	}
	return m
}

func (r *relay) health(m Metrics) HealthStatus {
	now := r.clock.Now()
	if r.closed.Load() {
		return HealthStatus{Status: "unhealthy", Metrics: m, Timestamp: now, Message: "relay is closed"}
	}
	status := "healthy"
	// degraded if more than 5% of send attempts failed
	if attempts := m.Sent + m.SendErrors; attempts > 0 {
		if float64(m.SendErrors)/float64(attempts) > 0.05 {
			status = "degraded"
		}
	}
	return HealthStatus{Status: status, Metrics: m, Timestamp: now}
}

// recordSendTime keeps an exponential moving average of send latency.
func (r *relay) recordSendTime(ns int64) {
	const alpha = 0.2
	current := r.metrics.sendNs.Load()
	if current == 0 {
		r.metrics.sendNs.Store(ns)
		return
	}
	r.metrics.sendNs.Store(int64(float64(ns)*alpha + float64(current)*(1-alpha)))
}

func (r *relay) checkEmit(event string) error {
	if r.closed.Load() {
		return ErrRelayClosed
	}
	if event == "" {
		return ErrInvalidEventName
	}
	return nil
}
