package xrelay

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/trickstertwo/xlog"
)

// ObserverPool dispatches relay events to observers on worker goroutines so
// slow observers cannot stall relaying. When the buffer is full, events are
// dropped and counted instead of blocking.
type ObserverPool struct {
	events  chan poolEvent
	stop    chan struct{}
	wg      sync.WaitGroup
	logger  *xlog.Logger
	closed  atomic.Bool
	mu      sync.RWMutex
	dropped atomic.Uint64
	handled atomic.Uint64
}

type poolEvent struct {
	e         Event
	observers []Observer
}

// NewObserverPool starts workers goroutines reading from a buffer of
// bufferSize events. Non-positive values fall back to 4 and 1000.
func NewObserverPool(workers, bufferSize int, logger *xlog.Logger) *ObserverPool {
	if workers < 1 {
		workers = 4
	}
	if bufferSize < 1 {
		bufferSize = 1000
	}
	p := &ObserverPool{
		events: make(chan poolEvent, bufferSize),
		stop:   make(chan struct{}),
		logger: logger,
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// Notify queues e for observers. It never blocks.
func (p *ObserverPool) Notify(e Event, observers []Observer) {
	if len(observers) == 0 {
		return
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed.Load() {
		p.dropped.Add(1)
		return
	}
	select {
	case p.events <- poolEvent{e: e, observers: observers}:
	default:
		p.dropped.Add(1)
	}
}

func (p *ObserverPool) worker() {
	defer p.wg.Done()
	for {
		select {
		case pe := <-p.events:
			p.dispatch(pe)
		case <-p.stop:
			// drain what was queued before Close
			for {
				select {
				case pe := <-p.events:
					p.dispatch(pe)
				default:
					return
				}
			}
		}
	}
}

func (p *ObserverPool) dispatch(pe poolEvent) {
	for _, o := range pe.observers {
		func() {
			defer func() {
				if r := recover(); r != nil && p.logger != nil {
					p.logger.Error().
						Str("event", string(pe.e.Type)).
						Str("panic", fmt.Sprint(r)).
						Msg("xrelay: observer panic (recovered)")
				}
			}()
			o.OnEvent(pe.e)
		}()
	}
	p.handled.Add(1)
}

// Close stops accepting events and waits up to timeout for queued ones to
// be dispatched.
func (p *ObserverPool) Close(timeout time.Duration) error {
	p.mu.Lock()
	if p.closed.Swap(true) {
		p.mu.Unlock()
		return nil
	}
	close(p.stop)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return ErrObserverPoolTimeout
	}
}

// PoolStats reports observer pool telemetry.
type PoolStats struct {
	Dropped   uint64
	Processed uint64
}

// Stats returns current pool statistics.
func (p *ObserverPool) Stats() PoolStats {
	return PoolStats{
		Dropped:   p.dropped.Load(),
		Processed: p.handled.Load(),
	}
}
