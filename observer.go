package xrelay

import (
	"github.com/trickstertwo/xlog"
)

// ObserverFunc is an Adapter that lets a plain function satisfy Observer.
type ObserverFunc func(e Event)

func (f ObserverFunc) OnEvent(e Event) { f(e) }

// LoggingObserver is an Adapter that emits relay events via xlog.
type LoggingObserver struct {
	Logger *xlog.Logger
}

func (o LoggingObserver) OnEvent(e Event) {
	if o.Logger == nil {
		return
	}
	ev := o.Logger.With(
		xlog.Str("type", string(e.Type)),
		xlog.Str("relay", string(e.Relay)),
		xlog.Str("peer", string(e.Peer)),
		xlog.Str("origin", string(e.Origin)),
		xlog.Str("event_name", e.EventName),
	)
	switch e.Type {
	case EventError, EventRejected:
		ev.Warn().Err(e.Err).Msg("xrelay event")
	default:
		if e.Duration > 0 {
			ev = ev.With(xlog.Dur("duration", e.Duration))
		}
		ev.Debug().Msg("xrelay event")
	}
}
