package wschan

import (
	"net/http"

	"github.com/coder/websocket"
	"github.com/trickstertwo/xlog"

	"github.com/trickstertwo/xrelay"
)

// HandlerOption configures Handler.
type HandlerOption func(*handler)

// WithHandlerLogger sets the logger for rejected handshakes.
func WithHandlerLogger(l *xlog.Logger) HandlerOption {
	return func(h *handler) { h.logger = l }
}

// WithOriginPatterns allows cross-origin dialers matching patterns.
func WithOriginPatterns(patterns ...string) HandlerOption {
	return func(h *handler) { h.origins = append(h.origins, patterns...) }
}

// WithOnClose sets a hook called once an accepted connection has ended,
// typically Coordinator.Detach.
func WithOnClose(fn func(*Conn)) HandlerOption {
	return func(h *handler) { h.onClose = fn }
}

type handler struct {
	self    xrelay.ProcessID
	onConn  func(*Conn)
	onClose func(*Conn)
	logger  *xlog.Logger
	origins []string
}

// Handler accepts relay connections for process self. Each accepted
// connection is passed to onConn, typically Coordinator.Attach; the handler
// returns once the connection closes, after calling the WithOnClose hook.
func Handler(self xrelay.ProcessID, onConn func(*Conn), opts ...HandlerOption) http.Handler {
	h := &handler{self: self, onConn: onConn, logger: xlog.Default()}
	for _, o := range opts {
		if o != nil {
			o(h)
		}
	}
	return h
}

func (h *handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	peer := xrelay.ProcessID(r.Header.Get(HeaderProcess))
	if peer == "" {
		h.logger.Warn().
			Str("remote", r.RemoteAddr).
			Msg("wschan: missing " + HeaderProcess + " header")
		http.Error(w, "missing "+HeaderProcess+" header", http.StatusBadRequest)
		return
	}

	w.Header().Set(HeaderProcess, string(h.self))
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:    []string{Subprotocol},
		OriginPatterns:  h.origins,
		CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		h.logger.Warn().Err(err).Str("peer", string(peer)).Msg("wschan: accept failed")
		return
	}
	if ws.Subprotocol() != Subprotocol {
		ws.Close(websocket.StatusPolicyViolation, "client must speak the xrelay subprotocol")
		return
	}

	c := newConn(ws, h.self, peer)
	if h.onConn != nil {
		h.onConn(c)
	}
	<-c.Done()
	if err := c.Err(); err != nil {
		h.logger.Debug().Err(err).Str("peer", string(peer)).Msg("wschan: connection ended")
	}
	if h.onClose != nil {
		h.onClose(c)
	}
}
