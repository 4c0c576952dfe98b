// Package wschan provides an xrelay Channel over a WebSocket connection.
//
// Channel name: "websocket"
//
// A coordinator serves Handler; each subordinate dials it with Dial (or the
// registered factory). The dialing side names itself in the
// X-Xrelay-Process request header and learns the coordinator's identity
// from the same header on the upgrade response. Frames are binary, one
// relay message per frame, on the "xrelay" subprotocol.
//
// Factory config keys:
// - url: "ws://host:port/path" (required)
// - self: identity of the dialing process (required)
//
// Example:
//
//	root, _ := xrelay.NewCoordinator(func(b *xrelay.Builder) { b.WithID("root") })
//	http.Handle("/relay", wschan.Handler("root", func(c *wschan.Conn) { root.Attach(c) }))
//
//	up, _ := wschan.Dial(ctx, "ws://root:8080/relay", "worker-1")
//	worker, _ := xrelay.NewLeaf(func(b *xrelay.Builder) { b.WithID("worker-1").WithUpstream(up) })
package wschan
