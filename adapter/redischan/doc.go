// Package redischan provides an xrelay Channel over Redis Pub/Sub.
//
// Channel name: "redis"
//
// Every directed link between two processes is one Pub/Sub topic,
// "<prefix>:<from>><to>". A Conn owned by process A for peer B publishes on
// "xrelay:A>B" and subscribes to "xrelay:B>A". Pub/Sub does not keep
// messages for absent subscribers, which matches the relay's no-persistence
// model.
//
// Minimal config keys:
// - addr: "host:port" (default "127.0.0.1:6379")
// - prefix: topic prefix (default "xrelay")
// - self: identity of the owning process (required)
// - peer: identity of the process at the other end (required)
//
// Example builder usage:
//
//	ch, _ := xrelay.NewChannel(redischan.ChannelName, map[string]any{
//	    "addr": "localhost:6379",
//	    "self": "root",
//	    "peer": "worker-1",
//	})
//	root, _ := xrelay.NewCoordinator(func(b *xrelay.Builder) {
//	    b.WithID("root").WithSubordinates(ch)
//	})
package redischan
