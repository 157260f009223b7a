// Package relay holds the routing core: the connection registry that maps
// normalized addresses to live connections, the chat message router, the
// WebRTC signaling relay, and the presence publisher.
//
// The Registry is the only shared mutable state. Router, Relay and Publisher
// hold a reference to it and never keep their own copy of address to
// connection state. Delivery to a connection is abstracted behind Sender so
// the core does not depend on the transport.
package relay
