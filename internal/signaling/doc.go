// Package signaling is the WebSocket transport in front of relay.Hub.
//
// Each accepted connection gets a read pump (the handler goroutine) that
// parses text frames and hands them to the hub, and a write pump that drains
// a bounded outbound queue and sends keepalive pings. The hub never touches a
// socket directly.
package signaling
