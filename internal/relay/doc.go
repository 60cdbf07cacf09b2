// Package relay implements the pairing core of the signaling relay: the
// client registry, the room manager and the message router.
//
// State is a plain value with no locking and no I/O. Every operation returns
// the frames that must be delivered as a []Delivery. Hub owns one State behind
// one mutex and pushes deliveries onto each recipient's non-blocking Conn.
package relay
