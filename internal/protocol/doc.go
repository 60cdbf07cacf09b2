// Package protocol defines the JSON frames exchanged between browser clients
// and the signaling relay.
//
// The package models the wire surface only. It performs no I/O and holds no
// state, so both the relay core and the WebSocket transport depend on it.
package protocol
