package relay

import (
	"errors"
	"fmt"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/protocol"
)

var (
	ErrUnknownClient  = errors.New("relay: unknown client")
	ErrTooManyClients = errors.New("relay: too many clients")
	ErrInvariant      = errors.New("relay: invariant violation")
	ErrConnFailed     = errors.New("relay: client transport failed")
)

// ProtocolError is a client mistake that is reported back on the wire as an
// error frame. It never changes State.
type ProtocolError struct {
	Code    string
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("relay: %s: %s", e.Code, e.Message)
}

// Frame renders the error as the frame sent to the offending client.
func (e *ProtocolError) Frame() protocol.Message {
	return protocol.Error(e.Code, e.Message)
}

func protocolErrorf(code, format string, args ...any) *ProtocolError {
	return &ProtocolError{Code: code, Message: fmt.Sprintf(format, args...)}
}

func invariantErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvariant, fmt.Sprintf(format, args...))
}
