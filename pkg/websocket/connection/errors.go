package connection

import (
	"errors"
	"fmt"
)

// Close codes the client uses deliberately. Everything else is a network closure.
const (
	CloseClientDisconnect = 1000
	CloseHeartbeatTimeout = 1002
	CloseAbnormal         = 1006
)

const (
	reasonClientDisconnect = "Client initiated disconnect"
	reasonPongTimeout      = "Pong timeout"
)

// ErrNotConnected is matched by every NotConnectedError
var ErrNotConnected = errors.New("WebSocket not connected")

// NotConnectedError is returned by Send when the connection is not open
type NotConnectedError struct {
	State ConnectionState
}

func (e *NotConnectedError) Error() string {
	return fmt.Sprintf("%s (state: %s)", ErrNotConnected.Error(), e.State)
}

func (e *NotConnectedError) Is(target error) bool {
	return target == ErrNotConnected
}

// TransportError wraps a failure of the underlying socket
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("websocket %s failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
