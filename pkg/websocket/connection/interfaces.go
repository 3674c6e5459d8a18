package connection

import (
	"time"
)

// ConnectionManager owns the single push transport and its lifecycle. Connect and
// Disconnect return immediately; outcomes arrive through the callbacks.
type ConnectionManager interface {
	Connect()
	Disconnect()
	Send(v interface{}) error
	SendRaw(data []byte) error
	HandlePong()
	SetCallbacks(onOpen func(), onClose func(code int, reason string), onMessage func([]byte), onError func(error))
	SetReconnectCallback(onReconnecting func(attempt int, delay time.Duration))
	GetState() ConnectionState
	IsConnected() bool
	GetConnectionStats() map[string]interface{}
}

// ReconnectionStrategy computes the wait before the next connection attempt
type ReconnectionStrategy interface {
	NextDelay(attempt int) time.Duration
}
