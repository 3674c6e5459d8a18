package performance

import "time"

// Metrics defines push channel counters
type Metrics interface {
	IncrementReceived()
	IncrementDispatched(latency time.Duration)
	IncrementDropped()
	IncrementParseError()
	IncrementHandlerError()
	IncrementConnectionError()
	IncrementReconnection()
	IncrementHeartbeatTimeout()
	GetStats() map[string]interface{}
}
