package performance

import (
	"sync"
	"time"
)

type metrics struct {
	FramesReceived    int64
	FramesDispatched  int64
	FramesDropped     int64
	ParseErrors       int64
	HandlerErrors     int64
	ConnectionErrors  int64
	ReconnectionCount int64
	HeartbeatTimeouts int64
	LastMessageTime   time.Time
	DispatchLatency   time.Duration
	mutex             sync.RWMutex
}

func NewMetrics() Metrics {
	return &metrics{}
}

func (m *metrics) IncrementReceived() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.FramesReceived++
	m.LastMessageTime = time.Now()
}

func (m *metrics) IncrementDispatched(latency time.Duration) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.FramesDispatched++
	m.DispatchLatency = latency
}

func (m *metrics) IncrementDropped() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.FramesDropped++
}

func (m *metrics) IncrementParseError() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.ParseErrors++
}

func (m *metrics) IncrementHandlerError() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.HandlerErrors++
}

func (m *metrics) IncrementConnectionError() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.ConnectionErrors++
}

func (m *metrics) IncrementReconnection() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.ReconnectionCount++
}

func (m *metrics) IncrementHeartbeatTimeout() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.HeartbeatTimeouts++
}

func (m *metrics) GetStats() map[string]interface{} {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	return map[string]interface{}{
		"frames_received":     m.FramesReceived,
		"frames_dispatched":   m.FramesDispatched,
		"frames_dropped":      m.FramesDropped,
		"parse_errors":        m.ParseErrors,
		"handler_errors":      m.HandlerErrors,
		"connection_errors":   m.ConnectionErrors,
		"reconnection_count":  m.ReconnectionCount,
		"heartbeat_timeouts":  m.HeartbeatTimeouts,
		"last_message_time":   m.LastMessageTime,
		"dispatch_latency_ms": m.DispatchLatency.Milliseconds(),
	}
}
