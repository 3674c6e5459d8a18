package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/backtesting-org/dashboard-push/pkg/logging"
	"github.com/backtesting-org/dashboard-push/pkg/websocket/base"
	"github.com/backtesting-org/dashboard-push/pkg/websocket/performance"
	"github.com/backtesting-org/dashboard-push/pkg/websocket/security"
)

type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateOpen
	StateClosing
)

func (cs ConnectionState) String() string {
	switch cs {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

const userAgent = "Dashboard-Push/1.0"

// connectionManager is the push connection state machine. Every field below mu is
// guarded by it; user callbacks are collected under the lock and run after it is
// released so they may call back into the manager.
type connectionManager struct {
	config   Config
	tokens   security.TokenProvider
	strategy ReconnectionStrategy
	metrics  performance.Metrics
	logger   logging.ApplicationLogger
	dialer   WebSocketDialer

	writeMu sync.Mutex

	mu             sync.Mutex
	state          ConnectionState
	conn           WebSocketConn
	generation     uint64
	connectionID   string
	dialCancel     context.CancelFunc
	attemptCount   int
	intentional    bool
	heartbeat      *heartbeat
	reconnectTimer *time.Timer
	reconnectSeq   uint64
	closeTimer     *time.Timer
	lastActivity   time.Time

	onOpen         func()
	onClose        func(code int, reason string)
	onMessage      func([]byte)
	onError        func(error)
	onReconnecting func(attempt int, delay time.Duration)
}

// NewConnectionManager builds a manager. A nil strategy uses exponential backoff from
// config, a nil dialer uses gorilla/websocket.
func NewConnectionManager(
	config Config,
	tokens security.TokenProvider,
	strategy ReconnectionStrategy,
	metrics performance.Metrics,
	logger logging.ApplicationLogger,
	dialer WebSocketDialer,
) ConnectionManager {
	if strategy == nil {
		strategy = NewExponentialBackoffStrategy(config.ReconnectInitialDelay, config.ReconnectMaxDelay, config.ReconnectMaxJitter)
	}
	if dialer == nil {
		dialer = NewGorillaDialer(config)
	}
	if metrics == nil {
		metrics = performance.NewMetrics()
	}

	cm := &connectionManager{
		config:   config,
		tokens:   tokens,
		strategy: strategy,
		metrics:  metrics,
		logger:   logger,
		dialer:   dialer,
		state:    StateDisconnected,
	}
	cm.heartbeat = newHeartbeat(config.PingInterval, config.PongTimeout, cm.pingTick, cm.pongExpired)

	return cm
}

func (cm *connectionManager) SetCallbacks(
	onOpen func(),
	onClose func(code int, reason string),
	onMessage func([]byte),
	onError func(error),
) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.onOpen = onOpen
	cm.onClose = onClose
	cm.onMessage = onMessage
	cm.onError = onError
}

func (cm *connectionManager) SetReconnectCallback(onReconnecting func(attempt int, delay time.Duration)) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.onReconnecting = onReconnecting
}

// Connect opens the transport unless one is already connecting or open
func (cm *connectionManager) Connect() {
	cm.mu.Lock()

	if cm.state == StateConnecting || cm.state == StateOpen {
		cm.logger.Debug("Connect ignored, connection is %s", cm.state)
		cm.mu.Unlock()
		return
	}

	var fire []func()
	if cm.state == StateClosing {
		// settle the pending intentional close before a new transport replaces it
		fire = cm.handleCloseLocked(CloseClientDisconnect, reasonClientDisconnect)
	}

	cm.cancelReconnectLocked()
	cm.startDialLocked()
	cm.mu.Unlock()

	cm.run(fire)
}

func (cm *connectionManager) startDialLocked() {
	cm.generation++
	gen := cm.generation
	cm.setState(StateConnecting)

	ctx, cancel := context.WithTimeout(context.Background(), cm.config.ConnectTimeout)
	cm.dialCancel = cancel

	go cm.dial(ctx, cancel, gen)
}

func (cm *connectionManager) dial(ctx context.Context, cancel context.CancelFunc, gen uint64) {
	defer cancel()

	token, err := cm.tokens.Token(ctx)
	if err != nil {
		cm.handleDialFailure(gen, &TransportError{Op: "token", Err: err})
		return
	}

	u, err := security.BuildURL(cm.config.URL, cm.config.TokenParam, token)
	if err != nil {
		cm.handleDialFailure(gen, &TransportError{Op: "dial", Err: err})
		return
	}

	cm.logger.Info("🔌 Connecting to %s", cm.config.URL)

	headers := http.Header{}
	headers.Set("User-Agent", userAgent)

	conn, _, err := cm.dialer.DialContext(ctx, u, headers)
	if err != nil {
		cm.handleDialFailure(gen, &TransportError{Op: "dial", Err: err})
		return
	}

	if !cm.handleOpen(gen, conn) {
		_ = conn.Close()
		return
	}

	cm.readMessages(gen, conn)
}

func (cm *connectionManager) handleOpen(gen uint64, conn WebSocketConn) bool {
	cm.mu.Lock()

	if gen != cm.generation || cm.state != StateConnecting {
		cm.mu.Unlock()
		cm.logger.Debug("Discarding transport from superseded connect")
		return false
	}

	conn.SetReadLimit(cm.config.MaxMessageSize)

	cm.conn = conn
	cm.connectionID = uuid.NewString()
	cm.dialCancel = nil
	cm.attemptCount = 0
	cm.lastActivity = time.Now()
	cm.setState(StateOpen)
	cm.heartbeat.start()

	cm.logger.Info("✅ WebSocket connected (connection_id=%s)", cm.connectionID)

	onOpen := cm.onOpen
	cm.mu.Unlock()

	if onOpen != nil {
		cm.run([]func(){onOpen})
	}
	return true
}

func (cm *connectionManager) handleDialFailure(gen uint64, err error) {
	cm.mu.Lock()

	if gen != cm.generation {
		cm.mu.Unlock()
		return
	}

	cm.metrics.IncrementConnectionError()
	cm.logger.Warn("❌ Failed to connect: %v", err)

	fire := cm.errorCallbackLocked(err)
	fire = append(fire, cm.handleCloseLocked(CloseAbnormal, err.Error())...)
	cm.mu.Unlock()

	cm.run(fire)
}

func (cm *connectionManager) readMessages(gen uint64, conn WebSocketConn) {
	defer func() {
		if r := recover(); r != nil {
			cm.logger.Error("🔥 WebSocket read panic: %v", r)
			cm.handleReadError(gen, fmt.Errorf("read loop panic: %v", r))
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			cm.handleReadError(gen, err)
			return
		}

		onMessage, current := cm.touch(gen)
		if !current {
			return
		}

		cm.metrics.IncrementReceived()
		cm.logger.Debug("📥 Frame received (%d bytes)", len(message))

		if onMessage != nil {
			onMessage(message)
		}
	}
}

func (cm *connectionManager) touch(gen uint64) (func([]byte), bool) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if gen != cm.generation {
		return nil, false
	}
	cm.lastActivity = time.Now()
	return cm.onMessage, true
}

func (cm *connectionManager) handleReadError(gen uint64, err error) {
	cm.mu.Lock()

	if gen != cm.generation {
		cm.mu.Unlock()
		return
	}

	code, reason := CloseAbnormal, err.Error()

	var fire []func()
	var closeErr *websocket.CloseError
	switch {
	case cm.state == StateClosing:
		// the peer echoed (or dropped) our own close frame
		code, reason = CloseClientDisconnect, reasonClientDisconnect
	case errors.As(err, &closeErr):
		code, reason = closeErr.Code, closeErr.Text
		cm.logger.Info("⚠️  WebSocket closed by peer (code=%d, reason=%q)", code, reason)
	default:
		cm.metrics.IncrementConnectionError()
		cm.logger.Error("❌ WebSocket read error: %v", err)
		fire = cm.errorCallbackLocked(&TransportError{Op: "read", Err: err})
	}

	fire = append(fire, cm.handleCloseLocked(code, reason)...)
	cm.mu.Unlock()

	cm.run(fire)
}

// handleCloseLocked is the single close path: it releases the transport, stops the
// heartbeat, consumes the intentional flag and, unless the close was intentional,
// schedules the next attempt. It returns the callbacks to fire once mu is released.
func (cm *connectionManager) handleCloseLocked(code int, reason string) []func() {
	cm.heartbeat.stop()

	if cm.closeTimer != nil {
		cm.closeTimer.Stop()
		cm.closeTimer = nil
	}
	if cm.dialCancel != nil {
		cm.dialCancel()
		cm.dialCancel = nil
	}
	if cm.conn != nil {
		releaseTransport(cm.conn, code, reason)
		cm.conn = nil
	}

	// anything still running for the old transport is now stale
	cm.generation++
	cm.setState(StateDisconnected)

	var fire []func()
	if cm.onClose != nil {
		onClose := cm.onClose
		fire = append(fire, func() { onClose(code, reason) })
	}

	intentional := cm.intentional
	cm.intentional = false

	if intentional {
		cm.logger.Info("WebSocket disconnected (code=%d)", code)
		return fire
	}

	delay := cm.strategy.NextDelay(cm.attemptCount)
	cm.scheduleReconnectLocked(delay)

	attempt := cm.attemptCount + 1
	cm.logger.Warn("🔌❌ WebSocket closed (code=%d, reason=%q), reconnect attempt %d in %v", code, reason, attempt, delay)

	if cm.onReconnecting != nil {
		onReconnecting := cm.onReconnecting
		fire = append(fire, func() { onReconnecting(attempt, delay) })
	}
	return fire
}

func releaseTransport(conn WebSocketConn, code int, reason string) {
	go func() {
		// best effort, the peer may already be gone
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
		_ = conn.Close()
	}()
}

func (cm *connectionManager) scheduleReconnectLocked(delay time.Duration) {
	cm.cancelReconnectLocked()
	seq := cm.reconnectSeq
	cm.reconnectTimer = time.AfterFunc(delay, func() {
		cm.reconnectFired(seq)
	})
}

func (cm *connectionManager) cancelReconnectLocked() {
	if cm.reconnectTimer != nil {
		cm.reconnectTimer.Stop()
		cm.reconnectTimer = nil
	}
	cm.reconnectSeq++
}

func (cm *connectionManager) reconnectFired(seq uint64) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if seq != cm.reconnectSeq || cm.reconnectTimer == nil {
		return
	}
	cm.reconnectTimer = nil

	if cm.state != StateDisconnected {
		return
	}

	cm.attemptCount++
	cm.metrics.IncrementReconnection()
	cm.logger.Info("Reconnection attempt %d", cm.attemptCount)
	cm.startDialLocked()
}

// Disconnect closes the transport with code 1000 and suppresses reconnection for
// that close. A reconnect already scheduled by an earlier close is cancelled too.
func (cm *connectionManager) Disconnect() {
	cm.mu.Lock()

	cm.cancelReconnectLocked()

	switch cm.state {
	case StateOpen:
		cm.intentional = true
		cm.setState(StateClosing)
		cm.heartbeat.stop()

		conn, gen := cm.conn, cm.generation
		cm.closeTimer = time.AfterFunc(cm.config.CloseTimeout, func() {
			cm.finishClose(gen)
		})
		cm.mu.Unlock()

		cm.logger.Info("Closing WebSocket connection")
		msg := websocket.FormatCloseMessage(CloseClientDisconnect, reasonClientDisconnect)
		if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(cm.config.WriteTimeout)); err != nil {
			cm.logger.Debug("Close frame not sent: %v", err)
			cm.finishClose(gen)
		}
		return

	case StateConnecting:
		cm.intentional = true
		fire := cm.handleCloseLocked(CloseClientDisconnect, reasonClientDisconnect)
		cm.mu.Unlock()
		cm.run(fire)
		return

	default:
		// nothing to close, so nothing may consume the flag later
		cm.intentional = false
		cm.mu.Unlock()
	}
}

// finishClose completes an intentional close the peer did not acknowledge in time
func (cm *connectionManager) finishClose(gen uint64) {
	cm.mu.Lock()

	if gen != cm.generation || cm.state != StateClosing {
		cm.mu.Unlock()
		return
	}

	fire := cm.handleCloseLocked(CloseClientDisconnect, reasonClientDisconnect)
	cm.mu.Unlock()

	cm.run(fire)
}

func (cm *connectionManager) pingTick(epoch uint64) {
	cm.mu.Lock()

	if !cm.heartbeat.isCurrent(epoch) || cm.state != StateOpen {
		cm.mu.Unlock()
		return
	}

	cm.heartbeat.scheduleNextPing()

	if cm.heartbeat.pending() {
		cm.logger.Debug("Previous pong still pending, skipping ping")
		cm.mu.Unlock()
		return
	}

	cm.heartbeat.armDeadline()
	conn := cm.conn
	cm.mu.Unlock()

	data, _ := json.Marshal(base.NewPing())
	cm.logger.Debug("📤 Sending heartbeat ping")

	if err := cm.write(conn, data); err != nil {
		cm.logger.Debug("Heartbeat ping failed: %v", err)
		cm.mu.Lock()
		fire := cm.errorCallbackLocked(err)
		cm.mu.Unlock()
		cm.run(fire)
	}
}

func (cm *connectionManager) pongExpired(epoch, seq uint64) {
	cm.mu.Lock()

	if !cm.heartbeat.isCurrent(epoch) || cm.state != StateOpen || !cm.heartbeat.expire(seq) {
		cm.mu.Unlock()
		return
	}

	cm.metrics.IncrementHeartbeatTimeout()
	cm.logger.Warn("💔 No pong within %v, forcing reconnect", cm.config.PongTimeout)

	cm.intentional = false
	fire := cm.handleCloseLocked(CloseHeartbeatTimeout, reasonPongTimeout)
	cm.mu.Unlock()

	cm.run(fire)
}

// HandlePong cancels the outstanding pong deadline
func (cm *connectionManager) HandlePong() {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.state != StateOpen {
		return
	}

	if cm.heartbeat.pongReceived() {
		cm.lastActivity = time.Now()
		cm.logger.Debug("✅ Heartbeat pong received")
		return
	}
	cm.logger.Debug("Ignoring pong with no ping outstanding")
}

func (cm *connectionManager) Send(v interface{}) error {
	if state := cm.GetState(); state != StateOpen {
		return &NotConnectedError{State: state}
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	return cm.SendRaw(data)
}

func (cm *connectionManager) SendRaw(data []byte) error {
	cm.mu.Lock()
	if cm.state != StateOpen || cm.conn == nil {
		state := cm.state
		cm.mu.Unlock()
		return &NotConnectedError{State: state}
	}
	conn := cm.conn
	cm.mu.Unlock()

	cm.logger.Debug("Sending WebSocket message: %s", string(data))
	return cm.write(conn, data)
}

func (cm *connectionManager) write(conn WebSocketConn, data []byte) error {
	cm.writeMu.Lock()
	defer cm.writeMu.Unlock()

	if err := conn.SetWriteDeadline(time.Now().Add(cm.config.WriteTimeout)); err != nil {
		return &TransportError{Op: "write", Err: fmt.Errorf("failed to set write deadline: %w", err)}
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return &TransportError{Op: "write", Err: err}
	}
	return nil
}

func (cm *connectionManager) GetState() ConnectionState {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.state
}

func (cm *connectionManager) IsConnected() bool {
	return cm.GetState() == StateOpen
}

func (cm *connectionManager) GetConnectionStats() map[string]interface{} {
	cm.mu.Lock()
	stats := map[string]interface{}{
		"state":             cm.state.String(),
		"connected":         cm.state == StateOpen,
		"connection_id":     cm.connectionID,
		"attempt_count":     cm.attemptCount,
		"reconnect_pending": cm.reconnectTimer != nil,
		"last_activity":     cm.lastActivity,
		"url":               cm.config.URL,
	}
	cm.mu.Unlock()

	for k, v := range cm.metrics.GetStats() {
		stats[k] = v
	}
	return stats
}

func (cm *connectionManager) setState(state ConnectionState) {
	cm.state = state
	cm.logger.Debug("Connection state changed to: %s", state.String())
}

func (cm *connectionManager) errorCallbackLocked(err error) []func() {
	if cm.onError == nil {
		return nil
	}
	onError := cm.onError
	return []func(){func() { onError(err) }}
}

// run invokes user callbacks in order. A panicking callback is logged and skipped.
func (cm *connectionManager) run(fire []func()) {
	for _, fn := range fire {
		func() {
			defer func() {
				if r := recover(); r != nil {
					cm.logger.Error("🔥 Callback panic: %v", r)
				}
			}()
			fn()
		}()
	}
}
