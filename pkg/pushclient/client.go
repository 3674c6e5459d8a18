// Package pushclient is the entry point application code holds on to. It assembles
// the connection manager, dispatcher and handler registry and exposes one registration
// method per push message type.
package pushclient

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/backtesting-org/dashboard-push/pkg/logging"
	"github.com/backtesting-org/dashboard-push/pkg/websocket/base"
	"github.com/backtesting-org/dashboard-push/pkg/websocket/connection"
	"github.com/backtesting-org/dashboard-push/pkg/websocket/performance"
	"github.com/backtesting-org/dashboard-push/pkg/websocket/security"
)

type Client struct {
	manager    connection.ConnectionManager
	registry   *base.HandlerRegistry
	dispatcher *base.Dispatcher
	metrics    performance.Metrics
	logger     logging.ApplicationLogger

	mu             sync.RWMutex
	onOpen         func()
	onClose        func(code int, reason string)
	onError        func(error)
	onReconnecting func(attempt int, delay time.Duration)
}

type options struct {
	dialer   connection.WebSocketDialer
	strategy connection.ReconnectionStrategy
	metrics  performance.Metrics
}

type Option func(*options)

// WithDialer replaces the gorilla/websocket dialer
func WithDialer(dialer connection.WebSocketDialer) Option {
	return func(o *options) { o.dialer = dialer }
}

// WithReconnectionStrategy replaces the exponential backoff built from the config
func WithReconnectionStrategy(strategy connection.ReconnectionStrategy) Option {
	return func(o *options) { o.strategy = strategy }
}

// WithMetrics shares a metrics collector with the caller
func WithMetrics(metrics performance.Metrics) Option {
	return func(o *options) { o.metrics = metrics }
}

// New validates cfg and wires a client. Nothing connects until Connect is called.
func New(cfg connection.Config, tokens security.TokenProvider, logger logging.ApplicationLogger, opts ...Option) (*Client, error) {
	if tokens == nil {
		return nil, fmt.Errorf("token provider is required")
	}
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = performance.NewMetrics()
	}

	registry := base.NewHandlerRegistry(logger)
	dispatcher := base.NewDispatcher(registry, o.metrics, logger)
	manager := connection.NewConnectionManager(cfg, tokens, o.strategy, o.metrics, logger, o.dialer)

	c := &Client{
		manager:    manager,
		registry:   registry,
		dispatcher: dispatcher,
		metrics:    o.metrics,
		logger:     logger,
	}

	dispatcher.SetPongHandler(manager.HandlePong)
	dispatcher.SetErrorHandler(c.emitError)
	manager.SetCallbacks(c.emitOpen, c.emitClose, dispatcher.Dispatch, c.emitError)
	manager.SetReconnectCallback(c.emitReconnecting)

	return c, nil
}

// Connect starts connecting and returns immediately
func (c *Client) Connect() {
	c.manager.Connect()
}

// Disconnect closes the connection with code 1000 and stops reconnecting
func (c *Client) Disconnect() {
	c.manager.Disconnect()
}

// Send serializes message as JSON. It fails with connection.ErrNotConnected unless open.
func (c *Client) Send(message interface{}) error {
	return c.manager.Send(message)
}

func (c *Client) IsConnected() bool {
	return c.manager.IsConnected()
}

func (c *Client) State() connection.ConnectionState {
	return c.manager.GetState()
}

func (c *Client) Stats() map[string]interface{} {
	return c.manager.GetConnectionStats()
}

func (c *Client) OnOpen(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onOpen = fn
}

func (c *Client) OnClose(fn func(code int, reason string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClose = fn
}

func (c *Client) OnError(fn func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = fn
}

// OnReconnecting is told the attempt number and delay of every scheduled reconnect
func (c *Client) OnReconnecting(fn func(attempt int, delay time.Duration)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onReconnecting = fn
}

// OnDeposit registers the deposit session handler, replacing any previous one. The
// handler gets the deposit object as sent by the backend; base.DecodeDeposit gives a
// typed view when one is wanted.
func (c *Client) OnDeposit(fn func(payload json.RawMessage)) {
	c.registerPayload(base.MessageTypeDeposit, fn)
}

// OnWithdrawal registers the withdrawal handler, replacing any previous one
func (c *Client) OnWithdrawal(fn func(payload json.RawMessage)) {
	c.registerPayload(base.MessageTypeWithdrawal, fn)
}

// OnBalance registers the balance handler, replacing any previous one
func (c *Client) OnBalance(fn func(payload json.RawMessage)) {
	c.registerPayload(base.MessageTypeBalance, fn)
}

func (c *Client) registerPayload(msgType base.MessageType, fn func(json.RawMessage)) {
	if fn == nil {
		c.registry.Register(msgType, nil)
		return
	}
	c.registry.Register(msgType, func(env *base.Envelope) error {
		fn(env.Payload)
		return nil
	})
}

// OnMessage registers a handler for any message type, including ones this package
// has no typed payload for. Registering a known type replaces its typed handler.
func (c *Client) OnMessage(msgType base.MessageType, fn func(*base.Envelope)) {
	if fn == nil {
		c.registry.Register(msgType, nil)
		return
	}
	c.registry.Register(msgType, func(env *base.Envelope) error {
		fn(env)
		return nil
	})
}

func (c *Client) emitOpen() {
	c.mu.RLock()
	fn := c.onOpen
	c.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

func (c *Client) emitClose(code int, reason string) {
	c.mu.RLock()
	fn := c.onClose
	c.mu.RUnlock()
	if fn != nil {
		fn(code, reason)
	}
}

func (c *Client) emitError(err error) {
	c.mu.RLock()
	fn := c.onError
	c.mu.RUnlock()
	if fn != nil {
		fn(err)
	}
}

func (c *Client) emitReconnecting(attempt int, delay time.Duration) {
	c.mu.RLock()
	fn := c.onReconnecting
	c.mu.RUnlock()
	if fn != nil {
		fn(attempt, delay)
	}
}
