package base

import (
	"fmt"
	"sync"
	"time"

	"github.com/backtesting-org/dashboard-push/pkg/logging"
	"github.com/backtesting-org/dashboard-push/pkg/websocket/performance"
)

const slowDispatchThreshold = 10 * time.Millisecond

// Handler processes one routed envelope. A returned error is reported, it never
// stops the dispatcher.
type Handler func(env *Envelope) error

// HandlerRegistry maps a message type to exactly one handler
type HandlerRegistry struct {
	handlers map[MessageType]Handler
	mu       sync.RWMutex
	logger   logging.ApplicationLogger
}

func NewHandlerRegistry(logger logging.ApplicationLogger) *HandlerRegistry {
	return &HandlerRegistry{
		handlers: make(map[MessageType]Handler),
		logger:   logger,
	}
}

// Register installs handler for msgType, replacing any previous one. A nil handler
// removes the registration.
func (hr *HandlerRegistry) Register(msgType MessageType, handler Handler) {
	hr.mu.Lock()
	defer hr.mu.Unlock()

	if handler == nil {
		delete(hr.handlers, msgType)
		hr.logger.Debug("Removed handler for message type: %s", msgType)
		return
	}

	if _, exists := hr.handlers[msgType]; exists {
		hr.logger.Debug("Replacing handler for message type: %s", msgType)
	} else {
		hr.logger.Debug("Registered handler for message type: %s", msgType)
	}
	hr.handlers[msgType] = handler
}

// Lookup returns the handler registered for msgType
func (hr *HandlerRegistry) Lookup(msgType MessageType) (Handler, bool) {
	hr.mu.RLock()
	defer hr.mu.RUnlock()
	h, ok := hr.handlers[msgType]
	return h, ok
}

// GetRegisteredTypes returns all registered message types
func (hr *HandlerRegistry) GetRegisteredTypes() []MessageType {
	hr.mu.RLock()
	defer hr.mu.RUnlock()

	types := make([]MessageType, 0, len(hr.handlers))
	for msgType := range hr.handlers {
		types = append(types, msgType)
	}
	return types
}

// Dispatcher turns raw inbound frames into handler calls
type Dispatcher struct {
	registry *HandlerRegistry
	metrics  performance.Metrics
	logger   logging.ApplicationLogger

	hooksMu sync.RWMutex
	onPong  func()
	onError func(error)
}

func NewDispatcher(registry *HandlerRegistry, metrics performance.Metrics, logger logging.ApplicationLogger) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		metrics:  metrics,
		logger:   logger,
	}
}

// SetPongHandler routes pong frames, normally to the heartbeat monitor
func (d *Dispatcher) SetPongHandler(fn func()) {
	d.hooksMu.Lock()
	defer d.hooksMu.Unlock()
	d.onPong = fn
}

// SetErrorHandler receives parse and handler errors
func (d *Dispatcher) SetErrorHandler(fn func(error)) {
	d.hooksMu.Lock()
	defer d.hooksMu.Unlock()
	d.onError = fn
}

// Dispatch parses frame and invokes the matching handler synchronously
func (d *Dispatcher) Dispatch(frame []byte) {
	start := time.Now()

	env, err := ParseEnvelope(frame)
	if err != nil {
		d.metrics.IncrementParseError()
		d.logger.Warn("Dropping malformed frame: %v", err)
		d.report(err)
		return
	}

	if env.Type.IsControl() {
		d.handleControl(env.Type)
		return
	}

	handler, ok := d.registry.Lookup(env.Type)
	if !ok {
		d.metrics.IncrementDropped()
		d.logger.Debug("No handler registered for message type: %s", env.Type)
		return
	}

	if err := d.invoke(handler, env); err != nil {
		d.metrics.IncrementHandlerError()
		d.logger.Error("Handler error: %v", err)
		d.report(err)
		return
	}

	latency := time.Since(start)
	d.metrics.IncrementDispatched(latency)

	// handlers run on the read goroutine, a slow one delays every later frame
	if latency > slowDispatchThreshold {
		d.logger.Warn("Slow %s handler: %v", env.Type, latency)
	}
}

// handleControl feeds pongs to the heartbeat. Server pings are not answered.
func (d *Dispatcher) handleControl(t MessageType) {
	if t != MessageTypePong {
		d.logger.Debug("Ignoring %s frame from server", t)
		return
	}

	d.hooksMu.RLock()
	onPong := d.onPong
	d.hooksMu.RUnlock()
	if onPong != nil {
		onPong()
	}
}

func (d *Dispatcher) invoke(handler Handler, env *Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &HandlerError{Type: env.Type, Panic: r, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	if herr := handler(env); herr != nil {
		return &HandlerError{Type: env.Type, Err: herr}
	}
	return nil
}

func (d *Dispatcher) report(err error) {
	d.hooksMu.RLock()
	onError := d.onError
	d.hooksMu.RUnlock()

	if onError == nil {
		return
	}

	// a panicking error callback must not take the read loop down with it
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Error callback panicked: %v", r)
		}
	}()
	onError(err)
}
