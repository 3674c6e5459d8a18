package connection

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketConn is the subset of *websocket.Conn the manager drives
type WebSocketConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	Close() error
}

// WebSocketDialer opens push transports. Tests substitute a mock.
type WebSocketDialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (WebSocketConn, *http.Response, error)
}

type pushDialer struct {
	dialer *websocket.Dialer
}

// NewGorillaDialer returns the production dialer, sized from config
func NewGorillaDialer(config Config) WebSocketDialer {
	return &pushDialer{
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: config.HandshakeTimeout,
			ReadBufferSize:   config.ReadBufferSize,
			WriteBufferSize:  config.WriteBufferSize,
		},
	}
}

func (d *pushDialer) DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (WebSocketConn, *http.Response, error) {
	conn, resp, err := d.dialer.DialContext(ctx, urlStr, requestHeader)
	if err != nil {
		// a rejected upgrade (e.g. 401 for a stale token) is only visible on resp
		if resp != nil {
			return nil, resp, fmt.Errorf("handshake rejected with status %d: %w", resp.StatusCode, err)
		}
		return nil, nil, err
	}
	return conn, resp, nil
}
