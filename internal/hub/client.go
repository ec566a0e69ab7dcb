package hub

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is a single established hub connection
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteJSON(v any) error
	Close() error
}

// Dialer establishes hub connections. The supervisor holds a Dialer so
// tests can substitute an in-memory transport.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebsocketDialer dials the hub over a real WebSocket
type WebsocketDialer struct {
	HandshakeTimeout time.Duration
}

func (d *WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := &websocket.Dialer{
		HandshakeTimeout: d.HandshakeTimeout,
	}

	ws, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial hub at %s: %w", url, err)
	}

	return &wsConn{ws: ws}, nil
}

type wsConn struct {
	ws *websocket.Conn
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	_, payload, err := c.ws.ReadMessage()
	return payload, err
}

func (c *wsConn) WriteJSON(v any) error {
	return c.ws.WriteJSON(v)
}

func (c *wsConn) Close() error {
	return c.ws.Close()
}
