// Package ws provides the primary duplex transport over WebSocket.
package ws

import (
	"context"
	"fmt"
	"net/url"

	"nhooyr.io/websocket"

	"chatcore/internal/transport"
)

// Dialer connects over WebSocket. It is the preferred transport.
type Dialer struct{}

// Scheme implements transport.Dialer.
func (Dialer) Scheme() string {
	return "websocket"
}

// Dial implements transport.Dialer. The endpoint is the server's HTTP(S)
// base URL; the WebSocket lives on its /ws path.
func (Dialer) Dial(ctx context.Context, endpoint string) (transport.Conn, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	}

	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to server: %w", err)
	}
	return &Conn{conn: conn, remoteAddr: u.Host}, nil
}

// Conn adapts nhooyr.io/websocket to transport.Conn. Envelope frames travel
// as text messages.
type Conn struct {
	conn       *websocket.Conn
	remoteAddr string
}

// ReadFrame implements transport.Conn.
func (c *Conn) ReadFrame(ctx context.Context) ([]byte, error) {
	_, data, err := c.conn.Read(ctx)
	return data, err
}

// WriteFrame implements transport.Conn.
func (c *Conn) WriteFrame(ctx context.Context, frame []byte) error {
	return c.conn.Write(ctx, websocket.MessageText, frame)
}

// Close implements transport.Conn.
func (c *Conn) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "")
}

// RemoteAddr implements transport.Conn.
func (c *Conn) RemoteAddr() string {
	return c.remoteAddr
}
