// Package transport abstracts the bidirectional channel between the chat
// client and the server so the sync core never touches a concrete socket.
package transport

import (
	"context"
	"errors"
)

// ErrClosed is returned by Conn operations after Close.
var ErrClosed = errors.New("transport: connection closed")

// Conn is a single established connection carrying protocol envelope frames.
type Conn interface {
	// ReadFrame reads one envelope frame. It returns an error once the
	// connection is lost or closed.
	ReadFrame(ctx context.Context) ([]byte, error)

	// WriteFrame sends one envelope frame.
	WriteFrame(ctx context.Context, frame []byte) error

	// Close closes the connection. Pending reads and writes fail afterwards.
	Close() error

	// RemoteAddr returns the server address for logging.
	RemoteAddr() string
}

// Dialer establishes connections for one transport kind. The connection
// manager walks its configured dialers in preference order until one
// succeeds.
type Dialer interface {
	// Dial connects to the server at the given HTTP(S) endpoint URL.
	Dial(ctx context.Context, endpoint string) (Conn, error)

	// Scheme names the transport for logging ("websocket", "polling").
	Scheme() string
}
