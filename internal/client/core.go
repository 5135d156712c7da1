// Package client implements the client-side real-time synchronization core
// of the chat system: connection management with bounded reconnection, the
// username handshake, the online-presence roster, the chronological
// timeline, and per-message delivery status. A rendering layer consumes
// immutable snapshots and feeds back exactly two actions: submit-username
// and submit-message.
package client

import (
	"context"
	"errors"
	"strings"

	"chatcore/pkg/protocol"
)

var (
	// ErrEmptyMessage rejects a blank message before any network traffic.
	ErrEmptyMessage = errors.New("message must not be empty")

	// ErrNotAuthenticated rejects sends before the handshake completed.
	ErrNotAuthenticated = errors.New("not authenticated")
)

// Snapshot is a self-contained view of the core's state. All reference
// fields are copies, safe to hand to a rendering layer.
type Snapshot struct {
	Connected        bool
	Authenticated    bool
	Username         string
	Roster           []string
	Timeline         []Entry
	DeliveryStatuses map[string]Status
}

// Core wires the connection manager and the event router together behind
// the collaborator interface.
type Core struct {
	cfg    Config
	router *EventRouter
	conn   *ConnectionManager
}

// New creates a core for the given server endpoint (an HTTP(S) base URL).
// Nothing connects until Connect.
func New(endpoint string, cfg Config) *Core {
	cfg = cfg.withDefaults()
	router := newEventRouter(cfg.Logger)
	return &Core{
		cfg:    cfg,
		router: router,
		conn:   NewConnectionManager(endpoint, cfg, router),
	}
}

// Connect establishes the connection. The context bounds the initial dial.
func (c *Core) Connect(ctx context.Context) error {
	return c.conn.Connect(ctx)
}

// Snapshot returns the current state for rendering.
func (c *Core) Snapshot() Snapshot {
	return c.router.snapshot()
}

// Updates signals coalesced state changes. Receivers should re-read
// Snapshot after each signal.
func (c *Core) Updates() <-chan struct{} {
	return c.router.updates
}

// SubmitUsername starts the authenticate handshake. Blank usernames are
// rejected locally without a round-trip.
func (c *Core) SubmitUsername(name string) error {
	c.router.mu.Lock()
	ev, err := c.router.session.Begin(name)
	c.router.mu.Unlock()
	if err != nil {
		return err
	}
	return c.conn.Send(ev)
}

// SubmitMessageText sends a chat message. It is rejected locally when the
// text is blank, the handshake has not completed, or no connection is
// active. The message id is allocated here and tracked as sending until
// the server echoes it back.
func (c *Core) SubmitMessageText(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}

	c.router.mu.Lock()
	if !c.router.session.Authenticated() {
		c.router.mu.Unlock()
		return ErrNotAuthenticated
	}
	if !c.router.connected {
		c.router.mu.Unlock()
		return ErrNotConnected
	}
	msg := c.router.delivery.BeginSend(text, c.router.session.Username())
	c.router.notifyLocked()
	c.router.mu.Unlock()

	return c.conn.Send(protocol.SendMessage{Message: msg})
}

// Close tears everything down: the connection is closed, the read loop has
// exited, and late callbacks from it can no longer mutate state.
func (c *Core) Close() {
	c.conn.Close()
	c.router.close()
}
