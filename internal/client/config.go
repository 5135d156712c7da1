package client

import (
	"time"

	"go.uber.org/zap"

	"chatcore/internal/transport"
	"chatcore/internal/transport/polling"
	"chatcore/internal/transport/ws"
)

// Config controls connection behavior. DefaultConfig matches the settings
// the chat backend expects; a zero Config disables reconnection entirely.
type Config struct {
	// Reconnection enables automatic reconnect after transport loss.
	Reconnection bool

	// MaxAttempts bounds the number of reconnect attempts per drop.
	MaxAttempts int

	// RetryDelay is the fixed pause before each reconnect attempt.
	RetryDelay time.Duration

	// DialTimeout bounds a single connection attempt, per transport.
	DialTimeout time.Duration

	// Transports are tried in order until one connects.
	Transports []transport.Dialer

	// Logger receives connection and routing diagnostics. Defaults to a
	// no-op logger.
	Logger *zap.Logger
}

// DefaultConfig returns the standard client configuration: reconnection
// enabled with 5 attempts spaced 1s apart, a 20s dial timeout, and the
// websocket transport preferred over long-polling.
func DefaultConfig() Config {
	return Config{
		Reconnection: true,
		MaxAttempts:  5,
		RetryDelay:   time.Second,
		DialTimeout:  20 * time.Second,
		Transports:   []transport.Dialer{ws.Dialer{}, polling.Dialer{}},
		Logger:       zap.NewNop(),
	}
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 20 * time.Second
	}
	if len(c.Transports) == 0 {
		c.Transports = []transport.Dialer{ws.Dialer{}, polling.Dialer{}}
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}
