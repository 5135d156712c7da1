package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"chatcore/internal/transport"
	"chatcore/pkg/protocol"
)

var (
	// ErrNotConnected is returned when a send is attempted without an
	// active connection.
	ErrNotConnected = errors.New("not connected to server")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("client is closed")

	// ErrAlreadyConnected is returned by a second Connect call.
	ErrAlreadyConnected = errors.New("already connected")
)

// writeTimeout bounds a single outbound frame write.
const writeTimeout = 5 * time.Second

// EventSink receives connection lifecycle transitions and inbound frames.
// Every call carries the generation of the connection that produced it so
// the sink can discard events from a superseded connection.
type EventSink interface {
	HandleConnected(gen uint64)
	HandleDisconnected(gen uint64)
	HandleFrame(gen uint64, frame []byte)
}

// ConnectionManager owns the transport connection exclusively. It dials
// through the configured transports in preference order, reconnects with a
// bounded number of fixed-delay attempts after transport loss, and tags
// everything it surfaces with a monotonically increasing connection
// generation. No application-level logic lives here.
type ConnectionManager struct {
	endpoint string
	cfg      Config
	sink     EventSink
	log      *zap.Logger

	mu         sync.Mutex
	conn       transport.Conn
	generation uint64
	started    bool
	closed     bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewConnectionManager creates a manager for the given endpoint. Nothing
// happens until Connect.
func NewConnectionManager(endpoint string, cfg Config, sink EventSink) *ConnectionManager {
	cfg = cfg.withDefaults()
	return &ConnectionManager{
		endpoint: endpoint,
		cfg:      cfg,
		sink:     sink,
		log:      cfg.Logger,
	}
}

// Connect establishes the initial connection and starts the read loop. The
// context bounds the initial dial only; the connection itself lives until
// Close.
func (m *ConnectionManager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.started {
		m.mu.Unlock()
		return ErrAlreadyConnected
	}
	m.started = true
	m.mu.Unlock()

	conn, err := m.dial(ctx)
	if err != nil {
		m.mu.Lock()
		m.started = false
		m.mu.Unlock()
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		cancel()
		conn.Close()
		return ErrClosed
	}
	m.conn = conn
	m.generation++
	gen := m.generation
	m.cancel = cancel
	m.mu.Unlock()

	m.sink.HandleConnected(gen)

	m.wg.Add(1)
	go m.readLoop(runCtx, conn, gen)
	return nil
}

// Send encodes and transmits a client event over the current connection.
func (m *ConnectionManager) Send(ev protocol.ClientEvent) error {
	frame, err := protocol.EncodeClientEvent(ev)
	if err != nil {
		return err
	}

	m.mu.Lock()
	conn := m.conn
	closed := m.closed
	m.mu.Unlock()

	if closed {
		return ErrClosed
	}
	if conn == nil {
		return ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := conn.WriteFrame(ctx, frame); err != nil {
		return fmt.Errorf("failed to send event: %w", err)
	}
	return nil
}

// Generation returns the current connection generation. Generation 0 means
// no connection was ever established.
func (m *ConnectionManager) Generation() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generation
}

// Connected reports whether a connection is currently active.
func (m *ConnectionManager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn != nil
}

// Close tears the connection down. When Close returns, the read loop has
// exited and no further sink callback will fire.
func (m *ConnectionManager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	conn := m.conn
	m.conn = nil
	cancel := m.cancel
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}
	m.wg.Wait()
}

// readLoop reads frames until the connection drops, then reconnects if
// configured. All sink callbacks originate here (after the initial
// HandleConnected), so they are naturally serialized.
func (m *ConnectionManager) readLoop(ctx context.Context, conn transport.Conn, gen uint64) {
	defer m.wg.Done()

	for {
		frame, err := conn.ReadFrame(ctx)
		if err != nil {
			conn.Close()
			m.dropConn(conn)

			if m.isClosed() || ctx.Err() != nil {
				return
			}
			m.log.Info("connection lost",
				zap.Uint64("generation", gen),
				zap.Error(err))
			m.sink.HandleDisconnected(gen)

			if !m.cfg.Reconnection {
				return
			}
			next, nextGen, ok := m.reconnect(ctx)
			if !ok {
				return
			}
			conn, gen = next, nextGen
			m.sink.HandleConnected(gen)
			continue
		}
		m.sink.HandleFrame(gen, frame)
	}
}

// reconnect retries the dial up to MaxAttempts times, pausing RetryDelay
// before each attempt. It never retries indefinitely.
func (m *ConnectionManager) reconnect(ctx context.Context) (transport.Conn, uint64, bool) {
	for attempt := 1; attempt <= m.cfg.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, 0, false
		case <-time.After(m.cfg.RetryDelay):
		}

		conn, err := m.dial(ctx)
		if err != nil {
			m.log.Warn("reconnect attempt failed",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", m.cfg.MaxAttempts),
				zap.Error(err))
			continue
		}

		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			conn.Close()
			return nil, 0, false
		}
		m.conn = conn
		m.generation++
		gen := m.generation
		m.mu.Unlock()

		m.log.Info("reconnected",
			zap.Int("attempt", attempt),
			zap.Uint64("generation", gen))
		return conn, gen, true
	}

	m.log.Warn("giving up after max reconnect attempts",
		zap.Int("max_attempts", m.cfg.MaxAttempts))
	return nil, 0, false
}

// dial walks the transport preference order until one connects.
func (m *ConnectionManager) dial(ctx context.Context) (transport.Conn, error) {
	var errs []error
	for _, d := range m.cfg.Transports {
		dialCtx, cancel := context.WithTimeout(ctx, m.cfg.DialTimeout)
		conn, err := d.Dial(dialCtx, m.endpoint)
		cancel()
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", d.Scheme(), err))
			continue
		}
		m.log.Debug("transport connected",
			zap.String("transport", d.Scheme()),
			zap.String("remote", conn.RemoteAddr()))
		return conn, nil
	}
	return nil, fmt.Errorf("all transports failed: %w", errors.Join(errs...))
}

func (m *ConnectionManager) dropConn(conn transport.Conn) {
	m.mu.Lock()
	if m.conn == conn {
		m.conn = nil
	}
	m.mu.Unlock()
}

func (m *ConnectionManager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
