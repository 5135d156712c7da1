// Package polling provides the long-polling fallback transport for
// environments where a WebSocket cannot be established.
package polling

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"

	"chatcore/internal/transport"
)

// closeNotifyTimeout bounds the courtesy notification sent on Close.
const closeNotifyTimeout = 2 * time.Second

// Dialer connects over HTTP long-polling. It is tried after the duplex
// transport fails.
type Dialer struct {
	// Client is the HTTP client to use. Defaults to http.DefaultClient.
	Client *http.Client
}

// Scheme implements transport.Dialer.
func (Dialer) Scheme() string {
	return "polling"
}

// Dial implements transport.Dialer. It registers a fresh polling session
// with the server; frames are then exchanged via /poll/send and
// /poll/events.
func (d Dialer) Dial(ctx context.Context, endpoint string) (transport.Conn, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}
	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}

	c := &Conn{
		base:    u,
		session: uuid.NewString(),
		client:  client,
		closed:  make(chan struct{}),
	}
	if err := c.post(ctx, "/poll/session", nil); err != nil {
		return nil, fmt.Errorf("failed to open polling session: %w", err)
	}
	return c, nil
}

// Conn is one registered polling session. Reads block on the server's
// /poll/events endpoint, which holds the request until a frame is queued.
type Conn struct {
	base    *url.URL
	session string
	client  *http.Client

	closeOnce sync.Once
	closed    chan struct{}
}

// ReadFrame implements transport.Conn. An empty poll (204) loops again, so
// callers only see frames or terminal errors.
func (c *Conn) ReadFrame(ctx context.Context) ([]byte, error) {
	for {
		select {
		case <-c.closed:
			return nil, transport.ErrClosed
		default:
		}

		frame, err := c.poll(ctx)
		if err != nil {
			return nil, err
		}
		if frame != nil {
			return frame, nil
		}
	}
}

// WriteFrame implements transport.Conn.
func (c *Conn) WriteFrame(ctx context.Context, frame []byte) error {
	select {
	case <-c.closed:
		return transport.ErrClosed
	default:
	}
	return c.post(ctx, "/poll/send", frame)
}

// Close implements transport.Conn. It unblocks pending polls and tells the
// server to drop the session.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		// Best-effort: the server also expires idle sessions on its own.
		ctx, cancel := context.WithTimeout(context.Background(), closeNotifyTimeout)
		defer cancel()
		if req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/poll/close"), nil); err == nil {
			if resp, err := c.client.Do(req); err == nil {
				resp.Body.Close()
			}
		}
	})
	return nil
}

// RemoteAddr implements transport.Conn.
func (c *Conn) RemoteAddr() string {
	return c.base.Host
}

func (c *Conn) poll(ctx context.Context) ([]byte, error) {
	ctx, cancel := c.watchClose(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/poll/events"), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		select {
		case <-c.closed:
			return nil, transport.ErrClosed
		default:
			return nil, fmt.Errorf("poll failed: %w", err)
		}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		frame, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read poll response: %w", err)
		}
		return frame, nil
	case http.StatusNoContent:
		return nil, nil
	default:
		return nil, fmt.Errorf("poll failed: server returned %s", resp.Status)
	}
}

func (c *Conn) post(ctx context.Context, path string, body []byte) error {
	ctx, cancel := c.watchClose(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	return nil
}

func (c *Conn) endpoint(path string) string {
	u := *c.base
	u.Path = path
	u.RawQuery = url.Values{"session": {c.session}}.Encode()
	return u.String()
}

// watchClose derives a context that is cancelled when the connection closes,
// so a pending long-poll does not outlive Close.
func (c *Conn) watchClose(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-c.closed:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
