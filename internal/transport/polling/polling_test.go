package polling_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"chatcore/internal/transport"
	"chatcore/internal/transport/polling"
)

// pollServer is a minimal in-test implementation of the polling endpoints.
type pollServer struct {
	mu       sync.Mutex
	sessions map[string]chan []byte
	received [][]byte
}

func newPollServer() *pollServer {
	return &pollServer{sessions: make(map[string]chan []byte)}
}

func (p *pollServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /poll/session", func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		p.sessions[r.URL.Query().Get("session")] = make(chan []byte, 16)
		p.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("POST /poll/send", func(w http.ResponseWriter, r *http.Request) {
		if p.queue(r) == nil {
			http.Error(w, "unknown session", http.StatusNotFound)
			return
		}
		body, _ := io.ReadAll(r.Body)
		p.mu.Lock()
		p.received = append(p.received, body)
		p.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /poll/events", func(w http.ResponseWriter, r *http.Request) {
		queue := p.queue(r)
		if queue == nil {
			http.Error(w, "unknown session", http.StatusNotFound)
			return
		}
		select {
		case frame := <-queue:
			w.Write(frame)
		case <-time.After(25 * time.Millisecond):
			w.WriteHeader(http.StatusNoContent)
		case <-r.Context().Done():
		}
	})
	mux.HandleFunc("POST /poll/close", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

func (p *pollServer) queue(r *http.Request) chan []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessions[r.URL.Query().Get("session")]
}

func (p *pollServer) push(frame []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, queue := range p.sessions {
		queue <- frame
	}
}

func (p *pollServer) sent() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]byte(nil), p.received...)
}

func TestDialer_RegistersSession(t *testing.T) {
	ps := newPollServer()
	server := httptest.NewServer(ps.handler())
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	conn, err := polling.Dialer{}.Dial(ctx, server.URL)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	ps.mu.Lock()
	sessions := len(ps.sessions)
	ps.mu.Unlock()
	if sessions != 1 {
		t.Errorf("server has %d sessions, want 1", sessions)
	}
}

func TestConn_WriteFrame(t *testing.T) {
	ps := newPollServer()
	server := httptest.NewServer(ps.handler())
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	conn, err := polling.Dialer{}.Dial(ctx, server.URL)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	frame := []byte(`{"event":"authenticate","data":{"username":"alice"}}`)
	if err := conn.WriteFrame(ctx, frame); err != nil {
		t.Fatalf("WriteFrame() error = %v", err)
	}

	got := ps.sent()
	if len(got) != 1 || string(got[0]) != string(frame) {
		t.Errorf("server received %q, want %q", got, frame)
	}
}

func TestConn_ReadFrameLoopsOverEmptyPolls(t *testing.T) {
	ps := newPollServer()
	server := httptest.NewServer(ps.handler())
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	conn, err := polling.Dialer{}.Dial(ctx, server.URL)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	frame := []byte(`{"event":"userList","data":{"users":["alice"]}}`)

	// Queue the frame only after the first empty poll cycles.
	go func() {
		time.Sleep(60 * time.Millisecond)
		ps.push(frame)
	}()

	got, err := conn.ReadFrame(ctx)
	if err != nil {
		t.Fatalf("ReadFrame() error = %v", err)
	}
	if string(got) != string(frame) {
		t.Errorf("ReadFrame() = %s, want %s", got, frame)
	}
}

func TestConn_CloseUnblocksRead(t *testing.T) {
	ps := newPollServer()
	server := httptest.NewServer(ps.handler())
	defer server.Close()

	conn, err := polling.Dialer{}.Dial(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := conn.ReadFrame(context.Background())
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	conn.Close()

	select {
	case err := <-errCh:
		if !errors.Is(err, transport.ErrClosed) {
			t.Errorf("ReadFrame() after Close error = %v, want ErrClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ReadFrame() still blocked after Close")
	}
}
