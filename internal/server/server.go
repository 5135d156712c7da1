// Package server implements a development chat server speaking the client
// wire protocol over both transports: WebSocket and HTTP long-polling on a
// single listener.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"go.uber.org/zap"
)

const (
	// pollHold is how long an empty /poll/events request is held open.
	pollHold = 20 * time.Second

	// sessionTTL expires polling sessions that stopped polling.
	sessionTTL = 60 * time.Second

	defaultUserListInterval = 30 * time.Second

	maxFrameSize = 64 << 10
)

// Config configures the server.
type Config struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string

	// UserListInterval is the period of roster snapshot pushes.
	UserListInterval time.Duration

	Logger *zap.Logger
}

// Server accepts chat clients over WebSocket (/ws) and long-polling
// (/poll/*), delegating all protocol handling to a shared Hub.
type Server struct {
	cfg      Config
	log      *zap.Logger
	hub      *Hub
	listener net.Listener
	server   *http.Server

	mu       sync.Mutex
	sessions map[string]*pollSession

	quit chan struct{}
	wg   sync.WaitGroup
}

type pollSession struct {
	client   *Client
	lastSeen time.Time
}

// New creates a server. Call Start to begin serving.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.UserListInterval <= 0 {
		cfg.UserListInterval = defaultUserListInterval
	}
	return &Server{
		cfg:      cfg,
		log:      cfg.Logger,
		hub:      NewHub(cfg.Logger),
		sessions: make(map[string]*pollSession),
		quit:     make(chan struct{}),
	}
}

// Start listens and serves until Stop. It blocks.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.HandleFunc("POST /poll/session", s.handlePollSession)
	mux.HandleFunc("POST /poll/send", s.handlePollSend)
	mux.HandleFunc("GET /poll/events", s.handlePollEvents)
	mux.HandleFunc("POST /poll/close", s.handlePollClose)

	server := &http.Server{Handler: mux}

	s.mu.Lock()
	s.listener = listener
	s.server = server
	s.mu.Unlock()

	s.wg.Add(2)
	go s.pushUserListLoop()
	go s.expireSessionsLoop()

	s.log.Info("chat server started", zap.String("addr", listener.Addr().String()))

	if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop shuts the server down and disconnects every client.
func (s *Server) Stop() {
	close(s.quit)
	s.mu.Lock()
	server := s.server
	s.mu.Unlock()
	if server != nil {
		server.Shutdown(context.Background())
	}
	s.hub.CloseAll()
	s.wg.Wait()
}

// Addr returns the listening address, or "" before Start bound one.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// Hub exposes the hub for tests.
func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	client := s.hub.Connect()

	s.wg.Add(2)
	go s.wsWriteLoop(client, conn)
	go s.wsReadLoop(client, conn)
}

func (s *Server) wsReadLoop(client *Client, conn net.Conn) {
	defer s.wg.Done()
	defer s.hub.Disconnect(client)
	defer conn.Close()

	for {
		data, op, err := wsutil.ReadClientData(conn)
		if err != nil {
			return
		}
		if op == ws.OpText || op == ws.OpBinary {
			s.hub.HandleFrame(client, data)
		}
	}
}

func (s *Server) wsWriteLoop(client *Client, conn net.Conn) {
	defer s.wg.Done()

	for {
		select {
		case <-client.done:
			conn.Close()
			return
		case ob := <-client.outgoing:
			if err := wsutil.WriteServerText(conn, ob.frame); err != nil {
				conn.Close()
				return
			}
			if ob.sent != nil {
				ob.sent()
			}
		}
	}
}

func (s *Server) handlePollSession(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("session")
	if token == "" {
		http.Error(w, "missing session", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	if _, ok := s.sessions[token]; !ok {
		s.sessions[token] = &pollSession{
			client:   s.hub.Connect(),
			lastSeen: time.Now(),
		}
	}
	s.mu.Unlock()

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePollSend(w http.ResponseWriter, r *http.Request) {
	sess := s.session(r)
	if sess == nil {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	frame, err := io.ReadAll(io.LimitReader(r.Body, maxFrameSize))
	if err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}
	s.hub.HandleFrame(sess.client, frame)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePollEvents(w http.ResponseWriter, r *http.Request) {
	sess := s.session(r)
	if sess == nil {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	select {
	case ob := <-sess.client.outgoing:
		w.Header().Set("Content-Type", "application/json")
		w.Write(ob.frame)
		if ob.sent != nil {
			ob.sent()
		}
	case <-sess.client.done:
		w.WriteHeader(http.StatusGone)
	case <-s.quit:
		w.WriteHeader(http.StatusGone)
	case <-r.Context().Done():
	case <-time.After(pollHold):
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handlePollClose(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("session")

	s.mu.Lock()
	sess := s.sessions[token]
	delete(s.sessions, token)
	s.mu.Unlock()

	if sess != nil {
		s.hub.Disconnect(sess.client)
	}
	w.WriteHeader(http.StatusNoContent)
}

// session resolves the polling session for a request and refreshes its
// expiry.
func (s *Server) session(r *http.Request) *pollSession {
	token := r.URL.Query().Get("session")

	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.sessions[token]
	if sess != nil {
		sess.lastSeen = time.Now()
	}
	return sess
}

func (s *Server) pushUserListLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.UserListInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.quit:
			return
		case <-ticker.C:
			s.hub.PushUserList()
		}
	}
}

// expireSessionsLoop disconnects polling sessions whose client stopped
// polling; there is no other way to notice a vanished polling peer.
func (s *Server) expireSessionsLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(sessionTTL / 2)
	defer ticker.Stop()

	for {
		select {
		case <-s.quit:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-sessionTTL)

			s.mu.Lock()
			var expired []*pollSession
			for token, sess := range s.sessions {
				if sess.lastSeen.Before(cutoff) {
					expired = append(expired, sess)
					delete(s.sessions, token)
				}
			}
			s.mu.Unlock()

			for _, sess := range expired {
				s.hub.Disconnect(sess.client)
			}
		}
	}
}
