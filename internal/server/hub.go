package server

import (
	"sort"
	"sync"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"chatcore/pkg/protocol"
)

// outbound is one frame queued for a client, with an optional callback
// fired once the frame actually reached the peer. The callback drives read
// acknowledgments.
type outbound struct {
	frame []byte
	sent  func()
}

// Client represents a connected client, independent of transport. The
// websocket write loop and the polling events handler both drain Outgoing.
type Client struct {
	hub *Hub

	mu            sync.Mutex
	username      string
	authenticated bool

	outgoing  chan outbound
	done      chan struct{}
	closeOnce sync.Once
}

func newClient(hub *Hub) *Client {
	return &Client{
		hub:      hub,
		outgoing: make(chan outbound, 16),
		done:     make(chan struct{}),
	}
}

// enqueue queues a frame for delivery. It reports false when the client is
// gone or its queue is full (slow consumers are dropped rather than
// blocking the hub).
func (c *Client) enqueue(frame []byte, sent func()) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.outgoing <- outbound{frame: frame, sent: sent}:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

func (c *Client) identity() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.username, c.authenticated
}

// Hub manages all connected clients and handles the chat protocol:
// handshake replies, broadcasts, roster snapshots, and delivery/read
// acknowledgments. Both transports share a single Hub instance.
type Hub struct {
	log *zap.Logger

	mu      sync.RWMutex
	clients map[*Client]bool
}

// NewHub creates an empty hub.
func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		log:     log,
		clients: make(map[*Client]bool),
	}
}

// Connect registers a fresh, unauthenticated client.
func (h *Hub) Connect() *Client {
	c := newClient(h)
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
	return c
}

// Disconnect removes a client and, if it was authenticated, announces the
// leave to everyone else with the roster after removal.
func (h *Hub) Disconnect(c *Client) {
	h.mu.Lock()
	_, registered := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()

	c.close()
	if !registered {
		return
	}

	if username, ok := c.identity(); ok {
		h.broadcast(protocol.UserLeft{Username: username, Users: h.Usernames()}, nil, nil)
		h.log.Info("user left", zap.String("username", username))
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Usernames returns the authenticated usernames, deduplicated and sorted.
func (h *Hub) Usernames() []string {
	h.mu.RLock()
	names := make([]string, 0, len(h.clients))
	for c := range h.clients {
		if username, ok := c.identity(); ok {
			names = append(names, username)
		}
	}
	h.mu.RUnlock()

	names = lo.Uniq(names)
	sort.Strings(names)
	return names
}

// HandleFrame applies one inbound frame from a client. Malformed or
// unknown frames are logged and dropped.
func (h *Hub) HandleFrame(c *Client, frame []byte) {
	ev, err := protocol.DecodeClientEvent(frame)
	if err != nil {
		h.log.Debug("dropping bad client frame", zap.Error(err))
		return
	}

	switch ev := ev.(type) {
	case protocol.Authenticate:
		h.handleAuthenticate(c, ev)
	case protocol.SendMessage:
		h.handleSendMessage(c, ev)
	}
}

// handleAuthenticate completes the handshake: the caller gets the
// authenticated reply with the roster including itself, everyone else gets
// the join announcement.
func (h *Hub) handleAuthenticate(c *Client, ev protocol.Authenticate) {
	c.mu.Lock()
	c.username = ev.Username
	c.authenticated = true
	c.mu.Unlock()

	users := h.Usernames()
	h.send(c, protocol.Authenticated{Users: users}, nil)
	h.broadcast(protocol.UserJoined{Username: ev.Username, Users: users}, c, nil)
	h.log.Info("user authenticated", zap.String("username", ev.Username))
}

// handleSendMessage broadcasts the message to every authenticated client,
// echo to the sender included. Once the broadcast is queued for at least
// one other client the sender gets a delivery acknowledgment; once any
// recipient has taken the frame off its queue the sender gets a read
// acknowledgment.
func (h *Hub) handleSendMessage(c *Client, ev protocol.SendMessage) {
	if _, ok := c.identity(); !ok {
		h.log.Debug("dropping message from unauthenticated client")
		return
	}

	var readOnce sync.Once
	onRead := func() {
		readOnce.Do(func() {
			h.send(c, protocol.MessageRead{MessageID: ev.ID}, nil)
		})
	}

	h.send(c, protocol.MessageBroadcast{Message: ev.Message}, nil)
	delivered := h.broadcast(protocol.MessageBroadcast{Message: ev.Message}, c, onRead)
	if delivered > 0 {
		h.send(c, protocol.MessageReceived{MessageID: ev.ID}, nil)
	}
}

// PushUserList sends the current roster snapshot to every authenticated
// client.
func (h *Hub) PushUserList() {
	h.broadcast(protocol.UserList{Users: h.Usernames()}, nil, nil)
}

// broadcast queues an event for every authenticated client except skip.
// It returns how many clients the event was queued for.
func (h *Hub) broadcast(ev protocol.ServerEvent, skip *Client, sent func()) int {
	frame, err := protocol.EncodeServerEvent(ev)
	if err != nil {
		h.log.Error("failed to encode event", zap.Error(err))
		return 0
	}

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		if c == skip {
			continue
		}
		if _, ok := c.identity(); !ok {
			continue
		}
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, c := range targets {
		if c.enqueue(frame, sent) {
			delivered++
		}
	}
	return delivered
}

// send queues an event for a single client.
func (h *Hub) send(c *Client, ev protocol.ServerEvent, sent func()) {
	frame, err := protocol.EncodeServerEvent(ev)
	if err != nil {
		h.log.Error("failed to encode event", zap.Error(err))
		return
	}
	if !c.enqueue(frame, sent) {
		h.log.Debug("dropping frame for slow or gone client")
	}
}

// CloseAll disconnects every client without leave announcements; used on
// shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	clients := lo.Keys(h.clients)
	h.clients = make(map[*Client]bool)
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}
