package client

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"chatcore/pkg/protocol"
)

// EventRouter is the single inbound dispatch point. It decodes frames,
// discards anything from a superseded connection generation, and routes
// each event to the component that owns the state it touches. Its mutex is
// the only lock guarding the mutable state, so mutations never run
// concurrently with each other or with snapshot reads.
type EventRouter struct {
	log *zap.Logger

	mu         sync.Mutex
	session    *AuthSession
	roster     *PresenceRoster
	timeline   *MessageTimeline
	delivery   *DeliveryStatusTracker
	generation uint64
	connected  bool
	closed     bool

	updates chan struct{}
}

func newEventRouter(log *zap.Logger) *EventRouter {
	return &EventRouter{
		log:      log,
		session:  NewAuthSession(),
		roster:   NewPresenceRoster(),
		timeline: NewMessageTimeline(),
		delivery: NewDeliveryStatusTracker(),
		updates:  make(chan struct{}, 1),
	}
}

// HandleConnected implements EventSink. A new generation supersedes the
// previous connection; anything older is stale.
func (r *EventRouter) HandleConnected(gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || gen < r.generation {
		return
	}
	r.generation = gen
	r.connected = true
	r.notifyLocked()
}

// HandleDisconnected implements EventSink.
func (r *EventRouter) HandleDisconnected(gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || gen != r.generation {
		return
	}
	r.connected = false
	r.notifyLocked()
}

// HandleFrame implements EventSink. Unknown event names are skipped, never
// treated as errors.
func (r *EventRouter) HandleFrame(gen uint64, frame []byte) {
	ev, err := protocol.DecodeServerEvent(frame)
	if err != nil {
		if errors.Is(err, protocol.ErrUnknownEvent) {
			r.log.Debug("ignoring unknown event", zap.Error(err))
		} else {
			r.log.Warn("failed to decode server event", zap.Error(err))
		}
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if gen != r.generation {
		r.log.Debug("discarding event from stale connection",
			zap.Uint64("event_generation", gen),
			zap.Uint64("current_generation", r.generation))
		return
	}
	r.dispatchLocked(ev)
	r.notifyLocked()
}

// dispatchLocked applies one event, following the dispatch table:
// each protocol event mutates exactly the components that own its state.
func (r *EventRouter) dispatchLocked(ev protocol.ServerEvent) {
	switch ev := ev.(type) {
	case protocol.Authenticated:
		r.session.OnAuthenticated()
		r.roster.Replace(ev.Users)
	case protocol.MessageBroadcast:
		r.timeline.AppendChat(ev.Message)
		if ev.Sender == r.session.Username() {
			r.delivery.OnEcho(ev.Message)
		}
	case protocol.MessageReceived:
		r.delivery.OnDelivered(ev.MessageID)
	case protocol.MessageRead:
		r.delivery.OnRead(ev.MessageID)
	case protocol.UserList:
		r.roster.Replace(ev.Users)
	case protocol.UserJoined:
		r.roster.Replace(ev.Users)
		r.timeline.AppendNotice(fmt.Sprintf("%s joined the chat", ev.Username))
	case protocol.UserLeft:
		r.roster.Replace(ev.Users)
		r.timeline.AppendNotice(fmt.Sprintf("%s left the chat", ev.Username))
	default:
		r.log.Debug("no route for event", zap.String("type", fmt.Sprintf("%T", ev)))
	}
}

// close stops the router from mutating state; late callbacks become no-ops.
func (r *EventRouter) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
}

func (r *EventRouter) snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{
		Connected:        r.connected,
		Authenticated:    r.session.Authenticated(),
		Username:         r.session.Username(),
		Roster:           r.roster.Users(),
		Timeline:         r.timeline.Entries(),
		DeliveryStatuses: r.delivery.Statuses(),
	}
}

// notifyLocked coalesces change signals into a 1-buffered channel.
func (r *EventRouter) notifyLocked() {
	select {
	case r.updates <- struct{}{}:
	default:
	}
}
