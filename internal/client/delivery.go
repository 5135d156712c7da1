package client

import (
	"maps"
	"time"

	"github.com/google/uuid"

	"chatcore/pkg/protocol"
)

// Status is the delivery lifecycle of a message the local user sent.
type Status int

const (
	StatusSending Status = iota
	StatusSent
	StatusReceived
	StatusRead
)

// String returns the status name as rendered by the UI.
func (s Status) String() string {
	switch s {
	case StatusSending:
		return "sending"
	case StatusSent:
		return "sent"
	case StatusReceived:
		return "received"
	case StatusRead:
		return "read"
	default:
		return "unknown"
	}
}

// DeliveryStatusTracker maps locally generated message ids to a monotonic
// delivery status. Only ids allocated by BeginSend are tracked, so status
// events for other users' messages (or unknown ids) fall through as no-ops.
//
// DeliveryStatusTracker is not safe for concurrent use; the event router
// serializes all access.
type DeliveryStatusTracker struct {
	statuses map[string]Status
	newID    func() string
	now      func() time.Time
}

// NewDeliveryStatusTracker creates an empty tracker. Message ids are
// UUIDv4, so ids stay unique under rapid sends and across sessions.
func NewDeliveryStatusTracker() *DeliveryStatusTracker {
	return &DeliveryStatusTracker{
		statuses: make(map[string]Status),
		newID:    uuid.NewString,
		now:      time.Now,
	}
}

// BeginSend allocates an id, records the message as sending, and returns
// the outbound message ready for transmission.
func (d *DeliveryStatusTracker) BeginSend(text, sender string) protocol.Message {
	msg := protocol.Message{
		ID:        d.newID(),
		Text:      text,
		Timestamp: d.now(),
		Sender:    sender,
	}
	d.statuses[msg.ID] = StatusSending
	return msg
}

// OnEcho records the server's broadcast echo of a local message:
// sending -> sent.
func (d *DeliveryStatusTracker) OnEcho(msg protocol.Message) {
	d.advance(msg.ID, StatusSent)
}

// OnDelivered records a delivery acknowledgment: sent -> received.
func (d *DeliveryStatusTracker) OnDelivered(messageID string) {
	d.advance(messageID, StatusReceived)
}

// OnRead records a read acknowledgment: received -> read.
func (d *DeliveryStatusTracker) OnRead(messageID string) {
	d.advance(messageID, StatusRead)
}

// Status returns the status for a message id, reporting explicitly whether
// the id is tracked at all.
func (d *DeliveryStatusTracker) Status(id string) (Status, bool) {
	s, ok := d.statuses[id]
	return s, ok
}

// Statuses returns a copy of the per-id status map.
func (d *DeliveryStatusTracker) Statuses() map[string]Status {
	return maps.Clone(d.statuses)
}

// advance moves an id forward to next. Unknown ids and transitions that
// would move the status backward (duplicates, out-of-order events) are
// silent no-ops: status tracking is best-effort, never an error condition.
func (d *DeliveryStatusTracker) advance(id string, next Status) {
	current, ok := d.statuses[id]
	if !ok || next <= current {
		return
	}
	d.statuses[id] = next
}
