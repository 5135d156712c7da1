package client

import (
	"slices"
	"time"

	"chatcore/pkg/protocol"
)

// Entry is one displayable timeline item: either a chat message or a
// locally synthesized system notice.
type Entry interface {
	timelineEntry()
}

// ChatMessage is a chat message as received from the server.
type ChatMessage struct {
	ID        string
	Text      string
	Timestamp time.Time
	Sender    string
}

// SystemNotice is a locally synthesized join/leave announcement.
type SystemNotice struct {
	Text      string
	Timestamp time.Time
}

func (ChatMessage) timelineEntry()  {}
func (SystemNotice) timelineEntry() {}

// MessageTimeline is the append-only sequence of timeline entries. Display
// order is strictly arrival order; entries are never resorted or removed.
//
// MessageTimeline is not safe for concurrent use; the event router
// serializes all access.
type MessageTimeline struct {
	entries []Entry
	now     func() time.Time
}

// NewMessageTimeline creates an empty timeline.
func NewMessageTimeline() *MessageTimeline {
	return &MessageTimeline{now: time.Now}
}

// AppendChat appends a received chat message.
func (t *MessageTimeline) AppendChat(msg protocol.Message) {
	t.entries = append(t.entries, ChatMessage{
		ID:        msg.ID,
		Text:      msg.Text,
		Timestamp: msg.Timestamp,
		Sender:    msg.Sender,
	})
}

// AppendNotice appends a system notice stamped with the local clock.
func (t *MessageTimeline) AppendNotice(text string) {
	t.entries = append(t.entries, SystemNotice{Text: text, Timestamp: t.now()})
}

// Entries returns a copy of the timeline in arrival order.
func (t *MessageTimeline) Entries() []Entry {
	return slices.Clone(t.entries)
}

// Len returns the number of entries.
func (t *MessageTimeline) Len() int {
	return len(t.entries)
}
