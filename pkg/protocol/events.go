// Package protocol defines the wire protocol spoken between the chat client
// and the chat server. Every frame is a JSON envelope carrying a named event
// and its payload.
package protocol

import "time"

// Event names carried in the envelope. The set is closed: decoding maps each
// name onto exactly one payload type, and unknown names are reported via
// ErrUnknownEvent so callers can skip them.
const (
	// client -> server
	EventAuthenticate = "authenticate"
	EventSendMessage  = "sendMessage"

	// server -> client
	EventAuthenticated   = "authenticated"
	EventMessage         = "message"
	EventMessageReceived = "messageReceived"
	EventMessageRead     = "messageRead"
	EventUserList        = "userList"
	EventUserJoined      = "userJoined"
	EventUserLeft        = "userLeft"
)

// Message represents a chat message on the wire. Timestamp marshals as
// RFC 3339, which is what the backend expects for the ISO-8601 field.
type Message struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	Sender    string    `json:"sender"`
}

// ClientEvent is the closed union of events a client may send.
type ClientEvent interface {
	clientEvent()
}

// Authenticate requests a username handshake.
type Authenticate struct {
	Username string `json:"username"`
}

// SendMessage submits a chat message authored by the local user.
type SendMessage struct {
	Message
}

func (Authenticate) clientEvent() {}
func (SendMessage) clientEvent()  {}

// ServerEvent is the closed union of events a server may deliver.
type ServerEvent interface {
	serverEvent()
}

// Authenticated acknowledges a successful handshake and carries the current
// roster snapshot.
type Authenticated struct {
	Users []string `json:"users"`
}

// MessageBroadcast delivers a chat message to every connected client,
// including an echo to its sender.
type MessageBroadcast struct {
	Message
}

// MessageReceived acknowledges that a message reached another client.
type MessageReceived struct {
	MessageID string `json:"messageId"`
}

// MessageRead acknowledges that a recipient read the message.
type MessageRead struct {
	MessageID string `json:"messageId"`
}

// UserList is a periodic full roster snapshot.
type UserList struct {
	Users []string `json:"users"`
}

// UserJoined announces a join together with the full roster after it.
type UserJoined struct {
	Username string   `json:"username"`
	Users    []string `json:"users"`
}

// UserLeft announces a leave together with the full roster after it.
type UserLeft struct {
	Username string   `json:"username"`
	Users    []string `json:"users"`
}

func (Authenticated) serverEvent()    {}
func (MessageBroadcast) serverEvent() {}
func (MessageReceived) serverEvent()  {}
func (MessageRead) serverEvent()      {}
func (UserList) serverEvent()         {}
func (UserJoined) serverEvent()       {}
func (UserLeft) serverEvent()         {}
