package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownEvent reports an envelope whose event name is not part of the
// protocol. Receivers treat it as a skip condition, not a failure.
var ErrUnknownEvent = errors.New("unknown protocol event")

// envelope is the outer frame shape: a name plus a raw payload.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// EncodeClientEvent encodes a client event into an envelope frame.
func EncodeClientEvent(ev ClientEvent) ([]byte, error) {
	switch ev.(type) {
	case Authenticate:
		return encode(EventAuthenticate, ev)
	case SendMessage:
		return encode(EventSendMessage, ev)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownEvent, ev)
	}
}

// DecodeClientEvent decodes an envelope frame into a client event.
func DecodeClientEvent(frame []byte) (ClientEvent, error) {
	env, err := decodeEnvelope(frame)
	if err != nil {
		return nil, err
	}

	switch env.Event {
	case EventAuthenticate:
		return decodePayload[Authenticate](env)
	case EventSendMessage:
		return decodePayload[SendMessage](env)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
}

// EncodeServerEvent encodes a server event into an envelope frame.
func EncodeServerEvent(ev ServerEvent) ([]byte, error) {
	switch ev.(type) {
	case Authenticated:
		return encode(EventAuthenticated, ev)
	case MessageBroadcast:
		return encode(EventMessage, ev)
	case MessageReceived:
		return encode(EventMessageReceived, ev)
	case MessageRead:
		return encode(EventMessageRead, ev)
	case UserList:
		return encode(EventUserList, ev)
	case UserJoined:
		return encode(EventUserJoined, ev)
	case UserLeft:
		return encode(EventUserLeft, ev)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownEvent, ev)
	}
}

// DecodeServerEvent decodes an envelope frame into a server event.
func DecodeServerEvent(frame []byte) (ServerEvent, error) {
	env, err := decodeEnvelope(frame)
	if err != nil {
		return nil, err
	}

	switch env.Event {
	case EventAuthenticated:
		return decodePayload[Authenticated](env)
	case EventMessage:
		return decodePayload[MessageBroadcast](env)
	case EventMessageReceived:
		return decodePayload[MessageReceived](env)
	case EventMessageRead:
		return decodePayload[MessageRead](env)
	case EventUserList:
		return decodePayload[UserList](env)
	case EventUserJoined:
		return decodePayload[UserJoined](env)
	case EventUserLeft:
		return decodePayload[UserLeft](env)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
}

func encode(name string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", name, err)
	}
	frame, err := json.Marshal(envelope{Event: name, Data: data})
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s envelope: %w", name, err)
	}
	return frame, nil
}

func decodeEnvelope(frame []byte) (envelope, error) {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return envelope{}, fmt.Errorf("failed to decode envelope: %w", err)
	}
	return env, nil
}

func decodePayload[T any](env envelope) (T, error) {
	var payload T
	if len(env.Data) == 0 {
		return payload, nil
	}
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		return payload, fmt.Errorf("failed to decode %s payload: %w", env.Event, err)
	}
	return payload, nil
}
