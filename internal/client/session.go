package client

import (
	"errors"
	"strings"

	"chatcore/pkg/protocol"
)

// ErrEmptyUsername rejects a blank or whitespace-only username before any
// network traffic happens.
var ErrEmptyUsername = errors.New("username must not be empty")

// AuthSession tracks the username handshake. It starts unauthenticated and
// flips to authenticated at most once, when the server's reply arrives.
//
// AuthSession is not safe for concurrent use; the event router serializes
// all access.
type AuthSession struct {
	username      string
	authenticated bool
}

// NewAuthSession creates an unauthenticated session.
func NewAuthSession() *AuthSession {
	return &AuthSession{}
}

// Begin validates the username and returns the handshake request to send.
// The username is kept as given; only fully blank input is rejected.
func (s *AuthSession) Begin(username string) (protocol.Authenticate, error) {
	if strings.TrimSpace(username) == "" {
		return protocol.Authenticate{}, ErrEmptyUsername
	}
	s.username = username
	return protocol.Authenticate{Username: username}, nil
}

// OnAuthenticated records a successful handshake reply. It reports whether
// the session transitioned; repeated replies are idempotent.
func (s *AuthSession) OnAuthenticated() bool {
	if s.authenticated {
		return false
	}
	s.authenticated = true
	return true
}

// Authenticated reports whether the handshake completed.
func (s *AuthSession) Authenticated() bool {
	return s.authenticated
}

// Username returns the name submitted with the handshake, or "" before one
// was requested.
func (s *AuthSession) Username() string {
	return s.username
}
