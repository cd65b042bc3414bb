// Package session defines the connection and authentication state of a
// messaging session.
package session

import (
	"errors"
	"time"
)

// ConnectionState represents the transport state of a session.
type ConnectionState string

const (
	Disconnected ConnectionState = "disconnected"
	Connecting   ConnectionState = "connecting"
	Connected    ConnectionState = "connected"
)

// AuthState represents the authentication state of a session.
type AuthState string

const (
	Unauthenticated AuthState = "unauthenticated"
	Authenticating  AuthState = "authenticating"
	Authenticated   AuthState = "authenticated"
)

// ErrNotConnected is returned when an authentication transition is attempted
// on a session that is not connected.
var ErrNotConnected = errors.New("session not connected")

// Session represents one connection to the backing messaging service.
type Session struct {
	Identity   string          `json:"identity,omitempty"`
	Connection ConnectionState `json:"connection"`
	Auth       AuthState       `json:"auth"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// New returns a disconnected, unauthenticated session.
func New(now time.Time) *Session {
	return &Session{
		Connection: Disconnected,
		Auth:       Unauthenticated,
		UpdatedAt:  now,
	}
}

// IsConnectedOrConnecting reports whether a connection exists or is being
// established.
func (s *Session) IsConnectedOrConnecting() bool {
	return s.Connection == Connected || s.Connection == Connecting
}

// IsAuthenticatedAs returns true if the session is authenticated as identity.
func (s *Session) IsAuthenticatedAs(identity string) bool {
	return s.Auth == Authenticated && s.Identity != "" && s.Identity == identity
}

// MarkConnecting transitions the session to the connecting state.
func (s *Session) MarkConnecting(now time.Time) {
	s.Connection = Connecting
	s.UpdatedAt = now
}

// MarkConnected transitions the session to the connected state.
func (s *Session) MarkConnected(now time.Time) {
	s.Connection = Connected
	s.UpdatedAt = now
}

// MarkDisconnected tears down the connection. Authentication does not
// survive a disconnect.
func (s *Session) MarkDisconnected(now time.Time) {
	s.Connection = Disconnected
	s.Auth = Unauthenticated
	s.Identity = ""
	s.UpdatedAt = now
}

// MarkAuthenticating records that a handshake for identity is in flight.
func (s *Session) MarkAuthenticating(identity string, now time.Time) error {
	if s.Connection != Connected {
		return ErrNotConnected
	}
	s.Auth = Authenticating
	s.Identity = identity
	s.UpdatedAt = now
	return nil
}

// MarkAuthenticated completes authentication as identity.
func (s *Session) MarkAuthenticated(identity string, now time.Time) error {
	if s.Connection != Connected {
		return ErrNotConnected
	}
	s.Auth = Authenticated
	s.Identity = identity
	s.UpdatedAt = now
	return nil
}

// MarkUnauthenticated drops the authenticated identity while keeping the
// connection.
func (s *Session) MarkUnauthenticated(now time.Time) {
	s.Auth = Unauthenticated
	s.Identity = ""
	s.UpdatedAt = now
}
