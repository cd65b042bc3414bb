// Package backend defines the backing messaging service the session core
// talks to. Implementations own transport, persistence and distinctness
// arbitration; the core only relies on the shape of these calls.
package backend

import (
	"context"
	"errors"

	"github.com/hay-kot/courier/internal/core/conversation"
	"github.com/hay-kot/courier/internal/core/message"
)

// Sentinel errors returned by backing service implementations.
var (
	ErrNotConnected     = errors.New("not connected")
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrInvalidNonce     = errors.New("invalid or expired nonce")
	ErrInvalidToken     = errors.New("invalid identity token")
)

// Connection manages the transport and authentication handshake.
type Connection interface {
	// AppID returns the application identifier the service is bound to.
	AppID() string
	// Connect opens the connection to the service.
	Connect(ctx context.Context) error
	// Disconnect closes the connection. Authentication is dropped.
	Disconnect(ctx context.Context) error
	// RequestNonce returns a single-use nonce for authentication.
	RequestNonce(ctx context.Context) (string, error)
	// Authenticate validates an identity token and returns the
	// authenticated user.
	Authenticate(ctx context.Context, identityToken string) (string, error)
	// Deauthenticate drops the authenticated user, keeping the connection.
	Deauthenticate(ctx context.Context) error
	// AuthenticatedUser returns the current user or "" if none.
	AuthenticatedUser() string
}

// Conversations manages conversations visible to the authenticated user.
type Conversations interface {
	// FindConversation returns the distinct conversation with exactly
	// participants. Returns conversation.ErrNotFound if none exists.
	FindConversation(ctx context.Context, participants conversation.Participants) (conversation.Conversation, error)
	// CreateConversation creates a conversation. When distinct is true and
	// one already exists for participants, the error is a
	// *conversation.ExistingError carrying it.
	CreateConversation(ctx context.Context, participants conversation.Participants, distinct bool) (conversation.Conversation, error)
	// Conversation returns a conversation by identifier.
	Conversation(ctx context.Context, id string) (conversation.Conversation, error)
	// Conversations returns every conversation the authenticated user
	// participates in.
	Conversations(ctx context.Context) ([]conversation.Conversation, error)
	// AddParticipants adds ids to a conversation. New participants see the
	// full history.
	AddParticipants(ctx context.Context, conversationID string, ids conversation.Participants) (conversation.Conversation, error)
	// RemoveParticipants removes ids from a conversation.
	RemoveParticipants(ctx context.Context, conversationID string, ids conversation.Participants) (conversation.Conversation, error)
	// SetMetadata replaces the metadata of a conversation.
	SetMetadata(ctx context.Context, conversationID string, meta map[string]string) (conversation.Conversation, error)
}

// Messages manages message submission and recipient status.
type Messages interface {
	// SendMessage submits a draft to a conversation as the authenticated
	// user.
	SendMessage(ctx context.Context, conversationID string, draft message.Draft) (message.Message, error)
	// Message returns a message with its current status map.
	Message(ctx context.Context, conversationID, id string) (message.Message, error)
	// Messages returns the history of a conversation, oldest first.
	Messages(ctx context.Context, conversationID string) ([]message.Message, error)
	// MarkRead acknowledges one message as read by the authenticated user.
	MarkRead(ctx context.Context, conversationID, id string) error
	// MarkAllRead acknowledges every message of a conversation.
	MarkAllRead(ctx context.Context, conversationID string) error
	// CountUnread returns the number of unread messages for the
	// authenticated user.
	CountUnread(ctx context.Context) (int, error)
	// Synchronize applies a remote notification payload. Returns true if
	// local state changed as a result.
	Synchronize(ctx context.Context, payload []byte) (bool, error)
}

// Service is the full backing messaging service.
type Service interface {
	Connection
	Conversations
	Messages
}
