package conversation

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for conversation operations.
var (
	ErrNotFound           = errors.New("conversation not found")
	ErrTooFewParticipants = errors.New("conversation needs at least two participants")
	ErrNotParticipant     = errors.New("identity is not a participant")
)

// ExistingError is returned when creating a distinct conversation whose
// participant set already has one. The existing conversation is attached.
type ExistingError struct {
	Conversation Conversation
}

func (e *ExistingError) Error() string {
	return fmt.Sprintf("distinct conversation %s already exists", e.Conversation.ID)
}

// AsExisting extracts the existing conversation from err, if err reports one.
func AsExisting(err error) (Conversation, bool) {
	var existing *ExistingError
	if errors.As(err, &existing) {
		return existing.Conversation, true
	}
	return Conversation{}, false
}

// Store defines persistence operations for conversations.
type Store interface {
	// List returns all conversations.
	List(ctx context.Context) ([]Conversation, error)
	// Get returns a conversation by ID. Returns ErrNotFound if not found.
	Get(ctx context.Context, id string) (Conversation, error)
	// FindDistinct returns the distinct conversation for participants.
	// Returns ErrNotFound if none exists.
	FindDistinct(ctx context.Context, participants Participants) (Conversation, error)
	// Create inserts a new conversation. For distinct conversations the
	// check for an existing one and the insert are atomic; a clash returns
	// *ExistingError.
	Create(ctx context.Context, c Conversation) error
	// Update applies fn to the stored conversation and persists the result.
	// The read, fn and write happen under one exclusive lock, so concurrent
	// updates compose instead of overwriting each other. An error from fn
	// aborts the update and is returned unchanged. Returns ErrNotFound if
	// not found.
	Update(ctx context.Context, id string, fn func(*Conversation) error) (Conversation, error)
}
