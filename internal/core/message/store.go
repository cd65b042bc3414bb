package message

import (
	"context"
)

// Store defines persistence operations for messages.
type Store interface {
	// Append adds a message to its conversation.
	Append(ctx context.Context, msg Message) error
	// Get returns a message by conversation and message ID.
	// Returns ErrNotFound if not found.
	Get(ctx context.Context, conversationID, id string) (Message, error)
	// List returns the messages of a conversation, oldest first.
	List(ctx context.Context, conversationID string) ([]Message, error)
	// Advance applies status updates to a message. Updates that would move a
	// status backwards are ignored. Returns the stored message and whether
	// anything changed.
	Advance(ctx context.Context, conversationID, id string, updates map[string]RecipientStatus) (Message, bool, error)
	// AdvanceAll applies status for identity to every message of a
	// conversation that identity has a record for. Returns the number of
	// messages changed.
	AdvanceAll(ctx context.Context, conversationID, identity string, status RecipientStatus) (int, error)
}
