package courier

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/hay-kot/courier/internal/core/backend"
	"github.com/hay-kot/courier/internal/core/message"
)

// Tracker reports and acknowledges per-recipient delivery status.
type Tracker struct {
	messages backend.Messages
	identity func() string
	log      zerolog.Logger
}

// NewTracker creates a Tracker. identity returns the current session
// identity.
func NewTracker(messages backend.Messages, identity func() string, log zerolog.Logger) *Tracker {
	return &Tracker{messages: messages, identity: identity, log: log}
}

// StatusFor returns the status of msg for identity. Missing records and an
// empty identity yield StatusInvalid.
func (t *Tracker) StatusFor(msg message.Message, identity string) message.RecipientStatus {
	return msg.StatusFor(identity)
}

// Status returns the status of msg for the session identity.
func (t *Tracker) Status(msg message.Message) message.RecipientStatus {
	return msg.StatusFor(t.identity())
}

// Refresh fetches the current status map of msg.
func (t *Tracker) Refresh(ctx context.Context, msg message.Message) (message.Message, error) {
	return t.messages.Message(ctx, msg.ConversationID, msg.ID)
}

// MarkRead acknowledges msg as read by the session identity. There is no
// retry.
func (t *Tracker) MarkRead(ctx context.Context, msg message.Message) error {
	if err := t.messages.MarkRead(ctx, msg.ConversationID, msg.ID); err != nil {
		t.log.Warn().Err(err).Str("message", msg.ID).Msg("mark read failed")
		return ErrUnableToMarkAsRead
	}
	return nil
}
