package courier

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/hay-kot/courier/internal/core/backend"
	"github.com/hay-kot/courier/internal/core/conversation"
)

// Resolver maps participant sets to conversations. Two-party sets resolve to
// their single distinct conversation; larger sets always get a new one.
type Resolver struct {
	conversations backend.Conversations
	log           zerolog.Logger
}

// NewResolver creates a Resolver.
func NewResolver(conversations backend.Conversations, log zerolog.Logger) *Resolver {
	return &Resolver{conversations: conversations, log: log}
}

// Resolve returns the conversation for participants, creating it if needed.
func (r *Resolver) Resolve(ctx context.Context, participants conversation.Participants) (conversation.Conversation, error) {
	participants = conversation.NewParticipants(participants...)
	if len(participants) < conversation.MinParticipants {
		return conversation.Conversation{}, conversation.ErrTooFewParticipants
	}

	if !participants.IsDistinct() {
		return r.conversations.CreateConversation(ctx, participants, false)
	}

	existing, err := r.conversations.FindConversation(ctx, participants)
	switch {
	case err == nil:
		return existing, nil
	case !errors.Is(err, conversation.ErrNotFound):
		return conversation.Conversation{}, err
	}

	created, err := r.conversations.CreateConversation(ctx, participants, true)
	if err != nil {
		// Another resolver won the race; its conversation is the answer.
		if existing, ok := conversation.AsExisting(err); ok {
			r.log.Debug().Str("conversation", existing.ID).Msg("using concurrently created conversation")
			return existing, nil
		}
		return conversation.Conversation{}, err
	}

	return created, nil
}
