// Package local implements the backing messaging service on top of the
// file stores. It is the single arbiter of conversation distinctness and of
// recipient status for every process sharing the same data directory.
package local

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hay-kot/courier/internal/core/backend"
	"github.com/hay-kot/courier/internal/core/conversation"
	"github.com/hay-kot/courier/internal/core/message"
	"github.com/hay-kot/courier/internal/core/push"
	"github.com/hay-kot/courier/internal/core/validate"
	"github.com/hay-kot/courier/internal/identity"
)

// DefaultNonceTTL is how long an issued nonce stays redeemable.
const DefaultNonceTTL = 5 * time.Minute

// Config configures a Service.
type Config struct {
	AppID         string
	Verifier      *identity.Verifier
	Conversations conversation.Store
	Messages      message.Store
	Outbox        push.Outbox
	NonceTTL      time.Duration    // DefaultNonceTTL if zero
	Now           func() time.Time // time.Now if nil
}

// Service is a file-backed backend.Service.
type Service struct {
	appID         string
	verifier      *identity.Verifier
	conversations conversation.Store
	messages      message.Store
	outbox        push.Outbox
	nonceTTL      time.Duration
	now           func() time.Time
	log           zerolog.Logger

	mu        sync.Mutex
	connected bool
	user      string
	nonces    map[string]time.Time
}

var _ backend.Service = (*Service)(nil)

// New creates a new Service.
func New(cfg Config, log zerolog.Logger) (*Service, error) {
	switch {
	case cfg.AppID == "":
		return nil, errors.New("local backend: app id is required")
	case cfg.Verifier == nil:
		return nil, errors.New("local backend: verifier is required")
	case cfg.Conversations == nil || cfg.Messages == nil || cfg.Outbox == nil:
		return nil, errors.New("local backend: stores are required")
	}

	if cfg.NonceTTL <= 0 {
		cfg.NonceTTL = DefaultNonceTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Service{
		appID:         cfg.AppID,
		verifier:      cfg.Verifier,
		conversations: cfg.Conversations,
		messages:      cfg.Messages,
		outbox:        cfg.Outbox,
		nonceTTL:      cfg.NonceTTL,
		now:           cfg.Now,
		log:           log,
		nonces:        make(map[string]time.Time),
	}, nil
}

// AppID returns the application identifier the service is bound to.
func (s *Service) AppID() string { return s.appID }

// Connect opens the connection.
func (s *Service) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.connected = true
	s.log.Debug().Msg("connected")
	return nil
}

// Disconnect closes the connection and drops the authenticated user.
func (s *Service) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.connected = false
	s.user = ""
	clear(s.nonces)
	s.log.Debug().Msg("disconnected")
	return nil
}

// RequestNonce issues a single-use nonce.
func (s *Service) RequestNonce(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return "", backend.ErrNotConnected
	}

	now := s.now()
	for nonce, expires := range s.nonces {
		if now.After(expires) {
			delete(s.nonces, nonce)
		}
	}

	nonce := uuid.NewString()
	s.nonces[nonce] = now.Add(s.nonceTTL)
	return nonce, nil
}

// Authenticate validates an identity token and binds its subject as the
// authenticated user. The token's nonce is consumed.
func (s *Service) Authenticate(ctx context.Context, identityToken string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return "", backend.ErrNotConnected
	}

	claims, err := s.verifier.Verify(identityToken, s.appID)
	if err != nil {
		s.log.Debug().Err(err).Msg("identity token rejected")
		return "", fmt.Errorf("%w: %v", backend.ErrInvalidToken, err)
	}

	expires, ok := s.nonces[claims.Nonce]
	if !ok || s.now().After(expires) {
		delete(s.nonces, claims.Nonce)
		return "", backend.ErrInvalidNonce
	}
	delete(s.nonces, claims.Nonce)

	s.user = claims.Subject
	s.log.Info().Str("user", s.user).Msg("authenticated")
	return s.user, nil
}

// Deauthenticate drops the authenticated user, keeping the connection.
func (s *Service) Deauthenticate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return backend.ErrNotConnected
	}

	if s.user != "" {
		s.log.Info().Str("user", s.user).Msg("deauthenticated")
	}
	s.user = ""
	return nil
}

// AuthenticatedUser returns the current user or "" if none.
func (s *Service) AuthenticatedUser() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

// currentUser returns the authenticated user or the reason there is none.
func (s *Service) currentUser(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case !s.connected:
		return "", backend.ErrNotConnected
	case s.user == "":
		return "", backend.ErrNotAuthenticated
	}
	return s.user, nil
}

// visibleConversation returns a conversation the user participates in.
// Conversations the user is not part of are reported as not found.
func (s *Service) visibleConversation(ctx context.Context, user, id string) (conversation.Conversation, error) {
	c, err := s.conversations.Get(ctx, id)
	if err != nil {
		return conversation.Conversation{}, err
	}
	if !c.Participants.Contains(user) {
		return conversation.Conversation{}, conversation.ErrNotFound
	}
	return c, nil
}

// FindConversation returns the distinct conversation with exactly
// participants.
func (s *Service) FindConversation(ctx context.Context, participants conversation.Participants) (conversation.Conversation, error) {
	user, err := s.currentUser(ctx)
	if err != nil {
		return conversation.Conversation{}, err
	}

	participants = conversation.NewParticipants(participants...)
	if !participants.Contains(user) {
		return conversation.Conversation{}, conversation.ErrNotFound
	}

	return s.conversations.FindDistinct(ctx, participants)
}

// CreateConversation creates a conversation. Distinct is honoured only for
// two-party sets.
func (s *Service) CreateConversation(ctx context.Context, participants conversation.Participants, distinct bool) (conversation.Conversation, error) {
	user, err := s.currentUser(ctx)
	if err != nil {
		return conversation.Conversation{}, err
	}

	participants = conversation.NewParticipants(participants...)
	if err := validate.Identities(participants); err != nil {
		return conversation.Conversation{}, err
	}
	if len(participants) < conversation.MinParticipants {
		return conversation.Conversation{}, conversation.ErrTooFewParticipants
	}
	if !participants.Contains(user) {
		return conversation.Conversation{}, conversation.ErrNotParticipant
	}

	c := conversation.Conversation{
		ID:           uuid.NewString(),
		Participants: participants,
		Distinct:     distinct && participants.IsDistinct(),
		CreatedAt:    s.now(),
	}

	if err := s.conversations.Create(ctx, c); err != nil {
		if existing, ok := conversation.AsExisting(err); ok {
			s.log.Debug().Str("conversation", existing.ID).Msg("distinct conversation already exists")
		}
		return conversation.Conversation{}, err
	}

	s.log.Info().
		Str("conversation", c.ID).
		Strs("participants", c.Participants).
		Bool("distinct", c.Distinct).
		Msg("created conversation")
	return c, nil
}

// Conversation returns a conversation by identifier.
func (s *Service) Conversation(ctx context.Context, id string) (conversation.Conversation, error) {
	user, err := s.currentUser(ctx)
	if err != nil {
		return conversation.Conversation{}, err
	}
	return s.visibleConversation(ctx, user, id)
}

// Conversations returns every conversation the user participates in.
func (s *Service) Conversations(ctx context.Context) ([]conversation.Conversation, error) {
	user, err := s.currentUser(ctx)
	if err != nil {
		return nil, err
	}

	all, err := s.conversations.List(ctx)
	if err != nil {
		return nil, err
	}

	return slices.DeleteFunc(all, func(c conversation.Conversation) bool {
		return !c.Participants.Contains(user)
	}), nil
}

// AddParticipants adds ids to a conversation.
func (s *Service) AddParticipants(ctx context.Context, conversationID string, ids conversation.Participants) (conversation.Conversation, error) {
	if err := validate.Identities(ids); err != nil {
		return conversation.Conversation{}, err
	}
	return s.updateParticipants(ctx, conversationID, func(p conversation.Participants) conversation.Participants {
		return p.Union(ids...)
	})
}

// RemoveParticipants removes ids from a conversation.
func (s *Service) RemoveParticipants(ctx context.Context, conversationID string, ids conversation.Participants) (conversation.Conversation, error) {
	return s.updateParticipants(ctx, conversationID, func(p conversation.Participants) conversation.Participants {
		return p.Without(ids...)
	})
}

func (s *Service) updateParticipants(ctx context.Context, conversationID string, fn func(conversation.Participants) conversation.Participants) (conversation.Conversation, error) {
	user, err := s.currentUser(ctx)
	if err != nil {
		return conversation.Conversation{}, err
	}

	c, err := s.conversations.Update(ctx, conversationID, func(c *conversation.Conversation) error {
		if !c.Participants.Contains(user) {
			return conversation.ErrNotFound
		}

		next := fn(c.Participants)
		if len(next) < conversation.MinParticipants {
			return conversation.ErrTooFewParticipants
		}
		if next.Equal(c.Participants) {
			return nil
		}

		c.Participants = next
		// A distinct conversation stops being distinct once its set changes size.
		c.Distinct = c.Distinct && next.IsDistinct()
		return nil
	})
	if err != nil {
		return conversation.Conversation{}, err
	}

	s.log.Info().Str("conversation", c.ID).Strs("participants", c.Participants).Msg("updated participants")
	return c, nil
}

// SetMetadata replaces the metadata of a conversation.
func (s *Service) SetMetadata(ctx context.Context, conversationID string, meta map[string]string) (conversation.Conversation, error) {
	user, err := s.currentUser(ctx)
	if err != nil {
		return conversation.Conversation{}, err
	}

	return s.conversations.Update(ctx, conversationID, func(c *conversation.Conversation) error {
		if !c.Participants.Contains(user) {
			return conversation.ErrNotFound
		}
		c.ReplaceMetadata(meta)
		return nil
	})
}

// SendMessage submits a draft as the authenticated user. Every other
// participant is recorded as Sent and gets a push notification queued.
func (s *Service) SendMessage(ctx context.Context, conversationID string, draft message.Draft) (message.Message, error) {
	user, err := s.currentUser(ctx)
	if err != nil {
		return message.Message{}, err
	}
	if err := draft.Validate(); err != nil {
		return message.Message{}, err
	}

	c, err := s.visibleConversation(ctx, user, conversationID)
	if err != nil {
		return message.Message{}, err
	}

	now := s.now()
	msg := message.Message{
		ID:              uuid.NewString(),
		ConversationID:  c.ID,
		Sender:          user,
		Parts:           draft.Parts,
		Push:            draft.Push,
		SentAt:          now,
		RecipientStatus: make(map[string]message.RecipientStatus, len(c.Participants)),
	}
	for _, p := range c.Participants {
		if p == user {
			msg.RecipientStatus[p] = message.StatusRead
			continue
		}
		msg.RecipientStatus[p] = message.StatusSent
	}

	if err := s.messages.Append(ctx, msg); err != nil {
		return message.Message{}, err
	}

	_, err = s.conversations.Update(ctx, c.ID, func(c *conversation.Conversation) error {
		c.Touch(now)
		return nil
	})
	if err != nil {
		return message.Message{}, err
	}

	for _, recipient := range c.Participants {
		if recipient == user {
			continue
		}
		s.notify(ctx, recipient, msg)
	}

	s.log.Debug().Str("conversation", c.ID).Str("message", msg.ID).Msg("message sent")
	return msg, nil
}

// notify queues a push notification. Push delivery is best effort and never
// fails the send.
func (s *Service) notify(ctx context.Context, recipient string, msg message.Message) {
	payload, err := push.Encode(push.Notification{
		Recipient:      recipient,
		ConversationID: msg.ConversationID,
		MessageID:      msg.ID,
		Alert:          msg.Push.Alert,
		Sound:          msg.Push.Sound,
		CreatedAt:      msg.SentAt,
	})
	if err == nil {
		err = s.outbox.Enqueue(ctx, recipient, payload)
	}
	if err != nil {
		s.log.Warn().Err(err).Str("recipient", recipient).Str("message", msg.ID).Msg("failed to queue push notification")
	}
}

// Message returns a message with its current status map.
func (s *Service) Message(ctx context.Context, conversationID, id string) (message.Message, error) {
	user, err := s.currentUser(ctx)
	if err != nil {
		return message.Message{}, err
	}

	if _, err := s.visibleConversation(ctx, user, conversationID); err != nil {
		return message.Message{}, err
	}

	return s.messages.Get(ctx, conversationID, id)
}

// Messages returns the messages of a conversation, oldest first.
func (s *Service) Messages(ctx context.Context, conversationID string) ([]message.Message, error) {
	user, err := s.currentUser(ctx)
	if err != nil {
		return nil, err
	}

	if _, err := s.visibleConversation(ctx, user, conversationID); err != nil {
		return nil, err
	}

	return s.messages.List(ctx, conversationID)
}

// MarkRead acknowledges one message as read by the authenticated user.
func (s *Service) MarkRead(ctx context.Context, conversationID, id string) error {
	user, err := s.currentUser(ctx)
	if err != nil {
		return err
	}

	if _, err := s.visibleConversation(ctx, user, conversationID); err != nil {
		return err
	}

	_, _, err = s.messages.Advance(ctx, conversationID, id, map[string]message.RecipientStatus{user: message.StatusRead})
	return err
}

// MarkAllRead acknowledges every message of a conversation.
func (s *Service) MarkAllRead(ctx context.Context, conversationID string) error {
	user, err := s.currentUser(ctx)
	if err != nil {
		return err
	}

	if _, err := s.visibleConversation(ctx, user, conversationID); err != nil {
		return err
	}

	n, err := s.messages.AdvanceAll(ctx, conversationID, user, message.StatusRead)
	if err != nil {
		return err
	}

	s.log.Debug().Str("conversation", conversationID).Int("count", n).Msg("marked messages read")
	return nil
}

// CountUnread returns the number of unread messages for the user across
// all of their conversations.
func (s *Service) CountUnread(ctx context.Context) (int, error) {
	convs, err := s.Conversations(ctx)
	if err != nil {
		return 0, err
	}

	user := s.AuthenticatedUser()
	var count int
	for _, c := range convs {
		msgs, err := s.messages.List(ctx, c.ID)
		if err != nil {
			return 0, err
		}
		for i := range msgs {
			if msgs[i].IsUnreadFor(user) {
				count++
			}
		}
	}
	return count, nil
}

// Synchronize applies a push notification payload for the authenticated
// user, marking the referenced message Delivered. Notifications addressed
// to someone else are ignored.
func (s *Service) Synchronize(ctx context.Context, payload []byte) (bool, error) {
	user, err := s.currentUser(ctx)
	if err != nil {
		return false, err
	}

	n, err := push.Decode(payload)
	if err != nil {
		return false, err
	}

	if n.Recipient != "" && n.Recipient != user {
		s.log.Debug().Str("recipient", n.Recipient).Msg("ignoring notification for another user")
		return false, nil
	}

	if _, err := s.visibleConversation(ctx, user, n.ConversationID); err != nil {
		return false, err
	}

	_, changed, err := s.messages.Advance(ctx, n.ConversationID, n.MessageID, map[string]message.RecipientStatus{user: message.StatusDelivered})
	if err != nil {
		return false, err
	}
	return changed, nil
}

// PendingNotifications drains the push outbox of the authenticated user.
func (s *Service) PendingNotifications(ctx context.Context) ([][]byte, error) {
	user, err := s.currentUser(ctx)
	if err != nil {
		return nil, err
	}
	return s.outbox.Drain(ctx, user)
}
