// Package courier is the messaging session core: authentication, conversation
// resolution, message encoding and sending, and delivery tracking, all on top
// of a backend.Service.
package courier

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hay-kot/courier/internal/core/backend"
	"github.com/hay-kot/courier/internal/core/conversation"
	"github.com/hay-kot/courier/internal/core/session"
)

// Credentials identify the application to the identity provider.
type Credentials struct {
	AppID      string
	ProviderID string
	AuthKey    string
}

// Option configures a Service.
type Option func(*Service)

// WithDisplayNames sets the function used to turn an identity into the name
// shown in push alerts. Identities are shown as-is by default.
func WithDisplayNames(fn func(identity string) string) Option {
	return func(s *Service) { s.names = fn }
}

// Service is the entry point for applications. It owns the session and hands
// out communicators and the delivery tracker.
type Service struct {
	backend  backend.Service
	provider TokenProvider
	log      zerolog.Logger
	names    func(string) string
	resolver *Resolver
	tracker  *Tracker

	mu    sync.Mutex
	creds Credentials
	auth  *Authenticator
}

// New creates a new Service. Configure must be called before authenticating.
func New(b backend.Service, provider TokenProvider, log zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		backend:  b,
		provider: provider,
		log:      log,
		resolver: NewResolver(b, log.With().Str("component", "resolver").Logger()),
	}
	s.tracker = NewTracker(b, s.Identity, log.With().Str("component", "tracker").Logger())

	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Configure sets the application credentials. The first call creates the
// session; later calls only replace the credentials.
func (s *Service) Configure(creds Credentials) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.creds = creds
	if s.auth != nil {
		s.auth.SetAppID(creds.AppID)
		return
	}

	s.auth = NewAuthenticator(s.backend, s.provider, creds.AppID, s.log.With().Str("component", "authenticator").Logger())
	s.log.Debug().Str("app_id", creds.AppID).Msg("configured")
}

// Credentials returns the credentials passed to Configure.
func (s *Service) Credentials() Credentials {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creds
}

func (s *Service) authenticator() (*Authenticator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.auth == nil {
		return nil, ErrNotConfigured
	}
	return s.auth, nil
}

// Session returns a snapshot of the session. Before Configure it reports a
// disconnected session.
func (s *Service) Session() session.Session {
	auth, err := s.authenticator()
	if err != nil {
		return *session.New(time.Time{})
	}
	return auth.Session()
}

// Identity returns the authenticated identity or "".
func (s *Service) Identity() string {
	auth, err := s.authenticator()
	if err != nil {
		return ""
	}
	return auth.Identity()
}

// Authenticate authenticates the session as identity.
func (s *Service) Authenticate(ctx context.Context, identity string) error {
	auth, err := s.authenticator()
	if err != nil {
		return err
	}
	return auth.Authenticate(ctx, identity)
}

// Deauthenticate drops the authenticated identity and disconnects.
func (s *Service) Deauthenticate(ctx context.Context) error {
	auth, err := s.authenticator()
	if err != nil {
		return err
	}

	if err := auth.Deauthenticate(ctx); err != nil {
		return err
	}
	return auth.Disconnect(ctx)
}

// Communicator resolves the conversation between the session identity and
// participants and returns a communicator bound to it.
func (s *Service) Communicator(ctx context.Context, participants ...string) (*Communicator, error) {
	set := conversation.NewParticipants(participants...)
	if id := s.Identity(); id != "" {
		set = set.Union(id)
	}

	conv, err := s.resolver.Resolve(ctx, set)
	if err != nil {
		return nil, err
	}
	return s.CommunicatorFor(conv), nil
}

// CommunicatorFor returns a communicator bound to an existing conversation.
func (s *Service) CommunicatorFor(conv conversation.Conversation) *Communicator {
	return newCommunicator(s.backend, conv, s.names, s.log.With().Str("component", "communicator").Logger())
}

// Conversation returns a conversation by identifier.
func (s *Service) Conversation(ctx context.Context, id string) (conversation.Conversation, error) {
	return s.backend.Conversation(ctx, id)
}

// Conversations returns the session's conversations, most recent message
// first.
func (s *Service) Conversations(ctx context.Context) ([]conversation.Conversation, error) {
	convs, err := s.backend.Conversations(ctx)
	if err != nil {
		return nil, err
	}
	conversation.SortByLastMessage(convs)
	return convs, nil
}

// UnreadCount returns the number of unread messages. Failures count as zero.
func (s *Service) UnreadCount(ctx context.Context) int {
	n, err := s.backend.CountUnread(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("unread count failed")
		return 0
	}
	return n
}

// Synchronize applies a remote notification payload. It reports whether any
// local state changed.
func (s *Service) Synchronize(ctx context.Context, payload []byte) (bool, error) {
	return s.backend.Synchronize(ctx, payload)
}

// Tracker returns the delivery tracker.
func (s *Service) Tracker() *Tracker {
	return s.tracker
}
