package local

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hay-kot/courier/internal/core/backend"
	"github.com/hay-kot/courier/internal/core/conversation"
	"github.com/hay-kot/courier/internal/core/message"
	"github.com/hay-kot/courier/internal/core/push"
	"github.com/hay-kot/courier/internal/identity"
	"github.com/hay-kot/courier/internal/store/jsonfile"
)

const (
	testApp      = "app-1"
	testProvider = "provider-1"
	testKey      = "s3cret"
)

type fixture struct {
	dir    string
	signer *identity.Signer
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	signer, err := identity.NewSigner(testProvider, testKey, time.Minute)
	require.NoError(t, err)
	return &fixture{dir: t.TempDir(), signer: signer, now: time.Now()}
}

// service returns a new Service over the fixture's data directory. Services
// from the same fixture share state the way separate processes would.
func (f *fixture) service(t *testing.T) *Service {
	t.Helper()
	return f.serviceWith(t, jsonfile.NewConversationStore(f.conversationsPath()))
}

func (f *fixture) conversationsPath() string {
	return filepath.Join(f.dir, "conversations.json")
}

// serviceWith is service with a caller supplied conversation store.
func (f *fixture) serviceWith(t *testing.T, convs conversation.Store) *Service {
	t.Helper()
	verifier, err := identity.NewVerifier(testProvider, testKey)
	require.NoError(t, err)

	svc, err := New(Config{
		AppID:         testApp,
		Verifier:      verifier,
		Conversations: convs,
		Messages:      jsonfile.NewMsgStore(filepath.Join(f.dir, "messages")),
		Outbox:        jsonfile.NewOutbox(filepath.Join(f.dir, "outbox")),
		Now:           func() time.Time { return f.now },
	}, zerolog.New(io.Discard))
	require.NoError(t, err)
	return svc
}

func (f *fixture) login(t *testing.T, user string) *Service {
	t.Helper()
	return f.loginAs(t, f.service(t), user)
}

func (f *fixture) loginAs(t *testing.T, svc *Service, user string) *Service {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, svc.Connect(ctx))
	nonce, err := svc.RequestNonce(ctx)
	require.NoError(t, err)
	token, err := f.signer.Sign(testApp, user, nonce)
	require.NoError(t, err)
	got, err := svc.Authenticate(ctx, token)
	require.NoError(t, err)
	require.Equal(t, user, got)
	return svc
}

func textDraft(s string) message.Draft {
	return message.Draft{
		Parts: []message.Part{{MIMEType: message.MIMEText, Data: []byte(s)}},
		Push:  message.PushConfig{Alert: "said, " + s, Sound: message.DefaultSound},
	}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{}, zerolog.Nop())
	assert.Error(t, err)
}

func TestAuthenticate(t *testing.T) {
	ctx := context.Background()

	t.Run("requires connection", func(t *testing.T) {
		svc := newFixture(t).service(t)

		_, err := svc.RequestNonce(ctx)
		assert.ErrorIs(t, err, backend.ErrNotConnected)

		_, err = svc.Authenticate(ctx, "token")
		assert.ErrorIs(t, err, backend.ErrNotConnected)
	})

	t.Run("nonce is single use", func(t *testing.T) {
		f := newFixture(t)
		svc := f.service(t)
		require.NoError(t, svc.Connect(ctx))

		nonce, err := svc.RequestNonce(ctx)
		require.NoError(t, err)
		token, err := f.signer.Sign(testApp, "alice", nonce)
		require.NoError(t, err)

		_, err = svc.Authenticate(ctx, token)
		require.NoError(t, err)

		_, err = svc.Authenticate(ctx, token)
		assert.ErrorIs(t, err, backend.ErrInvalidNonce)
	})

	t.Run("expired nonce", func(t *testing.T) {
		f := newFixture(t)
		svc := f.service(t)
		require.NoError(t, svc.Connect(ctx))

		nonce, err := svc.RequestNonce(ctx)
		require.NoError(t, err)
		token, err := f.signer.Sign(testApp, "alice", nonce)
		require.NoError(t, err)

		f.now = f.now.Add(DefaultNonceTTL + time.Second)
		_, err = svc.Authenticate(ctx, token)
		assert.ErrorIs(t, err, backend.ErrInvalidNonce)
	})

	t.Run("unknown nonce", func(t *testing.T) {
		f := newFixture(t)
		svc := f.service(t)
		require.NoError(t, svc.Connect(ctx))

		token, err := f.signer.Sign(testApp, "alice", "made-up")
		require.NoError(t, err)

		_, err = svc.Authenticate(ctx, token)
		assert.ErrorIs(t, err, backend.ErrInvalidNonce)
	})

	t.Run("token for another app", func(t *testing.T) {
		f := newFixture(t)
		svc := f.service(t)
		require.NoError(t, svc.Connect(ctx))

		nonce, err := svc.RequestNonce(ctx)
		require.NoError(t, err)
		token, err := f.signer.Sign("other-app", "alice", nonce)
		require.NoError(t, err)

		_, err = svc.Authenticate(ctx, token)
		assert.ErrorIs(t, err, backend.ErrInvalidToken)
	})

	t.Run("disconnect drops user", func(t *testing.T) {
		svc := newFixture(t).login(t, "alice")
		assert.Equal(t, "alice", svc.AuthenticatedUser())

		require.NoError(t, svc.Disconnect(ctx))
		assert.Empty(t, svc.AuthenticatedUser())

		_, err := svc.Conversations(ctx)
		assert.ErrorIs(t, err, backend.ErrNotConnected)
	})

	t.Run("deauthenticate keeps connection", func(t *testing.T) {
		svc := newFixture(t).login(t, "alice")

		require.NoError(t, svc.Deauthenticate(ctx))
		assert.Empty(t, svc.AuthenticatedUser())

		_, err := svc.Conversations(ctx)
		assert.ErrorIs(t, err, backend.ErrNotAuthenticated)

		_, err = svc.RequestNonce(ctx)
		assert.NoError(t, err)
	})
}

func TestConversations(t *testing.T) {
	ctx := context.Background()

	t.Run("distinct create clashes across processes", func(t *testing.T) {
		f := newFixture(t)
		alice := f.login(t, "alice")
		bob := f.login(t, "bob")

		created, err := alice.CreateConversation(ctx, conversation.NewParticipants("alice", "bob"), true)
		require.NoError(t, err)
		assert.True(t, created.Distinct)

		_, err = bob.CreateConversation(ctx, conversation.NewParticipants("bob", "alice"), true)
		existing, ok := conversation.AsExisting(err)
		require.True(t, ok)
		assert.Equal(t, created.ID, existing.ID)

		found, err := bob.FindConversation(ctx, conversation.NewParticipants("alice", "bob"))
		require.NoError(t, err)
		assert.Equal(t, created.ID, found.ID)
	})

	t.Run("distinct flag ignored for groups", func(t *testing.T) {
		alice := newFixture(t).login(t, "alice")

		c, err := alice.CreateConversation(ctx, conversation.NewParticipants("alice", "bob", "carol"), true)
		require.NoError(t, err)
		assert.False(t, c.Distinct)
	})

	t.Run("creator must participate", func(t *testing.T) {
		alice := newFixture(t).login(t, "alice")

		_, err := alice.CreateConversation(ctx, conversation.NewParticipants("bob", "carol"), false)
		assert.ErrorIs(t, err, conversation.ErrNotParticipant)

		_, err = alice.CreateConversation(ctx, conversation.NewParticipants("alice"), false)
		assert.ErrorIs(t, err, conversation.ErrTooFewParticipants)
	})

	t.Run("invalid identities rejected", func(t *testing.T) {
		alice := newFixture(t).login(t, "alice")

		_, err := alice.CreateConversation(ctx, conversation.NewParticipants("alice", "bob smith"), true)
		assert.Error(t, err)

		c, err := alice.CreateConversation(ctx, conversation.NewParticipants("alice", "bob"), true)
		require.NoError(t, err)

		_, err = alice.AddParticipants(ctx, c.ID, conversation.NewParticipants("carol jones"))
		assert.Error(t, err)

		stored, err := alice.Conversation(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, conversation.Participants{"alice", "bob"}, stored.Participants)
	})

	t.Run("visibility", func(t *testing.T) {
		f := newFixture(t)
		alice := f.login(t, "alice")
		carol := f.login(t, "carol")

		c, err := alice.CreateConversation(ctx, conversation.NewParticipants("alice", "bob"), true)
		require.NoError(t, err)

		_, err = carol.Conversation(ctx, c.ID)
		assert.ErrorIs(t, err, conversation.ErrNotFound)

		convs, err := carol.Conversations(ctx)
		require.NoError(t, err)
		assert.Empty(t, convs)

		convs, err = alice.Conversations(ctx)
		require.NoError(t, err)
		assert.Len(t, convs, 1)
	})

	t.Run("participants and metadata", func(t *testing.T) {
		alice := newFixture(t).login(t, "alice")

		c, err := alice.CreateConversation(ctx, conversation.NewParticipants("alice", "bob"), true)
		require.NoError(t, err)

		c, err = alice.AddParticipants(ctx, c.ID, conversation.NewParticipants("carol"))
		require.NoError(t, err)
		assert.Equal(t, conversation.Participants{"alice", "bob", "carol"}, c.Participants)
		assert.False(t, c.Distinct)

		c, err = alice.RemoveParticipants(ctx, c.ID, conversation.NewParticipants("carol"))
		require.NoError(t, err)
		assert.Equal(t, conversation.Participants{"alice", "bob"}, c.Participants)
		assert.False(t, c.Distinct, "distinctness is not regained")

		_, err = alice.RemoveParticipants(ctx, c.ID, conversation.NewParticipants("bob"))
		assert.ErrorIs(t, err, conversation.ErrTooFewParticipants)

		c, err = alice.SetMetadata(ctx, c.ID, map[string]string{"title": "Lunch"})
		require.NoError(t, err)

		stored, err := alice.Conversation(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, "Lunch", stored.Metadata["title"])
		assert.Equal(t, conversation.Participants{"alice", "bob"}, stored.Participants)
	})
}

func TestMessageLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	alice := f.login(t, "alice")
	bob := f.login(t, "bob")

	c, err := alice.CreateConversation(ctx, conversation.NewParticipants("alice", "bob"), true)
	require.NoError(t, err)

	_, err = alice.SendMessage(ctx, c.ID, message.Draft{})
	require.ErrorIs(t, err, message.ErrNoParts)

	msg, err := alice.SendMessage(ctx, c.ID, textDraft("hello"))
	require.NoError(t, err)
	assert.Equal(t, "alice", msg.Sender)
	assert.Equal(t, message.StatusSent, msg.StatusFor("bob"))
	assert.Equal(t, message.StatusRead, msg.StatusFor("alice"))

	stored, err := alice.Conversation(ctx, c.ID)
	require.NoError(t, err)
	assert.WithinDuration(t, f.now, stored.LastMessageAt, time.Millisecond)

	count, err := bob.CountUnread(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	count, err = alice.CountUnread(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	// Bob syncs the queued notification: Delivered.
	payloads, err := bob.PendingNotifications(ctx)
	require.NoError(t, err)
	require.Len(t, payloads, 1)

	n, err := push.Decode(payloads[0])
	require.NoError(t, err)
	assert.Equal(t, "bob", n.Recipient)
	assert.Equal(t, msg.ID, n.MessageID)
	assert.Equal(t, "said, hello", n.Alert)

	changed, err := bob.Synchronize(ctx, payloads[0])
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = bob.Synchronize(ctx, payloads[0])
	require.NoError(t, err)
	assert.False(t, changed)

	// Alice cannot apply bob's notification.
	changed, err = alice.Synchronize(ctx, payloads[0])
	require.NoError(t, err)
	assert.False(t, changed)

	got, err := alice.Message(ctx, c.ID, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, message.StatusDelivered, got.StatusFor("bob"))

	// Bob reads: Read.
	require.NoError(t, bob.MarkRead(ctx, c.ID, msg.ID))

	got, err = alice.Message(ctx, c.ID, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, message.StatusRead, got.StatusFor("bob"))

	// A late delivery does not regress the status.
	changed, err = bob.Synchronize(ctx, payloads[0])
	require.NoError(t, err)
	assert.False(t, changed)

	count, err = bob.CountUnread(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestMarkAllRead(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	alice := f.login(t, "alice")
	bob := f.login(t, "bob")

	c, err := alice.CreateConversation(ctx, conversation.NewParticipants("alice", "bob"), true)
	require.NoError(t, err)

	for _, s := range []string{"one", "two", "three"} {
		_, err := alice.SendMessage(ctx, c.ID, textDraft(s))
		require.NoError(t, err)
	}

	count, err := bob.CountUnread(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	require.NoError(t, bob.MarkAllRead(ctx, c.ID))

	count, err = bob.CountUnread(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	msgs, err := alice.Messages(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	for _, m := range msgs {
		assert.Equal(t, message.StatusRead, m.StatusFor("bob"))
	}
}

func TestSynchronize_InvalidPayload(t *testing.T) {
	bob := newFixture(t).login(t, "bob")

	_, err := bob.Synchronize(context.Background(), []byte("garbage"))
	assert.ErrorIs(t, err, push.ErrInvalidPayload)
}

func TestSendMessage_NotParticipant(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	alice := f.login(t, "alice")
	carol := f.login(t, "carol")

	c, err := alice.CreateConversation(ctx, conversation.NewParticipants("alice", "bob"), true)
	require.NoError(t, err)

	_, err = carol.SendMessage(ctx, c.ID, textDraft("hi"))
	assert.ErrorIs(t, err, conversation.ErrNotFound)
}

// interleavedStore runs between once, right after the first Get returns, to
// model another process writing between a read and the following write.
type interleavedStore struct {
	*jsonfile.ConversationStore
	once    sync.Once
	between func()
}

func (s *interleavedStore) Get(ctx context.Context, id string) (conversation.Conversation, error) {
	c, err := s.ConversationStore.Get(ctx, id)
	if err == nil {
		s.once.Do(s.between)
	}
	return c, err
}

func TestSendMessage_KeepsInterleavedParticipantChange(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	bob := f.login(t, "bob")

	c, err := bob.CreateConversation(ctx, conversation.NewParticipants("alice", "bob"), false)
	require.NoError(t, err)

	store := &interleavedStore{ConversationStore: jsonfile.NewConversationStore(f.conversationsPath())}
	store.between = func() {
		_, err := bob.AddParticipants(ctx, c.ID, conversation.NewParticipants("carol"))
		assert.NoError(t, err)
	}
	alice := f.loginAs(t, f.serviceWith(t, store), "alice")

	_, err = alice.SendMessage(ctx, c.ID, textDraft("hi"))
	require.NoError(t, err)

	got, err := bob.Conversation(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, conversation.NewParticipants("alice", "bob", "carol"), got.Participants)
	assert.WithinDuration(t, f.now, got.LastMessageAt, time.Second)
}

func TestConversationUpdates_Concurrent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	alice := f.login(t, "alice")

	c, err := alice.CreateConversation(ctx, conversation.NewParticipants("alice", "bob"), false)
	require.NoError(t, err)

	const writers = 6
	services := make([]*Service, writers)
	for i := range services {
		services[i] = f.login(t, "alice")
	}

	var wg sync.WaitGroup
	for i, svc := range services {
		wg.Add(1)
		go func(i int, svc *Service) {
			defer wg.Done()
			switch i % 3 {
			case 0:
				_, err := svc.AddParticipants(ctx, c.ID, conversation.NewParticipants(fmt.Sprintf("user-%d", i)))
				assert.NoError(t, err)
			case 1:
				_, err := svc.SetMetadata(ctx, c.ID, map[string]string{"title": "standup"})
				assert.NoError(t, err)
			default:
				_, err := svc.SendMessage(ctx, c.ID, textDraft("ping"))
				assert.NoError(t, err)
			}
		}(i, svc)
	}
	wg.Wait()

	got, err := alice.Conversation(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, conversation.NewParticipants("alice", "bob", "user-0", "user-3"), got.Participants)
	assert.Equal(t, "standup", got.Metadata["title"])
	assert.False(t, got.LastMessageAt.IsZero())
}
