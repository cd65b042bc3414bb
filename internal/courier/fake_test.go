package courier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hay-kot/courier/internal/core/backend"
	"github.com/hay-kot/courier/internal/core/conversation"
	"github.com/hay-kot/courier/internal/core/message"
)

// fakeBackend is an in-memory backend.Service that counts calls and can be
// told to fail individual operations.
type fakeBackend struct {
	mu sync.Mutex

	appID     string
	connected bool
	user      string
	nextID    int

	conversations map[string]conversation.Conversation
	messages      map[string][]message.Message

	calls map[string]int
	fail  map[string]error

	// nonce and authUser override the handshake results when set.
	nonce    *string
	authUser *string

	// raceWith makes the next distinct create report this conversation as
	// already existing.
	raceWith *conversation.Conversation
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		appID:         "app-1",
		conversations: make(map[string]conversation.Conversation),
		messages:      make(map[string][]message.Message),
		calls:         make(map[string]int),
		fail:          make(map[string]error),
	}
}

var _ backend.Service = (*fakeBackend)(nil)

func (f *fakeBackend) record(op string) error {
	f.calls[op]++
	return f.fail[op]
}

func (f *fakeBackend) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeBackend) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *fakeBackend) resetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	clear(f.calls)
}

func (f *fakeBackend) AppID() string { return f.appID }

func (f *fakeBackend) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("Connect"); err != nil {
		return err
	}
	f.connected = true
	return nil
}

func (f *fakeBackend) Disconnect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("Disconnect"); err != nil {
		return err
	}
	f.connected = false
	f.user = ""
	return nil
}

func (f *fakeBackend) RequestNonce(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("RequestNonce"); err != nil {
		return "", err
	}
	if f.nonce != nil {
		return *f.nonce, nil
	}
	return "nonce", nil
}

func (f *fakeBackend) Authenticate(ctx context.Context, token string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("Authenticate"); err != nil {
		return "", err
	}
	if f.authUser != nil {
		return *f.authUser, nil
	}
	// Tokens from fakeProvider are "token:<user>".
	user, ok := strings.CutPrefix(token, "token:")
	if !ok {
		return "", backend.ErrInvalidToken
	}
	f.user = user
	return user, nil
}

func (f *fakeBackend) Deauthenticate(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("Deauthenticate"); err != nil {
		return err
	}
	f.user = ""
	return nil
}

func (f *fakeBackend) AuthenticatedUser() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.user
}

func (f *fakeBackend) FindConversation(ctx context.Context, participants conversation.Participants) (conversation.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("FindConversation"); err != nil {
		return conversation.Conversation{}, err
	}
	for _, c := range f.conversations {
		if c.Distinct && c.Participants.Equal(participants) {
			return c, nil
		}
	}
	return conversation.Conversation{}, conversation.ErrNotFound
}

func (f *fakeBackend) CreateConversation(ctx context.Context, participants conversation.Participants, distinct bool) (conversation.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("CreateConversation"); err != nil {
		return conversation.Conversation{}, err
	}
	if distinct && f.raceWith != nil {
		existing := *f.raceWith
		f.raceWith = nil
		return conversation.Conversation{}, &conversation.ExistingError{Conversation: existing}
	}

	f.nextID++
	c := conversation.Conversation{
		ID:           fmt.Sprintf("conv-%d", f.nextID),
		Participants: participants,
		Distinct:     distinct,
		CreatedAt:    time.Now(),
	}
	f.conversations[c.ID] = c
	return c, nil
}

func (f *fakeBackend) Conversation(ctx context.Context, id string) (conversation.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("Conversation"); err != nil {
		return conversation.Conversation{}, err
	}
	c, ok := f.conversations[id]
	if !ok {
		return conversation.Conversation{}, conversation.ErrNotFound
	}
	return c, nil
}

func (f *fakeBackend) Conversations(ctx context.Context) ([]conversation.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("Conversations"); err != nil {
		return nil, err
	}
	var out []conversation.Conversation
	for _, c := range f.conversations {
		out = append(out, c)
	}
	return out, nil
}

func (f *fakeBackend) AddParticipants(ctx context.Context, id string, ids conversation.Participants) (conversation.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("AddParticipants"); err != nil {
		return conversation.Conversation{}, err
	}
	c := f.conversations[id]
	c.Participants = c.Participants.Union(ids...)
	f.conversations[id] = c
	return c, nil
}

func (f *fakeBackend) RemoveParticipants(ctx context.Context, id string, ids conversation.Participants) (conversation.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("RemoveParticipants"); err != nil {
		return conversation.Conversation{}, err
	}
	c := f.conversations[id]
	c.Participants = c.Participants.Without(ids...)
	f.conversations[id] = c
	return c, nil
}

func (f *fakeBackend) SetMetadata(ctx context.Context, id string, meta map[string]string) (conversation.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("SetMetadata"); err != nil {
		return conversation.Conversation{}, err
	}
	c := f.conversations[id]
	c.ReplaceMetadata(meta)
	f.conversations[id] = c
	return c, nil
}

func (f *fakeBackend) SendMessage(ctx context.Context, id string, draft message.Draft) (message.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("SendMessage"); err != nil {
		return message.Message{}, err
	}
	f.nextID++
	msg := message.Message{
		ID:             fmt.Sprintf("msg-%d", f.nextID),
		ConversationID: id,
		Sender:         f.user,
		Parts:          draft.Parts,
		Push:           draft.Push,
		SentAt:         time.Now(),
	}
	for _, p := range f.conversations[id].Participants {
		if p != f.user {
			msg.SetStatus(p, message.StatusSent)
		}
	}
	f.messages[id] = append(f.messages[id], msg)
	return msg, nil
}

func (f *fakeBackend) Message(ctx context.Context, convID, id string) (message.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("Message"); err != nil {
		return message.Message{}, err
	}
	for _, m := range f.messages[convID] {
		if m.ID == id {
			return m.Clone(), nil
		}
	}
	return message.Message{}, message.ErrNotFound
}

func (f *fakeBackend) Messages(ctx context.Context, convID string) ([]message.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("Messages"); err != nil {
		return nil, err
	}
	return f.messages[convID], nil
}

func (f *fakeBackend) MarkRead(ctx context.Context, convID, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("MarkRead"); err != nil {
		return err
	}
	for i := range f.messages[convID] {
		if f.messages[convID][i].ID == id {
			f.messages[convID][i].SetStatus(f.user, message.StatusRead)
			return nil
		}
	}
	return message.ErrNotFound
}

func (f *fakeBackend) MarkAllRead(ctx context.Context, convID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record("MarkAllRead")
}

func (f *fakeBackend) CountUnread(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("CountUnread"); err != nil {
		return 0, err
	}
	var n int
	for _, msgs := range f.messages {
		for i := range msgs {
			if msgs[i].IsUnreadFor(f.user) {
				n++
			}
		}
	}
	return n, nil
}

func (f *fakeBackend) Synchronize(ctx context.Context, payload []byte) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("Synchronize"); err != nil {
		return false, err
	}
	return len(payload) > 0, nil
}

// fakeProvider issues "token:<user>" tokens and counts requests.
type fakeProvider struct {
	mu    sync.Mutex
	calls int
	err   error
	empty bool

	lastAppID string
	lastNonce string
}

func (p *fakeProvider) IdentityToken(ctx context.Context, appID, userID, nonce string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.lastAppID = appID
	p.lastNonce = nonce
	if p.err != nil {
		return "", p.err
	}
	if p.empty {
		return "", nil
	}
	return "token:" + userID, nil
}

func (p *fakeProvider) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

var errBoom = errors.New("boom")
