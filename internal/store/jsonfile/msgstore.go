package jsonfile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/hay-kot/courier/internal/core/message"
)

// threadFile is the on-disk form of one conversation's messages.
type threadFile struct {
	ConversationID string            `json:"conversation_id"`
	Messages       []message.Message `json:"messages"`
}

// MsgStore implements message.Store using per-conversation JSON files.
type MsgStore struct {
	dir string
	mu  sync.RWMutex
}

// NewMsgStore creates a new message store at the given directory.
func NewMsgStore(dir string) *MsgStore {
	return &MsgStore{dir: dir}
}

// threadPath returns the file path for a conversation.
func (s *MsgStore) threadPath(conversationID string) string {
	return filepath.Join(s.dir, fileKey(conversationID)+".json")
}

func (s *MsgStore) withSharedLock(conversationID string, fn func() error) error {
	return withFileLock(s.threadPath(conversationID)+".lock", syscall.LOCK_SH, fn)
}

func (s *MsgStore) withExclusiveLock(conversationID string, fn func() error) error {
	return withFileLock(s.threadPath(conversationID)+".lock", syscall.LOCK_EX, fn)
}

// Append adds a message to its conversation.
func (s *MsgStore) Append(ctx context.Context, msg message.Message) error {
	if msg.ID == "" || msg.ConversationID == "" {
		return fmt.Errorf("message requires id and conversation id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withExclusiveLock(msg.ConversationID, func() error {
		thread, err := s.loadThread(msg.ConversationID)
		if err != nil {
			return err
		}

		thread.Messages = append(thread.Messages, msg.Clone())
		return s.saveThread(thread)
	})
}

// Get returns a message by conversation and message ID.
func (s *MsgStore) Get(ctx context.Context, conversationID, id string) (message.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		found message.Message
		ok    bool
	)
	err := s.withSharedLock(conversationID, func() error {
		thread, err := s.loadThread(conversationID)
		if err != nil {
			return err
		}
		found, ok = findMessage(thread.Messages, id)
		return nil
	})
	if err != nil {
		return message.Message{}, err
	}
	if !ok {
		return message.Message{}, message.ErrNotFound
	}
	return found, nil
}

// List returns the messages of a conversation, oldest first.
func (s *MsgStore) List(ctx context.Context, conversationID string) ([]message.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var msgs []message.Message
	err := s.withSharedLock(conversationID, func() error {
		thread, err := s.loadThread(conversationID)
		if err != nil {
			return err
		}
		msgs = thread.Messages
		return nil
	})
	return msgs, err
}

// Advance applies status updates to a message. Backward moves are ignored.
func (s *MsgStore) Advance(ctx context.Context, conversationID, id string, updates map[string]message.RecipientStatus) (message.Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		result  message.Message
		changed bool
	)
	err := s.withExclusiveLock(conversationID, func() error {
		thread, err := s.loadThread(conversationID)
		if err != nil {
			return err
		}

		for i := range thread.Messages {
			if thread.Messages[i].ID != id {
				continue
			}
			for identity, status := range updates {
				if thread.Messages[i].SetStatus(identity, status) {
					changed = true
				}
			}
			result = thread.Messages[i].Clone()
			if !changed {
				return nil
			}
			return s.saveThread(thread)
		}

		return message.ErrNotFound
	})
	if err != nil {
		return message.Message{}, false, err
	}
	return result, changed, nil
}

// AdvanceAll applies status for identity across a conversation.
func (s *MsgStore) AdvanceAll(ctx context.Context, conversationID, identity string, status message.RecipientStatus) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var changed int
	err := s.withExclusiveLock(conversationID, func() error {
		thread, err := s.loadThread(conversationID)
		if err != nil {
			return err
		}

		for i := range thread.Messages {
			msg := &thread.Messages[i]
			if _, ok := msg.RecipientStatus[identity]; !ok {
				continue
			}
			if msg.SetStatus(identity, status) {
				changed++
			}
		}

		if changed == 0 {
			return nil
		}
		return s.saveThread(thread)
	})
	return changed, err
}

func findMessage(msgs []message.Message, id string) (message.Message, bool) {
	for _, m := range msgs {
		if m.ID == id {
			return m, true
		}
	}
	return message.Message{}, false
}

// loadThread reads a conversation file from disk.
// Returns an empty thread if the file doesn't exist.
func (s *MsgStore) loadThread(conversationID string) (threadFile, error) {
	data, err := os.ReadFile(s.threadPath(conversationID))
	if err != nil {
		if os.IsNotExist(err) {
			return threadFile{ConversationID: conversationID}, nil
		}
		return threadFile{}, fmt.Errorf("read thread file: %w", err)
	}

	if len(data) == 0 {
		return threadFile{ConversationID: conversationID}, nil
	}

	var thread threadFile
	if err := json.Unmarshal(data, &thread); err != nil {
		return threadFile{}, fmt.Errorf("parse thread file: %w", err)
	}

	return thread, nil
}

// saveThread writes a conversation file to disk atomically.
func (s *MsgStore) saveThread(thread threadFile) error {
	data, err := json.MarshalIndent(thread, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal thread: %w", err)
	}
	return writeAtomic(s.threadPath(thread.ConversationID), data)
}
