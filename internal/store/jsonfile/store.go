// Package jsonfile provides JSON file-based stores for conversations,
// messages and push notifications.
package jsonfile

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/hay-kot/courier/internal/core/conversation"
)

// ConversationFile is the root JSON structure stored on disk.
type ConversationFile struct {
	Conversations []conversation.Conversation `json:"conversations"`
}

// ConversationStore implements conversation.Store using a JSON file for
// persistence. A file lock makes distinct-conversation creation atomic
// across processes sharing the file.
type ConversationStore struct {
	path string
	mu   sync.RWMutex
}

// NewConversationStore creates a new JSON file store at the given path.
func NewConversationStore(path string) *ConversationStore {
	return &ConversationStore{path: path}
}

// List returns all conversations.
func (s *ConversationStore) List(ctx context.Context) ([]conversation.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var convs []conversation.Conversation
	err := withFileLock(s.path+".lock", syscall.LOCK_SH, func() error {
		file, err := s.load()
		if err != nil {
			return err
		}
		convs = file.Conversations
		return nil
	})
	return convs, err
}

// Get returns a conversation by ID. Returns ErrNotFound if not found.
func (s *ConversationStore) Get(ctx context.Context, id string) (conversation.Conversation, error) {
	convs, err := s.List(ctx)
	if err != nil {
		return conversation.Conversation{}, err
	}

	for _, c := range convs {
		if c.ID == id {
			return c, nil
		}
	}

	return conversation.Conversation{}, conversation.ErrNotFound
}

// FindDistinct returns the distinct conversation for participants.
func (s *ConversationStore) FindDistinct(ctx context.Context, participants conversation.Participants) (conversation.Conversation, error) {
	convs, err := s.List(ctx)
	if err != nil {
		return conversation.Conversation{}, err
	}

	if c, ok := findDistinct(convs, participants); ok {
		return c, nil
	}
	return conversation.Conversation{}, conversation.ErrNotFound
}

// Create inserts a new conversation. A distinct conversation whose
// participant set is already taken returns *conversation.ExistingError.
func (s *ConversationStore) Create(ctx context.Context, c conversation.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return withFileLock(s.path+".lock", syscall.LOCK_EX, func() error {
		file, err := s.load()
		if err != nil {
			return err
		}

		if c.Distinct {
			if existing, ok := findDistinct(file.Conversations, c.Participants); ok {
				return &conversation.ExistingError{Conversation: existing}
			}
		}

		for _, existing := range file.Conversations {
			if existing.ID == c.ID {
				return fmt.Errorf("conversation %s already exists", c.ID)
			}
		}

		file.Conversations = append(file.Conversations, c)
		return s.save(file)
	})
}

// Update applies fn to the conversation with the given ID and writes the
// result back while holding the exclusive file lock.
func (s *ConversationStore) Update(ctx context.Context, id string, fn func(*conversation.Conversation) error) (conversation.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var updated conversation.Conversation
	err := withFileLock(s.path+".lock", syscall.LOCK_EX, func() error {
		file, err := s.load()
		if err != nil {
			return err
		}

		for i, existing := range file.Conversations {
			if existing.ID != id {
				continue
			}

			c := existing
			if err := fn(&c); err != nil {
				return err
			}
			c.ID = id

			file.Conversations[i] = c
			if err := s.save(file); err != nil {
				return err
			}
			updated = c
			return nil
		}

		return conversation.ErrNotFound
	})
	return updated, err
}

func findDistinct(convs []conversation.Conversation, participants conversation.Participants) (conversation.Conversation, bool) {
	key := conversation.NewParticipants(participants...).Key()
	for _, c := range convs {
		if c.Distinct && c.Participants.Key() == key {
			return c, true
		}
	}
	return conversation.Conversation{}, false
}

// load reads the conversation file from disk.
// Returns empty ConversationFile if file doesn't exist.
func (s *ConversationStore) load() (ConversationFile, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return ConversationFile{}, nil
		}
		return ConversationFile{}, fmt.Errorf("read conversations file: %w", err)
	}

	if len(data) == 0 {
		return ConversationFile{}, nil
	}

	var file ConversationFile
	if err := json.Unmarshal(data, &file); err != nil {
		return ConversationFile{}, fmt.Errorf("parse conversations file: %w", err)
	}

	return file, nil
}

// save writes the conversation file to disk atomically.
// Uses write-to-temp-then-rename to prevent corruption from interrupted writes.
func (s *ConversationStore) save(file ConversationFile) error {
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal conversations: %w", err)
	}
	return writeAtomic(s.path, data)
}

// fileKey maps an identity or conversation id to a file name. Ids may hold
// any character, including path separators, so the name is a digest rather
// than a sanitized copy; distinct ids never share a file.
func fileKey(id string) string {
	sum := sha256.Sum256([]byte(id))
	return hex.EncodeToString(sum[:])
}

// withFileLock acquires a file lock on lockPath, executes fn, then releases
// the lock.
func withFileLock(lockPath string, lockType int, fn func() error) error {
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	defer f.Close() //nolint:errcheck

	if err := syscall.Flock(int(f.Fd()), lockType); err != nil {
		return fmt.Errorf("acquire file lock: %w", err)
	}
	defer syscall.Flock(int(f.Fd()), syscall.LOCK_UN) //nolint:errcheck

	return fn()
}

// writeAtomic writes data to path via a temp file and rename.
func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
