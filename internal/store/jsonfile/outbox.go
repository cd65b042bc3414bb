package jsonfile

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"
)

const defaultMaxPending = 1000

// outboxEntry is one line of a recipient's outbox file.
type outboxEntry struct {
	Payload   []byte    `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
}

// Outbox implements push.Outbox using one JSONL file per recipient.
type Outbox struct {
	dir        string
	maxPending int
	mu         sync.Mutex
}

// NewOutbox creates a new outbox at the given directory.
func NewOutbox(dir string) *Outbox {
	return &Outbox{
		dir:        dir,
		maxPending: defaultMaxPending,
	}
}

// WithMaxPending sets the maximum number of notifications kept per
// recipient. Older notifications are dropped first.
func (o *Outbox) WithMaxPending(max int) *Outbox {
	o.maxPending = max
	return o
}

func (o *Outbox) filePath(recipient string) string {
	return filepath.Join(o.dir, fileKey(recipient)+".jsonl")
}

// Enqueue appends a payload to recipient's outbox.
func (o *Outbox) Enqueue(ctx context.Context, recipient string, payload []byte) error {
	if recipient == "" {
		return fmt.Errorf("outbox: recipient is required")
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	path := o.filePath(recipient)
	return withFileLock(path+".lock", syscall.LOCK_EX, func() error {
		entries, err := readOutboxUnsafe(path)
		if err != nil {
			return err
		}

		entries = append(entries, outboxEntry{Payload: payload, CreatedAt: time.Now()})
		if o.maxPending > 0 && len(entries) > o.maxPending {
			entries = entries[len(entries)-o.maxPending:]
		}

		return writeOutboxUnsafe(path, entries)
	})
}

// Drain removes and returns all pending payloads for recipient, oldest first.
func (o *Outbox) Drain(ctx context.Context, recipient string) ([][]byte, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	path := o.filePath(recipient)
	var payloads [][]byte
	err := withFileLock(path+".lock", syscall.LOCK_EX, func() error {
		entries, err := readOutboxUnsafe(path)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}

		for _, e := range entries {
			payloads = append(payloads, e.Payload)
		}

		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("truncate outbox: %w", err)
		}
		return nil
	})
	return payloads, err
}

// readOutboxUnsafe reads all entries from the file.
// Caller must hold lock.
func readOutboxUnsafe(path string) ([]outboxEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open outbox file: %w", err)
	}
	defer f.Close() //nolint:errcheck

	var entries []outboxEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		var entry outboxEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			// Skip malformed lines
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read outbox file: %w", err)
	}

	return entries, nil
}

// writeOutboxUnsafe rewrites the file with entries.
// Caller must hold lock.
func writeOutboxUnsafe(path string, entries []outboxEntry) error {
	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	enc := json.NewEncoder(f)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			f.Close() //nolint:errcheck
			_ = os.Remove(tmpPath)
			return fmt.Errorf("write outbox entry: %w", err)
		}
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}

	return nil
}
