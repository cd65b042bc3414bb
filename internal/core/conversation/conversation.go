// Package conversation defines conversation domain types and interfaces.
package conversation

import (
	"maps"
	"slices"
	"strings"
	"time"
)

// DistinctSize is the only participant count for which conversations are
// deduplicated by participant set.
const DistinctSize = 2

// MinParticipants is the smallest participant set a conversation may have.
const MinParticipants = 2

// Participants is a sorted set of user identities.
type Participants []string

// NewParticipants builds a participant set from ids, dropping blanks and
// duplicates.
func NewParticipants(ids ...string) Participants {
	set := make(Participants, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		set = append(set, id)
	}
	slices.Sort(set)
	return slices.Compact(set)
}

// Key returns a stable string form of the set, suitable for equality
// lookups.
func (p Participants) Key() string {
	return strings.Join(p, "\n")
}

// Equal reports whether p and other contain exactly the same identities.
func (p Participants) Equal(other Participants) bool {
	return slices.Equal(NewParticipants(p...), NewParticipants(other...))
}

// Contains reports whether id is a member of the set.
func (p Participants) Contains(id string) bool {
	_, found := slices.BinarySearch(p, id)
	return found
}

// Union returns the set with ids added.
func (p Participants) Union(ids ...string) Participants {
	return NewParticipants(append(slices.Clone(p), ids...)...)
}

// Without returns the set with ids removed.
func (p Participants) Without(ids ...string) Participants {
	drop := NewParticipants(ids...)
	out := make(Participants, 0, len(p))
	for _, id := range p {
		if !drop.Contains(id) {
			out = append(out, id)
		}
	}
	return out
}

// IsDistinct returns true if a conversation with this set should be
// deduplicated.
func (p Participants) IsDistinct() bool {
	return len(p) == DistinctSize
}

// Conversation represents a durable message thread.
type Conversation struct {
	ID            string            `json:"id"`
	Participants  Participants      `json:"participants"`
	Distinct      bool              `json:"distinct"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	LastMessageAt time.Time         `json:"last_message_at,omitzero"`
}

// Title returns the "title" metadata value, if any.
func (c *Conversation) Title() string {
	return c.Metadata["title"]
}

// ReplaceMetadata swaps the metadata map for a copy of meta.
func (c *Conversation) ReplaceMetadata(meta map[string]string) {
	if len(meta) == 0 {
		c.Metadata = nil
		return
	}
	c.Metadata = maps.Clone(meta)
}

// Touch records that a message was received at t.
func (c *Conversation) Touch(t time.Time) {
	if t.After(c.LastMessageAt) {
		c.LastMessageAt = t
	}
}

// SortByLastMessage orders conversations by most recent message first.
// Conversations without messages fall back to their creation time.
func SortByLastMessage(convs []Conversation) {
	slices.SortStableFunc(convs, func(a, b Conversation) int {
		return recency(b).Compare(recency(a))
	})
}

func recency(c Conversation) time.Time {
	if c.LastMessageAt.IsZero() {
		return c.CreatedAt
	}
	return c.LastMessageAt
}
