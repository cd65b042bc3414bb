package jsonfile

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/hay-kot/courier/internal/core/message"
)

func newMsg(id, convID string) message.Message {
	return message.Message{
		ID:             id,
		ConversationID: convID,
		Sender:         "alice",
		Parts:          []message.Part{{MIMEType: message.MIMEText, Data: []byte("hi")}},
		Push:           message.PushConfig{Alert: "alice said, hi", Sound: message.DefaultSound},
		SentAt:         time.Now(),
		RecipientStatus: map[string]message.RecipientStatus{
			"alice": message.StatusRead,
			"bob":   message.StatusSent,
		},
	}
}

func TestMsgStore_AppendAndGet(t *testing.T) {
	store := NewMsgStore(filepath.Join(t.TempDir(), "messages"))
	ctx := context.Background()

	if err := store.Append(ctx, newMsg("m1", "layer:///conversations/1")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	got, err := store.Get(ctx, "layer:///conversations/1", "m1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if string(got.Parts[0].Data) != "hi" {
		t.Errorf("Data = %q, want %q", got.Parts[0].Data, "hi")
	}
	if got.StatusFor("bob") != message.StatusSent {
		t.Errorf("bob status = %v, want sent", got.StatusFor("bob"))
	}
}

func TestMsgStore_GetNotFound(t *testing.T) {
	store := NewMsgStore(filepath.Join(t.TempDir(), "messages"))
	ctx := context.Background()

	_, err := store.Get(ctx, "c1", "missing")
	if !errors.Is(err, message.ErrNotFound) {
		t.Errorf("Get error = %v, want ErrNotFound", err)
	}
}

func TestMsgStore_AppendRequiresIDs(t *testing.T) {
	store := NewMsgStore(filepath.Join(t.TempDir(), "messages"))

	if err := store.Append(context.Background(), message.Message{ID: "m1"}); err == nil {
		t.Error("expected error for message without conversation id")
	}
}

func TestMsgStore_ListIsolatedPerConversation(t *testing.T) {
	store := NewMsgStore(filepath.Join(t.TempDir(), "messages"))
	ctx := context.Background()

	for _, m := range []message.Message{newMsg("m1", "c1"), newMsg("m2", "c1"), newMsg("m3", "c2")} {
		if err := store.Append(ctx, m); err != nil {
			t.Fatalf("Append %s: %v", m.ID, err)
		}
	}

	msgs, err := store.List(ctx, "c1")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(msgs) != 2 || msgs[0].ID != "m1" || msgs[1].ID != "m2" {
		t.Errorf("List(c1) = %v, want [m1 m2]", msgs)
	}

	msgs, err = store.List(ctx, "empty")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("List(empty) returned %d messages, want 0", len(msgs))
	}
}

func TestMsgStore_SimilarIDsStayApart(t *testing.T) {
	store := NewMsgStore(filepath.Join(t.TempDir(), "messages"))
	ctx := context.Background()

	for _, m := range []message.Message{newMsg("m1", "a/b"), newMsg("m2", "a_b"), newMsg("m3", "a:b")} {
		if err := store.Append(ctx, m); err != nil {
			t.Fatalf("Append %s: %v", m.ID, err)
		}
	}

	for convID, want := range map[string]string{"a/b": "m1", "a_b": "m2", "a:b": "m3"} {
		msgs, err := store.List(ctx, convID)
		if err != nil {
			t.Fatalf("List(%q): %v", convID, err)
		}
		if len(msgs) != 1 || msgs[0].ID != want {
			t.Errorf("List(%q) = %v, want [%s]", convID, msgs, want)
		}
	}
}

func TestMsgStore_Advance(t *testing.T) {
	store := NewMsgStore(filepath.Join(t.TempDir(), "messages"))
	ctx := context.Background()

	if err := store.Append(ctx, newMsg("m1", "c1")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	got, changed, err := store.Advance(ctx, "c1", "m1", map[string]message.RecipientStatus{"bob": message.StatusDelivered})
	if err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	if !changed || got.StatusFor("bob") != message.StatusDelivered {
		t.Errorf("Advance = (%v, %v), want delivered and changed", got.StatusFor("bob"), changed)
	}

	// Backward moves are ignored.
	got, changed, err = store.Advance(ctx, "c1", "m1", map[string]message.RecipientStatus{"bob": message.StatusSent})
	if err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	if changed || got.StatusFor("bob") != message.StatusDelivered {
		t.Errorf("Advance = (%v, %v), want delivered and unchanged", got.StatusFor("bob"), changed)
	}

	stored, err := store.Get(ctx, "c1", "m1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if stored.StatusFor("bob") != message.StatusDelivered {
		t.Errorf("stored status = %v, want delivered", stored.StatusFor("bob"))
	}

	if _, _, err := store.Advance(ctx, "c1", "missing", nil); !errors.Is(err, message.ErrNotFound) {
		t.Errorf("Advance error = %v, want ErrNotFound", err)
	}
}

func TestMsgStore_AdvanceAll(t *testing.T) {
	store := NewMsgStore(filepath.Join(t.TempDir(), "messages"))
	ctx := context.Background()

	for _, id := range []string{"m1", "m2"} {
		if err := store.Append(ctx, newMsg(id, "c1")); err != nil {
			t.Fatalf("Append %s: %v", id, err)
		}
	}

	n, err := store.AdvanceAll(ctx, "c1", "bob", message.StatusRead)
	if err != nil {
		t.Fatalf("AdvanceAll failed: %v", err)
	}
	if n != 2 {
		t.Errorf("AdvanceAll changed %d, want 2", n)
	}

	n, err = store.AdvanceAll(ctx, "c1", "bob", message.StatusRead)
	if err != nil {
		t.Fatalf("AdvanceAll failed: %v", err)
	}
	if n != 0 {
		t.Errorf("second AdvanceAll changed %d, want 0", n)
	}

	// Identities without a record are not recipients.
	n, err = store.AdvanceAll(ctx, "c1", "mallory", message.StatusRead)
	if err != nil {
		t.Fatalf("AdvanceAll failed: %v", err)
	}
	if n != 0 {
		t.Errorf("AdvanceAll for non-recipient changed %d, want 0", n)
	}
}
