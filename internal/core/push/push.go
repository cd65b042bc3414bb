// Package push defines the notification payload handed to the push pipeline
// and the outbox it is written to.
//
// Payloads are encoded as CBOR with Core Deterministic Encoding so the same
// notification always produces the same bytes.
package push

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("push: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("push: CBOR decoder initialization failed: " + err.Error())
	}
}

// ErrInvalidPayload is returned when a payload cannot be decoded or is
// missing required fields.
var ErrInvalidPayload = errors.New("invalid push payload")

// Notification is delivered to one recipient when a message is sent.
type Notification struct {
	Recipient      string    `cbor:"1,keyasint" json:"recipient"`
	ConversationID string    `cbor:"2,keyasint" json:"conversation_id"`
	MessageID      string    `cbor:"3,keyasint" json:"message_id"`
	Alert          string    `cbor:"4,keyasint" json:"alert"`
	Sound          string    `cbor:"5,keyasint,omitempty" json:"sound,omitempty"`
	CreatedAt      time.Time `cbor:"6,keyasint" json:"created_at"`
}

// Encode serializes n for the push pipeline.
func Encode(n Notification) ([]byte, error) {
	data, err := encMode.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("encode notification: %w", err)
	}
	return data, nil
}

// Decode parses a payload produced by Encode.
func Decode(payload []byte) (Notification, error) {
	var n Notification
	if err := decMode.Unmarshal(payload, &n); err != nil {
		return Notification{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if n.ConversationID == "" || n.MessageID == "" {
		return Notification{}, fmt.Errorf("%w: missing conversation or message id", ErrInvalidPayload)
	}
	return n, nil
}

// Outbox queues encoded notifications until their recipient drains them.
type Outbox interface {
	// Enqueue records a notification payload for recipient.
	Enqueue(ctx context.Context, recipient string, payload []byte) error
	// Drain removes and returns all pending payloads for recipient,
	// oldest first.
	Drain(ctx context.Context, recipient string) ([][]byte, error)
}
