// Package message defines message domain types and interfaces.
package message

import (
	"errors"
	"maps"
	"time"
)

// MIMEType tags the payload of a message part.
type MIMEType string

const (
	MIMEText             MIMEType = "text/plain"
	MIMEImagePNG         MIMEType = "image/png"
	MIMEImageJPEG        MIMEType = "image/jpeg"
	MIMEImageJPEGPreview MIMEType = "image/jpeg+preview"
	MIMEImageGIF         MIMEType = "image/gif"
	MIMEImageGIFPreview  MIMEType = "image/gif+preview"
	MIMEImageSize        MIMEType = "application/json+imageSize"
	MIMEVideoQuickTime   MIMEType = "video/quicktime"
	MIMELocation         MIMEType = "location/coordinate"
	MIMEDate             MIMEType = "text/date"
	MIMEVideoMP4         MIMEType = "video/mp4"
)

// Thumbnail sizes used when rendering image previews.
const (
	DefaultThumbnailSize    = "512px"
	DefaultGIFThumbnailSize = "64px"
)

// DefaultSound is the push notification sound attached to outgoing messages.
const DefaultSound = "chime.aiff"

var knownTypes = map[MIMEType]struct{}{
	MIMEText: {}, MIMEImagePNG: {}, MIMEImageJPEG: {}, MIMEImageJPEGPreview: {},
	MIMEImageGIF: {}, MIMEImageGIFPreview: {}, MIMEImageSize: {}, MIMEVideoQuickTime: {},
	MIMELocation: {}, MIMEDate: {}, MIMEVideoMP4: {},
}

// Known reports whether m is one of the supported MIME types.
func (m MIMEType) Known() bool {
	_, ok := knownTypes[m]
	return ok
}

// Part is an immutable payload unit of a message.
type Part struct {
	MIMEType MIMEType `json:"mime_type"`
	Data     []byte   `json:"data"`
}

// PushConfig is the push notification summary attached to a message.
type PushConfig struct {
	Alert string `json:"alert"`
	Sound string `json:"sound,omitempty"`
}

// Sentinel errors for message operations.
var (
	ErrNotFound = errors.New("message not found")
	ErrNoParts  = errors.New("message has no parts")
)

// Message is a sent unit bound to exactly one conversation.
type Message struct {
	ID              string                     `json:"id"`
	ConversationID  string                     `json:"conversation_id"`
	Sender          string                     `json:"sender"`
	Parts           []Part                     `json:"parts"`
	Push            PushConfig                 `json:"push"`
	SentAt          time.Time                  `json:"sent_at"`
	RecipientStatus map[string]RecipientStatus `json:"recipient_status,omitempty"`
}

// Draft is a message that has not been submitted yet.
type Draft struct {
	Parts []Part
	Push  PushConfig
}

// Validate checks that the draft can be submitted.
func (d Draft) Validate() error {
	if len(d.Parts) == 0 {
		return ErrNoParts
	}
	return nil
}

// StatusFor returns the status recorded for identity, or StatusInvalid.
func (m *Message) StatusFor(identity string) RecipientStatus {
	if identity == "" {
		return StatusInvalid
	}
	return m.RecipientStatus[identity]
}

// SetStatus advances the status of identity. Lower statuses are ignored.
// Returns true if the stored status changed.
func (m *Message) SetStatus(identity string, status RecipientStatus) bool {
	if identity == "" {
		return false
	}
	if m.RecipientStatus == nil {
		m.RecipientStatus = make(map[string]RecipientStatus)
	}
	next, changed := m.RecipientStatus[identity].Advance(status)
	if changed {
		m.RecipientStatus[identity] = next
	}
	return changed
}

// IsUnreadFor reports whether identity has not read the message yet.
// Senders never have unread copies of their own messages.
func (m *Message) IsUnreadFor(identity string) bool {
	if identity == "" || identity == m.Sender {
		return false
	}
	if _, ok := m.RecipientStatus[identity]; !ok {
		return false
	}
	return m.StatusFor(identity) < StatusRead
}

// Clone returns a deep copy of the status map so callers can mutate it.
func (m Message) Clone() Message {
	m.RecipientStatus = maps.Clone(m.RecipientStatus)
	return m
}
