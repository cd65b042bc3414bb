package courier

import (
	"context"
	"image"
	"maps"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/hay-kot/courier/internal/core/backend"
	"github.com/hay-kot/courier/internal/core/conversation"
	"github.com/hay-kot/courier/internal/core/message"
)

// Communicator sends messages to and manages one conversation.
type Communicator struct {
	svc   backend.Service
	conv  conversation.Conversation
	names func(identity string) string
	log   zerolog.Logger
}

func newCommunicator(svc backend.Service, conv conversation.Conversation, names func(string) string, log zerolog.Logger) *Communicator {
	return &Communicator{
		svc:   svc,
		conv:  conv,
		names: names,
		log:   log.With().Str("conversation", conv.ID).Logger(),
	}
}

// Conversation returns the bound conversation as last seen.
func (c *Communicator) Conversation() conversation.Conversation {
	return c.conv
}

// AddParticipants adds ids to the conversation. Either all are added or
// none are.
func (c *Communicator) AddParticipants(ctx context.Context, ids ...string) error {
	conv, err := c.svc.AddParticipants(ctx, c.conv.ID, conversation.NewParticipants(ids...))
	if err != nil {
		c.log.Warn().Err(err).Strs("ids", ids).Msg("add participants failed")
		return ErrUnableToAddParticipants
	}
	c.conv = conv
	return nil
}

// RemoveParticipants removes ids from the conversation. Either all are
// removed or none are.
func (c *Communicator) RemoveParticipants(ctx context.Context, ids ...string) error {
	conv, err := c.svc.RemoveParticipants(ctx, c.conv.ID, conversation.NewParticipants(ids...))
	if err != nil {
		c.log.Warn().Err(err).Strs("ids", ids).Msg("remove participants failed")
		return ErrUnableToRemoveParticipants
	}
	c.conv = conv
	return nil
}

// UpdateMetadata replaces the conversation metadata.
func (c *Communicator) UpdateMetadata(ctx context.Context, meta map[string]string) error {
	conv, err := c.svc.SetMetadata(ctx, c.conv.ID, maps.Clone(meta))
	if err != nil {
		c.log.Warn().Err(err).Msg("update metadata failed")
		return ErrUnableToUpdateMetadata
	}
	c.conv = conv
	return nil
}

// MarkAllRead acknowledges every message of the conversation.
func (c *Communicator) MarkAllRead(ctx context.Context) error {
	if err := c.svc.MarkAllRead(ctx, c.conv.ID); err != nil {
		c.log.Warn().Err(err).Msg("mark all read failed")
		return ErrUnableToMarkMessagesAsRead
	}
	return nil
}

// Messages returns the conversation history, oldest first.
func (c *Communicator) Messages(ctx context.Context) ([]message.Message, error) {
	return c.svc.Messages(ctx, c.conv.ID)
}

// SendText sends a text message.
func (c *Communicator) SendText(ctx context.Context, text string) (message.Message, error) {
	return c.send(ctx, func() (message.Part, error) { return EncodeText(text) })
}

// SendImage sends img as a PNG image message.
func (c *Communicator) SendImage(ctx context.Context, img image.Image) (message.Message, error) {
	return c.send(ctx, func() (message.Part, error) { return EncodeImage(img) })
}

// SendJPEG sends img as a JPEG image message.
func (c *Communicator) SendJPEG(ctx context.Context, img image.Image) (message.Message, error) {
	return c.send(ctx, func() (message.Part, error) { return EncodeJPEG(img) })
}

// SendLocation sends a location message.
func (c *Communicator) SendLocation(ctx context.Context, coord Coordinate, userInfo map[string]any) (message.Message, error) {
	return c.send(ctx, func() (message.Part, error) { return EncodeLocation(coord, userInfo) })
}

// SendDate sends a date message.
func (c *Communicator) SendDate(ctx context.Context, t time.Time) (message.Message, error) {
	return c.send(ctx, func() (message.Part, error) { return EncodeDate(t) })
}

// send encodes a part and submits it with its push summary. Encoding
// failures never reach the backend.
func (c *Communicator) send(ctx context.Context, encode func() (message.Part, error)) (message.Message, error) {
	part, err := encode()
	if err != nil {
		c.log.Debug().Err(err).Msg("encode failed")
		return message.Message{}, ErrUnableToSendMessage
	}

	draft := message.Draft{
		Parts: []message.Part{part},
		Push: message.PushConfig{
			Alert: c.pushAlert(part),
			Sound: message.DefaultSound,
		},
	}

	msg, err := c.svc.SendMessage(ctx, c.conv.ID, draft)
	if err != nil {
		c.log.Warn().Err(err).Msg("send failed")
		return message.Message{}, ErrUnableToSendMessage
	}

	c.conv.Touch(msg.SentAt)
	return msg, nil
}

// pushAlert builds the notification text for part, prefixed with the
// sender's display name.
func (c *Communicator) pushAlert(part message.Part) string {
	text := "sent you a message."
	switch part.MIMEType {
	case message.MIMEText:
		text = "said, " + string(part.Data)
	case message.MIMEImageGIF:
		text = "sent you a GIF."
	case message.MIMELocation:
		text = "sent you a location."
	case message.MIMEVideoMP4, message.MIMEVideoQuickTime:
		text = "sent you a video."
	}

	name := c.svc.AuthenticatedUser()
	if c.names != nil {
		name = c.names(name)
	}
	return strings.TrimSpace(name + " " + text)
}
