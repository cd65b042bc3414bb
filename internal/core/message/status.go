package message

import (
	"fmt"
	"strings"
)

// RecipientStatus is the delivery progress of one message for one recipient.
// Values are ordered; a status never moves backwards.
type RecipientStatus int

const (
	StatusInvalid RecipientStatus = iota
	StatusSent
	StatusDelivered
	StatusRead
)

var statusNames = [...]string{
	StatusInvalid:   "invalid",
	StatusSent:      "sent",
	StatusDelivered: "delivered",
	StatusRead:      "read",
}

func (s RecipientStatus) String() string {
	if s < StatusInvalid || s > StatusRead {
		return fmt.Sprintf("status(%d)", int(s))
	}
	return statusNames[s]
}

// Advance returns the later of s and next, and whether that differs from s.
func (s RecipientStatus) Advance(next RecipientStatus) (RecipientStatus, bool) {
	if next > StatusRead || next <= s {
		return s, false
	}
	return next, true
}

// MarshalText encodes the status by name.
func (s RecipientStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name.
func (s *RecipientStatus) UnmarshalText(text []byte) error {
	status, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = status
	return nil
}

// ParseStatus parses a status name.
func ParseStatus(name string) (RecipientStatus, error) {
	for i, n := range statusNames {
		if strings.EqualFold(n, name) {
			return RecipientStatus(i), nil
		}
	}
	return StatusInvalid, fmt.Errorf("unknown recipient status %q", name)
}
