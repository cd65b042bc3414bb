// Package validate provides shared validation functions.
package validate

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// MaxIdentityLength bounds the length of an identity.
const MaxIdentityLength = 256

// Identity validates a participant identity: non-empty, no whitespace or
// control characters, at most MaxIdentityLength bytes.
func Identity(id string) error {
	if id == "" {
		return errors.New("identity is required")
	}
	if len(id) > MaxIdentityLength {
		return fmt.Errorf("identity is longer than %d bytes", MaxIdentityLength)
	}
	if i := strings.IndexFunc(id, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsControl(r)
	}); i >= 0 {
		return fmt.Errorf("identity %q contains whitespace or control characters", id)
	}
	return nil
}

// Identities validates every identity in ids.
func Identities(ids []string) error {
	for _, id := range ids {
		if err := Identity(id); err != nil {
			return err
		}
	}
	return nil
}
