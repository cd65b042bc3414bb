package courier

import (
	"errors"
	"fmt"
)

// Authentication errors. Every failure of Authenticate or Deauthenticate is
// an *AuthError matching ErrAuthentication and the sentinel of the failing
// step.
var (
	ErrAuthentication   = errors.New("authentication failed")
	ErrConnection       = errors.New("unable to connect")
	ErrNonceRequest     = errors.New("unable to obtain nonce")
	ErrIdentityToken    = errors.New("unable to obtain identity token")
	ErrValidation       = errors.New("identity token rejected")
	ErrDeauthentication = errors.New("unable to deauthenticate")
)

// Messaging errors.
var (
	ErrNotConfigured              = errors.New("courier is not configured")
	ErrUnableToCreateMessage      = errors.New("unable to create message")
	ErrUnableToAddParticipants    = errors.New("unable to add participants")
	ErrUnableToRemoveParticipants = errors.New("unable to remove participants")
	ErrUnableToSendMessage        = errors.New("unable to send message")
	ErrUnableToMarkMessagesAsRead = errors.New("unable to mark messages as read")
	ErrUnableToMarkAsRead         = errors.New("unable to mark message as read")
	ErrUnableToUpdateMetadata     = errors.New("unable to update metadata")
)

// AuthError reports the step at which authentication stopped.
type AuthError struct {
	// Step is one of ErrConnection, ErrNonceRequest, ErrIdentityToken,
	// ErrValidation or ErrDeauthentication.
	Step error
	// Err is the underlying failure, if any.
	Err error
}

func (e *AuthError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", ErrAuthentication, e.Step)
	}
	return fmt.Sprintf("%s: %s: %v", ErrAuthentication, e.Step, e.Err)
}

// Is matches ErrAuthentication and the step sentinel.
func (e *AuthError) Is(target error) bool {
	return target == ErrAuthentication || target == e.Step
}

func (e *AuthError) Unwrap() error { return e.Err }
