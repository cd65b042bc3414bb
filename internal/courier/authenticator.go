package courier

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hay-kot/courier/internal/core/backend"
	"github.com/hay-kot/courier/internal/core/session"
)

// TokenProvider exchanges a nonce for an identity token.
type TokenProvider interface {
	IdentityToken(ctx context.Context, appID, userID, nonce string) (string, error)
}

// Authenticator drives the session through connect and the nonce, identity
// token and validation handshake. It is the only writer of its Session.
type Authenticator struct {
	conn     backend.Connection
	provider TokenProvider
	log      zerolog.Logger
	now      func() time.Time

	mu      sync.Mutex
	appID   string
	session *session.Session
}

// NewAuthenticator creates an Authenticator. appID overrides the backend's
// application id in token requests when non-empty.
func NewAuthenticator(conn backend.Connection, provider TokenProvider, appID string, log zerolog.Logger) *Authenticator {
	return &Authenticator{
		conn:     conn,
		provider: provider,
		log:      log,
		now:      time.Now,
		appID:    appID,
		session:  session.New(time.Now()),
	}
}

// SetAppID replaces the application id used for token requests.
func (a *Authenticator) SetAppID(appID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.appID = appID
}

// Session returns a snapshot of the session state.
func (a *Authenticator) Session() session.Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return *a.session
}

// Identity returns the authenticated identity or "".
func (a *Authenticator) Identity() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session.Auth != session.Authenticated {
		return ""
	}
	return a.session.Identity
}

// Authenticate authenticates the session as identity. It is a no-op when the
// session is already authenticated as identity. A session bound to another
// identity is deauthenticated first.
func (a *Authenticator) Authenticate(ctx context.Context, identity string) error {
	if identity == "" {
		return &AuthError{Step: ErrIdentityToken, Err: errors.New("identity is required")}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.session.IsAuthenticatedAs(identity) {
		a.log.Debug().Str("identity", identity).Msg("already authenticated")
		return nil
	}

	if a.session.IsConnectedOrConnecting() {
		if a.session.Auth != session.Unauthenticated {
			a.log.Debug().
				Str("from", a.session.Identity).
				Str("to", identity).
				Msg("switching identity")
			if err := a.deauthenticate(ctx); err != nil {
				return err
			}
		}
		return a.handshake(ctx, identity)
	}

	a.session.MarkConnecting(a.now())
	if err := a.conn.Connect(ctx); err != nil {
		a.session.MarkDisconnected(a.now())
		a.log.Warn().Err(err).Msg("connect failed")
		return &AuthError{Step: ErrConnection, Err: err}
	}
	a.session.MarkConnected(a.now())

	return a.handshake(ctx, identity)
}

// handshake runs nonce, identity token and validation in order. A failed
// step stops the chain.
func (a *Authenticator) handshake(ctx context.Context, identity string) error {
	if err := a.session.MarkAuthenticating(identity, a.now()); err != nil {
		return &AuthError{Step: ErrConnection, Err: err}
	}

	nonce, err := a.conn.RequestNonce(ctx)
	if err == nil && nonce == "" {
		err = errors.New("empty nonce")
	}
	if err != nil {
		a.session.MarkUnauthenticated(a.now())
		a.log.Warn().Err(err).Msg("nonce request failed")
		return &AuthError{Step: ErrNonceRequest, Err: err}
	}

	appID := a.appID
	if appID == "" {
		appID = a.conn.AppID()
	}

	token, err := a.provider.IdentityToken(ctx, appID, identity, nonce)
	if err == nil && token == "" {
		err = errors.New("empty identity token")
	}
	if err != nil {
		a.session.MarkUnauthenticated(a.now())
		a.log.Warn().Err(err).Str("identity", identity).Msg("identity token request failed")
		return &AuthError{Step: ErrIdentityToken, Err: err}
	}

	user, err := a.conn.Authenticate(ctx, token)
	if err == nil && user == "" {
		err = errors.New("no authenticated user returned")
	}
	if err != nil {
		a.session.MarkUnauthenticated(a.now())
		a.log.Warn().Err(err).Str("identity", identity).Msg("identity token validation failed")
		return &AuthError{Step: ErrValidation, Err: err}
	}

	if err := a.session.MarkAuthenticated(user, a.now()); err != nil {
		return &AuthError{Step: ErrValidation, Err: err}
	}

	a.log.Info().Str("identity", user).Msg("authenticated")
	return nil
}

// Deauthenticate drops the authenticated identity, keeping the connection.
func (a *Authenticator) Deauthenticate(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.deauthenticate(ctx)
}

func (a *Authenticator) deauthenticate(ctx context.Context) error {
	if !a.session.IsConnectedOrConnecting() {
		a.session.MarkUnauthenticated(a.now())
		return nil
	}

	if err := a.conn.Deauthenticate(ctx); err != nil {
		a.log.Warn().Err(err).Msg("deauthenticate failed")
		return &AuthError{Step: ErrDeauthentication, Err: err}
	}

	a.session.MarkUnauthenticated(a.now())
	return nil
}

// Disconnect closes the connection, dropping any authentication.
func (a *Authenticator) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.session.Connection == session.Disconnected {
		return nil
	}

	if err := a.conn.Disconnect(ctx); err != nil {
		a.log.Warn().Err(err).Msg("disconnect failed")
		return &AuthError{Step: ErrConnection, Err: err}
	}

	a.session.MarkDisconnected(a.now())
	return nil
}
