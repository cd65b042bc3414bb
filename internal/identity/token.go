// Package identity implements the identity-token exchange: a signer and
// verifier for identity tokens, an HTTP client that requests them, and the
// HTTP handler that issues them.
package identity

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"
)

// DefaultTokenTTL is how long an issued identity token stays valid.
const DefaultTokenTTL = 10 * time.Minute

const keyInfo = "courier identity token v1"

// Claims are the identity token claims.
type Claims struct {
	Nonce string `json:"nce"`
	jwt.RegisteredClaims
}

// DeriveKey derives the token signing key from the provider's auth key.
// The provider id salts the derivation so keys differ across providers.
func DeriveKey(providerID, authKey string) ([]byte, error) {
	if authKey == "" {
		return nil, errors.New("identity: auth key is required")
	}
	r := hkdf.New(sha256.New, []byte(authKey), []byte(providerID), []byte(keyInfo))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("identity: derive key: %w", err)
	}
	return key, nil
}

// Signer issues identity tokens.
type Signer struct {
	providerID string
	key        []byte
	ttl        time.Duration
}

// NewSigner creates a Signer for providerID using authKey.
func NewSigner(providerID, authKey string, ttl time.Duration) (*Signer, error) {
	key, err := DeriveKey(providerID, authKey)
	if err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &Signer{providerID: providerID, key: key, ttl: ttl}, nil
}

// Sign returns a token asserting userID for appID, bound to nonce.
func (s *Signer) Sign(appID, userID, nonce string) (string, error) {
	now := time.Now()
	claims := Claims{
		Nonce: nonce,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    s.providerID,
			Subject:   userID,
			Audience:  jwt.ClaimStrings{appID},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("identity: sign token: %w", err)
	}
	return token, nil
}

// Verifier checks identity tokens issued by a Signer with the same
// provider id and auth key.
type Verifier struct {
	providerID string
	key        []byte
}

// NewVerifier creates a Verifier for providerID using authKey.
func NewVerifier(providerID, authKey string) (*Verifier, error) {
	key, err := DeriveKey(providerID, authKey)
	if err != nil {
		return nil, err
	}
	return &Verifier{providerID: providerID, key: key}, nil
}

// Verify parses token and checks signature, expiry, issuer and audience.
func (v *Verifier) Verify(token, appID string) (Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.key, nil
	})
	if err != nil {
		return Claims{}, fmt.Errorf("identity: parse token: %w", err)
	}

	if !claims.VerifyIssuer(v.providerID, true) {
		return Claims{}, fmt.Errorf("identity: unexpected issuer %q", claims.Issuer)
	}
	if !claims.VerifyAudience(appID, true) {
		return Claims{}, fmt.Errorf("identity: token not issued for app %q", appID)
	}
	if claims.Subject == "" {
		return Claims{}, errors.New("identity: token has no subject")
	}
	if claims.Nonce == "" {
		return Claims{}, errors.New("identity: token has no nonce")
	}

	return claims, nil
}
