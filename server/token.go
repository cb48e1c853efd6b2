package server

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"time"

	"github.com/google/uuid"
)

// TokenType tags a stored token record.
type TokenType string

const (
	// AuthorizationCode is the single-use grant artifact of the code flow.
	AuthorizationCode TokenType = "authorization_code"
	// AccessToken is a bearer credential, reusable until it expires or is
	// revoked.
	AccessToken TokenType = "access_token"
)

// A Token is a stored grant artifact or bearer credential. Records are never
// deleted by this package; a token becomes permanently unusable once it
// expires, is consumed (codes) or is marked invalid.
type Token struct {
	ID       string    `json:"id"`
	Value    string    `json:"token"`
	UserID   string    `json:"user_id"`
	ClientID string    `json:"client_id"`
	Created  time.Time `json:"created"`
	// ExpiresAt is the absolute expiry instant. The wire name expires_in is
	// historical, it is not a duration.
	ExpiresAt time.Time `json:"expires_in"`
	Type      TokenType `json:"type"`
	Scopes    []string  `json:"scope_list"`
	// LastAccess is nil until the token is first used. For codes that first
	// use is the exchange; for access tokens it only tracks usage.
	LastAccess *time.Time `json:"last_access"`
	// Valid is a soft-revocation flag. An invalid token is indistinguishable
	// from an absent one.
	Valid bool `json:"valid"`
}

// Expired reports whether the token is past its expiry at the given instant.
func (t *Token) Expired(now time.Time) bool {
	return !t.ExpiresAt.After(now)
}

// Consumed reports whether a code token was already exchanged.
func (t *Token) Consumed() bool {
	return t.LastAccess != nil
}

// TokenFilter selects stored tokens by value, type and validity.
type TokenFilter struct {
	Value string
	Type  TokenType
	Valid bool
}

var (
	// ErrDuplicateToken is returned by Create when the token value is taken.
	ErrDuplicateToken = errors.New("token value already exists")
	// ErrCodeConsumed is returned by Consume when the token was used before.
	ErrCodeConsumed = errors.New("authorization code already consumed")
	// ErrTokenNotFound is returned by Consume for an unknown token value.
	ErrTokenNotFound = errors.New("token not found")
)

// A TokenStore holds token records. Stores are shared, externally-owned
// resources: every mutation must be a single atomic read-modify-write per
// record, and implementations must not hold long-lived locks.
type TokenStore interface {
	// Find returns all tokens matching the filter, in store order.
	Find(f TokenFilter) ([]*Token, error)
	// Create persists a new token and returns ErrDuplicateToken if a token
	// with the same value already exists.
	Create(t *Token) error
	// Save upserts a token by value.
	Save(t *Token) error
	// Consume records the token's first use: it sets LastAccess to now only
	// if LastAccess is still unset, as one atomic conditional operation. Of
	// two concurrent calls for the same value exactly one succeeds; the
	// loser gets ErrCodeConsumed.
	Consume(value string, now time.Time) (*Token, error)
}

// tokenEntropy is the number of random bytes in a generated token value.
const tokenEntropy = 24

// generateToken returns a random URL- and header-safe token value drawn from
// a cryptographically secure source.
func generateToken() string {
	b := make([]byte, tokenEntropy)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand is documented never to fail on supported platforms
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

// newToken builds an unsaved token record of the given type.
func newToken(
	typ TokenType, userID string, clientID string, scopes []string,
	lifetime time.Duration, now time.Time,
) *Token {
	if scopes == nil {
		scopes = []string{}
	}
	return &Token{
		ID:        uuid.NewString(),
		Value:     generateToken(),
		UserID:    userID,
		ClientID:  clientID,
		Created:   now,
		ExpiresAt: now.Add(lifetime),
		Type:      typ,
		Scopes:    scopes,
		Valid:     true,
	}
}
