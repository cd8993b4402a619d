package domain

import (
	"time"

	"github.com/google/uuid"
)

// User is a locally registered desktop account.
type User struct {
	ID           int64
	Username     string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// DisplayName falls back to the username.
func (u User) DisplayName() string {
	return u.Username
}

// BrokerToken is a broker-issued access token.
// A zero ExpiresAt means the broker did not report an expiry.
type BrokerToken struct {
	AccessToken string
	TokenType   string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// Expired reports whether the token is past its expiry at now.
func (t BrokerToken) Expired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && !now.Before(t.ExpiresAt)
}

// Session is the in-memory record of the logged-in user.
// Only the session manager creates or mutates it; readers get copies.
type Session struct {
	ID          uuid.UUID
	UserID      int64
	DisplayName string
	CreatedAt   time.Time
	Token       *BrokerToken
}

// HasToken reports whether a broker token is attached.
func (s Session) HasToken() bool {
	return s.Token != nil && s.Token.AccessToken != ""
}

// Clone returns a deep copy so callers never share the token pointer.
func (s Session) Clone() Session {
	c := s
	if s.Token != nil {
		tok := *s.Token
		c.Token = &tok
	}
	return c
}

// CredentialRecord is the persisted form of a user's broker credentials.
// APIKey, APISecret and AccessToken hold vault ciphertext, never plaintext.
type CredentialRecord struct {
	UserID         int64
	APIKey         string
	APISecret      string
	AccessToken    string
	TokenIssuedAt  time.Time
	TokenExpiresAt time.Time
	UpdatedAt      time.Time
}

// HasToken reports whether an encrypted token is stored.
func (r CredentialRecord) HasToken() bool {
	return r.AccessToken != ""
}
