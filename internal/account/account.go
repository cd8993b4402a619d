// Package account ties local users, stored broker credentials and the
// session together.
package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"fyers_desk/internal/domain"
	"fyers_desk/internal/session"
	"fyers_desk/internal/storage"
	"fyers_desk/internal/vault"
)

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// ErrInvalidLogin hides whether the username or the password was wrong.
var ErrInvalidLogin = errors.New("invalid username or password")

// Store is the persistence the service needs.
type Store interface {
	CreateUser(ctx context.Context, u domain.User) (domain.User, error)
	UserByUsername(ctx context.Context, username string) (domain.User, error)
	SaveCredentials(ctx context.Context, rec domain.CredentialRecord) error
	Credentials(ctx context.Context, userID int64) (domain.CredentialRecord, error)
	SaveToken(ctx context.Context, userID int64, cipherToken string, issued, expires time.Time) error
	ClearToken(ctx context.Context, userID int64) error
	AddWatch(ctx context.Context, item domain.WatchItem) error
	RemoveWatch(ctx context.Context, userID int64, symbol, exchange string) (bool, error)
	Watchlist(ctx context.Context, userID int64) ([]domain.WatchItem, error)
	UpsertMetadata(ctx context.Context, kv domain.AppConfig) error
}

// Sealer encrypts and decrypts credential fields.
type Sealer interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(blob string) (string, error)
}

// Service is the account workflow: register, login, credentials, broker link.
type Service struct {
	store    Store
	sealer   Sealer
	sessions *session.Manager
	hashCost int
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithPasswordCost sets the bcrypt work factor for new passwords.
func WithPasswordCost(cost int) Option {
	return func(s *Service) { s.hashCost = cost }
}

// NewService wires the service. sessions must have been created with the
// same sealer and a code exchanger for LinkBroker to work.
func NewService(store Store, sealer Sealer, sessions *session.Manager, opts ...Option) *Service {
	s := &Service{store: store, sealer: sealer, sessions: sessions, hashCost: vault.PasswordCost, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates a local user with a bcrypt password hash.
func (s *Service) Register(ctx context.Context, username, password, email string) (domain.User, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)

	var verrs domain.ValidationErrors
	if username == "" {
		verrs = append(verrs, domain.FieldError{Field: "username", Code: "required", Message: "is required"})
	}
	if password == "" {
		verrs = append(verrs, domain.FieldError{Field: "password", Code: "required", Message: "is required"})
	}
	if !emailPattern.MatchString(email) {
		verrs = append(verrs, domain.FieldError{Field: "email", Code: "email", Message: "is not a valid address"})
	}
	if len(verrs) > 0 {
		return domain.User{}, verrs
	}

	hash, err := vault.HashPasswordCost(password, s.hashCost)
	if err != nil {
		return domain.User{}, err
	}
	u, err := s.store.CreateUser(ctx, domain.User{Username: username, Email: email, PasswordHash: hash, CreatedAt: s.now()})
	if errors.Is(err, domain.ErrAlreadyExists) {
		return domain.User{}, domain.ValidationErrors{{Field: "username", Code: "unique", Message: "is already taken"}}
	}
	if err != nil {
		return domain.User{}, err
	}
	slog.Info("User registered", slog.Int64("user_id", u.ID), slog.String("username", u.Username))
	return u, nil
}

// Login checks the password and starts a session.
func (s *Service) Login(ctx context.Context, username, password string) (domain.Session, error) {
	u, err := s.store.UserByUsername(ctx, strings.TrimSpace(username))
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Session{}, ErrInvalidLogin
	}
	if err != nil {
		return domain.Session{}, err
	}
	if !vault.VerifyPassword(password, u.PasswordHash) {
		slog.Warn("Login rejected", slog.String("username", u.Username))
		return domain.Session{}, ErrInvalidLogin
	}

	sess, err := s.sessions.Login(u)
	if err != nil {
		return domain.Session{}, err
	}
	if err := s.store.UpsertMetadata(ctx, domain.AppConfig{Key: storage.KeyLastUser, Value: u.Username}); err != nil {
		slog.Warn("Failed to remember last user", slog.Any("error", err))
	}
	return sess, nil
}

// Logout ends the session. Stored credentials and tokens are kept.
func (s *Service) Logout() {
	s.sessions.Logout()
}

func (s *Service) currentUser(op string) (domain.Session, error) {
	sess, ok := s.sessions.CurrentSession()
	if !ok {
		return domain.Session{}, &domain.IllegalStateError{Op: op, State: session.StateAnonymous.String()}
	}
	return sess, nil
}

// SaveCredentials encrypts the broker api key pair and stores it for the
// logged-in user. A different pair replaces the stored one and drops its
// token; saving the pair already on record changes nothing.
func (s *Service) SaveCredentials(ctx context.Context, apiKey, apiSecret string) error {
	sess, err := s.currentUser("SaveCredentials")
	if err != nil {
		return err
	}
	apiKey, apiSecret = strings.TrimSpace(apiKey), strings.TrimSpace(apiSecret)

	var verrs domain.ValidationErrors
	if apiKey == "" {
		verrs = append(verrs, domain.FieldError{Field: "api_key", Code: "required", Message: "is required"})
	}
	if apiSecret == "" {
		verrs = append(verrs, domain.FieldError{Field: "api_secret", Code: "required", Message: "is required"})
	}
	if len(verrs) > 0 {
		return verrs
	}

	unchanged, err := s.sameCredentials(ctx, sess.UserID, apiKey, apiSecret)
	if err != nil {
		return err
	}
	if unchanged {
		return nil
	}

	encKey, err := s.sealer.Encrypt(apiKey)
	if err != nil {
		return fmt.Errorf("seal api key: %w", err)
	}
	encSecret, err := s.sealer.Encrypt(apiSecret)
	if err != nil {
		return fmt.Errorf("seal api secret: %w", err)
	}
	return s.store.SaveCredentials(ctx, domain.CredentialRecord{
		UserID:    sess.UserID,
		APIKey:    encKey,
		APISecret: encSecret,
		UpdatedAt: s.now(),
	})
}

// sameCredentials reports whether the stored pair decrypts to key and secret.
// An unreadable record counts as different so it gets replaced.
func (s *Service) sameCredentials(ctx context.Context, userID int64, key, secret string) (bool, error) {
	rec, err := s.store.Credentials(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	storedKey, err := s.sealer.Decrypt(rec.APIKey)
	if err != nil {
		return false, nil
	}
	storedSecret, err := s.sealer.Decrypt(rec.APISecret)
	if err != nil {
		return false, nil
	}
	return storedKey == key && storedSecret == secret, nil
}

// Credentials returns the decrypted api key pair of the logged-in user.
func (s *Service) Credentials(ctx context.Context) (apiKey, apiSecret string, err error) {
	sess, err := s.currentUser("Credentials")
	if err != nil {
		return "", "", err
	}
	rec, err := s.store.Credentials(ctx, sess.UserID)
	if err != nil {
		return "", "", err
	}
	if apiKey, err = s.sealer.Decrypt(rec.APIKey); err != nil {
		return "", "", err
	}
	if apiSecret, err = s.sealer.Decrypt(rec.APISecret); err != nil {
		return "", "", err
	}
	return apiKey, apiSecret, nil
}

// HasCredentials reports whether the logged-in user has a stored key pair.
func (s *Service) HasCredentials(ctx context.Context) bool {
	sess, err := s.currentUser("HasCredentials")
	if err != nil {
		return false
	}
	_, err = s.store.Credentials(ctx, sess.UserID)
	return err == nil
}

// LinkBroker exchanges code for a token and persists it encrypted.
func (s *Service) LinkBroker(ctx context.Context, code string) (domain.BrokerToken, error) {
	sess, err := s.currentUser("LinkBroker")
	if err != nil {
		return domain.BrokerToken{}, err
	}
	rec, err := s.store.Credentials(ctx, sess.UserID)
	if err != nil {
		return domain.BrokerToken{}, fmt.Errorf("load credentials: %w", err)
	}

	tok, err := s.sessions.LinkBroker(ctx, rec, code)
	if err != nil {
		return domain.BrokerToken{}, err
	}

	enc, err := s.sealer.Encrypt(tok.AccessToken)
	if err != nil {
		return tok, fmt.Errorf("seal access token: %w", err)
	}
	if err := s.store.SaveToken(ctx, sess.UserID, enc, tok.IssuedAt, tok.ExpiresAt); err != nil {
		return tok, fmt.Errorf("persist access token: %w", err)
	}
	return tok, nil
}

// RestoreToken re-attaches a persisted token that has not expired.
// It reports false when there is nothing usable to restore.
func (s *Service) RestoreToken(ctx context.Context) (bool, error) {
	sess, err := s.currentUser("RestoreToken")
	if err != nil {
		return false, err
	}
	rec, err := s.store.Credentials(ctx, sess.UserID)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !rec.HasToken() {
		return false, nil
	}

	tok := domain.BrokerToken{TokenType: "Bearer", IssuedAt: rec.TokenIssuedAt, ExpiresAt: rec.TokenExpiresAt}
	if tok.Expired(s.now()) {
		slog.Info("Stored broker token expired", slog.Time("expired_at", rec.TokenExpiresAt))
		return false, s.store.ClearToken(ctx, sess.UserID)
	}

	plain, err := s.sealer.Decrypt(rec.AccessToken)
	if err != nil {
		var derr *domain.DecryptionError
		if errors.As(err, &derr) {
			slog.Warn("Stored broker token unreadable, discarding", slog.String("reason", derr.Reason))
			return false, s.store.ClearToken(ctx, sess.UserID)
		}
		return false, err
	}
	tok.AccessToken = plain
	if err := s.sessions.AttachToken(tok); err != nil {
		return false, err
	}
	return true, nil
}

// ForgetToken drops the attached and the persisted token, e.g. after the
// broker reported it expired.
func (s *Service) ForgetToken(ctx context.Context) error {
	sess, err := s.currentUser("ForgetToken")
	if err != nil {
		return err
	}
	s.sessions.DetachToken()
	err = s.store.ClearToken(ctx, sess.UserID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	return err
}

// Watchlist returns the logged-in user's persisted instruments.
func (s *Service) Watchlist(ctx context.Context) ([]domain.WatchItem, error) {
	sess, err := s.currentUser("Watchlist")
	if err != nil {
		return nil, err
	}
	return s.store.Watchlist(ctx, sess.UserID)
}

// Watch adds an instrument to the logged-in user's watchlist.
func (s *Service) Watch(ctx context.Context, symbol, exchange string) error {
	sess, err := s.currentUser("Watch")
	if err != nil {
		return err
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	exchange = strings.ToUpper(strings.TrimSpace(exchange))
	if symbol == "" || exchange == "" {
		return domain.ValidationErrors{{Field: "symbol", Code: "required", Message: "symbol and exchange are required"}}
	}
	return s.store.AddWatch(ctx, domain.WatchItem{UserID: sess.UserID, Symbol: symbol, Exchange: exchange, AddedAt: s.now()})
}

// Unwatch reports whether the instrument was on the list.
func (s *Service) Unwatch(ctx context.Context, symbol, exchange string) (bool, error) {
	sess, err := s.currentUser("Unwatch")
	if err != nil {
		return false, err
	}
	return s.store.RemoveWatch(ctx, sess.UserID,
		strings.ToUpper(strings.TrimSpace(symbol)), strings.ToUpper(strings.TrimSpace(exchange)))
}
