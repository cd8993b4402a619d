// Package session owns the process-wide login state.
//
// The Manager is the only writer of the current Session. Every read and
// each transition (Login, AttachToken, Logout) runs under one RWMutex, so a
// reader never sees a session with a half-swapped token.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"fyers_desk/internal/domain"

	"github.com/google/uuid"
)

// State is the authentication state of the process.
type State int

const (
	StateAnonymous State = iota
	StateAuthenticated
	StateBrokerLinked
)

func (s State) String() string {
	switch s {
	case StateAnonymous:
		return "ANONYMOUS"
	case StateAuthenticated:
		return "AUTHENTICATED"
	case StateBrokerLinked:
		return "BROKER_LINKED"
	default:
		return "UNKNOWN"
	}
}

// SecretOpener decrypts stored credential fields.
type SecretOpener interface {
	Decrypt(blob string) (string, error)
}

// CodeExchanger trades an authorization code for a broker token.
type CodeExchanger interface {
	ExchangeCode(ctx context.Context, code, clientID, clientSecret string) (domain.BrokerToken, error)
}

// Option configures a Manager.
type Option func(*Manager)

// WithVault sets the secret opener used by LinkBroker.
func WithVault(v SecretOpener) Option {
	return func(m *Manager) { m.vault = v }
}

// WithExchanger sets the code exchanger used by LinkBroker.
func WithExchanger(x CodeExchanger) Option {
	return func(m *Manager) { m.exchanger = x }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Manager is the single shared session state machine.
type Manager struct {
	mu      sync.RWMutex
	current *domain.Session

	vault     SecretOpener
	exchanger CodeExchanger
	now       func() time.Time
}

// NewManager creates a Manager in the Anonymous state.
func NewManager(opts ...Option) *Manager {
	m := &Manager{now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Login starts a new session for user, replacing any existing one.
func (m *Manager) Login(user domain.User) (domain.Session, error) {
	var verrs domain.ValidationErrors
	if user.ID <= 0 {
		verrs = append(verrs, domain.FieldError{Field: "user_id", Code: "required", Message: "is required"})
	}
	if strings.TrimSpace(user.Username) == "" {
		verrs = append(verrs, domain.FieldError{Field: "username", Code: "required", Message: "is required"})
	}
	if len(verrs) > 0 {
		return domain.Session{}, verrs
	}

	s := &domain.Session{
		ID:          uuid.New(),
		UserID:      user.ID,
		DisplayName: user.DisplayName(),
		CreatedAt:   m.now(),
	}

	m.mu.Lock()
	replaced := m.current != nil
	m.current = s
	m.mu.Unlock()

	slog.Info("Session started",
		slog.Int64("user_id", user.ID),
		slog.String("session", s.ID.String()),
		slog.Bool("replaced", replaced))
	return s.Clone(), nil
}

// AttachToken links a broker token to the active session.
// Without a session it returns *domain.IllegalStateError.
func (m *Manager) AttachToken(tok domain.BrokerToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attachLocked("AttachToken", tok)
}

func (m *Manager) attachLocked(op string, tok domain.BrokerToken) error {
	if m.current == nil {
		return &domain.IllegalStateError{Op: op, State: StateAnonymous.String()}
	}
	if strings.TrimSpace(tok.AccessToken) == "" {
		return domain.ValidationErrors{{Field: "access_token", Code: "required", Message: "is required"}}
	}
	if tok.IssuedAt.IsZero() {
		tok.IssuedAt = m.now()
	}
	m.current.Token = &tok
	return nil
}

// DetachToken drops the broker token, e.g. after the broker reports it expired.
// The session stays Authenticated.
func (m *Manager) DetachToken() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil {
		m.current.Token = nil
	}
}

// Logout clears the session and its token. Idempotent.
func (m *Manager) Logout() {
	m.mu.Lock()
	prev := m.current
	m.current = nil
	m.mu.Unlock()

	if prev != nil {
		slog.Info("Session ended", slog.Int64("user_id", prev.UserID))
	}
}

// CurrentSession returns a copy of the active session.
func (m *Manager) CurrentSession() (domain.Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return domain.Session{}, false
	}
	return m.current.Clone(), true
}

// IsAuthenticated reports whether a session exists.
func (m *Manager) IsAuthenticated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current != nil
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	switch {
	case m.current == nil:
		return StateAnonymous
	case m.current.HasToken():
		return StateBrokerLinked
	default:
		return StateAuthenticated
	}
}

// AccessToken returns the broker access token if one is attached.
func (m *Manager) AccessToken() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil || !m.current.HasToken() {
		return "", false
	}
	return m.current.Token.AccessToken, true
}

// LinkBroker unlocks rec with the vault, exchanges code for a token and
// attaches it. The exchange runs without holding the lock; if the session
// was replaced or ended meanwhile, the token is discarded.
func (m *Manager) LinkBroker(ctx context.Context, rec domain.CredentialRecord, code string) (domain.BrokerToken, error) {
	sess, ok := m.CurrentSession()
	if !ok {
		return domain.BrokerToken{}, &domain.IllegalStateError{Op: "LinkBroker", State: StateAnonymous.String()}
	}
	if m.vault == nil || m.exchanger == nil {
		return domain.BrokerToken{}, errors.New("session: broker linking is not configured")
	}
	if strings.TrimSpace(code) == "" {
		return domain.BrokerToken{}, domain.ValidationErrors{{Field: "auth_code", Code: "required", Message: "is required"}}
	}

	clientID, err := m.vault.Decrypt(rec.APIKey)
	if err != nil {
		return domain.BrokerToken{}, fmt.Errorf("unlock api key: %w", err)
	}
	clientSecret, err := m.vault.Decrypt(rec.APISecret)
	if err != nil {
		return domain.BrokerToken{}, fmt.Errorf("unlock api secret: %w", err)
	}

	tok, err := m.exchanger.ExchangeCode(ctx, code, clientID, clientSecret)
	if err != nil {
		return domain.BrokerToken{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil || m.current.ID != sess.ID {
		return domain.BrokerToken{}, &domain.IllegalStateError{Op: "LinkBroker", State: "session changed during exchange"}
	}
	if err := m.attachLocked("LinkBroker", tok); err != nil {
		return domain.BrokerToken{}, err
	}
	slog.Info("Broker linked", slog.Int64("user_id", sess.UserID))
	return *m.current.Token, nil
}
