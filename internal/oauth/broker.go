// Package oauth implements the broker's authorization-code login.
package oauth

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"fyers_desk/internal/domain"
)

const (
	DefaultAuthURL     = "https://api-t1.fyers.in/api/v3/generate-authcode"
	DefaultTokenURL    = "https://api-t1.fyers.in/api/v3/validate-authcode"
	DefaultRedirectURI = "http://127.0.0.1:8765/callback"
	DefaultState       = "fyers_auth"
)

// Config holds the broker OAuth endpoints.
type Config struct {
	AuthURL     string
	TokenURL    string
	RedirectURI string
	State       string
}

func (c Config) withDefaults() Config {
	if c.AuthURL == "" {
		c.AuthURL = DefaultAuthURL
	}
	if c.TokenURL == "" {
		c.TokenURL = DefaultTokenURL
	}
	if c.RedirectURI == "" {
		c.RedirectURI = DefaultRedirectURI
	}
	if c.State == "" {
		c.State = DefaultState
	}
	return c
}

// Broker builds authorization URLs and exchanges codes for tokens.
type Broker struct {
	cfg        Config
	httpClient *http.Client
	now        func() time.Time
}

// NewBroker creates a Broker. A nil client gets a 15s timeout client.
func NewBroker(cfg Config, client *http.Client) *Broker {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Broker{cfg: cfg.withDefaults(), httpClient: client, now: time.Now}
}

// State returns the opaque state sent with the authorization request.
func (b *Broker) State() string { return b.cfg.State }

// RedirectURI returns the configured redirect target.
func (b *Broker) RedirectURI() string { return b.cfg.RedirectURI }

// AuthorizationURL returns the login URL for clientID.
// The result is stable for identical input.
func (b *Broker) AuthorizationURL(clientID string) string {
	q := url.Values{}
	q.Set("client_id", clientID)
	q.Set("redirect_uri", b.cfg.RedirectURI)
	q.Set("response_type", "code")
	q.Set("state", b.cfg.State)
	q.Set("scope", "openid")

	sep := "?"
	if strings.Contains(b.cfg.AuthURL, "?") {
		sep = "&"
	}
	return b.cfg.AuthURL + sep + q.Encode()
}

type tokenRequest struct {
	GrantType string `json:"grant_type"`
	AppIDHash string `json:"appIdHash"`
	Code      string `json:"code"`
}

type tokenResponse struct {
	S            string `json:"s"`
	Code         int    `json:"code"`
	Message      string `json:"message"`
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
}

// AppIDHash is sha256("clientID:clientSecret") in hex, as the broker expects.
func AppIDHash(clientID, clientSecret string) string {
	sum := sha256.Sum256([]byte(clientID + ":" + clientSecret))
	return hex.EncodeToString(sum[:])
}

// ExchangeCode trades a single-use authorization code for an access token.
// It makes exactly one request and never retries.
func (b *Broker) ExchangeCode(ctx context.Context, code, clientID, clientSecret string) (domain.BrokerToken, error) {
	const op = "exchange code"
	if code == "" {
		return domain.BrokerToken{}, &domain.AuthError{Kind: domain.AuthInvalidCode, Op: op, Err: errors.New("empty authorization code")}
	}

	body, err := json.Marshal(tokenRequest{
		GrantType: "authorization_code",
		AppIDHash: AppIDHash(clientID, clientSecret),
		Code:      code,
	})
	if err != nil {
		return domain.BrokerToken{}, fmt.Errorf("marshal token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.cfg.TokenURL, bytes.NewReader(body))
	if err != nil {
		return domain.BrokerToken{}, &domain.AuthError{Kind: domain.AuthNetwork, Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return domain.BrokerToken{}, &domain.AuthError{Kind: domain.AuthNetwork, Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.BrokerToken{}, &domain.AuthError{Kind: domain.AuthNetwork, Op: op, Err: err}
	}
	if resp.StatusCode >= 500 {
		return domain.BrokerToken{}, &domain.AuthError{Kind: domain.AuthNetwork, Op: op, Err: fmt.Errorf("broker status %d", resp.StatusCode)}
	}

	var tr tokenResponse
	if err := json.Unmarshal(raw, &tr); err != nil {
		kind := domain.AuthNetwork
		if resp.StatusCode >= 400 {
			kind = domain.AuthInvalidCode
		}
		return domain.BrokerToken{}, &domain.AuthError{Kind: kind, Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	if tr.S != "ok" || tr.AccessToken == "" {
		slog.Warn("Authorization code rejected",
			slog.Int("status", resp.StatusCode),
			slog.Int("code", tr.Code),
			slog.String("message", tr.Message))
		return domain.BrokerToken{}, &domain.AuthError{
			Kind: domain.AuthInvalidCode,
			Op:   op,
			Err:  fmt.Errorf("broker code %d: %s", tr.Code, tr.Message),
		}
	}

	now := b.now()
	tok := domain.BrokerToken{
		AccessToken: tr.AccessToken,
		TokenType:   tr.TokenType,
		IssuedAt:    now,
	}
	if tok.TokenType == "" {
		tok.TokenType = "Bearer"
	}
	if tr.ExpiresIn > 0 {
		tok.ExpiresAt = now.Add(time.Duration(tr.ExpiresIn) * time.Second)
	}
	return tok, nil
}
