package oauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"fyers_desk/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthorizationURL(t *testing.T) {
	b := NewBroker(Config{}, nil)

	first := b.AuthorizationURL("APP123-100")
	second := b.AuthorizationURL("APP123-100")
	assert.Equal(t, first, second)
	assert.True(t, strings.HasPrefix(first, DefaultAuthURL+"?"))
	assert.Contains(t, first, "APP123-100")

	u, err := url.Parse(first)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "api-t1.fyers.in", u.Host)
	assert.Equal(t, "APP123-100", q.Get("client_id"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, DefaultRedirectURI, q.Get("redirect_uri"))
	assert.Equal(t, DefaultState, q.Get("state"))
}

func TestExchangeCode_Success(t *testing.T) {
	var got tokenRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"s":"ok","code":200,"access_token":"eyJ.tok","expires_in":3600}`))
	}))
	defer srv.Close()

	fixed := time.Date(2025, 5, 6, 8, 0, 0, 0, time.UTC)
	b := NewBroker(Config{TokenURL: srv.URL}, srv.Client())
	b.now = func() time.Time { return fixed }

	tok, err := b.ExchangeCode(context.Background(), "auth-code", "APP-100", "secret")
	require.NoError(t, err)

	assert.Equal(t, "authorization_code", got.GrantType)
	assert.Equal(t, "auth-code", got.Code)
	assert.Equal(t, AppIDHash("APP-100", "secret"), got.AppIDHash)
	assert.Len(t, got.AppIDHash, 64)

	assert.Equal(t, "eyJ.tok", tok.AccessToken)
	assert.Equal(t, "Bearer", tok.TokenType)
	assert.Equal(t, fixed, tok.IssuedAt)
	assert.Equal(t, fixed.Add(time.Hour), tok.ExpiresAt)
}

func TestExchangeCode_Failures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		kind   domain.AuthErrorKind
	}{
		{"rejected code", http.StatusOK, `{"s":"error","code":-413,"message":"invalid auth code"}`, domain.AuthInvalidCode},
		{"rejected with 400", http.StatusBadRequest, `{"s":"error","code":-16,"message":"bad"}`, domain.AuthInvalidCode},
		{"4xx garbage", http.StatusUnauthorized, `nope`, domain.AuthInvalidCode},
		{"ok without token", http.StatusOK, `{"s":"ok"}`, domain.AuthInvalidCode},
		{"server error", http.StatusBadGateway, `{"s":"ok","access_token":"x"}`, domain.AuthNetwork},
		{"garbage 200", http.StatusOK, `<html>`, domain.AuthNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls++
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			b := NewBroker(Config{TokenURL: srv.URL}, srv.Client())
			_, err := b.ExchangeCode(context.Background(), "c", "id", "secret")

			assert.True(t, domain.IsAuthKind(err, tt.kind), "got %v", err)
			assert.Equal(t, 1, calls, "exchange must not retry")
		})
	}
}

func TestExchangeCode_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	b := NewBroker(Config{TokenURL: srv.URL}, nil)
	_, err := b.ExchangeCode(context.Background(), "c", "id", "secret")
	assert.True(t, domain.IsAuthKind(err, domain.AuthNetwork), "got %v", err)
}

func TestExchangeCode_EmptyCode(t *testing.T) {
	b := NewBroker(Config{TokenURL: "http://127.0.0.1:1"}, nil)
	_, err := b.ExchangeCode(context.Background(), "", "id", "secret")
	assert.True(t, domain.IsAuthKind(err, domain.AuthInvalidCode))
}
