package domain

import (
	"testing"
	"time"
)

func TestBrokerToken_Expired(t *testing.T) {
	now := time.Date(2025, 1, 2, 9, 0, 0, 0, time.UTC)

	if (BrokerToken{AccessToken: "t"}).Expired(now) {
		t.Error("Token without expiry must not be expired")
	}
	if !(BrokerToken{ExpiresAt: now}).Expired(now) {
		t.Error("Token expiring now must be expired")
	}
	if (BrokerToken{ExpiresAt: now.Add(time.Hour)}).Expired(now) {
		t.Error("Future expiry must not be expired")
	}
}

func TestSession_Clone(t *testing.T) {
	s := Session{UserID: 1, Token: &BrokerToken{AccessToken: "abc"}}
	c := s.Clone()
	c.Token.AccessToken = "mutated"

	if s.Token.AccessToken != "abc" {
		t.Error("Clone shares token pointer")
	}
	if !s.HasToken() {
		t.Error("Expected HasToken")
	}
	if (Session{}).HasToken() {
		t.Error("Empty session has no token")
	}
}
