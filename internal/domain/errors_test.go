package domain

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestAuthError_Matching(t *testing.T) {
	base := errors.New("connection refused")
	err := fmt.Errorf("link broker: %w", &AuthError{Kind: AuthNetwork, Op: "exchange code", Err: base})

	if !IsAuthKind(err, AuthNetwork) {
		t.Error("Expected network auth error")
	}
	if IsAuthKind(err, AuthInvalidCode) {
		t.Error("Did not expect invalid code")
	}
	if !errors.Is(err, base) {
		t.Error("Expected wrapped cause to be reachable")
	}
	if !strings.Contains(err.Error(), "network") {
		t.Errorf("Expected kind in message, got %q", err.Error())
	}
}

func TestValidationErrors(t *testing.T) {
	v := ValidationErrors{
		{Field: "price", Code: "forbidden", Message: "must be empty for MARKET orders"},
		{Field: "quantity", Code: "gt", Message: "must be greater than 0"},
	}

	if !v.Has("price", "forbidden") {
		t.Error("Expected price/forbidden")
	}
	if v.Has("price", "required") {
		t.Error("Did not expect price/required")
	}
	if fe, ok := v.Field("quantity"); !ok || fe.Code != "gt" {
		t.Errorf("Expected quantity/gt, got %+v", fe)
	}

	var target ValidationErrors
	if !errors.As(fmt.Errorf("place: %w", v), &target) || len(target) != 2 {
		t.Error("Expected ValidationErrors through errors.As")
	}
}

func TestIllegalStateError(t *testing.T) {
	err := error(&IllegalStateError{Op: "AttachToken", State: "ANONYMOUS"})
	var ise *IllegalStateError
	if !errors.As(err, &ise) {
		t.Fatal("Expected IllegalStateError")
	}
	if !strings.Contains(err.Error(), "AttachToken") {
		t.Errorf("Expected op in message, got %q", err.Error())
	}
}
