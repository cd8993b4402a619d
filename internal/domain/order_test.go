package domain

import (
	"testing"
)

func TestOrderKind_Requirements(t *testing.T) {
	tests := []struct {
		kind            OrderKind
		forbidsPrice    bool
		requiresPrice   bool
		requiresTrigger bool
	}{
		{KindMarket, true, false, false},
		{KindLimit, false, true, false},
		{KindStop, false, true, true},
		{KindStopMarket, false, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			if tt.kind.ForbidsPrice() != tt.forbidsPrice {
				t.Errorf("ForbidsPrice: expected %v", tt.forbidsPrice)
			}
			if tt.kind.RequiresPrice() != tt.requiresPrice {
				t.Errorf("RequiresPrice: expected %v", tt.requiresPrice)
			}
			if tt.kind.RequiresTrigger() != tt.requiresTrigger {
				t.Errorf("RequiresTrigger: expected %v", tt.requiresTrigger)
			}
		})
	}
}

func TestParseOrderKind(t *testing.T) {
	tests := map[string]OrderKind{
		"market":      KindMarket,
		"LIMIT":       KindLimit,
		"SL":          KindStop,
		"stop-market": KindStopMarket,
		" SL-M ":      KindStopMarket,
	}
	for in, want := range tests {
		got, err := ParseOrderKind(in)
		if err != nil {
			t.Errorf("ParseOrderKind(%q) unexpected error: %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("ParseOrderKind(%q) = %s; want %s", in, got, want)
		}
	}

	if _, err := ParseOrderKind("ICEBERG"); err == nil {
		t.Error("Expected error for unknown kind")
	}
}

func TestOrder_IsOpen(t *testing.T) {
	tests := []struct {
		status OrderStatus
		open   bool
		label  string
	}{
		{StatusCancelled, false, "CANCELLED"},
		{StatusTraded, false, "COMPLETED"},
		{StatusRejected, false, "REJECTED"},
		{StatusTransit, true, "PENDING"},
		{StatusCompleted, false, "COMPLETED"},
		{StatusPending, true, "OPEN"},
	}

	for _, tt := range tests {
		o := Order{Status: tt.status}
		if o.IsOpen() != tt.open {
			t.Errorf("status %d: expected open=%v", tt.status, tt.open)
		}
		if tt.status.String() != tt.label {
			t.Errorf("status %d: expected %s, got %s", tt.status, tt.label, tt.status.String())
		}
	}
}

func TestAction_Side(t *testing.T) {
	if ActionBuy.Side() != 1 || ActionSell.Side() != -1 {
		t.Error("unexpected side codes")
	}
	if ActionFromSide(-1) != ActionSell || ActionFromSide(1) != ActionBuy {
		t.Error("unexpected action mapping")
	}
}

func TestOrderModification_Empty(t *testing.T) {
	m := OrderModification{OrderID: "1"}
	if !m.Empty() {
		t.Error("Expected empty modification")
	}
	qty := int64(5)
	m.Quantity = &qty
	if m.Empty() {
		t.Error("Expected non-empty modification")
	}
}
