package order

import (
	"errors"
	"testing"

	"fyers_desk/internal/domain"
	"fyers_desk/pkg/quant"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func px(f float64) *quant.PriceMicros {
	p := quant.ToPriceMicros(f)
	return &p
}

func kindPtr(k domain.OrderKind) *domain.OrderKind { return &k }

func qtyPtr(q int64) *int64 { return &q }

func baseRequest(kind domain.OrderKind) domain.OrderRequest {
	return domain.OrderRequest{
		Symbol:   "TCS",
		Exchange: "NSE",
		Action:   domain.ActionBuy,
		Quantity: 10,
		Kind:     kind,
		Product:  domain.ProductCNC,
	}
}

func validationErrors(t *testing.T, err error) domain.ValidationErrors {
	t.Helper()
	var verrs domain.ValidationErrors
	require.True(t, errors.As(err, &verrs), "expected ValidationErrors, got %v", err)
	return verrs
}

func TestValidate_KindRules(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(r *domain.OrderRequest)
		kind    domain.OrderKind
		field   string
		code    string
		wantErr bool
	}{
		{"market ok", func(r *domain.OrderRequest) {}, domain.KindMarket, "", "", false},
		{"market with price", func(r *domain.OrderRequest) { r.Price = px(100) }, domain.KindMarket, "price", "forbidden", true},
		{"market with zero price", func(r *domain.OrderRequest) { r.Price = px(0) }, domain.KindMarket, "price", "forbidden", true},
		{"limit ok", func(r *domain.OrderRequest) { r.Price = px(3500.5) }, domain.KindLimit, "", "", false},
		{"limit without price", func(r *domain.OrderRequest) {}, domain.KindLimit, "price", "required", true},
		{"limit zero price", func(r *domain.OrderRequest) { r.Price = px(0) }, domain.KindLimit, "price", "gt", true},
		{"limit negative price", func(r *domain.OrderRequest) { r.Price = px(-1) }, domain.KindLimit, "price", "gt", true},
		{"stop ok", func(r *domain.OrderRequest) { r.Price = px(99); r.TriggerPrice = px(100) }, domain.KindStop, "", "", false},
		{"stop without trigger", func(r *domain.OrderRequest) { r.Price = px(99) }, domain.KindStop, "trigger_price", "required", true},
		{"stop without price", func(r *domain.OrderRequest) { r.TriggerPrice = px(100) }, domain.KindStop, "price", "required", true},
		{"stop market ok", func(r *domain.OrderRequest) { r.TriggerPrice = px(100) }, domain.KindStopMarket, "", "", false},
		{"stop market without trigger", func(r *domain.OrderRequest) {}, domain.KindStopMarket, "trigger_price", "required", true},
		{"stop market negative trigger", func(r *domain.OrderRequest) { r.TriggerPrice = px(-5) }, domain.KindStopMarket, "trigger_price", "gt", true},
		{"limit with negative optional trigger", func(r *domain.OrderRequest) { r.Price = px(1); r.TriggerPrice = px(-1) }, domain.KindLimit, "trigger_price", "gt", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := baseRequest(tt.kind)
			tt.mutate(&req)

			err := Validate(req)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			verrs := validationErrors(t, err)
			assert.True(t, verrs.Has(tt.field, tt.code), "expected %s/%s in %v", tt.field, tt.code, verrs)
		})
	}
}

func TestValidate_QuantityAlwaysPositive(t *testing.T) {
	kinds := []domain.OrderKind{domain.KindMarket, domain.KindLimit, domain.KindStop, domain.KindStopMarket}
	for _, kind := range kinds {
		for _, qty := range []int64{0, -1, -100} {
			req := baseRequest(kind)
			req.Quantity = qty
			req.Price = px(10)
			req.TriggerPrice = px(10)

			verrs := validationErrors(t, Validate(req))
			assert.True(t, verrs.Has("quantity", "gt"), "kind=%s qty=%d", kind, qty)
		}
	}
}

func TestValidate_ReportsAllViolations(t *testing.T) {
	req := domain.OrderRequest{
		Symbol:   "  ",
		Quantity: 0,
		Kind:     domain.KindLimit,
	}

	verrs := validationErrors(t, Validate(req))

	assert.True(t, verrs.Has("symbol", "notblank"))
	assert.True(t, verrs.Has("exchange", "notblank"))
	assert.True(t, verrs.Has("action", "required"))
	assert.True(t, verrs.Has("quantity", "gt"))
	assert.True(t, verrs.Has("product", "required"))
	assert.True(t, verrs.Has("price", "required"))
	assert.Len(t, verrs, 6)
}

func TestValidate_EnumValues(t *testing.T) {
	req := baseRequest(domain.OrderKind(9))
	req.Action = "HOLD"
	req.Product = "FUTURES"

	verrs := validationErrors(t, Validate(req))
	assert.True(t, verrs.Has("kind", "oneof"))
	assert.True(t, verrs.Has("action", "oneof"))
	assert.True(t, verrs.Has("product", "oneof"))
}

func TestValidateModification(t *testing.T) {
	tests := []struct {
		name    string
		mod     domain.OrderModification
		field   string
		code    string
		wantErr bool
	}{
		{"quantity only", domain.OrderModification{OrderID: "1", Quantity: qtyPtr(5)}, "", "", false},
		{"price only", domain.OrderModification{OrderID: "1", Price: px(10)}, "", "", false},
		{"no fields", domain.OrderModification{OrderID: "1"}, "modification", "min_fields", true},
		{"missing id", domain.OrderModification{Quantity: qtyPtr(1)}, "order_id", "notblank", true},
		{"zero quantity", domain.OrderModification{OrderID: "1", Quantity: qtyPtr(0)}, "quantity", "gt", true},
		{"negative price", domain.OrderModification{OrderID: "1", Price: px(-2)}, "price", "gt", true},
		{"negative trigger", domain.OrderModification{OrderID: "1", TriggerPrice: px(-2)}, "trigger_price", "gt", true},
		{"to market with price", domain.OrderModification{OrderID: "1", Kind: kindPtr(domain.KindMarket), Price: px(10)}, "price", "forbidden", true},
		{"to market", domain.OrderModification{OrderID: "1", Kind: kindPtr(domain.KindMarket)}, "", "", false},
		{"to limit without price", domain.OrderModification{OrderID: "1", Kind: kindPtr(domain.KindLimit)}, "price", "required", true},
		{"to stop market without trigger", domain.OrderModification{OrderID: "1", Kind: kindPtr(domain.KindStopMarket)}, "trigger_price", "required", true},
		{"unknown kind", domain.OrderModification{OrderID: "1", Kind: kindPtr(domain.OrderKind(0))}, "kind", "oneof", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateModification(tt.mod)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			verrs := validationErrors(t, err)
			assert.True(t, verrs.Has(tt.field, tt.code), "expected %s/%s in %v", tt.field, tt.code, verrs)
		})
	}
}

func TestValidator_Messages(t *testing.T) {
	req := baseRequest(domain.KindMarket)
	req.Price = px(1)

	verrs := validationErrors(t, Validate(req))
	fe, ok := verrs.Field("price")
	require.True(t, ok)
	assert.Equal(t, "must be empty for MARKET orders", fe.Message)
}
