// Package order validates order placement and modification requests.
//
// Validation is pure: no I/O, no shared mutable state beyond the compiled
// validator/v10 cache, so it is safe to call on every keystroke.
package order

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"fyers_desk/internal/domain"
	"fyers_desk/pkg/quant"

	"github.com/go-playground/validator/v10"
)

// Validator checks OrderRequest and OrderModification values.
type Validator struct {
	v *validator.Validate
}

// NewValidator builds a validator with the order rules registered.
func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	// notblank is not a baked-in tag
	if err := v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	}); err != nil {
		panic(err)
	}
	return &Validator{v: v}
}

var shared = NewValidator()

// Validate checks req with the package-level validator.
func Validate(req domain.OrderRequest) error { return shared.Validate(req) }

// ValidateModification checks mod with the package-level validator.
func ValidateModification(mod domain.OrderModification) error {
	return shared.ValidateModification(mod)
}

// Validate returns nil or domain.ValidationErrors listing every violation.
func (val *Validator) Validate(req domain.OrderRequest) error {
	verrs := val.structErrors(req)
	verrs = append(verrs, priceRules(req.Kind, req.Price, req.TriggerPrice, true)...)
	if len(verrs) == 0 {
		return nil
	}
	return verrs
}

// ValidateModification applies the same rules to the fields that are present.
// At least one of quantity, kind, price or trigger price must be set.
func (val *Validator) ValidateModification(mod domain.OrderModification) error {
	verrs := val.structErrors(mod)

	if mod.Empty() {
		verrs = append(verrs, domain.FieldError{
			Field:   "modification",
			Code:    "min_fields",
			Message: "at least one of quantity, kind, price or trigger_price is required",
		})
	}
	if mod.Quantity != nil && *mod.Quantity <= 0 {
		verrs = append(verrs, fieldErr("quantity", "gt", "must be greater than 0"))
	}
	if mod.Kind != nil {
		if !mod.Kind.Valid() {
			verrs = append(verrs, fieldErr("kind", "oneof", "must be one of MARKET, LIMIT, STOP, STOP_MARKET"))
		} else {
			verrs = append(verrs, priceRules(*mod.Kind, mod.Price, mod.TriggerPrice, true)...)
		}
	} else {
		// kind unchanged and unknown here: only sign checks apply
		verrs = append(verrs, priceRules(0, mod.Price, mod.TriggerPrice, false)...)
	}

	if len(verrs) == 0 {
		return nil
	}
	return verrs
}

func (val *Validator) structErrors(s any) domain.ValidationErrors {
	err := val.v.Struct(s)
	if err == nil {
		return nil
	}
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) {
		return domain.ValidationErrors{fieldErr("request", "invalid", err.Error())}
	}
	out := make(domain.ValidationErrors, 0, len(ves))
	for _, fe := range ves {
		out = append(out, fieldErr(fe.Field(), fe.Tag(), tagMessage(fe)))
	}
	return out
}

// priceRules checks price and trigger against kind.
// With kindKnown false only positivity of present values is checked.
func priceRules(kind domain.OrderKind, price, trigger *quant.PriceMicros, kindKnown bool) domain.ValidationErrors {
	var out domain.ValidationErrors

	switch {
	case kindKnown && kind.ForbidsPrice() && price != nil:
		out = append(out, fieldErr("price", "forbidden", fmt.Sprintf("must be empty for %s orders", kind)))
	case kindKnown && kind.RequiresPrice() && price == nil:
		out = append(out, fieldErr("price", "required", fmt.Sprintf("is required for %s orders", kind)))
	case price != nil && *price <= 0:
		out = append(out, fieldErr("price", "gt", "must be greater than 0"))
	}

	switch {
	case kindKnown && kind.RequiresTrigger() && trigger == nil:
		out = append(out, fieldErr("trigger_price", "required", fmt.Sprintf("is required for %s orders", kind)))
	case trigger != nil && *trigger <= 0:
		out = append(out, fieldErr("trigger_price", "gt", "must be greater than 0"))
	}
	return out
}

func fieldErr(field, code, msg string) domain.FieldError {
	return domain.FieldError{Field: field, Code: code, Message: msg}
}

func tagMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "notblank":
		return "is required"
	case "gt":
		return "must be greater than " + fe.Param()
	case "oneof":
		return "must be one of " + fe.Param()
	default:
		return "failed " + fe.Tag()
	}
}
