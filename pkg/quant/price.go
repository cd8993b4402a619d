package quant

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// PriceMicros represents a rupee price multiplied by 1,000,000 (10^6).
// E.g., 1.23 INR = 1,230,000 PriceMicros.
type PriceMicros int64

// TimeStamp represents Unix Microseconds.
type TimeStamp int64

const (
	PriceScale = 1000000
	priceExp   = -6
)

// ToPriceMicros converts a float64 (from external API) to PriceMicros.
// Note: Only used at the boundary. Internal logic uses PriceMicros directly.
func ToPriceMicros(f float64) PriceMicros {
	return PriceMicros(math.Round(f * PriceScale))
}

// ParsePrice converts a decimal string ("2450.35") to PriceMicros without float rounding.
// Digits beyond micro precision are truncated.
func ParsePrice(s string) (PriceMicros, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid price %q: %w", s, err)
	}
	return FromDecimal(d), nil
}

// FromDecimal converts a decimal value to PriceMicros.
func FromDecimal(d decimal.Decimal) PriceMicros {
	return PriceMicros(d.Shift(6).Truncate(0).IntPart())
}

// Decimal returns the price as an exact decimal.
func (p PriceMicros) Decimal() decimal.Decimal {
	return decimal.New(int64(p), priceExp)
}

// Float64 is for JSON payloads that insist on numbers.
func (p PriceMicros) Float64() float64 {
	f, _ := p.Decimal().Float64()
	return f
}

// String renders the price with paise precision.
func (p PriceMicros) String() string {
	return p.Decimal().StringFixed(2)
}

// ChangePercent returns (ltp - prev) / prev * 100 rounded to two places.
// A zero reference price yields zero.
func ChangePercent(ltp, prev PriceMicros) decimal.Decimal {
	if prev == 0 {
		return decimal.Zero
	}
	diff := (ltp - prev).Decimal()
	return diff.Div(prev.Decimal()).Mul(decimal.NewFromInt(100)).Round(2)
}

// PnL returns (ltp - cost) * qty.
func PnL(ltp, cost PriceMicros, qty int64) decimal.Decimal {
	return (ltp - cost).Decimal().Mul(decimal.NewFromInt(qty))
}

// FromUnixSeconds converts exchange epoch seconds to TimeStamp.
func FromUnixSeconds(sec int64) TimeStamp {
	return TimeStamp(sec * 1_000_000)
}

// Time converts the timestamp to time.Time.
func (ts TimeStamp) Time() time.Time {
	return time.UnixMicro(int64(ts))
}
