// Package safe provides overflow-checked int64 arithmetic for money and
// quantity accounting.
package safe

import (
	"errors"
	"math"
)

// ErrOverflow is returned when a result does not fit in int64.
var ErrOverflow = errors.New("int64 overflow")

// Add returns a + b.
func Add(a, b int64) (int64, error) {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		return 0, ErrOverflow
	}
	return a + b, nil
}

// Sub returns a - b.
func Sub(a, b int64) (int64, error) {
	if (b > 0 && a < math.MinInt64+b) || (b < 0 && a > math.MaxInt64+b) {
		return 0, ErrOverflow
	}
	return a - b, nil
}

// Mul returns a * b.
func Mul(a, b int64) (int64, error) {
	if a == 0 || b == 0 {
		return 0, nil
	}
	c := a * b
	if (a == -1 && b == math.MinInt64) || (b == -1 && a == math.MinInt64) || c/b != a {
		return 0, ErrOverflow
	}
	return c, nil
}

// Abs returns |a|; MinInt64 overflows.
func Abs(a int64) (int64, error) {
	if a == math.MinInt64 {
		return 0, ErrOverflow
	}
	if a < 0 {
		return -a, nil
	}
	return a, nil
}
