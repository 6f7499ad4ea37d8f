package util

import (
	"errors"
	"fmt"
	"math"
)

var ErrMathOverflow = errors.New("math overflow")

// CheckedAdd returns a+b for non-negative operands or ErrMathOverflow
func CheckedAdd(a, b int64) (int64, error) {
	if b > 0 && a > math.MaxInt64-b {
		return 0, fmt.Errorf("%w: %d + %d", ErrMathOverflow, a, b)
	}
	return a + b, nil
}

// CheckedMul returns a*b for non-negative operands or ErrMathOverflow
func CheckedMul(a, b int64) (int64, error) {
	if a == 0 || b == 0 {
		return 0, nil
	}
	if a > math.MaxInt64/b {
		return 0, fmt.Errorf("%w: %d * %d", ErrMathOverflow, a, b)
	}
	return a * b, nil
}
