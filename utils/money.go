package utils

import (
	"fmt"
	"math"

	"github.com/spf13/cast"
)

func Round(value float64) float64 {
	return math.Round(value*100) / 100
}

// ParseAmount accepts a JSON number, a numeric string or an integer and
// returns a positive amount rounded to cents.
func ParseAmount(value interface{}) (float64, error) {
	amount, err := cast.ToFloat64E(value)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %v: %w", value, err)
	}
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount <= 0 {
		return 0, fmt.Errorf("amount must be greater than zero")
	}
	return Round(amount), nil
}
