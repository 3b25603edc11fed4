package price

import "github.com/shopspring/decimal"

// Size is a non-negative monetary amount held to two decimal places. Excess
// precision is rounded down and negative amounts clamp to zero, matching how
// the exchange reports volumes.
type Size struct {
	d decimal.Decimal
}

// SizeOf builds a Size from a float, truncating to 2dp.
func SizeOf(v float64) Size {
	return sized(decimal.NewFromFloat(v))
}

// SizeFromDecimal builds a Size from an exact decimal, truncating to 2dp.
func SizeFromDecimal(d decimal.Decimal) Size {
	return sized(d)
}

func sized(d decimal.Decimal) Size {
	d = d.Truncate(2)
	if d.IsNegative() {
		return Size{}
	}
	return Size{d: d}
}

// Add returns s + o.
func (s Size) Add(o Size) Size {
	return sized(s.d.Add(o.d))
}

// Sub returns s - o, clamped at zero.
func (s Size) Sub(o Size) Size {
	return sized(s.d.Sub(o.d))
}

// Mul scales the size by f, truncating the result.
func (s Size) Mul(f float64) Size {
	return sized(s.d.Mul(decimal.NewFromFloat(f)))
}

// Div divides the size by f, truncating the result. Division by zero is a
// programmer error and panics.
func (s Size) Div(f float64) Size {
	return sized(s.d.Div(decimal.NewFromFloat(f)))
}

// Equal reports numeric equality.
func (s Size) Equal(o Size) bool {
	return s.d.Equal(o.d)
}

// IsZero reports whether the size is zero.
func (s Size) IsZero() bool {
	return s.d.IsZero()
}

// Float64 returns the amount as a float.
func (s Size) Float64() float64 {
	f, _ := s.d.Float64()
	return f
}

// Decimal returns the exact amount.
func (s Size) Decimal() decimal.Decimal {
	return s.d
}

func (s Size) String() string {
	return s.d.StringFixed(2)
}
