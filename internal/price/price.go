package price

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/shopspring/decimal"
)

// ErrOffGrid is returned when a value is not exactly one of the legal prices.
// There is no snapping to the nearest tick; a value off the grid usually
// means an upstream bug and must not be masked.
var ErrOffGrid = errors.New("price: value not on tick grid")

// Price is one point on the odds grid. The zero value is "absent": it is not
// a legal price and tick arithmetic treats it as missing. Prices are created
// by lookup and never mutated.
type Price struct {
	cents int64
}

// Min and Max bound the grid.
var (
	Min = Price{cents: minCents}
	Max = Price{cents: 100000}
)

// Of looks a decimal odds value up on the grid. Construction fails unless
// the value is exactly a grid point.
func Of(v float64) (Price, error) {
	scaled := v * 100
	cents := math.Round(scaled)
	if math.Abs(scaled-cents) > 1e-6 {
		return Price{}, fmt.Errorf("%w: %v", ErrOffGrid, v)
	}
	return FromCents(int64(cents))
}

// MustOf is Of for known-good constants; it panics off grid.
func MustOf(v float64) Price {
	p, err := Of(v)
	if err != nil {
		panic(err)
	}
	return p
}

// FromCents looks a price up by its value in hundredths.
func FromCents(c int64) (Price, error) {
	if _, ok := gridIndex[c]; !ok {
		return Price{}, fmt.Errorf("%w: %v", ErrOffGrid, float64(c)/100)
	}
	return Price{cents: c}, nil
}

// FromTick returns the price at a grid index, clamped to the grid's ends.
func FromTick(i int) Price {
	if i < 0 {
		i = 0
	}
	if i >= len(gridCents) {
		i = len(gridCents) - 1
	}
	return Price{cents: gridCents[i]}
}

// IsZero reports whether the price is absent.
func (p Price) IsZero() bool {
	return p.cents == 0
}

// Value returns the decimal odds as a float64.
func (p Price) Value() float64 {
	return float64(p.cents) / 100
}

// Cents returns the price in integer hundredths.
func (p Price) Cents() int64 {
	return p.cents
}

// Decimal returns the price as an exact decimal.
func (p Price) Decimal() decimal.Decimal {
	return decimal.New(p.cents, -2)
}

// TickIndex returns the price's position on the grid, or -1 when absent.
func (p Price) TickIndex() int {
	if i, ok := gridIndex[p.cents]; ok {
		return i
	}
	return -1
}

// AddTicks moves n grid positions, clamping at the ends rather than
// wrapping. An absent price stays absent.
func (p Price) AddTicks(n int) Price {
	i := p.TickIndex()
	if i < 0 {
		return Price{}
	}
	return FromTick(i + n)
}

// TicksBetween returns the signed grid-index distance from p to o, and 0
// when either side is absent.
func (p Price) TicksBetween(o Price) int {
	a, b := p.TickIndex(), o.TickIndex()
	if a < 0 || b < 0 {
		return 0
	}
	return b - a
}

func (p Price) String() string {
	if p.IsZero() {
		return "-"
	}
	return strconv.FormatFloat(p.Value(), 'f', -1, 64)
}
