/*
money.go - Decimal-safe money and quantity arithmetic

PURPOSE:
  All monetary values in the engine flow through this file. Line-item
  subtotals and version totals are computed with decimal.Decimal so that
  3 x 19.99 is exactly 59.97, never 59.970000000000006.

KEY CONCEPTS:
  - Money: a single-currency monetary value (the platform bills in one
    currency; multi-currency is explicitly out of scope)
  - Quantity: a decimal quantity of a line item (hours, units, m2...)
  - Subtotal: quantity x unit price, rounded to cents at the item level

ROUNDING:
  Rounding happens exactly once per item, when the subtotal is computed.
  Version totals are then exact sums of already-rounded subtotals, so the
  printed budget always adds up line by line.

USAGE:
  price := obra.MustMoney("19.99")
  sub := obra.ItemSubtotal(decimal.NewFromInt(3), price) // 59.97

SEE ALSO:
  - ledger.go: Computes subtotals on every item write
  - aggregate.go: Sums subtotals into version and work-order totals
*/
package obra

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Single-currency monetary value
// =============================================================================

type Money struct {
	Value decimal.Decimal
}

// Quantity is a decimal line-item quantity. Kept as a bare decimal: it has
// no currency semantics and never needs cent rounding.
type Quantity = decimal.Decimal

func NewMoney(value float64) Money {
	return Money{Value: decimal.NewFromFloat(value)}
}

func NewMoneyFromInt(value int) Money {
	return Money{Value: decimal.NewFromInt(int64(value))}
}

// MoneyFromString parses a decimal string like "1234.50".
func MoneyFromString(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, err
	}
	return Money{Value: d}, nil
}

// MustMoney parses a decimal string, returning zero on error.
// For literals in tests and seed data.
func MustMoney(s string) Money {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}
	}
	return Money{Value: d}
}

func ZeroMoney() Money { return Money{Value: decimal.Zero} }

func (m Money) Add(o Money) Money        { return Money{Value: m.Value.Add(o.Value)} }
func (m Money) Sub(o Money) Money        { return Money{Value: m.Value.Sub(o.Value)} }
func (m Money) Neg() Money               { return Money{Value: m.Value.Neg()} }
func (m Money) IsZero() bool             { return m.Value.IsZero() }
func (m Money) IsNegative() bool         { return m.Value.IsNegative() }
func (m Money) IsPositive() bool         { return m.Value.IsPositive() }
func (m Money) Equal(o Money) bool       { return m.Value.Equal(o.Value) }
func (m Money) GreaterThan(o Money) bool { return m.Value.GreaterThan(o.Value) }
func (m Money) LessThan(o Money) bool    { return m.Value.LessThan(o.Value) }

// String renders with two decimal places, the display precision everywhere
// in the platform.
func (m Money) String() string {
	return m.Value.StringFixed(2)
}

// =============================================================================
// SUBTOTAL ARITHMETIC
// =============================================================================

// ItemSubtotal computes quantity x unit price, rounded to cents.
// This is the only place item subtotals are ever computed.
func ItemSubtotal(quantity Quantity, unitPrice Money) Money {
	return Money{Value: quantity.Mul(unitPrice.Value).Round(2)}
}

// SumSubtotals sums the stored subtotals of a version's items.
// Inputs are already cent-rounded, so the sum is exact.
func SumSubtotals(items []LineItem) Money {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Subtotal.Value)
	}
	return Money{Value: total}
}
