/*
Package generic provides the domain-agnostic core of the collection engine.

PURPOSE:
  This package contains the value types and calendar rules shared by the
  installment schedule, the ledger reconciler and the risk classifier.
  Nothing in here knows about contracts or colors; it only knows about
  money, dates, cadences and which days a company collects on.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: An amount in minor units (cents). Never a float.
  - Identifiers: Company and contract IDs as distinct string types

DESIGN PRINCIPLES:
  1. Precision: Money is an int64 of minor units so sums never drift
  2. Boundaries: decimal.Decimal is used only to parse, format and apply
     percentages; the result is rounded back to minor units immediately
  3. Type Safety: Strong typing for IDs prevents mixing company/contract IDs

USAGE:
  principal := generic.MustParseMoney("1000.00")
  fee := principal.Percent(decimal.NewFromInt(20)) // 200.00
  total := principal.Add(fee)

SEE ALSO:
  - time.go: TimePoint, the date type used everywhere
  - calendar.go: Business calendar (rest days and holidays)
  - period.go: Collection frequencies and cadence stepping
*/
package generic

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Fixed-point amount in minor units
// =============================================================================

// Money is an amount expressed in minor units of the company currency.
type Money int64

// MinorUnitExponent is the decimal exponent of one minor unit (1 cent = 10^-2).
const MinorUnitExponent = -2

func NewMoney(units int64, cents int64) Money { return Money(units*100 + cents) }

// MoneyFromDecimal rounds a decimal amount to the nearest minor unit.
func MoneyFromDecimal(d decimal.Decimal) Money {
	return Money(d.Shift(-MinorUnitExponent).Round(0).IntPart())
}

// ParseMoney parses a decimal string such as "125.50".
func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return MoneyFromDecimal(d), nil
}

// MustParseMoney is ParseMoney for literals in tests and presets.
func MustParseMoney(s string) Money {
	m, err := ParseMoney(s)
	if err != nil {
		panic(err)
	}
	return m
}

func (m Money) Add(o Money) Money { return m + o }
func (m Money) Sub(o Money) Money { return m - o }
func (m Money) IsZero() bool      { return m == 0 }
func (m Money) IsPositive() bool  { return m > 0 }
func (m Money) IsNegative() bool  { return m < 0 }
func (m Money) MinorUnits() int64 { return int64(m) }

func (m Money) Min(o Money) Money {
	if m < o {
		return m
	}
	return o
}

func (m Money) Max(o Money) Money {
	if m > o {
		return m
	}
	return o
}

// Decimal converts to a decimal for formatting boundaries.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(int64(m), MinorUnitExponent)
}

// Percent returns pct percent of m, rounded half away from zero to a minor unit.
// pct is expressed in percentage points (20 means 20%).
func (m Money) Percent(pct decimal.Decimal) Money {
	return MoneyFromDecimal(m.Decimal().Mul(pct).Div(decimal.NewFromInt(100)))
}

// Split divides m into n parts. Every part is m/n truncated except the last,
// which absorbs the remainder so the parts always sum back to m.
func (m Money) Split(n int) []Money {
	if n <= 0 {
		return nil
	}
	parts := make([]Money, n)
	base := m / Money(n)
	for i := range parts {
		parts[i] = base
	}
	parts[n-1] = m - base*Money(n-1)
	return parts
}

func (m Money) String() string {
	return m.Decimal().StringFixed(-MinorUnitExponent)
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type CompanyID string
type ContractID string
