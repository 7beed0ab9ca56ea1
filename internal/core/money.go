// Package core provides money parsing and handling utilities.
//
// This file contains the Money type used for every amount, saving and
// balance in the ledger, backed by an exact decimal representation.
package core

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Money is a signed decimal amount. The zero value is 0.
type Money struct {
	Amount decimal.Decimal
}

// NewMoney builds Money from a decimal.
func NewMoney(d decimal.Decimal) Money {
	return Money{Amount: d}
}

// MustMoney parses s and panics on error. Intended for tests and constants.
func MustMoney(s string) Money {
	m, err := ParseMoney(s)
	if err != nil {
		panic(err)
	}
	return m
}

// Bounds on what ParseMoney accepts. They are checked on the parsed
// exponent and digit count, before any arithmetic touches the value.
const (
	moneyScale     = 2
	maxMoneyExp    = 18
	maxMoneyDigits = 30
)

// maxAmount caps a single transaction or income.
var maxAmount = decimal.New(1, 12)

// ParseMoney converts a decimal string to Money with at most two decimal
// places.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators and an
// optional sign. More than two significant decimals, exponents outside
// ±18 and more than 30 digits are rejected.
//
// Examples:
//
//	ParseMoney("12.34")  -> 12.34
//	ParseMoney("12,34")  -> 12.34
//	ParseMoney("12.340") -> 12.34
//	ParseMoney("12.345") -> ErrInvalidAmount
//	ParseMoney("-3")     -> -3
func ParseMoney(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Money{}, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, ErrInvalidAmount
	}
	if exp := d.Exponent(); exp > maxMoneyExp || exp < -maxMoneyExp {
		return Money{}, fmt.Errorf("%w: amount out of range", ErrInvalidInput)
	}
	if d.NumDigits() > maxMoneyDigits {
		return Money{}, fmt.Errorf("%w: amount out of range", ErrInvalidInput)
	}
	if !d.Equal(d.Truncate(moneyScale)) {
		return Money{}, fmt.Errorf("%w: amount has more than %d decimal places", ErrInvalidInput, moneyScale)
	}
	return Money{Amount: d.Truncate(moneyScale)}, nil
}

// ParseAmount is ParseMoney restricted to strictly positive values, which is
// what transactions and incomes carry.
func ParseAmount(s string) (Money, error) {
	m, err := ParseMoney(s)
	if err != nil {
		return Money{}, err
	}
	if err := m.Validate(); err != nil {
		return Money{}, err
	}
	return m, nil
}

// Validate requires a strictly positive amount no larger than maxAmount.
func (m Money) Validate() error {
	if !m.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	if m.Amount.GreaterThan(maxAmount) {
		return fmt.Errorf("%w: amount exceeds %s", ErrInvalidInput, maxAmount)
	}
	return nil
}

func (m Money) Add(other Money) Money {
	return Money{Amount: m.Amount.Add(other.Amount)}
}

func (m Money) Sub(other Money) Money {
	return Money{Amount: m.Amount.Sub(other.Amount)}
}

func (m Money) IsZero() bool {
	return m.Amount.IsZero()
}

// Equal compares values regardless of exponent (1.0 == 1).
func (m Money) Equal(other Money) bool {
	return m.Amount.Equal(other.Amount)
}

func (m Money) String() string {
	return m.Amount.StringFixed(2)
}

// MarshalJSON encodes Money as a bare JSON number.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.Amount.String()), nil
}

// UnmarshalJSON accepts a JSON number or a quoted decimal string.
func (m *Money) UnmarshalJSON(data []byte) error {
	s := string(data)
	if s == "null" {
		*m = Money{}
		return nil
	}
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	parsed, err := ParseMoney(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
