package money

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/btcsuite/btcd/btcutil"
)

var (
	// ErrCurrencyMismatch is returned when arithmetic is attempted
	// between two amounts of different currencies.
	ErrCurrencyMismatch = errors.New("currency mismatch")

	// ErrUnknownUnit is returned when a unit is not recognized, or does
	// not belong to the amount's currency.
	ErrUnknownUnit = errors.New("unknown unit")

	// ErrInexactConversion is returned when converting an amount to a
	// coarser unit would lose precision.
	ErrInexactConversion = errors.New("inexact unit conversion")

	// ErrNegativeAmount is returned when an operation would produce a
	// negative amount. Balances and fees are never negative.
	ErrNegativeAmount = errors.New("negative amount")
)

// Currency identifies the currency an amount is denominated in.
type Currency uint8

const (
	// CurrencyBTC is Bitcoin.
	CurrencyBTC Currency = iota

	// CurrencyUSD is US dollars.
	CurrencyUSD
)

// String returns the ISO-style code for the currency.
func (c Currency) String() string {
	switch c {
	case CurrencyBTC:
		return "BTC"
	case CurrencyUSD:
		return "USD"
	default:
		return fmt.Sprintf("Currency(%d)", uint8(c))
	}
}

// ParseCurrency maps a currency code back to its Currency value.
func ParseCurrency(s string) (Currency, error) {
	switch s {
	case "BTC":
		return CurrencyBTC, nil
	case "USD":
		return CurrencyUSD, nil
	default:
		return 0, fmt.Errorf("%w: unknown currency %q",
			ErrUnknownUnit, s)
	}
}

// Unit is a denomination of a currency. Every unit maps to a whole number of
// the currency's minor unit (millisatoshi for BTC, cents for USD), so all
// conversions within a currency are exact integer scaling.
type Unit uint8

const (
	// UnitMilliSatoshi is 1/1000 of a satoshi, the BTC minor unit.
	UnitMilliSatoshi Unit = iota

	// UnitSatoshi is 1/100,000,000 of a bitcoin.
	UnitSatoshi

	// UnitBTC is a whole bitcoin.
	UnitBTC

	// UnitCent is 1/100 of a dollar, the USD minor unit.
	UnitCent

	// UnitUSD is a whole dollar.
	UnitUSD
)

// String returns the conventional short name of the unit.
func (u Unit) String() string {
	switch u {
	case UnitMilliSatoshi:
		return "msat"
	case UnitSatoshi:
		return "sat"
	case UnitBTC:
		return "btc"
	case UnitCent:
		return "cent"
	case UnitUSD:
		return "usd"
	default:
		return fmt.Sprintf("Unit(%d)", uint8(u))
	}
}

// unitScale describes a unit's currency and its size expressed in the
// currency's minor unit.
type unitScale struct {
	currency Currency
	scale    int64
}

var unitScales = map[Unit]unitScale{
	UnitMilliSatoshi: {CurrencyBTC, 1},
	UnitSatoshi:      {CurrencyBTC, 1_000},
	UnitBTC:          {CurrencyBTC, 100_000_000_000},
	UnitCent:         {CurrencyUSD, 1},
	UnitUSD:          {CurrencyUSD, 100},
}

// MinorUnit returns the smallest unit of the given currency, which is the
// unit amounts are stored in internally.
func MinorUnit(c Currency) Unit {
	if c == CurrencyUSD {
		return UnitCent
	}
	return UnitMilliSatoshi
}

// Money is an exact amount of a single currency. The amount is held as an
// arbitrary precision integer count of the currency's minor unit, so
// arithmetic never rounds and never touches floating point. The zero value is
// zero BTC.
type Money struct {
	// amt is the amount in minor units. A nil amt is treated as zero so
	// the zero value is usable.
	amt *big.Int

	currency Currency
}

// New creates an amount denominated in the given unit.
func New(amount int64, unit Unit) (Money, error) {
	return NewFromBig(big.NewInt(amount), unit)
}

// NewFromBig creates an amount from an arbitrary precision integer
// denominated in the given unit. The input integer is copied.
func NewFromBig(amount *big.Int, unit Unit) (Money, error) {
	sc, ok := unitScales[unit]
	if !ok {
		return Money{}, fmt.Errorf("%w: %v", ErrUnknownUnit, unit)
	}
	if amount.Sign() < 0 {
		return Money{}, fmt.Errorf("%w: %v %v", ErrNegativeAmount,
			amount, unit)
	}

	minor := new(big.Int).Mul(amount, big.NewInt(sc.scale))
	return Money{amt: minor, currency: sc.currency}, nil
}

// Zero returns the zero amount of the given currency.
func Zero(c Currency) Money {
	return Money{amt: new(big.Int), currency: c}
}

// Currency returns the currency the amount is denominated in.
func (m Money) Currency() Currency {
	return m.currency
}

func (m Money) minor() *big.Int {
	if m.amt == nil {
		return new(big.Int)
	}
	return m.amt
}

// IsZero reports whether the amount is zero.
func (m Money) IsZero() bool {
	return m.minor().Sign() == 0
}

// Add returns m + o. Both amounts must share a currency.
func (m Money) Add(o Money) (Money, error) {
	if m.currency != o.currency {
		return Money{}, fmt.Errorf("%w: %v vs %v",
			ErrCurrencyMismatch, m.currency, o.currency)
	}

	sum := new(big.Int).Add(m.minor(), o.minor())
	return Money{amt: sum, currency: m.currency}, nil
}

// Sub returns m - o. Both amounts must share a currency, and the result must
// not be negative.
func (m Money) Sub(o Money) (Money, error) {
	if m.currency != o.currency {
		return Money{}, fmt.Errorf("%w: %v vs %v",
			ErrCurrencyMismatch, m.currency, o.currency)
	}

	diff := new(big.Int).Sub(m.minor(), o.minor())
	if diff.Sign() < 0 {
		return Money{}, fmt.Errorf("%w: %v - %v", ErrNegativeAmount,
			m, o)
	}

	return Money{amt: diff, currency: m.currency}, nil
}

// Cmp compares m against o, returning -1, 0 or 1. Both amounts must share a
// currency.
func (m Money) Cmp(o Money) (int, error) {
	if m.currency != o.currency {
		return 0, fmt.Errorf("%w: %v vs %v", ErrCurrencyMismatch,
			m.currency, o.currency)
	}
	return m.minor().Cmp(o.minor()), nil
}

// ToUnit converts the amount to the given unit. The conversion must be exact:
// converting 1500 msat to sat returns ErrInexactConversion rather than
// rounding.
func (m Money) ToUnit(unit Unit) (*big.Int, error) {
	sc, ok := unitScales[unit]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrUnknownUnit, unit)
	}
	if sc.currency != m.currency {
		return nil, fmt.Errorf("%w: unit %v is not a %v unit",
			ErrUnknownUnit, unit, m.currency)
	}

	quo, rem := new(big.Int).QuoRem(
		m.minor(), big.NewInt(sc.scale), new(big.Int),
	)
	if rem.Sign() != 0 {
		return nil, fmt.Errorf("%w: %v minor units into %v",
			ErrInexactConversion, m.minor(), unit)
	}

	return quo, nil
}

// ToSatoshis converts a BTC amount to a btcutil.Amount. The amount must be a
// whole number of satoshis and must fit in 64 bits.
func (m Money) ToSatoshis() (btcutil.Amount, error) {
	sats, err := m.ToUnit(UnitSatoshi)
	if err != nil {
		return 0, err
	}
	if !sats.IsInt64() {
		return 0, fmt.Errorf("%w: %v sat overflows int64",
			ErrInexactConversion, sats)
	}
	return btcutil.Amount(sats.Int64()), nil
}

// FromSatoshis creates a BTC amount from a btcutil.Amount.
func FromSatoshis(amt btcutil.Amount) (Money, error) {
	return New(int64(amt), UnitSatoshi)
}

// String renders the amount in its currency's minor unit.
func (m Money) String() string {
	return fmt.Sprintf("%v %v", m.minor(), MinorUnit(m.currency))
}

// moneyJSON is the storage representation of an amount. The amount is encoded
// as a decimal string since it may exceed the precision of a JSON number.
type moneyJSON struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
	Unit     string `json:"unit"`
}

// MarshalJSON serializes the amount in minor units.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(moneyJSON{
		Amount:   m.minor().String(),
		Currency: m.currency.String(),
		Unit:     MinorUnit(m.currency).String(),
	})
}

// UnmarshalJSON deserializes an amount produced by MarshalJSON.
func (m *Money) UnmarshalJSON(b []byte) error {
	var enc moneyJSON
	if err := json.Unmarshal(b, &enc); err != nil {
		return err
	}

	currency, err := ParseCurrency(enc.Currency)
	if err != nil {
		return err
	}
	if enc.Unit != MinorUnit(currency).String() {
		return fmt.Errorf("%w: %v amount stored in %q",
			ErrUnknownUnit, currency, enc.Unit)
	}

	amt, ok := new(big.Int).SetString(enc.Amount, 10)
	if !ok {
		return fmt.Errorf("invalid amount %q", enc.Amount)
	}
	if amt.Sign() < 0 {
		return fmt.Errorf("%w: %v", ErrNegativeAmount, amt)
	}

	m.amt = amt
	m.currency = currency
	return nil
}
