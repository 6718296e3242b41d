package money

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// TestNewAndConversions asserts that amounts convert exactly between the
// units of their currency, and that lossy conversions are refused instead of
// rounded.
func TestNewAndConversions(t *testing.T) {
	t.Parallel()

	oneBTC, err := New(1, UnitBTC)
	require.NoError(t, err)

	sats, err := oneBTC.ToUnit(UnitSatoshi)
	require.NoError(t, err)
	require.Equal(t, int64(100_000_000), sats.Int64())

	msats, err := oneBTC.ToUnit(UnitMilliSatoshi)
	require.NoError(t, err)
	require.Equal(t, int64(100_000_000_000), msats.Int64())

	// 1500 msat is not a whole satoshi.
	odd, err := New(1500, UnitMilliSatoshi)
	require.NoError(t, err)
	_, err = odd.ToUnit(UnitSatoshi)
	require.ErrorIs(t, err, ErrInexactConversion)

	// But 2000 msat is.
	even, err := New(2000, UnitMilliSatoshi)
	require.NoError(t, err)
	sats, err = even.ToUnit(UnitSatoshi)
	require.NoError(t, err)
	require.Equal(t, int64(2), sats.Int64())

	fiveUSD, err := New(5, UnitUSD)
	require.NoError(t, err)
	cents, err := fiveUSD.ToUnit(UnitCent)
	require.NoError(t, err)
	require.Equal(t, int64(500), cents.Int64())

	// Units never cross currencies.
	_, err = fiveUSD.ToUnit(UnitSatoshi)
	require.ErrorIs(t, err, ErrUnknownUnit)
	_, err = oneBTC.ToUnit(UnitCent)
	require.ErrorIs(t, err, ErrUnknownUnit)
}

// TestNegativeAmountsRejected asserts amounts can never be created or
// produced negative.
func TestNegativeAmountsRejected(t *testing.T) {
	t.Parallel()

	_, err := New(-1, UnitSatoshi)
	require.ErrorIs(t, err, ErrNegativeAmount)

	small, err := New(1, UnitSatoshi)
	require.NoError(t, err)
	large, err := New(2, UnitSatoshi)
	require.NoError(t, err)

	_, err = small.Sub(large)
	require.ErrorIs(t, err, ErrNegativeAmount)
}

// TestArithmetic asserts Add, Sub and Cmp within a currency and their refusal
// across currencies.
func TestArithmetic(t *testing.T) {
	t.Parallel()

	a, err := New(700, UnitSatoshi)
	require.NoError(t, err)
	b, err := New(300, UnitSatoshi)
	require.NoError(t, err)

	sum, err := a.Add(b)
	require.NoError(t, err)
	sats, err := sum.ToUnit(UnitSatoshi)
	require.NoError(t, err)
	require.Equal(t, int64(1000), sats.Int64())

	diff, err := a.Sub(b)
	require.NoError(t, err)
	sats, err = diff.ToUnit(UnitSatoshi)
	require.NoError(t, err)
	require.Equal(t, int64(400), sats.Int64())

	cmp, err := a.Cmp(b)
	require.NoError(t, err)
	require.Equal(t, 1, cmp)

	usd, err := New(10, UnitUSD)
	require.NoError(t, err)

	_, err = a.Add(usd)
	require.ErrorIs(t, err, ErrCurrencyMismatch)
	_, err = a.Sub(usd)
	require.ErrorIs(t, err, ErrCurrencyMismatch)
	_, err = a.Cmp(usd)
	require.ErrorIs(t, err, ErrCurrencyMismatch)
}

// TestZeroValue asserts the zero value and Zero helper behave as zero BTC.
func TestZeroValue(t *testing.T) {
	t.Parallel()

	var m Money
	require.True(t, m.IsZero())
	require.Equal(t, CurrencyBTC, m.Currency())

	z := Zero(CurrencyUSD)
	require.True(t, z.IsZero())
	require.Equal(t, CurrencyUSD, z.Currency())

	one, err := New(1, UnitSatoshi)
	require.NoError(t, err)
	sum, err := m.Add(one)
	require.NoError(t, err)
	require.False(t, sum.IsZero())
}

// TestSatoshiInterop asserts the btcutil.Amount bridge round trips.
func TestSatoshiInterop(t *testing.T) {
	t.Parallel()

	m, err := FromSatoshis(btcutil.Amount(21_000))
	require.NoError(t, err)

	back, err := m.ToSatoshis()
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(21_000), back)

	// Sub-satoshi precision refuses the conversion.
	odd, err := New(1, UnitMilliSatoshi)
	require.NoError(t, err)
	_, err = odd.ToSatoshis()
	require.ErrorIs(t, err, ErrInexactConversion)
}

// TestJSONRoundTrip asserts amounts survive the storage encoding, including
// values beyond 64 bits.
func TestJSONRoundTrip(t *testing.T) {
	t.Parallel()

	huge, ok := new(big.Int).SetString("340282366920938463463374607431", 10)
	require.True(t, ok)

	m, err := NewFromBig(huge, UnitMilliSatoshi)
	require.NoError(t, err)

	encoded, err := json.Marshal(m)
	require.NoError(t, err)

	var decoded Money
	require.NoError(t, json.Unmarshal(encoded, &decoded))

	cmp, err := m.Cmp(decoded)
	require.NoError(t, err)
	require.Zero(t, cmp)
	require.Equal(t, CurrencyBTC, decoded.Currency())
}

// TestJSONRejectsBadEncodings asserts malformed or inconsistent encodings are
// refused.
func TestJSONRejectsBadEncodings(t *testing.T) {
	t.Parallel()

	cases := []string{
		`{"amount":"100","currency":"EUR","unit":"cent"}`,
		`{"amount":"100","currency":"USD","unit":"sat"}`,
		`{"amount":"100","currency":"BTC","unit":"cent"}`,
		`{"amount":"-100","currency":"BTC","unit":"msat"}`,
		`{"amount":"abc","currency":"BTC","unit":"msat"}`,
	}
	for _, c := range cases {
		var m Money
		require.Error(t, json.Unmarshal([]byte(c), &m), c)
	}
}

// TestConversionProperties drives conversions through random amounts: scaling
// up a unit and back is always exact.
func TestConversionProperties(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		sats := rapid.Int64Range(0, 1<<50).Draw(t, "sats")

		m, err := New(sats, UnitSatoshi)
		require.NoError(t, err)

		back, err := m.ToUnit(UnitSatoshi)
		require.NoError(t, err)
		require.Equal(t, sats, back.Int64())

		msats, err := m.ToUnit(UnitMilliSatoshi)
		require.NoError(t, err)
		require.Equal(t, sats*1000, msats.Int64())
	})
}
