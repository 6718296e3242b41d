package ecash

import (
	"math/bits"
	"time"

	"github.com/ecashkit/walletcore/money"
)

// ProofUnit returns the unit proof amounts are denominated in for a
// currency: satoshis for BTC, cents for USD.
func ProofUnit(c money.Currency) money.Unit {
	if c == money.CurrencyUSD {
		return money.UnitCent
	}
	return money.UnitSatoshi
}

// MintUnit returns the unit name used on the wire with a mint.
func MintUnit(c money.Currency) string {
	if c == money.CurrencyUSD {
		return "usd"
	}
	return "sat"
}

// Split decomposes an amount into the power-of-two denominations a mint
// issues proofs in, largest first. Zero splits into nothing.
func Split(amount uint64) []uint64 {
	parts := make([]uint64, 0, bits.OnesCount64(amount))
	for amount != 0 {
		high := uint64(1) << (bits.Len64(amount) - 1)
		parts = append(parts, high)
		amount -= high
	}
	return parts
}

// ReserveForSend selects and reserves unspent proofs covering amount plus
// the mint's input fee for the selection itself. Because the fee grows with
// the number of inputs, selection and fee are iterated until they agree.
// Returns the reserved proofs and the fee they incur.
func (a *Account) ReserveForSend(amount, feePPK uint64,
	now time.Time) ([]*Proof, uint64, error) {

	fee := uint64(0)
	for {
		selected, err := a.SelectProofs(amount + fee)
		if err != nil {
			return nil, 0, err
		}

		selFee := (uint64(len(selected))*feePPK + 999) / 1000
		if selFee <= fee {
			ids := make([]string, len(selected))
			for i, p := range selected {
				ids[i] = p.ID
			}
			if err := a.ReserveProofs(ids, now); err != nil {
				return nil, 0, err
			}
			return selected, selFee, nil
		}

		fee = selFee
	}
}
