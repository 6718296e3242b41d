package ecash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Token is a serialized bundle of proofs from a single mint, the unit of
// value handed between wallets.
type Token struct {
	// Mint is the URL of the issuing mint.
	Mint string `json:"mint"`

	// Unit is the unit the proofs are denominated in, e.g. "sat".
	Unit string `json:"unit"`

	// Memo is an optional message from the sender.
	Memo string `json:"memo,omitempty"`

	// Proofs are the token's proofs. For a foreign token these carry only
	// the mint-facing fields (keyset, amount, secret, signature).
	Proofs []*Proof `json:"proofs"`
}

// Amount returns the token's total value.
func (t *Token) Amount() uint64 {
	return SumProofs(t.Proofs)
}

// Fingerprint returns a deterministic fingerprint of the token: the SHA-256
// of its mint, unit and sorted proof secrets. Two serializations of the same
// token always produce the same fingerprint, which keys the receive swap's
// idempotency check.
func (t *Token) Fingerprint() string {
	secrets := make([]string, len(t.Proofs))
	for i, p := range t.Proofs {
		secrets[i] = p.Secret
	}
	sort.Strings(secrets)

	h := sha256.New()
	h.Write([]byte(t.Mint))
	h.Write([]byte{0})
	h.Write([]byte(t.Unit))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(secrets, "\x00")))

	return hex.EncodeToString(h.Sum(nil))
}

// Validate checks the token carries a mint, a unit, and at least one proof
// with the fields a mint needs to verify it.
func (t *Token) Validate() error {
	switch {
	case t.Mint == "":
		return fmt.Errorf("%w: token missing mint", ErrRecordInvalid)

	case t.Unit == "":
		return fmt.Errorf("%w: token missing unit", ErrRecordInvalid)

	case len(t.Proofs) == 0:
		return fmt.Errorf("%w: token carries no proofs",
			ErrRecordInvalid)
	}

	seen := make(map[string]struct{}, len(t.Proofs))
	for i, p := range t.Proofs {
		switch {
		case p.Amount == 0:
			return fmt.Errorf("%w: token proof %d has zero amount",
				ErrRecordInvalid, i)

		case p.KeysetID == "":
			return fmt.Errorf("%w: token proof %d missing keyset",
				ErrRecordInvalid, i)

		case p.Secret == "" || p.Signature == "":
			return fmt.Errorf("%w: token proof %d missing secret "+
				"material", ErrRecordInvalid, i)
		}

		if _, ok := seen[p.Secret]; ok {
			return fmt.Errorf("%w: token proof %d",
				ErrDuplicateProof, i)
		}
		seen[p.Secret] = struct{}{}
	}

	return nil
}
