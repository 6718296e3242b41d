package ecash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// ProofState describes where a proof is in its spend lifecycle. A proof moves
// UNSPENT -> RESERVED -> SPENT, or directly UNSPENT -> SPENT. A reservation
// may be released back to UNSPENT, but a spent proof never changes again.
type ProofState uint8

const (
	// ProofUnspent is a proof that counts towards the account balance and
	// is available for selection.
	ProofUnspent ProofState = iota

	// ProofReserved is a proof held by an in-flight swap or melt. It is
	// excluded from the balance and from selection until the operation
	// reaches a terminal state.
	ProofReserved

	// ProofSpent is a proof that has been redeemed at the mint. Terminal.
	ProofSpent
)

// String returns a human readable proof state.
func (s ProofState) String() string {
	switch s {
	case ProofUnspent:
		return "UNSPENT"
	case ProofReserved:
		return "RESERVED"
	case ProofSpent:
		return "SPENT"
	default:
		return fmt.Sprintf("ProofState(%d)", uint8(s))
	}
}

// DLEQ is the discrete log equality proof optionally attached to a proof,
// letting the wallet verify the mint's signature offline.
type DLEQ struct {
	E string `json:"e"`
	S string `json:"s"`
	R string `json:"r,omitempty"`
}

// Proof is a single ecash token fragment: the mint's unblinded signature over
// a secret, worth a discrete amount of the keyset's unit. Proofs are owned by
// exactly one account and are only ever mutated through their transition
// methods.
type Proof struct {
	ID        string `json:"id"`
	AccountID string `json:"account_id"`
	UserID    string `json:"user_id"`

	// KeysetID identifies the mint keyset that signed this proof.
	KeysetID string `json:"keyset_id"`

	// Amount is the proof's value in the keyset's unit.
	Amount uint64 `json:"amount"`

	// Secret is the message the mint signed.
	Secret string `json:"secret"`

	// Signature is the unblinded mint signature (C).
	Signature string `json:"signature"`

	// Y is the hashed secret point the mint tracks spent proofs by.
	Y string `json:"y"`

	DLEQ    *DLEQ  `json:"dleq,omitempty"`
	Witness string `json:"witness,omitempty"`

	State   ProofState `json:"state"`
	Version uint64     `json:"version"`

	CreatedAt  time.Time  `json:"created_at"`
	ReservedAt *time.Time `json:"reserved_at,omitempty"`
	SpentAt    *time.Time `json:"spent_at,omitempty"`
}

// Reserve transitions the proof from UNSPENT to RESERVED, recording the
// reservation time.
func (p *Proof) Reserve(now time.Time) error {
	switch p.State {
	case ProofUnspent:

	case ProofSpent:
		return fmt.Errorf("%w: proof %v", ErrProofSpent, p.ID)

	default:
		return fmt.Errorf("%w: proof %v is %v, cannot reserve",
			ErrInvalidTransition, p.ID, p.State)
	}

	p.State = ProofReserved
	reservedAt := now.UTC()
	p.ReservedAt = &reservedAt

	return nil
}

// Release reverts a RESERVED proof back to UNSPENT, clearing the reservation
// time so a later reservation records its own.
func (p *Proof) Release() error {
	if p.State != ProofReserved {
		return fmt.Errorf("%w: proof %v is %v", ErrProofNotReserved,
			p.ID, p.State)
	}

	p.State = ProofUnspent
	p.ReservedAt = nil

	return nil
}

// Spend transitions the proof to SPENT, from either UNSPENT or RESERVED.
// Spent proofs are immutable from here on.
func (p *Proof) Spend(now time.Time) error {
	switch p.State {
	case ProofUnspent, ProofReserved:

	default:
		return fmt.Errorf("%w: proof %v", ErrProofSpent, p.ID)
	}

	p.State = ProofSpent
	spentAt := now.UTC()
	p.SpentAt = &spentAt

	return nil
}

// ReservedTime returns when the proof was reserved, if it currently is.
func (p *Proof) ReservedTime() fn.Option[time.Time] {
	if p.ReservedAt == nil {
		return fn.None[time.Time]()
	}
	return fn.Some(*p.ReservedAt)
}

// Validate checks the structural invariants of the proof. It is called on
// every trip through the encryption boundary since the storage format is
// untyped bytes.
func (p *Proof) Validate() error {
	switch {
	case p.ID == "":
		return fmt.Errorf("%w: proof missing id", ErrRecordInvalid)

	case p.Amount == 0:
		return fmt.Errorf("%w: proof %v has zero amount",
			ErrRecordInvalid, p.ID)

	case p.KeysetID == "":
		return fmt.Errorf("%w: proof %v missing keyset id",
			ErrRecordInvalid, p.ID)

	case p.Secret == "" || p.Signature == "":
		return fmt.Errorf("%w: proof %v missing secret material",
			ErrRecordInvalid, p.ID)
	}

	switch p.State {
	case ProofUnspent:
		if p.ReservedAt != nil || p.SpentAt != nil {
			return fmt.Errorf("%w: unspent proof %v carries "+
				"transition timestamps", ErrRecordInvalid, p.ID)
		}

	case ProofReserved:
		if p.ReservedAt == nil {
			return fmt.Errorf("%w: reserved proof %v missing "+
				"reservation time", ErrRecordInvalid, p.ID)
		}
		if p.SpentAt != nil {
			return fmt.Errorf("%w: reserved proof %v carries "+
				"spend time", ErrRecordInvalid, p.ID)
		}

	case ProofSpent:
		if p.SpentAt == nil {
			return fmt.Errorf("%w: spent proof %v missing spend "+
				"time", ErrRecordInvalid, p.ID)
		}

	default:
		return fmt.Errorf("%w: proof %v has unknown state %d",
			ErrRecordInvalid, p.ID, p.State)
	}

	return nil
}

// ProofID derives a proof's record id from its secret. The mapping is stable
// across restarts, so crediting the same mint response twice addresses the
// same records instead of minting duplicates.
func ProofID(secret string) string {
	digest := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(digest[:16])
}

// SumProofs returns the total amount of the given proofs.
func SumProofs(proofs []*Proof) uint64 {
	var sum uint64
	for _, p := range proofs {
		sum += p.Amount
	}
	return sum
}
