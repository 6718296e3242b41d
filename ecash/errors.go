package ecash

import "errors"

var (
	// ErrInvalidTransition is returned when a record is asked to move to
	// a state its current state does not permit.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrProofSpent is returned when a spent proof is mutated.
	ErrProofSpent = errors.New("proof already spent")

	// ErrProofNotReserved is returned when releasing or spending a
	// reservation that does not exist.
	ErrProofNotReserved = errors.New("proof not reserved")

	// ErrUnknownProof is returned when an account does not contain the
	// referenced proof.
	ErrUnknownProof = errors.New("unknown proof")

	// ErrDuplicateProof is returned when a proof with an already present
	// id or secret is added to an account.
	ErrDuplicateProof = errors.New("duplicate proof")

	// ErrInsufficientBalance is returned when an account's unspent proofs
	// cannot cover a requested amount.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrUnbalancedSwap is returned when a swap's inputs do not equal its
	// outputs plus fee.
	ErrUnbalancedSwap = errors.New("swap inputs do not balance outputs " +
		"plus fee")

	// ErrRecordInvalid is returned by Validate methods when a record is
	// structurally invalid. It indicates corruption or a version skew and
	// is never silently coerced.
	ErrRecordInvalid = errors.New("record failed validation")
)
