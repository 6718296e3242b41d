package ecash

import (
	"fmt"
	"time"
)

// SwapState is the lifecycle state of a swap.
type SwapState uint8

const (
	// SwapDraft is a swap that has been validated and persisted but not
	// yet sent to the mint.
	SwapDraft SwapState = iota

	// SwapPending is a swap whose request has been handed to the mint and
	// whose result has not been observed yet.
	SwapPending

	// SwapCompleted is a successfully settled swap. Terminal.
	SwapCompleted

	// SwapFailed is a swap the mint rejected or that timed out. Terminal;
	// any reserved inputs have been released.
	SwapFailed

	// SwapCancelled is a send swap the user abandoned before it went
	// pending. Terminal.
	SwapCancelled
)

// String returns a human readable swap state.
func (s SwapState) String() string {
	switch s {
	case SwapDraft:
		return "DRAFT"
	case SwapPending:
		return "PENDING"
	case SwapCompleted:
		return "COMPLETED"
	case SwapFailed:
		return "FAILED"
	case SwapCancelled:
		return "CANCELLED"
	default:
		return fmt.Sprintf("SwapState(%d)", uint8(s))
	}
}

// SwapDirection says whether a swap brings value into the wallet or sends it
// out.
type SwapDirection uint8

const (
	// SwapReceive claims a foreign token into an account.
	SwapReceive SwapDirection = iota

	// SwapSend reserves local proofs and produces a token to give away.
	SwapSend
)

// String returns a human readable swap direction.
func (d SwapDirection) String() string {
	switch d {
	case SwapReceive:
		return "receive"
	case SwapSend:
		return "send"
	default:
		return fmt.Sprintf("SwapDirection(%d)", uint8(d))
	}
}

// Swap records one token receive or token send against a mint. Swaps are
// never deleted; failed and cancelled records are kept for audit and so a
// retried receive can find its earlier attempt.
type Swap struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	AccountID string `json:"account_id"`

	Direction SwapDirection `json:"direction"`
	State     SwapState     `json:"state"`

	// InputAmount is the total value entering the swap: the foreign
	// token's amount for a receive, the reserved proofs' sum for a send.
	InputAmount uint64 `json:"input_amount"`

	// SendAmount is the value leaving the wallet for a send swap.
	SendAmount uint64 `json:"send_amount,omitempty"`

	// FeeReserve is the fee budgeted when the swap was drafted.
	FeeReserve uint64 `json:"fee_reserve"`

	// ActualFee is the fee actually charged. Set exactly when the swap
	// completes.
	ActualFee *uint64 `json:"actual_fee,omitempty"`

	// InputProofIDs references the local proofs reserved as inputs of a
	// send swap. They stay RESERVED for the swap's lifetime and become
	// SPENT on completion or UNSPENT again on failure.
	InputProofIDs []string `json:"input_proof_ids,omitempty"`

	// OutputProofs are the proofs the mint produced: the claimed proofs
	// of a receive, or the send proofs plus change of a send.
	OutputProofs []*Proof `json:"output_proofs,omitempty"`

	// TokenFingerprint is the deterministic fingerprint of the received
	// token, used as the idempotency key for receives.
	TokenFingerprint string `json:"token_fingerprint,omitempty"`

	// KeysetID and CounterStart record which deterministic blinding
	// counters the swap's outputs were derived from, so a crashed swap
	// can be resumed without reusing counters.
	KeysetID     string `json:"keyset_id"`
	CounterStart uint32 `json:"counter_start"`
	NumOutputs   uint32 `json:"num_outputs"`

	// QuoteID is the mint-assigned identifier for the operation, once one
	// exists.
	QuoteID string `json:"quote_id,omitempty"`

	FailureReason string `json:"failure_reason,omitempty"`

	Version     uint64     `json:"version"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// MarkPending transitions the swap from DRAFT to PENDING, recording the
// mint's identifier for the operation if one was assigned.
func (s *Swap) MarkPending(quoteID string) error {
	if s.State != SwapDraft {
		return fmt.Errorf("%w: swap %v is %v, cannot mark pending",
			ErrInvalidTransition, s.ID, s.State)
	}

	s.State = SwapPending
	s.QuoteID = quoteID

	return nil
}

// Complete transitions the swap to COMPLETED with the produced proofs and
// the fee actually paid. The transition is refused if the swap would not
// balance: inputs must equal outputs plus fee exactly.
func (s *Swap) Complete(outputs []*Proof, actualFee uint64,
	now time.Time) error {

	if s.State != SwapPending {
		return fmt.Errorf("%w: swap %v is %v, cannot complete",
			ErrInvalidTransition, s.ID, s.State)
	}

	outSum := SumProofs(outputs)
	if s.InputAmount != outSum+actualFee {
		return fmt.Errorf("%w: swap %v: %d != %d + %d",
			ErrUnbalancedSwap, s.ID, s.InputAmount, outSum,
			actualFee)
	}

	s.State = SwapCompleted
	s.OutputProofs = outputs
	s.ActualFee = &actualFee
	completedAt := now.UTC()
	s.CompletedAt = &completedAt

	return nil
}

// Fail transitions the swap to FAILED with the reason the mint (or a
// timeout policy) gave.
func (s *Swap) Fail(reason string, now time.Time) error {
	switch s.State {
	case SwapDraft, SwapPending:

	default:
		return fmt.Errorf("%w: swap %v is %v, cannot fail",
			ErrInvalidTransition, s.ID, s.State)
	}

	s.State = SwapFailed
	s.FailureReason = reason
	completedAt := now.UTC()
	s.CompletedAt = &completedAt

	return nil
}

// Cancel abandons a drafted send swap before anything was handed to the
// mint.
func (s *Swap) Cancel(now time.Time) error {
	if s.Direction != SwapSend {
		return fmt.Errorf("%w: only send swaps can be cancelled",
			ErrInvalidTransition)
	}
	if s.State != SwapDraft {
		return fmt.Errorf("%w: swap %v is %v, cannot cancel",
			ErrInvalidTransition, s.ID, s.State)
	}

	s.State = SwapCancelled
	completedAt := now.UTC()
	s.CompletedAt = &completedAt

	return nil
}

// Validate checks the swap's structural invariants, including the balance
// equation for completed swaps.
func (s *Swap) Validate() error {
	switch {
	case s.ID == "":
		return fmt.Errorf("%w: swap missing id", ErrRecordInvalid)

	case s.AccountID == "" || s.UserID == "":
		return fmt.Errorf("%w: swap %v missing ownership",
			ErrRecordInvalid, s.ID)

	case s.InputAmount == 0:
		return fmt.Errorf("%w: swap %v has zero input",
			ErrRecordInvalid, s.ID)
	}

	switch s.Direction {
	case SwapReceive:
		if s.TokenFingerprint == "" {
			return fmt.Errorf("%w: receive swap %v missing token "+
				"fingerprint", ErrRecordInvalid, s.ID)
		}

	case SwapSend:
		if len(s.InputProofIDs) == 0 {
			return fmt.Errorf("%w: send swap %v references no "+
				"input proofs", ErrRecordInvalid, s.ID)
		}

	default:
		return fmt.Errorf("%w: swap %v has unknown direction %d",
			ErrRecordInvalid, s.ID, s.Direction)
	}

	switch s.State {
	case SwapCompleted:
		if s.ActualFee == nil {
			return fmt.Errorf("%w: completed swap %v missing "+
				"actual fee", ErrRecordInvalid, s.ID)
		}
		outSum := SumProofs(s.OutputProofs)
		if s.InputAmount != outSum+*s.ActualFee {
			return fmt.Errorf("%w: swap %v: %d != %d + %d",
				ErrUnbalancedSwap, s.ID, s.InputAmount,
				outSum, *s.ActualFee)
		}

	case SwapFailed:
		if s.FailureReason == "" {
			return fmt.Errorf("%w: failed swap %v missing reason",
				ErrRecordInvalid, s.ID)
		}

	case SwapDraft, SwapPending, SwapCancelled:
		if s.ActualFee != nil {
			return fmt.Errorf("%w: swap %v in state %v carries "+
				"actual fee", ErrRecordInvalid, s.ID, s.State)
		}

	default:
		return fmt.Errorf("%w: swap %v has unknown state %d",
			ErrRecordInvalid, s.ID, s.State)
	}

	return nil
}
