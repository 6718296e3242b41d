package ecash

import (
	"fmt"
	"time"

	"github.com/ecashkit/walletcore/money"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// QuoteState is the lifecycle state of a Lightning quote.
type QuoteState uint8

const (
	// QuoteUnpaid is a quote that has been created but whose payment has
	// not been observed.
	QuoteUnpaid QuoteState = iota

	// QuotePending is a quote whose payment is in flight.
	QuotePending

	// QuoteCompleted is a settled quote with its final fee known.
	// Terminal.
	QuoteCompleted

	// QuoteExpired is a quote that ran past its expiry unpaid. Terminal.
	QuoteExpired

	// QuoteFailed is a quote whose payment failed. Terminal.
	QuoteFailed
)

// String returns a human readable quote state.
func (s QuoteState) String() string {
	switch s {
	case QuoteUnpaid:
		return "UNPAID"
	case QuotePending:
		return "PENDING"
	case QuoteCompleted:
		return "COMPLETED"
	case QuoteExpired:
		return "EXPIRED"
	case QuoteFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("QuoteState(%d)", uint8(s))
	}
}

// QuoteType discriminates mint quotes (receiving over Lightning) from melt
// quotes (paying an invoice with proofs).
type QuoteType uint8

const (
	// QuoteMint receives value: the mint issues new proofs once its
	// invoice is paid.
	QuoteMint QuoteType = iota

	// QuoteMelt sends value: the mint pays an invoice in exchange for
	// proofs.
	QuoteMelt
)

// String returns a human readable quote type.
func (t QuoteType) String() string {
	switch t {
	case QuoteMint:
		return "mint"
	case QuoteMelt:
		return "melt"
	default:
		return fmt.Sprintf("QuoteType(%d)", uint8(t))
	}
}

// Quote records one Lightning mint or melt operation against a mint. Like
// swaps, quotes are never deleted.
type Quote struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	AccountID string `json:"account_id"`

	Type  QuoteType  `json:"type"`
	State QuoteState `json:"state"`

	// MintQuoteID is the identifier the mint assigned to the quote.
	MintQuoteID string `json:"mint_quote_id"`

	// PaymentRequest is the BOLT11 invoice tied to the quote.
	PaymentRequest string `json:"payment_request"`

	// PaymentHash is the invoice's payment hash.
	PaymentHash string `json:"payment_hash"`

	// Amount is the principal requested, fee excluded.
	Amount money.Money `json:"amount"`

	// FeeReserve is the fee budget quoted up front. The actual fee may
	// come in under it; the difference returns to the account as change.
	FeeReserve money.Money `json:"fee_reserve"`

	// ActualFee is the fee finally charged. Set exactly when the quote
	// completes.
	ActualFee *money.Money `json:"actual_fee,omitempty"`

	// Preimage is the payment preimage proving a melt settled. Present
	// if and only if a melt quote is COMPLETED; mint quotes never carry
	// one.
	Preimage string `json:"preimage,omitempty"`

	// InputProofIDs references the proofs reserved to fund a melt.
	InputProofIDs []string `json:"input_proof_ids,omitempty"`

	// KeysetID, CounterStart and NumOutputs record the deterministic
	// blinding counters reserved for the quote's outputs or change.
	KeysetID     string `json:"keyset_id,omitempty"`
	CounterStart uint32 `json:"counter_start,omitempty"`
	NumOutputs   uint32 `json:"num_outputs,omitempty"`

	// TransactionID ties the quote to the wallet's transaction history.
	TransactionID string `json:"transaction_id"`

	FailureReason string `json:"failure_reason,omitempty"`

	Version     uint64     `json:"version"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// MarkPending transitions the quote from UNPAID to PENDING.
func (q *Quote) MarkPending() error {
	if q.State != QuoteUnpaid {
		return fmt.Errorf("%w: quote %v is %v, cannot mark pending",
			ErrInvalidTransition, q.ID, q.State)
	}

	q.State = QuotePending
	return nil
}

// Complete settles the quote with the final fee and, for melts, the payment
// preimage.
func (q *Quote) Complete(preimage string, actualFee money.Money,
	now time.Time) error {

	switch q.State {
	case QuoteUnpaid, QuotePending:

	default:
		return fmt.Errorf("%w: quote %v is %v, cannot complete",
			ErrInvalidTransition, q.ID, q.State)
	}

	if q.Type == QuoteMelt && preimage == "" {
		return fmt.Errorf("%w: melt quote %v completed without "+
			"preimage", ErrRecordInvalid, q.ID)
	}
	if q.Type == QuoteMint && preimage != "" {
		return fmt.Errorf("%w: mint quote %v carries a preimage",
			ErrRecordInvalid, q.ID)
	}

	q.State = QuoteCompleted
	q.Preimage = preimage
	q.ActualFee = &actualFee
	completedAt := now.UTC()
	q.CompletedAt = &completedAt

	return nil
}

// Expire transitions an unpaid or pending quote to EXPIRED.
func (q *Quote) Expire(now time.Time) error {
	switch q.State {
	case QuoteUnpaid, QuotePending:

	default:
		return fmt.Errorf("%w: quote %v is %v, cannot expire",
			ErrInvalidTransition, q.ID, q.State)
	}

	q.State = QuoteExpired
	completedAt := now.UTC()
	q.CompletedAt = &completedAt

	return nil
}

// Fail transitions an unpaid or pending quote to FAILED with a reason.
func (q *Quote) Fail(reason string, now time.Time) error {
	switch q.State {
	case QuoteUnpaid, QuotePending:

	default:
		return fmt.Errorf("%w: quote %v is %v, cannot fail",
			ErrInvalidTransition, q.ID, q.State)
	}

	q.State = QuoteFailed
	q.FailureReason = reason
	completedAt := now.UTC()
	q.CompletedAt = &completedAt

	return nil
}

// Expired reports whether the quote's expiry has passed.
func (q *Quote) Expired(now time.Time) bool {
	return q.ExpiresAt != nil && now.After(*q.ExpiresAt)
}

// SettledPreimage returns the payment preimage of a settled melt.
func (q *Quote) SettledPreimage() fn.Option[string] {
	if q.State != QuoteCompleted || q.Preimage == "" {
		return fn.None[string]()
	}
	return fn.Some(q.Preimage)
}

// Validate checks the quote's structural invariants. The "settlement fields
// present iff COMPLETED" rule is enforced here because the record round
// trips through an untyped encrypted blob.
func (q *Quote) Validate() error {
	switch {
	case q.ID == "":
		return fmt.Errorf("%w: quote missing id", ErrRecordInvalid)

	case q.AccountID == "" || q.UserID == "":
		return fmt.Errorf("%w: quote %v missing ownership",
			ErrRecordInvalid, q.ID)

	case q.MintQuoteID == "":
		return fmt.Errorf("%w: quote %v missing mint quote id",
			ErrRecordInvalid, q.ID)

	case q.PaymentRequest == "":
		return fmt.Errorf("%w: quote %v missing payment request",
			ErrRecordInvalid, q.ID)

	case q.Amount.IsZero():
		return fmt.Errorf("%w: quote %v has zero amount",
			ErrRecordInvalid, q.ID)
	}

	if q.Type != QuoteMint && q.Type != QuoteMelt {
		return fmt.Errorf("%w: quote %v has unknown type %d",
			ErrRecordInvalid, q.ID, q.Type)
	}

	switch q.State {
	case QuoteCompleted:
		if q.ActualFee == nil {
			return fmt.Errorf("%w: completed quote %v missing "+
				"actual fee", ErrRecordInvalid, q.ID)
		}
		if q.Type == QuoteMelt && q.Preimage == "" {
			return fmt.Errorf("%w: completed melt quote %v "+
				"missing preimage", ErrRecordInvalid, q.ID)
		}

	case QuoteFailed:
		if q.FailureReason == "" {
			return fmt.Errorf("%w: failed quote %v missing reason",
				ErrRecordInvalid, q.ID)
		}
		fallthrough

	case QuoteUnpaid, QuotePending, QuoteExpired:
		if q.ActualFee != nil || q.Preimage != "" {
			return fmt.Errorf("%w: quote %v in state %v carries "+
				"settlement fields", ErrRecordInvalid, q.ID,
				q.State)
		}

	default:
		return fmt.Errorf("%w: quote %v has unknown state %d",
			ErrRecordInvalid, q.ID, q.State)
	}

	if q.Type == QuoteMint && q.Preimage != "" {
		return fmt.Errorf("%w: mint quote %v carries a preimage",
			ErrRecordInvalid, q.ID)
	}

	return nil
}
