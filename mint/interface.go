// Package mint defines the operations this wallet core requires of a Cashu
// mint, along with the error taxonomy used to map mint responses onto domain
// outcomes. The wire format of any specific mint lives behind the Client
// interface; this package only fixes the semantics the settlement state
// machines depend on.
package mint

import (
	"context"
	"time"
)

// QuoteState is the mint-reported state of a quote.
type QuoteState string

const (
	// QuoteStateUnpaid means the quote's invoice has not been paid.
	QuoteStateUnpaid QuoteState = "UNPAID"

	// QuoteStatePaid means the invoice is paid; for a mint quote the
	// proofs can now be claimed.
	QuoteStatePaid QuoteState = "PAID"

	// QuoteStatePending means the payment is in flight.
	QuoteStatePending QuoteState = "PENDING"

	// QuoteStateIssued means a mint quote's proofs have already been
	// claimed.
	QuoteStateIssued QuoteState = "ISSUED"

	// QuoteStateExpired means the quote ran past its expiry.
	QuoteStateExpired QuoteState = "EXPIRED"
)

// ProofSpendState is the mint-reported spend state of a single proof.
type ProofSpendState string

const (
	// ProofStateUnspent means the mint has not seen the proof redeemed.
	ProofStateUnspent ProofSpendState = "UNSPENT"

	// ProofStatePending means the proof is an input to an in-flight
	// operation.
	ProofStatePending ProofSpendState = "PENDING"

	// ProofStateSpent means the proof has been redeemed. Terminal.
	ProofStateSpent ProofSpendState = "SPENT"
)

// Keyset describes one of a mint's signing keysets.
type Keyset struct {
	// ID is the keyset identifier proofs reference.
	ID string

	// Unit is the unit amounts under this keyset are denominated in.
	Unit string

	// Active reports whether the mint still signs with this keyset.
	Active bool

	// InputFeePPK is the fee charged per thousand inputs spent from this
	// keyset.
	InputFeePPK uint64
}

// Proof is a proof as the mint sees it: no ownership or lifecycle fields,
// just the material needed to verify and redeem it.
type Proof struct {
	KeysetID  string
	Amount    uint64
	Secret    string
	Signature string
	Witness   string
}

// MintQuote is the mint's answer to a mint quote request: an invoice to pay
// and the quote's current state.
type MintQuote struct {
	ID             string
	PaymentRequest string
	PaymentHash    string
	Amount         uint64
	Unit           string
	State          QuoteState
	Expiry         time.Time
}

// MeltQuote is the mint's answer to a melt quote request: the principal, the
// fee reserve it demands, and once settled, the payment preimage.
type MeltQuote struct {
	ID         string
	Amount     uint64
	Unit       string
	FeeReserve uint64
	State      QuoteState
	Expiry     time.Time

	// Preimage is the payment preimage, populated once State is PAID.
	Preimage string
}

// MeltResult is the outcome of executing a melt.
type MeltResult struct {
	State    QuoteState
	Preimage string

	// FeePaid is the fee actually consumed by the payment.
	FeePaid uint64

	// Change returns the unused portion of the fee reserve as fresh
	// proofs.
	Change []Proof
}

// SwapRequest asks the mint to exchange a set of input proofs for new ones.
type SwapRequest struct {
	// Inputs are the proofs being redeemed.
	Inputs []Proof

	// Target is the amount to denominate as the primary output set; the
	// rest, minus fee, comes back as change.
	Target uint64

	// KeysetID and CounterStart identify the deterministic blinding
	// counters the outputs are derived from, so a retried request yields
	// the same outputs. Outputs are derived in order, the target
	// denominations first and the change after, which is also the order
	// Restore returns them in.
	KeysetID     string
	CounterStart uint32
}

// SwapResult is the mint's answer to a swap: the target-denominated proofs,
// any change, and the fee it kept.
type SwapResult struct {
	Send   []Proof
	Change []Proof
	Fee    uint64
}

// Client is the set of mint operations the settlement core consumes. Every
// call honors context cancellation; protocol failures are returned as *Error
// so callers can normalize them onto an ErrorKind.
type Client interface {
	// Keysets returns the mint's keysets.
	Keysets(ctx context.Context) ([]Keyset, error)

	// CreateMintQuote asks for an invoice that, once paid, lets the
	// wallet claim amount in unit.
	CreateMintQuote(ctx context.Context, amount uint64,
		unit string) (*MintQuote, error)

	// MintQuoteState fetches the current state of a mint quote.
	MintQuoteState(ctx context.Context,
		quoteID string) (*MintQuote, error)

	// MintProofs claims the proofs of a paid mint quote, deriving the
	// outputs from the given keyset counters.
	MintProofs(ctx context.Context, quoteID string, amount uint64,
		keysetID string, counterStart uint32) ([]Proof, error)

	// CreateMeltQuote asks what paying the invoice will cost.
	CreateMeltQuote(ctx context.Context,
		paymentRequest string) (*MeltQuote, error)

	// MeltQuoteState fetches the current state of a melt quote.
	MeltQuoteState(ctx context.Context,
		quoteID string) (*MeltQuote, error)

	// Melt pays a melt quote with the given proofs. Change outputs are
	// derived from the given keyset counters.
	Melt(ctx context.Context, quoteID string, inputs []Proof,
		keysetID string, counterStart uint32) (*MeltResult, error)

	// Swap exchanges input proofs for freshly signed ones.
	Swap(ctx context.Context, req *SwapRequest) (*SwapResult, error)

	// Restore re-derives the signatures for outputs the mint has already
	// signed under the given counters, recovering from a crash between
	// request and response.
	Restore(ctx context.Context, keysetID string, counterStart,
		n uint32) ([]Proof, error)

	// CheckProofs reports the spend state of each given proof, in the
	// same order.
	CheckProofs(ctx context.Context,
		proofs []Proof) ([]ProofSpendState, error)
}

// InputFee returns the fee a mint charges for spending the given proofs:
// the sum of their keysets' per-thousand input fees, rounded up.
func InputFee(keysets map[string]Keyset, proofs []Proof) uint64 {
	var ppk uint64
	for _, p := range proofs {
		ppk += keysets[p.KeysetID].InputFeePPK
	}
	return (ppk + 999) / 1000
}
