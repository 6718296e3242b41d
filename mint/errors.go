package mint

import (
	"errors"
	"fmt"
	"regexp"
)

// ErrorKind is the canonical classification of a mint protocol error. Each
// kind maps to one domain recovery action in the swap and quote state
// machines.
type ErrorKind uint8

const (
	// KindUnknown is an error the taxonomy does not cover. Treated as
	// fatal to the operation.
	KindUnknown ErrorKind = iota

	// KindTokenAlreadySpent means one or more input proofs were already
	// redeemed. The swap fails and reservations are released.
	KindTokenAlreadySpent

	// KindTokenNotVerified means the mint could not verify the token.
	KindTokenNotVerified

	// KindOutputsAlreadySigned means the mint already signed the
	// requested outputs, i.e. a retried request succeeded earlier. The
	// caller recovers the signatures via Restore.
	KindOutputsAlreadySigned

	// KindTransactionUnbalanced means inputs did not equal outputs plus
	// fee. A bug, never retried.
	KindTransactionUnbalanced

	// KindUnitMismatch means the request's unit is not supported by the
	// keyset.
	KindUnitMismatch

	// KindAmountOutsideLimit means the amount falls outside the mint's
	// accepted range.
	KindAmountOutsideLimit

	// KindKeysetUnknown means the referenced keyset does not exist.
	KindKeysetUnknown

	// KindKeysetInactive means the referenced keyset no longer signs.
	KindKeysetInactive

	// KindQuoteNotPaid means a mint quote's invoice has not been paid
	// yet.
	KindQuoteNotPaid

	// KindTokensAlreadyIssued means a mint quote's proofs were already
	// claimed. Treated as success on retry.
	KindTokensAlreadyIssued

	// KindMintingDisabled means the mint is not issuing right now.
	KindMintingDisabled

	// KindQuotePending means the payment is still in flight. The caller
	// keeps watching rather than failing.
	KindQuotePending

	// KindInvoiceAlreadyPaid means the melt's invoice was already paid.
	// Treated as already-completed, not surfaced as an error.
	KindInvoiceAlreadyPaid

	// KindQuoteExpired means the quote ran past its expiry. Routes to
	// the EXPIRED transition.
	KindQuoteExpired

	// KindInsufficientBalance means the funding proofs do not cover the
	// amount plus fee.
	KindInsufficientBalance
)

// String returns a human readable error kind.
func (k ErrorKind) String() string {
	switch k {
	case KindTokenAlreadySpent:
		return "token already spent"
	case KindTokenNotVerified:
		return "token not verified"
	case KindOutputsAlreadySigned:
		return "outputs already signed"
	case KindTransactionUnbalanced:
		return "transaction unbalanced"
	case KindUnitMismatch:
		return "unit mismatch"
	case KindAmountOutsideLimit:
		return "amount outside limit"
	case KindKeysetUnknown:
		return "keyset unknown"
	case KindKeysetInactive:
		return "keyset inactive"
	case KindQuoteNotPaid:
		return "quote not paid"
	case KindTokensAlreadyIssued:
		return "tokens already issued"
	case KindMintingDisabled:
		return "minting disabled"
	case KindQuotePending:
		return "quote pending"
	case KindInvoiceAlreadyPaid:
		return "invoice already paid"
	case KindQuoteExpired:
		return "quote expired"
	case KindInsufficientBalance:
		return "insufficient balance"
	default:
		return "unknown"
	}
}

// Error is a protocol error as reported by a mint: a numeric code from the
// published taxonomy plus a free-form message. Some mints return nonstandard
// messages for standard conditions, so classification always goes through
// Normalize rather than reading Code directly.
type Error struct {
	Code    int
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("mint error %d: %s", e.Code, e.Message)
}

// Kind returns the canonical classification of the error.
func (e *Error) Kind() ErrorKind {
	return Normalize(e.Code, e.Message)
}

// codeKinds maps the published mint error codes onto canonical kinds.
// Version 1 of the table; additions only.
var codeKinds = map[int]ErrorKind{
	10002: KindOutputsAlreadySigned,
	10003: KindTokenNotVerified,
	11001: KindTokenAlreadySpent,
	11002: KindTransactionUnbalanced,
	11005: KindUnitMismatch,
	11006: KindAmountOutsideLimit,
	12001: KindKeysetUnknown,
	12002: KindKeysetInactive,
	20001: KindQuoteNotPaid,
	20002: KindTokensAlreadyIssued,
	20003: KindMintingDisabled,
	20005: KindQuotePending,
	20006: KindInvoiceAlreadyPaid,
	20007: KindQuoteExpired,
}

// quirk is one message-pattern rule for mints that report standard
// conditions under nonstandard codes or prose.
type quirk struct {
	pattern *regexp.Regexp
	kind    ErrorKind
}

// quirkTable is consulted, in order, when the numeric code is not in
// codeKinds. New mint quirks are rows here, not code changes.
var quirkTable = []quirk{
	{regexp.MustCompile(`(?i)already (been )?spent`), KindTokenAlreadySpent},
	{regexp.MustCompile(`(?i)invoice (is )?already paid`), KindInvoiceAlreadyPaid},
	{regexp.MustCompile(`(?i)already issued`), KindTokensAlreadyIssued},
	{regexp.MustCompile(`(?i)(quote|payment) (is )?(still )?pending`), KindQuotePending},
	{regexp.MustCompile(`(?i)payment (is )?in flight`), KindQuotePending},
	{regexp.MustCompile(`(?i)(quote|invoice) (is |has )?expired`), KindQuoteExpired},
	{regexp.MustCompile(`(?i)insufficient (funds|balance)`), KindInsufficientBalance},
	{regexp.MustCompile(`(?i)not enough funds`), KindInsufficientBalance},
	{regexp.MustCompile(`(?i)outputs? (have |has )?already (been )?signed`), KindOutputsAlreadySigned},
	{regexp.MustCompile(`(?i)keyset (is )?inactive`), KindKeysetInactive},
	{regexp.MustCompile(`(?i)unknown keyset`), KindKeysetUnknown},
	{regexp.MustCompile(`(?i)unit .* not supported`), KindUnitMismatch},
}

// Normalize maps a (code, message) pair reported by a mint onto its
// canonical ErrorKind: the code table decides when it knows the code, and
// the message quirk table covers mints that speak their own dialect.
func Normalize(code int, message string) ErrorKind {
	if kind, ok := codeKinds[code]; ok {
		return kind
	}

	for _, q := range quirkTable {
		if q.pattern.MatchString(message) {
			return q.kind
		}
	}

	return KindUnknown
}

// KindOf classifies any error: a *Error is normalized, everything else is
// KindUnknown.
func KindOf(err error) ErrorKind {
	var mintErr *Error
	if errors.As(err, &mintErr) {
		return mintErr.Kind()
	}
	return KindUnknown
}
