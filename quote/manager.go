// Package quote drives the Lightning legs of the wallet: mint quotes that
// turn an incoming invoice payment into fresh proofs, and melt quotes that
// spend proofs to pay an outgoing invoice. Both are multi-step exchanges
// against a partially trusted mint, persisted through the encrypted
// repository after every step so a crash never strands value.
package quote

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/lightningnetwork/lnd/clock"

	"github.com/ecashkit/walletcore/ecash"
	"github.com/ecashkit/walletcore/ecashdb"
	"github.com/ecashkit/walletcore/mint"
	"github.com/ecashkit/walletcore/mintsub"
	"github.com/ecashkit/walletcore/money"
)

var (
	// ErrNotCashuAccount is returned when a quote targets an account that
	// does not hold proofs.
	ErrNotCashuAccount = errors.New("account is not a cashu account")

	// ErrWrongQuoteType is returned when a mint operation is invoked on
	// a melt quote or vice versa.
	ErrWrongQuoteType = errors.New("operation does not match quote type")

	// ErrQuoteNotPaid is returned when claiming a mint quote whose
	// invoice the mint has not seen settle yet.
	ErrQuoteNotPaid = errors.New("quote invoice not paid yet")

	// ErrNoActiveKeyset is returned when the mint has no active keyset
	// for the required unit.
	ErrNoActiveKeyset = errors.New("no active keyset for unit")

	// ErrMissingPreimage is returned when the mint reports a melt settled
	// but withholds the payment preimage.
	ErrMissingPreimage = errors.New("mint reported payment without preimage")
)

// MintDialer returns a client for the given mint URL.
type MintDialer func(mintURL string) (mint.Client, error)

// Config bundles a Manager's dependencies.
type Config struct {
	// Accounts is the encrypted account repository.
	Accounts *ecashdb.AccountStore

	// Quotes is the encrypted quote repository.
	Quotes *ecashdb.QuoteStore

	// DialMint opens mint clients.
	DialMint MintDialer

	// Subs multiplexes real-time quote updates from mints. Optional;
	// without it Watch returns an error and callers must poll.
	Subs *mintsub.Manager

	// Clock is the time source, swappable in tests.
	Clock clock.Clock
}

// Manager orchestrates mint and melt quotes.
type Manager struct {
	cfg Config
}

// New creates a Manager from the given config.
func New(cfg *Config) (*Manager, error) {
	switch {
	case cfg.Accounts == nil:
		return nil, errors.New("quote manager requires an account store")
	case cfg.Quotes == nil:
		return nil, errors.New("quote manager requires a quote store")
	case cfg.DialMint == nil:
		return nil, errors.New("quote manager requires a mint dialer")
	}

	c := *cfg
	if c.Clock == nil {
		c.Clock = clock.NewDefaultClock()
	}

	return &Manager{cfg: c}, nil
}

// RequestMint asks the account's mint for an invoice that, once paid, lets
// the wallet claim the given amount as fresh proofs. The returned quote is
// UNPAID; hand its payment request to the payer and claim with ClaimMint
// once the mint reports payment.
func (m *Manager) RequestMint(ctx context.Context, accountID string,
	amount money.Money) (*ecash.Quote, error) {

	acct, err := m.cfg.Accounts.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if acct.Type != ecash.AccountCashu {
		return nil, fmt.Errorf("%w: %v", ErrNotCashuAccount, accountID)
	}

	amtMinor, err := minorAmount(amount, acct.Currency)
	if err != nil {
		return nil, err
	}

	client, err := m.cfg.DialMint(acct.MintURL)
	if err != nil {
		return nil, err
	}

	mq, err := client.CreateMintQuote(
		ctx, amtMinor, ecash.MintUnit(acct.Currency),
	)
	if err != nil {
		return nil, fmt.Errorf("create mint quote: %w", err)
	}

	now := m.cfg.Clock.Now()
	record := &ecash.Quote{
		ID:             newID(),
		UserID:         acct.UserID,
		AccountID:      acct.ID,
		Type:           ecash.QuoteMint,
		State:          ecash.QuoteUnpaid,
		MintQuoteID:    mq.ID,
		PaymentRequest: mq.PaymentRequest,
		PaymentHash:    mq.PaymentHash,
		Amount:         amount,
		FeeReserve:     money.Zero(acct.Currency),
		TransactionID:  newID(),
		CreatedAt:      now.UTC(),
	}
	if !mq.Expiry.IsZero() {
		expiry := mq.Expiry.UTC()
		record.ExpiresAt = &expiry
	}

	record, err = m.cfg.Quotes.Create(ctx, record)
	if err != nil {
		return nil, err
	}

	log.Infof("Mint quote %v created for %v at %v, mint quote id %v",
		record.ID, amount, acct.MintURL, mq.ID)

	return record, nil
}

// ClaimMint claims the proofs of a paid mint quote into its account. The
// operation is idempotent: once the quote is terminal a repeat call returns
// the stored record, and a crash mid-claim is recovered on retry through the
// quote's recorded blinding counters.
func (m *Manager) ClaimMint(ctx context.Context,
	quoteID string) (*ecash.Quote, error) {

	record, err := m.cfg.Quotes.Get(ctx, quoteID)
	if err != nil {
		return nil, err
	}
	if record.Type != ecash.QuoteMint {
		return nil, fmt.Errorf("%w: quote %v is %v", ErrWrongQuoteType,
			quoteID, record.Type)
	}

	switch record.State {
	case ecash.QuoteUnpaid, ecash.QuotePending:

	default:
		log.Debugf("Mint quote %v already %v", quoteID, record.State)
		return record, nil
	}

	acct, err := m.cfg.Accounts.Get(ctx, record.AccountID)
	if err != nil {
		return nil, err
	}
	amtMinor, err := minorAmount(record.Amount, acct.Currency)
	if err != nil {
		return nil, err
	}

	client, err := m.cfg.DialMint(acct.MintURL)
	if err != nil {
		return nil, err
	}

	now := m.cfg.Clock.Now()
	mq, err := client.MintQuoteState(ctx, record.MintQuoteID)
	if err != nil {
		return nil, fmt.Errorf("mint quote state: %w", err)
	}

	switch mq.State {
	case mint.QuoteStatePaid:

	case mint.QuoteStateIssued:
		// The mint already handed the proofs out. If we never reserved
		// counters, another wallet claimed them and the value is not
		// recoverable here.
		if record.KeysetID == "" {
			return m.cfg.Quotes.Fail(
				ctx, record, "proofs already issued", now,
			)
		}

	case mint.QuoteStateExpired:
		return m.cfg.Quotes.Expire(ctx, record, now)

	default:
		if record.Expired(now) {
			return m.cfg.Quotes.Expire(ctx, record, now)
		}
		return record, fmt.Errorf("%w: quote %v is %v", ErrQuoteNotPaid,
			quoteID, mq.State)
	}

	// First attempt: reserve deterministic blinding counters and persist
	// them on the record before anything goes out to the mint, so a crash
	// between request and response leaves enough to restore from.
	if record.KeysetID == "" {
		keysets, err := keysetMap(ctx, client)
		if err != nil {
			return nil, err
		}
		keyset, err := activeKeyset(
			keysets, ecash.MintUnit(acct.Currency),
		)
		if err != nil {
			return nil, err
		}

		numOutputs := uint32(len(ecash.Split(amtMinor)))
		var counterStart uint32
		if _, err := m.cfg.Accounts.Update(ctx, acct.ID,
			func(a *ecash.Account) error {
				counterStart = a.ReserveCounters(
					keyset.ID, numOutputs,
				)
				return nil
			},
		); err != nil {
			return nil, err
		}

		record.KeysetID = keyset.ID
		record.CounterStart = counterStart
		record.NumOutputs = numOutputs

		record, err = m.cfg.Quotes.MarkPending(ctx, record)
		if err != nil {
			return nil, err
		}
	}

	outputs, err := client.MintProofs(
		ctx, record.MintQuoteID, amtMinor, record.KeysetID,
		record.CounterStart,
	)
	switch {
	case err == nil:

	case !isMintError(err):
		// Transport failure: the quote stays PENDING and a retry
		// resumes it. Timeout policy is the caller's.
		return nil, fmt.Errorf("mint proofs: %w", err)

	default:
		switch mint.KindOf(err) {
		case mint.KindTokensAlreadyIssued:
			// Our earlier attempt reached the mint. Recover the
			// signatures for our deterministic outputs.
			outputs, err = client.Restore(
				ctx, record.KeysetID, record.CounterStart,
				record.NumOutputs,
			)
			if err != nil {
				return nil, fmt.Errorf("restore outputs: %w",
					err)
			}
			if len(outputs) == 0 {
				return m.cfg.Quotes.Fail(
					ctx, record,
					"proofs already issued", now,
				)
			}

		case mint.KindQuoteNotPaid:
			return record, fmt.Errorf("%w: quote %v",
				ErrQuoteNotPaid, quoteID)

		case mint.KindQuoteExpired:
			return m.cfg.Quotes.Expire(ctx, record, now)

		default:
			return m.cfg.Quotes.Fail(ctx, record, err.Error(), now)
		}
	}

	owned := ownProofs(acct.ID, acct.UserID, outputs, now)
	if _, err := m.cfg.Accounts.Update(ctx, acct.ID,
		func(a *ecash.Account) error {
			return a.AddMissingProofs(owned)
		},
	); err != nil {
		return nil, err
	}

	record, err = m.cfg.Quotes.Complete(
		ctx, record, "", money.Zero(acct.Currency), now,
	)
	if err != nil {
		return nil, err
	}

	log.Infof("Mint quote %v completed: %d credited to account %v",
		record.ID, ecash.SumProofs(owned), acct.ID)

	return record, nil
}

// RequestMelt asks the account's mint what paying the given invoice will
// cost. The returned quote is UNPAID and carries the mint's fee reserve;
// execute it with PayMelt.
func (m *Manager) RequestMelt(ctx context.Context, accountID,
	paymentRequest string) (*ecash.Quote, error) {

	acct, err := m.cfg.Accounts.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if acct.Type != ecash.AccountCashu {
		return nil, fmt.Errorf("%w: %v", ErrNotCashuAccount, accountID)
	}

	client, err := m.cfg.DialMint(acct.MintURL)
	if err != nil {
		return nil, err
	}

	mq, err := client.CreateMeltQuote(ctx, paymentRequest)
	if err != nil {
		return nil, fmt.Errorf("create melt quote: %w", err)
	}

	unit := ecash.ProofUnit(acct.Currency)
	amount, err := money.New(int64(mq.Amount), unit)
	if err != nil {
		return nil, err
	}
	feeReserve, err := money.New(int64(mq.FeeReserve), unit)
	if err != nil {
		return nil, err
	}

	now := m.cfg.Clock.Now()
	record := &ecash.Quote{
		ID:             newID(),
		UserID:         acct.UserID,
		AccountID:      acct.ID,
		Type:           ecash.QuoteMelt,
		State:          ecash.QuoteUnpaid,
		MintQuoteID:    mq.ID,
		PaymentRequest: paymentRequest,
		Amount:         amount,
		FeeReserve:     feeReserve,
		TransactionID:  newID(),
		CreatedAt:      now.UTC(),
	}
	if !mq.Expiry.IsZero() {
		expiry := mq.Expiry.UTC()
		record.ExpiresAt = &expiry
	}

	record, err = m.cfg.Quotes.Create(ctx, record)
	if err != nil {
		return nil, err
	}

	log.Infof("Melt quote %v created: %v plus %v fee reserve at %v",
		record.ID, amount, feeReserve, acct.MintURL)

	return record, nil
}

// PayMelt executes a melt quote: it reserves proofs covering amount plus fee
// reserve, asks the mint to pay the invoice, then spends the inputs and
// credits any fee change. The operation is idempotent; retrying a PENDING
// quote resumes it, and every terminal outcome leaves no proofs reserved.
func (m *Manager) PayMelt(ctx context.Context,
	quoteID string) (*ecash.Quote, error) {

	record, err := m.cfg.Quotes.Get(ctx, quoteID)
	if err != nil {
		return nil, err
	}
	if record.Type != ecash.QuoteMelt {
		return nil, fmt.Errorf("%w: quote %v is %v", ErrWrongQuoteType,
			quoteID, record.Type)
	}

	switch record.State {
	case ecash.QuoteUnpaid, ecash.QuotePending:

	default:
		log.Debugf("Melt quote %v already %v", quoteID, record.State)
		return record, nil
	}

	now := m.cfg.Clock.Now()
	if record.State == ecash.QuoteUnpaid && record.Expired(now) {
		return m.cfg.Quotes.Expire(ctx, record, now)
	}

	acct, err := m.cfg.Accounts.Get(ctx, record.AccountID)
	if err != nil {
		return nil, err
	}
	unit := ecash.ProofUnit(acct.Currency)
	amtMinor, err := minorAmount(record.Amount, acct.Currency)
	if err != nil {
		return nil, err
	}
	feeResMinor, err := minorAmount(record.FeeReserve, acct.Currency)
	if err != nil {
		return nil, err
	}

	client, err := m.cfg.DialMint(acct.MintURL)
	if err != nil {
		return nil, err
	}

	// First attempt: reserve the inputs and the blinding counters for the
	// fee change in one versioned account write, then persist them on the
	// record before the payment goes out.
	var inputs []*ecash.Proof
	if record.State == ecash.QuoteUnpaid {
		keysets, err := keysetMap(ctx, client)
		if err != nil {
			return nil, err
		}
		keyset, err := activeKeyset(
			keysets, ecash.MintUnit(acct.Currency),
		)
		if err != nil {
			return nil, err
		}

		var (
			counterStart uint32
			numOutputs   uint32
		)
		acct, err = m.cfg.Accounts.Update(ctx, acct.ID,
			func(a *ecash.Account) error {
				var err error
				inputs, _, err = a.ReserveForSend(
					amtMinor+feeResMinor,
					keyset.InputFeePPK, now,
				)
				if err != nil {
					return err
				}

				// The change cannot exceed what the inputs
				// carry beyond the principal, so that bounds
				// the counters to reserve.
				maxChange := ecash.SumProofs(inputs) - amtMinor
				numOutputs = uint32(len(ecash.Split(maxChange)))
				if numOutputs > 0 {
					counterStart = a.ReserveCounters(
						keyset.ID, numOutputs,
					)
				}

				return nil
			},
		)
		if err != nil {
			return nil, err
		}

		ids := make([]string, len(inputs))
		for i, p := range inputs {
			ids[i] = p.ID
		}
		record.InputProofIDs = ids
		record.KeysetID = keyset.ID
		record.CounterStart = counterStart
		record.NumOutputs = numOutputs

		record, err = m.cfg.Quotes.MarkPending(ctx, record)
		if err != nil {
			return nil, err
		}
	} else {
		inputs, err = m.lookupInputs(acct, record.InputProofIDs)
		if err != nil {
			return nil, err
		}
	}

	res, err := client.Melt(
		ctx, record.MintQuoteID, wireProofs(inputs), record.KeysetID,
		record.CounterStart,
	)
	switch {
	case err == nil:
		switch res.State {
		case mint.QuoteStatePaid:
			return m.settleMelt(
				ctx, record, acct, unit, amtMinor,
				res.Preimage, res.Change, now,
			)

		case mint.QuoteStatePending:
			log.Infof("Melt quote %v payment in flight", record.ID)
			return record, nil

		case mint.QuoteStateExpired:
			return m.expireAndRelease(ctx, record, now)

		default:
			return m.failAndRelease(
				ctx, record, "payment failed", now,
			)
		}

	case !isMintError(err):
		// Transport failure: the quote stays PENDING with its
		// reservations held and a retry resumes it.
		return nil, fmt.Errorf("melt at mint: %w", err)
	}

	switch mint.KindOf(err) {
	case mint.KindInvoiceAlreadyPaid, mint.KindQuotePending:
		// The payment went out on an earlier attempt. Ask the mint
		// where it landed and settle from that.
		mq, serr := client.MeltQuoteState(ctx, record.MintQuoteID)
		if serr != nil {
			return nil, fmt.Errorf("melt quote state: %w", serr)
		}
		switch mq.State {
		case mint.QuoteStatePaid:
			change, rerr := m.restoreChange(ctx, client, record)
			if rerr != nil {
				return nil, rerr
			}
			return m.settleMelt(
				ctx, record, acct, unit, amtMinor,
				mq.Preimage, change, now,
			)

		case mint.QuoteStatePending:
			return record, nil

		case mint.QuoteStateExpired:
			return m.expireAndRelease(ctx, record, now)

		default:
			return m.failAndRelease(
				ctx, record, "payment failed", now,
			)
		}

	case mint.KindQuoteExpired:
		return m.expireAndRelease(ctx, record, now)

	default:
		return m.failAndRelease(ctx, record, err.Error(), now)
	}
}

// Watch subscribes to the mint's real-time updates for the given quote and
// drives it to its terminal state as they arrive: mint quotes are claimed
// when paid, melt quotes are settled or expired. The returned cancel stops
// watching; it is idempotent.
func (m *Manager) Watch(ctx context.Context,
	quoteID string) (func(), error) {

	if m.cfg.Subs == nil {
		return nil, errors.New("no subscription manager configured")
	}

	record, err := m.cfg.Quotes.Get(ctx, quoteID)
	if err != nil {
		return nil, err
	}
	acct, err := m.cfg.Accounts.Get(ctx, record.AccountID)
	if err != nil {
		return nil, err
	}

	quoteType := record.Type
	onUpdate := func(u mintsub.Update) {
		state := mint.QuoteState(u.State)
		log.Debugf("Quote %v update from %v: %v", quoteID, u.MintURL,
			state)

		var err error
		switch {
		case quoteType == ecash.QuoteMint &&
			(state == mint.QuoteStatePaid ||
				state == mint.QuoteStateIssued):

			_, err = m.ClaimMint(ctx, quoteID)

		case quoteType == ecash.QuoteMelt &&
			state == mint.QuoteStatePaid:

			var rec *ecash.Quote
			rec, err = m.PayMelt(ctx, quoteID)
			if rec != nil {
				// Only a completed quote carries the
				// preimage, so its presence is what tells a
				// settled melt apart from one the mint still
				// reports as pending. The preimage itself
				// stays out of the logs.
				rec.SettledPreimage().WhenSome(func(string) {
					log.Infof("Melt quote %v settled "+
						"from subscription update",
						quoteID)
				})
			}

		case state == mint.QuoteStateExpired:
			err = m.expireFromUpdate(ctx, quoteID)
		}
		if err != nil {
			log.Errorf("Driving quote %v from update failed: %v",
				quoteID, err)
		}
	}

	return m.cfg.Subs.Subscribe(
		ctx, acct.MintURL, []string{record.MintQuoteID}, onUpdate,
	)
}

// expireFromUpdate expires a quote in reaction to a mint notification,
// releasing a melt's reservations. Terminal quotes are left untouched.
func (m *Manager) expireFromUpdate(ctx context.Context, quoteID string) error {
	record, err := m.cfg.Quotes.Get(ctx, quoteID)
	if err != nil {
		return err
	}

	switch record.State {
	case ecash.QuoteUnpaid, ecash.QuotePending:

	default:
		return nil
	}

	now := m.cfg.Clock.Now()
	if len(record.InputProofIDs) > 0 {
		_, err = m.expireAndRelease(ctx, record, now)
	} else {
		_, err = m.cfg.Quotes.Expire(ctx, record, now)
	}
	return err
}

// settleMelt spends the melt's inputs, credits the fee change, and completes
// the quote with the preimage and the fee actually consumed. Crediting skips
// proofs already present, so a replay cannot double count.
func (m *Manager) settleMelt(ctx context.Context, record *ecash.Quote,
	acct *ecash.Account, unit money.Unit, amtMinor uint64, preimage string,
	change []mint.Proof, now time.Time) (*ecash.Quote, error) {

	if preimage == "" {
		return nil, fmt.Errorf("%w: quote %v", ErrMissingPreimage,
			record.ID)
	}

	// Spending and crediting tolerate replays: a crash or a lost version
	// race between this write and Complete means the next PayMelt lands
	// here again with the inputs already spent.
	owned := ownProofs(acct.ID, acct.UserID, change, now)
	if _, err := m.cfg.Accounts.Update(ctx, acct.ID,
		func(a *ecash.Account) error {
			err := a.SpendOutstanding(record.InputProofIDs, now)
			if err != nil {
				return err
			}
			return a.AddMissingProofs(owned)
		},
	); err != nil {
		return nil, err
	}

	inputs, err := m.lookupInputs(acct, record.InputProofIDs)
	if err != nil {
		return nil, err
	}
	feeMinor := ecash.SumProofs(inputs) - amtMinor - ecash.SumProofs(owned)
	actualFee, err := money.New(int64(feeMinor), unit)
	if err != nil {
		return nil, err
	}

	record, err = m.cfg.Quotes.Complete(ctx, record, preimage, actualFee,
		now)
	if err != nil {
		return nil, err
	}

	log.Infof("Melt quote %v completed: %d paid, fee %d, %d change",
		record.ID, amtMinor, feeMinor, ecash.SumProofs(owned))

	return record, nil
}

// restoreChange recovers the change proofs an earlier melt attempt may have
// been issued under the quote's counters.
func (m *Manager) restoreChange(ctx context.Context, client mint.Client,
	record *ecash.Quote) ([]mint.Proof, error) {

	if record.NumOutputs == 0 {
		return nil, nil
	}

	change, err := client.Restore(
		ctx, record.KeysetID, record.CounterStart, record.NumOutputs,
	)
	if err != nil {
		return nil, fmt.Errorf("restore change: %w", err)
	}
	return change, nil
}

// failAndRelease settles the melt as FAILED and returns its reserved inputs
// to the account.
func (m *Manager) failAndRelease(ctx context.Context, record *ecash.Quote,
	reason string, now time.Time) (*ecash.Quote, error) {

	if err := m.releaseInputs(ctx, record); err != nil {
		return nil, err
	}

	log.Warnf("Melt quote %v failed, reservations released: %v",
		record.ID, reason)

	return m.cfg.Quotes.Fail(ctx, record, reason, now)
}

// expireAndRelease settles the melt as EXPIRED and returns its reserved
// inputs to the account.
func (m *Manager) expireAndRelease(ctx context.Context, record *ecash.Quote,
	now time.Time) (*ecash.Quote, error) {

	if err := m.releaseInputs(ctx, record); err != nil {
		return nil, err
	}

	log.Infof("Melt quote %v expired, reservations released", record.ID)

	return m.cfg.Quotes.Expire(ctx, record, now)
}

func (m *Manager) releaseInputs(ctx context.Context,
	record *ecash.Quote) error {

	if len(record.InputProofIDs) == 0 {
		return nil
	}

	var oldest *time.Time
	_, err := m.cfg.Accounts.Update(ctx, record.AccountID,
		func(a *ecash.Account) error {
			oldest = nil
			for _, id := range record.InputProofIDs {
				a.Proof(id).WhenSome(func(p *ecash.Proof) {
					p.ReservedTime().WhenSome(
						func(at time.Time) {
							if oldest == nil ||
								at.Before(*oldest) {

								held := at
								oldest = &held
							}
						})
				})
			}
			return a.ReleaseProofs(record.InputProofIDs)
		},
	)
	if err != nil {
		return err
	}

	if oldest != nil {
		log.Debugf("Quote %v released %d inputs, oldest reserved "+
			"for %v", record.ID, len(record.InputProofIDs),
			m.cfg.Clock.Now().Sub(*oldest))
	}
	return nil
}

// lookupInputs resolves the quote's reserved input proofs from a fresh copy
// of the account.
func (m *Manager) lookupInputs(acct *ecash.Account,
	ids []string) ([]*ecash.Proof, error) {

	inputs := make([]*ecash.Proof, 0, len(ids))
	for _, id := range ids {
		p, err := acct.Proof(id).UnwrapOrErr(fmt.Errorf(
			"%w: %v in account %v", ecash.ErrUnknownProof, id,
			acct.ID,
		))
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, p)
	}
	return inputs, nil
}

// minorAmount converts a money amount into the account's proof unit.
func minorAmount(amount money.Money, c money.Currency) (uint64, error) {
	v, err := amount.ToUnit(ecash.ProofUnit(c))
	if err != nil {
		return 0, err
	}
	if !v.IsUint64() {
		return 0, fmt.Errorf("amount %v out of range", amount)
	}
	return v.Uint64(), nil
}

// ownProofs converts mint wire proofs into owned unspent proof records.
func ownProofs(accountID, userID string, proofs []mint.Proof,
	now time.Time) []*ecash.Proof {

	owned := make([]*ecash.Proof, len(proofs))
	for i, p := range proofs {
		owned[i] = &ecash.Proof{
			ID:        ecash.ProofID(p.Secret),
			AccountID: accountID,
			UserID:    userID,
			KeysetID:  p.KeysetID,
			Amount:    p.Amount,
			Secret:    p.Secret,
			Signature: p.Signature,
			State:     ecash.ProofUnspent,
			CreatedAt: now.UTC(),
		}
	}
	return owned
}

// wireProofs converts owned proof records into the mint's wire form.
func wireProofs(proofs []*ecash.Proof) []mint.Proof {
	wire := make([]mint.Proof, len(proofs))
	for i, p := range proofs {
		wire[i] = mint.Proof{
			KeysetID:  p.KeysetID,
			Amount:    p.Amount,
			Secret:    p.Secret,
			Signature: p.Signature,
		}
	}
	return wire
}

// keysetMap fetches the mint's keysets indexed by id.
func keysetMap(ctx context.Context,
	client mint.Client) (map[string]mint.Keyset, error) {

	keysets, err := client.Keysets(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch keysets: %w", err)
	}

	byID := make(map[string]mint.Keyset, len(keysets))
	for _, ks := range keysets {
		byID[ks.ID] = ks
	}
	return byID, nil
}

// activeKeyset picks the mint's active keyset for a unit.
func activeKeyset(keysets map[string]mint.Keyset,
	unit string) (mint.Keyset, error) {

	for _, ks := range keysets {
		if ks.Active && ks.Unit == unit {
			return ks, nil
		}
	}
	return mint.Keyset{}, fmt.Errorf("%w: %v", ErrNoActiveKeyset, unit)
}

// isMintError reports whether err carries a protocol error returned by the
// mint, as opposed to a transport failure.
func isMintError(err error) bool {
	var mintErr *mint.Error
	return errors.As(err, &mintErr)
}

// newID returns a random 128-bit hex identifier.
func newID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(fmt.Sprintf("no entropy: %v", err))
	}
	return hex.EncodeToString(b[:])
}
