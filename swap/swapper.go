// Package swap drives the token receive and token send state machines: the
// multi-step, partially trusted exchanges of proofs against a mint. Every
// step persists through the encrypted repository before the next one runs,
// so a crash at any point leaves a record a retry can pick up without losing
// or double counting value.
package swap

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/ecashkit/walletcore/ecash"
	"github.com/ecashkit/walletcore/ecashdb"
	"github.com/ecashkit/walletcore/mint"
	"github.com/lightningnetwork/lnd/clock"
)

var (
	// ErrNotCashuAccount is returned when a swap targets an account that
	// does not hold proofs.
	ErrNotCashuAccount = errors.New("account is not a cashu account")

	// ErrMintMismatch is returned when a token's mint does not match the
	// receiving account's mint.
	ErrMintMismatch = errors.New("token mint does not match account mint")

	// ErrFeeExceedsAmount is returned when the mint's fee would consume
	// the entire token.
	ErrFeeExceedsAmount = errors.New("fee exceeds token amount")

	// ErrNoActiveKeyset is returned when the mint has no active keyset
	// for the required unit.
	ErrNoActiveKeyset = errors.New("no active keyset for unit")

	// ErrSwapNotDraft is returned when cancelling a swap that already
	// went out to the mint.
	ErrSwapNotDraft = errors.New("swap is no longer a draft")

	// ErrSwapNotPending is returned when resuming a swap that is not
	// waiting on the mint.
	ErrSwapNotPending = errors.New("swap is not pending")

	// ErrNotSendSwap is returned when resuming a receive swap by id;
	// receive swaps resume through Receive, keyed by token fingerprint.
	ErrNotSendSwap = errors.New("swap is not a send swap")
)

// MintDialer returns a client for the given mint URL.
type MintDialer func(mintURL string) (mint.Client, error)

// Config bundles a Swapper's dependencies.
type Config struct {
	// Accounts is the encrypted account repository.
	Accounts *ecashdb.AccountStore

	// Swaps is the encrypted swap repository.
	Swaps *ecashdb.SwapStore

	// DialMint opens mint clients.
	DialMint MintDialer

	// Clock is the time source, swappable in tests.
	Clock clock.Clock
}

// Swapper orchestrates receive and send swaps.
type Swapper struct {
	cfg Config
}

// New creates a Swapper from the given config.
func New(cfg *Config) (*Swapper, error) {
	switch {
	case cfg.Accounts == nil:
		return nil, errors.New("swapper requires an account store")
	case cfg.Swaps == nil:
		return nil, errors.New("swapper requires a swap store")
	case cfg.DialMint == nil:
		return nil, errors.New("swapper requires a mint dialer")
	}

	c := *cfg
	if c.Clock == nil {
		c.Clock = clock.NewDefaultClock()
	}

	return &Swapper{cfg: c}, nil
}

// Receive claims a foreign token into the given account. The operation is
// idempotent over the token's fingerprint: a retry after a crash finds the
// earlier swap record and resumes it rather than presenting the foreign
// proofs to the mint as a new claim.
func (s *Swapper) Receive(ctx context.Context, accountID string,
	token *ecash.Token) (*ecash.Swap, error) {

	if err := token.Validate(); err != nil {
		return nil, err
	}

	fingerprint := token.Fingerprint()
	existing, err := s.cfg.Swaps.GetByFingerprint(ctx, fingerprint)
	switch {
	case err == nil:
		switch existing.State {
		case ecash.SwapCompleted, ecash.SwapFailed:
			log.Debugf("Receive of token %v already %v",
				fingerprint, existing.State)
			return existing, nil

		default:
			log.Infof("Resuming %v receive swap %v",
				existing.State, existing.ID)
			return s.resumeReceive(ctx, existing, token)
		}

	case !errors.Is(err, ecashdb.ErrRowNotFound):
		return nil, err
	}

	acct, err := s.cfg.Accounts.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if acct.Type != ecash.AccountCashu {
		return nil, fmt.Errorf("%w: %v", ErrNotCashuAccount, accountID)
	}
	if acct.MintURL != token.Mint {
		return nil, fmt.Errorf("%w: token from %v, account at %v",
			ErrMintMismatch, token.Mint, acct.MintURL)
	}

	client, err := s.cfg.DialMint(acct.MintURL)
	if err != nil {
		return nil, err
	}

	keysets, err := keysetMap(ctx, client)
	if err != nil {
		return nil, err
	}
	keyset, err := activeKeyset(keysets, token.Unit)
	if err != nil {
		return nil, err
	}

	inputs := wireProofs(token.Proofs)
	fee := mint.InputFee(keysets, inputs)

	amount := token.Amount()
	if fee >= amount {
		return nil, fmt.Errorf("%w: fee %d, amount %d",
			ErrFeeExceedsAmount, fee, amount)
	}
	outAmount := amount - fee
	numOutputs := uint32(len(ecash.Split(outAmount)))

	// Reserve the blinding counters for the outputs up front, in the
	// same versioned write that advances the stored counter. Counters
	// consumed by a swap that later fails stay consumed.
	var counterStart uint32
	acct, err = s.cfg.Accounts.Update(ctx, accountID,
		func(a *ecash.Account) error {
			counterStart = a.ReserveCounters(keyset.ID, numOutputs)
			return nil
		},
	)
	if err != nil {
		return nil, err
	}

	now := s.cfg.Clock.Now()
	record := &ecash.Swap{
		ID:               newID(),
		UserID:           acct.UserID,
		AccountID:        acct.ID,
		Direction:        ecash.SwapReceive,
		State:            ecash.SwapDraft,
		InputAmount:      amount,
		FeeReserve:       fee,
		TokenFingerprint: fingerprint,
		KeysetID:         keyset.ID,
		CounterStart:     counterStart,
		NumOutputs:       numOutputs,
		CreatedAt:        now.UTC(),
	}
	record, err = s.cfg.Swaps.Create(ctx, record)
	if err != nil {
		return nil, err
	}

	log.Tracef("Drafted receive swap: %v", logClosure(func() string {
		return spew.Sdump(record)
	}))

	return s.driveReceive(ctx, record, client, inputs)
}

// resumeReceive picks a crashed receive swap back up. The swap's outputs
// were derived from counters recorded on the swap, so re-presenting the
// request to the mint yields the same outputs; if the mint already signed
// them, the signatures are recovered with a restore call.
func (s *Swapper) resumeReceive(ctx context.Context, record *ecash.Swap,
	token *ecash.Token) (*ecash.Swap, error) {

	acct, err := s.cfg.Accounts.Get(ctx, record.AccountID)
	if err != nil {
		return nil, err
	}
	client, err := s.cfg.DialMint(acct.MintURL)
	if err != nil {
		return nil, err
	}

	return s.driveReceive(ctx, record, client, wireProofs(token.Proofs))
}

// driveReceive runs a drafted or pending receive swap to a terminal state.
func (s *Swapper) driveReceive(ctx context.Context, record *ecash.Swap,
	client mint.Client, inputs []mint.Proof) (*ecash.Swap, error) {

	var err error
	if record.State == ecash.SwapDraft {
		record, err = s.cfg.Swaps.MarkPending(ctx, record, "")
		if err != nil {
			return nil, err
		}
	}

	outAmount := record.InputAmount - record.FeeReserve

	res, err := client.Swap(ctx, &mint.SwapRequest{
		Inputs:       inputs,
		Target:       outAmount,
		KeysetID:     record.KeysetID,
		CounterStart: record.CounterStart,
	})

	var outputs []mint.Proof
	switch {
	case err == nil:
		outputs = append(res.Send, res.Change...)

	case !isMintError(err):
		// Transport failure: the swap stays PENDING and a retry
		// resumes it. Timeout policy is the caller's.
		return nil, fmt.Errorf("swap at mint: %w", err)

	default:
		switch mint.KindOf(err) {
		case mint.KindOutputsAlreadySigned:
			// A previous attempt reached the mint. Recover the
			// signatures for our deterministic outputs.
			outputs, err = client.Restore(
				ctx, record.KeysetID, record.CounterStart,
				record.NumOutputs,
			)
			if err != nil {
				return nil, fmt.Errorf("restore outputs: %w",
					err)
			}

		case mint.KindTokenAlreadySpent:
			// Either the foreign token was spent elsewhere, or
			// our own earlier attempt consumed it. A restore
			// settles which.
			outputs, err = client.Restore(
				ctx, record.KeysetID, record.CounterStart,
				record.NumOutputs,
			)
			if err != nil || len(outputs) == 0 {
				return s.failSwap(
					ctx, record, "token already spent",
				)
			}

		default:
			return s.failSwap(ctx, record, err.Error())
		}
	}

	return s.completeReceive(ctx, record, outputs)
}

// completeReceive credits the claimed proofs and settles the swap record.
// Crediting skips proofs already present, so replaying after a crash
// between credit and completion cannot double count.
func (s *Swapper) completeReceive(ctx context.Context, record *ecash.Swap,
	outputs []mint.Proof) (*ecash.Swap, error) {

	now := s.cfg.Clock.Now()
	owned := s.ownProofs(record.AccountID, record.UserID, outputs, now)

	if _, err := s.cfg.Accounts.Update(ctx, record.AccountID,
		func(a *ecash.Account) error {
			return creditMissing(a, owned)
		},
	); err != nil {
		return nil, err
	}

	actualFee := record.InputAmount - ecash.SumProofs(owned)
	record, err := s.cfg.Swaps.Complete(ctx, record, owned, actualFee, now)
	if err != nil {
		return nil, err
	}

	log.Infof("Receive swap %v completed: %d in, %d credited, fee %d",
		record.ID, record.InputAmount, ecash.SumProofs(owned),
		actualFee)

	return record, nil
}

// Send reserves proofs worth at least amount plus fee, swaps them at the
// mint into an exact send set plus change, and returns the token to hand to
// the recipient. A mint rejection releases the reservations; a transport
// failure leaves the swap PENDING with its reservations held, and Resume
// settles it once the mint is reachable again. Proofs are never left
// reserved by a terminal swap.
func (s *Swapper) Send(ctx context.Context, accountID string,
	amount uint64) (*ecash.Swap, *ecash.Token, error) {

	acct, err := s.cfg.Accounts.Get(ctx, accountID)
	if err != nil {
		return nil, nil, err
	}
	if acct.Type != ecash.AccountCashu {
		return nil, nil, fmt.Errorf("%w: %v", ErrNotCashuAccount,
			accountID)
	}

	client, err := s.cfg.DialMint(acct.MintURL)
	if err != nil {
		return nil, nil, err
	}
	keysets, err := keysetMap(ctx, client)
	if err != nil {
		return nil, nil, err
	}
	unit := ecash.MintUnit(acct.Currency)
	keyset, err := activeKeyset(keysets, unit)
	if err != nil {
		return nil, nil, err
	}

	// Reserve inputs and blinding counters in one versioned account
	// write. Two concurrent sends race on the account version, so they
	// can never hold overlapping reservations.
	now := s.cfg.Clock.Now()
	var (
		inputs       []*ecash.Proof
		fee          uint64
		counterStart uint32
		numOutputs   uint32
	)
	acct, err = s.cfg.Accounts.Update(ctx, accountID,
		func(a *ecash.Account) error {
			var err error
			inputs, fee, err = a.ReserveForSend(
				amount, keyset.InputFeePPK, now,
			)
			if err != nil {
				return err
			}

			change := ecash.SumProofs(inputs) - amount - fee
			numOutputs = uint32(len(ecash.Split(amount)) +
				len(ecash.Split(change)))
			counterStart = a.ReserveCounters(keyset.ID, numOutputs)

			return nil
		},
	)
	if err != nil {
		return nil, nil, err
	}

	inputIDs := make([]string, len(inputs))
	for i, p := range inputs {
		inputIDs[i] = p.ID
	}

	record := &ecash.Swap{
		ID:            newID(),
		UserID:        acct.UserID,
		AccountID:     acct.ID,
		Direction:     ecash.SwapSend,
		State:         ecash.SwapDraft,
		InputAmount:   ecash.SumProofs(inputs),
		SendAmount:    amount,
		FeeReserve:    fee,
		InputProofIDs: inputIDs,
		KeysetID:      keyset.ID,
		CounterStart:  counterStart,
		NumOutputs:    numOutputs,
		CreatedAt:     now.UTC(),
	}
	record, err = s.cfg.Swaps.Create(ctx, record)
	if err != nil {
		return nil, nil, err
	}

	record, err = s.cfg.Swaps.MarkPending(ctx, record, "")
	if err != nil {
		return nil, nil, err
	}

	return s.driveSend(ctx, record, acct, client, wireProofs(inputs))
}

// Resume picks a pending send swap back up after a crash or a lost mint
// response, driving it to a terminal state from the inputs and blinding
// counters recorded on it. Receive swaps resume through Receive, which finds
// them by token fingerprint.
func (s *Swapper) Resume(ctx context.Context,
	swapID string) (*ecash.Swap, *ecash.Token, error) {

	record, err := s.cfg.Swaps.Get(ctx, swapID)
	if err != nil {
		return nil, nil, err
	}
	if record.Direction != ecash.SwapSend {
		return nil, nil, fmt.Errorf("%w: swap %v", ErrNotSendSwap,
			swapID)
	}
	if record.State != ecash.SwapPending {
		return nil, nil, fmt.Errorf("%w: swap %v is %v",
			ErrSwapNotPending, swapID, record.State)
	}

	acct, err := s.cfg.Accounts.Get(ctx, record.AccountID)
	if err != nil {
		return nil, nil, err
	}
	client, err := s.cfg.DialMint(acct.MintURL)
	if err != nil {
		return nil, nil, err
	}
	inputs, err := lookupProofs(acct, record.InputProofIDs)
	if err != nil {
		return nil, nil, err
	}

	log.Infof("Resuming pending send swap %v", record.ID)

	return s.driveSend(ctx, record, acct, client, wireProofs(inputs))
}

// driveSend runs a pending send swap to a terminal state. Re-presenting the
// request yields the same deterministic outputs, so if an earlier attempt
// already executed at the mint the signatures are recovered with a restore
// call and the swap settles from those.
func (s *Swapper) driveSend(ctx context.Context, record *ecash.Swap,
	acct *ecash.Account, client mint.Client,
	inputs []mint.Proof) (*ecash.Swap, *ecash.Token, error) {

	res, err := client.Swap(ctx, &mint.SwapRequest{
		Inputs:       inputs,
		Target:       record.SendAmount,
		KeysetID:     record.KeysetID,
		CounterStart: record.CounterStart,
	})

	var send, change []mint.Proof
	switch {
	case err == nil:
		send, change = res.Send, res.Change

	case !isMintError(err):
		// Transport failure: the mint may or may not have executed the
		// swap, so the reservations must stand until Resume finds out.
		// Timeout policy is the caller's.
		return record, nil, fmt.Errorf("swap at mint: %w", err)

	default:
		switch mint.KindOf(err) {
		case mint.KindOutputsAlreadySigned, mint.KindTokenAlreadySpent:
			// An earlier attempt executed at the mint. Recover the
			// signatures for our deterministic outputs.
			outputs, rerr := client.Restore(
				ctx, record.KeysetID, record.CounterStart,
				record.NumOutputs,
			)
			if rerr != nil {
				return nil, nil, fmt.Errorf("restore outputs: "+
					"%w", rerr)
			}
			if len(outputs) == 0 {
				// Nothing signed under our counters: the
				// inputs were consumed outside this swap and
				// the value is gone. Releasing them would
				// count it twice.
				record, ferr := s.failAndSpend(
					ctx, record, err.Error(),
				)
				if ferr != nil {
					return nil, nil, ferr
				}
				return record, nil, fmt.Errorf("swap at "+
					"mint: %w", err)
			}

			send, change, rerr = splitOutputs(
				outputs, record.SendAmount,
			)
			if rerr != nil {
				return nil, nil, rerr
			}

		default:
			record, ferr := s.failAndRelease(ctx, record,
				err.Error())
			if ferr != nil {
				return nil, nil, ferr
			}
			return record, nil, fmt.Errorf("swap at mint: %w", err)
		}
	}

	return s.completeSend(ctx, record, acct, send, change)
}

// completeSend spends the swap's inputs and credits the change in a single
// account write, settles the record with the balance equation checked, and
// builds the token for the recipient. Both account steps tolerate replays,
// so settling again after a crash cannot double count.
func (s *Swapper) completeSend(ctx context.Context, record *ecash.Swap,
	acct *ecash.Account, send,
	change []mint.Proof) (*ecash.Swap, *ecash.Token, error) {

	now := s.cfg.Clock.Now()
	sendOwned := s.ownProofs(acct.ID, acct.UserID, send, now)
	changeOwned := s.ownProofs(acct.ID, acct.UserID, change, now)

	if _, err := s.cfg.Accounts.Update(ctx, record.AccountID,
		func(a *ecash.Account) error {
			err := a.SpendOutstanding(record.InputProofIDs, now)
			if err != nil {
				return err
			}
			return creditMissing(a, changeOwned)
		},
	); err != nil {
		return nil, nil, err
	}

	outputs := append(sendOwned, changeOwned...)
	actualFee := record.InputAmount - ecash.SumProofs(outputs)
	record, err := s.cfg.Swaps.Complete(ctx, record, outputs, actualFee, now)
	if err != nil {
		return nil, nil, err
	}

	token := &ecash.Token{
		Mint:   acct.MintURL,
		Unit:   ecash.MintUnit(acct.Currency),
		Proofs: sendOwned,
	}

	log.Infof("Send swap %v completed: %d reserved, %d sent, %d change, "+
		"fee %d", record.ID, record.InputAmount, record.SendAmount,
		ecash.SumProofs(changeOwned), actualFee)

	return record, token, nil
}

// VerifyToken asks the token's mint whether the token is still claimable,
// that is, none of its proofs have been spent or locked by another wallet.
func (s *Swapper) VerifyToken(ctx context.Context,
	token *ecash.Token) (bool, error) {

	if err := token.Validate(); err != nil {
		return false, err
	}

	client, err := s.cfg.DialMint(token.Mint)
	if err != nil {
		return false, err
	}

	states, err := client.CheckProofs(ctx, wireProofs(token.Proofs))
	if err != nil {
		return false, fmt.Errorf("check proofs: %w", err)
	}

	for i, state := range states {
		if state != mint.ProofStateUnspent {
			log.Debugf("Token %v proof %d is %v",
				token.Fingerprint(), i, state)
			return false, nil
		}
	}

	return true, nil
}

// Cancel abandons a drafted send swap, releasing its reservations.
func (s *Swapper) Cancel(ctx context.Context,
	swapID string) (*ecash.Swap, error) {

	record, err := s.cfg.Swaps.Get(ctx, swapID)
	if err != nil {
		return nil, err
	}
	if record.State != ecash.SwapDraft {
		return nil, fmt.Errorf("%w: swap %v is %v", ErrSwapNotDraft,
			swapID, record.State)
	}

	now := s.cfg.Clock.Now()
	if _, err := s.cfg.Accounts.Update(ctx, record.AccountID,
		func(a *ecash.Account) error {
			return a.ReleaseProofs(record.InputProofIDs)
		},
	); err != nil {
		return nil, err
	}

	return s.cfg.Swaps.Cancel(ctx, record, now)
}

// failSwap settles a receive swap as FAILED. Receive swaps hold no local
// reservations, so there is nothing to release.
func (s *Swapper) failSwap(ctx context.Context, record *ecash.Swap,
	reason string) (*ecash.Swap, error) {

	log.Warnf("Receive swap %v failed: %v", record.ID, reason)
	return s.cfg.Swaps.Fail(ctx, record, reason, s.cfg.Clock.Now())
}

// failAndRelease settles a send swap as FAILED and returns its reserved
// inputs to the account.
func (s *Swapper) failAndRelease(ctx context.Context, record *ecash.Swap,
	reason string) (*ecash.Swap, error) {

	now := s.cfg.Clock.Now()
	if _, err := s.cfg.Accounts.Update(ctx, record.AccountID,
		func(a *ecash.Account) error {
			return a.ReleaseProofs(record.InputProofIDs)
		},
	); err != nil {
		return nil, err
	}

	log.Warnf("Send swap %v failed, reservations released: %v",
		record.ID, reason)

	return s.cfg.Swaps.Fail(ctx, record, reason, now)
}

// failAndSpend settles a send swap as FAILED and marks its inputs spent, for
// when the mint reports them consumed outside this swap.
func (s *Swapper) failAndSpend(ctx context.Context, record *ecash.Swap,
	reason string) (*ecash.Swap, error) {

	now := s.cfg.Clock.Now()
	if _, err := s.cfg.Accounts.Update(ctx, record.AccountID,
		func(a *ecash.Account) error {
			return a.SpendOutstanding(record.InputProofIDs, now)
		},
	); err != nil {
		return nil, err
	}

	log.Warnf("Send swap %v failed, inputs spent elsewhere: %v",
		record.ID, reason)

	return s.cfg.Swaps.Fail(ctx, record, reason, now)
}

// ownProofs converts mint wire proofs into owned unspent proof records.
func (s *Swapper) ownProofs(accountID, userID string, proofs []mint.Proof,
	now time.Time) []*ecash.Proof {

	owned := make([]*ecash.Proof, len(proofs))
	for i, p := range proofs {
		owned[i] = &ecash.Proof{
			ID:        proofID(p.Secret),
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

// creditMissing adds the proofs the account does not hold yet, making the
// credit step safe to replay.
func creditMissing(a *ecash.Account, proofs []*ecash.Proof) error {
	return a.AddMissingProofs(proofs)
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

// proofID derives a stable proof id from its secret, so replaying a credit
// after a crash addresses the same records.
func proofID(secret string) string {
	return ecash.ProofID(secret)
}

// splitOutputs partitions restored outputs into the send set and the change.
// Outputs are signed in derivation order with the send denominations first,
// so the send set is the prefix summing to exactly the send amount.
func splitOutputs(outputs []mint.Proof, sendAmount uint64) (send,
	change []mint.Proof, err error) {

	var sum uint64
	for i, p := range outputs {
		sum += p.Amount
		if sum == sendAmount {
			return outputs[:i+1], outputs[i+1:], nil
		}
		if sum > sendAmount {
			break
		}
	}

	return nil, nil, fmt.Errorf("restored outputs do not cover send "+
		"amount %d", sendAmount)
}

// lookupProofs resolves proof records on the account by id.
func lookupProofs(acct *ecash.Account, ids []string) ([]*ecash.Proof, error) {
	proofs := make([]*ecash.Proof, 0, len(ids))
	for _, id := range ids {
		p, err := acct.Proof(id).UnwrapOrErr(fmt.Errorf(
			"%w: %v in account %v", ecash.ErrUnknownProof, id,
			acct.ID,
		))
		if err != nil {
			return nil, err
		}
		proofs = append(proofs, p)
	}
	return proofs, nil
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

// isMintError reports whether err carries a protocol error returned by the
// mint, as opposed to a transport failure.
func isMintError(err error) bool {
	var mintErr *mint.Error
	return errors.As(err, &mintErr)
}

// logClosure defers the evaluation of an expensive log argument until the
// logger actually renders it.
type logClosure func() string

func (c logClosure) String() string {
	return c()
}

// newID returns a random 128-bit hex identifier.
func newID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(fmt.Sprintf("no entropy: %v", err))
	}
	return hex.EncodeToString(b[:])
}
