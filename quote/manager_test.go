package quote

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/stretchr/testify/require"

	"github.com/ecashkit/walletcore/ecash"
	"github.com/ecashkit/walletcore/ecashdb"
	"github.com/ecashkit/walletcore/ecies"
	"github.com/ecashkit/walletcore/mint"
	"github.com/ecashkit/walletcore/mintsub"
	"github.com/ecashkit/walletcore/money"
)

const testMintURL = "https://mint.example.com"

var testTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// fakeMint is a scriptable mint.Client covering the quote operations.
type fakeMint struct {
	keysets []mint.Keyset

	createMintQuote func(amount uint64, unit string) (*mint.MintQuote,
		error)
	mintQuoteState func(quoteID string) (*mint.MintQuote, error)
	mintProofs     func(quoteID string, amount uint64) ([]mint.Proof,
		error)
	createMeltQuote func(paymentRequest string) (*mint.MeltQuote, error)
	meltQuoteState  func(quoteID string) (*mint.MeltQuote, error)
	melt            func(quoteID string,
		inputs []mint.Proof) (*mint.MeltResult, error)
	restore func(keysetID string, start, n uint32) ([]mint.Proof, error)

	mintProofsCalls int
	meltCalls       int
}

var _ mint.Client = (*fakeMint)(nil)

func (f *fakeMint) Keysets(ctx context.Context) ([]mint.Keyset, error) {
	return f.keysets, nil
}

func (f *fakeMint) CreateMintQuote(ctx context.Context, amount uint64,
	unit string) (*mint.MintQuote, error) {

	return f.createMintQuote(amount, unit)
}

func (f *fakeMint) MintQuoteState(ctx context.Context,
	quoteID string) (*mint.MintQuote, error) {

	return f.mintQuoteState(quoteID)
}

func (f *fakeMint) MintProofs(ctx context.Context, quoteID string,
	amount uint64, keysetID string, counterStart uint32) ([]mint.Proof,
	error) {

	f.mintProofsCalls++
	return f.mintProofs(quoteID, amount)
}

func (f *fakeMint) CreateMeltQuote(ctx context.Context,
	paymentRequest string) (*mint.MeltQuote, error) {

	return f.createMeltQuote(paymentRequest)
}

func (f *fakeMint) MeltQuoteState(ctx context.Context,
	quoteID string) (*mint.MeltQuote, error) {

	return f.meltQuoteState(quoteID)
}

func (f *fakeMint) Melt(ctx context.Context, quoteID string,
	inputs []mint.Proof, keysetID string,
	counterStart uint32) (*mint.MeltResult, error) {

	f.meltCalls++
	return f.melt(quoteID, inputs)
}

func (f *fakeMint) Swap(ctx context.Context,
	req *mint.SwapRequest) (*mint.SwapResult, error) {

	return nil, errors.New("unused")
}

func (f *fakeMint) CheckProofs(ctx context.Context,
	proofs []mint.Proof) ([]mint.ProofSpendState, error) {

	return nil, errors.New("unused")
}

func (f *fakeMint) Restore(ctx context.Context, keysetID string, start,
	n uint32) ([]mint.Proof, error) {

	if f.restore == nil {
		return nil, nil
	}
	return f.restore(keysetID, start, n)
}

// mintProofsOf fabricates mint-signed proofs of the given amounts with
// unique secrets.
func mintProofsOf(t *testing.T, amounts ...uint64) []mint.Proof {
	t.Helper()

	out := make([]mint.Proof, len(amounts))
	for i, amt := range amounts {
		out[i] = mint.Proof{
			KeysetID:  "ks1",
			Amount:    amt,
			Secret:    fmt.Sprintf("%s-%d-%d", t.Name(), i, amt),
			Signature: fmt.Sprintf("sig-%d", i),
		}
	}
	return out
}

// fakeSub is an in-memory mintsub.Subscription fed by its test.
type fakeSub struct {
	updates chan mintsub.Update
	done    chan struct{}

	closeOnce sync.Once
}

func (s *fakeSub) Updates() <-chan mintsub.Update { return s.updates }

func (s *fakeSub) Done() <-chan struct{} { return s.done }

func (s *fakeSub) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

// fakeTransport hands out fakeSubs and remembers the most recent one so the
// test can push updates through it.
type fakeTransport struct {
	mu  sync.Mutex
	sub *fakeSub
}

func (tr *fakeTransport) Subscribe(ctx context.Context, mintURL string,
	quoteIDs []string) (mintsub.Subscription, error) {

	tr.mu.Lock()
	defer tr.mu.Unlock()

	tr.sub = &fakeSub{
		updates: make(chan mintsub.Update),
		done:    make(chan struct{}),
	}
	return tr.sub, nil
}

func (tr *fakeTransport) latest() *fakeSub {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.sub
}

// harness wires a quote Manager over in-memory encrypted stores, a fake
// mint, and a subscription manager backed by a fake transport.
type harness struct {
	t         *testing.T
	manager   *Manager
	mem       *ecashdb.MemStore
	accounts  *ecashdb.AccountStore
	quotes    *ecashdb.QuoteStore
	mint      *fakeMint
	clock     *clock.TestClock
	transport *fakeTransport
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	env, err := ecies.NewEnvelope(
		priv.PubKey().SerializeCompressed(), priv.Serialize(),
	)
	require.NoError(t, err)

	mem := ecashdb.NewMemStore()
	accounts := ecashdb.NewAccountStore(mem, env)
	quotes := ecashdb.NewQuoteStore(mem, env)

	fake := &fakeMint{
		keysets: []mint.Keyset{{
			ID:     "ks1",
			Unit:   "sat",
			Active: true,
		}},
	}

	transport := &fakeTransport{}
	subs := mintsub.NewManager(transport)
	t.Cleanup(subs.Stop)

	testClock := clock.NewTestClock(testTime)
	manager, err := New(&Config{
		Accounts: accounts,
		Quotes:   quotes,
		DialMint: func(mintURL string) (mint.Client, error) {
			require.Equal(t, testMintURL, mintURL)
			return fake, nil
		},
		Subs:  subs,
		Clock: testClock,
	})
	require.NoError(t, err)

	return &harness{
		t:         t,
		manager:   manager,
		mem:       mem,
		accounts:  accounts,
		quotes:    quotes,
		mint:      fake,
		clock:     testClock,
		transport: transport,
	}
}

// bumpRow rewrites a row under its current version, advancing it exactly the
// way a concurrent writer would.
func (h *harness) bumpRow(coll ecashdb.Collection, id string) {
	h.t.Helper()

	row, err := h.mem.Fetch(context.Background(), coll, id)
	require.NoError(h.t, err)

	_, err = h.mem.Commit(context.Background(), coll, &ecashdb.RowUpdate{
		ID:          id,
		Ciphertext:  row.Ciphertext,
		Columns:     row.Columns,
		PrevVersion: row.Version,
	})
	require.NoError(h.t, err)
}

func (h *harness) createAccount(amounts ...uint64) {
	h.t.Helper()

	acct := &ecash.Account{
		ID:        "acct-1",
		UserID:    "user-1",
		Name:      "spending",
		Type:      ecash.AccountCashu,
		Currency:  money.CurrencyBTC,
		MintURL:   testMintURL,
		CreatedAt: testTime,
	}
	for i, amt := range amounts {
		acct.Proofs = append(acct.Proofs, &ecash.Proof{
			ID:        fmt.Sprintf("own-%d", i),
			AccountID: acct.ID,
			UserID:    acct.UserID,
			KeysetID:  "ks1",
			Amount:    amt,
			Secret:    fmt.Sprintf("own-secret-%d", i),
			Signature: fmt.Sprintf("own-sig-%d", i),
			State:     ecash.ProofUnspent,
			CreatedAt: testTime,
		})
	}

	_, err := h.accounts.Create(context.Background(), acct)
	require.NoError(h.t, err)
}

func (h *harness) balance() uint64 {
	h.t.Helper()

	acct, err := h.accounts.Get(context.Background(), "acct-1")
	require.NoError(h.t, err)

	balance, err := acct.Balance()
	require.NoError(h.t, err)
	sats, err := balance.ToUnit(money.UnitSatoshi)
	require.NoError(h.t, err)

	return sats.Uint64()
}

func sats(t *testing.T, n int64) money.Money {
	t.Helper()

	m, err := money.New(n, money.UnitSatoshi)
	require.NoError(t, err)
	return m
}

// TestRequestMintAndClaim drives a mint quote from creation through payment
// to the claimed proofs landing in the account.
func TestRequestMintAndClaim(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t)
	h.createAccount()

	expiry := testTime.Add(time.Hour)
	state := mint.QuoteStateUnpaid

	h.mint.createMintQuote = func(amount uint64,
		unit string) (*mint.MintQuote, error) {

		require.EqualValues(t, 1000, amount)
		require.Equal(t, "sat", unit)
		return &mint.MintQuote{
			ID:             "mq-1",
			PaymentRequest: "lnbc1000...",
			PaymentHash:    "hash-1",
			Amount:         amount,
			Unit:           unit,
			State:          state,
			Expiry:         expiry,
		}, nil
	}
	h.mint.mintQuoteState = func(quoteID string) (*mint.MintQuote, error) {
		require.Equal(t, "mq-1", quoteID)
		return &mint.MintQuote{ID: "mq-1", State: state}, nil
	}
	h.mint.mintProofs = func(quoteID string,
		amount uint64) ([]mint.Proof, error) {

		return mintProofsOf(t, ecash.Split(amount)...), nil
	}

	record, err := h.manager.RequestMint(ctx, "acct-1", sats(t, 1000))
	require.NoError(t, err)
	require.Equal(t, ecash.QuoteUnpaid, record.State)
	require.Equal(t, ecash.QuoteMint, record.Type)
	require.Equal(t, "lnbc1000...", record.PaymentRequest)
	require.NotNil(t, record.ExpiresAt)

	// Claiming before the invoice settles is refused.
	_, err = h.manager.ClaimMint(ctx, record.ID)
	require.ErrorIs(t, err, ErrQuoteNotPaid)

	// The payer settles the invoice.
	state = mint.QuoteStatePaid

	claimed, err := h.manager.ClaimMint(ctx, record.ID)
	require.NoError(t, err)
	require.Equal(t, ecash.QuoteCompleted, claimed.State)
	require.Empty(t, claimed.Preimage)
	require.NotNil(t, claimed.ActualFee)
	require.True(t, claimed.ActualFee.IsZero())

	require.EqualValues(t, 1000, h.balance())

	// The blinding counters advanced past the outputs.
	acct, err := h.accounts.Get(ctx, "acct-1")
	require.NoError(t, err)
	require.EqualValues(t, len(ecash.Split(1000)),
		acct.KeysetCounters["ks1"])

	// A repeat claim is a no-op.
	again, err := h.manager.ClaimMint(ctx, claimed.ID)
	require.NoError(t, err)
	require.Equal(t, ecash.QuoteCompleted, again.State)
	require.Equal(t, 1, h.mint.mintProofsCalls)
	require.EqualValues(t, 1000, h.balance())
}

// TestClaimMintRecoversAfterCrash asserts a claim interrupted after the mint
// issued the proofs recovers them through restore, crediting exactly once.
func TestClaimMintRecoversAfterCrash(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t)
	h.createAccount()

	h.mint.createMintQuote = func(amount uint64,
		unit string) (*mint.MintQuote, error) {

		return &mint.MintQuote{
			ID:             "mq-1",
			PaymentRequest: "lnbc64...",
			Amount:         amount,
			State:          mint.QuoteStateUnpaid,
		}, nil
	}
	h.mint.mintQuoteState = func(quoteID string) (*mint.MintQuote, error) {
		return &mint.MintQuote{
			ID: "mq-1", State: mint.QuoteStatePaid,
		}, nil
	}

	record, err := h.manager.RequestMint(ctx, "acct-1", sats(t, 64))
	require.NoError(t, err)

	// First attempt: the response is lost in transit.
	h.mint.mintProofs = func(quoteID string,
		amount uint64) ([]mint.Proof, error) {

		return nil, errors.New("connection reset")
	}
	_, err = h.manager.ClaimMint(ctx, record.ID)
	require.Error(t, err)

	pending, err := h.quotes.Get(ctx, record.ID)
	require.NoError(t, err)
	require.Equal(t, ecash.QuotePending, pending.State)
	require.Equal(t, "ks1", pending.KeysetID)
	require.EqualValues(t, 1, pending.NumOutputs)

	// Retry: the mint says the proofs are already out; restore recovers
	// the signatures for our counters.
	outputs := mintProofsOf(t, 64)
	h.mint.mintProofs = func(quoteID string,
		amount uint64) ([]mint.Proof, error) {

		return nil, &mint.Error{
			Code:    20002,
			Message: "tokens already issued for quote",
		}
	}
	h.mint.restore = func(keysetID string, start,
		n uint32) ([]mint.Proof, error) {

		require.Equal(t, "ks1", keysetID)
		require.EqualValues(t, 0, start)
		require.EqualValues(t, 1, n)
		return outputs, nil
	}

	claimed, err := h.manager.ClaimMint(ctx, record.ID)
	require.NoError(t, err)
	require.Equal(t, ecash.QuoteCompleted, claimed.State)
	require.EqualValues(t, 64, h.balance())
}

// TestClaimMintExpired asserts an expired quote routes to EXPIRED.
func TestClaimMintExpired(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t)
	h.createAccount()

	h.mint.createMintQuote = func(amount uint64,
		unit string) (*mint.MintQuote, error) {

		return &mint.MintQuote{
			ID:             "mq-1",
			PaymentRequest: "lnbc...",
			Amount:         amount,
			State:          mint.QuoteStateUnpaid,
		}, nil
	}
	h.mint.mintQuoteState = func(quoteID string) (*mint.MintQuote, error) {
		return &mint.MintQuote{
			ID: "mq-1", State: mint.QuoteStateExpired,
		}, nil
	}

	record, err := h.manager.RequestMint(ctx, "acct-1", sats(t, 100))
	require.NoError(t, err)

	expired, err := h.manager.ClaimMint(ctx, record.ID)
	require.NoError(t, err)
	require.Equal(t, ecash.QuoteExpired, expired.State)
	require.Zero(t, h.balance())
}

// meltSetup scripts a melt quote of 20 sats with a 2 sat fee reserve.
func meltSetup(h *harness) {
	h.mint.createMeltQuote = func(pr string) (*mint.MeltQuote, error) {
		return &mint.MeltQuote{
			ID:         "mq-melt",
			Amount:     20,
			Unit:       "sat",
			FeeReserve: 2,
			State:      mint.QuoteStateUnpaid,
		}, nil
	}
}

// TestRequestMeltAndPay drives a melt quote through payment: inputs are
// reserved, the invoice is paid, and the unused fee reserve comes back as
// change.
func TestRequestMeltAndPay(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t)
	h.createAccount(1, 2, 4, 8, 16, 32)
	meltSetup(h)

	h.mint.melt = func(quoteID string,
		inputs []mint.Proof) (*mint.MeltResult, error) {

		require.Equal(t, "mq-melt", quoteID)

		// Largest-first selection covers 22 with the single 32.
		var sum uint64
		for _, p := range inputs {
			sum += p.Amount
		}
		require.EqualValues(t, 32, sum)

		// 1 sat of lightning fee; 11 sats come back as change.
		return &mint.MeltResult{
			State:    mint.QuoteStatePaid,
			Preimage: "preimage-1",
			FeePaid:  1,
			Change:   mintProofsOf(t, 8, 2, 1),
		}, nil
	}

	record, err := h.manager.RequestMelt(ctx, "acct-1", "lnbc20...")
	require.NoError(t, err)
	require.Equal(t, ecash.QuoteMelt, record.Type)
	require.Equal(t, ecash.QuoteUnpaid, record.State)

	paid, err := h.manager.PayMelt(ctx, record.ID)
	require.NoError(t, err)
	require.Equal(t, ecash.QuoteCompleted, paid.State)
	require.Equal(t, "preimage-1", paid.Preimage)

	// 32 in, 20 paid, 11 change: 1 sat of fee actually consumed.
	require.NotNil(t, paid.ActualFee)
	fee, err := paid.ActualFee.ToUnit(money.UnitSatoshi)
	require.NoError(t, err)
	require.EqualValues(t, 1, fee.Int64())

	require.EqualValues(t, 42, h.balance())

	// Nothing stays reserved after settlement.
	acct, err := h.accounts.Get(ctx, "acct-1")
	require.NoError(t, err)
	for _, p := range acct.Proofs {
		require.NotEqual(t, ecash.ProofReserved, p.State, "proof %v",
			p.ID)
	}

	// Replaying the settled quote is a no-op.
	again, err := h.manager.PayMelt(ctx, record.ID)
	require.NoError(t, err)
	require.Equal(t, ecash.QuoteCompleted, again.State)
	require.Equal(t, 1, h.mint.meltCalls)
}

// TestPayMeltAlreadyPaid asserts a retried melt whose payment went through on
// the first attempt settles from the mint's quote state instead of failing.
func TestPayMeltAlreadyPaid(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t)
	h.createAccount(1, 2, 4, 8, 16, 32)
	meltSetup(h)

	h.mint.melt = func(quoteID string,
		inputs []mint.Proof) (*mint.MeltResult, error) {

		return nil, &mint.Error{
			Code:    20006,
			Message: "invoice already paid",
		}
	}
	h.mint.meltQuoteState = func(quoteID string) (*mint.MeltQuote, error) {
		return &mint.MeltQuote{
			ID:       "mq-melt",
			Amount:   20,
			State:    mint.QuoteStatePaid,
			Preimage: "preimage-2",
		}, nil
	}
	h.mint.restore = func(keysetID string, start,
		n uint32) ([]mint.Proof, error) {

		return mintProofsOf(t, 8, 2), nil
	}

	record, err := h.manager.RequestMelt(ctx, "acct-1", "lnbc20...")
	require.NoError(t, err)

	paid, err := h.manager.PayMelt(ctx, record.ID)
	require.NoError(t, err)
	require.Equal(t, ecash.QuoteCompleted, paid.State)
	require.Equal(t, "preimage-2", paid.Preimage)

	// 32 in, 20 paid, 10 restored as change: fee 2.
	require.EqualValues(t, 41, h.balance())
}

// TestPayMeltFailureReleases asserts a rejected payment fails the quote and
// returns every reserved input to the spendable balance.
func TestPayMeltFailureReleases(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t)
	h.createAccount(1, 2, 4, 8, 16, 32)
	meltSetup(h)

	h.mint.melt = func(quoteID string,
		inputs []mint.Proof) (*mint.MeltResult, error) {

		return nil, &mint.Error{Code: 0, Message: "route not found"}
	}

	record, err := h.manager.RequestMelt(ctx, "acct-1", "lnbc20...")
	require.NoError(t, err)

	failed, err := h.manager.PayMelt(ctx, record.ID)
	require.NoError(t, err)
	require.Equal(t, ecash.QuoteFailed, failed.State)
	require.Equal(t, "route not found", failed.FailureReason[:15])

	require.EqualValues(t, 63, h.balance())
}

// TestPayMeltTransportFailureKeepsReservations asserts a lost response leaves
// the quote PENDING with its inputs held, and that the retry resumes with the
// same inputs.
func TestPayMeltTransportFailureKeepsReservations(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t)
	h.createAccount(1, 2, 4, 8, 16, 32)
	meltSetup(h)

	h.mint.melt = func(quoteID string,
		inputs []mint.Proof) (*mint.MeltResult, error) {

		return nil, errors.New("connection reset")
	}

	record, err := h.manager.RequestMelt(ctx, "acct-1", "lnbc20...")
	require.NoError(t, err)

	_, err = h.manager.PayMelt(ctx, record.ID)
	require.Error(t, err)

	pending, err := h.quotes.Get(ctx, record.ID)
	require.NoError(t, err)
	require.Equal(t, ecash.QuotePending, pending.State)
	require.NotEmpty(t, pending.InputProofIDs)

	// The inputs stay off the spendable balance until the retry resolves.
	require.EqualValues(t, 31, h.balance())

	// Retry succeeds with the same reserved inputs.
	h.mint.melt = func(quoteID string,
		inputs []mint.Proof) (*mint.MeltResult, error) {

		var sum uint64
		for _, p := range inputs {
			sum += p.Amount
		}
		require.EqualValues(t, 32, sum)

		return &mint.MeltResult{
			State:    mint.QuoteStatePaid,
			Preimage: "preimage-3",
			FeePaid:  2,
			Change:   mintProofsOf(t, 8, 2),
		}, nil
	}

	paid, err := h.manager.PayMelt(ctx, record.ID)
	require.NoError(t, err)
	require.Equal(t, ecash.QuoteCompleted, paid.State)
	require.EqualValues(t, 41, h.balance())
}

// TestPayMeltLostCompletionConverges asserts a melt whose account write
// committed but whose quote completion lost a version race still reaches
// COMPLETED on retry, spending the inputs exactly once.
func TestPayMeltLostCompletionConverges(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t)
	h.createAccount(1, 2, 4, 8, 16, 32)
	meltSetup(h)

	record, err := h.manager.RequestMelt(ctx, "acct-1", "lnbc20...")
	require.NoError(t, err)

	change := mintProofsOf(t, 8, 2, 1)
	h.mint.melt = func(quoteID string,
		inputs []mint.Proof) (*mint.MeltResult, error) {

		// A concurrent writer bumps the quote row while the payment is
		// in flight, so the completion write after this call loses its
		// version check.
		if h.mint.meltCalls == 1 {
			h.bumpRow(ecashdb.CollectionQuotes, record.ID)
		}

		return &mint.MeltResult{
			State:    mint.QuoteStatePaid,
			Preimage: "preimage-4",
			FeePaid:  1,
			Change:   change,
		}, nil
	}

	_, err = h.manager.PayMelt(ctx, record.ID)
	require.ErrorIs(t, err, ecashdb.ErrVersionConflict)

	// The account write landed before the conflict: 32 spent, 11 credited.
	require.EqualValues(t, 42, h.balance())

	// The retry replays the settlement over the already spent inputs and
	// drives the quote to COMPLETED.
	paid, err := h.manager.PayMelt(ctx, record.ID)
	require.NoError(t, err)
	require.Equal(t, ecash.QuoteCompleted, paid.State)
	require.Equal(t, "preimage-4", paid.Preimage)
	require.EqualValues(t, 42, h.balance())

	require.NotNil(t, paid.ActualFee)
	fee, err := paid.ActualFee.ToUnit(money.UnitSatoshi)
	require.NoError(t, err)
	require.EqualValues(t, 1, fee.Int64())
}

// TestPayMeltExpiredLocally asserts an unpaid quote past its expiry expires
// without touching the mint or reserving anything.
func TestPayMeltExpiredLocally(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t)
	h.createAccount(32)

	h.mint.createMeltQuote = func(pr string) (*mint.MeltQuote, error) {
		return &mint.MeltQuote{
			ID:         "mq-melt",
			Amount:     20,
			Unit:       "sat",
			FeeReserve: 2,
			State:      mint.QuoteStateUnpaid,
			Expiry:     testTime.Add(time.Minute),
		}, nil
	}

	record, err := h.manager.RequestMelt(ctx, "acct-1", "lnbc20...")
	require.NoError(t, err)
	require.NotNil(t, record.ExpiresAt)

	h.clock.SetTime(testTime.Add(2 * time.Minute))

	expired, err := h.manager.PayMelt(ctx, record.ID)
	require.NoError(t, err)
	require.Equal(t, ecash.QuoteExpired, expired.State)
	require.Empty(t, expired.InputProofIDs)
	require.EqualValues(t, 32, h.balance())
	require.Zero(t, h.mint.meltCalls)
}

// TestRequestMeltInsufficientBalance asserts nothing is reserved or marked
// pending when the account cannot cover amount plus fee reserve.
func TestRequestMeltInsufficientBalance(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t)
	h.createAccount(4, 8)
	meltSetup(h)

	record, err := h.manager.RequestMelt(ctx, "acct-1", "lnbc20...")
	require.NoError(t, err)

	_, err = h.manager.PayMelt(ctx, record.ID)
	require.ErrorIs(t, err, ecash.ErrInsufficientBalance)

	unchanged, err := h.quotes.Get(ctx, record.ID)
	require.NoError(t, err)
	require.Equal(t, ecash.QuoteUnpaid, unchanged.State)
	require.EqualValues(t, 12, h.balance())
	require.Zero(t, h.mint.meltCalls)
}

// TestWatchSettlesMeltFromUpdate asserts a watched melt quote is driven to
// settlement when the mint pushes a paid notification, without the caller
// ever polling.
func TestWatchSettlesMeltFromUpdate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t)
	h.createAccount(1, 2, 4, 8, 16, 32)
	meltSetup(h)

	h.mint.melt = func(quoteID string,
		inputs []mint.Proof) (*mint.MeltResult, error) {

		return &mint.MeltResult{
			State:    mint.QuoteStatePaid,
			Preimage: "preimage-5",
			FeePaid:  1,
			Change:   mintProofsOf(t, 8, 2, 1),
		}, nil
	}

	record, err := h.manager.RequestMelt(ctx, "acct-1", "lnbc20...")
	require.NoError(t, err)

	cancel, err := h.manager.Watch(ctx, record.ID)
	require.NoError(t, err)
	defer cancel()

	sub := h.transport.latest()
	require.NotNil(t, sub)

	sub.updates <- mintsub.Update{
		QuoteID: "mq-melt",
		State:   string(mint.QuoteStatePaid),
	}

	require.Eventually(t, func() bool {
		rec, err := h.quotes.Get(ctx, record.ID)
		if err != nil {
			return false
		}
		return rec.State == ecash.QuoteCompleted
	}, time.Second, 10*time.Millisecond)

	settled, err := h.quotes.Get(ctx, record.ID)
	require.NoError(t, err)
	require.Equal(t, "preimage-5", settled.Preimage)
	require.EqualValues(t, 42, h.balance())
	require.Equal(t, 1, h.mint.meltCalls)
}
