package ecash

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ecashkit/walletcore/money"
)

// testAccount returns a cashu account holding unspent proofs of the given
// amounts.
func testAccount(t *testing.T, amounts ...uint64) *Account {
	t.Helper()

	acct := &Account{
		ID:        "acct-1",
		UserID:    "user-1",
		Name:      "spending",
		Type:      AccountCashu,
		Currency:  money.CurrencyBTC,
		MintURL:   "https://mint.example.com",
		CreatedAt: testTime,
	}
	for i, amt := range amounts {
		p := testProof(string(rune('a'+i)), amt)
		acct.Proofs = append(acct.Proofs, p)
	}

	require.NoError(t, acct.Validate())
	return acct
}

// TestAccountBalance asserts the balance is the sum of unspent proofs only.
func TestAccountBalance(t *testing.T) {
	t.Parallel()

	acct := testAccount(t, 1, 2, 4, 8)

	balance, err := acct.Balance()
	require.NoError(t, err)
	sats, err := balance.ToUnit(money.UnitSatoshi)
	require.NoError(t, err)
	require.EqualValues(t, 15, sats.Int64())

	// Reserved and spent proofs drop out of the balance.
	require.NoError(t, acct.Proofs[0].Reserve(testTime))
	require.NoError(t, acct.Proofs[3].Spend(testTime))

	balance, err = acct.Balance()
	require.NoError(t, err)
	sats, err = balance.ToUnit(money.UnitSatoshi)
	require.NoError(t, err)
	require.EqualValues(t, 6, sats.Int64())
}

// TestSelectProofs asserts largest-first selection and the insufficient
// balance error.
func TestSelectProofs(t *testing.T) {
	t.Parallel()

	acct := testAccount(t, 1, 2, 4, 8)

	selected, err := acct.SelectProofs(10)
	require.NoError(t, err)
	require.Len(t, selected, 2)
	require.EqualValues(t, 8, selected[0].Amount)
	require.EqualValues(t, 4, selected[1].Amount)

	_, err = acct.SelectProofs(16)
	require.ErrorIs(t, err, ErrInsufficientBalance)

	// Reserved proofs are not selectable.
	require.NoError(t, acct.Proofs[3].Reserve(testTime))
	_, err = acct.SelectProofs(8)
	require.ErrorIs(t, err, ErrInsufficientBalance)
}

// TestReserveProofsAllOrNothing asserts a failed reservation mutates nothing.
func TestReserveProofsAllOrNothing(t *testing.T) {
	t.Parallel()

	acct := testAccount(t, 1, 2, 4)
	ids := []string{acct.Proofs[0].ID, acct.Proofs[1].ID}

	require.NoError(t, acct.ReserveProofs(ids, testTime))
	for _, id := range ids {
		p, err := acct.Proof(id).UnwrapOrErr(ErrUnknownProof)
		require.NoError(t, err)
		require.Equal(t, ProofReserved, p.State)
	}

	// A batch naming an unknown proof reserves nothing.
	err := acct.ReserveProofs([]string{acct.Proofs[2].ID, "nope"}, testTime)
	require.ErrorIs(t, err, ErrUnknownProof)
	require.Equal(t, ProofUnspent, acct.Proofs[2].State)

	require.NoError(t, acct.ReleaseProofs(ids))
	for _, id := range ids {
		p, err := acct.Proof(id).UnwrapOrErr(ErrUnknownProof)
		require.NoError(t, err)
		require.Equal(t, ProofUnspent, p.State)
	}
}

// TestSpendProofs asserts spending reserved inputs and the terminal check.
func TestSpendProofs(t *testing.T) {
	t.Parallel()

	acct := testAccount(t, 2, 4)
	ids := []string{acct.Proofs[0].ID, acct.Proofs[1].ID}

	require.NoError(t, acct.ReserveProofs(ids, testTime))
	require.NoError(t, acct.SpendProofs(ids, testTime))

	balance, err := acct.Balance()
	require.NoError(t, err)
	require.True(t, balance.IsZero())

	require.ErrorIs(t, acct.SpendProofs(ids, testTime), ErrProofSpent)
}

// TestAddProofs asserts duplicate ids and secrets are refused.
func TestAddProofs(t *testing.T) {
	t.Parallel()

	acct := testAccount(t, 2)

	fresh := testProof("z", 16)
	require.NoError(t, acct.AddProofs([]*Proof{fresh}))

	dupID := testProof("z", 32)
	dupID.Secret = "secret-other"
	require.ErrorIs(t, acct.AddProofs([]*Proof{dupID}), ErrDuplicateProof)

	dupSecret := testProof("y", 32)
	dupSecret.Secret = fresh.Secret
	require.ErrorIs(t,
		acct.AddProofs([]*Proof{dupSecret}), ErrDuplicateProof)

	wrongAccount := testProof("x", 32)
	wrongAccount.AccountID = "acct-2"
	require.ErrorIs(t,
		acct.AddProofs([]*Proof{wrongAccount}), ErrRecordInvalid)
}

// TestAddMissingProofs asserts crediting is idempotent over secrets.
func TestAddMissingProofs(t *testing.T) {
	t.Parallel()

	acct := testAccount(t)
	batch := []*Proof{testProof("a", 2), testProof("b", 4)}

	require.NoError(t, acct.AddMissingProofs(batch))
	require.Len(t, acct.Proofs, 2)

	// Replaying the same credit adds nothing.
	require.NoError(t, acct.AddMissingProofs(batch))
	require.Len(t, acct.Proofs, 2)

	// A partially overlapping batch adds only the new proofs.
	mixed := []*Proof{testProof("b", 4), testProof("c", 8)}
	require.NoError(t, acct.AddMissingProofs(mixed))
	require.Len(t, acct.Proofs, 3)
}

// TestReserveCounters asserts counters are monotonic and never reused.
func TestReserveCounters(t *testing.T) {
	t.Parallel()

	acct := testAccount(t)

	require.EqualValues(t, 0, acct.ReserveCounters("ks1", 3))
	require.EqualValues(t, 3, acct.ReserveCounters("ks1", 2))
	require.EqualValues(t, 5, acct.ReserveCounters("ks1", 1))

	// Counters are tracked per keyset.
	require.EqualValues(t, 0, acct.ReserveCounters("ks2", 4))
	require.EqualValues(t, 6, acct.ReserveCounters("ks1", 1))
}

// TestReserveForSend asserts the fee-aware selection loop converges and
// reserves exactly the selected proofs.
func TestReserveForSend(t *testing.T) {
	t.Parallel()

	acct := testAccount(t, 1, 2, 4, 8, 16)

	// 100 ppk: every selected input adds a tenth of a unit to the fee,
	// rounded up across the selection.
	selected, fee, err := acct.ReserveForSend(21, 100, testTime)
	require.NoError(t, err)

	require.GreaterOrEqual(t, SumProofs(selected), 21+fee)
	require.EqualValues(t, 1, fee)
	for _, p := range selected {
		require.Equal(t, ProofReserved, p.State)
	}

	// The rest of the account is untouched.
	for _, p := range acct.Proofs {
		if p.ReservedAt == nil {
			require.Equal(t, ProofUnspent, p.State)
		}
	}

	_, _, err = acct.ReserveForSend(1000, 0, testTime)
	require.ErrorIs(t, err, ErrInsufficientBalance)
}

// TestSplit asserts the power-of-two decomposition.
func TestSplit(t *testing.T) {
	t.Parallel()

	require.Empty(t, Split(0))
	require.Equal(t, []uint64{1}, Split(1))
	require.Equal(t, []uint64{8, 2, 1}, Split(11))
	require.Equal(t, []uint64{64, 32, 4}, Split(100))

	var sum uint64
	for _, part := range Split(12345) {
		sum += part
	}
	require.EqualValues(t, 12345, sum)
}

// TestAccountValidateVariants asserts the type variant split is enforced.
func TestAccountValidateVariants(t *testing.T) {
	t.Parallel()

	cashu := testAccount(t, 2)
	cashu.MintURL = ""
	require.ErrorIs(t, cashu.Validate(), ErrRecordInvalid)

	spark := &Account{
		ID:           "acct-2",
		UserID:       "user-1",
		Type:         AccountSpark,
		Currency:     money.CurrencyBTC,
		SparkNetwork: "mainnet",
		CreatedAt:    testTime,
	}
	require.NoError(t, spark.Validate())

	// A spark account must not carry cashu state.
	spark.Proofs = []*Proof{testProof("a", 2)}
	require.ErrorIs(t, spark.Validate(), ErrRecordInvalid)
}
