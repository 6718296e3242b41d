package ecash

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var testTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// testProof returns a valid unspent proof worth the given amount.
func testProof(id string, amount uint64) *Proof {
	return &Proof{
		ID:        id,
		AccountID: "acct-1",
		UserID:    "user-1",
		KeysetID:  "keyset-1",
		Amount:    amount,
		Secret:    "secret-" + id,
		Signature: "sig-" + id,
		State:     ProofUnspent,
		CreatedAt: testTime,
	}
}

// TestProofLifecycle walks a proof through reserve, release and spend,
// checking the timestamps each transition records.
func TestProofLifecycle(t *testing.T) {
	t.Parallel()

	p := testProof("p1", 8)

	require.NoError(t, p.Reserve(testTime))
	require.Equal(t, ProofReserved, p.State)
	require.True(t, p.ReservedTime().IsSome())

	// Reserving again is refused.
	require.ErrorIs(t, p.Reserve(testTime), ErrInvalidTransition)

	require.NoError(t, p.Release())
	require.Equal(t, ProofUnspent, p.State)
	require.True(t, p.ReservedTime().IsNone())

	// Releasing an unreserved proof is refused.
	require.ErrorIs(t, p.Release(), ErrProofNotReserved)

	// Spend directly from unspent.
	require.NoError(t, p.Spend(testTime))
	require.Equal(t, ProofSpent, p.State)
	require.NotNil(t, p.SpentAt)

	// Spent is terminal.
	require.ErrorIs(t, p.Reserve(testTime), ErrProofSpent)
	require.ErrorIs(t, p.Spend(testTime), ErrProofSpent)
	require.ErrorIs(t, p.Release(), ErrProofNotReserved)
}

// TestProofSpendFromReserved asserts the reserved to spent transition.
func TestProofSpendFromReserved(t *testing.T) {
	t.Parallel()

	p := testProof("p1", 8)
	require.NoError(t, p.Reserve(testTime))
	require.NoError(t, p.Spend(testTime))
	require.Equal(t, ProofSpent, p.State)
}

// TestProofValidate asserts structural and state/timestamp consistency
// checks.
func TestProofValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, testProof("p1", 8).Validate())

	missingID := testProof("p1", 8)
	missingID.ID = ""
	require.ErrorIs(t, missingID.Validate(), ErrRecordInvalid)

	zeroAmount := testProof("p1", 0)
	require.ErrorIs(t, zeroAmount.Validate(), ErrRecordInvalid)

	noSecret := testProof("p1", 8)
	noSecret.Secret = ""
	require.ErrorIs(t, noSecret.Validate(), ErrRecordInvalid)

	// A reserved proof must carry its reservation time.
	badReserved := testProof("p1", 8)
	badReserved.State = ProofReserved
	require.ErrorIs(t, badReserved.Validate(), ErrRecordInvalid)

	// An unspent proof must not carry transition timestamps.
	staleTimestamp := testProof("p1", 8)
	staleTimestamp.SpentAt = &testTime
	require.ErrorIs(t, staleTimestamp.Validate(), ErrRecordInvalid)
}

// TestProofID asserts proof ids derive deterministically from secrets.
func TestProofID(t *testing.T) {
	t.Parallel()

	id := ProofID("some-secret")
	require.Equal(t, id, ProofID("some-secret"))
	require.NotEqual(t, id, ProofID("other-secret"))
	require.Len(t, id, 32)
}

// TestSumProofs asserts summation over an arbitrary proof set.
func TestSumProofs(t *testing.T) {
	t.Parallel()

	var proofs []*Proof
	for i, amt := range []uint64{1, 2, 4, 64} {
		proofs = append(proofs, testProof(fmt.Sprintf("p%d", i), amt))
	}

	require.EqualValues(t, 71, SumProofs(proofs))
	require.Zero(t, SumProofs(nil))
}
