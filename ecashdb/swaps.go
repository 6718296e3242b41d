package ecashdb

import (
	"context"
	"time"

	"github.com/ecashkit/walletcore/ecash"
)

// SwapStore is the encrypted repository for swap records. The transition
// methods each perform exactly one versioned write of the caller's loaded
// record: a lost version race surfaces as ErrVersionConflict for the caller
// to resolve, since whether a transition may be replayed depends on its
// semantics.
type SwapStore struct {
	store RemoteStore
	crypt Crypter
}

// NewSwapStore creates a SwapStore over the given remote store and envelope.
func NewSwapStore(store RemoteStore, crypt Crypter) *SwapStore {
	return &SwapStore{store: store, crypt: crypt}
}

// Get loads the swap with the given id, or ErrRowNotFound.
func (s *SwapStore) Get(ctx context.Context, id string) (*ecash.Swap, error) {
	row, err := s.store.Fetch(ctx, CollectionSwaps, id)
	if err != nil {
		return nil, err
	}
	return s.open(row)
}

// GetByFingerprint loads the swap recorded for a token fingerprint, letting
// a retried receive find its earlier attempt instead of double spending the
// token. Returns ErrRowNotFound when no attempt exists.
func (s *SwapStore) GetByFingerprint(ctx context.Context,
	fingerprint string) (*ecash.Swap, error) {

	row, err := s.store.Lookup(
		ctx, CollectionSwaps, ColumnFingerprint, fingerprint,
	)
	if err != nil {
		return nil, err
	}
	return s.open(row)
}

// Create persists a drafted swap.
func (s *SwapStore) Create(ctx context.Context,
	swap *ecash.Swap) (*ecash.Swap, error) {

	return s.commit(ctx, swap, 0)
}

// MarkPending transitions the swap to PENDING and persists it.
func (s *SwapStore) MarkPending(ctx context.Context, swap *ecash.Swap,
	quoteID string) (*ecash.Swap, error) {

	if err := swap.MarkPending(quoteID); err != nil {
		return nil, err
	}
	return s.commit(ctx, swap, swap.Version)
}

// Complete transitions the swap to COMPLETED with its outputs and final fee,
// and persists it. The balance invariant is enforced by the transition.
func (s *SwapStore) Complete(ctx context.Context, swap *ecash.Swap,
	outputs []*ecash.Proof, actualFee uint64,
	now time.Time) (*ecash.Swap, error) {

	if err := swap.Complete(outputs, actualFee, now); err != nil {
		return nil, err
	}
	return s.commit(ctx, swap, swap.Version)
}

// Fail transitions the swap to FAILED and persists it.
func (s *SwapStore) Fail(ctx context.Context, swap *ecash.Swap,
	reason string, now time.Time) (*ecash.Swap, error) {

	if err := swap.Fail(reason, now); err != nil {
		return nil, err
	}
	return s.commit(ctx, swap, swap.Version)
}

// Cancel transitions a drafted send swap to CANCELLED and persists it.
func (s *SwapStore) Cancel(ctx context.Context, swap *ecash.Swap,
	now time.Time) (*ecash.Swap, error) {

	if err := swap.Cancel(now); err != nil {
		return nil, err
	}
	return s.commit(ctx, swap, swap.Version)
}

func (s *SwapStore) open(row *Row) (*ecash.Swap, error) {
	swap := &ecash.Swap{}
	if err := openRecord(s.crypt, row, swap); err != nil {
		return nil, err
	}
	swap.Version = row.Version
	return swap, nil
}

func (s *SwapStore) commit(ctx context.Context, swap *ecash.Swap,
	prevVersion uint64) (*ecash.Swap, error) {

	ciphertext, err := sealRecord(s.crypt, swap)
	if err != nil {
		return nil, err
	}

	columns := map[string]string{
		ColumnUserID:    swap.UserID,
		ColumnAccountID: swap.AccountID,
		ColumnState:     swap.State.String(),
	}
	if swap.TokenFingerprint != "" {
		columns[ColumnFingerprint] = swap.TokenFingerprint
	}

	row, err := s.store.Commit(ctx, CollectionSwaps, &RowUpdate{
		ID:          swap.ID,
		Ciphertext:  ciphertext,
		Columns:     columns,
		PrevVersion: prevVersion,
	})
	if err != nil {
		return nil, err
	}

	return s.open(row)
}
