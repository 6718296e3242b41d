package ecashdb

import (
	"context"
	"fmt"
	"time"

	"github.com/ecashkit/walletcore/ecash"
)

// DefaultConflictRetries bounds how often a retry-safe account mutation is
// replayed after losing a version race.
const DefaultConflictRetries = 3

// AccountStore is the encrypted repository for accounts. Proofs live inside
// their account's record, so reserving or spending proofs is one versioned
// account write: two concurrent sends racing for the same proofs resolve at
// the store, one of them losing with ErrVersionConflict.
type AccountStore struct {
	store   RemoteStore
	crypt   Crypter
	retries int
}

// NewAccountStore creates an AccountStore over the given remote store and
// envelope.
func NewAccountStore(store RemoteStore, crypt Crypter) *AccountStore {
	return &AccountStore{
		store:   store,
		crypt:   crypt,
		retries: DefaultConflictRetries,
	}
}

// Get loads and opens the account with the given id, or nil with
// ErrRowNotFound.
func (s *AccountStore) Get(ctx context.Context,
	id string) (*ecash.Account, error) {

	row, err := s.store.Fetch(ctx, CollectionAccounts, id)
	if err != nil {
		return nil, err
	}

	acct := &ecash.Account{}
	if err := openRecord(s.crypt, row, acct); err != nil {
		return nil, err
	}
	acct.Version = row.Version

	return acct, nil
}

// Create persists a new account.
func (s *AccountStore) Create(ctx context.Context,
	acct *ecash.Account) (*ecash.Account, error) {

	return s.commit(ctx, acct, 0)
}

// Update applies a transition to the account under its current version and
// persists the result, retrying a bounded number of times if a concurrent
// writer got there first. The transition must be safe to re-apply against a
// freshly loaded account.
func (s *AccountStore) Update(ctx context.Context, id string,
	apply func(*ecash.Account) error) (*ecash.Account, error) {

	return mutate(ctx, s.retries,
		func(ctx context.Context) (*ecash.Account, error) {
			return s.Get(ctx, id)
		},
		apply,
		func(ctx context.Context,
			acct *ecash.Account) (*ecash.Account, error) {

			return s.commit(ctx, acct, acct.Version)
		},
	)
}

// UpdateOnce is Update without conflict retries, for transitions whose
// retry safety only the caller can judge. A lost version race surfaces as
// ErrVersionConflict.
func (s *AccountStore) UpdateOnce(ctx context.Context,
	acct *ecash.Account) (*ecash.Account, error) {

	return s.commit(ctx, acct, acct.Version)
}

// ReserveProofs atomically selects and reserves unspent proofs covering at
// least target, returning the updated account and the reserved proofs. The
// selection is recomputed on every retry, so losing a race against another
// send never hands out overlapping reservations.
func (s *AccountStore) ReserveProofs(ctx context.Context, id string,
	target uint64, now time.Time) (*ecash.Account, []*ecash.Proof, error) {

	var reservedIDs []string
	acct, err := s.Update(ctx, id, func(a *ecash.Account) error {
		selected, err := a.SelectProofs(target)
		if err != nil {
			return err
		}

		ids := make([]string, len(selected))
		for i, p := range selected {
			ids[i] = p.ID
		}
		if err := a.ReserveProofs(ids, now); err != nil {
			return err
		}

		reservedIDs = ids
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	reserved := make([]*ecash.Proof, 0, len(reservedIDs))
	for _, pid := range reservedIDs {
		p, err := acct.Proof(pid).UnwrapOrErr(
			fmt.Errorf("%w: reserved proof %v missing after "+
				"commit", ErrSchemaViolation, pid),
		)
		if err != nil {
			return nil, nil, err
		}
		reserved = append(reserved, p)
	}

	log.Debugf("Reserved %d proofs totalling %d on account %v",
		len(reserved), ecash.SumProofs(reserved), id)

	return acct, reserved, nil
}

// commit seals the account and writes it under the given prior version,
// returning the re-opened result of the store's authoritative row.
func (s *AccountStore) commit(ctx context.Context, acct *ecash.Account,
	prevVersion uint64) (*ecash.Account, error) {

	ciphertext, err := sealRecord(s.crypt, acct)
	if err != nil {
		return nil, err
	}

	row, err := s.store.Commit(ctx, CollectionAccounts, &RowUpdate{
		ID:         acct.ID,
		Ciphertext: ciphertext,
		Columns: map[string]string{
			ColumnUserID:   acct.UserID,
			ColumnCurrency: acct.Currency.String(),
			ColumnType:     acct.Type.String(),
		},
		PrevVersion: prevVersion,
	})
	if err != nil {
		return nil, err
	}

	updated := &ecash.Account{}
	if err := openRecord(s.crypt, row, updated); err != nil {
		return nil, err
	}
	updated.Version = row.Version

	return updated, nil
}
