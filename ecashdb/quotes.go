package ecashdb

import (
	"context"
	"time"

	"github.com/ecashkit/walletcore/ecash"
	"github.com/ecashkit/walletcore/money"
)

// QuoteStore is the encrypted repository for Lightning quote records. As
// with swaps, every transition is a single versioned write; conflicts
// surface to the caller.
type QuoteStore struct {
	store RemoteStore
	crypt Crypter
}

// NewQuoteStore creates a QuoteStore over the given remote store and
// envelope.
func NewQuoteStore(store RemoteStore, crypt Crypter) *QuoteStore {
	return &QuoteStore{store: store, crypt: crypt}
}

// Get loads the quote with the given id, or ErrRowNotFound.
func (s *QuoteStore) Get(ctx context.Context,
	id string) (*ecash.Quote, error) {

	row, err := s.store.Fetch(ctx, CollectionQuotes, id)
	if err != nil {
		return nil, err
	}
	return s.open(row)
}

// GetByMintQuoteID loads the quote the mint knows under the given id, which
// is how subscription updates find their record.
func (s *QuoteStore) GetByMintQuoteID(ctx context.Context,
	mintQuoteID string) (*ecash.Quote, error) {

	row, err := s.store.Lookup(
		ctx, CollectionQuotes, ColumnMintQuoteID, mintQuoteID,
	)
	if err != nil {
		return nil, err
	}
	return s.open(row)
}

// Create persists a new quote.
func (s *QuoteStore) Create(ctx context.Context,
	quote *ecash.Quote) (*ecash.Quote, error) {

	return s.commit(ctx, quote, 0)
}

// MarkPending transitions the quote to PENDING and persists it.
func (s *QuoteStore) MarkPending(ctx context.Context,
	quote *ecash.Quote) (*ecash.Quote, error) {

	if err := quote.MarkPending(); err != nil {
		return nil, err
	}
	return s.commit(ctx, quote, quote.Version)
}

// Complete settles the quote with the final fee and, for melts, the payment
// preimage, and persists it.
func (s *QuoteStore) Complete(ctx context.Context, quote *ecash.Quote,
	preimage string, actualFee money.Money,
	now time.Time) (*ecash.Quote, error) {

	if err := quote.Complete(preimage, actualFee, now); err != nil {
		return nil, err
	}
	return s.commit(ctx, quote, quote.Version)
}

// Expire transitions the quote to EXPIRED and persists it.
func (s *QuoteStore) Expire(ctx context.Context, quote *ecash.Quote,
	now time.Time) (*ecash.Quote, error) {

	if err := quote.Expire(now); err != nil {
		return nil, err
	}
	return s.commit(ctx, quote, quote.Version)
}

// Fail transitions the quote to FAILED and persists it.
func (s *QuoteStore) Fail(ctx context.Context, quote *ecash.Quote,
	reason string, now time.Time) (*ecash.Quote, error) {

	if err := quote.Fail(reason, now); err != nil {
		return nil, err
	}
	return s.commit(ctx, quote, quote.Version)
}

func (s *QuoteStore) open(row *Row) (*ecash.Quote, error) {
	quote := &ecash.Quote{}
	if err := openRecord(s.crypt, row, quote); err != nil {
		return nil, err
	}
	quote.Version = row.Version
	return quote, nil
}

func (s *QuoteStore) commit(ctx context.Context, quote *ecash.Quote,
	prevVersion uint64) (*ecash.Quote, error) {

	ciphertext, err := sealRecord(s.crypt, quote)
	if err != nil {
		return nil, err
	}

	row, err := s.store.Commit(ctx, CollectionQuotes, &RowUpdate{
		ID:         quote.ID,
		Ciphertext: ciphertext,
		Columns: map[string]string{
			ColumnUserID:      quote.UserID,
			ColumnAccountID:   quote.AccountID,
			ColumnState:       quote.State.String(),
			ColumnType:        quote.Type.String(),
			ColumnMintQuoteID: quote.MintQuoteID,
		},
		PrevVersion: prevVersion,
	})
	if err != nil {
		return nil, err
	}

	return s.open(row)
}
