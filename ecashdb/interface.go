// Package ecashdb is the encrypted repository layer: every account, swap and
// quote record is validated, sealed with the envelope scheme, and written to
// a remote transactional store as an opaque ciphertext row guarded by an
// optimistic version check. Reads are the inverse: fetch, open, validate.
// Secret material never leaves the device in plaintext; the store only sees
// ciphertext plus the handful of plaintext columns needed for querying.
package ecashdb

import (
	"context"
	"time"
)

// Collection names a table in the remote store.
type Collection string

const (
	// CollectionAccounts holds account rows.
	CollectionAccounts Collection = "accounts"

	// CollectionSwaps holds swap rows.
	CollectionSwaps Collection = "swaps"

	// CollectionQuotes holds quote rows.
	CollectionQuotes Collection = "quotes"
)

// Plaintext column names. Columns carry business-significant values needed
// for server-side querying and never secret material.
const (
	ColumnUserID      = "user_id"
	ColumnAccountID   = "account_id"
	ColumnState       = "state"
	ColumnCurrency    = "currency"
	ColumnType        = "type"
	ColumnFingerprint = "fingerprint"
	ColumnMintQuoteID = "mint_quote_id"
)

// Row is a record as the remote store returns it: ciphertext, query columns
// and the authoritative version.
type Row struct {
	ID         string
	Ciphertext []byte
	Columns    map[string]string
	Version    uint64
	UpdatedAt  time.Time
}

// RowUpdate is one atomic write. PrevVersion is the version the writer last
// read; zero means the row must not exist yet. The store applies the update
// and increments the version in a single transaction, or rejects it with
// ErrVersionConflict.
type RowUpdate struct {
	ID          string
	Ciphertext  []byte
	Columns     map[string]string
	PrevVersion uint64
}

// RemoteStore is the transactional store the repository writes through. It
// is reached over typed remote calls in production; MemStore implements it
// in memory for tests. Implementations must honor context cancellation by
// leaving no partial state: a commit either fully applies or not at all.
type RemoteStore interface {
	// Fetch returns the row with the given id, or ErrRowNotFound.
	Fetch(ctx context.Context, coll Collection, id string) (*Row, error)

	// Lookup returns the row whose plaintext column equals value, or
	// ErrRowNotFound.
	Lookup(ctx context.Context, coll Collection, column,
		value string) (*Row, error)

	// Commit atomically applies the update if the row's version still
	// matches PrevVersion, returning the full updated row. A stale
	// version returns ErrVersionConflict, never a silent overwrite.
	Commit(ctx context.Context, coll Collection,
		update *RowUpdate) (*Row, error)
}

// Crypter seals and opens record plaintext. Satisfied by *ecies.Envelope.
type Crypter interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
	EncryptBatch(plaintexts [][]byte) ([][]byte, error)
	DecryptBatch(ciphertexts [][]byte) ([][]byte, error)
}
