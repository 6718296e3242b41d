package ecashdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// record is what every persisted entity type provides: structural
// validation, run on both sides of the encryption boundary.
type record interface {
	Validate() error
}

// openRecord decrypts a row's ciphertext into rec and validates it. A
// decryption failure is fatal (wrong key or tampering); a validation failure
// is surfaced as ErrSchemaViolation.
func openRecord(crypt Crypter, row *Row, rec record) error {
	plaintext, err := crypt.Decrypt(row.Ciphertext)
	if err != nil {
		return fmt.Errorf("open row %v: %w", row.ID, err)
	}

	if err := json.Unmarshal(plaintext, rec); err != nil {
		return fmt.Errorf("%w: row %v: %v", ErrSchemaViolation,
			row.ID, err)
	}
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("%w: row %v: %v", ErrSchemaViolation,
			row.ID, err)
	}

	return nil
}

// sealRecord validates rec and encrypts its serialization. A record that
// fails validation is never persisted.
func sealRecord(crypt Crypter, rec record) ([]byte, error) {
	if err := rec.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchemaViolation, err)
	}

	plaintext, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchemaViolation, err)
	}

	return crypt.Encrypt(plaintext)
}

// mutate is the shared read-modify-write combinator: load the current
// record, apply the pure transition, commit under the loaded version, and
// retry a bounded number of times when another writer won the version race.
// Transitions with retry-unsafe semantics use a single attempt and surface
// the conflict instead.
func mutate[T any](ctx context.Context, attempts int,
	load func(context.Context) (T, error),
	apply func(T) error,
	commit func(context.Context, T) (T, error)) (T, error) {

	var zero T
	if attempts < 1 {
		attempts = 1
	}

	for i := 0; i < attempts; i++ {
		rec, err := load(ctx)
		if err != nil {
			return zero, err
		}

		if err := apply(rec); err != nil {
			return zero, err
		}

		updated, err := commit(ctx, rec)
		switch {
		case err == nil:
			return updated, nil

		case errors.Is(err, ErrVersionConflict):
			log.Debugf("Version conflict on attempt %d/%d, "+
				"reloading", i+1, attempts)
			continue

		default:
			return zero, err
		}
	}

	return zero, fmt.Errorf("%w: retries exhausted after %d attempts",
		ErrVersionConflict, attempts)
}
