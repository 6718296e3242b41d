package ecashdb

import "errors"

var (
	// ErrRowNotFound is returned when the store holds no row with the
	// requested id or column value.
	ErrRowNotFound = errors.New("row not found")

	// ErrVersionConflict is returned when a write presents a stale
	// version. Recoverable: the caller reloads and decides whether the
	// transition is still valid. The repository never retries a
	// transition on its own.
	ErrVersionConflict = errors.New("version conflict")

	// ErrRowExists is returned when creating a row whose id is taken.
	ErrRowExists = errors.New("row already exists")

	// ErrSchemaViolation is returned when a decrypted or constructed
	// record fails validation. It indicates corruption or a version skew
	// bug and is surfaced, never coerced.
	ErrSchemaViolation = errors.New("schema violation")
)
