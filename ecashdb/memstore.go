package ecashdb

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemStore is an in-memory RemoteStore with the same atomicity and version
// semantics as the production store. It backs the test suites of every
// package above the repository layer.
type MemStore struct {
	mu   sync.Mutex
	rows map[Collection]map[string]*Row
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		rows: make(map[Collection]map[string]*Row),
	}
}

// Fetch returns a copy of the row with the given id.
func (m *MemStore) Fetch(ctx context.Context, coll Collection,
	id string) (*Row, error) {

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.rows[coll][id]
	if !ok {
		return nil, fmt.Errorf("%w: %v/%v", ErrRowNotFound, coll, id)
	}

	return copyRow(row), nil
}

// Lookup returns a copy of the row whose plaintext column equals value.
func (m *MemStore) Lookup(ctx context.Context, coll Collection, column,
	value string) (*Row, error) {

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, row := range m.rows[coll] {
		if row.Columns[column] == value {
			return copyRow(row), nil
		}
	}

	return nil, fmt.Errorf("%w: %v where %v=%v", ErrRowNotFound, coll,
		column, value)
}

// Commit applies the update if the stored version matches PrevVersion,
// bumping the version by one. The whole commit happens under one lock and
// after the context check, so a cancelled call leaves no partial state.
func (m *MemStore) Commit(ctx context.Context, coll Collection,
	update *RowUpdate) (*Row, error) {

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	table, ok := m.rows[coll]
	if !ok {
		table = make(map[string]*Row)
		m.rows[coll] = table
	}

	existing, exists := table[update.ID]
	switch {
	case update.PrevVersion == 0 && exists:
		return nil, fmt.Errorf("%w: %v/%v", ErrRowExists, coll,
			update.ID)

	case update.PrevVersion != 0 && !exists:
		return nil, fmt.Errorf("%w: %v/%v", ErrRowNotFound, coll,
			update.ID)

	case exists && existing.Version != update.PrevVersion:
		return nil, fmt.Errorf("%w: %v/%v: have %d, presented %d",
			ErrVersionConflict, coll, update.ID, existing.Version,
			update.PrevVersion)
	}

	row := &Row{
		ID:         update.ID,
		Ciphertext: append([]byte(nil), update.Ciphertext...),
		Columns:    copyColumns(update.Columns),
		Version:    update.PrevVersion + 1,
		UpdatedAt:  time.Now().UTC(),
	}
	table[update.ID] = row

	return copyRow(row), nil
}

func copyRow(row *Row) *Row {
	return &Row{
		ID:         row.ID,
		Ciphertext: append([]byte(nil), row.Ciphertext...),
		Columns:    copyColumns(row.Columns),
		Version:    row.Version,
		UpdatedAt:  row.UpdatedAt,
	}
}

func copyColumns(columns map[string]string) map[string]string {
	out := make(map[string]string, len(columns))
	for k, v := range columns {
		out[k] = v
	}
	return out
}
