package testutil

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/mengxiangmengyuan/fabrik/internal/ir"
)

// UpsertCall records one call made to a MemorySink.
type UpsertCall struct {
	Record ir.MappedRecord
	PK     int64
}

// MemorySink is an in-memory record store with auto-increment keys.
// It satisfies the reconcile sink contract.
type MemorySink struct {
	mu     sync.Mutex
	pk     string
	rows   map[int64]ir.MappedRecord
	nextID int64
	calls  []UpsertCall

	// FailOn, when set, is consulted before every upsert; a non-nil error
	// is returned to the caller and nothing is stored.
	FailOn func(rec ir.MappedRecord, pk int64) error
}

// NewMemorySink creates an empty sink whose rows keep their id under pkField.
func NewMemorySink(pkField string) *MemorySink {
	if pkField == "" {
		pkField = ir.DefaultPrimaryKey
	}
	return &MemorySink{pk: pkField, rows: make(map[int64]ir.MappedRecord), nextID: 1}
}

// Seed stores rec directly and returns its id.
func (s *MemorySink) Seed(rec ir.MappedRecord) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insert(rec)
}

// SeedWithID stores rec under a chosen id.
func (s *MemorySink) SeedWithID(id int64, rec ir.MappedRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := rec.Clone()
	row[s.pk] = id
	s.rows[id] = row
	if id >= s.nextID {
		s.nextID = id + 1
	}
}

func (s *MemorySink) insert(rec ir.MappedRecord) int64 {
	id := s.nextID
	s.nextID++
	row := rec.Clone()
	row[s.pk] = id
	s.rows[id] = row
	return id
}

// LoadExistingIndex maps every non-empty foreign key to its row id.
func (s *MemorySink) LoadExistingIndex(_ context.Context, fkField string) (ir.Index, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := make(ir.Index, len(s.rows))
	for _, id := range s.ids() {
		fk := ir.FormatScalar(s.rows[id][fkField])
		if fk != "" {
			idx[fk] = id
		}
	}
	return idx, nil
}

// Upsert inserts when pk is 0 and replaces the fields of row pk otherwise.
func (s *MemorySink) Upsert(_ context.Context, rec ir.MappedRecord, pk int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, UpsertCall{Record: rec.Clone(), PK: pk})
	if s.FailOn != nil {
		if err := s.FailOn(rec, pk); err != nil {
			return 0, err
		}
	}

	if pk == 0 {
		return s.insert(rec), nil
	}
	row, ok := s.rows[pk]
	if !ok {
		return 0, fmt.Errorf("row %d not found", pk)
	}
	for k, v := range rec {
		row[k] = v
	}
	row[s.pk] = pk
	return pk, nil
}

// Rows returns copies of all rows ordered by id.
func (s *MemorySink) Rows() []ir.MappedRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ir.MappedRecord, 0, len(s.rows))
	for _, id := range s.ids() {
		out = append(out, s.rows[id].Clone())
	}
	return out
}

// Calls returns every upsert call in order.
func (s *MemorySink) Calls() []UpsertCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.calls)
}

// ResetCalls forgets recorded calls but keeps the rows.
func (s *MemorySink) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
}

func (s *MemorySink) ids() []int64 {
	ids := make([]int64, 0, len(s.rows))
	for id := range s.rows {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
