// Package memstore is a process-local RecordStore, for tests and local runs.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/imrishuroy/lambda-idempotency/internal/idempotency"
)

// Store keeps records in a map guarded by a mutex.
type Store struct {
	mu      sync.Mutex
	records map[string]*idempotency.Record
}

// New returns an empty Store.
func New() *Store {
	return &Store{records: make(map[string]*idempotency.Record)}
}

// Get returns a copy of the record for key, or (nil, nil).
func (s *Store) Get(ctx context.Context, key string) (*idempotency.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[key].Clone(), nil
}

// PutIfAbsentOrExpired writes rec when the key is free, expired or abandoned.
func (s *Store) PutIfAbsentOrExpired(ctx context.Context, rec *idempotency.Record, now time.Time) (idempotency.PutResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.records[rec.Key]; ok && !cur.IsExpired(now) && !cur.IsInProgressAbandoned(now) {
		return idempotency.PutAlreadyExists, nil
	}
	s.records[rec.Key] = rec.Clone()
	return idempotency.PutOK, nil
}

// Update overwrites the completion fields of rec.Key.
func (s *Store) Update(ctx context.Context, rec *idempotency.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := rec.Clone()
	if cur, ok := s.records[rec.Key]; ok {
		next.InProgressExpiryTimestamp = cur.InProgressExpiryTimestamp
	}
	s.records[rec.Key] = next
	return nil
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
	return nil
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

var _ idempotency.RecordStore = (*Store)(nil)
