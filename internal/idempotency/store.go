package idempotency

import (
	"context"
	"time"
)

// PutResult is the outcome of a conditional put.
type PutResult int

const (
	// PutOK means the record was written.
	PutOK PutResult = iota
	// PutAlreadyExists means a live record holds the key.
	PutAlreadyExists
)

func (r PutResult) String() string {
	switch r {
	case PutOK:
		return "OK"
	case PutAlreadyExists:
		return "ALREADY_EXISTS"
	}
	return "UNKNOWN"
}

// RecordStore persists idempotency records. Implementations must be safe for concurrent use.
//
// PutIfAbsentOrExpired is the only synchronization point between competing executions.
// It must write the record iff no record exists for the key, the existing record's
// expiry has passed, or the existing record is INPROGRESS with a lapsed in-progress
// deadline; otherwise it returns PutAlreadyExists. Implementations must evaluate the
// condition atomically on the backend, never as a client-side read followed by a write.
type RecordStore interface {
	// Get returns (nil, nil) when no record exists.
	Get(ctx context.Context, key string) (*Record, error)
	PutIfAbsentOrExpired(ctx context.Context, rec *Record, now time.Time) (PutResult, error)
	// Update overwrites status, response, expiry and validation hash of an acquired record.
	Update(ctx context.Context, rec *Record) error
	Delete(ctx context.Context, key string) error
}
