package idempotency

import "time"

// Status is the lifecycle state of an idempotency record.
type Status string

// Status values. StatusExpired is never persisted; it is derived at read time.
const (
	StatusInProgress Status = "INPROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusExpired    Status = "EXPIRED"
)

// ParseStatus maps a persisted status string back to a Status.
func ParseStatus(s string) (Status, bool) {
	switch Status(s) {
	case StatusInProgress, StatusCompleted:
		return Status(s), true
	}
	return "", false
}

// Record is the unit persisted in a RecordStore.
type Record struct {
	// Key is "{scope}#{hash}".
	Key    string
	Status Status
	// ExpiryTimestamp is an absolute TTL in seconds since epoch. 0 means never.
	ExpiryTimestamp uint64
	// InProgressExpiryTimestamp is the deadline (milliseconds since epoch) after which
	// an INPROGRESS record is considered abandoned. Nil when the execution budget was unknown.
	InProgressExpiryTimestamp *uint64
	// ResponseData is set only once Status is COMPLETED.
	ResponseData *string
	PayloadHash  string
}

// IsExpired reports whether the record's TTL has passed.
func (r *Record) IsExpired(now time.Time) bool {
	return r.ExpiryTimestamp != 0 && uint64(now.Unix()) > r.ExpiryTimestamp
}

// IsInProgressAbandoned reports whether an INPROGRESS record outlived its execution budget.
func (r *Record) IsInProgressAbandoned(now time.Time) bool {
	if r.Status != StatusInProgress || r.InProgressExpiryTimestamp == nil {
		return false
	}
	return *r.InProgressExpiryTimestamp < uint64(now.UnixMilli())
}

// StatusAt returns the effective status, folding in expiry.
func (r *Record) StatusAt(now time.Time) Status {
	if r.IsExpired(now) {
		return StatusExpired
	}
	return r.Status
}

// Response returns the stored response, or "" when none is set.
func (r *Record) Response() string {
	if r.ResponseData == nil {
		return ""
	}
	return *r.ResponseData
}

// Clone returns a deep copy so cached records are never shared with callers.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	if r.InProgressExpiryTimestamp != nil {
		v := *r.InProgressExpiryTimestamp
		out.InProgressExpiryTimestamp = &v
	}
	if r.ResponseData != nil {
		v := *r.ResponseData
		out.ResponseData = &v
	}
	return &out
}

func epochSeconds(t time.Time, ttl time.Duration) uint64 {
	return uint64(t.Add(ttl).Unix())
}

func uint64Ptr(v uint64) *uint64 { return &v }

func stringPtr(s string) *string { return &s }
