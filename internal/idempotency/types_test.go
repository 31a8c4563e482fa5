package idempotency

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRecord_Expiry(t *testing.T) {
	now := time.Unix(1000, 0)

	assert.False(t, (&Record{ExpiryTimestamp: 0}).IsExpired(now), "zero never expires")
	assert.False(t, (&Record{ExpiryTimestamp: 1000}).IsExpired(now))
	assert.True(t, (&Record{ExpiryTimestamp: 999}).IsExpired(now))

	rec := &Record{Status: StatusCompleted, ExpiryTimestamp: 999}
	assert.Equal(t, StatusExpired, rec.StatusAt(now))
	rec.ExpiryTimestamp = 1001
	assert.Equal(t, StatusCompleted, rec.StatusAt(now))
}

func TestRecord_IsInProgressAbandoned(t *testing.T) {
	now := time.UnixMilli(5000)
	past, future := uint64(4999), uint64(5001)

	assert.True(t, (&Record{Status: StatusInProgress, InProgressExpiryTimestamp: &past}).IsInProgressAbandoned(now))
	assert.False(t, (&Record{Status: StatusInProgress, InProgressExpiryTimestamp: &future}).IsInProgressAbandoned(now))
	assert.False(t, (&Record{Status: StatusInProgress}).IsInProgressAbandoned(now))
	assert.False(t, (&Record{Status: StatusCompleted, InProgressExpiryTimestamp: &past}).IsInProgressAbandoned(now))
}

func TestParseStatus(t *testing.T) {
	st, ok := ParseStatus("COMPLETED")
	assert.True(t, ok)
	assert.Equal(t, StatusCompleted, st)

	_, ok = ParseStatus("EXPIRED")
	assert.False(t, ok, "EXPIRED is never persisted")
}

func TestError_Matching(t *testing.T) {
	cause := errors.New("timeout")
	err := fmt.Errorf("charge: %w", newError(KindPersistence, "fn#k", "get record", cause))

	assert.ErrorIs(t, err, ErrPersistence)
	assert.NotErrorIs(t, err, ErrAlreadyInProgress)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, KindPersistence, KindOf(err))
	assert.Equal(t, ErrorKind(""), KindOf(cause))
	assert.Equal(t, "PERSISTENCE: get record (key=fn#k): timeout", errors.Unwrap(err).Error())
}
