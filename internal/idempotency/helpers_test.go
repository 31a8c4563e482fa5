package idempotency_test

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/imrishuroy/lambda-idempotency/internal/idempotency"
	"github.com/imrishuroy/lambda-idempotency/internal/idempotency/memstore"
)

// raw marks a JSON literal as a document rather than a string payload.
func raw(s string) json.RawMessage { return json.RawMessage(s) }

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: t0} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recorder struct {
	mu     sync.Mutex
	events []idempotency.Event
}

func (r *recorder) Observe(e idempotency.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) count(e idempotency.Event) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, got := range r.events {
		if got == e {
			n++
		}
	}
	return n
}

// countingStore wraps a memstore, counting calls and injecting failures.
type countingStore struct {
	*memstore.Store

	mu        sync.Mutex
	puts      int
	gets      int
	updates   int
	deletes   int
	putErr    error
	deleteErr error
	// getHook, when set, replaces the stored record returned by Get.
	getHook func(*idempotency.Record) *idempotency.Record
	// putResult, when set, forces the outcome of every put without writing.
	putResult *idempotency.PutResult
}

func newCountingStore() *countingStore {
	return &countingStore{Store: memstore.New()}
}

func (s *countingStore) Get(ctx context.Context, key string) (*idempotency.Record, error) {
	s.mu.Lock()
	s.gets++
	hook := s.getHook
	s.mu.Unlock()
	rec, err := s.Store.Get(ctx, key)
	if hook != nil {
		return hook(rec), err
	}
	return rec, err
}

func (s *countingStore) PutIfAbsentOrExpired(ctx context.Context, rec *idempotency.Record, now time.Time) (idempotency.PutResult, error) {
	s.mu.Lock()
	s.puts++
	err, forced := s.putErr, s.putResult
	s.mu.Unlock()
	if err != nil {
		return idempotency.PutAlreadyExists, err
	}
	if forced != nil {
		return *forced, nil
	}
	return s.Store.PutIfAbsentOrExpired(ctx, rec, now)
}

func (s *countingStore) Update(ctx context.Context, rec *idempotency.Record) error {
	s.mu.Lock()
	s.updates++
	s.mu.Unlock()
	return s.Store.Update(ctx, rec)
}

func (s *countingStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	s.deletes++
	err := s.deleteErr
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.Store.Delete(ctx, key)
}

func (s *countingStore) calls() (puts, gets, updates, deletes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.puts, s.gets, s.updates, s.deletes
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
