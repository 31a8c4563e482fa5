// Package idempotency makes a unit of work execute at most once per idempotency key
// within a TTL window, replaying the stored result to duplicate deliveries.
//
// The Coordinator owns hashing, the local cache, payload validation and the record
// state machine; durability and atomicity come from a RecordStore backend
// (see the dynamostore, redisstore, pgstore and memstore packages).
package idempotency

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	validatorv10 "github.com/go-playground/validator/v10"
)

// Fingerprint is the derived identity of one request.
type Fingerprint struct {
	// Key is "{scope}#{hash}". Empty when Skip is set.
	Key         string
	PayloadHash string
	// Skip means the key resolved to nothing and the call runs unguarded.
	Skip bool
}

// Coordinator arbitrates executions for one scope against a RecordStore.
type Coordinator struct {
	store         RecordStore
	cfg           Config
	hasher        *Hasher
	eventKey      *KeyPath
	validationKey *KeyPath
	cache         *LocalCache
	logger        *slog.Logger
	observer      Observer
	now           func() time.Time
}

// New builds a Coordinator over store.
func New(store RecordStore, opts ...Option) (*Coordinator, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if store == nil {
		return nil, newError(KindConfiguration, "", "record store is required", nil)
	}
	if err := validatorv10.New().Struct(cfg); err != nil {
		return nil, newError(KindConfiguration, "", "invalid config", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Coordinator{
		store:    store,
		cfg:      cfg,
		hasher:   NewHasher(cfg.HashFunction, logger),
		logger:   logger.With("idempotency_scope", cfg.Scope()),
		observer: cfg.Observer,
		now:      cfg.Clock,
	}
	if c.observer == nil {
		c.observer = nopObserver{}
	}
	if c.now == nil {
		c.now = time.Now
	}

	var err error
	if c.eventKey, err = CompileKeyPath(cfg.EventKeyJMESPath); err != nil {
		return nil, newError(KindConfiguration, "", "event key path", err)
	}
	if cfg.PayloadValidationJMESPath != "" {
		if c.validationKey, err = CompileKeyPath(cfg.PayloadValidationJMESPath); err != nil {
			return nil, newError(KindConfiguration, "", "payload validation path", err)
		}
	}
	if cfg.UseLocalCache {
		if c.cache, err = NewLocalCache(cfg.LocalCacheMaxItems); err != nil {
			return nil, newError(KindConfiguration, "", "local cache", err)
		}
	}
	return c, nil
}

// Config returns the effective configuration.
func (c *Coordinator) Config() Config { return c.cfg }

// Store returns the backing record store.
func (c *Coordinator) Store() RecordStore { return c.store }

// Disabled reports whether the coordinator is a pass-through.
func (c *Coordinator) Disabled() bool { return c.cfg.Disabled }

// Now returns the coordinator's clock reading.
func (c *Coordinator) Now() time.Time { return c.now() }

// Fingerprint derives the scoped key and payload hash of payload.
func (c *Coordinator) Fingerprint(payload any) (Fingerprint, error) {
	doc, err := NormalizePayload(payload)
	if err != nil {
		return Fingerprint{}, newError(KindKeyExtraction, "", "payload is not valid JSON", err)
	}
	node, err := c.eventKey.Search(doc)
	if err != nil {
		return Fingerprint{}, newError(KindKeyExtraction, "", "evaluate event key path", err)
	}
	if IsMissing(node) {
		if c.cfg.ThrowOnNoIdempotencyKey {
			return Fingerprint{}, newError(KindKeyExtraction, "", "no data found to create a hashed idempotency key", nil)
		}
		c.logger.Warn("no data found to create a hashed idempotency key", "jmespath", c.eventKey.String())
		c.observer.Observe(EventSkipped)
		return Fingerprint{Skip: true}, nil
	}
	digest, err := c.hasher.Hash(node)
	if err != nil {
		return Fingerprint{}, newError(KindKeyExtraction, "", "hash idempotency key", err)
	}
	fp := Fingerprint{Key: c.cfg.Scope() + "#" + digest}
	if fp.PayloadHash, err = c.payloadHash(doc); err != nil {
		return Fingerprint{}, newError(KindKeyExtraction, fp.Key, "hash validation payload", err)
	}
	return fp, nil
}

func (c *Coordinator) payloadHash(doc any) (string, error) {
	if c.validationKey == nil {
		return "", nil
	}
	node, err := c.validationKey.Search(doc)
	if err != nil {
		return "", err
	}
	return c.hasher.Hash(node)
}

func (c *Coordinator) expiry(now time.Time) uint64 {
	if c.cfg.Expiration <= 0 {
		return 0
	}
	return epochSeconds(now, c.cfg.Expiration)
}

// SaveInProgress tries to acquire fp.Key with an INPROGRESS record. A live record in
// the local cache counts as PutAlreadyExists without a round-trip. remaining, when
// known, bounds how long the lock survives a crashed execution.
func (c *Coordinator) SaveInProgress(ctx context.Context, fp Fingerprint, now time.Time, remaining *time.Duration) (PutResult, error) {
	if _, ok := c.cache.Get(fp.Key, now); ok {
		return PutAlreadyExists, nil
	}
	rec := &Record{
		Key:             fp.Key,
		Status:          StatusInProgress,
		ExpiryTimestamp: c.expiry(now),
		PayloadHash:     fp.PayloadHash,
	}
	if remaining != nil {
		rec.InProgressExpiryTimestamp = uint64Ptr(uint64(now.Add(*remaining).UnixMilli()))
	}
	c.logger.Debug("saving in progress record", "idempotency_key", fp.Key)
	res, err := c.store.PutIfAbsentOrExpired(ctx, rec, now)
	if err != nil {
		return res, newError(KindPersistence, fp.Key, "save in progress record", err)
	}
	return res, nil
}

// GetRecord fetches the record for fp from the cache or the store and validates the
// payload hash. It returns (nil, nil) when the store has no record.
func (c *Coordinator) GetRecord(ctx context.Context, fp Fingerprint, now time.Time) (*Record, error) {
	if rec, ok := c.cache.Get(fp.Key, now); ok {
		c.logger.Debug("idempotency record found in local cache", "idempotency_key", fp.Key)
		c.observer.Observe(EventCacheHit)
		if err := c.validatePayload(fp, rec); err != nil {
			return nil, err
		}
		return rec, nil
	}
	rec, err := c.store.Get(ctx, fp.Key)
	if err != nil {
		return nil, newError(KindPersistence, fp.Key, "get record", err)
	}
	if rec == nil {
		return nil, nil
	}
	c.cache.Put(rec)
	if err := c.validatePayload(fp, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (c *Coordinator) validatePayload(fp Fingerprint, rec *Record) error {
	if c.validationKey == nil {
		return nil
	}
	if rec.PayloadHash == "" || rec.PayloadHash != fp.PayloadHash {
		c.observer.Observe(EventValidationMismatch)
		return newError(KindValidationMismatch, fp.Key, "payload does not match stored record for this event key", nil)
	}
	return nil
}

// SaveSuccess marks fp.Key COMPLETED with response and a refreshed expiry.
func (c *Coordinator) SaveSuccess(ctx context.Context, fp Fingerprint, response string, now time.Time) error {
	rec := &Record{
		Key:             fp.Key,
		Status:          StatusCompleted,
		ExpiryTimestamp: c.expiry(now),
		ResponseData:    stringPtr(response),
		PayloadHash:     fp.PayloadHash,
	}
	c.logger.Debug("function executed, saving completed record", "idempotency_key", fp.Key)
	if err := c.store.Update(ctx, rec); err != nil {
		return newError(KindPersistence, fp.Key, "save completed record", err)
	}
	c.cache.Put(rec)
	return nil
}

// DeleteRecord removes fp.Key so a retry can run cleanly.
func (c *Coordinator) DeleteRecord(ctx context.Context, fp Fingerprint) error {
	c.cache.Remove(fp.Key)
	if err := c.store.Delete(ctx, fp.Key); err != nil {
		return newError(KindPersistence, fp.Key, "delete record", err)
	}
	return nil
}

// Begin acquires fp.Key or resolves what holds it. It returns (nil, nil) when the
// caller now owns the key and must execute, or the COMPLETED record to replay.
// A lost race never waits: live locks surface as AlreadyInProgress.
func (c *Coordinator) Begin(ctx context.Context, fp Fingerprint, now time.Time, remaining *time.Duration) (*Record, error) {
	res, err := c.SaveInProgress(ctx, fp, now, remaining)
	if err != nil {
		return nil, err
	}
	if res == PutOK {
		return nil, nil
	}
	rec, err := c.GetRecord(ctx, fp, now)
	if err != nil {
		return nil, err
	}
	return c.resolve(fp, rec, now)
}

func (c *Coordinator) resolve(fp Fingerprint, rec *Record, now time.Time) (*Record, error) {
	if rec == nil {
		c.observer.Observe(EventInconsistentState)
		return nil, newError(KindInconsistentState, fp.Key, "record was deleted between put and get", nil)
	}
	switch rec.StatusAt(now) {
	case StatusExpired:
		c.observer.Observe(EventInconsistentState)
		return nil, newError(KindInconsistentState, fp.Key, "record expired between put and get", nil)
	case StatusInProgress:
		if rec.IsInProgressAbandoned(now) {
			c.observer.Observe(EventInconsistentState)
			return nil, newError(KindInconsistentState, fp.Key, "in progress record outlived its deadline but could not be reclaimed", nil)
		}
		c.observer.Observe(EventAlreadyInProgress)
		return nil, newError(KindAlreadyInProgress, fp.Key, "execution already in progress", nil)
	case StatusCompleted:
		c.logger.Debug("response retrieved from idempotency store, skipping the function", "idempotency_key", fp.Key)
		c.observer.Observe(EventReplayed)
		return rec, nil
	}
	return nil, newError(KindInconsistentState, fp.Key, fmt.Sprintf("unknown status %q", rec.Status), nil)
}
