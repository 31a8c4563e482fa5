// Package redisstore persists idempotency records as Redis hashes.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/imrishuroy/lambda-idempotency/internal/idempotency"
)

// Options names the hash fields and the key layout "{Prefix}:{KeyAttr}:{idempotency key}".
type Options struct {
	Prefix           string
	KeyAttr          string
	Expiry           string
	InProgressExpiry string
	Status           string
	Data             string
	Validation       string
}

// DefaultOptions returns the layout used when none is configured.
func DefaultOptions() Options {
	return Options{
		Prefix:           "idempotency",
		KeyAttr:          "id",
		Expiry:           "expiration",
		InProgressExpiry: "in_progress_expiration",
		Status:           "status",
		Data:             "data",
		Validation:       "validation",
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	set := func(v *string, def string) {
		if *v == "" {
			*v = def
		}
	}
	set(&o.Prefix, d.Prefix)
	set(&o.KeyAttr, d.KeyAttr)
	set(&o.Expiry, d.Expiry)
	set(&o.InProgressExpiry, d.InProgressExpiry)
	set(&o.Status, d.Status)
	set(&o.Data, d.Data)
	set(&o.Validation, d.Validation)
	return o
}

// Store implements idempotency.RecordStore on Redis.
type Store struct {
	client redis.UniversalClient
	opts   Options
}

// NewStore returns a Store over client. Empty option fields take their defaults.
func NewStore(client redis.UniversalClient, opts Options) (*Store, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	return &Store{client: client, opts: opts.withDefaults()}, nil
}

func (s *Store) redisKey(key string) string {
	return s.opts.Prefix + ":" + s.opts.KeyAttr + ":" + key
}

// Get returns the record stored under key, or (nil, nil).
func (s *Store) Get(ctx context.Context, key string) (*idempotency.Record, error) {
	fields, err := s.client.HGetAll(ctx, s.redisKey(key)).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	st, ok := idempotency.ParseStatus(fields[s.opts.Status])
	if !ok {
		return nil, fmt.Errorf("unknown record status %q", fields[s.opts.Status])
	}
	rec := &idempotency.Record{Key: key, Status: st, PayloadHash: fields[s.opts.Validation]}
	if v, ok := fields[s.opts.Expiry]; ok {
		if rec.ExpiryTimestamp, err = strconv.ParseUint(v, 10, 64); err != nil {
			return nil, fmt.Errorf("parse %s: %w", s.opts.Expiry, err)
		}
	}
	if v, ok := fields[s.opts.InProgressExpiry]; ok {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", s.opts.InProgressExpiry, err)
		}
		rec.InProgressExpiryTimestamp = &n
	}
	if v, ok := fields[s.opts.Data]; ok {
		rec.ResponseData = &v
	}
	return rec, nil
}

// putScript writes the record iff the key is absent, expired or held by an abandoned
// INPROGRESS record. A reclaimed hash is dropped first so no stale field survives.
//
// KEYS[1] record key
// ARGV[1] now (s), ARGV[2] now (ms), ARGV[3..5] expiry/in progress expiry/status fields,
// ARGV[6] INPROGRESS, ARGV[7] EXPIREAT (0 for none), ARGV[8..] field/value pairs.
var putScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local nowMs = tonumber(ARGV[2])
local expireAt = tonumber(ARGV[7])

if redis.call('EXISTS', key) == 1 then
  local expiry = tonumber(redis.call('HGET', key, ARGV[3]))
  local free = expiry ~= nil and expiry ~= 0 and expiry < now
  if not free and redis.call('HGET', key, ARGV[5]) == ARGV[6] then
    local deadline = tonumber(redis.call('HGET', key, ARGV[4]))
    free = deadline ~= nil and deadline < nowMs
  end
  if not free then
    return 0
  end
  redis.call('DEL', key)
end

for i = 8, #ARGV, 2 do
  redis.call('HSET', key, ARGV[i], ARGV[i + 1])
end
if expireAt > 0 then
  redis.call('EXPIREAT', key, expireAt)
end
return 1
`)

func (s *Store) fields(rec *idempotency.Record) []any {
	out := []any{s.opts.Status, string(rec.Status)}
	out = append(out, s.opts.Expiry, strconv.FormatUint(rec.ExpiryTimestamp, 10))
	if rec.InProgressExpiryTimestamp != nil {
		out = append(out, s.opts.InProgressExpiry, strconv.FormatUint(*rec.InProgressExpiryTimestamp, 10))
	}
	if rec.ResponseData != nil {
		out = append(out, s.opts.Data, *rec.ResponseData)
	}
	if rec.PayloadHash != "" {
		out = append(out, s.opts.Validation, rec.PayloadHash)
	}
	return out
}

// PutIfAbsentOrExpired runs putScript atomically on the server.
func (s *Store) PutIfAbsentOrExpired(ctx context.Context, rec *idempotency.Record, now time.Time) (idempotency.PutResult, error) {
	args := []any{
		now.Unix(),
		now.UnixMilli(),
		s.opts.Expiry,
		s.opts.InProgressExpiry,
		s.opts.Status,
		string(idempotency.StatusInProgress),
		rec.ExpiryTimestamp,
	}
	args = append(args, s.fields(rec)...)

	written, err := putScript.Run(ctx, s.client, []string{s.redisKey(rec.Key)}, args...).Int()
	if err != nil {
		return idempotency.PutAlreadyExists, fmt.Errorf("put script: %w", err)
	}
	if written == 0 {
		return idempotency.PutAlreadyExists, nil
	}
	return idempotency.PutOK, nil
}

// Update writes the completion fields and resets the key's expiry in one transaction.
func (s *Store) Update(ctx context.Context, rec *idempotency.Record) error {
	key := s.redisKey(rec.Key)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, s.fields(rec)...)
		if rec.ExpiryTimestamp == 0 {
			pipe.Persist(ctx, key)
		} else {
			pipe.ExpireAt(ctx, key, time.Unix(int64(rec.ExpiryTimestamp), 0))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("update record: %w", err)
	}
	return nil
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.redisKey(key)).Err(); err != nil {
		return fmt.Errorf("del: %w", err)
	}
	return nil
}

var _ idempotency.RecordStore = (*Store)(nil)
