// Package pgstore persists idempotency records in a PostgreSQL table.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/imrishuroy/lambda-idempotency/internal/idempotency"
)

// DefaultTable is the table used when none is configured.
const DefaultTable = "idempotency_records"

// DB is the subset of pgxpool.Pool the store needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Columns names the table's columns.
type Columns struct {
	Key              string
	Expiry           string
	InProgressExpiry string
	Status           string
	Data             string
	Validation       string
}

// DefaultColumns returns the layout used when none is configured.
func DefaultColumns() Columns {
	return Columns{
		Key:              "id",
		Expiry:           "expiration",
		InProgressExpiry: "in_progress_expiration",
		Status:           "status",
		Data:             "data",
		Validation:       "validation",
	}
}

func (c Columns) withDefaults() Columns {
	d := DefaultColumns()
	set := func(v *string, def string) {
		if *v == "" {
			*v = def
		}
	}
	set(&c.Key, d.Key)
	set(&c.Expiry, d.Expiry)
	set(&c.InProgressExpiry, d.InProgressExpiry)
	set(&c.Status, d.Status)
	set(&c.Data, d.Data)
	set(&c.Validation, d.Validation)
	return c
}

func (c Columns) sanitized() Columns {
	q := func(name string) string { return pgx.Identifier{name}.Sanitize() }
	return Columns{
		Key:              q(c.Key),
		Expiry:           q(c.Expiry),
		InProgressExpiry: q(c.InProgressExpiry),
		Status:           q(c.Status),
		Data:             q(c.Data),
		Validation:       q(c.Validation),
	}
}

// Store implements idempotency.RecordStore on Postgres.
type Store struct {
	db    DB
	pool  *pgxpool.Pool
	table string
	// cols holds quoted identifiers, safe to splice into SQL.
	cols Columns
}

// New creates a pooled connection to Postgres. Empty column names fall back to
// DefaultColumns.
func New(ctx context.Context, dsn, table string, cols Columns) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := NewWithDB(pool, table, cols)
	s.pool = pool
	return s, nil
}

// NewWithDB wraps an existing pool or connection.
func NewWithDB(db DB, table string, cols Columns) *Store {
	if table == "" {
		table = DefaultTable
	}
	return &Store{
		db:    db,
		table: pgx.Identifier{table}.Sanitize(),
		cols:  cols.withDefaults().sanitized(),
	}
}

// Close releases the pool opened by New.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// EnsureSchema creates the records table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	c := s.cols
	_, err := s.db.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			%s TEXT PRIMARY KEY,
			%s TEXT NOT NULL,
			%s BIGINT NOT NULL DEFAULT 0,
			%s BIGINT,
			%s TEXT,
			%s TEXT
		)
	`, s.table, c.Key, c.Status, c.Expiry, c.InProgressExpiry, c.Data, c.Validation))
	if err != nil {
		return fmt.Errorf("create table: %w", err)
	}
	return nil
}

// Get fetches a record by key. If not found, returns (nil, nil).
func (s *Store) Get(ctx context.Context, key string) (*idempotency.Record, error) {
	var (
		status     string
		expiry     int64
		inProgress pgtype.Int8
		data       pgtype.Text
		validation pgtype.Text
	)
	c := s.cols
	err := s.db.QueryRow(ctx, fmt.Sprintf(`
		SELECT %s, %s, %s, %s, %s
		FROM %s WHERE %s = $1
	`, c.Status, c.Expiry, c.InProgressExpiry, c.Data, c.Validation, s.table, c.Key), key).Scan(&status, &expiry, &inProgress, &data, &validation)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query record: %w", err)
	}

	st, ok := idempotency.ParseStatus(status)
	if !ok {
		return nil, fmt.Errorf("unknown record status %q", status)
	}
	rec := &idempotency.Record{
		Key:             key,
		Status:          st,
		ExpiryTimestamp: uint64(expiry),
		PayloadHash:     validation.String,
	}
	if inProgress.Valid {
		v := uint64(inProgress.Int64)
		rec.InProgressExpiryTimestamp = &v
	}
	if data.Valid {
		v := data.String
		rec.ResponseData = &v
	}
	return rec, nil
}

// PutIfAbsentOrExpired inserts rec, overwriting an existing row only when it has
// expired or is an abandoned INPROGRESS lock. The upsert is a single statement, so
// concurrent callers are serialized on the row lock.
func (s *Store) PutIfAbsentOrExpired(ctx context.Context, rec *idempotency.Record, now time.Time) (idempotency.PutResult, error) {
	c := s.cols
	tag, err := s.db.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %[1]s AS r (%[2]s, %[3]s, %[4]s, %[5]s, %[6]s, %[7]s)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (%[2]s) DO UPDATE
		SET %[3]s = EXCLUDED.%[3]s,
			%[4]s = EXCLUDED.%[4]s,
			%[5]s = EXCLUDED.%[5]s,
			%[6]s = EXCLUDED.%[6]s,
			%[7]s = EXCLUDED.%[7]s
		WHERE (r.%[4]s <> 0 AND r.%[4]s < $7)
			OR (r.%[3]s = $8 AND r.%[5]s IS NOT NULL AND r.%[5]s < $9)
	`, s.table, c.Key, c.Status, c.Expiry, c.InProgressExpiry, c.Data, c.Validation),
		rec.Key, string(rec.Status), int64(rec.ExpiryTimestamp), int8Ptr(rec.InProgressExpiryTimestamp),
		rec.ResponseData, nullIfEmpty(rec.PayloadHash),
		now.Unix(), string(idempotency.StatusInProgress), now.UnixMilli())
	if err != nil {
		return idempotency.PutAlreadyExists, fmt.Errorf("upsert record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return idempotency.PutAlreadyExists, nil
	}
	return idempotency.PutOK, nil
}

// Update sets status, expiry, response and validation hash.
func (s *Store) Update(ctx context.Context, rec *idempotency.Record) error {
	c := s.cols
	_, err := s.db.Exec(ctx, fmt.Sprintf(`
		UPDATE %[1]s
		SET %[3]s = $2, %[4]s = $3, %[5]s = $4, %[6]s = COALESCE($5, %[6]s)
		WHERE %[2]s = $1
	`, s.table, c.Key, c.Status, c.Expiry, c.Data, c.Validation), rec.Key, string(rec.Status), int64(rec.ExpiryTimestamp), rec.ResponseData, nullIfEmpty(rec.PayloadHash))
	if err != nil {
		return fmt.Errorf("update record: %w", err)
	}
	return nil
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.db.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE %s = $1`, s.table, s.cols.Key), key)
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	return nil
}

var _ idempotency.RecordStore = (*Store)(nil)

func int8Ptr(v *uint64) *int64 {
	if v == nil {
		return nil
	}
	n := int64(*v)
	return &n
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
