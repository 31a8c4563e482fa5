package pgstore

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/lambda-idempotency/internal/idempotency"
)

// newTestStore connects to POSTGRES_DSN and creates a throwaway table.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_DSN not set")
	}
	ctx := context.Background()
	table := fmt.Sprintf("idempotency_test_%s", uuid.NewString()[:8])
	s, err := New(ctx, dsn, table, Columns{})
	require.NoError(t, err)
	require.NoError(t, s.EnsureSchema(ctx))
	t.Cleanup(func() {
		_, _ = s.db.Exec(context.Background(), "DROP TABLE IF EXISTS "+s.table)
		s.Close()
	})
	return s
}

func ms(v uint64) *uint64 { return &v }

func TestNewWithDB_SanitizesTable(t *testing.T) {
	s := NewWithDB(nil, `records"; DROP TABLE x; --`, Columns{})
	assert.Equal(t, `"records""; DROP TABLE x; --"`, s.table)
	assert.Equal(t, `"idempotency_records"`, NewWithDB(nil, "", Columns{}).table)
}

// recordingDB captures the statements a Store issues.
type recordingDB struct {
	statements []string
}

func (db *recordingDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	db.statements = append(db.statements, sql)
	return pgconn.NewCommandTag("UPDATE 1"), nil
}

func (db *recordingDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	db.statements = append(db.statements, sql)
	return noRow{}
}

type noRow struct{}

func (noRow) Scan(dest ...any) error { return pgx.ErrNoRows }

func TestStore_CustomColumns(t *testing.T) {
	db := &recordingDB{}
	s := NewWithDB(db, "records", Columns{
		Key:        "idempotency_key",
		Expiry:     "ttl",
		Status:     `state"; --`,
		Validation: "payload_hash",
	})
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)

	require.NoError(t, s.EnsureSchema(ctx))
	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, got)
	res, err := s.PutIfAbsentOrExpired(ctx, &idempotency.Record{Key: "k", Status: idempotency.StatusInProgress}, now)
	require.NoError(t, err)
	assert.Equal(t, idempotency.PutOK, res)
	require.NoError(t, s.Update(ctx, &idempotency.Record{Key: "k", Status: idempotency.StatusCompleted}))
	require.NoError(t, s.Delete(ctx, "k"))

	require.Len(t, db.statements, 5)
	for i, stmt := range db.statements {
		assert.Contains(t, stmt, `"records"`, "statement %d", i)
		assert.Contains(t, stmt, `"idempotency_key"`, "statement %d", i)
		assert.NotContains(t, stmt, `"id"`, "statement %d", i)
	}
	for i, stmt := range db.statements[:4] {
		assert.Contains(t, stmt, `"state""; --"`, "statement %d", i)
		assert.NotContains(t, stmt, `"status"`, "statement %d", i)
	}
	assert.Contains(t, db.statements[0], `"ttl" BIGINT NOT NULL DEFAULT 0`)
	assert.Contains(t, db.statements[0], `"in_progress_expiration" BIGINT`)
	assert.Contains(t, db.statements[2], `r."ttl" <> 0`)
	assert.Contains(t, db.statements[3], `"payload_hash" = COALESCE($5, "payload_hash")`)
	assert.NotContains(t, db.statements[3], `"validation"`)
}

func TestPostgresStore_Lifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()
	expiry := uint64(now.Unix()) + 3600

	rec := &idempotency.Record{
		Key:                       "fn#a",
		Status:                    idempotency.StatusInProgress,
		ExpiryTimestamp:           expiry,
		InProgressExpiryTimestamp: ms(uint64(now.UnixMilli()) + 1000),
		PayloadHash:               "h",
	}
	res, err := s.PutIfAbsentOrExpired(ctx, rec, now)
	require.NoError(t, err)
	assert.Equal(t, idempotency.PutOK, res)

	res, err = s.PutIfAbsentOrExpired(ctx, rec, now.Add(500*time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, idempotency.PutAlreadyExists, res)

	// abandoned after the in-progress deadline
	res, err = s.PutIfAbsentOrExpired(ctx, rec, now.Add(2*time.Second))
	require.NoError(t, err)
	assert.Equal(t, idempotency.PutOK, res)

	resp := `{"ok":true}`
	require.NoError(t, s.Update(ctx, &idempotency.Record{
		Key:             "fn#a",
		Status:          idempotency.StatusCompleted,
		ExpiryTimestamp: expiry,
		ResponseData:    &resp,
	}))

	got, err := s.Get(ctx, "fn#a")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, idempotency.StatusCompleted, got.Status)
	assert.Equal(t, resp, got.Response())
	assert.Equal(t, "h", got.PayloadHash)

	// completed records are not reclaimed until they expire
	res, err = s.PutIfAbsentOrExpired(ctx, rec, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, idempotency.PutAlreadyExists, res)

	res, err = s.PutIfAbsentOrExpired(ctx, rec, now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, idempotency.PutOK, res)

	require.NoError(t, s.Delete(ctx, "fn#a"))
	got, err = s.Get(ctx, "fn#a")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestPostgresStore_ConcurrentPutExactlyOneWins(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()
	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.PutIfAbsentOrExpired(context.Background(), &idempotency.Record{
				Key:             "race",
				Status:          idempotency.StatusInProgress,
				ExpiryTimestamp: uint64(now.Unix()) + 60,
			}, now)
			if assert.NoError(t, err) && res == idempotency.PutOK {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins)
}
