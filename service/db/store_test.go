package db

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brojonat/ledgerswap/service/metrics"
)

// swapStore is the method set shared by Store and MemoryStore.
type swapStore interface {
	FindByTxid(ctx context.Context, txid string) (*Swap, error)
	InsertPending(ctx context.Context, p InsertPendingParams) (*Swap, error)
	ListPendingConfirmed(ctx context.Context, threshold int64) ([]*Swap, error)
	ListPendingUnconfirmed(ctx context.Context, threshold int64) ([]*Swap, error)
	UpdateConfirmations(ctx context.Context, txid string, confirmations int64) error
	MarkProcessed(ctx context.Context, txid, targetTxid string, at time.Time) error
	ListSwaps(ctx context.Context, p ListSwapsParams) ([]*Swap, error)
}

var (
	_ swapStore = (*Store)(nil)
	_ swapStore = (*MemoryStore)(nil)
)

func pendingParams(txid string, confirmations int64) InsertPendingParams {
	return InsertPendingParams{
		Txid:                            txid,
		SourceAddress:                   "EVo1sourceaddress",
		Amount:                          5_000_000_000,
		Confirmations:                   confirmations,
		Fee:                             12_000,
		Height:                          481_516,
		Note:                            "",
		PaymentID:                       "0000000000000000",
		SubaddrIndex:                    SubaddrIndex{Major: 0, Minor: 3},
		SuggestedConfirmationsThreshold: 1,
		Timestamp:                       1_620_000_000,
		Type:                            "in",
		UnlockTime:                      0,
		TargetAddress:                   "SW1aaaaaaaaa",
		TargetAmount:                    500_000_000_000,
	}
}

func TestStore_Postgres(t *testing.T) {
	store, pool := newTestStore(t)
	runStoreContract(t, func(t *testing.T) swapStore {
		_, err := pool.Exec(context.Background(), "TRUNCATE TABLE swaps")
		require.NoError(t, err)
		return store
	})
}

func TestStore_Memory(t *testing.T) {
	runStoreContract(t, func(t *testing.T) swapStore {
		return NewMemoryStore()
	})
}

// runStoreContract exercises the persistence guarantees every store must give.
// fresh returns an empty store for each subtest.
func runStoreContract(t *testing.T, fresh func(t *testing.T) swapStore) {
	ctx := context.Background()

	t.Run("insert and find", func(t *testing.T) {
		store := fresh(t)

		created, err := store.InsertPending(ctx, pendingParams("abc123xyz9", 0))
		require.NoError(t, err)
		assert.Equal(t, StatusPending, created.Status)
		assert.Nil(t, created.TargetTxid)
		assert.WithinDuration(t, time.Now(), created.CreatedAt, 5*time.Second)

		found, err := store.FindByTxid(ctx, "abc123xyz9")
		require.NoError(t, err)
		assert.Equal(t, int64(5_000_000_000), found.Amount)
		assert.Equal(t, int64(500_000_000_000), found.TargetAmount)
		assert.Equal(t, SubaddrIndex{Major: 0, Minor: 3}, found.SubaddrIndex)
		assert.Equal(t, "in", found.Type)
		assert.Equal(t, "SW1aaaaaaaaa", found.TargetAddress)
	})

	t.Run("find missing returns ErrNotFound", func(t *testing.T) {
		store := fresh(t)

		_, err := store.FindByTxid(ctx, "nope1")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("duplicate insert fails", func(t *testing.T) {
		store := fresh(t)

		_, err := store.InsertPending(ctx, pendingParams("dup1", 0))
		require.NoError(t, err)

		_, err = store.InsertPending(ctx, pendingParams("dup1", 5))
		assert.ErrorIs(t, err, ErrDuplicateKey)

		found, err := store.FindByTxid(ctx, "dup1")
		require.NoError(t, err)
		assert.Equal(t, int64(0), found.Confirmations, "first record must be untouched")
	})

	t.Run("concurrent inserts of one txid yield one record", func(t *testing.T) {
		store := fresh(t)

		const n = 8
		var wg sync.WaitGroup
		errs := make([]error, n)
		for i := range n {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = store.InsertPending(ctx, pendingParams("race1", int64(i)))
			}(i)
		}
		wg.Wait()

		ok := 0
		for _, err := range errs {
			if err == nil {
				ok++
			} else {
				assert.ErrorIs(t, err, ErrDuplicateKey)
			}
		}
		assert.Equal(t, 1, ok)
	})

	t.Run("list pending confirmed respects threshold and status", func(t *testing.T) {
		store := fresh(t)

		for i, c := range []int64{0, 10, 11, 25} {
			_, err := store.InsertPending(ctx, pendingParams(fmt.Sprintf("tx%d", i), c))
			require.NoError(t, err)
		}
		require.NoError(t, store.MarkProcessed(ctx, "tx3", "out3", time.Now()))

		eligible, err := store.ListPendingConfirmed(ctx, 10)
		require.NoError(t, err)
		require.Len(t, eligible, 1)
		assert.Equal(t, "tx2", eligible[0].Txid)

		unconfirmed, err := store.ListPendingUnconfirmed(ctx, 10)
		require.NoError(t, err)
		require.Len(t, unconfirmed, 2)
		assert.Equal(t, "tx0", unconfirmed[0].Txid)
		assert.Equal(t, "tx1", unconfirmed[1].Txid)
	})

	t.Run("list order is stable", func(t *testing.T) {
		store := fresh(t)

		for i := range 5 {
			_, err := store.InsertPending(ctx, pendingParams(fmt.Sprintf("s%d", i), 20))
			require.NoError(t, err)
		}

		first, err := store.ListPendingConfirmed(ctx, 0)
		require.NoError(t, err)
		second, err := store.ListPendingConfirmed(ctx, 0)
		require.NoError(t, err)
		require.Len(t, first, 5)
		for i := range first {
			assert.Equal(t, first[i].Txid, second[i].Txid)
		}
	})

	t.Run("mark processed is forward only and idempotent", func(t *testing.T) {
		store := fresh(t)

		_, err := store.InsertPending(ctx, pendingParams("mp1", 20))
		require.NoError(t, err)

		paidAt := time.Now().UTC().Truncate(time.Microsecond)
		require.NoError(t, store.MarkProcessed(ctx, "mp1", "target-1", paidAt))
		require.NoError(t, store.MarkProcessed(ctx, "mp1", "target-2", paidAt.Add(time.Hour)))

		found, err := store.FindByTxid(ctx, "mp1")
		require.NoError(t, err)
		assert.Equal(t, StatusProcessed, found.Status)
		require.NotNil(t, found.TargetTxid)
		assert.Equal(t, "target-1", *found.TargetTxid)
		require.NotNil(t, found.TargetTimestamp)
		assert.WithinDuration(t, paidAt, *found.TargetTimestamp, time.Microsecond)

		eligible, err := store.ListPendingConfirmed(ctx, 0)
		require.NoError(t, err)
		assert.Empty(t, eligible)
	})

	t.Run("mark processed unknown txid", func(t *testing.T) {
		store := fresh(t)

		err := store.MarkProcessed(ctx, "ghost1", "t", time.Now())
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("update confirmations only touches pending", func(t *testing.T) {
		store := fresh(t)

		_, err := store.InsertPending(ctx, pendingParams("uc1", 0))
		require.NoError(t, err)
		_, err = store.InsertPending(ctx, pendingParams("uc2", 30))
		require.NoError(t, err)
		require.NoError(t, store.MarkProcessed(ctx, "uc2", "t2", time.Now()))

		require.NoError(t, store.UpdateConfirmations(ctx, "uc1", 12))
		require.NoError(t, store.UpdateConfirmations(ctx, "uc2", 99))

		uc1, err := store.FindByTxid(ctx, "uc1")
		require.NoError(t, err)
		assert.Equal(t, int64(12), uc1.Confirmations)

		uc2, err := store.FindByTxid(ctx, "uc2")
		require.NoError(t, err)
		assert.Equal(t, int64(30), uc2.Confirmations)
	})

	t.Run("list swaps filters by status", func(t *testing.T) {
		store := fresh(t)

		for i := range 3 {
			_, err := store.InsertPending(ctx, pendingParams(fmt.Sprintf("ls%d", i), 20))
			require.NoError(t, err)
		}
		require.NoError(t, store.MarkProcessed(ctx, "ls1", "t1", time.Now()))

		all, err := store.ListSwaps(ctx, ListSwapsParams{})
		require.NoError(t, err)
		assert.Len(t, all, 3)

		processed := StatusProcessed
		done, err := store.ListSwaps(ctx, ListSwapsParams{Status: &processed})
		require.NoError(t, err)
		require.Len(t, done, 1)
		assert.Equal(t, "ls1", done[0].Txid)

		page, err := store.ListSwaps(ctx, ListSwapsParams{Limit: 1, Offset: 1})
		require.NoError(t, err)
		assert.Len(t, page, 1)
	})
}

func TestStore_RecordsMetrics(t *testing.T) {
	_, pool := newTestStore(t)
	store := NewStore(pool, metrics.NewMetrics(prometheus.NewRegistry()))

	_, err := store.FindByTxid(context.Background(), "missing1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMigrations_Order(t *testing.T) {
	files, err := Migrations()
	require.NoError(t, err)
	require.NotEmpty(t, files)
	assert.Equal(t, "0001_create_swaps.sql", files[0])
	for i := 1; i < len(files); i++ {
		assert.Less(t, files[i-1], files[i])
	}
}

func TestRunMigrations_RecordsVersions(t *testing.T) {
	_, pool := newTestStore(t)
	ctx := context.Background()

	files, err := Migrations()
	require.NoError(t, err)

	applied, err := AppliedMigrations(ctx, pool)
	require.NoError(t, err)
	assert.Equal(t, files, applied)

	var firstApplied time.Time
	require.NoError(t, pool.QueryRow(ctx,
		"SELECT applied_at FROM schema_migrations WHERE version = $1", files[0]).Scan(&firstApplied))

	// A second run applies nothing and leaves the recorded rows alone.
	require.NoError(t, RunMigrations(ctx, pool))

	applied, err = AppliedMigrations(ctx, pool)
	require.NoError(t, err)
	assert.Equal(t, files, applied)

	var again time.Time
	require.NoError(t, pool.QueryRow(ctx,
		"SELECT applied_at FROM schema_migrations WHERE version = $1", files[0]).Scan(&again))
	assert.True(t, firstApplied.Equal(again))
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus("Pending")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, s)

	s, err = ParseStatus("1")
	require.NoError(t, err)
	assert.Equal(t, StatusProcessed, s)

	_, err = ParseStatus("refunded")
	assert.Error(t, err)

	b, err := StatusProcessed.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "processed", string(b))
}
