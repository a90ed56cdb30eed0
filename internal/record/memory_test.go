package record_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/payment-gateway/internal/amount"
	"github.com/yourorg/payment-gateway/internal/record"
)

func newTestTx() *record.Transaction {
	return record.New("mellat", amount.MustParse("100000", amount.CurrencyIRT), "order-1", "10.0.0.1", nil)
}

func TestMemoryStore_CreateAndFind(t *testing.T) {
	ctx := context.Background()
	store := record.NewMemoryStore()
	tx := newTestTx()

	require.NoError(t, store.Create(ctx, tx))

	got, err := store.Find(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, tx.ID, got.ID)
	assert.Equal(t, record.StatusInit, got.Status)
	assert.Equal(t, "order-1", got.OrderID)

	// Snapshots are isolated from the stored record.
	got.Status = record.StatusFailed
	again, err := store.Find(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, record.StatusInit, again.Status)

	t.Run("duplicate id rejected", func(t *testing.T) {
		assert.Error(t, store.Create(ctx, tx))
	})

	t.Run("unknown id is not found", func(t *testing.T) {
		_, err := store.Find(ctx, "missing")
		assert.ErrorIs(t, err, record.ErrNotFound)
	})
}

func TestMemoryStore_UpdateReference(t *testing.T) {
	ctx := context.Background()
	store := record.NewMemoryStore()
	tx := newTestTx()
	require.NoError(t, store.Create(ctx, tx))

	require.NoError(t, store.UpdateReference(ctx, tx.ID, "ref-42", "tok-42"))

	got, err := store.Find(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, "ref-42", got.ReferenceID)
	assert.Equal(t, "tok-42", got.Token)
}

func TestMemoryStore_MarkSucceededUnderLock(t *testing.T) {
	ctx := context.Background()
	store := record.NewMemoryStore()
	tx := newTestTx()
	require.NoError(t, store.Create(ctx, tx))

	locked, err := store.FindForUpdate(ctx, tx.ID)
	require.NoError(t, err)

	paidAt := time.Now()
	err = locked.MarkSucceeded(ctx,
		record.Settlement{TraceNumber: "tr-9", CardNumber: "6104****1234", RRN: "rrn-9", PaidAt: paidAt},
		record.LogEntry{Code: "0", Message: "SUCCEEDED", Timestamp: paidAt})
	require.NoError(t, err)

	got, err := store.Find(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, record.StatusSucceeded, got.Status)
	assert.Equal(t, "tr-9", got.TraceNumber)
	assert.Equal(t, "rrn-9", got.RRN)
	assert.Equal(t, "6104****1234", got.CardNumber)
	require.NotNil(t, got.PaidAt)
	require.Len(t, got.Log, 1)
	assert.Equal(t, "SUCCEEDED", got.Log[0].Message)

	has, err := store.HasTraceNumber(ctx, "tr-9")
	require.NoError(t, err)
	assert.True(t, has)

	has, err = store.HasTraceNumber(ctx, "other")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestMemoryStore_LockExcludesSecondSettler(t *testing.T) {
	ctx := context.Background()
	store := record.NewMemoryStore()
	tx := newTestTx()
	require.NoError(t, store.Create(ctx, tx))

	first, err := store.FindForUpdate(ctx, tx.ID)
	require.NoError(t, err)

	var wg sync.WaitGroup
	var secondStatus record.Status
	wg.Add(1)
	go func() {
		defer wg.Done()
		// Blocks until the first holder commits.
		second, err := store.FindForUpdate(ctx, tx.ID)
		if err != nil {
			return
		}
		secondStatus = second.Transaction().Status
		_ = second.Release(ctx)
	}()

	time.Sleep(20 * time.Millisecond) // let the goroutine block on the lock
	require.NoError(t, first.MarkFailed(ctx, record.LogEntry{Code: "x", Message: "failed", Timestamp: time.Now()}))
	wg.Wait()

	assert.Equal(t, record.StatusFailed, secondStatus,
		"the loser of the race must observe the terminal status")
}

func TestMemoryStore_List(t *testing.T) {
	ctx := context.Background()
	store := record.NewMemoryStore()

	a := newTestTx()
	require.NoError(t, store.Create(ctx, a))
	b := record.New("zarinpal", amount.MustParse("5000", amount.CurrencyIRR), "order-2", "", nil)
	require.NoError(t, store.Create(ctx, b))

	all, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, a.ID, all[0].ID, "ULID order follows creation order")
}

func TestTransaction_AppendLog(t *testing.T) {
	tx := newTestTx()
	tx.AppendLog("45", "declined")
	require.Len(t, tx.Log, 1)
	assert.Equal(t, "45", tx.Log[0].Code)
	assert.False(t, tx.Log[0].Timestamp.IsZero())
}
