package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"foliamail/backend/internal/domain"
	"foliamail/backend/internal/pool"
	"foliamail/backend/internal/storage"
	"foliamail/backend/internal/storage/memory"
)

func testQueue(t *testing.T, cfg Config) (*Queue, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	dispatcher := pool.NewDispatcher(2, 64, zap.NewNop())
	dispatcher.Start(context.Background())
	t.Cleanup(dispatcher.Stop)

	q := New(store, dispatcher, zap.NewNop(), nil, cfg)
	return q, store
}

func TestQueue_SubmitAndWait(t *testing.T) {
	q, _ := testQueue(t, DefaultConfig())
	q.Start(context.Background())
	defer q.Close()

	mail := &domain.Mail{ID: "m-1", ReceiverID: "bob", Title: "hi"}
	_, err := q.SubmitAndWait(context.Background(), "insert_mail",
		func(ctx context.Context, store storage.Store) (any, error) {
			return nil, store.InsertMail(ctx, mail)
		})
	require.NoError(t, err)

	got, err := q.SubmitAndWait(context.Background(), "get_mail",
		func(ctx context.Context, store storage.Store) (any, error) {
			return store.GetMail(ctx, "m-1")
		})
	require.NoError(t, err)
	assert.Equal(t, "bob", got.(*domain.Mail).ReceiverID)
}

func TestQueue_FIFOOrder(t *testing.T) {
	q, _ := testQueue(t, DefaultConfig())
	q.Start(context.Background())
	defer q.Close()

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		i := i
		wg.Add(1)
		q.Submit("append", func(context.Context, storage.Store) (any, error) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil, nil
		}, func(any) { wg.Done() }, func(error) { wg.Done() })
	}
	wg.Wait()

	require.Len(t, order, 100)
	for i, v := range order {
		assert.Equal(t, i, v, "tasks must execute in submission order")
	}
}

func TestQueue_OverloadReject(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BufferSize = 16
	cfg.OverloadThreshold = 2
	q, _ := testQueue(t, cfg)
	// 不启动 worker，制造积压

	noop := func(context.Context, storage.Store) (any, error) { return nil, nil }
	q.Submit("a", noop, nil, func(err error) { t.Errorf("unexpected error: %v", err) })
	q.Submit("b", noop, nil, func(err error) { t.Errorf("unexpected error: %v", err) })
	require.Equal(t, 2, q.Depth())

	errCh := make(chan error, 1)
	q.Submit("c", noop, nil, func(err error) { errCh <- err })

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrQueueOverload)
	case <-time.After(2 * time.Second):
		t.Fatal("overloaded submit should be rejected immediately")
	}
	// 被拒绝的任务不入队
	assert.Equal(t, 2, q.Depth())
}

func TestQueue_StorageErrorWrapsTaskName(t *testing.T) {
	q, _ := testQueue(t, DefaultConfig())
	q.Start(context.Background())
	defer q.Close()

	boom := errors.New("connection refused")
	_, err := q.SubmitAndWait(context.Background(), "insert_mail",
		func(context.Context, storage.Store) (any, error) {
			return nil, boom
		})
	require.Error(t, err)

	var storageErr *StorageError
	require.ErrorAs(t, err, &storageErr)
	assert.Equal(t, "insert_mail", storageErr.Task)
	assert.ErrorIs(t, err, boom)
}

func TestQueue_PanicBecomesError(t *testing.T) {
	q, _ := testQueue(t, DefaultConfig())
	q.Start(context.Background())
	defer q.Close()

	_, err := q.SubmitAndWait(context.Background(), "bad_task",
		func(context.Context, storage.Store) (any, error) {
			panic("boom")
		})
	require.Error(t, err)

	// 后续任务不受影响
	_, err = q.SubmitAndWait(context.Background(), "noop",
		func(context.Context, storage.Store) (any, error) { return 1, nil })
	assert.NoError(t, err)
}

func TestQueue_CloseDrainsPending(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ShutdownGrace = 5 * time.Second
	q, store := testQueue(t, cfg)

	// 先入队再启动，保证 Close 时仍有积压
	for i := 0; i < 10; i++ {
		id := string(rune('a' + i))
		q.SubmitFireAndForget("insert", func(ctx context.Context, s storage.Store) (any, error) {
			return nil, s.InsertMail(ctx, &domain.Mail{ID: id, ReceiverID: "bob"})
		})
	}
	q.Start(context.Background())
	q.Close()

	count, err := store.CountInbox(context.Background(), "bob", 0)
	require.NoError(t, err)
	assert.Equal(t, 10, count)
}

func TestQueue_SubmitAfterClose(t *testing.T) {
	q, _ := testQueue(t, DefaultConfig())
	q.Start(context.Background())
	q.Close()

	_, err := q.SubmitAndWait(context.Background(), "late",
		func(context.Context, storage.Store) (any, error) { return nil, nil })
	assert.ErrorIs(t, err, ErrQueueClosed)
}
