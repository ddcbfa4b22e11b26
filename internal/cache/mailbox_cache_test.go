package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"foliamail/backend/internal/domain"
	"foliamail/backend/internal/pool"
	"foliamail/backend/internal/queue"
	"foliamail/backend/internal/storage/memory"
)

func testCache(t *testing.T, ttl time.Duration) (*MailboxCache, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	dispatcher := pool.NewDispatcher(2, 64, zap.NewNop())
	dispatcher.Start(context.Background())
	t.Cleanup(dispatcher.Stop)

	q := queue.New(store, dispatcher, zap.NewNop(), nil, queue.DefaultConfig())
	q.Start(context.Background())
	t.Cleanup(q.Close)

	return NewMailboxCache(q, zap.NewNop(), nil, ttl), store
}

func load(t *testing.T, c *MailboxCache, receiverID string) []domain.Mail {
	t.Helper()
	var (
		wg    sync.WaitGroup
		mails []domain.Mail
		err   error
	)
	wg.Add(1)
	c.GetOrLoad(receiverID, func(m []domain.Mail, e error) {
		mails, err = m, e
		wg.Done()
	})
	wg.Wait()
	require.NoError(t, err)
	return mails
}

func TestMailboxCache_LoadAndHit(t *testing.T) {
	c, store := testCache(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, store.InsertMail(ctx, &domain.Mail{ID: "m-1", ReceiverID: "bob", SentTime: 100}))

	mails := load(t, c, "bob")
	require.Len(t, mails, 1)
	assert.Equal(t, 1, c.Size())

	// 命中后直接从缓存取，绕过存储：新插入的邮件不可见
	require.NoError(t, store.InsertMail(ctx, &domain.Mail{ID: "m-2", ReceiverID: "bob", SentTime: 200}))
	mails = load(t, c, "bob")
	assert.Len(t, mails, 1)

	// 失效后重载可见
	c.Invalidate("bob")
	mails = load(t, c, "bob")
	assert.Len(t, mails, 2)
}

func TestMailboxCache_SnapshotIsolation(t *testing.T) {
	c, store := testCache(t, time.Minute)
	require.NoError(t, store.InsertMail(context.Background(), &domain.Mail{ID: "m-1", ReceiverID: "bob", Title: "原标题"}))

	mails := load(t, c, "bob")
	mails[0].Title = "modified"

	cached, ok := c.CachedMails("bob")
	require.True(t, ok)
	assert.Equal(t, "原标题", cached[0].Title)
}

func TestMailboxCache_ConditionalInstallKeepsFresher(t *testing.T) {
	c, _ := testCache(t, time.Minute)

	fresh := []domain.Mail{{ID: "fresh", ReceiverID: "bob"}}
	c.install("bob", fresh)

	// 迟到的旧加载不能覆盖未过期的条目
	stale := []domain.Mail{{ID: "stale", ReceiverID: "bob"}}
	got := c.install("bob", stale)

	require.Len(t, got, 1)
	assert.Equal(t, "fresh", got[0].ID)

	cached, ok := c.CachedMails("bob")
	require.True(t, ok)
	assert.Equal(t, "fresh", cached[0].ID)
}

func TestMailboxCache_TTLExpiry(t *testing.T) {
	c, _ := testCache(t, time.Hour)

	base := time.Now()
	c.now = func() time.Time { return base }
	c.install("bob", []domain.Mail{{ID: "m-1"}})

	_, ok := c.CachedMails("bob")
	assert.True(t, ok)

	// 过期后读不到，而且允许被新加载替换
	c.now = func() time.Time { return base.Add(2 * time.Hour) }
	_, ok = c.CachedMails("bob")
	assert.False(t, ok)

	got := c.install("bob", []domain.Mail{{ID: "m-2"}})
	assert.Equal(t, "m-2", got[0].ID)
}

func TestMailboxCache_CleanExpired(t *testing.T) {
	c, _ := testCache(t, time.Hour)

	base := time.Now()
	c.now = func() time.Time { return base }
	c.install("bob", nil)
	c.install("carol", nil)

	c.now = func() time.Time { return base.Add(30 * time.Minute) }
	c.install("dave", nil)

	c.now = func() time.Time { return base.Add(90 * time.Minute) }
	removed := c.CleanExpired()
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, c.Size())

	_, ok := c.CachedMails("dave")
	assert.True(t, ok)
}

func TestMailboxCache_LoadErrorPropagates(t *testing.T) {
	store := memory.NewStore()
	dispatcher := pool.NewDispatcher(2, 64, zap.NewNop())
	dispatcher.Start(context.Background())
	t.Cleanup(dispatcher.Stop)

	q := queue.New(store, dispatcher, zap.NewNop(), nil, queue.DefaultConfig())
	q.Start(context.Background())
	q.Close() // 队列关闭后加载失败

	c := NewMailboxCache(q, zap.NewNop(), nil, time.Minute)

	var wg sync.WaitGroup
	wg.Add(1)
	var gotErr error
	c.GetOrLoad("bob", func(_ []domain.Mail, err error) {
		gotErr = err
		wg.Done()
	})
	wg.Wait()
	assert.Error(t, gotErr)
}
