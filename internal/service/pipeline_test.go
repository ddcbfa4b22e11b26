package service

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"foliamail/backend/internal/cache"
	"foliamail/backend/internal/codec"
	"foliamail/backend/internal/domain"
	"foliamail/backend/internal/pool"
	"foliamail/backend/internal/queue"
	"foliamail/backend/internal/storage"
	"foliamail/backend/internal/storage/memory"
)

func TestSend_SuccessWithInlineNotification(t *testing.T) {
	env := newTestEnv(t, DefaultServiceConfig())
	env.sessions.SetOnline("bob", true)

	result := env.send(t, testDraft("alice", "bob"), domain.DefaultOptions(), false)
	checkInvariant(t, result)

	require.True(t, result.IsAllSuccess())
	assert.Equal(t, 1, result.SuccessCount())
	assert.True(t, result.IsSuccess("bob"))

	// 落库后 claimed=false，在线接收者收到即时通知
	mails, err := env.store.ListInbox(context.Background(), "bob", 0)
	require.NoError(t, err)
	require.Len(t, mails, 1)
	assert.False(t, mails[0].IsClaimed)
	assert.Equal(t, env.cfg.ServerID, mails[0].ServerID)

	assert.Len(t, env.sessions.Notifications("bob"), 1)
}

func TestSend_ValidationFailsWholeBatch(t *testing.T) {
	cfg := DefaultServiceConfig()
	cfg.Postage = 10
	env := newTestEnv(t, cfg)
	env.wallet.SetBalance("alice", 1000)

	bad := testDraft("alice", "bob")
	bad.Title = strings.Repeat("超", cfg.MaxTitleLength+1)
	good := testDraft("alice", "carol")

	result := env.sendBatch(t, []domain.Draft{good, bad}, domain.DefaultOptions(), false)
	checkInvariant(t, result)

	require.True(t, result.IsAllFailed())
	for _, receiver := range []string{"bob", "carol"} {
		reason, ok := result.FailReasonOf(receiver)
		require.True(t, ok)
		assert.Equal(t, domain.FailInvalidContent, reason)
	}

	// 校验失败不得扣费、不得落库
	balance, _ := env.wallet.GetBalance(context.Background(), "alice")
	assert.Equal(t, 1000.0, balance)
	count, _ := env.store.CountInbox(context.Background(), "carol", 0)
	assert.Equal(t, 0, count)
}

func TestSend_InjectionContentRejected(t *testing.T) {
	env := newTestEnv(t, DefaultServiceConfig())

	draft := testDraft("alice", "bob")
	draft.Content = `看这里 <script>alert(1)</script>`

	result := env.send(t, draft, domain.DefaultOptions(), false)
	checkInvariant(t, result)

	require.True(t, result.IsAllFailed())
	reason, ok := result.FailReasonOf("bob")
	require.True(t, ok)
	assert.Equal(t, domain.FailInvalidContent, reason)
}

func TestSend_MailboxFullNoCharge(t *testing.T) {
	cfg := DefaultServiceConfig()
	cfg.MaxMailboxSize = 2
	cfg.Postage = 10
	env := newTestEnv(t, cfg)
	env.wallet.SetBalance("alice", 1000)

	for i := 0; i < 2; i++ {
		require.NoError(t, env.store.InsertMail(context.Background(), &domain.Mail{
			ID: fmt.Sprintf("pre-%d", i), ReceiverID: "bob", SentTime: int64(i),
		}))
	}

	result := env.send(t, testDraft("alice", "bob"), domain.DefaultOptions(), false)
	checkInvariant(t, result)

	reason, ok := result.FailReasonOf("bob")
	require.True(t, ok)
	assert.Equal(t, domain.FailMailboxFull, reason)

	balance, _ := env.wallet.GetBalance(context.Background(), "alice")
	assert.Equal(t, 1000.0, balance, "mailbox-full rejection must not charge")
}

func TestSend_DailyLimitReached(t *testing.T) {
	cfg := DefaultServiceConfig()
	cfg.DailyLimit = 3
	env := newTestEnv(t, cfg)

	_, err := env.queue.SubmitAndWait(context.Background(), "seed",
		func(opCtx context.Context, store storage.Store) (any, error) {
			return nil, store.IncrementSendLog(opCtx, "alice", env.sendLog.Today(), 3)
		})
	require.NoError(t, err)

	result := env.send(t, testDraft("alice", "bob"), domain.DefaultOptions(), false)
	reason, ok := result.FailReasonOf("bob")
	require.True(t, ok)
	assert.Equal(t, domain.FailDailyLimitReached, reason)
}

func TestSend_Blacklisted(t *testing.T) {
	env := newTestEnv(t, DefaultServiceConfig())
	require.NoError(t, env.blacklist.Add(context.Background(), "bob", "alice"))

	result := env.send(t, testDraft("alice", "bob"), domain.DefaultOptions(), false)
	reason, ok := result.FailReasonOf("bob")
	require.True(t, ok)
	assert.Equal(t, domain.FailBlacklisted, reason)
}

func TestSend_InsufficientFundsNothingStored(t *testing.T) {
	cfg := DefaultServiceConfig()
	cfg.Postage = 50
	env := newTestEnv(t, cfg)
	env.wallet.SetBalance("alice", 10)

	result := env.send(t, testDraft("alice", "bob"), domain.DefaultOptions(), false)
	reason, ok := result.FailReasonOf("bob")
	require.True(t, ok)
	assert.Equal(t, domain.FailInsufficientFunds, reason)

	// 付不起的邮件不落库
	count, _ := env.store.CountInbox(context.Background(), "bob", 0)
	assert.Equal(t, 0, count)
}

func TestSend_ChargesOncePerSenderAndTracksCost(t *testing.T) {
	cfg := DefaultServiceConfig()
	cfg.Postage = 10
	cfg.AttachmentFee = 5
	env := newTestEnv(t, cfg)
	env.wallet.SetBalance("alice", 1000)

	withItems := testDraft("alice", "bob")
	withItems.Items = []domain.ItemStack{{TypeID: "diamond", Amount: 3}}
	withMoney := testDraft("alice", "carol")
	withMoney.MoneyAmount = 20

	result := env.sendBatch(t, []domain.Draft{withItems, withMoney}, domain.DefaultOptions(), false)
	checkInvariant(t, result)
	require.True(t, result.IsAllSuccess())

	// bob: 10 + 5*1 = 15，carol: 10 + 20 = 30
	assert.Equal(t, 45.0, result.TotalCost())
	balance, _ := env.wallet.GetBalance(context.Background(), "alice")
	assert.Equal(t, 955.0, balance)
}

func TestSend_AdminBypassesLimits(t *testing.T) {
	cfg := DefaultServiceConfig()
	cfg.MaxMailboxSize = 1
	cfg.DailyLimit = 1
	env := newTestEnv(t, cfg)

	require.NoError(t, env.store.InsertMail(context.Background(), &domain.Mail{
		ID: "pre-1", ReceiverID: "bob", SentTime: 1,
	}))
	require.NoError(t, env.blacklist.Add(context.Background(), "bob", "admin"))

	result := env.send(t, testDraft("admin", "bob"), domain.SystemMailOptions(), true)
	checkInvariant(t, result)
	assert.True(t, result.IsAllSuccess())
}

func TestSend_PartialSuccessBroadcast(t *testing.T) {
	cfg := DefaultServiceConfig()
	cfg.MaxMailboxSize = 2
	env := newTestEnv(t, cfg)

	// full-0 的邮箱已满，其余 99 个接收者为空
	for i := 0; i < 2; i++ {
		require.NoError(t, env.store.InsertMail(context.Background(), &domain.Mail{
			ID: fmt.Sprintf("pre-%d", i), ReceiverID: "full-0", SentTime: int64(i),
		}))
	}

	drafts := make([]domain.Draft, 0, 100)
	drafts = append(drafts, testDraft("alice", "full-0"))
	for i := 1; i < 100; i++ {
		drafts = append(drafts, testDraft("alice", fmt.Sprintf("player-%d", i)))
	}

	result := env.sendBatch(t, drafts, domain.DefaultOptions(), false)
	checkInvariant(t, result)

	assert.Equal(t, 100, result.TotalCount())
	assert.Equal(t, 99, result.SuccessCount())
	assert.Equal(t, 1, result.FailCount())
	assert.True(t, result.IsPartialSuccess())

	reason, ok := result.FailReasonOf("full-0")
	require.True(t, ok)
	assert.Equal(t, domain.FailMailboxFull, reason)
}

func TestSend_SuccessIncrementsSendLog(t *testing.T) {
	env := newTestEnv(t, DefaultServiceConfig())

	result := env.sendBatch(t, []domain.Draft{
		testDraft("alice", "bob"),
		testDraft("alice", "carol"),
	}, domain.DefaultOptions(), false)
	require.True(t, result.IsAllSuccess())

	// 计数经队列异步累加，轮询等待
	require.Eventually(t, func() bool {
		count, err := env.sendLog.CountToday(context.Background(), "alice")
		return err == nil && count == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSend_QueueOverloadClassified(t *testing.T) {
	logger := zap.NewNop()
	store := memory.NewStore()
	dispatcher := pool.NewDispatcher(2, 64, logger)
	dispatcher.Start(context.Background())
	t.Cleanup(dispatcher.Stop)

	// 队列不启动 worker 且过载阈值为 1：预占一个任务后，落库提交被立即拒绝
	qcfg := queue.DefaultConfig()
	qcfg.OverloadThreshold = 1
	q := queue.New(store, dispatcher, logger, nil, qcfg)
	q.Submit("occupy", func(context.Context, storage.Store) (any, error) { return nil, nil }, nil, nil)

	cfg := DefaultServiceConfig()
	cfg.MaxMailboxSize = 0
	cfg.DailyLimit = 0
	cfg.EconomyEnabled = false
	mailboxCache := cache.NewMailboxCache(q, logger, nil, 0)

	pipeline := NewPipeline(logger, nil,
		NewValidationFilter(cfg, logger),
		NewPersistenceFilter(cfg, q, codec.NewGzipJSON(), mailboxCache, nil, NewSendLogManager(q, logger), nil, NewListeners(), nil, logger),
	)

	ch := make(chan *domain.BatchSendResult, 1)
	pipeline.Execute([]*domain.SendContext{
		domain.NewSendContext(testDraft("alice", "bob"), domain.DefaultOptions(), false),
	}, func(r *domain.BatchSendResult) { ch <- r })

	result := <-ch
	checkInvariant(t, result)
	reason, ok := result.FailReasonOf("bob")
	require.True(t, ok)
	assert.Equal(t, domain.FailQueueOverload, reason)
}

func TestSend_FilterPanicYieldsUnknown(t *testing.T) {
	logger := zap.NewNop()
	pipeline := NewPipeline(logger, nil, panicFilter{})

	ch := make(chan *domain.BatchSendResult, 1)
	pipeline.Execute([]*domain.SendContext{
		domain.NewSendContext(testDraft("alice", "bob"), domain.DefaultOptions(), false),
	}, func(r *domain.BatchSendResult) { ch <- r })

	result := <-ch
	checkInvariant(t, result)
	reason, ok := result.FailReasonOf("bob")
	require.True(t, ok)
	assert.Equal(t, domain.FailUnknown, reason)
}

type panicFilter struct{}

func (panicFilter) Name() string { return "panicky" }

func (panicFilter) Filter([]*domain.SendContext, *Chain) {
	panic("boom")
}

func TestClassifyStorageError(t *testing.T) {
	cases := []struct {
		err  error
		want domain.FailReason
	}{
		{queue.ErrQueueOverload, domain.FailQueueOverload},
		{fmt.Errorf("submit: %w", queue.ErrQueueOverload), domain.FailQueueOverload},
		{fmt.Errorf("mailbox limit reached"), domain.FailMailboxFull},
		{fmt.Errorf("recipient inbox is FULL"), domain.FailMailboxFull},
		{fmt.Errorf("邮箱容量不足"), domain.FailMailboxFull},
		{fmt.Errorf("收件箱已满"), domain.FailMailboxFull},
		{fmt.Errorf("connection refused"), domain.FailDatabaseError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, classifyStorageError(tc.err), "err=%v", tc.err)
	}
}
