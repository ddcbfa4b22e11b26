package service

import (
	"context"
	"sync"
	"testing"

	"go.uber.org/zap"

	"foliamail/backend/internal/cache"
	"foliamail/backend/internal/codec"
	"foliamail/backend/internal/domain"
	"foliamail/backend/internal/economy"
	"foliamail/backend/internal/pool"
	"foliamail/backend/internal/queue"
	"foliamail/backend/internal/session"
	"foliamail/backend/internal/storage/memory"
)

// fakeInventory 记录发放的物品
type fakeInventory struct {
	mu     sync.Mutex
	grants map[string][]domain.ItemStack
}

func newFakeInventory() *fakeInventory {
	return &fakeInventory{grants: make(map[string][]domain.ItemStack)}
}

func (f *fakeInventory) GrantItems(playerID string, items []domain.ItemStack) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.grants[playerID] = append(f.grants[playerID], items...)
}

func (f *fakeInventory) granted(playerID string) []domain.ItemStack {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.ItemStack(nil), f.grants[playerID]...)
}

type testEnv struct {
	cfg       Config
	store     *memory.Store
	queue     *queue.Queue
	cache     *cache.MailboxCache
	wallet    *economy.MemoryWallet
	sessions  *session.MemoryDirectory
	inventory *fakeInventory
	notifier  *Notifier
	claims    *ClaimService
	blacklist *BlacklistManager
	sendLog   *SendLogManager
	listen    *Listeners
	mail      *MailService
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	logger := zap.NewNop()

	store := memory.NewStore()
	dispatcher := pool.NewDispatcher(4, 256, logger)
	dispatcher.Start(context.Background())
	t.Cleanup(dispatcher.Stop)

	q := queue.New(store, dispatcher, logger, nil, queue.DefaultConfig())
	q.Start(context.Background())
	t.Cleanup(q.Close)

	mailboxCache := cache.NewMailboxCache(q, logger, nil, 0)
	wallet := economy.NewMemoryWallet()
	sessions := session.NewMemoryDirectory()
	inventory := newFakeInventory()
	mailCodec := codec.NewGzipJSON()
	listeners := NewListeners()

	blacklist := NewBlacklistManager(q, logger)
	sendLog := NewSendLogManager(q, logger)
	notifier := NewNotifier(cfg, q, mailboxCache, sessions, nil, logger)
	claims := NewClaimService(q, mailboxCache, mailCodec, wallet, inventory, listeners, nil, logger)

	pipeline := NewPipeline(logger, nil,
		NewValidationFilter(cfg, logger),
		NewMailboxLimitFilter(cfg, q, logger),
		NewDailyLimitFilter(cfg, sendLog, logger),
		NewBlacklistFilter(blacklist, logger),
		NewEconomyFilter(cfg, wallet, logger),
		NewPersistenceFilter(cfg, q, mailCodec, mailboxCache, sessions, sendLog, notifier, listeners, nil, logger),
	)

	mail := NewMailService(cfg, q, mailboxCache, pipeline, claims, sessions, listeners, logger)

	return &testEnv{
		cfg:       cfg,
		store:     store,
		queue:     q,
		cache:     mailboxCache,
		wallet:    wallet,
		sessions:  sessions,
		inventory: inventory,
		notifier:  notifier,
		claims:    claims,
		blacklist: blacklist,
		sendLog:   sendLog,
		listen:    listeners,
		mail:      mail,
	}
}

// send 同步发送单封邮件
func (e *testEnv) send(t *testing.T, draft domain.Draft, opts domain.SendOptions, isAdmin bool) *domain.BatchSendResult {
	t.Helper()
	return e.sendBatch(t, []domain.Draft{draft}, opts, isAdmin)
}

// sendBatch 同步批量发送
func (e *testEnv) sendBatch(t *testing.T, drafts []domain.Draft, opts domain.SendOptions, isAdmin bool) *domain.BatchSendResult {
	t.Helper()
	ch := make(chan *domain.BatchSendResult, 1)
	e.mail.SendBatch(drafts, opts, isAdmin, func(r *domain.BatchSendResult) { ch <- r })
	return <-ch
}

// claim 同步领取
func (e *testEnv) claim(t *testing.T, mailID, callerID string, isAdmin bool) *ClaimResult {
	t.Helper()
	ch := make(chan *ClaimResult, 1)
	e.mail.Claim(mailID, callerID, isAdmin, func(r *ClaimResult) { ch <- r })
	return <-ch
}

func testDraft(sender, receiver string) domain.Draft {
	return domain.Draft{
		SenderID:     sender,
		SenderName:   "sender-" + sender,
		ReceiverID:   receiver,
		ReceiverName: "receiver-" + receiver,
		Title:        "测试邮件",
		Content:      "测试内容",
	}
}

// checkInvariant 校验 totalCount == successCount + failCount 等结果不变式
func checkInvariant(t *testing.T, r *domain.BatchSendResult) {
	t.Helper()
	if r.TotalCount() != r.SuccessCount()+r.FailCount() {
		t.Errorf("totalCount %d != successCount %d + failCount %d",
			r.TotalCount(), r.SuccessCount(), r.FailCount())
	}
	if len(r.SuccessReceivers()) != r.SuccessCount() {
		t.Errorf("successReceivers size %d != successCount %d",
			len(r.SuccessReceivers()), r.SuccessCount())
	}
}
