package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"foliamail/backend/internal/domain"
	"foliamail/backend/internal/queue"
	"foliamail/backend/internal/storage"
)

// MailboxLimitFilter 收件箱容量检查
//
// 检查与持久化之间存在竞态窗口：同一收件人并发收信时可能略微
// 超出上限，这是有意容忍的（见持久化过滤器的错误归类兜底）。
type MailboxLimitFilter struct {
	cfg    Config
	queue  *queue.Queue
	logger *zap.Logger
}

// NewMailboxLimitFilter 创建收件箱容量过滤器
func NewMailboxLimitFilter(cfg Config, q *queue.Queue, logger *zap.Logger) *MailboxLimitFilter {
	return &MailboxLimitFilter{cfg: cfg, queue: q, logger: logger}
}

func (f *MailboxLimitFilter) Name() string { return "mailbox_limit" }

func (f *MailboxLimitFilter) Filter(ctxs []*domain.SendContext, chain *Chain) {
	if f.cfg.MaxMailboxSize <= 0 {
		chain.Next(ctxs)
		return
	}

	// 去重后一次性查询所有需要检查的收件人
	receiverSet := make(map[string]struct{})
	for _, sc := range ctxs {
		if !sc.SkipMailboxCheck() {
			receiverSet[sc.Draft.ReceiverID] = struct{}{}
		}
	}
	if len(receiverSet) == 0 {
		chain.Next(ctxs)
		return
	}

	receivers := make([]string, 0, len(receiverSet))
	for id := range receiverSet {
		receivers = append(receivers, id)
	}

	now := time.Now().UnixMilli()
	v, err := f.queue.SubmitAndWait(context.Background(), "count_inbox_batch",
		func(opCtx context.Context, store storage.Store) (any, error) {
			return store.CountInboxBatch(opCtx, receivers, now)
		})
	if err != nil {
		f.logger.Error("mailbox limit check failed", zap.Error(err))
		chain.Fail(ctxs, domain.FailDatabaseError)
		return
	}
	counts := v.(map[string]int)

	var remaining []*domain.SendContext
	for _, sc := range ctxs {
		if !sc.SkipMailboxCheck() && counts[sc.Draft.ReceiverID] >= f.cfg.MaxMailboxSize {
			chain.FailContext(sc, domain.FailMailboxFull)
			continue
		}
		remaining = append(remaining, sc)
	}
	chain.Next(remaining)
}
