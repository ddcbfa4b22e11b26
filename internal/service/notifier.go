package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"foliamail/backend/internal/cache"
	"foliamail/backend/internal/domain"
	"foliamail/backend/internal/monitoring"
	"foliamail/backend/internal/queue"
	"foliamail/backend/internal/session"
	"foliamail/backend/internal/storage"
)

// Notifier 跨服新邮件通知器
//
// 周期轮询其他进程写入的邮件。查询窗口比上次检查点多回看一个
// 重叠缓冲，宁可捞到重复候选也不漏行；重复靠有界 LRU 去重集合
// 过滤。本进程发出的邮件由持久化过滤器预先标记，不会自我通知。
type Notifier struct {
	queue    *queue.Queue
	cache    *cache.MailboxCache
	sessions session.Directory
	logger   *zap.Logger
	metrics  *monitoring.Metrics

	serverID string
	interval time.Duration
	overlap  time.Duration
	seen     *lruSet

	mu        sync.Mutex
	lastCheck int64 // 毫秒时间戳
	now       func() time.Time
}

// NewNotifier 创建跨服通知器
func NewNotifier(
	cfg Config,
	q *queue.Queue,
	mailboxCache *cache.MailboxCache,
	sessions session.Directory,
	metrics *monitoring.Metrics,
	logger *zap.Logger,
) *Notifier {
	interval := cfg.NotifyInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	overlap := cfg.NotifyOverlap
	if overlap <= 0 {
		overlap = time.Second
	}
	dedupCap := cfg.NotifyDedupCap
	if dedupCap <= 0 {
		dedupCap = 10000
	}
	return &Notifier{
		queue:    q,
		cache:    mailboxCache,
		sessions: sessions,
		logger:   logger,
		metrics:  metrics,
		serverID: cfg.ServerID,
		interval: interval,
		overlap:  overlap,
		seen:     newLRUSet(dedupCap),
		now:      time.Now,
	}
}

// MarkLocal 预先登记本进程发出的邮件，轮询到也不会重复通知
func (n *Notifier) MarkLocal(mailID string) {
	n.seen.Add(mailID)
}

// Run 启动轮询，阻塞直到 ctx 取消
func (n *Notifier) Run(ctx context.Context) {
	n.mu.Lock()
	n.lastCheck = n.now().UnixMilli()
	n.mu.Unlock()

	ticker := time.NewTicker(n.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			n.logger.Info("cross-server notifier stopped")
			return
		case <-ticker.C:
			n.Poll(ctx)
		}
	}
}

// Poll 执行一次轮询。失败只记日志，下个周期重试。
func (n *Notifier) Poll(ctx context.Context) {
	if n.metrics != nil {
		n.metrics.NotifierTicks.Inc()
	}

	n.mu.Lock()
	since := n.lastCheck - n.overlap.Milliseconds()
	n.mu.Unlock()
	checkpoint := n.now().UnixMilli()

	v, err := n.queue.SubmitAndWait(ctx, "poll_new_mail",
		func(opCtx context.Context, store storage.Store) (any, error) {
			return store.ListNewMailSince(opCtx, since, n.serverID)
		})
	if err != nil {
		if n.metrics != nil {
			n.metrics.NotifierErrors.Inc()
		}
		n.logger.Error("notifier poll failed", zap.Error(err))
		return
	}

	notifications := v.([]domain.MailNotification)
	for _, notification := range notifications {
		n.handle(notification)
	}

	// 检查点只在轮询成功后前移，失败的窗口下次整体重查
	n.mu.Lock()
	n.lastCheck = checkpoint
	n.mu.Unlock()
}

func (n *Notifier) handle(notification domain.MailNotification) {
	if !n.seen.Add(notification.MailID) {
		if n.metrics != nil {
			n.metrics.NotifierDuplicates.Inc()
		}
		return
	}

	if n.sessions == nil || !n.sessions.IsOnline(notification.ReceiverID) {
		return
	}

	n.cache.Invalidate(notification.ReceiverID)
	if n.sessions.NotifyNewMail(notification.ReceiverID, notification) && n.metrics != nil {
		n.metrics.NotifierDelivered.Inc()
	}
}
