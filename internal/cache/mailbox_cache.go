package cache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"foliamail/backend/internal/domain"
	"foliamail/backend/internal/monitoring"
	"foliamail/backend/internal/queue"
	"foliamail/backend/internal/storage"
)

// DefaultTTL 邮箱缓存默认过期时间
const DefaultTTL = 30 * time.Minute

type entry struct {
	mails     []domain.Mail
	expiresAt time.Time
}

// MailboxCache 按接收者缓存收件箱快照
//
// 条目是不可变快照：写入和读出都复制切片，调用方拿到的数据不会被后续
// 加载覆盖。加载走数据库队列；安装采用条件替换，绝不覆盖未过期的条目，
// 避免慢查询回来后用旧数据顶掉新数据。
type MailboxCache struct {
	mu      sync.Mutex
	entries map[string]*entry

	ttl     time.Duration
	queue   *queue.Queue
	logger  *zap.Logger
	metrics *monitoring.Metrics
	now     func() time.Time
}

// NewMailboxCache 创建邮箱缓存。ttl <= 0 时使用默认 30 分钟。
func NewMailboxCache(q *queue.Queue, logger *zap.Logger, metrics *monitoring.Metrics, ttl time.Duration) *MailboxCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MailboxCache{
		entries: make(map[string]*entry),
		ttl:     ttl,
		queue:   q,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// GetOrLoad 获取接收者的收件箱
//
// 命中未过期条目时立即回调；否则经队列加载后回调。回调可能在调用协程
// 或分发池协程上执行，不要在回调里做阻塞操作。
func (c *MailboxCache) GetOrLoad(receiverID string, cb func([]domain.Mail, error)) {
	now := c.now()

	c.mu.Lock()
	e, ok := c.entries[receiverID]
	if ok && now.Before(e.expiresAt) {
		mails := copyMails(e.mails)
		c.mu.Unlock()
		if c.metrics != nil {
			c.metrics.CacheHits.Inc()
		}
		cb(mails, nil)
		return
	}
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.CacheMisses.Inc()
	}
	c.queue.Submit("cache_load_inbox",
		func(ctx context.Context, store storage.Store) (any, error) {
			return store.ListInbox(ctx, receiverID, now.UnixMilli())
		},
		func(v any) {
			mails, _ := v.([]domain.Mail)
			cb(c.install(receiverID, mails), nil)
		},
		func(err error) {
			c.logger.Error("failed to load mailbox",
				zap.String("receiver", receiverID),
				zap.Error(err),
			)
			cb(nil, err)
		},
	)
}

// install 条件安装：仅当没有未过期条目时写入，返回最终生效的快照副本
func (c *MailboxCache) install(receiverID string, mails []domain.Mail) []domain.Mail {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[receiverID]; ok && now.Before(e.expiresAt) {
		// 其他加载或失效后的重载已经装入了更新的数据
		return copyMails(e.mails)
	}
	c.entries[receiverID] = &entry{
		mails:     copyMails(mails),
		expiresAt: now.Add(c.ttl),
	}
	if c.metrics != nil {
		c.metrics.CacheEntries.Set(float64(len(c.entries)))
	}
	return copyMails(mails)
}

// CachedMails 只读取缓存，不触发加载。过期或不存在返回 false。
func (c *MailboxCache) CachedMails(receiverID string) ([]domain.Mail, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[receiverID]
	if !ok || !c.now().Before(e.expiresAt) {
		return nil, false
	}
	return copyMails(e.mails), true
}

// Invalidate 删除某个接收者的缓存条目
func (c *MailboxCache) Invalidate(receiverID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, receiverID)
	if c.metrics != nil {
		c.metrics.CacheEntries.Set(float64(len(c.entries)))
	}
}

// InvalidateAll 清空整个缓存
func (c *MailboxCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*entry)
	if c.metrics != nil {
		c.metrics.CacheEntries.Set(0)
	}
}

// CleanExpired 清理所有过期条目，返回清理数量
func (c *MailboxCache) CleanExpired() int {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for id, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, id)
			removed++
		}
	}
	if c.metrics != nil {
		c.metrics.CacheEntries.Set(float64(len(c.entries)))
	}
	return removed
}

// Size 当前缓存条目数
func (c *MailboxCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func copyMails(mails []domain.Mail) []domain.Mail {
	if mails == nil {
		return []domain.Mail{}
	}
	cp := make([]domain.Mail, len(mails))
	copy(cp, mails)
	return cp
}
