package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"foliamail/backend/internal/cache"
	"foliamail/backend/internal/domain"
	"foliamail/backend/internal/queue"
	"foliamail/backend/internal/session"
	"foliamail/backend/internal/storage"
)

// MailService 邮件服务门面
//
// 对外暴露发送、领取、读取、删除等操作；内部组合发送管线、
// 领取服务、邮箱缓存与数据库队列。
type MailService struct {
	cfg      Config
	queue    *queue.Queue
	cache    *cache.MailboxCache
	pipeline *Pipeline
	claims   *ClaimService
	sessions session.Directory
	listen   *Listeners
	logger   *zap.Logger

	// 未读提醒抑制：同一次在线期间只提醒一次
	remindMu sync.Mutex
	reminded map[string]struct{}
}

// NewMailService 创建邮件服务
func NewMailService(
	cfg Config,
	q *queue.Queue,
	mailboxCache *cache.MailboxCache,
	pipeline *Pipeline,
	claims *ClaimService,
	sessions session.Directory,
	listeners *Listeners,
	logger *zap.Logger,
) *MailService {
	return &MailService{
		cfg:      cfg,
		queue:    q,
		cache:    mailboxCache,
		pipeline: pipeline,
		claims:   claims,
		sessions: sessions,
		listen:   listeners,
		logger:   logger,
		reminded: make(map[string]struct{}),
	}
}

// RegisterListener 注册邮件事件监听器
func (s *MailService) RegisterListener(listener MailListener) {
	s.listen.Register(listener)
}

// Send 发送单封邮件，即大小为 1 的批次
func (s *MailService) Send(draft domain.Draft, opts domain.SendOptions, isAdmin bool, cb func(*domain.BatchSendResult)) {
	s.SendBatch([]domain.Draft{draft}, opts, isAdmin, cb)
}

// SendBatch 批量发送，同一批次走完整管线，逐接收者出结果
func (s *MailService) SendBatch(drafts []domain.Draft, opts domain.SendOptions, isAdmin bool, cb func(*domain.BatchSendResult)) {
	ctxs := make([]*domain.SendContext, len(drafts))
	for i, draft := range drafts {
		ctxs[i] = domain.NewSendContext(draft, opts, isAdmin)
	}
	s.pipeline.Execute(ctxs, cb)
}

// ResolvePlayerID 按玩家名解析稳定 ID
func (s *MailService) ResolvePlayerID(ctx context.Context, name string) (string, error) {
	v, err := s.queue.SubmitAndWait(ctx, "resolve_player",
		func(opCtx context.Context, store storage.Store) (any, error) {
			return store.GetPlayerIDByName(opCtx, name)
		})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// SendToName 按接收者名字发送，名字无法解析时以 RECEIVER_NOT_FOUND 失败
func (s *MailService) SendToName(draft domain.Draft, receiverName string, opts domain.SendOptions, isAdmin bool, cb func(*domain.BatchSendResult)) {
	receiverID, err := s.ResolvePlayerID(context.Background(), receiverName)
	if err != nil {
		draft.ReceiverID = receiverName
		cb(domain.AllFailed([]*domain.SendContext{domain.NewSendContext(draft, opts, isAdmin)}, domain.FailReceiverNotFound))
		return
	}
	draft.ReceiverID = receiverID
	draft.ReceiverName = receiverName
	s.Send(draft, opts, isAdmin, cb)
}

// Claim 领取邮件附件
func (s *MailService) Claim(mailID, callerID string, isAdmin bool, cb func(*ClaimResult)) {
	s.claims.Claim(mailID, callerID, isAdmin, cb)
}

// GetOrLoadMails 获取收件箱，优先走缓存
func (s *MailService) GetOrLoadMails(receiverID string, cb func([]domain.Mail, error)) {
	s.cache.GetOrLoad(receiverID, cb)
}

// MarkRead 标记已读并刷新接收者缓存
func (s *MailService) MarkRead(mailID string, cb func(error)) {
	now := time.Now().UnixMilli()
	s.queue.Submit("mark_read",
		func(opCtx context.Context, store storage.Store) (any, error) {
			mail, err := store.GetMail(opCtx, mailID)
			if err != nil {
				return nil, err
			}
			if err := store.MarkRead(opCtx, mailID, true, now); err != nil {
				return nil, err
			}
			return mail, nil
		},
		func(v any) {
			s.cache.Invalidate(v.(*domain.Mail).ReceiverID)
			if cb != nil {
				cb(nil)
			}
		},
		func(err error) {
			if cb != nil {
				cb(err)
			}
		},
	)
}

// Delete 删除邮件，只有接收者本人可删
func (s *MailService) Delete(mailID, callerID string, cb func(error)) {
	s.queue.Submit("delete_mail",
		func(opCtx context.Context, store storage.Store) (any, error) {
			return nil, store.DeleteMail(opCtx, mailID, callerID)
		},
		func(any) {
			s.cache.Invalidate(callerID)
			if cb != nil {
				cb(nil)
			}
		},
		func(err error) {
			if cb != nil {
				cb(err)
			}
		},
	)
}

// DeleteByAdmin 管理员删除，不校验归属
func (s *MailService) DeleteByAdmin(mailID string, cb func(error)) {
	s.queue.Submit("delete_mail_admin",
		func(opCtx context.Context, store storage.Store) (any, error) {
			mail, err := store.GetMail(opCtx, mailID)
			if err != nil {
				return nil, err
			}
			return mail, store.DeleteMailByID(opCtx, mailID)
		},
		func(v any) {
			s.cache.Invalidate(v.(*domain.Mail).ReceiverID)
			if cb != nil {
				cb(nil)
			}
		},
		func(err error) {
			if cb != nil {
				cb(err)
			}
		},
	)
}

// ClearInbox 清空收件箱，回调收到删除数量
func (s *MailService) ClearInbox(receiverID string, cb func(int, error)) {
	s.queue.Submit("clear_inbox",
		func(opCtx context.Context, store storage.Store) (any, error) {
			return store.ClearInbox(opCtx, receiverID)
		},
		func(v any) {
			s.cache.Invalidate(receiverID)
			if cb != nil {
				cb(v.(int), nil)
			}
		},
		func(err error) {
			if cb != nil {
				cb(0, err)
			}
		},
	)
}

// maxSentListing 发件箱查询上限
const maxSentListing = 100

// ListSent 查询发件箱，最多返回最近 100 封
func (s *MailService) ListSent(senderID string, cb func([]domain.Mail, error)) {
	s.queue.Submit("list_sent",
		func(opCtx context.Context, store storage.Store) (any, error) {
			return store.ListSent(opCtx, senderID, maxSentListing)
		},
		func(v any) { cb(v.([]domain.Mail), nil) },
		func(err error) { cb(nil, err) },
	)
}

// UnreadCount 统计未读邮件数，走缓存
func (s *MailService) UnreadCount(receiverID string, cb func(int, error)) {
	s.cache.GetOrLoad(receiverID, func(mails []domain.Mail, err error) {
		if err != nil {
			cb(0, err)
			return
		}
		count := 0
		for i := range mails {
			if !mails[i].IsRead {
				count++
			}
		}
		cb(count, nil)
	})
}

// RemindUnread 玩家上线时提醒未读邮件，同一次在线期间只提醒一次
func (s *MailService) RemindUnread(receiverID string) {
	s.remindMu.Lock()
	_, done := s.reminded[receiverID]
	if !done {
		s.reminded[receiverID] = struct{}{}
	}
	s.remindMu.Unlock()
	if done {
		return
	}

	s.UnreadCount(receiverID, func(count int, err error) {
		if err != nil || count == 0 {
			return
		}
		if s.sessions != nil {
			s.sessions.SendMessage(receiverID, fmt.Sprintf("你有 %d 封未读邮件", count))
		}
	})
}

// ResetReminder 玩家下线时重置提醒抑制
func (s *MailService) ResetReminder(receiverID string) {
	s.remindMu.Lock()
	delete(s.reminded, receiverID)
	s.remindMu.Unlock()
}

// MarkReadStatus 管理员覆盖已读状态
func (s *MailService) MarkReadStatus(ctx context.Context, mailID string, read bool) error {
	readTime := int64(0)
	if read {
		readTime = time.Now().UnixMilli()
	}
	_, err := s.queue.SubmitAndWait(ctx, "set_read_status",
		func(opCtx context.Context, store storage.Store) (any, error) {
			return nil, store.MarkRead(opCtx, mailID, read, readTime)
		})
	return err
}

// SetClaimedStatus 管理员覆盖领取状态，这是领取标志单调性的唯一例外
func (s *MailService) SetClaimedStatus(ctx context.Context, mailID string, claimed bool) error {
	_, err := s.queue.SubmitAndWait(ctx, "set_claimed_status",
		func(opCtx context.Context, store storage.Store) (any, error) {
			return nil, store.SetClaimed(opCtx, mailID, claimed)
		})
	return err
}

// SweepExpired 立即清理一次过期邮件
func (s *MailService) SweepExpired(cb func(int, error)) {
	now := time.Now().UnixMilli()
	s.queue.Submit("sweep_expired",
		func(opCtx context.Context, store storage.Store) (any, error) {
			return store.DeleteExpired(opCtx, now)
		},
		func(v any) {
			deleted := v.(int)
			if deleted > 0 {
				s.cache.InvalidateAll()
				s.logger.Info("expired mails swept", zap.Int("deleted", deleted))
			}
			if cb != nil {
				cb(deleted, nil)
			}
		},
		func(err error) {
			s.logger.Error("expiry sweep failed", zap.Error(err))
			if cb != nil {
				cb(0, err)
			}
		},
	)
}

// RunSweeper 周期清理过期邮件和过期缓存条目，阻塞直到 ctx 取消
func (s *MailService) RunSweeper(ctx context.Context) {
	interval := s.cfg.SweepInterval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("expiry sweeper stopped")
			return
		case <-ticker.C:
			s.SweepExpired(nil)
			s.cache.CleanExpired()
		}
	}
}
