package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"foliamail/backend/internal/cache"
	"foliamail/backend/internal/codec"
	"foliamail/backend/internal/domain"
	"foliamail/backend/internal/monitoring"
	"foliamail/backend/internal/queue"
	"foliamail/backend/internal/session"
	"foliamail/backend/internal/storage"
)

// localMarker 把本进程新发的邮件 ID 预先记入跨服通知器的去重集合，
// 避免发送者所在进程对自己的投递重复通知
type localMarker interface {
	MarkLocal(mailID string)
}

// PersistenceFilter 落库
//
// 每封邮件单独入队，单独决定成败：前面的过滤器是批次级拦截，
// 这里是逐接收者的最终结果。全部插入完成后才终结批次。
type PersistenceFilter struct {
	cfg      Config
	queue    *queue.Queue
	codec    codec.Codec
	cache    *cache.MailboxCache
	sessions session.Directory
	sendLog  *SendLogManager
	marker   localMarker
	listen   *Listeners
	metrics  *monitoring.Metrics
	logger   *zap.Logger
}

// NewPersistenceFilter 创建落库过滤器。marker、sessions、metrics 均可为 nil。
func NewPersistenceFilter(
	cfg Config,
	q *queue.Queue,
	mailCodec codec.Codec,
	mailboxCache *cache.MailboxCache,
	sessions session.Directory,
	sendLog *SendLogManager,
	marker localMarker,
	listeners *Listeners,
	metrics *monitoring.Metrics,
	logger *zap.Logger,
) *PersistenceFilter {
	return &PersistenceFilter{
		cfg:      cfg,
		queue:    q,
		codec:    mailCodec,
		cache:    mailboxCache,
		sessions: sessions,
		sendLog:  sendLog,
		marker:   marker,
		listen:   listeners,
		metrics:  metrics,
		logger:   logger,
	}
}

func (f *PersistenceFilter) Name() string { return "persistence" }

func (f *PersistenceFilter) Filter(ctxs []*domain.SendContext, chain *Chain) {
	pending := int64(len(ctxs))

	var mu sync.Mutex
	successBySender := make(map[string]int)

	finishOne := func() {
		if atomic.AddInt64(&pending, -1) != 0 {
			return
		}
		// 整个批次落库完毕：每个发送者的发送计数只累加一次
		mu.Lock()
		for senderID, count := range successBySender {
			f.sendLog.IncrementToday(senderID, count)
		}
		mu.Unlock()
		chain.Finish()
	}

	for _, sc := range ctxs {
		sc := sc

		attachments, err := f.codec.Serialize(sc.Draft.Items)
		if err != nil {
			f.logger.Error("failed to serialize attachments",
				zap.String("mail", sc.MailID),
				zap.Error(err),
			)
			f.countOutcome(domain.FailUnknown)
			chain.FailContext(sc, domain.FailUnknown)
			finishOne()
			continue
		}

		mail := f.buildMail(sc, attachments)

		f.queue.Submit("insert_mail",
			func(opCtx context.Context, store storage.Store) (any, error) {
				return nil, store.InsertMail(opCtx, mail)
			},
			func(any) {
				f.countOutcome("")
				chain.Success(sc, sc.CalculatedCost)
				mu.Lock()
				successBySender[sc.Draft.SenderID]++
				mu.Unlock()
				f.afterInsert(sc, mail)
				finishOne()
			},
			func(err error) {
				reason := classifyStorageError(err)
				f.logger.Error("failed to persist mail",
					zap.String("mail", sc.MailID),
					zap.String("receiver", sc.Draft.ReceiverID),
					zap.String("reason", string(reason)),
					zap.Error(err),
				)
				f.countOutcome(reason)
				chain.FailContext(sc, reason)
				finishOne()
			},
		)
	}
}

func (f *PersistenceFilter) buildMail(sc *domain.SendContext, attachments []byte) *domain.Mail {
	expireTime := sc.Draft.ExpireTime
	if expireTime == 0 && f.cfg.DefaultExpiry > 0 {
		expireTime = sc.SentTime + f.cfg.DefaultExpiry.Milliseconds()
	}
	return &domain.Mail{
		ID:           sc.MailID,
		SenderID:     sc.Draft.SenderID,
		SenderName:   sc.Draft.SenderName,
		ReceiverID:   sc.Draft.ReceiverID,
		ReceiverName: sc.Draft.ReceiverName,
		Title:        sc.Draft.Title,
		Content:      sc.Draft.Content,
		Attachments:  attachments,
		MoneyAmount:  sc.Draft.MoneyAmount,
		SentTime:     sc.SentTime,
		ExpireTime:   expireTime,
		ServerID:     f.cfg.ServerID,
	}
}

// afterInsert 单封邮件落库成功后的善后，跑在分发池协程上
func (f *PersistenceFilter) afterInsert(sc *domain.SendContext, mail *domain.Mail) {
	if f.marker != nil {
		f.marker.MarkLocal(mail.ID)
	}
	if sc.Options.ClearCache {
		f.cache.Invalidate(mail.ReceiverID)
	}
	if sc.Options.NotifyReceiver && f.sessions != nil && f.sessions.IsOnline(mail.ReceiverID) {
		f.sessions.NotifyNewMail(mail.ReceiverID, domain.MailNotification{
			MailID:     mail.ID,
			SenderName: mail.SenderName,
			ReceiverID: mail.ReceiverID,
			Title:      mail.Title,
			SentTime:   mail.SentTime,
		})
	}
	f.upsertNames(mail)
	if f.listen != nil {
		f.listen.EmitSent(mail)
	}
	if f.metrics != nil && sc.CalculatedCost > 0 {
		f.metrics.SendCost.Add(sc.CalculatedCost)
	}
}

// upsertNames 维护玩家名缓存表，供按名字寻址和文案展示
func (f *PersistenceFilter) upsertNames(mail *domain.Mail) {
	now := time.Now().UnixMilli()
	for id, name := range map[string]string{
		mail.SenderID:   mail.SenderName,
		mail.ReceiverID: mail.ReceiverName,
	} {
		if id == "" || name == "" {
			continue
		}
		id, name := id, name
		f.queue.SubmitFireAndForget("upsert_player_name",
			func(opCtx context.Context, store storage.Store) (any, error) {
				return nil, store.UpsertPlayerName(opCtx, id, name, now)
			})
	}
}

func (f *PersistenceFilter) countOutcome(reason domain.FailReason) {
	if f.metrics == nil {
		return
	}
	outcome := "success"
	if reason != "" {
		outcome = string(reason)
	}
	f.metrics.SendsTotal.WithLabelValues(outcome).Inc()
}

// classifyStorageError 把存储错误归类为发送失败原因
func classifyStorageError(err error) domain.FailReason {
	if errors.Is(err, queue.ErrQueueOverload) {
		return domain.FailQueueOverload
	}
	msg := strings.ToLower(err.Error())
	for _, kw := range []string{"mailbox", "full", "容量", "已满"} {
		if strings.Contains(msg, kw) {
			return domain.FailMailboxFull
		}
	}
	return domain.FailDatabaseError
}
