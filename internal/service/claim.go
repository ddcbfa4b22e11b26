package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"foliamail/backend/internal/cache"
	"foliamail/backend/internal/codec"
	"foliamail/backend/internal/domain"
	"foliamail/backend/internal/economy"
	"foliamail/backend/internal/monitoring"
	"foliamail/backend/internal/queue"
	"foliamail/backend/internal/storage"
)

// ClaimStatus 领取结果状态
type ClaimStatus string

const (
	ClaimSuccess        ClaimStatus = "SUCCESS"
	ClaimProcessing     ClaimStatus = "PROCESSING"
	ClaimNotFound       ClaimStatus = "NOT_FOUND"
	ClaimNoAttachments  ClaimStatus = "NO_ATTACHMENTS"
	ClaimExpired        ClaimStatus = "EXPIRED"
	ClaimNotAuthorized  ClaimStatus = "NOT_AUTHORIZED"
	ClaimAlreadyClaimed ClaimStatus = "ALREADY_CLAIMED"
	ClaimError          ClaimStatus = "ERROR"
)

var claimMessages = map[ClaimStatus]string{
	ClaimSuccess:        "附件领取成功",
	ClaimProcessing:     "正在处理中，请稍后再试",
	ClaimNotFound:       "邮件不存在",
	ClaimNoAttachments:  "该邮件没有附件",
	ClaimExpired:        "邮件已过期",
	ClaimNotAuthorized:  "你不能领取他人的邮件",
	ClaimAlreadyClaimed: "附件已被领取",
	ClaimError:          "领取失败，请稍后重试",
}

// Message 面向玩家的默认提示文案
func (s ClaimStatus) Message() string {
	if msg, ok := claimMessages[s]; ok {
		return msg
	}
	return claimMessages[ClaimError]
}

// ClaimResult 一次领取请求的结果
type ClaimResult struct {
	Status ClaimStatus
	Mail   *domain.Mail
	Items  []domain.ItemStack
	Money  float64
}

// Inventory 物品发放接口：放不下的部分由实现方掉落在世界里，不得丢失
type Inventory interface {
	GrantItems(playerID string, items []domain.ItemStack)
}

var (
	errNoAttachments = errors.New("mail has no attachments")
	errMailExpired   = errors.New("mail expired")
)

// ClaimService 附件领取
//
// 进程内用准入集合挡住同一邮件的并发重复请求；进程之间靠存储层的
// 行锁条件更新保证恰好一次。准入占位在所有终止分支上都会释放。
type ClaimService struct {
	queue     *queue.Queue
	cache     *cache.MailboxCache
	codec     codec.Codec
	wallet    economy.Provider
	inventory Inventory
	listen    *Listeners
	metrics   *monitoring.Metrics
	logger    *zap.Logger

	mu         sync.Mutex
	inProgress map[string]struct{}
}

// NewClaimService 创建领取服务。wallet、inventory、metrics 均可为 nil。
func NewClaimService(
	q *queue.Queue,
	mailboxCache *cache.MailboxCache,
	mailCodec codec.Codec,
	wallet economy.Provider,
	inventory Inventory,
	listeners *Listeners,
	metrics *monitoring.Metrics,
	logger *zap.Logger,
) *ClaimService {
	return &ClaimService{
		queue:      q,
		cache:      mailboxCache,
		codec:      mailCodec,
		wallet:     wallet,
		inventory:  inventory,
		listen:     listeners,
		metrics:    metrics,
		logger:     logger,
		inProgress: make(map[string]struct{}),
	}
}

// Claim 领取邮件附件
//
// cb 在分发池协程上被调用；准入冲突时在调用协程上立即回调。
func (s *ClaimService) Claim(mailID, callerID string, isAdmin bool, cb func(*ClaimResult)) {
	if !s.acquire(mailID) {
		s.countClaim(ClaimProcessing)
		cb(&ClaimResult{Status: ClaimProcessing})
		return
	}

	s.queue.Submit("claim_mail",
		func(opCtx context.Context, store storage.Store) (any, error) {
			mail, err := store.GetMail(opCtx, mailID)
			if err != nil {
				return nil, err
			}
			if !mail.HasAttachments() {
				return nil, errNoAttachments
			}
			if mail.IsExpired(time.Now()) {
				return nil, errMailExpired
			}
			if !isAdmin && mail.ReceiverID != callerID {
				return nil, storage.ErrNotAuthorized
			}
			// 行锁 + 锁内复查 + 条件更新，跨进程并发领取也只有一个赢家
			return store.ClaimMail(opCtx, mailID, callerID, isAdmin)
		},
		func(v any) {
			s.release(mailID)
			s.finishClaim(v.(*domain.Mail), callerID, cb)
		},
		func(err error) {
			s.release(mailID)
			status := classifyClaimError(err)
			if status == ClaimError {
				s.logger.Error("claim failed",
					zap.String("mail", mailID),
					zap.String("caller", callerID),
					zap.Error(err),
				)
			}
			s.countClaim(status)
			cb(&ClaimResult{Status: status})
		},
	)
}

// finishClaim 领取已落库，发放物品和金币
func (s *ClaimService) finishClaim(mail *domain.Mail, callerID string, cb func(*ClaimResult)) {
	var items []domain.ItemStack
	if len(mail.Attachments) > 0 {
		var err error
		items, err = s.codec.Deserialize(mail.Attachments)
		if err != nil {
			// 领取状态已提交，物品无法还原只能记日志
			s.logger.Error("failed to deserialize attachments",
				zap.String("mail", mail.ID),
				zap.Error(err),
			)
		}
	}
	if len(items) > 0 && s.inventory != nil {
		s.inventory.GrantItems(mail.ReceiverID, items)
	}
	if mail.MoneyAmount > 0 && s.wallet != nil {
		if err := s.wallet.Deposit(context.Background(), mail.ReceiverID, mail.MoneyAmount); err != nil {
			s.logger.Error("failed to deposit claimed money",
				zap.String("mail", mail.ID),
				zap.String("receiver", mail.ReceiverID),
				zap.Float64("amount", mail.MoneyAmount),
				zap.Error(err),
			)
		}
	}

	s.cache.Invalidate(mail.ReceiverID)
	if s.listen != nil {
		s.listen.EmitClaimed(mail, callerID)
	}
	s.countClaim(ClaimSuccess)
	cb(&ClaimResult{
		Status: ClaimSuccess,
		Mail:   mail,
		Items:  items,
		Money:  mail.MoneyAmount,
	})
}

func (s *ClaimService) acquire(mailID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inProgress[mailID]; busy {
		return false
	}
	s.inProgress[mailID] = struct{}{}
	return true
}

func (s *ClaimService) release(mailID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inProgress, mailID)
}

func (s *ClaimService) countClaim(status ClaimStatus) {
	if s.metrics != nil {
		s.metrics.ClaimsTotal.WithLabelValues(string(status)).Inc()
	}
}

func classifyClaimError(err error) ClaimStatus {
	switch {
	case errors.Is(err, storage.ErrMailNotFound):
		return ClaimNotFound
	case errors.Is(err, storage.ErrAlreadyClaimed):
		return ClaimAlreadyClaimed
	case errors.Is(err, storage.ErrNotAuthorized):
		return ClaimNotAuthorized
	case errors.Is(err, errNoAttachments):
		return ClaimNoAttachments
	case errors.Is(err, errMailExpired):
		return ClaimExpired
	default:
		return ClaimError
	}
}
