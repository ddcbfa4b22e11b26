package service

import (
	"context"

	"go.uber.org/zap"

	"foliamail/backend/internal/domain"
)

// BlacklistFilter 收件人黑名单检查
type BlacklistFilter struct {
	blacklist *BlacklistManager
	logger    *zap.Logger
}

// NewBlacklistFilter 创建黑名单过滤器
func NewBlacklistFilter(blacklist *BlacklistManager, logger *zap.Logger) *BlacklistFilter {
	return &BlacklistFilter{blacklist: blacklist, logger: logger}
}

func (f *BlacklistFilter) Name() string { return "blacklist" }

func (f *BlacklistFilter) Filter(ctxs []*domain.SendContext, chain *Chain) {
	var remaining []*domain.SendContext
	for _, sc := range ctxs {
		if sc.SkipBlacklistCheck() {
			remaining = append(remaining, sc)
			continue
		}

		blocked, err := f.blacklist.Contains(context.Background(), sc.Draft.ReceiverID, sc.Draft.SenderID)
		if err != nil {
			f.logger.Error("blacklist check failed",
				zap.String("sender", sc.Draft.SenderID),
				zap.String("receiver", sc.Draft.ReceiverID),
				zap.Error(err),
			)
			chain.FailContext(sc, domain.FailDatabaseError)
			continue
		}
		if blocked {
			chain.FailContext(sc, domain.FailBlacklisted)
			continue
		}
		remaining = append(remaining, sc)
	}
	chain.Next(remaining)
}
