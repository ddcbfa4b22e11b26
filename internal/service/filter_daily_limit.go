package service

import (
	"context"

	"go.uber.org/zap"

	"foliamail/backend/internal/domain"
)

// DailyLimitFilter 每日发送限额检查，每个发送者只查一次计数
type DailyLimitFilter struct {
	cfg     Config
	sendLog *SendLogManager
	logger  *zap.Logger
}

// NewDailyLimitFilter 创建每日限额过滤器
func NewDailyLimitFilter(cfg Config, sendLog *SendLogManager, logger *zap.Logger) *DailyLimitFilter {
	return &DailyLimitFilter{cfg: cfg, sendLog: sendLog, logger: logger}
}

func (f *DailyLimitFilter) Name() string { return "daily_limit" }

func (f *DailyLimitFilter) Filter(ctxs []*domain.SendContext, chain *Chain) {
	if f.cfg.DailyLimit <= 0 {
		chain.Next(ctxs)
		return
	}

	// senderID -> 失败原因，空串表示放行
	verdicts := make(map[string]domain.FailReason)
	var remaining []*domain.SendContext

	for _, sc := range ctxs {
		if sc.SkipDailyLimitCheck() {
			remaining = append(remaining, sc)
			continue
		}

		senderID := sc.Draft.SenderID
		verdict, checked := verdicts[senderID]
		if !checked {
			count, err := f.sendLog.CountToday(context.Background(), senderID)
			switch {
			case err != nil:
				f.logger.Error("daily limit check failed",
					zap.String("sender", senderID),
					zap.Error(err),
				)
				verdict = domain.FailDatabaseError
			case count >= f.cfg.DailyLimit:
				verdict = domain.FailDailyLimitReached
			}
			verdicts[senderID] = verdict
		}

		if verdict != "" {
			chain.FailContext(sc, verdict)
			continue
		}
		remaining = append(remaining, sc)
	}
	chain.Next(remaining)
}
