package service

import (
	"context"

	"go.uber.org/zap"

	"foliamail/backend/internal/domain"
	"foliamail/backend/internal/economy"
)

// EconomyFilter 费用计算与扣款
//
// 同一发送者在一个批次内只扣一次款：先算出每个上下文的费用，
// 汇总后整体扣除。扣费必须发生在持久化之前，付不起的邮件不落库。
type EconomyFilter struct {
	cfg      Config
	provider economy.Provider
	logger   *zap.Logger
}

// NewEconomyFilter 创建扣费过滤器，provider 为 nil 时全部免费放行
func NewEconomyFilter(cfg Config, provider economy.Provider, logger *zap.Logger) *EconomyFilter {
	return &EconomyFilter{cfg: cfg, provider: provider, logger: logger}
}

func (f *EconomyFilter) Name() string { return "economy" }

func (f *EconomyFilter) Filter(ctxs []*domain.SendContext, chain *Chain) {
	if !f.cfg.EconomyEnabled || f.provider == nil {
		chain.Next(ctxs)
		return
	}

	// 先算费用：扣款失败时不能留下半算的状态
	totals := make(map[string]float64)
	for _, sc := range ctxs {
		if sc.SkipPayment() {
			sc.CalculatedCost = 0
			continue
		}
		sc.CalculatedCost = f.cost(sc)
		totals[sc.Draft.SenderID] += sc.CalculatedCost
	}

	failedSenders := make(map[string]bool)
	for senderID, total := range totals {
		if total <= 0 {
			continue
		}
		if err := f.provider.Withdraw(context.Background(), senderID, total); err != nil {
			if err != economy.ErrInsufficientFunds {
				f.logger.Error("withdraw failed",
					zap.String("sender", senderID),
					zap.Float64("amount", total),
					zap.Error(err),
				)
			}
			failedSenders[senderID] = true
		}
	}

	var remaining []*domain.SendContext
	for _, sc := range ctxs {
		if !sc.SkipPayment() && failedSenders[sc.Draft.SenderID] {
			chain.FailContext(sc, domain.FailInsufficientFunds)
			continue
		}
		remaining = append(remaining, sc)
	}
	chain.Next(remaining)
}

func (f *EconomyFilter) cost(sc *domain.SendContext) float64 {
	if sc.Options.HasCustomCost() {
		return sc.Options.CustomCost
	}
	return f.cfg.Postage +
		f.cfg.AttachmentFee*float64(len(sc.Draft.Items)) +
		sc.Draft.MoneyAmount
}
