package service

import (
	"go.uber.org/zap"

	"foliamail/backend/internal/domain"
	"foliamail/backend/internal/security"
)

// ValidationFilter 内容校验
//
// 校验失败视为调用方缺陷，整个批次立即失败，不做部分放行。
type ValidationFilter struct {
	cfg    Config
	screen *security.ContentScreen
	logger *zap.Logger
}

// NewValidationFilter 创建内容校验过滤器
func NewValidationFilter(cfg Config, logger *zap.Logger) *ValidationFilter {
	return &ValidationFilter{
		cfg:    cfg,
		screen: security.NewContentScreen(),
		logger: logger,
	}
}

func (f *ValidationFilter) Name() string { return "validation" }

func (f *ValidationFilter) Filter(ctxs []*domain.SendContext, chain *Chain) {
	for _, sc := range ctxs {
		if reason := f.check(sc); reason != "" {
			f.logger.Warn("send rejected by validation",
				zap.String("sender", sc.Draft.SenderID),
				zap.String("receiver", sc.Draft.ReceiverID),
				zap.String("violation", reason),
			)
			chain.Fail(ctxs, domain.FailInvalidContent)
			return
		}
	}
	chain.Next(ctxs)
}

func (f *ValidationFilter) check(sc *domain.SendContext) string {
	draft := &sc.Draft
	if err := draft.Validate(); err != nil {
		return err.Error()
	}
	if f.cfg.MaxTitleLength > 0 && len([]rune(draft.Title)) > f.cfg.MaxTitleLength {
		return "title too long"
	}
	if f.cfg.MaxContentLength > 0 && len([]rune(draft.Content)) > f.cfg.MaxContentLength {
		return "content too long"
	}
	if f.cfg.MaxAttachments > 0 && len(draft.Items) > f.cfg.MaxAttachments {
		return "too many attachments"
	}
	if draft.MoneyAmount < 0 {
		return "negative money attachment"
	}
	if draft.ExpireTime > 0 && draft.ExpireTime < sc.SentTime {
		return "expire time before sent time"
	}
	if ok, reason := f.screen.Check(draft.Title); !ok {
		return reason
	}
	if ok, reason := f.screen.Check(draft.Content); !ok {
		return reason
	}
	return ""
}
