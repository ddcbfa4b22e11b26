package domain

import (
	"time"

	"github.com/google/uuid"
)

// SendContext 发送上下文 - 管线中每个 (草稿, 接收者) 对的工作区。
//
// 由一次管线执行独占，管线结束即废弃。跳过标志在构造时由
// 选项与管理员身份推导，过滤器只读取不再推导。
type SendContext struct {
	Draft   Draft
	Options SendOptions
	IsAdmin bool

	// 链内生成/计算的数据
	MailID         string
	SentTime       int64
	CalculatedCost float64
}

// NewSendContext 创建发送上下文，生成邮件 ID 与发送时间戳。
func NewSendContext(draft Draft, opts SendOptions, isAdmin bool) *SendContext {
	return &SendContext{
		Draft:    draft,
		Options:  opts,
		IsAdmin:  isAdmin,
		MailID:   uuid.NewString(),
		SentTime: time.Now().UnixMilli(),
	}
}

// SkipMailboxCheck 是否跳过邮箱上限检查
func (c *SendContext) SkipMailboxCheck() bool {
	return c.Options.BypassMailboxLimit || c.IsAdmin
}

// SkipBlacklistCheck 是否跳过黑名单检查
func (c *SendContext) SkipBlacklistCheck() bool {
	return c.Options.BypassBlacklist || c.IsAdmin
}

// SkipDailyLimitCheck 是否跳过每日限额检查
func (c *SendContext) SkipDailyLimitCheck() bool {
	return c.Options.BypassDailyLimit || c.IsAdmin
}

// SkipPayment 是否跳过扣费
func (c *SendContext) SkipPayment() bool {
	return !c.Options.ChargeSender
}
