package domain

// SendOptions 发送选项 - 控制一次发送行为的策略配置。
type SendOptions struct {
	// 权限覆盖
	BypassMailboxLimit bool // 无视邮箱上限
	BypassBlacklist    bool // 无视黑名单
	BypassDailyLimit   bool // 无视每日发送限制

	// 费用策略
	CustomCost   float64 // 自定义费用，负数表示自动计算
	ChargeSender bool    // 是否向发送者扣费

	// 行为策略
	NotifyReceiver bool // 在线时是否通知接收者
	ClearCache     bool // 发送成功后是否清除接收者缓存
}

// DefaultOptions 普通玩家发送的默认选项
func DefaultOptions() SendOptions {
	return SendOptions{
		CustomCost:     -1,
		ChargeSender:   true,
		NotifyReceiver: true,
		ClearCache:     true,
	}
}

// SystemMailOptions 系统邮件：免检查、免扣费
func SystemMailOptions() SendOptions {
	opts := DefaultOptions()
	opts.BypassMailboxLimit = true
	opts.BypassBlacklist = true
	opts.BypassDailyLimit = true
	opts.ChargeSender = false
	return opts
}

// AdminOptions 管理员发送：免限制但仍扣费
func AdminOptions() SendOptions {
	opts := DefaultOptions()
	opts.BypassMailboxLimit = true
	opts.BypassBlacklist = true
	opts.BypassDailyLimit = true
	return opts
}

// HasCustomCost 是否指定了自定义费用
func (o SendOptions) HasCustomCost() bool {
	return o.CustomCost >= 0
}
