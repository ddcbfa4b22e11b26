package service

import "time"

// Config 邮件服务的业务配置
type Config struct {
	// 内容上限
	MaxTitleLength   int
	MaxContentLength int
	MaxAttachments   int

	// 限制
	MaxMailboxSize int // 0 表示不限制
	DailyLimit     int // <=0 表示不限制

	// 费用
	Postage       float64 // 基础邮资
	AttachmentFee float64 // 每个物品附件的投递费

	// 过期策略
	DefaultExpiry time.Duration // 草稿未指定时的默认保留时长，0 表示永不过期

	// 本进程标识，写入 mails.server_id，跨服通知轮询据此排除本进程
	ServerID string

	// 经济系统开关
	EconomyEnabled bool

	// 跨服通知
	NotifyInterval time.Duration
	NotifyOverlap  time.Duration
	NotifyDedupCap int

	// 过期清理间隔
	SweepInterval time.Duration
}

// DefaultServiceConfig 返回默认业务配置
func DefaultServiceConfig() Config {
	return Config{
		MaxTitleLength:   32,
		MaxContentLength: 500,
		MaxAttachments:   5,
		MaxMailboxSize:   100,
		DailyLimit:       0,
		DefaultExpiry:    30 * 24 * time.Hour,
		ServerID:         "server-1",
		EconomyEnabled:   true,
		NotifyInterval:   10 * time.Second,
		NotifyOverlap:    time.Second,
		NotifyDedupCap:   10000,
		SweepInterval:    time.Hour,
	}
}
