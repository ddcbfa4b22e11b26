package domain

import "errors"

var (
	ErrDraftNoSender   = errors.New("draft sender is required")
	ErrDraftNoReceiver = errors.New("draft receiver is required")
	ErrDraftNoTitle    = errors.New("draft title is required")
)

// Draft 邮件草稿 - 调用方提供的一封待发送邮件的不可变描述。
//
// Draft 本身不做长度等业务校验，那是发送管线 Validation 过滤器
// 的职责（上限来自配置）；这里只保证结构完整。
type Draft struct {
	SenderID     string
	SenderName   string
	ReceiverID   string
	ReceiverName string
	Title        string
	Content      string
	Items        []ItemStack
	MoneyAmount  float64
	ExpireTime   int64 // 毫秒时间戳，0 表示使用默认过期策略
}

// Validate 检查必填字段
func (d *Draft) Validate() error {
	if d.SenderID == "" {
		return ErrDraftNoSender
	}
	if d.ReceiverID == "" {
		return ErrDraftNoReceiver
	}
	if d.Title == "" {
		return ErrDraftNoTitle
	}
	return nil
}

// HasItems 是否携带物品附件
func (d *Draft) HasItems() bool {
	return len(d.Items) > 0
}

// HasAttachments 是否携带物品或金币附件
func (d *Draft) HasAttachments() bool {
	return len(d.Items) > 0 || d.MoneyAmount > 0
}
