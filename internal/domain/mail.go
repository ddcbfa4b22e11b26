package domain

import "time"

// Mail 表示一封已持久化的游戏内邮件。
//
// 字段布局即数据库表结构（mails 表），与其他共享同一数据库的
// 服务器进程兼容，不可随意增删字段。
type Mail struct {
	ID           string  `json:"id" gorm:"primaryKey;type:varchar(36)"`
	SenderID     string  `json:"senderId" gorm:"column:sender_uuid;type:varchar(36);index:idx_sender;not null"`
	SenderName   string  `json:"senderName" gorm:"column:sender_name;type:varchar(32);not null"`
	ReceiverID   string  `json:"receiverId" gorm:"column:receiver_uuid;type:varchar(36);index:idx_receiver;not null"`
	ReceiverName string  `json:"receiverName" gorm:"column:receiver_name;type:varchar(32);not null"`
	Title        string  `json:"title" gorm:"type:varchar(100);not null"`
	Content      string  `json:"content" gorm:"type:text"`
	Attachments  []byte  `json:"-" gorm:"type:blob"` // 序列化后的物品附件，由 codec 包负责编解码
	MoneyAmount  float64 `json:"moneyAmount" gorm:"column:money_attachment;default:0"`
	SentTime     int64   `json:"sentTime" gorm:"column:sent_time;not null;index:idx_sent"`
	ExpireTime   int64   `json:"expireTime" gorm:"column:expire_time;not null;index:idx_expire"` // 0 表示永不过期
	IsRead       bool    `json:"isRead" gorm:"column:is_read;default:false"`
	IsClaimed    bool    `json:"isClaimed" gorm:"column:is_claimed;default:false"`
	ReadTime     int64   `json:"readTime" gorm:"column:read_time;default:0"`
	ServerID     string  `json:"serverId" gorm:"column:server_id;type:varchar(50);default:'';index:idx_server"`
}

// TableName 指定表名
func (Mail) TableName() string {
	return "mails"
}

// HasAttachments 是否携带物品或金币附件
func (m *Mail) HasAttachments() bool {
	return len(m.Attachments) > 0 || m.MoneyAmount > 0
}

// IsExpired 是否已过期（ExpireTime 为 0 表示永不过期）
func (m *Mail) IsExpired(now time.Time) bool {
	return m.ExpireTime > 0 && now.UnixMilli() > m.ExpireTime
}

// MailNotification 跨服通知轮询捞取的最小行投影。
type MailNotification struct {
	MailID     string
	SenderName string
	ReceiverID string
	Title      string
	SentTime   int64
}

// SendLog 记录玩家每日发送计数（mail_send_log 表）。
// 删除邮件不影响此表，每日限额以它为准。
type SendLog struct {
	PlayerID  string `gorm:"column:player_uuid;type:varchar(36);primaryKey"`
	SendDate  string `gorm:"column:send_date;type:varchar(10);primaryKey;index:idx_send_log_date"` // yyyy-MM-dd
	SendCount int    `gorm:"column:send_count;not null;default:0"`
}

// TableName 指定表名
func (SendLog) TableName() string {
	return "mail_send_log"
}

// BlacklistEntry 黑名单条目（mail_blacklist 表）。
type BlacklistEntry struct {
	OwnerID     string `gorm:"column:owner_uuid;type:varchar(36);primaryKey"`
	BlockedID   string `gorm:"column:blocked_uuid;type:varchar(36);primaryKey"`
	BlockedTime int64  `gorm:"column:blocked_time;not null"`
}

// TableName 指定表名
func (BlacklistEntry) TableName() string {
	return "mail_blacklist"
}

// PlayerName 玩家名缓存（player_cache 表），name 为主键，同名更新 ID。
type PlayerName struct {
	PlayerID string `gorm:"column:uuid;type:varchar(36);index:idx_player_uuid;not null"`
	Name     string `gorm:"column:player_name;type:varchar(32);primaryKey"`
	LastSeen int64  `gorm:"column:last_seen;not null"`
}

// TableName 指定表名
func (PlayerName) TableName() string {
	return "player_cache"
}
