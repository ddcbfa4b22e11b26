package storage

import (
	"context"
	"errors"

	"foliamail/backend/internal/domain"
)

var (
	// ErrMailNotFound 邮件不存在
	ErrMailNotFound = errors.New("mail not found")
	// ErrAlreadyClaimed 附件已被领取
	ErrAlreadyClaimed = errors.New("mail attachments already claimed")
	// ErrNotAuthorized 调用者不是接收者且非管理员
	ErrNotAuthorized = errors.New("not authorized to access this mail")
	// ErrPlayerNotFound 玩家名缓存未命中
	ErrPlayerNotFound = errors.New("player not found")
)

// MailRepository 邮件读写。
type MailRepository interface {
	InsertMail(ctx context.Context, mail *domain.Mail) error
	GetMail(ctx context.Context, id string) (*domain.Mail, error)
	// ListInbox 列出接收者未过期的邮件，按发送时间倒序。
	ListInbox(ctx context.Context, receiverID string, now int64) ([]domain.Mail, error)
	// ListSent 列出发送者的发件箱，按发送时间倒序，最多 limit 封。
	ListSent(ctx context.Context, senderID string, limit int) ([]domain.Mail, error)
	CountInbox(ctx context.Context, receiverID string, now int64) (int, error)
	// CountInboxBatch 批量统计多个接收者的邮箱占用。
	CountInboxBatch(ctx context.Context, receiverIDs []string, now int64) (map[string]int, error)
	MarkRead(ctx context.Context, id string, read bool, readTime int64) error
	// SetClaimed 管理员覆盖领取状态，不做行锁校验。
	SetClaimed(ctx context.Context, id string, claimed bool) error
	// ClaimMail 事务内行锁领取：锁定邮件行，在锁下复查未领取且调用者
	// 有权领取，成立则置 is_claimed 并返回邮件，否则回滚。
	// 失败返回 ErrMailNotFound / ErrAlreadyClaimed / ErrNotAuthorized。
	ClaimMail(ctx context.Context, id string, callerID string, isAdmin bool) (*domain.Mail, error)
	// DeleteMail 删除邮件，仅当 receiverID 匹配时生效。
	DeleteMail(ctx context.Context, id string, receiverID string) error
	// DeleteMailByID 管理员删除，无接收者校验。
	DeleteMailByID(ctx context.Context, id string) error
	// ClearInbox 清空收件箱，返回删除数量。
	ClearInbox(ctx context.Context, receiverID string) (int, error)
	// DeleteExpired 删除所有已过期邮件，返回删除数量。
	DeleteExpired(ctx context.Context, now int64) (int, error)
	// ListNewMailSince 捞取 sent_time 晚于 since 且来源服不是
	// excludeServerID 的邮件投影，供跨服通知轮询使用。
	ListNewMailSince(ctx context.Context, since int64, excludeServerID string) ([]domain.MailNotification, error)
}

// SendLogRepository 每日发送计数。
type SendLogRepository interface {
	// IncrementSendLog 累加某玩家某日的发送计数，行不存在则插入。
	IncrementSendLog(ctx context.Context, playerID, date string, amount int) error
	GetSendCount(ctx context.Context, playerID, date string) (int, error)
}

// BlacklistRepository 黑名单读写。
type BlacklistRepository interface {
	AddBlacklist(ctx context.Context, ownerID, blockedID string, blockedTime int64) error
	RemoveBlacklist(ctx context.Context, ownerID, blockedID string) (bool, error)
	ListBlacklist(ctx context.Context, ownerID string) ([]string, error)
	IsBlacklisted(ctx context.Context, ownerID, blockedID string) (bool, error)
}

// PlayerNameRepository 玩家名缓存。
type PlayerNameRepository interface {
	UpsertPlayerName(ctx context.Context, playerID, name string, lastSeen int64) error
	GetPlayerIDByName(ctx context.Context, name string) (string, error)
	GetPlayerNameByID(ctx context.Context, playerID string) (string, error)
}

// Store 聚合所有存储接口。
type Store interface {
	MailRepository
	SendLogRepository
	BlacklistRepository
	PlayerNameRepository

	Health() error
	Close() error
}
