package session

import (
	"sync"

	"foliamail/backend/internal/domain"
)

// MemoryDirectory 内存在线目录，用于开发验证和测试
type MemoryDirectory struct {
	mu            sync.Mutex
	online        map[string]bool
	messages      map[string][]string
	notifications map[string][]domain.MailNotification
}

// NewMemoryDirectory 创建内存目录
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		online:        make(map[string]bool),
		messages:      make(map[string][]string),
		notifications: make(map[string][]domain.MailNotification),
	}
}

// SetOnline 标记玩家上线或下线
func (d *MemoryDirectory) SetOnline(playerID string, online bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if online {
		d.online[playerID] = true
	} else {
		delete(d.online, playerID)
	}
}

// IsOnline 玩家是否在线
func (d *MemoryDirectory) IsOnline(playerID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.online[playerID]
}

// SendMessage 记录发给在线玩家的消息
func (d *MemoryDirectory) SendMessage(playerID, message string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.online[playerID] {
		return false
	}
	d.messages[playerID] = append(d.messages[playerID], message)
	return true
}

// NotifyNewMail 记录发给在线玩家的新邮件通知
func (d *MemoryDirectory) NotifyNewMail(playerID string, notification domain.MailNotification) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.online[playerID] {
		return false
	}
	d.notifications[playerID] = append(d.notifications[playerID], notification)
	return true
}

// Messages 读取某玩家收到的消息
func (d *MemoryDirectory) Messages(playerID string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.messages[playerID]...)
}

// Notifications 读取某玩家收到的新邮件通知
func (d *MemoryDirectory) Notifications(playerID string) []domain.MailNotification {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]domain.MailNotification(nil), d.notifications[playerID]...)
}
