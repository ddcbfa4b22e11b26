package session

import "foliamail/backend/internal/domain"

// Directory 在线玩家目录
//
// 实现方负责把消息送达玩家；返回 false 表示玩家不在线，调用方不重试。
type Directory interface {
	IsOnline(playerID string) bool
	SendMessage(playerID, message string) bool
	NotifyNewMail(playerID string, notification domain.MailNotification) bool
}
