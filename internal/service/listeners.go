package service

import (
	"sync"

	"foliamail/backend/internal/domain"
)

// MailListener 邮件事件回调
//
// 回调在分发池协程上执行，实现方不要阻塞。
type MailListener interface {
	OnMailSent(mail *domain.Mail)
	OnMailClaimed(mail *domain.Mail, playerID string)
}

// Listeners 邮件事件监听注册表
type Listeners struct {
	mu        sync.RWMutex
	listeners []MailListener
}

// NewListeners 创建监听注册表
func NewListeners() *Listeners {
	return &Listeners{}
}

// Register 注册监听器
func (l *Listeners) Register(listener MailListener) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listeners = append(l.listeners, listener)
}

// EmitSent 广播邮件已发送
func (l *Listeners) EmitSent(mail *domain.Mail) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, listener := range l.listeners {
		listener.OnMailSent(mail)
	}
}

// EmitClaimed 广播附件已领取
func (l *Listeners) EmitClaimed(mail *domain.Mail, playerID string) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, listener := range l.listeners {
		listener.OnMailClaimed(mail, playerID)
	}
}
