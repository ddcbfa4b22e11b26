package memory

import (
	"context"
	"sort"
	"sync"

	"foliamail/backend/internal/domain"
	"foliamail/backend/internal/storage"
)

// Store 使用内存保存邮件数据，主要用于开发验证和测试。
//
// 单把互斥锁覆盖所有表：ClaimMail 的检查-置位在锁内一次完成，
// 等价于 SQL 实现的行锁事务语义。
type Store struct {
	mu         sync.RWMutex
	mails      map[string]*domain.Mail
	sendLogs   map[string]int              // "playerID:date" -> count
	blacklists map[string]map[string]int64 // ownerID -> blockedID -> blockedTime
	names      map[string]*domain.PlayerName

	closed bool
}

// NewStore 创建一个内存存储实例。
func NewStore() *Store {
	return &Store{
		mails:      make(map[string]*domain.Mail),
		sendLogs:   make(map[string]int),
		blacklists: make(map[string]map[string]int64),
		names:      make(map[string]*domain.PlayerName),
	}
}

// InsertMail 写入一封新邮件
func (s *Store) InsertMail(_ context.Context, mail *domain.Mail) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *mail
	s.mails[mail.ID] = &cp
	return nil
}

// GetMail 按 ID 查询单封邮件
func (s *Store) GetMail(_ context.Context, id string) (*domain.Mail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mail, ok := s.mails[id]
	if !ok {
		return nil, storage.ErrMailNotFound
	}
	cp := *mail
	return &cp, nil
}

// ListInbox 列出接收者未过期的邮件，按发送时间倒序
func (s *Store) ListInbox(_ context.Context, receiverID string, now int64) ([]domain.Mail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var mails []domain.Mail
	for _, mail := range s.mails {
		if mail.ReceiverID != receiverID {
			continue
		}
		if mail.ExpireTime > 0 && mail.ExpireTime <= now {
			continue
		}
		mails = append(mails, *mail)
	}
	sort.Slice(mails, func(i, j int) bool {
		return mails[i].SentTime > mails[j].SentTime
	})
	return mails, nil
}

// ListSent 列出发送者的发件箱，按发送时间倒序
func (s *Store) ListSent(_ context.Context, senderID string, limit int) ([]domain.Mail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var mails []domain.Mail
	for _, mail := range s.mails {
		if mail.SenderID == senderID {
			mails = append(mails, *mail)
		}
	}
	sort.Slice(mails, func(i, j int) bool {
		return mails[i].SentTime > mails[j].SentTime
	})
	if limit > 0 && len(mails) > limit {
		mails = mails[:limit]
	}
	return mails, nil
}

// CountInbox 统计接收者未过期的邮件数
func (s *Store) CountInbox(_ context.Context, receiverID string, now int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, mail := range s.mails {
		if mail.ReceiverID != receiverID {
			continue
		}
		if mail.ExpireTime > 0 && mail.ExpireTime <= now {
			continue
		}
		count++
	}
	return count, nil
}

// CountInboxBatch 批量统计多个接收者的邮箱占用
func (s *Store) CountInboxBatch(ctx context.Context, receiverIDs []string, now int64) (map[string]int, error) {
	counts := make(map[string]int, len(receiverIDs))
	for _, id := range receiverIDs {
		count, err := s.CountInbox(ctx, id, now)
		if err != nil {
			return nil, err
		}
		counts[id] = count
	}
	return counts, nil
}

// MarkRead 更新已读状态与阅读时间
func (s *Store) MarkRead(_ context.Context, id string, read bool, readTime int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mail, ok := s.mails[id]
	if !ok {
		return storage.ErrMailNotFound
	}
	mail.IsRead = read
	mail.ReadTime = readTime
	return nil
}

// SetClaimed 管理员覆盖领取状态
func (s *Store) SetClaimed(_ context.Context, id string, claimed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mail, ok := s.mails[id]
	if !ok {
		return storage.ErrMailNotFound
	}
	mail.IsClaimed = claimed
	return nil
}

// ClaimMail 原子领取：检查与置位在同一临界区内完成
func (s *Store) ClaimMail(_ context.Context, id string, callerID string, isAdmin bool) (*domain.Mail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mail, ok := s.mails[id]
	if !ok {
		return nil, storage.ErrMailNotFound
	}
	if mail.IsClaimed {
		return nil, storage.ErrAlreadyClaimed
	}
	if !isAdmin && mail.ReceiverID != callerID {
		return nil, storage.ErrNotAuthorized
	}

	mail.IsClaimed = true
	cp := *mail
	return &cp, nil
}

// DeleteMail 删除邮件，仅当接收者匹配时生效
func (s *Store) DeleteMail(_ context.Context, id string, receiverID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mail, ok := s.mails[id]
	if !ok || mail.ReceiverID != receiverID {
		return storage.ErrMailNotFound
	}
	delete(s.mails, id)
	return nil
}

// DeleteMailByID 管理员删除，无接收者校验
func (s *Store) DeleteMailByID(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.mails, id)
	return nil
}

// ClearInbox 清空收件箱，返回删除数量
func (s *Store) ClearInbox(_ context.Context, receiverID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for id, mail := range s.mails {
		if mail.ReceiverID == receiverID {
			delete(s.mails, id)
			deleted++
		}
	}
	return deleted, nil
}

// DeleteExpired 删除所有已过期邮件，返回删除数量
func (s *Store) DeleteExpired(_ context.Context, now int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for id, mail := range s.mails {
		if mail.ExpireTime > 0 && mail.ExpireTime < now {
			delete(s.mails, id)
			deleted++
		}
	}
	return deleted, nil
}

// ListNewMailSince 捞取 sent_time 晚于 since 且来源服不是 excludeServerID 的邮件投影
func (s *Store) ListNewMailSince(_ context.Context, since int64, excludeServerID string) ([]domain.MailNotification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var notifications []domain.MailNotification
	for _, mail := range s.mails {
		if mail.SentTime <= since || mail.ServerID == excludeServerID {
			continue
		}
		notifications = append(notifications, domain.MailNotification{
			MailID:     mail.ID,
			SenderName: mail.SenderName,
			ReceiverID: mail.ReceiverID,
			Title:      mail.Title,
			SentTime:   mail.SentTime,
		})
	}
	sort.Slice(notifications, func(i, j int) bool {
		return notifications[i].SentTime < notifications[j].SentTime
	})
	return notifications, nil
}

// IncrementSendLog 累加某玩家某日的发送计数
func (s *Store) IncrementSendLog(_ context.Context, playerID, date string, amount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sendLogs[playerID+":"+date] += amount
	return nil
}

// GetSendCount 查询某玩家某日的发送计数
func (s *Store) GetSendCount(_ context.Context, playerID, date string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.sendLogs[playerID+":"+date], nil
}

// AddBlacklist 添加黑名单条目
func (s *Store) AddBlacklist(_ context.Context, ownerID, blockedID string, blockedTime int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.blacklists[ownerID] == nil {
		s.blacklists[ownerID] = make(map[string]int64)
	}
	s.blacklists[ownerID][blockedID] = blockedTime
	return nil
}

// RemoveBlacklist 移除黑名单条目，返回是否确有删除
func (s *Store) RemoveBlacklist(_ context.Context, ownerID, blockedID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, ok := s.blacklists[ownerID]
	if !ok {
		return false, nil
	}
	if _, ok := entries[blockedID]; !ok {
		return false, nil
	}
	delete(entries, blockedID)
	return true, nil
}

// ListBlacklist 列出某玩家的黑名单
func (s *Store) ListBlacklist(_ context.Context, ownerID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var blocked []string
	for id := range s.blacklists[ownerID] {
		blocked = append(blocked, id)
	}
	sort.Strings(blocked)
	return blocked, nil
}

// IsBlacklisted 查询 blockedID 是否在 ownerID 的黑名单中
func (s *Store) IsBlacklisted(_ context.Context, ownerID, blockedID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, ok := s.blacklists[ownerID]
	if !ok {
		return false, nil
	}
	_, blocked := entries[blockedID]
	return blocked, nil
}

// UpsertPlayerName 更新玩家名缓存
func (s *Store) UpsertPlayerName(_ context.Context, playerID, name string, lastSeen int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.names[name] = &domain.PlayerName{PlayerID: playerID, Name: name, LastSeen: lastSeen}
	return nil
}

// GetPlayerIDByName 按名字解析玩家 ID
func (s *Store) GetPlayerIDByName(_ context.Context, name string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.names[name]
	if !ok {
		return "", storage.ErrPlayerNotFound
	}
	return entry.PlayerID, nil
}

// GetPlayerNameByID 按 ID 解析最近使用的玩家名
func (s *Store) GetPlayerNameByID(_ context.Context, playerID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *domain.PlayerName
	for _, entry := range s.names {
		if entry.PlayerID != playerID {
			continue
		}
		if best == nil || entry.LastSeen > best.LastSeen {
			best = entry
		}
	}
	if best == nil {
		return "", storage.ErrPlayerNotFound
	}
	return best.Name, nil
}

// Health 健康检查
func (s *Store) Health() error {
	return nil
}

// Close 关闭存储
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
