package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"foliamail/backend/internal/domain"
	"foliamail/backend/internal/storage"
)

const mailColumns = "id, sender_uuid, sender_name, receiver_uuid, receiver_name, " +
	"title, content, attachments, money_attachment, sent_time, expire_time, " +
	"is_read, is_claimed, read_time, server_id"

// InsertMail 写入一封新邮件
func (s *Store) InsertMail(ctx context.Context, mail *domain.Mail) error {
	query := fmt.Sprintf(
		"INSERT INTO mails (%s) VALUES (%s)",
		mailColumns, s.placeholders(1, 15),
	)

	_, err := s.db.ExecContext(ctx, query,
		mail.ID, mail.SenderID, mail.SenderName, mail.ReceiverID, mail.ReceiverName,
		mail.Title, mail.Content, mail.Attachments, mail.MoneyAmount,
		mail.SentTime, mail.ExpireTime, mail.IsRead, mail.IsClaimed,
		mail.ReadTime, mail.ServerID,
	)
	if err != nil {
		return fmt.Errorf("failed to insert mail: %w", err)
	}
	return nil
}

// GetMail 按 ID 查询单封邮件
func (s *Store) GetMail(ctx context.Context, id string) (*domain.Mail, error) {
	query := fmt.Sprintf("SELECT %s FROM mails WHERE id = %s", mailColumns, s.placeholder(1))

	mail, err := scanMail(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrMailNotFound
		}
		return nil, fmt.Errorf("failed to get mail: %w", err)
	}
	return mail, nil
}

// ListInbox 列出接收者未过期的邮件，按发送时间倒序
func (s *Store) ListInbox(ctx context.Context, receiverID string, now int64) ([]domain.Mail, error) {
	query := fmt.Sprintf(
		"SELECT %s FROM mails WHERE receiver_uuid = %s AND (expire_time = 0 OR expire_time > %s) ORDER BY sent_time DESC",
		mailColumns, s.placeholder(1), s.placeholder(2),
	)

	rows, err := s.db.QueryContext(ctx, query, receiverID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list inbox: %w", err)
	}
	defer rows.Close()

	return scanMails(rows)
}

// ListSent 列出发送者的发件箱，按发送时间倒序
func (s *Store) ListSent(ctx context.Context, senderID string, limit int) ([]domain.Mail, error) {
	query := fmt.Sprintf(
		"SELECT %s FROM mails WHERE sender_uuid = %s ORDER BY sent_time DESC LIMIT %d",
		mailColumns, s.placeholder(1), limit,
	)

	rows, err := s.db.QueryContext(ctx, query, senderID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sent mails: %w", err)
	}
	defer rows.Close()

	return scanMails(rows)
}

// CountInbox 统计接收者未过期的邮件数（COUNT 查询，不加载数据）
func (s *Store) CountInbox(ctx context.Context, receiverID string, now int64) (int, error) {
	query := fmt.Sprintf(
		"SELECT COUNT(*) FROM mails WHERE receiver_uuid = %s AND (expire_time = 0 OR expire_time > %s)",
		s.placeholder(1), s.placeholder(2),
	)

	var count int
	if err := s.db.QueryRowContext(ctx, query, receiverID, now).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count inbox: %w", err)
	}
	return count, nil
}

// CountInboxBatch 批量统计多个接收者的邮箱占用。
// 分批查询，每批最多 500 个，避免 IN 子句参数上限。
func (s *Store) CountInboxBatch(ctx context.Context, receiverIDs []string, now int64) (map[string]int, error) {
	counts := make(map[string]int, len(receiverIDs))
	const batchSize = 500

	for start := 0; start < len(receiverIDs); start += batchSize {
		end := start + batchSize
		if end > len(receiverIDs) {
			end = len(receiverIDs)
		}
		batch := receiverIDs[start:end]

		query := fmt.Sprintf(
			"SELECT receiver_uuid, COUNT(*) FROM mails WHERE receiver_uuid IN (%s) "+
				"AND (expire_time = 0 OR expire_time > %s) GROUP BY receiver_uuid",
			s.placeholders(1, len(batch)), s.placeholder(len(batch)+1),
		)

		args := make([]any, 0, len(batch)+1)
		for _, id := range batch {
			args = append(args, id)
		}
		args = append(args, now)

		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to count inboxes: %w", err)
		}
		for rows.Next() {
			var id string
			var count int
			if err := rows.Scan(&id, &count); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan inbox count: %w", err)
			}
			counts[id] = count
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to count inboxes: %w", err)
		}
		rows.Close()
	}
	return counts, nil
}

// MarkRead 更新已读状态与阅读时间
func (s *Store) MarkRead(ctx context.Context, id string, read bool, readTime int64) error {
	query := fmt.Sprintf(
		"UPDATE mails SET is_read = %s, read_time = %s WHERE id = %s",
		s.placeholder(1), s.placeholder(2), s.placeholder(3),
	)

	result, err := s.db.ExecContext(ctx, query, read, readTime, id)
	if err != nil {
		return fmt.Errorf("failed to mark mail read: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return storage.ErrMailNotFound
	}
	return nil
}

// SetClaimed 管理员覆盖领取状态，不做行锁校验
func (s *Store) SetClaimed(ctx context.Context, id string, claimed bool) error {
	query := fmt.Sprintf(
		"UPDATE mails SET is_claimed = %s WHERE id = %s",
		s.placeholder(1), s.placeholder(2),
	)

	result, err := s.db.ExecContext(ctx, query, claimed, id)
	if err != nil {
		return fmt.Errorf("failed to set claimed status: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return storage.ErrMailNotFound
	}
	return nil
}

// ClaimMail 事务内行锁领取附件。
//
// SELECT ... FOR UPDATE 锁定邮件行后，在锁下复查 is_claimed 与
// 接收者身份，两者都成立才置位提交，否则回滚不留痕迹。并发的
// 本地或跨进程领取请求中，恰好一个会赢得行锁并完成置位。
func (s *Store) ClaimMail(ctx context.Context, id string, callerID string, isAdmin bool) (*domain.Mail, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim transaction: %w", err)
	}
	defer tx.Rollback()

	query := fmt.Sprintf(
		"SELECT %s FROM mails WHERE id = %s FOR UPDATE",
		mailColumns, s.placeholder(1),
	)

	mail, err := scanMail(tx.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrMailNotFound
		}
		return nil, fmt.Errorf("failed to lock mail row: %w", err)
	}

	if mail.IsClaimed {
		return nil, storage.ErrAlreadyClaimed
	}
	if !isAdmin && mail.ReceiverID != callerID {
		return nil, storage.ErrNotAuthorized
	}

	update := fmt.Sprintf(
		"UPDATE mails SET is_claimed = TRUE WHERE id = %s AND is_claimed = FALSE",
		s.placeholder(1),
	)
	result, err := tx.ExecContext(ctx, update, id)
	if err != nil {
		return nil, fmt.Errorf("failed to claim mail: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to claim mail: %w", err)
	}
	if affected == 0 {
		return nil, storage.ErrAlreadyClaimed
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}

	mail.IsClaimed = true
	return mail, nil
}

// DeleteMail 删除邮件，仅当接收者匹配时生效
func (s *Store) DeleteMail(ctx context.Context, id string, receiverID string) error {
	query := fmt.Sprintf(
		"DELETE FROM mails WHERE id = %s AND receiver_uuid = %s",
		s.placeholder(1), s.placeholder(2),
	)

	result, err := s.db.ExecContext(ctx, query, id, receiverID)
	if err != nil {
		return fmt.Errorf("failed to delete mail: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return storage.ErrMailNotFound
	}
	return nil
}

// DeleteMailByID 管理员删除，无接收者校验
func (s *Store) DeleteMailByID(ctx context.Context, id string) error {
	query := fmt.Sprintf("DELETE FROM mails WHERE id = %s", s.placeholder(1))

	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to delete mail: %w", err)
	}
	return nil
}

// ClearInbox 清空收件箱，返回删除数量
func (s *Store) ClearInbox(ctx context.Context, receiverID string) (int, error) {
	query := fmt.Sprintf("DELETE FROM mails WHERE receiver_uuid = %s", s.placeholder(1))

	result, err := s.db.ExecContext(ctx, query, receiverID)
	if err != nil {
		return 0, fmt.Errorf("failed to clear inbox: %w", err)
	}
	affected, _ := result.RowsAffected()
	return int(affected), nil
}

// DeleteExpired 删除所有已过期邮件，返回删除数量
func (s *Store) DeleteExpired(ctx context.Context, now int64) (int, error) {
	query := fmt.Sprintf(
		"DELETE FROM mails WHERE expire_time > 0 AND expire_time < %s",
		s.placeholder(1),
	)

	result, err := s.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired mails: %w", err)
	}
	affected, _ := result.RowsAffected()
	return int(affected), nil
}

// ListNewMailSince 捞取 sent_time 晚于 since 且来源服不是本服的邮件投影
func (s *Store) ListNewMailSince(ctx context.Context, since int64, excludeServerID string) ([]domain.MailNotification, error) {
	query := fmt.Sprintf(
		"SELECT id, sender_name, receiver_uuid, title, sent_time FROM mails "+
			"WHERE sent_time > %s AND server_id != %s ORDER BY sent_time",
		s.placeholder(1), s.placeholder(2),
	)

	rows, err := s.db.QueryContext(ctx, query, since, excludeServerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list new mails: %w", err)
	}
	defer rows.Close()

	var notifications []domain.MailNotification
	for rows.Next() {
		var n domain.MailNotification
		if err := rows.Scan(&n.MailID, &n.SenderName, &n.ReceiverID, &n.Title, &n.SentTime); err != nil {
			return nil, fmt.Errorf("failed to scan mail notification: %w", err)
		}
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list new mails: %w", err)
	}
	return notifications, nil
}

// rowScanner 兼容 *sql.Row 与 *sql.Rows 的扫描入口
type rowScanner interface {
	Scan(dest ...any) error
}

func scanMail(row rowScanner) (*domain.Mail, error) {
	var mail domain.Mail
	err := row.Scan(
		&mail.ID, &mail.SenderID, &mail.SenderName, &mail.ReceiverID, &mail.ReceiverName,
		&mail.Title, &mail.Content, &mail.Attachments, &mail.MoneyAmount,
		&mail.SentTime, &mail.ExpireTime, &mail.IsRead, &mail.IsClaimed,
		&mail.ReadTime, &mail.ServerID,
	)
	if err != nil {
		return nil, err
	}
	return &mail, nil
}

func scanMails(rows *sql.Rows) ([]domain.Mail, error) {
	var mails []domain.Mail
	for rows.Next() {
		mail, err := scanMail(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan mail: %w", err)
		}
		mails = append(mails, *mail)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate mails: %w", err)
	}
	return mails, nil
}
