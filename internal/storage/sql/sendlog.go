package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"foliamail/backend/internal/storage"
)

// IncrementSendLog 累加某玩家某日的发送计数。
// 先 UPDATE，未命中再 INSERT；与原表结构保持一致的 upsert 语义。
func (s *Store) IncrementSendLog(ctx context.Context, playerID, date string, amount int) error {
	update := fmt.Sprintf(
		"UPDATE mail_send_log SET send_count = send_count + %s WHERE player_uuid = %s AND send_date = %s",
		s.placeholder(1), s.placeholder(2), s.placeholder(3),
	)

	result, err := s.db.ExecContext(ctx, update, amount, playerID, date)
	if err != nil {
		return fmt.Errorf("failed to update send log: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update send log: %w", err)
	}
	if affected > 0 {
		return nil
	}

	insert := fmt.Sprintf(
		"INSERT INTO mail_send_log (player_uuid, send_date, send_count) VALUES (%s, %s, %s)",
		s.placeholder(1), s.placeholder(2), s.placeholder(3),
	)
	if _, err := s.db.ExecContext(ctx, insert, playerID, date, amount); err != nil {
		return fmt.Errorf("failed to insert send log: %w", err)
	}
	return nil
}

// GetSendCount 查询某玩家某日的发送计数，无记录返回 0
func (s *Store) GetSendCount(ctx context.Context, playerID, date string) (int, error) {
	query := fmt.Sprintf(
		"SELECT send_count FROM mail_send_log WHERE player_uuid = %s AND send_date = %s",
		s.placeholder(1), s.placeholder(2),
	)

	var count int
	err := s.db.QueryRowContext(ctx, query, playerID, date).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get send count: %w", err)
	}
	return count, nil
}

// AddBlacklist 添加黑名单条目
func (s *Store) AddBlacklist(ctx context.Context, ownerID, blockedID string, blockedTime int64) error {
	query := fmt.Sprintf(
		"INSERT INTO mail_blacklist (owner_uuid, blocked_uuid, blocked_time) VALUES (%s, %s, %s)",
		s.placeholder(1), s.placeholder(2), s.placeholder(3),
	)

	if _, err := s.db.ExecContext(ctx, query, ownerID, blockedID, blockedTime); err != nil {
		return fmt.Errorf("failed to add blacklist entry: %w", err)
	}
	return nil
}

// RemoveBlacklist 移除黑名单条目，返回是否确有删除
func (s *Store) RemoveBlacklist(ctx context.Context, ownerID, blockedID string) (bool, error) {
	query := fmt.Sprintf(
		"DELETE FROM mail_blacklist WHERE owner_uuid = %s AND blocked_uuid = %s",
		s.placeholder(1), s.placeholder(2),
	)

	result, err := s.db.ExecContext(ctx, query, ownerID, blockedID)
	if err != nil {
		return false, fmt.Errorf("failed to remove blacklist entry: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to remove blacklist entry: %w", err)
	}
	return affected > 0, nil
}

// ListBlacklist 列出某玩家的黑名单
func (s *Store) ListBlacklist(ctx context.Context, ownerID string) ([]string, error) {
	query := fmt.Sprintf(
		"SELECT blocked_uuid FROM mail_blacklist WHERE owner_uuid = %s",
		s.placeholder(1),
	)

	rows, err := s.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list blacklist: %w", err)
	}
	defer rows.Close()

	var blocked []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan blacklist entry: %w", err)
		}
		blocked = append(blocked, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list blacklist: %w", err)
	}
	return blocked, nil
}

// IsBlacklisted 查询 blockedID 是否在 ownerID 的黑名单中
func (s *Store) IsBlacklisted(ctx context.Context, ownerID, blockedID string) (bool, error) {
	query := fmt.Sprintf(
		"SELECT 1 FROM mail_blacklist WHERE owner_uuid = %s AND blocked_uuid = %s",
		s.placeholder(1), s.placeholder(2),
	)

	var one int
	err := s.db.QueryRowContext(ctx, query, ownerID, blockedID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check blacklist: %w", err)
	}
	return true, nil
}

// UpsertPlayerName 更新玩家名缓存，name 为主键，同名更新 ID
func (s *Store) UpsertPlayerName(ctx context.Context, playerID, name string, lastSeen int64) error {
	update := fmt.Sprintf(
		"UPDATE player_cache SET uuid = %s, last_seen = %s WHERE player_name = %s",
		s.placeholder(1), s.placeholder(2), s.placeholder(3),
	)

	result, err := s.db.ExecContext(ctx, update, playerID, lastSeen, name)
	if err != nil {
		return fmt.Errorf("failed to update player cache: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update player cache: %w", err)
	}
	if affected > 0 {
		return nil
	}

	insert := fmt.Sprintf(
		"INSERT INTO player_cache (uuid, player_name, last_seen) VALUES (%s, %s, %s)",
		s.placeholder(1), s.placeholder(2), s.placeholder(3),
	)
	if _, err := s.db.ExecContext(ctx, insert, playerID, name, lastSeen); err != nil {
		return fmt.Errorf("failed to insert player cache: %w", err)
	}
	return nil
}

// GetPlayerIDByName 按名字解析玩家 ID
func (s *Store) GetPlayerIDByName(ctx context.Context, name string) (string, error) {
	query := fmt.Sprintf(
		"SELECT uuid FROM player_cache WHERE player_name = %s",
		s.placeholder(1),
	)

	var id string
	err := s.db.QueryRowContext(ctx, query, name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", storage.ErrPlayerNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve player name: %w", err)
	}
	return id, nil
}

// GetPlayerNameByID 按 ID 解析最近使用的玩家名
func (s *Store) GetPlayerNameByID(ctx context.Context, playerID string) (string, error) {
	query := fmt.Sprintf(
		"SELECT player_name FROM player_cache WHERE uuid = %s ORDER BY last_seen DESC LIMIT 1",
		s.placeholder(1),
	)

	var name string
	err := s.db.QueryRowContext(ctx, query, playerID).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", storage.ErrPlayerNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve player id: %w", err)
	}
	return name, nil
}
