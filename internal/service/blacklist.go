package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"foliamail/backend/internal/queue"
	"foliamail/backend/internal/storage"
)

// BlacklistManager 黑名单管理，所有读写都经过数据库队列
type BlacklistManager struct {
	queue  *queue.Queue
	logger *zap.Logger
}

// NewBlacklistManager 创建黑名单管理器
func NewBlacklistManager(q *queue.Queue, logger *zap.Logger) *BlacklistManager {
	return &BlacklistManager{queue: q, logger: logger}
}

// Add 把 blockedID 加入 ownerID 的黑名单
func (m *BlacklistManager) Add(ctx context.Context, ownerID, blockedID string) error {
	_, err := m.queue.SubmitAndWait(ctx, "blacklist_add",
		func(opCtx context.Context, store storage.Store) (any, error) {
			return nil, store.AddBlacklist(opCtx, ownerID, blockedID, time.Now().UnixMilli())
		})
	return err
}

// Remove 从 ownerID 的黑名单移除 blockedID，返回是否确有删除
func (m *BlacklistManager) Remove(ctx context.Context, ownerID, blockedID string) (bool, error) {
	v, err := m.queue.SubmitAndWait(ctx, "blacklist_remove",
		func(opCtx context.Context, store storage.Store) (any, error) {
			return store.RemoveBlacklist(opCtx, ownerID, blockedID)
		})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

// List 列出 ownerID 的黑名单
func (m *BlacklistManager) List(ctx context.Context, ownerID string) ([]string, error) {
	v, err := m.queue.SubmitAndWait(ctx, "blacklist_list",
		func(opCtx context.Context, store storage.Store) (any, error) {
			return store.ListBlacklist(opCtx, ownerID)
		})
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}

// Contains blockedID 是否在 ownerID 的黑名单中
func (m *BlacklistManager) Contains(ctx context.Context, ownerID, blockedID string) (bool, error) {
	v, err := m.queue.SubmitAndWait(ctx, "blacklist_contains",
		func(opCtx context.Context, store storage.Store) (any, error) {
			return store.IsBlacklisted(opCtx, ownerID, blockedID)
		})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}
