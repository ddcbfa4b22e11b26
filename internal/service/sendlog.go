package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"foliamail/backend/internal/queue"
	"foliamail/backend/internal/storage"
)

const sendLogDateLayout = "2006-01-02"

// SendLogManager 每日发送计数管理
type SendLogManager struct {
	queue  *queue.Queue
	logger *zap.Logger
	now    func() time.Time
}

// NewSendLogManager 创建发送计数管理器
func NewSendLogManager(q *queue.Queue, logger *zap.Logger) *SendLogManager {
	return &SendLogManager{queue: q, logger: logger, now: time.Now}
}

// Today 当前计数日期
func (m *SendLogManager) Today() string {
	return m.now().Format(sendLogDateLayout)
}

// CountToday 读取发送者今日已发送数
func (m *SendLogManager) CountToday(ctx context.Context, senderID string) (int, error) {
	date := m.Today()
	v, err := m.queue.SubmitAndWait(ctx, "sendlog_count",
		func(opCtx context.Context, store storage.Store) (any, error) {
			return store.GetSendCount(opCtx, senderID, date)
		})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

// IncrementToday 给发送者今日计数累加 amount，失败只记日志
func (m *SendLogManager) IncrementToday(senderID string, amount int) {
	if amount <= 0 {
		return
	}
	date := m.Today()
	m.queue.SubmitFireAndForget("sendlog_increment",
		func(opCtx context.Context, store storage.Store) (any, error) {
			return nil, store.IncrementSendLog(opCtx, senderID, date, amount)
		})
}
