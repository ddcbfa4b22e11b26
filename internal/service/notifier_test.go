package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"foliamail/backend/internal/domain"
	"foliamail/backend/internal/storage"
)

func insertRemoteMail(t *testing.T, env *testEnv, id, receiver, serverID string) {
	t.Helper()
	require.NoError(t, env.store.InsertMail(context.Background(), &domain.Mail{
		ID:         id,
		SenderID:   "alice",
		SenderName: "Alice",
		ReceiverID: receiver,
		Title:      "跨服邮件",
		SentTime:   time.Now().UnixMilli(),
		ServerID:   serverID,
	}))
}

func TestNotifier_NotifiesOnlineRecipient(t *testing.T) {
	env := newTestEnv(t, DefaultServiceConfig())
	env.sessions.SetOnline("bob", true)
	insertRemoteMail(t, env, "m-1", "bob", "other-server")

	env.notifier.Poll(context.Background())

	notifications := env.sessions.Notifications("bob")
	require.Len(t, notifications, 1)
	assert.Equal(t, "m-1", notifications[0].MailID)
}

func TestNotifier_DeduplicatesAcrossPolls(t *testing.T) {
	env := newTestEnv(t, DefaultServiceConfig())
	env.sessions.SetOnline("bob", true)
	insertRemoteMail(t, env, "m-1", "bob", "other-server")

	// 重叠缓冲会让同一行被多次捞取，去重集合必须挡住重复通知
	env.notifier.Poll(context.Background())
	env.notifier.lastCheck = 0
	env.notifier.Poll(context.Background())

	assert.Len(t, env.sessions.Notifications("bob"), 1)
}

func TestNotifier_SkipsLocallyMarkedMail(t *testing.T) {
	env := newTestEnv(t, DefaultServiceConfig())
	env.sessions.SetOnline("bob", true)
	insertRemoteMail(t, env, "m-1", "bob", "other-server")

	env.notifier.MarkLocal("m-1")
	env.notifier.Poll(context.Background())

	assert.Empty(t, env.sessions.Notifications("bob"))
}

func TestNotifier_SkipsOwnServerRows(t *testing.T) {
	env := newTestEnv(t, DefaultServiceConfig())
	env.sessions.SetOnline("bob", true)
	insertRemoteMail(t, env, "m-1", "bob", env.cfg.ServerID)

	env.notifier.Poll(context.Background())

	assert.Empty(t, env.sessions.Notifications("bob"))
}

func TestNotifier_OfflineRecipientSkipped(t *testing.T) {
	env := newTestEnv(t, DefaultServiceConfig())
	insertRemoteMail(t, env, "m-1", "bob", "other-server")

	env.notifier.Poll(context.Background())

	assert.Empty(t, env.sessions.Notifications("bob"))
}

func TestNotifier_LocalSendNeverSelfNotifies(t *testing.T) {
	env := newTestEnv(t, DefaultServiceConfig())
	env.sessions.SetOnline("bob", true)

	opts := domain.DefaultOptions()
	opts.NotifyReceiver = false // 关掉即时通知，只验证轮询路径
	result := env.send(t, testDraft("alice", "bob"), opts, false)
	require.True(t, result.IsAllSuccess())

	// 本进程发出的邮件已被持久化过滤器预标记
	env.notifier.Poll(context.Background())
	assert.Empty(t, env.sessions.Notifications("bob"))
}

func TestNotifier_PollFailureRetriesNextTick(t *testing.T) {
	env := newTestEnv(t, DefaultServiceConfig())
	env.sessions.SetOnline("bob", true)
	insertRemoteMail(t, env, "m-1", "bob", "other-server")

	// 先占住队列 worker，再用已取消的上下文轮询：本次必然失败，检查点不前移
	env.queue.SubmitFireAndForget("slow", func(context.Context, storage.Store) (any, error) {
		time.Sleep(200 * time.Millisecond)
		return nil, nil
	})
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	env.notifier.Poll(cancelled)
	assert.Empty(t, env.sessions.Notifications("bob"))

	env.notifier.Poll(context.Background())
	assert.Len(t, env.sessions.Notifications("bob"), 1)
}
