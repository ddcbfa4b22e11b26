package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"foliamail/backend/internal/domain"
	"foliamail/backend/internal/storage"
)

func awaitErr(t *testing.T, run func(cb func(error))) error {
	t.Helper()
	ch := make(chan error, 1)
	run(func(err error) { ch <- err })
	select {
	case err := <-ch:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("callback not invoked")
		return nil
	}
}

func TestMailService_MarkRead(t *testing.T) {
	env := newTestEnv(t, DefaultServiceConfig())
	require.NoError(t, env.store.InsertMail(context.Background(), &domain.Mail{
		ID: "m-1", ReceiverID: "bob", SentTime: 1,
	}))

	err := awaitErr(t, func(cb func(error)) { env.mail.MarkRead("m-1", cb) })
	require.NoError(t, err)

	mail, err := env.store.GetMail(context.Background(), "m-1")
	require.NoError(t, err)
	assert.True(t, mail.IsRead)
	assert.Greater(t, mail.ReadTime, int64(0))
}

func TestMailService_DeleteOnlyByReceiver(t *testing.T) {
	env := newTestEnv(t, DefaultServiceConfig())
	require.NoError(t, env.store.InsertMail(context.Background(), &domain.Mail{
		ID: "m-1", ReceiverID: "bob", SentTime: 1,
	}))

	err := awaitErr(t, func(cb func(error)) { env.mail.Delete("m-1", "mallory", cb) })
	assert.ErrorIs(t, err, storage.ErrMailNotFound)

	err = awaitErr(t, func(cb func(error)) { env.mail.Delete("m-1", "bob", cb) })
	require.NoError(t, err)

	_, err = env.store.GetMail(context.Background(), "m-1")
	assert.ErrorIs(t, err, storage.ErrMailNotFound)
}

func TestMailService_ClearInbox(t *testing.T) {
	env := newTestEnv(t, DefaultServiceConfig())
	for i := 0; i < 3; i++ {
		require.NoError(t, env.store.InsertMail(context.Background(), &domain.Mail{
			ID: fmt.Sprintf("m-%d", i), ReceiverID: "bob", SentTime: int64(i),
		}))
	}

	ch := make(chan int, 1)
	env.mail.ClearInbox("bob", func(count int, err error) {
		require.NoError(t, err)
		ch <- count
	})
	assert.Equal(t, 3, <-ch)
}

func TestMailService_ListSentCapped(t *testing.T) {
	env := newTestEnv(t, DefaultServiceConfig())
	for i := 0; i < maxSentListing+20; i++ {
		require.NoError(t, env.store.InsertMail(context.Background(), &domain.Mail{
			ID: fmt.Sprintf("m-%d", i), SenderID: "alice", ReceiverID: "bob", SentTime: int64(i),
		}))
	}

	ch := make(chan []domain.Mail, 1)
	env.mail.ListSent("alice", func(mails []domain.Mail, err error) {
		require.NoError(t, err)
		ch <- mails
	})
	mails := <-ch
	assert.Len(t, mails, maxSentListing)
	// 最新的在前
	assert.Equal(t, fmt.Sprintf("m-%d", maxSentListing+19), mails[0].ID)
}

func TestMailService_UnreadCountAndReminder(t *testing.T) {
	env := newTestEnv(t, DefaultServiceConfig())
	env.sessions.SetOnline("bob", true)
	require.NoError(t, env.store.InsertMail(context.Background(), &domain.Mail{
		ID: "m-1", ReceiverID: "bob", SentTime: 1,
	}))
	require.NoError(t, env.store.InsertMail(context.Background(), &domain.Mail{
		ID: "m-2", ReceiverID: "bob", SentTime: 2, IsRead: true,
	}))

	ch := make(chan int, 1)
	env.mail.UnreadCount("bob", func(count int, err error) {
		require.NoError(t, err)
		ch <- count
	})
	assert.Equal(t, 1, <-ch)

	// 同一次在线期间只提醒一次
	env.mail.RemindUnread("bob")
	env.mail.RemindUnread("bob")
	require.Eventually(t, func() bool {
		return len(env.sessions.Messages("bob")) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// 下线重置后可再次提醒
	env.mail.ResetReminder("bob")
	env.mail.RemindUnread("bob")
	require.Eventually(t, func() bool {
		return len(env.sessions.Messages("bob")) == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMailService_AdminStatusOverrides(t *testing.T) {
	env := newTestEnv(t, DefaultServiceConfig())
	ctx := context.Background()
	require.NoError(t, env.store.InsertMail(ctx, &domain.Mail{
		ID: "m-1", ReceiverID: "bob", MoneyAmount: 10, SentTime: 1, IsClaimed: true,
	}))

	// 管理员重置领取标志，这是唯一允许 true→false 的路径
	require.NoError(t, env.mail.SetClaimedStatus(ctx, "m-1", false))
	mail, err := env.store.GetMail(ctx, "m-1")
	require.NoError(t, err)
	assert.False(t, mail.IsClaimed)

	require.NoError(t, env.mail.MarkReadStatus(ctx, "m-1", true))
	mail, _ = env.store.GetMail(ctx, "m-1")
	assert.True(t, mail.IsRead)
}

func TestMailService_SweepExpired(t *testing.T) {
	env := newTestEnv(t, DefaultServiceConfig())
	now := time.Now().UnixMilli()
	require.NoError(t, env.store.InsertMail(context.Background(), &domain.Mail{
		ID: "m-1", ReceiverID: "bob", SentTime: now - 100, ExpireTime: now - 1,
	}))
	require.NoError(t, env.store.InsertMail(context.Background(), &domain.Mail{
		ID: "m-2", ReceiverID: "bob", SentTime: now,
	}))

	ch := make(chan int, 1)
	env.mail.SweepExpired(func(count int, err error) {
		require.NoError(t, err)
		ch <- count
	})
	assert.Equal(t, 1, <-ch)

	count, err := env.store.CountInbox(context.Background(), "bob", now)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMailService_SendToName(t *testing.T) {
	env := newTestEnv(t, DefaultServiceConfig())

	// 未知名字 → RECEIVER_NOT_FOUND
	ch := make(chan *domain.BatchSendResult, 1)
	draft := testDraft("alice", "")
	draft.ReceiverName = ""
	env.mail.SendToName(draft, "Stranger", domain.DefaultOptions(), false, func(r *domain.BatchSendResult) { ch <- r })
	result := <-ch
	checkInvariant(t, result)
	require.True(t, result.IsAllFailed())
	reason, _ := result.FailReasonOf("Stranger")
	assert.Equal(t, domain.FailReceiverNotFound, reason)

	// 名字缓存命中后正常发送
	require.NoError(t, env.store.UpsertPlayerName(context.Background(), "bob-id", "Bob", time.Now().UnixMilli()))
	env.mail.SendToName(draft, "Bob", domain.DefaultOptions(), false, func(r *domain.BatchSendResult) { ch <- r })
	result = <-ch
	require.True(t, result.IsAllSuccess())

	count, err := env.store.CountInbox(context.Background(), "bob-id", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
