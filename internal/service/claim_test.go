package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"foliamail/backend/internal/codec"
	"foliamail/backend/internal/domain"
)

func storeMailWithAttachments(t *testing.T, env *testEnv, id, receiver string, items []domain.ItemStack, money float64) {
	t.Helper()
	var attachments []byte
	if len(items) > 0 {
		var err error
		attachments, err = codec.NewGzipJSON().Serialize(items)
		require.NoError(t, err)
	}
	require.NoError(t, env.store.InsertMail(context.Background(), &domain.Mail{
		ID:          id,
		SenderID:    "alice",
		SenderName:  "Alice",
		ReceiverID:  receiver,
		Title:       "附件邮件",
		Attachments: attachments,
		MoneyAmount: money,
		SentTime:    time.Now().UnixMilli(),
	}))
}

func TestClaim_SuccessGrantsItemsAndMoney(t *testing.T) {
	env := newTestEnv(t, DefaultServiceConfig())
	items := []domain.ItemStack{{TypeID: "diamond", Amount: 5}}
	storeMailWithAttachments(t, env, "m-1", "bob", items, 100)

	result := env.claim(t, "m-1", "bob", false)
	require.Equal(t, ClaimSuccess, result.Status)
	assert.Equal(t, 100.0, result.Money)

	granted := env.inventory.granted("bob")
	require.Len(t, granted, 1)
	assert.Equal(t, "diamond", granted[0].TypeID)

	balance, _ := env.wallet.GetBalance(context.Background(), "bob")
	assert.Equal(t, 100.0, balance)

	mail, err := env.store.GetMail(context.Background(), "m-1")
	require.NoError(t, err)
	assert.True(t, mail.IsClaimed)

	// 第二次领取必须失败
	again := env.claim(t, "m-1", "bob", false)
	assert.Equal(t, ClaimAlreadyClaimed, again.Status)
}

func TestClaim_ExactlyOnceUnderConcurrency(t *testing.T) {
	env := newTestEnv(t, DefaultServiceConfig())
	storeMailWithAttachments(t, env, "m-1", "bob", nil, 50)

	const attempts = 32
	results := make(chan ClaimStatus, attempts)
	var wg sync.WaitGroup

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			done := make(chan struct{})
			env.mail.Claim("m-1", "bob", false, func(r *ClaimResult) {
				results <- r.Status
				close(done)
			})
			<-done
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for status := range results {
		if status == ClaimSuccess {
			succeeded++
		}
	}
	assert.Equal(t, 1, succeeded, "exactly one concurrent claim may succeed")

	// 金币只入账一次
	balance, _ := env.wallet.GetBalance(context.Background(), "bob")
	assert.Equal(t, 50.0, balance)
}

func TestClaim_NotFound(t *testing.T) {
	env := newTestEnv(t, DefaultServiceConfig())
	result := env.claim(t, "missing", "bob", false)
	assert.Equal(t, ClaimNotFound, result.Status)
}

func TestClaim_NoAttachments(t *testing.T) {
	env := newTestEnv(t, DefaultServiceConfig())
	require.NoError(t, env.store.InsertMail(context.Background(), &domain.Mail{
		ID: "m-1", ReceiverID: "bob", Title: "无附件", SentTime: 1,
	}))

	result := env.claim(t, "m-1", "bob", false)
	assert.Equal(t, ClaimNoAttachments, result.Status)
}

func TestClaim_Expired(t *testing.T) {
	env := newTestEnv(t, DefaultServiceConfig())
	require.NoError(t, env.store.InsertMail(context.Background(), &domain.Mail{
		ID: "m-1", ReceiverID: "bob", MoneyAmount: 10,
		SentTime: 1, ExpireTime: 2,
	}))

	result := env.claim(t, "m-1", "bob", false)
	assert.Equal(t, ClaimExpired, result.Status)
}

func TestClaim_NotAuthorized(t *testing.T) {
	env := newTestEnv(t, DefaultServiceConfig())
	storeMailWithAttachments(t, env, "m-1", "bob", nil, 10)

	result := env.claim(t, "m-1", "mallory", false)
	assert.Equal(t, ClaimNotAuthorized, result.Status)

	// 管理员可以代为触发领取，金币仍发给接收者
	admin := env.claim(t, "m-1", "admin", true)
	require.Equal(t, ClaimSuccess, admin.Status)
	balance, _ := env.wallet.GetBalance(context.Background(), "bob")
	assert.Equal(t, 10.0, balance)
}

func TestClaim_AdmissionBusy(t *testing.T) {
	env := newTestEnv(t, DefaultServiceConfig())
	storeMailWithAttachments(t, env, "m-1", "bob", nil, 10)

	// 手动占住准入集合，模拟仍在处理中的请求
	require.True(t, env.claims.acquire("m-1"))
	defer env.claims.release("m-1")

	result := env.claim(t, "m-1", "bob", false)
	assert.Equal(t, ClaimProcessing, result.Status)
}

func TestClaim_EmitsClaimedEvent(t *testing.T) {
	env := newTestEnv(t, DefaultServiceConfig())
	storeMailWithAttachments(t, env, "m-1", "bob", nil, 10)

	var mu sync.Mutex
	var claimedBy string
	env.mail.RegisterListener(&funcListener{
		onClaimed: func(mail *domain.Mail, playerID string) {
			mu.Lock()
			claimedBy = playerID
			mu.Unlock()
		},
	})

	result := env.claim(t, "m-1", "bob", false)
	require.Equal(t, ClaimSuccess, result.Status)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "bob", claimedBy)
}

// funcListener 测试用监听器
type funcListener struct {
	onSent    func(*domain.Mail)
	onClaimed func(*domain.Mail, string)
}

func (l *funcListener) OnMailSent(mail *domain.Mail) {
	if l.onSent != nil {
		l.onSent(mail)
	}
}

func (l *funcListener) OnMailClaimed(mail *domain.Mail, playerID string) {
	if l.onClaimed != nil {
		l.onClaimed(mail, playerID)
	}
}
