package economy

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryWallet_WithdrawDeposit(t *testing.T) {
	w := NewMemoryWallet()
	ctx := context.Background()

	w.SetBalance("alice", 100)

	ok, err := w.HasEnough(ctx, "alice", 50)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, w.Withdraw(ctx, "alice", 60))

	balance, err := w.GetBalance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 40.0, balance)

	err = w.Withdraw(ctx, "alice", 50)
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	require.NoError(t, w.Deposit(ctx, "alice", 10))
	balance, _ = w.GetBalance(ctx, "alice")
	assert.Equal(t, 50.0, balance)
}

func TestMemoryWallet_ConcurrentWithdrawNoOverdraft(t *testing.T) {
	w := NewMemoryWallet()
	ctx := context.Background()
	w.SetBalance("alice", 10)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if w.Withdraw(ctx, "alice", 1) == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, succeeded)
	balance, _ := w.GetBalance(ctx, "alice")
	assert.Equal(t, 0.0, balance)
}
