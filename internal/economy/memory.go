package economy

import (
	"context"
	"sync"
)

// MemoryWallet 内存货币实现，用于开发验证和测试
type MemoryWallet struct {
	mu       sync.Mutex
	balances map[string]float64
}

// NewMemoryWallet 创建内存钱包
func NewMemoryWallet() *MemoryWallet {
	return &MemoryWallet{balances: make(map[string]float64)}
}

// SetBalance 直接设置余额，仅供测试准备数据
func (w *MemoryWallet) SetBalance(playerID string, amount float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.balances[playerID] = amount
}

// GetBalance 查询余额，未知账户视为 0
func (w *MemoryWallet) GetBalance(_ context.Context, playerID string) (float64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.balances[playerID], nil
}

// HasEnough 判断余额是否足够
func (w *MemoryWallet) HasEnough(_ context.Context, playerID string, amount float64) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.balances[playerID] >= amount, nil
}

// Withdraw 原子扣款
func (w *MemoryWallet) Withdraw(_ context.Context, playerID string, amount float64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.balances[playerID] < amount {
		return ErrInsufficientFunds
	}
	w.balances[playerID] -= amount
	return nil
}

// Deposit 存款
func (w *MemoryWallet) Deposit(_ context.Context, playerID string, amount float64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.balances[playerID] += amount
	return nil
}
