package economy

import (
	"context"
	"errors"
)

var (
	// ErrInsufficientFunds 余额不足
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrAccountNotFound 账户不存在
	ErrAccountNotFound = errors.New("account not found")
)

// Provider 货币服务
//
// Withdraw 必须是原子的检查并扣款：余额不足时返回 ErrInsufficientFunds
// 且不产生任何扣款。
type Provider interface {
	GetBalance(ctx context.Context, playerID string) (float64, error)
	HasEnough(ctx context.Context, playerID string, amount float64) (bool, error)
	Withdraw(ctx context.Context, playerID string, amount float64) error
	Deposit(ctx context.Context, playerID string, amount float64) error
}
