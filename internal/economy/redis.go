package economy

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// withdrawScript 原子的检查并扣款：余额不足返回 -1，否则返回扣款后余额
var withdrawScript = goredis.NewScript(`
local balance = tonumber(redis.call('GET', KEYS[1]) or '0')
local amount = tonumber(ARGV[1])
if balance < amount then
    return -1
end
return redis.call('INCRBYFLOAT', KEYS[1], -amount)
`)

// RedisWallet 基于 Redis 的货币实现
//
// 扣款走 Lua 脚本，检查和扣减在服务端一次完成，多进程并发下不会透支。
type RedisWallet struct {
	rdb       *goredis.Client
	keyPrefix string
	log       *zap.Logger
}

// RedisWalletConfig Redis 钱包配置
type RedisWalletConfig struct {
	Address   string
	Password  string
	DB        int
	KeyPrefix string
}

// NewRedisWallet 创建 Redis 钱包并验证连接
func NewRedisWallet(cfg RedisWalletConfig, log *zap.Logger) (*RedisWallet, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "foliamail:balance:"
	}

	log.Info("connected to Redis wallet",
		zap.String("address", cfg.Address),
		zap.Int("db", cfg.DB),
	)

	return &RedisWallet{rdb: rdb, keyPrefix: prefix, log: log}, nil
}

func (w *RedisWallet) key(playerID string) string {
	return w.keyPrefix + playerID
}

// GetBalance 查询余额，未知账户视为 0
func (w *RedisWallet) GetBalance(ctx context.Context, playerID string) (float64, error) {
	balance, err := w.rdb.Get(ctx, w.key(playerID)).Float64()
	if err == goredis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}
	return balance, nil
}

// HasEnough 判断余额是否足够
func (w *RedisWallet) HasEnough(ctx context.Context, playerID string, amount float64) (bool, error) {
	balance, err := w.GetBalance(ctx, playerID)
	if err != nil {
		return false, err
	}
	return balance >= amount, nil
}

// Withdraw 原子扣款
func (w *RedisWallet) Withdraw(ctx context.Context, playerID string, amount float64) error {
	result, err := withdrawScript.Run(ctx, w.rdb, []string{w.key(playerID)}, amount).Result()
	if err != nil {
		return fmt.Errorf("failed to withdraw: %w", err)
	}
	// 余额不足时脚本返回整数 -1，成功时返回扣款后余额的字符串
	if n, ok := result.(int64); ok && n == -1 {
		return ErrInsufficientFunds
	}
	return nil
}

// Deposit 存款
func (w *RedisWallet) Deposit(ctx context.Context, playerID string, amount float64) error {
	if err := w.rdb.IncrByFloat(ctx, w.key(playerID), amount).Err(); err != nil {
		return fmt.Errorf("failed to deposit: %w", err)
	}
	return nil
}

// Health 检查 Redis 连接健康状态
func (w *RedisWallet) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return w.rdb.Ping(ctx).Err()
}

// Close 关闭 Redis 连接
func (w *RedisWallet) Close() error {
	return w.rdb.Close()
}
