package health

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"

	"foliamail/backend/internal/storage"
)

// WalletChecker 可上报健康状态的钱包后端
type WalletChecker interface {
	Health() error
}

// HealthChecker 健康检查器
type HealthChecker struct {
	health healthcheck.Handler
	store  storage.Store
	wallet WalletChecker
	logger *zap.Logger
}

// NewHealthChecker 创建健康检查器
//
// wallet 可以为 nil（内存钱包不需要外部连通性检查）。
func NewHealthChecker(store storage.Store, wallet WalletChecker, logger *zap.Logger) *HealthChecker {
	hc := &HealthChecker{
		health: healthcheck.NewHandler(),
		store:  store,
		wallet: wallet,
		logger: logger,
	}

	hc.addChecks()

	return hc
}

// addChecks 添加健康检查
func (hc *HealthChecker) addChecks() {
	// 存储连接检查
	hc.health.AddReadinessCheck("storage", func() error {
		return hc.store.Health()
	})

	// 钱包后端检查（仅 Redis 钱包）
	if hc.wallet != nil {
		hc.health.AddReadinessCheck("wallet", func() error {
			return hc.wallet.Health()
		})
	}

	// 协程数量检查，泄漏时标记为不健康
	hc.health.AddLivenessCheck("goroutines", healthcheck.GoroutineCountCheck(2000))
}

// Handler 返回健康检查处理器
func (hc *HealthChecker) Handler() http.Handler {
	return hc.health
}

// CheckHealth 执行健康检查并汇总结果
func (hc *HealthChecker) CheckHealth() map[string]string {
	results := make(map[string]string)

	if err := hc.store.Health(); err != nil {
		results["storage"] = fmt.Sprintf("ERROR: %v", err)
	} else {
		results["storage"] = "OK"
	}

	if hc.wallet != nil {
		if err := hc.wallet.Health(); err != nil {
			results["wallet"] = fmt.Sprintf("ERROR: %v", err)
		} else {
			results["wallet"] = "OK"
		}
	} else {
		results["wallet"] = "NOT_AVAILABLE"
	}

	results["timestamp"] = time.Now().Format(time.RFC3339)

	return results
}

// DatabaseHealthCheck 数据库连接池健康检查
func DatabaseHealthCheck(db *sql.DB) healthcheck.Check {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		return db.PingContext(ctx)
	}
}
