package httptransport

import (
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"foliamail/backend/internal/config"
	"foliamail/backend/internal/health"
	"foliamail/backend/internal/middleware"
	"foliamail/backend/internal/monitoring"
	"foliamail/backend/internal/service"
	"foliamail/backend/internal/websocket"
)

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config        *config.Config
	MailService   *service.MailService
	Blacklist     *service.BlacklistManager
	WebSocketHub  *websocket.Hub
	HealthChecker *health.HealthChecker
	Metrics       *monitoring.Metrics
	Logger        *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	router := gin.New()

	router.Use(middleware.RecoveryHandler(deps.Logger))
	router.Use(middleware.RequestLogger(deps.Logger))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.HTTPMetrics(deps.Metrics))

	// 附件以 JSON 内联，1MB 对单封邮件绰绰有余
	router.Use(middleware.RequestSizeLimit(1 * 1024 * 1024))

	corsConfig := gincors.Config{
		AllowOrigins:     deps.Config.CORS.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "X-Gate-Token"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	// 如果允许所有来源，则需清空凭证支持。
	for _, origin := range corsConfig.AllowOrigins {
		if origin == "*" {
			corsConfig.AllowCredentials = false
			break
		}
	}
	router.Use(gincors.New(corsConfig))

	handler := NewMailHandler(deps.MailService, deps.Blacklist, deps.Logger)

	// 运维端点不过接入令牌
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if deps.HealthChecker != nil {
		router.GET("/live", gin.WrapH(deps.HealthChecker.Handler()))
		router.GET("/ready", gin.WrapH(deps.HealthChecker.Handler()))
	}

	// 游戏服会话网关
	router.GET("/ws", websocket.HandleWebSocket(deps.WebSocketHub))

	// V1 API
	v1 := router.Group("/v1")
	v1.Use(middleware.GateAuth(deps.Config.Websocket.GateToken))
	{
		mailRoutes := v1.Group("/mail")
		{
			mailRoutes.POST("/send", handler.Send)
			mailRoutes.POST("/send-batch", handler.SendBatch)
			mailRoutes.POST("/:id/claim", handler.Claim)
			mailRoutes.POST("/:id/read", handler.MarkRead)
			mailRoutes.DELETE("/:id", handler.Delete)
		}

		playerRoutes := v1.Group("/players/:id")
		{
			playerRoutes.GET("/inbox", handler.Inbox)
			playerRoutes.GET("/sent", handler.Sent)
			playerRoutes.GET("/unread-count", handler.UnreadCount)
			playerRoutes.POST("/clear", handler.ClearInbox)
			playerRoutes.GET("/blacklist", handler.ListBlacklist)
			playerRoutes.POST("/blacklist", handler.AddBlacklist)
			playerRoutes.DELETE("/blacklist/:blockedId", handler.RemoveBlacklist)
		}

		adminRoutes := v1.Group("/admin")
		{
			adminRoutes.PUT("/mail/:id/read", handler.SetReadStatus)
			adminRoutes.PUT("/mail/:id/claimed", handler.SetClaimedStatus)
			adminRoutes.POST("/sweep", handler.SweepExpired)
		}
	}

	return router
}
