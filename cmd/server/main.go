package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"foliamail/backend/internal/cache"
	"foliamail/backend/internal/codec"
	"foliamail/backend/internal/config"
	"foliamail/backend/internal/economy"
	"foliamail/backend/internal/health"
	"foliamail/backend/internal/logger"
	"foliamail/backend/internal/monitoring"
	"foliamail/backend/internal/pool"
	"foliamail/backend/internal/queue"
	"foliamail/backend/internal/service"
	"foliamail/backend/internal/storage"
	"foliamail/backend/internal/storage/memory"
	sqlstore "foliamail/backend/internal/storage/sql"
	httptransport "foliamail/backend/internal/transport/http"
	"foliamail/backend/internal/websocket"
)

// main 启动邮件投递服务：HTTP API、玩家会话网关、任务队列与后台轮询。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		File:        cfg.Log.File,
	})
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer log.Sync()

	log.Info("starting foliamail server",
		zap.String("server_id", cfg.Mail.ServerID),
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
	)

	// 存储层
	var store storage.Store
	if cfg.Database.Type != "" {
		sqlStore, err := sqlstore.NewStore(
			cfg.Database.Type,
			cfg.Database.DSN,
			cfg.Database.MaxOpenConns,
			cfg.Database.MaxIdleConns,
			cfg.Database.ConnMaxLifetime,
		)
		if err != nil {
			panic(fmt.Sprintf("failed to initialize database storage: %v", err))
		}
		defer sqlStore.Close()
		store = sqlStore
		log.Info("using database storage", zap.String("type", cfg.Database.Type))
	} else {
		store = memory.NewStore()
		log.Warn("using memory storage, mails will not survive a restart")
	}

	metrics := monitoring.NewMetrics()

	// 钱包
	var wallet economy.Provider
	var walletChecker health.WalletChecker
	if cfg.Redis.Enabled {
		redisWallet, err := economy.NewRedisWallet(economy.RedisWalletConfig{
			Address:   cfg.Redis.Address,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		}, log)
		if err != nil {
			panic(fmt.Sprintf("failed to initialize Redis wallet: %v", err))
		}
		defer redisWallet.Close()
		wallet = redisWallet
		walletChecker = redisWallet
	} else {
		wallet = economy.NewMemoryWallet()
		log.Warn("using memory wallet, balances will not survive a restart")
	}

	healthChecker := health.NewHealthChecker(store, walletChecker, log)

	// 任务队列：所有数据库访问经由单工作协程串行执行
	dispatcher := pool.NewDispatcher(cfg.Queue.DispatcherWorkers, cfg.Queue.DispatcherBuffer, log)
	dbQueue := queue.New(store, dispatcher, log, metrics, queue.Config{
		BufferSize:        cfg.Queue.BufferSize,
		WarningThreshold:  cfg.Queue.WarningThreshold,
		OverloadThreshold: cfg.Queue.OverloadThreshold,
		EnqueueTimeout:    cfg.Queue.EnqueueTimeout,
		QueryTimeout:      cfg.Queue.QueryTimeout,
		SlowOpThreshold:   cfg.Queue.SlowOpThreshold,
		ShutdownGrace:     cfg.Queue.ShutdownGrace,
	})

	mailboxCache := cache.NewMailboxCache(dbQueue, log, metrics, cfg.Cache.TTL)

	// 会话网关，同时充当在线目录和物品发放通道
	wsHub := websocket.NewHub(cfg.CORS.AllowedOrigins, cfg.Websocket.GateToken, log)

	// 服务层
	svcConfig := service.Config{
		MaxTitleLength:   cfg.Mail.MaxTitleLength,
		MaxContentLength: cfg.Mail.MaxContentLength,
		MaxAttachments:   cfg.Mail.MaxAttachments,
		MaxMailboxSize:   cfg.Mail.MaxMailboxSize,
		DailyLimit:       cfg.Mail.DailyLimit,
		Postage:          cfg.Mail.Postage,
		AttachmentFee:    cfg.Mail.AttachmentFee,
		DefaultExpiry:    cfg.Mail.DefaultExpiry,
		ServerID:         cfg.Mail.ServerID,
		EconomyEnabled:   cfg.Mail.EconomyEnabled,
		NotifyInterval:   cfg.Mail.NotifyInterval,
		NotifyOverlap:    cfg.Mail.NotifyOverlap,
		NotifyDedupCap:   cfg.Mail.NotifyDedupCap,
		SweepInterval:    cfg.Mail.SweepInterval,
	}

	mailCodec := codec.NewGzipJSON()
	listeners := service.NewListeners()
	sendLog := service.NewSendLogManager(dbQueue, log)
	blacklist := service.NewBlacklistManager(dbQueue, log)
	notifier := service.NewNotifier(svcConfig, dbQueue, mailboxCache, wsHub, metrics, log)

	pipeline := service.NewPipeline(log, metrics,
		service.NewValidationFilter(svcConfig, log),
		service.NewMailboxLimitFilter(svcConfig, dbQueue, log),
		service.NewDailyLimitFilter(svcConfig, sendLog, log),
		service.NewBlacklistFilter(blacklist, log),
		service.NewEconomyFilter(svcConfig, wallet, log),
		service.NewPersistenceFilter(svcConfig, dbQueue, mailCodec, mailboxCache, wsHub, sendLog, notifier, listeners, metrics, log),
	)

	claims := service.NewClaimService(dbQueue, mailboxCache, mailCodec, wallet, wsHub, listeners, metrics, log)
	mailService := service.NewMailService(svcConfig, dbQueue, mailboxCache, pipeline, claims, wsHub, listeners, log)

	// 玩家上线提醒未读邮件，下线后重置提醒标记
	wsHub.SetLifecycleHooks(mailService.RemindUnread, mailService.ResetReminder)

	// HTTP 服务器
	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:        cfg,
		MailService:   mailService,
		Blacklist:     blacklist,
		WebSocketHub:  wsHub,
		HealthChecker: healthChecker,
		Metrics:       metrics,
		Logger:        log,
	})

	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// 信号处理
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dispatcher.Start(ctx)
	dbQueue.Start(ctx)

	group, groupCtx := errgroup.WithContext(ctx)

	// HTTP 服务器 goroutine
	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	// 会话中心 goroutine
	group.Go(func() error {
		log.Info("starting websocket hub")
		wsHub.Run(groupCtx)
		return nil
	})

	// 跨服新邮件轮询 goroutine
	group.Go(func() error {
		log.Info("starting cross-server mail notifier",
			zap.Duration("interval", cfg.Mail.NotifyInterval))
		notifier.Run(groupCtx)
		return nil
	})

	// 过期邮件清理 goroutine
	group.Go(func() error {
		log.Info("starting expired mail sweeper",
			zap.Duration("interval", cfg.Mail.SweepInterval))
		mailService.RunSweeper(groupCtx)
		return nil
	})

	// 优雅关闭 goroutine
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}

		// 先停外部入口再排空队列，积压的写入在宽限期内落库
		dbQueue.Close()
		dispatcher.Stop()

		log.Info("servers stopped")
		return nil
	})

	if err := group.Wait(); err != nil && err != context.Canceled {
		log.Fatal("server error", zap.Error(err))
	}

	log.Info("server exited cleanly")
}
