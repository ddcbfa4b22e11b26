package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ServerConfig 定义 HTTP 服务器的监听配置参数
type ServerConfig struct {
	Host string // 监听地址，默认 "0.0.0.0"
	Port int    // 监听端口，默认 8080
}

// DatabaseConfig 定义数据库连接配置（支持 MySQL 和 PostgreSQL）
type DatabaseConfig struct {
	Type            string        // 数据库类型: "mysql" 或 "postgres"，留空使用内存存储
	DSN             string        // 数据库连接字符串
	MaxOpenConns    int           // 最大打开连接数，默认 25
	MaxIdleConns    int           // 最大空闲连接数，默认 5
	ConnMaxLifetime time.Duration // 连接最大生命周期，默认 5 分钟
}

// RedisConfig 定义 Redis 经济账户服务配置
type RedisConfig struct {
	Enabled   bool   // 是否启用 Redis 钱包，关闭时使用内存钱包
	Address   string // Redis 服务地址，格式 "host:port"，默认 "localhost:6379"
	Password  string // Redis 认证密码，留空表示无密码
	DB        int    // Redis 数据库编号，默认 0
	KeyPrefix string // 余额键前缀，默认 "foliamail:balance:"
}

// QueueConfig 定义数据库任务队列的准入与超时配置
type QueueConfig struct {
	BufferSize        int           // 任务通道容量，默认 2000
	WarningThreshold  int           // 积压告警阈值，默认 500
	OverloadThreshold int           // 过载拒绝阈值，默认 1000
	EnqueueTimeout    time.Duration // 入队等待上限，默认 5s
	QueryTimeout      time.Duration // 单任务执行超时，默认 10s
	SlowOpThreshold   time.Duration // 慢任务告警阈值，默认 1s
	ShutdownGrace     time.Duration // 关停排空宽限，默认 30s
	DispatcherWorkers int           // 回调分发协程数，默认 4
	DispatcherBuffer  int           // 回调分发队列容量，默认 256
}

// CacheConfig 定义收件箱缓存配置
type CacheConfig struct {
	TTL time.Duration // 缓存条目生存时间，默认 30 分钟
}

// MailConfig 定义邮件服务的核心业务配置
type MailConfig struct {
	ServerID         string        // 本服务器标识，写入邮件来源字段
	MaxTitleLength   int           // 标题最大字符数，默认 32
	MaxContentLength int           // 正文最大字符数，默认 500
	MaxAttachments   int           // 附件最大件数，默认 5
	MaxMailboxSize   int           // 收件箱容量上限，0 表示不限
	DailyLimit       int           // 每日发信上限，0 表示不限
	Postage          float64       // 基础邮资
	AttachmentFee    float64       // 单件附件附加费
	DefaultExpiry    time.Duration // 未指定时的邮件有效期，默认 720h
	EconomyEnabled   bool          // 是否启用经济扣费
	NotifyInterval   time.Duration // 跨服新邮件轮询间隔，默认 10s
	NotifyOverlap    time.Duration // 轮询窗口重叠量，默认 1s
	NotifyDedupCap   int           // 通知去重集容量，默认 10000
	SweepInterval    time.Duration // 过期邮件清理间隔，默认 1h
}

// WebsocketConfig 定义玩家会话网关配置
type WebsocketConfig struct {
	GateToken string // 游戏服接入令牌，留空表示不校验
}

// CORSConfig 定义跨域资源共享 (CORS) 配置
type CORSConfig struct {
	AllowedOrigins []string // 允许的来源列表，"*" 表示允许所有来源
}

// LogConfig 定义日志系统配置
type LogConfig struct {
	Level       string // 日志级别: debug, info, warn, error
	Development bool   // 开发模式: 启用彩色输出和详细堆栈信息
	File        string // 日志文件路径，留空仅输出到控制台
}

// Config 是系统核心配置的根结构体，包含所有子系统的配置
type Config struct {
	Server    ServerConfig    // HTTP 服务器配置
	Database  DatabaseConfig  // 数据库配置
	Redis     RedisConfig     // Redis 钱包配置
	Queue     QueueConfig     // 任务队列配置
	Cache     CacheConfig     // 收件箱缓存配置
	Mail      MailConfig      // 邮件业务配置
	Websocket WebsocketConfig // 会话网关配置
	CORS      CORSConfig      // 跨域配置
	Log       LogConfig       // 日志配置
}

// Load 从环境变量和 .env 文件加载系统配置
//
// 配置加载优先级（从高到低）：
//  1. 系统环境变量（最高优先级）
//  2. .env 文件（如果存在）
//  3. 默认值
//
// 环境变量前缀: FOLIAMAIL_
// 例如: FOLIAMAIL_SERVER_PORT, FOLIAMAIL_MAIL_DAILY_LIMIT
func Load() (*Config, error) {
	// 尝试加载 .env 文件（静默失败，因为 .env 文件是可选的）
	loadEnvFile()

	v := viper.New()
	v.SetEnvPrefix("foliamail")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	cfg := &Config{
		Server: ServerConfig{
			Host: v.GetString("server.host"),
			Port: v.GetInt("server.port"),
		},
		Database: DatabaseConfig{
			Type:            v.GetString("database.type"),
			DSN:             v.GetString("database.dsn"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: duration(v, "database.conn_max_lifetime", 5*time.Minute),
		},
		Redis: RedisConfig{
			Enabled:   v.GetBool("redis.enabled"),
			Address:   v.GetString("redis.address"),
			Password:  v.GetString("redis.password"),
			DB:        v.GetInt("redis.db"),
			KeyPrefix: v.GetString("redis.key_prefix"),
		},
		Queue: QueueConfig{
			BufferSize:        v.GetInt("queue.buffer_size"),
			WarningThreshold:  v.GetInt("queue.warning_threshold"),
			OverloadThreshold: v.GetInt("queue.overload_threshold"),
			EnqueueTimeout:    duration(v, "queue.enqueue_timeout", 5*time.Second),
			QueryTimeout:      duration(v, "queue.query_timeout", 10*time.Second),
			SlowOpThreshold:   duration(v, "queue.slow_op_threshold", time.Second),
			ShutdownGrace:     duration(v, "queue.shutdown_grace", 30*time.Second),
			DispatcherWorkers: v.GetInt("queue.dispatcher_workers"),
			DispatcherBuffer:  v.GetInt("queue.dispatcher_buffer"),
		},
		Cache: CacheConfig{
			TTL: duration(v, "cache.ttl", 30*time.Minute),
		},
		Mail: MailConfig{
			ServerID:         v.GetString("mail.server_id"),
			MaxTitleLength:   v.GetInt("mail.max_title_length"),
			MaxContentLength: v.GetInt("mail.max_content_length"),
			MaxAttachments:   v.GetInt("mail.max_attachments"),
			MaxMailboxSize:   v.GetInt("mail.max_mailbox_size"),
			DailyLimit:       v.GetInt("mail.daily_limit"),
			Postage:          v.GetFloat64("mail.postage"),
			AttachmentFee:    v.GetFloat64("mail.attachment_fee"),
			DefaultExpiry:    duration(v, "mail.default_expiry", 720*time.Hour),
			EconomyEnabled:   v.GetBool("mail.economy_enabled"),
			NotifyInterval:   duration(v, "mail.notify_interval", 10*time.Second),
			NotifyOverlap:    duration(v, "mail.notify_overlap", time.Second),
			NotifyDedupCap:   v.GetInt("mail.notify_dedup_cap"),
			SweepInterval:    duration(v, "mail.sweep_interval", time.Hour),
		},
		Websocket: WebsocketConfig{
			GateToken: v.GetString("websocket.gate_token"),
		},
		CORS: CORSConfig{
			AllowedOrigins: parseList(v.GetString("cors.allowed_origins")),
		},
		Log: LogConfig{
			Level:       v.GetString("log.level"),
			Development: v.GetBool("log.development"),
			File:        v.GetString("log.file"),
		},
	}

	if len(cfg.CORS.AllowedOrigins) == 0 {
		cfg.CORS.AllowedOrigins = []string{"*"}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// setDefaults 注册全部配置项的默认值
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)

	v.SetDefault("database.type", "") // 默认为空，使用内存存储
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "foliamail:balance:")

	v.SetDefault("queue.buffer_size", 2000)
	v.SetDefault("queue.warning_threshold", 500)
	v.SetDefault("queue.overload_threshold", 1000)
	v.SetDefault("queue.enqueue_timeout", "5s")
	v.SetDefault("queue.query_timeout", "10s")
	v.SetDefault("queue.slow_op_threshold", "1s")
	v.SetDefault("queue.shutdown_grace", "30s")
	v.SetDefault("queue.dispatcher_workers", 4)
	v.SetDefault("queue.dispatcher_buffer", 256)

	v.SetDefault("cache.ttl", "30m")

	v.SetDefault("mail.server_id", "server-1")
	v.SetDefault("mail.max_title_length", 32)
	v.SetDefault("mail.max_content_length", 500)
	v.SetDefault("mail.max_attachments", 5)
	v.SetDefault("mail.max_mailbox_size", 100)
	v.SetDefault("mail.daily_limit", 0)
	v.SetDefault("mail.postage", 0.0)
	v.SetDefault("mail.attachment_fee", 0.0)
	v.SetDefault("mail.default_expiry", "720h")
	v.SetDefault("mail.economy_enabled", true)
	v.SetDefault("mail.notify_interval", "10s")
	v.SetDefault("mail.notify_overlap", "1s")
	v.SetDefault("mail.notify_dedup_cap", 10000)
	v.SetDefault("mail.sweep_interval", "1h")

	v.SetDefault("websocket.gate_token", "")

	v.SetDefault("cors.allowed_origins", "*")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("log.file", "")
}

// validate 校验配置的内部一致性
func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port: %d", c.Server.Port)
	}
	if c.Database.Type != "" && c.Database.Type != "mysql" && c.Database.Type != "postgres" {
		return fmt.Errorf("invalid database.type: %q (supported: mysql, postgres)", c.Database.Type)
	}
	if c.Database.Type != "" && c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required when database.type is set")
	}
	if c.Queue.OverloadThreshold < c.Queue.WarningThreshold {
		return fmt.Errorf("queue.overload_threshold (%d) must be >= queue.warning_threshold (%d)",
			c.Queue.OverloadThreshold, c.Queue.WarningThreshold)
	}
	if c.Queue.BufferSize < c.Queue.OverloadThreshold {
		return fmt.Errorf("queue.buffer_size (%d) must be >= queue.overload_threshold (%d)",
			c.Queue.BufferSize, c.Queue.OverloadThreshold)
	}
	if c.Mail.ServerID == "" {
		return fmt.Errorf("mail.server_id must not be empty")
	}
	if c.Mail.MaxTitleLength <= 0 || c.Mail.MaxContentLength <= 0 {
		return fmt.Errorf("mail title/content length limits must be positive")
	}
	if c.Mail.Postage < 0 || c.Mail.AttachmentFee < 0 {
		return fmt.Errorf("mail postage and attachment_fee must not be negative")
	}
	if c.Mail.NotifyOverlap >= c.Mail.NotifyInterval {
		return fmt.Errorf("mail.notify_overlap (%s) must be shorter than mail.notify_interval (%s)",
			c.Mail.NotifyOverlap, c.Mail.NotifyInterval)
	}
	return nil
}

// duration 读取时长配置，解析失败时回退默认值
func duration(v *viper.Viper, key string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(v.GetString(key))
	if err != nil {
		return fallback
	}
	return d
}

// parseList 将逗号分隔的字符串解析为字符串切片
func parseList(value string) []string {
	parts := strings.Split(value, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

// loadEnvFile 尝试加载 .env 文件
//
// 加载顺序：
//  1. 当前目录的 .env
//  2. 父目录的 .env（从子目录运行时）
//
// 文件不存在时静默跳过，已存在的环境变量不会被覆盖。
func loadEnvFile() {
	if err := godotenv.Load(".env"); err == nil {
		return
	}

	parentEnv := filepath.Join("..", ".env")
	if _, err := os.Stat(parentEnv); err == nil {
		_ = godotenv.Load(parentEnv)
	}
}
