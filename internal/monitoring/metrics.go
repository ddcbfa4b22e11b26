package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics 监控指标
type Metrics struct {
	// 数据库任务队列指标
	QueueDepth        prometheus.Gauge
	QueueTasksTotal   *prometheus.CounterVec
	QueueOverloads    prometheus.Counter
	QueueTaskDuration *prometheus.HistogramVec
	QueueSlowOps      prometheus.Counter

	// 发送指标
	SendsTotal   *prometheus.CounterVec
	SendBatchSize prometheus.Histogram
	SendCost      prometheus.Counter

	// 领取指标
	ClaimsTotal *prometheus.CounterVec

	// 邮箱缓存指标
	CacheHits    prometheus.Counter
	CacheMisses  prometheus.Counter
	CacheEntries prometheus.Gauge

	// 跨服通知指标
	NotifierTicks      prometheus.Counter
	NotifierDelivered  prometheus.Counter
	NotifierDuplicates prometheus.Counter
	NotifierErrors     prometheus.Counter

	// HTTP 指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// 系统指标
	DatabaseConnections prometheus.Gauge
	PanicsTotal         prometheus.Counter
}

// NewMetrics 创建监控指标
func NewMetrics() *Metrics {
	return &Metrics{
		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "foliamail_queue_depth",
			Help: "Current number of pending database tasks",
		}),
		QueueTasksTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "foliamail_queue_tasks_total",
				Help: "Total database tasks by name and outcome",
			},
			[]string{"task", "outcome"},
		),
		QueueOverloads: promauto.NewCounter(prometheus.CounterOpts{
			Name: "foliamail_queue_overloads_total",
			Help: "Total tasks rejected because the queue was overloaded",
		}),
		QueueTaskDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "foliamail_queue_task_duration_seconds",
				Help:    "Database task execution duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"task"},
		),
		QueueSlowOps: promauto.NewCounter(prometheus.CounterOpts{
			Name: "foliamail_queue_slow_ops_total",
			Help: "Total database tasks slower than the slow-op threshold",
		}),

		SendsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "foliamail_sends_total",
				Help: "Total send attempts per recipient by outcome",
			},
			[]string{"outcome"},
		),
		SendBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "foliamail_send_batch_size",
			Help:    "Number of recipients per send batch",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100},
		}),
		SendCost: promauto.NewCounter(prometheus.CounterOpts{
			Name: "foliamail_send_cost_total",
			Help: "Total currency charged for sends",
		}),

		ClaimsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "foliamail_claims_total",
				Help: "Total attachment claim attempts by outcome",
			},
			[]string{"outcome"},
		),

		CacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "foliamail_cache_hits_total",
			Help: "Total mailbox cache hits",
		}),
		CacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "foliamail_cache_misses_total",
			Help: "Total mailbox cache misses",
		}),
		CacheEntries: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "foliamail_cache_entries",
			Help: "Current number of cached mailboxes",
		}),

		NotifierTicks: promauto.NewCounter(prometheus.CounterOpts{
			Name: "foliamail_notifier_ticks_total",
			Help: "Total cross-server notifier poll ticks",
		}),
		NotifierDelivered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "foliamail_notifier_delivered_total",
			Help: "Total cross-server notifications delivered to online players",
		}),
		NotifierDuplicates: promauto.NewCounter(prometheus.CounterOpts{
			Name: "foliamail_notifier_duplicates_total",
			Help: "Total notifications suppressed by the dedup set",
		}),
		NotifierErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "foliamail_notifier_errors_total",
			Help: "Total failed notifier poll queries",
		}),

		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "foliamail_http_requests_total",
				Help: "Total HTTP requests by method, route and status code",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "foliamail_http_request_duration_seconds",
				Help:    "HTTP request handling duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		DatabaseConnections: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "foliamail_database_connections",
			Help: "Current open database connections",
		}),
		PanicsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "foliamail_panics_total",
			Help: "Total recovered panics",
		}),
	}
}
