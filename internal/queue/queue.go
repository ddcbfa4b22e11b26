package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"foliamail/backend/internal/monitoring"
	"foliamail/backend/internal/pool"
	"foliamail/backend/internal/storage"
)

var (
	// ErrQueueOverload 队列积压超过过载阈值，任务被立即拒绝
	ErrQueueOverload = errors.New("database queue overloaded")

	// ErrQueueClosed 队列已关闭
	ErrQueueClosed = errors.New("database queue closed")

	// ErrEnqueueTimeout 在入队超时时间内队列仍然没有空位
	ErrEnqueueTimeout = errors.New("database queue enqueue timeout")
)

// StorageError 包装数据库任务执行失败，保留任务名用于日志与错误归类
type StorageError struct {
	Task string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("database task %s failed: %v", e.Task, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Operation 数据库任务，由队列的单个写入协程串行执行
type Operation func(ctx context.Context, store storage.Store) (any, error)

// Config 队列配置
type Config struct {
	BufferSize        int           // 任务通道容量
	WarningThreshold  int           // 超过后打印限流告警日志
	OverloadThreshold int           // 超过后立即拒绝新任务
	EnqueueTimeout    time.Duration // 队列满时等待空位的上限
	QueryTimeout      time.Duration // 单个任务的执行超时
	SlowOpThreshold   time.Duration // 超过后记为慢任务
	ShutdownGrace     time.Duration // 关闭时排空剩余任务的宽限期
}

// DefaultConfig 返回默认队列配置
func DefaultConfig() Config {
	return Config{
		BufferSize:        2000,
		WarningThreshold:  500,
		OverloadThreshold: 1000,
		EnqueueTimeout:    5 * time.Second,
		QueryTimeout:      10 * time.Second,
		SlowOpThreshold:   time.Second,
		ShutdownGrace:     30 * time.Second,
	}
}

type task struct {
	name      string
	op        Operation
	onSuccess func(any)
	onError   func(error)
}

// Queue 单写入协程的数据库任务队列
//
// 所有写路径都经过这里串行执行，保证同进程内提交顺序即执行顺序。
// 回调一律投递到分发池，不会占用写入协程。
type Queue struct {
	store      storage.Store
	dispatcher *pool.Dispatcher
	logger     *zap.Logger
	metrics    *monitoring.Metrics
	cfg        Config

	tasks       chan *task
	depth       atomic.Int64
	warnLimiter *rate.Limiter

	closed  atomic.Bool
	done    chan struct{}
	stopCtx context.CancelFunc
	wg      sync.WaitGroup
}

// New 创建队列。metrics 可以为 nil。
func New(store storage.Store, dispatcher *pool.Dispatcher, logger *zap.Logger, metrics *monitoring.Metrics, cfg Config) *Queue {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}
	if cfg.OverloadThreshold <= 0 {
		cfg.OverloadThreshold = cfg.BufferSize
	}
	return &Queue{
		store:      store,
		dispatcher: dispatcher,
		logger:     logger,
		metrics:    metrics,
		cfg:        cfg,
		tasks:      make(chan *task, cfg.BufferSize),
		done:       make(chan struct{}),
		// 告警日志最多每 30 秒一条
		warnLimiter: rate.NewLimiter(rate.Every(30*time.Second), 1),
	}
}

// Start 启动写入协程
func (q *Queue) Start(ctx context.Context) {
	workerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	q.stopCtx = cancel
	q.wg.Add(1)
	go q.worker(workerCtx)
}

// Depth 当前积压的任务数
func (q *Queue) Depth() int {
	return int(q.depth.Load())
}

// Submit 提交数据库任务，立即返回
//
// 任务完成后 onSuccess 或 onError 在分发池上被调用；两者都可以为 nil。
// 队列过载或已关闭时不入队，错误直接交给 onError。
func (q *Queue) Submit(name string, op Operation, onSuccess func(any), onError func(error)) {
	if q.closed.Load() {
		q.deliverError(name, onError, ErrQueueClosed)
		return
	}

	depth := q.depth.Load()
	if depth >= int64(q.cfg.OverloadThreshold) {
		if q.metrics != nil {
			q.metrics.QueueOverloads.Inc()
		}
		q.logger.Error("database queue overloaded, task rejected",
			zap.String("task", name),
			zap.Int64("depth", depth),
		)
		q.deliverError(name, onError, ErrQueueOverload)
		return
	}
	if depth >= int64(q.cfg.WarningThreshold) && q.warnLimiter.Allow() {
		q.logger.Warn("database queue backlog growing",
			zap.Int64("depth", depth),
			zap.Int("warning_threshold", q.cfg.WarningThreshold),
			zap.Int("overload_threshold", q.cfg.OverloadThreshold),
		)
	}

	t := &task{name: name, op: op, onSuccess: onSuccess, onError: onError}

	timeout := q.cfg.EnqueueTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case q.tasks <- t:
		q.depth.Add(1)
		if q.metrics != nil {
			q.metrics.QueueDepth.Set(float64(q.depth.Load()))
		}
	case <-q.done:
		q.deliverError(name, onError, ErrQueueClosed)
	case <-timer.C:
		q.logger.Error("database queue enqueue timed out",
			zap.String("task", name),
			zap.Duration("timeout", timeout),
		)
		q.deliverError(name, onError, ErrEnqueueTimeout)
	}
}

// SubmitFireAndForget 提交不关心结果的任务，失败只记日志
func (q *Queue) SubmitFireAndForget(name string, op Operation) {
	q.Submit(name, op, nil, func(err error) {
		q.logger.Error("background database task failed",
			zap.String("task", name),
			zap.Error(err),
		)
	})
}

// SubmitAndWait 提交任务并阻塞等待结果
//
// ctx 取消时停止等待，任务本身仍会执行完毕。
func (q *Queue) SubmitAndWait(ctx context.Context, name string, op Operation) (any, error) {
	type outcome struct {
		value any
		err   error
	}
	ch := make(chan outcome, 1)
	q.Submit(name, op,
		func(v any) { ch <- outcome{value: v} },
		func(err error) { ch <- outcome{err: err} },
	)
	select {
	case out := <-ch:
		return out.value, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close 关闭队列：拒绝新任务，排空已入队的任务，超过宽限期后放弃
func (q *Queue) Close() {
	if !q.closed.CompareAndSwap(false, true) {
		return
	}
	close(q.done)

	grace := q.cfg.ShutdownGrace
	if grace <= 0 {
		grace = 30 * time.Second
	}
	finished := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(grace):
		q.logger.Error("database queue drain exceeded grace period, abandoning remaining tasks",
			zap.Int("remaining", q.Depth()),
		)
		if q.stopCtx != nil {
			q.stopCtx()
		}
		<-finished
	}
}

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()

	for {
		select {
		case t := <-q.tasks:
			q.handle(ctx, t)
		case <-q.done:
			// 排空已入队的任务后退出
			for {
				select {
				case t := <-q.tasks:
					q.handle(ctx, t)
				default:
					return
				}
			}
		}
	}
}

func (q *Queue) handle(ctx context.Context, t *task) {
	q.depth.Add(-1)
	if q.metrics != nil {
		q.metrics.QueueDepth.Set(float64(q.depth.Load()))
	}
	select {
	case <-ctx.Done():
		q.deliverError(t.name, t.onError, ErrQueueClosed)
		return
	default:
	}
	q.execute(ctx, t)
}

func (q *Queue) execute(ctx context.Context, t *task) {
	opCtx := ctx
	if q.cfg.QueryTimeout > 0 {
		var cancel context.CancelFunc
		opCtx, cancel = context.WithTimeout(ctx, q.cfg.QueryTimeout)
		defer cancel()
	}

	start := time.Now()
	value, err := q.runOp(opCtx, t)
	elapsed := time.Since(start)

	if q.metrics != nil {
		q.metrics.QueueTaskDuration.WithLabelValues(t.name).Observe(elapsed.Seconds())
	}
	if q.cfg.SlowOpThreshold > 0 && elapsed > q.cfg.SlowOpThreshold {
		if q.metrics != nil {
			q.metrics.QueueSlowOps.Inc()
		}
		q.logger.Warn("slow database task",
			zap.String("task", t.name),
			zap.Duration("elapsed", elapsed),
		)
	}

	if err != nil {
		if q.metrics != nil {
			q.metrics.QueueTasksTotal.WithLabelValues(t.name, "error").Inc()
		}
		q.deliverError(t.name, t.onError, &StorageError{Task: t.name, Err: err})
		return
	}
	if q.metrics != nil {
		q.metrics.QueueTasksTotal.WithLabelValues(t.name, "ok").Inc()
	}
	if t.onSuccess != nil {
		cb := t.onSuccess
		q.dispatcher.Dispatch(func() { cb(value) })
	}
}

func (q *Queue) runOp(ctx context.Context, t *task) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			if q.metrics != nil {
				q.metrics.PanicsTotal.Inc()
			}
			q.logger.Error("database task panic",
				zap.String("task", t.name),
				zap.Any("panic", r),
			)
			err = fmt.Errorf("task panic: %v", r)
		}
	}()
	return t.op(ctx, q.store)
}

func (q *Queue) deliverError(name string, onError func(error), err error) {
	if onError == nil {
		q.logger.Error("database task failed with no error handler",
			zap.String("task", name),
			zap.Error(err),
		)
		return
	}
	q.dispatcher.Dispatch(func() { onError(err) })
}
