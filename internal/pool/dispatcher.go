package pool

import (
	"context"
	"runtime/debug"
	"sync"

	"go.uber.org/zap"
)

// Dispatcher 回调分发协程池
//
// 数据库任务完成后的续作（结果回调、缓存失效、通知玩家）都在这里执行，
// 绝不占用数据库写入协程。
type Dispatcher struct {
	maxWorkers int
	taskQueue  chan func()
	wg         sync.WaitGroup
	logger     *zap.Logger

	stopOnce sync.Once
}

// NewDispatcher 创建回调分发池
//
// 参数:
//   - maxWorkers: 最大协程数
//   - queueSize: 任务队列大小
func NewDispatcher(maxWorkers, queueSize int, logger *zap.Logger) *Dispatcher {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	return &Dispatcher{
		maxWorkers: maxWorkers,
		taskQueue:  make(chan func(), queueSize),
		logger:     logger,
	}
}

// Start 启动分发池
//
// 外部 ctx 取消不会中断回调执行，排空只由 Stop 触发；
// 停机时数据库队列排空产生的续作不能丢。
func (d *Dispatcher) Start(ctx context.Context) {
	workerCtx := context.WithoutCancel(ctx)
	for i := 0; i < d.maxWorkers; i++ {
		d.wg.Add(1)
		go d.worker(workerCtx)
	}
}

// Dispatch 提交回调任务
//
// 队列已满时阻塞直到有空位
func (d *Dispatcher) Dispatch(task func()) {
	d.taskQueue <- task
}

// TryDispatch 尝试提交回调任务
//
// 队列已满时立即返回 false
func (d *Dispatcher) TryDispatch(task func()) bool {
	select {
	case d.taskQueue <- task:
		return true
	default:
		return false
	}
}

// Stop 停止分发池，排空队列中剩余的任务
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.taskQueue)
	})
	d.wg.Wait()
}

// worker 工作协程
func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-d.taskQueue:
			if !ok {
				return
			}
			d.run(task)
		}
	}
}

func (d *Dispatcher) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("callback panic",
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
		}
	}()
	task()
}
