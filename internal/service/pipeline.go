package service

import (
	"sync"

	"go.uber.org/zap"

	"foliamail/backend/internal/domain"
	"foliamail/backend/internal/monitoring"
)

// Filter 发送管线中的一个批处理过滤器
//
// 实现方处理整个批次后必须恰好走一条出路：调用 chain.Next 放行
// 剩余上下文，或通过 chain.Fail/FailContext + Finish 终结批次。
// 末端过滤器（持久化）自行调用 chain.Finish。
type Filter interface {
	Name() string
	Filter(ctxs []*domain.SendContext, chain *Chain)
}

// Chain 管线执行状态：过滤器游标 + 逐接收者的结果累加
//
// 结果累加可能发生在分发池协程上（持久化回调），因此带锁。
type Chain struct {
	filters  []Filter
	index    int
	logger   *zap.Logger
	callback func(*domain.BatchSendResult)

	mu      sync.Mutex
	builder *domain.BatchResultBuilder
	done    bool
}

// Success 记录一个接收者成功及其费用
func (c *Chain) Success(sc *domain.SendContext, cost float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.builder.AddSuccess(sc.Draft.ReceiverID, cost)
}

// FailContext 记录一个接收者失败
func (c *Chain) FailContext(sc *domain.SendContext, reason domain.FailReason) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.builder.AddFailure(sc.Draft.ReceiverID, reason)
}

// Fail 把剩余所有上下文标记为同一失败原因并终结批次
func (c *Chain) Fail(ctxs []*domain.SendContext, reason domain.FailReason) {
	c.mu.Lock()
	for _, sc := range ctxs {
		c.builder.AddFailure(sc.Draft.ReceiverID, reason)
	}
	c.mu.Unlock()
	c.Finish()
}

// Next 把存活的上下文交给下一个过滤器
//
// 全部出局时直接终结。过滤器 panic 时整个剩余批次按 UNKNOWN 处理。
func (c *Chain) Next(ctxs []*domain.SendContext) {
	if len(ctxs) == 0 {
		c.Finish()
		return
	}

	c.mu.Lock()
	if c.index >= len(c.filters) {
		c.mu.Unlock()
		c.Finish()
		return
	}
	f := c.filters[c.index]
	c.index++
	c.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("send filter panic",
				zap.String("filter", f.Name()),
				zap.Any("panic", r),
			)
			c.Fail(ctxs, domain.FailUnknown)
		}
	}()
	f.Filter(ctxs, c)
}

// Finish 构建结果并回调，幂等
func (c *Chain) Finish() {
	c.mu.Lock()
	if c.done {
		c.mu.Unlock()
		return
	}
	c.done = true
	result := c.builder.Build()
	c.mu.Unlock()

	c.callback(result)
}

// Pipeline 发送管线：固定顺序的批处理过滤器链
type Pipeline struct {
	filters []Filter
	logger  *zap.Logger
	metrics *monitoring.Metrics
}

// NewPipeline 按给定顺序组装管线
func NewPipeline(logger *zap.Logger, metrics *monitoring.Metrics, filters ...Filter) *Pipeline {
	return &Pipeline{filters: filters, logger: logger, metrics: metrics}
}

// Execute 执行一个批次，单封发送就是大小为 1 的批次
//
// callback 可能在调用协程（前置过滤器全部拒绝时）或分发池协程
// （持久化完成后）上被调用。
func (p *Pipeline) Execute(ctxs []*domain.SendContext, callback func(*domain.BatchSendResult)) {
	if p.metrics != nil {
		p.metrics.SendBatchSize.Observe(float64(len(ctxs)))
	}

	chain := &Chain{
		filters:  p.filters,
		logger:   p.logger,
		callback: callback,
		builder:  domain.NewBatchResultBuilder(len(ctxs)),
	}
	chain.Next(ctxs)
}
