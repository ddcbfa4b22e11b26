package domain

// FailReason 发送/领取失败原因。
type FailReason string

const (
	FailInvalidContent    FailReason = "INVALID_CONTENT"
	FailMailboxFull       FailReason = "MAILBOX_FULL"
	FailDailyLimitReached FailReason = "DAILY_LIMIT_REACHED"
	FailBlacklisted       FailReason = "BLACKLISTED"
	FailInsufficientFunds FailReason = "INSUFFICIENT_FUNDS"
	FailQueueOverload     FailReason = "QUEUE_OVERLOAD"
	FailDatabaseError     FailReason = "DATABASE_ERROR"
	FailReceiverNotFound  FailReason = "RECEIVER_NOT_FOUND"
	FailUnknown           FailReason = "UNKNOWN"
)

var failMessages = map[FailReason]string{
	FailInvalidContent:    "邮件内容无效",
	FailMailboxFull:       "收件人邮箱已满",
	FailDailyLimitReached: "今日发送邮件已达上限",
	FailBlacklisted:       "你已被对方加入黑名单",
	FailInsufficientFunds: "余额不足",
	FailQueueOverload:     "服务器繁忙，请稍后重试",
	FailDatabaseError:     "数据库错误",
	FailReceiverNotFound:  "收件人不存在",
	FailUnknown:           "发送失败",
}

// DefaultMessage 返回面向玩家的默认提示文案
func (r FailReason) DefaultMessage() string {
	if msg, ok := failMessages[r]; ok {
		return msg
	}
	return failMessages[FailUnknown]
}

// BatchSendResult 一次管线执行的不可变聚合结果。
// 构建完成后交给调用方，之后不再修改。
type BatchSendResult struct {
	totalCount       int
	successCount     int
	failCount        int
	successReceivers []string
	failReasons      map[string]FailReason
	totalCost        float64
}

// BatchResultBuilder 逐个累加成功/失败后构建 BatchSendResult。
type BatchResultBuilder struct {
	totalCount       int
	failCount        int
	successReceivers []string
	failReasons      map[string]FailReason
	totalCost        float64
}

// NewBatchResultBuilder 创建结果构建器
func NewBatchResultBuilder(totalCount int) *BatchResultBuilder {
	return &BatchResultBuilder{
		totalCount:  totalCount,
		failReasons: make(map[string]FailReason),
	}
}

// AddSuccess 记录一个接收者发送成功及其费用
func (b *BatchResultBuilder) AddSuccess(receiverID string, cost float64) *BatchResultBuilder {
	b.successReceivers = append(b.successReceivers, receiverID)
	b.totalCost += cost
	return b
}

// AddFailure 记录一个接收者发送失败及原因
//
// 同一接收者多次失败按次计数，failReasons 只保留最后一次的原因。
func (b *BatchResultBuilder) AddFailure(receiverID string, reason FailReason) *BatchResultBuilder {
	b.failCount++
	b.failReasons[receiverID] = reason
	return b
}

// Build 构建不可变结果
func (b *BatchResultBuilder) Build() *BatchSendResult {
	total := b.totalCount
	if total == 0 {
		total = len(b.successReceivers) + b.failCount
	}
	receivers := make([]string, len(b.successReceivers))
	copy(receivers, b.successReceivers)
	reasons := make(map[string]FailReason, len(b.failReasons))
	for k, v := range b.failReasons {
		reasons[k] = v
	}
	return &BatchSendResult{
		totalCount:       total,
		successCount:     len(receivers),
		failCount:        b.failCount,
		successReceivers: receivers,
		failReasons:      reasons,
		totalCost:        b.totalCost,
	}
}

// AllFailed 构建一个全部失败、原因相同的结果
func AllFailed(contexts []*SendContext, reason FailReason) *BatchSendResult {
	builder := NewBatchResultBuilder(len(contexts))
	for _, ctx := range contexts {
		builder.AddFailure(ctx.Draft.ReceiverID, reason)
	}
	return builder.Build()
}

// TotalCount 批次总数
func (r *BatchSendResult) TotalCount() int { return r.totalCount }

// SuccessCount 成功数
func (r *BatchSendResult) SuccessCount() int { return r.successCount }

// FailCount 失败数
func (r *BatchSendResult) FailCount() int { return r.failCount }

// TotalCost 实际扣除的总费用
func (r *BatchSendResult) TotalCost() float64 { return r.totalCost }

// SuccessReceivers 发送成功的接收者 ID 列表（副本）
func (r *BatchSendResult) SuccessReceivers() []string {
	out := make([]string, len(r.successReceivers))
	copy(out, r.successReceivers)
	return out
}

// IsAllSuccess 是否全部成功
func (r *BatchSendResult) IsAllSuccess() bool {
	return r.successCount == r.totalCount
}

// IsAllFailed 是否全部失败
func (r *BatchSendResult) IsAllFailed() bool {
	return r.failCount == r.totalCount
}

// IsPartialSuccess 是否部分成功
func (r *BatchSendResult) IsPartialSuccess() bool {
	return r.successCount > 0 && r.successCount < r.totalCount
}

// IsSuccess 指定接收者是否发送成功
func (r *BatchSendResult) IsSuccess(receiverID string) bool {
	for _, id := range r.successReceivers {
		if id == receiverID {
			return true
		}
	}
	return false
}

// FailReasonOf 指定接收者的失败原因，成功的接收者返回 false
func (r *BatchSendResult) FailReasonOf(receiverID string) (FailReason, bool) {
	reason, ok := r.failReasons[receiverID]
	return reason, ok
}

// FailReasons 失败原因表（副本）
func (r *BatchSendResult) FailReasons() map[string]FailReason {
	out := make(map[string]FailReason, len(r.failReasons))
	for k, v := range r.failReasons {
		out[k] = v
	}
	return out
}
