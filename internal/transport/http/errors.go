package httptransport

import (
	"errors"

	"github.com/gin-gonic/gin"

	"foliamail/backend/internal/queue"
	"foliamail/backend/internal/storage"
)

// errTimeout 等待异步回调超时
var errTimeout = errors.New("operation timed out")

// respondErr 将服务层错误映射为 HTTP 响应
func (h *MailHandler) respondErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, storage.ErrMailNotFound):
		NotFound(c, "邮件不存在")
	case errors.Is(err, storage.ErrPlayerNotFound):
		NotFound(c, "玩家不存在")
	case errors.Is(err, storage.ErrNotAuthorized):
		Forbidden(c, "无权操作该邮件")
	case errors.Is(err, storage.ErrAlreadyClaimed):
		Conflict(c, "附件已被领取")
	case errors.Is(err, queue.ErrQueueOverload), errors.Is(err, queue.ErrEnqueueTimeout):
		Overloaded(c, "服务器繁忙，请稍后重试")
	case errors.Is(err, queue.ErrQueueClosed):
		Overloaded(c, "服务正在关闭")
	case errors.Is(err, errTimeout):
		InternalError(c, "操作超时")
	default:
		InternalError(c, "服务器内部错误")
	}
}
