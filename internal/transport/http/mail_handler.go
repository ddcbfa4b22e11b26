package httptransport

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"foliamail/backend/internal/domain"
	"foliamail/backend/internal/service"
)

// callbackTimeout 等待异步任务回调的上限，略高于队列的入队加执行超时之和
const callbackTimeout = 20 * time.Second

// MailHandler 邮件相关 HTTP 处理器
type MailHandler struct {
	mail      *service.MailService
	blacklist *service.BlacklistManager
	logger    *zap.Logger
}

// NewMailHandler 创建邮件处理器
func NewMailHandler(mail *service.MailService, blacklist *service.BlacklistManager, logger *zap.Logger) *MailHandler {
	return &MailHandler{mail: mail, blacklist: blacklist, logger: logger}
}

// draftRequest 一封待发送邮件的请求体
type draftRequest struct {
	SenderID     string             `json:"senderId" binding:"required"`
	SenderName   string             `json:"senderName"`
	ReceiverID   string             `json:"receiverId"`
	ReceiverName string             `json:"receiverName"`
	Title        string             `json:"title" binding:"required"`
	Content      string             `json:"content"`
	Items        []domain.ItemStack `json:"items"`
	MoneyAmount  float64            `json:"moneyAmount"`
	ExpireTime   int64              `json:"expireTime"`
}

func (r *draftRequest) toDraft() domain.Draft {
	return domain.Draft{
		SenderID:     r.SenderID,
		SenderName:   r.SenderName,
		ReceiverID:   r.ReceiverID,
		ReceiverName: r.ReceiverName,
		Title:        r.Title,
		Content:      r.Content,
		Items:        r.Items,
		MoneyAmount:  r.MoneyAmount,
		ExpireTime:   r.ExpireTime,
	}
}

// sendRequest 发送请求体
type sendRequest struct {
	draftRequest
	Mode string `json:"mode"` // normal | admin | system
}

// sendBatchRequest 批量发送请求体，同一内容发给多个接收者
type sendBatchRequest struct {
	draftRequest
	ReceiverIDs []string `json:"receiverIds" binding:"required,min=1"`
	Mode        string   `json:"mode"`
}

// batchResultDTO 批次结果的响应投影
type batchResultDTO struct {
	Total            int                          `json:"total"`
	Success          int                          `json:"success"`
	Fail             int                          `json:"fail"`
	TotalCost        float64                      `json:"totalCost"`
	SuccessReceivers []string                     `json:"successReceivers"`
	FailReasons      map[string]domain.FailReason `json:"failReasons,omitempty"`
}

func toBatchResultDTO(result *domain.BatchSendResult) batchResultDTO {
	return batchResultDTO{
		Total:            result.TotalCount(),
		Success:          result.SuccessCount(),
		Fail:             result.FailCount(),
		TotalCost:        result.TotalCost(),
		SuccessReceivers: result.SuccessReceivers(),
		FailReasons:      result.FailReasons(),
	}
}

// sendOptions 根据模式选择发送策略，admin 同时授予领取他人邮件等权限
func sendOptions(mode string) (domain.SendOptions, bool) {
	switch mode {
	case "admin":
		return domain.AdminOptions(), true
	case "system":
		return domain.SystemMailOptions(), true
	default:
		return domain.DefaultOptions(), false
	}
}

// Send 发送一封邮件
//
// POST /v1/mail/send
// 接收者可用 receiverId 指定，或只给 receiverName 由服务端解析
func (h *MailHandler) Send(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "请求参数错误: "+err.Error())
		return
	}

	opts, isAdmin := sendOptions(req.Mode)
	done := make(chan *domain.BatchSendResult, 1)
	cb := func(result *domain.BatchSendResult) { done <- result }

	if req.ReceiverID == "" {
		if req.ReceiverName == "" {
			BadRequest(c, "必须指定 receiverId 或 receiverName")
			return
		}
		h.mail.SendToName(req.toDraft(), req.ReceiverName, opts, isAdmin, cb)
	} else {
		h.mail.Send(req.toDraft(), opts, isAdmin, cb)
	}

	h.respondBatch(c, done)
}

// SendBatch 将同一封邮件发给多个接收者
//
// POST /v1/mail/send-batch
func (h *MailHandler) SendBatch(c *gin.Context) {
	var req sendBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "请求参数错误: "+err.Error())
		return
	}

	drafts := make([]domain.Draft, 0, len(req.ReceiverIDs))
	for _, receiverID := range req.ReceiverIDs {
		draft := req.toDraft()
		draft.ReceiverID = receiverID
		drafts = append(drafts, draft)
	}

	opts, isAdmin := sendOptions(req.Mode)
	done := make(chan *domain.BatchSendResult, 1)
	h.mail.SendBatch(drafts, opts, isAdmin, func(result *domain.BatchSendResult) {
		done <- result
	})

	h.respondBatch(c, done)
}

func (h *MailHandler) respondBatch(c *gin.Context, done <-chan *domain.BatchSendResult) {
	select {
	case result := <-done:
		Success(c, toBatchResultDTO(result))
	case <-time.After(callbackTimeout):
		h.logger.Error("send result timed out")
		InternalError(c, "发送超时")
	}
}

// claimRequest 领取请求体
type claimRequest struct {
	PlayerID string `json:"playerId" binding:"required"`
	Admin    bool   `json:"admin"`
}

// claimResultDTO 领取结果的响应投影
type claimResultDTO struct {
	Status  service.ClaimStatus `json:"status"`
	Message string              `json:"message"`
	Items   []domain.ItemStack  `json:"items,omitempty"`
	Money   float64             `json:"money,omitempty"`
}

// Claim 领取邮件附件
//
// POST /v1/mail/:id/claim
func (h *MailHandler) Claim(c *gin.Context) {
	mailID := c.Param("id")

	var req claimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "请求参数错误: "+err.Error())
		return
	}

	done := make(chan *service.ClaimResult, 1)
	h.mail.Claim(mailID, req.PlayerID, req.Admin, func(result *service.ClaimResult) {
		done <- result
	})

	select {
	case result := <-done:
		dto := claimResultDTO{
			Status:  result.Status,
			Message: result.Status.Message(),
			Items:   result.Items,
			Money:   result.Money,
		}
		switch result.Status {
		case service.ClaimSuccess:
			Success(c, dto)
		case service.ClaimNotFound:
			NotFound(c, dto.Message)
		case service.ClaimNotAuthorized:
			Forbidden(c, dto.Message)
		case service.ClaimAlreadyClaimed, service.ClaimProcessing:
			Conflict(c, dto.Message)
		case service.ClaimNoAttachments, service.ClaimExpired:
			BadRequest(c, dto.Message)
		default:
			InternalError(c, dto.Message)
		}
	case <-time.After(callbackTimeout):
		h.logger.Error("claim result timed out", zap.String("mail_id", mailID))
		InternalError(c, "领取超时")
	}
}

// Inbox 查询玩家收件箱（走缓存）
//
// GET /v1/players/:id/inbox
func (h *MailHandler) Inbox(c *gin.Context) {
	playerID := c.Param("id")

	done := make(chan gin.H, 1)
	h.mail.GetOrLoadMails(playerID, func(mails []domain.Mail, err error) {
		if err != nil {
			done <- gin.H{"error": err}
			return
		}
		done <- gin.H{"mails": mails}
	})

	select {
	case result := <-done:
		if err, ok := result["error"].(error); ok {
			h.logger.Warn("inbox load failed", zap.String("player_id", playerID), zap.Error(err))
			InternalError(c, "收件箱加载失败")
			return
		}
		Success(c, result["mails"])
	case <-time.After(callbackTimeout):
		InternalError(c, "收件箱加载超时")
	}
}

// Sent 查询玩家已发邮件
//
// GET /v1/players/:id/sent
func (h *MailHandler) Sent(c *gin.Context) {
	playerID := c.Param("id")

	type listResult struct {
		mails []domain.Mail
		err   error
	}
	done := make(chan listResult, 1)
	h.mail.ListSent(playerID, func(mails []domain.Mail, err error) {
		done <- listResult{mails: mails, err: err}
	})

	select {
	case result := <-done:
		if result.err != nil {
			InternalError(c, "查询失败")
			return
		}
		Success(c, result.mails)
	case <-time.After(callbackTimeout):
		InternalError(c, "查询超时")
	}
}

// UnreadCount 查询玩家未读邮件数
//
// GET /v1/players/:id/unread-count
func (h *MailHandler) UnreadCount(c *gin.Context) {
	playerID := c.Param("id")

	type countResult struct {
		count int
		err   error
	}
	done := make(chan countResult, 1)
	h.mail.UnreadCount(playerID, func(count int, err error) {
		done <- countResult{count: count, err: err}
	})

	select {
	case result := <-done:
		if result.err != nil {
			InternalError(c, "查询失败")
			return
		}
		Success(c, gin.H{"unread": result.count})
	case <-time.After(callbackTimeout):
		InternalError(c, "查询超时")
	}
}

// MarkRead 标记邮件为已读
//
// POST /v1/mail/:id/read
func (h *MailHandler) MarkRead(c *gin.Context) {
	mailID := c.Param("id")

	if err := h.awaitErr(func(cb func(error)) {
		h.mail.MarkRead(mailID, cb)
	}); err != nil {
		h.respondErr(c, err)
		return
	}
	Success(c, nil)
}

// deleteRequest 删除请求体
type deleteRequest struct {
	PlayerID string `json:"playerId"`
	Admin    bool   `json:"admin"`
}

// Delete 删除邮件，仅收件人本人或管理员可删
//
// DELETE /v1/mail/:id
func (h *MailHandler) Delete(c *gin.Context) {
	mailID := c.Param("id")

	var req deleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "请求参数错误: "+err.Error())
		return
	}
	if !req.Admin && req.PlayerID == "" {
		BadRequest(c, "必须指定 playerId")
		return
	}

	err := h.awaitErr(func(cb func(error)) {
		if req.Admin {
			h.mail.DeleteByAdmin(mailID, cb)
		} else {
			h.mail.Delete(mailID, req.PlayerID, cb)
		}
	})
	if err != nil {
		h.respondErr(c, err)
		return
	}
	Success(c, nil)
}

// ClearInbox 清空玩家收件箱
//
// POST /v1/players/:id/clear
func (h *MailHandler) ClearInbox(c *gin.Context) {
	playerID := c.Param("id")

	type clearResult struct {
		deleted int
		err     error
	}
	done := make(chan clearResult, 1)
	h.mail.ClearInbox(playerID, func(deleted int, err error) {
		done <- clearResult{deleted: deleted, err: err}
	})

	select {
	case result := <-done:
		if result.err != nil {
			h.respondErr(c, result.err)
			return
		}
		Success(c, gin.H{"deleted": result.deleted})
	case <-time.After(callbackTimeout):
		InternalError(c, "清空超时")
	}
}

// blacklistRequest 黑名单操作请求体
type blacklistRequest struct {
	BlockedID string `json:"blockedId" binding:"required"`
}

// ListBlacklist 查询玩家黑名单
//
// GET /v1/players/:id/blacklist
func (h *MailHandler) ListBlacklist(c *gin.Context) {
	blocked, err := h.blacklist.List(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondErr(c, err)
		return
	}
	Success(c, blocked)
}

// AddBlacklist 拉黑一名玩家
//
// POST /v1/players/:id/blacklist
func (h *MailHandler) AddBlacklist(c *gin.Context) {
	var req blacklistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "请求参数错误: "+err.Error())
		return
	}

	if err := h.blacklist.Add(c.Request.Context(), c.Param("id"), req.BlockedID); err != nil {
		h.respondErr(c, err)
		return
	}
	Success(c, nil)
}

// RemoveBlacklist 将一名玩家移出黑名单
//
// DELETE /v1/players/:id/blacklist/:blockedId
func (h *MailHandler) RemoveBlacklist(c *gin.Context) {
	removed, err := h.blacklist.Remove(c.Request.Context(), c.Param("id"), c.Param("blockedId"))
	if err != nil {
		h.respondErr(c, err)
		return
	}
	if !removed {
		NotFound(c, "该玩家不在黑名单中")
		return
	}
	Success(c, nil)
}

// statusRequest 管理端状态覆写请求体
type statusRequest struct {
	Value bool `json:"value"`
}

// SetReadStatus 管理端覆写已读状态，用于跨服数据修复
//
// PUT /v1/admin/mail/:id/read
func (h *MailHandler) SetReadStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "请求参数错误: "+err.Error())
		return
	}

	if err := h.mail.MarkReadStatus(c.Request.Context(), c.Param("id"), req.Value); err != nil {
		h.respondErr(c, err)
		return
	}
	Success(c, nil)
}

// SetClaimedStatus 管理端覆写领取状态
//
// PUT /v1/admin/mail/:id/claimed
func (h *MailHandler) SetClaimedStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "请求参数错误: "+err.Error())
		return
	}

	if err := h.mail.SetClaimedStatus(c.Request.Context(), c.Param("id"), req.Value); err != nil {
		h.respondErr(c, err)
		return
	}
	Success(c, nil)
}

// SweepExpired 立即清理过期邮件
//
// POST /v1/admin/sweep
func (h *MailHandler) SweepExpired(c *gin.Context) {
	type sweepResult struct {
		deleted int
		err     error
	}
	done := make(chan sweepResult, 1)
	h.mail.SweepExpired(func(deleted int, err error) {
		done <- sweepResult{deleted: deleted, err: err}
	})

	select {
	case result := <-done:
		if result.err != nil {
			h.respondErr(c, result.err)
			return
		}
		Success(c, gin.H{"deleted": result.deleted})
	case <-time.After(callbackTimeout):
		InternalError(c, "清理超时")
	}
}

// awaitErr 同步等待一个仅回调 error 的异步操作
func (h *MailHandler) awaitErr(run func(cb func(error))) error {
	done := make(chan error, 1)
	run(func(err error) { done <- err })

	select {
	case err := <-done:
		return err
	case <-time.After(callbackTimeout):
		return errTimeout
	}
}
