package handler

import (
	"context"
	"io"
	"strconv"

	"github.com/gin-gonic/gin"

	"sudooom.im.desk/internal/backend/middleware"
	"sudooom.im.desk/internal/backend/response"
	"sudooom.im.desk/internal/backend/service"
	apperrors "sudooom.im.desk/internal/errors"
	"sudooom.im.desk/internal/model"
	"sudooom.im.desk/internal/proto"
)

// DeskService 客服会话服务（由 service.DeskService 实现）
type DeskService interface {
	History(ctx context.Context, op service.Operator, conversationID int64) (*proto.HistoryResponse, error)
	ListConversations(ctx context.Context, op service.Operator, status model.ConversationStatus) (*proto.ConversationListResponse, error)
	SendMessage(ctx context.Context, op service.Operator, conversationID int64, req *proto.SendMessageRequest) (*proto.SendMessageResponse, error)
	PostVisitorMessage(ctx context.Context, op service.Operator, conversationID int64, content string) (*proto.SendMessageResponse, error)
	UpdateStatus(ctx context.Context, op service.Operator, conversationID int64, status model.ConversationStatus) (*model.Conversation, error)
	DeleteConversation(ctx context.Context, op service.Operator, conversationID int64) error
	Usage(ctx context.Context, op service.Operator, scope string) (*model.Usage, error)
	Upload(ctx context.Context, name, contentType string, r io.Reader) (*model.Attachment, error)
}

// DeskHandler 客服会话处理器
type DeskHandler struct {
	deskService DeskService
}

// NewDeskHandler 创建客服会话处理器
func NewDeskHandler(deskService DeskService) *DeskHandler {
	return &DeskHandler{deskService: deskService}
}

// ListConversations 获取会话列表
// GET /api/v1/conversations?status=
func (h *DeskHandler) ListConversations(c *gin.Context) {
	status := model.ConversationStatus(c.Query("status"))

	list, err := h.deskService.ListConversations(c.Request.Context(), operator(c), status)
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	response.Success(c, list)
}

// History 获取会话历史
// GET /api/v1/conversations/:id/messages
func (h *DeskHandler) History(c *gin.Context) {
	id, ok := conversationID(c)
	if !ok {
		return
	}

	history, err := h.deskService.History(c.Request.Context(), operator(c), id)
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	response.Success(c, history)
}

// SendMessage 客服发送消息
// POST /api/v1/conversations/:id/messages
func (h *DeskHandler) SendMessage(c *gin.Context) {
	id, ok := conversationID(c)
	if !ok {
		return
	}

	var req proto.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithMsg(c, apperrors.CodeInvalidParams, err.Error())
		return
	}

	resp, err := h.deskService.SendMessage(c.Request.Context(), operator(c), id, &req)
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	response.Success(c, resp)
}

// PostVisitorMessage 模拟访客消息
// POST /api/v1/conversations/:id/visitor-messages
func (h *DeskHandler) PostVisitorMessage(c *gin.Context) {
	id, ok := conversationID(c)
	if !ok {
		return
	}

	var req proto.VisitorMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithMsg(c, apperrors.CodeInvalidParams, err.Error())
		return
	}

	resp, err := h.deskService.PostVisitorMessage(c.Request.Context(), operator(c), id, req.Content)
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	response.Success(c, resp)
}

// UpdateStatus 修改会话状态
// PUT /api/v1/conversations/:id/status
func (h *DeskHandler) UpdateStatus(c *gin.Context) {
	id, ok := conversationID(c)
	if !ok {
		return
	}

	var req proto.UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithMsg(c, apperrors.CodeInvalidParams, err.Error())
		return
	}

	conv, err := h.deskService.UpdateStatus(c.Request.Context(), operator(c), id, req.Status)
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	response.Success(c, conv)
}

// DeleteConversation 删除会话
// DELETE /api/v1/conversations/:id
func (h *DeskHandler) DeleteConversation(c *gin.Context) {
	id, ok := conversationID(c)
	if !ok {
		return
	}

	if err := h.deskService.DeleteConversation(c.Request.Context(), operator(c), id); err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	response.Success(c, nil)
}

// Usage 查询额度
// GET /api/v1/usage?scope=
func (h *DeskHandler) Usage(c *gin.Context) {
	usage, err := h.deskService.Usage(c.Request.Context(), operator(c), c.Query("scope"))
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	response.Success(c, usage)
}

// Upload 上传附件
// POST /api/v1/uploads (multipart, 字段 file)
func (h *DeskHandler) Upload(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		response.ErrorWithMsg(c, apperrors.CodeInvalidParams, err.Error())
		return
	}

	src, err := file.Open()
	if err != nil {
		response.ErrorFromAppError(c, apperrors.ErrUploadFailed.Wrap(err))
		return
	}
	defer src.Close()

	att, err := h.deskService.Upload(c.Request.Context(), file.Filename, file.Header.Get("Content-Type"), src)
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	response.Success(c, att)
}

func operator(c *gin.Context) service.Operator {
	return service.Operator{
		ID:      middleware.GetOperatorID(c),
		StoreID: middleware.GetStoreID(c),
		Name:    middleware.GetOperatorName(c),
	}
}

// conversationID 解析路径中的会话 ID，失败时已写入响应
func conversationID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.ErrorFromAppError(c, apperrors.ErrInvalidParams)
		return 0, false
	}
	return id, true
}
