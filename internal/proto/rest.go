package proto

import (
	"encoding/json"

	"sudooom.im.desk/internal/model"
)

// Response 统一响应结构，code 为 0 表示成功
type Response struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// ============== 认证 ==============

// TokenRequest 签发开发 token（仅开发后端 debug 模式）
type TokenRequest struct {
	OperatorID int64  `json:"operatorId" binding:"required"`
	StoreID    int64  `json:"storeId" binding:"required"`
	Name       string `json:"name"`
	Role       string `json:"role"`
}

// TokenResponse 签发结果
type TokenResponse struct {
	AccessToken string `json:"accessToken"`
	ExpiresAt   int64  `json:"expiresAt"`
}

// ============== 会话 ==============

// HistoryResponse 会话历史
type HistoryResponse struct {
	Conversation model.Conversation `json:"conversation"`
	Messages     []model.Message    `json:"messages"`
	Stats        model.Stats        `json:"stats"`
}

// ConversationListResponse 会话列表
type ConversationListResponse struct {
	List []model.Conversation `json:"list"`
}

// UpdateStatusRequest 修改会话状态
type UpdateStatusRequest struct {
	Status model.ConversationStatus `json:"status" binding:"required"`
}

// ============== 消息 ==============

// SendMessageRequest 客服发送消息
type SendMessageRequest struct {
	Content     string             `json:"content"`
	Attachments []model.Attachment `json:"attachments,omitempty"`
	ClientMsgID string             `json:"clientMsgId"`
}

// SendMessageResponse 发送结果
// Replies 为本次发送触发的自动回复，Usage 为扣减后的剩余额度
type SendMessageResponse struct {
	Message model.Message   `json:"message"`
	Replies []model.Message `json:"replies,omitempty"`
	Usage   *model.Usage    `json:"usage,omitempty"`
}

// VisitorMessageRequest 模拟访客消息（仅开发后端使用）
type VisitorMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

// UploadResponse 附件上传结果
type UploadResponse = model.Attachment
