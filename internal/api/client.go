package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	apperrors "sudooom.im.desk/internal/errors"
	"sudooom.im.desk/internal/model"
	"sudooom.im.desk/internal/proto"
)

// Config REST 客户端配置
type Config struct {
	BaseURL   string        // 后端地址，如 http://localhost:8080
	Token     string        // 客服登录令牌
	Timeout   time.Duration // 单次请求超时，0 表示不限制
	UserAgent string
}

// Client 后端 REST 客户端
type Client struct {
	http   *resty.Client
	logger *slog.Logger
}

// New 创建客户端
func New(cfg Config) *Client {
	if cfg.UserAgent == "" {
		cfg.UserAgent = "desk/1.0"
	}

	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetHeader("User-Agent", cfg.UserAgent).
		SetHeader("Accept", "application/json")
	if cfg.Token != "" {
		httpClient.SetAuthToken(cfg.Token)
	}
	if cfg.Timeout > 0 {
		httpClient.SetTimeout(cfg.Timeout)
	}

	return &Client{
		http:   httpClient,
		logger: slog.Default(),
	}
}

// SetToken 更新登录令牌
func (c *Client) SetToken(token string) {
	c.http.SetAuthToken(token)
}

// IssueToken 向开发后端申请客服 token，成功后自动设置到客户端
func (c *Client) IssueToken(ctx context.Context, body proto.TokenRequest) (*proto.TokenResponse, error) {
	req := c.http.R().
		SetContext(ctx).
		SetBody(body)
	resp, err := execute[proto.TokenResponse](req, http.MethodPost, "/api/v1/auth/token")
	if err != nil {
		return nil, err
	}
	c.SetToken(resp.AccessToken)
	return resp, nil
}

// History 获取会话历史
func (c *Client) History(ctx context.Context, conversationID int64) (*proto.HistoryResponse, error) {
	req := c.http.R().
		SetContext(ctx).
		SetPathParam("id", formatID(conversationID))
	return execute[proto.HistoryResponse](req, http.MethodGet, "/api/v1/conversations/{id}/messages")
}

// Conversations 获取会话列表，status 为空时返回全部
func (c *Client) Conversations(ctx context.Context, status model.ConversationStatus) ([]model.Conversation, error) {
	req := c.http.R().SetContext(ctx)
	if status != "" {
		req.SetQueryParam("status", string(status))
	}
	result, err := execute[proto.ConversationListResponse](req, http.MethodGet, "/api/v1/conversations")
	if err != nil {
		return nil, err
	}
	return result.List, nil
}

// SendMessage 客服发送消息
func (c *Client) SendMessage(ctx context.Context, conversationID int64, body proto.SendMessageRequest) (*proto.SendMessageResponse, error) {
	req := c.http.R().
		SetContext(ctx).
		SetPathParam("id", formatID(conversationID)).
		SetBody(body)
	return execute[proto.SendMessageResponse](req, http.MethodPost, "/api/v1/conversations/{id}/messages")
}

// UpdateStatus 修改会话状态
func (c *Client) UpdateStatus(ctx context.Context, conversationID int64, status model.ConversationStatus) (*model.Conversation, error) {
	req := c.http.R().
		SetContext(ctx).
		SetPathParam("id", formatID(conversationID)).
		SetBody(proto.UpdateStatusRequest{Status: status})
	return execute[model.Conversation](req, http.MethodPut, "/api/v1/conversations/{id}/status")
}

// DeleteConversation 删除会话
func (c *Client) DeleteConversation(ctx context.Context, conversationID int64) error {
	req := c.http.R().
		SetContext(ctx).
		SetPathParam("id", formatID(conversationID))
	_, err := execute[json.RawMessage](req, http.MethodDelete, "/api/v1/conversations/{id}")
	return err
}

// Upload 上传附件
func (c *Client) Upload(ctx context.Context, name, contentType string, r io.Reader) (*model.Attachment, error) {
	req := c.http.R().
		SetContext(ctx).
		SetMultipartField("file", name, contentType, r)
	att, err := execute[proto.UploadResponse](req, http.MethodPost, "/api/v1/uploads")
	if err != nil {
		if apperrors.IsTransient(err) {
			return nil, err
		}
		return nil, apperrors.ErrUploadFailed.Wrap(err)
	}
	return att, nil
}

// Usage 获取额度用量
func (c *Client) Usage(ctx context.Context, scope string) (*model.Usage, error) {
	req := c.http.R().
		SetContext(ctx).
		SetQueryParam("scope", scope)
	return execute[model.Usage](req, http.MethodGet, "/api/v1/usage")
}

// PostVisitorMessage 以访客身份发送消息（开发后端的模拟接口）
func (c *Client) PostVisitorMessage(ctx context.Context, conversationID int64, content string) (*proto.SendMessageResponse, error) {
	req := c.http.R().
		SetContext(ctx).
		SetPathParam("id", formatID(conversationID)).
		SetBody(proto.VisitorMessageRequest{Content: content})
	return execute[proto.SendMessageResponse](req, http.MethodPost, "/api/v1/conversations/{id}/visitor-messages")
}

// execute 发送请求并解析统一响应
// 传输层错误归为 ErrNetwork，业务错误码原样转换为 AppError
func execute[T any](req *resty.Request, method, path string) (*T, error) {
	var envelope proto.Response
	resp, err := req.SetResult(&envelope).SetError(&envelope).Execute(method, path)
	if err != nil {
		return nil, apperrors.ErrNetwork.Wrap(err)
	}

	switch {
	case resp.StatusCode() == http.StatusUnauthorized:
		return nil, apperrors.ErrTokenInvalid
	case resp.StatusCode() >= http.StatusInternalServerError && envelope.Code == 0:
		return nil, apperrors.ErrNetwork.Wrap(fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode()))
	case resp.StatusCode() == http.StatusNotFound && envelope.Code == 0:
		return nil, apperrors.ErrNotFound
	}

	if envelope.Code != apperrors.CodeSuccess {
		return nil, apperrors.FromResponse(envelope.Code, envelope.Message)
	}

	var data T
	if len(envelope.Data) > 0 && string(envelope.Data) != "null" {
		if err := json.Unmarshal(envelope.Data, &data); err != nil {
			return nil, apperrors.ErrServerError.Wrap(fmt.Errorf("decode %s %s: %w", method, path, err))
		}
	}
	return &data, nil
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
