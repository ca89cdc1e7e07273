package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sudooom.im.desk/internal/backend/middleware"
	"sudooom.im.desk/internal/backend/service"
	apperrors "sudooom.im.desk/internal/errors"
	"sudooom.im.desk/internal/jwt"
	"sudooom.im.desk/internal/model"
	"sudooom.im.desk/internal/proto"
)

// MockDeskService 模拟 DeskService
type MockDeskService struct {
	HistoryFunc            func(ctx context.Context, op service.Operator, id int64) (*proto.HistoryResponse, error)
	ListConversationsFunc  func(ctx context.Context, op service.Operator, status model.ConversationStatus) (*proto.ConversationListResponse, error)
	SendMessageFunc        func(ctx context.Context, op service.Operator, id int64, req *proto.SendMessageRequest) (*proto.SendMessageResponse, error)
	PostVisitorMessageFunc func(ctx context.Context, op service.Operator, id int64, content string) (*proto.SendMessageResponse, error)
	UpdateStatusFunc       func(ctx context.Context, op service.Operator, id int64, status model.ConversationStatus) (*model.Conversation, error)
	DeleteFunc             func(ctx context.Context, op service.Operator, id int64) error
	UsageFunc              func(ctx context.Context, op service.Operator, scope string) (*model.Usage, error)
	UploadFunc             func(ctx context.Context, name, contentType string, r io.Reader) (*model.Attachment, error)
}

func (m *MockDeskService) History(ctx context.Context, op service.Operator, id int64) (*proto.HistoryResponse, error) {
	if m.HistoryFunc != nil {
		return m.HistoryFunc(ctx, op, id)
	}
	return &proto.HistoryResponse{}, nil
}

func (m *MockDeskService) ListConversations(ctx context.Context, op service.Operator, status model.ConversationStatus) (*proto.ConversationListResponse, error) {
	if m.ListConversationsFunc != nil {
		return m.ListConversationsFunc(ctx, op, status)
	}
	return &proto.ConversationListResponse{}, nil
}

func (m *MockDeskService) SendMessage(ctx context.Context, op service.Operator, id int64, req *proto.SendMessageRequest) (*proto.SendMessageResponse, error) {
	if m.SendMessageFunc != nil {
		return m.SendMessageFunc(ctx, op, id, req)
	}
	return &proto.SendMessageResponse{}, nil
}

func (m *MockDeskService) PostVisitorMessage(ctx context.Context, op service.Operator, id int64, content string) (*proto.SendMessageResponse, error) {
	if m.PostVisitorMessageFunc != nil {
		return m.PostVisitorMessageFunc(ctx, op, id, content)
	}
	return &proto.SendMessageResponse{}, nil
}

func (m *MockDeskService) UpdateStatus(ctx context.Context, op service.Operator, id int64, status model.ConversationStatus) (*model.Conversation, error) {
	if m.UpdateStatusFunc != nil {
		return m.UpdateStatusFunc(ctx, op, id, status)
	}
	return &model.Conversation{}, nil
}

func (m *MockDeskService) DeleteConversation(ctx context.Context, op service.Operator, id int64) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, op, id)
	}
	return nil
}

func (m *MockDeskService) Usage(ctx context.Context, op service.Operator, scope string) (*model.Usage, error) {
	if m.UsageFunc != nil {
		return m.UsageFunc(ctx, op, scope)
	}
	return &model.Usage{}, nil
}

func (m *MockDeskService) Upload(ctx context.Context, name, contentType string, r io.Reader) (*model.Attachment, error) {
	if m.UploadFunc != nil {
		return m.UploadFunc(ctx, name, contentType, r)
	}
	return &model.Attachment{}, nil
}

// APIResponse 用于解析响应体
type APIResponse struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

var testJWT = jwt.NewService("test-secret", time.Hour)

// setupTestRouter 创建测试用的 gin 路由
func setupTestRouter(svc DeskService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	h := NewDeskHandler(svc)
	v1 := r.Group("/api/v1", middleware.JWTAuth(testJWT))
	v1.GET("/conversations", h.ListConversations)
	v1.GET("/conversations/:id/messages", h.History)
	v1.POST("/conversations/:id/messages", h.SendMessage)
	v1.POST("/conversations/:id/visitor-messages", h.PostVisitorMessage)
	v1.PUT("/conversations/:id/status", h.UpdateStatus)
	v1.DELETE("/conversations/:id", h.DeleteConversation)
	v1.POST("/uploads", h.Upload)
	v1.GET("/usage", h.Usage)

	r.POST("/api/v1/auth/token", NewAuthHandler(testJWT).IssueToken)
	return r
}

func doRequest(t *testing.T, router *gin.Engine, method, path string, body interface{}) APIResponse {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, _ := http.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	token, _, err := testJWT.GenerateToken(8, 3, "Lin", jwt.RoleOperator)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestDeskHandler_SendMessage_Success(t *testing.T) {
	mockService := &MockDeskService{
		SendMessageFunc: func(ctx context.Context, op service.Operator, id int64, req *proto.SendMessageRequest) (*proto.SendMessageResponse, error) {
			// 客服身份来自 token
			assert.Equal(t, service.Operator{ID: 8, StoreID: 3, Name: "Lin"}, op)
			assert.Equal(t, int64(10), id)
			assert.Equal(t, "hello", req.Content)
			assert.Equal(t, "c1", req.ClientMsgID)
			return &proto.SendMessageResponse{Message: model.Message{ID: 42, ConversationID: 10, ClientMsgID: "c1"}}, nil
		},
	}
	router := setupTestRouter(mockService)

	resp := doRequest(t, router, http.MethodPost, "/api/v1/conversations/10/messages",
		proto.SendMessageRequest{Content: "hello", ClientMsgID: "c1"})

	assert.Equal(t, 0, resp.Code)
	var data proto.SendMessageResponse
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	assert.Equal(t, int64(42), data.Message.ID)
}

func TestDeskHandler_InvalidConversationID(t *testing.T) {
	router := setupTestRouter(&MockDeskService{})

	resp := doRequest(t, router, http.MethodGet, "/api/v1/conversations/abc/messages", nil)
	assert.Equal(t, apperrors.CodeInvalidParams, resp.Code)

	resp = doRequest(t, router, http.MethodGet, "/api/v1/conversations/0/messages", nil)
	assert.Equal(t, apperrors.CodeInvalidParams, resp.Code)
}

func TestDeskHandler_ServiceErrorsMapToCodes(t *testing.T) {
	mockService := &MockDeskService{
		HistoryFunc: func(ctx context.Context, op service.Operator, id int64) (*proto.HistoryResponse, error) {
			return nil, apperrors.ErrNotFound
		},
		DeleteFunc: func(ctx context.Context, op service.Operator, id int64) error {
			return apperrors.ErrDBError.Wrap(assert.AnError)
		},
	}
	router := setupTestRouter(mockService)

	resp := doRequest(t, router, http.MethodGet, "/api/v1/conversations/5/messages", nil)
	assert.Equal(t, apperrors.CodeNotFound, resp.Code)

	resp = doRequest(t, router, http.MethodDelete, "/api/v1/conversations/5", nil)
	assert.Equal(t, apperrors.CodeDBError, resp.Code)
}

func TestDeskHandler_UpdateStatus_RequiresStatus(t *testing.T) {
	called := false
	mockService := &MockDeskService{
		UpdateStatusFunc: func(ctx context.Context, op service.Operator, id int64, status model.ConversationStatus) (*model.Conversation, error) {
			called = true
			return &model.Conversation{ID: id, Status: status}, nil
		},
	}
	router := setupTestRouter(mockService)

	resp := doRequest(t, router, http.MethodPut, "/api/v1/conversations/5/status", map[string]string{})
	assert.Equal(t, apperrors.CodeInvalidParams, resp.Code)
	assert.False(t, called)

	resp = doRequest(t, router, http.MethodPut, "/api/v1/conversations/5/status", proto.UpdateStatusRequest{Status: model.StatusClosed})
	assert.Equal(t, 0, resp.Code)
	var conv model.Conversation
	require.NoError(t, json.Unmarshal(resp.Data, &conv))
	assert.Equal(t, model.StatusClosed, conv.Status)
}

func TestDeskHandler_ListAndUsageQueryParams(t *testing.T) {
	mockService := &MockDeskService{
		ListConversationsFunc: func(ctx context.Context, op service.Operator, status model.ConversationStatus) (*proto.ConversationListResponse, error) {
			assert.Equal(t, model.StatusPending, status)
			return &proto.ConversationListResponse{List: []model.Conversation{{ID: 1}}}, nil
		},
		UsageFunc: func(ctx context.Context, op service.Operator, scope string) (*model.Usage, error) {
			assert.Equal(t, "store", scope)
			return &model.Usage{Total: 10, Remaining: 4}, nil
		},
	}
	router := setupTestRouter(mockService)

	resp := doRequest(t, router, http.MethodGet, "/api/v1/conversations?status=pending", nil)
	var list proto.ConversationListResponse
	require.NoError(t, json.Unmarshal(resp.Data, &list))
	assert.Len(t, list.List, 1)

	resp = doRequest(t, router, http.MethodGet, "/api/v1/usage?scope=store", nil)
	var usage model.Usage
	require.NoError(t, json.Unmarshal(resp.Data, &usage))
	assert.Equal(t, int64(4), usage.Remaining)
}

func TestDeskHandler_VisitorMessage(t *testing.T) {
	mockService := &MockDeskService{
		PostVisitorMessageFunc: func(ctx context.Context, op service.Operator, id int64, content string) (*proto.SendMessageResponse, error) {
			return &proto.SendMessageResponse{
				Message: model.Message{ID: 1, SenderType: model.SenderVisitor, Content: content},
				Replies: []model.Message{{ID: 2, SenderType: model.SenderAutomated}},
				Usage:   &model.Usage{Remaining: 9},
			}, nil
		},
	}
	router := setupTestRouter(mockService)

	resp := doRequest(t, router, http.MethodPost, "/api/v1/conversations/5/visitor-messages", proto.VisitorMessageRequest{Content: "hi"})
	var data proto.SendMessageResponse
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	require.Len(t, data.Replies, 1)
	require.NotNil(t, data.Usage)
	assert.Equal(t, int64(9), data.Usage.Remaining)

	resp = doRequest(t, router, http.MethodPost, "/api/v1/conversations/5/visitor-messages", map[string]string{})
	assert.Equal(t, apperrors.CodeInvalidParams, resp.Code)
}

func TestDeskHandler_Upload(t *testing.T) {
	mockService := &MockDeskService{
		UploadFunc: func(ctx context.Context, name, contentType string, r io.Reader) (*model.Attachment, error) {
			data, _ := io.ReadAll(r)
			assert.Equal(t, "shot.png", name)
			assert.Equal(t, "png", string(data))
			return &model.Attachment{URL: "/files/1.png", Name: name, ContentType: contentType}, nil
		},
	}
	router := setupTestRouter(mockService)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "shot.png")
	require.NoError(t, err)
	part.Write([]byte("png"))
	require.NoError(t, mw.Close())

	req, _ := http.NewRequest(http.MethodPost, "/api/v1/uploads", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	token, _, _ := testJWT.GenerateToken(8, 3, "Lin", jwt.RoleOperator)
	req.Header.Set("Authorization", "Bearer "+token)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 0, resp.Code)
	var att model.Attachment
	require.NoError(t, json.Unmarshal(resp.Data, &att))
	assert.Equal(t, "/files/1.png", att.URL)
}

func TestAuthHandler_IssueToken(t *testing.T) {
	router := setupTestRouter(&MockDeskService{})

	body, _ := json.Marshal(proto.TokenRequest{OperatorID: 8, StoreID: 3, Name: "Lin"})
	req, _ := http.NewRequest(http.MethodPost, "/api/v1/auth/token", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 0, resp.Code)

	var data proto.TokenResponse
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	claims, err := testJWT.ValidateToken(data.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, int64(8), claims.OperatorID)
	assert.Equal(t, jwt.RoleOperator, claims.Role)
}
