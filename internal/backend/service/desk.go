package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"

	"sudooom.im.desk/internal/backend/repository"
	"sudooom.im.desk/internal/config"
	apperrors "sudooom.im.desk/internal/errors"
	"sudooom.im.desk/internal/idgen"
	"sudooom.im.desk/internal/model"
	"sudooom.im.desk/internal/proto"
)

const (
	// DefaultScope 默认额度范围
	DefaultScope = "store"
	// DefaultUploadMaxSize 默认附件大小上限
	DefaultUploadMaxSize = 10 << 20
)

// ConversationRepository 会话存储
type ConversationRepository interface {
	GetByID(ctx context.Context, id int64) (*model.Conversation, error)
	List(ctx context.Context, storeID int64, status model.ConversationStatus) ([]model.Conversation, error)
	UpdateStatus(ctx context.Context, id int64, status model.ConversationStatus) (*model.Conversation, error)
	Touch(ctx context.Context, id int64, at time.Time, unreadDelta int) (*model.Conversation, error)
	Delete(ctx context.Context, id int64) error
}

// MessageRepository 消息存储
type MessageRepository interface {
	Create(ctx context.Context, msg *model.Message) (bool, error)
	ListByConversation(ctx context.Context, conversationID int64) ([]model.Message, error)
}

// UsageRepository 额度存储
type UsageRepository interface {
	Get(ctx context.Context, storeID int64, scope string) (*model.Usage, error)
	Consume(ctx context.Context, storeID int64, scope string) (*model.Usage, bool, error)
}

// Publisher 推送发布
type Publisher interface {
	PublishMessage(msg model.Message) error
	PublishConversation(conv model.Conversation) error
}

// Operator 当前请求的客服身份
type Operator struct {
	ID      int64
	StoreID int64
	Name    string
}

// DeskService 客服会话服务
type DeskService struct {
	convRepo  ConversationRepository
	msgRepo   MessageRepository
	usageRepo UsageRepository
	publisher Publisher
	snowflake *idgen.Node
	agent     config.AgentConfig
	upload    config.UploadConfig
	now       func() time.Time
	logger    *slog.Logger
}

// NewDeskService 创建客服会话服务
func NewDeskService(
	convRepo ConversationRepository,
	msgRepo MessageRepository,
	usageRepo UsageRepository,
	publisher Publisher,
	sf *idgen.Node,
	agent config.AgentConfig,
	upload config.UploadConfig,
) *DeskService {
	return &DeskService{
		convRepo:  convRepo,
		msgRepo:   msgRepo,
		usageRepo: usageRepo,
		publisher: publisher,
		snowflake: sf,
		agent:     agent,
		upload:    upload,
		now:       time.Now,
		logger:    slog.Default(),
	}
}

// History 获取会话与全部消息
func (s *DeskService) History(ctx context.Context, op Operator, conversationID int64) (*proto.HistoryResponse, error) {
	conv, err := s.conversation(ctx, op, conversationID)
	if err != nil {
		return nil, err
	}

	msgs, err := s.msgRepo.ListByConversation(ctx, conversationID)
	if err != nil {
		return nil, apperrors.ErrDBError.Wrap(err)
	}
	if msgs == nil {
		msgs = []model.Message{}
	}

	return &proto.HistoryResponse{
		Conversation: *conv,
		Messages:     msgs,
		Stats:        model.CountMessages(msgs),
	}, nil
}

// ListConversations 获取店铺会话列表
func (s *DeskService) ListConversations(ctx context.Context, op Operator, status model.ConversationStatus) (*proto.ConversationListResponse, error) {
	if status != "" && !status.Valid() {
		return nil, apperrors.ErrInvalidParams
	}

	list, err := s.convRepo.List(ctx, op.StoreID, status)
	if err != nil {
		return nil, apperrors.ErrDBError.Wrap(err)
	}
	if list == nil {
		list = []model.Conversation{}
	}
	return &proto.ConversationListResponse{List: list}, nil
}

// SendMessage 客服发送消息
// 相同 clientMsgId 的重试返回已写入的消息，不重复推送
func (s *DeskService) SendMessage(ctx context.Context, op Operator, conversationID int64, req *proto.SendMessageRequest) (*proto.SendMessageResponse, error) {
	if strings.TrimSpace(req.Content) == "" && len(req.Attachments) == 0 {
		return nil, apperrors.ErrInvalidParams
	}
	if _, err := s.conversation(ctx, op, conversationID); err != nil {
		return nil, err
	}

	msg := model.Message{
		ID:             s.snowflake.Generate(),
		ConversationID: conversationID,
		ClientMsgID:    req.ClientMsgID,
		SenderType:     model.SenderHuman,
		Content:        req.Content,
		Attachments:    req.Attachments,
		SenderMeta:     &model.SenderMeta{AgentID: op.ID, DisplayName: op.Name},
		CreatedAt:      s.now().UTC(),
	}
	created, err := s.msgRepo.Create(ctx, &msg)
	if err != nil {
		return nil, apperrors.ErrDBError.Wrap(err)
	}
	if !created {
		s.logger.Info("duplicate send ignored",
			"conversationId", conversationID,
			"clientMsgId", req.ClientMsgID,
			"messageId", msg.ID)
		return &proto.SendMessageResponse{Message: msg}, nil
	}

	if err := s.deliver(ctx, msg, 0); err != nil {
		return nil, err
	}
	return &proto.SendMessageResponse{Message: msg}, nil
}

// PostVisitorMessage 模拟访客发消息，开启自动回复时同步生成回复并扣减额度
func (s *DeskService) PostVisitorMessage(ctx context.Context, op Operator, conversationID int64, content string) (*proto.SendMessageResponse, error) {
	if strings.TrimSpace(content) == "" {
		return nil, apperrors.ErrInvalidParams
	}
	conv, err := s.conversation(ctx, op, conversationID)
	if err != nil {
		return nil, err
	}

	msg := model.Message{
		ID:             s.snowflake.Generate(),
		ConversationID: conversationID,
		SenderType:     model.SenderVisitor,
		Content:        content,
		CreatedAt:      s.now().UTC(),
	}
	if _, err := s.msgRepo.Create(ctx, &msg); err != nil {
		return nil, apperrors.ErrDBError.Wrap(err)
	}
	if err := s.deliver(ctx, msg, 1); err != nil {
		return nil, err
	}

	resp := &proto.SendMessageResponse{Message: msg}
	if !s.shouldAutoReply(conv) {
		return resp, nil
	}

	if s.agent.Delay > 0 {
		// 延迟回复只经推送到达
		time.AfterFunc(s.agent.Delay, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if _, _, err := s.autoReply(ctx, conv.StoreID, msg); err != nil {
				s.logger.Error("delayed auto reply failed", "conversationId", conversationID, "error", err)
			}
		})
		return resp, nil
	}

	reply, usage, err := s.autoReply(ctx, conv.StoreID, msg)
	if err != nil {
		return nil, err
	}
	if reply != nil {
		resp.Replies = []model.Message{*reply}
	}
	resp.Usage = usage
	return resp, nil
}

// UpdateStatus 修改会话状态并广播
func (s *DeskService) UpdateStatus(ctx context.Context, op Operator, conversationID int64, status model.ConversationStatus) (*model.Conversation, error) {
	if !status.Valid() {
		return nil, apperrors.ErrInvalidParams
	}
	if _, err := s.conversation(ctx, op, conversationID); err != nil {
		return nil, err
	}

	conv, err := s.convRepo.UpdateStatus(ctx, conversationID, status)
	if err != nil {
		return nil, mapRepoError(err)
	}
	s.broadcast(*conv)
	return conv, nil
}

// DeleteConversation 删除会话
func (s *DeskService) DeleteConversation(ctx context.Context, op Operator, conversationID int64) error {
	if _, err := s.conversation(ctx, op, conversationID); err != nil {
		return err
	}
	if err := s.convRepo.Delete(ctx, conversationID); err != nil {
		return mapRepoError(err)
	}
	return nil
}

// Usage 查询额度
func (s *DeskService) Usage(ctx context.Context, op Operator, scope string) (*model.Usage, error) {
	if scope == "" {
		scope = DefaultScope
	}
	usage, err := s.usageRepo.Get(ctx, op.StoreID, scope)
	if err != nil {
		if errors.Is(err, repository.ErrUsageNotFound) {
			return &model.Usage{IsUnlimited: true}, nil
		}
		return nil, apperrors.ErrDBError.Wrap(err)
	}
	return usage, nil
}

// Upload 保存附件到本地目录
func (s *DeskService) Upload(ctx context.Context, name, contentType string, r io.Reader) (*model.Attachment, error) {
	if err := os.MkdirAll(s.upload.Dir, 0o755); err != nil {
		return nil, apperrors.ErrServerError.Wrap(err)
	}

	filename := fmt.Sprintf("%d%s", s.snowflake.Generate(), strings.ToLower(filepath.Ext(name)))
	path := filepath.Join(s.upload.Dir, filename)
	f, err := os.Create(path)
	if err != nil {
		return nil, apperrors.ErrServerError.Wrap(err)
	}

	limit := s.upload.MaxSize
	if limit <= 0 {
		limit = DefaultUploadMaxSize
	}
	n, err := io.Copy(f, io.LimitReader(r, limit+1))
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err == nil && n > limit {
		err = fmt.Errorf("file exceeds %d bytes", limit)
	}
	if err != nil {
		os.Remove(path)
		return nil, apperrors.ErrUploadFailed.Wrap(err)
	}

	// 客户端未声明类型时按内容识别
	if contentType == "" || contentType == "application/octet-stream" {
		if mt, err := mimetype.DetectFile(path); err == nil {
			contentType = mt.String()
		}
	}

	s.logger.Info("attachment uploaded", "name", name, "size", n, "contentType", contentType, "path", path)
	return &model.Attachment{
		URL:         strings.TrimRight(s.upload.PublicURL, "/") + "/" + filename,
		Name:        name,
		ContentType: contentType,
	}, nil
}

// conversation 读取会话并校验店铺归属
func (s *DeskService) conversation(ctx context.Context, op Operator, conversationID int64) (*model.Conversation, error) {
	conv, err := s.convRepo.GetByID(ctx, conversationID)
	if err != nil {
		return nil, mapRepoError(err)
	}
	if conv.StoreID != op.StoreID {
		return nil, apperrors.ErrNotFound
	}
	return conv, nil
}

// deliver 推进会话活跃时间并推送消息与会话变更
func (s *DeskService) deliver(ctx context.Context, msg model.Message, unreadDelta int) error {
	conv, err := s.convRepo.Touch(ctx, msg.ConversationID, msg.CreatedAt, unreadDelta)
	if err != nil {
		return mapRepoError(err)
	}
	if err := s.publisher.PublishMessage(msg); err != nil {
		s.logger.Warn("push message failed", "messageId", msg.ID, "error", err)
	}
	s.broadcast(*conv)
	return nil
}

func (s *DeskService) broadcast(conv model.Conversation) {
	if err := s.publisher.PublishConversation(conv); err != nil {
		s.logger.Warn("push conversation failed", "conversationId", conv.ID, "error", err)
	}
}

func (s *DeskService) shouldAutoReply(conv *model.Conversation) bool {
	return s.agent.Enabled && conv.Status != model.StatusClosed && conv.AssignedAgent == nil
}

// autoReply 扣减额度并写入自动回复，额度用完时不回复
func (s *DeskService) autoReply(ctx context.Context, storeID int64, question model.Message) (*model.Message, *model.Usage, error) {
	usage, ok, err := s.usageRepo.Consume(ctx, storeID, DefaultScope)
	if err != nil {
		if errors.Is(err, repository.ErrUsageNotFound) {
			return nil, nil, nil
		}
		return nil, nil, apperrors.ErrDBError.Wrap(err)
	}
	if !ok {
		s.logger.Info("auto reply skipped, quota exhausted", "storeId", storeID)
		return nil, usage, nil
	}

	reply := model.Message{
		ID:             s.snowflake.Generate(),
		ConversationID: question.ConversationID,
		SenderType:     model.SenderAutomated,
		Content:        replyText(question.Content),
		CreatedAt:      s.now().UTC(),
	}
	if !reply.CreatedAt.After(question.CreatedAt) {
		reply.CreatedAt = question.CreatedAt.Add(time.Millisecond)
	}
	if _, err := s.msgRepo.Create(ctx, &reply); err != nil {
		return nil, nil, apperrors.ErrDBError.Wrap(err)
	}
	if err := s.deliver(ctx, reply, 0); err != nil {
		return nil, nil, err
	}
	return &reply, usage, nil
}

func replyText(question string) string {
	const maxQuote = 40
	if utf8.RuneCountInString(question) > maxQuote {
		question = string([]rune(question)[:maxQuote]) + "..."
	}
	return fmt.Sprintf("Thanks for reaching out about %q. An agent will follow up shortly.", question)
}

func mapRepoError(err error) error {
	if errors.Is(err, repository.ErrConversationNotFound) {
		return apperrors.ErrNotFound
	}
	return apperrors.ErrDBError.Wrap(err)
}
