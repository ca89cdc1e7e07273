package sender

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"sudooom.im.desk/internal/draft"
	apperrors "sudooom.im.desk/internal/errors"
	"sudooom.im.desk/internal/idgen"
	"sudooom.im.desk/internal/metrics"
	"sudooom.im.desk/internal/model"
	"sudooom.im.desk/internal/proto"
	"sudooom.im.desk/internal/store"
)

// Backend 发送所需的后端接口
type Backend interface {
	SendMessage(ctx context.Context, conversationID int64, req proto.SendMessageRequest) (*proto.SendMessageResponse, error)
	Upload(ctx context.Context, name, contentType string, r io.Reader) (*model.Attachment, error)
}

// QuotaObserver 发送响应中的额度与自动回复（由 quota.Hook 实现）
type QuotaObserver interface {
	ObserveSendResponse(usage *model.Usage, replies []model.Message)
}

// Upload 待上传的附件
type Upload struct {
	Name        string
	ContentType string
	Reader      io.Reader
}

// Request 发送请求
type Request struct {
	ConversationID int64
	Content        string
	Attachments    []model.Attachment // 已上传的附件
	Uploads        []Upload           // 发送前需要上传的附件
}

// Outcome 发送结果
// 成功时 Message 为确认后的消息；失败时 Draft 为恢复到输入框的内容
type Outcome struct {
	Message model.Message
	Replies []model.Message
	Draft   *draft.Draft
}

// Options 发送配置
type Options struct {
	OperatorID        int64
	OperatorName      string
	UploadConcurrency int
}

// Pipeline 乐观发送流程
//
// 先写入一条临时消息让客服立即看到，再上传附件并调用发送接口。成功时确认
// 消息经 Store.Apply 原位替换临时消息；失败时回滚临时消息并把原始输入保存
// 为草稿返回。
type Pipeline struct {
	backend Backend
	store   *store.Store
	drafts  draft.Store
	quota   QuotaObserver
	ids     *idgen.Generator
	opts    Options
	now     func() time.Time
	logger  *slog.Logger
}

// New 创建发送流程，drafts 与 quota 可为 nil
func New(backend Backend, st *store.Store, drafts draft.Store, quota QuotaObserver, opts Options) *Pipeline {
	if opts.UploadConcurrency <= 0 {
		opts.UploadConcurrency = 3
	}
	if drafts == nil {
		drafts = draft.NewMemoryStore()
	}
	return &Pipeline{
		backend: backend,
		store:   st,
		drafts:  drafts,
		quota:   quota,
		ids:     idgen.NewGenerator(),
		opts:    opts,
		now:     time.Now,
		logger:  slog.Default(),
	}
}

// Send 发送消息
func (p *Pipeline) Send(ctx context.Context, req Request) (*Outcome, error) {
	if req.ConversationID == 0 {
		return nil, apperrors.ErrInvalidParams
	}
	if strings.TrimSpace(req.Content) == "" && len(req.Attachments) == 0 && len(req.Uploads) == 0 {
		return nil, apperrors.ErrInvalidParams
	}

	id := p.ids.Generate()
	provisional := model.Message{
		ID:             id.Int64(),
		ConversationID: req.ConversationID,
		ClientMsgID:    idgen.ClientMsgID(id),
		SenderType:     model.SenderHuman,
		Content:        req.Content,
		Attachments:    placeholderAttachments(req),
		SenderMeta:     &model.SenderMeta{AgentID: p.opts.OperatorID, DisplayName: p.opts.OperatorName},
		CreatedAt:      p.now(),
		Provisional:    true,
	}
	p.store.Apply(provisional)

	attachments, err := p.upload(ctx, req)
	if err != nil {
		if !apperrors.Is(err, apperrors.ErrUploadFailed) {
			err = apperrors.ErrUploadFailed.Wrap(err)
		}
		return p.fail(ctx, provisional, req, attachments, err)
	}

	resp, err := p.backend.SendMessage(ctx, req.ConversationID, proto.SendMessageRequest{
		Content:     req.Content,
		Attachments: attachments,
		ClientMsgID: provisional.ClientMsgID,
	})
	if err != nil {
		return p.fail(ctx, provisional, req, attachments, apperrors.ErrSendFailed.Wrap(err))
	}

	confirmed := resp.Message
	confirmed.Provisional = false
	if confirmed.ClientMsgID == "" {
		confirmed.ClientMsgID = provisional.ClientMsgID
	}
	if confirmed.ConversationID == 0 {
		confirmed.ConversationID = req.ConversationID
	}
	result := p.store.Apply(confirmed)
	metrics.StoreApplyTotal.WithLabelValues("send", result.String()).Inc()

	replies := make([]model.Message, 0, len(resp.Replies))
	for _, reply := range resp.Replies {
		reply.Provisional = false
		if reply.ConversationID == 0 {
			reply.ConversationID = req.ConversationID
		}
		r := p.store.Apply(reply)
		metrics.StoreApplyTotal.WithLabelValues("send", r.String()).Inc()
		replies = append(replies, reply)
	}
	if p.quota != nil {
		p.quota.ObserveSendResponse(resp.Usage, replies)
	}

	if err := p.drafts.Clear(context.WithoutCancel(ctx), req.ConversationID); err != nil {
		p.logger.Warn("clear draft failed", "conversationId", req.ConversationID, "error", err)
	}

	metrics.SendsTotal.WithLabelValues("ok").Inc()
	p.logger.Debug("message sent",
		"conversationId", req.ConversationID,
		"messageId", confirmed.ID,
		"clientMsgId", confirmed.ClientMsgID,
		"replies", len(replies))

	return &Outcome{Message: confirmed, Replies: replies}, nil
}

// upload 并发上传附件，任一失败即整体失败
// 返回已上传成功的附件（含请求中原有的），失败时同样返回以便写入草稿
func (p *Pipeline) upload(ctx context.Context, req Request) ([]model.Attachment, error) {
	attachments := append([]model.Attachment(nil), req.Attachments...)
	if len(req.Uploads) == 0 {
		return attachments, nil
	}

	uploaded := make([]*model.Attachment, len(req.Uploads))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.UploadConcurrency)
	for i, up := range req.Uploads {
		i, up := i, up
		g.Go(func() error {
			att, err := p.backend.Upload(gctx, up.Name, up.ContentType, up.Reader)
			if err != nil {
				return err
			}
			uploaded[i] = att
			return nil
		})
	}
	err := g.Wait()

	for _, att := range uploaded {
		if att != nil {
			attachments = append(attachments, *att)
		}
	}
	return attachments, err
}

// fail 回滚临时消息并保存草稿
// 如果临时消息已被推送确认（回滚不到且存在相同令牌的确认消息），视为发送成功
func (p *Pipeline) fail(ctx context.Context, provisional model.Message, req Request, uploaded []model.Attachment, cause error) (*Outcome, error) {
	if !p.store.Rollback(provisional.ConversationID, provisional.ID) {
		if msg, ok := p.store.FindByClientMsgID(provisional.ConversationID, provisional.ClientMsgID); ok {
			metrics.SendsTotal.WithLabelValues("ok").Inc()
			p.logger.Info("send response lost but message confirmed by push",
				"conversationId", provisional.ConversationID,
				"messageId", msg.ID,
				"error", cause)
			return &Outcome{Message: msg}, nil
		}
	} else {
		metrics.RollbacksTotal.Inc()
	}
	metrics.SendsTotal.WithLabelValues("failed").Inc()

	d := &draft.Draft{
		ConversationID: req.ConversationID,
		Content:        req.Content,
		Attachments:    uploaded,
		SavedAt:        p.now(),
	}
	if err := p.drafts.Save(context.WithoutCancel(ctx), d); err != nil {
		p.logger.Warn("save draft failed", "conversationId", req.ConversationID, "error", err)
	}

	p.logger.Warn("send failed, draft restored",
		"conversationId", req.ConversationID,
		"clientMsgId", provisional.ClientMsgID,
		"error", cause)
	return &Outcome{Draft: d}, cause
}

// placeholderAttachments 临时消息中的附件占位，数量与最终发送一致
func placeholderAttachments(req Request) []model.Attachment {
	if len(req.Attachments) == 0 && len(req.Uploads) == 0 {
		return nil
	}
	out := append([]model.Attachment(nil), req.Attachments...)
	for _, up := range req.Uploads {
		out = append(out, model.Attachment{Name: up.Name, ContentType: up.ContentType})
	}
	return out
}
