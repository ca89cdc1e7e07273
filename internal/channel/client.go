package channel

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	apperrors "sudooom.im.desk/internal/errors"
	"sudooom.im.desk/internal/metrics"
	"sudooom.im.desk/internal/proto"
)

// Config 推送通道配置
type Config struct {
	URL             string
	Token           string
	SessionID       string // 本次登录的会话标识，决定推送 Subject
	StoreID         int64  // 店铺 ID，订阅店铺广播
	OperatorID      int64
	MaxReconnects   int
	ReconnectWait   time.Duration
	ReconnectJitter time.Duration
	BufferSize      int // 事件缓冲区大小
}

// Client 推送通道客户端
//
// 每个登录会话一条 NATS 连接，切换会话时复用。所有推送统一转换为 Event
// 投递到 Events()，由会话事件循环单点消费。断线重连由 nats.go 负责，
// 重连成功后先重新 join 当前会话，再投递 EventReconnected 触发补拉历史。
type Client struct {
	cfg    Config
	conn   *nats.Conn
	subs   []*nats.Subscription
	events chan Event
	done   chan struct{}
	active atomic.Int64
	once   sync.Once
	logger *slog.Logger
}

func newClient(cfg Config) *Client {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1024
	}
	if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = -1
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 2 * time.Second
	}
	return &Client{
		cfg:    cfg,
		events: make(chan Event, cfg.BufferSize),
		done:   make(chan struct{}),
		logger: slog.Default(),
	}
}

// Connect 建立连接并订阅会话推送与店铺广播
// 服务端暂不可达时不返回错误，先投递 EventDisconnected，后台持续重试
func Connect(cfg Config) (*Client, error) {
	if cfg.SessionID == "" {
		return nil, fmt.Errorf("channel: session id is required")
	}
	c := newClient(cfg)

	opts := []nats.Option{
		nats.Name("desk-" + cfg.SessionID),
		nats.MaxReconnects(c.cfg.MaxReconnects),
		nats.ReconnectWait(c.cfg.ReconnectWait),
		nats.ReconnectJitter(c.cfg.ReconnectJitter, c.cfg.ReconnectJitter),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			c.logger.Warn("Disconnected from NATS", "error", err)
			metrics.ChannelConnected.Set(0)
			if err == nil {
				err = fmt.Errorf("connection lost")
			}
			c.emit(Event{Type: EventDisconnected, Err: apperrors.ErrChannelDisconnected.Wrap(err)})
		}),
		// 启动时服务端不可达，连接在后台建立后走与重连相同的补拉路径
		nats.RetryOnFailedConnect(true),
		nats.ConnectHandler(func(nc *nats.Conn) {
			c.logger.Info("Connected to NATS", "url", nc.ConnectedUrl())
			metrics.ChannelConnected.Set(1)
			c.onReconnect()
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			c.logger.Info("Reconnected to NATS", "url", nc.ConnectedUrl())
			metrics.ChannelConnected.Set(1)
			c.onReconnect()
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			c.logger.Info("NATS connection closed")
			metrics.ChannelConnected.Set(0)
		}),
		nats.Timeout(10 * time.Second),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, apperrors.ErrChannelDisconnected.Wrap(err)
	}
	c.conn = conn

	subjects := []string{proto.BuildSessionSubject(cfg.SessionID)}
	if cfg.StoreID != 0 {
		subjects = append(subjects, proto.BuildStoreSubject(cfg.StoreID))
	}
	for _, subject := range subjects {
		sub, err := conn.Subscribe(subject, func(msg *nats.Msg) {
			c.dispatch(msg.Subject, msg.Data)
		})
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("subscribe %s: %w", subject, err)
		}
		c.subs = append(c.subs, sub)
	}
	if !conn.IsConnected() {
		// 订阅已登记，连上后由 nats.go 补发
		metrics.ChannelConnected.Set(0)
		c.logger.Warn("push channel pending, retrying in background",
			"url", cfg.URL,
			"subjects", subjects)
		c.emit(Event{
			Type: EventDisconnected,
			Err:  apperrors.ErrChannelDisconnected.Wrap(fmt.Errorf("initial connect to %s pending", cfg.URL)),
		})
		return c, nil
	}
	if err := conn.Flush(); err != nil {
		conn.Close()
		return nil, apperrors.ErrChannelDisconnected.Wrap(err)
	}

	metrics.ChannelConnected.Set(1)
	c.logger.Info("push channel connected",
		"url", conn.ConnectedUrl(),
		"subjects", subjects)
	return c, nil
}

// Events 事件流，只应有一个消费者
// 通道不会被关闭，消费者通过 Done 或自身的 ctx 退出
func (c *Client) Events() <-chan Event {
	return c.events
}

// Done 客户端关闭后返回的通道被关闭
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// SetActive 记录当前选中的会话并发送 join
// 不发送 leave，服务端按最近一次 join 路由
func (c *Client) SetActive(conversationID int64) error {
	c.active.Store(conversationID)
	if conversationID == 0 {
		return nil
	}
	return c.join(conversationID)
}

// Active 当前选中的会话
func (c *Client) Active() int64 {
	return c.active.Load()
}

// IsConnected 检查连接状态
func (c *Client) IsConnected() bool {
	return c.conn != nil && c.conn.IsConnected()
}

// Close 关闭连接
func (c *Client) Close() {
	c.once.Do(func() {
		close(c.done)
		for _, sub := range c.subs {
			if err := sub.Unsubscribe(); err != nil {
				c.logger.Debug("unsubscribe failed", "subject", sub.Subject, "error", err)
			}
		}
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

func (c *Client) join(conversationID int64) error {
	if c.conn == nil {
		return apperrors.ErrChannelDisconnected
	}
	data, err := json.Marshal(proto.JoinIntent{
		SessionID:      c.cfg.SessionID,
		ConversationID: conversationID,
		OperatorID:     c.cfg.OperatorID,
		StoreID:        c.cfg.StoreID,
	})
	if err != nil {
		return fmt.Errorf("marshal join: %w", err)
	}
	if err := c.conn.Publish(proto.SubjectJoin, data); err != nil {
		return apperrors.ErrChannelDisconnected.Wrap(err)
	}
	c.logger.Debug("join sent", "conversationId", conversationID)
	return nil
}

// onReconnect 重新 join 当前会话后再通知补拉
func (c *Client) onReconnect() {
	if active := c.active.Load(); active != 0 {
		if err := c.join(active); err != nil {
			c.logger.Warn("rejoin after reconnect failed",
				"conversationId", active,
				"error", err)
		}
	}
	c.emit(Event{Type: EventReconnected})
}

// dispatch 解析推送并投递事件，无法识别的推送记录日志后丢弃
func (c *Client) dispatch(subject string, data []byte) {
	env, err := proto.DecodePush(data)
	if err != nil {
		metrics.PushEventsTotal.WithLabelValues("malformed").Inc()
		c.logger.Warn("ignoring push event",
			"subject", subject,
			"error", apperrors.ErrMalformedEvent.Wrap(err))
		return
	}

	switch env.Type {
	case proto.PushNewMessage:
		env.Message.Provisional = false
		c.emit(Event{Type: EventMessage, Message: env.Message})
	case proto.PushConversationUpdated:
		c.emit(Event{Type: EventConversation, Conversation: env.Conversation})
	}
}

// emit 投递事件；缓冲区满时阻塞，消息不能丢
func (c *Client) emit(ev Event) {
	metrics.PushEventsTotal.WithLabelValues(ev.Type.String()).Inc()
	select {
	case c.events <- ev:
	case <-c.done:
	}
}
