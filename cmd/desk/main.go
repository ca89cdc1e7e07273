package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"sudooom.im.desk/internal/api"
	"sudooom.im.desk/internal/channel"
	"sudooom.im.desk/internal/config"
	"sudooom.im.desk/internal/draft"
	"sudooom.im.desk/internal/health"
	"sudooom.im.desk/internal/jwt"
	"sudooom.im.desk/internal/proto"
	"sudooom.im.desk/internal/session"
	"sudooom.im.desk/internal/tui"
)

func main() {
	configPath := flag.String("config", "configs/desk.yaml", "config file path")
	flag.Parse()

	// 加载配置
	cfg, err := config.LoadDesk(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 终端界面占用 stdout，日志只写文件
	var logOut io.Writer = io.Discard
	if cfg.Log.File != "" {
		f, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open log file: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		logOut = f
	}
	logger := cfg.Log.NewLogger(logOut)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("desk exited", "error", err)
		fmt.Fprintf(os.Stderr, "desk: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.DeskConfig, logger *slog.Logger) error {
	client := api.New(api.Config{
		BaseURL: cfg.API.BaseURL,
		Token:   cfg.Operator.Token,
		Timeout: cfg.API.Timeout,
	})

	// 未配置 token 时向开发后端申请
	token := cfg.Operator.Token
	if token == "" {
		resp, err := client.IssueToken(ctx, proto.TokenRequest{
			OperatorID: cfg.Operator.ID,
			StoreID:    cfg.Operator.StoreID,
			Name:       cfg.Operator.Name,
			Role:       string(jwt.RoleOperator),
		})
		if err != nil {
			return fmt.Errorf("issue token: %w", err)
		}
		token = resp.AccessToken
	}
	if expireAt, err := jwt.ParseTokenExpireTime(token); err == nil {
		logger.Info("operator token loaded", "operatorId", cfg.Operator.ID, "expiresAt", expireAt)
	} else {
		logger.Warn("parse token expire time failed", "error", err)
	}

	sessionID := fmt.Sprintf("op%d-%s", cfg.Operator.ID, uuid.NewString())
	ch, err := channel.Connect(channel.Config{
		URL:             cfg.NATS.URL,
		Token:           cfg.NATS.Token,
		SessionID:       sessionID,
		StoreID:         cfg.Operator.StoreID,
		OperatorID:      cfg.Operator.ID,
		MaxReconnects:   cfg.NATS.MaxReconnects,
		ReconnectWait:   cfg.NATS.ReconnectWait,
		ReconnectJitter: cfg.NATS.ReconnectJitter,
		BufferSize:      cfg.Sync.EventBuffer,
	})
	if err != nil {
		return fmt.Errorf("connect channel: %w", err)
	}
	defer ch.Close()
	logger.Info("channel ready", "url", cfg.NATS.URL, "sessionId", sessionID, "connected", ch.IsConnected())

	checker := health.NewChecker()
	checker.Register("channel", func(ctx context.Context) error {
		if !ch.IsConnected() {
			return errors.New("channel not connected")
		}
		return nil
	})

	// 草稿：配置 Redis 时跨进程保存，否则仅在进程内
	var drafts draft.Store
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.GetAddr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unavailable, drafts kept in memory", "addr", cfg.Redis.GetAddr(), "error", err)
		} else {
			drafts = draft.NewRedisStore(rdb, cfg.Operator.ID, 0)
			checker.Register("redis", health.RedisCheck(rdb))
		}
	}

	sess, err := session.New(client, ch, drafts, session.Config{
		OperatorID:        cfg.Operator.ID,
		OperatorName:      cfg.Operator.Name,
		QuotaScope:        cfg.Sync.QuotaScope,
		MatchWindow:       cfg.Sync.MatchWindow,
		Workers:           cfg.Sync.Workers,
		QueueSize:         cfg.Sync.QueueSize,
		UploadConcurrency: cfg.Sync.UploadConcurrency,
	})
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := sess.Close(shutdownCtx); err != nil {
			logger.Warn("session close timed out", "error", err)
		}
	}()

	go func() {
		if err := sess.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("session loop stopped", "error", err)
		}
	}()
	if err := sess.Bootstrap(ctx); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	if cfg.Health.Enabled {
		healthSrv := &http.Server{Addr: cfg.Health.Addr, Handler: health.NewMux(checker)}
		go func() {
			logger.Info("health server started", "addr", cfg.Health.Addr)
			if err := healthSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("health server failed", "error", err)
			}
		}()
		defer healthSrv.Close()
	}

	m := tui.New(ctx, sess)
	defer m.Close()
	if _, err := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run(); err != nil {
		return fmt.Errorf("run ui: %w", err)
	}
	logger.Info("desk stopped")
	return nil
}
