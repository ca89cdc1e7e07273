package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"sudooom.im.desk/internal/backend/handler"
	"sudooom.im.desk/internal/backend/push"
	"sudooom.im.desk/internal/backend/repository"
	"sudooom.im.desk/internal/backend/router"
	"sudooom.im.desk/internal/backend/service"
	"sudooom.im.desk/internal/config"
	"sudooom.im.desk/internal/health"
	"sudooom.im.desk/internal/idgen"
	"sudooom.im.desk/internal/jwt"
)

func main() {
	configPath := flag.String("config", "configs/deskd.yaml", "config file path")
	nodeID := flag.Int64("node", 1, "snowflake node id")
	flag.Parse()

	// 加载配置
	cfg, err := config.LoadDeskd(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	logger := cfg.Log.NewLogger(os.Stdout)
	slog.SetDefault(logger)

	// 创建上下文
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 连接数据库
	db, err := connectDatabase(ctx, cfg.Database)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	logger.Info("connected to postgres", "host", cfg.Database.Host)

	if err := repository.Migrate(ctx, db); err != nil {
		logger.Error("failed to migrate schema", "error", err)
		os.Exit(1)
	}

	// 初始化 Repository
	convRepo := repository.NewConversationRepository(db)
	msgRepo := repository.NewMessageRepository(db)
	usageRepo := repository.NewUsageRepository(db)

	if cfg.App.SeedFile != "" {
		seed, err := repository.LoadSeed(cfg.App.SeedFile)
		if err != nil {
			logger.Error("failed to load seed", "error", err)
			os.Exit(1)
		}
		target := repository.SeedTarget{Conversations: convRepo, Messages: msgRepo, Usage: usageRepo}
		if err := seed.Apply(ctx, target); err != nil {
			logger.Error("failed to apply seed", "error", err)
			os.Exit(1)
		}
	}

	// 连接 NATS
	nc, err := push.Connect(cfg.NATS)
	if err != nil {
		logger.Error("failed to connect to nats", "error", err)
		os.Exit(1)
	}
	defer nc.Close()
	logger.Info("connected to nats", "url", cfg.NATS.URL)

	registry := push.NewRegistry()
	joins := push.NewJoinSubscriber(nc, registry)
	if err := joins.Start(); err != nil {
		logger.Error("failed to start join subscriber", "error", err)
		os.Exit(1)
	}
	defer joins.Stop()
	publisher := push.NewPublisher(nc, registry)

	// 初始化雪花ID生成器
	sfNode, err := idgen.NewNode(*nodeID)
	if err != nil {
		logger.Error("failed to create snowflake node", "error", err)
		os.Exit(1)
	}

	jwtService := jwt.NewService(cfg.JWT.SecretKey, cfg.JWT.AccessExpire)

	// 初始化 Service / Handler
	deskService := service.NewDeskService(convRepo, msgRepo, usageRepo, publisher, sfNode, cfg.Agent, cfg.Upload)
	deskHandler := handler.NewDeskHandler(deskService)
	authHandler := handler.NewAuthHandler(jwtService)

	// 设置路由
	r := router.SetupRouter(cfg, jwtService, authHandler, deskHandler)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.App.Port),
		Handler: r,
	}
	go func() {
		logger.Info("deskd started", "addr", srv.Addr, "mode", cfg.App.Mode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	// 健康检查与指标
	var healthSrv *http.Server
	if cfg.Health.Enabled {
		checker := health.NewChecker()
		checker.Register("postgres", health.PostgresCheck(db))
		checker.Register("nats", health.NATSCheck(nc))
		healthSrv = &http.Server{Addr: cfg.Health.Addr, Handler: health.NewMux(checker)}
		go func() {
			logger.Info("health server started", "addr", cfg.Health.Addr)
			if err := healthSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("health server failed", "error", err)
			}
		}()
	}

	// 优雅退出
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}
	if healthSrv != nil {
		healthSrv.Shutdown(shutdownCtx)
	}
	cancel()
	logger.Info("server stopped")
}

// connectDatabase 连接 PostgreSQL
func connectDatabase(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, err
	}

	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}
	poolConfig.MaxConnIdleTime = 10 * time.Minute

	db, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
