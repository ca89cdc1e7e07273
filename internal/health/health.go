package health

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"sudooom.im.desk/internal/metrics"
)

const (
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
)

// Check 单项检查，返回 nil 表示正常
type Check func(ctx context.Context) error

// NATSCheck NATS 连接检查
func NATSCheck(nc *nats.Conn) Check {
	return func(ctx context.Context) error {
		if nc == nil || !nc.IsConnected() {
			return errors.New("nats not connected")
		}
		return nil
	}
}

// RedisCheck Redis 检查
func RedisCheck(client redis.UniversalClient) Check {
	return func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
}

// PostgresCheck PostgreSQL 检查
func PostgresCheck(db *pgxpool.Pool) Check {
	return func(ctx context.Context) error {
		return db.Ping(ctx)
	}
}

// Checker 健康检查器
type Checker struct {
	mu      sync.RWMutex
	checks  map[string]Check
	timeout time.Duration
	logger  *slog.Logger
}

// NewChecker 创建健康检查器
func NewChecker() *Checker {
	return &Checker{
		checks:  make(map[string]Check),
		timeout: 2 * time.Second,
		logger:  slog.Default(),
	}
}

// Register 注册检查项
func (h *Checker) Register(name string, check Check) {
	h.mu.Lock()
	h.checks[name] = check
	h.mu.Unlock()
}

// Check 执行健康检查，返回各项状态
func (h *Checker) Check(ctx context.Context) map[string]string {
	h.mu.RLock()
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	h.mu.RUnlock()
	sort.Strings(names)

	status := make(map[string]string, len(names))
	for _, name := range names {
		h.mu.RLock()
		check := h.checks[name]
		h.mu.RUnlock()

		checkCtx, cancel := context.WithTimeout(ctx, h.timeout)
		err := check(checkCtx)
		cancel()

		if err == nil {
			status[name] = StatusConnected
		} else {
			status[name] = StatusDisconnected
			h.logger.Debug("health check failed", "check", name, "error", err)
		}
	}
	return status
}

// IsHealthy 检查是否健康
func (h *Checker) IsHealthy(ctx context.Context) bool {
	for _, s := range h.Check(ctx) {
		if s != StatusConnected {
			return false
		}
	}
	return true
}

// ServeHTTP HTTP 健康检查端点
func (h *Checker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	status := h.Check(r.Context())

	code := http.StatusOK
	for _, s := range status {
		if s != StatusConnected {
			code = http.StatusServiceUnavailable
			break
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(status)
}

// NewMux 健康检查与指标路由：/health 始终 200，/ready 依赖检查项，/metrics 暴露指标
func NewMux(h *Checker) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	mux.Handle("/ready", h)
	mux.Handle("/metrics", metrics.Handler())
	return mux
}
