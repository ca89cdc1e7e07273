package quota

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"sudooom.im.desk/internal/metrics"
	"sudooom.im.desk/internal/model"
	"sudooom.im.desk/internal/workerpool"
)

// DefaultDedupSize 已计数消息 ID 的缓存容量
const DefaultDedupSize = 4096

// UsageFetcher 额度查询接口
type UsageFetcher interface {
	Usage(ctx context.Context, scope string) (*model.Usage, error)
}

// Runner 异步执行刷新任务（由 workerpool.Pool 实现）
type Runner interface {
	TrySubmit(task workerpool.Task) bool
}

// Config 额度钩子配置
type Config struct {
	Scope     string // 额度范围，如 store
	DedupSize int
}

// Hook 自动回复额度钩子
//
// 每观察到一条新的已确认自动回复，就异步重新拉取一次额度；同一条消息无论
// 经由历史、推送还是发送响应到达，只计一次。刷新进行中再次触发时合并为
// 结束后的一次补刷。
type Hook struct {
	fetcher UsageFetcher
	runner  Runner
	scope   string
	seen    *lru.Cache

	mu         sync.RWMutex
	usage      model.Usage
	hasUsage   bool
	asOf       time.Time // 当前额度对应的拉取时间，早于此刻的回复已计入
	generation uint64 // 每次写入 usage 递增，丢弃过期的刷新结果
	refreshing bool
	dirty      bool
	onChange   func(model.Usage)

	now    func() time.Time
	logger *slog.Logger
}

// New 创建额度钩子，runner 为 nil 时使用独立 goroutine
func New(fetcher UsageFetcher, runner Runner, cfg Config) (*Hook, error) {
	if cfg.DedupSize <= 0 {
		cfg.DedupSize = DefaultDedupSize
	}
	if cfg.Scope == "" {
		cfg.Scope = "store"
	}
	seen, err := lru.New(cfg.DedupSize)
	if err != nil {
		return nil, fmt.Errorf("create dedup cache: %w", err)
	}
	return &Hook{
		fetcher: fetcher,
		runner:  runner,
		scope:   cfg.Scope,
		seen:    seen,
		now:     time.Now,
		logger:  slog.Default(),
	}, nil
}

// OnChange 注册额度变化回调，回调在刷新所在的 goroutine 中执行
func (h *Hook) OnChange(fn func(model.Usage)) {
	h.mu.Lock()
	h.onChange = fn
	h.mu.Unlock()
}

// Observe 观察一条消息，是首次出现的已确认自动回复时触发额度刷新
// 返回是否触发
func (h *Hook) Observe(msg model.Message) bool {
	if !h.countable(msg) {
		return false
	}
	if seen, _ := h.seen.ContainsOrAdd(msg.ID, struct{}{}); seen {
		return false
	}
	h.scheduleRefresh()
	return true
}

// ObserveSendResponse 发送响应已带回最新额度，直接采用，
// 同时把响应中的自动回复记为已计数，避免推送到达时重复刷新
func (h *Hook) ObserveSendResponse(usage *model.Usage, replies []model.Message) {
	fresh := false
	for _, msg := range replies {
		if !h.countable(msg) {
			continue
		}
		if seen, _ := h.seen.ContainsOrAdd(msg.ID, struct{}{}); !seen {
			fresh = true
		}
	}

	switch {
	case usage != nil:
		h.set(*usage, h.now())
	case fresh:
		h.scheduleRefresh()
	}
}

// ObserveHistory 观察历史加载（含重连补拉）带回的消息，返回是否触发刷新
//
// 创建时间不晚于当前额度拉取时刻的自动回复已计入该额度，只记为已计数；
// 之后产生的新回复（或尚未拉取过额度时）合并触发一次刷新。推送随后送达
// 同一条回复时不会重复刷新。
func (h *Hook) ObserveHistory(msgs []model.Message) bool {
	h.mu.RLock()
	asOf, hasUsage := h.asOf, h.hasUsage
	h.mu.RUnlock()

	fresh := false
	for _, msg := range msgs {
		if !h.countable(msg) {
			continue
		}
		if seen, _ := h.seen.ContainsOrAdd(msg.ID, struct{}{}); seen {
			continue
		}
		if hasUsage && !msg.CreatedAt.After(asOf) {
			continue
		}
		fresh = true
	}
	if fresh {
		h.scheduleRefresh()
	}
	return fresh
}

// Usage 最近一次获取的额度
func (h *Hook) Usage() (model.Usage, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.usage, h.hasUsage
}

// Refresh 同步拉取额度
func (h *Hook) Refresh(ctx context.Context) error {
	h.mu.RLock()
	gen := h.generation
	h.mu.RUnlock()

	started := h.now()
	usage, err := h.fetcher.Usage(ctx, h.scope)
	if err != nil {
		metrics.QuotaRefreshTotal.WithLabelValues("error").Inc()
		return err
	}
	metrics.QuotaRefreshTotal.WithLabelValues("ok").Inc()

	h.mu.Lock()
	if h.generation != gen {
		// 刷新期间已有更新的额度写入
		h.mu.Unlock()
		return nil
	}
	h.mu.Unlock()

	h.set(*usage, started)
	return nil
}

func (h *Hook) countable(msg model.Message) bool {
	return msg.IsAutomated() && !msg.Provisional && msg.ID != 0
}

func (h *Hook) set(usage model.Usage, asOf time.Time) {
	h.mu.Lock()
	h.usage = usage
	h.hasUsage = true
	h.asOf = asOf
	h.generation++
	fn := h.onChange
	h.mu.Unlock()

	if !usage.IsUnlimited {
		metrics.QuotaRemaining.Set(float64(usage.Remaining))
	}
	if fn != nil {
		fn(usage)
	}
}

func (h *Hook) scheduleRefresh() {
	h.mu.Lock()
	if h.refreshing {
		h.dirty = true
		h.mu.Unlock()
		return
	}
	h.refreshing = true
	h.mu.Unlock()

	task := func(ctx context.Context) { h.refreshLoop(ctx) }
	if h.runner == nil || !h.runner.TrySubmit(task) {
		go task(context.Background())
	}
}

// refreshLoop 执行刷新，期间有新的触发则再刷一次
func (h *Hook) refreshLoop(ctx context.Context) {
	for {
		if err := h.Refresh(ctx); err != nil {
			h.logger.Warn("usage refresh failed", "scope", h.scope, "error", err)
		}

		h.mu.Lock()
		if !h.dirty {
			h.refreshing = false
			h.mu.Unlock()
			return
		}
		h.dirty = false
		h.mu.Unlock()
	}
}
